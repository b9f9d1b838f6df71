package itip

import (
	"context"
	"fmt"
	"time"

	"github.com/lightningnetwork/lnd/fn/v2"
)

// Correlation is the outcome of matching a message against the store.
type Correlation struct {
	// Matched is the stored resource sharing the message UID.
	Matched fn.Option[Resource]
	// Related is the resource named by the message's RELATED-TO UID.
	Related fn.Option[Resource]
	// Candidates counts the stored resources sharing the UID.
	Candidates int
	// RelatedCandidates counts the stored resources with the RELATED-TO UID.
	RelatedCandidates int
}

// Ambiguity returns ErrAmbiguousCorrelation when more than one stored
// resource shares the UID, or when nothing shares it and more than one
// resource carries the RELATED-TO UID.
func (c Correlation) Ambiguity() error {
	if n := c.AmbiguousCandidates(); n > 1 {
		return fmt.Errorf("%w: %d resources", ErrAmbiguousCorrelation, n)
	}
	return nil
}

// AmbiguousCandidates is the number of equally plausible resources the
// message could be compared against.
func (c Correlation) AmbiguousCandidates() int {
	if c.Candidates == 0 {
		return c.RelatedCandidates
	}
	return c.Candidates
}

// Base is the resource the message is compared against: the matched one,
// else the related one.
func (c Correlation) Base() fn.Option[Resource] {
	if c.Matched.IsSome() {
		return c.Matched
	}
	return c.Related
}

// UsesRelated reports whether the comparison base is the related resource.
func (c Correlation) UsesRelated() bool {
	return c.Matched.IsNone() && c.Related.IsSome() && c.Candidates == 0
}

// StoredOccurrence returns the stored comparison event for rid.
func (c Correlation) StoredOccurrence(rid fn.Option[time.Time]) (*Event, bool) {
	res, ok := unwrapResource(c.Base())
	if !ok {
		return nil, false
	}
	if c.UsesRelated() {
		// A replacement resource only maps onto its master.
		if rid.IsSome() || res.Master == nil {
			return nil, false
		}
		return res.Master, true
	}
	return res.StoredOccurrence(rid)
}

// StoredMaster returns the stored series master, if any.
func (c Correlation) StoredMaster() (*Event, bool) {
	res, ok := unwrapResource(c.Matched)
	if !ok || res.Master == nil {
		return nil, false
	}
	return res.Master, true
}

// Correlate finds the stored and related resources for msg. Only lookup
// failures are returned as errors; ambiguity is reported via Candidates.
func Correlate(ctx context.Context, store CalendarStore, owner string, msg *Message) (Correlation, error) {
	var c Correlation
	uid := msg.UID()

	matched, err := store.FindByUID(ctx, owner, uid)
	if err != nil {
		return c, fmt.Errorf("find %q: %w", uid, err)
	}
	c.Candidates = len(matched)
	if len(matched) == 1 {
		c.Matched = fn.Some(matched[0])
	}

	related, hasRelated := unwrapString(msg.RelatedToUID)
	if !hasRelated || related == uid {
		return c, nil
	}
	candidates, err := store.FindRelated(ctx, owner, related)
	if err != nil {
		return c, fmt.Errorf("find related %q: %w", related, err)
	}
	c.RelatedCandidates = len(candidates)
	if len(candidates) == 1 {
		c.Related = fn.Some(candidates[0])
	}
	return c, nil
}

func unwrapResource(o fn.Option[Resource]) (Resource, bool) {
	if o.IsNone() {
		return Resource{}, false
	}
	return o.UnwrapOr(Resource{}), true
}

func unwrapString(o fn.Option[string]) (string, bool) {
	if o.IsNone() {
		return "", false
	}
	return o.UnwrapOr(""), true
}

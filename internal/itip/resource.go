package itip

import (
	"context"
	"time"

	"github.com/lightningnetwork/lnd/fn/v2"
)

// Resource is a stored calendar object resource: every stored component
// sharing one UID, the series master (if any) plus its exceptions.
type Resource struct {
	ID         string
	CalendarID string
	UID        string
	ETag       string
	Master     *Event
	Exceptions []*Event
}

// Events returns the master followed by the exceptions.
func (r Resource) Events() []*Event {
	out := make([]*Event, 0, len(r.Exceptions)+1)
	if r.Master != nil {
		out = append(out, r.Master)
	}
	return append(out, r.Exceptions...)
}

// IsEmpty reports whether the resource holds no component at all.
func (r Resource) IsEmpty() bool {
	return r.Master == nil && len(r.Exceptions) == 0
}

// Occurrence returns the persisted component for rid without synthesizing
// instances.
func (r Resource) Occurrence(rid fn.Option[time.Time]) (*Event, bool) {
	if rid.IsNone() {
		return r.Master, r.Master != nil
	}
	for _, ex := range r.Exceptions {
		if sameOccurrence(ex.RecurrenceID, rid) {
			return ex, true
		}
	}
	return nil, false
}

// StoredOccurrence returns the comparison base for rid: the persisted
// component, or an instance synthesized from the recurring master when no
// exception is materialized yet.
func (r Resource) StoredOccurrence(rid fn.Option[time.Time]) (*Event, bool) {
	if ev, ok := r.Occurrence(rid); ok {
		return ev, true
	}
	at, ok := recurrenceTime(rid)
	if !ok || r.Master == nil {
		return nil, false
	}
	return instanceOf(r.Master, at)
}

// WithOccurrence returns a copy with ev stored in place of the component for
// the same occurrence, or added when new.
func (r Resource) WithOccurrence(ev *Event) Resource {
	out := r.clone()
	if ev.IsMaster() {
		out.Master = ev
		return out
	}
	for i, ex := range out.Exceptions {
		if sameOccurrence(ex.RecurrenceID, ev.RecurrenceID) {
			out.Exceptions[i] = ev
			return out
		}
	}
	out.Exceptions = append(out.Exceptions, ev)
	return out
}

// WithoutOccurrence returns a copy with the component for rid removed.
func (r Resource) WithoutOccurrence(rid fn.Option[time.Time]) Resource {
	out := r.clone()
	if rid.IsNone() {
		out.Master = nil
		return out
	}
	kept := out.Exceptions[:0]
	for _, ex := range out.Exceptions {
		if !sameOccurrence(ex.RecurrenceID, rid) {
			kept = append(kept, ex)
		}
	}
	out.Exceptions = kept
	return out
}

// WithExDate returns a copy whose master excludes the instance at rid and
// which no longer stores an exception for it.
func (r Resource) WithExDate(rid time.Time) Resource {
	out := r.WithoutOccurrence(fn.Some(rid))
	if out.Master != nil {
		master := out.Master.Clone()
		master.ExDates = append(master.ExDates, rid)
		out.Master = master
	}
	return out
}

func (r Resource) clone() Resource {
	out := r
	out.Exceptions = append([]*Event(nil), r.Exceptions...)
	return out
}

// CalendarStore looks up stored resources for an owner. Both lookups return
// every candidate; more than one is an ambiguity the engine reports rather
// than resolves.
type CalendarStore interface {
	FindByUID(ctx context.Context, owner, uid string) ([]Resource, error)
	FindRelated(ctx context.Context, owner, uid string) ([]Resource, error)
}

// CalendarMutator writes resources. Update and Delete must fail with an
// error wrapping ErrConcurrentModification when expectedETag no longer
// matches.
type CalendarMutator interface {
	Create(ctx context.Context, owner string, res Resource) (Resource, error)
	Update(ctx context.Context, owner string, res Resource, expectedETag string) (Resource, error)
	Delete(ctx context.Context, owner string, res Resource, expectedETag string) error
}

// ConflictChecker reports events of the owner overlapping ev.
type ConflictChecker interface {
	ConflictsFor(ctx context.Context, owner string, ev *Event) ([]Conflict, error)
}

// ConflictCheckerFunc adapts a function to ConflictChecker.
type ConflictCheckerFunc func(ctx context.Context, owner string, ev *Event) ([]Conflict, error)

func (f ConflictCheckerFunc) ConflictsFor(ctx context.Context, owner string, ev *Event) ([]Conflict, error) {
	return f(ctx, owner, ev)
}

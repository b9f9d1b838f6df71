package itip

import (
	"strings"
	"time"

	"github.com/lightningnetwork/lnd/fn/v2"
)

// PartStat is an attendee's participation status.
type PartStat string

const (
	PartStatNeedsAction PartStat = "NEEDS-ACTION"
	PartStatAccepted    PartStat = "ACCEPTED"
	PartStatDeclined    PartStat = "DECLINED"
	PartStatTentative   PartStat = "TENTATIVE"
	PartStatDelegated   PartStat = "DELEGATED"
)

// Transparency values for TRANSP.
const (
	TranspOpaque      = "OPAQUE"
	TranspTransparent = "TRANSPARENT"
)

// CalendarUser identifies an organizer or attendee by calendar address.
type CalendarUser struct {
	URI  string
	Name string
}

// Key is the normalized address used to compare calendar users.
func (u CalendarUser) Key() string { return NormalizeAddress(u.URI) }

// IsZero reports whether no address is set.
func (u CalendarUser) IsZero() bool { return strings.TrimSpace(u.URI) == "" }

// Display returns the common name, falling back to the bare address.
func (u CalendarUser) Display() string {
	if u.Name != "" {
		return u.Name
	}
	return NormalizeAddress(u.URI)
}

// Attendee is one ATTENDEE of an event together with its own revision, the
// SEQUENCE/DTSTAMP of the last reply that was merged for it.
type Attendee struct {
	CalendarUser
	PartStat PartStat
	Role     string
	RSVP     bool
	Comment  string
	Sequence int
	Stamp    time.Time
}

// Revision returns the attendee's own revision.
func (a Attendee) Revision() Sequence { return NewSequence(a.Sequence, a.Stamp) }

// hasRevision reports whether a reply was ever merged for the attendee.
func (a Attendee) hasRevision() bool { return a.Sequence != 0 || !a.Stamp.IsZero() }

// Event is an immutable snapshot of one calendar event occurrence, either a
// series master or a single exception. Callers must not modify an Event they
// handed to the engine; derived events are produced with Clone.
type Event struct {
	UID          string
	RecurrenceID fn.Option[time.Time]
	Sequence     int
	Stamp        time.Time

	Organizer CalendarUser
	Attendees []Attendee

	Summary      string
	Description  string
	Location     string
	Start        time.Time
	End          time.Time
	AllDay       bool
	RRule        string
	ExDates      []time.Time
	Transparency string
	Status       string
	Class        string
	Categories   []string
	URL          string
	RelatedTo    string
}

// Revision returns the event's SEQUENCE/DTSTAMP revision.
func (e *Event) Revision() Sequence { return NewSequence(e.Sequence, e.Stamp) }

// IsMaster reports whether the event carries no recurrence identifier.
func (e *Event) IsMaster() bool { return e.RecurrenceID.IsNone() }

// IsRecurring reports whether the event is a series master with a rule.
func (e *Event) IsRecurring() bool { return e.IsMaster() && e.RRule != "" }

// IsTransparent reports whether the event does not block time.
func (e *Event) IsTransparent() bool {
	return strings.EqualFold(e.Transparency, TranspTransparent)
}

// FindAttendee looks up an attendee by calendar address.
func (e *Event) FindAttendee(uri string) (Attendee, bool) {
	key := NormalizeAddress(uri)
	for _, a := range e.Attendees {
		if a.Key() == key {
			return a, true
		}
	}
	return Attendee{}, false
}

// IsOrganizer reports whether uri is the event's organizer.
func (e *Event) IsOrganizer(uri string) bool {
	return !e.Organizer.IsZero() && e.Organizer.Key() == NormalizeAddress(uri)
}

// Clone returns a deep copy.
func (e *Event) Clone() *Event {
	if e == nil {
		return nil
	}
	c := *e
	c.Attendees = append([]Attendee(nil), e.Attendees...)
	c.ExDates = append([]time.Time(nil), e.ExDates...)
	c.Categories = append([]string(nil), e.Categories...)
	return &c
}

// WithAttendee returns a copy where the attendee with the same address is
// replaced, or appended when not yet present.
func (e *Event) WithAttendee(a Attendee) *Event {
	c := e.Clone()
	for i := range c.Attendees {
		if c.Attendees[i].Key() == a.Key() {
			c.Attendees[i] = a
			return c
		}
	}
	c.Attendees = append(c.Attendees, a)
	return c
}

// sameOccurrence reports whether both recurrence identifiers denote the same
// occurrence. All-day identifiers compare by date.
func sameOccurrence(a, b fn.Option[time.Time]) bool {
	at, aok := recurrenceTime(a)
	bt, bok := recurrenceTime(b)
	if aok != bok {
		return false
	}
	if !aok {
		return true
	}
	return at.Equal(bt)
}

func recurrenceTime(o fn.Option[time.Time]) (time.Time, bool) {
	if o.IsNone() {
		return time.Time{}, false
	}
	return o.UnwrapOr(time.Time{}), true
}

// NormalizeAddress lower-cases a calendar address and strips the mailto:
// scheme.
func NormalizeAddress(uri string) string {
	uri = strings.TrimSpace(uri)
	if len(uri) >= 7 && strings.EqualFold(uri[:7], "mailto:") {
		uri = uri[7:]
	}
	return strings.ToLower(uri)
}

// Conflict is a scheduling conflict reported by the external conflict
// checker.
type Conflict struct {
	UID     string
	Summary string
	Start   time.Time
	End     time.Time
}

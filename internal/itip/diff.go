package itip

import (
	"sort"
	"strings"
	"time"

	"github.com/lightningnetwork/lnd/fn/v2"
)

// AttendeeChange records the fields that changed for one attendee present on
// both sides of a diff.
type AttendeeChange struct {
	URI    string
	Fields FieldSet
}

// EventUpdate is the field-level change set between two snapshots of the same
// occurrence.
type EventUpdate struct {
	original fn.Option[*Event]
	updated  *Event

	fields   FieldSet
	added    []Attendee
	removed  []Attendee
	modified []AttendeeChange
}

// Diff computes the change set from previous to incoming. Without a previous
// snapshot every populated field of incoming is reported as changed.
func Diff(previous fn.Option[*Event], incoming *Event) *EventUpdate {
	u := &EventUpdate{original: previous, updated: incoming}

	prev, ok := unwrapEvent(previous)
	if !ok {
		u.fields = populatedFields(incoming)
		u.added = append([]Attendee(nil), incoming.Attendees...)
		return u
	}

	u.fields = detailDiff(prev, incoming)

	before := make(map[string]Attendee, len(prev.Attendees))
	for _, a := range prev.Attendees {
		before[a.Key()] = a
	}
	seen := make(map[string]struct{}, len(incoming.Attendees))
	for _, a := range incoming.Attendees {
		seen[a.Key()] = struct{}{}
		old, ok := before[a.Key()]
		if !ok {
			u.added = append(u.added, a)
			continue
		}
		if changed := attendeeDiff(old, a); !changed.IsEmpty() {
			u.modified = append(u.modified, AttendeeChange{URI: a.Key(), Fields: changed})
			u.fields = u.fields.Union(changed)
		}
	}
	for _, a := range prev.Attendees {
		if _, ok := seen[a.Key()]; !ok {
			u.removed = append(u.removed, a)
		}
	}
	if len(u.added) > 0 || len(u.removed) > 0 {
		u.fields = u.fields.With(FieldAttendees)
	}
	sort.Slice(u.modified, func(i, j int) bool {
		return u.modified[i].URI < u.modified[j].URI
	})
	return u
}

func unwrapEvent(o fn.Option[*Event]) (*Event, bool) {
	ev := o.UnwrapOr(nil)
	return ev, ev != nil
}

func populatedFields(e *Event) FieldSet {
	var s FieldSet
	add := func(f Field, populated bool) {
		if populated {
			s = s.With(f)
		}
	}
	add(FieldSummary, e.Summary != "")
	add(FieldDescription, e.Description != "")
	add(FieldLocation, e.Location != "")
	add(FieldStart, !e.Start.IsZero())
	add(FieldEnd, !e.End.IsZero())
	add(FieldAllDay, e.AllDay)
	add(FieldRecurrenceRule, e.RRule != "")
	add(FieldExceptionDates, len(e.ExDates) > 0)
	add(FieldRecurrenceID, e.RecurrenceID.IsSome())
	add(FieldTransparency, e.Transparency != "")
	add(FieldStatus, e.Status != "")
	add(FieldClass, e.Class != "")
	add(FieldCategories, len(e.Categories) > 0)
	add(FieldURL, e.URL != "")
	add(FieldRelatedTo, e.RelatedTo != "")
	add(FieldOrganizer, !e.Organizer.IsZero())
	add(FieldAttendees, len(e.Attendees) > 0)
	for _, a := range e.Attendees {
		add(FieldAttendeePartStat, a.PartStat != "")
		add(FieldAttendeeComment, a.Comment != "")
		add(FieldAttendeeSequence, a.Sequence != 0)
		add(FieldAttendeeTimestamp, !a.Stamp.IsZero())
	}
	return s
}

func detailDiff(a, b *Event) FieldSet {
	var s FieldSet
	add := func(f Field, changed bool) {
		if changed {
			s = s.With(f)
		}
	}
	add(FieldSummary, a.Summary != b.Summary)
	add(FieldDescription, a.Description != b.Description)
	add(FieldLocation, a.Location != b.Location)
	add(FieldStart, !a.Start.Equal(b.Start))
	add(FieldEnd, !a.End.Equal(b.End))
	add(FieldAllDay, a.AllDay != b.AllDay)
	add(FieldRecurrenceRule, a.RRule != b.RRule)
	add(FieldExceptionDates, !sameTimes(a.ExDates, b.ExDates))
	add(FieldRecurrenceID, !sameOccurrence(a.RecurrenceID, b.RecurrenceID))
	add(FieldTransparency, !equalFoldDefault(a.Transparency, b.Transparency, TranspOpaque))
	add(FieldStatus, !equalFoldDefault(a.Status, b.Status, ""))
	add(FieldClass, !equalFoldDefault(a.Class, b.Class, "PUBLIC"))
	add(FieldCategories, !sameStrings(a.Categories, b.Categories))
	add(FieldURL, a.URL != b.URL)
	add(FieldRelatedTo, a.RelatedTo != b.RelatedTo)
	add(FieldOrganizer, a.Organizer.Key() != b.Organizer.Key())
	return s
}

func attendeeDiff(a, b Attendee) FieldSet {
	var s FieldSet
	if partStatOrDefault(a.PartStat) != partStatOrDefault(b.PartStat) {
		s = s.With(FieldAttendeePartStat)
	}
	if a.Comment != b.Comment {
		s = s.With(FieldAttendeeComment)
	}
	if a.Sequence != b.Sequence {
		s = s.With(FieldAttendeeSequence)
	}
	if NewSequence(0, a.Stamp) != NewSequence(0, b.Stamp) {
		s = s.With(FieldAttendeeTimestamp)
	}
	if !equalFoldDefault(a.Role, b.Role, "REQ-PARTICIPANT") || a.RSVP != b.RSVP || a.Name != b.Name {
		s = s.With(FieldAttendeeDetails)
	}
	return s
}

func partStatOrDefault(p PartStat) PartStat {
	if p == "" {
		return PartStatNeedsAction
	}
	return p
}

func equalFoldDefault(a, b, def string) bool {
	if a == "" {
		a = def
	}
	if b == "" {
		b = def
	}
	return strings.EqualFold(a, b)
}

func sameTimes(a, b []time.Time) bool {
	if len(a) != len(b) {
		return false
	}
	as := append([]time.Time(nil), a...)
	bs := append([]time.Time(nil), b...)
	sort.Slice(as, func(i, j int) bool { return as[i].Before(as[j]) })
	sort.Slice(bs, func(i, j int) bool { return bs[i].Before(bs[j]) })
	for i := range as {
		if !as[i].Equal(bs[i]) {
			return false
		}
	}
	return true
}

func sameStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	as := append([]string(nil), a...)
	bs := append([]string(nil), b...)
	sort.Strings(as)
	sort.Strings(bs)
	for i := range as {
		if as[i] != bs[i] {
			return false
		}
	}
	return true
}

// Original returns the previous snapshot, if any.
func (u *EventUpdate) Original() fn.Option[*Event] { return u.original }

// Updated returns the incoming snapshot.
func (u *EventUpdate) Updated() *Event { return u.updated }

// Fields returns the changed fields.
func (u *EventUpdate) Fields() FieldSet { return u.fields }

// IsEmpty reports whether nothing changed.
func (u *EventUpdate) IsEmpty() bool { return u.fields.IsEmpty() }

// AddedAttendees returns attendees only present in the incoming snapshot.
func (u *EventUpdate) AddedAttendees() []Attendee { return append([]Attendee(nil), u.added...) }

// RemovedAttendees returns attendees only present in the previous snapshot.
func (u *EventUpdate) RemovedAttendees() []Attendee { return append([]Attendee(nil), u.removed...) }

// ModifiedAttendees returns per-attendee changes, ordered by address.
func (u *EventUpdate) ModifiedAttendees() []AttendeeChange {
	return append([]AttendeeChange(nil), u.modified...)
}

// ContainsAllOf reports whether every given field changed.
func (u *EventUpdate) ContainsAllOf(fields ...Field) bool {
	return u.fields.ContainsAll(NewFieldSet(fields...))
}

// ContainsAnyBeside reports whether a field outside the given ones changed.
func (u *EventUpdate) ContainsAnyBeside(fields ...Field) bool {
	return !u.fields.Minus(NewFieldSet(fields...)).IsEmpty()
}

// ContainsExactly reports whether the changed fields equal the given ones.
func (u *EventUpdate) ContainsExactly(fields ...Field) bool {
	return u.fields == NewFieldSet(fields...)
}

// ContainsOnly reports whether something changed and all changes are among
// the given fields.
func (u *EventUpdate) ContainsOnly(fields ...Field) bool {
	return !u.fields.IsEmpty() && u.fields.SubsetOf(NewFieldSet(fields...))
}

// IsStateChangeOnly reports whether something changed and every change is a
// participation-status field or one of except.
func (u *EventUpdate) IsStateChangeOnly(except ...Field) bool {
	return !u.fields.IsEmpty() && u.fields.SubsetOf(StateFields.Union(NewFieldSet(except...)))
}

// HasAnyStateChange reports whether a participation-status field changed.
func (u *EventUpdate) HasAnyStateChange() bool {
	return u.fields.Intersects(StateFields)
}

// IsDetailChangeOnly reports whether something changed and no participant
// field is among the changes.
func (u *EventUpdate) IsDetailChangeOnly() bool {
	return !u.fields.IsEmpty() && !u.fields.Intersects(ParticipantFields)
}

// IsOnlyParticipantStateChangeOf reports whether the sole change is the
// participation state of the given attendee.
func (u *EventUpdate) IsOnlyParticipantStateChangeOf(uri string) bool {
	if len(u.added) > 0 || len(u.removed) > 0 || len(u.modified) != 1 {
		return false
	}
	m := u.modified[0]
	return m.URI == NormalizeAddress(uri) && m.Fields.SubsetOf(StateFields) && u.IsStateChangeOnly()
}

// IsOnlyRemovalOf reports whether the sole change is the given attendee
// leaving the attendee list.
func (u *EventUpdate) IsOnlyRemovalOf(uri string) bool {
	if len(u.added) > 0 || len(u.modified) > 0 || len(u.removed) != 1 {
		return false
	}
	return u.removed[0].Key() == NormalizeAddress(uri) && u.ContainsExactly(FieldAttendees)
}

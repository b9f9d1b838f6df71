package itip

import (
	"math/bits"
	"strings"
)

// Field identifies a scheduling-relevant property of an event. The
// vocabulary is closed; bookkeeping such as UID, SEQUENCE, DTSTAMP or store
// row metadata is never part of it.
type Field uint8

const (
	FieldSummary Field = iota
	FieldDescription
	FieldLocation
	FieldStart
	FieldEnd
	FieldAllDay
	FieldRecurrenceRule
	FieldExceptionDates
	FieldRecurrenceID
	FieldTransparency
	FieldStatus
	FieldClass
	FieldCategories
	FieldURL
	FieldRelatedTo
	FieldOrganizer

	// FieldAttendees is set when attendees joined or left the list.
	FieldAttendees
	// FieldAttendeeDetails covers role, RSVP and common name changes.
	FieldAttendeeDetails

	FieldAttendeePartStat
	FieldAttendeeComment
	FieldAttendeeSequence
	FieldAttendeeTimestamp

	fieldCount
)

var fieldNames = [fieldCount]string{
	FieldSummary:           "SUMMARY",
	FieldDescription:       "DESCRIPTION",
	FieldLocation:          "LOCATION",
	FieldStart:             "DTSTART",
	FieldEnd:               "DTEND",
	FieldAllDay:            "ALL_DAY",
	FieldRecurrenceRule:    "RRULE",
	FieldExceptionDates:    "EXDATE",
	FieldRecurrenceID:      "RECURRENCE-ID",
	FieldTransparency:      "TRANSP",
	FieldStatus:            "STATUS",
	FieldClass:             "CLASS",
	FieldCategories:        "CATEGORIES",
	FieldURL:               "URL",
	FieldRelatedTo:         "RELATED-TO",
	FieldOrganizer:         "ORGANIZER",
	FieldAttendees:         "ATTENDEES",
	FieldAttendeeDetails:   "ATTENDEE_DETAILS",
	FieldAttendeePartStat:  "ATTENDEE_PARTSTAT",
	FieldAttendeeComment:   "ATTENDEE_COMMENT",
	FieldAttendeeSequence:  "ATTENDEE_SEQUENCE",
	FieldAttendeeTimestamp: "ATTENDEE_TIMESTAMP",
}

func (f Field) String() string {
	if f < fieldCount {
		return fieldNames[f]
	}
	return "UNKNOWN"
}

// FieldSet is an immutable set of fields.
type FieldSet uint32

// NewFieldSet builds a set from fields.
func NewFieldSet(fields ...Field) FieldSet {
	var s FieldSet
	for _, f := range fields {
		s |= 1 << f
	}
	return s
}

var (
	// StateFields are the participation-status class fields.
	StateFields = NewFieldSet(
		FieldAttendeePartStat,
		FieldAttendeeComment,
		FieldAttendeeSequence,
		FieldAttendeeTimestamp,
	)

	// ParticipantFields are all attendee related fields, state or not.
	ParticipantFields = StateFields | NewFieldSet(FieldAttendees, FieldAttendeeDetails)
)

func (s FieldSet) Contains(f Field) bool         { return s&(1<<f) != 0 }
func (s FieldSet) ContainsAll(o FieldSet) bool   { return s&o == o }
func (s FieldSet) Intersects(o FieldSet) bool    { return s&o != 0 }
func (s FieldSet) SubsetOf(o FieldSet) bool      { return s&^o == 0 }
func (s FieldSet) Union(o FieldSet) FieldSet     { return s | o }
func (s FieldSet) Minus(o FieldSet) FieldSet     { return s &^ o }
func (s FieldSet) Intersect(o FieldSet) FieldSet { return s & o }
func (s FieldSet) With(f Field) FieldSet         { return s | 1<<f }
func (s FieldSet) IsEmpty() bool                 { return s == 0 }
func (s FieldSet) Len() int                      { return bits.OnesCount32(uint32(s)) }

// Fields lists the members in declaration order.
func (s FieldSet) Fields() []Field {
	var out []Field
	for f := Field(0); f < fieldCount; f++ {
		if s.Contains(f) {
			out = append(out, f)
		}
	}
	return out
}

func (s FieldSet) String() string {
	names := make([]string, 0, s.Len())
	for _, f := range s.Fields() {
		names = append(names, f.String())
	}
	return "{" + strings.Join(names, ",") + "}"
}

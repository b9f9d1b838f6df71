package ical

import (
	"strconv"
	"strings"
	"time"

	ics "github.com/arran4/golang-ical"

	"gitea.jw6.us/james/calsched/internal/itip"
)

// ProductID is written to every produced calendar.
const ProductID = "-//jw6//calsched//EN"

// EncodeMessage renders an outgoing scheduling message.
func EncodeMessage(msg itip.OutgoingMessage) []byte {
	cal := newCalendar()
	cal.SetMethod(ics.Method(msg.Method.String()))
	addEvent(cal, msg.Event, false)
	return []byte(cal.Serialize())
}

// EncodeResource renders a stored calendar object. Attendee revisions are
// kept in private parameters so a later reply can be arbitrated against
// them.
func EncodeResource(res itip.Resource) []byte {
	cal := newCalendar()
	for _, ev := range res.Events() {
		addEvent(cal, ev, true)
	}
	return []byte(cal.Serialize())
}

func newCalendar() *ics.Calendar {
	cal := ics.NewCalendar()
	cal.SetProductId(ProductID)
	return cal
}

func addEvent(cal *ics.Calendar, ev *itip.Event, withRevisions bool) {
	ve := cal.AddEvent(ev.UID)
	ve.SetProperty(ics.ComponentPropertySequence, strconv.Itoa(ev.Sequence))
	if !ev.Stamp.IsZero() {
		v, _ := formatDateTime(ev.Stamp, false)
		ve.SetProperty(propDtStamp, v)
	}
	setTime(ve, ics.ComponentPropertyDtStart, ev.Start, ev.AllDay)
	setTime(ve, ics.ComponentPropertyDtEnd, ev.End, ev.AllDay)
	if ev.RecurrenceID.IsSome() {
		setTime(ve, propRecurrenceID, ev.RecurrenceID.UnwrapOr(time.Time{}), ev.AllDay)
	}

	setText(ve, ics.ComponentPropertySummary, ev.Summary)
	setText(ve, ics.ComponentPropertyDescription, ev.Description)
	setText(ve, ics.ComponentPropertyLocation, ev.Location)
	setRaw(ve, ics.ComponentPropertyRrule, ev.RRule)
	setRaw(ve, propTransp, ev.Transparency)
	setRaw(ve, propStatus, ev.Status)
	setRaw(ve, propClass, ev.Class)
	setRaw(ve, propURL, ev.URL)
	setRaw(ve, propRelatedTo, ev.RelatedTo)

	if len(ev.Categories) > 0 {
		escaped := make([]string, 0, len(ev.Categories))
		for _, c := range ev.Categories {
			escaped = append(escaped, escapeText(c))
		}
		ve.SetProperty(propCategories, strings.Join(escaped, ","))
	}
	for _, ex := range ev.ExDates {
		v, value := formatDateTime(ex, ev.AllDay)
		ve.AddProperty(ics.ComponentPropertyExdate, v, valueParams(value)...)
	}

	if !ev.Organizer.IsZero() {
		ve.SetProperty(ics.ComponentPropertyOrganizer, mailto(ev.Organizer.URI), userParams(ev.Organizer)...)
	}
	for _, a := range ev.Attendees {
		ve.AddProperty(ics.ComponentPropertyAttendee, mailto(a.URI), attendeeParams(a, withRevisions)...)
	}
	if !withRevisions && len(ev.Attendees) == 1 && ev.Attendees[0].Comment != "" {
		setText(ve, propComment, ev.Attendees[0].Comment)
	}
}

func setTime(ve *ics.VEvent, prop ics.ComponentProperty, t time.Time, allDay bool) {
	if t.IsZero() {
		return
	}
	v, value := formatDateTime(t, allDay)
	ve.SetProperty(prop, v, valueParams(value)...)
}

func setText(ve *ics.VEvent, prop ics.ComponentProperty, s string) {
	if s != "" {
		ve.SetProperty(prop, escapeText(s))
	}
}

func setRaw(ve *ics.VEvent, prop ics.ComponentProperty, s string) {
	if s != "" {
		ve.SetProperty(prop, s)
	}
}

func valueParams(value []string) []ics.PropertyParameter {
	if len(value) == 0 {
		return nil
	}
	return []ics.PropertyParameter{&ics.KeyValues{Key: paramValue, Value: value}}
}

func userParams(u itip.CalendarUser) []ics.PropertyParameter {
	if u.Name == "" {
		return nil
	}
	return []ics.PropertyParameter{&ics.KeyValues{Key: paramCN, Value: []string{u.Name}}}
}

func attendeeParams(a itip.Attendee, withRevisions bool) []ics.PropertyParameter {
	params := userParams(a.CalendarUser)
	add := func(key, value string) {
		params = append(params, &ics.KeyValues{Key: key, Value: []string{value}})
	}
	if a.PartStat != "" {
		add(paramPartStat, string(a.PartStat))
	}
	if a.Role != "" {
		add(paramRole, a.Role)
	}
	if a.RSVP {
		add(paramRSVP, "TRUE")
	}
	if withRevisions && (a.Sequence != 0 || !a.Stamp.IsZero()) {
		add(paramAttendeeSequence, strconv.Itoa(a.Sequence))
		if !a.Stamp.IsZero() {
			v, _ := formatDateTime(a.Stamp, false)
			add(paramAttendeeStamp, v)
		}
	}
	if withRevisions && a.Comment != "" {
		add(paramAttendeeComment, a.Comment)
	}
	return params
}

func mailto(uri string) string {
	if strings.Contains(uri, ":") {
		return uri
	}
	return "mailto:" + uri
}

// Package ical converts between iCalendar text and the scheduling engine's
// structured events.
package ical

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	ics "github.com/arran4/golang-ical"
	"github.com/lightningnetwork/lnd/fn/v2"

	"gitea.jw6.us/james/calsched/internal/itip"
)

// Properties without a stable constant across golang-ical releases.
const (
	propRecurrenceID ics.ComponentProperty = "RECURRENCE-ID"
	propTransp       ics.ComponentProperty = "TRANSP"
	propClass        ics.ComponentProperty = "CLASS"
	propCategories   ics.ComponentProperty = "CATEGORIES"
	propRelatedTo    ics.ComponentProperty = "RELATED-TO"
	propURL          ics.ComponentProperty = "URL"
	propStatus       ics.ComponentProperty = "STATUS"
	propComment      ics.ComponentProperty = "COMMENT"
	propDtStamp      ics.ComponentProperty = "DTSTAMP"
	propDuration     ics.ComponentProperty = "DURATION"
)

const (
	paramCN       = "CN"
	paramPartStat = "PARTSTAT"
	paramRole     = "ROLE"
	paramRSVP     = "RSVP"

	// X- parameters carrying an attendee's own revision in stored objects.
	paramAttendeeSequence = "X-CALSCHED-SEQUENCE"
	paramAttendeeStamp    = "X-CALSCHED-DTSTAMP"
	paramAttendeeComment  = "X-CALSCHED-COMMENT"
)

var (
	// ErrNoEvents is returned when a calendar carries no VEVENT.
	ErrNoEvents = errors.New("calendar has no events")
	// ErrMissingMethod is returned for scheduling messages without METHOD.
	ErrMissingMethod = errors.New("calendar has no METHOD")
)

// Envelope carries the transport level identity of a message.
type Envelope struct {
	ID        string
	Sender    itip.CalendarUser
	Recipient itip.CalendarUser
}

// ParseMessage parses an iTIP message. All VEVENTs become occurrences; the
// RELATED-TO of the first one names the related resource.
func ParseMessage(data []byte, env Envelope) (*itip.Message, error) {
	cal, err := ics.ParseCalendar(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", itip.ErrInvalidMessage, err)
	}

	methodValue := calendarProperty(cal, ics.PropertyMethod)
	if methodValue == "" {
		return nil, fmt.Errorf("%w: %w", itip.ErrInvalidMessage, ErrMissingMethod)
	}
	method, err := itip.ParseMethod(methodValue)
	if err != nil {
		return nil, err
	}

	events, err := parseEvents(cal)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", itip.ErrInvalidMessage, err)
	}

	msg := &itip.Message{
		ID:           env.ID,
		Method:       method,
		Occurrences:  events,
		RelatedToUID: fn.None[string](),
		Sender:       env.Sender,
		Recipient:    env.Recipient,
	}
	if related := events[0].RelatedTo; related != "" && related != events[0].UID {
		msg.RelatedToUID = fn.Some(related)
	}
	if msg.Sender.IsZero() && method == itip.MethodRequest {
		msg.Sender = events[0].Organizer
	}
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	return msg, nil
}

// ParseResource parses a stored calendar object into its master and
// exceptions. The resource identity fields are left to the caller.
func ParseResource(data []byte) (itip.Resource, error) {
	var res itip.Resource
	cal, err := ics.ParseCalendar(bytes.NewReader(data))
	if err != nil {
		return res, fmt.Errorf("parse calendar object: %w", err)
	}
	events, err := parseEvents(cal)
	if err != nil {
		return res, err
	}
	res.UID = events[0].UID
	for _, ev := range events {
		if ev.UID != res.UID {
			return res, fmt.Errorf("calendar object mixes UIDs %q and %q", res.UID, ev.UID)
		}
		if ev.IsMaster() {
			res.Master = ev
			continue
		}
		res.Exceptions = append(res.Exceptions, ev)
	}
	return res, nil
}

func parseEvents(cal *ics.Calendar) ([]*itip.Event, error) {
	vevents := cal.Events()
	if len(vevents) == 0 {
		return nil, ErrNoEvents
	}
	out := make([]*itip.Event, 0, len(vevents))
	for _, ve := range vevents {
		ev, err := parseEvent(ve)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, nil
}

func parseEvent(ve *ics.VEvent) (*itip.Event, error) {
	uid := propValue(ve, ics.ComponentPropertyUniqueId)
	if uid == "" {
		return nil, errors.New("VEVENT without UID")
	}
	ev := &itip.Event{
		UID:          uid,
		RecurrenceID: fn.None[time.Time](),
		Summary:      unescapeText(propValue(ve, ics.ComponentPropertySummary)),
		Description:  unescapeText(propValue(ve, ics.ComponentPropertyDescription)),
		Location:     unescapeText(propValue(ve, ics.ComponentPropertyLocation)),
		RRule:        strings.TrimPrefix(propValue(ve, ics.ComponentPropertyRrule), "RRULE:"),
		Transparency: strings.ToUpper(propValue(ve, propTransp)),
		Status:       strings.ToUpper(propValue(ve, propStatus)),
		Class:        strings.ToUpper(propValue(ve, propClass)),
		URL:          propValue(ve, propURL),
		RelatedTo:    propValue(ve, propRelatedTo),
	}

	if v := propValue(ve, ics.ComponentPropertySequence); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("event %q: invalid SEQUENCE %q", uid, v)
		}
		ev.Sequence = n
	}
	if p := ve.GetProperty(propDtStamp); p != nil {
		if t, _, err := parseDateTime(p.Value, p.ICalParameters); err == nil {
			ev.Stamp = t
		}
	}
	if p := ve.GetProperty(ics.ComponentPropertyDtStart); p != nil {
		t, allDay, err := parseDateTime(p.Value, p.ICalParameters)
		if err != nil {
			return nil, fmt.Errorf("event %q: DTSTART: %w", uid, err)
		}
		ev.Start, ev.AllDay = t, allDay
	}
	if p := ve.GetProperty(ics.ComponentPropertyDtEnd); p != nil {
		t, _, err := parseDateTime(p.Value, p.ICalParameters)
		if err != nil {
			return nil, fmt.Errorf("event %q: DTEND: %w", uid, err)
		}
		ev.End = t
	} else if d := propValue(ve, propDuration); d != "" && !ev.Start.IsZero() {
		if dur, err := parseDuration(d); err == nil {
			ev.End = ev.Start.Add(dur)
		}
	}
	if p := ve.GetProperty(propRecurrenceID); p != nil {
		t, _, err := parseDateTime(p.Value, p.ICalParameters)
		if err != nil {
			return nil, fmt.Errorf("event %q: RECURRENCE-ID: %w", uid, err)
		}
		ev.RecurrenceID = fn.Some(t)
	}
	for _, p := range ve.GetProperties(ics.ComponentPropertyExdate) {
		ev.ExDates = append(ev.ExDates, parseDateList(p.Value, p.ICalParameters)...)
	}
	for _, p := range ve.GetProperties(propCategories) {
		ev.Categories = append(ev.Categories, splitText(p.Value)...)
	}
	if p := ve.GetProperty(ics.ComponentPropertyOrganizer); p != nil {
		ev.Organizer = itip.CalendarUser{URI: p.Value, Name: firstParam(p.ICalParameters, paramCN)}
	}
	comment := unescapeText(propValue(ve, propComment))
	for _, p := range ve.GetProperties(ics.ComponentPropertyAttendee) {
		ev.Attendees = append(ev.Attendees, parseAttendee(p))
	}
	// A REPLY carries the attendee's comment on the component.
	if comment != "" && len(ev.Attendees) == 1 {
		ev.Attendees[0].Comment = comment
	}
	return ev, nil
}

func parseAttendee(p *ics.IANAProperty) itip.Attendee {
	params := p.ICalParameters
	a := itip.Attendee{
		CalendarUser: itip.CalendarUser{URI: p.Value, Name: firstParam(params, paramCN)},
		PartStat:     itip.PartStat(strings.ToUpper(firstParam(params, paramPartStat))),
		Role:         strings.ToUpper(firstParam(params, paramRole)),
		RSVP:         strings.EqualFold(firstParam(params, paramRSVP), "TRUE"),
		Comment:      firstParam(params, paramAttendeeComment),
	}
	if v := firstParam(params, paramAttendeeSequence); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			a.Sequence = n
		}
	}
	if v := firstParam(params, paramAttendeeStamp); v != "" {
		if t, _, err := parseDateTime(v, nil); err == nil {
			a.Stamp = t
		}
	}
	return a
}

func propValue(ve *ics.VEvent, prop ics.ComponentProperty) string {
	if p := ve.GetProperty(prop); p != nil {
		return strings.TrimSpace(p.Value)
	}
	return ""
}

func calendarProperty(cal *ics.Calendar, prop ics.Property) string {
	for i := range cal.CalendarProperties {
		if strings.EqualFold(cal.CalendarProperties[i].IANAToken, string(prop)) {
			return strings.TrimSpace(cal.CalendarProperties[i].Value)
		}
	}
	return ""
}

// parseDuration parses the day and time parts of an RFC 5545 DURATION.
func parseDuration(s string) (time.Duration, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	neg := strings.HasPrefix(s, "-")
	s = strings.TrimLeft(s, "+-")
	if !strings.HasPrefix(s, "P") {
		return 0, fmt.Errorf("invalid duration %q", s)
	}
	s = s[1:]
	var total time.Duration
	inTime := false
	num := 0
	digits := false
	for _, r := range s {
		switch {
		case r == 'T':
			inTime = true
		case r >= '0' && r <= '9':
			num = num*10 + int(r-'0')
			digits = true
			continue
		case r == 'W' && !inTime:
			total += time.Duration(num) * 7 * 24 * time.Hour
		case r == 'D' && !inTime:
			total += time.Duration(num) * 24 * time.Hour
		case r == 'H' && inTime:
			total += time.Duration(num) * time.Hour
		case r == 'M' && inTime:
			total += time.Duration(num) * time.Minute
		case r == 'S' && inTime:
			total += time.Duration(num) * time.Second
		default:
			return 0, fmt.Errorf("invalid duration %q", s)
		}
		num = 0
		digits = false
	}
	if digits {
		return 0, fmt.Errorf("invalid duration %q", s)
	}
	if neg {
		total = -total
	}
	return total, nil
}

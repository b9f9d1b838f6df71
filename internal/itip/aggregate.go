package itip

import (
	"sort"
	"time"

	"github.com/lightningnetwork/lnd/fn/v2"
	"golang.org/x/text/language"
)

// Analysis is the result of analyzing one message.
type Analysis struct {
	MessageID  string
	Owner      string
	CalendarID string
	Method     Method
	UID        string
	Locale     language.Tag

	// Message is the parsed inbound message.
	Message *Message
	// Sender is the calendar user the message is attributed to. For
	// attendee-originated methods it falls back to the single attendee when
	// the envelope names nobody usable.
	Sender CalendarUser
	// Related is the stored resource named by RELATED-TO, if any.
	Related fn.Option[Resource]
	// Analyzed is the stored resource the message was compared against.
	Analyzed fn.Option[Resource]

	Changes          []AnalyzedChange
	MainChange       fn.Option[AnalyzedChange]
	TargetedAttendee fn.Option[Attendee]
	Status           MessageStatus
}

// Change returns the analyzed change for the given occurrence.
func (a *Analysis) Change(rid fn.Option[time.Time]) (AnalyzedChange, bool) {
	for _, c := range a.Changes {
		if sameOccurrence(c.RecurrenceID, rid) {
			return c, true
		}
	}
	return AnalyzedChange{}, false
}

// Aggregate orders the per-occurrence changes and selects the main change.
// The result does not depend on the order of changes.
func Aggregate(method Method, msg *Message, changes []AnalyzedChange) *Analysis {
	ordered := append([]AnalyzedChange(nil), changes...)
	sort.SliceStable(ordered, func(i, j int) bool {
		return occurrenceLess(ordered[i], ordered[j])
	})

	a := &Analysis{
		Method:     method,
		Message:    msg,
		Changes:    ordered,
		MainChange: selectMain(ordered),
	}
	if msg != nil {
		a.MessageID = msg.ID
		a.UID = msg.UID()
		a.Sender = effectiveSender(msg)
	}
	a.TargetedAttendee = targetedAttendee(method, msg, a.Sender)
	return a
}

// selectMain picks the highest ranked change; ties go to the one offering
// more actions, then to the earlier occurrence.
func selectMain(ordered []AnalyzedChange) fn.Option[AnalyzedChange] {
	if len(ordered) == 0 {
		return fn.None[AnalyzedChange]()
	}
	best := 0
	for i := 1; i < len(ordered); i++ {
		if outranks(ordered[i], ordered[best]) {
			best = i
		}
	}
	return fn.Some(ordered[best])
}

func outranks(a, b AnalyzedChange) bool {
	if ra, rb := a.rank(), b.rank(); ra != rb {
		return ra > rb
	}
	if a.Actions.Len() != b.Actions.Len() {
		return a.Actions.Len() > b.Actions.Len()
	}
	return occurrenceLess(a, b)
}

func occurrenceLess(a, b AnalyzedChange) bool {
	ai, at := occurrenceOrder(a.RecurrenceID)
	bi, bt := occurrenceOrder(b.RecurrenceID)
	if ai != bi {
		return ai < bi
	}
	if at != bt {
		return at < bt
	}
	return a.UID < b.UID
}

func occurrenceOrder(rid fn.Option[time.Time]) (int, int64) {
	t, ok := recurrenceTime(rid)
	if !ok {
		return 0, 0
	}
	return 1, t.UnixNano()
}

// targetedAttendee resolves the attendee named by the message itself: the
// sender of attendee-originated methods, the recipient otherwise.
func targetedAttendee(method Method, msg *Message, sender CalendarUser) fn.Option[Attendee] {
	if msg == nil {
		return fn.None[Attendee]()
	}
	who := msg.Recipient
	if method.fromAttendee() {
		who = sender
	}
	for _, ev := range msg.Occurrences {
		if a, ok := ev.FindAttendee(who.URI); ok {
			return fn.Some(a)
		}
	}
	return fn.None[Attendee]()
}

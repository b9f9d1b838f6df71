package itip

import (
	"fmt"
	"time"

	"github.com/lightningnetwork/lnd/fn/v2"
	"golang.org/x/text/language"
)

// Message is an inbound, already parsed scheduling message. All occurrences
// share one UID.
type Message struct {
	ID           string
	Method       Method
	Occurrences  []*Event
	RelatedToUID fn.Option[string]
	Sender       CalendarUser
	Recipient    CalendarUser
}

// UID returns the UID shared by the message's occurrences.
func (m *Message) UID() string {
	if len(m.Occurrences) == 0 {
		return ""
	}
	return m.Occurrences[0].UID
}

// Validate checks the structural requirements the engine relies on.
func (m *Message) Validate() error {
	if m == nil {
		return fmt.Errorf("%w: nil message", ErrInvalidMessage)
	}
	if m.ID == "" {
		return fmt.Errorf("%w: missing message id", ErrInvalidMessage)
	}
	if len(m.Occurrences) == 0 {
		return fmt.Errorf("%w: no occurrences", ErrInvalidMessage)
	}
	for _, ev := range m.Occurrences {
		if ev == nil {
			return fmt.Errorf("%w: nil occurrence", ErrInvalidMessage)
		}
	}
	uid := m.Occurrences[0].UID
	if uid == "" {
		return fmt.Errorf("%w: missing UID", ErrInvalidMessage)
	}
	type occurrenceKey struct {
		exception bool
		at        int64
	}
	seen := make(map[occurrenceKey]struct{}, len(m.Occurrences))
	for _, ev := range m.Occurrences {
		if ev.UID != uid {
			return fmt.Errorf("%w: mixed UIDs %q and %q", ErrInvalidMessage, uid, ev.UID)
		}
		kind, at := occurrenceOrder(ev.RecurrenceID)
		key := occurrenceKey{exception: kind == 1, at: at}
		if _, dup := seen[key]; dup {
			return fmt.Errorf("%w: duplicate occurrence %s", ErrInvalidMessage, occurrenceLabel(ev.RecurrenceID))
		}
		seen[key] = struct{}{}
	}
	return nil
}

// Occurrence returns the message's event for the given recurrence identifier.
func (m *Message) Occurrence(rid fn.Option[time.Time]) (*Event, bool) {
	for _, ev := range m.Occurrences {
		if sameOccurrence(ev.RecurrenceID, rid) {
			return ev, true
		}
	}
	return nil, false
}

// Session is the resolved identity context an analysis runs in.
type Session struct {
	Owner      string
	CalendarID string
	Locale     language.Tag
}

// ParseLocale resolves a BCP 47 tag, falling back to fallback when the value
// is empty or malformed.
func ParseLocale(value string, fallback language.Tag) language.Tag {
	if value == "" {
		return fallback
	}
	tag, err := language.Parse(value)
	if err != nil {
		return fallback
	}
	return tag
}

package itip

import (
	"fmt"
	"time"
)

// Sequence is the comparable revision of a schedulable entity, combining the
// SEQUENCE number with the DTSTAMP in whole seconds. iCalendar carries no
// sub-second resolution, so the timestamp is truncated on construction and
// nowhere else.
type Sequence struct {
	Number    int32
	Timestamp int64
}

// NewSequence builds a revision from a sequence number and a timestamp. A
// zero timestamp maps to 0.
func NewSequence(number int, stamp time.Time) Sequence {
	var ts int64
	if !stamp.IsZero() {
		ts = stamp.Truncate(time.Second).Unix()
	}
	return Sequence{Number: int32(number), Timestamp: ts}
}

// Compare returns -1, 0 or 1 when s sorts before, equal to or after o.
func (s Sequence) Compare(o Sequence) int {
	switch {
	case s.Number < o.Number:
		return -1
	case s.Number > o.Number:
		return 1
	case s.Timestamp < o.Timestamp:
		return -1
	case s.Timestamp > o.Timestamp:
		return 1
	}
	return 0
}

func (s Sequence) After(o Sequence) bool          { return s.Compare(o) > 0 }
func (s Sequence) AfterOrEquals(o Sequence) bool  { return s.Compare(o) >= 0 }
func (s Sequence) Before(o Sequence) bool         { return s.Compare(o) < 0 }
func (s Sequence) BeforeOrEquals(o Sequence) bool { return s.Compare(o) <= 0 }

func (s Sequence) String() string {
	return fmt.Sprintf("%d@%d", s.Number, s.Timestamp)
}

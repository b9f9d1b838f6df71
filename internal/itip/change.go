package itip

import (
	"fmt"
	"time"

	"github.com/lightningnetwork/lnd/fn/v2"
)

// ChangeType is the structural effect of a message on one occurrence.
type ChangeType string

const (
	ChangeCreate                ChangeType = "CREATE"
	ChangeUpdate                ChangeType = "UPDATE"
	ChangeDelete                ChangeType = "DELETE"
	ChangeCreateDeleteException ChangeType = "CREATE_DELETE_EXCEPTION"
)

// Change is one classified change for one occurrence. Only the events
// relevant to Type are set:
//
//   - CREATE: NewEvent
//   - UPDATE: CurrentEvent and NewEvent
//   - DELETE: DeletedEvent
//   - CREATE_DELETE_EXCEPTION: DeletedEvent and CurrentEvent (the series master)
type Change struct {
	Type         ChangeType
	NewEvent     *Event
	CurrentEvent *Event
	DeletedEvent *Event
	Conflicts    []Conflict
}

// NewCreateChange describes a new occurrence.
func NewCreateChange(ev *Event, conflicts []Conflict) Change {
	return Change{Type: ChangeCreate, NewEvent: ev, Conflicts: conflicts}
}

// NewUpdateChange describes a modification of a stored occurrence.
func NewUpdateChange(current, ev *Event, conflicts []Conflict) Change {
	return Change{Type: ChangeUpdate, CurrentEvent: current, NewEvent: ev, Conflicts: conflicts}
}

// NewDeleteChange describes the removal of a stored occurrence.
func NewDeleteChange(deleted *Event) Change {
	return Change{Type: ChangeDelete, DeletedEvent: deleted}
}

// NewDeleteExceptionChange describes cancelling one occurrence of a series
// that continues.
func NewDeleteExceptionChange(master, deleted *Event) Change {
	return Change{Type: ChangeCreateDeleteException, CurrentEvent: master, DeletedEvent: deleted}
}

// Validate checks that exactly the events relevant to Type are populated.
func (c Change) Validate() error {
	has := func(e *Event) bool { return e != nil }
	var ok bool
	switch c.Type {
	case ChangeCreate:
		ok = has(c.NewEvent) && !has(c.CurrentEvent) && !has(c.DeletedEvent)
	case ChangeUpdate:
		ok = has(c.NewEvent) && has(c.CurrentEvent) && !has(c.DeletedEvent)
	case ChangeDelete:
		ok = has(c.DeletedEvent) && !has(c.NewEvent) && !has(c.CurrentEvent)
	case ChangeCreateDeleteException:
		ok = has(c.DeletedEvent) && has(c.CurrentEvent) && !has(c.NewEvent)
	default:
		return fmt.Errorf("unknown change type %q", c.Type)
	}
	if !ok {
		return fmt.Errorf("change %s has inconsistent events", c.Type)
	}
	return nil
}

// Event returns the event that identifies the occurrence.
func (c Change) Event() *Event {
	switch {
	case c.NewEvent != nil:
		return c.NewEvent
	case c.DeletedEvent != nil:
		return c.DeletedEvent
	}
	return c.CurrentEvent
}

// AnalyzedChange wraps a classified change with its annotations, the actions
// offered to the receiver and the attendee the message targets. Change is
// None for outcomes that touch nothing, such as an unmatched reply or a
// degraded classification.
type AnalyzedChange struct {
	UID              string
	RecurrenceID     fn.Option[time.Time]
	Change           fn.Option[Change]
	Annotations      []Annotation
	Actions          ActionSet
	TargetedAttendee fn.Option[Attendee]
}

// IsDecision reports whether the change offers more than ignoring it.
func (a AnalyzedChange) IsDecision() bool {
	return !a.Actions.IsIgnoreOnly()
}

// rank orders candidates for the main change: master creations and
// deletions first, then any other classified change, then no-ops.
func (a AnalyzedChange) rank() int {
	if a.Actions.IsIgnoreOnly() {
		return 0
	}
	c, ok := unwrapChange(a.Change)
	if !ok {
		return 1
	}
	if a.RecurrenceID.IsNone() && (c.Type == ChangeCreate || c.Type == ChangeDelete) {
		return 3
	}
	return 2
}

func unwrapChange(o fn.Option[Change]) (Change, bool) {
	if o.IsNone() {
		return Change{}, false
	}
	return o.UnwrapOr(Change{}), true
}

package itip

import (
	"errors"
	"fmt"
	"time"

	"github.com/lightningnetwork/lnd/fn/v2"
)

// Classification is everything the classifier needs to decide one
// occurrence.
type Classification struct {
	Method Method
	Role   Role

	// Incoming is the occurrence as carried by the message.
	Incoming *Event
	// Update is the diff from the stored occurrence to the comparison event.
	// For a REPLY the comparison event is the stored event with the reply
	// merged in; otherwise it is Incoming.
	Update *EventUpdate
	// Master is the stored series master when Incoming targets an occurrence.
	Master fn.Option[*Event]

	StoredRevision   fn.Option[Sequence]
	IncomingRevision Sequence
	Conflicts        []Conflict

	Sender    CalendarUser
	Recipient CalendarUser
}

// Classify decides one occurrence. It returns ErrUnsupportedMethod for
// method and role combinations without a rule; Degrade turns that into a
// terminal change.
func Classify(in Classification) (AnalyzedChange, error) {
	stored, hasStored := unwrapEvent(in.Update.Original())

	if hasStored && !in.Method.IsRevisionAgnostic() {
		if storedRev, ok := unwrapSequence(in.StoredRevision); ok && storedRev.AfterOrEquals(in.IncomingRevision) {
			return in.result(fn.None[Change](), NewActionSet(ActionIgnore),
				NewAnnotation(MsgOutdated, storedRev, in.IncomingRevision),
			), nil
		}
	}

	switch {
	case in.Method == MethodRequest && in.Role == RoleAttendee,
		in.Method == MethodAdd && in.Role == RoleAttendee:
		return in.classifyRequest(stored, hasStored), nil
	case in.Method == MethodPublish:
		return in.classifyPublish(stored, hasStored), nil
	case in.Method == MethodCancel && in.Role == RoleAttendee:
		return in.classifyCancel(stored, hasStored), nil
	case in.Method == MethodReply && in.Role == RoleOrganizer:
		return in.classifyReply(stored, hasStored), nil
	case in.Method == MethodCounter && in.Role == RoleOrganizer:
		return in.classifyCounter(stored, hasStored), nil
	case in.Method == MethodDeclineCounter && in.Role == RoleAttendee:
		return in.classifyDeclineCounter(hasStored), nil
	case in.Method == MethodRefresh:
		return in.classifyRefresh(hasStored), nil
	}
	return AnalyzedChange{}, fmt.Errorf("%w: %s as %s", ErrUnsupportedMethod, in.Method, in.Role)
}

// Degrade builds the terminal change reported when an occurrence cannot be
// classified: one explanatory annotation and no actions.
func Degrade(method Method, incoming *Event, candidates int, err error) AnalyzedChange {
	ann := NewAnnotation(MsgUnsupported, method)
	if errors.Is(err, ErrAmbiguousCorrelation) {
		ann = NewAnnotation(MsgAmbiguous, candidates)
	}
	ann = ann.WithAdditional("error", err.Error())
	out := AnalyzedChange{
		Change:      fn.None[Change](),
		Annotations: []Annotation{ann},
		Actions:     NewActionSet(),
	}
	if incoming != nil {
		out.UID = incoming.UID
		out.RecurrenceID = incoming.RecurrenceID
	}
	return out
}

func (in Classification) classifyRequest(stored *Event, hasStored bool) AnalyzedChange {
	ev := in.Incoming
	responses := in.responses()

	if !hasStored {
		actions := responses.With(ActionApplyCreate)
		var ann Annotation
		master, hasMaster := unwrapEvent(in.Master)
		switch {
		case ev.IsMaster():
			ann = NewAnnotation(MsgInvited, in.Sender.Display(), ev.Summary)
		case hasMaster:
			ann = NewAnnotation(MsgOccurrenceAdded, in.Sender.Display(), master.Summary)
		default:
			ann = NewAnnotation(MsgUnknownSeries, in.Sender.Display())
			if in.Method == MethodAdd {
				actions = actions.With(ActionRequestRefresh)
			}
		}
		return in.result(fn.Some(NewCreateChange(ev, in.Conflicts)), actions,
			in.withConflicts(ann)...,
		)
	}

	if in.Update.IsEmpty() {
		actions := NewActionSet(ActionIgnore)
		if in.recipientPending(stored) {
			actions = responses
		}
		return in.result(fn.Some(NewUpdateChange(stored, ev, in.Conflicts)), actions,
			NewAnnotation(MsgUnchanged, in.Sender.Display(), ev.Summary),
		)
	}

	if in.Update.IsDetailChangeOnly() && in.recipientPartStat(stored) == PartStatAccepted {
		return in.result(fn.Some(NewUpdateChange(stored, ev, in.Conflicts)), NewActionSet(ActionApplyChange),
			in.withConflicts(NewAnnotation(MsgUpdatedDetailsOnly, in.Sender.Display(), ev.Summary))...,
		)
	}

	return in.result(fn.Some(NewUpdateChange(stored, ev, in.Conflicts)), responses.With(ActionApplyChange),
		in.withConflicts(NewAnnotation(MsgUpdated, in.Sender.Display(), ev.Summary))...,
	)
}

func (in Classification) classifyPublish(stored *Event, hasStored bool) AnalyzedChange {
	ev := in.Incoming
	switch {
	case !hasStored:
		return in.result(fn.Some(NewCreateChange(ev, in.Conflicts)), NewActionSet(ActionApplyCreate),
			in.withConflicts(NewAnnotation(MsgPublished, in.Sender.Display(), ev.Summary))...,
		)
	case in.Update.IsEmpty():
		return in.result(fn.Some(NewUpdateChange(stored, ev, in.Conflicts)), NewActionSet(ActionIgnore),
			NewAnnotation(MsgUnchanged, in.Sender.Display(), ev.Summary),
		)
	}
	return in.result(fn.Some(NewUpdateChange(stored, ev, in.Conflicts)), NewActionSet(ActionApplyChange),
		in.withConflicts(NewAnnotation(MsgUpdated, in.Sender.Display(), ev.Summary))...,
	)
}

func (in Classification) classifyCancel(stored *Event, hasStored bool) AnalyzedChange {
	ev := in.Incoming
	if !hasStored {
		return in.result(fn.None[Change](), NewActionSet(ActionIgnore),
			NewAnnotation(MsgCancelUnknown, summaryOr(ev)),
		)
	}
	rid, isOccurrence := recurrenceTime(ev.RecurrenceID)
	if master, ok := unwrapEvent(in.Master); ok && isOccurrence {
		return in.result(fn.Some(NewDeleteExceptionChange(master, stored)), NewActionSet(ActionApplyRemove),
			NewAnnotation(MsgCancelledOccurrence, in.Sender.Display(), master.Summary, rid),
		)
	}
	return in.result(fn.Some(NewDeleteChange(stored)), NewActionSet(ActionApplyRemove),
		NewAnnotation(MsgCancelled, in.Sender.Display(), stored.Summary),
	)
}

func (in Classification) classifyReply(stored *Event, hasStored bool) AnalyzedChange {
	if !hasStored {
		return in.result(fn.None[Change](), NewActionSet(ActionIgnore),
			NewAnnotation(MsgReplyUnknown, in.Sender.Display()),
		)
	}

	reply, _ := in.Incoming.FindAttendee(in.Sender.URI)
	anns := []Annotation{
		NewAnnotation(MsgReplied, in.Sender.Display(), partStatOrDefault(reply.PartStat), stored.Summary),
	}
	actions := NewActionSet(ActionApplyResponse)
	if _, known := stored.FindAttendee(in.Sender.URI); !known {
		actions = actions.With(ActionAcceptPartyCrasher)
		anns = append(anns, NewAnnotation(MsgPartyCrasher, in.Sender.Display(), stored.Summary))
	}
	smuggled := detailDiff(stored, in.Incoming).Intersect(populatedFields(in.Incoming))
	if !smuggled.Minus(NewFieldSet(FieldRecurrenceID)).IsEmpty() {
		anns = append(anns, NewAnnotation(MsgReplyIgnoredDetails, in.Sender.Display()))
	}
	return in.result(fn.Some(NewUpdateChange(stored, in.Update.Updated(), nil)), actions, anns...)
}

func (in Classification) classifyCounter(stored *Event, hasStored bool) AnalyzedChange {
	if !hasStored {
		return in.result(fn.None[Change](), NewActionSet(ActionIgnore),
			NewAnnotation(MsgCounterUnknown, in.Sender.Display()),
		)
	}
	return in.result(fn.Some(NewUpdateChange(stored, in.Incoming, in.Conflicts)),
		NewActionSet(ActionApplyProposal, ActionDeclineCounter),
		in.withConflicts(NewAnnotation(MsgCountered, in.Sender.Display(), stored.Summary))...,
	)
}

func (in Classification) classifyDeclineCounter(hasStored bool) AnalyzedChange {
	actions := NewActionSet(ActionIgnore)
	if hasStored {
		actions = actions.With(ActionRequestRefresh)
	}
	return in.result(fn.None[Change](), actions,
		NewAnnotation(MsgCounterDeclined, in.Sender.Display(), summaryOr(in.Incoming)),
	)
}

func (in Classification) classifyRefresh(hasStored bool) AnalyzedChange {
	if !hasStored {
		return in.result(fn.None[Change](), NewActionSet(ActionIgnore),
			NewAnnotation(MsgRefreshUnknown, in.Sender.Display()),
		)
	}
	stored, _ := unwrapEvent(in.Update.Original())
	return in.result(fn.None[Change](), NewActionSet(ActionSendRefresh),
		NewAnnotation(MsgRefreshRequested, in.Sender.Display(), stored.Summary),
	)
}

// responses are the participation choices offered to an invited attendee.
func (in Classification) responses() ActionSet {
	set := NewActionSet(ActionAccept, ActionDecline, ActionTentative)
	if len(in.Conflicts) > 0 {
		set = set.With(ActionAcceptAndIgnoreConflicts)
	}
	return set
}

func (in Classification) recipientPartStat(stored *Event) PartStat {
	a, ok := stored.FindAttendee(in.Recipient.URI)
	if !ok {
		return ""
	}
	return partStatOrDefault(a.PartStat)
}

func (in Classification) recipientPending(stored *Event) bool {
	ps := in.recipientPartStat(stored)
	return ps == "" || ps == PartStatNeedsAction
}

func (in Classification) withConflicts(ann Annotation) []Annotation {
	if len(in.Conflicts) == 0 {
		return []Annotation{ann}
	}
	return []Annotation{
		ann,
		NewAnnotation(MsgConflicts, summaryOr(in.Incoming), len(in.Conflicts)).
			WithAdditional("conflicts", append([]Conflict(nil), in.Conflicts...)),
	}
}

// targeted is the attendee the message names: the sender for messages
// travelling from attendee to organizer, the recipient otherwise.
func (in Classification) targeted() fn.Option[Attendee] {
	who := in.Recipient
	if in.Method.fromAttendee() {
		who = in.Sender
	}
	if a, ok := in.Incoming.FindAttendee(who.URI); ok {
		return fn.Some(a)
	}
	return fn.None[Attendee]()
}

func (in Classification) result(change fn.Option[Change], actions ActionSet, anns ...Annotation) AnalyzedChange {
	return AnalyzedChange{
		UID:              in.Incoming.UID,
		RecurrenceID:     in.Incoming.RecurrenceID,
		Change:           change,
		Annotations:      anns,
		Actions:          actions,
		TargetedAttendee: in.targeted(),
	}
}

func summaryOr(ev *Event) string {
	if ev.Summary != "" {
		return ev.Summary
	}
	return ev.UID
}

func unwrapSequence(o fn.Option[Sequence]) (Sequence, bool) {
	if o.IsNone() {
		return Sequence{}, false
	}
	return o.UnwrapOr(Sequence{}), true
}

// occurrenceLabel renders a recurrence identifier for logs.
func occurrenceLabel(rid fn.Option[time.Time]) string {
	if t, ok := recurrenceTime(rid); ok {
		return t.UTC().Format(time.RFC3339)
	}
	return "master"
}

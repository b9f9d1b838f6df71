package itip

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lightningnetwork/lnd/fn/v2"
	"go.uber.org/zap"
)

// MutationKind is the kind of calendar store write.
type MutationKind string

const (
	MutationCreate MutationKind = "CREATE"
	MutationUpdate MutationKind = "UPDATE"
	MutationDelete MutationKind = "DELETE"
)

// Mutation is one write against the calendar store. Update and Delete carry
// the ETag the resource had when it was analyzed.
type Mutation struct {
	Kind         MutationKind
	Resource     Resource
	ExpectedETag string
}

// OutgoingMessage is a scheduling message the caller should deliver after
// the plan was executed.
type OutgoingMessage struct {
	Method     Method
	Recipients []CalendarUser
	Event      *Event
}

// MutationPlan is the validated outcome of choosing an action.
type MutationPlan struct {
	ID           uuid.UUID
	Key          MessageKey
	Action       Action
	RecurrenceID fn.Option[time.Time]
	Mutations    []Mutation
	Outgoing     []OutgoingMessage
	Status       MessageStatus

	baseUID  string
	baseETag string
}

// MutationResult reports an executed plan.
type MutationResult struct {
	PlanID   uuid.UUID
	Action   Action
	Resource fn.Option[Resource]
	Deleted  bool
	Outgoing []OutgoingMessage
	Status   MessageStatus
}

// Processor turns a chosen action into storage mutations and records the
// message status.
type Processor struct {
	Store    CalendarStore
	Mutator  CalendarMutator
	Statuses StatusStore
	Now      func() time.Time
	Logger   *zap.Logger
}

// Plan validates action against the analysis and builds the mutations. The
// selector picks an occurrence; without one the main change is used. An
// action the analysis did not offer fails with a *PreconditionError.
func (p *Processor) Plan(a *Analysis, action Action, selector fn.Option[time.Time]) (*MutationPlan, error) {
	change, err := a.target(selector)
	if err != nil {
		return nil, err
	}
	if !change.Actions.Contains(action) {
		return nil, &PreconditionError{Action: action, Offered: change.Actions}
	}

	plan := &MutationPlan{
		ID:           uuid.New(),
		Key:          MessageKey{MessageID: a.MessageID, Owner: a.Owner},
		Action:       action,
		RecurrenceID: change.RecurrenceID,
		Status:       StatusApplied,
		baseUID:      a.UID,
	}
	if base, ok := unwrapResource(a.Analyzed); ok {
		plan.baseUID = base.UID
		plan.baseETag = base.ETag
	}

	b := planBuilder{analysis: a, change: change, now: p.now()}
	if err := b.build(plan); err != nil {
		return nil, err
	}
	return plan, nil
}

// Execute runs a plan: it rejects already processed messages, re-validates
// the stored resource, applies the mutations and finally advances the
// status. A failed mutation leaves the status untouched.
func (p *Processor) Execute(ctx context.Context, plan *MutationPlan) (MutationResult, error) {
	log := p.logger().With(
		zap.String("plan_id", plan.ID.String()),
		zap.String("message_id", plan.Key.MessageID),
		zap.String("action", plan.Action.String()),
	)
	result := MutationResult{PlanID: plan.ID, Action: plan.Action}

	current, err := p.Statuses.Get(ctx, plan.Key)
	if err != nil {
		return result, fmt.Errorf("get status: %w", err)
	}
	if current.IsTerminal() {
		result.Status = current
		return result, fmt.Errorf("%w: %s", ErrAlreadyProcessed, current)
	}

	if len(plan.Mutations) > 0 {
		if err := p.revalidate(ctx, plan); err != nil {
			result.Status = current
			return result, err
		}
	}

	for _, m := range plan.Mutations {
		res, err := p.apply(ctx, plan.Key.Owner, m)
		if err != nil {
			log.Warn("mutation failed", zap.String("kind", string(m.Kind)), zap.Error(err))
			result.Status = current
			return result, &StorageError{Op: string(m.Kind), Err: err}
		}
		if m.Kind == MutationDelete {
			result.Deleted = true
			result.Resource = fn.None[Resource]()
			continue
		}
		result.Resource = fn.Some(res)
	}

	if err := advanceStatus(ctx, p.Statuses, plan.Key, current, plan.Status); err != nil {
		result.Status = current
		return result, err
	}
	result.Status = plan.Status
	result.Outgoing = plan.Outgoing
	log.Info("message processed", zap.String("status", plan.Status.String()), zap.Int("mutations", len(plan.Mutations)))
	return result, nil
}

// revalidate fails with ErrRevalidationStale when the stored resource moved
// since the analysis.
func (p *Processor) revalidate(ctx context.Context, plan *MutationPlan) error {
	found, err := p.Store.FindByUID(ctx, plan.Key.Owner, plan.baseUID)
	if err != nil {
		return fmt.Errorf("revalidate %q: %w", plan.baseUID, err)
	}
	switch {
	case plan.baseETag == "" && len(found) == 0:
		return nil
	case len(found) == 1 && found[0].ETag == plan.baseETag:
		return nil
	}
	return fmt.Errorf("%w: %q", ErrRevalidationStale, plan.baseUID)
}

func (p *Processor) apply(ctx context.Context, owner string, m Mutation) (Resource, error) {
	switch m.Kind {
	case MutationCreate:
		return p.Mutator.Create(ctx, owner, m.Resource)
	case MutationUpdate:
		return p.Mutator.Update(ctx, owner, m.Resource, m.ExpectedETag)
	case MutationDelete:
		return Resource{}, p.Mutator.Delete(ctx, owner, m.Resource, m.ExpectedETag)
	}
	return Resource{}, fmt.Errorf("unknown mutation kind %q", m.Kind)
}

func (p *Processor) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}

func (p *Processor) logger() *zap.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return zap.NewNop()
}

// target returns the change an action applies to.
func (a *Analysis) target(selector fn.Option[time.Time]) (AnalyzedChange, error) {
	if selector.IsSome() {
		if c, ok := a.Change(selector); ok {
			return c, nil
		}
		return AnalyzedChange{}, &PreconditionError{Reason: "no change for occurrence " + occurrenceLabel(selector)}
	}
	if a.MainChange.IsNone() {
		return AnalyzedChange{}, &PreconditionError{Reason: "analysis has no change"}
	}
	return a.MainChange.UnwrapOr(AnalyzedChange{}), nil
}

type planBuilder struct {
	analysis *Analysis
	change   AnalyzedChange
	now      time.Time
}

const noChangeReason = "action requires a classified change"

func (b planBuilder) build(plan *MutationPlan) error {
	a := b.analysis
	change, hasChange := unwrapChange(b.change.Change)

	switch action := plan.Action; action {
	case ActionIgnore:
		plan.Status = StatusIgnored

	case ActionAccept, ActionDecline, ActionTentative, ActionAcceptAndIgnoreConflicts:
		if !hasChange || change.NewEvent == nil {
			return &PreconditionError{Action: action, Reason: noChangeReason}
		}
		me := a.recipient()
		answered := respond(change.NewEvent, me, action.partStat(), b.now)
		plan.Mutations = append(plan.Mutations, b.write(answered))
		if organizer := answered.Organizer; !organizer.IsZero() {
			plan.Outgoing = append(plan.Outgoing, OutgoingMessage{
				Method:     MethodReply,
				Recipients: []CalendarUser{organizer},
				Event:      replyFor(answered, me, b.now),
			})
		}

	case ActionApplyCreate, ActionApplyChange:
		if !hasChange || change.NewEvent == nil {
			return &PreconditionError{Action: action, Reason: noChangeReason}
		}
		plan.Mutations = append(plan.Mutations, b.write(change.NewEvent))

	case ActionApplyRemove:
		if !hasChange || change.DeletedEvent == nil {
			return &PreconditionError{Action: action, Reason: noChangeReason}
		}
		m, ok := b.remove(change)
		if ok {
			plan.Mutations = append(plan.Mutations, m)
		}

	case ActionApplyResponse, ActionAcceptPartyCrasher:
		if !hasChange || change.NewEvent == nil {
			return &PreconditionError{Action: action, Reason: noChangeReason}
		}
		known := false
		if change.CurrentEvent != nil && !a.Sender.IsZero() {
			_, known = change.CurrentEvent.FindAttendee(a.Sender.URI)
		}
		if !known && action == ActionApplyResponse {
			return &PreconditionError{Action: action, Reason: "replying attendee is not on the stored event"}
		}
		plan.Mutations = append(plan.Mutations, b.write(change.NewEvent))

	case ActionApplyProposal:
		if !hasChange || change.NewEvent == nil || change.CurrentEvent == nil {
			return &PreconditionError{Action: action, Reason: noChangeReason}
		}
		updated := applyProposal(change.CurrentEvent, change.NewEvent, a.Sender, b.now)
		plan.Mutations = append(plan.Mutations, b.write(updated))
		plan.Outgoing = append(plan.Outgoing, OutgoingMessage{
			Method:     MethodRequest,
			Recipients: attendeeUsers(updated),
			Event:      updated,
		})

	case ActionDeclineCounter:
		ev := b.storedOr(a.Message.Occurrences[0])
		plan.Outgoing = append(plan.Outgoing, OutgoingMessage{
			Method:     MethodDeclineCounter,
			Recipients: []CalendarUser{a.Sender},
			Event:      ev,
		})

	case ActionSendRefresh:
		stored, ok := a.storedOccurrence(b.change.RecurrenceID)
		if !ok {
			return &PreconditionError{Action: action, Reason: "nothing stored to refresh"}
		}
		plan.Outgoing = append(plan.Outgoing, OutgoingMessage{
			Method:     MethodRequest,
			Recipients: []CalendarUser{a.Sender},
			Event:      stored,
		})

	case ActionRequestRefresh:
		ev := b.storedOr(a.Message.Occurrences[0]).Clone()
		plan.Outgoing = append(plan.Outgoing, OutgoingMessage{
			Method:     MethodRefresh,
			Recipients: []CalendarUser{ev.Organizer},
			Event:      refreshFor(ev, a.recipient(), b.now),
		})

	default:
		return &PreconditionError{Action: action, Reason: "no handler for action"}
	}
	return nil
}

// write stores ev into the analyzed resource, or creates a new one.
func (b planBuilder) write(ev *Event) Mutation {
	base, ok := unwrapResource(b.analysis.Analyzed)
	if !ok {
		res := Resource{UID: ev.UID, CalendarID: b.analysis.CalendarID}.WithOccurrence(ev)
		return Mutation{Kind: MutationCreate, Resource: res}
	}
	if base.UID != ev.UID {
		// The related resource is replaced by the new UID.
		res := Resource{ID: base.ID, CalendarID: base.CalendarID, UID: ev.UID, ETag: base.ETag}.WithOccurrence(ev)
		return Mutation{Kind: MutationUpdate, Resource: res, ExpectedETag: base.ETag}
	}
	return Mutation{Kind: MutationUpdate, Resource: base.WithOccurrence(ev), ExpectedETag: base.ETag}
}

func (b planBuilder) remove(change Change) (Mutation, bool) {
	base, ok := unwrapResource(b.analysis.Analyzed)
	if !ok {
		return Mutation{}, false
	}
	deleted := change.DeletedEvent
	if change.Type == ChangeCreateDeleteException {
		rid, _ := recurrenceTime(deleted.RecurrenceID)
		return Mutation{Kind: MutationUpdate, Resource: base.WithExDate(rid), ExpectedETag: base.ETag}, true
	}
	rest := base.WithoutOccurrence(deleted.RecurrenceID)
	if deleted.IsMaster() || rest.IsEmpty() {
		return Mutation{Kind: MutationDelete, Resource: base, ExpectedETag: base.ETag}, true
	}
	return Mutation{Kind: MutationUpdate, Resource: rest, ExpectedETag: base.ETag}, true
}

func (b planBuilder) storedOr(fallback *Event) *Event {
	if ev, ok := b.analysis.storedOccurrence(b.change.RecurrenceID); ok {
		return ev
	}
	return fallback
}

// storedOccurrence returns the analyzed resource's event for rid.
func (a *Analysis) storedOccurrence(rid fn.Option[time.Time]) (*Event, bool) {
	res, ok := unwrapResource(a.Analyzed)
	if !ok {
		return nil, false
	}
	if ev, ok := res.StoredOccurrence(rid); ok {
		return ev, true
	}
	return res.Occurrence(fn.None[time.Time]())
}

// recipient is the local calendar user the message was delivered to.
func (a *Analysis) recipient() CalendarUser {
	if a.Message != nil && !a.Message.Recipient.IsZero() {
		return a.Message.Recipient
	}
	return CalendarUser{URI: a.Owner}
}

// respond sets who's participation status on a copy of ev.
func respond(ev *Event, who CalendarUser, ps PartStat, now time.Time) *Event {
	a, ok := ev.FindAttendee(who.URI)
	if !ok {
		a = Attendee{CalendarUser: who}
	}
	a.PartStat = ps
	a.RSVP = false
	a.Sequence = ev.Sequence
	a.Stamp = now
	return ev.WithAttendee(a)
}

// replyFor builds the REPLY payload: the event reduced to the replying
// attendee.
func replyFor(ev *Event, who CalendarUser, now time.Time) *Event {
	out := ev.Clone()
	out.Stamp = now
	a, _ := ev.FindAttendee(who.URI)
	out.Attendees = []Attendee{a}
	return out
}

func refreshFor(ev *Event, who CalendarUser, now time.Time) *Event {
	out := &Event{
		UID:          ev.UID,
		RecurrenceID: ev.RecurrenceID,
		Sequence:     ev.Sequence,
		Stamp:        now,
		Organizer:    ev.Organizer,
	}
	if a, ok := ev.FindAttendee(who.URI); ok {
		out.Attendees = []Attendee{a}
	} else {
		out.Attendees = []Attendee{{CalendarUser: who}}
	}
	return out
}

// applyProposal merges a COUNTER proposal into the stored event and bumps
// the sequence. A rescheduled event asks every attendee but the proposer to
// respond again.
func applyProposal(stored, proposal *Event, proposer CalendarUser, now time.Time) *Event {
	out := stored.Clone()
	if proposal.Summary != "" {
		out.Summary = proposal.Summary
	}
	if proposal.Description != "" {
		out.Description = proposal.Description
	}
	if proposal.Location != "" {
		out.Location = proposal.Location
	}
	rescheduled := false
	if !proposal.Start.IsZero() && !proposal.Start.Equal(stored.Start) {
		out.Start = proposal.Start
		out.AllDay = proposal.AllDay
		rescheduled = true
	}
	if !proposal.End.IsZero() && !proposal.End.Equal(stored.End) {
		out.End = proposal.End
		rescheduled = true
	}
	out.Sequence = stored.Sequence + 1
	out.Stamp = now
	if rescheduled {
		for i := range out.Attendees {
			att := &out.Attendees[i]
			if att.Key() == proposer.Key() {
				att.PartStat = PartStatAccepted
				continue
			}
			if out.IsOrganizer(att.URI) {
				continue
			}
			att.PartStat = PartStatNeedsAction
			att.RSVP = true
		}
	}
	return out
}

func attendeeUsers(ev *Event) []CalendarUser {
	out := make([]CalendarUser, 0, len(ev.Attendees))
	for _, a := range ev.Attendees {
		if ev.IsOrganizer(a.URI) {
			continue
		}
		out = append(out, a.CalendarUser)
	}
	return out
}

package itip

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lightningnetwork/lnd/fn/v2"
	"go.uber.org/zap"

	"gitea.jw6.us/james/calsched/internal/metrics"
)

// Config wires the engine to its collaborators. Conflicts may be nil, in
// which case no conflicts are ever reported.
type Config struct {
	Store     CalendarStore
	Mutator   CalendarMutator
	Conflicts ConflictChecker
	Statuses  StatusStore
	Logger    *zap.Logger
	Now       func() time.Time
}

// Engine analyzes inbound scheduling messages and applies chosen actions.
// It keeps no state between calls; concurrent use is safe as long as the
// collaborators are. Callers serialize processing of messages that target
// the same stored resource.
type Engine struct {
	store     CalendarStore
	conflicts ConflictChecker
	statuses  StatusStore
	processor *Processor
	logger    *zap.Logger
}

// NewEngine validates cfg and builds an engine.
func NewEngine(cfg Config) (*Engine, error) {
	if cfg.Store == nil {
		return nil, errors.New("itip: calendar store is required")
	}
	if cfg.Mutator == nil {
		return nil, errors.New("itip: calendar mutator is required")
	}
	if cfg.Statuses == nil {
		return nil, errors.New("itip: status store is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		store:     cfg.Store,
		conflicts: cfg.Conflicts,
		statuses:  cfg.Statuses,
		logger:    logger,
		processor: &Processor{
			Store:    cfg.Store,
			Mutator:  cfg.Mutator,
			Statuses: cfg.Statuses,
			Now:      cfg.Now,
			Logger:   logger,
		},
	}, nil
}

// Analyze correlates msg with the owner's calendar and classifies every
// occurrence it carries. Per-occurrence problems degrade into explanatory
// changes; only invalid messages and collaborator failures are errors. A
// message whose main change needs a decision is marked
// NEEDS_USER_INTERACTION unless it already has a status.
func (e *Engine) Analyze(ctx context.Context, session Session, msg *Message) (*Analysis, error) {
	start := time.Now()
	a, err := e.analyze(ctx, session, msg)
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	method := ""
	if msg != nil {
		method = msg.Method.String()
	}
	metrics.ObserveAnalysis(method, outcome, time.Since(start))
	return a, err
}

func (e *Engine) analyze(ctx context.Context, session Session, msg *Message) (*Analysis, error) {
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	log := e.logger.With(
		zap.String("message_id", msg.ID),
		zap.String("uid", msg.UID()),
		zap.String("method", msg.Method.String()),
	)

	corr, err := Correlate(ctx, e.store, session.Owner, msg)
	if err != nil {
		return nil, err
	}
	sender := effectiveSender(msg)
	recipient := msg.Recipient
	if recipient.IsZero() {
		recipient = CalendarUser{URI: session.Owner}
	}

	changes := make([]AnalyzedChange, 0, len(msg.Occurrences))
	for _, ev := range msg.Occurrences {
		change, err := e.analyzeOccurrence(ctx, session, msg, corr, ev, sender, recipient)
		if err != nil {
			if !errors.Is(err, ErrAmbiguousCorrelation) && !errors.Is(err, ErrUnsupportedMethod) {
				return nil, err
			}
			log.Warn("occurrence not classified",
				zap.String("recurrence_id", occurrenceLabel(ev.RecurrenceID)),
				zap.Error(err),
			)
			change = Degrade(msg.Method, ev, corr.AmbiguousCandidates(), err)
		}
		changes = append(changes, change)
	}

	a := Aggregate(msg.Method, msg, changes)
	a.Owner = session.Owner
	a.CalendarID = session.CalendarID
	a.Locale = session.Locale
	a.Related = corr.Related
	a.Analyzed = corr.Base()
	if corr.Ambiguity() != nil {
		a.Analyzed = fn.None[Resource]()
	}

	status, err := e.recordAnalysis(ctx, a)
	if err != nil {
		return nil, err
	}
	a.Status = status
	log.Debug("message analyzed", zap.Int("changes", len(a.Changes)), zap.String("status", status.String()))
	return a, nil
}

func (e *Engine) analyzeOccurrence(
	ctx context.Context,
	session Session,
	msg *Message,
	corr Correlation,
	ev *Event,
	sender, recipient CalendarUser,
) (AnalyzedChange, error) {
	if err := corr.Ambiguity(); err != nil {
		return AnalyzedChange{}, err
	}

	stored, hasStored := corr.StoredOccurrence(ev.RecurrenceID)
	in := Classification{
		Method:           msg.Method,
		Incoming:         ev,
		IncomingRevision: ev.Revision(),
		Sender:           sender,
		Recipient:        recipient,
		StoredRevision:   fn.None[Sequence](),
		Master:           fn.None[*Event](),
	}

	reference := ev
	previous := fn.None[*Event]()
	comparison := ev
	if hasStored {
		reference = stored
		previous = fn.Some(stored)
		in.StoredRevision = fn.Some(stored.Revision())
		if msg.Method == MethodReply {
			comparison = mergeReply(stored, ev, sender)
			in.StoredRevision = fn.Some(replyBaseline(stored, sender.URI))
		}
	}
	in.Role = roleFor(reference, recipient)
	in.Update = Diff(previous, comparison)
	if !ev.IsMaster() {
		if master, ok := corr.StoredMaster(); ok {
			in.Master = fn.Some(master)
		}
	}

	if e.conflicts != nil && needsConflictCheck(msg.Method, ev) {
		conflicts, err := e.conflicts.ConflictsFor(ctx, session.Owner, ev)
		if err != nil {
			return AnalyzedChange{}, fmt.Errorf("conflicts for %q: %w", ev.UID, err)
		}
		in.Conflicts = conflicts
	}

	change, err := Classify(in)
	if err != nil {
		return AnalyzedChange{}, err
	}
	if corr.UsesRelated() {
		if related, ok := unwrapResource(corr.Related); ok {
			change.Annotations = append(change.Annotations, NewAnnotation(MsgReplaces, related.UID))
		}
	}
	return change, nil
}

// recordAnalysis marks decisions as waiting for the user and returns the
// message's current status.
func (e *Engine) recordAnalysis(ctx context.Context, a *Analysis) (MessageStatus, error) {
	key := MessageKey{MessageID: a.MessageID, Owner: a.Owner}
	current, err := e.statuses.Get(ctx, key)
	if err != nil {
		return "", fmt.Errorf("get status: %w", err)
	}
	main, ok := unwrapAnalyzed(a.MainChange)
	if current != StatusNone || !ok || !main.IsDecision() {
		return current, nil
	}
	swapped, err := e.statuses.CompareAndSet(ctx, key, StatusNone, StatusNeedsUserInteraction)
	if err != nil {
		return "", fmt.Errorf("set status: %w", err)
	}
	if swapped {
		return StatusNeedsUserInteraction, nil
	}
	// Lost to a concurrent writer; report what it stored.
	return e.statuses.Get(ctx, key)
}

// Process analyzes msg and applies action to the selected occurrence.
func (e *Engine) Process(ctx context.Context, session Session, msg *Message, action Action, selector fn.Option[time.Time]) (MutationResult, error) {
	a, err := e.Analyze(ctx, session, msg)
	if err != nil {
		return MutationResult{}, err
	}
	return e.Apply(ctx, a, action, selector)
}

// Apply executes action against an existing analysis. The stored resource
// is re-validated first, so a stale analysis fails with
// ErrRevalidationStale instead of overwriting newer data.
func (e *Engine) Apply(ctx context.Context, a *Analysis, action Action, selector fn.Option[time.Time]) (MutationResult, error) {
	plan, err := e.processor.Plan(a, action, selector)
	if err != nil {
		metrics.ObserveProcess(action.String(), processOutcome(err))
		return MutationResult{Action: action, Status: a.Status}, err
	}
	res, err := e.processor.Execute(ctx, plan)
	metrics.ObserveProcess(action.String(), processOutcome(err))
	return res, err
}

// Status returns the stored status of a message.
func (e *Engine) Status(ctx context.Context, key MessageKey) (MessageStatus, error) {
	return e.statuses.Get(ctx, key)
}

// ResetStatus returns a message to NONE so it can be processed again.
func (e *Engine) ResetStatus(ctx context.Context, key MessageKey) error {
	if err := e.statuses.Reset(ctx, key); err != nil {
		return fmt.Errorf("reset status %s: %w", key, err)
	}
	e.logger.Info("message status reset", zap.String("message_id", key.MessageID), zap.String("owner", key.Owner))
	return nil
}

// AnalyzeBatch analyzes several messages of one session. A failing message
// does not stop the others.
func (e *Engine) AnalyzeBatch(ctx context.Context, session Session, msgs []*Message) []fn.Result[*Analysis] {
	out := make([]fn.Result[*Analysis], 0, len(msgs))
	for _, msg := range msgs {
		a, err := e.Analyze(ctx, session, msg)
		if err != nil {
			out = append(out, fn.Err[*Analysis](err))
			continue
		}
		out = append(out, fn.Ok(a))
	}
	return out
}

// ProcessRequest is one entry of a batch process call.
type ProcessRequest struct {
	Message  *Message
	Action   Action
	Selector fn.Option[time.Time]
}

// ProcessBatch processes several messages of one session in order. A
// failing message does not stop the others.
func (e *Engine) ProcessBatch(ctx context.Context, session Session, reqs []ProcessRequest) []fn.Result[MutationResult] {
	out := make([]fn.Result[MutationResult], 0, len(reqs))
	for _, req := range reqs {
		res, err := e.Process(ctx, session, req.Message, req.Action, req.Selector)
		if err != nil {
			out = append(out, fn.Err[MutationResult](err))
			continue
		}
		out = append(out, fn.Ok(res))
	}
	return out
}

func processOutcome(err error) string {
	switch {
	case err == nil:
		return "applied"
	case errors.Is(err, ErrPreconditionViolation):
		return "precondition"
	case errors.Is(err, ErrRevalidationStale):
		return "stale"
	case errors.Is(err, ErrAlreadyProcessed), errors.Is(err, ErrStatusConflict):
		return "conflict"
	case errors.Is(err, ErrStorageMutationFailed):
		return "storage"
	}
	return "error"
}

// roleFor derives the local user's role from the organizer of ev.
func roleFor(ev *Event, me CalendarUser) Role {
	if ev.IsOrganizer(me.URI) {
		return RoleOrganizer
	}
	return RoleAttendee
}

// effectiveSender returns the message sender. Attendee-originated messages
// without a usable sender fall back to their single attendee.
func effectiveSender(msg *Message) CalendarUser {
	if !msg.Method.fromAttendee() || len(msg.Occurrences) == 0 {
		return msg.Sender
	}
	ev := msg.Occurrences[0]
	if !msg.Sender.IsZero() {
		if a, ok := ev.FindAttendee(msg.Sender.URI); ok {
			return a.CalendarUser
		}
	}
	if len(ev.Attendees) == 1 {
		return ev.Attendees[0].CalendarUser
	}
	return msg.Sender
}

// mergeReply applies the replying attendee's state to a copy of the stored
// event. Other attendees and event details stay as stored.
func mergeReply(stored, reply *Event, sender CalendarUser) *Event {
	answer, ok := reply.FindAttendee(sender.URI)
	if !ok {
		return stored.Clone()
	}
	merged := answer
	if prev, known := stored.FindAttendee(sender.URI); known {
		merged = prev
		merged.PartStat = answer.PartStat
		merged.Comment = answer.Comment
	}
	merged.RSVP = false
	merged.Sequence = reply.Sequence
	merged.Stamp = reply.Stamp
	return stored.WithAttendee(merged)
}

// replyBaseline is the revision a reply must exceed: the stored event's
// sequence, or the attendee's last merged reply when that is newer.
func replyBaseline(stored *Event, attendee string) Sequence {
	base := NewSequence(stored.Sequence, time.Time{})
	if a, ok := stored.FindAttendee(attendee); ok && a.hasRevision() {
		if rev := a.Revision(); rev.After(base) {
			return rev
		}
	}
	return base
}

// needsConflictCheck reports whether ev would occupy the owner's time.
func needsConflictCheck(method Method, ev *Event) bool {
	switch method {
	case MethodRequest, MethodAdd, MethodPublish, MethodCounter:
		return !ev.IsTransparent() && !ev.Start.IsZero()
	}
	return false
}

func unwrapAnalyzed(o fn.Option[AnalyzedChange]) (AnalyzedChange, bool) {
	if o.IsNone() {
		return AnalyzedChange{}, false
	}
	return o.UnwrapOr(AnalyzedChange{}), true
}

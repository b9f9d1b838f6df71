package httpserver

import (
	"time"

	"github.com/lightningnetwork/lnd/fn/v2"

	"gitea.jw6.us/james/calsched/internal/ical"
	"gitea.jw6.us/james/calsched/internal/itip"
)

type analysisView struct {
	MessageID        string        `json:"message_id"`
	Owner            string        `json:"owner"`
	CalendarID       string        `json:"calendar_id,omitempty"`
	Method           string        `json:"method"`
	UID              string        `json:"uid"`
	Locale           string        `json:"locale"`
	Status           string        `json:"status"`
	AnalyzedETag     string        `json:"analyzed_etag,omitempty"`
	RelatedUID       string        `json:"related_uid,omitempty"`
	TargetedAttendee *attendeeView `json:"targeted_attendee,omitempty"`
	MainChange       *changeView   `json:"main_change,omitempty"`
	Changes          []changeView  `json:"changes"`
	AutoProcessed    *autoView     `json:"auto_processed,omitempty"`
}

type autoView struct {
	Action string      `json:"action"`
	Result *resultView `json:"result,omitempty"`
	Error  string      `json:"error,omitempty"`
}

type changeView struct {
	UID              string           `json:"uid"`
	RecurrenceID     *time.Time       `json:"recurrence_id,omitempty"`
	Type             string           `json:"type,omitempty"`
	Summary          string           `json:"summary,omitempty"`
	Start            *time.Time       `json:"start,omitempty"`
	End              *time.Time       `json:"end,omitempty"`
	Actions          itip.ActionSet   `json:"actions"`
	Annotations      []annotationView `json:"annotations"`
	Conflicts        []conflictView   `json:"conflicts,omitempty"`
	TargetedAttendee *attendeeView    `json:"targeted_attendee,omitempty"`
}

type annotationView struct {
	Message     string         `json:"message"`
	Args        []any          `json:"args,omitempty"`
	Text        string         `json:"text"`
	Additionals map[string]any `json:"additionals,omitempty"`
}

type conflictView struct {
	UID     string    `json:"uid"`
	Summary string    `json:"summary,omitempty"`
	Start   time.Time `json:"start"`
	End     time.Time `json:"end"`
}

type attendeeView struct {
	URI      string `json:"uri"`
	Name     string `json:"name,omitempty"`
	PartStat string `json:"partstat,omitempty"`
	Comment  string `json:"comment,omitempty"`
}

type resultView struct {
	PlanID   string         `json:"plan_id"`
	Action   string         `json:"action"`
	Status   string         `json:"status"`
	UID      string         `json:"uid,omitempty"`
	ETag     string         `json:"etag,omitempty"`
	Deleted  bool           `json:"deleted"`
	Outgoing []outgoingView `json:"outgoing,omitempty"`
}

type outgoingView struct {
	Method     string   `json:"method"`
	Recipients []string `json:"recipients"`
	ICal       string   `json:"ical"`
}

type statusView struct {
	MessageID string `json:"message_id"`
	Status    string `json:"status"`
}

func newAnalysisView(a *itip.Analysis) analysisView {
	v := analysisView{
		MessageID:  a.MessageID,
		Owner:      a.Owner,
		CalendarID: a.CalendarID,
		Method:     a.Method.String(),
		UID:        a.UID,
		Locale:     a.Locale.String(),
		Status:     a.Status.String(),
		Changes:    make([]changeView, 0, len(a.Changes)),
	}
	if res, ok := unwrap(a.Analyzed); ok {
		v.AnalyzedETag = res.ETag
	}
	if res, ok := unwrap(a.Related); ok {
		v.RelatedUID = res.UID
	}
	if att, ok := unwrap(a.TargetedAttendee); ok {
		v.TargetedAttendee = newAttendeeView(att)
	}
	if main, ok := unwrap(a.MainChange); ok {
		cv := newChangeView(main)
		v.MainChange = &cv
	}
	for _, c := range a.Changes {
		v.Changes = append(v.Changes, newChangeView(c))
	}
	return v
}

func newChangeView(c itip.AnalyzedChange) changeView {
	v := changeView{
		UID:         c.UID,
		Actions:     c.Actions,
		Annotations: make([]annotationView, 0, len(c.Annotations)),
	}
	if rid, ok := unwrap(c.RecurrenceID); ok {
		v.RecurrenceID = &rid
	}
	if att, ok := unwrap(c.TargetedAttendee); ok {
		v.TargetedAttendee = newAttendeeView(att)
	}
	if change, ok := unwrap(c.Change); ok {
		v.Type = string(change.Type)
		if ev := change.Event(); ev != nil {
			v.Summary = ev.Summary
			v.Start = timePtr(ev.Start)
			v.End = timePtr(ev.End)
		}
		for _, conflict := range change.Conflicts {
			v.Conflicts = append(v.Conflicts, conflictView(conflict))
		}
	}
	for _, an := range c.Annotations {
		v.Annotations = append(v.Annotations, annotationView{
			Message:     an.Message,
			Args:        an.Args,
			Text:        an.Format(),
			Additionals: an.Additionals,
		})
	}
	return v
}

func newAttendeeView(a itip.Attendee) *attendeeView {
	return &attendeeView{URI: a.URI, Name: a.Name, PartStat: string(a.PartStat), Comment: a.Comment}
}

func newResultView(r itip.MutationResult) *resultView {
	v := &resultView{
		PlanID:  r.PlanID.String(),
		Action:  r.Action.String(),
		Status:  r.Status.String(),
		Deleted: r.Deleted,
	}
	if res, ok := unwrap(r.Resource); ok {
		v.UID = res.UID
		v.ETag = res.ETag
	}
	for _, out := range r.Outgoing {
		recipients := make([]string, 0, len(out.Recipients))
		for _, u := range out.Recipients {
			recipients = append(recipients, u.URI)
		}
		v.Outgoing = append(v.Outgoing, outgoingView{
			Method:     out.Method.String(),
			Recipients: recipients,
			ICal:       string(ical.EncodeMessage(out)),
		})
	}
	return v
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func unwrap[T any](o fn.Option[T]) (T, bool) {
	var zero T
	if o.IsNone() {
		return zero, false
	}
	return o.UnwrapOr(zero), true
}

package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/lightningnetwork/lnd/fn/v2"
	"golang.org/x/crypto/bcrypt"

	"gitea.jw6.us/james/calsched/internal/auth"
	"gitea.jw6.us/james/calsched/internal/config"
	"gitea.jw6.us/james/calsched/internal/itip"
)

const invitation = "BEGIN:VCALENDAR\r\n" +
	"VERSION:2.0\r\n" +
	"PRODID:-//test//test//EN\r\n" +
	"METHOD:REQUEST\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:evt-1@example.com\r\n" +
	"SEQUENCE:0\r\n" +
	"DTSTAMP:20260301T090000Z\r\n" +
	"DTSTART:20260310T100000Z\r\n" +
	"DTEND:20260310T110000Z\r\n" +
	"SUMMARY:Planning\r\n" +
	"ORGANIZER;CN=Org:mailto:org@example.com\r\n" +
	"ATTENDEE;PARTSTAT=NEEDS-ACTION;RSVP=TRUE:mailto:alice@example.com\r\n" +
	"END:VEVENT\r\n" +
	"END:VCALENDAR\r\n"

type fakeEngine struct {
	analyzed  []*itip.Message
	sessions  []itip.Session
	applied   []itip.Action
	selectors []fn.Option[time.Time]
	status    itip.MessageStatus
	reset     []itip.MessageKey
	applyErr  error
	analysis  func(msg *itip.Message) *itip.Analysis
}

func (f *fakeEngine) Analyze(_ context.Context, session itip.Session, msg *itip.Message) (*itip.Analysis, error) {
	f.analyzed = append(f.analyzed, msg)
	f.sessions = append(f.sessions, session)
	if f.analysis != nil {
		return f.analysis(msg), nil
	}
	return &itip.Analysis{
		MessageID: msg.ID,
		Owner:     session.Owner,
		Method:    msg.Method,
		UID:       msg.UID(),
		Message:   msg,
		Status:    itip.StatusNeedsUserInteraction,
		MainChange: fn.Some(itip.AnalyzedChange{
			UID:     msg.UID(),
			Actions: itip.NewActionSet(itip.ActionAccept, itip.ActionDecline, itip.ActionTentative),
		}),
	}, nil
}

func (f *fakeEngine) Apply(_ context.Context, a *itip.Analysis, action itip.Action, selector fn.Option[time.Time]) (itip.MutationResult, error) {
	f.applied = append(f.applied, action)
	f.selectors = append(f.selectors, selector)
	if f.applyErr != nil {
		return itip.MutationResult{}, f.applyErr
	}
	return itip.MutationResult{PlanID: uuid.New(), Action: action, Status: itip.StatusApplied}, nil
}

func (f *fakeEngine) Status(_ context.Context, key itip.MessageKey) (itip.MessageStatus, error) {
	return f.status, nil
}

func (f *fakeEngine) ResetStatus(_ context.Context, key itip.MessageKey) error {
	f.reset = append(f.reset, key)
	return nil
}

type fixedPolicy struct {
	action itip.Action
	allow  bool
}

func (p fixedPolicy) Decide(*itip.Analysis) (itip.Action, bool) { return p.action, p.allow }

type healthFunc func(ctx context.Context) error

func (f healthFunc) HealthCheck(ctx context.Context) error { return f(ctx) }

func newTestRouter(t *testing.T, engine *fakeEngine, policy AutoProcessor, health HealthChecker) http.Handler {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	cfg := &config.Config{DefaultLocale: "de"}
	return NewRouter(cfg, Deps{
		Engine: engine,
		Policy: policy,
		Auth:   auth.NewService(map[string]string{"alice@example.com": string(hash)}),
		Health: health,
	})
}

func authed(req *http.Request) *http.Request {
	req.Header.Set("Authorization", "Bearer alice@example.com:s3cret")
	return req
}

func TestAnalyzeParsesAndDefaults(t *testing.T) {
	engine := &fakeEngine{}
	router := newTestRouter(t, engine, nil, nil)

	req := authed(httptest.NewRequest(http.MethodPost, "/api/v1/itip/analyze?locale=fr", strings.NewReader(invitation)))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rr.Code, rr.Body.String())
	}
	if len(engine.analyzed) != 1 {
		t.Fatalf("expected one analysis, got %d", len(engine.analyzed))
	}
	msg := engine.analyzed[0]
	if len(msg.ID) != 64 {
		t.Errorf("expected body hash as message id, got %q", msg.ID)
	}
	if msg.Recipient.URI != "alice@example.com" {
		t.Errorf("recipient = %q", msg.Recipient.URI)
	}
	if msg.Sender.URI != "mailto:org@example.com" {
		t.Errorf("sender = %q", msg.Sender.URI)
	}
	session := engine.sessions[0]
	if session.CalendarID != defaultCalendarID || session.Locale.String() != "fr" {
		t.Errorf("unexpected session %+v", session)
	}

	var view analysisView
	if err := json.Unmarshal(rr.Body.Bytes(), &view); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if view.Status != string(itip.StatusNeedsUserInteraction) || view.MainChange == nil {
		t.Fatalf("unexpected view %+v", view)
	}
	if view.AutoProcessed != nil {
		t.Fatalf("no policy configured, nothing should be auto processed")
	}
}

func TestAnalyzeAutoProcesses(t *testing.T) {
	engine := &fakeEngine{}
	router := newTestRouter(t, engine, fixedPolicy{action: itip.ActionApplyChange, allow: true}, nil)

	req := authed(httptest.NewRequest(http.MethodPost, "/api/v1/itip/analyze", strings.NewReader(invitation)))
	req.Header.Set(headerMessageID, "msg-1")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if len(engine.applied) != 1 || engine.applied[0] != itip.ActionApplyChange {
		t.Fatalf("applied = %v", engine.applied)
	}
	var view analysisView
	if err := json.Unmarshal(rr.Body.Bytes(), &view); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if view.MessageID != "msg-1" || view.Status != string(itip.StatusApplied) {
		t.Fatalf("unexpected view %+v", view)
	}
	if view.AutoProcessed == nil || view.AutoProcessed.Result == nil {
		t.Fatalf("expected auto processing result")
	}
}

func TestProcessMapsPrecondition(t *testing.T) {
	engine := &fakeEngine{applyErr: &itip.PreconditionError{Action: itip.ActionApplyRemove}}
	router := newTestRouter(t, engine, nil, nil)

	req := authed(httptest.NewRequest(http.MethodPost, "/api/v1/itip/process?action=apply_remove&recurrence-id=20260310T100000Z", strings.NewReader(invitation)))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusConflict {
		t.Fatalf("status = %d", rr.Code)
	}
	rid, ok := unwrap(engine.selectors[0])
	if !ok || !rid.Equal(time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)) {
		t.Fatalf("selector = %v", engine.selectors[0])
	}
}

func TestProcessRejectsBadInput(t *testing.T) {
	router := newTestRouter(t, &fakeEngine{}, nil, nil)

	tests := []struct {
		name   string
		target string
		body   string
		status int
	}{
		{name: "unknown action", target: "/api/v1/itip/process?action=FLY", body: invitation, status: http.StatusBadRequest},
		{name: "bad recurrence id", target: "/api/v1/itip/process?action=ACCEPT&recurrence-id=soon", body: invitation, status: http.StatusBadRequest},
		{name: "not a calendar", target: "/api/v1/itip/process?action=ACCEPT", body: "hello", status: http.StatusBadRequest},
		{name: "empty body", target: "/api/v1/itip/process?action=ACCEPT", body: "", status: http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := authed(httptest.NewRequest(http.MethodPost, tt.target, strings.NewReader(tt.body)))
			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, req)
			if rr.Code != tt.status {
				t.Fatalf("status = %d, want %d", rr.Code, tt.status)
			}
		})
	}
}

func TestStatusRoutes(t *testing.T) {
	engine := &fakeEngine{status: itip.StatusIgnored}
	router := newTestRouter(t, engine, nil, nil)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, authed(httptest.NewRequest(http.MethodGet, "/api/v1/itip/messages/msg-9/status", nil)))
	if rr.Code != http.StatusOK {
		t.Fatalf("get status = %d", rr.Code)
	}
	var view statusView
	if err := json.Unmarshal(rr.Body.Bytes(), &view); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if view.MessageID != "msg-9" || view.Status != "IGNORED" {
		t.Fatalf("unexpected view %+v", view)
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, authed(httptest.NewRequest(http.MethodDelete, "/api/v1/itip/messages/msg-9/status", nil)))
	if rr.Code != http.StatusNoContent {
		t.Fatalf("reset status = %d", rr.Code)
	}
	want := itip.MessageKey{MessageID: "msg-9", Owner: "alice@example.com"}
	if len(engine.reset) != 1 || engine.reset[0] != want {
		t.Fatalf("reset = %v", engine.reset)
	}
}

func TestAPIRequiresToken(t *testing.T) {
	router := newTestRouter(t, &fakeEngine{}, nil, nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/v1/itip/analyze", strings.NewReader(invitation)))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d", rr.Code)
	}
}

func TestReadyz(t *testing.T) {
	healthy := newTestRouter(t, &fakeEngine{}, nil, healthFunc(func(context.Context) error { return nil }))
	rr := httptest.NewRecorder()
	healthy.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("readyz = %d", rr.Code)
	}

	down := newTestRouter(t, &fakeEngine{}, nil, healthFunc(func(context.Context) error { return errors.New("db down") }))
	rr = httptest.NewRecorder()
	down.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("readyz = %d", rr.Code)
	}
}

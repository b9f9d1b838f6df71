package httpserver

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/lightningnetwork/lnd/fn/v2"
	"go.uber.org/zap"
	"golang.org/x/text/language"

	"gitea.jw6.us/james/calsched/internal/auth"
	httperrors "gitea.jw6.us/james/calsched/internal/http/errors"
	"gitea.jw6.us/james/calsched/internal/ical"
	"gitea.jw6.us/james/calsched/internal/itip"
	"gitea.jw6.us/james/calsched/internal/metrics"
)

// defaultCalendarID receives new events when the caller names no calendar.
const defaultCalendarID = "default"

// maxMessageBytes caps the size of an uploaded scheduling message.
const maxMessageBytes = 1 << 20

const (
	headerMessageID = "X-Itip-Message-Id"
	headerSender    = "X-Itip-Sender"
	headerRecipient = "X-Itip-Recipient"
)

// Engine is the part of itip.Engine the HTTP layer drives.
type Engine interface {
	Analyze(ctx context.Context, session itip.Session, msg *itip.Message) (*itip.Analysis, error)
	Apply(ctx context.Context, a *itip.Analysis, action itip.Action, selector fn.Option[time.Time]) (itip.MutationResult, error)
	Status(ctx context.Context, key itip.MessageKey) (itip.MessageStatus, error)
	ResetStatus(ctx context.Context, key itip.MessageKey) error
}

// AutoProcessor decides whether an analysis is applied without the user.
type AutoProcessor interface {
	Decide(a *itip.Analysis) (itip.Action, bool)
}

type itipHandler struct {
	engine        Engine
	policy        AutoProcessor
	logger        *zap.Logger
	defaultLocale language.Tag
}

// Analyze parses the posted message, analyzes it and, when the policy
// allows, applies the automatable action right away.
func (h *itipHandler) Analyze(w http.ResponseWriter, r *http.Request) {
	session, msg, ok := h.readMessage(w, r)
	if !ok {
		return
	}
	a, err := h.engine.Analyze(r.Context(), session, msg)
	if err != nil {
		httperrors.Write(w, r, h.logger, err)
		return
	}

	view := newAnalysisView(a)
	if h.policy != nil {
		action, allowed := h.policy.Decide(a)
		metrics.ObserveAutoProcess(allowed)
		if allowed {
			auto := &autoView{Action: action.String()}
			res, err := h.engine.Apply(r.Context(), a, action, fn.None[time.Time]())
			if err != nil {
				h.logger.Warn("auto processing failed",
					zap.String("message_id", a.MessageID),
					zap.String("action", action.String()),
					zap.Error(err),
				)
				auto.Error = err.Error()
			} else {
				auto.Result = newResultView(res)
				view.Status = res.Status.String()
			}
			view.AutoProcessed = auto
		}
	}
	writeJSON(w, http.StatusOK, view)
}

// Process analyzes the posted message again and applies the chosen action.
func (h *itipHandler) Process(w http.ResponseWriter, r *http.Request) {
	action, ok := itip.ParseAction(strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("action"))))
	if !ok {
		httperrors.BadRequestError(w, r, h.logger, fmt.Errorf("unknown action %q", r.URL.Query().Get("action")), "unknown or missing action")
		return
	}
	selector := fn.None[time.Time]()
	if rid := r.URL.Query().Get("recurrence-id"); rid != "" {
		t, err := ical.ParseTime(rid)
		if err != nil {
			httperrors.BadRequestError(w, r, h.logger, err, "invalid recurrence-id")
			return
		}
		selector = fn.Some(t)
	}

	session, msg, ok := h.readMessage(w, r)
	if !ok {
		return
	}
	a, err := h.engine.Analyze(r.Context(), session, msg)
	if err != nil {
		httperrors.Write(w, r, h.logger, err)
		return
	}
	res, err := h.engine.Apply(r.Context(), a, action, selector)
	if err != nil {
		httperrors.Write(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, newResultView(res))
}

// GetStatus reports the stored status of a message.
func (h *itipHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	key, ok := h.messageKey(w, r)
	if !ok {
		return
	}
	status, err := h.engine.Status(r.Context(), key)
	if err != nil {
		httperrors.Write(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, statusView{MessageID: key.MessageID, Status: status.String()})
}

// ResetStatus returns a message to NONE.
func (h *itipHandler) ResetStatus(w http.ResponseWriter, r *http.Request) {
	key, ok := h.messageKey(w, r)
	if !ok {
		return
	}
	if err := h.engine.ResetStatus(r.Context(), key); err != nil {
		httperrors.Write(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *itipHandler) messageKey(w http.ResponseWriter, r *http.Request) (itip.MessageKey, bool) {
	owner, ok := auth.OwnerFromContext(r.Context())
	if !ok {
		http.Error(w, "authentication required", http.StatusUnauthorized)
		return itip.MessageKey{}, false
	}
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if id == "" {
		http.Error(w, "missing message id", http.StatusBadRequest)
		return itip.MessageKey{}, false
	}
	return itip.MessageKey{MessageID: id, Owner: owner}, true
}

func (h *itipHandler) readMessage(w http.ResponseWriter, r *http.Request) (itip.Session, *itip.Message, bool) {
	owner, ok := auth.OwnerFromContext(r.Context())
	if !ok {
		http.Error(w, "authentication required", http.StatusUnauthorized)
		return itip.Session{}, nil, false
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxMessageBytes+1))
	if err != nil {
		httperrors.BadRequestError(w, r, h.logger, err, "failed to read body")
		return itip.Session{}, nil, false
	}
	if len(body) > maxMessageBytes {
		http.Error(w, "message too large", http.StatusRequestEntityTooLarge)
		return itip.Session{}, nil, false
	}
	if len(body) == 0 {
		httperrors.BadRequestError(w, r, h.logger, fmt.Errorf("empty body"), "empty message")
		return itip.Session{}, nil, false
	}

	env := ical.Envelope{
		ID:        strings.TrimSpace(r.Header.Get(headerMessageID)),
		Sender:    itip.CalendarUser{URI: strings.TrimSpace(r.Header.Get(headerSender))},
		Recipient: itip.CalendarUser{URI: strings.TrimSpace(r.Header.Get(headerRecipient))},
	}
	if env.ID == "" {
		sum := sha256.Sum256(body)
		env.ID = hex.EncodeToString(sum[:])
	}
	if env.Recipient.URI == "" {
		env.Recipient.URI = owner
	}

	msg, err := ical.ParseMessage(body, env)
	if err != nil {
		httperrors.Write(w, r, h.logger, err)
		return itip.Session{}, nil, false
	}

	calendarID := strings.TrimSpace(r.URL.Query().Get("calendar"))
	if calendarID == "" {
		calendarID = defaultCalendarID
	}
	session := itip.Session{
		Owner:      owner,
		CalendarID: calendarID,
		Locale:     itip.ParseLocale(r.URL.Query().Get("locale"), h.defaultLocale),
	}
	return session, msg, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

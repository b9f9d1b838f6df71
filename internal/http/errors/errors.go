package errors

import (
	stderrors "errors"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"gitea.jw6.us/james/calsched/internal/itip"
	"gitea.jw6.us/james/calsched/internal/store"
)

// StatusFor maps an engine or store error onto an HTTP status code.
func StatusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case stderrors.Is(err, itip.ErrInvalidMessage):
		return http.StatusBadRequest
	case stderrors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case stderrors.Is(err, itip.ErrPreconditionViolation),
		stderrors.Is(err, itip.ErrRevalidationStale),
		stderrors.Is(err, itip.ErrAlreadyProcessed),
		stderrors.Is(err, itip.ErrStatusConflict),
		stderrors.Is(err, itip.ErrConcurrentModification):
		return http.StatusConflict
	case stderrors.Is(err, itip.ErrStorageMutationFailed):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// clientMessage is the text returned for a status. Client errors carry the
// error text; server errors never do.
func clientMessage(status int, err error) string {
	switch status {
	case http.StatusBadRequest, http.StatusConflict, http.StatusNotFound:
		return err.Error()
	case http.StatusBadGateway:
		return "calendar store rejected the change"
	}
	return "internal server error"
}

// Write logs err with the request id and answers with the mapped status.
func Write(w http.ResponseWriter, r *http.Request, logger *zap.Logger, err error) {
	status := StatusFor(err)
	fields := []zap.Field{zap.Int("status", status), zap.Error(err)}
	if requestID := middleware.GetReqID(r.Context()); requestID != "" {
		fields = append(fields, zap.String("request_id", requestID))
	}
	if status >= http.StatusInternalServerError {
		logger.Error("request failed", fields...)
	} else {
		logger.Warn("request rejected", fields...)
	}
	http.Error(w, clientMessage(status, err), status)
}

// BadRequestError logs err and answers 400 with clientMessage.
func BadRequestError(w http.ResponseWriter, r *http.Request, logger *zap.Logger, err error, clientMessage string) {
	fields := []zap.Field{zap.Error(err)}
	if requestID := middleware.GetReqID(r.Context()); requestID != "" {
		fields = append(fields, zap.String("request_id", requestID))
	}
	logger.Warn("bad request", fields...)
	http.Error(w, clientMessage, http.StatusBadRequest)
}

package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/capitalize-ai/support-platform/internal/escalation"
	"github.com/capitalize-ai/support-platform/internal/middleware"
	"github.com/capitalize-ai/support-platform/internal/service"
	"github.com/capitalize-ai/support-platform/pkg/logger"
)

const maxBodyBytes = 64 << 10

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{
		"error": message,
	})
}

// decodeJSON reads a bounded JSON request body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v)
	if err == nil {
		return true
	}
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
	case errors.Is(err, io.EOF):
		writeError(w, http.StatusBadRequest, "request body is empty")
	default:
		writeError(w, http.StatusBadRequest, "invalid request body")
	}
	return false
}

// statusFor maps service and domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrConversationNotFound),
		errors.Is(err, service.ErrChatSessionNotFound),
		errors.Is(err, service.ErrTicketNotFound),
		errors.Is(err, escalation.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrInvalidMessage),
		errors.Is(err, service.ErrInvalidSender),
		errors.Is(err, service.ErrInvalidStatus),
		errors.Is(err, service.ErrInvalidCustomer),
		errors.Is(err, service.ErrInvalidAgent),
		errors.Is(err, service.ErrInvalidPhraseContext),
		errors.Is(err, service.ErrSessionSuggestionsOff),
		errors.Is(err, service.ErrAutoCompleteOff):
		return http.StatusBadRequest
	case errors.Is(err, escalation.ErrInvalidTransition),
		errors.Is(err, escalation.ErrSessionClosed),
		errors.Is(err, service.ErrStaleSession):
		return http.StatusConflict
	case errors.Is(err, service.ErrSuggestionsDisabled):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeServiceError writes err with its mapped status. Unexpected errors are
// logged and hidden from the caller.
func writeServiceError(w http.ResponseWriter, r *http.Request, log *logger.Logger, op string, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		log.Error(op+" failed",
			zap.String("correlation_id", middleware.GetCorrelationID(r.Context())),
			zap.Error(err),
		)
		writeError(w, status, op+" failed")
		return
	}
	writeError(w, status, err.Error())
}

// validID checks a UUID path parameter and writes 400 when it is malformed.
func validID(w http.ResponseWriter, id string) bool {
	if err := middleware.ValidateID(id); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return false
	}
	return true
}

func queryInt(r *http.Request, key string, def int) int {
	if v := r.URL.Query().Get(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			return n
		}
	}
	return def
}

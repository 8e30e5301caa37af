// Package handler provides HTTP handlers for the API.
package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/capitalize-ai/support-platform/internal/middleware"
	"github.com/capitalize-ai/support-platform/internal/model"
	"github.com/capitalize-ai/support-platform/internal/service"
	"github.com/capitalize-ai/support-platform/pkg/logger"
)

// EventHistory reads a conversation's past events from the event log.
type EventHistory interface {
	GetEvents(ctx context.Context, clientID, conversationID string, afterSequence uint64, limit int) ([]model.ConversationEvent, uint64, bool, error)
}

// ConversationHandler handles agent conversation endpoints.
type ConversationHandler struct {
	service *service.ConversationService
	history EventHistory
	logger  *logger.Logger
}

// NewConversationHandler creates a new conversation handler. history may be nil.
func NewConversationHandler(svc *service.ConversationService, history EventHistory, log *logger.Logger) *ConversationHandler {
	return &ConversationHandler{
		service: svc,
		history: history,
		logger:  log,
	}
}

// List handles GET /api/v1/conversations
func (h *ConversationHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	limit := queryInt(r, "limit", 20)
	offset := queryInt(r, "offset", 0)

	resp, err := h.service.List(ctx, middleware.GetClientID(ctx), limit, offset)
	if err != nil {
		writeServiceError(w, r, h.logger, "list conversations", err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// Get handles GET /api/v1/conversations/{id}
func (h *ConversationHandler) Get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	conversationID := chi.URLParam(r, "id")
	if !validID(w, conversationID) {
		return
	}

	conv, err := h.service.Get(ctx, middleware.GetClientID(ctx), conversationID)
	if err != nil {
		writeServiceError(w, r, h.logger, "get conversation", err)
		return
	}

	writeJSON(w, http.StatusOK, conv)
}

// History handles GET /api/v1/conversations/{id}/history
func (h *ConversationHandler) History(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	conversationID := chi.URLParam(r, "id")
	if !validID(w, conversationID) {
		return
	}

	resp, err := h.service.History(ctx, middleware.GetClientID(ctx), conversationID)
	if err != nil {
		writeServiceError(w, r, h.logger, "get conversation history", err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// SessionSummary handles GET /api/v1/conversations/{id}/session-summary
func (h *ConversationHandler) SessionSummary(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	conversationID := chi.URLParam(r, "id")
	if !validID(w, conversationID) {
		return
	}

	resp, err := h.service.SessionSummary(ctx, middleware.GetClientID(ctx), conversationID)
	if err != nil {
		writeServiceError(w, r, h.logger, "get session summary", err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// UpdateStatus handles PUT /api/v1/conversations/{id}/status
func (h *ConversationHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	conversationID := chi.URLParam(r, "id")
	if !validID(w, conversationID) {
		return
	}

	var req model.UpdateConversationStatusRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	conv, err := h.service.UpdateStatus(ctx, middleware.GetClientID(ctx), conversationID, req.Status)
	if err != nil {
		writeServiceError(w, r, h.logger, "update conversation status", err)
		return
	}

	writeJSON(w, http.StatusOK, conv)
}

// EventsResponse is a page of conversation events.
type EventsResponse struct {
	Events       []model.ConversationEvent `json:"events"`
	LastSequence uint64                    `json:"last_sequence"`
	HasMore      bool                      `json:"has_more"`
}

// Events handles GET /api/v1/conversations/{id}/events
// Supports ?after_sequence=N&limit=M for paging through the event log.
func (h *ConversationHandler) Events(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	clientID := middleware.GetClientID(ctx)
	conversationID := chi.URLParam(r, "id")
	if !validID(w, conversationID) {
		return
	}

	if h.history == nil {
		writeError(w, http.StatusServiceUnavailable, "event log is not enabled")
		return
	}

	if _, err := h.service.Get(ctx, clientID, conversationID); err != nil {
		writeServiceError(w, r, h.logger, "get conversation", err)
		return
	}

	var after uint64
	if v := r.URL.Query().Get("after_sequence"); v != "" {
		if parsed, err := strconv.ParseUint(v, 10, 64); err == nil {
			after = parsed
		}
	}
	limit := queryInt(r, "limit", 50)
	if limit <= 0 || limit > 100 {
		limit = 50
	}

	events, last, more, err := h.history.GetEvents(ctx, clientID, conversationID, after, limit)
	if err != nil {
		writeServiceError(w, r, h.logger, "read events", err)
		return
	}
	if events == nil {
		events = []model.ConversationEvent{}
	}

	writeJSON(w, http.StatusOK, &EventsResponse{Events: events, LastSequence: last, HasMore: more})
}

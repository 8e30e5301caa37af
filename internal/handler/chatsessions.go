package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/capitalize-ai/support-platform/internal/middleware"
	"github.com/capitalize-ai/support-platform/internal/model"
	"github.com/capitalize-ai/support-platform/internal/service"
	"github.com/capitalize-ai/support-platform/pkg/logger"
)

// ChatSessionHandler handles agent chat session endpoints.
type ChatSessionHandler struct {
	service *service.ChatSessionService
	logger  *logger.Logger
}

// NewChatSessionHandler creates a new chat session handler.
func NewChatSessionHandler(svc *service.ChatSessionService, log *logger.Logger) *ChatSessionHandler {
	return &ChatSessionHandler{
		service: svc,
		logger:  log,
	}
}

// Open handles POST /api/v1/chat-sessions
func (h *ChatSessionHandler) Open(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req model.OpenChatSessionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if !validID(w, req.ConversationID) {
		return
	}

	cs, err := h.service.Open(ctx, middleware.GetClientID(ctx), middleware.GetAgentID(ctx), &req)
	if err != nil {
		writeServiceError(w, r, h.logger, "open chat session", err)
		return
	}

	writeJSON(w, http.StatusCreated, cs)
}

// Get handles GET /api/v1/chat-sessions/{id}
func (h *ChatSessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	h.apply(w, r, "get chat session", h.service.Get)
}

// Hold handles POST /api/v1/chat-sessions/{id}/hold
func (h *ChatSessionHandler) Hold(w http.ResponseWriter, r *http.Request) {
	h.apply(w, r, "hold chat session", h.service.Hold)
}

// Resume handles POST /api/v1/chat-sessions/{id}/resume
func (h *ChatSessionHandler) Resume(w http.ResponseWriter, r *http.Request) {
	h.apply(w, r, "resume chat session", h.service.Resume)
}

// Close handles POST /api/v1/chat-sessions/{id}/close
// The body is optional and may carry closing notes.
func (h *ChatSessionHandler) Close(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")
	if !validID(w, id) {
		return
	}

	var req model.CloseChatSessionRequest
	if r.ContentLength != 0 && !decodeJSON(w, r, &req) {
		return
	}

	cs, err := h.service.Close(ctx, middleware.GetClientID(ctx), middleware.GetAgentID(ctx), id, &req)
	if err != nil {
		writeServiceError(w, r, h.logger, "close chat session", err)
		return
	}

	writeJSON(w, http.StatusOK, cs)
}

// Active handles GET /api/v1/chat-sessions/agent/{agentID}/active
func (h *ChatSessionHandler) Active(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	resp, err := h.service.ListActive(ctx, middleware.GetClientID(ctx), chi.URLParam(r, "agentID"))
	if err != nil {
		writeServiceError(w, r, h.logger, "list active chat sessions", err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

func (h *ChatSessionHandler) apply(
	w http.ResponseWriter,
	r *http.Request,
	op string,
	fn func(ctx context.Context, clientID, id string) (*model.ChatSession, error),
) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")
	if !validID(w, id) {
		return
	}

	cs, err := fn(ctx, middleware.GetClientID(ctx), id)
	if err != nil {
		writeServiceError(w, r, h.logger, op, err)
		return
	}

	writeJSON(w, http.StatusOK, cs)
}

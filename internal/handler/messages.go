package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/capitalize-ai/support-platform/internal/middleware"
	"github.com/capitalize-ai/support-platform/internal/model"
	"github.com/capitalize-ai/support-platform/internal/service"
	"github.com/capitalize-ai/support-platform/internal/session"
	"github.com/capitalize-ai/support-platform/pkg/logger"
)

// MessageHandler handles agent message endpoints.
type MessageHandler struct {
	messageService *service.MessageService
	logger         *logger.Logger
}

// NewMessageHandler creates a new message handler.
func NewMessageHandler(msgSvc *service.MessageService, log *logger.Logger) *MessageHandler {
	return &MessageHandler{
		messageService: msgSvc,
		logger:         log,
	}
}

// List handles GET /api/v1/conversations/{id}/messages
// Agents see the full history, including earlier sessions of the customer.
func (h *MessageHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	conversationID := chi.URLParam(r, "id")
	if !validID(w, conversationID) {
		return
	}

	resp, err := h.messageService.List(ctx, middleware.GetClientID(ctx), conversationID, session.Viewer{Role: model.ViewerAgent})
	if err != nil {
		writeServiceError(w, r, h.logger, "list messages", err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// Send handles POST /api/v1/conversations/{id}/messages
func (h *MessageHandler) Send(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	conversationID := chi.URLParam(r, "id")
	if !validID(w, conversationID) {
		return
	}

	var req model.SendMessageRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := middleware.ValidateMessageContent(req.Content); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	sender := service.Sender{Type: model.SenderAgent, ID: middleware.GetAgentID(ctx)}
	resp, err := h.messageService.Send(ctx, middleware.GetClientID(ctx), conversationID, sender, &req)
	if err != nil {
		writeServiceError(w, r, h.logger, "send message", err)
		return
	}

	writeJSON(w, http.StatusCreated, resp)
}

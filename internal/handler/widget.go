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

// WidgetHandler serves the unauthenticated customer chat widget.
type WidgetHandler struct {
	conversations *service.ConversationService
	messages      *service.MessageService
	logger        *logger.Logger
}

// NewWidgetHandler creates a new widget handler.
func NewWidgetHandler(convSvc *service.ConversationService, msgSvc *service.MessageService, log *logger.Logger) *WidgetHandler {
	return &WidgetHandler{
		conversations: convSvc,
		messages:      msgSvc,
		logger:        log,
	}
}

// clientID reads and validates the {clientID} path parameter.
func (h *WidgetHandler) clientID(w http.ResponseWriter, r *http.Request) (string, bool) {
	clientID := chi.URLParam(r, "clientID")
	if err := middleware.ValidateClientID(clientID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return "", false
	}
	middleware.SetClientID(r.Context(), clientID)
	return clientID, true
}

func sessionToken(r *http.Request) string {
	if sid := r.Header.Get(middleware.SessionHeader); sid != "" {
		return sid
	}
	return r.URL.Query().Get("session_id")
}

// Start handles POST /api/v1/widget/{clientID}/conversations
// Returns 201 when a new session was opened and 200 when the current one resumed.
func (h *WidgetHandler) Start(w http.ResponseWriter, r *http.Request) {
	clientID, ok := h.clientID(w, r)
	if !ok {
		return
	}

	var req model.StartConversationRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := middleware.ValidateEmail(req.CustomerEmail); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := middleware.ValidateCustomerName(req.CustomerName); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	resp, err := h.conversations.Start(r.Context(), clientID, &req)
	if err != nil {
		writeServiceError(w, r, h.logger, "start conversation", err)
		return
	}

	status := http.StatusOK
	if resp.IsNewSession {
		status = http.StatusCreated
	}
	writeJSON(w, status, resp)
}

// ListMessages handles GET /api/v1/widget/{clientID}/conversations/{id}/messages
// The customer sees only the messages of their session token, or the recent
// window when no token is sent.
func (h *WidgetHandler) ListMessages(w http.ResponseWriter, r *http.Request) {
	clientID, ok := h.clientID(w, r)
	if !ok {
		return
	}
	conversationID := chi.URLParam(r, "id")
	if !validID(w, conversationID) {
		return
	}

	viewer := session.Viewer{Role: model.ViewerCustomer, SessionID: sessionToken(r)}
	resp, err := h.messages.List(r.Context(), clientID, conversationID, viewer)
	if err != nil {
		writeServiceError(w, r, h.logger, "list messages", err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// SendMessage handles POST /api/v1/widget/{clientID}/conversations/{id}/messages
func (h *WidgetHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	clientID, ok := h.clientID(w, r)
	if !ok {
		return
	}
	conversationID := chi.URLParam(r, "id")
	if !validID(w, conversationID) {
		return
	}

	sid := sessionToken(r)
	if sid == "" {
		writeError(w, http.StatusBadRequest, "session id is required")
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

	conv, err := h.conversations.Get(ctx, clientID, conversationID)
	if err != nil {
		writeServiceError(w, r, h.logger, "get conversation", err)
		return
	}

	ctx = session.WithSession(ctx, session.Session{ID: sid, ConversationID: conv.ID})
	sender := service.Sender{Type: model.SenderCustomer, ID: conv.CustomerEmail}
	resp, err := h.messages.Send(ctx, clientID, conversationID, sender, &req)
	if err != nil {
		writeServiceError(w, r, h.logger, "send message", err)
		return
	}

	writeJSON(w, http.StatusCreated, resp)
}

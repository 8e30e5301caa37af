package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/capitalize-ai/support-platform/internal/middleware"
	"github.com/capitalize-ai/support-platform/internal/model"
	"github.com/capitalize-ai/support-platform/internal/service"
	"github.com/capitalize-ai/support-platform/pkg/logger"
)

// SuggestionHandler drafts agent replies.
type SuggestionHandler struct {
	service *service.SuggestionService
	logger  *logger.Logger
}

// NewSuggestionHandler creates a new suggestion handler.
func NewSuggestionHandler(svc *service.SuggestionService, log *logger.Logger) *SuggestionHandler {
	return &SuggestionHandler{
		service: svc,
		logger:  log,
	}
}

// Suggest handles POST /api/v1/conversations/{id}/suggestions
func (h *SuggestionHandler) Suggest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	conversationID := chi.URLParam(r, "id")
	if !validID(w, conversationID) {
		return
	}

	suggestion, err := h.service.Suggest(ctx, middleware.GetClientID(ctx), conversationID)
	if err != nil {
		writeServiceError(w, r, h.logger, "suggest reply", err)
		return
	}

	writeJSON(w, http.StatusOK, suggestion)
}

// Summarize handles POST /api/v1/conversations/{id}/summary
func (h *SuggestionHandler) Summarize(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	conversationID := chi.URLParam(r, "id")
	if !validID(w, conversationID) {
		return
	}

	summary, err := h.service.Summarize(ctx, middleware.GetClientID(ctx), conversationID)
	if err != nil {
		writeServiceError(w, r, h.logger, "summarize conversation", err)
		return
	}

	writeJSON(w, http.StatusOK, summary)
}

// AutoComplete handles POST /api/v1/chat-sessions/{id}/auto-complete
func (h *SuggestionHandler) AutoComplete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	chatSessionID := chi.URLParam(r, "id")
	if !validID(w, chatSessionID) {
		return
	}

	var req model.AutoCompleteRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	resp, err := h.service.AutoComplete(ctx, middleware.GetClientID(ctx), chatSessionID, &req)
	if err != nil {
		writeServiceError(w, r, h.logger, "auto-complete", err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// CommonPhrases handles GET /api/v1/chat-sessions/{id}/common-phrases
func (h *SuggestionHandler) CommonPhrases(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	chatSessionID := chi.URLParam(r, "id")
	if !validID(w, chatSessionID) {
		return
	}

	phraseCtx := model.PhraseContext(r.URL.Query().Get("context"))
	resp, err := h.service.CommonPhrases(ctx, middleware.GetClientID(ctx), chatSessionID, phraseCtx)
	if err != nil {
		writeServiceError(w, r, h.logger, "get common phrases", err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

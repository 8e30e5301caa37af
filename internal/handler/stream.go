package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/capitalize-ai/support-platform/internal/middleware"
	"github.com/capitalize-ai/support-platform/internal/model"
	"github.com/capitalize-ai/support-platform/internal/nats"
	"github.com/capitalize-ai/support-platform/internal/service"
	"github.com/capitalize-ai/support-platform/internal/session"
	"github.com/capitalize-ai/support-platform/pkg/logger"
	"github.com/capitalize-ai/support-platform/pkg/metrics"
)

// DefaultHeartbeat is the SSE keep-alive interval.
const DefaultHeartbeat = 30 * time.Second

// liveBuffer bounds entries queued for a slow SSE client.
const liveBuffer = 64

// Watcher delivers new records of a conversation as they are published.
type Watcher interface {
	Watch(ctx context.Context, clientID, conversationID string, handle func(nats.Entry)) (func(), error)
}

// StreamHandler handles SSE streaming endpoints.
type StreamHandler struct {
	messages    *service.MessageService
	suggestions *service.SuggestionService
	watcher     Watcher
	heartbeat   time.Duration
	logger      *logger.Logger
}

// NewStreamHandler creates a new stream handler. watcher may be nil, in which
// case live tails are unavailable.
func NewStreamHandler(
	msgSvc *service.MessageService,
	sugSvc *service.SuggestionService,
	watcher Watcher,
	heartbeat time.Duration,
	log *logger.Logger,
) *StreamHandler {
	if heartbeat <= 0 {
		heartbeat = DefaultHeartbeat
	}
	return &StreamHandler{
		messages:    msgSvc,
		suggestions: sugSvc,
		watcher:     watcher,
		heartbeat:   heartbeat,
		logger:      log,
	}
}

// ReplayCompleteEvent marks the end of the history sent before live entries.
type ReplayCompleteEvent struct {
	MessageCount int `json:"message_count"`
}

// Stream handles GET /api/v1/conversations/{id}/stream
// It replays the agent view of the transcript, then tails new messages and
// events until the client disconnects.
func (h *StreamHandler) Stream(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	clientID := middleware.GetClientID(ctx)
	conversationID := chi.URLParam(r, "id")
	if !validID(w, conversationID) {
		return
	}

	if h.watcher == nil {
		writeError(w, http.StatusServiceUnavailable, "live streaming is not enabled")
		return
	}

	// Subscribe before replaying so nothing published in between is lost.
	entries := make(chan nats.Entry, liveBuffer)
	stop, err := h.watcher.Watch(ctx, clientID, conversationID, func(e nats.Entry) {
		select {
		case entries <- e:
		default:
			h.logger.Warn("dropping stream entry for slow client",
				zap.String("conversation_id", conversationID),
				zap.Uint64("sequence", e.Sequence),
			)
		}
	})
	if err != nil {
		writeServiceError(w, r, h.logger, "watch conversation", err)
		return
	}
	defer stop()

	history, err := h.messages.List(ctx, clientID, conversationID, session.Viewer{Role: model.ViewerAgent})
	if err != nil {
		writeServiceError(w, r, h.logger, "list messages", err)
		return
	}

	flusher, ok := startSSE(w)
	if !ok {
		return
	}

	metrics.IncrementSSEConnections()
	defer metrics.DecrementSSEConnections()

	log := h.logger.WithConversation(clientID, conversationID)

	sendSSEEvent(w, flusher, "connected", map[string]string{
		"conversation_id": conversationID,
	})

	replayed := make(map[string]bool, len(history.Messages))
	for _, msg := range history.Messages {
		replayed[msg.ID] = true
		sendSSEEvent(w, flusher, "message", msg)
	}
	sendSSEEvent(w, flusher, "replay_complete", &ReplayCompleteEvent{
		MessageCount: len(history.Messages),
	})

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Debug("SSE client disconnected")
			return

		case e := <-entries:
			var err error
			switch e.Kind {
			case nats.EntryMessage:
				if e.Message == nil || replayed[e.Message.ID] {
					continue
				}
				err = sendSSEEvent(w, flusher, "message", e.Message)
			case nats.EntryEvent:
				if e.Event == nil {
					continue
				}
				err = sendSSEEvent(w, flusher, string(e.Event.Type), e.Event)
			}
			if err != nil {
				log.Warn("failed to write stream entry", zap.Error(err))
				return
			}

		case <-heartbeat.C:
			sendSSEEvent(w, flusher, "heartbeat", &model.HeartbeatEvent{
				Timestamp: time.Now(),
			})
		}
	}
}

// SuggestStream handles POST /api/v1/conversations/{id}/suggestions/stream
// Tokens are sent as they arrive, followed by the finished suggestion.
func (h *StreamHandler) SuggestStream(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	conversationID := chi.URLParam(r, "id")
	if !validID(w, conversationID) {
		return
	}

	flusher, ok := startSSE(w)
	if !ok {
		return
	}

	metrics.IncrementSSEConnections()
	defer metrics.DecrementSSEConnections()

	suggestion, err := h.suggestions.SuggestStream(ctx, middleware.GetClientID(ctx), conversationID,
		func(token string, index int) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			return sendSSEEvent(w, flusher, "token", &model.TokenEvent{
				Token: token,
				Index: index,
			})
		},
	)
	if err != nil {
		if statusFor(err) == http.StatusInternalServerError {
			h.logger.Error("suggestion stream failed",
				zap.String("conversation_id", conversationID),
				zap.Error(err),
			)
		}
		sendSSEEvent(w, flusher, "error", &model.ErrorEvent{
			Code:    "suggestion_error",
			Message: http.StatusText(statusFor(err)),
		})
		return
	}

	sendSSEEvent(w, flusher, "suggestion", suggestion)
	sendSSEEvent(w, flusher, "done", map[string]bool{"success": true})
}

// startSSE writes the event-stream headers. It fails with 500 when the
// writer cannot flush.
func startSSE(w http.ResponseWriter) (http.Flusher, bool) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return nil, false
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()
	return flusher, true
}

func sendSSEEvent(w http.ResponseWriter, flusher http.Flusher, event string, data interface{}) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}

	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, jsonData); err != nil {
		return err
	}
	flusher.Flush()

	return nil
}

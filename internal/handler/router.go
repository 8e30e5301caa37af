package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/capitalize-ai/support-platform/internal/middleware"
	"github.com/capitalize-ai/support-platform/pkg/logger"
)

// RouterConfig carries the handlers and settings the HTTP surface is built from.
type RouterConfig struct {
	Health        *HealthHandler
	Widget        *WidgetHandler
	Conversations *ConversationHandler
	Messages      *MessageHandler
	ChatSessions  *ChatSessionHandler
	Suggestions   *SuggestionHandler
	Stream        *StreamHandler

	JWTSecret       string
	CORSOrigins     []string
	RateLimit       int
	RateLimitWindow time.Duration
	WidgetRateLimit int
	Logger          *logger.Logger
}

// NewRouter builds the API router.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(cfg.Logger))
	r.Use(middleware.Tracing)
	r.Use(middleware.SecurityHeaders)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS(cfg.CORSOrigins))

	// Health endpoints (no auth required)
	r.Get("/health", cfg.Health.Health)
	r.Get("/ready", cfg.Health.Ready)

	// Metrics endpoint
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// Public widget routes, limited per IP
		r.Route("/widget/{clientID}", func(r chi.Router) {
			r.Use(middleware.WidgetRateLimit(cfg.WidgetRateLimit, cfg.RateLimitWindow))

			r.Post("/conversations", cfg.Widget.Start)
			r.Get("/conversations/{id}/messages", cfg.Widget.ListMessages)
			r.Post("/conversations/{id}/messages", cfg.Widget.SendMessage)
		})

		// Agent routes
		r.Group(func(r chi.Router) {
			r.Use(middleware.Auth(cfg.JWTSecret))
			r.Use(middleware.RateLimit(cfg.RateLimit, cfg.RateLimitWindow))

			chat := middleware.RequireScope(middleware.ScopeChat)
			suggest := middleware.RequireScope(middleware.ScopeSuggestions)

			r.Route("/conversations", func(r chi.Router) {
				r.With(chat).Get("/", cfg.Conversations.List)

				r.Route("/{id}", func(r chi.Router) {
					r.Group(func(r chi.Router) {
						r.Use(chat)

						r.Get("/", cfg.Conversations.Get)
						r.Put("/status", cfg.Conversations.UpdateStatus)
						r.Get("/events", cfg.Conversations.Events)
						r.Get("/history", cfg.Conversations.History)
						r.Get("/session-summary", cfg.Conversations.SessionSummary)

						// Messages
						r.Get("/messages", cfg.Messages.List)
						r.Post("/messages", cfg.Messages.Send)

						// Streaming
						r.Get("/stream", cfg.Stream.Stream)
					})

					// Reply suggestions
					r.Group(func(r chi.Router) {
						r.Use(suggest)

						r.Post("/suggestions", cfg.Suggestions.Suggest)
						r.Post("/suggestions/stream", cfg.Stream.SuggestStream)
						r.Post("/summary", cfg.Suggestions.Summarize)
					})
				})
			})

			r.Route("/chat-sessions", func(r chi.Router) {
				r.Use(chat)

				r.Post("/", cfg.ChatSessions.Open)
				r.Get("/agent/{agentID}/active", cfg.ChatSessions.Active)

				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", cfg.ChatSessions.Get)
					r.Post("/hold", cfg.ChatSessions.Hold)
					r.Post("/resume", cfg.ChatSessions.Resume)
					r.Post("/close", cfg.ChatSessions.Close)
					r.Get("/common-phrases", cfg.Suggestions.CommonPhrases)
					r.With(suggest).Post("/auto-complete", cfg.Suggestions.AutoComplete)
				})
			})
		})
	})

	return r
}

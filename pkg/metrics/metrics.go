// Package metrics provides Prometheus metrics instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestDuration tracks HTTP request duration.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path", "status"},
	)

	// RequestsTotal tracks total HTTP requests.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// LLMDuration tracks reply-suggestion latency.
	LLMDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "llm_suggestion_duration_seconds",
			Help:    "LLM reply suggestion duration",
			Buckets: []float64{.25, .5, 1, 2, 5, 10, 20, 30, 60},
		},
		[]string{"model", "status"},
	)

	// LLMTokensTotal tracks total LLM tokens processed.
	LLMTokensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llm_tokens_total",
			Help: "Total LLM tokens processed",
		},
		[]string{"model", "direction"},
	)

	// SSEConnectionsActive tracks active SSE connections.
	SSEConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sse_connections_active",
			Help: "Number of active SSE connections",
		},
	)

	// SessionResolutionsTotal tracks session resolver outcomes.
	SessionResolutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "session_resolutions_total",
			Help: "Session resolutions by outcome",
		},
		[]string{"outcome"},
	)

	// SentimentScore tracks the distribution of customer message sentiment.
	SentimentScore = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sentiment_score",
			Help:    "Normalized sentiment score of customer messages",
			Buckets: prometheus.LinearBuckets(-1, 0.2, 11),
		},
	)

	// EscalationsTotal tracks chat session escalations.
	EscalationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "escalations_total",
			Help: "Chat session escalations by reason",
		},
		[]string{"reason"},
	)

	// ChatSessionDuration tracks how long closed chat sessions lasted.
	ChatSessionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "chat_session_duration_seconds",
			Help:    "Duration of closed chat sessions",
			Buckets: []float64{30, 60, 300, 600, 1800, 3600, 7200, 14400, 86400},
		},
	)

	// ChatSessionsClosedTotal counts closed chat sessions.
	ChatSessionsClosedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_sessions_closed_total",
			Help: "Total chat sessions closed",
		},
	)

	// ConversationsTotal tracks total conversations created.
	ConversationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conversations_total",
			Help: "Total conversations created",
		},
		[]string{"client_id"},
	)

	// MessagesTotal tracks total messages sent.
	MessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "messages_total",
			Help: "Total messages sent",
		},
		[]string{"client_id", "sender_type"},
	)
)

// RecordRequest records metrics for an HTTP request.
func RecordRequest(method, path, status string, duration float64) {
	RequestDuration.WithLabelValues(method, path, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, path, status).Inc()
}

// RecordLLM records metrics for an LLM call.
func RecordLLM(model, status string, duration float64, tokensIn, tokensOut int) {
	LLMDuration.WithLabelValues(model, status).Observe(duration)
	LLMTokensTotal.WithLabelValues(model, "in").Add(float64(tokensIn))
	LLMTokensTotal.WithLabelValues(model, "out").Add(float64(tokensOut))
}

// IncrementSSEConnections increments the active SSE connection count.
func IncrementSSEConnections() {
	SSEConnectionsActive.Inc()
}

// DecrementSSEConnections decrements the active SSE connection count.
func DecrementSSEConnections() {
	SSEConnectionsActive.Dec()
}

// RecordSessionResolution counts a session resolver outcome.
func RecordSessionResolution(outcome string) {
	SessionResolutionsTotal.WithLabelValues(outcome).Inc()
}

// RecordSentiment observes a customer message score.
func RecordSentiment(score float64) {
	SentimentScore.Observe(score)
}

// RecordEscalation counts an escalation.
func RecordEscalation(reason string) {
	EscalationsTotal.WithLabelValues(reason).Inc()
}

// RecordChatSessionClosed observes a closed chat session's duration.
func RecordChatSessionClosed(durationSeconds int64) {
	ChatSessionDuration.Observe(float64(durationSeconds))
	ChatSessionsClosedTotal.Inc()
}

// RecordConversation counts a conversation row created for a client.
func RecordConversation(clientID string) {
	ConversationsTotal.WithLabelValues(clientID).Inc()
}

// RecordMessage counts a stored message.
func RecordMessage(clientID, senderType string) {
	MessagesTotal.WithLabelValues(clientID, senderType).Inc()
}

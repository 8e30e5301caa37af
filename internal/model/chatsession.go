package model

import (
	"time"
)

// ChatSessionStatus is the operational status of an agent-facing chat session.
type ChatSessionStatus string

const (
	ChatSessionActive    ChatSessionStatus = "active"
	ChatSessionOnHold    ChatSessionStatus = "on_hold"
	ChatSessionClosed    ChatSessionStatus = "closed"
	ChatSessionEscalated ChatSessionStatus = "escalated"
)

// Sentiment is the label assigned to a message by the sentiment analyzer.
type Sentiment string

const (
	SentimentPositive Sentiment = "positive"
	SentimentNeutral  Sentiment = "neutral"
	SentimentNegative Sentiment = "negative"
	SentimentUnknown  Sentiment = "unknown"
)

// SentimentAnalysis is the sentiment and escalation state carried by a chat session.
type SentimentAnalysis struct {
	CurrentSentiment    Sentiment  `json:"current_sentiment"`
	SentimentScore      float64    `json:"sentiment_score"`
	EscalationTriggered bool       `json:"escalation_triggered"`
	EscalationReason    string     `json:"escalation_reason,omitempty"`
	EscalationTimestamp *time.Time `json:"escalation_timestamp,omitempty"`
}

// SessionNote is an agent note attached to a chat session.
type SessionNote struct {
	AuthorID  string    `json:"author_id"`
	Text      string    `json:"text"`
	Internal  bool      `json:"is_internal"`
	CreatedAt time.Time `json:"created_at"`
}

// ChatSession is the agent-facing record bound to a ticket and an agent.
type ChatSession struct {
	ID                   string            `json:"id"`
	TicketID             string            `json:"ticket_id"`
	ConversationID       string            `json:"conversation_id"`
	AgentID              string            `json:"agent_id"`
	ClientID             string            `json:"client_id"`
	Status               ChatSessionStatus `json:"status"`
	Sentiment            SentimentAnalysis `json:"sentiment_analysis"`
	AISuggestionsEnabled bool              `json:"ai_suggestions_enabled"`
	AutoCompleteEnabled  bool              `json:"auto_complete_enabled"`
	TotalMessages        int               `json:"total_messages"`
	AgentMessages        int               `json:"agent_messages"`
	CustomerMessages     int               `json:"customer_messages"`
	Notes                []SessionNote     `json:"notes"`
	StartedAt            time.Time         `json:"started_at"`
	ClosedAt             *time.Time        `json:"closed_at,omitempty"`
	Duration             int64             `json:"duration,omitempty"`
}

// Closed reports whether the session has reached its final state.
func (s *ChatSession) Closed() bool {
	return s.Status == ChatSessionClosed
}

// OpenChatSessionRequest is the request an agent sends to open a chat session.
// Unset assist flags default to enabled.
type OpenChatSessionRequest struct {
	ConversationID       string `json:"conversation_id"`
	TicketID             string `json:"ticket_id,omitempty"`
	Subject              string `json:"subject,omitempty"`
	AISuggestionsEnabled *bool  `json:"ai_suggestions_enabled,omitempty"`
	AutoCompleteEnabled  *bool  `json:"auto_complete_enabled,omitempty"`
}

// CloseChatSessionRequest is the optional body of a close call.
type CloseChatSessionRequest struct {
	Notes string `json:"notes,omitempty"`
}

// ActiveChatSessionsResponse lists an agent's open chat sessions.
type ActiveChatSessionsResponse struct {
	AgentID        string        `json:"agent_id"`
	ActiveSessions []ChatSession `json:"active_sessions"`
	Count          int           `json:"count"`
}

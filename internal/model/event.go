package model

import (
	"time"
)

// EventType represents the type of conversation event.
type EventType string

const (
	EventTypeError             EventType = "error"
	EventTypeSessionStarted    EventType = "session_started"
	EventTypeEscalated         EventType = "escalated"
	EventTypeChatSessionClosed EventType = "chat_session_closed"
)

// ConversationEvent represents an event in a conversation.
type ConversationEvent struct {
	ID             string         `json:"id"`
	ConversationID string         `json:"conversation_id"`
	ClientID       string         `json:"client_id"`
	Type           EventType      `json:"type"`
	Reason         string         `json:"reason"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	Sequence       uint64         `json:"sequence,omitempty"`
}

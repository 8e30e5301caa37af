package model

import (
	"time"
)

// SenderType identifies who authored a message.
type SenderType string

const (
	SenderClient   SenderType = "client"
	SenderCustomer SenderType = "customer"
	SenderAgent    SenderType = "agent"
	SenderAI       SenderType = "ai"
	SenderBot      SenderType = "bot"
	SenderSystem   SenderType = "system"
)

// Valid reports whether s is a known sender type.
func (s SenderType) Valid() bool {
	switch s {
	case SenderClient, SenderCustomer, SenderAgent, SenderAI, SenderBot, SenderSystem:
		return true
	}
	return false
}

// FromCustomer reports whether the message was written by the customer side.
func (s SenderType) FromCustomer() bool {
	return s == SenderCustomer || s == SenderClient
}

// ViewerRole is the audience a message list is rendered for.
type ViewerRole string

const (
	ViewerAgent    ViewerRole = "agent"
	ViewerCustomer ViewerRole = "customer"
)

// Message represents a conversation message.
type Message struct {
	// Identity
	ID             string `json:"id"`
	ConversationID string `json:"conversation_id"`
	ClientID       string `json:"client_id"`
	SessionID      string `json:"session_id"`

	// Content
	SenderType SenderType `json:"sender_type"`
	SenderID   string     `json:"sender_id,omitempty"`
	Content    string     `json:"content"`

	// Timestamps
	CreatedAt time.Time  `json:"created_at"`
	EditedAt  *time.Time `json:"edited_at,omitempty"`
	ReadAt    *time.Time `json:"read_at,omitempty"`

	// JetStream Metadata (populated on publish)
	Sequence uint64 `json:"sequence,omitempty"`
}

// SendMessageRequest is the request to send a new message.
type SendMessageRequest struct {
	Content string `json:"content"`
}

// SendMessageResponse is the response after sending a message.
type SendMessageResponse struct {
	Message    *Message           `json:"message"`
	Sentiment  *SentimentAnalysis `json:"sentiment,omitempty"`
	Escalated  bool               `json:"escalated,omitempty"`
	ChatStatus ChatSessionStatus  `json:"chat_status,omitempty"`
}

// ListMessagesResponse is the response for listing messages.
type ListMessagesResponse struct {
	Messages  []Message  `json:"messages"`
	Viewer    ViewerRole `json:"viewer"`
	SessionID string     `json:"session_id,omitempty"`
}

// TokenEvent represents a streaming token event.
type TokenEvent struct {
	Token string `json:"token"`
	Index int    `json:"index"`
}

// ErrorEvent represents an error event.
type ErrorEvent struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	RetryAfter int    `json:"retry_after,omitempty"`
}

// HeartbeatEvent represents a heartbeat event.
type HeartbeatEvent struct {
	Timestamp time.Time `json:"timestamp"`
}

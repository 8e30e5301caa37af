// Package model defines data structures for the support platform.
package model

import (
	"strings"
	"time"
)

// ConversationStatus is the lifecycle status of a customer-facing conversation.
type ConversationStatus string

const (
	ConversationActive        ConversationStatus = "active"
	ConversationWaiting       ConversationStatus = "waiting"
	ConversationResolved      ConversationStatus = "resolved"
	ConversationClosed        ConversationStatus = "closed"
	ConversationBotActive     ConversationStatus = "bot_active"
	ConversationWithAgent     ConversationStatus = "with_agent"
	ConversationAwaitingAgent ConversationStatus = "awaiting_agent"
	ConversationEscalated     ConversationStatus = "escalated"
)

// Valid reports whether s is a known conversation status.
func (s ConversationStatus) Valid() bool {
	switch s {
	case ConversationActive, ConversationWaiting, ConversationResolved, ConversationClosed,
		ConversationBotActive, ConversationWithAgent, ConversationAwaitingAgent, ConversationEscalated:
		return true
	}
	return false
}

// CustomerIdentity is the identity key of a customer within a client (tenant).
// The email is the only identity the channel layer supplies.
type CustomerIdentity struct {
	Email    string `json:"email"`
	ClientID string `json:"client_id"`
}

// NewCustomerIdentity normalizes the email and builds an identity.
func NewCustomerIdentity(email, clientID string) CustomerIdentity {
	return CustomerIdentity{
		Email:    strings.ToLower(strings.TrimSpace(email)),
		ClientID: clientID,
	}
}

// Key returns a string usable as a per-customer lock or map key.
func (c CustomerIdentity) Key() string {
	return c.ClientID + "|" + c.Email
}

// SessionSummary is a sealed record of a prior logical session.
type SessionSummary struct {
	SessionID      string    `json:"session_id"`
	ConversationID string    `json:"conversation_id"`
	StartedAt      time.Time `json:"started_at"`
	EndedAt        time.Time `json:"ended_at"`
	MessageCount   int       `json:"message_count"`
}

// Conversation represents a customer-facing thread.
type Conversation struct {
	ID               string             `json:"id"`
	ClientID         string             `json:"client_id"`
	CustomerEmail    string             `json:"customer_email"`
	CustomerName     string             `json:"customer_name"`
	SessionID        string             `json:"session_id"`
	IsNewSession     bool               `json:"is_new_session"`
	PreviousSessions []SessionSummary   `json:"previous_sessions"`
	Status           ConversationStatus `json:"status"`
	LastMessageAt    time.Time          `json:"last_message_at"`
	CreatedAt        time.Time          `json:"created_at"`
	UpdatedAt        time.Time          `json:"updated_at"`
}

// Identity returns the customer identity the conversation belongs to.
func (c *Conversation) Identity() CustomerIdentity {
	return CustomerIdentity{Email: c.CustomerEmail, ClientID: c.ClientID}
}

// StartConversationRequest is the request a widget sends when a customer opens a chat.
type StartConversationRequest struct {
	CustomerEmail string `json:"customer_email"`
	CustomerName  string `json:"customer_name"`
}

// StartConversationResponse is returned when a conversation is started or resumed.
type StartConversationResponse struct {
	Conversation     *Conversation    `json:"conversation"`
	SessionID        string           `json:"session_id"`
	IsNewCustomer    bool             `json:"is_new_customer"`
	IsNewSession     bool             `json:"is_new_session"`
	PreviousSessions []SessionSummary `json:"previous_sessions"`
}

// UpdateConversationStatusRequest is the request to change a conversation status.
type UpdateConversationStatusRequest struct {
	Status ConversationStatus `json:"status"`
}

// ListConversationsResponse is the response for listing conversations.
type ListConversationsResponse struct {
	Conversations []Conversation `json:"conversations"`
	Total         int            `json:"total"`
	HasMore       bool           `json:"has_more"`
}

// ConversationHistoryEntry describes one of a customer's conversations in the agent view.
type ConversationHistoryEntry struct {
	ConversationID string             `json:"conversation_id"`
	SessionID      string             `json:"session_id"`
	CustomerName   string             `json:"customer_name"`
	CustomerEmail  string             `json:"customer_email"`
	Status         ConversationStatus `json:"status"`
	StartedAt      time.Time          `json:"started_at"`
	LastMessageAt  time.Time          `json:"last_message_at"`
	MessageCount   int                `json:"message_count"`
	IsCurrent      bool               `json:"is_current"`
}

// ConversationHistoryResponse lists every conversation of a customer, newest first.
type ConversationHistoryResponse struct {
	CustomerEmail string                     `json:"customer_email"`
	Conversations []ConversationHistoryEntry `json:"conversations"`
	Total         int                        `json:"total"`
}

// SessionStats is the message count of one session.
type SessionStats struct {
	SessionID    string `json:"session_id"`
	MessageCount int    `json:"message_count"`
}

// SessionSummaryResponse compares the current session against the ones before it.
type SessionSummaryResponse struct {
	CustomerName     string           `json:"customer_name"`
	CustomerEmail    string           `json:"customer_email"`
	CurrentSession   SessionStats     `json:"current_session"`
	PreviousSessions []SessionSummary `json:"previous_sessions"`
	TotalMessages    int              `json:"total_messages"`
	TotalSessions    int              `json:"total_sessions"`
}

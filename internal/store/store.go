// Package store provides persistence for conversations, messages, chat sessions and tickets.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/capitalize-ai/support-platform/internal/model"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a compare-and-set precondition does not hold.
	ErrConflict = errors.New("conflict")
	// ErrClosed is returned when a closed chat session is mutated.
	ErrClosed = errors.New("chat session closed")
)

// ConversationStore persists conversations.
type ConversationStore interface {
	CreateConversation(ctx context.Context, conv *model.Conversation) error
	GetConversation(ctx context.Context, id string) (*model.Conversation, error)
	ListConversations(ctx context.Context, clientID string, limit, offset int) ([]model.Conversation, int, error)
	// FindConversationsByCustomer returns the customer's conversations newest first.
	FindConversationsByCustomer(ctx context.Context, identity model.CustomerIdentity) ([]model.Conversation, error)
	TouchConversation(ctx context.Context, id string, at time.Time) error
	SetConversationStatus(ctx context.Context, id string, status model.ConversationStatus, at time.Time) error
}

// MessageStore persists messages.
type MessageStore interface {
	CreateMessage(ctx context.Context, msg *model.Message) error
	// ListMessages returns messages of the given conversations in creation order.
	ListMessages(ctx context.Context, conversationIDs []string) ([]model.Message, error)
	CountMessages(ctx context.Context, conversationID string) (int, error)
}

// ChatSessionStore persists chat sessions. Every mutating method is atomic.
type ChatSessionStore interface {
	// CreateChatSession stores a new chat session. It returns ErrConflict when
	// the conversation already has a non-closed session.
	CreateChatSession(ctx context.Context, cs *model.ChatSession) error
	GetChatSession(ctx context.Context, id string) (*model.ChatSession, error)
	// FindOpenChatSession returns the newest non-closed chat session of a conversation.
	FindOpenChatSession(ctx context.Context, conversationID string) (*model.ChatSession, error)
	// ListOpenChatSessionsByAgent returns an agent's non-closed sessions, newest first.
	ListOpenChatSessionsByAgent(ctx context.Context, clientID, agentID string) ([]model.ChatSession, error)
	// AddChatSessionNote appends a note. Closed sessions still accept notes.
	AddChatSessionNote(ctx context.Context, id string, note model.SessionNote) error
	// RecordCustomerMessage bumps customer counters and overwrites the current sentiment.
	RecordCustomerMessage(ctx context.Context, id string, sentiment model.Sentiment, score float64) error
	RecordAgentMessage(ctx context.Context, id string) error
	// TryEscalate moves an active or on_hold session to escalated and stamps the
	// reason. It reports false when the session was already escalated.
	TryEscalate(ctx context.Context, id, reason string, at time.Time) (bool, error)
	// TransitionChatSession moves a session from one status to another, or
	// returns ErrConflict when it is not in the from status.
	TransitionChatSession(ctx context.Context, id string, from, to model.ChatSessionStatus) error
	CloseChatSession(ctx context.Context, id string, at time.Time) (*model.ChatSession, error)
}

// TicketStore persists tickets.
type TicketStore interface {
	CreateTicket(ctx context.Context, t *model.Ticket) error
	GetTicket(ctx context.Context, id string) (*model.Ticket, error)
	EscalateTicket(ctx context.Context, id string, at time.Time) error
}

// Store aggregates every persistence collaborator.
type Store interface {
	ConversationStore
	MessageStore
	ChatSessionStore
	TicketStore
	Ping(ctx context.Context) error
	Close() error
}

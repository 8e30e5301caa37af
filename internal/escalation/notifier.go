package escalation

import (
	"context"
	"errors"
	"time"
)

// Escalation is the fact emitted when a chat session escalates.
type Escalation struct {
	ChatSessionID  string    `json:"chat_session_id"`
	TicketID       string    `json:"ticket_id"`
	ConversationID string    `json:"conversation_id"`
	ClientID       string    `json:"client_id"`
	AgentID        string    `json:"agent_id"`
	Reason         string    `json:"reason"`
	Score          float64   `json:"score"`
	At             time.Time `json:"at"`
}

// Notifier hands an escalation off to whatever routes it.
type Notifier interface {
	Escalated(ctx context.Context, e Escalation) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, e Escalation) error

// Escalated calls f.
func (f NotifierFunc) Escalated(ctx context.Context, e Escalation) error {
	return f(ctx, e)
}

// MultiNotifier delivers to every notifier and joins their errors.
type MultiNotifier []Notifier

// Escalated notifies each member in order.
func (m MultiNotifier) Escalated(ctx context.Context, e Escalation) error {
	var errs []error
	for _, n := range m {
		if n == nil {
			continue
		}
		if err := n.Escalated(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

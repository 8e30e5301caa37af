package nats

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/capitalize-ai/support-platform/internal/escalation"
	"github.com/capitalize-ai/support-platform/internal/model"
)

// EventPublisher appends conversation events to the log.
type EventPublisher interface {
	PublishEvent(ctx context.Context, event *model.ConversationEvent) (uint64, error)
}

// EscalationPublisher records escalations as conversation events.
type EscalationPublisher struct {
	events EventPublisher
}

// NewEscalationPublisher creates an escalation notifier backed by the event log.
func NewEscalationPublisher(events EventPublisher) *EscalationPublisher {
	return &EscalationPublisher{events: events}
}

// Escalated publishes an escalated event on the conversation's subject.
func (p *EscalationPublisher) Escalated(ctx context.Context, e escalation.Escalation) error {
	_, err := p.events.PublishEvent(ctx, EscalationEvent(e))
	if err != nil {
		return fmt.Errorf("publish escalation for chat session %s: %w", e.ChatSessionID, err)
	}
	return nil
}

// EscalationEvent converts an escalation into its conversation event.
func EscalationEvent(e escalation.Escalation) *model.ConversationEvent {
	return &model.ConversationEvent{
		ID:             uuid.Must(uuid.NewV7()).String(),
		ConversationID: e.ConversationID,
		ClientID:       e.ClientID,
		Type:           model.EventTypeEscalated,
		Reason:         e.Reason,
		Metadata: map[string]any{
			"chat_session_id": e.ChatSessionID,
			"ticket_id":       e.TicketID,
			"agent_id":        e.AgentID,
			"sentiment_score": e.Score,
		},
		CreatedAt: e.At,
	}
}

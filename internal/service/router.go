package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/capitalize-ai/support-platform/internal/escalation"
	"github.com/capitalize-ai/support-platform/internal/model"
)

// RoutingStore is the persistence TicketRouter needs.
type RoutingStore interface {
	EscalateTicket(ctx context.Context, id string, at time.Time) error
	SetConversationStatus(ctx context.Context, id string, status model.ConversationStatus, at time.Time) error
}

// TicketRouter hands escalated chats to the escalation queue: the ticket is
// raised to urgent and the conversation is marked escalated.
type TicketRouter struct {
	store RoutingStore
}

// NewTicketRouter creates an escalation notifier that reroutes tickets.
func NewTicketRouter(st RoutingStore) *TicketRouter {
	return &TicketRouter{store: st}
}

// Escalated applies the routing changes for e.
func (r *TicketRouter) Escalated(ctx context.Context, e escalation.Escalation) error {
	var errs []error
	if e.TicketID != "" {
		if err := r.store.EscalateTicket(ctx, e.TicketID, e.At); err != nil {
			errs = append(errs, fmt.Errorf("escalate ticket %s: %w", e.TicketID, err))
		}
	}
	if err := r.store.SetConversationStatus(ctx, e.ConversationID, model.ConversationEscalated, e.At); err != nil {
		errs = append(errs, fmt.Errorf("escalate conversation %s: %w", e.ConversationID, err))
	}
	return errors.Join(errs...)
}

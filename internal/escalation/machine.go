// Package escalation drives a chat session's status from customer sentiment.
//
// States: active, on_hold, escalated, closed. Customer messages are scored on
// arrival; a triggering score or keyword moves an active or on_hold session to
// escalated exactly once. Escalation is sticky until the session is closed, and
// closed is final.
package escalation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/capitalize-ai/support-platform/internal/clock"
	"github.com/capitalize-ai/support-platform/internal/model"
	"github.com/capitalize-ai/support-platform/internal/sentiment"
	"github.com/capitalize-ai/support-platform/internal/store"
	"github.com/capitalize-ai/support-platform/pkg/logger"
	"github.com/capitalize-ai/support-platform/pkg/metrics"
)

var (
	// ErrSessionClosed is returned when a closed chat session is acted on.
	ErrSessionClosed = errors.New("chat session is closed")
	// ErrInvalidTransition is returned when a status change is not allowed.
	ErrInvalidTransition = errors.New("invalid chat session transition")
	// ErrNotFound is returned when the chat session does not exist.
	ErrNotFound = errors.New("chat session not found")
)

const conflictRetries = 3

// Store is the chat session persistence the machine needs.
type Store interface {
	GetChatSession(ctx context.Context, id string) (*model.ChatSession, error)
	RecordCustomerMessage(ctx context.Context, id string, sentiment model.Sentiment, score float64) error
	RecordAgentMessage(ctx context.Context, id string) error
	TryEscalate(ctx context.Context, id, reason string, at time.Time) (bool, error)
	TransitionChatSession(ctx context.Context, id string, from, to model.ChatSessionStatus) error
	CloseChatSession(ctx context.Context, id string, at time.Time) (*model.ChatSession, error)
}

// Analyzer scores message text.
type Analyzer interface {
	Analyze(text string) sentiment.Result
}

// Outcome reports what a customer message did to its chat session.
type Outcome struct {
	Sentiment sentiment.Result
	// Escalated is set when this message caused the transition.
	Escalated bool
	// AlreadyEscalated is set when the message triggered but another message won.
	AlreadyEscalated bool
	Session          *model.ChatSession
}

// Machine applies chat session transitions.
type Machine struct {
	store    Store
	analyzer Analyzer
	notifier Notifier
	clock    clock.Clock
	logger   *logger.Logger
}

// NewMachine creates a state machine. notifier may be nil.
func NewMachine(st Store, analyzer Analyzer, notifier Notifier, clk clock.Clock, log *logger.Logger) *Machine {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Machine{
		store:    st,
		analyzer: analyzer,
		notifier: notifier,
		clock:    clk,
		logger:   log,
	}
}

// OnCustomerMessage scores a customer message and escalates the session when it triggers.
func (m *Machine) OnCustomerMessage(ctx context.Context, chatSessionID, text string) (*Outcome, error) {
	ctx, span := otel.Tracer("escalation").Start(ctx, "escalation.OnCustomerMessage")
	defer span.End()

	res := m.analyzer.Analyze(text)
	if res.Sentiment != model.SentimentUnknown {
		metrics.RecordSentiment(res.Score)
	}

	err := retryConflicts(func() error {
		return m.store.RecordCustomerMessage(ctx, chatSessionID, res.Sentiment, res.Score)
	})
	if err != nil {
		return nil, mapStoreError(err)
	}

	out := &Outcome{Sentiment: res}

	if res.EscalationTriggered {
		var won bool
		err := retryConflicts(func() error {
			var err error
			won, err = m.store.TryEscalate(ctx, chatSessionID, res.EscalationReason, m.clock.Now())
			return err
		})
		if err != nil {
			return nil, mapStoreError(err)
		}
		out.Escalated = won
		out.AlreadyEscalated = !won
	}
	span.SetAttributes(
		attribute.String("sentiment", string(res.Sentiment)),
		attribute.Bool("escalated", out.Escalated),
	)

	cs, err := m.store.GetChatSession(ctx, chatSessionID)
	if err != nil {
		return nil, mapStoreError(err)
	}
	out.Session = cs

	if out.Escalated {
		metrics.RecordEscalation(res.EscalationReason)
		m.notify(ctx, cs, res.Score)
	}

	return out, nil
}

func (m *Machine) notify(ctx context.Context, cs *model.ChatSession, score float64) {
	if m.notifier == nil {
		return
	}

	at := m.clock.Now()
	if cs.Sentiment.EscalationTimestamp != nil {
		at = *cs.Sentiment.EscalationTimestamp
	}

	err := m.notifier.Escalated(ctx, Escalation{
		ChatSessionID:  cs.ID,
		TicketID:       cs.TicketID,
		ConversationID: cs.ConversationID,
		ClientID:       cs.ClientID,
		AgentID:        cs.AgentID,
		Reason:         cs.Sentiment.EscalationReason,
		Score:          score,
		At:             at,
	})
	if err != nil && m.logger != nil {
		m.logger.WithConversation(cs.ClientID, cs.ConversationID).WithChatSession(cs.ID).
			Error("escalation handoff failed", zap.Error(err))
	}
}

// OnAgentMessage counts an agent message. Agent text is never scored.
func (m *Machine) OnAgentMessage(ctx context.Context, chatSessionID string) error {
	err := retryConflicts(func() error {
		return m.store.RecordAgentMessage(ctx, chatSessionID)
	})
	return mapStoreError(err)
}

// Hold puts an active session on hold.
func (m *Machine) Hold(ctx context.Context, chatSessionID string) (*model.ChatSession, error) {
	return m.transition(ctx, chatSessionID, model.ChatSessionActive, model.ChatSessionOnHold)
}

// Resume returns an on_hold session to active.
func (m *Machine) Resume(ctx context.Context, chatSessionID string) (*model.ChatSession, error) {
	return m.transition(ctx, chatSessionID, model.ChatSessionOnHold, model.ChatSessionActive)
}

func (m *Machine) transition(ctx context.Context, id string, from, to model.ChatSessionStatus) (*model.ChatSession, error) {
	if err := m.store.TransitionChatSession(ctx, id, from, to); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, fmt.Errorf("%s to %s: %w", from, to, ErrInvalidTransition)
		}
		return nil, mapStoreError(err)
	}
	cs, err := m.store.GetChatSession(ctx, id)
	if err != nil {
		return nil, mapStoreError(err)
	}
	return cs, nil
}

// Close ends a session from any open state and records its duration.
func (m *Machine) Close(ctx context.Context, chatSessionID string) (*model.ChatSession, error) {
	var cs *model.ChatSession
	err := retryConflicts(func() error {
		var err error
		cs, err = m.store.CloseChatSession(ctx, chatSessionID, m.clock.Now())
		return err
	})
	if err != nil {
		return nil, mapStoreError(err)
	}
	metrics.RecordChatSessionClosed(cs.Duration)
	return cs, nil
}

func retryConflicts(fn func() error) error {
	var err error
	for i := 0; i < conflictRetries; i++ {
		if err = fn(); !errors.Is(err, store.ErrConflict) {
			return err
		}
	}
	return err
}

func mapStoreError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, store.ErrClosed):
		return ErrSessionClosed
	case errors.Is(err, store.ErrNotFound):
		return ErrNotFound
	default:
		return err
	}
}

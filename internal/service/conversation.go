// Package service provides business logic for the support platform.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/capitalize-ai/support-platform/internal/clock"
	"github.com/capitalize-ai/support-platform/internal/model"
	"github.com/capitalize-ai/support-platform/internal/session"
	"github.com/capitalize-ai/support-platform/internal/store"
	"github.com/capitalize-ai/support-platform/pkg/logger"
	"github.com/capitalize-ai/support-platform/pkg/metrics"
)

var (
	// ErrConversationNotFound is returned when a conversation does not exist for the client.
	ErrConversationNotFound = errors.New("conversation not found")
	// ErrInvalidCustomer is returned when a start request carries no usable email.
	ErrInvalidCustomer = errors.New("customer email is required")
	// ErrInvalidStatus is returned for an unknown conversation status.
	ErrInvalidStatus = errors.New("invalid conversation status")
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

var tracer = otel.Tracer("service")

// EventLog appends messages and events to the shared log.
type EventLog interface {
	PublishMessage(ctx context.Context, msg *model.Message) (uint64, error)
	PublishEvent(ctx context.Context, event *model.ConversationEvent) (uint64, error)
}

// ConversationStore is the persistence ConversationService needs.
type ConversationStore interface {
	store.ConversationStore
	CountMessages(ctx context.Context, conversationID string) (int, error)
}

// ConversationService handles conversation operations.
type ConversationService struct {
	store    ConversationStore
	resolver *session.Resolver
	events   EventLog
	clock    clock.Clock
	logger   *logger.Logger

	starts singleflight.Group
}

// NewConversationService creates a new conversation service. events may be nil.
func NewConversationService(st ConversationStore, resolver *session.Resolver, events EventLog, clk clock.Clock, log *logger.Logger) *ConversationService {
	if clk == nil {
		clk = clock.Real{}
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &ConversationService{
		store:    st,
		resolver: resolver,
		events:   events,
		clock:    clk,
		logger:   log,
	}
}

// Start resolves the customer's session and returns the conversation to write
// into. Concurrent starts for the same customer share one resolution.
func (s *ConversationService) Start(ctx context.Context, clientID string, req *model.StartConversationRequest) (*model.StartConversationResponse, error) {
	identity := model.NewCustomerIdentity(req.CustomerEmail, clientID)
	if identity.Email == "" || clientID == "" {
		return nil, ErrInvalidCustomer
	}

	ctx, span := tracer.Start(ctx, "ConversationService.Start")
	defer span.End()

	// The shared call must outlive whichever caller happened to start it.
	shared := context.WithoutCancel(ctx)
	v, err, joined := s.starts.Do(identity.Key(), func() (any, error) {
		return s.start(shared, identity, strings.TrimSpace(req.CustomerName))
	})
	span.SetAttributes(attribute.Bool("joined", joined))
	if err != nil {
		return nil, err
	}

	resp := *v.(*model.StartConversationResponse)
	conv := *resp.Conversation
	resp.Conversation = &conv
	return &resp, nil
}

func (s *ConversationService) start(ctx context.Context, identity model.CustomerIdentity, name string) (*model.StartConversationResponse, error) {
	decision := s.resolver.Resolve(ctx, identity)

	if decision.Resumed() {
		conv, err := s.store.GetConversation(ctx, decision.Session.ConversationID)
		if err != nil {
			return nil, fmt.Errorf("load resumed conversation: %w", err)
		}
		conv.IsNewSession = false
		// Prior sessions were reported when this one began; agents read them via Get.
		return &model.StartConversationResponse{
			Conversation:     conv,
			SessionID:        conv.SessionID,
			PreviousSessions: []model.SessionSummary{},
		}, nil
	}

	now := s.clock.Now()
	previous := decision.PreviousSessions
	if previous == nil {
		previous = []model.SessionSummary{}
	}

	conv := &model.Conversation{
		ID:               uuid.Must(uuid.NewV7()).String(),
		ClientID:         identity.ClientID,
		CustomerEmail:    identity.Email,
		CustomerName:     name,
		SessionID:        decision.SessionID(),
		IsNewSession:     true,
		PreviousSessions: previous,
		Status:           model.ConversationActive,
		LastMessageAt:    now,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.store.CreateConversation(ctx, conv); err != nil {
		return nil, fmt.Errorf("create conversation: %w", err)
	}

	metrics.RecordConversation(identity.ClientID)
	s.logger.WithConversation(conv.ClientID, conv.ID).Info("session started",
		zap.String("session_id", conv.SessionID),
		zap.Bool("new_customer", decision.IsNewCustomer),
		zap.Int("previous_sessions", len(previous)),
		zap.Bool("fallback", decision.Fallback),
	)

	publishEvent(ctx, s.events, s.logger, &model.ConversationEvent{
		ID:             uuid.Must(uuid.NewV7()).String(),
		ConversationID: conv.ID,
		ClientID:       conv.ClientID,
		Type:           model.EventTypeSessionStarted,
		Metadata: map[string]any{
			"session_id":        conv.SessionID,
			"previous_sessions": len(previous),
		},
		CreatedAt: now,
	})

	return &model.StartConversationResponse{
		Conversation:     conv,
		SessionID:        conv.SessionID,
		IsNewCustomer:    decision.IsNewCustomer,
		IsNewSession:     true,
		PreviousSessions: previous,
	}, nil
}

// Get retrieves a conversation by ID.
func (s *ConversationService) Get(ctx context.Context, clientID, conversationID string) (*model.Conversation, error) {
	conv, err := s.store.GetConversation(ctx, conversationID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrConversationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get conversation: %w", err)
	}

	if conv.ClientID != clientID {
		return nil, ErrConversationNotFound
	}

	return conv, nil
}

// List retrieves conversations for a client, newest first.
func (s *ConversationService) List(ctx context.Context, clientID string, limit, offset int) (*model.ListConversationsResponse, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	if offset < 0 {
		offset = 0
	}

	convs, total, err := s.store.ListConversations(ctx, clientID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	if convs == nil {
		convs = []model.Conversation{}
	}

	return &model.ListConversationsResponse{
		Conversations: convs,
		Total:         total,
		HasMore:       offset+len(convs) < total,
	}, nil
}

// UpdateStatus changes a conversation's routing status.
func (s *ConversationService) UpdateStatus(ctx context.Context, clientID, conversationID string, status model.ConversationStatus) (*model.Conversation, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("%q: %w", status, ErrInvalidStatus)
	}

	if _, err := s.Get(ctx, clientID, conversationID); err != nil {
		return nil, err
	}

	if err := s.store.SetConversationStatus(ctx, conversationID, status, s.clock.Now()); err != nil {
		return nil, fmt.Errorf("set conversation status: %w", err)
	}

	return s.Get(ctx, clientID, conversationID)
}

// publishEvent appends an event to the log. The local store stays the
// source of truth, so failures are only logged.
func publishEvent(ctx context.Context, events EventLog, log *logger.Logger, event *model.ConversationEvent) {
	if events == nil {
		return
	}
	if _, err := events.PublishEvent(ctx, event); err != nil {
		log.Warn("failed to publish event",
			zap.String("conversation_id", event.ConversationID),
			zap.String("type", string(event.Type)),
			zap.Error(err),
		)
	}
}

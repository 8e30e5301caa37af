package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/capitalize-ai/support-platform/internal/clock"
	"github.com/capitalize-ai/support-platform/internal/escalation"
	"github.com/capitalize-ai/support-platform/internal/model"
	"github.com/capitalize-ai/support-platform/internal/store"
	"github.com/capitalize-ai/support-platform/pkg/logger"
)

var (
	// ErrChatSessionNotFound is returned when a chat session does not exist for the client.
	ErrChatSessionNotFound = errors.New("chat session not found")
	// ErrTicketNotFound is returned when a referenced ticket does not exist for the client.
	ErrTicketNotFound = errors.New("ticket not found")
	// ErrInvalidAgent is returned when an agent id is missing.
	ErrInvalidAgent = errors.New("agent id is required")
)

// ChatSessionStore is the persistence ChatSessionService needs.
type ChatSessionStore interface {
	CreateChatSession(ctx context.Context, cs *model.ChatSession) error
	GetChatSession(ctx context.Context, id string) (*model.ChatSession, error)
	FindOpenChatSession(ctx context.Context, conversationID string) (*model.ChatSession, error)
	ListOpenChatSessionsByAgent(ctx context.Context, clientID, agentID string) ([]model.ChatSession, error)
	AddChatSessionNote(ctx context.Context, id string, note model.SessionNote) error
	CreateTicket(ctx context.Context, t *model.Ticket) error
	GetTicket(ctx context.Context, id string) (*model.Ticket, error)
	SetConversationStatus(ctx context.Context, id string, status model.ConversationStatus, at time.Time) error
}

// ChatSessionService opens and drives agent chat sessions.
type ChatSessionService struct {
	store         ChatSessionStore
	conversations *ConversationService
	machine       *escalation.Machine
	events        EventLog
	clock         clock.Clock
	logger        *logger.Logger

	opens singleflight.Group
}

// NewChatSessionService creates a chat session service. events may be nil.
func NewChatSessionService(
	st ChatSessionStore,
	conversations *ConversationService,
	machine *escalation.Machine,
	events EventLog,
	clk clock.Clock,
	log *logger.Logger,
) *ChatSessionService {
	if clk == nil {
		clk = clock.Real{}
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &ChatSessionService{
		store:         st,
		conversations: conversations,
		machine:       machine,
		events:        events,
		clock:         clk,
		logger:        log,
	}
}

// Open starts an agent chat session on a conversation, creating a ticket when
// none is given. An already open session is returned as is, and concurrent
// opens of one conversation share a single session.
func (s *ChatSessionService) Open(ctx context.Context, clientID, agentID string, req *model.OpenChatSessionRequest) (*model.ChatSession, error) {
	ctx, span := tracer.Start(ctx, "ChatSessionService.Open")
	defer span.End()

	conv, err := s.conversations.Get(ctx, clientID, req.ConversationID)
	if err != nil {
		return nil, err
	}

	shared := context.WithoutCancel(ctx)
	v, err, joined := s.opens.Do(conv.ID, func() (any, error) {
		return s.open(shared, conv, agentID, req)
	})
	span.SetAttributes(attribute.Bool("joined", joined))
	if err != nil {
		return nil, err
	}

	cs := *v.(*model.ChatSession)
	cs.Notes = append([]model.SessionNote{}, cs.Notes...)
	return &cs, nil
}

func (s *ChatSessionService) open(ctx context.Context, conv *model.Conversation, agentID string, req *model.OpenChatSessionRequest) (*model.ChatSession, error) {
	clientID := conv.ClientID

	existing, err := s.store.FindOpenChatSession(ctx, conv.ID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("find open chat session: %w", err)
	}

	now := s.clock.Now()

	ticketID := req.TicketID
	if ticketID == "" {
		subject := strings.TrimSpace(req.Subject)
		if subject == "" {
			subject = "Chat with " + conv.CustomerEmail
		}
		ticket := &model.Ticket{
			ID:             uuid.Must(uuid.NewV7()).String(),
			ClientID:       conv.ClientID,
			ConversationID: conv.ID,
			Subject:        subject,
			Status:         model.TicketOpen,
			Priority:       model.PriorityNormal,
			AssignedAgent:  agentID,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if err := s.store.CreateTicket(ctx, ticket); err != nil {
			return nil, fmt.Errorf("create ticket: %w", err)
		}
		ticketID = ticket.ID
	} else {
		ticket, err := s.store.GetTicket(ctx, ticketID)
		if errors.Is(err, store.ErrNotFound) || (err == nil && ticket.ClientID != clientID) {
			return nil, ErrTicketNotFound
		}
		if err != nil {
			return nil, fmt.Errorf("get ticket: %w", err)
		}
	}

	cs := &model.ChatSession{
		ID:                   uuid.Must(uuid.NewV7()).String(),
		TicketID:             ticketID,
		ConversationID:       conv.ID,
		AgentID:              agentID,
		ClientID:             conv.ClientID,
		Status:               model.ChatSessionActive,
		Sentiment:            model.SentimentAnalysis{CurrentSentiment: model.SentimentUnknown},
		AISuggestionsEnabled: enabledByDefault(req.AISuggestionsEnabled),
		AutoCompleteEnabled:  enabledByDefault(req.AutoCompleteEnabled),
		Notes:                []model.SessionNote{},
		StartedAt:            now,
	}
	if err := s.store.CreateChatSession(ctx, cs); err != nil {
		if errors.Is(err, store.ErrConflict) {
			// Lost a race with another process; the store allows one open session per conversation.
			if winner, ferr := s.store.FindOpenChatSession(ctx, conv.ID); ferr == nil {
				return winner, nil
			}
		}
		return nil, fmt.Errorf("create chat session: %w", err)
	}

	if err := s.store.SetConversationStatus(ctx, conv.ID, model.ConversationWithAgent, now); err != nil {
		s.logger.Warn("failed to route conversation to agent", zap.String("conversation_id", conv.ID), zap.Error(err))
	}

	s.logger.WithConversation(conv.ClientID, conv.ID).Info("chat session opened",
		zap.String("chat_session_id", cs.ID),
		zap.String("ticket_id", ticketID),
		zap.String("agent_id", agentID),
	)

	return cs, nil
}

// Get retrieves a chat session by ID.
func (s *ChatSessionService) Get(ctx context.Context, clientID, id string) (*model.ChatSession, error) {
	cs, err := s.store.GetChatSession(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrChatSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get chat session: %w", err)
	}
	if cs.ClientID != clientID {
		return nil, ErrChatSessionNotFound
	}
	return cs, nil
}

// Hold puts an active chat session on hold.
func (s *ChatSessionService) Hold(ctx context.Context, clientID, id string) (*model.ChatSession, error) {
	if _, err := s.Get(ctx, clientID, id); err != nil {
		return nil, err
	}
	return s.machine.Hold(ctx, id)
}

// Resume reactivates a held chat session.
func (s *ChatSessionService) Resume(ctx context.Context, clientID, id string) (*model.ChatSession, error) {
	if _, err := s.Get(ctx, clientID, id); err != nil {
		return nil, err
	}
	return s.machine.Resume(ctx, id)
}

// Close ends a chat session. A non-empty req.Notes is kept as an internal note
// by agentID.
func (s *ChatSessionService) Close(ctx context.Context, clientID, agentID, id string, req *model.CloseChatSessionRequest) (*model.ChatSession, error) {
	if _, err := s.Get(ctx, clientID, id); err != nil {
		return nil, err
	}

	cs, err := s.machine.Close(ctx, id)
	if err != nil {
		return nil, err
	}

	if req != nil {
		if text := strings.TrimSpace(req.Notes); text != "" {
			note := model.SessionNote{
				AuthorID:  agentID,
				Text:      text,
				Internal:  true,
				CreatedAt: *cs.ClosedAt,
			}
			if err := s.store.AddChatSessionNote(ctx, cs.ID, note); err != nil {
				return nil, fmt.Errorf("add close note: %w", err)
			}
			cs.Notes = append(cs.Notes, note)
		}
	}

	publishEvent(ctx, s.events, s.logger, &model.ConversationEvent{
		ID:             uuid.Must(uuid.NewV7()).String(),
		ConversationID: cs.ConversationID,
		ClientID:       cs.ClientID,
		Type:           model.EventTypeChatSessionClosed,
		Metadata: map[string]any{
			"chat_session_id": cs.ID,
			"ticket_id":       cs.TicketID,
			"duration":        cs.Duration,
		},
		CreatedAt: *cs.ClosedAt,
	})

	return cs, nil
}

// ListActive returns the open chat sessions an agent is working.
func (s *ChatSessionService) ListActive(ctx context.Context, clientID, agentID string) (*model.ActiveChatSessionsResponse, error) {
	agentID = strings.TrimSpace(agentID)
	if agentID == "" {
		return nil, ErrInvalidAgent
	}

	sessions, err := s.store.ListOpenChatSessionsByAgent(ctx, clientID, agentID)
	if err != nil {
		return nil, fmt.Errorf("list active chat sessions: %w", err)
	}
	if sessions == nil {
		sessions = []model.ChatSession{}
	}

	return &model.ActiveChatSessionsResponse{
		AgentID:        agentID,
		ActiveSessions: sessions,
		Count:          len(sessions),
	}, nil
}

func enabledByDefault(v *bool) bool {
	return v == nil || *v
}

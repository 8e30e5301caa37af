package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/capitalize-ai/support-platform/internal/clock"
	"github.com/capitalize-ai/support-platform/internal/escalation"
	"github.com/capitalize-ai/support-platform/internal/model"
	"github.com/capitalize-ai/support-platform/internal/session"
	"github.com/capitalize-ai/support-platform/internal/store"
	"github.com/capitalize-ai/support-platform/pkg/logger"
	"github.com/capitalize-ai/support-platform/pkg/metrics"
)

// MaxMessageLength bounds message content in runes.
const MaxMessageLength = 10000

var (
	// ErrInvalidMessage is returned for empty or oversized content.
	ErrInvalidMessage = errors.New("invalid message content")
	// ErrInvalidSender is returned for an unknown sender type.
	ErrInvalidSender = errors.New("invalid sender")
	// ErrStaleSession is returned when a customer writes with a session token
	// that is no longer the conversation's current one.
	ErrStaleSession = errors.New("session is no longer current")
)

// Sender identifies who is writing a message.
type Sender struct {
	Type model.SenderType
	ID   string
}

// MessageStore is the persistence MessageService needs.
type MessageStore interface {
	store.MessageStore
	TouchConversation(ctx context.Context, id string, at time.Time) error
	FindOpenChatSession(ctx context.Context, conversationID string) (*model.ChatSession, error)
}

// MessageService handles message operations.
type MessageService struct {
	store         MessageStore
	conversations *ConversationService
	machine       *escalation.Machine
	filter        *session.Filter
	events        EventLog
	clock         clock.Clock
	logger        *logger.Logger
}

// NewMessageService creates a new message service. events may be nil.
func NewMessageService(
	st MessageStore,
	conversations *ConversationService,
	machine *escalation.Machine,
	filter *session.Filter,
	events EventLog,
	clk clock.Clock,
	log *logger.Logger,
) *MessageService {
	if clk == nil {
		clk = clock.Real{}
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &MessageService{
		store:         st,
		conversations: conversations,
		machine:       machine,
		filter:        filter,
		events:        events,
		clock:         clk,
		logger:        log,
	}
}

// Send stores a message under the conversation's current session and, when an
// agent chat session is open, feeds it to the escalation machine. A session
// carried in ctx must match the conversation's current one.
func (s *MessageService) Send(ctx context.Context, clientID, conversationID string, sender Sender, req *model.SendMessageRequest) (*model.SendMessageResponse, error) {
	content := strings.TrimSpace(req.Content)
	if content == "" || utf8.RuneCountInString(content) > MaxMessageLength {
		return nil, ErrInvalidMessage
	}
	if !sender.Type.Valid() {
		return nil, fmt.Errorf("%q: %w", sender.Type, ErrInvalidSender)
	}

	ctx, span := tracer.Start(ctx, "MessageService.Send")
	defer span.End()
	span.SetAttributes(attribute.String("sender_type", string(sender.Type)))

	conv, err := s.conversations.Get(ctx, clientID, conversationID)
	if err != nil {
		return nil, err
	}
	if sess, ok := session.FromContext(ctx); ok && sess.ID != conv.SessionID {
		return nil, ErrStaleSession
	}

	now := s.clock.Now()
	msg := &model.Message{
		ID:             uuid.Must(uuid.NewV7()).String(),
		ConversationID: conv.ID,
		ClientID:       conv.ClientID,
		SessionID:      conv.SessionID,
		SenderType:     sender.Type,
		SenderID:       sender.ID,
		Content:        content,
		CreatedAt:      now,
	}

	if err := s.store.CreateMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("store message: %w", err)
	}
	if err := s.store.TouchConversation(ctx, conv.ID, now); err != nil {
		return nil, fmt.Errorf("touch conversation: %w", err)
	}
	metrics.RecordMessage(conv.ClientID, string(sender.Type))

	if s.events != nil {
		seq, err := s.events.PublishMessage(ctx, msg)
		if err != nil {
			s.logger.Warn("failed to publish message",
				zap.String("conversation_id", conv.ID),
				zap.String("message_id", msg.ID),
				zap.Error(err),
			)
		} else {
			msg.Sequence = seq
		}
	}

	resp := &model.SendMessageResponse{Message: msg}
	s.track(ctx, conv, msg, resp)
	return resp, nil
}

// track updates the open chat session for msg. The message is already
// committed, so failures here are logged rather than returned.
func (s *MessageService) track(ctx context.Context, conv *model.Conversation, msg *model.Message, resp *model.SendMessageResponse) {
	if s.machine == nil {
		return
	}

	cs, err := s.store.FindOpenChatSession(ctx, conv.ID)
	if errors.Is(err, store.ErrNotFound) {
		return
	}
	log := s.logger.WithConversation(conv.ClientID, conv.ID)
	if err != nil {
		log.Error("failed to find chat session", zap.Error(err))
		return
	}

	switch {
	case msg.SenderType.FromCustomer():
		out, err := s.machine.OnCustomerMessage(ctx, cs.ID, msg.Content)
		if err != nil {
			if !errors.Is(err, escalation.ErrSessionClosed) {
				log.Error("failed to score customer message", zap.String("chat_session_id", cs.ID), zap.Error(err))
			}
			return
		}
		analysis := out.Session.Sentiment
		resp.Sentiment = &analysis
		resp.Escalated = out.Escalated
		resp.ChatStatus = out.Session.Status
		if out.Escalated {
			log.Info("chat session escalated",
				zap.String("chat_session_id", cs.ID),
				zap.String("reason", analysis.EscalationReason),
				zap.Float64("score", analysis.SentimentScore),
			)
		}
	case msg.SenderType == model.SenderAgent:
		if err := s.machine.OnAgentMessage(ctx, cs.ID); err != nil && !errors.Is(err, escalation.ErrSessionClosed) {
			log.Error("failed to count agent message", zap.String("chat_session_id", cs.ID), zap.Error(err))
			return
		}
		resp.ChatStatus = cs.Status
	}
}

// List returns the messages of a conversation as the viewer may see them.
// Agents also see every prior session's conversation; customers see only
// their own session.
func (s *MessageService) List(ctx context.Context, clientID, conversationID string, viewer session.Viewer) (*model.ListMessagesResponse, error) {
	ctx, span := tracer.Start(ctx, "MessageService.List")
	defer span.End()

	conv, err := s.conversations.Get(ctx, clientID, conversationID)
	if err != nil {
		return nil, err
	}

	ids := []string{conv.ID}
	if viewer.Role == model.ViewerAgent {
		for _, prev := range conv.PreviousSessions {
			ids = append(ids, prev.ConversationID)
		}
	}

	msgs, err := s.store.ListMessages(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}

	visible := s.filter.MessagesFor(msgs, viewer)
	if visible == nil {
		visible = []model.Message{}
	}

	role := viewer.Role
	if role != model.ViewerAgent {
		role = model.ViewerCustomer
	}

	return &model.ListMessagesResponse{
		Messages:  visible,
		Viewer:    role,
		SessionID: viewer.SessionID,
	}, nil
}

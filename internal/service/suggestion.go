package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/capitalize-ai/support-platform/internal/clock"
	"github.com/capitalize-ai/support-platform/internal/llm"
	"github.com/capitalize-ai/support-platform/internal/model"
	"github.com/capitalize-ai/support-platform/internal/session"
	"github.com/capitalize-ai/support-platform/pkg/logger"
)

var (
	// ErrSuggestionsDisabled is returned when no model provider is configured.
	ErrSuggestionsDisabled = errors.New("reply suggestions are not configured")
	// ErrSessionSuggestionsOff is returned when the open chat session has AI suggestions turned off.
	ErrSessionSuggestionsOff = errors.New("AI suggestions are disabled for this chat session")
	// ErrAutoCompleteOff is returned when the chat session has auto-complete turned off.
	ErrAutoCompleteOff = errors.New("auto-complete is disabled for this chat session")
)

const (
	suggestionHistory   = 30
	suggestionMaxTokens = 400
)

const suggestionPrompt = `You are assisting a customer support agent. Draft the agent's next reply to the customer.
Be concise, polite and specific to the conversation. Do not promise refunds or policy exceptions.
Reply with the message text only.`

// ChatSessionLookup reads the agent chat sessions suggestions are scoped to.
type ChatSessionLookup interface {
	GetChatSession(ctx context.Context, id string) (*model.ChatSession, error)
	FindOpenChatSession(ctx context.Context, conversationID string) (*model.ChatSession, error)
}

// SuggestionService drafts agent replies from the agent-visible transcript.
type SuggestionService struct {
	messages *MessageService
	sessions ChatSessionLookup
	client   llm.Client
	model    string
	events   EventLog
	clock    clock.Clock
	logger   *logger.Logger
}

// NewSuggestionService creates a suggestion service. client may be nil, in
// which case every call returns ErrSuggestionsDisabled.
func NewSuggestionService(
	messages *MessageService,
	sessions ChatSessionLookup,
	client llm.Client,
	modelName string,
	events EventLog,
	clk clock.Clock,
	log *logger.Logger,
) *SuggestionService {
	if clk == nil {
		clk = clock.Real{}
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &SuggestionService{
		messages: messages,
		sessions: sessions,
		client:   client,
		model:    modelName,
		events:   events,
		clock:    clk,
		logger:   log,
	}
}

// Suggest drafts a reply.
func (s *SuggestionService) Suggest(ctx context.Context, clientID, conversationID string) (*model.Suggestion, error) {
	return s.run(ctx, clientID, conversationID, nil)
}

// SuggestStream drafts a reply, passing tokens to onToken as they arrive.
func (s *SuggestionService) SuggestStream(ctx context.Context, clientID, conversationID string, onToken llm.StreamCallback) (*model.Suggestion, error) {
	return s.run(ctx, clientID, conversationID, onToken)
}

func (s *SuggestionService) run(ctx context.Context, clientID, conversationID string, onToken llm.StreamCallback) (*model.Suggestion, error) {
	if s.client == nil {
		return nil, ErrSuggestionsDisabled
	}

	ctx, span := tracer.Start(ctx, "SuggestionService.Suggest")
	defer span.End()

	req, err := s.buildRequest(ctx, clientID, conversationID)
	if err != nil {
		return nil, err
	}

	var resp *llm.CompletionResponse
	if onToken != nil {
		resp, err = s.client.CompleteStream(ctx, req, onToken)
	} else {
		resp, err = s.client.Complete(ctx, req)
	}
	if err != nil {
		publishEvent(ctx, s.events, s.logger, &model.ConversationEvent{
			ID:             uuid.Must(uuid.NewV7()).String(),
			ConversationID: conversationID,
			ClientID:       clientID,
			Type:           model.EventTypeError,
			Reason:         err.Error(),
			CreatedAt:      s.clock.Now(),
		})
		return nil, fmt.Errorf("suggestion failed: %w", err)
	}

	return &model.Suggestion{
		ConversationID: conversationID,
		Content:        strings.TrimSpace(resp.Content),
		Model:          resp.Model,
		TokensIn:       resp.TokensIn,
		TokensOut:      resp.TokensOut,
		LatencyMs:      resp.LatencyMs,
		CreatedAt:      s.clock.Now(),
	}, nil
}

func (s *SuggestionService) buildRequest(ctx context.Context, clientID, conversationID string) (*llm.CompletionRequest, error) {
	history, err := s.messages.List(ctx, clientID, conversationID, session.Viewer{Role: model.ViewerAgent})
	if err != nil {
		return nil, err
	}

	msgs := history.Messages
	if len(msgs) > suggestionHistory {
		msgs = msgs[len(msgs)-suggestionHistory:]
	}
	if len(msgs) == 0 {
		return nil, fmt.Errorf("conversation has no messages: %w", ErrInvalidMessage)
	}

	chat := make([]llm.ChatMessage, 0, len(msgs))
	for _, m := range msgs {
		chat = append(chat, toChatMessage(m))
	}

	system := suggestionPrompt
	if s.sessions != nil {
		if cs, err := s.sessions.FindOpenChatSession(ctx, conversationID); err == nil {
			if !cs.AISuggestionsEnabled {
				return nil, ErrSessionSuggestionsOff
			}
			system += fmt.Sprintf("\nCustomer sentiment is %s (score %.2f).", cs.Sentiment.CurrentSentiment, cs.Sentiment.SentimentScore)
			if cs.Sentiment.EscalationTriggered {
				system += " The chat has been escalated: acknowledge the frustration and offer a concrete next step."
			}
		}
	}

	return &llm.CompletionRequest{
		Model:       s.model,
		System:      system,
		Messages:    chat,
		MaxTokens:   suggestionMaxTokens,
		Temperature: 0.3,
	}, nil
}

func toChatMessage(m model.Message) llm.ChatMessage {
	switch {
	case m.SenderType.FromCustomer():
		return llm.ChatMessage{Role: llm.RoleUser, Content: m.Content}
	case m.SenderType == model.SenderSystem:
		return llm.ChatMessage{Role: llm.RoleUser, Content: "[system] " + m.Content}
	default:
		return llm.ChatMessage{Role: llm.RoleAssistant, Content: m.Content}
	}
}

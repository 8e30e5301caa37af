package service

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"github.com/capitalize-ai/support-platform/internal/llm"
	"github.com/capitalize-ai/support-platform/internal/model"
	"github.com/capitalize-ai/support-platform/internal/session"
	"github.com/capitalize-ai/support-platform/internal/store"
)

// ErrInvalidPhraseContext is returned for an unknown phrase context.
var ErrInvalidPhraseContext = errors.New("invalid phrase context")

const (
	maxCompletions       = 5
	autoCompleteMaxChars = 2000
	autoCompleteTokens   = 200
	summaryMaxTokens     = 300
)

const autoCompletePrompt = `You complete partial customer support replies.
Give 3 to 5 natural, professional ways to finish the agent's message.
Return only the text that follows the partial message, one per line, in the form:
COMPLETION 1: <text>
COMPLETION 2: <text>`

const summaryPrompt = `Summarize this customer support conversation in 3 or 4 bullet points covering
the main issue, the solution provided and the current status.`

var completionLabel = regexp.MustCompile(`(?i)completion\s*\d+\s*:`)

var commonPhrases = map[model.PhraseContext][]string{
	model.PhraseGreeting: {
		"Hello! Thank you for contacting us.",
		"Hi there! How can I help you today?",
		"Greetings! I'm here to assist you.",
	},
	model.PhraseAcknowledgment: {
		"I understand your concern.",
		"Thank you for bringing this to our attention.",
		"I appreciate you providing those details.",
	},
	model.PhraseExplanation: {
		"Let me explain what's happening.",
		"Here's what I found regarding your issue:",
		"Based on your description, here's what I recommend:",
	},
	model.PhraseSolution: {
		"To resolve this, please try the following steps:",
		"Here's how we can fix this:",
		"The solution is straightforward:",
	},
	model.PhraseClosing: {
		"Is there anything else I can help you with?",
		"Please let me know if you need further assistance.",
		"Feel free to reach out if you have any other questions.",
	},
	model.PhraseEscalation: {
		"I understand this needs immediate attention. Let me escalate this to our specialist team.",
		"This requires expert assistance. I'm connecting you with our senior support team.",
		"Based on the complexity, I'm escalating this to ensure you get the best resolution.",
	},
}

// CommonPhrases returns canned phrases for a chat session. An empty context
// means general, which offers the greetings.
func (s *SuggestionService) CommonPhrases(ctx context.Context, clientID, chatSessionID string, phraseCtx model.PhraseContext) (*model.CommonPhrasesResponse, error) {
	if phraseCtx == "" {
		phraseCtx = model.PhraseGeneral
	}
	texts, ok := commonPhrases[phraseCtx]
	if phraseCtx == model.PhraseGeneral {
		texts, ok = commonPhrases[model.PhraseGreeting], true
	}
	if !ok {
		return nil, fmt.Errorf("%q: %w", phraseCtx, ErrInvalidPhraseContext)
	}

	if _, err := s.chatSession(ctx, clientID, chatSessionID); err != nil {
		return nil, err
	}

	phrases := make([]model.Phrase, len(texts))
	for i, text := range texts {
		phrases[i] = model.Phrase{
			ID:       fmt.Sprintf("phrase_%s_%d", phraseCtx, i),
			Text:     text,
			Category: phraseCtx,
		}
	}

	return &model.CommonPhrasesResponse{
		ChatSessionID: chatSessionID,
		Context:       phraseCtx,
		Phrases:       phrases,
	}, nil
}

// AutoComplete offers up to five endings for a partially typed agent message.
// Each completion carries the full text, partial message included.
func (s *SuggestionService) AutoComplete(ctx context.Context, clientID, chatSessionID string, req *model.AutoCompleteRequest) (*model.AutoCompleteResponse, error) {
	partial := strings.TrimSpace(req.CurrentText)
	if partial == "" {
		return nil, fmt.Errorf("current text is required: %w", ErrInvalidMessage)
	}
	if len(partial) > autoCompleteMaxChars {
		return nil, fmt.Errorf("current text exceeds %d characters: %w", autoCompleteMaxChars, ErrInvalidMessage)
	}
	if s.client == nil {
		return nil, ErrSuggestionsDisabled
	}

	ctx, span := tracer.Start(ctx, "SuggestionService.AutoComplete")
	defer span.End()

	cs, err := s.chatSession(ctx, clientID, chatSessionID)
	if err != nil {
		return nil, err
	}
	if !cs.AutoCompleteEnabled {
		return nil, ErrAutoCompleteOff
	}

	resp, err := s.client.Complete(ctx, &llm.CompletionRequest{
		Model:       s.model,
		System:      autoCompletePrompt,
		Messages:    []llm.ChatMessage{{Role: llm.RoleUser, Content: partial}},
		MaxTokens:   autoCompleteTokens,
		Temperature: 0.5,
	})
	if err != nil {
		return nil, fmt.Errorf("auto-complete failed: %w", err)
	}

	tails := parseCompletions(resp.Content)
	completions := make([]model.Completion, len(tails))
	for i, tail := range tails {
		completions[i] = model.Completion{
			ID:         fmt.Sprintf("completion_%d", i),
			Text:       joinCompletion(partial, tail),
			Confidence: 0.95 - 0.05*float64(i),
		}
	}

	return &model.AutoCompleteResponse{
		ChatSessionID: chatSessionID,
		PartialText:   partial,
		Completions:   completions,
	}, nil
}

// Summarize writes a short recap of the whole agent-visible conversation.
func (s *SuggestionService) Summarize(ctx context.Context, clientID, conversationID string) (*model.ConversationSummary, error) {
	if s.client == nil {
		return nil, ErrSuggestionsDisabled
	}

	ctx, span := tracer.Start(ctx, "SuggestionService.Summarize")
	defer span.End()

	history, err := s.messages.List(ctx, clientID, conversationID, session.Viewer{Role: model.ViewerAgent})
	if err != nil {
		return nil, err
	}
	if len(history.Messages) == 0 {
		return nil, fmt.Errorf("conversation has no messages: %w", ErrInvalidMessage)
	}

	var transcript strings.Builder
	for _, m := range history.Messages {
		transcript.WriteString(speaker(m.SenderType))
		transcript.WriteString(": ")
		transcript.WriteString(m.Content)
		transcript.WriteByte('\n')
	}

	resp, err := s.client.Complete(ctx, &llm.CompletionRequest{
		Model:       s.model,
		System:      summaryPrompt,
		Messages:    []llm.ChatMessage{{Role: llm.RoleUser, Content: transcript.String()}},
		MaxTokens:   summaryMaxTokens,
		Temperature: 0.2,
	})
	if err != nil {
		return nil, fmt.Errorf("summary failed: %w", err)
	}

	return &model.ConversationSummary{
		ConversationID: conversationID,
		Summary:        strings.TrimSpace(resp.Content),
		Model:          resp.Model,
		TokensIn:       resp.TokensIn,
		TokensOut:      resp.TokensOut,
		LatencyMs:      resp.LatencyMs,
		CreatedAt:      s.clock.Now(),
	}, nil
}

func (s *SuggestionService) chatSession(ctx context.Context, clientID, id string) (*model.ChatSession, error) {
	if s.sessions == nil {
		return nil, ErrChatSessionNotFound
	}
	cs, err := s.sessions.GetChatSession(ctx, id)
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

func speaker(t model.SenderType) string {
	switch {
	case t.FromCustomer():
		return "Customer"
	case t == model.SenderSystem:
		return "System"
	default:
		return "Agent"
	}
}

// parseCompletions extracts the labelled completions from a model reply.
func parseCompletions(text string) []string {
	bounds := completionLabel.FindAllStringIndex(text, -1)
	var out []string
	for i, b := range bounds {
		end := len(text)
		if i+1 < len(bounds) {
			end = bounds[i+1][0]
		}
		tail := strings.TrimSpace(text[b[1]:end])
		if tail == "" {
			continue
		}
		out = append(out, tail)
		if len(out) == maxCompletions {
			break
		}
	}
	return out
}

func joinCompletion(partial, tail string) string {
	first := []rune(tail)[0]
	if unicode.IsPunct(first) || unicode.IsSpace(first) {
		return partial + tail
	}
	return partial + " " + tail
}

package model

import (
	"time"
)

// Suggestion is a drafted reply offered to the agent. It is never sent on its own.
type Suggestion struct {
	ConversationID string    `json:"conversation_id"`
	Content        string    `json:"content"`
	Model          string    `json:"model"`
	TokensIn       int       `json:"tokens_in"`
	TokensOut      int       `json:"tokens_out"`
	LatencyMs      int64     `json:"latency_ms"`
	CreatedAt      time.Time `json:"created_at"`
}

// ConversationSummary is a model-written recap of a conversation for the agent.
type ConversationSummary struct {
	ConversationID string    `json:"conversation_id"`
	Summary        string    `json:"summary"`
	Model          string    `json:"model"`
	TokensIn       int       `json:"tokens_in"`
	TokensOut      int       `json:"tokens_out"`
	LatencyMs      int64     `json:"latency_ms"`
	CreatedAt      time.Time `json:"created_at"`
}

// AutoCompleteRequest carries the text an agent has typed so far.
type AutoCompleteRequest struct {
	CurrentText string `json:"current_text"`
}

// Completion is one way to finish a partial agent message.
type Completion struct {
	ID         string  `json:"id"`
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

// AutoCompleteResponse is returned for an auto-complete request.
type AutoCompleteResponse struct {
	ChatSessionID string       `json:"chat_session_id"`
	PartialText   string       `json:"partial_text"`
	Completions   []Completion `json:"completions"`
}

// PhraseContext selects a group of canned phrases.
type PhraseContext string

const (
	PhraseGeneral        PhraseContext = "general"
	PhraseGreeting       PhraseContext = "greeting"
	PhraseAcknowledgment PhraseContext = "acknowledgment"
	PhraseExplanation    PhraseContext = "explanation"
	PhraseSolution       PhraseContext = "solution"
	PhraseClosing        PhraseContext = "closing"
	PhraseEscalation     PhraseContext = "escalation"
)

// Phrase is a canned agent phrase.
type Phrase struct {
	ID       string        `json:"id"`
	Text     string        `json:"text"`
	Category PhraseContext `json:"category"`
}

// CommonPhrasesResponse lists the canned phrases for a context.
type CommonPhrasesResponse struct {
	ChatSessionID string        `json:"chat_session_id"`
	Context       PhraseContext `json:"context"`
	Phrases       []Phrase      `json:"phrases"`
}

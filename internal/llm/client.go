// Package llm wraps the model providers used to draft agent reply suggestions.
package llm

import (
	"context"
	"errors"
	"time"

	"github.com/capitalize-ai/support-platform/pkg/metrics"
)

// ErrEmptyPrompt is returned when a request carries no messages.
var ErrEmptyPrompt = errors.New("llm: request has no messages")

// Roles understood by every provider.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// StreamCallback is called for each token during streaming.
type StreamCallback func(token string, index int) error

// CompletionRequest represents a completion request.
type CompletionRequest struct {
	Model       string
	System      string
	Messages    []ChatMessage
	MaxTokens   int
	Temperature float64
}

// ChatMessage represents a chat message for LLM.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CompletionResponse represents a completion response.
type CompletionResponse struct {
	Content    string
	Model      string
	TokensIn   int
	TokensOut  int
	StopReason string
	LatencyMs  int64
}

// Client is the interface for LLM providers.
type Client interface {
	// Complete sends a completion request and returns the response.
	Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error)

	// CompleteStream sends a streaming completion request.
	CompleteStream(ctx context.Context, req *CompletionRequest, callback StreamCallback) (*CompletionResponse, error)

	// Name returns the provider name.
	Name() string
}

// Provider is the type of LLM provider.
type Provider string

const (
	ProviderAnthropic Provider = "anthropic"
	ProviderOpenAI    Provider = "openai"
)

// NewClient creates a new LLM client based on provider.
func NewClient(provider Provider, apiKey string) (Client, error) {
	switch provider {
	case ProviderOpenAI:
		return NewOpenAIClient(apiKey)
	default:
		return NewAnthropicClient(apiKey)
	}
}

// Instrumented records latency and token metrics for every call to c.
func Instrumented(c Client) Client {
	return &instrumented{next: c}
}

type instrumented struct {
	next Client
}

func (i *instrumented) Name() string {
	return i.next.Name()
}

func (i *instrumented) Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error) {
	start := time.Now()
	resp, err := i.next.Complete(ctx, req)
	record(req.Model, start, resp, err)
	return resp, err
}

func (i *instrumented) CompleteStream(ctx context.Context, req *CompletionRequest, callback StreamCallback) (*CompletionResponse, error) {
	start := time.Now()
	resp, err := i.next.CompleteStream(ctx, req, callback)
	record(req.Model, start, resp, err)
	return resp, err
}

func record(model string, start time.Time, resp *CompletionResponse, err error) {
	status := "success"
	var in, out int
	if err != nil {
		status = "error"
	}
	if resp != nil {
		in, out = resp.TokensIn, resp.TokensOut
		if resp.Model != "" {
			model = resp.Model
		}
	}
	if model == "" {
		model = "default"
	}
	metrics.RecordLLM(model, status, time.Since(start).Seconds(), in, out)
}

// estimateTokens approximates a token count at four characters per token.
func estimateTokens(texts ...string) int {
	n := 0
	for _, t := range texts {
		n += len(t)
	}
	return n / 4
}

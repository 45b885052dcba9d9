// Package llm provides LLM provider abstraction layer
package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// ProviderType represents the type of LLM provider
type ProviderType string

const (
	ProviderGoogle ProviderType = "google"
	ProviderOllama ProviderType = "ollama"
	ProviderCustom ProviderType = "custom"
)

// Message represents a chat message
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	Name       string     `json:"name,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// ToolCall represents a function tool call
type ToolCall struct {
	ID       string        `json:"id"`
	Type     string        `json:"type"`
	Function *ToolFunction `json:"function"`
}

// ToolFunction holds the function name and JSON arguments of a call,
// or the schema of a declared tool depending on context
type ToolFunction struct {
	Name        string      `json:"name"`
	Description string      `json:"description,omitempty"`
	Arguments   string      `json:"arguments,omitempty"`
	Parameters  interface{} `json:"parameters,omitempty"`
}

// Tool represents a declared function tool
type Tool struct {
	Type     string        `json:"type"`
	Function *ToolFunction `json:"function,omitempty"`
}

// ChatRequest represents a chat completion request.
// ToolChoice names a tool the model MUST call; empty means auto.
type ChatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Stream      bool      `json:"stream,omitempty"`
	Tools       []Tool    `json:"tools,omitempty"`
	ToolChoice  string    `json:"-"`
}

// ChatResponse represents a chat completion response
type ChatResponse struct {
	ID      string   `json:"id"`
	Model   string   `json:"model"`
	Choices []Choice `json:"choices"`
	Usage   Usage    `json:"usage"`
}

type Choice struct {
	Index        int     `json:"index"`
	Message      Message `json:"message"`
	FinishReason string  `json:"finish_reason"`
}

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// StreamChunk represents a streaming response chunk
type StreamChunk struct {
	ID      string         `json:"id"`
	Model   string         `json:"model"`
	Choices []StreamChoice `json:"choices"`
}

type StreamChoice struct {
	Index        int         `json:"index"`
	Delta        StreamDelta `json:"delta"`
	FinishReason string      `json:"finish_reason,omitempty"`
}

type StreamDelta struct {
	Content   string     `json:"content"`
	Role      string     `json:"role,omitempty"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
}

// EmbedRequest represents an embedding request
type EmbedRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

// EmbedResponse represents an embedding response
type EmbedResponse struct {
	Data  []Embedding `json:"data"`
	Usage Usage       `json:"usage"`
}

type Embedding struct {
	Object    string    `json:"object"`
	Embedding []float64 `json:"embedding"`
	Index     int       `json:"index"`
}

// ============ Provider Interface ============

// Provider defines the interface for LLM providers
type Provider interface {
	Name() string
	Type() ProviderType
	GetConfig() Config
	Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error)
	ChatStream(ctx context.Context, req *ChatRequest, fn func(*StreamChunk)) error

	// Embeddings - return nil, ErrCapabilityNotSupported if not supported
	Embeddings(ctx context.Context, req *EmbedRequest) (*EmbedResponse, error)
}

// ErrCapabilityNotSupported is returned when a capability is not supported
var ErrCapabilityNotSupported = fmt.Errorf("capability not supported")

// Config holds provider configuration
type Config struct {
	Type    ProviderType      `json:"type"`
	APIKey  string            `json:"apiKey,omitempty"`
	BaseURL string            `json:"baseUrl,omitempty"`
	Model   string            `json:"model,omitempty"`
	Timeout int               `json:"timeout,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
}

// ============ Error classification ============

// Typed failures surfaced by providers. Callers branch on these to decide
// between apology messages, fallback backends, and hard failures.
var (
	ErrRateLimited = errors.New("llm: rate limited")
	ErrUnavailable = errors.New("llm: provider unavailable")
)

// StatusError wraps a non-200 provider response
type StatusError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s API error (%d): %s", e.Provider, e.StatusCode, e.Body)
}

func (e *StatusError) Unwrap() error {
	switch {
	case e.StatusCode == http.StatusTooManyRequests:
		return ErrRateLimited
	case e.StatusCode >= 500:
		return ErrUnavailable
	}
	return nil
}

// IsRateLimited reports whether err came from a 429-class provider failure
func IsRateLimited(err error) bool {
	return errors.Is(err, ErrRateLimited)
}

// IsUnavailable reports whether err indicates the backend is down or unreachable
func IsUnavailable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrUnavailable) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	// A StatusError below 500 that is not a rate limit is a request problem,
	// not an availability problem
	var se *StatusError
	if errors.As(err, &se) {
		return false
	}
	// Transport-level failures (connection refused, DNS) have no status code
	return !errors.Is(err, context.Canceled)
}

// FirstText returns the text of the first choice, or ""
func (r *ChatResponse) FirstText() string {
	if r == nil || len(r.Choices) == 0 {
		return ""
	}
	return r.Choices[0].Message.Content
}

// FirstToolCalls returns tool calls of the first choice with empty names filtered out
func (r *ChatResponse) FirstToolCalls() []ToolCall {
	if r == nil || len(r.Choices) == 0 {
		return nil
	}
	valid := make([]ToolCall, 0, len(r.Choices[0].Message.ToolCalls))
	for _, tc := range r.Choices[0].Message.ToolCalls {
		if tc.Function != nil && tc.Function.Name != "" {
			valid = append(valid, tc)
		}
	}
	return valid
}

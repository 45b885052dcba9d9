package llm

import (
	"context"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestProviderTypes(t *testing.T) {
	types := []ProviderType{
		ProviderGoogle,
		ProviderOllama,
		ProviderCustom,
	}

	if len(types) == 0 {
		t.Error("Provider types should not be empty")
	}
}

func TestMessage(t *testing.T) {
	msg := Message{
		Role:    "user",
		Content: "Hello",
	}

	if msg.Role != "user" {
		t.Errorf("Expected role 'user', got '%s'", msg.Role)
	}

	if msg.Content != "Hello" {
		t.Errorf("Expected content 'Hello', got '%s'", msg.Content)
	}
}

func TestChatRequest(t *testing.T) {
	req := ChatRequest{
		Model: "gemini-2.0-flash",
		Messages: []Message{
			{Role: "user", Content: "Hi"},
		},
		Temperature: 0.7,
	}

	if req.Model != "gemini-2.0-flash" {
		t.Errorf("Expected model 'gemini-2.0-flash', got '%s'", req.Model)
	}

	if len(req.Messages) != 1 {
		t.Errorf("Expected 1 message, got %d", len(req.Messages))
	}
}

func TestFirstToolCallsFiltersInvalid(t *testing.T) {
	resp := ChatResponse{
		Choices: []Choice{
			{
				Message: Message{
					Role: "assistant",
					ToolCalls: []ToolCall{
						{ID: "1", Type: "function", Function: &ToolFunction{Name: "web_search", Arguments: `{"query":"go"}`}},
						{ID: "2", Type: "function", Function: &ToolFunction{Name: ""}},
						{ID: "3", Type: "function"},
					},
				},
			},
		},
	}

	calls := resp.FirstToolCalls()
	assert.Len(t, calls, 1)
	assert.Equal(t, "web_search", calls[0].Function.Name)
}

func TestStatusErrorClassification(t *testing.T) {
	rateLimited := &StatusError{Provider: "google", StatusCode: http.StatusTooManyRequests, Body: "quota"}
	assert.True(t, IsRateLimited(fmt.Errorf("chat: %w", rateLimited)))
	assert.False(t, IsUnavailable(rateLimited))

	down := &StatusError{Provider: "ollama", StatusCode: http.StatusBadGateway, Body: "bad gateway"}
	assert.True(t, IsUnavailable(down))
	assert.False(t, IsRateLimited(down))

	badRequest := &StatusError{Provider: "custom", StatusCode: http.StatusBadRequest, Body: "schema"}
	assert.False(t, IsUnavailable(badRequest))

	assert.True(t, IsUnavailable(context.DeadlineExceeded))
	assert.False(t, IsUnavailable(context.Canceled))
	assert.False(t, IsUnavailable(nil))
}

func TestUsage(t *testing.T) {
	usage := Usage{
		PromptTokens:     100,
		CompletionTokens: 50,
		TotalTokens:      150,
	}

	if usage.PromptTokens != 100 {
		t.Errorf("Expected 100 prompt tokens, got %d", usage.PromptTokens)
	}

	if usage.CompletionTokens != 50 {
		t.Errorf("Expected 50 completion tokens, got %d", usage.CompletionTokens)
	}

	if usage.TotalTokens != 150 {
		t.Errorf("Expected 150 total tokens, got %d", usage.TotalTokens)
	}
}

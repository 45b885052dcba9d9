// Package ollama provides Ollama local provider implementation
package ollama

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gliderlab/crew/pkg/llm"
)

// Provider implements llm.Provider for Ollama
type Provider struct {
	config llm.Config
	client *http.Client
}

// New creates a new Ollama provider
func New(cfg llm.Config) *Provider {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 300 // Ollama can be slow
	}
	return &Provider{
		config: cfg,
		client: &http.Client{Timeout: time.Duration(timeout) * time.Second},
	}
}

// NewFromEnv creates a new Ollama provider from environment variables
func NewFromEnv() *Provider {
	cfg := loadConfigFromEnv()
	return New(cfg)
}

func loadConfigFromEnv() llm.Config {
	return llm.Config{
		Type:    llm.ProviderOllama,
		APIKey:  "", // Ollama doesn't need API key
		BaseURL: getEnvOrDefault("OLLAMA_BASE_URL", "http://localhost:11434"),
		Model:   getEnvOrDefault("OLLAMA_MODEL", "llama3"),
		Timeout: 300,
	}
}

func getEnvOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// Name returns the provider name
func (p *Provider) Name() string { return "ollama" }

// Type returns the provider type
func (p *Provider) GetConfig() llm.Config  { return p.config }
func (p *Provider) Type() llm.ProviderType { return llm.ProviderOllama }

// ollamaTool mirrors the /api/chat tools field (OpenAI-compatible shape)
type ollamaTool struct {
	Type     string `json:"type"`
	Function struct {
		Name        string      `json:"name"`
		Description string      `json:"description"`
		Parameters  interface{} `json:"parameters"`
	} `json:"function"`
}

func toOllamaTools(tools []llm.Tool) []ollamaTool {
	if len(tools) == 0 {
		return nil
	}
	out := make([]ollamaTool, 0, len(tools))
	for _, t := range tools {
		if t.Function == nil {
			continue
		}
		var ot ollamaTool
		ot.Type = "function"
		ot.Function.Name = t.Function.Name
		ot.Function.Description = t.Function.Description
		ot.Function.Parameters = t.Function.Parameters
		out = append(out, ot)
	}
	return out
}

// Chat implements llm.Provider.Chat
func (p *Provider) Chat(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	messages := req.Messages
	if req.ToolChoice != "" {
		// Ollama has no tool_choice field; steer with an instruction instead
		forced := llm.Message{
			Role:    "system",
			Content: fmt.Sprintf("You MUST respond by calling the %s tool.", req.ToolChoice),
		}
		messages = append([]llm.Message{forced}, messages...)
	}

	ollamaReq := map[string]interface{}{
		"model":    req.Model,
		"messages": messages,
		"stream":   false,
		"options": map[string]interface{}{
			"temperature": req.Temperature,
			"num_predict": req.MaxTokens,
		},
	}
	if tools := toOllamaTools(req.Tools); tools != nil {
		ollamaReq["tools"] = tools
	}

	httpReq, err := p.buildRequest("/api/chat", ollamaReq)
	if err != nil {
		return nil, err
	}

	body, err := p.doRequest(ctx, httpReq)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Message struct {
			Role      string `json:"role"`
			Content   string `json:"content"`
			ToolCalls []struct {
				Function struct {
					Name      string          `json:"name"`
					Arguments json.RawMessage `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"message"`
		Done            bool `json:"done"`
		PromptEvalCount int  `json:"prompt_eval_count"`
		EvalCount       int  `json:"eval_count"`
	}

	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}

	msg := llm.Message{Role: resp.Message.Role, Content: resp.Message.Content}
	for i, tc := range resp.Message.ToolCalls {
		msg.ToolCalls = append(msg.ToolCalls, llm.ToolCall{
			ID:   fmt.Sprintf("ollama-%d", i),
			Type: "function",
			Function: &llm.ToolFunction{
				Name:      tc.Function.Name,
				Arguments: string(tc.Function.Arguments),
			},
		})
	}

	return &llm.ChatResponse{
		ID:      "",
		Model:   req.Model,
		Choices: []llm.Choice{{Index: 0, Message: msg, FinishReason: "stop"}},
		Usage: llm.Usage{
			PromptTokens:     resp.PromptEvalCount,
			CompletionTokens: resp.EvalCount,
			TotalTokens:      resp.PromptEvalCount + resp.EvalCount,
		},
	}, nil
}

// ChatStream implements llm.Provider.ChatStream
func (p *Provider) ChatStream(ctx context.Context, req *llm.ChatRequest, fn func(*llm.StreamChunk)) error {
	ollamaReq := map[string]interface{}{
		"model":    req.Model,
		"messages": req.Messages,
		"stream":   true,
		"options": map[string]interface{}{
			"temperature": req.Temperature,
			"num_predict": req.MaxTokens,
		},
	}

	httpReq, err := p.buildRequest("/api/chat", ollamaReq)
	if err != nil {
		return err
	}

	resp, err := p.client.Do(httpReq.WithContext(ctx))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		return &llm.StatusError{Provider: p.Name(), StatusCode: resp.StatusCode, Body: string(body)}
	}

	decoder := json.NewDecoder(resp.Body)
	for {
		var chunk struct {
			Message struct {
				Content string `json:"content"`
				Role    string `json:"role"`
			} `json:"message"`
			Done bool `json:"done"`
		}
		if err := decoder.Decode(&chunk); err != nil {
			break
		}
		fn(&llm.StreamChunk{
			Choices: []llm.StreamChoice{
				{
					Index: 0,
					Delta: llm.StreamDelta{
						Content: chunk.Message.Content,
						Role:    chunk.Message.Role,
					},
				},
			},
		})
		if chunk.Done {
			break
		}
	}
	return nil
}

// Embeddings implements llm.Provider.Embeddings
func (p *Provider) Embeddings(ctx context.Context, req *llm.EmbedRequest) (*llm.EmbedResponse, error) {
	embedReq := map[string]interface{}{
		"model":  req.Model,
		"prompt": req.Input,
	}

	httpReq, err := p.buildRequest("/api/embeddings", embedReq)
	if err != nil {
		return nil, err
	}

	body, err := p.doRequest(ctx, httpReq)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Embedding []float64 `json:"embedding"`
	}

	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}

	return &llm.EmbedResponse{
		Data:  []llm.Embedding{{Object: "embedding", Embedding: resp.Embedding, Index: 0}},
		Usage: llm.Usage{},
	}, nil
}

func (p *Provider) buildRequest(endpoint string, body any) (*http.Request, error) {
	url := p.config.BaseURL + endpoint
	var bodyStr string
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		bodyStr = string(b)
	}
	req, err := http.NewRequest("POST", url, strings.NewReader(bodyStr))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

func (p *Provider) doRequest(ctx context.Context, req *http.Request) ([]byte, error) {
	resp, err := p.client.Do(req.WithContext(ctx))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		return nil, &llm.StatusError{Provider: p.Name(), StatusCode: resp.StatusCode, Body: string(body)}
	}
	return body, nil
}

// Ensure Provider implements llm.Provider
var _ llm.Provider = (*Provider)(nil)

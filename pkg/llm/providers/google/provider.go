// Package google provides Google Gemini provider implementation
package google

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"google.golang.org/genai"

	"github.com/gliderlab/crew/pkg/llm"
)

// Provider implements llm.Provider for Google Gemini via the genai SDK
type Provider struct {
	config llm.Config

	clientMu sync.Mutex
	client   *genai.Client
}

// New creates a new Google provider
func New(cfg llm.Config) *Provider {
	if cfg.Timeout == 0 {
		cfg.Timeout = 60
	}
	return &Provider{config: cfg}
}

// NewFromEnv creates a new Google provider from environment variables
func NewFromEnv() *Provider {
	return New(loadConfigFromEnv())
}

func loadConfigFromEnv() llm.Config {
	return llm.Config{
		Type:    llm.ProviderGoogle,
		APIKey:  os.Getenv("GOOGLE_API_KEY"),
		Model:   getEnvOrDefault("GOOGLE_MODEL", "gemini-2.0-flash"),
		Timeout: 60,
	}
}

func getEnvOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// Name returns the provider name
func (p *Provider) Name() string { return "google" }

func (p *Provider) GetConfig() llm.Config  { return p.config }
func (p *Provider) Type() llm.ProviderType { return llm.ProviderGoogle }

func (p *Provider) ensureClient(ctx context.Context) (*genai.Client, error) {
	p.clientMu.Lock()
	defer p.clientMu.Unlock()
	if p.client != nil {
		return p.client, nil
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  p.config.APIKey,
		Backend: genai.BackendGeminiAPI,
		HTTPOptions: genai.HTTPOptions{
			Timeout: genai.Ptr(time.Duration(p.config.Timeout) * time.Second),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("google client init: %w", err)
	}
	p.client = client
	return client, nil
}

// buildContents converts chat messages into genai contents plus the
// system instruction. Tool results become FunctionResponse parts keyed
// by the tool name carried in Message.Name.
func buildContents(messages []llm.Message) (*genai.Content, []*genai.Content) {
	var system *genai.Content
	var systemParts []string
	contents := make([]*genai.Content, 0, len(messages))

	for _, m := range messages {
		switch m.Role {
		case "system":
			systemParts = append(systemParts, m.Content)
		case "assistant":
			parts := make([]*genai.Part, 0, 1+len(m.ToolCalls))
			if m.Content != "" {
				parts = append(parts, &genai.Part{Text: m.Content})
			}
			for _, tc := range m.ToolCalls {
				if tc.Function == nil {
					continue
				}
				var args map[string]any
				_ = json.Unmarshal([]byte(tc.Function.Arguments), &args)
				parts = append(parts, &genai.Part{FunctionCall: &genai.FunctionCall{
					Name: tc.Function.Name,
					Args: args,
				}})
			}
			if len(parts) == 0 {
				continue
			}
			contents = append(contents, &genai.Content{Role: genai.RoleModel, Parts: parts})
		case "tool":
			contents = append(contents, &genai.Content{
				Role: genai.RoleUser,
				Parts: []*genai.Part{{FunctionResponse: &genai.FunctionResponse{
					Name:     m.Name,
					Response: map[string]any{"result": m.Content},
				}}},
			})
		default:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleUser))
		}
	}

	if len(systemParts) > 0 {
		system = genai.NewContentFromText(strings.Join(systemParts, "\n\n"), genai.RoleUser)
	}
	return system, contents
}

func (p *Provider) buildConfig(req *llm.ChatRequest, system *genai.Content) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{SystemInstruction: system}
	if req.Temperature != 0 {
		cfg.Temperature = genai.Ptr(float32(req.Temperature))
	}
	if req.MaxTokens != 0 {
		cfg.MaxOutputTokens = int32(req.MaxTokens)
	}
	if len(req.Tools) > 0 {
		decls := make([]*genai.FunctionDeclaration, 0, len(req.Tools))
		for _, t := range req.Tools {
			if t.Function == nil {
				continue
			}
			decls = append(decls, &genai.FunctionDeclaration{
				Name:        t.Function.Name,
				Description: t.Function.Description,
				Parameters:  convertToSchema(t.Function.Parameters),
			})
		}
		cfg.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
	}
	if req.ToolChoice != "" {
		cfg.ToolConfig = &genai.ToolConfig{
			FunctionCallingConfig: &genai.FunctionCallingConfig{
				Mode:                 genai.FunctionCallingConfigModeAny,
				AllowedFunctionNames: []string{req.ToolChoice},
			},
		}
	}
	return cfg
}

// Chat implements llm.Provider.Chat
func (p *Provider) Chat(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	client, err := p.ensureClient(ctx)
	if err != nil {
		return nil, err
	}

	model := req.Model
	if model == "" {
		model = p.config.Model
	}

	system, contents := buildContents(req.Messages)
	resp, err := client.Models.GenerateContent(ctx, model, contents, p.buildConfig(req, system))
	if err != nil {
		return nil, classifyErr(err)
	}

	msg := llm.Message{Role: "assistant"}
	if len(resp.Candidates) > 0 && resp.Candidates[0].Content != nil {
		for i, part := range resp.Candidates[0].Content.Parts {
			if part.Text != "" {
				msg.Content += part.Text
			}
			if part.FunctionCall != nil {
				args, _ := json.Marshal(part.FunctionCall.Args)
				msg.ToolCalls = append(msg.ToolCalls, llm.ToolCall{
					ID:   fmt.Sprintf("google-%d", i),
					Type: "function",
					Function: &llm.ToolFunction{
						Name:      part.FunctionCall.Name,
						Arguments: string(args),
					},
				})
			}
		}
	}

	out := &llm.ChatResponse{
		Model:   model,
		Choices: []llm.Choice{{Index: 0, Message: msg, FinishReason: "stop"}},
	}
	if resp.UsageMetadata != nil {
		out.Usage = llm.Usage{
			PromptTokens:     int(resp.UsageMetadata.PromptTokenCount),
			CompletionTokens: int(resp.UsageMetadata.CandidatesTokenCount),
			TotalTokens:      int(resp.UsageMetadata.TotalTokenCount),
		}
	}
	return out, nil
}

// ChatStream implements llm.Provider.ChatStream
func (p *Provider) ChatStream(ctx context.Context, req *llm.ChatRequest, fn func(*llm.StreamChunk)) error {
	client, err := p.ensureClient(ctx)
	if err != nil {
		return err
	}

	model := req.Model
	if model == "" {
		model = p.config.Model
	}

	system, contents := buildContents(req.Messages)
	for resp, err := range client.Models.GenerateContentStream(ctx, model, contents, p.buildConfig(req, system)) {
		if err != nil {
			return classifyErr(err)
		}
		if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
			continue
		}
		var text string
		for _, part := range resp.Candidates[0].Content.Parts {
			text += part.Text
		}
		if text == "" {
			continue
		}
		fn(&llm.StreamChunk{
			Model: model,
			Choices: []llm.StreamChoice{
				{Index: 0, Delta: llm.StreamDelta{Content: text, Role: "assistant"}},
			},
		})
	}
	return nil
}

// Embeddings is served by the memory store's embedding providers, not here
func (p *Provider) Embeddings(ctx context.Context, req *llm.EmbedRequest) (*llm.EmbedResponse, error) {
	return nil, llm.ErrCapabilityNotSupported
}

// classifyErr maps genai API errors onto the shared status taxonomy
func classifyErr(err error) error {
	if err == nil {
		return nil
	}
	var apiErr genai.APIError
	if ok := asAPIError(err, &apiErr); ok {
		return &llm.StatusError{Provider: "google", StatusCode: apiErr.Code, Body: apiErr.Message}
	}
	s := err.Error()
	switch {
	case strings.Contains(s, "429") || strings.Contains(s, "RESOURCE_EXHAUSTED"):
		return &llm.StatusError{Provider: "google", StatusCode: http.StatusTooManyRequests, Body: s}
	case strings.Contains(s, "503") || strings.Contains(s, "UNAVAILABLE"):
		return &llm.StatusError{Provider: "google", StatusCode: http.StatusServiceUnavailable, Body: s}
	}
	return err
}

func asAPIError(err error, target *genai.APIError) bool {
	if ae, ok := err.(genai.APIError); ok {
		*target = ae
		return true
	}
	return false
}

func convertToSchema(params interface{}) *genai.Schema {
	if params == nil {
		return nil
	}

	if m, ok := params.(map[string]interface{}); ok {
		return mapToSchema(m)
	}

	// If it's already a JSON string, try to unmarshal
	if s, ok := params.(string); ok {
		var m map[string]interface{}
		if err := json.Unmarshal([]byte(s), &m); err == nil {
			return mapToSchema(m)
		}
	}

	return nil
}

func mapToSchema(m map[string]interface{}) *genai.Schema {
	if m == nil {
		return nil
	}

	schema := &genai.Schema{}

	if t, ok := m["type"].(string); ok {
		schema.Type = genai.Type(strings.ToUpper(t))
	}

	if desc, ok := m["description"].(string); ok {
		schema.Description = desc
	}

	if props, ok := m["properties"].(map[string]interface{}); ok {
		schema.Properties = make(map[string]*genai.Schema)
		for k, v := range props {
			if propMap, ok := v.(map[string]interface{}); ok {
				schema.Properties[k] = mapToSchema(propMap)
			}
		}
	}

	// Required arrives as []string from our tool declarations, or as
	// []interface{} after a JSON round trip
	switch required := m["required"].(type) {
	case []string:
		schema.Required = required
	case []interface{}:
		schema.Required = make([]string, 0, len(required))
		for _, r := range required {
			if s, ok := r.(string); ok {
				schema.Required = append(schema.Required, s)
			}
		}
	}

	return schema
}

// Ensure Provider implements llm.Provider
var _ llm.Provider = (*Provider)(nil)

package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"github.com/gliderlab/crew/pkg/llm"
	"github.com/gliderlab/crew/pkg/personas"
)

// chat performs one model invocation for a worker. The system prompt
// gets the rolling summary prepended so older context survives
// compression; usage counters and the applied prompt land in the state.
func (o *Orchestrator) chat(ctx context.Context, st *TurnState, p *personas.Persona, forcedTool string) (*llm.ChatResponse, error) {
	systemPrompt := p.SystemPrompt
	if st.Summary != "" {
		systemPrompt += "\n\nSummary of the conversation so far:\n" + st.Summary
	}

	provider, err := o.pickProvider(p.Provider)
	if err != nil {
		return nil, err
	}

	model := st.ModelName
	if model == "" {
		model = p.Model
	}
	if model == "" {
		model = provider.GetConfig().Model
	}

	temperature := o.cfg.Temperature
	if p.Temperature != nil {
		temperature = *p.Temperature
	}

	msgs := make([]llm.Message, 0, len(st.Messages)+1)
	msgs = append(msgs, llm.Message{Role: "system", Content: systemPrompt})
	msgs = append(msgs, windowMessages(st.Messages, o.contextBudget())...)

	req := &llm.ChatRequest{
		Model:       model,
		Messages:    msgs,
		Temperature: temperature,
		MaxTokens:   o.cfg.MaxTokens,
		Tools:       o.toolSpecsFor(p),
		ToolChoice:  forcedTool,
	}

	resp, err := provider.Chat(ctx, req)
	if err != nil {
		return nil, err
	}

	st.AppliedPrompt = systemPrompt
	st.AddUsage(resp.Usage)
	return resp, nil
}

// toolSpecsFor declares the persona's tool set in wire format
func (o *Orchestrator) toolSpecsFor(p *personas.Persona) []llm.Tool {
	var specs []llm.Tool
	for _, name := range p.Tools {
		t, ok := o.registry.Get(name)
		if !ok {
			o.logger.Printf("[WARN] persona %s references unknown tool %s", p.Name, name)
			continue
		}
		specs = append(specs, llm.Tool{
			Type: "function",
			Function: &llm.ToolFunction{
				Name:        t.Name(),
				Description: t.Description(),
				Parameters:  t.Parameters(),
			},
		})
	}
	return specs
}

// appendApology converts a backend outage into a fixed user-facing
// reply instead of a failed run
func (o *Orchestrator) appendApology(st *TurnState, err error) {
	o.logger.Printf("[WARN] model backend unavailable: %v", err)
	st.Append(llm.Message{Role: "assistant", Content: apologyText})
}

// runGeneral is the single-shot conversation worker. No tool access.
func (o *Orchestrator) runGeneral(ctx context.Context, st *TurnState) error {
	p := o.personas.Get("general")
	if p == nil {
		return fmt.Errorf("persona %q not loaded", "general")
	}
	// The general worker answers in one shot, so its persona tools are
	// dropped here even if configured. The room persona, when set,
	// replaces the default prompt for this worker only.
	bare := *p
	bare.Tools = nil
	if st.PersonaText != "" {
		bare.SystemPrompt = st.PersonaText
	}

	resp, err := o.chat(ctx, st, &bare, "")
	if err != nil {
		if llm.IsRateLimited(err) || llm.IsUnavailable(err) {
			o.appendApology(st, err)
			return nil
		}
		return err
	}

	st.Append(llm.Message{Role: "assistant", Content: resp.FirstText()})
	return nil
}

// runResearcher answers from the knowledge base and the web. A fresh
// user message forces an initial retrieval call so the model does not
// answer from stale weights.
func (o *Orchestrator) runResearcher(ctx context.Context, st *TurnState) error {
	p := o.personas.Get("researcher")
	if p == nil {
		return fmt.Errorf("persona %q not loaded", "researcher")
	}

	forced := ""
	if freshUserMessage(st.Messages) {
		forced = "kb_search"
	}

	resp, err := o.chat(ctx, st, p, forced)
	if err != nil {
		if llm.IsRateLimited(err) || llm.IsUnavailable(err) {
			o.appendApology(st, err)
			return nil
		}
		return err
	}

	text := resp.FirstText()
	calls := resp.FirstToolCalls()

	if len(calls) > 0 {
		st.Append(llm.Message{Role: "assistant", Content: text, ToolCalls: calls})
		return nil
	}

	// Empty reply after a no-result retrieval: fall back to a web
	// search rather than returning nothing
	if strings.TrimSpace(text) == "" && retrievalCameUpEmpty(st.Messages) {
		query := lastUserText(st.Messages)
		o.logger.Printf("[OK] retrieval empty, synthesizing web_search for %q", query)
		st.Append(llm.Message{
			Role: "assistant",
			ToolCalls: []llm.ToolCall{{
				ID:   o.idGenerator.New(),
				Type: "function",
				Function: &llm.ToolFunction{
					Name:      "web_search",
					Arguments: fmt.Sprintf(`{"query": %q}`, query),
				},
			}},
		})
		return nil
	}

	st.Append(llm.Message{Role: "assistant", Content: text})
	return nil
}

// runKnowledge handles note create/update/search. Tool calls run
// inline here rather than through the tool stage: this worker answers
// the supervisor in one hop with a confirmation, never raw output.
func (o *Orchestrator) runKnowledge(ctx context.Context, st *TurnState) error {
	p := o.personas.Get("knowledge")
	if p == nil {
		return fmt.Errorf("persona %q not loaded", "knowledge")
	}

	resp, err := o.chat(ctx, st, p, "")
	if err != nil {
		if llm.IsRateLimited(err) || llm.IsUnavailable(err) {
			o.appendApology(st, err)
			return nil
		}
		return err
	}

	calls := resp.FirstToolCalls()
	if len(calls) == 0 {
		st.Append(llm.Message{Role: "assistant", Content: resp.FirstText()})
		return nil
	}

	results := o.executeToolCalls(ctx, st, calls)
	var lines []string
	for _, r := range results {
		lines = append(lines, r.Content)
	}
	st.Append(llm.Message{Role: "assistant", Content: strings.Join(lines, "\n")})
	return nil
}

// retrievalCameUpEmpty reports whether a retrieval tool in this run
// returned no passages
func retrievalCameUpEmpty(msgs []llm.Message) bool {
	for i := len(msgs) - 1; i >= 0; i-- {
		m := msgs[i]
		if m.Role != "tool" {
			continue
		}
		if m.Name == "kb_search" || m.Name == "memory_recall" {
			return strings.HasPrefix(m.Content, "No relevant") || strings.HasPrefix(m.Content, "No related")
		}
	}
	return false
}

// lastUserText returns the content of the most recent user message
func lastUserText(msgs []llm.Message) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == "user" {
			return msgs[i].Content
		}
	}
	return ""
}

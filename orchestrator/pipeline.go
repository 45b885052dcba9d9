package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"github.com/gliderlab/crew/pkg/llm"
)

// retrieveContext seeds the turn state with room configuration and
// recent persisted history. The incoming user message stays last.
func (o *Orchestrator) retrieveContext(st *TurnState) error {
	room, err := o.store.GetRoom(st.RoomID)
	if err != nil {
		return err
	}
	st.Summary = room.Summary
	if room.Persona != "" {
		if p := o.personas.Get(room.Persona); p != nil {
			st.PersonaText = p.SystemPrompt
		}
	}

	history, err := o.store.GetMessages(st.RoomID, o.cfg.HistoryMergeLimit)
	if err != nil {
		return err
	}

	merged := make([]llm.Message, 0, len(history)+len(st.Messages))
	for _, m := range history {
		merged = append(merged, llm.Message{Role: m.Role, Content: m.Content})
	}
	st.historyLen = len(merged)
	st.Messages = append(merged, st.Messages...)
	return nil
}

// persistTurn writes the finished exchange: the run's first user
// message and its final assistant message, provided that message
// carries no pending tool calls. A run that ends mid-tool-call
// persists nothing.
func (o *Orchestrator) persistTurn(st *TurnState) error {
	run := st.RunMessages()

	var userText string
	for _, m := range run {
		if m.Role == "user" {
			userText = displayText(m.Content)
			break
		}
	}

	var asstText string
	for i := len(run) - 1; i >= 0; i-- {
		m := run[i]
		if m.Role == "assistant" {
			if len(m.ToolCalls) > 0 {
				break
			}
			asstText = displayText(m.Content)
			break
		}
	}

	if userText == "" || asstText == "" {
		o.logger.Printf("[WARN] turn ended without a clean exchange, persisting nothing")
		return nil
	}

	if err := o.store.AddMessage(st.RoomID, st.UserID, "user", userText, "", 0, 0); err != nil {
		return err
	}
	if err := o.store.AddMessage(st.RoomID, st.UserID, "assistant", asstText, st.ModelName, st.InputTokens, st.OutputTokens); err != nil {
		return err
	}
	if err := o.store.TouchRoom(st.RoomID); err != nil {
		return err
	}

	// Long-term memory indexing is best effort
	if o.memory != nil {
		if _, err := o.memory.IndexConversation(st.UserID, userText, asstText); err != nil {
			o.logger.Printf("[WARN] conversation indexing failed: %v", err)
		}
	}
	return nil
}

// summarizeRoom compresses old history into the rolling summary once
// the room exceeds the threshold. All but the newest SummaryKeepLast
// messages are folded in and then trimmed from history. A rate-limited
// model leaves the summary unchanged; any other error propagates.
func (o *Orchestrator) summarizeRoom(ctx context.Context, st *TurnState) error {
	count, err := o.store.CountMessages(st.RoomID)
	if err != nil {
		return err
	}
	if count <= o.cfg.SummaryThreshold {
		return nil
	}

	msgs, err := o.store.GetMessages(st.RoomID, count)
	if err != nil {
		return err
	}
	keep := o.cfg.SummaryKeepLast
	if len(msgs) <= keep {
		return nil
	}
	old := msgs[:len(msgs)-keep]

	var sb strings.Builder
	if st.Summary != "" {
		sb.WriteString("Previous summary:\n")
		sb.WriteString(st.Summary)
		sb.WriteString("\n\n")
	}
	sb.WriteString("Conversation:\n")
	for _, m := range old {
		sb.WriteString(m.Role)
		sb.WriteString(": ")
		sb.WriteString(m.Content)
		sb.WriteString("\n")
	}

	p := o.personas.Get("summarizer")
	if p == nil {
		return fmt.Errorf("persona %q not loaded", "summarizer")
	}
	provider, err := o.pickProvider("")
	if err != nil {
		return err
	}

	resp, err := provider.Chat(ctx, &llm.ChatRequest{
		Model: provider.GetConfig().Model,
		Messages: []llm.Message{
			{Role: "system", Content: p.SystemPrompt},
			{Role: "user", Content: sb.String()},
		},
		MaxTokens: o.cfg.MaxTokens,
	})
	if err != nil {
		if llm.IsRateLimited(err) {
			o.logger.Printf("[WARN] summarizer rate limited, keeping old summary")
			return nil
		}
		return err
	}
	st.AddUsage(resp.Usage)

	summary := strings.TrimSpace(resp.FirstText())
	if summary == "" {
		return nil
	}
	if err := o.store.SetRoomSummary(st.RoomID, summary); err != nil {
		return err
	}
	if err := o.store.TrimMessages(st.RoomID, keep); err != nil {
		return err
	}
	o.logger.Printf("[OK] summarized %d messages for room %s", len(old), st.RoomID)
	return nil
}

// displayText normalizes message content for persistence. Multimodal
// parts arrive with empty text; they persist as a placeholder.
func displayText(content string) string {
	if strings.TrimSpace(content) == "" {
		return "[Image]"
	}
	return content
}

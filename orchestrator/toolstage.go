package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/gliderlab/crew/pkg/config"
	"github.com/gliderlab/crew/pkg/llm"
	"github.com/gliderlab/crew/tools"
)

// runToolStage executes the pending tool calls of the last assistant
// message and appends one tool-result message per call, in call order.
// Control always returns to the worker that issued the calls.
func (o *Orchestrator) runToolStage(ctx context.Context, st *TurnState) error {
	last := st.Last()
	if last == nil || len(last.ToolCalls) == 0 {
		return nil
	}
	for _, m := range o.executeToolCalls(ctx, st, last.ToolCalls) {
		st.Append(m)
	}
	return nil
}

// executeToolCalls runs the calls through the registry, dispatched
// concurrently and all awaited; results keep call order. An unknown or
// failing tool produces an error result for that call only; the other
// calls still run. Tools bound their own I/O with client timeouts, so
// the context gates dispatch, not in-flight execution.
func (o *Orchestrator) executeToolCalls(ctx context.Context, st *TurnState, calls []llm.ToolCall) []llm.Message {
	results := make([]llm.Message, len(calls))
	var wg sync.WaitGroup
	for i, tc := range calls {
		if tc.Function == nil {
			continue
		}
		if err := ctx.Err(); err != nil {
			results[i] = llm.Message{
				Role:       "tool",
				Name:       tc.Function.Name,
				ToolCallID: tc.ID,
				Content:    fmt.Sprintf("error: %v", err),
			}
			continue
		}
		wg.Add(1)
		go func(i int, tc llm.ToolCall) {
			defer wg.Done()
			results[i] = llm.Message{
				Role:       "tool",
				Name:       tc.Function.Name,
				ToolCallID: tc.ID,
				Content:    o.callOne(st, tc),
			}
		}(i, tc)
	}
	wg.Wait()

	out := make([]llm.Message, 0, len(results))
	for _, m := range results {
		if m.Role != "" {
			out = append(out, m)
		}
	}
	return out
}

func (o *Orchestrator) callOne(st *TurnState, tc llm.ToolCall) string {
	raw := tc.Function.Arguments
	if strings.TrimSpace(raw) == "" {
		raw = "{}"
	}
	args, err := tools.ParseArgs(raw)
	if err != nil {
		o.logger.Printf("[ERROR] %v: bad args for %s: %v", ErrToolCallRejected, tc.Function.Name, err)
		return fmt.Sprintf("error: invalid arguments: %v", err)
	}
	if args == nil {
		args = map[string]interface{}{}
	}

	// Scope injection: tools never trust the model with identity
	args["room_id"] = st.RoomID
	args["user_id"] = st.UserID

	result, err := o.registry.CallTool(tc.Function.Name, args)
	if err != nil {
		return fmt.Sprintf("error: %v", err)
	}

	var content string
	switch v := result.(type) {
	case string:
		content = v
	case []byte:
		content = string(v)
	default:
		content = fmt.Sprintf("%v", v)
	}
	return tools.Truncate(content, config.MaxToolResultChars)
}

// Memory tool - recall of earlier conversations
package tools

import (
	"fmt"
	"strings"
	"time"

	"github.com/gliderlab/crew/memory"
)

// MemoryRecallTool searches indexed past exchanges for the calling
// user. The orchestrator injects user_id into the call args.
type MemoryRecallTool struct {
	Store *memory.VectorStore
}

func (t *MemoryRecallTool) Name() string { return "memory_recall" }

func (t *MemoryRecallTool) Description() string {
	return "Recall earlier conversations with this user relevant to a query."
}

func (t *MemoryRecallTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"query": map[string]interface{}{
				"type":        "string",
				"description": "What to recall",
			},
		},
		"required": []string{"query"},
	}
}

func (t *MemoryRecallTool) Execute(args map[string]interface{}) (interface{}, error) {
	if t.Store == nil {
		return nil, fmt.Errorf("memory store not configured")
	}
	query := GetString(args, "query")
	if query == "" {
		return nil, fmt.Errorf("query required")
	}
	userID := GetString(args, "user_id")
	if userID == "" {
		return nil, fmt.Errorf("user_id required")
	}

	results, err := t.Store.Search(memory.CollectionConversations, userID, query, 0, 0)
	if err != nil {
		return nil, fmt.Errorf("memory recall: %w", err)
	}
	if len(results) == 0 {
		return "No related conversations found.", nil
	}

	var sb strings.Builder
	for i, r := range results {
		when := time.Unix(r.Entry.CreatedAt, 0).Format("2006-01-02")
		fmt.Fprintf(&sb, "[%d] %s\n%s\n", i+1, when, r.Entry.Text)
	}
	return sb.String(), nil
}

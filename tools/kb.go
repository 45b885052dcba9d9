// Knowledge base tool - room-scoped document retrieval
package tools

import (
	"fmt"
	"strings"

	"github.com/gliderlab/crew/memory"
)

// KBSearchTool searches the document collection for the current room.
// The orchestrator injects room_id into the call args; the model only
// supplies the query.
type KBSearchTool struct {
	Store *memory.VectorStore
}

func (t *KBSearchTool) Name() string { return "kb_search" }

func (t *KBSearchTool) Description() string {
	return "Search the knowledge base for passages relevant to a query."
}

func (t *KBSearchTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"query": map[string]interface{}{
				"type":        "string",
				"description": "What to look for",
			},
			"limit": map[string]interface{}{
				"type":        "integer",
				"description": "Max passages (default 5)",
			},
		},
		"required": []string{"query"},
	}
}

func (t *KBSearchTool) Execute(args map[string]interface{}) (interface{}, error) {
	if t.Store == nil {
		return nil, fmt.Errorf("knowledge base not configured")
	}
	query := GetString(args, "query")
	if query == "" {
		return nil, fmt.Errorf("query required")
	}
	roomID := GetString(args, "room_id")
	if roomID == "" {
		return nil, fmt.Errorf("room_id required")
	}
	limit := GetInt(args, "limit")

	results, err := t.Store.Search(memory.CollectionDocuments, roomID, query, limit, 0)
	if err != nil {
		return nil, fmt.Errorf("kb search: %w", err)
	}
	if len(results) == 0 {
		return "No relevant passages found.", nil
	}

	var sb strings.Builder
	for i, r := range results {
		fmt.Fprintf(&sb, "[%d] (%.2f) %s\n", i+1, r.Score, r.Entry.Text)
	}
	return sb.String(), nil
}

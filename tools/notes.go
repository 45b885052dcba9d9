// Notes tool - create and update stored notes
package tools

import (
	"fmt"
	"strings"

	"github.com/gliderlab/crew/storage"
)

// NoteSaveTool creates or updates a note in the current room. The
// orchestrator injects room_id into the call args.
type NoteSaveTool struct {
	Storage *storage.Storage
}

func (t *NoteSaveTool) Name() string { return "note_save" }

func (t *NoteSaveTool) Description() string {
	return "Create a note, or update it if one with the same title exists."
}

func (t *NoteSaveTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"title": map[string]interface{}{
				"type":        "string",
				"description": "Note title",
			},
			"content": map[string]interface{}{
				"type":        "string",
				"description": "Note body",
			},
		},
		"required": []string{"title", "content"},
	}
}

func (t *NoteSaveTool) Execute(args map[string]interface{}) (interface{}, error) {
	if t.Storage == nil {
		return nil, fmt.Errorf("storage not configured")
	}
	title := GetString(args, "title")
	content := GetString(args, "content")
	if title == "" || content == "" {
		return nil, fmt.Errorf("title and content required")
	}
	roomID := GetString(args, "room_id")
	if roomID == "" {
		return nil, fmt.Errorf("room_id required")
	}

	if err := t.Storage.SaveNote(roomID, title, content); err != nil {
		return nil, fmt.Errorf("save note: %w", err)
	}
	return fmt.Sprintf("Successfully saved note %q", title), nil
}

// NoteUpdateTool rewrites an existing note. Unlike note_save it refuses
// to create: an update without a resolvable target is rejected so the
// model searches for the exact title first.
type NoteUpdateTool struct {
	Storage *storage.Storage
}

func (t *NoteUpdateTool) Name() string { return "note_update" }

func (t *NoteUpdateTool) Description() string {
	return "Update an existing note by its exact title. Use note_search first if the title is uncertain."
}

func (t *NoteUpdateTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"title": map[string]interface{}{
				"type":        "string",
				"description": "Exact title of the note to update",
			},
			"content": map[string]interface{}{
				"type":        "string",
				"description": "New note body",
			},
		},
		"required": []string{"title", "content"},
	}
}

func (t *NoteUpdateTool) Execute(args map[string]interface{}) (interface{}, error) {
	if t.Storage == nil {
		return nil, fmt.Errorf("storage not configured")
	}
	title := GetString(args, "title")
	content := GetString(args, "content")
	if title == "" || content == "" {
		return nil, fmt.Errorf("title and content required")
	}
	roomID := GetString(args, "room_id")
	if roomID == "" {
		return nil, fmt.Errorf("room_id required")
	}

	if _, err := t.Storage.GetNote(roomID, title); err != nil {
		return nil, fmt.Errorf("no note titled %q exists; use note_search to find the exact title first", title)
	}
	if err := t.Storage.SaveNote(roomID, title, content); err != nil {
		return nil, fmt.Errorf("update note: %w", err)
	}
	return fmt.Sprintf("Successfully updated note %q", title), nil
}

// NoteSearchTool finds stored notes by keyword so updates can resolve
// their target title
type NoteSearchTool struct {
	Storage *storage.Storage
}

func (t *NoteSearchTool) Name() string { return "note_search" }

func (t *NoteSearchTool) Description() string {
	return "Search the room's notes by keyword and list matching titles."
}

func (t *NoteSearchTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"keyword": map[string]interface{}{
				"type":        "string",
				"description": "Title or content keyword",
			},
			"limit": map[string]interface{}{
				"type":        "integer",
				"description": "Max notes (default 5)",
			},
		},
		"required": []string{"keyword"},
	}
}

func (t *NoteSearchTool) Execute(args map[string]interface{}) (interface{}, error) {
	if t.Storage == nil {
		return nil, fmt.Errorf("storage not configured")
	}
	keyword := GetString(args, "keyword")
	if keyword == "" {
		return nil, fmt.Errorf("keyword required")
	}
	roomID := GetString(args, "room_id")
	if roomID == "" {
		return nil, fmt.Errorf("room_id required")
	}
	limit := GetInt(args, "limit")
	if limit <= 0 {
		limit = 5
	}

	notes, err := t.Storage.SearchNotes(roomID, keyword, limit)
	if err != nil {
		return nil, fmt.Errorf("search notes: %w", err)
	}
	if len(notes) == 0 {
		return "No matching notes found.", nil
	}

	var sb strings.Builder
	for i, n := range notes {
		fmt.Fprintf(&sb, "[%d] %s\n%s\n", i+1, n.Title, Truncate(n.Content, 300))
	}
	return sb.String(), nil
}

package tools

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/gliderlab/crew/storage"
)

func TestToolRegistry(t *testing.T) {
	registry := NewRegistry()

	// Test empty registry
	if len(registry.tools) != 0 {
		t.Errorf("Expected 0 tools, got %d", len(registry.tools))
	}

	registry.Register(&CurrentTimeTool{})

	if len(registry.tools) != 1 {
		t.Errorf("Expected 1 tool, got %d", len(registry.tools))
	}

	tool, ok := registry.Get("current_time")
	if !ok {
		t.Error("Expected to find 'current_time' tool")
	}
	if tool == nil {
		t.Error("Tool should not be nil")
	}

	_, ok = registry.Get("nonexistent")
	if ok {
		t.Error("Should not find non-existent tool")
	}
}

func TestToolRegistryList(t *testing.T) {
	registry := NewRegistry()
	registry.Register(&CurrentTimeTool{})
	registry.Register(&WebSearchTool{})
	registry.Register(&WebFetchTool{})

	tools := registry.List()
	if len(tools) != 3 {
		t.Errorf("Expected 3 tools, got %d", len(tools))
	}
}

func TestToolRegistryGetToolSpecs(t *testing.T) {
	registry := NewRegistry()
	registry.Register(&CurrentTimeTool{})

	specs := registry.GetToolSpecs()
	if len(specs) != 1 {
		t.Errorf("Expected 1 tool spec, got %d", len(specs))
	}
}

func TestCallToolUnknown(t *testing.T) {
	registry := NewRegistry()
	registry.Register(&CurrentTimeTool{})

	_, err := registry.CallTool("no_such_tool", map[string]interface{}{})
	if err == nil {
		t.Error("Expected error for unknown tool")
	}
}

func TestCallToolPolicy(t *testing.T) {
	registry := NewRegistry()
	registry.Register(&CurrentTimeTool{})
	registry.Register(&WebSearchTool{})
	registry.SetPolicy(&ToolsPolicy{Allow: []string{"group:time"}})

	if _, err := registry.CallTool("current_time", map[string]interface{}{}); err != nil {
		t.Errorf("current_time should be allowed: %v", err)
	}
	if _, err := registry.CallTool("web_search", map[string]interface{}{"query": "x"}); err == nil {
		t.Error("web_search should be denied by policy")
	}
}

func TestIsToolAllowed(t *testing.T) {
	// Deny wins over allow
	p := &ToolsPolicy{
		Allow: []string{"group:web", "current_time"},
		Deny:  []string{"web_fetch"},
	}
	if !IsToolAllowed(p, "web_search") {
		t.Error("web_search should be allowed via group:web")
	}
	if IsToolAllowed(p, "web_fetch") {
		t.Error("web_fetch should be denied explicitly")
	}
	if !IsToolAllowed(p, "current_time") {
		t.Error("current_time should be allowed")
	}
	if IsToolAllowed(p, "note_save") {
		t.Error("note_save should not be in the allow list")
	}

	// Nil policy allows everything
	if !IsToolAllowed(nil, "anything") {
		t.Error("nil policy should allow all tools")
	}
}

func TestCurrentTimeTool(t *testing.T) {
	tool := &CurrentTimeTool{}

	out, err := tool.Execute(map[string]interface{}{})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	s, ok := out.(string)
	if !ok || s == "" {
		t.Error("Expected non-empty time string")
	}

	_, err = tool.Execute(map[string]interface{}{"timezone": "Not/AZone"})
	if err == nil {
		t.Error("Expected error for bad timezone")
	}
}

func TestNoteSaveToolValidation(t *testing.T) {
	tool := &NoteSaveTool{}

	// No storage configured
	_, err := tool.Execute(map[string]interface{}{
		"title": "t", "content": "c", "room_id": "r1",
	})
	if err == nil {
		t.Error("Expected error without storage")
	}
}

func openNoteStorage(t *testing.T) *storage.Storage {
	t.Helper()
	s, err := storage.New(filepath.Join(t.TempDir(), "notes.db"))
	if err != nil {
		t.Fatalf("open storage: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestNoteUpdateToolRequiresExistingNote(t *testing.T) {
	store := openNoteStorage(t)
	update := &NoteUpdateTool{Storage: store}

	_, err := update.Execute(map[string]interface{}{
		"title": "missing", "content": "new body", "room_id": "r1",
	})
	if err == nil {
		t.Fatal("Expected rejection when the target note does not exist")
	}
	if !strings.Contains(err.Error(), "note_search") {
		t.Errorf("Rejection should point at note_search: %v", err)
	}

	save := &NoteSaveTool{Storage: store}
	if _, err := save.Execute(map[string]interface{}{
		"title": "missing", "content": "body", "room_id": "r1",
	}); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	out, err := update.Execute(map[string]interface{}{
		"title": "missing", "content": "new body", "room_id": "r1",
	})
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if !strings.HasPrefix(out.(string), "Successfully updated") {
		t.Errorf("Unexpected confirmation: %v", out)
	}
}

func TestNoteSearchTool(t *testing.T) {
	store := openNoteStorage(t)
	save := &NoteSaveTool{Storage: store}
	save.Execute(map[string]interface{}{
		"title": "Shopping list", "content": "milk, eggs", "room_id": "r1",
	})

	search := &NoteSearchTool{Storage: store}
	out, err := search.Execute(map[string]interface{}{
		"keyword": "Shopping", "room_id": "r1",
	})
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if !strings.Contains(out.(string), "Shopping list") {
		t.Errorf("Expected the note title in results: %v", out)
	}

	out, err = search.Execute(map[string]interface{}{
		"keyword": "nothing here", "room_id": "r1",
	})
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if out.(string) != "No matching notes found." {
		t.Errorf("Expected empty-result message, got %v", out)
	}
}

func TestKBSearchToolValidation(t *testing.T) {
	tool := &KBSearchTool{}
	if _, err := tool.Execute(map[string]interface{}{"query": "x", "room_id": "r1"}); err == nil {
		t.Error("Expected error without store")
	}
}

func TestWebFetchToolRejectsBadURL(t *testing.T) {
	tool := &WebFetchTool{}
	if _, err := tool.Execute(map[string]interface{}{"url": "ftp://example.com"}); err == nil {
		t.Error("Expected error for non-http scheme")
	}
	if _, err := tool.Execute(map[string]interface{}{}); err == nil {
		t.Error("Expected error for missing url")
	}
}

func TestStripTags(t *testing.T) {
	got := stripTags("<b>Hello</b> &amp; <i>world</i>")
	if got != "Hello & world" {
		t.Errorf("stripTags = %q", got)
	}
}

func TestTruncate(t *testing.T) {
	long := strings.Repeat("a", 100)
	got := Truncate(long, 10)
	if len(got) >= 100 {
		t.Errorf("Expected truncated string, got %d chars", len(got))
	}
	short := "hello"
	if Truncate(short, 10) != "hello" {
		t.Error("Short strings should pass through")
	}
}

func TestGetString(t *testing.T) {
	args := map[string]interface{}{"name": "test"}
	result := GetString(args, "name")
	if result != "test" {
		t.Errorf("Expected 'test', got '%s'", result)
	}

	result = GetString(args, "missing")
	if result != "" {
		t.Errorf("Expected empty string, got '%s'", result)
	}

	args = map[string]interface{}{"name": 123}
	result = GetString(args, "name")
	if result != "" {
		t.Errorf("Expected empty string for wrong type, got '%s'", result)
	}
}

func TestGetInt(t *testing.T) {
	args := map[string]interface{}{"count": 42}
	result := GetInt(args, "count")
	if result != 42 {
		t.Errorf("Expected 42, got %d", result)
	}

	result = GetInt(args, "missing")
	if result != 0 {
		t.Errorf("Expected 0, got %d", result)
	}

	// JSON numbers arrive as float64
	args = map[string]interface{}{"count": 42.5}
	result = GetInt(args, "count")
	if result != 42 {
		t.Errorf("Expected 42, got %d", result)
	}

	args = map[string]interface{}{"count": "string"}
	result = GetInt(args, "count")
	if result != 0 {
		t.Errorf("Expected 0 for wrong type, got %d", result)
	}
}

func TestGetBool(t *testing.T) {
	args := map[string]interface{}{"enabled": true}
	if !GetBool(args, "enabled") {
		t.Error("Expected true")
	}

	args = map[string]interface{}{"enabled": false}
	if GetBool(args, "enabled") {
		t.Error("Expected false")
	}

	if GetBool(args, "missing") {
		t.Error("Expected false for missing key")
	}

	// GetBool only handles bool type, not string "true"/"false"
	args = map[string]interface{}{"enabled": "true"}
	if GetBool(args, "enabled") {
		t.Error("Expected false for string 'true' (not supported)")
	}
}

func TestGetFloat64(t *testing.T) {
	args := map[string]interface{}{"value": 3.14}
	result := GetFloat64(args, "value")
	if result != 3.14 {
		t.Errorf("Expected 3.14, got %f", result)
	}

	result = GetFloat64(args, "missing")
	if result != 0 {
		t.Errorf("Expected 0, got %f", result)
	}

	args = map[string]interface{}{"value": 10}
	result = GetFloat64(args, "value")
	if result != 10 {
		t.Errorf("Expected 10, got %f", result)
	}
}

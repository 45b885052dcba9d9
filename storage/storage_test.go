package storage

import (
	"path/filepath"
	"testing"
)

func openTestStorage(t *testing.T) *Storage {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestMessagesRoundTrip(t *testing.T) {
	s := openTestStorage(t)

	if err := s.AddMessage("room-1", "u1", "user", "Hello", "", 0, 0); err != nil {
		t.Fatalf("AddMessage failed: %v", err)
	}
	if err := s.AddMessage("room-1", "u1", "assistant", "Hi there", "llama3", 12, 5); err != nil {
		t.Fatalf("AddMessage failed: %v", err)
	}
	if err := s.AddMessage("room-2", "u2", "user", "Other room", "", 0, 0); err != nil {
		t.Fatalf("AddMessage failed: %v", err)
	}

	msgs, err := s.GetMessages("room-1", 50)
	if err != nil {
		t.Fatalf("GetMessages failed: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("Expected 2 messages, got %d", len(msgs))
	}
	if msgs[0].Role != "user" || msgs[1].Role != "assistant" {
		t.Error("Messages should be in chronological order")
	}
	if msgs[1].Model != "llama3" || msgs[1].InputTokens != 12 || msgs[1].OutputTokens != 5 {
		t.Errorf("Token accounting lost: %+v", msgs[1])
	}

	count, err := s.CountMessages("room-1")
	if err != nil {
		t.Fatalf("CountMessages failed: %v", err)
	}
	if count != 2 {
		t.Errorf("Expected count 2, got %d", count)
	}
}

func TestGetMessagesLimitKeepsNewest(t *testing.T) {
	s := openTestStorage(t)

	for _, content := range []string{"one", "two", "three"} {
		if err := s.AddMessage("room-1", "u1", "user", content, "", 0, 0); err != nil {
			t.Fatalf("AddMessage failed: %v", err)
		}
	}

	msgs, err := s.GetMessages("room-1", 2)
	if err != nil {
		t.Fatalf("GetMessages failed: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("Expected 2 messages, got %d", len(msgs))
	}
	if msgs[0].Content != "two" || msgs[1].Content != "three" {
		t.Errorf("Expected newest two in order, got %q then %q", msgs[0].Content, msgs[1].Content)
	}
}

func TestRoomSummaryAndPersona(t *testing.T) {
	s := openTestStorage(t)

	room, err := s.GetRoom("room-1")
	if err != nil {
		t.Fatalf("GetRoom failed: %v", err)
	}
	if room.RoomID != "room-1" || room.Summary != "" {
		t.Errorf("Unknown room should be zero-valued, got %+v", room)
	}

	if err := s.SetRoomSummary("room-1", "talked about cats"); err != nil {
		t.Fatalf("SetRoomSummary failed: %v", err)
	}
	if err := s.SetRoomPersona("room-1", "pirate"); err != nil {
		t.Fatalf("SetRoomPersona failed: %v", err)
	}

	room, err = s.GetRoom("room-1")
	if err != nil {
		t.Fatalf("GetRoom failed: %v", err)
	}
	if room.Summary != "talked about cats" {
		t.Errorf("Expected summary, got %q", room.Summary)
	}
	if room.Persona != "pirate" {
		t.Errorf("Expected persona, got %q", room.Persona)
	}
}

func TestResetRoom(t *testing.T) {
	s := openTestStorage(t)

	s.AddMessage("room-1", "u1", "user", "Hello", "", 0, 0)
	s.SetRoomSummary("room-1", "summary")

	if err := s.ResetRoom("room-1"); err != nil {
		t.Fatalf("ResetRoom failed: %v", err)
	}

	count, _ := s.CountMessages("room-1")
	if count != 0 {
		t.Errorf("Expected 0 messages after reset, got %d", count)
	}
	room, _ := s.GetRoom("room-1")
	if room.Summary != "" {
		t.Errorf("Expected empty summary after reset, got %q", room.Summary)
	}
}

func TestNotes(t *testing.T) {
	s := openTestStorage(t)

	if err := s.SaveNote("room-1", "groceries", "milk, eggs"); err != nil {
		t.Fatalf("SaveNote failed: %v", err)
	}
	// Upsert by title
	if err := s.SaveNote("room-1", "groceries", "milk, eggs, bread"); err != nil {
		t.Fatalf("SaveNote update failed: %v", err)
	}

	n, err := s.GetNote("room-1", "groceries")
	if err != nil {
		t.Fatalf("GetNote failed: %v", err)
	}
	if n.Content != "milk, eggs, bread" {
		t.Errorf("Expected updated content, got %q", n.Content)
	}

	notes, err := s.SearchNotes("room-1", "bread", 10)
	if err != nil {
		t.Fatalf("SearchNotes failed: %v", err)
	}
	if len(notes) != 1 {
		t.Errorf("Expected 1 search hit, got %d", len(notes))
	}

	// Notes are room scoped
	notes, _ = s.SearchNotes("room-2", "bread", 10)
	if len(notes) != 0 {
		t.Errorf("Expected no hits in other room, got %d", len(notes))
	}

	if _, err := s.GetNote("room-1", "missing"); err == nil {
		t.Error("Expected error for missing note")
	}
}

func TestConfigRoundTrip(t *testing.T) {
	s := openTestStorage(t)

	if err := s.SetConfig("llm", "model", "llama3"); err != nil {
		t.Fatalf("SetConfig failed: %v", err)
	}
	if err := s.SetConfig("llm", "model", "llama3.1"); err != nil {
		t.Fatalf("SetConfig update failed: %v", err)
	}

	v, err := s.GetConfig("llm", "model")
	if err != nil {
		t.Fatalf("GetConfig failed: %v", err)
	}
	if v != "llama3.1" {
		t.Errorf("Expected 'llama3.1', got '%s'", v)
	}

	// Missing keys return empty, no error
	v, err = s.GetConfig("llm", "nope")
	if err != nil || v != "" {
		t.Errorf("Expected empty value for missing key, got %q err %v", v, err)
	}

	section, err := s.GetConfigSection("llm")
	if err != nil {
		t.Fatalf("GetConfigSection failed: %v", err)
	}
	if len(section) != 1 {
		t.Errorf("Expected 1 entry, got %d", len(section))
	}
}

func TestStats(t *testing.T) {
	s := openTestStorage(t)

	s.AddMessage("room-1", "u1", "user", "Hello", "", 0, 0)
	s.TouchRoom("room-1")
	s.SaveNote("room-1", "t", "c")

	stats, err := s.Stats()
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats["messages"] != 1 || stats["rooms"] != 1 || stats["notes"] != 1 {
		t.Errorf("Unexpected stats: %v", stats)
	}
}

package orchestrator

import (
	"context"
	"fmt"
	"testing"

	"github.com/gliderlab/crew/pkg/llm"
	"github.com/gliderlab/crew/pkg/personas"
)

func TestPersistSkipsPendingToolCalls(t *testing.T) {
	o, store := newTestOrchestrator(t, func(req *llm.ChatRequest) (*llm.ChatResponse, error) {
		return textResponse("unused"), nil
	}, alwaysDecide(WorkerGeneral))

	st := &TurnState{
		UserID: "u1", RoomID: "r1",
		Messages: []llm.Message{
			user("do something"),
			{Role: "assistant", ToolCalls: []llm.ToolCall{{
				ID: "c1", Type: "function",
				Function: &llm.ToolFunction{Name: "kb_search", Arguments: `{}`},
			}}},
		},
	}

	if err := o.persistTurn(st); err != nil {
		t.Fatal(err)
	}
	count, _ := store.CountMessages("r1")
	if count != 0 {
		t.Errorf("a run ending mid-tool-call must persist nothing, got %d rows", count)
	}
}

func TestPersistWritesExchange(t *testing.T) {
	o, store := newTestOrchestrator(t, func(req *llm.ChatRequest) (*llm.ChatResponse, error) {
		return textResponse("unused"), nil
	}, alwaysDecide(WorkerGeneral))

	st := &TurnState{
		UserID: "u1", RoomID: "r1", ModelName: "fake-model",
		InputTokens: 12, OutputTokens: 8,
		Messages: []llm.Message{
			user("question"),
			asst("partial thought"),
			user("clarified"),
			asst("final answer"),
		},
	}

	if err := o.persistTurn(st); err != nil {
		t.Fatal(err)
	}
	msgs, _ := store.GetMessages("r1", 10)
	if len(msgs) != 2 {
		t.Fatalf("expected first-user and final-assistant rows, got %d", len(msgs))
	}
	if msgs[0].Content != "question" {
		t.Errorf("user row = %q, want the run's first user message", msgs[0].Content)
	}
	if msgs[1].Content != "final answer" || msgs[1].Model != "fake-model" || msgs[1].InputTokens != 12 {
		t.Errorf("assistant row = %+v", msgs[1])
	}
}

func TestPersistNormalizesImageContent(t *testing.T) {
	o, store := newTestOrchestrator(t, func(req *llm.ChatRequest) (*llm.ChatResponse, error) {
		return textResponse("unused"), nil
	}, alwaysDecide(WorkerGeneral))

	st := &TurnState{
		UserID: "u1", RoomID: "r1",
		Messages: []llm.Message{
			user(""), // Multimodal message with no text part
			asst("what a nice photo"),
		},
	}
	if err := o.persistTurn(st); err != nil {
		t.Fatal(err)
	}
	msgs, _ := store.GetMessages("r1", 10)
	if len(msgs) != 2 || msgs[0].Content != "[Image]" {
		t.Errorf("image-only content should persist as placeholder: %+v", msgs)
	}
}

func TestSummarizeBelowThresholdIsNoOp(t *testing.T) {
	o, store := newTestOrchestrator(t, func(req *llm.ChatRequest) (*llm.ChatResponse, error) {
		t.Error("summarizer must not be invoked under the threshold")
		return textResponse("unwanted"), nil
	}, alwaysDecide(WorkerGeneral))

	for i := 0; i < 6; i++ {
		store.AddMessage("r1", "u1", "user", fmt.Sprintf("m%d", i), "", 0, 0)
	}

	st := &TurnState{UserID: "u1", RoomID: "r1"}
	if err := o.summarizeRoom(context.Background(), st); err != nil {
		t.Fatal(err)
	}
	count, _ := store.CountMessages("r1")
	if count != 6 {
		t.Errorf("history should be untouched, got %d", count)
	}
}

func TestSummarizeRoundTrip(t *testing.T) {
	o, store := newTestOrchestrator(t, func(req *llm.ChatRequest) (*llm.ChatResponse, error) {
		return textResponse("the merged summary"), nil
	}, alwaysDecide(WorkerGeneral))

	for i := 1; i <= 15; i++ {
		role := "user"
		if i%2 == 0 {
			role = "assistant"
		}
		store.AddMessage("r1", "u1", role, fmt.Sprintf("m%d", i), "", 0, 0)
	}

	st := &TurnState{UserID: "u1", RoomID: "r1", Summary: "old summary"}
	if err := o.summarizeRoom(context.Background(), st); err != nil {
		t.Fatal(err)
	}

	room, _ := store.GetRoom("r1")
	if room.Summary != "the merged summary" {
		t.Errorf("summary = %q", room.Summary)
	}

	// All but the last 4 messages folded in and trimmed
	msgs, _ := store.GetMessages("r1", 20)
	if len(msgs) != 4 {
		t.Fatalf("expected 4 remaining messages, got %d", len(msgs))
	}
	for i, want := range []string{"m12", "m13", "m14", "m15"} {
		if msgs[i].Content != want {
			t.Errorf("msgs[%d] = %q, want %q", i, msgs[i].Content, want)
		}
	}
}

func TestSummarizeMissingPersonaErrors(t *testing.T) {
	o, store := newTestOrchestrator(t, func(req *llm.ChatRequest) (*llm.ChatResponse, error) {
		return textResponse("unwanted"), nil
	}, alwaysDecide(WorkerGeneral))
	o.personas = personas.NewRegistry("") // catalog never loaded

	for i := 1; i <= 15; i++ {
		store.AddMessage("r1", "u1", "user", fmt.Sprintf("m%d", i), "", 0, 0)
	}

	st := &TurnState{UserID: "u1", RoomID: "r1"}
	if err := o.summarizeRoom(context.Background(), st); err == nil {
		t.Fatal("a missing summarizer persona should error, not panic")
	}
}

func TestSummarizeSwallowsRateLimit(t *testing.T) {
	o, store := newTestOrchestrator(t, func(req *llm.ChatRequest) (*llm.ChatResponse, error) {
		return nil, &llm.StatusError{Provider: "fake", StatusCode: 429, Body: "slow down"}
	}, alwaysDecide(WorkerGeneral))

	for i := 1; i <= 15; i++ {
		store.AddMessage("r1", "u1", "user", fmt.Sprintf("m%d", i), "", 0, 0)
	}

	st := &TurnState{UserID: "u1", RoomID: "r1"}
	if err := o.summarizeRoom(context.Background(), st); err != nil {
		t.Fatalf("rate limit must be swallowed: %v", err)
	}
	count, _ := store.CountMessages("r1")
	if count != 15 {
		t.Errorf("history must be untouched after a rate limit, got %d", count)
	}
}

func TestDisplayText(t *testing.T) {
	if displayText("hello") != "hello" {
		t.Error("text passes through")
	}
	if displayText("") != "[Image]" {
		t.Error("empty content becomes the image placeholder")
	}
	if displayText("   ") != "[Image]" {
		t.Error("whitespace-only content becomes the image placeholder")
	}
}

func TestWindowMessages(t *testing.T) {
	msgs := []llm.Message{
		user("some older context that is fairly long and costly"),
		asst("a reply"),
		user("newest"),
	}

	// Budget too small for everything still keeps the newest message
	out := windowMessages(msgs, 1)
	if len(out) == 0 || out[len(out)-1].Content != "newest" {
		t.Errorf("newest message must survive, got %+v", out)
	}

	// A generous budget keeps everything in order
	out = windowMessages(msgs, 100000)
	if len(out) != 3 || out[0].Content != msgs[0].Content {
		t.Errorf("generous budget should keep all messages, got %d", len(out))
	}
}

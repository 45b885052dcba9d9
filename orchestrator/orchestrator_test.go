package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gliderlab/crew/pkg/config"
	"github.com/gliderlab/crew/pkg/llm"
	"github.com/gliderlab/crew/pkg/personas"
	"github.com/gliderlab/crew/storage"
	"github.com/gliderlab/crew/tools"
)

// fakeProvider serves canned chat responses in place of a real backend
type fakeProvider struct {
	ptype  llm.ProviderType
	chatFn func(req *llm.ChatRequest) (*llm.ChatResponse, error)
}

func (f *fakeProvider) Name() string           { return string(f.ptype) }
func (f *fakeProvider) Type() llm.ProviderType { return f.ptype }
func (f *fakeProvider) GetConfig() llm.Config {
	return llm.Config{Type: f.ptype, Model: "fake-model"}
}
func (f *fakeProvider) Chat(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	return f.chatFn(req)
}
func (f *fakeProvider) ChatStream(ctx context.Context, req *llm.ChatRequest, fn func(*llm.StreamChunk)) error {
	resp, err := f.chatFn(req)
	if err != nil {
		return err
	}
	fn(&llm.StreamChunk{Choices: []llm.StreamChoice{{Delta: llm.StreamDelta{Content: resp.FirstText()}}}})
	return nil
}
func (f *fakeProvider) Embeddings(ctx context.Context, req *llm.EmbedRequest) (*llm.EmbedResponse, error) {
	return nil, llm.ErrCapabilityNotSupported
}

func textResponse(text string) *llm.ChatResponse {
	return &llm.ChatResponse{
		Choices: []llm.Choice{{Message: llm.Message{Role: "assistant", Content: text}}},
		Usage:   llm.Usage{PromptTokens: 7, CompletionTokens: 3},
	}
}

func toolCallResponse(id, name, args string) *llm.ChatResponse {
	return &llm.ChatResponse{
		Choices: []llm.Choice{{Message: llm.Message{
			Role: "assistant",
			ToolCalls: []llm.ToolCall{{
				ID: id, Type: "function",
				Function: &llm.ToolFunction{Name: name, Arguments: args},
			}},
		}}},
		Usage: llm.Usage{PromptTokens: 7, CompletionTokens: 3},
	}
}

type stubTool struct {
	name  string
	reply string
}

func (s *stubTool) Name() string        { return s.name }
func (s *stubTool) Description() string { return "stub" }
func (s *stubTool) Parameters() map[string]interface{} {
	return map[string]interface{}{"type": "object"}
}
func (s *stubTool) Execute(args map[string]interface{}) (interface{}, error) {
	return s.reply, nil
}

func newTestOrchestrator(t *testing.T, chatFn func(req *llm.ChatRequest) (*llm.ChatResponse, error), decide decFunc) (*Orchestrator, *storage.Storage) {
	t.Helper()

	store, err := storage.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open storage: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	pers := personas.NewRegistry("")
	if err := pers.Load(); err != nil {
		t.Fatalf("load personas: %v", err)
	}

	reg := tools.NewRegistry()
	reg.Register(&stubTool{name: "kb_search", reply: "No relevant passages found."})
	reg.Register(&stubTool{name: "web_search", reply: "1. A result"})
	reg.Register(&stubTool{name: "memory_recall", reply: "No related conversations found."})
	reg.Register(&stubTool{name: "current_time", reply: "Monday"})
	reg.Register(&tools.NoteSaveTool{Storage: store})

	llm.RegisterProvider(&fakeProvider{ptype: llm.ProviderOllama, chatFn: chatFn})

	o := New(config.DefaultOrchestratorConfig(), store, nil, reg, pers, nil, WithDecider(decide))
	return o, store
}

func alwaysDecide(w Worker) decFunc {
	return func(ctx context.Context, history []llm.Message) (RoutingDecision, error) {
		return RoutingDecision{Next: w, Reasoning: "test"}, nil
	}
}

func TestStepBudgetExceeded(t *testing.T) {
	// A model that always wants another tool call never terminates on
	// its own; the budget has to stop it
	calls := 0
	o, _ := newTestOrchestrator(t, func(req *llm.ChatRequest) (*llm.ChatResponse, error) {
		calls++
		return toolCallResponse(fmt.Sprintf("call-%d", calls), "kb_search", `{"query": "x"}`), nil
	}, alwaysDecide(WorkerResearcher))

	_, err := o.RunTurn(context.Background(), "u1", "r1", "loop forever", "")
	if !errors.Is(err, ErrRecursionExceeded) {
		t.Fatalf("expected ErrRecursionExceeded, got %v", err)
	}
}

func TestGeneralPathEndToEnd(t *testing.T) {
	o, store := newTestOrchestrator(t, func(req *llm.ChatRequest) (*llm.ChatResponse, error) {
		return textResponse("Hello!"), nil
	}, alwaysDecide(WorkerGeneral))

	// Two pre-existing history rows
	store.AddMessage("r1", "u1", "user", "earlier question", "", 0, 0)
	store.AddMessage("r1", "u1", "assistant", "earlier answer", "fake-model", 5, 5)

	msgs, err := o.RunTurn(context.Background(), "u1", "r1", "hi", "")
	if err != nil {
		t.Fatal(err)
	}
	if FinalReply(msgs) != "Hello!" {
		t.Errorf("final reply = %q", FinalReply(msgs))
	}

	count, _ := store.CountMessages("r1")
	if count != 4 {
		t.Errorf("expected 4 persisted messages, got %d", count)
	}

	// Well under the summary threshold: no summary written
	room, _ := store.GetRoom("r1")
	if room.Summary != "" {
		t.Errorf("summary should be empty, got %q", room.Summary)
	}
}

func TestRunTurnRecordsTokenUsage(t *testing.T) {
	o, store := newTestOrchestrator(t, func(req *llm.ChatRequest) (*llm.ChatResponse, error) {
		return textResponse("ok"), nil
	}, alwaysDecide(WorkerGeneral))

	if _, err := o.RunTurn(context.Background(), "u1", "r1", "hi", ""); err != nil {
		t.Fatal(err)
	}

	msgs, _ := store.GetMessages("r1", 10)
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	a := msgs[1]
	if a.Role != "assistant" || a.InputTokens == 0 || a.OutputTokens == 0 {
		t.Errorf("assistant row should carry token counts: %+v", a)
	}
}

func TestSupervisorNeverFinishesOnFreshUserMessage(t *testing.T) {
	s := NewSupervisor(alwaysDecide(WorkerFinish), nil)
	st := &TurnState{Messages: []llm.Message{user("hi")}}

	d := s.Route(context.Background(), st)
	if d.Next == WorkerFinish {
		t.Error("a fresh user message must never be left unanswered")
	}
}

func TestSupervisorFastPath(t *testing.T) {
	consulted := false
	s := NewSupervisor(decFunc(func(ctx context.Context, _ []llm.Message) (RoutingDecision, error) {
		consulted = true
		return RoutingDecision{Next: WorkerGeneral}, nil
	}), nil)

	st := &TurnState{Messages: []llm.Message{user("hi"), asst("answered")}}
	d := s.Route(context.Background(), st)
	if d.Next != WorkerFinish {
		t.Errorf("completed reply should finish, got %s", d.Next)
	}
	if consulted {
		t.Error("fast path should skip the decision model")
	}
}

func TestSupervisorRoutingFailureDefaultsToGeneral(t *testing.T) {
	s := NewSupervisor(decFunc(func(ctx context.Context, _ []llm.Message) (RoutingDecision, error) {
		return RoutingDecision{}, errors.New("model exploded")
	}), nil)

	st := &TurnState{Messages: []llm.Message{user("hi")}}
	d := s.Route(context.Background(), st)
	if d.Next != WorkerGeneral {
		t.Errorf("routing failure should default to the general worker, got %s", d.Next)
	}
}

func TestSupervisorForcesFinishOnLoop(t *testing.T) {
	s := NewSupervisor(alwaysDecide(WorkerGeneral), nil)
	st := &TurnState{Messages: []llm.Message{
		asst("same"), asst("same"), asst("same"),
		{Role: "tool", Name: "kb_search", Content: "x"},
	}}

	d := s.Route(context.Background(), st)
	if d.Next != WorkerFinish {
		t.Errorf("3 identical assistant replies should force FINISH, got %s", d.Next)
	}
}

func TestSupervisorIgnoresLoopsInMergedHistory(t *testing.T) {
	// Repeated assistant rows loaded from storage look like a loop but
	// belong to earlier turns; the incoming user message is still fresh
	s := NewSupervisor(alwaysDecide(WorkerGeneral), nil)
	st := &TurnState{
		Messages: []llm.Message{
			asst("Sorry, I don't know."),
			asst("Sorry, I don't know."),
			asst("Sorry, I don't know."),
			user("what is the weather today?"),
		},
		historyLen: 3,
	}

	d := s.Route(context.Background(), st)
	if d.Next != WorkerGeneral {
		t.Errorf("persisted repeats must not swallow a fresh user message, got %s", d.Next)
	}
}

func TestSupervisorFreshUserOverridesLoopFinish(t *testing.T) {
	// Even a loop-forced FINISH may not leave a user message unanswered
	s := NewSupervisor(alwaysDecide(WorkerGeneral), nil)
	st := &TurnState{Messages: []llm.Message{
		asst("same"), asst("same"), asst("same"),
		user("hello?"),
	}}

	d := s.Route(context.Background(), st)
	if d.Next == WorkerFinish {
		t.Error("a fresh user message must never be left unanswered")
	}
}

func TestSupervisorPassesSummaryToDecider(t *testing.T) {
	var got []llm.Message
	s := NewSupervisor(decFunc(func(ctx context.Context, history []llm.Message) (RoutingDecision, error) {
		got = history
		return RoutingDecision{Next: WorkerGeneral}, nil
	}), nil)

	st := &TurnState{
		Summary:  "The user is planning a trip to Lisbon.",
		Messages: []llm.Message{user("book the hotel we discussed")},
	}
	s.Route(context.Background(), st)

	if len(got) != 2 || got[0].Role != "system" {
		t.Fatalf("expected a leading summary message, got %+v", got)
	}
	if !strings.Contains(got[0].Content, "Lisbon") {
		t.Errorf("summary text should reach the routing input: %q", got[0].Content)
	}
	if got[1].Content != "book the hotel we discussed" {
		t.Errorf("history should follow the summary, got %+v", got[1])
	}
}

func TestResearcherForcesRetrievalOnFreshMessage(t *testing.T) {
	var forced string
	o, _ := newTestOrchestrator(t, func(req *llm.ChatRequest) (*llm.ChatResponse, error) {
		forced = req.ToolChoice
		return textResponse("answer from documents"), nil
	}, alwaysDecide(WorkerResearcher))

	st := newTurnState("u1", "r1", "what do the docs say", "")
	if err := o.runResearcher(context.Background(), st); err != nil {
		t.Fatal(err)
	}
	if forced != "kb_search" {
		t.Errorf("fresh user message should force kb_search, forced = %q", forced)
	}
}

func TestResearcherFallbackWebSearch(t *testing.T) {
	o, _ := newTestOrchestrator(t, func(req *llm.ChatRequest) (*llm.ChatResponse, error) {
		return textResponse(""), nil // Model gives up
	}, alwaysDecide(WorkerResearcher))

	st := &TurnState{
		UserID: "u1", RoomID: "r1",
		Messages: []llm.Message{
			user("find X"),
			{Role: "assistant", ToolCalls: []llm.ToolCall{{
				ID: "c1", Type: "function",
				Function: &llm.ToolFunction{Name: "kb_search", Arguments: `{"query": "X"}`},
			}}},
			{Role: "tool", Name: "kb_search", ToolCallID: "c1", Content: "No relevant passages found."},
		},
	}

	if err := o.runResearcher(context.Background(), st); err != nil {
		t.Fatal(err)
	}
	last := st.Last()
	if last == nil || len(last.ToolCalls) != 1 || last.ToolCalls[0].Function.Name != "web_search" {
		t.Fatalf("expected a synthesized web_search call, got %+v", last)
	}
	if !strings.Contains(last.ToolCalls[0].Function.Arguments, "find X") {
		t.Errorf("fallback query should come from the user message: %s", last.ToolCalls[0].Function.Arguments)
	}
}

func TestToolStageRefusesUnknownTool(t *testing.T) {
	o, _ := newTestOrchestrator(t, func(req *llm.ChatRequest) (*llm.ChatResponse, error) {
		return textResponse("unused"), nil
	}, alwaysDecide(WorkerGeneral))

	st := &TurnState{
		UserID: "u1", RoomID: "r1",
		Messages: []llm.Message{
			{Role: "assistant", ToolCalls: []llm.ToolCall{
				{ID: "c1", Type: "function", Function: &llm.ToolFunction{Name: "made_up_tool", Arguments: `{}`}},
				{ID: "c2", Type: "function", Function: &llm.ToolFunction{Name: "current_time", Arguments: `{}`}},
			}},
		},
	}

	if err := o.runToolStage(context.Background(), st); err != nil {
		t.Fatal(err)
	}
	if len(st.Messages) != 3 {
		t.Fatalf("expected 2 tool results, got %d messages", len(st.Messages))
	}
	if !strings.HasPrefix(st.Messages[1].Content, "error:") {
		t.Errorf("unknown tool should produce an error result: %q", st.Messages[1].Content)
	}
	if st.Messages[2].Content != "Monday" {
		t.Errorf("other calls should still run: %q", st.Messages[2].Content)
	}
}

func TestToolStageInjectsScope(t *testing.T) {
	seen := make(map[string]interface{})
	o, _ := newTestOrchestrator(t, func(req *llm.ChatRequest) (*llm.ChatResponse, error) {
		return textResponse("unused"), nil
	}, alwaysDecide(WorkerGeneral))
	o.registry.Register(&scopeTool{seen: seen})

	st := &TurnState{
		UserID: "u42", RoomID: "r7",
		Messages: []llm.Message{
			{Role: "assistant", ToolCalls: []llm.ToolCall{
				{ID: "c1", Type: "function", Function: &llm.ToolFunction{Name: "scope_probe", Arguments: `{"query": "q"}`}},
			}},
		},
	}
	if err := o.runToolStage(context.Background(), st); err != nil {
		t.Fatal(err)
	}
	if seen["room_id"] != "r7" || seen["user_id"] != "u42" {
		t.Errorf("scope not injected: %+v", seen)
	}
}

func TestToolStageSkipsDispatchWhenCancelled(t *testing.T) {
	seen := make(map[string]interface{})
	o, _ := newTestOrchestrator(t, func(req *llm.ChatRequest) (*llm.ChatResponse, error) {
		return textResponse("unused"), nil
	}, alwaysDecide(WorkerGeneral))
	o.registry.Register(&scopeTool{seen: seen})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	st := &TurnState{
		UserID: "u1", RoomID: "r1",
		Messages: []llm.Message{
			{Role: "assistant", ToolCalls: []llm.ToolCall{
				{ID: "c1", Type: "function", Function: &llm.ToolFunction{Name: "scope_probe", Arguments: `{}`}},
			}},
		},
	}
	if err := o.runToolStage(ctx, st); err != nil {
		t.Fatal(err)
	}
	if len(seen) != 0 {
		t.Error("a cancelled run must not dispatch tools")
	}
	if len(st.Messages) != 2 || !strings.HasPrefix(st.Messages[1].Content, "error:") {
		t.Errorf("the call should get an error result: %+v", st.Messages[1:])
	}
}

type scopeTool struct {
	seen map[string]interface{}
}

func (s *scopeTool) Name() string        { return "scope_probe" }
func (s *scopeTool) Description() string { return "records its args" }
func (s *scopeTool) Parameters() map[string]interface{} {
	return map[string]interface{}{"type": "object"}
}
func (s *scopeTool) Execute(args map[string]interface{}) (interface{}, error) {
	for k, v := range args {
		s.seen[k] = v
	}
	return "ok", nil
}

func TestApologyOnBackendOutage(t *testing.T) {
	o, _ := newTestOrchestrator(t, func(req *llm.ChatRequest) (*llm.ChatResponse, error) {
		return nil, &llm.StatusError{Provider: "fake", StatusCode: 503, Body: "down"}
	}, alwaysDecide(WorkerGeneral))

	msgs, err := o.RunTurn(context.Background(), "u1", "r1", "hi", "")
	if err != nil {
		t.Fatalf("an outage must not fail the run: %v", err)
	}
	if FinalReply(msgs) != apologyText {
		t.Errorf("expected the apology, got %q", FinalReply(msgs))
	}
}

func TestSessionSerialization(t *testing.T) {
	o, _ := newTestOrchestrator(t, func(req *llm.ChatRequest) (*llm.ChatResponse, error) {
		return textResponse("ok"), nil
	}, alwaysDecide(WorkerGeneral))

	if _, err := o.RunTurn(context.Background(), "u1", "r1", "one", ""); err != nil {
		t.Fatal(err)
	}
	if _, err := o.RunTurn(context.Background(), "u1", "r1", "two", ""); err != nil {
		t.Fatal(err)
	}
	if o.SessionCount() != 1 {
		t.Errorf("same identity should reuse one lock, got %d", o.SessionCount())
	}
}

func TestRunTurnStreaming(t *testing.T) {
	o, _ := newTestOrchestrator(t, func(req *llm.ChatRequest) (*llm.ChatResponse, error) {
		return textResponse("Here is a reasonably long streamed answer for you."), nil
	}, alwaysDecide(WorkerGeneral))

	var chunks []Chunk
	err := o.RunTurnStreaming(context.Background(), "u1", "r1", "hi", "", func(c Chunk) {
		chunks = append(chunks, c)
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(chunks) == 0 {
		t.Fatal("expected at least one chunk")
	}
	final := chunks[len(chunks)-1]
	if !strings.Contains(final.Text, "streamed answer") {
		t.Errorf("final chunk = %q", final.Text)
	}
}

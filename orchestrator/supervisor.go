package orchestrator

import (
	"context"

	"github.com/gliderlab/crew/pkg/llm"
)

// Supervisor decides the next worker for each step. It never mutates
// persisted state; its only output is a routing decision.
type Supervisor struct {
	decider Decider
	logger  Logger
}

func NewSupervisor(decider Decider, logger Logger) *Supervisor {
	if logger == nil {
		logger = &defaultLogger{}
	}
	return &Supervisor{decider: decider, logger: logger}
}

// Route produces the routing decision for the current step
func (s *Supervisor) Route(ctx context.Context, st *TurnState) RoutingDecision {
	last := st.Last()

	// Fast path: a finished assistant reply with no pending tool calls
	// means the turn is done. Saves one model round trip.
	if last != nil && last.Role == "assistant" && len(last.ToolCalls) == 0 {
		return RoutingDecision{Next: WorkerFinish, Reasoning: "assistant reply complete"}
	}

	decision, err := s.decider.Decide(ctx, deciderInput(st))
	if err != nil {
		// A failed decision must not fail the run. The general worker
		// can always produce some answer.
		s.logger.Printf("[WARN] routing failed, defaulting to %s: %v", WorkerGeneral, err)
		decision = RoutingDecision{Next: WorkerGeneral, Reasoning: "routing failure fallback"}
	}

	// Loop detection sees this run's messages only. Rows merged in from
	// persisted history may repeat across turns without being a loop.
	if reason, looping := detectLoop(st.RunMessages(), decision.Next); looping {
		s.logger.Printf("[OK] loop detected (%s), forcing FINISH", reason)
		decision = RoutingDecision{Next: WorkerFinish, Reasoning: reason}
	}

	// Never leave a fresh user message unanswered
	if decision.Next == WorkerFinish && last != nil && last.Role == "user" {
		s.logger.Printf("[WARN] overriding FINISH: last message is a fresh user message")
		decision = RoutingDecision{Next: WorkerGeneral, Reasoning: "user message pending"}
	}

	return decision
}

// deciderInput assembles the routing history: the rolling summary as a
// leading system message, then the full merged transcript
func deciderInput(st *TurnState) []llm.Message {
	if st.Summary == "" {
		return st.Messages
	}
	banner := llm.Message{Role: "system", Content: "Summary of the conversation so far:\n" + st.Summary}
	return append([]llm.Message{banner}, st.Messages...)
}

// freshUserMessage reports whether the run's most recent message is an
// unanswered user message
func freshUserMessage(msgs []llm.Message) bool {
	if len(msgs) == 0 {
		return false
	}
	return msgs[len(msgs)-1].Role == "user"
}

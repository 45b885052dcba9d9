package orchestrator

import (
	"strings"

	"github.com/gliderlab/crew/pkg/llm"
)

// Loop heuristics are pure functions over the message list so they can
// be tested without a model in the path. All of them look at the
// assistant-authored subsequence of the last loopWindow messages.

const loopWindow = 10

// lastAssistantContents returns up to max assistant message contents
// from the last loopWindow messages, oldest first
func lastAssistantContents(msgs []llm.Message, max int) []string {
	start := len(msgs) - loopWindow
	if start < 0 {
		start = 0
	}
	var out []string
	for _, m := range msgs[start:] {
		if m.Role == "assistant" {
			out = append(out, m.Content)
		}
	}
	if len(out) > max {
		out = out[len(out)-max:]
	}
	return out
}

// repeatedAssistant reports whether the last 3 assistant messages are
// character-identical
func repeatedAssistant(msgs []llm.Message) bool {
	last := lastAssistantContents(msgs, 3)
	if len(last) < 3 {
		return false
	}
	return last[0] == last[1] && last[1] == last[2]
}

// alternatingAssistant reports an A,B,A,B pattern over the last 4
// assistant messages
func alternatingAssistant(msgs []llm.Message) bool {
	last := lastAssistantContents(msgs, 4)
	if len(last) < 4 {
		return false
	}
	return last[0] == last[2] && last[1] == last[3] && last[0] != last[1]
}

// actionSucceededReinvoke reports whether the latest assistant message
// confirms a completed write action and the decision would send the
// same action worker in again. Action tools phrase success results as
// "Successfully ...", which is what this anchors on.
func actionSucceededReinvoke(msgs []llm.Message, decision Worker) bool {
	if decision != WorkerKnowledge {
		return false
	}
	last := lastAssistantContents(msgs, 1)
	if len(last) == 0 {
		return false
	}
	return strings.HasPrefix(strings.TrimSpace(last[0]), "Successfully")
}

// detectLoop applies all heuristics and returns a forced FINISH
// decision with the reason, or ok=false when no loop is detected
func detectLoop(msgs []llm.Message, decision Worker) (reason string, ok bool) {
	switch {
	case repeatedAssistant(msgs):
		return "last 3 assistant messages identical", true
	case actionSucceededReinvoke(msgs, decision):
		return "action already succeeded, not re-invoking", true
	case alternatingAssistant(msgs):
		return "assistant messages alternating A,B,A,B", true
	}
	return "", false
}

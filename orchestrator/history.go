package orchestrator

import (
	"sync"

	"github.com/gliderlab/crew/pkg/config"
	"github.com/gliderlab/crew/pkg/llm"
	"github.com/pkoukk/tiktoken-go"
)

var (
	encodingOnce sync.Once
	encoding     *tiktoken.Tiktoken
)

// TokenCount estimates tokens in a text using the cl100k_base
// encoding, falling back to a chars/4 heuristic if the encoder cannot
// be initialized
func TokenCount(text string) int {
	encodingOnce.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err == nil {
			encoding = enc
		}
	})
	if encoding == nil {
		return len(text) / 4
	}
	return len(encoding.Encode(text, nil, nil))
}

// windowMessages keeps the newest messages that fit in the token
// budget. The oldest message is always at index 0 of the result, and
// at least the final message survives regardless of size.
func windowMessages(msgs []llm.Message, budget int) []llm.Message {
	if len(msgs) == 0 {
		return msgs
	}
	total := 0
	start := len(msgs)
	for i := len(msgs) - 1; i >= 0; i-- {
		cost := TokenCount(msgs[i].Content) + 4 // Role and framing overhead
		if total+cost > budget && start < len(msgs) {
			break
		}
		total += cost
		start = i
	}
	return msgs[start:]
}

// contextBudget is the token window left for history after reserving
// space for the system prompt and the completion
func (o *Orchestrator) contextBudget() int {
	return config.DefaultContextTokens - config.DefaultReserveTokens - o.cfg.MaxTokens
}

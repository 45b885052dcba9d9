package orchestrator

import (
	"strings"
	"time"

	"github.com/gliderlab/crew/pkg/llm"
)

// ChunkKind tells the delivery channel how to render a chunk
type ChunkKind int

const (
	// ChunkDelta is new independent text: send it as a fresh message
	ChunkDelta ChunkKind = iota
	// ChunkSnapshot is the full text of the message so far: replace
	// the previously sent rendering instead of appending a duplicate
	ChunkSnapshot
)

// Chunk is one flushed unit of user-deliverable text
type Chunk struct {
	Kind ChunkKind
	Text string
}

// StreamBuffer turns the state machine's step outputs into bounded
// text chunks. It flushes when the pending text passes a character
// threshold or enough time has passed since the last flush, and always
// flushes the remainder on Close.
type StreamBuffer struct {
	flushChars int
	flushEvery time.Duration
	emit       func(Chunk)
	now        func() time.Time

	snapshot  string // Text of the message currently being built
	delivered int    // Chars of snapshot already flushed
	started   bool   // Whether any chunk of this message went out
	lastFlush time.Time
}

func NewStreamBuffer(flushChars int, flushEvery time.Duration, emit func(Chunk)) *StreamBuffer {
	b := &StreamBuffer{
		flushChars: flushChars,
		flushEvery: flushEvery,
		emit:       emit,
		now:        time.Now,
	}
	b.lastFlush = b.now()
	return b
}

// Consume extracts displayable text from one step event. Only
// assistant messages with no pending tool calls are user-facing;
// tool-result and tool-call-bearing messages never surface.
func (b *StreamBuffer) Consume(ev StepEvent) {
	if len(ev.Messages) == 0 {
		return
	}
	last := ev.Messages[len(ev.Messages)-1]
	if last.Role != "assistant" || len(last.ToolCalls) > 0 {
		return
	}
	b.Push(last.Content)
}

// Push feeds one text observation into the buffer. Duplicate snapshots
// are dropped; a prefix-extension grows the current message; anything
// else starts a new message.
func (b *StreamBuffer) Push(text string) {
	if text == "" {
		return
	}
	switch {
	case text == b.snapshot:
		// Duplicate observation of the same text
	case b.snapshot != "" && strings.HasPrefix(text, b.snapshot):
		b.snapshot = text
	default:
		b.flush(true)
		b.snapshot = text
		b.delivered = 0
		b.started = false
	}
	b.flush(false)
}

// Close flushes whatever remains
func (b *StreamBuffer) Close() {
	b.flush(true)
}

func (b *StreamBuffer) flush(force bool) {
	pending := len(b.snapshot) - b.delivered
	if pending <= 0 {
		return
	}
	if !force && pending < b.flushChars && b.now().Sub(b.lastFlush) < b.flushEvery {
		return
	}

	kind := ChunkSnapshot
	text := b.snapshot
	if !b.started {
		// First chunk of a message goes out as a new delivery
		kind = ChunkDelta
	}
	b.emit(Chunk{Kind: kind, Text: text})
	b.started = true
	b.delivered = len(b.snapshot)
	b.lastFlush = b.now()
}

// finalAssistantText returns the last assistant message without tool
// calls, used as the blocking form's reply
func finalAssistantText(msgs []llm.Message) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		m := msgs[i]
		if m.Role == "assistant" && len(m.ToolCalls) == 0 {
			return m.Content
		}
	}
	return ""
}

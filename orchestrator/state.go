// Orchestrator module - multi-worker conversation engine
package orchestrator

import (
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/gliderlab/crew/pkg/llm"
)

// Worker identifies one of the routable worker agents
type Worker string

const (
	WorkerResearcher Worker = "Researcher"
	WorkerGeneral    Worker = "GeneralAssistant"
	WorkerKnowledge  Worker = "KnowledgeActionWorker"
	WorkerFinish     Worker = "FINISH"
)

// KnownWorkers maps routable names to their persona keys
var KnownWorkers = map[Worker]string{
	WorkerResearcher: "researcher",
	WorkerGeneral:    "general",
	WorkerKnowledge:  "knowledge",
}

// RoutingDecision is produced once per supervisor step and consumed
// immediately by the edge logic, never retained across steps
type RoutingDecision struct {
	Next      Worker `json:"next"`
	Reasoning string `json:"reasoning"`
}

// TurnState is the mutable record threaded through one run. It is
// owned exclusively by that run and never shared.
type TurnState struct {
	Messages      []llm.Message
	UserID        string
	RoomID        string
	PersonaText   string // System prompt override from the room
	ModelName     string // Model override for this run
	Summary       string // Rolling summary read at start
	Next          Worker // Current routing decision
	InputTokens   int
	OutputTokens  int
	AppliedPrompt string // Last system prompt actually sent

	historyLen int // Messages that came from persisted history, not this run
	steps      int
}

// Last returns the most recent message, or nil
func (st *TurnState) Last() *llm.Message {
	if len(st.Messages) == 0 {
		return nil
	}
	return &st.Messages[len(st.Messages)-1]
}

// RunMessages returns the messages produced by this run, excluding
// the persisted history merged in at the start
func (st *TurnState) RunMessages() []llm.Message {
	return st.Messages[st.historyLen:]
}

// Append adds a message to the run. Messages are append-only; nothing
// truncates them mid-run.
func (st *TurnState) Append(m llm.Message) {
	st.Messages = append(st.Messages, m)
}

// AddUsage accumulates token counters from one model invocation
func (st *TurnState) AddUsage(u llm.Usage) {
	st.InputTokens += u.PromptTokens
	st.OutputTokens += u.CompletionTokens
}

// StepEvent is emitted after each node of the state machine completes
type StepEvent struct {
	Node     string
	Messages []llm.Message // Full message list at that point
}

// TimeProvider interface for dependency injection
type TimeProvider interface {
	Now() time.Time
	Sleep(duration time.Duration)
}

// IDGenerator interface for dependency injection
type IDGenerator interface {
	New() string
}

// Logger interface for dependency injection
type Logger interface {
	Print(v ...interface{})
	Printf(format string, v ...interface{})
}

// Default implementations
type defaultTimeProvider struct{}

func (d *defaultTimeProvider) Now() time.Time { return time.Now() }
func (d *defaultTimeProvider) Sleep(duration time.Duration) {
	time.Sleep(duration)
}

type defaultIDGenerator struct {
	seq uint64
}

func (d *defaultIDGenerator) New() string {
	ns := time.Now().UnixNano()
	n := atomic.AddUint64(&d.seq, 1)
	return fmt.Sprintf("%d-%d", ns, n)
}

type defaultLogger struct{}

func (d *defaultLogger) Print(v ...interface{})                 { log.Print(v...) }
func (d *defaultLogger) Printf(format string, v ...interface{}) { log.Printf(format, v...) }

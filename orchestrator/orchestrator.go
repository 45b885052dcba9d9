package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gliderlab/crew/memory"
	"github.com/gliderlab/crew/pkg/config"
	"github.com/gliderlab/crew/pkg/llm"
	"github.com/gliderlab/crew/pkg/llmhealth"
	"github.com/gliderlab/crew/pkg/personas"
	"github.com/gliderlab/crew/storage"
	"github.com/gliderlab/crew/tools"
)

// Orchestrator provides dependency injection for the conversation
// engine and owns the only cross-run shared state: the per-identity
// session locks.
type Orchestrator struct {
	cfg      *config.OrchestratorConfig
	store    *storage.Storage
	memory   *memory.VectorStore
	registry *tools.Registry
	personas *personas.Registry
	health   *llmhealth.Manager

	supervisor *Supervisor

	// Injected dependencies (optional)
	timeProvider TimeProvider
	idGenerator  IDGenerator
	logger       Logger

	// Per-identity serialization. Runs for the same identity execute
	// strictly in order; different identities run concurrently.
	sessionMu sync.Mutex
	sessions  map[string]*session
	lastSweep time.Time
}

type session struct {
	mu       sync.Mutex
	lastUsed time.Time
}

// Option configures an Orchestrator
type Option func(*Orchestrator)

func WithTimeProvider(tp TimeProvider) Option {
	return func(o *Orchestrator) { o.timeProvider = tp }
}

func WithIDGenerator(g IDGenerator) Option {
	return func(o *Orchestrator) { o.idGenerator = g }
}

func WithLogger(l Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithDecider replaces the default local-first decider, mainly for tests
func WithDecider(d Decider) Option {
	return func(o *Orchestrator) { o.supervisor = NewSupervisor(d, o.logger) }
}

// New wires the conversation engine. The supervisor's decision step
// tries the local backend first under a short deadline and falls back
// to cloud.
func New(cfg *config.OrchestratorConfig, store *storage.Storage, mem *memory.VectorStore,
	registry *tools.Registry, pers *personas.Registry, health *llmhealth.Manager, opts ...Option) *Orchestrator {

	if cfg == nil {
		cfg = config.DefaultOrchestratorConfig()
	}

	o := &Orchestrator{
		cfg:          cfg,
		store:        store,
		memory:       mem,
		registry:     registry,
		personas:     pers,
		health:       health,
		timeProvider: &defaultTimeProvider{},
		idGenerator:  &defaultIDGenerator{},
		logger:       &defaultLogger{},
		sessions:     make(map[string]*session),
	}

	for _, opt := range opts {
		opt(o)
	}

	if o.supervisor == nil {
		supervisorPrompt := ""
		if p := pers.Get("supervisor"); p != nil {
			supervisorPrompt = p.SystemPrompt
		}
		local := NewModelDecider(llm.ProviderOllama, "", supervisorPrompt)
		cloud := NewModelDecider(llm.ProviderGoogle, "", supervisorPrompt)
		localHealthy := func() bool { return health == nil || health.Healthy(llm.ProviderOllama) }
		decider := NewFallbackDecider(local, cloud, cfg.LocalDeciderTimeout, localHealthy, o.logger)
		o.supervisor = NewSupervisor(decider, o.logger)
	}
	return o
}

// pickProvider selects a model backend: an explicit persona override
// first, then the health manager's current primary, then any other
// healthy registered backend
func (o *Orchestrator) pickProvider(override string) (llm.Provider, error) {
	if override != "" {
		return llm.GetProvider(llm.ProviderType(override))
	}

	order := []llm.ProviderType{llm.ProviderOllama, llm.ProviderGoogle, llm.ProviderCustom}
	if o.health != nil {
		primary := o.health.GetPrimary()
		if o.health.Healthy(primary) {
			if p, err := llm.GetProvider(primary); err == nil {
				return p, nil
			}
		}
		for _, t := range order {
			if t == primary || !o.health.Healthy(t) {
				continue
			}
			if p, err := llm.GetProvider(t); err == nil {
				return p, nil
			}
		}
		return nil, fmt.Errorf("no healthy llm provider registered")
	}

	for _, t := range order {
		if p, err := llm.GetProvider(t); err == nil {
			return p, nil
		}
	}
	return nil, fmt.Errorf("no llm provider registered")
}

// lockSession serializes runs per external identity and returns the
// unlock function. The lock map is swept on acquisition so identities
// seen long ago do not accumulate forever.
func (o *Orchestrator) lockSession(identity string) func() {
	o.sessionMu.Lock()
	now := o.timeProvider.Now()
	if now.Sub(o.lastSweep) > o.cfg.SessionIdleTTL {
		for id, s := range o.sessions {
			if id != identity && now.Sub(s.lastUsed) > o.cfg.SessionIdleTTL && s.mu.TryLock() {
				s.mu.Unlock()
				delete(o.sessions, id)
			}
		}
		o.lastSweep = now
	}
	s, ok := o.sessions[identity]
	if !ok {
		s = &session{}
		o.sessions[identity] = s
	}
	s.lastUsed = now
	o.sessionMu.Unlock()

	s.mu.Lock()
	return s.mu.Unlock
}

// newTurnState builds the ephemeral state for one run
func newTurnState(userID, roomID, text, modelOverride string) *TurnState {
	return &TurnState{
		Messages:  []llm.Message{{Role: "user", Content: text}},
		UserID:    userID,
		RoomID:    roomID,
		ModelName: modelOverride,
	}
}

// RunTurn processes one inbound message to completion and returns the
// run's messages. The final reply is the last assistant message
// without tool calls.
func (o *Orchestrator) RunTurn(ctx context.Context, userID, roomID, text, modelOverride string) ([]llm.Message, error) {
	unlock := o.lockSession(userID)
	defer unlock()

	st := newTurnState(userID, roomID, text, modelOverride)
	if err := o.run(ctx, st, nil); err != nil {
		return nil, err
	}
	return st.Messages[st.historyLen:], nil
}

// FinalReply extracts the user-facing text from RunTurn's result
func FinalReply(msgs []llm.Message) string {
	return finalAssistantText(msgs)
}

// RunTurnStreaming processes one inbound message, delivering text
// incrementally through emit. The chunk kinds let the channel edit a
// previously sent message without rendering duplicates.
func (o *Orchestrator) RunTurnStreaming(ctx context.Context, userID, roomID, text, modelOverride string, emit func(Chunk)) error {
	unlock := o.lockSession(userID)
	defer unlock()

	st := newTurnState(userID, roomID, text, modelOverride)
	buf := NewStreamBuffer(o.cfg.StreamFlushChars, o.cfg.StreamFlushInterval, emit)
	err := o.run(ctx, st, buf.Consume)
	buf.Close()
	return err
}

// SessionCount reports how many identity locks are live
func (o *Orchestrator) SessionCount() int {
	o.sessionMu.Lock()
	defer o.sessionMu.Unlock()
	return len(o.sessions)
}

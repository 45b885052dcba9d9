package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/gliderlab/crew/pkg/llm"
)

// Decider picks the next worker from the accumulated history. Two
// implementations exist: a single-backend model decider and a
// fallback combinator that tries a local backend with a short timeout
// before a cloud one.
type Decider interface {
	Decide(ctx context.Context, history []llm.Message) (RoutingDecision, error)
}

// modelDecider asks one model backend for a structured decision
type modelDecider struct {
	provider llm.ProviderType
	model    string // empty means the provider default
	prompt   string // supervisor system prompt
}

func NewModelDecider(provider llm.ProviderType, model, prompt string) Decider {
	return &modelDecider{provider: provider, model: model, prompt: prompt}
}

const decisionInstruction = `Reply with a single JSON object and nothing else:
{"next": "<Researcher|GeneralAssistant|KnowledgeActionWorker|FINISH>", "reasoning": "<one sentence>"}`

func (d *modelDecider) Decide(ctx context.Context, history []llm.Message) (RoutingDecision, error) {
	p, err := llm.GetProvider(d.provider)
	if err != nil {
		return RoutingDecision{}, err
	}

	msgs := make([]llm.Message, 0, len(history)+2)
	msgs = append(msgs, llm.Message{Role: "system", Content: d.prompt + "\n\n" + decisionInstruction})
	msgs = append(msgs, history...)

	model := d.model
	if model == "" {
		model = p.GetConfig().Model
	}

	resp, err := p.Chat(ctx, &llm.ChatRequest{
		Model:     model,
		Messages:  msgs,
		MaxTokens: 200,
	})
	if err != nil {
		return RoutingDecision{}, err
	}

	return parseDecision(resp.FirstText())
}

// parseDecision extracts a routing decision from model output. Strict
// JSON first, then a lenient scan for worker names, since small local
// models wrap JSON in prose more often than not.
func parseDecision(text string) (RoutingDecision, error) {
	text = strings.TrimSpace(text)

	// Strip fenced code blocks
	if i := strings.Index(text, "{"); i >= 0 {
		if j := strings.LastIndex(text, "}"); j > i {
			var d RoutingDecision
			if err := json.Unmarshal([]byte(text[i:j+1]), &d); err == nil && validWorker(d.Next) {
				return d, nil
			}
		}
	}

	for _, w := range []Worker{WorkerFinish, WorkerResearcher, WorkerKnowledge, WorkerGeneral} {
		if strings.Contains(text, string(w)) {
			return RoutingDecision{Next: w, Reasoning: "recovered from unstructured output"}, nil
		}
	}

	return RoutingDecision{}, fmt.Errorf("%w: unparseable decision %q", ErrRoutingFailure, truncateForLog(text))
}

func validWorker(w Worker) bool {
	if w == WorkerFinish {
		return true
	}
	_, ok := KnownWorkers[w]
	return ok
}

func truncateForLog(s string) string {
	if len(s) > 120 {
		return s[:120] + "..."
	}
	return s
}

// fallbackDecider tries the local decider under a short deadline and
// falls through to the cloud decider when it errors, times out, or is
// known to be unhealthy
type fallbackDecider struct {
	local        Decider
	cloud        Decider
	localTimeout time.Duration
	localHealthy func() bool // nil means always try local
	logger       Logger
}

func NewFallbackDecider(local, cloud Decider, localTimeout time.Duration, localHealthy func() bool, logger Logger) Decider {
	if logger == nil {
		logger = &defaultLogger{}
	}
	return &fallbackDecider{
		local:        local,
		cloud:        cloud,
		localTimeout: localTimeout,
		localHealthy: localHealthy,
		logger:       logger,
	}
}

func (d *fallbackDecider) Decide(ctx context.Context, history []llm.Message) (RoutingDecision, error) {
	if d.local != nil && (d.localHealthy == nil || d.localHealthy()) {
		lctx, cancel := context.WithTimeout(ctx, d.localTimeout)
		decision, err := d.local.Decide(lctx, history)
		cancel()
		if err == nil {
			return decision, nil
		}
		d.logger.Printf("[WARN] local decider failed, falling back: %v", err)
	}

	if d.cloud == nil {
		return RoutingDecision{}, fmt.Errorf("%w: no decision backend available", ErrRoutingFailure)
	}
	return d.cloud.Decide(ctx, history)
}

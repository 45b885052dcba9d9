package orchestrator

import (
	"context"
	"fmt"
)

// The run is an explicit finite state machine rather than framework
// edges: a state enum, a transition per node, and a step counter owned
// by the turn state. Exactly one node is active at any time.

type nodeState int

const (
	nodeRetrieveContext nodeState = iota
	nodeSupervisor
	nodeResearcher
	nodeGeneral
	nodeKnowledge
	nodeToolStage
	nodePersist
	nodeSummarize
	nodeEnd
)

func (n nodeState) String() string {
	switch n {
	case nodeRetrieveContext:
		return "retrieve_context"
	case nodeSupervisor:
		return "supervisor"
	case nodeResearcher:
		return "researcher"
	case nodeGeneral:
		return "general"
	case nodeKnowledge:
		return "knowledge"
	case nodeToolStage:
		return "tool_stage"
	case nodePersist:
		return "persist"
	case nodeSummarize:
		return "summarize"
	default:
		return "end"
	}
}

// workerNode maps a routing decision to its graph node
func workerNode(w Worker) nodeState {
	switch w {
	case WorkerResearcher:
		return nodeResearcher
	case WorkerKnowledge:
		return nodeKnowledge
	case WorkerFinish:
		return nodePersist
	default:
		return nodeGeneral
	}
}

// run drives the state machine for one turn. emit fires after every
// node completion; pass nil for the blocking form.
func (o *Orchestrator) run(ctx context.Context, st *TurnState, emit func(StepEvent)) error {
	state := nodeRetrieveContext

	for state != nodeEnd {
		if err := ctx.Err(); err != nil {
			return err
		}

		var next nodeState
		switch state {
		case nodeRetrieveContext:
			if err := o.retrieveContext(st); err != nil {
				return err
			}
			next = nodeSupervisor

		case nodeSupervisor:
			if err := o.spendStep(st); err != nil {
				return err
			}
			decision := o.supervisor.Route(ctx, st)
			st.Next = decision.Next
			o.logger.Printf("[OK] route: %s (%s)", decision.Next, decision.Reasoning)
			next = workerNode(decision.Next)

		case nodeResearcher:
			if err := o.spendStep(st); err != nil {
				return err
			}
			if err := o.runResearcher(ctx, st); err != nil {
				return err
			}
			// A reply carrying tool calls goes to the tool stage;
			// plain text goes back to the supervisor
			if last := st.Last(); last != nil && len(last.ToolCalls) > 0 {
				next = nodeToolStage
			} else {
				next = nodeSupervisor
			}

		case nodeGeneral:
			if err := o.spendStep(st); err != nil {
				return err
			}
			if err := o.runGeneral(ctx, st); err != nil {
				return err
			}
			next = nodeSupervisor

		case nodeKnowledge:
			if err := o.spendStep(st); err != nil {
				return err
			}
			if err := o.runKnowledge(ctx, st); err != nil {
				return err
			}
			next = nodeSupervisor

		case nodeToolStage:
			// Budget is checked before dispatch: an exhausted run
			// aborts here with no partial results appended
			if err := o.spendStep(st); err != nil {
				return err
			}
			if err := o.runToolStage(ctx, st); err != nil {
				return err
			}
			next = nodeResearcher

		case nodePersist:
			if err := o.persistTurn(st); err != nil {
				return err
			}
			next = nodeSummarize

		case nodeSummarize:
			if err := o.summarizeRoom(ctx, st); err != nil {
				return err
			}
			next = nodeEnd

		default:
			return fmt.Errorf("orchestrator: unknown state %d", state)
		}

		if emit != nil {
			emit(StepEvent{Node: state.String(), Messages: st.Messages})
		}
		state = next
	}

	return nil
}

// spendStep consumes one hop of the step budget. Hitting the budget is
// a hard abort, never a silent loop.
func (o *Orchestrator) spendStep(st *TurnState) error {
	st.steps++
	if st.steps > o.cfg.StepBudget {
		return fmt.Errorf("%w: %d steps (budget %d)", ErrRecursionExceeded, st.steps, o.cfg.StepBudget)
	}
	return nil
}

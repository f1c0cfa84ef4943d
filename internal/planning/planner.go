// Package planning is the Coordinator's pure decision layer (spec.md
// §4.4). It takes an immutable WorkflowState snapshot and a Command and
// returns a complete flat list of Decisions plus TraceEvents. It never
// touches the store, the clock (beyond the `now` it is handed), or any
// network client — every side effect is a Decision for internal/apply to
// carry out.
package planning

import (
	"fmt"
	"sort"
	"time"

	"github.com/wonderhq/coordinator/internal/condition"
	"github.com/wonderhq/coordinator/internal/decision"
	"github.com/wonderhq/coordinator/internal/model"
	"github.com/wonderhq/coordinator/internal/trace"
)

// Result is everything one command's planning pass produces.
type Result struct {
	Decisions []decision.Decision
	Trace     []trace.Event
}

// Planner is stateless and safe for concurrent use across runs (each run
// is single-writer at the dispatcher level, not here).
type Planner struct {
	evaluator *condition.Evaluator
}

func New(evaluator *condition.Evaluator) *Planner {
	return &Planner{evaluator: evaluator}
}

// Plan is the single entry point. now is supplied by the caller (the
// dispatcher) rather than read from the system clock, so that the same
// (state, cmd, now) triple always yields byte-identical decisions —
// the property spec.md §8 invariant 6 (replay) depends on.
func (p *Planner) Plan(state *model.WorkflowState, cmd decision.Command, now time.Time) (Result, error) {
	b := &builder{state: state, runID: cmd.RunID, now: now}

	var err error
	switch cmd.Type {
	case decision.CmdStartWorkflow:
		err = p.planStart(b, cmd.StartWorkflow)
	case decision.CmdTaskCompleted:
		err = p.planTaskCompleted(b, cmd.TaskCompleted)
	case decision.CmdTaskFailed:
		err = p.planTaskFailed(b, cmd.TaskFailed)
	case decision.CmdSubworkflowDone:
		err = p.planSubworkflowDone(b, cmd.SubworkflowDone)
	case decision.CmdAlarmFired:
		err = p.planAlarm(b, cmd.AlarmFired)
	case decision.CmdCancelWorkflow:
		err = p.planCancel(b, cmd.CancelWorkflow)
	default:
		err = fmt.Errorf("planning: unknown command type %q", cmd.Type)
	}
	if err != nil {
		return Result{}, err
	}
	return Result{Decisions: b.decisions, Trace: b.trace}, nil
}

// builder accumulates the output of one planning pass.
type builder struct {
	state *model.WorkflowState
	runID string
	now   time.Time

	decisions []decision.Decision
	trace     []trace.Event
}

func (b *builder) emit(d decision.Decision) {
	b.decisions = append(b.decisions, d)
}

func (b *builder) emitTrace(kind, tokenID, nodeID string, detail map[string]interface{}) {
	b.trace = append(b.trace, trace.NewEvent(b.now, b.runID, kind, tokenID, nodeID, detail))
}

// transitionByID scans the definition for a transition with the given ID.
// Definitions are small (tens to low hundreds of transitions); a linear
// scan keeps WorkflowDefinition free of a second index to keep in sync.
func transitionByID(def *model.WorkflowDefinition, id string) (*model.Transition, bool) {
	for _, transitions := range def.TransitionsBySource {
		for _, tr := range transitions {
			if tr.ID == id {
				return tr, true
			}
		}
	}
	return nil, false
}

// sortByBranchIndex returns tokens ordered ascending by BranchIndex.
func sortByBranchIndex(tokens []model.Token) []model.Token {
	sort.Slice(tokens, func(i, j int) bool { return tokens[i].BranchIndex < tokens[j].BranchIndex })
	return tokens
}

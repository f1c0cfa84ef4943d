package planning

import (
	"fmt"
	"strings"

	"github.com/wonderhq/coordinator/internal/decision"
	"github.com/wonderhq/coordinator/internal/model"
)

// planAlarm handles SCHEDULE_ALARM wakeups. Reason is a colon-prefixed tag
// the scheduling decision stamped on the alarm: "fan_in_timeout:<sibling
// group>|<fan_in_node_id>" or "subworkflow_timeout:<parent_token_id>". The
// trampoline's own drain wakeups never reach planning — the trampoline
// claims pending_dispatch rows directly (spec.md §5, "depth-breaking
// trampoline").
func (p *Planner) planAlarm(b *builder, cmd *decision.AlarmFiredCmd) error {
	kind, rest, found := strings.Cut(cmd.Reason, ":")
	if !found {
		b.emitTrace("decision.routing.ignoring_unhandled_alarm", "", "", map[string]interface{}{"reason": cmd.Reason})
		return nil
	}
	switch kind {
	case "fan_in_timeout":
		return p.planFanInTimeout(b, rest)
	case "subworkflow_timeout":
		return p.planSubworkflowTimeout(b, rest)
	default:
		b.emitTrace("decision.routing.ignoring_unhandled_alarm", "", "", map[string]interface{}{"reason": cmd.Reason})
		return nil
	}
}

func (p *Planner) planFanInTimeout(b *builder, rest string) error {
	siblingGroup, fanInNodeID, found := strings.Cut(rest, "|")
	if !found {
		return fmt.Errorf("planning: malformed fan_in_timeout alarm reason %q", rest)
	}

	fanIn, ok := b.state.FanIns[(model.FanIn{SiblingGroup: siblingGroup, FanInNodeID: fanInNodeID}).Key()]
	if !ok || fanIn.ActivatedAt != nil {
		b.emitTrace("decision.sync.ignoring_stale_fan_in_timeout", "", fanInNodeID, map[string]interface{}{"sibling_group": siblingGroup})
		return nil
	}

	lastDot := strings.LastIndex(siblingGroup, ".")
	if lastDot < 0 {
		return fmt.Errorf("planning: malformed sibling group %q", siblingGroup)
	}
	origTr, ok := transitionByID(b.state.Definition, siblingGroup[lastDot+1:])
	if !ok || origTr.Sync == nil {
		return fmt.Errorf("planning: cannot resolve originating transition for sibling group %q", siblingGroup)
	}

	if origTr.Sync.OnTimeout != model.OnTimeoutProceedWithAvailable {
		return p.failWorkflow(b, model.Token{NodeID: fanInNodeID}, "fan_in_timeout",
			"fan-in %q at %q timed out waiting for siblings", siblingGroup, fanInNodeID)
	}

	siblings := sortByBranchIndex(b.state.TokensInSiblingGroup(siblingGroup))
	var activator model.Token
	for _, s := range siblings {
		switch s.Status {
		case model.TokenCompleted, model.TokenWaitingForSiblings:
			activator = s
		case model.TokenDispatched, model.TokenExecuting:
			b.emit(decision.Decision{
				Type: decision.CancelToken,
				CancelTokenPayload: &decision.CancelTokenP{TokenID: s.ID, Reason: "fan_in_timeout"},
			})
		}
	}
	if activator.ID == "" {
		return p.failWorkflow(b, model.Token{NodeID: fanInNodeID}, "fan_in_timeout",
			"fan-in %q at %q timed out with no arrived branches", siblingGroup, fanInNodeID)
	}

	b.emitTrace("decision.sync.proceeding_with_available", "", fanInNodeID, map[string]interface{}{
		"sibling_group": siblingGroup, "arrived": fanIn.Arrived, "total": fanIn.Total,
	})
	return p.activateFanIn(b, activator, siblingGroup, fanInNodeID, origTr, fanIn.Arrived, fanIn.Total)
}

func (p *Planner) planSubworkflowTimeout(b *builder, parentTokenID string) error {
	token, ok := b.state.Tokens[parentTokenID]
	if !ok || token.Status.IsTerminal() {
		b.emitTrace("decision.completion.ignoring_stale_subworkflow_timeout", parentTokenID, "", nil)
		return nil
	}
	b.emit(decision.Decision{
		Type: decision.UpdateTokenStatus,
		UpdateTokenStatusPayload: &decision.UpdateTokenStatusP{
			TokenID: token.ID, From: token.Status, To: model.TokenTimedOut,
		},
	})
	return p.failWorkflow(b, token, "subworkflow_timeout", "subworkflow awaited by token %q timed out", token.ID)
}

package planning

import (
	"github.com/wonderhq/coordinator/internal/decision"
	"github.com/wonderhq/coordinator/internal/model"
)

// planCancel implements spec.md §5's cancellation semantics: every
// non-terminal token is cancelled, the run is marked cancelled, and any
// in-flight child subworkflow runs are cancelled via the trampoline.
func (p *Planner) planCancel(b *builder, cmd *decision.CancelWorkflowCmd) error {
	for id, t := range b.state.Tokens {
		if t.Status.IsTerminal() {
			continue
		}
		b.emit(decision.Decision{
			Type:               decision.CancelToken,
			CancelTokenPayload: &decision.CancelTokenP{TokenID: id, Reason: cmd.Reason},
		})
	}

	b.emit(decision.Decision{
		Type: decision.SetWorkflowStatus,
		SetWorkflowStatusPayload: &decision.SetWorkflowStatusP{
			Status: model.RunCancelled,
		},
	})
	b.emit(decision.Decision{
		Type: decision.UpdateResourcesStatus,
		UpdateResourcesStatusPayload: &decision.UpdateResourcesStatusP{
			Status: model.RunCancelled,
		},
	})
	p.notifyParentIfAny(b, model.RunCancelled, nil, nil)

	for _, sw := range b.state.Subworkflows {
		parentTok, ok := b.state.Tokens[sw.ParentTokenID]
		if !ok || parentTok.Status.IsTerminal() {
			continue
		}
		b.emit(decision.Decision{
			Type: decision.EnqueueCommandSelf,
			EnqueueCommandSelfPayload: &decision.EnqueueCommandSelfP{
				TargetRunID: sw.ChildRunID,
				CommandType: string(decision.CmdCancelWorkflow),
				Payload:     map[string]interface{}{"reason": cmd.Reason},
			},
		})
	}

	b.emitTrace("decision.completion.cancelling_workflow", "", "", map[string]interface{}{"reason": cmd.Reason})
	return nil
}

package planning

import (
	"fmt"

	"github.com/wonderhq/coordinator/internal/contextengine"
	"github.com/wonderhq/coordinator/internal/decision"
	"github.com/wonderhq/coordinator/internal/model"
)

// planCompletionExtraction implements spec.md §4.4.4: a token reaching a
// terminal node (no outgoing transitions, or a transition with no target)
// finishes the run successfully.
func (p *Planner) planCompletionExtraction(b *builder, token model.Token, ctxView map[string]interface{}) error {
	finalOutput := map[string]interface{}{}
	if err := contextengine.ApplyMapping(finalOutput, ctxView, b.state.Definition.OutputMapping); err != nil {
		return fmt.Errorf("extracting workflow output: %w", err)
	}

	b.emit(decision.Decision{
		Type: decision.SetWorkflowStatus,
		SetWorkflowStatusPayload: &decision.SetWorkflowStatusP{
			Status: model.RunCompleted, FinalOutput: finalOutput,
		},
	})
	b.emit(decision.Decision{
		Type: decision.UpdateResourcesStatus,
		UpdateResourcesStatusPayload: &decision.UpdateResourcesStatusP{
			Status: model.RunCompleted, FinalOutput: finalOutput,
		},
	})
	p.notifyParentIfAny(b, model.RunCompleted, finalOutput, nil)

	b.emitTrace("decision.completion.completing_workflow", token.ID, token.NodeID, map[string]interface{}{"output": finalOutput})
	return nil
}

// failWorkflow fails the run: sets status, notifies Resources, and notifies
// the parent run if this is a sub-workflow (spec.md §4.4.1 step 6, §7).
func (p *Planner) failWorkflow(b *builder, token model.Token, code, format string, args ...interface{}) error {
	msg := fmt.Sprintf(format, args...)
	errInfo := &model.ErrorInfo{Code: code, Message: msg, NodeID: token.NodeID, Retriable: false, Terminal: true}

	b.emit(decision.Decision{
		Type: decision.SetWorkflowStatus,
		SetWorkflowStatusPayload: &decision.SetWorkflowStatusP{
			Status: model.RunFailed, Error: errInfo,
		},
	})
	b.emit(decision.Decision{
		Type: decision.UpdateResourcesStatus,
		UpdateResourcesStatusPayload: &decision.UpdateResourcesStatusP{
			Status: model.RunFailed, Error: errInfo,
		},
	})
	p.notifyParentIfAny(b, model.RunFailed, nil, errInfo)

	b.emitTrace("decision.completion.failing_workflow", token.ID, token.NodeID, map[string]interface{}{"code": code, "message": msg})
	return nil
}

func (p *Planner) notifyParentIfAny(b *builder, status model.RunStatus, output map[string]interface{}, errInfo *model.ErrorInfo) {
	if b.state.ParentRunID == nil || b.state.ParentTokenID == nil {
		return
	}
	b.emit(decision.Decision{
		Type: decision.NotifyParent,
		NotifyParentPayload: &decision.NotifyParentP{
			ParentRunID:   *b.state.ParentRunID,
			ParentTokenID: *b.state.ParentTokenID,
			ChildRunID:    b.runID,
			Status:        status,
			Output:        output,
			Error:         errInfo,
		},
	})
}

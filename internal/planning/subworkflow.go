package planning

import (
	"fmt"

	"github.com/wonderhq/coordinator/internal/contextengine"
	"github.com/wonderhq/coordinator/internal/decision"
	"github.com/wonderhq/coordinator/internal/model"
)

// startSubworkflow dispatches a child run (spec.md §4.8's "sub-workflow
// invocation") and parks the parent token in waiting_for_subworkflow until
// a SubworkflowDone command arrives.
func (p *Planner) startSubworkflow(b *builder, token model.Token, node *model.Node, ctxView map[string]interface{}) error {
	spec := node.Subworkflow
	input := map[string]interface{}{}
	if err := contextengine.ApplyMapping(input, ctxView, node.InputMapping); err != nil {
		return fmt.Errorf("resolving subworkflow input mapping for node %q: %w", node.ID, err)
	}

	sw := model.Subworkflow{
		ParentTokenID: token.ID,
		InputMapping:  node.InputMapping,
		OutputMapping: node.OutputMapping,
		OnFailure:     spec.OnFailure,
	}
	b.emit(decision.Decision{Type: decision.InitSubworkflowRecord, InitSubworkflowRecordPayload: &decision.InitSubworkflowRecordP{Subworkflow: sw}})

	for _, to := range []model.TokenStatus{model.TokenDispatched, model.TokenExecuting, model.TokenWaitingForSubworkflow} {
		from := token.Status
		b.emit(decision.Decision{
			Type: decision.UpdateTokenStatus,
			UpdateTokenStatusPayload: &decision.UpdateTokenStatusP{
				TokenID: token.ID, From: from, To: to,
			},
		})
		token.Status = to
	}

	b.emit(decision.Decision{
		Type: decision.StartSubworkflow,
		StartSubworkflowPayload: &decision.StartSubworkflowP{
			ParentTokenID: token.ID, DefinitionRef: spec.DefinitionRef, Input: input, OnFailure: spec.OnFailure,
		},
	})
	b.emitTrace("decision.routing.starting_subworkflow", token.ID, node.ID, map[string]interface{}{"definition_ref": spec.DefinitionRef})
	return nil
}

package planning

import (
	"fmt"

	"github.com/wonderhq/coordinator/internal/contextengine"
	"github.com/wonderhq/coordinator/internal/decision"
	"github.com/wonderhq/coordinator/internal/model"
)

// planTaskFailed handles a non-retriable task failure delivered by the
// Executor (spec.md §4.4.4's failure path: retriable/infra failures are
// retried by the Executor itself and never reach planning as TaskFailed).
func (p *Planner) planTaskFailed(b *builder, cmd *decision.TaskFailedCmd) error {
	token, ok := b.state.Tokens[cmd.TokenID]
	if !ok {
		return fmt.Errorf("planning: task failed for unknown token %q", cmd.TokenID)
	}
	if token.Status.IsTerminal() {
		b.emitTrace("decision.completion.ignoring_duplicate_failure", token.ID, token.NodeID, nil)
		return nil
	}

	b.emit(decision.Decision{
		Type: decision.UpdateTokenStatus,
		UpdateTokenStatusPayload: &decision.UpdateTokenStatusP{
			TokenID: token.ID, From: token.Status, To: model.TokenFailed,
		},
	})
	b.emitTrace("decision.completion.failing_token", token.ID, token.NodeID, map[string]interface{}{"code": cmd.Code, "message": cmd.Message})

	return p.failWorkflow(b, token, cmd.Code, "%s", cmd.Message)
}

// planSubworkflowDone resumes the parent token waiting on a child run
// (spec.md §7, subworkflow failure table).
func (p *Planner) planSubworkflowDone(b *builder, cmd *decision.SubworkflowDoneCmd) error {
	sw, ok := b.state.Subworkflows[cmd.ParentTokenID]
	if !ok {
		return fmt.Errorf("planning: subworkflow done for unknown parent token %q", cmd.ParentTokenID)
	}
	parentToken, ok := b.state.Tokens[cmd.ParentTokenID]
	if !ok {
		return fmt.Errorf("planning: subworkflow done for unknown token %q", cmd.ParentTokenID)
	}
	if parentToken.Status.IsTerminal() {
		b.emitTrace("decision.completion.ignoring_duplicate_subworkflow_done", parentToken.ID, parentToken.NodeID, nil)
		return nil
	}

	node, ok := b.state.Definition.Nodes[parentToken.NodeID]
	if !ok {
		return p.failWorkflow(b, parentToken, "unknown_node", "node %q not found in definition", parentToken.NodeID)
	}

	if cmd.Status == string(model.RunFailed) {
		if sw.OnFailure == model.SubworkflowCatch {
			ctxView := cloneContextView(b.state.Context)
			if err := contextengine.SetPath(ctxView, "output.error", map[string]interface{}{
				"code": cmd.ErrorCode, "message": cmd.ErrorMessage,
			}); err != nil {
				return fmt.Errorf("writing caught subworkflow error for token %q: %w", parentToken.ID, err)
			}
			b.emit(decision.Decision{
				Type: decision.SetContextField,
				SetContextFieldPayload: &decision.SetContextFieldP{
					Section: decision.SectionOutput, Path: "error", Value: map[string]interface{}{
						"code": cmd.ErrorCode, "message": cmd.ErrorMessage,
					},
				},
			})
			b.emit(decision.Decision{
				Type: decision.UpdateTokenStatus,
				UpdateTokenStatusPayload: &decision.UpdateTokenStatusP{
					TokenID: parentToken.ID, From: parentToken.Status, To: model.TokenCompleted,
				},
			})
			b.emitTrace("decision.completion.catching_subworkflow_failure", parentToken.ID, parentToken.NodeID, map[string]interface{}{
				"code": cmd.ErrorCode, "message": cmd.ErrorMessage,
			})
			parentToken.Status = model.TokenCompleted
			return p.routeFromNode(b, parentToken, node, ctxView, map[string]interface{}{})
		}

		b.emit(decision.Decision{
			Type: decision.UpdateTokenStatus,
			UpdateTokenStatusPayload: &decision.UpdateTokenStatusP{
				TokenID: parentToken.ID, From: parentToken.Status, To: model.TokenFailed,
			},
		})
		return p.failWorkflow(b, parentToken, cmd.ErrorCode, "subworkflow failed: %s", cmd.ErrorMessage)
	}

	ctxView := cloneContextView(b.state.Context)
	if len(sw.OutputMapping) > 0 {
		if err := contextengine.ApplyMapping(ctxView, cmd.Output, sw.OutputMapping); err != nil {
			return fmt.Errorf("applying subworkflow output mapping for token %q: %w", parentToken.ID, err)
		}
		b.emit(decision.Decision{
			Type: decision.ApplyOutputMapping,
			ApplyOutputMappingPayload: &decision.ApplyOutputMappingP{
				TokenID: parentToken.ID, SourceNode: parentToken.NodeID, Mappings: sw.OutputMapping, TaskOutput: cmd.Output,
			},
		})
	}
	b.emit(decision.Decision{
		Type: decision.UpdateTokenStatus,
		UpdateTokenStatusPayload: &decision.UpdateTokenStatusP{
			TokenID: parentToken.ID, From: parentToken.Status, To: model.TokenCompleted,
		},
	})
	b.emitTrace("decision.completion.completing_subworkflow", parentToken.ID, parentToken.NodeID, nil)
	parentToken.Status = model.TokenCompleted

	return p.routeFromNode(b, parentToken, node, ctxView, cmd.Output)
}

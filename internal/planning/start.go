package planning

import (
	"github.com/wonderhq/coordinator/internal/decision"
	"github.com/wonderhq/coordinator/internal/model"
)

// planStart handles CmdStartWorkflow: create the workflow status row, the
// context's input section, the single root token, and dispatch it.
func (p *Planner) planStart(b *builder, cmd *decision.StartWorkflowCmd) error {
	def := b.state.Definition

	root := model.Token{
		ID:        "0",
		RunID:     b.runID,
		NodeID:    def.InitialNodeID,
		Status:    model.TokenPending,
		PathID:    "0",
		CreatedAt: b.now,
		UpdatedAt: b.now,
	}

	b.emit(decision.Decision{
		Type: decision.InitializeWorkflow,
		InitializeWorkflowPayload: &decision.InitializeWorkflowP{
			RootToken: root,
			Input:     cmd.Input,
		},
	})
	b.emitTrace("decision.routing.starting_workflow", "", root.NodeID, map[string]interface{}{
		"definition_id": cmd.DefinitionRef,
		"version":       cmd.DefinitionVer,
	})

	node, ok := def.Nodes[def.InitialNodeID]
	if !ok {
		return p.failWorkflow(b, root, "unknown_node", "initial node %q not found in definition", def.InitialNodeID)
	}

	ctxView := cloneContextView(b.state.Context)
	ctxView["input"] = valueOrEmpty(cmd.Input)
	return p.dispatchOrRecurse(b, root, node, ctxView)
}

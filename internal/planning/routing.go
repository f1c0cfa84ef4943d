package planning

import (
	"fmt"
	"strings"

	"github.com/wonderhq/coordinator/internal/contextengine"
	"github.com/wonderhq/coordinator/internal/decision"
	"github.com/wonderhq/coordinator/internal/model"
)

// planTaskCompleted implements spec.md §4.4.1 (routing) and hands off to
// §4.4.2 (synchronization) when the completing token was spawned across a
// fan-out transition carrying a sync clause.
func (p *Planner) planTaskCompleted(b *builder, cmd *decision.TaskCompletedCmd) error {
	token, ok := b.state.Tokens[cmd.TokenID]
	if !ok {
		return fmt.Errorf("planning: task completed for unknown token %q", cmd.TokenID)
	}
	if token.Status.IsTerminal() {
		// Duplicate delivery of a result the run already finished with.
		b.emitTrace("decision.completion.ignoring_duplicate_completion", token.ID, token.NodeID, nil)
		return nil
	}

	node, ok := b.state.Definition.Nodes[token.NodeID]
	if !ok {
		return p.failWorkflow(b, token, "unknown_node", "node %q not found in definition", token.NodeID)
	}

	ctxView := cloneContextView(b.state.Context)
	isBranch := token.FanOutTransitionID != nil

	if len(node.OutputMapping) > 0 {
		if isBranch {
			branchTarget := shallowClone(b.state.Context.BranchTables[token.ID])
			if err := contextengine.ApplyMapping(branchTarget, cmd.Output, stripOutputPrefix(node.OutputMapping)); err != nil {
				return fmt.Errorf("applying branch output mapping for token %q: %w", token.ID, err)
			}
		} else if err := contextengine.ApplyMapping(ctxView, cmd.Output, node.OutputMapping); err != nil {
			return fmt.Errorf("applying output mapping for token %q: %w", token.ID, err)
		}
		b.emit(decision.Decision{
			Type: decision.ApplyOutputMapping,
			ApplyOutputMappingPayload: &decision.ApplyOutputMappingP{
				TokenID:       token.ID,
				SourceNode:    node.ID,
				BranchTokenID: branchTokenIDOf(token),
				Mappings:      node.OutputMapping,
				TaskOutput:    cmd.Output,
			},
		})
	}

	if isBranch {
		if origTr, found := transitionByID(b.state.Definition, *token.FanOutTransitionID); found && origTr.Sync != nil {
			return p.planSynchronization(b, token, origTr)
		}
	}

	b.emit(decision.Decision{
		Type: decision.UpdateTokenStatus,
		UpdateTokenStatusPayload: &decision.UpdateTokenStatusP{
			TokenID: token.ID, From: token.Status, To: model.TokenCompleted,
		},
	})
	b.emitTrace("decision.completion.evaluating_token", token.ID, node.ID, nil)
	token.Status = model.TokenCompleted

	return p.routeFromNode(b, token, node, ctxView, cmd.Output)
}

// routeFromNode evaluates a completed token's outgoing transitions and
// either spawns continuations, fails the workflow, or extracts the final
// output (spec.md §4.4.1 steps 2-6).
func (p *Planner) routeFromNode(b *builder, token model.Token, node *model.Node, ctxView, taskOutput map[string]interface{}) error {
	transitions := b.state.Definition.TransitionsBySource[node.ID]
	if len(transitions) == 0 {
		return p.planCompletionExtraction(b, token, ctxView)
	}

	matched, err := p.resolveWinningTransitions(transitions, taskOutput, ctxView)
	if err != nil {
		return err
	}
	if len(matched) == 0 {
		return p.failWorkflow(b, token, "no_transition_matched", "no transition matched at node %q", node.ID)
	}

	for _, tr := range matched {
		if err := p.takeTransition(b, token, tr, ctxView); err != nil {
			return err
		}
	}
	return nil
}

func (p *Planner) resolveWinningTransitions(transitions []*model.Transition, taskOutput, ctxView map[string]interface{}) ([]*model.Transition, error) {
	i := 0
	for i < len(transitions) {
		tierPriority := transitions[i].Priority
		j := i
		var tierMatches []*model.Transition
		for j < len(transitions) && transitions[j].Priority == tierPriority {
			ok, err := p.evalCondition(transitions[j].Condition, taskOutput, ctxView)
			if err != nil {
				return nil, fmt.Errorf("evaluating condition for transition %q: %w", transitions[j].ID, err)
			}
			if ok {
				tierMatches = append(tierMatches, transitions[j])
			}
			j++
		}
		if len(tierMatches) > 0 {
			return tierMatches, nil
		}
		i = j
	}
	return nil, nil
}

func (p *Planner) evalCondition(cond *model.Condition, output, ctx map[string]interface{}) (bool, error) {
	if cond == nil {
		return true, nil
	}
	return p.evaluator.Evaluate(cond, output, ctx)
}

// takeTransition resolves one winning transition into token-creation,
// fan-out, and dispatch decisions.
func (p *Planner) takeTransition(b *builder, token model.Token, tr *model.Transition, ctxView map[string]interface{}) error {
	if tr.Loop != nil {
		loopKey := loopKeyFor(tr, token)
		count := b.state.IterationCounts[loopKey] + 1
		if count > tr.Loop.MaxIterations {
			return p.failWorkflow(b, token, "max_iterations_exceeded",
				"transition %q exceeded max_iterations %d", tr.ID, tr.Loop.MaxIterations)
		}
		b.emit(decision.Decision{
			Type:                 decision.IncrementIteration,
			IncrementIterationPayload: &decision.IncrementIterationP{LoopKey: loopKey},
		})
	}

	if tr.IsTerminal() {
		return p.planCompletionExtraction(b, token, ctxView)
	}

	targetNode, ok := b.state.Definition.Nodes[*tr.TargetNodeID]
	if !ok {
		return p.failWorkflow(b, token, "unknown_node", "transition %q targets unknown node %q", tr.ID, *tr.TargetNodeID)
	}

	spawnCount, err := resolveSpawnCount(ctxView, tr)
	if err != nil {
		return p.failWorkflow(b, token, "invalid_spawn", "%s", err.Error())
	}

	if spawnCount > 1 || tr.Sync != nil {
		return p.spawnFanOut(b, token, tr, targetNode, spawnCount)
	}
	return p.spawnSingle(b, token, tr, targetNode)
}

func (p *Planner) spawnFanOut(b *builder, token model.Token, tr *model.Transition, targetNode *model.Node, spawnCount int) error {
	siblingGroup := model.SiblingGroupKey(token.PathID, tr.ID)
	newTokens := make([]model.Token, spawnCount)
	for i := 0; i < spawnCount; i++ {
		childPath := model.ChildPathID(token.PathID, tr.ID, i)
		trID := tr.ID
		newTokens[i] = model.Token{
			ID: childPath, RunID: b.runID, NodeID: *tr.TargetNodeID,
			Status: model.TokenPending, ParentTokenID: &token.ID,
			FanOutTransitionID: &trID, BranchIndex: i, BranchTotal: spawnCount,
			PathID: childPath, SiblingGroup: siblingGroup,
			CreatedAt: b.now, UpdatedAt: b.now,
		}
	}
	b.emit(decision.Decision{
		Type:                      decision.BatchCreateTokens,
		BatchCreateTokensPayload:  &decision.BatchCreateTokensP{Tokens: newTokens},
	})

	needsBranchIsolation := len(targetNode.OutputMapping) > 0
	if needsBranchIsolation {
		for _, nt := range newTokens {
			b.emit(decision.Decision{
				Type:                 decision.InitBranchTable,
				InitBranchTablePayload: &decision.InitBranchTableP{TokenID: nt.ID},
			})
		}
	}
	b.emitTrace("decision.routing.fanning_out", token.ID, *tr.TargetNodeID, map[string]interface{}{
		"sibling_group": siblingGroup, "branch_total": spawnCount, "transition_id": tr.ID,
	})

	for _, nt := range newTokens {
		if err := p.dispatchOrRecurse(b, nt, targetNode, cloneContextView(b.state.Context)); err != nil {
			return err
		}
	}
	return nil
}

func (p *Planner) spawnSingle(b *builder, token model.Token, tr *model.Transition, targetNode *model.Node) error {
	childPath := token.PathID + "." + tr.ID
	nt := model.Token{
		ID: childPath, RunID: b.runID, NodeID: *tr.TargetNodeID,
		Status: model.TokenPending, ParentTokenID: &token.ID,
		PathID: childPath, SiblingGroup: token.SiblingGroup,
		CreatedAt: b.now, UpdatedAt: b.now,
	}
	b.emit(decision.Decision{Type: decision.CreateToken, CreateTokenPayload: &decision.CreateTokenP{Token: nt}})
	b.emitTrace("decision.routing.creating_token", nt.ID, nt.NodeID, map[string]interface{}{"transition_id": tr.ID})
	return p.dispatchOrRecurse(b, nt, targetNode, cloneContextView(b.state.Context))
}

// dispatchOrRecurse either emits a DISPATCH_TOKEN effect for an action node,
// or — for a pure routing node — auto-completes the token and continues
// routing within the same (still pure) planning pass.
func (p *Planner) dispatchOrRecurse(b *builder, token model.Token, node *model.Node, ctxView map[string]interface{}) error {
	if node.Subworkflow != nil {
		return p.startSubworkflow(b, token, node, ctxView)
	}
	if node.IsRoutingOnly() {
		autoCompleteRoutingToken(b, token)
		b.emitTrace("decision.routing.routing_token", token.ID, node.ID, nil)
		return p.routeFromNode(b, token, node, ctxView, map[string]interface{}{})
	}

	b.emit(decision.Decision{
		Type: decision.UpdateTokenStatus,
		UpdateTokenStatusPayload: &decision.UpdateTokenStatusP{
			TokenID: token.ID, From: model.TokenPending, To: model.TokenDispatched,
		},
	})
	input := map[string]interface{}{}
	if err := contextengine.ApplyMapping(input, ctxView, node.InputMapping); err != nil {
		return fmt.Errorf("resolving input mapping for node %q: %w", node.ID, err)
	}
	b.emit(decision.Decision{
		Type: decision.DispatchToken,
		DispatchTokenPayload: &decision.DispatchTokenP{
			TokenID: token.ID, NodeID: node.ID, ActionRef: *node.ActionRef, Input: input,
		},
	})
	b.emitTrace("decision.routing.dispatching_token", token.ID, node.ID, nil)
	return nil
}

// autoCompleteRoutingToken walks a routing-only token through the full
// pending→dispatched→executing→completed chain in one planning pass, since
// the literal state machine (spec.md §4.3) has no direct pending→completed
// edge and routing nodes never actually dispatch anything.
func autoCompleteRoutingToken(b *builder, token model.Token) {
	steps := []model.TokenStatus{model.TokenDispatched, model.TokenExecuting, model.TokenCompleted}
	from := token.Status
	for _, to := range steps {
		b.emit(decision.Decision{
			Type: decision.UpdateTokenStatus,
			UpdateTokenStatusPayload: &decision.UpdateTokenStatusP{
				TokenID: token.ID, From: from, To: to,
			},
		})
		from = to
	}
}

func resolveSpawnCount(ctxView map[string]interface{}, tr *model.Transition) (int, error) {
	if tr.Spawn == nil {
		return 1, nil
	}
	if tr.Spawn.Count != nil {
		return *tr.Spawn.Count, nil
	}
	if tr.Spawn.Foreach != nil {
		v, ok := contextengine.GetPath(ctxView, tr.Spawn.Foreach.CollectionPath)
		if !ok {
			return 0, fmt.Errorf("foreach collection %q not found for transition %q", tr.Spawn.Foreach.CollectionPath, tr.ID)
		}
		arr, ok := v.([]interface{})
		if !ok {
			return 0, fmt.Errorf("foreach collection %q is not an array for transition %q", tr.Spawn.Foreach.CollectionPath, tr.ID)
		}
		return len(arr), nil
	}
	return 1, nil
}

func loopKeyFor(tr *model.Transition, token model.Token) string {
	target := ""
	if tr.TargetNodeID != nil {
		target = *tr.TargetNodeID
	}
	return target + "\x00" + token.PathID
}

func stripOutputPrefix(mappings []model.FieldMapping) []model.FieldMapping {
	out := make([]model.FieldMapping, len(mappings))
	for i, m := range mappings {
		cp := strings.TrimPrefix(m.ContextPath, "output.")
		out[i] = model.FieldMapping{ContextPath: cp, SourcePath: m.SourcePath}
	}
	return out
}

func branchTokenIDOf(token model.Token) string {
	if token.FanOutTransitionID != nil {
		return token.ID
	}
	return ""
}

func shallowClone(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

package planning

import (
	"fmt"

	"github.com/wonderhq/coordinator/internal/contextengine"
	"github.com/wonderhq/coordinator/internal/decision"
	"github.com/wonderhq/coordinator/internal/model"
)

// planSynchronization implements spec.md §4.4.2: a token completing at a
// node it reached via a fan-out transition with a sync clause never routes
// on its own — it registers its arrival against the sibling group's fan-in
// record, and only the arrival that satisfies wait_for drives the merge.
func (p *Planner) planSynchronization(b *builder, token model.Token, origTr *model.Transition) error {
	sync := origTr.Sync
	siblingGroup := token.SiblingGroup
	fanInNodeID := sync.FanInNodeID
	total := token.BranchTotal

	fanIn := model.FanIn{SiblingGroup: siblingGroup, FanInNodeID: fanInNodeID, WaitFor: sync.WaitFor, Total: total}
	b.emit(decision.Decision{Type: decision.TryCreateFanIn, TryCreateFanInPayload: &decision.TryCreateFanInP{FanIn: fanIn}})
	b.emit(decision.Decision{
		Type: decision.IncrementFanInArrived,
		IncrementFanInArrivedPayload: &decision.IncrementFanInArrivedP{SiblingGroup: siblingGroup, FanInNodeID: fanInNodeID},
	})
	b.emitTrace("decision.sync.creating_fan_in", token.ID, fanInNodeID, map[string]interface{}{"sibling_group": siblingGroup})

	existing, exists := b.state.FanIns[fanIn.Key()]
	arrived := 1
	alreadyActivated := false
	if exists {
		arrived = existing.Arrived + 1
		alreadyActivated = existing.ActivatedAt != nil
	}

	if alreadyActivated {
		b.emit(decision.Decision{
			Type: decision.UpdateTokenStatus,
			UpdateTokenStatusPayload: &decision.UpdateTokenStatusP{
				TokenID: token.ID, From: model.TokenExecuting, To: model.TokenCompleted,
			},
		})
		b.emitTrace("decision.sync.handling_late_arrival", token.ID, fanInNodeID, map[string]interface{}{
			"policy": string(sync.OnEarlyComplete),
		})
		if sync.OnEarlyComplete == model.EarlyCompleteAllowLateMerge {
			return p.reMergeFanIn(b, token, siblingGroup, fanInNodeID, origTr, arrived, total)
		}
		return nil
	}

	if sync.WaitFor.Satisfied(arrived, total, alreadyActivated) {
		b.emit(decision.Decision{
			Type: decision.UpdateTokenStatus,
			UpdateTokenStatusPayload: &decision.UpdateTokenStatusP{
				TokenID: token.ID, From: model.TokenExecuting, To: model.TokenCompleted,
			},
		})
		return p.activateFanIn(b, token, siblingGroup, fanInNodeID, origTr, arrived, total)
	}

	b.emit(decision.Decision{
		Type: decision.UpdateTokenStatus,
		UpdateTokenStatusPayload: &decision.UpdateTokenStatusP{
			TokenID: token.ID, From: model.TokenExecuting, To: model.TokenWaitingForSiblings,
		},
	})
	b.emitTrace("decision.sync.waiting_for_siblings", token.ID, fanInNodeID, map[string]interface{}{"arrived": arrived, "total": total})
	return nil
}

// activateFanIn is the second atomicity point (spec.md §5): set
// activated_at, merge the arrived branches, drop their branch tables, and
// create the merged continuation token.
func (p *Planner) activateFanIn(b *builder, activator model.Token, siblingGroup, fanInNodeID string, origTr *model.Transition, arrived, total int) error {
	mergedTokenID := model.MergedPathID(siblingGroup)
	b.emit(decision.Decision{
		Type: decision.SetFanInActivated,
		SetFanInActivatedPayload: &decision.SetFanInActivatedP{
			SiblingGroup: siblingGroup, FanInNodeID: fanInNodeID, MergedTokenID: mergedTokenID,
		},
	})

	siblings := sortByBranchIndex(b.state.TokensInSiblingGroup(siblingGroup))
	var tokenIDs []string
	var branchIndexes []int
	var branches []contextengine.Branch
	for _, s := range siblings {
		arrivedHere := s.ID == activator.ID || s.Status == model.TokenCompleted || s.Status == model.TokenWaitingForSiblings
		if !arrivedHere {
			continue
		}
		tokenIDs = append(tokenIDs, s.ID)
		branchIndexes = append(branchIndexes, s.BranchIndex)
		branches = append(branches, contextengine.Branch{Index: s.BranchIndex, Output: valueOrEmpty(b.state.Context.BranchTables[s.ID])})
	}

	merged, err := contextengine.Merge(origTr.Sync.Merge.Strategy, branches)
	if err != nil {
		return fmt.Errorf("merging sibling group %q: %w", siblingGroup, err)
	}

	b.emit(decision.Decision{
		Type: decision.MergeBranches,
		MergeBranchesPayload: &decision.MergeBranchesP{
			SiblingGroup: siblingGroup, TokenIDs: tokenIDs, BranchIndexes: branchIndexes,
			Strategy: origTr.Sync.Merge.Strategy, TargetPath: origTr.Sync.Merge.TargetPath,
		},
	})

	// allow_late_merge keeps branch tables alive until the last possible
	// arrival so a later branch can still be folded in (DESIGN.md open
	// question 4); every other policy drops them immediately.
	dropNow := origTr.Sync.OnEarlyComplete != model.EarlyCompleteAllowLateMerge || arrived >= total
	if dropNow {
		b.emit(decision.Decision{Type: decision.DropBranchTables, DropBranchTablesPayload: &decision.DropBranchTablesP{TokenIDs: tokenIDs}})
	}

	for _, s := range siblings {
		if s.ID != activator.ID && s.Status == model.TokenWaitingForSiblings {
			b.emit(decision.Decision{
				Type: decision.UpdateTokenStatus,
				UpdateTokenStatusPayload: &decision.UpdateTokenStatusP{
					TokenID: s.ID, From: s.Status, To: model.TokenCompleted,
				},
			})
		}
	}

	// on_early_complete: cancel emits CANCEL_TOKEN for every sibling that
	// hasn't arrived yet (spec.md §4.4.2) — everything still dispatched or
	// executing once wait_for is already satisfied.
	if origTr.Sync.OnEarlyComplete == model.EarlyCompleteCancel {
		for _, s := range siblings {
			if s.ID != activator.ID && (s.Status == model.TokenDispatched || s.Status == model.TokenExecuting) {
				b.emit(decision.Decision{
					Type:               decision.CancelToken,
					CancelTokenPayload: &decision.CancelTokenP{TokenID: s.ID, Reason: "fan_in_early_complete"},
				})
				b.emitTrace("decision.sync.cancelling_sibling", s.ID, fanInNodeID, map[string]interface{}{"sibling_group": siblingGroup})
			}
		}
	}

	mergedToken := model.Token{
		ID: mergedTokenID, RunID: b.runID, NodeID: fanInNodeID, Status: model.TokenPending,
		ParentTokenID: &activator.ID, BranchTotal: 1, PathID: mergedTokenID,
		SiblingGroup: siblingGroup, CreatedAt: b.now, UpdatedAt: b.now,
	}
	b.emit(decision.Decision{Type: decision.CreateToken, CreateTokenPayload: &decision.CreateTokenP{Token: mergedToken}})
	b.emitTrace("decision.sync.activating_fan_in", mergedTokenID, fanInNodeID, map[string]interface{}{
		"sibling_group": siblingGroup, "merged_token_id": mergedTokenID,
	})

	fanInNode, ok := b.state.Definition.Nodes[fanInNodeID]
	if !ok {
		return p.failWorkflow(b, mergedToken, "unknown_node", "fan_in_node_id %q not found in definition", fanInNodeID)
	}

	mergedCtxView := cloneContextView(b.state.Context)
	if err := contextengine.SetPath(mergedCtxView, origTr.Sync.Merge.TargetPath, merged); err != nil {
		return fmt.Errorf("writing merge result to %q: %w", origTr.Sync.Merge.TargetPath, err)
	}

	return p.dispatchOrRecurse(b, mergedToken, fanInNode, mergedCtxView)
}

// reMergeFanIn re-runs the merge over a larger arrived set without creating
// a second continuation token — allow_late_merge's "repeated merge
// decisions up to branch_total" (spec.md §4.4.2 step 6). The late arrival
// itself counts as arrived although the snapshot still shows it executing.
func (p *Planner) reMergeFanIn(b *builder, late model.Token, siblingGroup, fanInNodeID string, origTr *model.Transition, arrived, total int) error {
	siblings := sortByBranchIndex(b.state.TokensInSiblingGroup(siblingGroup))
	var tokenIDs []string
	var branchIndexes []int
	var branches []contextengine.Branch
	for _, s := range siblings {
		if s.Status == model.TokenCompleted || s.ID == late.ID {
			tokenIDs = append(tokenIDs, s.ID)
			branchIndexes = append(branchIndexes, s.BranchIndex)
			branches = append(branches, contextengine.Branch{Index: s.BranchIndex, Output: valueOrEmpty(b.state.Context.BranchTables[s.ID])})
		}
	}

	if _, err := contextengine.Merge(origTr.Sync.Merge.Strategy, branches); err != nil {
		return fmt.Errorf("re-merging sibling group %q: %w", siblingGroup, err)
	}

	b.emit(decision.Decision{
		Type: decision.MergeBranches,
		MergeBranchesPayload: &decision.MergeBranchesP{
			SiblingGroup: siblingGroup, TokenIDs: tokenIDs, BranchIndexes: branchIndexes,
			Strategy: origTr.Sync.Merge.Strategy, TargetPath: origTr.Sync.Merge.TargetPath,
		},
	})
	b.emitTrace("decision.sync.merging_late_arrival", "", fanInNodeID, map[string]interface{}{"sibling_group": siblingGroup, "arrived": arrived})

	if arrived >= total {
		b.emit(decision.Decision{Type: decision.DropBranchTables, DropBranchTablesPayload: &decision.DropBranchTablesP{TokenIDs: tokenIDs}})
	}
	return nil
}

// Package replay exercises spec.md §8 invariant 8: "applying a run's
// decision stream to an empty local store reproduces the final state
// bit-exact." It snapshots a WorkflowState to canonical JSON and diffs two
// snapshots with a JSON merge patch, so a failed replay reports exactly
// which fields diverged instead of just "not equal."
package replay

import (
	"context"
	"encoding/json"
	"fmt"

	jsonpatch "github.com/evanphx/json-patch/v5"

	"github.com/wonderhq/coordinator/internal/decision"
	"github.com/wonderhq/coordinator/internal/model"
	"github.com/wonderhq/coordinator/internal/trace"
)

// mutatorApplier and stateLoader narrow Verify's dependencies on
// *apply.Mutator and *stateloader.Loader down to the one call each makes,
// the same DI pattern internal/apply, internal/trampoline and
// internal/dispatcher use for their own narrow interfaces.
type mutatorApplier interface {
	Apply(ctx context.Context, runID string, decisions []decision.Decision) ([]trace.Event, error)
}

type stateLoader interface {
	Load(ctx context.Context, runID string) (*model.WorkflowState, error)
}

// Snapshot canonically serializes a WorkflowState for diffing. Go's
// encoding/json sorts map keys when marshaling, so two structurally
// identical states always produce byte-identical snapshots regardless of
// map iteration order.
func Snapshot(state *model.WorkflowState) ([]byte, error) {
	b, err := json.Marshal(normalizeForDiff(state))
	if err != nil {
		return nil, fmt.Errorf("marshal workflow state snapshot: %w", err)
	}
	return b, nil
}

// normalizeForDiff blanks the fields that legitimately differ between a
// live run and its replay (the run ID, on the state and on every token) so
// Diff only reports divergence in state that replay is supposed to
// reproduce exactly.
func normalizeForDiff(state *model.WorkflowState) model.WorkflowState {
	cp := *state
	cp.RunID = ""
	if state.Tokens != nil {
		cp.Tokens = make(map[string]model.Token, len(state.Tokens))
		for id, t := range state.Tokens {
			t.RunID = ""
			cp.Tokens[id] = t
		}
	}
	return cp
}

// Diff reports whether two state snapshots are identical and, if not, the
// JSON merge patch that turns before into after.
func Diff(before, after *model.WorkflowState) (patch []byte, equal bool, err error) {
	beforeJSON, err := Snapshot(before)
	if err != nil {
		return nil, false, err
	}
	afterJSON, err := Snapshot(after)
	if err != nil {
		return nil, false, err
	}

	if jsonpatch.Equal(beforeJSON, afterJSON) {
		return nil, true, nil
	}
	patch, err = jsonpatch.CreateMergePatch(beforeJSON, afterJSON)
	if err != nil {
		return nil, false, fmt.Errorf("create merge patch: %w", err)
	}
	return patch, false, nil
}

// Verify replays history — every phase-1 decision recorded for liveRunID,
// in order — against replayRunID (a freshly provisioned, otherwise empty
// run in the same store) and diffs the result against liveRunID's actual
// current state. A non-empty patch names exactly which fields a replay
// run would reconstruct differently.
func Verify(ctx context.Context, mutate mutatorApplier, loader stateLoader, liveRunID, replayRunID string, history []decision.Decision) (equal bool, patch []byte, err error) {
	if _, err := mutate.Apply(ctx, replayRunID, history); err != nil {
		return false, nil, fmt.Errorf("replay: apply recorded decisions to run %s: %w", replayRunID, err)
	}

	liveState, err := loader.Load(ctx, liveRunID)
	if err != nil {
		return false, nil, fmt.Errorf("replay: load live state for run %s: %w", liveRunID, err)
	}
	replayedState, err := loader.Load(ctx, replayRunID)
	if err != nil {
		return false, nil, fmt.Errorf("replay: load replayed state for run %s: %w", replayRunID, err)
	}

	return Diff(liveState, replayedState)
}

package contextengine

import (
	"fmt"

	"github.com/wonderhq/coordinator/internal/model"
)

// Branch is one sibling's contribution to a fan-in merge: its output paired
// with the BranchIndex it was dispatched under, so a strategy that
// addresses branches by identity (keyed_by_branch) doesn't lose that
// identity just because some siblings never arrived.
type Branch struct {
	Index  int
	Output map[string]interface{}
}

// Merge combines the branch outputs of sibling tokens (already ordered by
// Index ascending) according to strategy, per spec.md §4.4.2.
func Merge(strategy model.MergeStrategy, branches []Branch) (interface{}, error) {
	switch strategy {
	case model.MergeAppend:
		return mergeAppend(branches), nil
	case model.MergeObject:
		return mergeObject(branches), nil
	case model.MergeKeyedByBranch:
		return mergeKeyedByBranch(branches), nil
	case model.MergeLastWins:
		return mergeLastWins(branches), nil
	default:
		return nil, fmt.Errorf("unsupported merge strategy: %s", strategy)
	}
}

// mergeAppend produces an ordered array, one element per arrived branch,
// index order preserved.
func mergeAppend(branches []Branch) []interface{} {
	out := make([]interface{}, len(branches))
	for i, b := range branches {
		out[i] = b.Output
	}
	return out
}

// mergeObject shallow-merges every branch's output into one object. Later
// branches (higher BranchIndex) win on key collision, since branches is
// already ordered ascending.
func mergeObject(branches []Branch) map[string]interface{} {
	out := make(map[string]interface{})
	for _, b := range branches {
		for k, v := range b.Output {
			out[k] = v
		}
	}
	return out
}

// mergeKeyedByBranch indexes each branch's output by its BranchIndex, so
// downstream nodes can address e.g. "state.results.2" for a specific
// branch regardless of which other branches arrived alongside it.
func mergeKeyedByBranch(branches []Branch) map[string]interface{} {
	out := make(map[string]interface{}, len(branches))
	for _, b := range branches {
		out[fmt.Sprintf("%d", b.Index)] = b.Output
	}
	return out
}

// mergeLastWins keeps only the highest-index branch's output; earlier
// arrivals are discarded once a later one lands.
func mergeLastWins(branches []Branch) map[string]interface{} {
	if len(branches) == 0 {
		return map[string]interface{}{}
	}
	return branches[len(branches)-1].Output
}

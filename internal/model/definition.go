package model

// WorkflowDefinition is the read-only definition fetched from the Resources
// store (spec.md §3, "Workflow definition"). The Coordinator never mutates
// it; internal/defcache caches it by (DefinitionID, Version).
type WorkflowDefinition struct {
	DefinitionID string
	Version      int

	InputSchema  map[string]interface{}
	StateSchema  map[string]interface{}
	OutputSchema map[string]interface{}

	Nodes map[string]*Node

	// TransitionsBySource is pre-grouped by source node, and within each
	// source, sorted ascending by Priority. Planning never re-sorts.
	TransitionsBySource map[string][]*Transition

	InitialNodeID string

	// OutputMapping is the workflow-level output extraction applied on
	// completion (spec.md §4.4.4).
	OutputMapping []FieldMapping

	// AllowSkipUnregisteredActions gates the supplemental skipped-node
	// passthrough behavior described in SPEC_FULL.md; false (fail-closed)
	// unless the definition explicitly opts in.
	AllowSkipUnregisteredActions bool
}

// Node is a single vertex in the workflow graph.
type Node struct {
	ID            string
	ActionRef     *string // nil => pure routing node, unless Subworkflow is set
	InputMapping  []FieldMapping
	OutputMapping []FieldMapping

	// Subworkflow is non-nil when this node invokes a child workflow run
	// instead of (or in addition to routing past) an Executor action.
	Subworkflow *SubworkflowNodeSpec
}

// SubworkflowNodeSpec names the child definition a subworkflow node starts
// and how its failure should be handled (spec.md §7).
type SubworkflowNodeSpec struct {
	DefinitionRef string
	OnFailure     SubworkflowFailurePolicy
}

// IsRoutingOnly reports whether the node has no action and exists purely to
// route (e.g. a fan-in landing node).
func (n *Node) IsRoutingOnly() bool {
	return n.ActionRef == nil && n.Subworkflow == nil
}

// FieldMapping maps a task-input key or context path to a JSONPath-style
// source expression, per spec.md §3.
type FieldMapping struct {
	ContextPath string
	SourcePath  string
}

// WaitForKind enumerates the synchronization strategies of spec.md §3.
type WaitForKind string

const (
	WaitForAny   WaitForKind = "any"
	WaitForAll   WaitForKind = "all"
	WaitForMOfN  WaitForKind = "m_of_n"
)

// WaitForSpec describes a transition's synchronization requirement.
type WaitForSpec struct {
	Kind WaitForKind
	M    int // only meaningful when Kind == WaitForMOfN
}

// Satisfied reports whether arrived out of total arrivals satisfies this
// wait condition, given whether an activation has already happened.
func (w WaitForSpec) Satisfied(arrived, total int, alreadyActivated bool) bool {
	switch w.Kind {
	case WaitForAll:
		return arrived >= total
	case WaitForAny:
		return arrived >= 1 && !alreadyActivated
	case WaitForMOfN:
		return arrived >= w.M
	default:
		return false
	}
}

// MergeStrategy enumerates the fan-in merge strategies of spec.md §4.4.2.
type MergeStrategy string

const (
	MergeAppend       MergeStrategy = "append"
	MergeObject       MergeStrategy = "merge_object"
	MergeKeyedByBranch MergeStrategy = "keyed_by_branch"
	MergeLastWins     MergeStrategy = "last_wins"
)

// MergeSpec describes how a fan-in merges its sibling branch outputs.
type MergeSpec struct {
	Strategy   MergeStrategy
	TargetPath string // context path under "state." written by the merge
}

// OnTimeoutPolicy enumerates the fan-in timeout policies of spec.md §5.
type OnTimeoutPolicy string

const (
	OnTimeoutFail                OnTimeoutPolicy = "fail"
	OnTimeoutProceedWithAvailable OnTimeoutPolicy = "proceed_with_available"
)

// OnEarlyCompletePolicy enumerates the late-arrival policies of spec.md §4.4.2.
type OnEarlyCompletePolicy string

const (
	EarlyCompleteCancel        OnEarlyCompletePolicy = "cancel"
	EarlyCompleteAbandon       OnEarlyCompletePolicy = "abandon"
	EarlyCompleteAllowLateMerge OnEarlyCompletePolicy = "allow_late_merge"
)

// SyncClause is a transition's optional synchronization clause.
type SyncClause struct {
	WaitFor          WaitForSpec
	FanInNodeID      string
	Timeout          *int64 // milliseconds; nil = no timeout
	OnTimeout        OnTimeoutPolicy
	OnEarlyComplete  OnEarlyCompletePolicy
	Merge            MergeSpec
}

// ForeachClause drives dynamic spawn count from a context collection.
type ForeachClause struct {
	CollectionPath string
	ItemVar        string
}

// SpawnClause is a transition's optional dynamic-spawn clause.
type SpawnClause struct {
	Count   *int
	Foreach *ForeachClause
}

// LoopClause bounds iteration for a transition that closes a cycle.
type LoopClause struct {
	MaxIterations int
}

// Transition connects a source node to a target node (spec.md §3).
type Transition struct {
	ID           string
	SourceNodeID string
	TargetNodeID *string // nil => terminal
	Priority     int
	Condition    *Condition
	Sync         *SyncClause
	Spawn        *SpawnClause
	Loop         *LoopClause
}

// IsTerminal reports whether this transition ends the graph.
func (t *Transition) IsTerminal() bool {
	return t.TargetNodeID == nil
}

// Condition is an opaque predicate expression evaluated by the configured
// condition.Evaluator (spec.md: "conditions arrive as opaque strings
// evaluated by a supplied predicate evaluator").
type Condition struct {
	Type       string // e.g. "cel"
	Expression string
}

package model

import "time"

// FanIn is the persistent rendezvous record for one sibling group's merge
// at one fan-in node (spec.md §3, "Fan-in record"). Uniqueness of
// (SiblingGroup, FanInNodeID) is the first atomicity primitive in §5.
type FanIn struct {
	SiblingGroup string
	FanInNodeID  string
	WaitFor      WaitForSpec
	Total        int
	Arrived      int
	ActivatedAt  *time.Time
	MergedTokenID *string
}

// Key returns the unique-index key for this fan-in record.
func (f FanIn) Key() string {
	return f.SiblingGroup + "\x00" + f.FanInNodeID
}

// Subworkflow tracks a parent token waiting on a child run (spec.md §3).
type Subworkflow struct {
	ParentTokenID string
	ChildRunID    string
	InputMapping  []FieldMapping
	OutputMapping []FieldMapping
	OnFailure     SubworkflowFailurePolicy
}

// SubworkflowFailurePolicy enumerates spec.md §7's subworkflow-failure modes.
type SubworkflowFailurePolicy string

const (
	SubworkflowPropagate SubworkflowFailurePolicy = "propagate"
	SubworkflowCatch     SubworkflowFailurePolicy = "catch"
)

// RunStatus is the workflow run's externally visible status (spec.md §3).
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
	RunCancelled RunStatus = "cancelled"
	RunWaiting   RunStatus = "waiting"
)

// ErrorInfo is the user-visible error shape mandated by spec.md §7.
type ErrorInfo struct {
	Code      string
	Message   string
	NodeID    string
	Retriable bool
	Terminal  bool
}

// WorkflowStatus mirrors the run's terminal-state bookkeeping locally
// (spec.md §3, "Workflow status").
type WorkflowStatus struct {
	Status      RunStatus
	FinalOutput map[string]interface{}
	Error       *ErrorInfo
}

// Context holds the three schema-bound sections plus any still-open branch
// tables for in-flight fan-outs (spec.md §3, "Context").
type Context struct {
	Input  map[string]interface{}
	State  map[string]interface{}
	Output map[string]interface{}

	// BranchTables maps token ID -> that branch's isolated output, scoped
	// per spec.md §4.7 ("nested fan-out... naming branch tables after
	// token id").
	BranchTables map[string]map[string]interface{}
}

// Clone returns a deep-enough copy for snapshot immutability: planning only
// ever reads through a WorkflowState, but a defensive clone keeps the apply
// layer's post-commit view from aliasing into memory planning already saw.
func (c Context) Clone() Context {
	clone := Context{
		Input:        cloneMap(c.Input),
		State:        cloneMap(c.State),
		Output:       cloneMap(c.Output),
		BranchTables: make(map[string]map[string]interface{}, len(c.BranchTables)),
	}
	for k, v := range c.BranchTables {
		clone.BranchTables[k] = cloneMap(v)
	}
	return clone
}

func cloneMap(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Package decision defines the flat, value-typed Decision catalog planning
// emits (spec.md §4.4.5) and the Command shape that drives one planning
// pass; the trace events emitted alongside decisions are package trace's
// Event. Decisions carry no behavior; internal/apply is the
// only package that interprets them.
package decision

import "github.com/wonderhq/coordinator/internal/model"

// Type identifies a decision's kind. Phase1 decisions are state mutations
// applied inside the single local-store transaction; Phase2 decisions are
// post-commit external effects.
type Type string

const (
	// Phase 1 — state mutation
	CreateToken           Type = "CREATE_TOKEN"
	BatchCreateTokens      Type = "BATCH_CREATE_TOKENS"
	UpdateTokenStatus      Type = "UPDATE_TOKEN_STATUS"
	MarkWaiting            Type = "MARK_WAITING"
	CancelToken            Type = "CANCEL_TOKEN"
	SetContextField        Type = "SET_CONTEXT_FIELD"
	ApplyOutputMapping     Type = "APPLY_OUTPUT_MAPPING"
	InitBranchTable        Type = "INIT_BRANCH_TABLE"
	ApplyBranchOutput      Type = "APPLY_BRANCH_OUTPUT"
	MergeBranches          Type = "MERGE_BRANCHES"
	DropBranchTables       Type = "DROP_BRANCH_TABLES"
	TryCreateFanIn         Type = "TRY_CREATE_FAN_IN"
	IncrementFanInArrived  Type = "INCREMENT_FAN_IN_ARRIVED"
	SetFanInActivated      Type = "SET_FAN_IN_ACTIVATED"
	InitializeWorkflow     Type = "INITIALIZE_WORKFLOW"
	SetWorkflowStatus      Type = "SET_WORKFLOW_STATUS"
	InitSubworkflowRecord  Type = "INIT_SUBWORKFLOW_RECORD"
	IncrementIteration     Type = "INCREMENT_ITERATION"

	// Phase 2 — external effect
	DispatchToken         Type = "DISPATCH_TOKEN"
	StartSubworkflow      Type = "START_SUBWORKFLOW"
	NotifyParent          Type = "NOTIFY_PARENT"
	UpdateResourcesStatus Type = "UPDATE_RESOURCES_STATUS"
	ScheduleAlarm         Type = "SCHEDULE_ALARM"
	EnqueueCommandSelf    Type = "ENQUEUE_COMMAND_SELF"
)

// Phase1Types and Phase2Types classify every decision type so the apply
// layer can assert a decision landed in the phase it belongs to.
var Phase1Types = map[Type]bool{
	CreateToken: true, BatchCreateTokens: true, UpdateTokenStatus: true,
	MarkWaiting: true, CancelToken: true, SetContextField: true,
	ApplyOutputMapping: true, InitBranchTable: true, ApplyBranchOutput: true,
	MergeBranches: true, DropBranchTables: true, TryCreateFanIn: true,
	IncrementFanInArrived: true,
	SetFanInActivated: true, InitializeWorkflow: true, SetWorkflowStatus: true,
	InitSubworkflowRecord: true, IncrementIteration: true,
}

var Phase2Types = map[Type]bool{
	DispatchToken: true, StartSubworkflow: true, NotifyParent: true,
	UpdateResourcesStatus: true, ScheduleAlarm: true, EnqueueCommandSelf: true,
}

func (t Type) IsPhase1() bool { return Phase1Types[t] }
func (t Type) IsPhase2() bool { return Phase2Types[t] }

// Decision is a tagged union: exactly one payload field is populated,
// matching d.Type. Using a single struct (rather than an interface) keeps
// the type byte-comparable and trivially serializable for the replay
// property (spec.md §8 invariant 6 and 8).
type Decision struct {
	Type Type

	CreateTokenPayload          *CreateTokenP
	BatchCreateTokensPayload     *BatchCreateTokensP
	UpdateTokenStatusPayload     *UpdateTokenStatusP
	MarkWaitingPayload           *MarkWaitingP
	CancelTokenPayload           *CancelTokenP
	SetContextFieldPayload       *SetContextFieldP
	ApplyOutputMappingPayload    *ApplyOutputMappingP
	InitBranchTablePayload       *InitBranchTableP
	ApplyBranchOutputPayload     *ApplyBranchOutputP
	MergeBranchesPayload         *MergeBranchesP
	DropBranchTablesPayload      *DropBranchTablesP
	TryCreateFanInPayload        *TryCreateFanInP
	IncrementFanInArrivedPayload *IncrementFanInArrivedP
	SetFanInActivatedPayload     *SetFanInActivatedP
	InitializeWorkflowPayload    *InitializeWorkflowP
	SetWorkflowStatusPayload     *SetWorkflowStatusP
	InitSubworkflowRecordPayload *InitSubworkflowRecordP
	IncrementIterationPayload   *IncrementIterationP

	DispatchTokenPayload         *DispatchTokenP
	StartSubworkflowPayload      *StartSubworkflowP
	NotifyParentPayload          *NotifyParentP
	UpdateResourcesStatusPayload *UpdateResourcesStatusP
	ScheduleAlarmPayload         *ScheduleAlarmP
	EnqueueCommandSelfPayload    *EnqueueCommandSelfP
}

// --- Phase 1 payloads ---

type CreateTokenP struct {
	Token model.Token
}

type BatchCreateTokensP struct {
	Tokens []model.Token
}

type UpdateTokenStatusP struct {
	TokenID string
	From    model.TokenStatus
	To      model.TokenStatus
}

type MarkWaitingP struct {
	TokenID string
}

type CancelTokenP struct {
	TokenID string
	Reason  string
}

// ContextSection enumerates the three schema-bound sections of spec.md §3.
type ContextSection string

const (
	SectionInput  ContextSection = "input"
	SectionState  ContextSection = "state"
	SectionOutput ContextSection = "output"
)

type SetContextFieldP struct {
	Section ContextSection
	Path    string
	Value   interface{}
}

type ApplyOutputMappingP struct {
	TokenID    string
	SourceNode string
	// BranchTokenID is non-empty when this token is under fan-out and the
	// mapping must target the token's isolated branch table instead of the
	// shared context (spec.md §4.4.1 step 1).
	BranchTokenID string
	Mappings      []model.FieldMapping
	TaskOutput    map[string]interface{}
}

type InitBranchTableP struct {
	TokenID string
}

type ApplyBranchOutputP struct {
	TokenID string
	Output  map[string]interface{}
}

type MergeBranchesP struct {
	SiblingGroup string
	// TokenIDs and BranchIndexes are parallel slices, both already
	// ordered by BranchIndex ascending: BranchIndexes[i] is the original
	// fan-out position TokenIDs[i] was dispatched under, preserved so a
	// partial arrival doesn't lose branch identity (spec.md §4.4.2
	// keyed_by_branch).
	TokenIDs      []string
	BranchIndexes []int
	Strategy      model.MergeStrategy
	TargetPath    string
}

type DropBranchTablesP struct {
	TokenIDs []string
}

type TryCreateFanInP struct {
	FanIn model.FanIn
}

type IncrementFanInArrivedP struct {
	SiblingGroup string
	FanInNodeID  string
}

type SetFanInActivatedP struct {
	SiblingGroup  string
	FanInNodeID   string
	MergedTokenID string
}

type InitializeWorkflowP struct {
	RootToken model.Token
	Input     map[string]interface{}
}

type SetWorkflowStatusP struct {
	Status      model.RunStatus
	FinalOutput map[string]interface{}
	Error       *model.ErrorInfo
}

type InitSubworkflowRecordP struct {
	Subworkflow model.Subworkflow
}

// IncrementIterationP bumps the loop-back visit counter keyed by
// node_id + "\x00" + ancestor path_id (spec.md §9, cyclic graphs).
type IncrementIterationP struct {
	LoopKey string
}

// --- Phase 2 payloads ---

type DispatchTokenP struct {
	TokenID   string
	NodeID    string
	ActionRef string
	Input     map[string]interface{}
}

type StartSubworkflowP struct {
	ParentTokenID string
	DefinitionRef string
	Input         map[string]interface{}
	OnFailure     model.SubworkflowFailurePolicy
}

type NotifyParentP struct {
	ParentRunID   string
	ParentTokenID string
	ChildRunID    string
	Status        model.RunStatus
	Output        map[string]interface{}
	Error         *model.ErrorInfo
}

type UpdateResourcesStatusP struct {
	Status      model.RunStatus
	FinalOutput map[string]interface{}
	Error       *model.ErrorInfo
}

type ScheduleAlarmP struct {
	DelayMS int64
	Reason  string
}

// EnqueueCommandSelfP is the trampoline primitive of spec.md §5: instead of
// invoking another Coordinator inline, persist the pending call and wake up
// via an immediate alarm.
type EnqueueCommandSelfP struct {
	TargetRunID string
	CommandType string
	Payload     map[string]interface{}
}

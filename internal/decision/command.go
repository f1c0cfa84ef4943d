package decision

// CommandType enumerates the RPCs that can drive one planning pass
// (spec.md §4.1: "the Coordinator is invoked by a small set of commands").
type CommandType string

const (
	CmdStartWorkflow   CommandType = "START_WORKFLOW"
	CmdTaskCompleted    CommandType = "TASK_COMPLETED"
	CmdTaskFailed       CommandType = "TASK_FAILED"
	CmdSubworkflowDone  CommandType = "SUBWORKFLOW_DONE"
	CmdAlarmFired       CommandType = "ALARM_FIRED"
	CmdCancelWorkflow   CommandType = "CANCEL_WORKFLOW"
)

// Command is the single input to one planning pass. Exactly one of the
// typed payload fields is populated, matching Type.
type Command struct {
	Type  CommandType
	RunID string

	StartWorkflow  *StartWorkflowCmd
	TaskCompleted  *TaskCompletedCmd
	TaskFailed     *TaskFailedCmd
	SubworkflowDone *SubworkflowDoneCmd
	AlarmFired     *AlarmFiredCmd
	CancelWorkflow *CancelWorkflowCmd
}

type StartWorkflowCmd struct {
	DefinitionRef string                 `json:"definition_ref"`
	DefinitionVer int                    `json:"definition_ver"`
	Input         map[string]interface{} `json:"input"`
	ParentRunID   *string                `json:"parent_run_id"`
	ParentTokenID *string                `json:"parent_token_id"`
}

type TaskCompletedCmd struct {
	TokenID  string                 `json:"token_id"`
	Output   map[string]interface{} `json:"output"`
	TraceCtx map[string]string      `json:"trace_ctx"`
}

type TaskFailedCmd struct {
	TokenID   string `json:"token_id"`
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retriable bool   `json:"retriable"`
}

type SubworkflowDoneCmd struct {
	ParentTokenID string                 `json:"parent_token_id"`
	ChildRunID    string                 `json:"child_run_id"`
	Status        string                 `json:"status"` // mirrors model.RunStatus
	Output        map[string]interface{} `json:"output"`
	ErrorCode     string                 `json:"error_code"`
	ErrorMessage  string                 `json:"error_message"`
}

type AlarmFiredCmd struct {
	Reason string `json:"reason"`
}

type CancelWorkflowCmd struct {
	Reason string `json:"reason"`
}

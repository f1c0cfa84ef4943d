package httpapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonderhq/coordinator/internal/decision"
	"github.com/wonderhq/coordinator/internal/logger"
)

type fakeRunner struct {
	lastCmd decision.Command
	err     error
}

func (f *fakeRunner) Run(ctx context.Context, cmd decision.Command) error {
	f.lastCmd = cmd
	return f.err
}

type fakeStatus struct {
	initErr    error
	initedWith string
}

func (f *fakeStatus) Init(ctx context.Context, runID string, parentRunID, parentTokenID *string, definitionID string, definitionVersion int, traceEnabled bool) error {
	f.initedWith = runID
	return f.initErr
}

func newTestHandlers() (*Handlers, *fakeRunner, *fakeStatus) {
	run := &fakeRunner{}
	status := &fakeStatus{}
	return New(run, status, logger.New("error", "text")), run, status
}

func doRequest(e *echo.Echo, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestStartWorkflow_InitsStatusThenPlansStartCommand(t *testing.T) {
	h, run, status := newTestHandlers()
	e := echo.New()
	Register(e, h)

	rec := doRequest(e, http.MethodPost, "/v1/workflows", `{"definition_ref":"approval_flow","definition_ver":1,"input":{"a":1}}`)

	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.NotEmpty(t, status.initedWith)
	assert.Equal(t, decision.CmdStartWorkflow, run.lastCmd.Type)
	assert.Equal(t, status.initedWith, run.lastCmd.RunID)
	assert.Equal(t, "approval_flow", run.lastCmd.StartWorkflow.DefinitionRef)
}

func TestStartWorkflow_MissingDefinitionRef_Returns400(t *testing.T) {
	h, _, _ := newTestHandlers()
	e := echo.New()
	Register(e, h)

	rec := doRequest(e, http.MethodPost, "/v1/workflows", `{}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTaskCompleted_PlansTaskCompletedCommandForRunID(t *testing.T) {
	h, run, _ := newTestHandlers()
	e := echo.New()
	Register(e, h)

	rec := doRequest(e, http.MethodPost, "/v1/runs/run-1/commands/task-completed", `{"token_id":"t0","output":{"ok":true}}`)

	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, decision.CmdTaskCompleted, run.lastCmd.Type)
	assert.Equal(t, "run-1", run.lastCmd.RunID)
	assert.Equal(t, "t0", run.lastCmd.TaskCompleted.TokenID)
}

func TestTaskFailed_PlansTaskFailedCommand(t *testing.T) {
	h, run, _ := newTestHandlers()
	e := echo.New()
	Register(e, h)

	rec := doRequest(e, http.MethodPost, "/v1/runs/run-1/commands/task-failed", `{"token_id":"t0","code":"timeout","message":"boom","retriable":true}`)

	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, decision.CmdTaskFailed, run.lastCmd.Type)
	assert.Equal(t, "timeout", run.lastCmd.TaskFailed.Code)
	assert.True(t, run.lastCmd.TaskFailed.Retriable)
}

func TestSubworkflowDone_PlansSubworkflowDoneCommand(t *testing.T) {
	h, run, _ := newTestHandlers()
	e := echo.New()
	Register(e, h)

	rec := doRequest(e, http.MethodPost, "/v1/runs/run-parent/commands/subworkflow-done",
		`{"parent_token_id":"t0","child_run_id":"run-child","status":"completed","output":{"x":1}}`)

	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, decision.CmdSubworkflowDone, run.lastCmd.Type)
	assert.Equal(t, "run-child", run.lastCmd.SubworkflowDone.ChildRunID)
}

func TestCancelWorkflow_PlansCancelWorkflowCommand(t *testing.T) {
	h, run, _ := newTestHandlers()
	e := echo.New()
	Register(e, h)

	rec := doRequest(e, http.MethodPost, "/v1/runs/run-1/commands/cancel", `{"reason":"user requested"}`)

	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, decision.CmdCancelWorkflow, run.lastCmd.Type)
	assert.Equal(t, "user requested", run.lastCmd.CancelWorkflow.Reason)
}

func TestMarkExecuting_LogsAndReturnsNoContent_WithoutPlanning(t *testing.T) {
	h, run, _ := newTestHandlers()
	e := echo.New()
	Register(e, h)

	rec := doRequest(e, http.MethodPost, "/v1/runs/run-1/tokens/t0/executing", ``)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, run.lastCmd.Type)
}

func TestDispatch_RunnerError_Returns500(t *testing.T) {
	h, run, _ := newTestHandlers()
	run.err = assert.AnError
	e := echo.New()
	Register(e, h)

	rec := doRequest(e, http.MethodPost, "/v1/runs/run-1/commands/cancel", `{"reason":"x"}`)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

// Package httpapi binds the RPCs of spec.md §6 to HTTP/JSON via echo,
// generalized from the teacher's cmd/orchestrator/handlers package: one
// Handlers struct per process, one method per RPC, routes registered in
// routes.go.
package httpapi

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/oklog/ulid/v2"

	"github.com/wonderhq/coordinator/internal/decision"
	"github.com/wonderhq/coordinator/internal/logger"
	"github.com/wonderhq/coordinator/internal/model"
)

// runner is the one method Handlers needs from internal/dispatcher —
// narrowed the same way every other package in this module depends on a
// single-method interface rather than a concrete type, so tests drive
// handlers with a fake instead of live Postgres/Redis.
type runner interface {
	Run(ctx context.Context, cmd decision.Command) error
}

// runInitializer is the slice of internal/store.StatusRepository that
// StartWorkflow needs: a workflow_status row must exist before the
// dispatcher's first Load for a brand new run_id can succeed.
type runInitializer interface {
	Init(ctx context.Context, runID string, parentRunID, parentTokenID *string, definitionID string, definitionVersion int, traceEnabled bool) error
}

// Handlers implements every RPC named in spec.md §6 that the Coordinator
// serves: inbound calls from Executor, from Resources-facing clients
// starting a new run, and from sibling Coordinators over the trampoline.
type Handlers struct {
	run    runner
	status runInitializer
	log    *logger.Logger
}

func New(run runner, status runInitializer, log *logger.Logger) *Handlers {
	return &Handlers{run: run, status: status, log: log}
}

type startWorkflowRequest struct {
	DefinitionRef string                 `json:"definition_ref"`
	DefinitionVer int                    `json:"definition_ver"`
	Input         map[string]interface{} `json:"input"`
	ParentRunID   *string                `json:"parent_run_id,omitempty"`
	ParentTokenID *string                `json:"parent_token_id,omitempty"`
	TraceEnabled  *bool                  `json:"trace_enabled,omitempty"`
}

type startWorkflowResponse struct {
	RunID string `json:"run_id"`
}

// StartWorkflow handles POST /v1/workflows. It mints a new run_id,
// initializes the run's workflow_status row (without which the
// dispatcher's first state Load would find nothing), then drives a
// CmdStartWorkflow planning pass.
func (h *Handlers) StartWorkflow(c echo.Context) error {
	var req startWorkflowRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.DefinitionRef == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "definition_ref is required")
	}

	traceEnabled := true
	if req.TraceEnabled != nil {
		traceEnabled = *req.TraceEnabled
	}

	runID := ulid.Make().String()
	ctx := c.Request().Context()

	if err := h.status.Init(ctx, runID, req.ParentRunID, req.ParentTokenID, req.DefinitionRef, req.DefinitionVer, traceEnabled); err != nil {
		h.log.Error("init workflow status failed", "run_id", runID, "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to initialize run")
	}

	cmd := decision.Command{
		Type:  decision.CmdStartWorkflow,
		RunID: runID,
		StartWorkflow: &decision.StartWorkflowCmd{
			DefinitionRef: req.DefinitionRef,
			DefinitionVer: req.DefinitionVer,
			Input:         req.Input,
			ParentRunID:   req.ParentRunID,
			ParentTokenID: req.ParentTokenID,
		},
	}
	if err := h.run.Run(ctx, cmd); err != nil {
		h.log.Error("start workflow failed", "run_id", runID, "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to start workflow")
	}

	return c.JSON(http.StatusAccepted, startWorkflowResponse{RunID: runID})
}

type cancelWorkflowRequest struct {
	Reason string `json:"reason"`
}

// CancelWorkflow handles POST /v1/runs/:id/commands/cancel.
func (h *Handlers) CancelWorkflow(c echo.Context) error {
	runID := c.Param("id")
	var req cancelWorkflowRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	cmd := decision.Command{
		Type:           decision.CmdCancelWorkflow,
		RunID:          runID,
		CancelWorkflow: &decision.CancelWorkflowCmd{Reason: req.Reason},
	}
	return h.dispatch(c, cmd, "cancel workflow")
}

type taskCompletedRequest struct {
	TokenID  string                 `json:"token_id"`
	Output   map[string]interface{} `json:"output"`
	TraceCtx map[string]string      `json:"trace_ctx"`
}

// TaskCompleted handles POST /v1/runs/:id/commands/task-completed — the
// Executor's taskResult callback.
func (h *Handlers) TaskCompleted(c echo.Context) error {
	runID := c.Param("id")
	var req taskCompletedRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	cmd := decision.Command{
		Type:  decision.CmdTaskCompleted,
		RunID: runID,
		TaskCompleted: &decision.TaskCompletedCmd{
			TokenID:  req.TokenID,
			Output:   req.Output,
			TraceCtx: req.TraceCtx,
		},
	}
	return h.dispatch(c, cmd, "task completed")
}

type taskFailedRequest struct {
	TokenID   string `json:"token_id"`
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retriable bool   `json:"retriable"`
}

// TaskFailed handles POST /v1/runs/:id/commands/task-failed — the
// Executor's taskError callback.
func (h *Handlers) TaskFailed(c echo.Context) error {
	runID := c.Param("id")
	var req taskFailedRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	cmd := decision.Command{
		Type:  decision.CmdTaskFailed,
		RunID: runID,
		TaskFailed: &decision.TaskFailedCmd{
			TokenID:   req.TokenID,
			Code:      req.Code,
			Message:   req.Message,
			Retriable: req.Retriable,
		},
	}
	return h.dispatch(c, cmd, "task failed")
}

// MarkExecuting handles POST /v1/runs/:id/tokens/:tokenId/executing — the
// Executor's markExecuting callback. It only observes, logging that a
// token entered execution; planning only ever sees final outcomes
// (spec.md §6, "the Coordinator only sees final outcomes"), so no
// command is planned here.
func (h *Handlers) MarkExecuting(c echo.Context) error {
	runID := c.Param("id")
	tokenID := c.Param("tokenId")
	h.log.Info("token marked executing", "run_id", runID, "token_id", tokenID)
	return c.NoContent(http.StatusNoContent)
}

type subworkflowDoneRequest struct {
	ParentTokenID string                 `json:"parent_token_id"`
	ChildRunID    string                 `json:"child_run_id"`
	Status        model.RunStatus        `json:"status"`
	Output        map[string]interface{} `json:"output,omitempty"`
	Error         *model.ErrorInfo       `json:"error,omitempty"`
}

// SubworkflowDone handles POST /v1/runs/:id/commands/subworkflow-done —
// the parent-side landing point for both subworkflowResult and
// subworkflowError, distinguished by Status.
func (h *Handlers) SubworkflowDone(c echo.Context) error {
	runID := c.Param("id")
	var req subworkflowDoneRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	sw := &decision.SubworkflowDoneCmd{
		ParentTokenID: req.ParentTokenID,
		ChildRunID:    req.ChildRunID,
		Status:        string(req.Status),
		Output:        req.Output,
	}
	if req.Error != nil {
		sw.ErrorCode = req.Error.Code
		sw.ErrorMessage = req.Error.Message
	}

	cmd := decision.Command{
		Type:            decision.CmdSubworkflowDone,
		RunID:           runID,
		SubworkflowDone: sw,
	}
	return h.dispatch(c, cmd, "subworkflow done")
}

// dispatch runs cmd through the dispatcher and blocks until that run's
// queue has processed it (internal/dispatcher.Dispatcher.Run waits for
// the full load->plan->apply->dispatch->flush cycle), translating a
// failure into a 500. A 202 here means the command was fully handled,
// not merely enqueued.
func (h *Handlers) dispatch(c echo.Context, cmd decision.Command, action string) error {
	if err := h.run.Run(c.Request().Context(), cmd); err != nil {
		h.log.Error(action+" failed", "run_id", cmd.RunID, "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, action+" failed")
	}
	return c.NoContent(http.StatusAccepted)
}

// Health handles GET /healthz.
func (h *Handlers) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "healthy"})
}

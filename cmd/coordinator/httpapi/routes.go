package httpapi

import (
	"github.com/labstack/echo/v4"
)

// Register binds every spec.md §6 RPC the Coordinator serves onto e,
// grouped the way the teacher's routes package groups a service's
// surface by resource (cmd/orchestrator/routes/run.go).
func Register(e *echo.Echo, h *Handlers) {
	e.GET("/healthz", h.Health)

	e.POST("/v1/workflows", h.StartWorkflow)

	runs := e.Group("/v1/runs/:id")
	runs.POST("/commands/cancel", h.CancelWorkflow)
	runs.POST("/commands/task-completed", h.TaskCompleted)
	runs.POST("/commands/task-failed", h.TaskFailed)
	runs.POST("/commands/subworkflow-done", h.SubworkflowDone)
	runs.POST("/tokens/:tokenId/executing", h.MarkExecuting)
}

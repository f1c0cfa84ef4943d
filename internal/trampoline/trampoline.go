// Package trampoline implements the depth-breaking wakeup mechanism of
// spec.md §5: rather than a Coordinator invoking another Coordinator's
// planning pass inline (growing the call stack once per hop of a fan-out/
// fan-in/sub-workflow chain), planning emits ENQUEUE_COMMAND_SELF, which
// persists a row and schedules an immediate alarm. Trampoline is the loop
// that turns a fired alarm back into a planning-pass invocation.
package trampoline

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/wonderhq/coordinator/internal/decision"
	"github.com/wonderhq/coordinator/internal/redisx"
	"github.com/wonderhq/coordinator/internal/store"
)

// Logger is the minimal logging surface trampoline needs.
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Debug(msg string, keysAndValues ...interface{})
}

// CommandRunner is the one method trampoline needs from internal/dispatcher:
// run a single command through that run's FIFO queue. Kept as an interface
// here (rather than importing internal/dispatcher) so dispatcher can depend
// on trampoline for scheduling without a import cycle.
type CommandRunner interface {
	Run(ctx context.Context, cmd decision.Command) error
}

// alarmClaimer and pendingClaimer narrow Trampoline's dependencies on
// *redisx.Client and *store.PendingDispatchRepository down to the calls it
// actually makes, so tests can drive tick()/handleAlarm() with fakes
// instead of a live Redis and Postgres.
type alarmClaimer interface {
	ClaimDueAlarms(ctx context.Context, limit int64) ([]redisx.AlarmPayload, error)
}

type pendingClaimer interface {
	ClaimDue(ctx context.Context, limit int) ([]store.PendingDispatchRow, error)
	Delete(ctx context.Context, id int64) error
}

// Trampoline polls the Redis alarm queue and, for each due alarm, either
// claims the run's pending-dispatch rows (alarm reason "pending_dispatch")
// or re-enters planning directly with an ALARM_FIRED command (any other
// reason — fan-in timeout, sub-workflow timeout, user-scheduled delay).
type Trampoline struct {
	alarms        alarmClaimer
	pending       pendingClaimer
	runner        CommandRunner
	logger        Logger
	checkInterval time.Duration
	claimBatch    int64
}

func New(alarms alarmClaimer, pending pendingClaimer, runner CommandRunner, logger Logger) *Trampoline {
	return &Trampoline{
		alarms:        alarms,
		pending:       pending,
		runner:        runner,
		logger:        logger,
		checkInterval: 200 * time.Millisecond,
		claimBatch:    50,
	}
}

// WithCheckInterval sets the alarm-queue poll interval.
func (t *Trampoline) WithCheckInterval(interval time.Duration) *Trampoline {
	t.checkInterval = interval
	return t
}

// Start polls until ctx is cancelled, driving due alarms back into
// planning. It runs as its own goroutine in cmd/coordinator's main.
func (t *Trampoline) Start(ctx context.Context) error {
	t.logger.Info("trampoline starting", "check_interval", t.checkInterval)

	ticker := time.NewTicker(t.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			t.logger.Info("trampoline shutting down")
			return ctx.Err()
		case <-ticker.C:
			if err := t.tick(ctx); err != nil {
				t.logger.Error("trampoline tick failed", "error", err)
			}
		}
	}
}

func (t *Trampoline) tick(ctx context.Context) error {
	fired, err := t.alarms.ClaimDueAlarms(ctx, t.claimBatch)
	if err != nil {
		return fmt.Errorf("claim due alarms: %w", err)
	}

	for _, alarm := range fired {
		if err := t.handleAlarm(ctx, alarm); err != nil {
			t.logger.Error("handle alarm failed", "run_id", alarm.RunID, "reason", alarm.Reason, "error", err)
		}
	}
	return nil
}

func (t *Trampoline) handleAlarm(ctx context.Context, alarm redisx.AlarmPayload) error {
	if alarm.Reason != "pending_dispatch" {
		return t.runner.Run(ctx, decision.Command{
			Type:  decision.CmdAlarmFired,
			RunID: alarm.RunID,
			AlarmFired: &decision.AlarmFiredCmd{
				Reason: alarm.Reason,
			},
		})
	}
	return t.drainPending(ctx, alarm.RunID)
}

// drainPending claims up to 100 due pending_dispatch rows and runs each
// through the command runner, in claim order, deleting each row once its
// command has actually been run so a retried alarm doesn't replay it. The
// claim is not filtered by runID: due rows of every run are drained, and
// runID only labels the claim error.
func (t *Trampoline) drainPending(ctx context.Context, runID string) error {
	rows, err := t.pending.ClaimDue(ctx, 100)
	if err != nil {
		return fmt.Errorf("claim pending dispatch rows for run %s: %w", runID, err)
	}

	for _, row := range rows {
		cmd, err := CommandFromPendingRow(row)
		if err != nil {
			t.logger.Error("drop malformed pending dispatch row", "id", row.ID, "error", err)
			continue
		}
		if err := t.runner.Run(ctx, cmd); err != nil {
			t.logger.Error("run pending dispatch command failed", "id", row.ID, "run_id", row.TargetRunID, "error", err)
			continue
		}
		if err := t.pending.Delete(ctx, row.ID); err != nil {
			t.logger.Error("delete pending dispatch row failed", "id", row.ID, "error", err)
		}
	}
	return nil
}

// CommandFromPendingRow round-trips a pending_dispatch row's generic
// payload map back into the typed decision.Command the row's
// command_type names. Exported so internal/supervisor's cron-driven
// rescan can decode the same rows without its own copy of this switch.
func CommandFromPendingRow(row store.PendingDispatchRow) (decision.Command, error) {
	cmd := decision.Command{Type: decision.CommandType(row.CommandType), RunID: row.TargetRunID}

	switch cmd.Type {
	case decision.CmdStartWorkflow:
		var p decision.StartWorkflowCmd
		if err := decodeInto(row.Payload, &p); err != nil {
			return cmd, err
		}
		cmd.StartWorkflow = &p
	case decision.CmdTaskCompleted:
		var p decision.TaskCompletedCmd
		if err := decodeInto(row.Payload, &p); err != nil {
			return cmd, err
		}
		cmd.TaskCompleted = &p
	case decision.CmdTaskFailed:
		var p decision.TaskFailedCmd
		if err := decodeInto(row.Payload, &p); err != nil {
			return cmd, err
		}
		cmd.TaskFailed = &p
	case decision.CmdSubworkflowDone:
		var p decision.SubworkflowDoneCmd
		if err := decodeInto(row.Payload, &p); err != nil {
			return cmd, err
		}
		cmd.SubworkflowDone = &p
	case decision.CmdAlarmFired:
		var p decision.AlarmFiredCmd
		if err := decodeInto(row.Payload, &p); err != nil {
			return cmd, err
		}
		cmd.AlarmFired = &p
	case decision.CmdCancelWorkflow:
		var p decision.CancelWorkflowCmd
		if err := decodeInto(row.Payload, &p); err != nil {
			return cmd, err
		}
		cmd.CancelWorkflow = &p
	default:
		return cmd, fmt.Errorf("unknown pending dispatch command type %q", row.CommandType)
	}
	return cmd, nil
}

func decodeInto(payload map[string]interface{}, out interface{}) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal pending dispatch payload: %w", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("unmarshal pending dispatch payload: %w", err)
	}
	return nil
}

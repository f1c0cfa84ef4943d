package trampoline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonderhq/coordinator/internal/decision"
	"github.com/wonderhq/coordinator/internal/redisx"
	"github.com/wonderhq/coordinator/internal/store"
)

type nopLogger struct{}

func (nopLogger) Info(msg string, kv ...interface{})  {}
func (nopLogger) Error(msg string, kv ...interface{}) {}
func (nopLogger) Warn(msg string, kv ...interface{})  {}
func (nopLogger) Debug(msg string, kv ...interface{}) {}

type fakeAlarmClaimer struct {
	toReturn []redisx.AlarmPayload
}

func (f *fakeAlarmClaimer) ClaimDueAlarms(ctx context.Context, limit int64) ([]redisx.AlarmPayload, error) {
	out := f.toReturn
	f.toReturn = nil
	return out, nil
}

type fakePendingClaimer struct {
	rows    []store.PendingDispatchRow
	deleted []int64
}

func (f *fakePendingClaimer) ClaimDue(ctx context.Context, limit int) ([]store.PendingDispatchRow, error) {
	out := f.rows
	f.rows = nil
	return out, nil
}

func (f *fakePendingClaimer) Delete(ctx context.Context, id int64) error {
	f.deleted = append(f.deleted, id)
	return nil
}

type fakeRunner struct {
	ran []decision.Command
}

func (f *fakeRunner) Run(ctx context.Context, cmd decision.Command) error {
	f.ran = append(f.ran, cmd)
	return nil
}

func TestTick_NonPendingDispatchAlarm_RunsAlarmFiredCommand(t *testing.T) {
	alarms := &fakeAlarmClaimer{toReturn: []redisx.AlarmPayload{{RunID: "run-1", Reason: "fan_in_timeout"}}}
	runner := &fakeRunner{}
	tr := New(alarms, &fakePendingClaimer{}, runner, nopLogger{})

	require.NoError(t, tr.tick(context.Background()))

	require.Len(t, runner.ran, 1)
	assert.Equal(t, decision.CmdAlarmFired, runner.ran[0].Type)
	assert.Equal(t, "run-1", runner.ran[0].RunID)
	require.NotNil(t, runner.ran[0].AlarmFired)
	assert.Equal(t, "fan_in_timeout", runner.ran[0].AlarmFired.Reason)
}

func TestTick_PendingDispatchAlarm_DrainsAndDeletesRows(t *testing.T) {
	alarms := &fakeAlarmClaimer{toReturn: []redisx.AlarmPayload{{RunID: "run-2", Reason: "pending_dispatch"}}}
	pending := &fakePendingClaimer{rows: []store.PendingDispatchRow{
		{
			ID: 7, TargetRunID: "run-2", CommandType: string(decision.CmdTaskCompleted),
			Payload: map[string]interface{}{"token_id": "tok-1", "output": map[string]interface{}{"ok": true}},
		},
	}}
	runner := &fakeRunner{}
	tr := New(alarms, pending, runner, nopLogger{})

	require.NoError(t, tr.tick(context.Background()))

	require.Len(t, runner.ran, 1)
	assert.Equal(t, decision.CmdTaskCompleted, runner.ran[0].Type)
	require.NotNil(t, runner.ran[0].TaskCompleted)
	assert.Equal(t, "tok-1", runner.ran[0].TaskCompleted.TokenID)
	assert.Equal(t, []int64{7}, pending.deleted)
}

func TestCommandFromPendingRow_UnknownTypeErrors(t *testing.T) {
	_, err := CommandFromPendingRow(store.PendingDispatchRow{CommandType: "NOT_A_REAL_COMMAND"})
	require.Error(t, err)
}

func TestCommandFromPendingRow_SubworkflowDone(t *testing.T) {
	row := store.PendingDispatchRow{
		TargetRunID: "run-3",
		CommandType: string(decision.CmdSubworkflowDone),
		Payload: map[string]interface{}{
			"parent_token_id": "tok-parent",
			"child_run_id":    "run-child",
			"status":          "completed",
		},
	}
	cmd, err := CommandFromPendingRow(row)
	require.NoError(t, err)
	require.NotNil(t, cmd.SubworkflowDone)
	assert.Equal(t, "tok-parent", cmd.SubworkflowDone.ParentTokenID)
	assert.Equal(t, "completed", cmd.SubworkflowDone.Status)
}

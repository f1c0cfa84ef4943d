package supervisor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonderhq/coordinator/internal/decision"
	"github.com/wonderhq/coordinator/internal/store"
)

type nopLogger struct{}

func (nopLogger) Info(msg string, kv ...interface{})  {}
func (nopLogger) Error(msg string, kv ...interface{}) {}
func (nopLogger) Warn(msg string, kv ...interface{})  {}
func (nopLogger) Debug(msg string, kv ...interface{}) {}

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

func TestRescan_NoOverdueRows_IsNoop(t *testing.T) {
	pending := &fakePendingClaimer{}
	runner := &fakeRunner{}
	s := New(pending, runner, nopLogger{}, "@every 30s", 50)

	require.NoError(t, s.rescan(context.Background()))
	assert.Empty(t, runner.ran)
}

func TestRescan_DrainsAndDeletesOverdueRows(t *testing.T) {
	pending := &fakePendingClaimer{rows: []store.PendingDispatchRow{
		{
			ID: 5, TargetRunID: "run-9", CommandType: string(decision.CmdAlarmFired),
			Payload: map[string]interface{}{"reason": "fan_in_timeout"},
		},
	}}
	runner := &fakeRunner{}
	s := New(pending, runner, nopLogger{}, "@every 30s", 50)

	require.NoError(t, s.rescan(context.Background()))

	require.Len(t, runner.ran, 1)
	assert.Equal(t, decision.CmdAlarmFired, runner.ran[0].Type)
	assert.Equal(t, []int64{5}, pending.deleted)
}

func TestRescan_MalformedRow_IsDroppedNotRetried(t *testing.T) {
	pending := &fakePendingClaimer{rows: []store.PendingDispatchRow{
		{ID: 6, TargetRunID: "run-9", CommandType: "NOT_A_REAL_COMMAND"},
	}}
	runner := &fakeRunner{}
	s := New(pending, runner, nopLogger{}, "@every 30s", 50)

	require.NoError(t, s.rescan(context.Background()))

	assert.Empty(t, runner.ran)
	assert.Empty(t, pending.deleted)
}

package apply

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonderhq/coordinator/internal/decision"
	"github.com/wonderhq/coordinator/internal/logger"
	"github.com/wonderhq/coordinator/internal/model"
)

// fakeTaskDispatcher records Dispatch calls and can be made to fail a fixed
// number of times before succeeding, to exercise the retry wrapper.
type fakeTaskDispatcher struct {
	mu         sync.Mutex
	failTimes  int
	calls      []string
}

func (f *fakeTaskDispatcher) Dispatch(ctx context.Context, tokenID, nodeID, actionRef string, input map[string]interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, tokenID)
	if f.failTimes > 0 {
		f.failTimes--
		return errors.New("executor unavailable")
	}
	return nil
}

type fakeStatusReporter struct {
	lastRunID string
	lastStatus model.RunStatus
}

func (f *fakeStatusReporter) UpdateStatus(ctx context.Context, runID string, status model.RunStatus, finalOutput map[string]interface{}, errInfo *model.ErrorInfo) error {
	f.lastRunID = runID
	f.lastStatus = status
	return nil
}

type failingStatusReporter struct{}

func (f *failingStatusReporter) UpdateStatus(ctx context.Context, runID string, status model.RunStatus, finalOutput map[string]interface{}, errInfo *model.ErrorInfo) error {
	return errors.New("resources service unavailable")
}

type fakeSubworkflowCoordinator struct {
	startedDefinitionRef string
	childRunIDToReturn   string
	notifiedChildRunID   string
}

func (f *fakeSubworkflowCoordinator) StartWorkflow(ctx context.Context, definitionRef string, input map[string]interface{}, parentRunID, parentTokenID *string) (string, error) {
	f.startedDefinitionRef = definitionRef
	return f.childRunIDToReturn, nil
}

func (f *fakeSubworkflowCoordinator) NotifyParent(ctx context.Context, parentRunID, parentTokenID, childRunID string, status model.RunStatus, output map[string]interface{}, errInfo *model.ErrorInfo) error {
	f.notifiedChildRunID = childRunID
	return nil
}

type fakeAlarmScheduler struct {
	scheduled []string
}

func (f *fakeAlarmScheduler) ScheduleAlarm(ctx context.Context, runID, reason string, delayMS int64) error {
	f.scheduled = append(f.scheduled, runID+":"+reason)
	return nil
}

type fakePendingQueue struct {
	enqueued []string
}

func (f *fakePendingQueue) Enqueue(ctx context.Context, targetRunID, commandType string, payload map[string]interface{}, notBefore time.Time) error {
	f.enqueued = append(f.enqueued, targetRunID+":"+commandType)
	return nil
}

type fakeChildRunRecorder struct {
	runID, parentTokenID, childRunID string
}

func (f *fakeChildRunRecorder) SetChildRunID(ctx context.Context, runID, parentTokenID, childRunID string) error {
	f.runID, f.parentTokenID, f.childRunID = runID, parentTokenID, childRunID
	return nil
}

func newTestDispatcher(executor taskDispatcher, resources statusReporter, coord subworkflowCoordinator, alarms alarmScheduler, pending pendingDispatchQueue, subworkflows childRunRecorder) *Dispatcher {
	return newDispatcherForTest(executor, resources, coord, alarms, pending, subworkflows, logger.New("info", "text"))
}

func TestDispatch_DispatchToken_RetriesThenSucceeds(t *testing.T) {
	executor := &fakeTaskDispatcher{failTimes: 2}
	d := newTestDispatcher(executor, &fakeStatusReporter{}, &fakeSubworkflowCoordinator{}, &fakeAlarmScheduler{}, &fakePendingQueue{}, &fakeChildRunRecorder{})

	decisions := []decision.Decision{{
		Type: decision.DispatchToken,
		DispatchTokenPayload: &decision.DispatchTokenP{
			TokenID: "tok-1", NodeID: "node-a", ActionRef: "actions.send_email",
		},
	}}

	d.Dispatch(context.Background(), "run-1", decisions)

	assert.Len(t, executor.calls, 3)
}

func TestDispatch_UpdateResourcesStatus_CallsReporter(t *testing.T) {
	resources := &fakeStatusReporter{}
	d := newTestDispatcher(&fakeTaskDispatcher{}, resources, &fakeSubworkflowCoordinator{}, &fakeAlarmScheduler{}, &fakePendingQueue{}, &fakeChildRunRecorder{})

	decisions := []decision.Decision{{
		Type: decision.UpdateResourcesStatus,
		UpdateResourcesStatusPayload: &decision.UpdateResourcesStatusP{
			Status: model.RunCompleted,
		},
	}}

	d.Dispatch(context.Background(), "run-1", decisions)

	assert.Equal(t, "run-1", resources.lastRunID)
	assert.Equal(t, model.RunCompleted, resources.lastStatus)
}

func TestDispatch_StartSubworkflow_BackfillsChildRunID(t *testing.T) {
	coord := &fakeSubworkflowCoordinator{childRunIDToReturn: "run-child-9"}
	recorder := &fakeChildRunRecorder{}
	d := newTestDispatcher(&fakeTaskDispatcher{}, &fakeStatusReporter{}, coord, &fakeAlarmScheduler{}, &fakePendingQueue{}, recorder)

	decisions := []decision.Decision{{
		Type: decision.StartSubworkflow,
		StartSubworkflowPayload: &decision.StartSubworkflowP{
			ParentTokenID: "tok-parent", DefinitionRef: "approval_flow",
		},
	}}

	d.Dispatch(context.Background(), "run-1", decisions)

	assert.Equal(t, "approval_flow", coord.startedDefinitionRef)
	assert.Equal(t, "run-1", recorder.runID)
	assert.Equal(t, "tok-parent", recorder.parentTokenID)
	assert.Equal(t, "run-child-9", recorder.childRunID)
}

func TestDispatch_EnqueueCommandSelf_EnqueuesAndSchedulesImmediateAlarm(t *testing.T) {
	pending := &fakePendingQueue{}
	alarms := &fakeAlarmScheduler{}
	d := newTestDispatcher(&fakeTaskDispatcher{}, &fakeStatusReporter{}, &fakeSubworkflowCoordinator{}, alarms, pending, &fakeChildRunRecorder{})

	decisions := []decision.Decision{{
		Type: decision.EnqueueCommandSelf,
		EnqueueCommandSelfPayload: &decision.EnqueueCommandSelfP{
			TargetRunID: "run-2", CommandType: "ALARM_FIRED",
		},
	}}

	d.Dispatch(context.Background(), "run-1", decisions)

	require.Len(t, pending.enqueued, 1)
	assert.Equal(t, "run-2:ALARM_FIRED", pending.enqueued[0])
	require.Len(t, alarms.scheduled, 1)
	assert.Equal(t, "run-2:pending_dispatch", alarms.scheduled[0])
}

func TestDispatch_DispatchToken_ExhaustsRetries_EmitsDispatchErrorAndFailsToken(t *testing.T) {
	executor := &fakeTaskDispatcher{failTimes: 10}
	pending := &fakePendingQueue{}
	alarms := &fakeAlarmScheduler{}
	d := newTestDispatcher(executor, &fakeStatusReporter{}, &fakeSubworkflowCoordinator{}, alarms, pending, &fakeChildRunRecorder{})

	decisions := []decision.Decision{{
		Type: decision.DispatchToken,
		DispatchTokenPayload: &decision.DispatchTokenP{
			TokenID: "tok-1", NodeID: "node-a", ActionRef: "actions.send_email",
		},
	}}

	events := d.Dispatch(context.Background(), "run-1", decisions)

	assert.Len(t, executor.calls, 3, "retries are capped at 3 attempts")

	require.Len(t, events, 1)
	assert.Equal(t, "dispatch.error", events[0].Kind)
	assert.Equal(t, "tok-1", events[0].TokenID)

	require.Len(t, pending.enqueued, 1)
	assert.Equal(t, "run-1:TASK_FAILED", pending.enqueued[0])
	require.Len(t, alarms.scheduled, 1)
	assert.Equal(t, "run-1:pending_dispatch", alarms.scheduled[0])
}

func TestDispatch_UpdateResourcesStatus_ExhaustsRetries_EmitsDispatchErrorWithoutTokenFollowUp(t *testing.T) {
	resources := &failingStatusReporter{}
	pending := &fakePendingQueue{}
	d := newTestDispatcher(&fakeTaskDispatcher{}, resources, &fakeSubworkflowCoordinator{}, &fakeAlarmScheduler{}, pending, &fakeChildRunRecorder{})

	decisions := []decision.Decision{{
		Type: decision.UpdateResourcesStatus,
		UpdateResourcesStatusPayload: &decision.UpdateResourcesStatusP{
			Status: model.RunCompleted,
		},
	}}

	events := d.Dispatch(context.Background(), "run-1", decisions)

	require.Len(t, events, 1)
	assert.Equal(t, "dispatch.error", events[0].Kind)
	assert.Empty(t, events[0].TokenID, "no single token owns a resources-status report")
	assert.Empty(t, pending.enqueued, "nothing to mark failed for an effect with no owning token")
}

func TestDispatch_SkipsPhase1Decisions(t *testing.T) {
	executor := &fakeTaskDispatcher{}
	d := newTestDispatcher(executor, &fakeStatusReporter{}, &fakeSubworkflowCoordinator{}, &fakeAlarmScheduler{}, &fakePendingQueue{}, &fakeChildRunRecorder{})

	decisions := []decision.Decision{{
		Type:               decision.CreateToken,
		CreateTokenPayload: &decision.CreateTokenP{},
	}}

	d.Dispatch(context.Background(), "run-1", decisions)

	assert.Empty(t, executor.calls)
}

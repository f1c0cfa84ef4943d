package dispatcher

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonderhq/coordinator/internal/decision"
	"github.com/wonderhq/coordinator/internal/logger"
	"github.com/wonderhq/coordinator/internal/model"
	"github.com/wonderhq/coordinator/internal/planning"
	"github.com/wonderhq/coordinator/internal/trace"
)

type fakeLoader struct {
	state *model.WorkflowState
}

func (f *fakeLoader) Load(ctx context.Context, runID string) (*model.WorkflowState, error) {
	return f.state, nil
}

type fakePlanner struct {
	mu       sync.Mutex
	seen     []decision.CommandType
	decision decision.Decision
}

func (f *fakePlanner) Plan(state *model.WorkflowState, cmd decision.Command, now time.Time) (planning.Result, error) {
	f.mu.Lock()
	f.seen = append(f.seen, cmd.Type)
	f.mu.Unlock()
	return planning.Result{
		Decisions: []decision.Decision{f.decision},
		Trace:     []trace.Event{trace.NewEvent(now, cmd.RunID, "test.event", "", "", nil)},
	}, nil
}

type fakeMutator struct {
	applied [][]decision.Decision
	events  []trace.Event
}

func (f *fakeMutator) Apply(ctx context.Context, runID string, decisions []decision.Decision) ([]trace.Event, error) {
	f.applied = append(f.applied, decisions)
	return f.events, nil
}

type fakeEffects struct {
	dispatched [][]decision.Decision
	events     []trace.Event
}

func (f *fakeEffects) Dispatch(ctx context.Context, runID string, decisions []decision.Decision) []trace.Event {
	f.dispatched = append(f.dispatched, decisions)
	return f.events
}

type fakeTraceFlusher struct {
	mu     sync.Mutex
	events [][]trace.Event
}

func (f *fakeTraceFlusher) InsertBatch(ctx context.Context, events []trace.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, events)
	return nil
}

func newTestDispatcher(planner *fakePlanner, mutate *fakeMutator, effects *fakeEffects, tr *fakeTraceFlusher) *Dispatcher {
	return New(&fakeLoader{state: &model.WorkflowState{RunID: "run-1"}}, planner, mutate, effects, tr, logger.New("info", "text"))
}

func TestRun_SingleCommand_LoadsPlansAppliesDispatchesAndFlushes(t *testing.T) {
	planner := &fakePlanner{decision: decision.Decision{Type: decision.CreateToken}}
	mutate := &fakeMutator{}
	effects := &fakeEffects{}
	tr := &fakeTraceFlusher{}
	d := newTestDispatcher(planner, mutate, effects, tr)

	err := d.Run(context.Background(), decision.Command{Type: decision.CmdStartWorkflow, RunID: "run-1"})
	require.NoError(t, err)

	require.Len(t, mutate.applied, 1)
	require.Len(t, effects.dispatched, 1)
	require.Len(t, tr.events, 1)
	// start event + planner's one trace event + one dispatch.decision.planned
	// milestone (one CreateToken decision) + complete event
	batch := tr.events[0]
	require.Len(t, batch, 4)
	assert.Equal(t, "dispatch.batch.start", batch[0].Kind)
	assert.Equal(t, "test.event", batch[1].Kind)
	assert.Equal(t, "dispatch.decision.planned", batch[2].Kind)
	assert.Equal(t, "dispatch.batch.complete", batch[3].Kind)
}

func TestRun_CommandsForSameRun_AreSerialized(t *testing.T) {
	planner := &fakePlanner{decision: decision.Decision{Type: decision.CreateToken}}
	mutate := &fakeMutator{}
	effects := &fakeEffects{}
	tr := &fakeTraceFlusher{}
	d := newTestDispatcher(planner, mutate, effects, tr)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := d.Run(context.Background(), decision.Command{Type: decision.CmdTaskCompleted, RunID: "run-1"})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	planner.mu.Lock()
	defer planner.mu.Unlock()
	assert.Len(t, planner.seen, 20)
}

func TestRun_DifferentRuns_GetIndependentQueues(t *testing.T) {
	planner := &fakePlanner{decision: decision.Decision{Type: decision.CreateToken}}
	mutate := &fakeMutator{}
	effects := &fakeEffects{}
	tr := &fakeTraceFlusher{}
	d := newTestDispatcher(planner, mutate, effects, tr)

	require.NoError(t, d.Run(context.Background(), decision.Command{Type: decision.CmdStartWorkflow, RunID: "run-1"}))
	require.NoError(t, d.Run(context.Background(), decision.Command{Type: decision.CmdStartWorkflow, RunID: "run-2"}))

	d.mu.Lock()
	defer d.mu.Unlock()
	assert.LessOrEqual(t, len(d.queues), 2)
}

func TestRun_SetFanInActivatedDecision_EmitsDispatchSyncFanInActivatedMilestone(t *testing.T) {
	planner := &fakePlanner{decision: decision.Decision{
		Type: decision.SetFanInActivated,
		SetFanInActivatedPayload: &decision.SetFanInActivatedP{
			SiblingGroup: "sg-1", FanInNodeID: "fan-in", MergedTokenID: "tok-merged",
		},
	}}
	tr := &fakeTraceFlusher{}
	d := newTestDispatcher(planner, &fakeMutator{}, &fakeEffects{}, tr)

	require.NoError(t, d.Run(context.Background(), decision.Command{Type: decision.CmdTaskCompleted, RunID: "run-1"}))

	require.Len(t, tr.events, 1)
	var found *trace.Event
	for i := range tr.events[0] {
		if tr.events[0][i].Kind == "dispatch.sync.fan_in_activated" {
			found = &tr.events[0][i]
		}
	}
	require.NotNil(t, found, "expected a dispatch.sync.fan_in_activated milestone event")
	assert.Equal(t, "tok-merged", found.TokenID)
	assert.Equal(t, "fan-in", found.NodeID)
}

func TestRun_SetWorkflowStatusDecision_EmitsDispatchWorkflowMilestones(t *testing.T) {
	cases := []struct {
		name   string
		status model.RunStatus
		kind   string
	}{
		{"completed", model.RunCompleted, "dispatch.workflow.completed"},
		{"failed", model.RunFailed, "dispatch.workflow.failed"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			planner := &fakePlanner{decision: decision.Decision{
				Type:                     decision.SetWorkflowStatus,
				SetWorkflowStatusPayload: &decision.SetWorkflowStatusP{Status: tc.status},
			}}
			tr := &fakeTraceFlusher{}
			d := newTestDispatcher(planner, &fakeMutator{}, &fakeEffects{}, tr)

			require.NoError(t, d.Run(context.Background(), decision.Command{Type: decision.CmdTaskCompleted, RunID: "run-1"}))

			require.Len(t, tr.events, 1)
			kinds := make([]string, len(tr.events[0]))
			for i, e := range tr.events[0] {
				kinds[i] = e.Kind
			}
			assert.Contains(t, kinds, tc.kind)
		})
	}
}

func TestRun_MutatorOperationEvents_AreFoldedIntoFlushedBatch(t *testing.T) {
	planner := &fakePlanner{decision: decision.Decision{Type: decision.CreateToken}}
	mutate := &fakeMutator{events: []trace.Event{trace.NewEvent(time.Now(), "run-1", "operation.tokens.created", "tok-1", "node-a", nil)}}
	tr := &fakeTraceFlusher{}
	d := newTestDispatcher(planner, mutate, &fakeEffects{}, tr)

	require.NoError(t, d.Run(context.Background(), decision.Command{Type: decision.CmdStartWorkflow, RunID: "run-1"}))

	require.Len(t, tr.events, 1)
	kinds := make([]string, len(tr.events[0]))
	for i, e := range tr.events[0] {
		kinds[i] = e.Kind
	}
	assert.Contains(t, kinds, "operation.tokens.created")
}

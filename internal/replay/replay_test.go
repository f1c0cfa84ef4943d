package replay

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonderhq/coordinator/internal/decision"
	"github.com/wonderhq/coordinator/internal/model"
	"github.com/wonderhq/coordinator/internal/trace"
)

func sampleState(runID string, x int) *model.WorkflowState {
	return &model.WorkflowState{
		RunID: runID,
		Tokens: map[string]model.Token{
			"0": {ID: "0", RunID: runID, NodeID: "A", Status: model.TokenCompleted},
		},
		FanIns: map[string]model.FanIn{},
		Context: model.Context{
			Input:        map[string]interface{}{},
			State:        map[string]interface{}{"x": x},
			Output:       map[string]interface{}{},
			BranchTables: map[string]map[string]interface{}{},
		},
		Subworkflows:    map[string]model.Subworkflow{},
		Status:          model.WorkflowStatus{Status: model.RunCompleted},
		IterationCounts: map[string]int{},
	}
}

func TestDiff_IdenticalStatesIgnoringRunID_ReportsEqual(t *testing.T) {
	before := sampleState("run-live", 42)
	after := sampleState("run-replay", 42)

	patch, equal, err := Diff(before, after)
	require.NoError(t, err)
	assert.True(t, equal)
	assert.Nil(t, patch)
}

func TestDiff_DivergentStates_ReportsPatch(t *testing.T) {
	before := sampleState("run-live", 42)
	after := sampleState("run-replay", 7)

	patch, equal, err := Diff(before, after)
	require.NoError(t, err)
	assert.False(t, equal)
	assert.NotEmpty(t, patch)
}

type fakeMutator struct {
	applied []decision.Decision
}

func (f *fakeMutator) Apply(ctx context.Context, runID string, decisions []decision.Decision) ([]trace.Event, error) {
	f.applied = append(f.applied, decisions...)
	return nil, nil
}

type fakeLoader struct {
	byRunID map[string]*model.WorkflowState
}

func (f *fakeLoader) Load(ctx context.Context, runID string) (*model.WorkflowState, error) {
	return f.byRunID[runID], nil
}

func TestVerify_MatchingReplayedState_ReportsEqual(t *testing.T) {
	mutate := &fakeMutator{}
	loader := &fakeLoader{byRunID: map[string]*model.WorkflowState{
		"run-live":   sampleState("run-live", 9),
		"run-replay": sampleState("run-replay", 9),
	}}

	equal, patch, err := Verify(context.Background(), mutate, loader, "run-live", "run-replay", []decision.Decision{
		{Type: decision.CreateToken, CreateTokenPayload: &decision.CreateTokenP{}},
	})
	require.NoError(t, err)
	assert.True(t, equal)
	assert.Nil(t, patch)
	assert.Len(t, mutate.applied, 1)
}

func TestVerify_DivergentReplayedState_ReportsPatch(t *testing.T) {
	mutate := &fakeMutator{}
	loader := &fakeLoader{byRunID: map[string]*model.WorkflowState{
		"run-live":   sampleState("run-live", 9),
		"run-replay": sampleState("run-replay", 1),
	}}

	equal, patch, err := Verify(context.Background(), mutate, loader, "run-live", "run-replay", nil)
	require.NoError(t, err)
	assert.False(t, equal)
	assert.NotEmpty(t, patch)
}

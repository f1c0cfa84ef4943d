package apply

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonderhq/coordinator/internal/decision"
	"github.com/wonderhq/coordinator/internal/model"
)

func TestSectionMap_ReturnsRequestedSection(t *testing.T) {
	c := &model.Context{
		Input:  map[string]interface{}{"a": 1},
		State:  map[string]interface{}{"b": 2},
		Output: map[string]interface{}{"c": 3},
	}

	assert.Equal(t, map[string]interface{}{"a": 1}, sectionMap(c, decision.SectionInput))
	assert.Equal(t, map[string]interface{}{"b": 2}, sectionMap(c, decision.SectionState))
	assert.Equal(t, map[string]interface{}{"c": 3}, sectionMap(c, decision.SectionOutput))
}

func TestSectionMap_NilSectionBecomesEmptyMap(t *testing.T) {
	c := &model.Context{}
	assert.Equal(t, map[string]interface{}{}, sectionMap(c, decision.SectionState))
}

func TestValueOrEmptyMap(t *testing.T) {
	assert.Equal(t, map[string]interface{}{}, valueOrEmptyMap(nil))
	assert.Equal(t, map[string]interface{}{"x": 1}, valueOrEmptyMap(map[string]interface{}{"x": 1}))
}

func TestTrimOutputPrefix(t *testing.T) {
	assert.Equal(t, "result", trimOutputPrefix("output.result"))
	assert.Equal(t, "state.value", trimOutputPrefix("state.value"))
	assert.Equal(t, "output", trimOutputPrefix("output"))
}

func TestCompletedAtFor_TerminalStatusGetsTimestamp(t *testing.T) {
	got := completedAtFor(model.TokenCompleted)
	ts, ok := got.(*time.Time)
	require.True(t, ok)
	assert.WithinDuration(t, time.Now(), *ts, time.Second)
}

func TestCompletedAtFor_NonTerminalStatusIsNil(t *testing.T) {
	assert.Nil(t, completedAtFor(model.TokenExecuting))
}

func TestOpEvent_StampsKindAndIdentifiers(t *testing.T) {
	now := time.Now()
	evt := opEvent(now, "run-1", "operation.tokens.created", "tok-1", "node-a", map[string]interface{}{"x": 1})

	require.NotNil(t, evt)
	assert.Equal(t, "run-1", evt.RunID)
	assert.Equal(t, "operation.tokens.created", evt.Kind)
	assert.Equal(t, "tok-1", evt.TokenID)
	assert.Equal(t, "node-a", evt.NodeID)
	assert.Equal(t, 1, evt.Detail["x"])
	assert.NotEmpty(t, evt.ID)
}

package condition

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonderhq/coordinator/internal/model"
)

func TestEvaluate_CEL_DollarShorthand(t *testing.T) {
	e := NewEvaluator()
	cond := &model.Condition{Type: "cel", Expression: "$.approved == true"}

	result, err := e.Evaluate(cond, map[string]interface{}{"approved": true}, nil)
	require.NoError(t, err)
	assert.True(t, result)

	result, err = e.Evaluate(cond, map[string]interface{}{"approved": false}, nil)
	require.NoError(t, err)
	assert.False(t, result)
}

func TestEvaluate_CEL_ContextVariable(t *testing.T) {
	e := NewEvaluator()
	cond := &model.Condition{Type: "cel", Expression: `ctx.retries < 3`}

	result, err := e.Evaluate(cond, nil, map[string]interface{}{"retries": 1})
	require.NoError(t, err)
	assert.True(t, result)

	result, err = e.Evaluate(cond, nil, map[string]interface{}{"retries": 5})
	require.NoError(t, err)
	assert.False(t, result)
}

func TestEvaluate_CachesCompiledProgram(t *testing.T) {
	e := NewEvaluator()
	cond := &model.Condition{Type: "cel", Expression: "$.x > 1"}

	_, err := e.Evaluate(cond, map[string]interface{}{"x": 2}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, e.CacheSize())

	_, err = e.Evaluate(cond, map[string]interface{}{"x": 3}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, e.CacheSize(), "second call with same expression should reuse the cached program")
}

func TestEvaluate_ClearCache(t *testing.T) {
	e := NewEvaluator()
	cond := &model.Condition{Type: "cel", Expression: "$.x > 1"}
	_, err := e.Evaluate(cond, map[string]interface{}{"x": 2}, nil)
	require.NoError(t, err)

	e.ClearCache()
	assert.Equal(t, 0, e.CacheSize())
}

func TestEvaluate_NonBooleanExpressionErrors(t *testing.T) {
	e := NewEvaluator()
	cond := &model.Condition{Type: "cel", Expression: "$.x + 1"}

	_, err := e.Evaluate(cond, map[string]interface{}{"x": 2}, nil)
	assert.Error(t, err)
}

func TestEvaluate_UnsupportedType(t *testing.T) {
	e := NewEvaluator()
	cond := &model.Condition{Type: "jsonpath", Expression: "$.x"}

	_, err := e.Evaluate(cond, nil, nil)
	assert.Error(t, err)
}

func TestEvaluate_NilCondition(t *testing.T) {
	e := NewEvaluator()
	_, err := e.Evaluate(nil, nil, nil)
	assert.Error(t, err)
}

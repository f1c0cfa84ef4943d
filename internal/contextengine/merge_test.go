package contextengine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonderhq/coordinator/internal/model"
)

func branches() []Branch {
	return []Branch{
		{Index: 0, Output: map[string]interface{}{"value": 1}},
		{Index: 1, Output: map[string]interface{}{"value": 2}},
		{Index: 2, Output: map[string]interface{}{"value": 3}},
	}
}

func TestMerge_Append(t *testing.T) {
	result, err := Merge(model.MergeAppend, branches())
	require.NoError(t, err)

	arr, ok := result.([]interface{})
	require.True(t, ok)
	assert.Len(t, arr, 3)
	assert.Equal(t, map[string]interface{}{"value": 1}, arr[0])
}

func TestMerge_Object(t *testing.T) {
	result, err := Merge(model.MergeObject, []Branch{
		{Index: 0, Output: map[string]interface{}{"a": 1}},
		{Index: 1, Output: map[string]interface{}{"b": 2}},
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"a": 1, "b": 2}, result)
}

func TestMerge_Object_LaterBranchWinsOnCollision(t *testing.T) {
	result, err := Merge(model.MergeObject, []Branch{
		{Index: 0, Output: map[string]interface{}{"a": "first"}},
		{Index: 1, Output: map[string]interface{}{"a": "second"}},
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"a": "second"}, result)
}

func TestMerge_KeyedByBranch(t *testing.T) {
	result, err := Merge(model.MergeKeyedByBranch, branches())
	require.NoError(t, err)

	m, ok := result.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, map[string]interface{}{"value": 1}, m["0"])
	assert.Equal(t, map[string]interface{}{"value": 3}, m["2"])
}

func TestMerge_KeyedByBranch_PartialArrival_KeysByOriginalBranchIndex(t *testing.T) {
	// Branches 0, 2 and 4 arrived out of a wider fan-out; branch 1 and 3
	// never showed up. The merge must still key by each arrival's own
	// BranchIndex, not by its position in this filtered slice.
	result, err := Merge(model.MergeKeyedByBranch, []Branch{
		{Index: 0, Output: map[string]interface{}{"value": "a"}},
		{Index: 2, Output: map[string]interface{}{"value": "b"}},
		{Index: 4, Output: map[string]interface{}{"value": "c"}},
	})
	require.NoError(t, err)

	m, ok := result.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, map[string]interface{}{"value": "a"}, m["0"])
	assert.Equal(t, map[string]interface{}{"value": "b"}, m["2"])
	assert.Equal(t, map[string]interface{}{"value": "c"}, m["4"])
	assert.NotContains(t, m, "1")
}

func TestMerge_LastWins(t *testing.T) {
	result, err := Merge(model.MergeLastWins, branches())
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"value": 3}, result)
}

func TestMerge_UnsupportedStrategy(t *testing.T) {
	_, err := Merge(model.MergeStrategy("bogus"), branches())
	assert.Error(t, err)
}

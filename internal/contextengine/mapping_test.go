package contextengine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonderhq/coordinator/internal/model"
)

func TestGetPath_NestedObject(t *testing.T) {
	data := map[string]interface{}{
		"output": map[string]interface{}{
			"approved": true,
		},
	}
	v, ok := GetPath(data, "output.approved")
	require.True(t, ok)
	assert.Equal(t, true, v)
}

func TestGetPath_ArrayIndex(t *testing.T) {
	data := map[string]interface{}{
		"items": []interface{}{
			map[string]interface{}{"name": "a"},
			map[string]interface{}{"name": "b"},
		},
	}
	v, ok := GetPath(data, "items.1.name")
	require.True(t, ok)
	assert.Equal(t, "b", v)
}

func TestGetPath_MissingPath(t *testing.T) {
	_, ok := GetPath(map[string]interface{}{}, "a.b.c")
	assert.False(t, ok)
}

func TestSetPath_CreatesIntermediateObjects(t *testing.T) {
	root := map[string]interface{}{}
	err := SetPath(root, "state.results.summary", "done")
	require.NoError(t, err)

	v, ok := GetPath(root, "state.results.summary")
	require.True(t, ok)
	assert.Equal(t, "done", v)
}

func TestApplyMapping(t *testing.T) {
	target := map[string]interface{}{}
	source := map[string]interface{}{"result": map[string]interface{}{"score": 42}}
	mappings := []model.FieldMapping{
		{SourcePath: "result.score", ContextPath: "state.score"},
	}

	err := ApplyMapping(target, source, mappings)
	require.NoError(t, err)

	v, ok := GetPath(target, "state.score")
	require.True(t, ok)
	assert.Equal(t, 42, v)
}

func TestApplyMapping_MissingSourceIsSkipped(t *testing.T) {
	target := map[string]interface{}{}
	source := map[string]interface{}{}
	mappings := []model.FieldMapping{
		{SourcePath: "missing.field", ContextPath: "state.x"},
	}

	err := ApplyMapping(target, source, mappings)
	require.NoError(t, err)

	_, ok := GetPath(target, "state.x")
	assert.False(t, ok)
}

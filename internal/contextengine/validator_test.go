package contextengine

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidator_NilSchemaAlwaysValid(t *testing.T) {
	v := NewValidator()
	err := v.Validate(nil, map[string]interface{}{"anything": true})
	assert.NoError(t, err)
}

func TestValidator_ValidValue(t *testing.T) {
	schema := map[string]interface{}{
		"type":     "object",
		"required": []interface{}{"approved"},
		"properties": map[string]interface{}{
			"approved": map[string]interface{}{"type": "boolean"},
		},
	}
	v := NewValidator()

	err := v.Validate(schema, map[string]interface{}{"approved": true})
	assert.NoError(t, err)
}

func TestValidator_MissingRequiredField(t *testing.T) {
	schema := map[string]interface{}{
		"type":     "object",
		"required": []interface{}{"approved"},
	}
	v := NewValidator()

	err := v.Validate(schema, map[string]interface{}{})
	assert.Error(t, err)
}

func TestValidator_WrongType(t *testing.T) {
	schema := map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"count": map[string]interface{}{"type": "integer"},
		},
	}
	v := NewValidator()

	err := v.Validate(schema, map[string]interface{}{"count": "not a number"})
	assert.Error(t, err)
}

package contextengine

import (
	"fmt"

	"github.com/xeipuuv/gojsonschema"
)

// Validator checks a context section's value against the JSON-Schema-like
// schema attached to a workflow definition (spec.md §3: the input, state
// and output sections are each "schema-bound").
type Validator struct{}

func NewValidator() *Validator {
	return &Validator{}
}

// Validate returns nil if value conforms to schema, or an error describing
// every violation gojsonschema found.
func (v *Validator) Validate(schema map[string]interface{}, value map[string]interface{}) error {
	if schema == nil {
		return nil
	}

	schemaLoader := gojsonschema.NewGoLoader(schema)
	documentLoader := gojsonschema.NewGoLoader(value)

	result, err := gojsonschema.Validate(schemaLoader, documentLoader)
	if err != nil {
		return fmt.Errorf("schema validation error: %w", err)
	}
	if !result.Valid() {
		msg := "context section failed schema validation:"
		for _, e := range result.Errors() {
			msg += " " + e.String() + ";"
		}
		return fmt.Errorf("%s", msg)
	}
	return nil
}

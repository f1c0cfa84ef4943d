// Package contextengine implements the schema-bound context read/write
// rules of spec.md §3/§4.4: field mapping extraction, schema validation,
// and the four fan-in merge strategies.
package contextengine

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/wonderhq/coordinator/internal/model"
)

// GetPath reads a dotted path (e.g. "output.approved", "items.0.name") out
// of a nested map/slice structure, mirroring the subset of JSONPath the
// teacher's CEL conditions already rely on ($.field -> output.field).
func GetPath(root interface{}, path string) (interface{}, bool) {
	if path == "" {
		return root, true
	}
	cur := root
	for _, part := range strings.Split(path, ".") {
		switch node := cur.(type) {
		case map[string]interface{}:
			v, ok := node[part]
			if !ok {
				return nil, false
			}
			cur = v
		case []interface{}:
			idx, err := strconv.Atoi(part)
			if err != nil || idx < 0 || idx >= len(node) {
				return nil, false
			}
			cur = node[idx]
		default:
			return nil, false
		}
	}
	return cur, true
}

// SetPath writes value at the dotted path inside root, creating
// intermediate maps as needed. Numeric path segments are not supported for
// writes: mappings only ever write into object-shaped context sections.
func SetPath(root map[string]interface{}, path string, value interface{}) error {
	parts := strings.Split(path, ".")
	cur := root
	for i, part := range parts {
		if i == len(parts)-1 {
			cur[part] = value
			return nil
		}
		next, ok := cur[part]
		if !ok {
			m := make(map[string]interface{})
			cur[part] = m
			cur = m
			continue
		}
		m, ok := next.(map[string]interface{})
		if !ok {
			return fmt.Errorf("cannot descend into non-object at %q", strings.Join(parts[:i+1], "."))
		}
		cur = m
	}
	return nil
}

// ApplyMapping extracts mappings' source paths out of sourceData and writes
// them into the shared target map at their context paths (spec.md §4.4.1:
// "apply the node's output mapping against the task's output").
func ApplyMapping(target map[string]interface{}, sourceData map[string]interface{}, mappings []model.FieldMapping) error {
	for _, m := range mappings {
		value, ok := GetPath(sourceData, m.SourcePath)
		if !ok {
			continue
		}
		if err := SetPath(target, m.ContextPath, value); err != nil {
			return fmt.Errorf("apply mapping %s -> %s: %w", m.SourcePath, m.ContextPath, err)
		}
	}
	return nil
}

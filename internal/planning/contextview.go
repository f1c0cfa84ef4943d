package planning

import "github.com/wonderhq/coordinator/internal/model"

// cloneContextView flattens a model.Context into the {"input","state","output"}
// root map that contextengine's dotted-path helpers and CEL's "ctx" variable
// both operate on.
func cloneContextView(c model.Context) map[string]interface{} {
	clone := c.Clone()
	return map[string]interface{}{
		"input":  valueOrEmpty(clone.Input),
		"state":  valueOrEmpty(clone.State),
		"output": valueOrEmpty(clone.Output),
	}
}

func valueOrEmpty(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return map[string]interface{}{}
	}
	return m
}

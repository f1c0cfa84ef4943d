// Package condition evaluates the opaque predicate expressions attached to
// transitions and loop clauses (spec.md §3: "conditions arrive as opaque
// strings evaluated by a supplied predicate evaluator"). CEL is the only
// supported type today; Evaluate rejects anything else.
package condition

import (
	"fmt"
	"strings"
	"sync"

	"github.com/google/cel-go/cel"

	"github.com/wonderhq/coordinator/internal/model"
)

// Evaluator evaluates conditions using CEL, caching compiled programs by
// normalized expression text.
type Evaluator struct {
	cache map[string]cel.Program
	mu    sync.RWMutex
}

// NewEvaluator constructs an Evaluator with an empty program cache.
func NewEvaluator() *Evaluator {
	return &Evaluator{
		cache: make(map[string]cel.Program),
	}
}

// Evaluate evaluates condition against the task output that just landed and
// the run's full context, as seen by the node the condition is attached to.
func (e *Evaluator) Evaluate(cond *model.Condition, output map[string]interface{}, ctx map[string]interface{}) (bool, error) {
	if cond == nil {
		return false, fmt.Errorf("nil condition")
	}

	switch cond.Type {
	case "cel":
		return e.evaluateCEL(cond.Expression, output, ctx)
	default:
		return false, fmt.Errorf("unsupported condition type: %s", cond.Type)
	}
}

func (e *Evaluator) evaluateCEL(expr string, output, ctx map[string]interface{}) (bool, error) {
	// $.field is the workflow-author-facing shorthand for output.field.
	normalized := strings.ReplaceAll(expr, "$.", "output.")

	e.mu.RLock()
	prg, exists := e.cache[normalized]
	e.mu.RUnlock()

	if !exists {
		var err error
		prg, err = e.compile(normalized)
		if err != nil {
			return false, err
		}
		e.mu.Lock()
		e.cache[normalized] = prg
		e.mu.Unlock()
	}

	out, _, err := prg.Eval(map[string]interface{}{
		"output": output,
		"ctx":    ctx,
	})
	if err != nil {
		return false, fmt.Errorf("cel evaluation error: %w", err)
	}

	result, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("cel expression did not return boolean, got %T", out.Value())
	}
	return result, nil
}

func (e *Evaluator) compile(expr string) (cel.Program, error) {
	env, err := cel.NewEnv(
		cel.Variable("output", cel.DynType),
		cel.Variable("ctx", cel.DynType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create cel env: %w", err)
	}

	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("cel compilation error: %w", issues.Err())
	}

	prg, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create cel program: %w", err)
	}
	return prg, nil
}

// ClearCache drops every compiled program. It is the only way to empty the
// cache: defcache's reload of a patched definition does not call it, and
// nothing else in the module does outside this package's test.
func (e *Evaluator) ClearCache() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cache = make(map[string]cel.Program)
}

// CacheSize reports how many distinct expressions are currently compiled.
func (e *Evaluator) CacheSize() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.cache)
}

// Package stateloader assembles the immutable model.WorkflowState snapshot
// planning operates on (spec.md §4.2: "load a fresh snapshot at the start
// of every command").
package stateloader

import (
	"context"
	"fmt"

	"github.com/wonderhq/coordinator/internal/defcache"
	"github.com/wonderhq/coordinator/internal/model"
	"github.com/wonderhq/coordinator/internal/store"
)

// Loader reads every table scoped to one run and assembles a WorkflowState.
type Loader struct {
	tokens        *store.TokenRepository
	fanIns        *store.FanInRepository
	contexts      *store.ContextRepository
	subworkflows  *store.SubworkflowRepository
	status        *store.StatusRepository
	iterations    *store.IterationRepository
	definitions   *defcache.Cache
}

func New(
	tokens *store.TokenRepository,
	fanIns *store.FanInRepository,
	contexts *store.ContextRepository,
	subworkflows *store.SubworkflowRepository,
	status *store.StatusRepository,
	iterations *store.IterationRepository,
	definitions *defcache.Cache,
) *Loader {
	return &Loader{
		tokens:       tokens,
		fanIns:       fanIns,
		contexts:     contexts,
		subworkflows: subworkflows,
		status:       status,
		iterations:   iterations,
		definitions:  definitions,
	}
}

// Load builds the WorkflowState for runID. Every field is populated from
// the local store except Definition, which comes from the read-through
// defcache fronting the Resources service.
func (l *Loader) Load(ctx context.Context, runID string) (*model.WorkflowState, error) {
	state, err := l.status.Get(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("load workflow status: %w", err)
	}
	state.RunID = runID

	definitionID, version, err := l.status.DefinitionRef(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("load definition ref: %w", err)
	}
	def, err := l.definitions.Get(ctx, definitionID, version)
	if err != nil {
		return nil, fmt.Errorf("load definition %s@%d: %w", definitionID, version, err)
	}
	state.Definition = def

	tokens, err := l.tokens.ListByRun(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("load tokens: %w", err)
	}
	state.Tokens = make(map[string]model.Token, len(tokens))
	for _, t := range tokens {
		state.Tokens[t.ID] = t
	}

	fanIns, err := l.fanIns.ListByRun(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("load fan-ins: %w", err)
	}
	state.FanIns = make(map[string]model.FanIn, len(fanIns))
	for _, f := range fanIns {
		state.FanIns[f.Key()] = f
	}

	ctxSections, err := l.contexts.Load(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("load context: %w", err)
	}
	state.Context = ctxSections

	subworkflows, err := l.subworkflows.ListByRun(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("load subworkflows: %w", err)
	}
	state.Subworkflows = make(map[string]model.Subworkflow, len(subworkflows))
	for _, sw := range subworkflows {
		state.Subworkflows[sw.ParentTokenID] = sw
	}

	iterationCounts, err := l.iterations.ListByRun(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("load iteration counts: %w", err)
	}
	state.IterationCounts = iterationCounts

	return state, nil
}

// Package apply is the Coordinator's two-phase decision executor (spec.md
// §4.5/§4.6): Mutator commits every phase-1 decision inside one local-store
// transaction, and Dispatcher (effects.go) carries out the phase-2 external
// effects only after that transaction has committed.
package apply

import (
	"context"
	"fmt"
	"time"

	"github.com/wonderhq/coordinator/internal/contextengine"
	"github.com/wonderhq/coordinator/internal/decision"
	"github.com/wonderhq/coordinator/internal/model"
	"github.com/wonderhq/coordinator/internal/store"
	"github.com/wonderhq/coordinator/internal/trace"
	"github.com/wonderhq/coordinator/internal/werr"
)

// Mutator applies phase-1 decisions inside a single pgx.Tx.
type Mutator struct {
	db *store.DB
}

func New(db *store.DB) *Mutator {
	return &Mutator{db: db}
}

// Apply runs every phase-1 decision in decisions inside one transaction,
// recovering a planning-layer bug as a werr.Bug instead of letting a panic
// escape the command loop (spec.md §7, "apply boundary recovers"). It
// returns the operation.* trace events produced by each committed write
// (spec.md §8 invariant 7), for the caller to fold into the same batch it
// flushes to internal/trace.
func (m *Mutator) Apply(ctx context.Context, runID string, decisions []decision.Decision) (events []trace.Event, err error) {
	tx, err := m.db.BeginTx(ctx)
	if err != nil {
		return nil, werr.Infra("tx_begin_failed", "beginning apply transaction", err)
	}
	defer func() {
		if r := recover(); r != nil {
			_ = tx.Rollback(ctx)
			err = werr.Bug(fmt.Sprintf("apply panicked: %v", r), nil)
		}
	}()

	now := time.Now()
	repos := newRepos(tx)
	for _, d := range decisions {
		if !d.Type.IsPhase1() {
			continue
		}
		evt, applyErr := repos.apply(ctx, runID, now, d)
		if applyErr != nil {
			_ = tx.Rollback(ctx)
			return nil, applyErr
		}
		if evt != nil {
			events = append(events, *evt)
		}
	}

	if commitErr := tx.Commit(ctx); commitErr != nil {
		return nil, werr.Infra("tx_commit_failed", "committing apply transaction", commitErr)
	}
	return events, nil
}

// repos bundles tx-scoped repositories for one Apply call.
type repos struct {
	tokens       *store.TokenRepository
	fanIns       *store.FanInRepository
	contexts     *store.ContextRepository
	subworkflows *store.SubworkflowRepository
	status       *store.StatusRepository
	iterations   *store.IterationRepository
}

func newRepos(q store.Querier) *repos {
	return &repos{
		tokens:       store.NewTokenRepository(q),
		fanIns:       store.NewFanInRepository(q),
		contexts:     store.NewContextRepository(q),
		subworkflows: store.NewSubworkflowRepository(q),
		status:       store.NewStatusRepository(q),
		iterations:   store.NewIterationRepository(q),
	}
}

// apply commits one phase-1 decision and reports the operation.* trace
// event it produced, if any (spec.md §8 invariant 7: "the set of emitted
// operation.tokens.created events equals the set of tokens present in the
// final store"). Decisions with no single-write story of their own (status
// transitions already covered by operation.tokens.status_updated, fan-in
// bookkeeping that's internal plumbing rather than externally observable
// context) return a nil event rather than a synthetic one.
func (r *repos) apply(ctx context.Context, runID string, now time.Time, d decision.Decision) (*trace.Event, error) {
	switch d.Type {
	case decision.InitializeWorkflow:
		return r.applyInitializeWorkflow(ctx, runID, now, d.InitializeWorkflowPayload)
	case decision.CreateToken:
		t := d.CreateTokenPayload.Token
		if err := r.tokens.Create(ctx, t); err != nil {
			return nil, err
		}
		return opEvent(now, runID, "operation.tokens.created", t.ID, t.NodeID, nil), nil
	case decision.BatchCreateTokens:
		tokens := d.BatchCreateTokensPayload.Tokens
		if err := r.tokens.CreateBatch(ctx, tokens); err != nil {
			return nil, err
		}
		ids := make([]string, len(tokens))
		for i, t := range tokens {
			ids[i] = t.ID
		}
		return opEvent(now, runID, "operation.tokens.created", "", "", map[string]interface{}{"token_ids": ids}), nil
	case decision.UpdateTokenStatus:
		return r.applyUpdateTokenStatus(ctx, runID, now, d.UpdateTokenStatusPayload)
	case decision.MarkWaiting:
		return nil, r.applyMarkWaiting(ctx, d.MarkWaitingPayload)
	case decision.CancelToken:
		p := d.CancelTokenPayload
		if err := r.applyCancelToken(ctx, p); err != nil {
			return nil, err
		}
		return opEvent(now, runID, "operation.tokens.status_updated", p.TokenID, "", map[string]interface{}{"to": string(model.TokenCancelled)}), nil
	case decision.SetContextField:
		p := d.SetContextFieldPayload
		if err := r.applySetContextField(ctx, runID, p); err != nil {
			return nil, err
		}
		return opEvent(now, runID, "operation.context.field_set", "", "", map[string]interface{}{"section": string(p.Section), "path": p.Path}), nil
	case decision.ApplyOutputMapping:
		return nil, r.applyOutputMapping(ctx, runID, d.ApplyOutputMappingPayload)
	case decision.InitBranchTable:
		p := d.InitBranchTablePayload
		if err := r.contexts.InitBranchTable(ctx, runID, p.TokenID); err != nil {
			return nil, err
		}
		return opEvent(now, runID, "operation.context.branch_table.initialized", p.TokenID, "", nil), nil
	case decision.ApplyBranchOutput:
		p := d.ApplyBranchOutputPayload
		if err := r.contexts.SetBranchOutput(ctx, runID, p.TokenID, p.Output); err != nil {
			return nil, err
		}
		return opEvent(now, runID, "operation.context.branch_table.written", p.TokenID, "", nil), nil
	case decision.MergeBranches:
		p := d.MergeBranchesPayload
		if err := r.applyMergeBranches(ctx, runID, p); err != nil {
			return nil, err
		}
		return opEvent(now, runID, "operation.context.merged", "", "", map[string]interface{}{"sibling_group": p.SiblingGroup, "strategy": string(p.Strategy), "target_path": p.TargetPath}), nil
	case decision.DropBranchTables:
		// Archive the outgoing payloads in the trace event before dropping
		// the rows, so fan-out branch data stays inspectable in the trace
		// sink even after the transactional copy is gone (SPEC_FULL.md
		// §"CAS-style branch table content addressing for observability").
		p := d.DropBranchTablesPayload
		outputs, err := r.contexts.GetBranchOutputs(ctx, runID, p.TokenIDs)
		if err != nil {
			return nil, err
		}
		if err := r.contexts.DropBranchTables(ctx, runID, p.TokenIDs); err != nil {
			return nil, err
		}
		archived := make(map[string]interface{}, len(p.TokenIDs))
		for i, tokenID := range p.TokenIDs {
			if i < len(outputs) {
				archived[tokenID] = outputs[i]
			}
		}
		return opEvent(now, runID, "operation.context.branch_table.archived", "", "", map[string]interface{}{"branches": archived}), nil
	case decision.TryCreateFanIn:
		_, err := r.fanIns.TryCreate(ctx, runID, d.TryCreateFanInPayload.FanIn)
		return nil, err
	case decision.IncrementFanInArrived:
		p := d.IncrementFanInArrivedPayload
		_, err := r.fanIns.IncrementArrived(ctx, runID, p.SiblingGroup, p.FanInNodeID)
		return nil, err
	case decision.SetFanInActivated:
		p := d.SetFanInActivatedPayload
		_, err := r.fanIns.TryActivate(ctx, runID, p.SiblingGroup, p.FanInNodeID, p.MergedTokenID)
		return nil, err
	case decision.SetWorkflowStatus:
		p := d.SetWorkflowStatusPayload
		if err := r.status.Set(ctx, runID, model.WorkflowStatus{
			Status:      p.Status,
			FinalOutput: p.FinalOutput,
			Error:       p.Error,
		}); err != nil {
			return nil, err
		}
		return opEvent(now, runID, "operation.workflow.status_set", "", "", map[string]interface{}{"status": string(p.Status)}), nil
	case decision.InitSubworkflowRecord:
		return nil, r.subworkflows.Create(ctx, runID, d.InitSubworkflowRecordPayload.Subworkflow)
	case decision.IncrementIteration:
		_, err := r.iterations.Increment(ctx, runID, d.IncrementIterationPayload.LoopKey)
		return nil, err
	default:
		return nil, werr.Bug(fmt.Sprintf("apply: unhandled phase-1 decision type %q", d.Type), nil)
	}
}

// opEvent builds an operation.* trace event for a committed write. Kept as
// a thin wrapper over trace.NewEvent so call sites read as "this write
// produced this event" rather than repeating the ULID/timestamp plumbing.
func opEvent(now time.Time, runID, kind, tokenID, nodeID string, detail map[string]interface{}) *trace.Event {
	evt := trace.NewEvent(now, runID, kind, tokenID, nodeID, detail)
	return &evt
}

func (r *repos) applyInitializeWorkflow(ctx context.Context, runID string, now time.Time, p *decision.InitializeWorkflowP) (*trace.Event, error) {
	if err := r.contexts.Init(ctx, runID, p.Input); err != nil {
		return nil, err
	}
	if err := r.tokens.Create(ctx, p.RootToken); err != nil {
		return nil, err
	}
	return opEvent(now, runID, "operation.tokens.created", p.RootToken.ID, p.RootToken.NodeID, nil), nil
}

func (r *repos) applyUpdateTokenStatus(ctx context.Context, runID string, now time.Time, p *decision.UpdateTokenStatusP) (*trace.Event, error) {
	if err := model.ValidateTransition(p.TokenID, p.From, p.To); err != nil {
		return nil, werr.Bug("invalid token transition emitted by planning", err)
	}
	if err := r.tokens.UpdateStatus(ctx, p.TokenID, p.To, completedAtFor(p.To)); err != nil {
		return nil, err
	}
	return opEvent(now, runID, "operation.tokens.status_updated", p.TokenID, "", map[string]interface{}{"from": string(p.From), "to": string(p.To)}), nil
}

// applyMarkWaiting and applyCancelToken have no explicit From in their
// payload; they load the token's current status from the tx to validate
// the transition, since MarkWaiting/CancelToken can originate from a
// planning pass that only knows the token by ID (e.g. cancellation sweeps
// every non-terminal token without re-deriving each one's exact status).
func (r *repos) applyMarkWaiting(ctx context.Context, p *decision.MarkWaitingP) error {
	from, err := r.tokens.GetStatus(ctx, p.TokenID)
	if err != nil {
		return err
	}
	if err := model.ValidateTransition(p.TokenID, from, model.TokenWaitingForSiblings); err != nil {
		return werr.Bug("invalid token transition emitted by planning", err)
	}
	return r.tokens.UpdateStatus(ctx, p.TokenID, model.TokenWaitingForSiblings, nil)
}

func (r *repos) applyCancelToken(ctx context.Context, p *decision.CancelTokenP) error {
	from, err := r.tokens.GetStatus(ctx, p.TokenID)
	if err != nil {
		return err
	}
	if err := model.ValidateTransition(p.TokenID, from, model.TokenCancelled); err != nil {
		return werr.Bug("invalid token transition emitted by planning", err)
	}
	return r.tokens.UpdateStatus(ctx, p.TokenID, model.TokenCancelled, completedAtFor(model.TokenCancelled))
}

func (r *repos) applySetContextField(ctx context.Context, runID string, p *decision.SetContextFieldP) error {
	current, err := r.contexts.Load(ctx, runID)
	if err != nil {
		return fmt.Errorf("loading context to set field %q: %w", p.Path, err)
	}
	section := sectionMap(&current, p.Section)
	if err := contextengine.SetPath(section, p.Path, p.Value); err != nil {
		return fmt.Errorf("setting context field %q: %w", p.Path, err)
	}
	return r.contexts.SetSection(ctx, runID, string(p.Section), section)
}

// applyOutputMapping re-derives the mapping result at apply time rather
// than trusting a value carried on the decision, keeping Decision payloads
// free of redundant computed state (spec.md §4.4.5's decisions describe
// what happened, not a cached result to replay blindly).
func (r *repos) applyOutputMapping(ctx context.Context, runID string, p *decision.ApplyOutputMappingP) error {
	if p.BranchTokenID != "" {
		branch, err := r.contexts.GetBranchOutputs(ctx, runID, []string{p.BranchTokenID})
		if err != nil {
			return err
		}
		target := branch[0]
		if target == nil {
			target = map[string]interface{}{}
		}
		stripped := make([]model.FieldMapping, len(p.Mappings))
		for i, m := range p.Mappings {
			stripped[i] = model.FieldMapping{ContextPath: trimOutputPrefix(m.ContextPath), SourcePath: m.SourcePath}
		}
		if err := contextengine.ApplyMapping(target, p.TaskOutput, stripped); err != nil {
			return err
		}
		return r.contexts.SetBranchOutput(ctx, runID, p.BranchTokenID, target)
	}

	current, err := r.contexts.Load(ctx, runID)
	if err != nil {
		return err
	}
	view := map[string]interface{}{
		"input": valueOrEmptyMap(current.Input), "state": valueOrEmptyMap(current.State), "output": valueOrEmptyMap(current.Output),
	}
	if err := contextengine.ApplyMapping(view, p.TaskOutput, p.Mappings); err != nil {
		return err
	}
	if err := r.contexts.SetSection(ctx, runID, "input", view["input"].(map[string]interface{})); err != nil {
		return err
	}
	if err := r.contexts.SetSection(ctx, runID, "state", view["state"].(map[string]interface{})); err != nil {
		return err
	}
	return r.contexts.SetSection(ctx, runID, "output", view["output"].(map[string]interface{}))
}

func (r *repos) applyMergeBranches(ctx context.Context, runID string, p *decision.MergeBranchesP) error {
	outputs, err := r.contexts.GetBranchOutputs(ctx, runID, p.TokenIDs)
	if err != nil {
		return err
	}
	branches := make([]contextengine.Branch, len(outputs))
	for i, output := range outputs {
		index := i
		if i < len(p.BranchIndexes) {
			index = p.BranchIndexes[i]
		}
		branches[i] = contextengine.Branch{Index: index, Output: output}
	}
	merged, err := contextengine.Merge(p.Strategy, branches)
	if err != nil {
		return fmt.Errorf("re-merging sibling group %q at apply time: %w", p.SiblingGroup, err)
	}

	current, err := r.contexts.Load(ctx, runID)
	if err != nil {
		return err
	}
	view := map[string]interface{}{
		"input": valueOrEmptyMap(current.Input), "state": valueOrEmptyMap(current.State), "output": valueOrEmptyMap(current.Output),
	}
	if err := contextengine.SetPath(view, p.TargetPath, merged); err != nil {
		return err
	}
	return r.contexts.SetSection(ctx, runID, "state", view["state"].(map[string]interface{}))
}

func sectionMap(c *model.Context, section decision.ContextSection) map[string]interface{} {
	switch section {
	case decision.SectionInput:
		return valueOrEmptyMap(c.Input)
	case decision.SectionOutput:
		return valueOrEmptyMap(c.Output)
	default:
		return valueOrEmptyMap(c.State)
	}
}

func valueOrEmptyMap(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return map[string]interface{}{}
	}
	return m
}

func trimOutputPrefix(path string) string {
	const prefix = "output."
	if len(path) > len(prefix) && path[:len(prefix)] == prefix {
		return path[len(prefix):]
	}
	return path
}

func completedAtFor(status model.TokenStatus) interface{} {
	if status.IsTerminal() {
		now := time.Now()
		return &now
	}
	return nil
}

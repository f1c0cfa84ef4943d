package apply

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/wonderhq/coordinator/internal/decision"
	"github.com/wonderhq/coordinator/internal/logger"
	"github.com/wonderhq/coordinator/internal/model"
	"github.com/wonderhq/coordinator/internal/store"
	"github.com/wonderhq/coordinator/internal/trace"
)

// maxDispatchAttempts bounds how many times one effect call is tried
// before onEffectExhausted reports it (spec.md §7: "cap 3
// attempts").
const maxDispatchAttempts = 3

// The interfaces below narrow Dispatcher's dependencies down to the one
// method each effect actually calls, the same way the rest of the
// Coordinator depends on a Logger interface rather than *logger.Logger
// directly — it lets tests substitute fakes for the Executor/Resources/
// Coordinator RPC peers and for the Redis-backed alarm queue without a
// live network or Redis instance.
type taskDispatcher interface {
	Dispatch(ctx context.Context, tokenID, nodeID, actionRef string, input map[string]interface{}) error
}

type statusReporter interface {
	UpdateStatus(ctx context.Context, runID string, status model.RunStatus, finalOutput map[string]interface{}, errInfo *model.ErrorInfo) error
}

type subworkflowCoordinator interface {
	StartWorkflow(ctx context.Context, definitionRef string, input map[string]interface{}, parentRunID, parentTokenID *string) (string, error)
	NotifyParent(ctx context.Context, parentRunID, parentTokenID, childRunID string, status model.RunStatus, output map[string]interface{}, errInfo *model.ErrorInfo) error
}

type alarmScheduler interface {
	ScheduleAlarm(ctx context.Context, runID, reason string, delayMS int64) error
}

type pendingDispatchQueue interface {
	Enqueue(ctx context.Context, targetRunID, commandType string, payload map[string]interface{}, notBefore time.Time) error
}

type childRunRecorder interface {
	SetChildRunID(ctx context.Context, runID, parentTokenID, childRunID string) error
}

// Dispatcher carries out phase-2 external effects once Mutator.Apply has
// committed (spec.md §4.6). Effects never roll back a commit; a failed
// effect call is retried with a bounded budget, and once that budget is
// spent it is reported as a dispatch.error trace event and, for an effect
// owned by a token, a TASK_FAILED command for that token is enqueued.
type Dispatcher struct {
	executor     taskDispatcher
	resources    statusReporter
	coordinator  subworkflowCoordinator
	alarms       alarmScheduler
	pending      pendingDispatchQueue
	subworkflows childRunRecorder
	log          *logger.Logger
}

// NewDispatcher wires the concrete rpcclients/redisx implementations (the
// production call site in cmd/coordinator); db backs the pending-dispatch
// and subworkflow repositories directly since effects run post-commit,
// outside of Mutator's transaction.
func NewDispatcher(
	executor taskDispatcher,
	resources statusReporter,
	coordinator subworkflowCoordinator,
	alarms alarmScheduler,
	db *store.DB,
	log *logger.Logger,
) *Dispatcher {
	return &Dispatcher{
		executor:     executor,
		resources:    resources,
		coordinator:  coordinator,
		alarms:       alarms,
		pending:      store.NewPendingDispatchRepository(db),
		subworkflows: store.NewSubworkflowRepository(db),
		log:          log,
	}
}

// newDispatcherForTest wires fully-fake dependencies, used by effects_test.go
// to exercise Dispatch without a live Postgres/Redis/HTTP peer.
func newDispatcherForTest(
	executor taskDispatcher,
	resources statusReporter,
	coordinator subworkflowCoordinator,
	alarms alarmScheduler,
	pending pendingDispatchQueue,
	subworkflows childRunRecorder,
	log *logger.Logger,
) *Dispatcher {
	return &Dispatcher{
		executor:     executor,
		resources:    resources,
		coordinator:  coordinator,
		alarms:       alarms,
		pending:      pending,
		subworkflows: subworkflows,
		log:          log,
	}
}

// Dispatch runs every phase-2 decision, independently of the others: one
// effect failing does not stop the rest of the batch, since each is a
// side effect against an external system rather than a local-store write
// (spec.md §4.6, "effects are dispatched best-effort after commit"). It
// returns the dispatch.error trace events produced by effects that
// exhausted their retry budget, for the caller to fold into the same
// batch it flushes to internal/trace.
func (d *Dispatcher) Dispatch(ctx context.Context, runID string, decisions []decision.Decision) []trace.Event {
	var events []trace.Event
	for _, dec := range decisions {
		if !dec.Type.IsPhase2() {
			continue
		}
		if err := d.dispatchOne(ctx, runID, dec); err != nil {
			d.log.ErrorContext(ctx, "phase-2 effect failed",
				"run_id", runID, "type", dec.Type, "error", err)
			events = append(events, d.onEffectExhausted(ctx, runID, dec, err))
		}
	}
	return events
}

// onEffectExhausted records a dispatch.error trace event (spec.md §6, §7)
// and, for effects tied to a specific token, enqueues a follow-up
// TASK_FAILED command through the same pending-dispatch trampoline
// ENQUEUE_COMMAND_SELF uses — so the token that never got dispatched, or
// whose sub-workflow never started, doesn't sit in dispatched/executing
// forever with no planning pass ever revisiting it.
func (d *Dispatcher) onEffectExhausted(ctx context.Context, runID string, dec decision.Decision, cause error) trace.Event {
	now := time.Now()
	tokenID := offendingTokenID(dec)

	evt := trace.NewEvent(now, runID, "dispatch.error", tokenID, "", map[string]interface{}{
		"decision_type": string(dec.Type),
		"error":         cause.Error(),
	})

	if tokenID == "" {
		return evt
	}

	payload := map[string]interface{}{
		"token_id":  tokenID,
		"code":      "effect_exhausted",
		"message":   cause.Error(),
		"retriable": false,
	}
	if err := d.pending.Enqueue(ctx, runID, string(decision.CmdTaskFailed), payload, now); err != nil {
		d.log.ErrorContext(ctx, "enqueue task-failed follow-up failed", "run_id", runID, "token_id", tokenID, "error", err)
		return evt
	}
	if err := d.alarms.ScheduleAlarm(ctx, runID, "pending_dispatch", 0); err != nil {
		d.log.ErrorContext(ctx, "schedule task-failed follow-up alarm failed", "run_id", runID, "token_id", tokenID, "error", err)
	}
	return evt
}

// offendingTokenID names the token an exhausted effect was acting on, for
// the effects that act on behalf of one token. Effects with no single
// owning token (NotifyParent, UpdateResourcesStatus, ScheduleAlarm) have
// nothing local left to mark failed — they report upward or schedule a
// wakeup, they don't hold a token waiting on a dispatch.
func offendingTokenID(dec decision.Decision) string {
	switch dec.Type {
	case decision.DispatchToken:
		if dec.DispatchTokenPayload != nil {
			return dec.DispatchTokenPayload.TokenID
		}
	case decision.StartSubworkflow:
		if dec.StartSubworkflowPayload != nil {
			return dec.StartSubworkflowPayload.ParentTokenID
		}
	}
	return ""
}

func (d *Dispatcher) dispatchOne(ctx context.Context, runID string, dec decision.Decision) error {
	switch dec.Type {
	case decision.DispatchToken:
		return d.dispatchToken(ctx, dec.DispatchTokenPayload)
	case decision.StartSubworkflow:
		return d.startSubworkflow(ctx, runID, dec.StartSubworkflowPayload)
	case decision.NotifyParent:
		return d.notifyParent(ctx, dec.NotifyParentPayload)
	case decision.UpdateResourcesStatus:
		return d.updateResourcesStatus(ctx, runID, dec.UpdateResourcesStatusPayload)
	case decision.ScheduleAlarm:
		return d.scheduleAlarm(ctx, runID, dec.ScheduleAlarmPayload)
	case decision.EnqueueCommandSelf:
		return d.enqueueCommandSelf(ctx, dec.EnqueueCommandSelfPayload)
	default:
		return fmt.Errorf("apply: unhandled phase-2 decision type %q", dec.Type)
	}
}

// retryBudget bounds one effect call to exponential backoff capped at
// maxDispatchAttempts tries (spec.md §7: "exponential backoff, cap 3
// attempts") before giving up and handing the failure to onEffectExhausted.
func retryBudget() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.MaxInterval = 2 * time.Second
	b.MaxElapsedTime = 10 * time.Second
	return backoff.WithMaxRetries(b, maxDispatchAttempts-1)
}

func (d *Dispatcher) dispatchToken(ctx context.Context, p *decision.DispatchTokenP) error {
	return backoff.Retry(func() error {
		return d.executor.Dispatch(ctx, p.TokenID, p.NodeID, p.ActionRef, p.Input)
	}, retryBudget())
}

// startSubworkflow creates the child run, then backfills the subworkflow
// record's child_run_id; the record itself was already written as part of
// the phase-1 transaction with an empty child_run_id (spec.md §4.4.4).
func (d *Dispatcher) startSubworkflow(ctx context.Context, runID string, p *decision.StartSubworkflowP) error {
	var childRunID string
	err := backoff.Retry(func() error {
		id, err := d.coordinator.StartWorkflow(ctx, p.DefinitionRef, p.Input, &runID, &p.ParentTokenID)
		if err != nil {
			return err
		}
		childRunID = id
		return nil
	}, retryBudget())
	if err != nil {
		return fmt.Errorf("start subworkflow for token %s: %w", p.ParentTokenID, err)
	}
	return d.subworkflows.SetChildRunID(ctx, runID, p.ParentTokenID, childRunID)
}

func (d *Dispatcher) notifyParent(ctx context.Context, p *decision.NotifyParentP) error {
	return backoff.Retry(func() error {
		return d.coordinator.NotifyParent(ctx, p.ParentRunID, p.ParentTokenID, p.ChildRunID, p.Status, p.Output, p.Error)
	}, retryBudget())
}

func (d *Dispatcher) updateResourcesStatus(ctx context.Context, runID string, p *decision.UpdateResourcesStatusP) error {
	return backoff.Retry(func() error {
		return d.resources.UpdateStatus(ctx, runID, p.Status, p.FinalOutput, p.Error)
	}, retryBudget())
}

func (d *Dispatcher) scheduleAlarm(ctx context.Context, runID string, p *decision.ScheduleAlarmP) error {
	return d.alarms.ScheduleAlarm(ctx, runID, p.Reason, p.DelayMS)
}

// enqueueCommandSelf persists the pending call and wakes it with an
// immediate alarm, the trampoline of spec.md §5 that keeps one planning
// pass from recursing into another inline.
func (d *Dispatcher) enqueueCommandSelf(ctx context.Context, p *decision.EnqueueCommandSelfP) error {
	if err := d.pending.Enqueue(ctx, p.TargetRunID, p.CommandType, p.Payload, time.Now()); err != nil {
		return err
	}
	return d.alarms.ScheduleAlarm(ctx, p.TargetRunID, "pending_dispatch", 0)
}

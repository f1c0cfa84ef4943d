// Package dispatcher owns the per-run FIFO command queue spec.md §5
// describes: within a run, commands are strictly serialized so the
// Coordinator never touches two WorkflowState snapshots for the same run
// concurrently; across runs, queues are fully independent. Each command
// runs load -> plan -> apply -> dispatch -> flush.
package dispatcher

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/wonderhq/coordinator/internal/decision"
	"github.com/wonderhq/coordinator/internal/logger"
	"github.com/wonderhq/coordinator/internal/model"
	"github.com/wonderhq/coordinator/internal/planning"
	"github.com/wonderhq/coordinator/internal/trace"
)

// The interfaces below narrow Dispatcher's dependencies on
// internal/stateloader, internal/planning and internal/apply down to the
// one method each phase calls, the same pattern internal/apply and
// internal/trampoline use — it lets dispatcher_test.go drive a runQueue
// through load->plan->apply->dispatch->flush with fakes instead of a live
// Postgres, Redis and definition cache.
type stateLoader interface {
	Load(ctx context.Context, runID string) (*model.WorkflowState, error)
}

type commandPlanner interface {
	Plan(state *model.WorkflowState, cmd decision.Command, now time.Time) (planning.Result, error)
}

type decisionMutator interface {
	Apply(ctx context.Context, runID string, decisions []decision.Decision) ([]trace.Event, error)
}

type effectDispatcher interface {
	Dispatch(ctx context.Context, runID string, decisions []decision.Decision) []trace.Event
}

type traceFlusher interface {
	InsertBatch(ctx context.Context, events []trace.Event) error
}

// Dispatcher owns one runQueue per active run, spinning a queue up on its
// first command and tearing it down once drained (spec.md §5: "Coordinators
// are fully independent and may run on any scheduler" — there is no
// standing goroutine per idle run).
type Dispatcher struct {
	mu     sync.Mutex
	queues map[string]*runQueue

	loader  stateLoader
	planner commandPlanner
	mutate  decisionMutator
	effects effectDispatcher
	trace   traceFlusher
	log     *logger.Logger
}

// New wires the production call site in cmd/coordinator.
func New(loader stateLoader, plan commandPlanner, mutate decisionMutator, effects effectDispatcher, tr traceFlusher, log *logger.Logger) *Dispatcher {
	return &Dispatcher{
		queues:  make(map[string]*runQueue),
		loader:  loader,
		planner: plan,
		mutate:  mutate,
		effects: effects,
		trace:   tr,
		log:     log,
	}
}

// Run submits cmd to its run's queue and blocks until that command (and
// every command ahead of it in the queue) has finished. It implements
// trampoline.CommandRunner so the trampoline can feed ALARM_FIRED and
// drained pending-dispatch commands back through the same serialization
// point as RPC-originated commands.
func (d *Dispatcher) Run(ctx context.Context, cmd decision.Command) error {
	q := d.queueFor(cmd.RunID)
	return q.submit(ctx, cmd)
}

func (d *Dispatcher) queueFor(runID string) *runQueue {
	d.mu.Lock()
	defer d.mu.Unlock()

	if q, ok := d.queues[runID]; ok {
		return q
	}
	q := newRunQueue(runID, d)
	d.queues[runID] = q
	go q.loop()
	return q
}

// dropIfIdle removes runID's queue once it has drained, so a run that
// finishes doesn't keep a goroutine parked forever. A command submitted
// after the drop simply spins up a fresh queue.
func (d *Dispatcher) dropIfIdle(runID string, q *runQueue) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.queues[runID] == q {
		delete(d.queues, runID)
	}
}

// submission pairs one command with the channel its caller waits on.
type submission struct {
	ctx    context.Context
	cmd    decision.Command
	result chan error
}

// runQueue is the per-run FIFO: one buffered channel, one consumer
// goroutine, grounded on the teacher's MemoryQueue (common/queue/queue.go)
// — a channel per key plus a single goroutine draining it in order.
type runQueue struct {
	runID   string
	d       *Dispatcher
	inbox   chan submission
	done    chan struct{}
	idleFor time.Duration
}

func newRunQueue(runID string, d *Dispatcher) *runQueue {
	return &runQueue{
		runID:   runID,
		d:       d,
		inbox:   make(chan submission, 64),
		done:    make(chan struct{}),
		idleFor: 2 * time.Second,
	}
}

func (q *runQueue) submit(ctx context.Context, cmd decision.Command) error {
	result := make(chan error, 1)
	select {
	case q.inbox <- submission{ctx: ctx, cmd: cmd, result: result}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// loop drains inbox one submission at a time, exiting once idle for
// idleFor so the queue doesn't outlive its run.
func (q *runQueue) loop() {
	defer close(q.done)
	timer := time.NewTimer(q.idleFor)
	defer timer.Stop()

	for {
		select {
		case sub := <-q.inbox:
			if !timer.Stop() {
				<-timer.C
			}
			sub.result <- q.process(sub.ctx, sub.cmd)
			timer.Reset(q.idleFor)
		case <-timer.C:
			q.d.dropIfIdle(q.runID, q)
			return
		}
	}
}

// process runs one command end to end: load -> plan -> apply -> dispatch
// -> flush (spec.md §4.1), bracketed by a dispatch.batch.start/complete
// trace pair reporting the decision count. The flushed batch also carries
// planning's own decision.* trace, apply's operation.* trace, and this
// loop's own dispatch.decision.planned/dispatch.sync.fan_in_activated/
// dispatch.workflow.completed/failed milestones (spec.md:253-255).
func (q *runQueue) process(ctx context.Context, cmd decision.Command) error {
	now := time.Now()
	d := q.d

	state, err := d.loader.Load(ctx, q.runID)
	if err != nil {
		return fmt.Errorf("dispatcher: load state for run %s: %w", q.runID, err)
	}

	result, err := d.planner.Plan(state, cmd, now)
	if err != nil {
		return fmt.Errorf("dispatcher: plan command %s for run %s: %w", cmd.Type, q.runID, err)
	}

	startEvt := trace.NewEvent(now, q.runID, "dispatch.batch.start", "", "", map[string]interface{}{
		"command_type": string(cmd.Type),
	})
	milestoneEvents := milestonesFor(now, q.runID, result.Decisions)

	operationEvents, err := d.mutate.Apply(ctx, q.runID, result.Decisions)
	if err != nil {
		return fmt.Errorf("dispatcher: apply decisions for run %s: %w", q.runID, err)
	}

	effectEvents := d.effects.Dispatch(ctx, q.runID, result.Decisions)

	completeEvt := trace.NewEvent(time.Now(), q.runID, "dispatch.batch.complete", "", "", map[string]interface{}{
		"command_type":      string(cmd.Type),
		"decision_count":    len(result.Decisions),
		"trace_event_count": len(result.Trace),
	})

	events := make([]trace.Event, 0, len(result.Trace)+len(operationEvents)+len(effectEvents)+len(milestoneEvents)+2)
	events = append(events, startEvt)
	events = append(events, result.Trace...)
	events = append(events, operationEvents...)
	events = append(events, milestoneEvents...)
	events = append(events, effectEvents...)
	events = append(events, completeEvt)

	if err := d.trace.InsertBatch(ctx, events); err != nil {
		d.log.ErrorContext(ctx, "flush trace events failed", "run_id", q.runID, "error", err)
	}
	return nil
}

// milestonesFor reports one dispatch.decision.planned event per planned
// decision, plus the narrower dispatch.sync.fan_in_activated and
// dispatch.workflow.completed/failed headlines a dashboard would watch for
// without having to understand every planning-layer decision type
// (spec.md:255). These sit alongside, not in place of, the decision.* trace
// planning already emits for the same occurrences.
func milestonesFor(now time.Time, runID string, decisions []decision.Decision) []trace.Event {
	events := make([]trace.Event, 0, len(decisions))
	for _, d := range decisions {
		events = append(events, trace.NewEvent(now, runID, "dispatch.decision.planned", "", "", map[string]interface{}{
			"decision_type": string(d.Type),
		}))

		switch d.Type {
		case decision.SetFanInActivated:
			p := d.SetFanInActivatedPayload
			events = append(events, trace.NewEvent(now, runID, "dispatch.sync.fan_in_activated", p.MergedTokenID, p.FanInNodeID, map[string]interface{}{
				"sibling_group": p.SiblingGroup,
			}))
		case decision.SetWorkflowStatus:
			p := d.SetWorkflowStatusPayload
			switch p.Status {
			case model.RunCompleted:
				events = append(events, trace.NewEvent(now, runID, "dispatch.workflow.completed", "", "", map[string]interface{}{
					"output": p.FinalOutput,
				}))
			case model.RunFailed:
				events = append(events, trace.NewEvent(now, runID, "dispatch.workflow.failed", "", "", map[string]interface{}{
					"error": p.Error,
				}))
			}
		}
	}
	return events
}

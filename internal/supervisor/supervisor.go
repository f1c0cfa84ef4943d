// Package supervisor is the cron-driven backstop for the trampoline of
// spec.md §5: pending_dispatch rows are durable in Postgres the moment
// they're enqueued, but the alarm that's supposed to wake them is only a
// Redis sorted-set entry. If that Redis wakeup never fires — a dropped
// ZADD, a Redis restart that lost the alarm queue, a trampoline that was
// down when the alarm came due — a row can sit claimed by no one forever.
// Supervisor rescans Postgres directly, on a schedule, so those rows
// still drain even without a live alarm.
package supervisor

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"

	"github.com/wonderhq/coordinator/internal/store"
	"github.com/wonderhq/coordinator/internal/trampoline"
)

// Logger is the minimal logging surface supervisor needs.
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Debug(msg string, keysAndValues ...interface{})
}

// pendingClaimer narrows Supervisor's dependency on
// *store.PendingDispatchRepository down to the calls it makes, matching
// internal/trampoline's own pendingClaimer so both packages can be tested
// without a live Postgres.
type pendingClaimer interface {
	ClaimDue(ctx context.Context, limit int) ([]store.PendingDispatchRow, error)
	Delete(ctx context.Context, id int64) error
}

// Supervisor runs a cron.Cron with a single entry: rescan overdue
// pending_dispatch rows and run them.
type Supervisor struct {
	cron    *cron.Cron
	pending pendingClaimer
	runner  trampoline.CommandRunner
	logger  Logger
	spec    string
	batch   int
}

// New builds a Supervisor that rescans every spec (a cron.v3 schedule
// spec, e.g. "@every 30s") and claims up to batch rows per tick.
func New(pending pendingClaimer, runner trampoline.CommandRunner, logger Logger, spec string, batch int) *Supervisor {
	return &Supervisor{
		cron:    cron.New(),
		pending: pending,
		runner:  runner,
		logger:  logger,
		spec:    spec,
		batch:   batch,
	}
}

// Start registers the rescan entry and blocks until ctx is cancelled.
func (s *Supervisor) Start(ctx context.Context) error {
	if _, err := s.cron.AddFunc(s.spec, func() {
		if err := s.rescan(ctx); err != nil {
			s.logger.Error("supervisor rescan failed", "error", err)
		}
	}); err != nil {
		return fmt.Errorf("supervisor: register rescan schedule %q: %w", s.spec, err)
	}

	s.logger.Info("supervisor starting", "schedule", s.spec)
	s.cron.Start()

	<-ctx.Done()
	s.logger.Info("supervisor shutting down")
	stopCtx := s.cron.Stop()
	<-stopCtx.Done()
	return ctx.Err()
}

// rescan drains every overdue pending_dispatch row it can claim, in claim
// order, the same way internal/trampoline's drainPending does — this is
// the alarm-less path into the same rows.
func (s *Supervisor) rescan(ctx context.Context) error {
	rows, err := s.pending.ClaimDue(ctx, s.batch)
	if err != nil {
		return fmt.Errorf("claim overdue pending dispatch rows: %w", err)
	}
	if len(rows) == 0 {
		return nil
	}

	s.logger.Warn("supervisor claimed rows a Redis alarm should have drained", "count", len(rows))

	for _, row := range rows {
		cmd, err := trampoline.CommandFromPendingRow(row)
		if err != nil {
			s.logger.Error("drop malformed pending dispatch row", "id", row.ID, "error", err)
			continue
		}
		if err := s.runner.Run(ctx, cmd); err != nil {
			s.logger.Error("run pending dispatch command failed", "id", row.ID, "run_id", row.TargetRunID, "error", err)
			continue
		}
		if err := s.pending.Delete(ctx, row.ID); err != nil {
			s.logger.Error("delete pending dispatch row failed", "id", row.ID, "error", err)
		}
	}
	return nil
}

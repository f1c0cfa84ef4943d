// Package bootstrap wires a Coordinator process's components in one
// place, mirroring the teacher's own common/bootstrap: a single Setup
// call that every cmd/* binary shares, so the wiring order and cleanup
// semantics aren't reimplemented per entrypoint.
package bootstrap

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/wonderhq/coordinator/internal/apply"
	"github.com/wonderhq/coordinator/internal/cache"
	"github.com/wonderhq/coordinator/internal/condition"
	"github.com/wonderhq/coordinator/internal/config"
	"github.com/wonderhq/coordinator/internal/defcache"
	"github.com/wonderhq/coordinator/internal/dispatcher"
	"github.com/wonderhq/coordinator/internal/logger"
	"github.com/wonderhq/coordinator/internal/planning"
	"github.com/wonderhq/coordinator/internal/redisx"
	"github.com/wonderhq/coordinator/internal/rpcclients"
	"github.com/wonderhq/coordinator/internal/stateloader"
	"github.com/wonderhq/coordinator/internal/store"
	"github.com/wonderhq/coordinator/internal/supervisor"
	"github.com/wonderhq/coordinator/internal/telemetry"
	"github.com/wonderhq/coordinator/internal/trampoline"
)

// supervisorSpec is the cron schedule the rescan backstop runs on. Fixed
// rather than config-driven for now; spec.md doesn't call out a tunable
// rescan interval and 30s keeps the backstop well clear of the alarm
// path's sub-second latency.
const supervisorSpec = "@every 30s"

const supervisorBatch = 100

// Setup loads config, wires every component a Coordinator process needs,
// and returns the assembled Components. On any failure it shuts down
// whatever was already started before returning the error, so callers
// never have to unwind a partially-built Components themselves.
func Setup(ctx context.Context, serviceName string, opts ...Option) (*Components, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}

	c := &Components{}

	cfg := o.customConfig
	if cfg == nil {
		loaded, err := config.Load(serviceName)
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
		cfg = loaded
	}
	c.Config = cfg

	log := o.customLogger
	if log == nil {
		log = logger.New(cfg.Service.LogLevel, cfg.Service.LogFormat)
	}
	c.Logger = log

	db, err := store.New(ctx, cfg, log)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: %w", err)
	}
	c.DB = db
	c.addCleanup(func() error { db.Close(); return nil })

	c.Cache = cache.NewMemoryCache()
	c.addCleanup(c.Cache.Close)

	redisClient := redisx.New(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}, log)
	if err := redisClient.Ping(ctx); err != nil {
		_ = c.Shutdown(ctx)
		return nil, fmt.Errorf("bootstrap: connect redis: %w", err)
	}
	c.Redis = redisClient
	c.addCleanup(redisClient.Close)

	c.Executor = rpcclients.NewExecutorClient(cfg.Clients.ExecutorBaseURL, cfg.Clients.RequestTimeout, log)
	c.Resources = rpcclients.NewResourcesClient(cfg.Clients.ResourcesBaseURL, cfg.Clients.RequestTimeout, log)
	c.Coordinator = rpcclients.NewCoordinatorClient(cfg.Clients.CoordinatorBaseURL, cfg.Clients.RequestTimeout, log)

	c.Definitions = defcache.New(c.Resources)

	if !o.skipTelemetry {
		t, err := telemetry.New(
			cfg.Telemetry.PprofPort, cfg.Telemetry.MetricsPort,
			cfg.Telemetry.EnablePprof, cfg.Telemetry.EnableMetrics, cfg.Telemetry.EnableTracing,
			cfg.Telemetry.OTLPEndpoint, log,
		)
		if err != nil {
			_ = c.Shutdown(ctx)
			return nil, fmt.Errorf("bootstrap: telemetry: %w", err)
		}
		c.Telemetry = t
		// Start blocks until ctx is cancelled, so it runs on its own
		// goroutine tied to the same process-lifetime ctx the caller
		// passed in; there is nothing further for Shutdown to tear down.
		go func() {
			if err := t.Start(ctx); err != nil && ctx.Err() == nil {
				log.Error("telemetry server stopped", "error", err)
			}
		}()
	}

	c.Status = store.NewStatusRepository(db)

	c.StateLoader = stateloader.New(
		store.NewTokenRepository(db),
		store.NewFanInRepository(db),
		store.NewContextRepository(db),
		store.NewSubworkflowRepository(db),
		c.Status,
		store.NewIterationRepository(db),
		c.Definitions,
	)

	c.Planner = planning.New(condition.NewEvaluator())
	c.Mutator = apply.New(db)
	c.Effects = apply.NewDispatcher(c.Executor, c.Resources, c.Coordinator, redisClient, db, log)

	traceRepo := store.NewTraceRepository(db)
	c.Dispatcher = dispatcher.New(c.StateLoader, c.Planner, c.Mutator, c.Effects, traceRepo, log)

	pendingRepo := store.NewPendingDispatchRepository(db)
	c.Trampoline = trampoline.New(redisClient, pendingRepo, c.Dispatcher, log)

	if cfg.Features.EnableSupervisorBackstop && !o.skipSupervisor {
		c.Supervisor = supervisor.New(pendingRepo, c.Dispatcher, log, supervisorSpec, supervisorBatch)
	}

	return c, nil
}

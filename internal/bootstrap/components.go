package bootstrap

import (
	"context"
	"fmt"

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

// Components holds every long-lived dependency a Coordinator process
// needs, wired once at startup by Setup and torn down once, in reverse
// order, by Shutdown.
type Components struct {
	Config *config.Config
	Logger *logger.Logger

	DB    *store.DB
	Cache cache.Cache
	Redis *redisx.Client

	Executor    *rpcclients.ExecutorClient
	Resources   *rpcclients.ResourcesClient
	Coordinator *rpcclients.CoordinatorClient

	Definitions *defcache.Cache
	Telemetry   *telemetry.Telemetry

	Status *store.StatusRepository

	StateLoader *stateloader.Loader
	Planner     *planning.Planner
	Mutator     *apply.Mutator
	Effects     *apply.Dispatcher

	Dispatcher *dispatcher.Dispatcher
	Trampoline *trampoline.Trampoline
	Supervisor *supervisor.Supervisor // nil when the backstop is disabled

	cleanup []func() error
}

// Shutdown runs every registered cleanup func in LIFO order, collecting
// (not short-circuiting on) individual failures so one broken teardown
// doesn't strand the rest of the resources.
func (c *Components) Shutdown(ctx context.Context) error {
	var errs []error
	for i := len(c.cleanup) - 1; i >= 0; i-- {
		if err := c.cleanup[i](); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("shutdown: %d cleanup step(s) failed: %v", len(errs), errs)
	}
	return nil
}

func (c *Components) addCleanup(fn func() error) {
	c.cleanup = append(c.cleanup, fn)
}

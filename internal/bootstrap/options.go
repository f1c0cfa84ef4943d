package bootstrap

import (
	"github.com/wonderhq/coordinator/internal/config"
	"github.com/wonderhq/coordinator/internal/logger"
)

// Option configures Setup.
type Option func(*options)

type options struct {
	skipTelemetry bool
	skipSupervisor bool
	customLogger *logger.Logger
	customConfig *config.Config
}

// WithoutTelemetry skips pprof/metrics/tracing startup — useful for
// wonderctl's short-lived CLI invocations, which have no business
// exporting metrics for the few seconds they run.
func WithoutTelemetry() Option {
	return func(o *options) { o.skipTelemetry = true }
}

// WithoutSupervisor skips the cron-driven rescan backstop, mirroring
// config.FeatureFlags.EnableSupervisorBackstop but settable by callers
// that never want it regardless of config (tests, one-shot tools).
func WithoutSupervisor() Option {
	return func(o *options) { o.skipSupervisor = true }
}

// WithCustomLogger uses a pre-built logger instead of constructing one
// from config.
func WithCustomLogger(log *logger.Logger) Option {
	return func(o *options) { o.customLogger = log }
}

// WithCustomConfig uses a pre-loaded config instead of reading the
// environment, for tests that need deterministic settings.
func WithCustomConfig(cfg *config.Config) Option {
	return func(o *options) { o.customConfig = cfg }
}

func defaultOptions() *options {
	return &options{}
}

// Package telemetry wires up the Coordinator's observability endpoints:
// pprof, Prometheus metrics, and an OTel tracer provider exporting to an
// OTLP collector. Generalized from the teacher's common/telemetry, which
// left the metrics endpoint as a TODO.
package telemetry

import (
	"context"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/propagation"

	"github.com/wonderhq/coordinator/internal/logger"
)

// Metrics holds the Prometheus collectors served on /metrics. No package
// in the module records against them outside this package's test.
type Metrics struct {
	CommandsTotal   *prometheus.CounterVec
	DecisionsTotal  *prometheus.CounterVec
	CommandDuration *prometheus.HistogramVec
	EffectFailures  *prometheus.CounterVec
}

func newMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		CommandsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "wonder_coordinator_commands_total",
			Help: "Commands processed, by command type and outcome.",
		}, []string{"command_type", "outcome"}),
		DecisionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "wonder_coordinator_decisions_total",
			Help: "Decisions emitted by planning, by decision type.",
		}, []string{"decision_type"}),
		CommandDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "wonder_coordinator_command_duration_seconds",
			Help:    "load->plan->apply->dispatch->flush latency, by command type.",
			Buckets: prometheus.DefBuckets,
		}, []string{"command_type"}),
		EffectFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "wonder_coordinator_effect_failures_total",
			Help: "Phase-2 effect dispatch failures, by decision type.",
		}, []string{"decision_type"}),
	}
}

// Telemetry holds the process's observability components and serves them
// over two side ports — pprof and Prometheus — separate from the
// Coordinator's RPC port.
type Telemetry struct {
	log              *logger.Logger
	pprofAddr        string
	metricsAddr      string
	enablePprof      bool
	enableMetrics    bool
	Metrics          *Metrics
	registry         *prometheus.Registry
	tracerProvider   *sdktrace.TracerProvider
}

// New builds the Telemetry components. enableTracing controls whether an
// OTLP exporter is wired up; otlpEndpoint is ignored when it's false.
func New(pprofPort, metricsPort int, enablePprof, enableMetrics, enableTracing bool, otlpEndpoint string, log *logger.Logger) (*Telemetry, error) {
	registry := prometheus.NewRegistry()

	t := &Telemetry{
		log:           log,
		pprofAddr:     fmt.Sprintf("localhost:%d", pprofPort),
		metricsAddr:   fmt.Sprintf("localhost:%d", metricsPort),
		enablePprof:   enablePprof,
		enableMetrics: enableMetrics,
		Metrics:       newMetrics(registry),
		registry:      registry,
	}

	if enableTracing {
		tp, err := newTracerProvider(context.Background(), otlpEndpoint)
		if err != nil {
			return nil, fmt.Errorf("telemetry: configure tracer provider: %w", err)
		}
		t.tracerProvider = tp
		otel.SetTracerProvider(tp)
		otel.SetTextMapPropagator(propagation.TraceContext{})
	}

	return t, nil
}

func newTracerProvider(ctx context.Context, endpoint string) (*sdktrace.TracerProvider, error) {
	exporter, err := otlptracehttp.New(ctx, otlptracehttp.WithEndpoint(endpoint), otlptracehttp.WithInsecure())
	if err != nil {
		return nil, fmt.Errorf("create otlp http exporter: %w", err)
	}
	return sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter)), nil
}

// Start serves pprof and Prometheus on their own ports until ctx is
// cancelled.
func (t *Telemetry) Start(ctx context.Context) error {
	if t.enablePprof {
		go func() {
			t.log.Info("pprof server starting", "addr", t.pprofAddr)
			if err := http.ListenAndServe(t.pprofAddr, nil); err != nil && err != http.ErrServerClosed {
				t.log.Error("pprof server error", "error", err)
			}
		}()
	}

	var metricsSrv *http.Server
	if t.enableMetrics {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(t.registry, promhttp.HandlerOpts{}))
		metricsSrv = &http.Server{Addr: t.metricsAddr, Handler: mux}
		go func() {
			t.log.Info("metrics server starting", "addr", t.metricsAddr)
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				t.log.Error("metrics server error", "error", err)
			}
		}()
	}

	<-ctx.Done()
	if metricsSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsSrv.Shutdown(shutdownCtx)
	}
	if t.tracerProvider != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = t.tracerProvider.Shutdown(shutdownCtx)
	}
	return ctx.Err()
}

// RecordEvent logs a structured telemetry event, the teacher's lightweight
// substitute for a dedicated event sink.
func (t *Telemetry) RecordEvent(event string, attrs map[string]any) {
	t.log.Info("telemetry_event", "event", event, "attrs", attrs)
}

// Package config loads Coordinator settings from the environment using
// viper, with the WONDER_ prefix so a bare process can run against sane
// defaults.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds every setting the Coordinator process needs.
type Config struct {
	Service   ServiceConfig
	Store     StoreConfig
	Redis     RedisConfig
	Telemetry TelemetryConfig
	Clients   ClientsConfig
	Features  FeatureFlags
}

// ServiceConfig holds process-identity settings.
type ServiceConfig struct {
	Name        string
	Port        int
	Environment string
	LogLevel    string
	LogFormat   string
}

// StoreConfig holds the local durable store's Postgres connection settings
// (spec.md §3, "local durable store" — resolved as logically run-scoped
// tables in a shared Postgres instance rather than a physically separate
// file per run).
type StoreConfig struct {
	Host        string
	Port        int
	Database    string
	User        string
	Password    string
	MaxConns    int
	MinConns    int
	MaxIdleTime time.Duration
	MaxLifetime time.Duration
}

// RedisConfig backs the alarm queue and trace-event stream.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// TelemetryConfig holds observability toggles.
type TelemetryConfig struct {
	EnablePprof    bool
	PprofPort      int
	EnableTracing  bool
	EnableMetrics  bool
	MetricsPort    int
	TracingBackend string
	OTLPEndpoint   string
}

// ClientsConfig holds the base URLs of the external services the
// Coordinator talks to over RPC (spec.md §6).
type ClientsConfig struct {
	ExecutorBaseURL     string
	ResourcesBaseURL    string
	CoordinatorBaseURL  string
	RequestTimeout      time.Duration
}

// FeatureFlags toggles optional behavior.
type FeatureFlags struct {
	EnableSupervisorBackstop bool
	AllowSkipUnregisteredActions bool
}

// Load reads configuration for serviceName, applying WONDER_-prefixed
// environment overrides on top of the defaults below.
func Load(serviceName string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("WONDER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("service.port", 8080)
	v.SetDefault("service.environment", "development")
	v.SetDefault("service.log_level", "info")
	v.SetDefault("service.log_format", "text")

	v.SetDefault("store.host", "localhost")
	v.SetDefault("store.port", 5432)
	v.SetDefault("store.database", "wonder_coordinator")
	v.SetDefault("store.user", "wonder")
	v.SetDefault("store.password", "wonder")
	v.SetDefault("store.max_conns", 50)
	v.SetDefault("store.min_conns", 10)
	v.SetDefault("store.max_idle_time", 30*time.Minute)
	v.SetDefault("store.max_lifetime", time.Hour)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)

	v.SetDefault("telemetry.enable_pprof", true)
	v.SetDefault("telemetry.pprof_port", 6060)
	v.SetDefault("telemetry.enable_tracing", true)
	v.SetDefault("telemetry.enable_metrics", true)
	v.SetDefault("telemetry.metrics_port", 9090)
	v.SetDefault("telemetry.tracing_backend", "otlp")
	v.SetDefault("telemetry.otlp_endpoint", "localhost:4318")

	v.SetDefault("clients.executor_base_url", "http://localhost:8081")
	v.SetDefault("clients.resources_base_url", "http://localhost:8082")
	v.SetDefault("clients.coordinator_base_url", "http://localhost:8080")
	v.SetDefault("clients.request_timeout", 30*time.Second)

	v.SetDefault("features.enable_supervisor_backstop", true)
	v.SetDefault("features.allow_skip_unregistered_actions", false)

	cfg := &Config{
		Service: ServiceConfig{
			Name:        serviceName,
			Port:        v.GetInt("service.port"),
			Environment: v.GetString("service.environment"),
			LogLevel:    v.GetString("service.log_level"),
			LogFormat:   v.GetString("service.log_format"),
		},
		Store: StoreConfig{
			Host:        v.GetString("store.host"),
			Port:        v.GetInt("store.port"),
			Database:    v.GetString("store.database"),
			User:        v.GetString("store.user"),
			Password:    v.GetString("store.password"),
			MaxConns:    v.GetInt("store.max_conns"),
			MinConns:    v.GetInt("store.min_conns"),
			MaxIdleTime: v.GetDuration("store.max_idle_time"),
			MaxLifetime: v.GetDuration("store.max_lifetime"),
		},
		Redis: RedisConfig{
			Addr:     v.GetString("redis.addr"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		Telemetry: TelemetryConfig{
			EnablePprof:    v.GetBool("telemetry.enable_pprof"),
			PprofPort:      v.GetInt("telemetry.pprof_port"),
			EnableTracing:  v.GetBool("telemetry.enable_tracing"),
			EnableMetrics:  v.GetBool("telemetry.enable_metrics"),
			MetricsPort:    v.GetInt("telemetry.metrics_port"),
			TracingBackend: v.GetString("telemetry.tracing_backend"),
			OTLPEndpoint:   v.GetString("telemetry.otlp_endpoint"),
		},
		Clients: ClientsConfig{
			ExecutorBaseURL:    v.GetString("clients.executor_base_url"),
			ResourcesBaseURL:   v.GetString("clients.resources_base_url"),
			CoordinatorBaseURL: v.GetString("clients.coordinator_base_url"),
			RequestTimeout:     v.GetDuration("clients.request_timeout"),
		},
		Features: FeatureFlags{
			EnableSupervisorBackstop:     v.GetBool("features.enable_supervisor_backstop"),
			AllowSkipUnregisteredActions: v.GetBool("features.allow_skip_unregistered_actions"),
		},
	}

	return cfg, cfg.Validate()
}

// Validate checks invariants across the loaded configuration.
func (c *Config) Validate() error {
	if c.Service.Port < 1 || c.Service.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Service.Port)
	}
	if c.Store.Host == "" {
		return fmt.Errorf("store host is required")
	}
	if c.Store.MaxConns < c.Store.MinConns {
		return fmt.Errorf("store.max_conns must be >= store.min_conns")
	}
	return nil
}

// DatabaseURL returns the local store's Postgres connection string.
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.Store.User,
		c.Store.Password,
		c.Store.Host,
		c.Store.Port,
		c.Store.Database,
	)
}

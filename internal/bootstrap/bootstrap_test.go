package bootstrap

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/wonderhq/coordinator/internal/config"
	"github.com/wonderhq/coordinator/internal/logger"
)

func TestDefaultOptions_HaveEverythingEnabled(t *testing.T) {
	o := defaultOptions()

	assert.False(t, o.skipTelemetry)
	assert.False(t, o.skipSupervisor)
	assert.Nil(t, o.customLogger)
	assert.Nil(t, o.customConfig)
}

func TestWithoutTelemetry_SetsSkipTelemetry(t *testing.T) {
	o := defaultOptions()
	WithoutTelemetry()(o)
	assert.True(t, o.skipTelemetry)
}

func TestWithoutSupervisor_SetsSkipSupervisor(t *testing.T) {
	o := defaultOptions()
	WithoutSupervisor()(o)
	assert.True(t, o.skipSupervisor)
}

func TestWithCustomLogger_OverridesLogger(t *testing.T) {
	o := defaultOptions()
	log := logger.New("debug", "text")
	WithCustomLogger(log)(o)
	assert.Same(t, log, o.customLogger)
}

func TestWithCustomConfig_OverridesConfig(t *testing.T) {
	o := defaultOptions()
	cfg := &config.Config{Service: config.ServiceConfig{Name: "test"}}
	WithCustomConfig(cfg)(o)
	assert.Same(t, cfg, o.customConfig)
}

func TestComponents_Shutdown_RunsCleanupInLIFOOrder(t *testing.T) {
	var order []int
	c := &Components{}
	c.addCleanup(func() error { order = append(order, 1); return nil })
	c.addCleanup(func() error { order = append(order, 2); return nil })
	c.addCleanup(func() error { order = append(order, 3); return nil })

	err := c.Shutdown(nil)

	assert.NoError(t, err)
	assert.Equal(t, []int{3, 2, 1}, order)
}

func TestComponents_Shutdown_CollectsErrorsFromAllSteps(t *testing.T) {
	c := &Components{}
	c.addCleanup(func() error { return assert.AnError })
	c.addCleanup(func() error { return nil })
	c.addCleanup(func() error { return assert.AnError })

	err := c.Shutdown(nil)

	assert.Error(t, err)
}

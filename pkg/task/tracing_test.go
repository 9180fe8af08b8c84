package task

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	daedalusErrors "github.com/wehubfusion/Daedalus/pkg/errors"
)

func TestDefaultTracingConfig(t *testing.T) {
	cfg := DefaultTracingConfig("")
	assert.Equal(t, "daedalus", cfg.ServiceName)
	assert.Equal(t, "127.0.0.1:4318", cfg.OTLPEndpoint)
	assert.Equal(t, 1.0, cfg.SampleRatio)
	assert.NoError(t, cfg.validate())

	assert.Equal(t, "worker", DefaultTracingConfig("worker").ServiceName)
}

func TestSetupTracing_RejectsInvalidConfig(t *testing.T) {
	noEndpoint := DefaultTracingConfig("worker")
	noEndpoint.OTLPEndpoint = ""
	badRatio := DefaultTracingConfig("worker")
	badRatio.SampleRatio = 1.5

	for _, cfg := range []TracingConfig{noEndpoint, badRatio, {OTLPEndpoint: "127.0.0.1:4318"}} {
		shutdown, err := SetupTracing(context.Background(), cfg, nil)
		assert.Nil(t, shutdown)
		assert.ErrorIs(t, err, daedalusErrors.ErrInvalidConfig)
	}
}

func TestShutdownTracing(t *testing.T) {
	assert.NoError(t, ShutdownTracing(nil, nil))

	core, logs := observer.New(zap.DebugLevel)
	called := false
	err := ShutdownTracing(func(ctx context.Context) error {
		called = true
		_, hasDeadline := ctx.Deadline()
		assert.True(t, hasDeadline)
		return nil
	}, zap.New(core))
	assert.NoError(t, err)
	assert.True(t, called)
	assert.Equal(t, 1, logs.FilterMessage("Tracing flushed").Len())

	failure := errors.New("exporter unreachable")
	assert.Equal(t, failure, ShutdownTracing(func(ctx context.Context) error { return failure }, zap.New(core)))
	assert.Equal(t, 1, logs.FilterMessage("Failed to shutdown tracing").Len())
}

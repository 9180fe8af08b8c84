package task

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.uber.org/zap"

	daedalusErrors "github.com/wehubfusion/Daedalus/pkg/errors"
)

const tracingShutdownTimeout = 10 * time.Second

// TracingConfig configures the OTLP exporter that receives the task.actuate spans.
type TracingConfig struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	// OTLPEndpoint is host:port of an OTLP/HTTP collector; the exporter adds the path.
	OTLPEndpoint string
	SampleRatio  float64
}

// DefaultTracingConfig exports every span to a local collector.
func DefaultTracingConfig(serviceName string) TracingConfig {
	if serviceName == "" {
		serviceName = "daedalus"
	}
	return TracingConfig{
		ServiceName:    serviceName,
		ServiceVersion: "1.0.0",
		Environment:    "development",
		OTLPEndpoint:   "127.0.0.1:4318",
		SampleRatio:    1.0,
	}
}

func (c TracingConfig) validate() error {
	if c.ServiceName == "" {
		return daedalusErrors.InvalidConfig("tracing service name is required")
	}
	if c.OTLPEndpoint == "" {
		return daedalusErrors.InvalidConfig("tracing OTLP endpoint is required")
	}
	if c.SampleRatio < 0 || c.SampleRatio > 1 {
		return daedalusErrors.InvalidConfig("tracing sample ratio must be within [0, 1], got %v", c.SampleRatio)
	}
	return nil
}

// SetupTracing installs a global tracer provider exporting to cfg.OTLPEndpoint.
// Tasks created without WithTracer pick it up. The returned function flushes and
// shuts the provider down.
func SetupTracing(ctx context.Context, cfg TracingConfig, logger *zap.Logger) (func(context.Context) error, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	logger.Info("Setting up tracing",
		zap.String("service_name", cfg.ServiceName),
		zap.String("otlp_endpoint", cfg.OTLPEndpoint),
		zap.Float64("sample_ratio", cfg.SampleRatio))

	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpoint(cfg.OTLPEndpoint),
		otlptracehttp.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
	}

	res, err := resource.New(ctx, resource.WithAttributes(
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(cfg.ServiceVersion),
		semconv.DeploymentEnvironment(cfg.Environment),
	))
	if err != nil {
		_ = exporter.Shutdown(ctx)
		return nil, fmt.Errorf("failed to build tracing resource: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRatio))),
	)
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return provider.Shutdown, nil
}

// ShutdownTracing flushes pending spans, giving up after ten seconds.
func ShutdownTracing(shutdown func(context.Context) error, logger *zap.Logger) error {
	if shutdown == nil {
		return nil
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	ctx, cancel := context.WithTimeout(context.Background(), tracingShutdownTimeout)
	defer cancel()

	if err := shutdown(ctx); err != nil {
		logger.Error("Failed to shutdown tracing", zap.Error(err))
		return err
	}
	logger.Debug("Tracing flushed")
	return nil
}

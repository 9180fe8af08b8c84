package task

import (
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/wehubfusion/Daedalus/pkg/concurrency"
)

// Option configures a Task.
type Option func(*config)

type config struct {
	concurrency int
	itemTimeout time.Duration
	rateLimiter *rate.Limiter
	limiter     *concurrency.Limiter
	logger      *zap.Logger
	tracer      trace.Tracer
}

func defaultConfig() config {
	return config{
		concurrency: 1,
		logger:      zap.NewNop(),
		tracer:      otel.Tracer("daedalus/task"),
	}
}

// WithConcurrency sets how many actuator calls may be in flight at once.
// The default of 1 runs items strictly one after another; values below 1 are clamped to 1.
func WithConcurrency(n int) Option {
	return func(c *config) {
		c.concurrency = max(n, 1)
	}
}

// WithItemTimeout bounds every actuator call with a context deadline.
// Zero disables the deadline.
func WithItemTimeout(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.itemTimeout = d
		}
	}
}

// WithRateLimit throttles actuator invocations to limit per second with the given burst.
func WithRateLimit(limit rate.Limit, burst int) Option {
	return func(c *config) {
		c.rateLimiter = rate.NewLimiter(limit, max(burst, 1))
	}
}

// WithLimiter makes every actuator call hold a slot of a limiter shared with other tasks or iterations.
func WithLimiter(limiter *concurrency.Limiter) Option {
	return func(c *config) {
		c.limiter = limiter
	}
}

// WithLogger sets the logger. Entries carry the task id.
func WithLogger(logger *zap.Logger) Option {
	return func(c *config) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithTracer sets the tracer used for per-item spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(c *config) {
		if tracer != nil {
			c.tracer = tracer
		}
	}
}

// FromConfig applies the task defaults of a loaded concurrency configuration.
func FromConfig(cfg *concurrency.Config) Option {
	return func(c *config) {
		if cfg == nil {
			return
		}
		c.concurrency = max(cfg.TaskConcurrency, 1)
		if cfg.ItemTimeout > 0 {
			c.itemTimeout = cfg.ItemTimeout
		}
	}
}

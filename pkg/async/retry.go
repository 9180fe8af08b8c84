package async

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	daedalusErrors "github.com/wehubfusion/Daedalus/pkg/errors"
)

// RetryPolicy defines the delay between retry attempts
type RetryPolicy struct {
	// InitialDelay is the delay before the second attempt (0 = retry immediately)
	InitialDelay time.Duration

	// MaxDelay caps the delay between attempts
	MaxDelay time.Duration

	// BackoffRatio is the multiplier applied to the delay after each failed attempt.
	// With InitialDelay=100ms and BackoffRatio=2.0 the delays are 100ms, 200ms, 400ms...
	BackoffRatio float64
}

// DefaultRetryPolicy returns an exponential policy suited for IO-bound operations
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		BackoffRatio: 2.0,
	}
}

// NoDelay returns a policy that retries immediately
func NoDelay() RetryPolicy {
	return RetryPolicy{BackoffRatio: 1.0}
}

func (p RetryPolicy) backOff() backoff.BackOff {
	if p.InitialDelay <= 0 {
		return &backoff.ZeroBackOff{}
	}

	ratio := p.BackoffRatio
	if ratio < 1.0 {
		ratio = 1.0
	}
	maxDelay := p.MaxDelay
	if maxDelay < p.InitialDelay {
		maxDelay = p.InitialDelay
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialDelay
	b.MaxInterval = maxDelay
	b.Multiplier = ratio
	b.RandomizationFactor = 0
	return b
}

type retryConfig struct {
	policy RetryPolicy
	logger *zap.Logger
}

// RetryOption configures WithRetry.
type RetryOption func(*retryConfig)

// WithBackoff sets the delay policy between attempts.
func WithBackoff(policy RetryPolicy) RetryOption {
	return func(c *retryConfig) {
		c.policy = policy
	}
}

// WithRetryLogger logs every failed attempt that will be retried.
func WithRetryLogger(logger *zap.Logger) RetryOption {
	return func(c *retryConfig) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithRetry invokes op up to maxAttempts times and returns the first success.
//
// When every attempt fails the error of the last attempt is returned as is,
// even if ctx ended during that attempt. maxAttempts below one is rejected with
// ErrInvalidConfig before op is called. If ctx ends before another attempt is
// due, the context cause is returned instead.
//
// op may return backoff.Permanent(err) to stop retrying early; err is then
// returned unwrapped.
func WithRetry[T any](ctx context.Context, maxAttempts int, op Operation[T], opts ...RetryOption) (T, error) {
	var zero T
	if maxAttempts <= 0 {
		return zero, daedalusErrors.InvalidConfig("maxAttempts must be positive, got %d", maxAttempts)
	}
	if op == nil {
		return zero, daedalusErrors.InvalidConfig("operation cannot be nil")
	}

	cfg := retryConfig{
		policy: NoDelay(),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	attempt := 0
	return backoff.Retry(ctx, func() (T, error) {
		attempt++
		v, err := op(ctx)
		if err != nil && attempt >= maxAttempts {
			// surface the real error rather than a context cause checked after it
			return v, backoff.Permanent(err)
		}
		return v, err
	},
		backoff.WithBackOff(cfg.policy.backOff()),
		backoff.WithMaxTries(uint(maxAttempts)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			cfg.logger.Warn("Attempt failed, retrying",
				zap.Int("attempt", attempt),
				zap.Int("max_attempts", maxAttempts),
				zap.Duration("retry_delay", next),
				zap.Error(err))
		}),
	)
}

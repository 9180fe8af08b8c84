package iteration

import (
	"context"

	"github.com/wehubfusion/Daedalus/pkg/concurrency"
)

// Strategy defines how array items are processed
type Strategy string

const (
	StrategySequential Strategy = "sequential" // Process items one by one
	StrategyParallel   Strategy = "parallel"   // Process items concurrently
)

// Config holds configuration for array iteration
type Config struct {
	Strategy      Strategy // sequential or parallel
	MaxConcurrent int      // Max concurrent workers (0 = runtime.NumCPU())
}

// ConfigFromConcurrency derives an iteration config from the loaded concurrency settings
func ConfigFromConcurrency(c *concurrency.Config) Config {
	strategy := StrategySequential
	if c.IteratorMode == concurrency.IteratorModeParallel {
		strategy = StrategyParallel
	}
	return Config{
		Strategy:      strategy,
		MaxConcurrent: c.MaxConcurrent,
	}
}

// Callback is called for each array item. index is zero-based and items is the
// slice being iterated.
type Callback[T, R any] func(ctx context.Context, item T, index int, items []T) (R, error)

// VoidCallback is a Callback that produces no value
type VoidCallback[T any] func(ctx context.Context, item T, index int, items []T) error

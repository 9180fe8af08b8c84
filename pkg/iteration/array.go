package iteration

import (
	"context"
	"errors"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/wehubfusion/Daedalus/pkg/concurrency"
	daedalusErrors "github.com/wehubfusion/Daedalus/pkg/errors"
)

// ForEach calls fn for every item strictly in order, waiting for each call to
// return before starting the next. The first failure stops the iteration and is
// returned as an *errors.ActuatorError.
func ForEach[T any](ctx context.Context, items []T, fn VoidCallback[T]) error {
	_, err := Map(ctx, items, func(ctx context.Context, item T, index int, items []T) (struct{}, error) {
		return struct{}{}, fn(ctx, item, index, items)
	})
	return err
}

// Map is ForEach collecting each return value. The output has the length and
// order of items.
func Map[T, R any](ctx context.Context, items []T, fn Callback[T, R]) ([]R, error) {
	results := make([]R, len(items))

	for i, item := range items {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		output, err := call(ctx, fn, item, i, items)
		if err != nil {
			return nil, daedalusErrors.NewActuatorError(i, err)
		}
		results[i] = output
	}

	return results, nil
}

type parallelConfig struct {
	limiter *concurrency.Limiter
}

// ParallelOption configures Parallel
type ParallelOption func(*parallelConfig)

// WithLimiter makes every call also hold a slot of a shared limiter.
func WithLimiter(limiter *concurrency.Limiter) ParallelOption {
	return func(c *parallelConfig) {
		c.limiter = limiter
	}
}

// clampConcurrency applies the window policy shared by Parallel and Iterator:
// non-positive values mean runtime.NumCPU() and the window never exceeds the item count.
func clampConcurrency(concurrency, numItems int) int {
	if concurrency <= 0 {
		concurrency = runtime.NumCPU()
	}
	if concurrency > numItems {
		concurrency = numItems
	}
	return concurrency
}

// Parallel calls fn for every item with at most concurrency calls in flight.
//
// Every item is dispatched exactly once, in input order. A failing call does
// not stop the others: its slot in the result holds the zero value and its
// *errors.ActuatorError is joined into the returned error. Results are in
// input order regardless of completion order.
func Parallel[T, R any](ctx context.Context, items []T, fn Callback[T, R], concurrency int, opts ...ParallelOption) ([]R, error) {
	results := make([]R, len(items))
	if len(items) == 0 {
		return results, nil
	}

	var cfg parallelConfig
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	// each goroutine writes only its own slot
	var g errgroup.Group
	errs := make([]error, len(items))
	g.SetLimit(clampConcurrency(concurrency, len(items)))

	for i := range items {
		g.Go(func() error {
			output, err := invokeLimited(ctx, cfg.limiter, fn, items[i], i, items)
			if err != nil {
				errs[i] = daedalusErrors.NewActuatorError(i, err)
				return nil
			}
			results[i] = output
			return nil
		})
	}
	_ = g.Wait()

	return results, errors.Join(errs...)
}

func invokeLimited[T, R any](ctx context.Context, limiter *concurrency.Limiter, fn Callback[T, R], item T, index int, items []T) (R, error) {
	if limiter == nil {
		return call(ctx, fn, item, index, items)
	}

	var output R
	err := limiter.Do(ctx, func(ctx context.Context) error {
		var err error
		output, err = call(ctx, fn, item, index, items)
		return err
	})
	return output, err
}

// call invokes fn and converts a panic into an error
func call[T, R any](ctx context.Context, fn Callback[T, R], item T, index int, items []T) (output R, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = daedalusErrors.PanicError(r)
		}
	}()
	return fn(ctx, item, index, items)
}

package iteration

import (
	"context"
	"runtime"
	"sync"

	"github.com/wehubfusion/Daedalus/pkg/concurrency"
	daedalusErrors "github.com/wehubfusion/Daedalus/pkg/errors"
)

// Iterator handles array iteration with a configurable execution strategy.
// Unlike Parallel, both strategies fail fast.
type Iterator[T, R any] struct {
	config  Config
	limiter *concurrency.Limiter
}

// NewIterator creates a new iterator with given config
func NewIterator[T, R any](config Config) *Iterator[T, R] {
	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = runtime.NumCPU()
	}
	return &Iterator[T, R]{config: config}
}

// NewIteratorWithLimiter creates an iterator whose parallel workers also hold a shared limiter slot per item
func NewIteratorWithLimiter[T, R any](config Config, limiter *concurrency.Limiter) *Iterator[T, R] {
	it := NewIterator[T, R](config)
	it.limiter = limiter
	return it
}

// Config returns the effective configuration
func (it *Iterator[T, R]) Config() Config {
	return it.config
}

// Process iterates over items and returns the results in input order,
// or the first error encountered.
func (it *Iterator[T, R]) Process(ctx context.Context, items []T, fn Callback[T, R]) ([]R, error) {
	if len(items) == 0 {
		return []R{}, nil
	}

	if it.config.Strategy == StrategyParallel {
		return it.processParallel(ctx, items, fn)
	}
	return Map(ctx, items, fn)
}

// processParallel processes items with a worker pool and cancels outstanding work on the first error
func (it *Iterator[T, R]) processParallel(ctx context.Context, items []T, fn Callback[T, R]) ([]R, error) {
	numItems := len(items)
	results := make([]R, numItems)
	numWorkers := clampConcurrency(it.config.MaxConcurrent, numItems)

	workCh := make(chan int, numItems)
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg         sync.WaitGroup
		mu         sync.Mutex
		firstError error
	)

	for w := 0; w < numWorkers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range workCh {
				if ctx.Err() != nil {
					return
				}

				output, err := invokeLimited(ctx, it.limiter, fn, items[idx], idx, items)

				mu.Lock()
				if err != nil {
					if firstError == nil {
						firstError = daedalusErrors.NewActuatorError(idx, err)
						cancel()
					}
				} else {
					results[idx] = output
				}
				mu.Unlock()
			}
		}()
	}

sendLoop:
	for i := 0; i < numItems; i++ {
		select {
		case <-ctx.Done():
			break sendLoop
		case workCh <- i:
		}
	}
	close(workCh)

	wg.Wait()

	if firstError != nil {
		return nil, firstError
	}
	// only the parent can have ended ctx at this point
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return results, nil
}

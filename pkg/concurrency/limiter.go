package concurrency

import (
	"context"
	"sync/atomic"
	"time"

	daedalusErrors "github.com/wehubfusion/Daedalus/pkg/errors"
)

// Metrics tracks limiter usage
type Metrics struct {
	TotalAcquired   int64
	TotalReleased   int64
	TotalRejected   int64
	PeakConcurrent  int64
	TotalWaitTimeNs int64
}

// Limiter is a semaphore shared by any number of iterations and tasks.
// It bounds how many callbacks run at once across all of them and trips a
// circuit breaker when callbacks keep failing.
type Limiter struct {
	sem            chan struct{}
	active         atomic.Int64
	acquired       atomic.Int64
	released       atomic.Int64
	rejected       atomic.Int64
	peak           atomic.Int64
	waitNs         atomic.Int64
	circuitBreaker *CircuitBreaker
}

// NewLimiter creates a limiter allowing maxConcurrent simultaneous holders
func NewLimiter(maxConcurrent int) *Limiter {
	return NewLimiterWithCircuitBreaker(maxConcurrent, NewCircuitBreaker(100, 30*time.Second))
}

// NewLimiterWithCircuitBreaker creates a limiter with custom circuit breaker settings
func NewLimiterWithCircuitBreaker(maxConcurrent int, cb *CircuitBreaker) *Limiter {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	if cb == nil {
		cb = NewCircuitBreaker(0, 0)
	}

	return &Limiter{
		sem:            make(chan struct{}, maxConcurrent),
		circuitBreaker: cb,
	}
}

// Capacity returns the maximum number of concurrent holders
func (l *Limiter) Capacity() int {
	return cap(l.sem)
}

// Acquire blocks until a slot is free or ctx ends.
// It fails immediately with ErrCircuitOpen while the circuit breaker is open.
func (l *Limiter) Acquire(ctx context.Context) error {
	if l.circuitBreaker.IsOpen() {
		l.rejected.Add(1)
		return daedalusErrors.ErrCircuitOpen
	}

	start := time.Now()

	select {
	case l.sem <- struct{}{}:
		l.waitNs.Add(time.Since(start).Nanoseconds())
		l.acquired.Add(1)
		l.updatePeak(l.active.Add(1))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release returns a slot to the limiter
func (l *Limiter) Release() {
	select {
	case <-l.sem:
		l.active.Add(-1)
		l.released.Add(1)
	default:
		// release without acquire
	}
}

// Do runs fn while holding a slot and feeds its outcome to the circuit breaker.
func (l *Limiter) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := l.Acquire(ctx); err != nil {
		return err
	}
	defer l.Release()

	err := fn(ctx)
	l.Record(err)
	return err
}

// Record feeds an outcome obtained while holding a slot to the circuit breaker.
func (l *Limiter) Record(err error) {
	if err != nil {
		l.circuitBreaker.RecordFailure()
		return
	}
	l.circuitBreaker.RecordSuccess()
}

// CurrentActive returns the number of slots currently held
func (l *Limiter) CurrentActive() int64 {
	return l.active.Load()
}

// GetMetrics returns a snapshot of the limiter metrics
func (l *Limiter) GetMetrics() Metrics {
	return Metrics{
		TotalAcquired:   l.acquired.Load(),
		TotalReleased:   l.released.Load(),
		TotalRejected:   l.rejected.Load(),
		PeakConcurrent:  l.peak.Load(),
		TotalWaitTimeNs: l.waitNs.Load(),
	}
}

// GetAverageWaitTime returns the mean time spent waiting in Acquire
func (l *Limiter) GetAverageWaitTime() time.Duration {
	metrics := l.GetMetrics()
	if metrics.TotalAcquired == 0 {
		return 0
	}
	return time.Duration(metrics.TotalWaitTimeNs / metrics.TotalAcquired)
}

// Reset clears the metrics
func (l *Limiter) Reset() {
	l.acquired.Store(0)
	l.released.Store(0)
	l.rejected.Store(0)
	l.peak.Store(0)
	l.waitNs.Store(0)
}

// CircuitBreaker returns the breaker guarding this limiter
func (l *Limiter) CircuitBreaker() *CircuitBreaker {
	return l.circuitBreaker
}

func (l *Limiter) updatePeak(current int64) {
	for {
		peak := l.peak.Load()
		if current <= peak {
			return
		}
		if l.peak.CompareAndSwap(peak, current) {
			return
		}
	}
}

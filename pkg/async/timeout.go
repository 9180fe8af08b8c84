package async

import (
	"context"
	"fmt"
	"time"

	daedalusErrors "github.com/wehubfusion/Daedalus/pkg/errors"
)

// DefaultTimeout is the timeout callers conventionally pass when they have no better value.
const DefaultTimeout = 5 * time.Second

// Operation is a unit of asynchronous work that produces a T.
type Operation[T any] func(ctx context.Context) (T, error)

// WithTimeout runs op and returns whichever settles first: op or a timer of the given duration.
//
// When the timer wins the result is a *errors.TimeoutError; op is not cancelled
// and its eventual outcome is discarded.
//
// A timeout of zero or less always times out: op is started on its own goroutine
// and cannot have settled yet. To accept a value that is already available at
// zero timeout, settle a Deferred and pass it to Race.
func WithTimeout[T any](ctx context.Context, timeout time.Duration, op Operation[T]) (T, error) {
	d := NewDeferred[T]()
	go func() {
		defer func() {
			if r := recover(); r != nil {
				d.Reject(daedalusErrors.PanicError(r))
			}
		}()
		v, err := op(ctx)
		if err != nil {
			d.Reject(err)
			return
		}
		d.Resolve(v)
	}()

	if timeout <= 0 {
		var zero T
		return zero, daedalusErrors.NewTimeoutError(0)
	}
	return Race(ctx, timeout, d)
}

// Race waits for d to settle for at most timeout.
// An already settled Deferred wins even with a zero timeout.
func Race[T any](ctx context.Context, timeout time.Duration, d *Deferred[T]) (T, error) {
	var zero T
	if d == nil {
		return zero, fmt.Errorf("race: %w", daedalusErrors.InvalidConfig("deferred cannot be nil"))
	}

	if d.Settled() {
		return d.result()
	}

	if timeout < 0 {
		timeout = 0
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-d.Done():
		return d.result()
	case <-timer.C:
		// a settle racing the timer still counts
		if d.Settled() {
			return d.result()
		}
		return zero, daedalusErrors.NewTimeoutError(timeout)
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

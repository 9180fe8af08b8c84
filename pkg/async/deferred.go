// Package async provides small building blocks for asynchronous control flow:
// externally settled deferred values, timeout races, retries and sleeps.
package async

import (
	"context"
	"sync"

	daedalusErrors "github.com/wehubfusion/Daedalus/pkg/errors"
)

// Deferred is a one-shot value that is settled from the outside.
//
// Resolve and Reject may be called from any goroutine; only the first call has
// an effect. Any number of goroutines may Wait on the same Deferred and all of
// them observe the same value or error.
type Deferred[T any] struct {
	once  sync.Once
	done  chan struct{}
	value T
	err   error
}

// NewDeferred creates an unsettled Deferred.
func NewDeferred[T any]() *Deferred[T] {
	return &Deferred[T]{done: make(chan struct{})}
}

// Resolve settles the Deferred with v. It reports whether this call settled it.
func (d *Deferred[T]) Resolve(v T) bool {
	return d.settle(v, nil)
}

// Reject settles the Deferred with err. A nil err is replaced by ErrNilRejection.
func (d *Deferred[T]) Reject(err error) bool {
	if err == nil {
		err = daedalusErrors.ErrNilRejection
	}
	var zero T
	return d.settle(zero, err)
}

func (d *Deferred[T]) settle(v T, err error) bool {
	settled := false
	d.once.Do(func() {
		d.value = v
		d.err = err
		settled = true
		close(d.done)
	})
	return settled
}

// Done returns a channel that is closed once the Deferred is settled.
func (d *Deferred[T]) Done() <-chan struct{} {
	return d.done
}

// Settled reports whether Resolve or Reject has been called.
func (d *Deferred[T]) Settled() bool {
	select {
	case <-d.done:
		return true
	default:
		return false
	}
}

// Wait blocks until the Deferred is settled or ctx ends.
func (d *Deferred[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-d.done:
		return d.value, d.err
	default:
	}

	select {
	case <-d.done:
		return d.value, d.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// result returns the settled outcome; callers must have observed Done.
func (d *Deferred[T]) result() (T, error) {
	return d.value, d.err
}

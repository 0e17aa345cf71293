package guestlink

import (
	"context"
	"sync"
)

// Future is the eventual outcome of an asynchronous operation. It settles
// exactly once; later attempts are ignored.
type Future[T any] struct {
	once sync.Once
	done chan struct{}
	val  T
	err  error
}

func newFuture[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

// Resolved returns a future already settled with v.
func Resolved[T any](v T) *Future[T] {
	f := newFuture[T]()
	f.settle(v, nil)
	return f
}

// Failed returns a future already settled with err.
func Failed[T any](err error) *Future[T] {
	f := newFuture[T]()
	var zero T
	f.settle(zero, err)
	return f
}

// settle records the outcome and reports whether this call was the one
// that settled the future.
func (f *Future[T]) settle(v T, err error) bool {
	settled := false
	f.once.Do(func() {
		f.val = v
		f.err = err
		settled = true
		close(f.done)
	})
	return settled
}

// Done is closed once the future has settled.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Await blocks until the future settles or ctx is done. Giving up on ctx
// only abandons the wait; the underlying operation keeps running.
func (f *Future[T]) Await(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.val, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Poll returns the outcome without blocking. ok is false while pending.
func (f *Future[T]) Poll() (v T, err error, ok bool) {
	select {
	case <-f.done:
		return f.val, f.err, true
	default:
		var zero T
		return zero, nil, false
	}
}

// Wait implements Awaiter, so handlers can hand a future back as their
// outcome.
func (f *Future[T]) Wait(ctx context.Context) error {
	_, err := f.Await(ctx)
	return err
}

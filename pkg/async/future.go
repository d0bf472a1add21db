package async

import (
	"context"
	"sync"
	"time"
)

// Future represents a value of type T that becomes available later.
type Future[T any] struct {
	mu        sync.Mutex
	val       T
	err       error
	settled   bool
	done      chan struct{}
	callbacks []func(T, error)
}

// NewFuture returns a pending future.
func NewFuture[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

// Settled returns a future that is already settled with v and err.
// A non-nil err rejects the future, otherwise it is resolved with v.
func Settled[T any](v T, err error) *Future[T] {
	f := NewFuture[T]()
	f.settle(v, err)
	return f
}

// Resolved returns a future resolved with v.
func Resolved[T any](v T) *Future[T] {
	return Settled(v, nil)
}

// Rejected returns a future rejected with err.
func Rejected[T any](err error) *Future[T] {
	var zero T
	return Settled(zero, err)
}

// Resolve settles the future with v. Reports false if it was already settled.
func (f *Future[T]) Resolve(v T) bool {
	return f.settle(v, nil)
}

// Reject settles the future with err. Reports false if it was already settled.
func (f *Future[T]) Reject(err error) bool {
	var zero T
	return f.settle(zero, err)
}

func (f *Future[T]) settle(v T, err error) bool {
	f.mu.Lock()
	if f.settled {
		f.mu.Unlock()
		return false
	}
	f.settled = true
	f.val, f.err = v, err
	callbacks := f.callbacks
	f.callbacks = nil
	close(f.done)
	f.mu.Unlock()

	for _, cb := range callbacks {
		cb(v, err)
	}
	return true
}

// Done returns a channel closed once the future settles.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// IsComplete reports whether the future has settled, without blocking.
func (f *Future[T]) IsComplete() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// Await blocks until the future settles or ctx is done.
// When ctx ends first the context error is returned and the future stays pending.
func (f *Future[T]) Await(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.val, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// AwaitWithTimeout blocks until the future settles or the timeout elapses,
// in which case ErrTimeout is returned.
func (f *Future[T]) AwaitWithTimeout(timeout time.Duration) (T, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-f.done:
		return f.val, f.err
	case <-timer.C:
		var zero T
		return zero, ErrTimeout
	}
}

// OnSettle registers cb to run once the future settles.
// A settled future runs cb immediately.
func (f *Future[T]) OnSettle(cb func(T, error)) {
	f.mu.Lock()
	if !f.settled {
		f.callbacks = append(f.callbacks, cb)
		f.mu.Unlock()
		return
	}
	v, err := f.val, f.err
	f.mu.Unlock()
	cb(v, err)
}

// Go runs fn in a new goroutine and returns a future for its result.
// A context that is already done rejects the future without calling fn.
func Go[T any](ctx context.Context, fn func(context.Context) (T, error)) *Future[T] {
	f := NewFuture[T]()

	go func() {
		// Early exit prevents work when the caller already gave up
		select {
		case <-ctx.Done():
			f.Reject(ctx.Err())
			return
		default:
		}

		v, err := fn(ctx)
		f.settle(v, err)
	}()

	return f
}

// Map returns a future settled with fn applied to the value of f.
// Rejections pass through without calling fn.
func Map[T, U any](f *Future[T], fn func(T) (U, error)) *Future[U] {
	out := NewFuture[U]()
	f.OnSettle(func(v T, err error) {
		if err != nil {
			out.Reject(err)
			return
		}
		out.settle(fn(v))
	})
	return out
}

// Any waits for the first of futures to settle and returns its index, value and error.
// Returns ErrNoFutures when called without futures.
func Any[T any](ctx context.Context, futures ...*Future[T]) (int, T, error) {
	var zero T
	if len(futures) == 0 {
		return -1, zero, ErrNoFutures
	}

	type result struct {
		index int
		val   T
		err   error
	}
	first := make(chan result, len(futures))
	for i, fut := range futures {
		fut.OnSettle(func(v T, err error) {
			first <- result{index: i, val: v, err: err}
		})
	}

	select {
	case res := <-first:
		return res.index, res.val, res.err
	case <-ctx.Done():
		return -1, zero, ctx.Err()
	}
}

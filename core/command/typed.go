package command

import (
	"context"
	"fmt"
	"iter"
	"sync"

	"github.com/dmitrymomot/collidor/pkg/async"
	"github.com/dmitrymomot/collidor/pkg/codec"
)

// Registrar is implemented by both dispatcher variants.
type Registrar interface {
	Register(name string, h UnaryHandler)
	RegisterStream(name string, h StreamHandler)
}

// Executor runs unary commands synchronously.
type Executor interface {
	Execute(ctx context.Context, cmd Command) (any, error)
}

// Streamer runs callback streams.
type Streamer interface {
	Stream(ctx context.Context, cmd Command, next Next) (func(), error)
}

// Handle registers a typed unary handler for desc. Payloads that arrive encoded
// from a remote peer are decoded into P before fn runs.
func Handle[P, R any](d Registrar, desc Descriptor[P, R], fn func(ctx context.Context, payload P) (R, error)) {
	d.Register(desc.name, func(ctx context.Context, cmd Command) (any, error) {
		p, err := payloadAs[P](cmd)
		if err != nil {
			return nil, err
		}
		return fn(ctx, p)
	})
}

// HandleAsync registers a typed handler returning a future.
func HandleAsync[P, R any](d *AsyncDispatcher, desc Descriptor[P, R], fn func(ctx context.Context, payload P) *async.Future[R]) {
	d.RegisterAsync(desc.name, func(ctx context.Context, cmd Command) *async.Future[any] {
		p, err := payloadAs[P](cmd)
		if err != nil {
			return async.Rejected[any](err)
		}
		return async.Map(fn(ctx, p), func(r R) (any, error) { return r, nil })
	})
}

// Emitter is the typed producer side of a stream.
type Emitter[R any] struct {
	next Next
}

// Send emits one item.
func (e Emitter[R]) Send(v R) { e.next(v, false, nil) }

// SendLast emits v as the final item.
func (e Emitter[R]) SendLast(v R) { e.next(v, true, nil) }

// Done ends the stream without emitting an item.
func (e Emitter[R]) Done() { e.next(nil, true, nil) }

// Fail ends the stream with err.
func (e Emitter[R]) Fail(err error) { e.next(nil, true, err) }

// HandleStream registers a typed callback stream handler for desc.
func HandleStream[P, R any](d Registrar, desc Descriptor[P, R], fn func(ctx context.Context, payload P, emit Emitter[R]) Teardown) {
	d.RegisterStream(desc.name, func(ctx context.Context, cmd Command, next Next) Teardown {
		p, err := payloadAs[P](cmd)
		if err != nil {
			next(nil, true, err)
			return nil
		}
		return fn(ctx, p, Emitter[R]{next: next})
	})
}

// HandleSeq registers a typed sequence handler for desc.
func HandleSeq[P, R any](d *AsyncDispatcher, desc Descriptor[P, R], fn func(ctx context.Context, payload P) iter.Seq2[R, error]) {
	d.RegisterStreamAsync(desc.name, func(ctx context.Context, cmd Command) iter.Seq2[any, error] {
		return func(yield func(any, error) bool) {
			p, err := payloadAs[P](cmd)
			if err != nil {
				yield(nil, err)
				return
			}
			for v, err := range fn(ctx, p) {
				if err != nil {
					yield(nil, err)
					return
				}
				if !yield(v, nil) {
					return
				}
			}
		}
	})
}

// Execute runs desc with payload on d and converts the result to R.
func Execute[P, R any](ctx context.Context, d Executor, desc Descriptor[P, R], payload P) (R, error) {
	v, err := d.Execute(ctx, desc.New(payload))
	if err != nil {
		var zero R
		return zero, err
	}
	return resultAs[R](desc.name, v)
}

// ExecuteAsync runs desc with payload on d and returns a future of R.
func ExecuteAsync[P, R any](ctx context.Context, d *AsyncDispatcher, desc Descriptor[P, R], payload P) *async.Future[R] {
	return async.Map(d.Execute(ctx, desc.New(payload)), func(v any) (R, error) {
		return resultAs[R](desc.name, v)
	})
}

// Stream starts desc with payload on d. A terminal call without an item
// reaches fn as the zero R with done set. Items that cannot be converted to R
// end the stream with an error wrapping ErrInvalidPayload and cancel the
// producer.
func Stream[P, R any](ctx context.Context, d Streamer, desc Descriptor[P, R], payload P, fn func(v R, done bool, err error)) (func(), error) {
	var (
		ended bool

		mu       sync.Mutex
		cancel   func()
		mismatch bool
	)
	stop := func() {
		mu.Lock()
		mismatch = true
		c := cancel
		mu.Unlock()
		if c != nil {
			c()
		}
	}

	c, err := d.Stream(ctx, desc.New(payload), func(v any, done bool, err error) {
		if ended {
			return
		}
		var r R
		var convErr error
		if err == nil && v != nil {
			r, convErr = resultAs[R](desc.name, v)
			err = convErr
		}
		ended = done || err != nil
		fn(r, done, err)
		if convErr != nil {
			stop()
		}
	})
	if err != nil {
		return nil, err
	}

	mu.Lock()
	cancel = c
	failed := mismatch
	mu.Unlock()
	if failed {
		c()
	}
	return c, nil
}

// StreamAsync runs desc with payload on d as a typed sequence.
func StreamAsync[P, R any](ctx context.Context, d *AsyncDispatcher, desc Descriptor[P, R], payload P) iter.Seq2[R, error] {
	return func(yield func(R, error) bool) {
		var zero R
		for v, err := range d.StreamAsync(ctx, desc.New(payload)) {
			if err != nil {
				yield(zero, err)
				return
			}
			r, err := resultAs[R](desc.name, v)
			if err != nil {
				yield(zero, err)
				return
			}
			if !yield(r, nil) {
				return
			}
		}
	}
}

func payloadAs[P any](cmd Command) (P, error) {
	p, err := codec.As[P](cmd.Payload)
	if err != nil {
		return p, fmt.Errorf("%w: %s: %w", ErrInvalidPayload, cmd.Name, err)
	}
	return p, nil
}

func resultAs[R any](name string, v any) (R, error) {
	r, err := codec.As[R](v)
	if err != nil {
		return r, fmt.Errorf("%w: %s result: %w", ErrInvalidPayload, name, err)
	}
	return r, nil
}

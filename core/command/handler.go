package command

import (
	"context"
	"iter"

	"github.com/dmitrymomot/collidor/pkg/async"
)

// UnaryHandler produces a single result for a command.
type UnaryHandler func(ctx context.Context, cmd Command) (any, error)

// AsyncHandler produces a single result that becomes available later.
type AsyncHandler func(ctx context.Context, cmd Command) *async.Future[any]

// Next emits one stream item. done=true or a non-nil err ends the stream.
type Next func(value any, done bool, err error)

// Teardown releases a stream producer. It may be nil.
type Teardown func()

// StreamHandler produces values through next until it reports done or an error.
// ctx is cancelled once the subscription is torn down.
type StreamHandler func(ctx context.Context, cmd Command, next Next) Teardown

// SeqHandler returns a fresh lazy sequence per call. A non-nil error ends the sequence.
type SeqHandler func(ctx context.Context, cmd Command) iter.Seq2[any, error]

// lift adapts a synchronous handler to the asynchronous signature.
func lift(h UnaryHandler) AsyncHandler {
	if h == nil {
		return nil
	}
	return func(ctx context.Context, cmd Command) *async.Future[any] {
		return async.Settled[any](h(ctx, cmd))
	}
}

// Package command provides in-process command dispatch with unary, async and
// streaming handlers, and the extension points a transport plugin needs to
// make remote handlers callable as if they were local.
//
// # Dispatchers
//
// SyncDispatcher runs unary handlers in the caller's goroutine and returns
// their result unchanged. AsyncDispatcher delivers every result as an
// async.Future and adds pull-based streams:
//
//	var Sum = command.Define[SumArgs, int]("Sum")
//
//	d := command.NewAsyncDispatcher()
//	command.Handle(d, Sum, func(ctx context.Context, a SumArgs) (int, error) {
//		return a.A + a.B, nil
//	})
//	n, err := command.ExecuteAsync(ctx, d, Sum, SumArgs{A: 1, B: 2}).Await(ctx)
//
// Handlers are keyed by a stable name. Registering under an existing name
// replaces the previous handler.
//
// # Streams
//
// A StreamHandler emits items through Next and may return a Teardown. Once a
// terminal item is delivered (done or an error) later calls are dropped. The
// teardown runs exactly once, on completion, on the cancel func returned by
// Stream, or when the caller's context is done:
//
//	cancel, err := d.Stream(ctx, cmd, func(v any, done bool, err error) {
//		// ordered, at most one terminal call
//	})
//	defer cancel()
//
// AsyncDispatcher.StreamAsync exposes the same streams as iter.Seq2 and
// prefers handlers registered with RegisterStreamAsync.
//
// # Plugins
//
// WithPlugin accepts any value. Its capabilities are the interfaces it
// implements: Installer, RegisterObserver, StreamRegisterObserver,
// Interceptor, AsyncInterceptor and StreamInterceptor. An interceptor owns the
// execution of every call and receives the local handler, if any, to delegate to.
//
// # Context
//
// Each dispatcher owns a default bag.Bag. Callers override it per call with
// bag.WithContext and handlers read it with bag.FromContext.
package command

// Package async provides a generic Future primitive for values that settle
// once, some time after they were requested.
//
// A Future is settled exactly once, either resolved with a value or rejected
// with an error. Later Resolve/Reject calls are ignored and report false, so
// several racing producers (a response, a timeout, a cancellation) can all
// try to settle the same future safely.
//
// # Usage
//
// Settling a future by hand:
//
//	f := async.NewFuture[int]()
//	go func() { f.Resolve(42) }()
//
//	v, err := f.Await(ctx)
//
// Running a function in the background:
//
//	f := async.Go(ctx, func(ctx context.Context) (User, error) {
//		return repo.Find(ctx, id)
//	})
//
//	user, err := f.AwaitWithTimeout(time.Second)
//	if errors.Is(err, async.ErrTimeout) {
//		// the future is still pending
//	}
//
// Already known results are wrapped without a goroutine:
//
//	f := async.Settled(v, err)
//
// # Callbacks
//
// OnSettle registers a callback that runs once the future settles. If the
// future is already settled the callback runs immediately in the caller's
// goroutine, otherwise it runs in the goroutine that settles the future.
//
// Map derives a future of another type:
//
//	n := async.Map(f, func(v any) (int, error) { return v.(int), nil })
//
// # Concurrency Safety
//
// All methods are safe for concurrent use.
package async

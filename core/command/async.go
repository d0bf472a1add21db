package command

import (
	"context"
	"iter"

	"github.com/dmitrymomot/collidor/core/bag"
	"github.com/dmitrymomot/collidor/pkg/async"
)

// AsyncDispatcher delivers every unary result as a future and adds
// pull-based streams on top of the callback stream primitive.
//
// Example:
//
//	d := command.NewAsyncDispatcher()
//	d.RegisterAsync("Fetch", func(ctx context.Context, cmd command.Command) *async.Future[any] {
//		return async.Go(ctx, func(ctx context.Context) (any, error) {
//			return fetch(ctx, cmd.Payload)
//		})
//	})
//	v, err := d.Execute(ctx, command.New("Fetch", url)).Await(ctx)
type AsyncDispatcher struct {
	base[AsyncHandler]

	seqs            map[string]SeqHandler
	middleware      []Middleware
	asyncMiddleware []AsyncMiddleware
	queueSize       int
}

// NewAsyncDispatcher creates a dispatcher. A plugin implementing
// Installer[*AsyncDispatcher] is installed before it is returned.
func NewAsyncDispatcher(opts ...Option) *AsyncDispatcher {
	o := newOptions(opts)
	d := &AsyncDispatcher{
		base:            newBase[AsyncHandler](o),
		seqs:            make(map[string]SeqHandler),
		middleware:      o.middleware,
		asyncMiddleware: o.asyncMiddleware,
		queueSize:       o.queueSize,
	}
	d.nativeStream = d.seqStream

	if in, ok := o.plugin.(Installer[*AsyncDispatcher]); ok {
		in.Install(d)
	}
	return d
}

// Register binds a synchronous handler to name. Its result is delivered as a
// settled future.
func (d *AsyncDispatcher) Register(name string, h UnaryHandler) {
	d.register(name, chainAsync(lift(chain(h, d.middleware)), d.asyncMiddleware))
}

// RegisterAsync binds a handler returning a future to name.
func (d *AsyncDispatcher) RegisterAsync(name string, h AsyncHandler) {
	d.register(name, chainAsync(h, d.asyncMiddleware))
}

// RegisterStreamAsync binds a sequence handler to name. The handler is called
// once per StreamAsync call and must return a fresh sequence each time.
func (d *AsyncDispatcher) RegisterStreamAsync(name string, h SeqHandler) {
	d.mu.Lock()
	d.seqs[name] = h
	d.mu.Unlock()

	if obs, ok := d.plugin.(StreamRegisterObserver); ok {
		obs.OnRegisterStream(name)
	}
}

// Handler returns the local handler for name, or nil.
func (d *AsyncDispatcher) Handler(name string) AsyncHandler {
	h, _ := d.handler(name)
	return h
}

// SeqHandler returns the local sequence handler for name, or nil.
func (d *AsyncDispatcher) SeqHandler(name string) SeqHandler {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.seqs[name]
}

// Execute runs cmd and returns a future for its result.
//
// An AsyncInterceptor plugin owns the call and receives the local handler, or
// nil. Without one, the future is rejected with ErrNotFound when no handler
// is registered.
func (d *AsyncDispatcher) Execute(ctx context.Context, cmd Command) *async.Future[any] {
	ctx = bag.Ensure(ctx, d.bag)
	local := d.Handler(cmd.Name)

	var f *async.Future[any]
	switch in, ok := d.plugin.(AsyncInterceptor); {
	case ok:
		f = in.InterceptAsync(ctx, cmd, local)
	case local == nil:
		return async.Rejected[any](notFound(cmd.Name))
	default:
		f = local(ctx, cmd)
	}

	if f == nil {
		return async.Resolved[any](nil)
	}
	return f
}

// StreamAsync returns a single-pass sequence of the items produced for cmd.
//
// A registered sequence handler is iterated directly. Otherwise Stream is
// adapted through a bounded queue. The first error ends the sequence and is
// yielded to the consumer. The producer is released on every exit path,
// including an early break.
func (d *AsyncDispatcher) StreamAsync(ctx context.Context, cmd Command) iter.Seq2[any, error] {
	return func(yield func(any, error) bool) {
		ctx := bag.Ensure(ctx, d.bag)

		if h := d.SeqHandler(cmd.Name); h != nil {
			ctx, cancel := context.WithCancel(ctx)
			defer cancel()

			for v, err := range h(ctx, cmd) {
				if err != nil {
					yield(nil, err)
					return
				}
				if !yield(v, nil) {
					return
				}
			}
			return
		}

		d.pull(ctx, cmd, yield)
	}
}

type streamItem struct {
	value any
	done  bool
	err   error
}

type streamStart struct {
	cancel func()
	err    error
}

// pull adapts the callback stream for cmd into yield calls.
func (d *AsyncDispatcher) pull(ctx context.Context, cmd Command, yield func(any, error) bool) {
	ctx, cancel := context.WithCancel(ctx)
	queue := make(chan streamItem, d.queueSize)
	startc := make(chan streamStart, 1)

	push := func(v any, done bool, err error) {
		select {
		case queue <- streamItem{value: v, done: done, err: err}:
		case <-ctx.Done():
		}
	}

	// The producer may emit synchronously, so it starts on its own goroutine
	// to keep a full queue from blocking before the consumer loop runs.
	go func() {
		stop, err := d.Stream(ctx, cmd, push)
		startc <- streamStart{cancel: stop, err: err}
	}()

	var (
		stop    func()
		started bool
	)
	defer func() {
		cancel()
		if !started {
			stop = (<-startc).cancel
		}
		if stop != nil {
			stop()
		}
	}()

	for {
		select {
		case s := <-startc:
			started = true
			if s.err != nil {
				yield(nil, s.err)
				return
			}
			stop = s.cancel
			startc = nil

		case it := <-queue:
			if it.err != nil {
				yield(nil, it.err)
				return
			}
			if it.done {
				if it.value != nil {
					yield(it.value, nil)
				}
				return
			}
			if !yield(it.value, nil) {
				return
			}

		case <-ctx.Done():
			yield(nil, ctx.Err())
			return
		}
	}
}

// seqStream exposes a sequence handler through the callback stream interface.
func (d *AsyncDispatcher) seqStream(name string) StreamHandler {
	h := d.SeqHandler(name)
	if h == nil {
		return nil
	}
	return func(ctx context.Context, cmd Command, next Next) Teardown {
		go func() {
			for v, err := range h(ctx, cmd) {
				if err != nil {
					next(nil, true, err)
					return
				}
				if ctx.Err() != nil {
					return
				}
				next(v, false, nil)
			}
			next(nil, true, nil)
		}()
		return nil
	}
}

package command

import (
	"context"
	"log/slog"
	"sync"

	"github.com/dmitrymomot/collidor/core/bag"
)

// base holds the registries and stream machinery shared by SyncDispatcher and
// AsyncDispatcher. H is the unary handler signature of the variant.
type base[H any] struct {
	mu       sync.RWMutex
	handlers map[string]H
	streams  map[string]StreamHandler

	// nativeStream resolves a stream handler the variant derives from its
	// own registries. It takes precedence over the callback stream map.
	nativeStream func(name string) StreamHandler

	plugin any
	bag    *bag.Bag
	logger *slog.Logger
}

func newBase[H any](o *options) base[H] {
	return base[H]{
		handlers: make(map[string]H),
		streams:  make(map[string]StreamHandler),
		plugin:   o.plugin,
		bag:      o.bag,
		logger:   o.logger,
	}
}

// register binds h to name, replacing any previous handler.
func (b *base[H]) register(name string, h H) {
	b.mu.Lock()
	b.handlers[name] = h
	b.mu.Unlock()

	if obs, ok := b.plugin.(RegisterObserver); ok {
		obs.OnRegister(name)
	}
}

func (b *base[H]) handler(name string) (H, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	h, ok := b.handlers[name]
	return h, ok
}

// RegisterStream binds a callback stream handler to name, replacing any
// previous one.
func (b *base[H]) RegisterStream(name string, h StreamHandler) {
	b.mu.Lock()
	b.streams[name] = h
	b.mu.Unlock()

	if obs, ok := b.plugin.(StreamRegisterObserver); ok {
		obs.OnRegisterStream(name)
	}
}

// StreamHandlerFor returns the local stream handler for name, or nil. On the
// async dispatcher a sequence handler wins over a callback handler.
func (b *base[H]) StreamHandlerFor(name string) StreamHandler {
	if b.nativeStream != nil {
		if h := b.nativeStream(name); h != nil {
			return h
		}
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.streams[name]
}

// Bag returns the default bag.
func (b *base[H]) Bag() *bag.Bag { return b.bag }

// Logger returns the dispatcher logger.
func (b *base[H]) Logger() *slog.Logger { return b.logger }

// Plugin returns the configured plugin, or nil.
func (b *base[H]) Plugin() any { return b.plugin }

// Stream starts a stream for cmd and delivers its items to next.
//
// A StreamInterceptor plugin owns the call when present. Otherwise the local
// stream handler runs, and ErrNotFound is returned when there is none.
// next observes nothing after the first terminal item. The producer teardown
// runs exactly once: on completion, when the returned cancel func is called,
// or when ctx is done. No call to next starts after cancel returns; a call
// already running on another goroutine is not waited for. cancel may be
// called from inside next.
func (b *base[H]) Stream(ctx context.Context, cmd Command, next Next) (cancel func(), err error) {
	if si, ok := b.plugin.(StreamInterceptor); ok {
		return b.startStream(ctx, cmd, next, si.InterceptStream)
	}
	return b.StreamLocal(ctx, cmd, next)
}

// StreamLocal is Stream without the plugin: only local handlers are consulted.
func (b *base[H]) StreamLocal(ctx context.Context, cmd Command, next Next) (cancel func(), err error) {
	h := b.StreamHandlerFor(cmd.Name)
	if h == nil {
		return nil, notFound(cmd.Name)
	}
	return b.startStream(ctx, cmd, next, func(ctx context.Context, cmd Command, next Next) (Teardown, error) {
		return h(ctx, cmd, next), nil
	})
}

type producer func(ctx context.Context, cmd Command, next Next) (Teardown, error)

func (b *base[H]) startStream(ctx context.Context, cmd Command, next Next, produce producer) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if next == nil {
		next = func(any, bool, error) {}
	}

	ctx = bag.Ensure(ctx, b.bag)
	hctx, cancel := context.WithCancel(ctx)
	sub := newSubscription(next, cancel)

	td, err := produce(hctx, cmd, sub.deliver)
	if err != nil {
		sub.release()
		if td != nil {
			td()
		}
		return nil, err
	}
	sub.install(td)
	sub.bind(ctx)

	return sub.release, nil
}

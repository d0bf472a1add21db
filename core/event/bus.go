package event

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync"

	"github.com/dmitrymomot/collidor/core/bag"
	"github.com/dmitrymomot/collidor/core/channel"
	"github.com/dmitrymomot/collidor/core/logger"
	"github.com/dmitrymomot/collidor/pkg/codec"
)

// Bus is a publish/subscribe registry keyed by event name, optionally relayed
// over a channel.Channel.
//
// Example:
//
//	bus := event.New(event.WithChannel(endpoint))
//	defer bus.Close()
//
//	sub := bus.On(ctx, func(ctx context.Context, payload any) {
//		log.Println("user created", payload)
//	}, "UserCreated")
//	defer sub.Unsubscribe()
//
//	_ = bus.EmitByName(ctx, "UserCreated", user)
type Bus struct {
	mu        sync.RWMutex
	listeners map[string][]*Subscription
	remote    map[string]channel.Subscription
	closed    bool

	ch     channel.Channel
	codec  codec.Codec
	bag    *bag.Bag
	logger *slog.Logger
}

// New creates an event bus.
func New(opts ...Option) *Bus {
	b := &Bus{
		listeners: make(map[string][]*Subscription),
		remote:    make(map[string]channel.Subscription),
		codec:     codec.JSON,
		bag:       bag.New(nil),
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Bag returns the default bag.
func (b *Bus) Bag() *bag.Bag { return b.bag }

// Subscription is a listener registered for one or more event names.
type Subscription struct {
	bus      *Bus
	listener Listener

	mu    sync.Mutex
	names []string
	stop  func() bool
}

// Unsubscribe removes the listener from every name it is still registered for.
// Safe to call more than once.
func (s *Subscription) Unsubscribe() {
	s.bus.Off(s)
}

// Names returns the event names the listener is currently registered for.
func (s *Subscription) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.names)
}

// On registers listener for each of names. When ctx is done the listener is
// removed automatically. Names subscribed for the first time are also
// subscribed on the channel, if one is configured.
func (b *Bus) On(ctx context.Context, listener Listener, names ...string) *Subscription {
	sub := &Subscription{bus: b, listener: listener}

	var fresh []string
	b.mu.Lock()
	if !b.closed {
		for _, name := range names {
			if name == "" || slices.Contains(sub.names, name) {
				continue
			}
			if len(b.listeners[name]) == 0 {
				fresh = append(fresh, name)
			}
			b.listeners[name] = append(b.listeners[name], sub)
			sub.names = append(sub.names, name)
		}
	}
	b.mu.Unlock()

	for _, name := range fresh {
		b.subscribeRemote(name)
	}

	if len(sub.names) > 0 && ctx.Done() != nil {
		stop := context.AfterFunc(ctx, sub.Unsubscribe)
		sub.mu.Lock()
		sub.stop = stop
		sub.mu.Unlock()
	}
	return sub
}

// Off removes sub from names, or from all of its names when none are given.
// Unknown subscriptions and names are ignored. A name left without listeners
// is unsubscribed from the channel.
func (b *Bus) Off(sub *Subscription, names ...string) {
	if sub == nil {
		return
	}

	sub.mu.Lock()
	if len(names) == 0 {
		names = slices.Clone(sub.names)
	}
	sub.names = slices.DeleteFunc(sub.names, func(n string) bool { return slices.Contains(names, n) })
	var stop func() bool
	if len(sub.names) == 0 {
		stop, sub.stop = sub.stop, nil
	}
	sub.mu.Unlock()

	if stop != nil {
		stop()
	}

	var drained []channel.Subscription
	b.mu.Lock()
	for _, name := range names {
		list := b.listeners[name]
		i := slices.Index(list, sub)
		if i < 0 {
			continue
		}
		list = slices.Delete(list, i, i+1)
		if len(list) > 0 {
			b.listeners[name] = list
			continue
		}
		delete(b.listeners, name)
		if rs, ok := b.remote[name]; ok {
			drained = append(drained, rs)
			delete(b.remote, name)
		}
	}
	b.mu.Unlock()

	for _, rs := range drained {
		if err := rs.Unsubscribe(); err != nil {
			b.logger.Warn("failed to unsubscribe event topic", logger.Error(err))
		}
	}
}

// Emit delivers e to local listeners in registration order, then publishes it
// to the channel when one is configured. Listeners receive the bag attached
// to ctx, or the bus default.
func (b *Bus) Emit(ctx context.Context, e Event) error {
	if e.Name == "" {
		return ErrEmptyName
	}

	b.mu.RLock()
	closed := b.closed
	b.mu.RUnlock()
	if closed {
		return ErrClosed
	}

	ctx = bag.Ensure(ctx, b.bag)
	b.deliver(ctx, e.Name, e.Payload)

	if b.ch == nil {
		return nil
	}
	return b.publish(ctx, e)
}

// EmitByName is Emit for events known only by name. A name without
// listeners is a no-op locally.
func (b *Bus) EmitByName(ctx context.Context, name string, payload any) error {
	return b.Emit(ctx, Event{Name: name, Payload: payload})
}

// Close drops every listener and channel subscription.
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}
	b.closed = true
	var subs []*Subscription
	for _, list := range b.listeners {
		subs = append(subs, list...)
	}
	remote := b.remote
	b.listeners = make(map[string][]*Subscription)
	b.remote = make(map[string]channel.Subscription)
	b.mu.Unlock()

	for _, s := range subs {
		s.mu.Lock()
		s.names = nil
		stop := s.stop
		s.stop = nil
		s.mu.Unlock()
		if stop != nil {
			stop()
		}
	}
	for name, rs := range remote {
		if err := rs.Unsubscribe(); err != nil {
			b.logger.Warn("failed to unsubscribe event topic", logger.Event(name), logger.Error(err))
		}
	}
	return nil
}

func (b *Bus) deliver(ctx context.Context, name string, payload any) {
	b.mu.RLock()
	list := slices.Clone(b.listeners[name])
	b.mu.RUnlock()

	for _, s := range list {
		s.listener(ctx, payload)
	}
}

func (b *Bus) publish(ctx context.Context, e Event) error {
	data, err := b.codec.Marshal(envelope{
		Payload: e.Payload,
		Context: bag.FromContext(ctx).Snapshot(),
	})
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrPublish, e.Name, err)
	}
	if err := b.ch.Publish(ctx, e.Name, data); err != nil {
		b.logger.ErrorContext(ctx, "event relay failed", logger.Event(e.Name), logger.Error(err))
		return fmt.Errorf("%w: %s: %w", ErrPublish, e.Name, err)
	}
	return nil
}

func (b *Bus) subscribeRemote(name string) {
	if b.ch == nil {
		return
	}

	rs, err := b.ch.Subscribe(name, b.relay)
	if err != nil {
		b.logger.Error("failed to subscribe event topic", logger.Event(name), logger.Error(err))
		return
	}

	b.mu.Lock()
	_, exists := b.remote[name]
	stale := exists || len(b.listeners[name]) == 0 || b.closed
	if !stale {
		b.remote[name] = rs
	}
	b.mu.Unlock()

	if stale {
		_ = rs.Unsubscribe()
	}
}

// relay hands an event published by another peer to local listeners only.
func (b *Bus) relay(ctx context.Context, msg channel.Message) {
	var env inboundEnvelope
	if err := b.codec.Unmarshal(msg.Payload, &env); err != nil {
		b.logger.WarnContext(ctx, "malformed event envelope",
			logger.Event(msg.Topic),
			logger.Peer(msg.Source),
			logger.Error(err))
		return
	}

	defer func() {
		if r := recover(); r != nil {
			b.logger.ErrorContext(ctx, "event listener panicked",
				logger.Event(msg.Topic),
				slog.Any("panic", r))
		}
	}()

	ctx = bag.WithContext(ctx, bag.New(env.Context))
	var payload any
	if !env.Payload.IsNull() {
		payload = codec.NewValue(env.Payload, b.codec)
	}
	b.deliver(ctx, msg.Topic, payload)
}

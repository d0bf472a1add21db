package bridge

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/dmitrymomot/collidor/core/channel"
	"github.com/dmitrymomot/collidor/core/command"
	"github.com/dmitrymomot/collidor/core/logger"
	"github.com/dmitrymomot/collidor/pkg/async"
	"github.com/dmitrymomot/collidor/pkg/codec"
)

// Bridge is a dispatcher plugin that runs commands on other peers of a
// channel.Channel when no local handler is registered, and serves locally
// registered commands to those peers.
//
// Example:
//
//	br := bridge.New(endpoint, bridge.WithTimeout(2*time.Second))
//	defer br.Close()
//
//	d := command.NewAsyncDispatcher(command.WithPlugin(br))
//	d.Register("Sum", sum) // now callable by every peer sharing endpoint's channel
//
//	v, err := d.Execute(ctx, command.New("Resize", img)).Await(ctx) // runs remotely
type Bridge struct {
	ch      channel.Channel
	codec   codec.Codec
	timeout time.Duration
	logger  *slog.Logger

	// ctx is cancelled on Close and parents every inbound request.
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	d       *command.AsyncDispatcher
	routes  map[string]*route
	exposed map[string]*exposure
	closed  bool
}

// New creates a bridge over ch. Pass it to command.NewAsyncDispatcher via
// command.WithPlugin.
func New(ch channel.Channel, opts ...Option) *Bridge {
	ctx, cancel := context.WithCancel(context.Background())
	b := &Bridge{
		ch:      ch,
		codec:   codec.JSON,
		timeout: DefaultTimeout,
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		ctx:     ctx,
		cancel:  cancel,
		routes:  make(map[string]*route),
		exposed: make(map[string]*exposure),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.logger = b.logger.With(logger.Component("bridge"), logger.Peer(ch.PeerID()))
	return b
}

// Install binds the bridge to d. A bridge serves one dispatcher; installing
// it again rebinds it.
func (b *Bridge) Install(d *command.AsyncDispatcher) {
	b.mu.Lock()
	b.d = d
	b.mu.Unlock()
}

// OnRegister exposes name to the other peers.
func (b *Bridge) OnRegister(name string) { b.expose(name) }

// OnRegisterStream exposes name to the other peers.
func (b *Bridge) OnRegisterStream(name string) { b.expose(name) }

// InterceptAsync runs cmd locally when a handler exists and remotely otherwise.
func (b *Bridge) InterceptAsync(ctx context.Context, cmd command.Command, local command.AsyncHandler) *async.Future[any] {
	if local != nil {
		return local(ctx, cmd)
	}
	return b.call(ctx, cmd)
}

// InterceptStream streams cmd from the local handler when one exists and
// from a remote peer otherwise.
func (b *Bridge) InterceptStream(ctx context.Context, cmd command.Command, next command.Next) (command.Teardown, error) {
	if d := b.dispatcher(); d != nil {
		if h := d.StreamHandlerFor(cmd.Name); h != nil {
			return h(ctx, cmd, next), nil
		}
	}
	return b.stream(ctx, cmd, next)
}

// Stats is a snapshot of the bridge bookkeeping.
type Stats struct {
	// Routes counts command names with outbound calls in flight.
	Routes int `json:"routes"`
	// Pending counts outbound calls awaiting completion.
	Pending int `json:"pending"`
	// Exposed counts command names served to other peers.
	Exposed int `json:"exposed"`
	// Serving counts inbound requests being executed.
	Serving int `json:"serving"`
}

// Stats returns current counters.
func (b *Bridge) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := Stats{Routes: len(b.routes), Exposed: len(b.exposed)}
	for _, r := range b.routes {
		s.Pending += len(r.calls)
	}
	for _, e := range b.exposed {
		e.mu.Lock()
		s.Serving += len(e.active)
		e.mu.Unlock()
	}
	return s
}

// Close fails pending outbound calls with ErrClosed, cancels inbound
// requests and drops every channel subscription. The channel itself is left open.
func (b *Bridge) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}
	b.closed = true
	var calls []*pendingCall
	for _, r := range b.routes {
		for _, pc := range r.calls {
			calls = append(calls, pc)
		}
	}
	exposed := b.exposed
	b.exposed = make(map[string]*exposure)
	b.mu.Unlock()

	for _, pc := range calls {
		b.abort(pc, ErrClosed)
	}

	b.cancel()
	for name, e := range exposed {
		for _, s := range e.subs {
			if err := s.Unsubscribe(); err != nil {
				b.logger.Warn("failed to unsubscribe command topic", logger.Command(name), logger.Error(err))
			}
		}
	}
	return nil
}

func (b *Bridge) dispatcher() *command.AsyncDispatcher {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.d
}

func (b *Bridge) publish(ctx context.Context, topic string, v any, opts ...channel.PublishOption) error {
	data, err := b.codec.Marshal(v)
	if err != nil {
		return err
	}
	if err := b.ch.Publish(ctx, topic, data, opts...); err != nil {
		return &command.TransportError{Op: "publish", Topic: topic, Err: err}
	}
	return nil
}

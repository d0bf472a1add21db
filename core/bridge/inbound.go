package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dmitrymomot/collidor/core/bag"
	"github.com/dmitrymomot/collidor/core/channel"
	"github.com/dmitrymomot/collidor/core/command"
	"github.com/dmitrymomot/collidor/core/logger"
)

// Meta keys set on inbound requests.
const (
	MetaPeer          = "peer"
	MetaCorrelationID = "correlation_id"
)

// exposure serves one command name to other peers.
type exposure struct {
	subs []channel.Subscription

	mu     sync.Mutex
	active map[string]*serving
}

type serving struct {
	peer   string
	cancel context.CancelFunc
}

func (e *exposure) begin(id, peer string, cancel context.CancelFunc) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, dup := e.active[id]; dup {
		return false
	}
	e.active[id] = &serving{peer: peer, cancel: cancel}
	return true
}

func (e *exposure) end(id string) {
	e.mu.Lock()
	s, ok := e.active[id]
	delete(e.active, id)
	e.mu.Unlock()
	if ok {
		s.cancel()
	}
}

// stop cancels the request id if it was sent by peer.
func (e *exposure) stop(id, peer string) bool {
	e.mu.Lock()
	s, ok := e.active[id]
	e.mu.Unlock()
	if !ok || s.peer != peer {
		return false
	}
	s.cancel()
	return true
}

// expose subscribes the request and unsubscribe topics of name once.
func (b *Bridge) expose(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.exposed[name]; ok || b.closed {
		return
	}

	e := &exposure{active: make(map[string]*serving)}
	subs, err := b.subscribeAll(name, map[string]channel.Handler{
		name:                   b.onRequest(name, e),
		unsubscribeTopic(name): b.onUnsubscribe(name, e),
	})
	if err != nil {
		return
	}
	e.subs = subs
	b.exposed[name] = e
	b.logger.Debug("command exposed", logger.Command(name))
}

func (b *Bridge) onRequest(name string, e *exposure) channel.Handler {
	return func(ctx context.Context, msg channel.Message) {
		var req inboundRequest
		if err := b.codec.Unmarshal(msg.Payload, &req); err != nil {
			b.malformed(ctx, msg, err)
			return
		}
		if req.ID == "" {
			b.malformed(ctx, msg, errors.New("missing id"))
			return
		}

		rctx, cancel := context.WithCancel(b.ctx)
		if !e.begin(req.ID, msg.Source, cancel) {
			cancel()
			b.logger.DebugContext(ctx, "ignoring duplicate request",
				logger.Command(name),
				logger.CorrelationID(req.ID))
			return
		}

		if err := b.publish(ctx, ackTopic(name), signal{ID: req.ID},
			channel.SingleConsumer(), channel.Target(msg.Source)); err != nil {
			b.logger.WarnContext(ctx, "failed to acknowledge command",
				logger.Command(name),
				logger.CorrelationID(req.ID),
				logger.Error(err))
		}

		go b.serve(rctx, name, e, req, msg.Source)
	}
}

// onUnsubscribe cancels a request its sender no longer waits for.
func (b *Bridge) onUnsubscribe(name string, e *exposure) channel.Handler {
	return func(ctx context.Context, msg channel.Message) {
		var s signal
		if err := b.codec.Unmarshal(msg.Payload, &s); err != nil {
			b.malformed(ctx, msg, err)
			return
		}
		if e.stop(s.ID, msg.Source) {
			b.logger.DebugContext(ctx, "request cancelled by peer",
				logger.Command(name),
				logger.CorrelationID(s.ID),
				logger.Peer(msg.Source))
		}
	}
}

// serve runs an inbound request and publishes its responses to peer.
// Names with a stream handler are served as streams, others as unary calls.
func (b *Bridge) serve(ctx context.Context, name string, e *exposure, req inboundRequest, peer string) {
	defer e.end(req.ID)
	start := time.Now()

	reply := func(v any, done bool, err error) {
		resp := response{ID: req.ID, Done: done, Error: toWireError(err)}
		if err == nil {
			resp.Payload = v
		}
		if perr := b.publish(ctx, responseTopic(name), resp,
			channel.SingleConsumer(), channel.Target(peer)); perr != nil {
			b.logger.WarnContext(ctx, "failed to publish response",
				logger.Command(name),
				logger.CorrelationID(req.ID),
				logger.Error(perr))
		}
	}

	defer func() {
		if r := recover(); r != nil {
			b.logger.ErrorContext(ctx, "command handler panicked",
				logger.Command(name),
				logger.CorrelationID(req.ID),
				slog.Any("panic", r))
			reply(nil, true, fmt.Errorf("%w: %v", command.ErrPanic, r))
		}
	}()

	d := b.dispatcher()
	if d == nil {
		reply(nil, true, fmt.Errorf("%w: %s", command.ErrNotFound, name))
		return
	}

	ctx = bag.Ensure(ctx, d.Bag())
	ctx = command.WithMeta(ctx, command.Meta{MetaPeer: peer, MetaCorrelationID: req.ID})
	cmd := command.Command{ID: req.ID, Name: name, Payload: value(req.Payload, b.codec)}

	if d.StreamHandlerFor(name) != nil {
		cmd.Kind = command.KindStream
		b.serveStream(ctx, d, cmd, reply)
	} else if h := d.Handler(name); h != nil {
		b.serveUnary(ctx, h, cmd, reply)
	} else {
		reply(nil, true, fmt.Errorf("%w: %s", command.ErrNotFound, name))
		return
	}

	if ctx.Err() != nil && b.ctx.Err() != nil {
		// The bridge closed mid-request; the sender would otherwise wait forever.
		b.release(name, req.ID, peer)
	}
	b.logger.DebugContext(ctx, "command served",
		logger.Command(name),
		logger.CorrelationID(req.ID),
		logger.Peer(peer),
		logger.Elapsed(start))
}

func (b *Bridge) serveUnary(ctx context.Context, h command.AsyncHandler, cmd command.Command, reply command.Next) {
	f := h(ctx, cmd)
	if f == nil {
		reply(nil, true, nil)
		return
	}
	v, err := f.Await(ctx)
	if ctx.Err() != nil {
		return
	}
	reply(v, true, err)
}

func (b *Bridge) serveStream(ctx context.Context, d *command.AsyncDispatcher, cmd command.Command, reply command.Next) {
	finished := make(chan struct{})
	var once sync.Once

	stop, err := d.StreamLocal(ctx, cmd, func(v any, done bool, err error) {
		terminal := done || err != nil
		reply(v, terminal, err)
		if terminal {
			once.Do(func() { close(finished) })
		}
	})
	if err != nil {
		reply(nil, true, err)
		return
	}
	defer stop()

	select {
	case <-finished:
	case <-ctx.Done():
	}
}

// release tells peer that request id will not be completed.
func (b *Bridge) release(name, id, peer string) {
	ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
	defer cancel()

	if err := b.publish(ctx, unsubscribeTopic(name), signal{ID: id}, channel.Target(peer)); err != nil {
		b.logger.Warn("failed to release request",
			logger.Command(name),
			logger.CorrelationID(id),
			logger.Error(err))
	}
}

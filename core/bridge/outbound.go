package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/collidor/core/channel"
	"github.com/dmitrymomot/collidor/core/command"
	"github.com/dmitrymomot/collidor/core/logger"
	"github.com/dmitrymomot/collidor/pkg/async"
)

type callState int

const (
	callPending callState = iota
	callAcked
	callFinished
)

// route multiplexes the outbound calls of one command name over a single
// set of reply subscriptions.
type route struct {
	name  string
	calls map[string]*pendingCall
	subs  []channel.Subscription
}

type pendingCall struct {
	id     string
	name   string
	stream bool
	route  *route

	// deliver receives intermediate items of streams and the terminal outcome.
	deliver func(v any, done bool, err error)
	// discard runs instead of a terminal delivery when the caller went away.
	discard func()

	mu     sync.Mutex
	state  callState
	timer  *time.Timer
	peer   string
	stopFn func() bool
}

// acknowledge records the responding peer and stops the acknowledgement timer.
func (pc *pendingCall) acknowledge(peer string) {
	pc.mu.Lock()
	defer pc.mu.Unlock()

	if pc.state != callPending {
		return
	}
	pc.state = callAcked
	pc.peer = peer
	if pc.timer != nil {
		pc.timer.Stop()
	}
}

func (pc *pendingCall) item(v any) {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	if pc.state == callFinished || !pc.stream {
		return
	}
	pc.deliver(v, false, nil)
}

type finishMode struct {
	onlyPending bool
	notify      bool
	deliver     bool
}

// call runs cmd on a remote peer.
func (b *Bridge) call(ctx context.Context, cmd command.Command) *async.Future[any] {
	if err := ctx.Err(); err != nil {
		return async.Rejected[any](err)
	}

	f := async.NewFuture[any]()
	pc := &pendingCall{
		id:   uuid.NewString(),
		name: cmd.Name,
		deliver: func(v any, done bool, err error) {
			if err != nil {
				f.Reject(err)
				return
			}
			f.Resolve(v)
		},
	}
	if err := b.start(ctx, pc, cmd); err != nil {
		f.Reject(err)
		return f
	}

	if ctx.Done() != nil {
		stop := context.AfterFunc(ctx, func() {
			b.finish(pc, finishMode{notify: true, deliver: true}, nil, ctx.Err())
		})
		pc.mu.Lock()
		finished := pc.state == callFinished
		if !finished {
			pc.stopFn = stop
		}
		pc.mu.Unlock()
		if finished {
			stop()
		}
	}
	return f
}

type streamItem struct {
	value any
	done  bool
	err   error
}

// stream runs cmd as a stream on a remote peer. Items are handed to next from
// a dedicated goroutine so the channel is never blocked by the consumer.
func (b *Bridge) stream(ctx context.Context, cmd command.Command, next command.Next) (command.Teardown, error) {
	var box *channel.Mailbox[streamItem]
	box = channel.NewMailbox(func(it streamItem) {
		next(it.value, it.done, it.err)
		if it.done || it.err != nil {
			box.Close()
		}
	})

	pc := &pendingCall{
		id:     uuid.NewString(),
		name:   cmd.Name,
		stream: true,
		deliver: func(v any, done bool, err error) {
			box.Push(streamItem{value: v, done: done, err: err})
		},
		discard: box.Close,
	}
	if err := b.start(ctx, pc, cmd); err != nil {
		box.Close()
		return nil, err
	}

	return func() {
		b.finish(pc, finishMode{notify: true}, nil, nil)
	}, nil
}

// start registers pc, arms the acknowledgement timer and publishes the request.
func (b *Bridge) start(ctx context.Context, pc *pendingCall, cmd command.Command) error {
	if err := b.track(pc); err != nil {
		return err
	}

	pc.mu.Lock()
	pc.timer = time.AfterFunc(b.timeout, func() { b.expire(pc) })
	pc.mu.Unlock()

	err := b.publish(ctx, cmd.Name, request{ID: pc.id, Payload: cmd.Payload}, channel.SingleConsumer())
	if err == nil {
		b.logger.DebugContext(ctx, "command sent",
			logger.Command(cmd.Name),
			logger.CorrelationID(pc.id))
		return nil
	}

	var te *command.TransportError
	if !errors.As(err, &te) {
		err = fmt.Errorf("%w: %s: %w", command.ErrInvalidPayload, cmd.Name, err)
	}
	b.finish(pc, finishMode{}, nil, nil)
	return err
}

// expire fails a call that was neither acknowledged nor answered in time.
func (b *Bridge) expire(pc *pendingCall) {
	err := fmt.Errorf("%w: %s after %s", command.ErrTimeout, pc.name, b.timeout)
	if b.finish(pc, finishMode{onlyPending: true, notify: true, deliver: true}, nil, err) {
		b.logger.Warn("command timed out",
			logger.Command(pc.name),
			logger.CorrelationID(pc.id),
			logger.Timeout(b.timeout))
	}
}

// abort fails pc with err and tells the executing peer to stop.
func (b *Bridge) abort(pc *pendingCall, err error) {
	b.finish(pc, finishMode{notify: true, deliver: true}, nil, err)
}

// finish completes pc exactly once: it is removed from its route, the peer is
// optionally told to unsubscribe, then the outcome is optionally delivered.
// Reports whether this call completed pc.
func (b *Bridge) finish(pc *pendingCall, how finishMode, v any, err error) bool {
	pc.mu.Lock()
	if pc.state == callFinished || (how.onlyPending && pc.state != callPending) {
		pc.mu.Unlock()
		return false
	}
	pc.state = callFinished
	if pc.timer != nil {
		pc.timer.Stop()
	}
	stop, peer := pc.stopFn, pc.peer
	pc.mu.Unlock()

	if stop != nil {
		stop()
	}
	b.untrack(pc)

	if how.notify {
		b.unsubscribe(pc, peer)
	}
	switch {
	case how.deliver:
		pc.deliver(v, true, err)
	case pc.discard != nil:
		pc.discard()
	}
	return true
}

// unsubscribe asks the peer executing pc to stop. Without a known peer the
// notice goes to every subscriber of the topic.
func (b *Bridge) unsubscribe(pc *pendingCall, peer string) {
	ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
	defer cancel()

	if err := b.publish(ctx, unsubscribeTopic(pc.name), signal{ID: pc.id}, channel.Target(peer)); err != nil {
		b.logger.Warn("failed to publish unsubscribe",
			logger.Command(pc.name),
			logger.CorrelationID(pc.id),
			logger.Error(err))
	}
}

func (b *Bridge) track(pc *pendingCall) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrClosed
	}

	r, ok := b.routes[pc.name]
	if !ok {
		r = &route{name: pc.name, calls: make(map[string]*pendingCall)}
		subs, err := b.subscribeAll(pc.name, map[string]channel.Handler{
			responseTopic(pc.name):    b.onResponse(r),
			ackTopic(pc.name):         b.onAck(r),
			unsubscribeTopic(pc.name): b.onPeerUnsubscribe(r),
		})
		if err != nil {
			return err
		}
		r.subs = subs
		b.routes[pc.name] = r
	}
	r.calls[pc.id] = pc
	pc.route = r
	return nil
}

// untrack removes pc and drops the route once it has no calls left.
func (b *Bridge) untrack(pc *pendingCall) {
	b.mu.Lock()
	r := pc.route
	if r == nil {
		b.mu.Unlock()
		return
	}
	delete(r.calls, pc.id)
	var subs []channel.Subscription
	if len(r.calls) == 0 && b.routes[r.name] == r {
		delete(b.routes, r.name)
		subs = r.subs
	}
	b.mu.Unlock()

	for _, s := range subs {
		if err := s.Unsubscribe(); err != nil {
			b.logger.Warn("failed to drop reply subscription", logger.Command(pc.name), logger.Error(err))
		}
	}
}

// lookup finds a call of r. Handlers of a route that was already replaced
// find nothing, so a reply is never delivered twice.
func (b *Bridge) lookup(r *route, id string) *pendingCall {
	b.mu.Lock()
	defer b.mu.Unlock()
	return r.calls[id]
}

// subscribeAll subscribes every topic in handlers. On failure the
// subscriptions already made are dropped.
func (b *Bridge) subscribeAll(name string, handlers map[string]channel.Handler) ([]channel.Subscription, error) {
	subs := make([]channel.Subscription, 0, len(handlers))
	for topic, h := range handlers {
		s, err := b.ch.Subscribe(topic, h)
		if err != nil {
			for _, s := range subs {
				_ = s.Unsubscribe()
			}
			b.logger.Error("failed to subscribe", logger.Command(name), logger.Topic(topic), logger.Error(err))
			return nil, &command.TransportError{Op: "subscribe", Topic: topic, Err: err}
		}
		subs = append(subs, s)
	}
	return subs, nil
}

func (b *Bridge) onAck(r *route) channel.Handler {
	name := r.name
	return func(ctx context.Context, msg channel.Message) {
		var s signal
		if err := b.codec.Unmarshal(msg.Payload, &s); err != nil {
			b.malformed(ctx, msg, err)
			return
		}
		pc := b.lookup(r, s.ID)
		if pc == nil {
			b.logger.DebugContext(ctx, "discarding acknowledgement for unknown call",
				logger.Command(name),
				logger.CorrelationID(s.ID),
				logger.Peer(msg.Source))
			return
		}
		pc.acknowledge(msg.Source)
	}
}

func (b *Bridge) onResponse(r *route) channel.Handler {
	name := r.name
	return func(ctx context.Context, msg channel.Message) {
		var resp inboundResponse
		if err := b.codec.Unmarshal(msg.Payload, &resp); err != nil {
			b.malformed(ctx, msg, err)
			return
		}
		pc := b.lookup(r, resp.ID)
		if pc == nil {
			b.logger.DebugContext(ctx, "discarding response for unknown call",
				logger.Command(name),
				logger.CorrelationID(resp.ID),
				logger.Peer(msg.Source))
			return
		}
		pc.acknowledge(msg.Source)

		switch {
		case resp.Error != nil:
			b.finish(pc, finishMode{deliver: true}, nil, resp.Error.remote(name))
		case resp.Done:
			b.finish(pc, finishMode{deliver: true}, value(resp.Payload, b.codec), nil)
		default:
			pc.item(value(resp.Payload, b.codec))
		}
	}
}

// onPeerUnsubscribe fails a call the executing peer gave up on.
func (b *Bridge) onPeerUnsubscribe(r *route) channel.Handler {
	name := r.name
	return func(ctx context.Context, msg channel.Message) {
		var s signal
		if err := b.codec.Unmarshal(msg.Payload, &s); err != nil {
			b.malformed(ctx, msg, err)
			return
		}
		if pc := b.lookup(r, s.ID); pc != nil {
			b.finish(pc, finishMode{deliver: true}, nil, fmt.Errorf("%w: %s", command.ErrCanceled, name))
		}
	}
}

func (b *Bridge) malformed(ctx context.Context, msg channel.Message, err error) {
	b.logger.WarnContext(ctx, "malformed envelope",
		logger.Topic(msg.Topic),
		logger.Peer(msg.Source),
		logger.Error(fmt.Errorf("%w: %w", ErrMalformed, err)))
}

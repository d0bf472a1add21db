package pg

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dmitrymomot/collidor/core/channel"
	"github.com/dmitrymomot/collidor/core/logger"
)

const (
	// maxIdentifier is the PostgreSQL identifier length limit.
	maxIdentifier = 63
	// maxPayload is the pg_notify payload limit.
	maxPayload = 7999

	maxRetryInterval = time.Minute
)

// envelope wraps every payload sent with pg_notify. Notification payloads
// must be text, so the envelope is always JSON.
type envelope struct {
	Source  string `json:"source"`
	Target  string `json:"target,omitempty"`
	Payload []byte `json:"payload"`
}

// Channel is a channel.Channel over PostgreSQL LISTEN/NOTIFY.
//
// Notifications are published through the pool and received on one
// dedicated connection that is re-established, with every channel listened
// again, when it drops. Notifications sent while it is down are lost.
// PostgreSQL fans out every notification, so SingleConsumer is not enforced.
type Channel struct {
	pool          *pgxpool.Pool
	id            string
	prefix        string
	listenTimeout time.Duration
	retryInterval time.Duration
	logger        *slog.Logger

	mu     sync.RWMutex
	subs   map[string][]*subscription // keyed by notification channel
	closed bool

	wake    chan struct{}
	waitMu  sync.Mutex
	waiters []chan error

	inbox  *channel.Mailbox[channel.Message]
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

var _ channel.Channel = (*Channel)(nil)

// New starts a channel on pool. The pool stays owned by the caller.
func New(pool *pgxpool.Pool, opts ...Option) *Channel {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Channel{
		pool:          pool,
		id:            uuid.NewString(),
		listenTimeout: 5 * time.Second,
		retryInterval: time.Second,
		logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
		subs:          make(map[string][]*subscription),
		wake:          make(chan struct{}, 1),
		ctx:           ctx,
		cancel:        cancel,
		done:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With(logger.Component("pg-channel"), logger.Peer(c.id))
	c.inbox = channel.NewMailbox(c.dispatch)

	go c.listen()
	return c
}

// PeerID returns this peer's identity.
func (c *Channel) PeerID() string { return c.id }

// Publish sends payload with pg_notify. When ctx carries a transaction
// (see WithTx) the notification is sent inside it.
func (c *Channel) Publish(ctx context.Context, topic string, payload []byte, opts ...channel.PublishOption) error {
	if topic == "" {
		return channel.ErrEmptyTopic
	}
	if c.isClosed() {
		return channel.ErrClosed
	}

	o := channel.ApplyOptions(opts...)
	data, err := json.Marshal(envelope{Source: c.id, Target: o.Target, Payload: payload})
	if err != nil {
		return err
	}
	if len(data) > maxPayload {
		return ErrPayloadTooLarge
	}

	const q = `SELECT pg_notify($1, $2)`
	name := c.channelName(topic)
	if tx, ok := TxFromContext(ctx); ok {
		_, err = tx.Exec(ctx, q, name, string(data))
	} else {
		_, err = c.pool.Exec(ctx, q, name, string(data))
	}
	return err
}

// Subscribe registers h for topic and returns once the listener connection
// is listening on it.
func (c *Channel) Subscribe(topic string, h channel.Handler) (channel.Subscription, error) {
	if topic == "" {
		return nil, channel.ErrEmptyTopic
	}

	name := c.channelName(topic)
	s := &subscription{ch: c, name: name, topic: topic, handler: h}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, channel.ErrClosed
	}
	c.subs[name] = append(c.subs[name], s)
	c.mu.Unlock()

	reply := make(chan error, 1)
	c.waitMu.Lock()
	c.waiters = append(c.waiters, reply)
	c.waitMu.Unlock()
	c.signal()

	timer := time.NewTimer(c.listenTimeout)
	defer timer.Stop()

	select {
	case err := <-reply:
		if err != nil {
			_ = s.Unsubscribe()
			return nil, errors.Join(ErrListen, err)
		}
		return s, nil
	case <-timer.C:
		_ = s.Unsubscribe()
		return nil, ErrListenTimeout
	case <-c.ctx.Done():
		return nil, channel.ErrClosed
	}
}

// Close stops the listener and drops every subscription.
func (c *Channel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return channel.ErrClosed
	}
	c.closed = true
	c.subs = make(map[string][]*subscription)
	c.mu.Unlock()

	c.cancel()
	<-c.done
	c.inbox.Close()
	return nil
}

// channelName maps a topic to a notification channel name. Names over the
// identifier limit are replaced by a digest so every peer derives the same one.
func (c *Channel) channelName(topic string) string {
	name := c.prefix + topic
	if len(name) <= maxIdentifier {
		return name
	}
	sum := sha256.Sum256([]byte(name))
	return "c_" + hex.EncodeToString(sum[:])[:40]
}

func (c *Channel) isClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}

func (c *Channel) signal() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

func (c *Channel) takeWaiters() []chan error {
	c.waitMu.Lock()
	defer c.waitMu.Unlock()
	w := c.waiters
	c.waiters = nil
	return w
}

// listen owns the listener connection until Close.
func (c *Channel) listen() {
	defer close(c.done)

	var (
		conn      *pgx.Conn
		listening = make(map[string]bool)
		delay     = c.retryInterval
	)
	defer func() {
		if conn != nil {
			_ = conn.Close(context.Background())
		}
	}()

	for c.ctx.Err() == nil {
		if conn == nil {
			var err error
			conn, err = pgx.ConnectConfig(c.ctx, c.pool.Config().ConnConfig)
			if err != nil {
				if c.ctx.Err() != nil {
					return
				}
				c.logger.Warn("listener connection failed", logger.Error(err), logger.Duration(delay))
				select {
				case <-c.ctx.Done():
					return
				case <-time.After(delay):
				}
				delay = min(delay*2, maxRetryInterval)
				continue
			}
			delay = c.retryInterval
			clear(listening)
		}

		waiters := c.takeWaiters()
		err := c.sync(conn, listening)
		for _, w := range waiters {
			w <- err
		}
		if err != nil {
			c.logger.Error("failed to update listened channels", logger.Error(err))
			_ = conn.Close(context.Background())
			conn = nil
			continue
		}

		if err := c.wait(conn); err != nil && c.ctx.Err() == nil && conn.IsClosed() {
			c.logger.Warn("listener connection lost, reconnecting", logger.Error(err))
			conn = nil
		}
	}
}

// sync issues LISTEN and UNLISTEN so the connection matches the subscriptions.
func (c *Channel) sync(conn *pgx.Conn, listening map[string]bool) error {
	c.mu.RLock()
	want := make(map[string]bool, len(c.subs))
	for name := range c.subs {
		want[name] = true
	}
	c.mu.RUnlock()

	ctx, cancel := context.WithTimeout(c.ctx, c.listenTimeout)
	defer cancel()

	for name := range want {
		if listening[name] {
			continue
		}
		if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{name}.Sanitize()); err != nil {
			return err
		}
		listening[name] = true
	}
	for name := range listening {
		if want[name] {
			continue
		}
		if _, err := conn.Exec(ctx, "UNLISTEN "+pgx.Identifier{name}.Sanitize()); err != nil {
			return err
		}
		delete(listening, name)
	}
	return nil
}

// wait delivers notifications until the subscriptions change, the
// connection fails or the channel closes.
func (c *Channel) wait(conn *pgx.Conn) error {
	ctx, cancel := context.WithCancel(c.ctx)
	defer cancel()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-c.wake:
			cancel()
		case <-stop:
		}
	}()

	for {
		n, err := conn.WaitForNotification(ctx)
		if err != nil {
			return err
		}
		c.deliver(n)
	}
}

func (c *Channel) deliver(n *pgconn.Notification) {
	var env envelope
	if err := json.Unmarshal([]byte(n.Payload), &env); err != nil {
		c.logger.Warn("malformed notification", logger.Topic(n.Channel), logger.Error(err))
		return
	}
	if env.Source == c.id || (env.Target != "" && env.Target != c.id) {
		return
	}

	c.mu.RLock()
	subs := c.subs[n.Channel]
	var topic string
	if len(subs) > 0 {
		topic = subs[0].topic
	}
	c.mu.RUnlock()
	if topic == "" {
		return
	}

	c.inbox.Push(channel.Message{Topic: topic, Payload: env.Payload, Source: env.Source})
}

func (c *Channel) dispatch(msg channel.Message) {
	name := c.channelName(msg.Topic)
	c.mu.RLock()
	subs := slices.Clone(c.subs[name])
	c.mu.RUnlock()

	for _, s := range subs {
		if s.active() {
			s.handler(c.ctx, msg)
		}
	}
}

func (c *Channel) remove(s *subscription) {
	c.mu.Lock()
	subs := c.subs[s.name]
	if i := slices.Index(subs, s); i >= 0 {
		subs = slices.Delete(subs, i, i+1)
	}
	last := len(subs) == 0
	if last {
		delete(c.subs, s.name)
	} else {
		c.subs[s.name] = subs
	}
	c.mu.Unlock()

	if last {
		c.signal()
	}
}

type subscription struct {
	ch      *Channel
	name    string
	topic   string
	handler channel.Handler

	once    sync.Once
	mu      sync.RWMutex
	removed bool
}

func (s *subscription) active() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return !s.removed
}

// Unsubscribe stops delivery to the handler.
func (s *subscription) Unsubscribe() error {
	s.once.Do(func() {
		s.mu.Lock()
		s.removed = true
		s.mu.Unlock()
		s.ch.remove(s)
	})
	return nil
}

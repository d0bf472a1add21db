package redis

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/dmitrymomot/collidor/core/channel"
	"github.com/dmitrymomot/collidor/core/logger"
	"github.com/dmitrymomot/collidor/pkg/codec"
)

// envelope wraps every payload published on Redis.
type envelope struct {
	Source  string `json:"source" msgpack:"source"`
	Target  string `json:"target,omitempty" msgpack:"target,omitempty"`
	Payload []byte `json:"payload" msgpack:"payload"`
}

// Channel is a channel.Channel over Redis pub/sub. All subscriptions share a
// single PubSub connection.
//
// Redis delivers every message to all subscribers, so SingleConsumer is not
// enforced; Target is filtered on the receiving side.
type Channel struct {
	client *redis.Client
	pubsub *redis.PubSub
	id     string
	prefix string
	codec  codec.Codec
	logger *slog.Logger

	mu     sync.RWMutex
	subs   map[string][]*subscription
	closed bool

	inbox  *channel.Mailbox[channel.Message]
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

var _ channel.Channel = (*Channel)(nil)

// New starts a channel on client. The client stays owned by the caller.
func New(client *redis.Client, opts ...Option) *Channel {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Channel{
		client: client,
		id:     uuid.NewString(),
		codec:  codec.Msgpack,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		subs:   make(map[string][]*subscription),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With(logger.Component("redis-channel"), logger.Peer(c.id))
	c.inbox = channel.NewMailbox(c.dispatch)
	c.pubsub = client.Subscribe(ctx)

	go c.receive()
	return c
}

// PeerID returns this peer's identity.
func (c *Channel) PeerID() string { return c.id }

// Publish sends payload to every peer subscribed to topic.
func (c *Channel) Publish(ctx context.Context, topic string, payload []byte, opts ...channel.PublishOption) error {
	if topic == "" {
		return channel.ErrEmptyTopic
	}
	if c.isClosed() {
		return channel.ErrClosed
	}

	o := channel.ApplyOptions(opts...)
	data, err := c.codec.Marshal(envelope{Source: c.id, Target: o.Target, Payload: payload})
	if err != nil {
		return err
	}
	return c.client.Publish(ctx, c.prefix+topic, data).Err()
}

// Subscribe registers h for topic. The Redis channel is subscribed on the
// first handler and unsubscribed with the last.
func (c *Channel) Subscribe(topic string, h channel.Handler) (channel.Subscription, error) {
	if topic == "" {
		return nil, channel.ErrEmptyTopic
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, channel.ErrClosed
	}

	if len(c.subs[topic]) == 0 {
		if err := c.pubsub.Subscribe(c.ctx, c.prefix+topic); err != nil {
			return nil, errors.Join(ErrSubscribe, err)
		}
	}
	s := &subscription{ch: c, topic: topic, handler: h}
	c.subs[topic] = append(c.subs[topic], s)
	return s, nil
}

// Close stops delivery and closes the PubSub connection.
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
	err := c.pubsub.Close()
	<-c.done
	c.inbox.Close()
	return err
}

func (c *Channel) isClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}

// receive decodes Redis messages and queues those meant for this peer.
func (c *Channel) receive() {
	defer close(c.done)

	for msg := range c.pubsub.Channel() {
		var env envelope
		if err := c.codec.Unmarshal([]byte(msg.Payload), &env); err != nil {
			c.logger.Warn("malformed redis envelope", logger.Topic(msg.Channel), logger.Error(err))
			continue
		}
		if env.Source == c.id || (env.Target != "" && env.Target != c.id) {
			continue
		}
		c.inbox.Push(channel.Message{
			Topic:   strings.TrimPrefix(msg.Channel, c.prefix),
			Payload: env.Payload,
			Source:  env.Source,
		})
	}
}

func (c *Channel) dispatch(msg channel.Message) {
	c.mu.RLock()
	subs := slices.Clone(c.subs[msg.Topic])
	c.mu.RUnlock()

	for _, s := range subs {
		if s.active() {
			s.handler(c.ctx, msg)
		}
	}
}

func (c *Channel) remove(s *subscription) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	subs := c.subs[s.topic]
	i := slices.Index(subs, s)
	if i < 0 {
		return nil
	}
	subs = slices.Delete(subs, i, i+1)
	if len(subs) > 0 {
		c.subs[s.topic] = subs
		return nil
	}
	delete(c.subs, s.topic)
	return c.pubsub.Unsubscribe(c.ctx, c.prefix+s.topic)
}

type subscription struct {
	ch      *Channel
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
	var err error
	s.once.Do(func() {
		s.mu.Lock()
		s.removed = true
		s.mu.Unlock()
		err = s.ch.remove(s)
	})
	return err
}

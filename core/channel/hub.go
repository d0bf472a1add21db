package channel

import (
	"context"
	"io"
	"log/slog"
	"slices"
	"sync"

	"github.com/google/uuid"

	"github.com/dmitrymomot/collidor/core/logger"
)

// Hub is an in-memory message switch connecting peers of one process.
// It is the reference Channel implementation and the transport used in tests.
//
// Example:
//
//	hub := channel.NewHub()
//	defer hub.Close()
//
//	a := hub.Connect("a")
//	b := hub.Connect("b")
//	b.Subscribe("greet", func(ctx context.Context, msg channel.Message) { ... })
//	a.Publish(ctx, "greet", []byte("hi"))
type Hub struct {
	mu     sync.RWMutex
	peers  map[string]*Endpoint
	rr     map[string]int
	drop   func(msg Message, to string) bool
	logger *slog.Logger
	closed bool
}

// HubOption configures a Hub.
type HubOption func(*Hub)

// WithHubLogger configures structured logging for the hub.
func WithHubLogger(l *slog.Logger) HubOption {
	return func(h *Hub) {
		if l != nil {
			h.logger = l
		}
	}
}

// WithDropFilter installs fn to decide which deliveries are silently lost.
func WithDropFilter(fn func(msg Message, to string) bool) HubOption {
	return func(h *Hub) { h.drop = fn }
}

// NewHub creates an empty hub.
func NewHub(opts ...HubOption) *Hub {
	h := &Hub{
		peers:  make(map[string]*Endpoint),
		rr:     make(map[string]int),
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// SetDropFilter replaces the drop filter. A nil fn delivers everything.
func (h *Hub) SetDropFilter(fn func(msg Message, to string) bool) {
	h.mu.Lock()
	h.drop = fn
	h.mu.Unlock()
}

// Connect attaches a new peer. An empty id is replaced with a random one.
// Connecting an id that is already attached replaces the previous endpoint.
func (h *Hub) Connect(id string) *Endpoint {
	if id == "" {
		id = uuid.NewString()
	}

	ctx, cancel := context.WithCancel(context.Background())
	e := &Endpoint{
		hub:    h,
		id:     id,
		subs:   make(map[string][]*hubSubscription),
		ctx:    ctx,
		cancel: cancel,
	}
	e.inbox = NewMailbox(e.dispatch)

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		e.close()
		return e
	}
	prev := h.peers[id]
	h.peers[id] = e
	h.mu.Unlock()

	if prev != nil {
		prev.close()
	}
	h.logger.Debug("peer connected", logger.Peer(id))
	return e
}

// Close disconnects every peer.
func (h *Hub) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return ErrClosed
	}
	h.closed = true
	peers := h.peers
	h.peers = make(map[string]*Endpoint)
	h.mu.Unlock()

	for _, e := range peers {
		e.close()
	}
	return nil
}

func (h *Hub) route(msg Message, o PublishOptions) error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return ErrClosed
	}

	var targets []*Endpoint
	if o.Target != "" {
		if e, ok := h.peers[o.Target]; ok && o.Target != msg.Source && e.subscribed(msg.Topic) {
			targets = append(targets, e)
		}
	} else {
		ids := make([]string, 0, len(h.peers))
		for id, e := range h.peers {
			if id != msg.Source && e.subscribed(msg.Topic) {
				ids = append(ids, id)
			}
		}
		slices.Sort(ids)

		if o.SingleConsumer && len(ids) > 0 {
			n := h.rr[msg.Topic]
			h.rr[msg.Topic] = n + 1
			ids = ids[n%len(ids) : n%len(ids)+1]
		}
		for _, id := range ids {
			targets = append(targets, h.peers[id])
		}
	}
	drop := h.drop
	h.mu.Unlock()

	for _, e := range targets {
		if drop != nil && drop(msg, e.id) {
			h.logger.Debug("message dropped", logger.Topic(msg.Topic), logger.Peer(e.id))
			continue
		}
		e.inbox.Push(msg)
	}
	return nil
}

func (h *Hub) leave(e *Endpoint) {
	h.mu.Lock()
	if h.peers[e.id] == e {
		delete(h.peers, e.id)
	}
	h.mu.Unlock()
}

// Endpoint is one peer attached to a Hub. It implements Channel.
type Endpoint struct {
	hub *Hub
	id  string

	mu     sync.RWMutex
	subs   map[string][]*hubSubscription
	closed bool

	inbox  *Mailbox[Message]
	ctx    context.Context
	cancel context.CancelFunc
}

var _ Channel = (*Endpoint)(nil)

// PeerID returns the endpoint id.
func (e *Endpoint) PeerID() string { return e.id }

// Publish routes payload through the hub.
func (e *Endpoint) Publish(ctx context.Context, topic string, payload []byte, opts ...PublishOption) error {
	if topic == "" {
		return ErrEmptyTopic
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	e.mu.RLock()
	closed := e.closed
	e.mu.RUnlock()
	if closed {
		return ErrClosed
	}

	msg := Message{Topic: topic, Payload: slices.Clone(payload), Source: e.id}
	return e.hub.route(msg, ApplyOptions(opts...))
}

// Subscribe registers fn for topic.
func (e *Endpoint) Subscribe(topic string, fn Handler) (Subscription, error) {
	if topic == "" {
		return nil, ErrEmptyTopic
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, ErrClosed
	}

	sub := &hubSubscription{endpoint: e, topic: topic, handler: fn}
	e.subs[topic] = append(e.subs[topic], sub)
	return sub, nil
}

// Close detaches the endpoint from the hub.
func (e *Endpoint) Close() error {
	e.close()
	return nil
}

func (e *Endpoint) close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	e.subs = make(map[string][]*hubSubscription)
	e.mu.Unlock()

	e.hub.leave(e)
	e.cancel()
	e.inbox.Close()
}

func (e *Endpoint) subscribed(topic string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.subs[topic]) > 0
}

func (e *Endpoint) dispatch(msg Message) {
	e.mu.RLock()
	subs := slices.Clone(e.subs[msg.Topic])
	e.mu.RUnlock()

	for _, s := range subs {
		if s.active() {
			s.handler(e.ctx, msg)
		}
	}
}

func (e *Endpoint) remove(s *hubSubscription) {
	e.mu.Lock()
	defer e.mu.Unlock()

	subs := e.subs[s.topic]
	if i := slices.Index(subs, s); i >= 0 {
		subs = slices.Delete(subs, i, i+1)
	}
	if len(subs) == 0 {
		delete(e.subs, s.topic)
		return
	}
	e.subs[s.topic] = subs
}

type hubSubscription struct {
	endpoint *Endpoint
	topic    string
	handler  Handler
	once     sync.Once
	mu       sync.RWMutex
	removed  bool
}

func (s *hubSubscription) active() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return !s.removed
}

func (s *hubSubscription) Unsubscribe() error {
	s.once.Do(func() {
		s.mu.Lock()
		s.removed = true
		s.mu.Unlock()
		s.endpoint.remove(s)
	})
	return nil
}

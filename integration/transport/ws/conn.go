package ws

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dmitrymomot/collidor/core/channel"
	"github.com/dmitrymomot/collidor/core/logger"
	"github.com/dmitrymomot/collidor/pkg/codec"
)

const subprotocolPrefix = "collidor."

const (
	kindHello   = "hello"
	kindMessage = "msg"
)

// frame is the unit written to the socket.
type frame struct {
	Kind    string `json:"kind" msgpack:"kind"`
	Source  string `json:"source,omitempty" msgpack:"source,omitempty"`
	Target  string `json:"target,omitempty" msgpack:"target,omitempty"`
	Topic   string `json:"topic,omitempty" msgpack:"topic,omitempty"`
	Payload []byte `json:"payload,omitempty" msgpack:"payload,omitempty"`
}

type outbound struct {
	data  []byte
	reply chan error
}

// Conn is a channel.Channel over one WebSocket connection. The connection
// links exactly two peers; every published message goes to the remote one.
//
// One goroutine owns all writes and sends pings; another reads frames and
// queues them for serial dispatch. The connection closes itself when the
// remote side goes away or stops answering pings.
type Conn struct {
	ws      *websocket.Conn
	id      string
	remote  string
	codec   codec.Codec
	msgType int

	pingInterval time.Duration
	writeTimeout time.Duration
	logger       *slog.Logger

	out chan outbound

	mu     sync.RWMutex
	subs   map[string][]*subscription
	closed bool
	cause  error

	inbox  *channel.Mailbox[channel.Message]
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

var _ channel.Channel = (*Conn)(nil)

// newConn exchanges peer ids over ws. The returned connection reads and
// writes nothing until start. ws is closed on failure.
func newConn(ws *websocket.Conn, cd codec.Codec, o *options) (*Conn, error) {
	msgType := websocket.TextMessage
	if cd.Name() != codec.NameJSON {
		msgType = websocket.BinaryMessage
	}

	ws.SetReadLimit(o.readLimit)
	remote, err := handshake(ws, cd, msgType, o)
	if err != nil {
		_ = ws.Close()
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Conn{
		ws:           ws,
		id:           o.id,
		remote:       remote,
		codec:        cd,
		msgType:      msgType,
		pingInterval: o.pingInterval,
		writeTimeout: o.writeTimeout,
		out:          make(chan outbound),
		subs:         make(map[string][]*subscription),
		ctx:          ctx,
		cancel:       cancel,
		done:         make(chan struct{}),
	}
	c.logger = o.logger.With(logger.Component("ws-channel"), logger.Peer(c.id), slog.String("remote", remote))
	c.inbox = channel.NewMailbox(c.dispatch)

	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(c.readTimeout()))
	})

	c.logger.Debug("websocket peer connected", logger.Key("codec", cd.Name()))
	return c, nil
}

func (c *Conn) start() { go c.run() }

func handshake(ws *websocket.Conn, cd codec.Codec, msgType int, o *options) (string, error) {
	hello, err := cd.Marshal(frame{Kind: kindHello, Source: o.id})
	if err != nil {
		return "", errors.Join(ErrHandshake, err)
	}

	deadline := time.Now().Add(o.handshakeTimeout)
	_ = ws.SetWriteDeadline(deadline)
	if err := ws.WriteMessage(msgType, hello); err != nil {
		return "", errors.Join(ErrHandshake, err)
	}
	_ = ws.SetWriteDeadline(time.Time{})

	_ = ws.SetReadDeadline(deadline)
	_, data, err := ws.ReadMessage()
	if err != nil {
		return "", errors.Join(ErrHandshake, err)
	}

	var f frame
	if err := cd.Unmarshal(data, &f); err != nil {
		return "", errors.Join(ErrHandshake, err)
	}
	if f.Kind != kindHello || f.Source == "" {
		return "", fmt.Errorf("%w: unexpected %q frame", ErrHandshake, f.Kind)
	}
	if f.Source == o.id {
		return "", fmt.Errorf("%w: remote peer uses our id %q", ErrHandshake, o.id)
	}
	_ = ws.SetReadDeadline(time.Now().Add(2 * o.pingInterval))
	return f.Source, nil
}

// PeerID returns the local peer identity.
func (c *Conn) PeerID() string { return c.id }

// RemotePeerID returns the identity announced by the remote peer.
func (c *Conn) RemotePeerID() string { return c.remote }

// Codec returns the negotiated frame codec.
func (c *Conn) Codec() codec.Codec { return c.codec }

// Done is closed once the connection is fully shut down.
func (c *Conn) Done() <-chan struct{} { return c.done }

// Err reports why the connection ended. It is nil while the connection is
// open and after a local Close.
func (c *Conn) Err() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cause
}

// Publish writes payload to the remote peer and waits until the frame is on
// the wire. A Target other than the remote peer is a no-op. SingleConsumer
// is always satisfied since there is one remote peer.
func (c *Conn) Publish(ctx context.Context, topic string, payload []byte, opts ...channel.PublishOption) error {
	if topic == "" {
		return channel.ErrEmptyTopic
	}
	if c.isClosed() {
		return channel.ErrClosed
	}

	o := channel.ApplyOptions(opts...)
	if o.Target != "" && o.Target != c.remote {
		return nil
	}

	data, err := c.codec.Marshal(frame{Kind: kindMessage, Target: o.Target, Topic: topic, Payload: payload})
	if err != nil {
		return err
	}

	ob := outbound{data: data, reply: make(chan error, 1)}
	select {
	case c.out <- ob:
	case <-ctx.Done():
		return ctx.Err()
	case <-c.ctx.Done():
		return channel.ErrClosed
	}

	select {
	case err := <-ob.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-c.ctx.Done():
		return channel.ErrClosed
	}
}

// Subscribe registers h for topic. Frames for topics without handlers are
// dropped on arrival.
func (c *Conn) Subscribe(topic string, h channel.Handler) (channel.Subscription, error) {
	if topic == "" {
		return nil, channel.ErrEmptyTopic
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, channel.ErrClosed
	}

	s := &subscription{conn: c, topic: topic, handler: h}
	c.subs[topic] = append(c.subs[topic], s)
	return s, nil
}

// Close sends a close frame and tears the connection down.
func (c *Conn) Close() error {
	if !c.shutdown(nil) {
		return channel.ErrClosed
	}
	<-c.done
	return nil
}

// shutdown marks the connection closed. Reports false if it already was.
func (c *Conn) shutdown(cause error) bool {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false
	}
	c.closed = true
	c.cause = cause
	c.subs = make(map[string][]*subscription)
	c.mu.Unlock()

	c.cancel()
	return true
}

func (c *Conn) isClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}

func (c *Conn) readTimeout() time.Duration { return 2 * c.pingInterval }

func (c *Conn) run() {
	defer close(c.done)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.read()
	}()

	c.write()
	_ = c.ws.Close()
	wg.Wait()
	c.inbox.Close()

	if err := c.Err(); err != nil {
		c.logger.Debug("websocket peer disconnected", logger.Error(err))
	}
}

// write owns every data frame and ping until the connection closes.
func (c *Conn) write() {
	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.writeTimeout))
			return
		case ob := <-c.out:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
			err := c.ws.WriteMessage(c.msgType, ob.data)
			ob.reply <- err
			if err != nil {
				c.shutdown(err)
				return
			}
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.writeTimeout)); err != nil {
				c.shutdown(err)
				return
			}
		}
	}
}

func (c *Conn) read() {
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if c.shutdown(err) && websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Warn("websocket read failed", logger.Error(err))
			}
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(c.readTimeout()))

		var f frame
		if err := c.codec.Unmarshal(data, &f); err != nil {
			c.logger.Warn("malformed websocket frame", logger.Error(err))
			continue
		}
		if f.Kind != kindMessage || f.Topic == "" {
			continue
		}
		if f.Target != "" && f.Target != c.id {
			continue
		}
		c.inbox.Push(channel.Message{Topic: f.Topic, Payload: f.Payload, Source: c.remote})
	}
}

func (c *Conn) dispatch(msg channel.Message) {
	c.mu.RLock()
	subs := slices.Clone(c.subs[msg.Topic])
	c.mu.RUnlock()

	for _, s := range subs {
		if s.active() {
			s.handler(c.ctx, msg)
		}
	}
}

func (c *Conn) remove(s *subscription) {
	c.mu.Lock()
	defer c.mu.Unlock()

	subs := c.subs[s.topic]
	if i := slices.Index(subs, s); i >= 0 {
		subs = slices.Delete(subs, i, i+1)
	}
	if len(subs) == 0 {
		delete(c.subs, s.topic)
		return
	}
	c.subs[s.topic] = subs
}

type subscription struct {
	conn    *Conn
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
		s.conn.remove(s)
	})
	return nil
}

func subprotocol(c codec.Codec) string { return subprotocolPrefix + c.Name() }

// codecFor maps a negotiated subprotocol to its codec. An empty protocol
// falls back to def.
func codecFor(protocol string, def codec.Codec) (codec.Codec, error) {
	if protocol == "" {
		return def, nil
	}
	name, ok := strings.CutPrefix(protocol, subprotocolPrefix)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedCodec, protocol)
	}
	c, err := codec.ByName(name)
	if err != nil {
		return nil, errors.Join(ErrUnsupportedCodec, err)
	}
	return c, nil
}

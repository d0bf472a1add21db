package ws

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/dmitrymomot/collidor/core/logger"
	"github.com/dmitrymomot/collidor/pkg/codec"
)

// Upgrade switches an HTTP request to a WebSocket peer connection. The client
// may pick json or msgpack frames through the subprotocol; without one the
// configured codec is used. On failure an HTTP error has already been sent.
func Upgrade(w http.ResponseWriter, r *http.Request, opts ...Option) (*Conn, error) {
	conn, err := accept(w, r, newOptions(opts...))
	if err != nil {
		return nil, err
	}
	conn.start()
	return conn, nil
}

// accept upgrades and handshakes without starting the connection loops.
func accept(w http.ResponseWriter, r *http.Request, o *options) (*Conn, error) {
	upgrader := websocket.Upgrader{
		HandshakeTimeout: o.handshakeTimeout,
		Subprotocols:     []string{subprotocol(o.codec), subprotocol(codec.JSON), subprotocol(codec.Msgpack)},
		CheckOrigin:      o.checkOrigin,
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, errors.Join(ErrUpgrade, err)
	}

	cd, err := codecFor(ws.Subprotocol(), o.codec)
	if err != nil {
		_ = ws.Close()
		return nil, err
	}
	return newConn(ws, cd, o)
}

// Server accepts WebSocket peers and hands each connection to a callback.
// It tracks live connections so Close can end them on shutdown, since
// upgraded connections are invisible to http.Server.Shutdown.
//
//	srv := ws.NewServer(func(ctx context.Context, conn *ws.Conn) error {
//		b := bridge.New(conn)
//		d := command.NewAsyncDispatcher(command.WithPlugin(b))
//		registerHandlers(d)
//		go func() { <-conn.Done(); _ = b.Close() }()
//		return nil
//	}, ws.WithAllowAnyOrigin())
//	mux.Handle("/peers", srv)
type Server struct {
	opts      *options
	onConnect func(ctx context.Context, conn *Conn) error

	mu     sync.Mutex
	conns  map[*Conn]struct{}
	closed bool
}

// NewServer creates a server calling onConnect for every accepted peer.
// Frames from the peer are read only after onConnect returns, so handlers it
// subscribes see the first message. A non-nil error closes the connection.
func NewServer(onConnect func(ctx context.Context, conn *Conn) error, opts ...Option) *Server {
	return &Server{
		opts:      newOptions(opts...),
		onConnect: onConnect,
		conns:     make(map[*Conn]struct{}),
	}
}

// ServeHTTP upgrades the request and registers the connection.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		return
	}

	conn, err := accept(w, r, s.opts)
	if err != nil {
		s.opts.logger.WarnContext(r.Context(), "websocket upgrade rejected",
			logger.Key("remote_addr", r.RemoteAddr),
			logger.Error(err))
		return
	}

	// Frames stay unread until onConnect has subscribed its handlers.
	var cbErr error
	if s.onConnect != nil {
		cbErr = s.onConnect(r.Context(), conn)
	}
	conn.start()
	if cbErr != nil {
		s.opts.logger.ErrorContext(r.Context(), "websocket peer rejected",
			logger.Peer(conn.RemotePeerID()),
			logger.Error(cbErr))
		_ = conn.Close()
		return
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = conn.Close()
		return
	}
	s.conns[conn] = struct{}{}
	s.mu.Unlock()

	go func() {
		<-conn.Done()
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
	}()
}

// Len returns the number of live connections.
func (s *Server) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// Close stops accepting peers and closes every live connection.
func (s *Server) Close() error {
	s.mu.Lock()
	s.closed = true
	conns := make([]*Conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		_ = c.Close()
	}
	return nil
}

package ws

import (
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/collidor/pkg/codec"
)

type options struct {
	id               string
	codec            codec.Codec
	pingInterval     time.Duration
	writeTimeout     time.Duration
	handshakeTimeout time.Duration
	readLimit        int64
	header           http.Header
	checkOrigin      func(r *http.Request) bool
	logger           *slog.Logger
}

func newOptions(opts ...Option) *options {
	o := &options{
		id:               uuid.NewString(),
		codec:            codec.JSON,
		pingInterval:     30 * time.Second,
		writeTimeout:     10 * time.Second,
		handshakeTimeout: 10 * time.Second,
		readLimit:        1 << 20,
		logger:           slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Option configures Dial, Upgrade and Server.
type Option func(*options)

// WithPeerID sets the local peer identity. Defaults to a random UUID.
func WithPeerID(id string) Option {
	return func(o *options) {
		if id != "" {
			o.id = id
		}
	}
}

// WithCodec sets the frame codec. A dialer offers only this codec; a server
// uses it when the client did not ask for a subprotocol. Defaults to JSON.
func WithCodec(c codec.Codec) Option {
	return func(o *options) {
		if c != nil {
			o.codec = c
		}
	}
}

// WithPingInterval sets how often pings are sent. A peer that stays silent
// for two intervals is considered gone.
func WithPingInterval(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.pingInterval = d
		}
	}
}

// WithWriteTimeout bounds every frame write.
func WithWriteTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.writeTimeout = d
		}
	}
}

// WithHandshakeTimeout bounds the HTTP upgrade and the peer hello exchange.
func WithHandshakeTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.handshakeTimeout = d
		}
	}
}

// WithReadLimit sets the maximum frame size in bytes.
func WithReadLimit(n int64) Option {
	return func(o *options) {
		if n > 0 {
			o.readLimit = n
		}
	}
}

// WithHeader sets extra handshake request headers when dialing.
func WithHeader(h http.Header) Option {
	return func(o *options) {
		o.header = h
	}
}

// WithOriginCheck sets the origin policy of the upgrader.
func WithOriginCheck(fn func(r *http.Request) bool) Option {
	return func(o *options) {
		o.checkOrigin = fn
	}
}

// WithAllowAnyOrigin accepts upgrades from every origin.
func WithAllowAnyOrigin() Option {
	return func(o *options) {
		o.checkOrigin = func(*http.Request) bool { return true }
	}
}

// WithLogger configures structured logging.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

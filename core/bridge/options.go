package bridge

import (
	"log/slog"
	"time"

	"github.com/dmitrymomot/collidor/pkg/codec"
)

// Option configures a Bridge.
type Option func(*Bridge)

// WithTimeout sets how long an outbound call waits for the first
// acknowledgement or response. Non-positive values are ignored.
func WithTimeout(d time.Duration) Option {
	return func(b *Bridge) {
		if d > 0 {
			b.timeout = d
		}
	}
}

// WithCodec sets the envelope codec. Every peer on the channel must use the same one.
func WithCodec(c codec.Codec) Option {
	return func(b *Bridge) {
		if c != nil {
			b.codec = c
		}
	}
}

// WithLogger configures structured logging for the bridge.
// Use slog.New(slog.NewTextHandler(io.Discard, nil)) to disable logging.
func WithLogger(l *slog.Logger) Option {
	return func(b *Bridge) {
		if l != nil {
			b.logger = l
		}
	}
}

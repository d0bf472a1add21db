package event

import (
	"log/slog"

	"github.com/dmitrymomot/collidor/core/bag"
	"github.com/dmitrymomot/collidor/core/channel"
	"github.com/dmitrymomot/collidor/pkg/codec"
)

// Option configures a Bus.
type Option func(*Bus)

// WithChannel relays emitted events to ch and delivers events published by
// other peers to local listeners.
func WithChannel(ch channel.Channel) Option {
	return func(b *Bus) {
		b.ch = ch
	}
}

// WithBag sets the default bag passed to listeners when the emitter supplies none.
func WithBag(bg *bag.Bag) Option {
	return func(b *Bus) {
		if bg != nil {
			b.bag = bg
		}
	}
}

// WithLogger configures structured logging for the bus.
// Use slog.New(slog.NewTextHandler(io.Discard, nil)) to disable logging.
func WithLogger(l *slog.Logger) Option {
	return func(b *Bus) {
		if l != nil {
			b.logger = l
		}
	}
}

// WithCodec sets the codec for channel envelopes. Defaults to JSON.
func WithCodec(c codec.Codec) Option {
	return func(b *Bus) {
		if c != nil {
			b.codec = c
		}
	}
}

package redis

import (
	"log/slog"

	"github.com/dmitrymomot/collidor/pkg/codec"
)

// Option configures a Channel.
type Option func(*Channel)

// WithPeerID sets the peer identity. Defaults to a random UUID.
func WithPeerID(id string) Option {
	return func(c *Channel) {
		if id != "" {
			c.id = id
		}
	}
}

// WithTopicPrefix namespaces every Redis channel name.
func WithTopicPrefix(prefix string) Option {
	return func(c *Channel) {
		c.prefix = prefix
	}
}

// WithCodec sets the envelope codec. Defaults to MessagePack.
func WithCodec(cd codec.Codec) Option {
	return func(c *Channel) {
		if cd != nil {
			c.codec = cd
		}
	}
}

// WithLogger configures structured logging for the channel.
func WithLogger(l *slog.Logger) Option {
	return func(c *Channel) {
		if l != nil {
			c.logger = l
		}
	}
}

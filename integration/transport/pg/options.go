package pg

import (
	"log/slog"
	"time"
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

// WithChannelPrefix namespaces every notification channel name.
func WithChannelPrefix(prefix string) Option {
	return func(c *Channel) {
		c.prefix = prefix
	}
}

// WithListenTimeout bounds how long Subscribe waits for the listener to
// issue LISTEN. Non-positive values are ignored.
func WithListenTimeout(d time.Duration) Option {
	return func(c *Channel) {
		if d > 0 {
			c.listenTimeout = d
		}
	}
}

// WithRetryInterval sets the first reconnect delay of the listener.
// Later delays double up to a minute.
func WithRetryInterval(d time.Duration) Option {
	return func(c *Channel) {
		if d > 0 {
			c.retryInterval = d
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

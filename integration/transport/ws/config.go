package ws

import (
	"time"

	"github.com/dmitrymomot/collidor/pkg/codec"
)

// Config holds WebSocket transport settings.
type Config struct {
	URL              string        `env:"WS_URL"`
	Codec            string        `env:"WS_CODEC" envDefault:"json"`
	PingInterval     time.Duration `env:"WS_PING_INTERVAL" envDefault:"30s"`
	WriteTimeout     time.Duration `env:"WS_WRITE_TIMEOUT" envDefault:"10s"`
	HandshakeTimeout time.Duration `env:"WS_HANDSHAKE_TIMEOUT" envDefault:"10s"`
	ReadLimit        int64         `env:"WS_READ_LIMIT" envDefault:"1048576"`
	AllowAnyOrigin   bool          `env:"WS_ALLOW_ANY_ORIGIN" envDefault:"false"`
}

// Options converts the config into connection options.
func (c Config) Options() ([]Option, error) {
	cd, err := codec.ByName(c.Codec)
	if err != nil {
		return nil, err
	}
	opts := []Option{
		WithCodec(cd),
		WithPingInterval(c.PingInterval),
		WithWriteTimeout(c.WriteTimeout),
		WithHandshakeTimeout(c.HandshakeTimeout),
		WithReadLimit(c.ReadLimit),
	}
	if c.AllowAnyOrigin {
		opts = append(opts, WithAllowAnyOrigin())
	}
	return opts, nil
}

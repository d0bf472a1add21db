package bridge

import (
	"time"

	"github.com/dmitrymomot/collidor/pkg/codec"
)

// DefaultTimeout bounds the wait for the first acknowledgement or response.
const DefaultTimeout = 5 * time.Second

// Config holds bridge settings loaded from the environment.
type Config struct {
	CommandTimeout time.Duration `env:"BRIDGE_COMMAND_TIMEOUT" envDefault:"5s"`
	Codec          string        `env:"BRIDGE_CODEC" envDefault:"json"`
}

// Options converts the configuration into bridge options.
// Returns codec.ErrUnknownCodec for an unsupported codec name.
func (c Config) Options() ([]Option, error) {
	cd, err := codec.ByName(c.Codec)
	if err != nil {
		return nil, err
	}
	return []Option{WithTimeout(c.CommandTimeout), WithCodec(cd)}, nil
}

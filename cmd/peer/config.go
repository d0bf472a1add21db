package main

import (
	"time"

	"github.com/dmitrymomot/collidor/core/bridge"
	"github.com/dmitrymomot/collidor/core/server"
	"github.com/dmitrymomot/collidor/integration/transport/pg"
	"github.com/dmitrymomot/collidor/integration/transport/redis"
	"github.com/dmitrymomot/collidor/integration/transport/ws"
)

const (
	transportRedis = "redis"
	transportPG    = "pg"
	transportWS    = "ws"
)

// Config is the peer configuration, loaded from the environment and an
// optional .env file.
type Config struct {
	AppName string `env:"APP_NAME" envDefault:"collidor-peer"`
	AppEnv  string `env:"APP_ENV" envDefault:"development"`

	// PeerID identifies this process on the transport. Random when empty.
	PeerID string `env:"PEER_ID"`
	// Transport is one of redis, pg or ws.
	Transport string `env:"PEER_TRANSPORT" envDefault:"ws"`
	// Serve registers the sample handlers. A peer with Serve off only
	// forwards HTTP commands to the transport.
	Serve             bool          `env:"PEER_SERVE" envDefault:"true"`
	CommandPath       string        `env:"PEER_COMMAND_PATH" envDefault:"/commands"`
	PeerPath          string        `env:"PEER_WS_PATH" envDefault:"/peers"`
	CountdownInterval time.Duration `env:"PEER_COUNTDOWN_INTERVAL" envDefault:"100ms"`

	Server server.Config
	Bridge bridge.Config
	Redis  redis.Config
	PG     pg.Config
	WS     ws.Config
}

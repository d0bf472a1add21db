// Package config provides type-safe environment variable loading with caching
// using Go generics. Each configuration type is loaded once and cached for
// subsequent calls.
//
// The package loads a .env file on first use and parses environment
// variables into struct fields with caarlos0/env.
//
//	import "github.com/dmitrymomot/collidor/core/config"
//
//	type PeerConfig struct {
//		Transport string        `env:"PEER_TRANSPORT" envDefault:"redis"`
//		RedisURL  string        `env:"REDIS_URL,required"`
//		Timeout   time.Duration `env:"BRIDGE_COMMAND_TIMEOUT" envDefault:"5s"`
//	}
//
//	func main() {
//		var cfg PeerConfig
//		if err := config.Load(&cfg); err != nil {
//			log.Fatal(err)
//		}
//
//		// Or panic on failure (useful for startup)
//		config.MustLoad(&cfg)
//	}
//
// # Caching Behavior
//
// Each configuration type is loaded only once per process:
//
//	var cfg1 PeerConfig
//	config.Load(&cfg1) // Loads from environment
//
//	var cfg2 PeerConfig
//	config.Load(&cfg2) // Returns cached value, cfg1 == cfg2
//
// Parse bypasses the cache, which suits tests and prefixed configs:
//
//	var rc redis.Config
//	config.Parse(&rc, env.Options{Prefix: "EDGE_"})
package config

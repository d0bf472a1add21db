// Package redis carries peer traffic over Redis pub/sub.
//
// Connect creates a go-redis client with exponential retry and verifies it
// with a ping; Healthcheck returns a probe for readiness endpoints. New turns
// a client into a channel.Channel suitable for the command bridge and the
// event bus.
//
//	client, err := redis.Connect(ctx, cfg)
//	if err != nil {
//		return err
//	}
//	defer client.Close()
//
//	ch := redis.New(client, redis.WithTopicPrefix(cfg.TopicPrefix))
//	defer ch.Close()
//
//	d := command.NewAsyncDispatcher(command.WithPlugin(bridge.New(ch)))
//
// # Configuration
//
//	type Config struct {
//		ConnectionURL  string        `env:"REDIS_URL" envDefault:"redis://localhost:6379/0"`
//		RetryAttempts  int           `env:"REDIS_RETRY_ATTEMPTS" envDefault:"3"`
//		RetryInterval  time.Duration `env:"REDIS_RETRY_INTERVAL" envDefault:"5s"`
//		ConnectTimeout time.Duration `env:"REDIS_CONNECT_TIMEOUT" envDefault:"30s"`
//		TopicPrefix    string        `env:"REDIS_TOPIC_PREFIX" envDefault:"collidor:"`
//	}
//
// Both redis:// and rediss:// (TLS) URLs are accepted.
//
// # Delivery
//
// Each published payload is wrapped in an envelope {source, target, payload}
// encoded with MessagePack by default. Receivers drop their own messages and
// messages targeted at other peers. Redis fans out every message, so
// single-consumer delivery is not enforced by this transport.
//
// # Errors
//
//   - ErrFailedToParseRedisConnString: the connection URL is malformed
//   - ErrRedisNotReady: no successful ping within the retry budget
//   - ErrEmptyConnectionURL: no connection URL configured
//   - ErrHealthcheckFailed: the probe ping failed
//   - ErrSubscribe: the SUBSCRIBE command failed
package redis

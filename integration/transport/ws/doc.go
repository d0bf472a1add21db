// Package ws carries peer traffic over WebSocket connections.
//
// Each connection links exactly two peers and implements channel.Channel, so
// a command bridge or an event bus can run on top of it. After the HTTP
// upgrade both sides exchange a hello frame carrying their peer ids; from
// then on every published message is a frame {kind, target, topic, payload}.
//
// Dialing side:
//
//	conn, err := ws.Dial(ctx, "wss://example.com/peers", ws.WithCodec(codec.Msgpack))
//	if err != nil {
//		return err
//	}
//	defer conn.Close()
//
//	d := command.NewAsyncDispatcher(command.WithPlugin(bridge.New(conn)))
//
// Accepting side, see Server for a tracked variant:
//
//	http.HandleFunc("/peers", func(w http.ResponseWriter, r *http.Request) {
//		conn, err := ws.Upgrade(w, r)
//		if err != nil {
//			return
//		}
//		...
//	})
//
// # Frames
//
// The frame codec is negotiated through the subprotocol ("collidor.json" or
// "collidor.msgpack"). JSON frames are sent as text messages and MessagePack
// frames as binary messages. Frames for topics nobody subscribed to are
// dropped on arrival.
//
// # Keepalive
//
// A single goroutine owns all writes and pings the remote peer every ping
// interval. A peer that sends nothing, not even a pong, for two intervals is
// disconnected. Done is closed once a connection is gone and Err reports why.
//
// # Configuration
//
//	type Config struct {
//		URL              string        `env:"WS_URL"`
//		Codec            string        `env:"WS_CODEC" envDefault:"json"`
//		PingInterval     time.Duration `env:"WS_PING_INTERVAL" envDefault:"30s"`
//		WriteTimeout     time.Duration `env:"WS_WRITE_TIMEOUT" envDefault:"10s"`
//		HandshakeTimeout time.Duration `env:"WS_HANDSHAKE_TIMEOUT" envDefault:"10s"`
//		ReadLimit        int64         `env:"WS_READ_LIMIT" envDefault:"1048576"`
//		AllowAnyOrigin   bool          `env:"WS_ALLOW_ANY_ORIGIN" envDefault:"false"`
//	}
package ws

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/dmitrymomot/collidor/core/bridge"
	"github.com/dmitrymomot/collidor/core/channel"
	"github.com/dmitrymomot/collidor/core/command"
	"github.com/dmitrymomot/collidor/core/config"
	"github.com/dmitrymomot/collidor/core/event"
	"github.com/dmitrymomot/collidor/core/health"
	"github.com/dmitrymomot/collidor/core/httpbridge"
	"github.com/dmitrymomot/collidor/core/logger"
	"github.com/dmitrymomot/collidor/core/server"
	"github.com/dmitrymomot/collidor/integration/transport/pg"
	"github.com/dmitrymomot/collidor/integration/transport/redis"
	"github.com/dmitrymomot/collidor/integration/transport/ws"
	"github.com/dmitrymomot/collidor/middleware"
)

var (
	ErrUnknownTransport = errors.New("unknown transport")
	ErrPeerGone         = errors.New("remote peer disconnected")
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var cfg Config
	config.MustLoad(&cfg) // panic on error

	log := newLogger(cfg)
	if err := run(ctx, cfg, log); err != nil {
		log.Error("Peer failed", logger.Error(err))
		os.Exit(1)
	}
	log.Info("Peer stopped")
}

func newLogger(cfg Config) *slog.Logger {
	if cfg.AppEnv == "production" {
		return logger.New(logger.WithProduction(cfg.AppName))
	}
	return logger.New(logger.WithDevelopment(cfg.AppName))
}

// peer is everything a running process needs besides the HTTP listener.
type peer struct {
	id         string
	dispatcher *command.AsyncDispatcher
	bridge     *bridge.Bridge
	bus        *event.Bus
	peers      *ws.Server
	checks     []func(context.Context) error
	serverOpts []server.Option
	mux        *http.ServeMux
	watch      func(ctx context.Context) error
	closers    []func() error
}

func (p *peer) close(log *slog.Logger) {
	for i := len(p.closers) - 1; i >= 0; i-- {
		if err := p.closers[i](); err != nil && !errors.Is(err, channel.ErrClosed) {
			log.Warn("Failed to release resource", logger.Error(err))
		}
	}
}

func run(ctx context.Context, cfg Config, log *slog.Logger) error {
	if cfg.PeerID == "" {
		cfg.PeerID = uuid.NewString()
	}
	log = log.With(logger.Peer(cfg.PeerID))

	p, err := newPeer(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer p.close(log)

	s, err := server.NewFromConfig(cfg.Server, append(p.serverOpts, server.WithLogger(log))...)
	if err != nil {
		return err
	}

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(s.Run(ctx, p.handler(log)))
	if p.watch != nil {
		eg.Go(func() error { return p.watch(ctx) })
	}
	return eg.Wait()
}

// handler wraps the routes with request ids and access logging. Health
// probes are not logged.
func (p *peer) handler(log *slog.Logger) http.Handler {
	return middleware.Chain(p.mux,
		middleware.RequestID(),
		middleware.LoggingWithConfig(middleware.LoggingConfig{
			Logger: log,
			Skip: func(r *http.Request) bool {
				return strings.HasPrefix(r.URL.Path, "/health/") || r.URL.Path == "/ping"
			},
		}),
	)
}

// newPeer connects the configured transport and wires the dispatcher, the
// bridge and the event bus on top of it.
func newPeer(ctx context.Context, cfg Config, log *slog.Logger) (*peer, error) {
	p := &peer{id: cfg.PeerID, mux: http.NewServeMux()}

	bridgeOpts, err := cfg.Bridge.Options()
	if err != nil {
		return nil, err
	}
	bridgeOpts = append(bridgeOpts, bridge.WithLogger(log))

	ch, err := p.connect(ctx, cfg, bridgeOpts, log)
	if err != nil {
		p.close(log)
		return nil, err
	}

	dispatcherOpts := dispatcherOptions(log)
	busOpts := []event.Option{event.WithLogger(log)}
	if ch != nil {
		p.bridge = bridge.New(ch, bridgeOpts...)
		p.closers = append(p.closers, p.bridge.Close)
		dispatcherOpts = append(dispatcherOpts, command.WithPlugin(p.bridge))
		busOpts = append(busOpts, event.WithChannel(ch))
	}

	p.bus = event.New(busOpts...)
	p.closers = append(p.closers, p.bus.Close)
	logSums(ctx, p.bus, log)

	p.dispatcher = command.NewAsyncDispatcher(dispatcherOpts...)
	if cfg.Serve {
		registerHandlers(p.dispatcher, p.bus, p.id, cfg.CountdownInterval, log)
	}

	mountRoutes(p.mux, cfg, p.dispatcher, p.bridge, log, p.checks...)
	return p, nil
}

// connect opens the transport. It returns a nil channel when this peer
// accepts WebSocket peers instead of joining a shared transport.
func (p *peer) connect(ctx context.Context, cfg Config, bridgeOpts []bridge.Option, log *slog.Logger) (channel.Channel, error) {
	switch cfg.Transport {
	case transportRedis:
		client, err := redis.Connect(ctx, cfg.Redis)
		if err != nil {
			return nil, err
		}
		p.closers = append(p.closers, client.Close)
		p.checks = append(p.checks, redis.Healthcheck(client))

		ch := redis.New(client,
			redis.WithPeerID(p.id),
			redis.WithTopicPrefix(cfg.Redis.TopicPrefix),
			redis.WithLogger(log))
		p.closers = append(p.closers, ch.Close)
		return ch, nil

	case transportPG:
		pool, err := pg.Connect(ctx, cfg.PG)
		if err != nil {
			return nil, err
		}
		p.closers = append(p.closers, func() error { pool.Close(); return nil })
		p.checks = append(p.checks, pg.Healthcheck(pool))

		ch := pg.New(pool,
			pg.WithPeerID(p.id),
			pg.WithChannelPrefix(cfg.PG.ChannelPrefix),
			pg.WithListenTimeout(cfg.PG.ListenTimeout),
			pg.WithRetryInterval(cfg.PG.RetryInterval),
			pg.WithLogger(log))
		p.closers = append(p.closers, ch.Close)
		return ch, nil

	case transportWS:
		wsOpts, err := cfg.WS.Options()
		if err != nil {
			return nil, err
		}
		wsOpts = append(wsOpts, ws.WithPeerID(p.id), ws.WithLogger(log))

		if cfg.WS.URL != "" {
			conn, err := ws.Dial(ctx, cfg.WS.URL, wsOpts...)
			if err != nil {
				return nil, err
			}
			p.closers = append(p.closers, conn.Close)
			p.checks = append(p.checks, connected(conn))
			p.watch = func(ctx context.Context) error {
				select {
				case <-ctx.Done():
					return nil
				case <-conn.Done():
					return errors.Join(ErrPeerGone, conn.Err())
				}
			}
			return conn, nil
		}

		p.peers = ws.NewServer(acceptPeer(cfg, bridgeOpts, log), wsOpts...)
		p.mux.Handle(cfg.PeerPath, p.peers)
		p.closers = append(p.closers, p.peers.Close)
		p.serverOpts = append(p.serverOpts, server.WithOnShutdown(func(context.Context) error {
			return p.peers.Close()
		}))
		return nil, nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownTransport, cfg.Transport)
	}
}

// acceptPeer gives every WebSocket peer its own bridge and dispatcher, so
// commands from one connection are answered on that connection.
func acceptPeer(cfg Config, bridgeOpts []bridge.Option, log *slog.Logger) func(context.Context, *ws.Conn) error {
	return func(_ context.Context, conn *ws.Conn) error {
		log := log.With(slog.String("remote", conn.RemotePeerID()))

		b := bridge.New(conn, bridgeOpts...)
		bus := event.New(event.WithChannel(conn), event.WithLogger(log))
		d := command.NewAsyncDispatcher(append(dispatcherOptions(log), command.WithPlugin(b))...)
		if cfg.Serve {
			registerHandlers(d, bus, cfg.PeerID, cfg.CountdownInterval, log)
		}

		go func() {
			<-conn.Done()
			_ = b.Close()
			_ = bus.Close()
		}()
		return nil
	}
}

func dispatcherOptions(log *slog.Logger) []command.Option {
	return []command.Option{
		command.WithLogger(log),
		command.WithAsyncMiddleware(
			command.AsyncRecoverMiddleware(log),
			command.AsyncLoggingMiddleware(log),
			command.AsyncTracingMiddleware(),
		),
	}
}

// connected reports a dialed WebSocket peer as unhealthy once it is gone.
func connected(conn *ws.Conn) func(context.Context) error {
	return func(context.Context) error {
		select {
		case <-conn.Done():
			return errors.Join(ErrPeerGone, conn.Err())
		default:
			return nil
		}
	}
}

// mountRoutes exposes the dispatcher over HTTP next to health probes and
// bridge statistics.
func mountRoutes(mux *http.ServeMux, cfg Config, d *command.AsyncDispatcher, b *bridge.Bridge, log *slog.Logger, checks ...func(context.Context) error) {
	mux.Handle(cfg.CommandPath, httpbridge.NewServer(d, httpbridge.WithServerLogger(log)))
	mux.HandleFunc("GET /health/live", health.Liveness)
	mux.Handle("GET /health/ready", health.Readiness(log, checks...))
	mux.HandleFunc("GET /ping", health.NoContent)
	mux.HandleFunc("GET /debug/bridge", func(w http.ResponseWriter, _ *http.Request) {
		var stats bridge.Stats
		if b != nil {
			stats = b.Stats()
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(stats)
	})
}

package command

import (
	"io"
	"log/slog"

	"github.com/dmitrymomot/collidor/core/bag"
)

// DefaultQueueSize bounds the buffer StreamAsync uses to adapt callback streams.
const DefaultQueueSize = 64

type options struct {
	plugin          any
	bag             *bag.Bag
	logger          *slog.Logger
	middleware      []Middleware
	asyncMiddleware []AsyncMiddleware
	queueSize       int
}

// Option configures a dispatcher.
type Option func(*options)

// WithPlugin sets the plugin consulted for registration hooks and execution.
// Its capabilities are the interfaces it implements, see Interceptor,
// AsyncInterceptor, StreamInterceptor, RegisterObserver,
// StreamRegisterObserver and Installer.
func WithPlugin(plugin any) Option {
	return func(o *options) {
		o.plugin = plugin
	}
}

// WithBag sets the default bag passed to handlers when the caller supplies none.
func WithBag(b *bag.Bag) Option {
	return func(o *options) {
		if b != nil {
			o.bag = b
		}
	}
}

// WithLogger sets the logger for the dispatcher.
// Defaults to a logger that discards everything.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMiddleware wraps every unary handler registered with Register.
// Middleware is applied in the order provided, the first one outermost.
//
// Example:
//
//	d := command.NewSyncDispatcher(
//		command.WithMiddleware(
//			command.RecoverMiddleware(logger),
//			command.LoggingMiddleware(logger),
//		),
//	)
func WithMiddleware(middleware ...Middleware) Option {
	return func(o *options) {
		o.middleware = append(o.middleware, middleware...)
	}
}

// WithAsyncMiddleware wraps every handler of an AsyncDispatcher, including
// lifted synchronous ones. Ignored by SyncDispatcher.
func WithAsyncMiddleware(middleware ...AsyncMiddleware) Option {
	return func(o *options) {
		o.asyncMiddleware = append(o.asyncMiddleware, middleware...)
	}
}

// WithQueueSize bounds the queue used by StreamAsync when it adapts a
// callback stream. Defaults to DefaultQueueSize.
func WithQueueSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.queueSize = n
		}
	}
}

func newOptions(opts []Option) *options {
	o := &options{
		bag:       bag.New(nil),
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		queueSize: DefaultQueueSize,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

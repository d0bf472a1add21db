package command

import (
	"context"

	"github.com/dmitrymomot/collidor/pkg/async"
)

// A plugin is any value passed to WithPlugin. Its capabilities are the
// interfaces below that it implements.

// Installer is called once when the dispatcher is constructed.
type Installer[D any] interface {
	Install(d D)
}

// RegisterObserver is notified after a unary handler is registered.
type RegisterObserver interface {
	OnRegister(name string)
}

// StreamRegisterObserver is notified after a stream or sequence handler is registered.
type StreamRegisterObserver interface {
	OnRegisterStream(name string)
}

// Interceptor owns synchronous unary execution. local is the registered
// handler or nil.
type Interceptor interface {
	Intercept(ctx context.Context, cmd Command, local UnaryHandler) (any, error)
}

// AsyncInterceptor owns asynchronous unary execution. local is the registered
// handler or nil.
type AsyncInterceptor interface {
	InterceptAsync(ctx context.Context, cmd Command, local AsyncHandler) *async.Future[any]
}

// StreamInterceptor owns stream execution. The returned teardown is bound to
// the caller's cancellation.
type StreamInterceptor interface {
	InterceptStream(ctx context.Context, cmd Command, next Next) (Teardown, error)
}

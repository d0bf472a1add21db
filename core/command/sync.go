package command

import (
	"context"

	"github.com/dmitrymomot/collidor/core/bag"
)

// SyncDispatcher executes unary commands synchronously in the caller's goroutine.
//
// Example:
//
//	d := command.NewSyncDispatcher(command.WithLogger(logger))
//	d.Register("Sum", func(ctx context.Context, cmd command.Command) (any, error) {
//		args := cmd.Payload.(SumArgs)
//		return args.A + args.B, nil
//	})
//	result, err := d.Execute(ctx, command.New("Sum", SumArgs{A: 1, B: 2}))
type SyncDispatcher struct {
	base[UnaryHandler]
	middleware []Middleware
}

// NewSyncDispatcher creates a dispatcher. A plugin implementing
// Installer[*SyncDispatcher] is installed before it is returned.
func NewSyncDispatcher(opts ...Option) *SyncDispatcher {
	o := newOptions(opts)
	d := &SyncDispatcher{
		base:       newBase[UnaryHandler](o),
		middleware: o.middleware,
	}

	if in, ok := o.plugin.(Installer[*SyncDispatcher]); ok {
		in.Install(d)
	}
	return d
}

// Register binds h to name. A later registration under the same name replaces it.
func (d *SyncDispatcher) Register(name string, h UnaryHandler) {
	d.register(name, chain(h, d.middleware))
}

// Handler returns the local handler for name, or nil.
func (d *SyncDispatcher) Handler(name string) UnaryHandler {
	h, _ := d.handler(name)
	return h
}

// Execute runs cmd and returns the handler result unchanged.
//
// An Interceptor plugin owns the call and receives the local handler, or nil.
// Without one, ErrNotFound is returned when no handler is registered.
// Handler errors and panics reach the caller as they are.
func (d *SyncDispatcher) Execute(ctx context.Context, cmd Command) (any, error) {
	ctx = bag.Ensure(ctx, d.bag)
	local := d.Handler(cmd.Name)

	if in, ok := d.plugin.(Interceptor); ok {
		return in.Intercept(ctx, cmd, local)
	}
	if local == nil {
		return nil, notFound(cmd.Name)
	}
	return local(ctx, cmd)
}

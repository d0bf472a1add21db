package command

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/dmitrymomot/collidor/core/logger"
	"github.com/dmitrymomot/collidor/pkg/async"
)

// tracerName is the instrumentation scope name for command tracing.
const tracerName = "github.com/dmitrymomot/collidor/core/command"

// Middleware wraps a UnaryHandler to add cross-cutting behaviour.
type Middleware func(next UnaryHandler) UnaryHandler

// AsyncMiddleware wraps an AsyncHandler to add cross-cutting behaviour.
type AsyncMiddleware func(next AsyncHandler) AsyncHandler

func chain(h UnaryHandler, mw []Middleware) UnaryHandler {
	for i := len(mw) - 1; i >= 0; i-- {
		h = mw[i](h)
	}
	return h
}

func chainAsync(h AsyncHandler, mw []AsyncMiddleware) AsyncHandler {
	for i := len(mw) - 1; i >= 0; i-- {
		h = mw[i](h)
	}
	return h
}

// LoggingMiddleware logs command execution with its duration and error.
func LoggingMiddleware(log *slog.Logger) Middleware {
	return func(next UnaryHandler) UnaryHandler {
		return func(ctx context.Context, cmd Command) (any, error) {
			start := time.Now()
			log.DebugContext(ctx, "command started",
				logger.Command(cmd.Name),
				logger.CorrelationID(cmd.ID))

			result, err := next(ctx, cmd)
			logCompletion(ctx, log, cmd, time.Since(start), err)
			return result, err
		}
	}
}

// AsyncLoggingMiddleware logs when the future returned by the handler settles.
func AsyncLoggingMiddleware(log *slog.Logger) AsyncMiddleware {
	return func(next AsyncHandler) AsyncHandler {
		return func(ctx context.Context, cmd Command) *async.Future[any] {
			start := time.Now()
			log.DebugContext(ctx, "command started",
				logger.Command(cmd.Name),
				logger.CorrelationID(cmd.ID))

			f := next(ctx, cmd)
			if f == nil {
				logCompletion(ctx, log, cmd, time.Since(start), nil)
				return nil
			}
			f.OnSettle(func(_ any, err error) {
				logCompletion(ctx, log, cmd, time.Since(start), err)
			})
			return f
		}
	}
}

func logCompletion(ctx context.Context, log *slog.Logger, cmd Command, d time.Duration, err error) {
	if err != nil {
		log.ErrorContext(ctx, "command failed",
			logger.Command(cmd.Name),
			logger.CorrelationID(cmd.ID),
			logger.Duration(d),
			logger.Error(err))
		return
	}
	log.InfoContext(ctx, "command completed",
		logger.Command(cmd.Name),
		logger.CorrelationID(cmd.ID),
		logger.Duration(d))
}

// RecoverMiddleware converts handler panics into errors wrapping ErrPanic.
func RecoverMiddleware(log *slog.Logger) Middleware {
	return func(next UnaryHandler) UnaryHandler {
		return func(ctx context.Context, cmd Command) (result any, err error) {
			defer func() {
				if r := recover(); r != nil {
					err = recovered(ctx, log, cmd, r)
				}
			}()
			return next(ctx, cmd)
		}
	}
}

// AsyncRecoverMiddleware converts panics raised while starting an async
// handler into a rejected future.
func AsyncRecoverMiddleware(log *slog.Logger) AsyncMiddleware {
	return func(next AsyncHandler) AsyncHandler {
		return func(ctx context.Context, cmd Command) (f *async.Future[any]) {
			defer func() {
				if r := recover(); r != nil {
					f = async.Rejected[any](recovered(ctx, log, cmd, r))
				}
			}()
			return next(ctx, cmd)
		}
	}
}

func recovered(ctx context.Context, log *slog.Logger, cmd Command, r any) error {
	log.ErrorContext(ctx, "command handler panicked",
		logger.Command(cmd.Name),
		logger.CorrelationID(cmd.ID),
		slog.Any("panic", r),
		slog.String("stack", string(debug.Stack())))
	return fmt.Errorf("%w: %s: %v", ErrPanic, cmd.Name, r)
}

// TracingMiddleware wraps handler execution in an OpenTelemetry span using the
// global tracer provider. Without a configured provider it is a pass-through.
func TracingMiddleware() Middleware {
	return TracingMiddlewareWithTracer(otel.Tracer(tracerName))
}

// TracingMiddlewareWithTracer is TracingMiddleware with an explicit tracer.
func TracingMiddlewareWithTracer(tracer trace.Tracer) Middleware {
	return func(next UnaryHandler) UnaryHandler {
		return func(ctx context.Context, cmd Command) (any, error) {
			ctx, span := startSpan(ctx, tracer, cmd)
			defer span.End()

			result, err := next(ctx, cmd)
			endSpan(span, err)
			return result, err
		}
	}
}

// AsyncTracingMiddleware is TracingMiddleware for async handlers. The span
// ends when the future settles.
func AsyncTracingMiddleware() AsyncMiddleware {
	return AsyncTracingMiddlewareWithTracer(otel.Tracer(tracerName))
}

// AsyncTracingMiddlewareWithTracer is AsyncTracingMiddleware with an explicit tracer.
func AsyncTracingMiddlewareWithTracer(tracer trace.Tracer) AsyncMiddleware {
	return func(next AsyncHandler) AsyncHandler {
		return func(ctx context.Context, cmd Command) *async.Future[any] {
			ctx, span := startSpan(ctx, tracer, cmd)

			f := next(ctx, cmd)
			if f == nil {
				endSpan(span, nil)
				span.End()
				return nil
			}
			f.OnSettle(func(_ any, err error) {
				endSpan(span, err)
				span.End()
			})
			return f
		}
	}
}

func startSpan(ctx context.Context, tracer trace.Tracer, cmd Command) (context.Context, trace.Span) {
	return tracer.Start(ctx, "command.execute",
		trace.WithAttributes(
			attribute.String("command.name", cmd.Name),
			attribute.String("command.id", cmd.ID),
			attribute.String("command.kind", cmd.Kind.String()),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return
	}
	span.SetStatus(codes.Ok, "")
}

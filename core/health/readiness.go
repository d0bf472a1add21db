package health

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/dmitrymomot/collidor/core/logger"
)

// Readiness verifies all peer dependencies are functioning.
// Returns "READY" if all checks pass, 503 Service Unavailable if any fail.
// Checks run in order and stop at the first failure.
//
// Example:
//
//	ready := health.Readiness(
//		logger,
//		pg.Healthcheck(pool),
//		redis.Healthcheck(client),
//	)
//	mux.Handle("GET /health/ready", ready)
func Readiness(log *slog.Logger, fn ...func(context.Context) error) http.HandlerFunc {
	if log == nil {
		log = logger.Discard()
	}
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		for _, f := range fn {
			if err := f(ctx); err != nil {
				log.ErrorContext(ctx, "Readiness check failed", logger.Error(err))
				writeText(w, http.StatusServiceUnavailable, http.StatusText(http.StatusServiceUnavailable))
				return
			}
		}

		writeText(w, http.StatusOK, "READY")
	}
}

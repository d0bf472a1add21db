// Package health provides HTTP handlers for peer health monitoring.
//
// Handlers:
//   - Liveness: process is running (no dependency checks)
//   - Readiness: every transport dependency answers
//   - NoContent: returns 204 for minimal overhead
//
// Usage:
//
//	mux.HandleFunc("GET /health/live", health.Liveness)
//	mux.Handle("GET /health/ready", health.Readiness(
//		logger,
//		redis.Healthcheck(client),
//		pg.Healthcheck(pool),
//	))
//	mux.HandleFunc("GET /ping", health.NoContent)
//
// Dependency checks must follow the func(context.Context) error signature:
//
//	func checkDB(ctx context.Context) error {
//		return pool.Ping(ctx)
//	}
package health

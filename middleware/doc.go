// Package middleware provides net/http middleware for the HTTP surface of a
// peer: the command endpoint, the WebSocket peer endpoint and health probes.
//
//	handler := middleware.Chain(mux,
//		middleware.RequestID(),
//		middleware.Logging(log),
//	)
//
// RequestID runs first so the logged line and every command executed for
// the request carry the same id. Both middleware keep http.Hijacker working,
// so WebSocket upgrades pass through them.
package middleware

// Package server runs the HTTP surface of a peer with graceful shutdown.
//
// A peer process exposes its HTTP command endpoint, its WebSocket peer
// endpoint and health probes on one listener. Connections that http.Server
// does not track, such as upgraded WebSockets, are closed through shutdown
// hooks before the listener drains.
//
//	s, err := server.NewFromConfig(cfg.Server,
//		server.WithLogger(log),
//		server.WithOnShutdown(func(context.Context) error { return peers.Close() }),
//	)
//	if err != nil {
//		return err
//	}
//
//	eg, ctx := errgroup.WithContext(ctx)
//	eg.Go(s.Run(ctx, mux))
//	return eg.Wait()
//
// Run returns a function for errgroup: it serves until the context is
// cancelled, then runs the hooks and shuts down within the shutdown timeout.
// Listening on port 0 picks a free port; Addr reports it once Ready is closed.
package server

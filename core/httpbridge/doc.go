// Package httpbridge forwards commands between dispatchers over plain HTTP.
//
// Client is a command.AsyncDispatcher plugin: commands with a local handler
// run locally, the rest are posted as {"name": N, "payload": P} to a static
// URL or one chosen per command. Server is the http.Handler on the receiving
// side; it executes the command on its dispatcher and answers with the JSON
// encoded result.
//
//	// receiving side
//	server := command.NewAsyncDispatcher()
//	command.Handle(server, Sum, sum)
//	http.Handle("/commands", httpbridge.NewServer(server))
//
//	// calling side
//	client := command.NewAsyncDispatcher(command.WithPlugin(
//		httpbridge.NewClient("http://localhost:8080/commands"),
//	))
//	n, err := command.ExecuteAsync(ctx, client, Sum, SumArgs{A: 1, B: 2}).Await(ctx)
//
// Non-2xx answers fail with *StatusError (matching ErrStatus) carrying the
// server's error message. Requests are never retried. Streams are not
// supported over HTTP; use package bridge for those.
package httpbridge

// Package bridge makes a command.AsyncDispatcher transparent across peers of a
// channel.Channel.
//
// Installed as the dispatcher plugin, a Bridge serves every locally
// registered command to the other peers and forwards commands without a local
// handler to whichever peer serves them. Callers cannot tell a remote result
// from a local one.
//
// # Wire protocol
//
// For a command named N the bridge uses four topics:
//
//	N              {id, payload}                 request, single consumer
//	N_Ack          {id}                          targeted at the requester
//	N_Response     {id, payload, done, error?}   targeted at the requester
//	N_Unsubscribe  {id}                          either direction
//
// Envelopes are encoded with the configured codec (JSON by default); all
// peers on a channel must agree on it. The error object carries message and
// an optional code and surfaces as *command.RemoteError.
//
// A request must be acknowledged or answered within the timeout (5s by
// default). After the first acknowledgement the call waits indefinitely. A
// timed out or cancelled call publishes N_Unsubscribe exactly once, targeted
// at the acknowledging peer when one is known. Late acknowledgements and
// responses are discarded.
//
// Outbound calls for one name share a single set of reply subscriptions that
// is dropped when the last call completes.
//
// # Usage
//
//	hub := channel.NewHub()
//
//	server := command.NewAsyncDispatcher(command.WithPlugin(bridge.New(hub.Connect("server"))))
//	command.Handle(server, Sum, func(ctx context.Context, a SumArgs) (int, error) {
//		return a.A + a.B, nil
//	})
//
//	client := command.NewAsyncDispatcher(command.WithPlugin(bridge.New(hub.Connect("client"))))
//	n, err := command.ExecuteAsync(ctx, client, Sum, SumArgs{A: 1, B: 2}).Await(ctx)
//
// Inbound handlers find the requesting peer and correlation id in
// command.MetaFromContext under MetaPeer and MetaCorrelationID.
package bridge

// Package channel defines the duplex message transport consumed by the event
// bus and the command bridge, and ships Hub, an in-memory implementation.
//
// A Channel publishes opaque payloads to topics and delivers them to the
// subscribed peers, never back to the publisher. Publish options narrow
// delivery: Target picks one peer, SingleConsumer asks for at most one.
//
//	hub := channel.NewHub()
//	a, b := hub.Connect("a"), hub.Connect("b")
//
//	sub, _ := b.Subscribe("Sum", func(ctx context.Context, msg channel.Message) {
//		fmt.Println(msg.Source, string(msg.Payload))
//	})
//	defer sub.Unsubscribe()
//
//	_ = a.Publish(ctx, "Sum", []byte(`{"a":1,"b":2}`), channel.SingleConsumer())
//
// Network transports live under integration/transport.
package channel

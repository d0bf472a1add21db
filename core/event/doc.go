// Package event provides an in-process publish/subscribe bus keyed by event
// name, with optional relay over a channel.Channel.
//
// Listeners registered with On run synchronously, in registration order, when
// an event with a matching name is emitted:
//
//	bus := event.New()
//	sub := bus.On(ctx, func(ctx context.Context, payload any) {
//		fmt.Println(payload)
//	}, "UserCreated", "UserDeleted")
//	defer sub.Unsubscribe()
//
//	bus.EmitByName(ctx, "UserCreated", user)
//
// Cancelling the context passed to On removes the listener as well.
//
// # Typed events
//
//	var UserCreated = event.Define[User]("UserCreated")
//
//	event.Listen(ctx, bus, UserCreated, func(ctx context.Context, u User) { ... })
//	event.Emit(ctx, bus, UserCreated, User{ID: "42"})
//
// # Relaying between peers
//
// With WithChannel every emitted event is also published on the channel under
// its name, wrapped in {payload, context}, where context is the bag snapshot.
// Events published by other peers reach local listeners only and are never
// re-published. Their payload arrives as codec.Value.
package event

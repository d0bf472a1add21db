package event

import (
	"context"

	"github.com/dmitrymomot/collidor/core/logger"
	"github.com/dmitrymomot/collidor/pkg/codec"
)

// Event is a named notification. Name is the stable identifier used both for
// local dispatch and as the channel topic.
type Event struct {
	Name    string
	Payload any
}

// Listener receives event payloads. Payloads relayed from a channel arrive as
// codec.Value and are decoded on demand.
type Listener func(ctx context.Context, payload any)

// Descriptor binds a stable event name to its payload type P.
//
//	var UserCreated = event.Define[User]("UserCreated")
//
//	event.Listen(ctx, bus, UserCreated, func(ctx context.Context, u User) { ... })
//	event.Emit(ctx, bus, UserCreated, user)
type Descriptor[P any] struct {
	name string
}

// Define declares an event.
func Define[P any](name string) Descriptor[P] {
	return Descriptor[P]{name: name}
}

// Name returns the event name.
func (d Descriptor[P]) Name() string { return d.name }

// New builds an event carrying payload.
func (d Descriptor[P]) New(payload P) Event {
	return Event{Name: d.name, Payload: payload}
}

// Listen subscribes a typed listener. Payloads that cannot be converted to P
// are logged and skipped.
func Listen[P any](ctx context.Context, b *Bus, d Descriptor[P], fn func(ctx context.Context, payload P)) *Subscription {
	return b.On(ctx, func(ctx context.Context, payload any) {
		p, err := codec.As[P](payload)
		if err != nil {
			b.logger.WarnContext(ctx, "event payload type mismatch",
				logger.Event(d.name),
				logger.Error(err))
			return
		}
		fn(ctx, p)
	}, d.name)
}

// Emit publishes a typed event.
func Emit[P any](ctx context.Context, b *Bus, d Descriptor[P], payload P) error {
	return b.Emit(ctx, d.New(payload))
}

// envelope is the channel representation of an event.
type envelope struct {
	Payload any            `json:"payload,omitempty" msgpack:"payload"`
	Context map[string]any `json:"context,omitempty" msgpack:"context,omitempty"`
}

type inboundEnvelope struct {
	Payload codec.RawMessage `json:"payload,omitempty" msgpack:"payload,omitempty"`
	Context map[string]any   `json:"context,omitempty" msgpack:"context,omitempty"`
}

package channel

import "context"

// Message is a payload received on a topic.
type Message struct {
	Topic   string
	Payload []byte
	// Source is the peer ID of the publisher.
	Source string
}

// Handler receives messages for a subscribed topic. Handlers of one Channel
// are invoked one at a time, in arrival order, and must not block for long.
type Handler func(ctx context.Context, msg Message)

// Subscription is an active topic subscription.
type Subscription interface {
	// Unsubscribe stops delivery. Calling it more than once is a no-op.
	Unsubscribe() error
}

// Channel is a duplex message transport between peers.
//
// Implementations never deliver a message back to the peer that published it.
type Channel interface {
	// PeerID identifies this peer on the channel.
	PeerID() string

	// Publish sends payload to the peers subscribed to topic.
	Publish(ctx context.Context, topic string, payload []byte, opts ...PublishOption) error

	// Subscribe registers h for topic.
	Subscribe(topic string, h Handler) (Subscription, error)
}

// PublishOptions controls delivery of a single message.
type PublishOptions struct {
	// SingleConsumer delivers to at most one subscribed peer when the
	// transport can enforce it.
	SingleConsumer bool

	// Target restricts delivery to one peer.
	Target string
}

// PublishOption configures PublishOptions.
type PublishOption func(*PublishOptions)

// SingleConsumer requests delivery to a single subscribed peer.
func SingleConsumer() PublishOption {
	return func(o *PublishOptions) { o.SingleConsumer = true }
}

// Target restricts delivery to peer. An empty peer leaves delivery unrestricted.
func Target(peer string) PublishOption {
	return func(o *PublishOptions) { o.Target = peer }
}

// ApplyOptions folds opts into PublishOptions. Intended for implementations.
func ApplyOptions(opts ...PublishOption) PublishOptions {
	var o PublishOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// SubscriptionFunc adapts a function to Subscription.
type SubscriptionFunc func() error

// Unsubscribe calls f.
func (f SubscriptionFunc) Unsubscribe() error { return f() }

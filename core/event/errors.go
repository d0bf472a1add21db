package event

import "errors"

var (
	// ErrClosed is returned when emitting on a closed bus.
	ErrClosed = errors.New("event bus is closed")

	// ErrPublish wraps failures to relay an event to the channel.
	ErrPublish = errors.New("failed to publish event")

	// ErrEmptyName is returned when an event has no name.
	ErrEmptyName = errors.New("event name is empty")
)

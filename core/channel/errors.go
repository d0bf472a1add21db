package channel

import "errors"

var (
	// ErrClosed is returned when publishing or subscribing on a closed channel.
	ErrClosed = errors.New("channel is closed")

	// ErrEmptyTopic is returned for operations without a topic.
	ErrEmptyTopic = errors.New("channel topic is empty")
)

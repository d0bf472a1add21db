package async

import "errors"

var (
	// ErrTimeout is returned by AwaitWithTimeout when the future does not settle in time.
	ErrTimeout = errors.New("async: timeout waiting for future")

	// ErrNoFutures is returned by Any when called without futures.
	ErrNoFutures = errors.New("async: no futures provided")
)

package httpbridge

import (
	"errors"
	"fmt"
)

var (
	// ErrStatus matches every *StatusError.
	ErrStatus = errors.New("unexpected HTTP status")

	// ErrBadRequest is returned by DecodeRequest for bodies that are not a command.
	ErrBadRequest = errors.New("invalid command request")

	// ErrUnsupportedMediaType is returned by DecodeRequest for non-JSON bodies.
	ErrUnsupportedMediaType = errors.New("unsupported media type, expected application/json")

	// ErrBodyTooLarge is returned by DecodeRequest when the body exceeds the limit.
	ErrBodyTooLarge = errors.New("request body too large")

	// ErrResponseTooLarge is returned by Client when a result exceeds the limit.
	ErrResponseTooLarge = errors.New("response body too large")
)

// StatusError reports a non-2xx answer to a forwarded command.
type StatusError struct {
	Command    string
	StatusCode int
	// Message is the server's error text when it sent one.
	Message string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("command %s: HTTP %d: %s", e.Command, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("command %s: HTTP %d", e.Command, e.StatusCode)
}

func (e *StatusError) Is(target error) bool { return target == ErrStatus }

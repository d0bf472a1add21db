package command

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when no handler is registered for a command.
	ErrNotFound = errors.New("no handler registered for command")

	// ErrTimeout is returned when a remote peer did not acknowledge a command in time.
	ErrTimeout = errors.New("command timed out waiting for acknowledgement")

	// ErrRemote matches every *RemoteError.
	ErrRemote = errors.New("remote handler failed")

	// ErrTransport matches every *TransportError.
	ErrTransport = errors.New("transport failure")

	// ErrCanceled is returned when the executing peer cancelled the request.
	ErrCanceled = errors.New("command cancelled by peer")

	// ErrPanic wraps a handler panic recovered by RecoverMiddleware.
	ErrPanic = errors.New("command handler panicked")

	// ErrInvalidPayload is returned when a payload or result does not match the declared type.
	ErrInvalidPayload = errors.New("invalid command payload")
)

// Error codes carried by RemoteError.
const (
	CodeNotFound       = "not_found"
	CodeTimeout        = "timeout"
	CodeCanceled       = "canceled"
	CodeInvalidPayload = "invalid_payload"
	CodePanic          = "panic"
)

// CodeOf returns the wire code for err, or an empty string.
func CodeOf(err error) string {
	var re *RemoteError
	switch {
	case errors.As(err, &re):
		return re.Code
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	case errors.Is(err, ErrTimeout):
		return CodeTimeout
	case errors.Is(err, ErrCanceled):
		return CodeCanceled
	case errors.Is(err, ErrInvalidPayload):
		return CodeInvalidPayload
	case errors.Is(err, ErrPanic):
		return CodePanic
	default:
		return ""
	}
}

// RemoteError carries the failure a peer reported for a command.
// It matches ErrRemote, and ErrNotFound when the peer had no handler.
type RemoteError struct {
	Command string
	Message string
	Code    string
}

func (e *RemoteError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("remote %s failed [%s]: %s", e.Command, e.Code, e.Message)
	}
	return fmt.Sprintf("remote %s failed: %s", e.Command, e.Message)
}

func (e *RemoteError) Is(target error) bool {
	return target == ErrRemote || (target == ErrNotFound && e.Code == CodeNotFound)
}

// TransportError wraps a channel failure without interpreting it.
type TransportError struct {
	Op    string
	Topic string
	Err   error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s %s: %v", e.Op, e.Topic, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

func (e *TransportError) Is(target error) bool { return target == ErrTransport }

func notFound(name string) error {
	return fmt.Errorf("%w: %s", ErrNotFound, name)
}

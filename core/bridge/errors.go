package bridge

import "errors"

var (
	// ErrClosed is returned for calls made through a closed bridge and used
	// to fail calls still pending when it closes.
	ErrClosed = errors.New("command bridge is closed")

	// ErrMalformed marks an envelope that could not be decoded.
	ErrMalformed = errors.New("malformed bridge envelope")
)

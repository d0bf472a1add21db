package codec

import "errors"

var (
	// ErrUnknownCodec is returned by ByName for unsupported codec names.
	ErrUnknownCodec = errors.New("codec: unknown codec")

	// ErrTypeMismatch is returned by As when a value cannot be converted to the requested type.
	ErrTypeMismatch = errors.New("codec: type mismatch")
)

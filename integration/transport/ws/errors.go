package ws

import "errors"

var (
	ErrDial             = errors.New("websocket dial failed")
	ErrUpgrade          = errors.New("websocket upgrade failed")
	ErrHandshake        = errors.New("websocket peer handshake failed")
	ErrUnsupportedCodec = errors.New("unsupported websocket subprotocol")
)

package ws

import (
	"context"
	"errors"
	"fmt"

	"github.com/gorilla/websocket"
)

// Dial connects to a WebSocket peer at url (ws:// or wss://) and offers the
// configured codec as subprotocol.
func Dial(ctx context.Context, url string, opts ...Option) (*Conn, error) {
	o := newOptions(opts...)
	dialer := websocket.Dialer{
		Proxy:            websocket.DefaultDialer.Proxy,
		HandshakeTimeout: o.handshakeTimeout,
		Subprotocols:     []string{subprotocol(o.codec)},
	}

	ws, resp, err := dialer.DialContext(ctx, url, o.header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			return nil, errors.Join(ErrDial, fmt.Errorf("%s: status %d: %w", url, resp.StatusCode, err))
		}
		return nil, errors.Join(ErrDial, err)
	}

	cd, err := codecFor(ws.Subprotocol(), o.codec)
	if err != nil {
		_ = ws.Close()
		return nil, err
	}
	conn, err := newConn(ws, cd, o)
	if err != nil {
		return nil, err
	}
	conn.start()
	return conn, nil
}

package bridge

import (
	"github.com/dmitrymomot/collidor/core/command"
	"github.com/dmitrymomot/collidor/pkg/codec"
)

// Topic suffixes derived from a command name.
const (
	suffixAck         = "_Ack"
	suffixResponse    = "_Response"
	suffixUnsubscribe = "_Unsubscribe"
)

func ackTopic(name string) string         { return name + suffixAck }
func responseTopic(name string) string    { return name + suffixResponse }
func unsubscribeTopic(name string) string { return name + suffixUnsubscribe }

// request is published on the command topic.
type request struct {
	ID      string `json:"id" msgpack:"id"`
	Payload any    `json:"payload,omitempty" msgpack:"payload"`
}

type inboundRequest struct {
	ID      string           `json:"id" msgpack:"id"`
	Payload codec.RawMessage `json:"payload,omitempty" msgpack:"payload,omitempty"`
}

// signal is the body of both acknowledgements and unsubscribe notices.
type signal struct {
	ID string `json:"id" msgpack:"id"`
}

type response struct {
	ID      string     `json:"id" msgpack:"id"`
	Payload any        `json:"payload,omitempty" msgpack:"payload"`
	Done    bool       `json:"done" msgpack:"done"`
	Error   *wireError `json:"error,omitempty" msgpack:"error,omitempty"`
}

type inboundResponse struct {
	ID      string           `json:"id" msgpack:"id"`
	Payload codec.RawMessage `json:"payload,omitempty" msgpack:"payload,omitempty"`
	Done    bool             `json:"done" msgpack:"done"`
	Error   *wireError       `json:"error,omitempty" msgpack:"error,omitempty"`
}

type wireError struct {
	Message string `json:"message" msgpack:"message"`
	Code    string `json:"code,omitempty" msgpack:"code,omitempty"`
}

func toWireError(err error) *wireError {
	if err == nil {
		return nil
	}
	return &wireError{Message: err.Error(), Code: command.CodeOf(err)}
}

func (e *wireError) remote(name string) error {
	return &command.RemoteError{Command: name, Message: e.Message, Code: e.Code}
}

// value wraps a received payload, or returns nil when it carries no data.
func value(raw codec.RawMessage, c codec.Codec) any {
	if raw.IsNull() {
		return nil
	}
	return codec.NewValue(raw, c)
}

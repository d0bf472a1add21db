package codec

import (
	"encoding/json"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// Codec identifiers accepted by ByName.
const (
	NameJSON    = "json"
	NameMsgpack = "msgpack"
)

// Codec serializes envelopes to bytes and back.
type Codec interface {
	// Name returns the codec identifier, e.g. "json" or "msgpack".
	Name() string

	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

var (
	// JSON encodes with encoding/json.
	JSON Codec = jsonCodec{}

	// Msgpack encodes with MessagePack.
	Msgpack Codec = msgpackCodec{}
)

// ByName returns the codec registered under name. An empty name selects JSON.
func ByName(name string) (Codec, error) {
	switch name {
	case NameJSON, "":
		return JSON, nil
	case NameMsgpack:
		return Msgpack, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownCodec, name)
	}
}

type jsonCodec struct{}

func (jsonCodec) Name() string                       { return NameJSON }
func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

type msgpackCodec struct{}

func (msgpackCodec) Name() string                       { return NameMsgpack }
func (msgpackCodec) Marshal(v any) ([]byte, error)      { return msgpack.Marshal(v) }
func (msgpackCodec) Unmarshal(data []byte, v any) error { return msgpack.Unmarshal(data, v) }

package codec

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

var jsonNull = []byte("null")

// RawMessage holds an encoded value as-is. It implements the JSON and
// MessagePack marshaling hooks so it can sit inside envelopes of either codec.
type RawMessage []byte

// IsNull reports whether the message is empty or an encoded nil.
func (m RawMessage) IsNull() bool {
	if len(m) == 0 {
		return true
	}
	if bytes.Equal(m, jsonNull) {
		return true
	}
	return len(m) == 1 && m[0] == msgpackNil
}

// msgpackNil is the MessagePack nil marker.
const msgpackNil = 0xc0

func (m RawMessage) MarshalJSON() ([]byte, error) {
	if len(m) == 0 {
		return jsonNull, nil
	}
	return m, nil
}

func (m *RawMessage) UnmarshalJSON(data []byte) error {
	*m = append((*m)[:0], data...)
	return nil
}

func (m RawMessage) EncodeMsgpack(enc *msgpack.Encoder) error {
	if len(m) == 0 {
		return enc.EncodeNil()
	}
	return enc.Encode(msgpack.RawMessage(m))
}

func (m *RawMessage) DecodeMsgpack(dec *msgpack.Decoder) error {
	raw, err := dec.DecodeRaw()
	if err != nil {
		return err
	}
	*m = append((*m)[:0], raw...)
	return nil
}

// Decoder is implemented by payloads that arrive encoded and are decoded on demand.
type Decoder interface {
	Decode(v any) error
}

// Value is an encoded payload paired with the codec that produced it.
type Value struct {
	raw   RawMessage
	codec Codec
}

// NewValue wraps raw bytes produced by c.
func NewValue(raw RawMessage, c Codec) Value {
	if c == nil {
		c = JSON
	}
	return Value{raw: raw, codec: c}
}

// Raw returns the encoded bytes.
func (v Value) Raw() RawMessage { return v.raw }

// Codec returns the codec the bytes were produced with.
func (v Value) Codec() Codec { return v.codec }

// IsNull reports whether the value holds no data.
func (v Value) IsNull() bool { return v.raw.IsNull() }

// IsZero lets MessagePack omitempty treat only a null value as empty.
func (v Value) IsZero() bool { return v.raw.IsNull() }

// Decode unmarshals the value into dst.
func (v Value) Decode(dst any) error {
	if v.raw.IsNull() {
		return nil
	}
	return v.codec.Unmarshal(v.raw, dst)
}

// MarshalJSON re-encodes the value as JSON so it can be forwarded unchanged.
func (v Value) MarshalJSON() ([]byte, error) {
	if v.raw.IsNull() {
		return jsonNull, nil
	}
	if v.codec.Name() == NameJSON {
		return v.raw.MarshalJSON()
	}
	generic, err := v.generic()
	if err != nil {
		return nil, err
	}
	return json.Marshal(generic)
}

// EncodeMsgpack re-encodes the value as MessagePack so it can be forwarded unchanged.
func (v Value) EncodeMsgpack(enc *msgpack.Encoder) error {
	if v.raw.IsNull() {
		return enc.EncodeNil()
	}
	if v.codec.Name() == NameMsgpack {
		return v.raw.EncodeMsgpack(enc)
	}
	generic, err := v.generic()
	if err != nil {
		return err
	}
	return enc.Encode(generic)
}

// generic decodes the value into plain Go values. Integral JSON numbers
// become int64 so MessagePack receivers can decode them into integer fields.
func (v Value) generic() (any, error) {
	var out any
	if v.codec.Name() != NameJSON {
		err := v.Decode(&out)
		return out, err
	}
	dec := json.NewDecoder(bytes.NewReader(v.raw))
	dec.UseNumber()
	if err := dec.Decode(&out); err != nil {
		return nil, err
	}
	return normalizeNumbers(out), nil
}

func normalizeNumbers(v any) any {
	switch x := v.(type) {
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return i
		}
		f, _ := x.Float64()
		return f
	case map[string]any:
		for k, e := range x {
			x[k] = normalizeNumbers(e)
		}
	case []any:
		for i, e := range x {
			x[i] = normalizeNumbers(e)
		}
	}
	return v
}

// As converts v to T. It accepts values already of type T, Decoder
// implementations (such as Value) and raw JSON bytes. A nil v yields the
// zero value of T.
func As[T any](v any) (T, error) {
	var zero T

	switch x := v.(type) {
	case nil:
		return zero, nil
	case T:
		return x, nil
	case Decoder:
		var out T
		if err := x.Decode(&out); err != nil {
			return zero, fmt.Errorf("%w: decode into %T: %v", ErrTypeMismatch, zero, err)
		}
		return out, nil
	case []byte:
		return unmarshalJSON[T](x)
	case json.RawMessage:
		return unmarshalJSON[T](x)
	default:
		return zero, fmt.Errorf("%w: expected %T, got %T", ErrTypeMismatch, zero, v)
	}
}

func unmarshalJSON[T any](data []byte) (T, error) {
	var out T
	if err := json.Unmarshal(data, &out); err != nil {
		var zero T
		return zero, fmt.Errorf("%w: unmarshal into %T: %v", ErrTypeMismatch, zero, err)
	}
	return out, nil
}

// Package codec encodes wire envelopes and defers payload decoding until the
// receiver knows the concrete type.
//
// Two codecs ship with the package: JSON (the default) and MessagePack.
// Envelopes carry their payload as a RawMessage, which keeps the encoded
// bytes untouched on decode. A Value pairs those bytes with the codec that
// produced them so the final consumer can decode into its own type:
//
//	var env struct {
//		ID      string           `json:"id" msgpack:"id"`
//		Payload codec.RawMessage `json:"payload" msgpack:"payload"`
//	}
//	_ = codec.JSON.Unmarshal(data, &env)
//
//	v := codec.NewValue(env.Payload, codec.JSON)
//	sum, err := codec.As[Sum](v)
//
// As also accepts values that already have the requested type and raw JSON
// bytes, so handlers work the same for local and remote callers.
package codec

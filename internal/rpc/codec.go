package rpc

import "github.com/vmihailenco/msgpack/v5"

// Codec is the external serializer boundary (§6): encode/decode a single
// value with a field index matching its positional index among a call's
// arguments or a message's fields, so a codec with field-aware encoding
// (tags, stable numbering) can special-case particular positions.
type Codec interface {
	Encode(v interface{}, fieldIndex int) ([]byte, error)
	Decode(data []byte, out interface{}, fieldIndex int) error
}

// MsgpackCodec is the default Codec, grounded in the teacher's own
// msgpack wrapper. msgpack values are self-describing, so fieldIndex is
// accepted for interface parity but otherwise unused.
type MsgpackCodec struct{}

func (MsgpackCodec) Encode(v interface{}, _ int) ([]byte, error) {
	return msgpack.Marshal(v)
}

func (MsgpackCodec) Decode(data []byte, out interface{}, _ int) error {
	return msgpack.Unmarshal(data, out)
}

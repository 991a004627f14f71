package codec

import (
	"bytes"

	"github.com/vmihailenco/msgpack/v5"
)

// Msgpack creates a codec using the msgpack format.
// Map keys are sorted while encoding so that equal values produce equal bytes.
func Msgpack[T any]() Codec[T] {
	return &msgpackCodecImpl[T]{}
}

// msgpackCodecImpl implements the Codec interface using msgpack encoding
type msgpackCodecImpl[T any] struct {
}

// --------------------------------------------------------------------------
// Interface Methods (docu see codec.Codec)
// --------------------------------------------------------------------------

func (m msgpackCodecImpl[T]) Encode(v T) ([]byte, error) {
	buf := bytes.NewBuffer(withHeader(FormatMsgpack, 64))
	enc := msgpack.NewEncoder(buf)
	enc.SetSortMapKeys(true)
	if err := enc.Encode(v); err != nil {
		return nil, newError(FormatMsgpack, "encode", "encoding failed", err)
	}
	return buf.Bytes(), nil
}

func (m msgpackCodecImpl[T]) Decode(b []byte) (T, error) {
	var v T

	p, err := payload(FormatMsgpack, b)
	if err != nil {
		return v, err
	}

	r := bytes.NewReader(p)
	dec := msgpack.NewDecoder(r)
	dec.DisallowUnknownFields(true)
	if err := dec.Decode(&v); err != nil {
		return v, newError(FormatMsgpack, "decode", "decoding failed", err)
	}
	if r.Len() != 0 {
		return v, newError(FormatMsgpack, "decode", "trailing data after value", nil)
	}
	return v, nil
}

func (m msgpackCodecImpl[T]) Format() Format {
	return FormatMsgpack
}

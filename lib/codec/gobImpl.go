package codec

import (
	"bytes"
	"encoding/gob"
)

// Gob creates a codec using Go's binary gob format.
// A fresh encoder is used for each value, so every encoding carries its own
// type description and is independent of earlier calls. Gob does not sort map
// entries, so types containing maps must not be used as keys with this codec.
func Gob[T any]() Codec[T] {
	return &gobCodecImpl[T]{}
}

// gobCodecImpl implements the Codec interface using gob encoding
type gobCodecImpl[T any] struct {
}

// --------------------------------------------------------------------------
// Interface Methods (docu see codec.Codec)
// --------------------------------------------------------------------------

func (g gobCodecImpl[T]) Encode(v T) ([]byte, error) {
	buf := bytes.NewBuffer(withHeader(FormatGOB, 64))
	if err := gob.NewEncoder(buf).Encode(&v); err != nil {
		return nil, newError(FormatGOB, "encode", "encoding failed", err)
	}
	return buf.Bytes(), nil
}

func (g gobCodecImpl[T]) Decode(b []byte) (T, error) {
	var v T

	p, err := payload(FormatGOB, b)
	if err != nil {
		return v, err
	}

	r := bytes.NewReader(p)
	if err := gob.NewDecoder(r).Decode(&v); err != nil {
		return v, newError(FormatGOB, "decode", "decoding failed", err)
	}
	if r.Len() != 0 {
		return v, newError(FormatGOB, "decode", "trailing data after value", nil)
	}
	return v, nil
}

func (g gobCodecImpl[T]) Format() Format {
	return FormatGOB
}

package codec

import (
	"bytes"
	"encoding/json"
)

// JSON creates a codec using encoding/json. Unknown object fields are rejected on decode.
// Map keys are sorted by encoding/json, so the output is deterministic.
func JSON[T any]() Codec[T] {
	return &jsonCodecImpl[T]{}
}

// jsonCodecImpl implements the Codec interface using JSON encoding
type jsonCodecImpl[T any] struct {
}

// --------------------------------------------------------------------------
// Interface Methods (docu see codec.Codec)
// --------------------------------------------------------------------------

func (j jsonCodecImpl[T]) Encode(v T) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, newError(FormatJSON, "encode", "marshal failed", err)
	}
	return append(withHeader(FormatJSON, len(data)), data...), nil
}

func (j jsonCodecImpl[T]) Decode(b []byte) (T, error) {
	var v T

	p, err := payload(FormatJSON, b)
	if err != nil {
		return v, err
	}

	dec := json.NewDecoder(bytes.NewReader(p))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&v); err != nil {
		return v, newError(FormatJSON, "decode", "unmarshal failed", err)
	}
	if dec.More() {
		return v, newError(FormatJSON, "decode", "trailing data after value", nil)
	}
	return v, nil
}

func (j jsonCodecImpl[T]) Format() Format {
	return FormatJSON
}

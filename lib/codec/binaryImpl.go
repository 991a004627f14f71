package codec

import (
	"encoding/binary"
	"fmt"
	"math"
)

// binaryCodecImpl implements Codec[T] using a fixed binary layout.
// size is the exact payload length, or -1 for variable length payloads
// which extend to the end of the input.
type binaryCodecImpl[T any] struct {
	size int
	put  func(dst []byte, v T) []byte
	get  func(b []byte) (T, error)
}

// String returns a codec storing the raw bytes of a string.
func String() Codec[string] {
	return &binaryCodecImpl[string]{
		size: -1,
		put:  func(dst []byte, v string) []byte { return append(dst, v...) },
		get:  func(b []byte) (string, error) { return string(b), nil },
	}
}

// Bytes returns a codec storing a byte slice as is. A nil slice decodes as an empty slice.
func Bytes() Codec[[]byte] {
	return &binaryCodecImpl[[]byte]{
		size: -1,
		put:  func(dst []byte, v []byte) []byte { return append(dst, v...) },
		get: func(b []byte) ([]byte, error) {
			out := make([]byte, len(b))
			copy(out, b)
			return out, nil
		},
	}
}

// Int64 returns a codec storing an int64 as 8 big endian bytes.
func Int64() Codec[int64] {
	return &binaryCodecImpl[int64]{
		size: 8,
		put:  func(dst []byte, v int64) []byte { return binary.BigEndian.AppendUint64(dst, uint64(v)) },
		get:  func(b []byte) (int64, error) { return int64(binary.BigEndian.Uint64(b)), nil },
	}
}

// Uint64 returns a codec storing an uint64 as 8 big endian bytes.
func Uint64() Codec[uint64] {
	return &binaryCodecImpl[uint64]{
		size: 8,
		put:  func(dst []byte, v uint64) []byte { return binary.BigEndian.AppendUint64(dst, v) },
		get:  func(b []byte) (uint64, error) { return binary.BigEndian.Uint64(b), nil },
	}
}

// Float64 returns a codec storing the IEEE 754 bits of a float64.
// Note: NaN values are stored but NaN != NaN, so they are poor map keys.
func Float64() Codec[float64] {
	return &binaryCodecImpl[float64]{
		size: 8,
		put: func(dst []byte, v float64) []byte {
			return binary.BigEndian.AppendUint64(dst, math.Float64bits(v))
		},
		get: func(b []byte) (float64, error) { return math.Float64frombits(binary.BigEndian.Uint64(b)), nil },
	}
}

// Bool returns a codec storing a bool as a single byte (0 or 1).
func Bool() Codec[bool] {
	return &binaryCodecImpl[bool]{
		size: 1,
		put: func(dst []byte, v bool) []byte {
			if v {
				return append(dst, 1)
			}
			return append(dst, 0)
		},
		get: func(b []byte) (bool, error) {
			switch b[0] {
			case 0:
				return false, nil
			case 1:
				return true, nil
			default:
				return false, fmt.Errorf("invalid bool byte 0x%02x", b[0])
			}
		},
	}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see codec.Codec)
// --------------------------------------------------------------------------

func (c *binaryCodecImpl[T]) Encode(v T) ([]byte, error) {
	size := c.size
	if size < 0 {
		size = 0
	}
	return c.put(withHeader(FormatBinary, size), v), nil
}

func (c *binaryCodecImpl[T]) Decode(b []byte) (T, error) {
	var zero T

	p, err := payload(FormatBinary, b)
	if err != nil {
		return zero, err
	}

	// fixed size payloads must match exactly, trailing bytes are an error
	if c.size >= 0 && len(p) != c.size {
		return zero, newError(FormatBinary, "decode",
			fmt.Sprintf("invalid payload length %d (expected %d)", len(p), c.size), nil)
	}

	v, err := c.get(p)
	if err != nil {
		return zero, newError(FormatBinary, "decode", "invalid payload", err)
	}
	return v, nil
}

func (c *binaryCodecImpl[T]) Format() Format {
	return FormatBinary
}

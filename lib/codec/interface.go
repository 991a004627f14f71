package codec

import "fmt"

// --------------------------------------------------------------------------
// Interface Definition
// --------------------------------------------------------------------------

// Codec converts values of a static type T to and from byte sequences.
// Implementations used for map keys must be deterministic: equal values must
// always produce identical bytes, since the bytes are used as the lookup term.
type Codec[T any] interface {
	// Encode serializes v. The returned slice starts with the format header.
	Encode(v T) ([]byte, error)
	// Decode deserializes b into a T. It returns an *Error if b is malformed,
	// carries a different format header or does not match the shape of T.
	Decode(b []byte) (T, error)
	// Format returns the format tag written by this codec.
	Format() Format
}

// --------------------------------------------------------------------------
// Format Header
// --------------------------------------------------------------------------

// Format identifies the encoding of a serialized value. It is written as the
// first byte of every encoded value, followed by the format version.
type Format byte

const (
	FormatUnknown Format = iota // 0: never written
	FormatBinary                // 1: fixed binary layouts for primitive types
	FormatJSON                  // 2: encoding/json
	FormatGOB                   // 3: encoding/gob
	FormatMsgpack               // 4: msgpack with sorted map keys
)

// formatVersion is bumped whenever the payload layout of any format changes.
const formatVersion byte = 1

// headerSize is the number of bytes in front of every payload (format + version).
const headerSize = 2

func (f Format) String() string {
	switch f {
	case FormatBinary:
		return "binary"
	case FormatJSON:
		return "json"
	case FormatGOB:
		return "gob"
	case FormatMsgpack:
		return "msgpack"
	default:
		return "unknown"
	}
}

// withHeader returns a buffer holding the header for f, with room for size more bytes.
func withHeader(f Format, size int) []byte {
	buf := make([]byte, headerSize, headerSize+size)
	buf[0] = byte(f)
	buf[1] = formatVersion
	return buf
}

// payload validates the header of b against f and returns the bytes after it.
func payload(f Format, b []byte) ([]byte, error) {
	if len(b) < headerSize {
		return nil, newError(f, "decode", "data too short for header", nil)
	}
	if got := Format(b[0]); got != f {
		return nil, newError(f, "decode", fmt.Sprintf("format mismatch: got %s, expected %s", got, f), nil)
	}
	if b[1] != formatVersion {
		return nil, newError(f, "decode", fmt.Sprintf("unsupported version: %d (expected %d)", b[1], formatVersion), nil)
	}
	return b[headerSize:], nil
}

// --------------------------------------------------------------------------
// Custom Error Type
// --------------------------------------------------------------------------

// Error is returned by all codecs when a value can not be encoded or decoded.
type Error struct {
	Format Format // The codec format
	Op     string // "encode" or "decode"
	Msg    string // The error message
	Err    error  // The underlying error (may be nil)
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("CodecError (%s %s): %s: %v", e.Format, e.Op, e.Msg, e.Err)
	}
	return fmt.Sprintf("CodecError (%s %s): %s", e.Format, e.Op, e.Msg)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

func newError(f Format, op, msg string, err error) *Error {
	return &Error{
		Format: f,
		Op:     op,
		Msg:    msg,
		Err:    err,
	}
}

// Package codec provides typed serialization for the keys and values of an ixmap.
// It defines a generic Codec interface and multiple implementations that turn
// statically typed values into byte sequences and back.
//
// The package focuses on:
//   - A consistent, generic interface for different serialization formats
//   - Explicit, versioned framing so that stored bytes can be validated on read
//   - Deterministic encodings, because encoded keys are used as index terms
//   - Clear errors for malformed or mismatching data instead of silent zero values
//
// Key Components:
//
//   - Codec[T]: Core interface that all codec implementations must satisfy.
//
//   - binaryCodecImpl: Fixed binary layouts for string, []byte, int64, uint64,
//     float64 and bool. The smallest and fastest encodings; recommended for keys.
//
//   - jsonCodecImpl: encoding/json based codec for arbitrary types. Human readable
//     and deterministic (map keys are sorted). Unknown fields are rejected on decode.
//
//   - gobCodecImpl: encoding/gob based codec. Each value carries its own type
//     description, which makes it large. Not deterministic for maps.
//
//   - msgpackCodecImpl: msgpack based codec with sorted map keys. Compact and
//     deterministic, a good default for structured values.
//
// Wire Format:
//
//	Every encoded value starts with a two byte header: the Format tag and the
//	format version. Decoding checks both bytes before looking at the payload, so
//	bytes written by a different codec (or an older layout) are reported as an
//	*Error rather than being misinterpreted.
//
//	  +--------+---------+-------------------+
//	  | format | version | payload ...       |
//	  +--------+---------+-------------------+
//
// Thread Safety:
//
//	All codec implementations are stateless and safe for concurrent use
//	across multiple goroutines without additional synchronization.
//
// Usage:
//
//	  keys := codec.String()
//	  values := codec.Msgpack[Profile]()
//	  data, err := values.Encode(profile)
//	  // ... store data ...
//	  profile, err = values.Decode(data)
package codec

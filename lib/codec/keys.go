package codec

import "reflect"

// Deterministic reports whether c encodes equal values of T to equal bytes,
// which is required for codecs used for map keys. The binary, JSON and
// msgpack codecs sort map entries and are always deterministic. Gob writes
// map entries in iteration order, so gob codecs are only deterministic for
// types that cannot hold a map.
func Deterministic[T any](c Codec[T]) bool {
	if c.Format() != FormatGOB {
		return true
	}
	return !mayHoldMap(reflect.TypeOf((*T)(nil)).Elem(), map[reflect.Type]bool{})
}

// mayHoldMap reports whether a value of t can contain a map. Interfaces are
// assumed to, their dynamic type is unknown.
func mayHoldMap(t reflect.Type, seen map[reflect.Type]bool) bool {
	if seen[t] {
		return false
	}
	seen[t] = true

	switch t.Kind() {
	case reflect.Map, reflect.Interface:
		return true
	case reflect.Pointer, reflect.Slice, reflect.Array:
		return mayHoldMap(t.Elem(), seen)
	case reflect.Struct:
		for i := 0; i < t.NumField(); i++ {
			if mayHoldMap(t.Field(i).Type, seen) {
				return true
			}
		}
	}
	return false
}

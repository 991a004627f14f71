package codec

import (
	"bytes"
	"errors"
	"math"
	"reflect"
	"testing"
)

// testRecord is a structured value used with the generic codecs
type testRecord struct {
	Name   string            `json:"name" msgpack:"name"`
	Count  int               `json:"count" msgpack:"count"`
	Tags   []string          `json:"tags" msgpack:"tags"`
	Labels map[string]string `json:"labels" msgpack:"labels"`
}

// testRecordCodecs is a map of codec name to factory function for structured values
var testRecordCodecs = map[string]func() Codec[testRecord]{
	"JSON":    JSON[testRecord],
	"GOB":     Gob[testRecord],
	"Msgpack": Msgpack[testRecord],
}

// testRecords creates a set of records with different fields filled
func testRecords() []testRecord {
	return []testRecord{
		{Name: "only-name"},
		{Name: "counter", Count: 42},
		{Name: "tagged", Tags: []string{"a", "b", "c"}},
		{
			Name:   "complete",
			Count:  -7,
			Tags:   []string{"x"},
			Labels: map[string]string{"z": "1", "a": "2", "m": "3"},
		},
	}
}

// TestRecordRoundTrip tests that records can be encoded and decoded correctly
func TestRecordRoundTrip(t *testing.T) {
	for name, factory := range testRecordCodecs {
		t.Run(name, func(t *testing.T) {
			c := factory()

			for i, rec := range testRecords() {
				data, err := c.Encode(rec)
				if err != nil {
					t.Errorf("Failed to encode record %d: %v", i, err)
					continue
				}

				result, err := c.Decode(data)
				if err != nil {
					t.Errorf("Failed to decode record %d: %v", i, err)
					continue
				}

				if !reflect.DeepEqual(rec, result) {
					t.Errorf("Record %d doesn't match after round trip:\nOriginal: %+v\nResult: %+v",
						i, rec, result)
				}
			}
		})
	}
}

// TestPrimitiveRoundTrip tests the fixed binary codecs
func TestPrimitiveRoundTrip(t *testing.T) {
	t.Run("String", func(t *testing.T) {
		c := String()
		for _, v := range []string{"", "key", "ünïcödé", string([]byte{0, 1, 2, 255})} {
			data, err := c.Encode(v)
			if err != nil {
				t.Fatalf("Failed to encode %q: %v", v, err)
			}
			got, err := c.Decode(data)
			if err != nil {
				t.Fatalf("Failed to decode %q: %v", v, err)
			}
			if got != v {
				t.Errorf("Expected %q, got %q", v, got)
			}
		}
	})

	t.Run("Bytes", func(t *testing.T) {
		c := Bytes()
		for _, v := range [][]byte{{}, []byte("value"), make([]byte, 4096)} {
			data, err := c.Encode(v)
			if err != nil {
				t.Fatalf("Failed to encode: %v", err)
			}
			got, err := c.Decode(data)
			if err != nil {
				t.Fatalf("Failed to decode: %v", err)
			}
			if !bytes.Equal(got, v) {
				t.Errorf("Expected %v, got %v", v, got)
			}
		}
	})

	t.Run("Int64", func(t *testing.T) {
		c := Int64()
		for _, v := range []int64{0, 1, -1, math.MaxInt64, math.MinInt64} {
			data, _ := c.Encode(v)
			got, err := c.Decode(data)
			if err != nil || got != v {
				t.Errorf("Expected %d, got %d (err=%v)", v, got, err)
			}
		}
	})

	t.Run("Uint64", func(t *testing.T) {
		c := Uint64()
		for _, v := range []uint64{0, 1, math.MaxUint64} {
			data, _ := c.Encode(v)
			got, err := c.Decode(data)
			if err != nil || got != v {
				t.Errorf("Expected %d, got %d (err=%v)", v, got, err)
			}
		}
	})

	t.Run("Float64", func(t *testing.T) {
		c := Float64()
		for _, v := range []float64{0, -0.5, math.Pi, math.Inf(1), math.SmallestNonzeroFloat64} {
			data, _ := c.Encode(v)
			got, err := c.Decode(data)
			if err != nil || got != v {
				t.Errorf("Expected %v, got %v (err=%v)", v, got, err)
			}
		}
	})

	t.Run("Bool", func(t *testing.T) {
		c := Bool()
		for _, v := range []bool{true, false} {
			data, _ := c.Encode(v)
			got, err := c.Decode(data)
			if err != nil || got != v {
				t.Errorf("Expected %v, got %v (err=%v)", v, got, err)
			}
		}
	})
}

// TestDeterministicEncoding tests that equal values always produce equal bytes,
// which is required for keys since the bytes are used as index terms
func TestDeterministicEncoding(t *testing.T) {
	rec := testRecord{
		Name:   "deterministic",
		Labels: map[string]string{"k1": "v1", "k2": "v2", "k3": "v3", "k4": "v4", "k5": "v5"},
	}

	for name, factory := range map[string]func() Codec[testRecord]{
		"JSON":    JSON[testRecord],
		"Msgpack": Msgpack[testRecord],
	} {
		t.Run(name, func(t *testing.T) {
			c := factory()
			first, err := c.Encode(rec)
			if err != nil {
				t.Fatalf("Failed to encode: %v", err)
			}
			for i := 0; i < 50; i++ {
				again, _ := c.Encode(rec)
				if !bytes.Equal(first, again) {
					t.Fatalf("Encoding %d differs from the first encoding", i)
				}
			}
		})
	}
}

// TestDecodeErrors tests that malformed input is reported as *Error
func TestDecodeErrors(t *testing.T) {
	strData, _ := String().Encode("value")
	intData, _ := Int64().Encode(1)
	jsonData, _ := JSON[testRecord]().Encode(testRecord{Name: "x"})

	cases := []struct {
		name string
		fn   func() error
	}{
		{"Empty", func() error { _, err := String().Decode(nil); return err }},
		{"HeaderOnly", func() error { _, err := Int64().Decode([]byte{byte(FormatBinary)}); return err }},
		{"WrongFormat", func() error { _, err := JSON[string]().Decode(strData); return err }},
		{"WrongVersion", func() error {
			data := append([]byte{}, strData...)
			data[1] = formatVersion + 1
			_, err := String().Decode(data)
			return err
		}},
		{"ShortInt", func() error { _, err := Int64().Decode(intData[:len(intData)-1]); return err }},
		{"TrailingInt", func() error { _, err := Int64().Decode(append(append([]byte{}, intData...), 0)); return err }},
		{"InvalidBool", func() error { _, err := Bool().Decode([]byte{byte(FormatBinary), formatVersion, 7}); return err }},
		{"JSONShapeMismatch", func() error { _, err := JSON[int]().Decode(jsonData); return err }},
		{"JSONUnknownField", func() error {
			type other struct {
				Other string `json:"other"`
			}
			_, err := JSON[other]().Decode(jsonData)
			return err
		}},
		{"GOBGarbage", func() error { _, err := Gob[testRecord]().Decode([]byte{byte(FormatGOB), formatVersion, 1, 2, 3}); return err }},
		{"MsgpackGarbage", func() error {
			_, err := Msgpack[testRecord]().Decode([]byte{byte(FormatMsgpack), formatVersion, 0xc1})
			return err
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.fn()
			if err == nil {
				t.Fatalf("Expected an error")
			}
			var codecErr *Error
			if !errors.As(err, &codecErr) {
				t.Fatalf("Expected *codec.Error, got %T: %v", err, err)
			}
			if codecErr.Op != "decode" {
				t.Errorf("Expected op decode, got %s", codecErr.Op)
			}
		})
	}
}

// TestFormatHeader tests that every codec writes its own format tag
func TestFormatHeader(t *testing.T) {
	check := func(name string, data []byte, f Format) {
		if len(data) < headerSize || Format(data[0]) != f || data[1] != formatVersion {
			t.Errorf("%s: invalid header %v (expected %s)", name, data[:min(len(data), headerSize)], f)
		}
	}

	data, _ := String().Encode("x")
	check("String", data, FormatBinary)
	data, _ = JSON[string]().Encode("x")
	check("JSON", data, FormatJSON)
	data, _ = Gob[string]().Encode("x")
	check("GOB", data, FormatGOB)
	data, _ = Msgpack[string]().Encode("x")
	check("Msgpack", data, FormatMsgpack)
}

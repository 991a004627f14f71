package codec

import (
	"testing"
)

func benchmarkCodec[T any](b *testing.B, c Codec[T], v T) {
	data, err := c.Encode(v)
	if err != nil {
		b.Fatalf("encode failed: %v", err)
	}

	b.Run("Encode", func(b *testing.B) {
		b.ReportAllocs()
		for i := 0; i < b.N; i++ {
			_, _ = c.Encode(v)
		}
	})

	b.Run("Decode", func(b *testing.B) {
		b.ReportAllocs()
		b.SetBytes(int64(len(data)))
		for i := 0; i < b.N; i++ {
			_, _ = c.Decode(data)
		}
	})
}

func BenchmarkString(b *testing.B) {
	benchmarkCodec(b, String(), "some-typical-map-key")
}

func BenchmarkInt64(b *testing.B) {
	benchmarkCodec(b, Int64(), int64(1234567890))
}

func BenchmarkRecord(b *testing.B) {
	rec := testRecord{
		Name:   "benchmark",
		Count:  100,
		Tags:   []string{"a", "b", "c", "d"},
		Labels: map[string]string{"env": "prod", "zone": "eu", "tier": "gold"},
	}
	for name, factory := range testRecordCodecs {
		b.Run(name, func(b *testing.B) {
			benchmarkCodec(b, factory(), rec)
		})
	}
}

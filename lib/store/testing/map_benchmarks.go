package testing

import (
	"fmt"
	"math/rand"
	"sync/atomic"
	"testing"
)

// RunMapBenchmarks runs all benchmarks for an IMap implementation
func RunMapBenchmarks(b *testing.B, name string, factory MapFactory) {
	b.Run(name, func(b *testing.B) {
		b.Run("Put", func(b *testing.B) {
			benchmarkPut(b, factory)
		})

		b.Run("PutExisting", func(b *testing.B) {
			benchmarkPutExisting(b, factory)
		})

		b.Run("Get", func(b *testing.B) {
			benchmarkGet(b, factory)
		})

		b.Run("ContainsKey(not)", func(b *testing.B) {
			benchmarkContainsKeyNot(b, factory)
		})

		b.Run("Remove", func(b *testing.B) {
			benchmarkRemove(b, factory)
		})

		b.Run("Entries", func(b *testing.B) {
			benchmarkEntries(b, factory)
		})

		b.Run("MixedUsage", func(b *testing.B) {
			benchmarkMixedUsage(b, factory)
		})
	})
}

// --------------------------------------------------------------------------
// Benchmark functions
// --------------------------------------------------------------------------

// Benchmark for Put operation with new keys
func benchmarkPut(b *testing.B, factory MapFactory) {
	m := factory()
	b.Cleanup(func() {
		m.Close()
	})

	var counter atomic.Int64

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			i := counter.Add(1)
			if _, _, err := m.Put(fmt.Sprintf("test-key-%d", i), fmt.Sprintf("test-value-%d", i)); err != nil {
				b.Errorf("Put failed: %v", err)
				return
			}
		}
	})
}

// Benchmark for Put operation overwriting existing keys
func benchmarkPutExisting(b *testing.B, factory MapFactory) {
	m := factory()
	b.Cleanup(func() {
		m.Close()
	})

	const numKeys = 1000
	for i := 0; i < numKeys; i++ {
		if _, _, err := m.Put(fmt.Sprintf("test-key-%d", i), "initial"); err != nil {
			b.Fatalf("Put failed: %v", err)
		}
	}

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		counter := 0
		for pb.Next() {
			key := fmt.Sprintf("test-key-%d", counter%numKeys)
			if _, _, err := m.Put(key, fmt.Sprintf("test-value-%d", counter)); err != nil {
				b.Errorf("Put failed: %v", err)
				return
			}
			counter++
		}
	})
}

// Parallel benchmarking for Get operation
func benchmarkGet(b *testing.B, factory MapFactory) {
	m := factory()
	b.Cleanup(func() {
		m.Close()
	})

	const numKeys = 10000
	for i := 0; i < numKeys; i++ {
		if _, _, err := m.Put(fmt.Sprintf("test-key-%d", i), fmt.Sprintf("test-value-%d", i)); err != nil {
			b.Fatalf("Put failed: %v", err)
		}
	}
	if err := m.Refresh(); err != nil {
		b.Fatalf("Refresh failed: %v", err)
	}

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		counter := 0
		for pb.Next() {
			if _, _, err := m.Get(fmt.Sprintf("test-key-%d", counter%numKeys)); err != nil {
				b.Errorf("Get failed: %v", err)
				return
			}
			counter++
		}
	})
}

// Parallel benchmarking for lookups of missing keys
func benchmarkContainsKeyNot(b *testing.B, factory MapFactory) {
	m := factory()
	b.Cleanup(func() {
		m.Close()
	})

	for i := 0; i < 1000; i++ {
		if _, _, err := m.Put(fmt.Sprintf("test-key-%d", i), "value"); err != nil {
			b.Fatalf("Put failed: %v", err)
		}
	}
	if err := m.Refresh(); err != nil {
		b.Fatalf("Refresh failed: %v", err)
	}

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		counter := 0
		for pb.Next() {
			if _, err := m.ContainsKey(fmt.Sprintf("missing-key-%d", counter)); err != nil {
				b.Errorf("ContainsKey failed: %v", err)
				return
			}
			counter++
		}
	})
}

// Benchmark for Remove operation
func benchmarkRemove(b *testing.B, factory MapFactory) {
	m := factory()
	b.Cleanup(func() {
		m.Close()
	})

	numKeys := 100000
	if b.N < numKeys {
		numKeys = b.N
	}
	for i := 0; i < numKeys; i++ {
		if _, _, err := m.Put(fmt.Sprintf("test-key-%d", i), fmt.Sprintf("test-value-%d", i)); err != nil {
			b.Fatalf("Put failed: %v", err)
		}
	}

	var counter atomic.Int64

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			i := counter.Add(1) - 1
			if _, _, err := m.Remove(fmt.Sprintf("test-key-%d", i%int64(numKeys))); err != nil {
				b.Errorf("Remove failed: %v", err)
				return
			}
		}
	})
}

// Benchmark for a full scan
func benchmarkEntries(b *testing.B, factory MapFactory) {
	m := factory()
	b.Cleanup(func() {
		m.Close()
	})

	for i := 0; i < 1000; i++ {
		if _, _, err := m.Put(fmt.Sprintf("test-key-%d", i), fmt.Sprintf("test-value-%d", i)); err != nil {
			b.Fatalf("Put failed: %v", err)
		}
	}
	if err := m.Refresh(); err != nil {
		b.Fatalf("Refresh failed: %v", err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := m.Entries(); err != nil {
			b.Fatalf("Entries failed: %v", err)
		}
	}
}

// Benchmark for mixed usage patterns (80% reads, 15% writes, 5% removes)
func benchmarkMixedUsage(b *testing.B, factory MapFactory) {
	m := factory()
	b.Cleanup(func() {
		m.Close()
	})

	const numKeys = 1000
	for i := 0; i < numKeys; i++ {
		if _, _, err := m.Put(fmt.Sprintf("test-key-%d", i), fmt.Sprintf("test-value-%d", i)); err != nil {
			b.Fatalf("Put failed: %v", err)
		}
	}

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		rnd := rand.New(rand.NewSource(rand.Int63()))
		for pb.Next() {
			key := fmt.Sprintf("test-key-%d", rnd.Intn(numKeys))
			var err error
			switch op := rnd.Intn(100); {
			case op < 80:
				_, _, err = m.Get(key)
			case op < 95:
				_, _, err = m.Put(key, fmt.Sprintf("test-value-%d", op))
			default:
				_, _, err = m.Remove(key)
			}
			if err != nil {
				b.Errorf("operation failed: %v", err)
				return
			}
		}
	})
}

// Package testing provides standardised tests and benchmarks for
// map implementations that satisfy the store.IMap interface.
//
// The package contains:
//   - testing: A conformance suite for the IMap contract (put/get, overwrite,
//     remove, clear, value lookups, scans, edge cases, concurrent access and
//     behaviour after Close)
//   - benchmark: Performance tests for the common map operations
//
// The suite works on maps with string keys and values and calls Refresh before
// every read that must observe earlier writes, so it is independent of the
// consistency mode of the implementation.
//
// Example usage:
//
//	// Creating a factory function for your implementation
//	factory := func() store.IMap[string, string] {
//		m, _ := imap.New(codec.String(), codec.String(), imap.DefaultOptions())
//		return m
//	}
//
//	// Running the standard test suite
//	testing.RunMapTests(t, "MyMap", factory)
//
//	// Running performance benchmarks
//	testing.RunMapBenchmarks(b, "MyMap", factory)
package testing

// Package store defines the contract of a typed key-value map backed by an
// inverted index, together with a unified error type.
//
// The package focuses on:
//   - A unified generic interface (IMap) for map operations, independent of
//     where the index lives (memory or filesystem)
//   - Structured errors with return codes that survive wrapping
//
// Key Components:
//
//   - IMap Interface: The core abstraction defining Get/Put/Remove, scans and
//     the lifecycle operations (Refresh, Commit, Close). Put and Remove return
//     the previous value, mirroring the semantics of a classic map.
//
//   - Entry & PutMap: A key-value pair and a helper to bulk insert a Go map.
//
//   - Error System: Every failure is reported as *Error with a RetCode:
//     RetCStorageError for index failures, RetCCodecError for keys or values
//     that cannot be encoded or decoded, RetCClosed for use after Close and
//     RetCInvalidOperation for invalid arguments. Error implements Unwrap, so
//     the cause stays reachable:
//
//	if errors.Is(err, index.ErrCorruptIndex) { ... }
//	var cErr *codec.Error
//	if errors.As(err, &cErr) { ... }
//
// Implementations:
//
//	The package github.com/ValentinKolb/ixmap/lib/store/imap implements IMap
//	on top of lib/index and lib/nrt. The package lib/store/testing provides a
//	conformance suite every implementation should pass.
package store

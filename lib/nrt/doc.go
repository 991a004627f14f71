// Package nrt provides near-real-time reader management on top of an index.Writer.
//
// Key Components:
//
//   - Manager: The reader pool. It owns the current index.Reader, hands out
//     references with Acquire/Release and replaces the reader on Refresh.
//     Concurrent refreshes are coalesced with singleflight, so at most one
//     reader is opened at a time, while Acquire stays a lock-free reference
//     count increment.
//
//   - Reopener: A background loop refreshing the Manager at a bounded cadence
//     (TargetMinStale while changes are pending, TargetMaxStale otherwise). It
//     reports failures through Health instead of terminating and can be waited
//     on with WaitForGeneration.
//
// Visibility Guarantees:
//
//	A reader acquired before a change never observes it. After Refresh returns,
//	every subsequently acquired reader observes all changes made to the writer
//	before Refresh was called.
//
// Metrics:
//
//	Both components register their metrics (refresh count, errors, duration,
//	open snapshots, background failures) in a VictoriaMetrics set labeled with
//	the configured name. Use Manager.Metrics().WritePrometheus to export them.
//
// Usage:
//
//	m, _ := nrt.NewManager(w, &nrt.ManagerOptions{Name: "users"})
//	reopener, _ := nrt.NewReopener(w, m, nrt.DefaultReopenerOptions())
//	reopener.Start()
//	defer reopener.Close()
//
//	r, _ := m.Acquire()
//	defer m.Release(r)
package nrt

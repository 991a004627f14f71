// Package index implements a small segment based inverted index used as the
// document store of ixmap. It supports exactly what a key-value map needs:
// exact-match term lookup, update-by-term, delete-by-term, delete-all, durable
// commits and near-real-time point-in-time readers.
//
// Key Components:
//
//   - Writer: The single mutation path of an index. Added documents are buffered
//     in memory and flushed into immutable segments. Every document receives a
//     sequence number (Seq) which is strictly increasing, persisted and never
//     changes. UpdateDocument atomically deletes by term and adds.
//
//   - Reader: An immutable, reference counted snapshot opened with
//     Writer.OpenReader. It reflects every change made before it was opened,
//     committed or not, and nothing made afterwards.
//
//   - Query: TermQuery and BooleanQuery (Must / MustNot). Hits have a constant
//     score and are returned in ascending ordinal order.
//
//   - Directory: Where commits are stored. NewRAMDirectory keeps them in memory,
//     OpenFSDirectory keeps them in a bbolt file which also serves as the write
//     lock of the directory.
//
//   - MergePolicy: Decides which segments are merged after a flush. Merging
//     drops deleted documents and renumbers ordinals, which is why callers that
//     need to know which of two documents is newer must compare Seq, never ordinals.
//
// Segments and deletions:
//
//	Segments never change once created. Deletions of a segment are tracked in a
//	roaring bitmap (sroar) owned by a segment view. Views handed to a reader are
//	published and copied before the writer records further deletions, so a
//	reader never observes later changes. Each segment carries a bloom filter over
//	its terms to skip postings lookups for absent terms.
//
// Durability:
//
//	Only Commit (or Close with CommitOnClose) writes to the Directory. A commit
//	stores the delta since the previous one: added documents, deleted sequence
//	numbers and whether everything was cleared. Opening a writer loads all
//	committed documents into one segment.
//
// Usage:
//
//	dir, _ := index.OpenFSDirectory("/var/lib/ixmap", nil)
//	w, _ := index.Open(dir, index.DefaultWriterOptions())
//	w.UpdateDocument(index.NewTerm("key", k), index.NewDocument().Add("key", k).Add("value", v))
//
//	r, _ := w.OpenReader()
//	defer r.DecRef()
//	top, _ := r.Search(index.NewBooleanQuery().AddMust(index.NewTermQuery(index.NewTerm("key", k))), 10)
package index

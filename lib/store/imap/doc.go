// Package imap implements store.IMap on top of an inverted index (lib/index).
//
// Every entry is a document with two fields: "key" holds the encoded key and
// identifies the document, "value" holds the encoded value. Keys and values are
// encoded with a codec.Codec, so any Go type with a deterministic encoding can be
// used as key.
//
// Architecture:
//
//	Put/Remove/Clear ─► mapWriter ─► index.Writer (buffered, single writer)
//	                                      │
//	                   nrt.Reopener ──────┤ refresh every TargetMinStale..TargetMaxStale
//	                                      ▼
//	Get/Contains*/Keys ◄── nrt.Manager ◄─ index.Reader (point-in-time snapshot)
//
// Key Features:
//
//   - Upsert semantics: Put replaces the document of a key with a single
//     atomic update-by-term, Remove deletes by term.
//
//   - Consistency modes: ConsistencyEager refreshes the reader before every
//     read, so a read observes all writes made before it. ConsistencyLazy reads
//     the last snapshot published by the background refresh; writes become
//     visible within about TargetMinStale.
//
//   - Tie-break: should a key be represented by more than one document, the
//     document with the highest sequence number wins. Sequence numbers are
//     assigned by the writer and survive merges and restarts, unlike document
//     ordinals.
//
//   - Persistence: with a Path the index is stored in a bbolt file. Writes are
//     durable after Commit or Close. Another process (or map) opening the same
//     path fails until the map is closed.
//
//   - Corruption handling: a corrupt index fails New (index.CorruptionFail) or is
//     wiped and rebuilt empty (index.CorruptionRebuild).
//
// Thread Safety:
//
//	All operations are safe for concurrent use. Put, Remove and Clear are
//	serialized, reads run concurrently on ref-counted snapshots.
//
// Usage Example:
//
//	opts := imap.DefaultOptions()
//	opts.Path = "data/users"
//	users, err := imap.New(codec.String(), codec.JSON[User](), opts)
//	if err != nil {
//		return err
//	}
//	defer users.Close()
//
//	prev, existed, err := users.Put("alice", User{Name: "Alice"})
//	user, found, err := users.Get("alice")
package imap

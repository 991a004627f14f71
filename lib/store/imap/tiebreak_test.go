package imap

import (
	"testing"

	"github.com/ValentinKolb/ixmap/lib/codec"
	"github.com/ValentinKolb/ixmap/lib/index"
	"github.com/ValentinKolb/ixmap/lib/nrt"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// duplicateKeyMap returns a map over a writer holding two documents for the
// key "k": "old" (written first) and "new". After the merge the older document
// has the higher ordinal, so only the sequence number identifies the latest one.
func duplicateKeyMap(t *testing.T) (*mapImpl[string, string], *index.Writer) {
	opts := index.DefaultWriterOptions()
	opts.MergePolicy = index.NoMergePolicy{}
	w, err := index.Open(index.NewRAMDirectory(), opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })

	m := &mapImpl[string, string]{
		name:       t.Name(),
		opts:       Options{Consistency: ConsistencyEager},
		keyCodec:   codec.String(),
		valueCodec: codec.String(),
		ops:        make(map[string]*xsync.Counter, len(opNames)),
		sizes:      newSizeHistogram(),
	}
	for _, op := range opNames {
		m.ops[op] = xsync.NewCounter()
	}

	add := func(k, v string) {
		kb, err := m.encodeKey(k)
		require.NoError(t, err)
		vb, err := m.encodeValue(v)
		require.NoError(t, err)
		_, err = w.AddDocument(index.NewDocument().Add(keyField, kb).Add(valueField, vb))
		require.NoError(t, err)
	}
	flush := func() {
		r, err := w.OpenReader()
		require.NoError(t, err)
		require.NoError(t, r.DecRef())
	}

	// segments: [k=old] [k=new, a, b] [c]
	add("k", "old")
	flush()
	add("k", "new")
	add("a", "1")
	add("b", "2")
	flush()
	add("c", "3")
	flush()
	require.Equal(t, 3, w.NumSegments())

	// the two smallest segments ([k=old] and [c]) are merged and appended at the end
	require.NoError(t, w.ForceMerge(2))
	require.Equal(t, 2, w.NumSegments())

	m.manager, err = nrt.NewManager(w, &nrt.ManagerOptions{Name: t.Name()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.manager.Close() })
	return m, w
}

func TestTieBreakPrefersHighestSeq(t *testing.T) {
	m, _ := duplicateKeyMap(t)

	r, err := m.acquire()
	require.NoError(t, err)
	defer m.release(r)

	kb, err := m.encodeKey("k")
	require.NoError(t, err)
	top, err := search(r, keyField, kb, maxHits)
	require.NoError(t, err)
	require.Len(t, top.ScoreDocs, 2)

	// precondition: the older document comes last by ordinal
	last := top.ScoreDocs[len(top.ScoreDocs)-1]
	lastDoc, err := r.Document(last.Doc)
	require.NoError(t, err)
	oldValue, err := m.decodeValue(lastDoc.Get(valueField))
	require.NoError(t, err)
	require.Equal(t, "old", oldValue, "merge must place the older document after the newer one")

	best, ok := latest(top.ScoreDocs)
	require.True(t, ok)
	assert.NotEqual(t, last.Doc, best.Doc)
	assert.Greater(t, best.Seq, last.Seq)

	doc, found, err := lookup(r, kb)
	require.NoError(t, err)
	require.True(t, found)
	v, err := m.decodeValue(doc.Get(valueField))
	require.NoError(t, err)
	assert.Equal(t, "new", v)

	_, ok = latest(nil)
	assert.False(t, ok)
}

func TestLiveEntriesDedupesBySeq(t *testing.T) {
	m, _ := duplicateKeyMap(t)

	r, err := m.acquire()
	require.NoError(t, err)
	defer m.release(r)

	got := map[string]string{}
	count := 0
	require.NoError(t, liveEntries(r, func(doc *index.Document) error {
		k, err := m.decodeKey(doc.Get(keyField))
		require.NoError(t, err)
		v, err := m.decodeValue(doc.Get(valueField))
		require.NoError(t, err)
		got[k] = v
		count++
		return nil
	}))

	assert.Equal(t, 4, count, "one entry per key")
	assert.Equal(t, map[string]string{"k": "new", "a": "1", "b": "2", "c": "3"}, got)
}

func TestMapReadsWithDuplicateKey(t *testing.T) {
	m, _ := duplicateKeyMap(t)

	v, found, err := m.Get("k")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "new", v)

	found, err = m.ContainsValue("new")
	require.NoError(t, err)
	assert.True(t, found)

	found, err = m.ContainsValue("old")
	require.NoError(t, err)
	assert.False(t, found, "a replaced value must not be reported")

	entries, err := m.Entries()
	require.NoError(t, err)
	assert.Len(t, entries, 4)
	for _, e := range entries {
		if e.Key == "k" {
			assert.Equal(t, "new", e.Value)
		}
	}

	values, err := m.Values()
	require.NoError(t, err)
	assert.NotContains(t, values, "old")

	keys, err := m.Keys()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"k", "a", "b", "c"}, keys)
}

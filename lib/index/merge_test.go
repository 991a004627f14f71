package index

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTieredMergePolicy_FindMerge(t *testing.T) {
	mp := &TieredMergePolicy{MaxMergeAtOnce: 3, MaxSegmentsPerTier: 4}

	assert.Nil(t, mp.FindMerge([]int{1, 2, 3, 4}), "no merge below the tier limit")
	assert.Equal(t, []int{1, 3, 4}, mp.FindMerge([]int{100, 1, 50, 2, 1}))
	// ties are resolved by position
	assert.Equal(t, []int{0, 1, 2}, mp.FindMerge([]int{5, 5, 5, 5, 5}))
}

func TestSmallest(t *testing.T) {
	assert.Nil(t, smallest([]int{1}, 3))
	assert.Nil(t, smallest([]int{1, 2}, 1))
	assert.Equal(t, []int{0, 1}, smallest([]int{1, 2}, 5))
	assert.Equal(t, []int{0, 2}, smallest([]int{3, 9, 1}, 2))
}

func TestWriter_MergeKeepsSegmentCountBounded(t *testing.T) {
	opts := DefaultWriterOptions()
	opts.MergePolicy = &TieredMergePolicy{MaxMergeAtOnce: 4, MaxSegmentsPerTier: 4}
	w := openRAM(t, opts)

	for i := 0; i < 200; i++ {
		_, err := w.UpdateDocument(keyTerm(fmt.Sprint(i%50)), kvDoc(fmt.Sprint(i%50), fmt.Sprint(i)))
		require.NoError(t, err)

		// every reader flushes a tiny segment
		r, err := w.OpenReader()
		require.NoError(t, err)
		require.NoError(t, r.DecRef())

		assert.LessOrEqual(t, w.NumSegments(), 4)
	}

	r, err := w.OpenReader()
	require.NoError(t, err)
	defer r.DecRef()

	assert.Equal(t, 50, r.NumDocs())
	for k := 0; k < 50; k++ {
		assert.Equal(t, []string{fmt.Sprint(150 + k)}, values(t, r, keyQuery(fmt.Sprint(k))))
	}
}

// TestWriter_MergeReordersOrdinals shows that after a merge the document with the
// highest ordinal is not necessarily the most recently added one, while Seq is.
func TestWriter_MergeReordersOrdinals(t *testing.T) {
	opts := DefaultWriterOptions()
	opts.MergePolicy = NoMergePolicy{}
	w := openRAM(t, opts)

	flush := func() {
		r, err := w.OpenReader()
		require.NoError(t, err)
		require.NoError(t, r.DecRef())
	}

	for _, batch := range [][]string{{"a"}, {"b"}, {"c", "d", "e"}} {
		for _, k := range batch {
			_, err := w.AddDocument(kvDoc(k, "same"))
			require.NoError(t, err)
		}
		flush()
	}
	require.Equal(t, 3, w.NumSegments())

	require.NoError(t, w.ForceMerge(2))
	require.Equal(t, 2, w.NumSegments())

	r, err := w.OpenReader()
	require.NoError(t, err)
	defer r.DecRef()

	top, err := r.Search(NewTermQuery(NewTerm("value", []byte("same"))), 10)
	require.NoError(t, err)
	require.Len(t, top.ScoreDocs, 5)

	byOrdinal := top.ScoreDocs[len(top.ScoreDocs)-1]
	bySeq := top.ScoreDocs[0]
	for _, sd := range top.ScoreDocs {
		if sd.Seq > bySeq.Seq {
			bySeq = sd
		}
	}

	docOrdinal, err := r.Document(byOrdinal.Doc)
	require.NoError(t, err)
	docSeq, err := r.Document(bySeq.Doc)
	require.NoError(t, err)

	assert.Equal(t, "b", string(docOrdinal.Get("key")), "merged segment is appended at the end")
	assert.Equal(t, "e", string(docSeq.Get("key")), "highest sequence number is the latest document")
}

func TestWriter_ForceMerge(t *testing.T) {
	opts := DefaultWriterOptions()
	opts.MergePolicy = NoMergePolicy{}
	opts.MaxBufferedDocs = 5
	w := openRAM(t, opts)

	for i := 0; i < 50; i++ {
		_, err := w.AddDocument(kvDoc(fmt.Sprint(i), "v"))
		require.NoError(t, err)
	}
	require.Equal(t, 10, w.NumSegments())

	require.NoError(t, w.DeleteDocuments(keyTerm("7")))
	require.NoError(t, w.ForceMerge(1))
	assert.Equal(t, 1, w.NumSegments())
	assert.Equal(t, 49, w.NumDocs())
	assert.Equal(t, 49, w.MaxDoc(), "merging drops deleted documents")

	assert.Error(t, w.ForceMerge(0))
}

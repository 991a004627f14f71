package index

import (
	"github.com/weaviate/sroar"
	"github.com/willf/bloom"
)

// segment is an immutable set of documents together with their postings.
// Documents are addressed by their local ordinal (position in docs).
type segment struct {
	id       uint64
	docs     []StoredDocument
	postings map[string][]uint32 // term key -> ascending local ordinals
	filter   *bloom.BloomFilter
}

// bloomFalsePositiveRate is the target false positive rate of the per segment term filter
const bloomFalsePositiveRate = 0.01

func newSegment(id uint64, docs []StoredDocument) *segment {
	postings := make(map[string][]uint32, len(docs)*2)
	for i, doc := range docs {
		for _, f := range doc.Fields {
			k := termKey(f.Name, f.Value)
			p := postings[k]
			// a document listing the same term twice is indexed once
			if n := len(p); n > 0 && p[n-1] == uint32(i) {
				continue
			}
			postings[k] = append(p, uint32(i))
		}
	}

	filter := bloom.NewWithEstimates(uint(len(postings)+1), bloomFalsePositiveRate)
	for k := range postings {
		filter.Add([]byte(k))
	}

	return &segment{
		id:       id,
		docs:     docs,
		postings: postings,
		filter:   filter,
	}
}

// lookup returns the local ordinals of all documents containing the term key.
func (s *segment) lookup(key string) []uint32 {
	if !s.filter.Test([]byte(key)) {
		return nil
	}
	return s.postings[key]
}

func (s *segment) size() int {
	return len(s.docs)
}

// all returns a bitmap containing every local ordinal of the segment.
func (s *segment) all() *sroar.Bitmap {
	bm := sroar.NewBitmap()
	for i := range s.docs {
		bm.Set(uint64(i))
	}
	return bm
}

// --------------------------------------------------------------------------
// Segment View (segment + deletions)
// --------------------------------------------------------------------------

// segmentView pairs a segment with its deletions. Once a view has been handed
// to a Reader it is published and never modified again; the writer copies it
// before recording further deletions.
type segmentView struct {
	seg       *segment
	deleted   *sroar.Bitmap // nil if nothing was deleted
	published bool
}

func (v *segmentView) isDeleted(local uint32) bool {
	return v.deleted != nil && v.deleted.Contains(uint64(local))
}

func (v *segmentView) numDeleted() int {
	if v.deleted == nil {
		return 0
	}
	return v.deleted.GetCardinality()
}

func (v *segmentView) numLive() int {
	return v.seg.size() - v.numDeleted()
}

// liveDocs returns the documents that are not deleted, in ordinal order.
func (v *segmentView) liveDocs() []StoredDocument {
	if v.deleted == nil {
		return v.seg.docs
	}
	live := make([]StoredDocument, 0, v.numLive())
	for i, d := range v.seg.docs {
		if !v.isDeleted(uint32(i)) {
			live = append(live, d)
		}
	}
	return live
}

// clone returns an unpublished copy that can be modified.
func (v *segmentView) clone() *segmentView {
	c := &segmentView{seg: v.seg}
	if v.deleted != nil {
		c.deleted = v.deleted.Clone()
	}
	return c
}

package index

import (
	"sort"
	"sync/atomic"

	"github.com/pkg/errors"
)

// Reader is an immutable point-in-time view of an index. Documents are
// addressed by ordinals in [0, MaxDoc); ordinals are only valid for the reader
// that returned them.
//
// A Reader is reference counted. It starts with one reference owned by the
// caller of Writer.OpenReader. Once the count drops to zero the reader is
// released and every further access fails with ErrAlreadyClosed.
//
// Thread-safety: all methods are safe for concurrent use.
type Reader struct {
	id         uint64
	writer     *Writer
	generation uint64
	refs       atomic.Int32

	views   []*segmentView
	bases   []int // ordinal of the first document of each view
	maxDoc  int
	numDocs int
}

func newReader(w *Writer, id uint64, views []*segmentView, generation uint64) *Reader {
	r := &Reader{
		id:         id,
		writer:     w,
		generation: generation,
		views:      views,
		bases:      make([]int, len(views)),
	}
	for i, v := range views {
		r.bases[i] = r.maxDoc
		r.maxDoc += v.seg.size()
		r.numDocs += v.numLive()
	}
	r.refs.Store(1)
	return r
}

// --------------------------------------------------------------------------
// Reference Counting
// --------------------------------------------------------------------------

// IncRef increments the reference count. It fails if the reader was already released.
func (r *Reader) IncRef() error {
	if !r.TryIncRef() {
		return ErrAlreadyClosed
	}
	return nil
}

// TryIncRef increments the reference count unless the reader was already released.
func (r *Reader) TryIncRef() bool {
	for {
		n := r.refs.Load()
		if n <= 0 {
			return false
		}
		if r.refs.CompareAndSwap(n, n+1) {
			return true
		}
	}
}

// DecRef decrements the reference count and releases the reader when it reaches zero.
func (r *Reader) DecRef() error {
	n := r.refs.Add(-1)
	if n < 0 {
		r.refs.Add(1)
		return errors.Wrapf(ErrAlreadyClosed, "reader %d released too often", r.id)
	}
	return nil
}

// RefCount returns the current reference count.
func (r *Reader) RefCount() int32 {
	return r.refs.Load()
}

func (r *Reader) ensureOpen() error {
	if r.refs.Load() <= 0 {
		return ErrAlreadyClosed
	}
	return nil
}

// --------------------------------------------------------------------------
// Metadata
// --------------------------------------------------------------------------

// ID identifies the reader among all readers opened by the same writer.
func (r *Reader) ID() uint64 {
	return r.id
}

// Generation returns the writer generation the reader was opened at.
func (r *Reader) Generation() uint64 {
	return r.generation
}

// IsCurrent reports whether the writer has not been modified since the reader was opened.
func (r *Reader) IsCurrent() bool {
	return r.writer.Generation() == r.generation
}

// NumDocs returns the number of live documents.
func (r *Reader) NumDocs() int {
	return r.numDocs
}

// MaxDoc returns one more than the largest document ordinal, deleted documents included.
func (r *Reader) MaxDoc() int {
	return r.maxDoc
}

// NumDeletedDocs returns the number of deleted documents still occupying an ordinal.
func (r *Reader) NumDeletedDocs() int {
	return r.maxDoc - r.numDocs
}

// NumSegments returns the number of segments visible to the reader.
func (r *Reader) NumSegments() int {
	return len(r.views)
}

// --------------------------------------------------------------------------
// Document Access
// --------------------------------------------------------------------------

// locate maps a reader ordinal to its view and local ordinal.
func (r *Reader) locate(doc int) (*segmentView, uint32, error) {
	if err := r.ensureOpen(); err != nil {
		return nil, 0, err
	}
	if doc < 0 || doc >= r.maxDoc {
		return nil, 0, errors.Errorf("document %d out of range [0, %d)", doc, r.maxDoc)
	}
	i := sort.Search(len(r.bases), func(i int) bool { return r.bases[i] > doc }) - 1
	return r.views[i], uint32(doc - r.bases[i]), nil
}

// Document returns the stored fields of a document. The returned document
// shares memory with the index and must not be modified.
func (r *Reader) Document(doc int) (*Document, error) {
	v, local, err := r.locate(doc)
	if err != nil {
		return nil, err
	}
	return v.seg.docs[local].Document(), nil
}

// Seq returns the sequence number of a document.
func (r *Reader) Seq(doc int) (uint64, error) {
	v, local, err := r.locate(doc)
	if err != nil {
		return 0, err
	}
	return v.seg.docs[local].Seq, nil
}

// IsDeleted reports whether a document was deleted before the reader was opened.
func (r *Reader) IsDeleted(doc int) (bool, error) {
	v, local, err := r.locate(doc)
	if err != nil {
		return false, err
	}
	return v.isDeleted(local), nil
}

// LiveDocs calls fn for every live document in ordinal order until fn returns false.
func (r *Reader) LiveDocs(fn func(doc int, seq uint64, d *Document) bool) error {
	if err := r.ensureOpen(); err != nil {
		return err
	}
	for i, v := range r.views {
		for local := range v.seg.docs {
			if v.isDeleted(uint32(local)) {
				continue
			}
			sd := &v.seg.docs[local]
			if !fn(r.bases[i]+local, sd.Seq, sd.Document()) {
				return nil
			}
		}
	}
	return nil
}

// --------------------------------------------------------------------------
// Search
// --------------------------------------------------------------------------

// Search returns the first n live documents matching q in ordinal order.
func (r *Reader) Search(q Query, n int) (TopDocs, error) {
	if err := r.ensureOpen(); err != nil {
		return TopDocs{}, err
	}
	if n <= 0 {
		return TopDocs{}, errors.Errorf("invalid number of hits %d", n)
	}

	var top TopDocs
	for i, v := range r.views {
		bm := q.match(v.seg)
		if v.deleted != nil {
			bm.AndNot(v.deleted)
		}
		card := bm.GetCardinality()
		if card == 0 {
			continue
		}
		top.TotalHits += card
		if len(top.ScoreDocs) >= n {
			continue
		}
		for _, local := range bm.ToArray() {
			top.ScoreDocs = append(top.ScoreDocs, ScoreDoc{
				Doc:   r.bases[i] + int(local),
				Seq:   v.seg.docs[local].Seq,
				Score: 1,
			})
			if len(top.ScoreDocs) >= n {
				break
			}
		}
	}
	return top, nil
}

package index

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/hashicorp/go-multierror"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/pkg/errors"
	"github.com/weaviate/sroar"
)

// Writer is the only way to modify an index. Added documents are collected in
// an in-memory buffer which is turned into an immutable segment when a reader
// is opened, when the buffer is full or on commit. Deletions are resolved
// immediately: they affect every document added before them and none added
// afterwards.
//
// Changes become durable with Commit and visible with OpenReader.
//
// Thread-safety: all methods are safe for concurrent use; mutations are serialized.
type Writer struct {
	mu     sync.Mutex
	dir    Directory
	opts   WriterOptions
	log    logger.ILogger
	closed bool

	segments  []*segmentView
	nextSegID uint64

	buffer     []StoredDocument
	bufDeleted *sroar.Bitmap
	bufTerms   map[string][]uint32 // term key -> buffer positions

	nextSeq    uint64
	generation atomic.Uint64
	readerID   atomic.Uint64

	// changes since the last commit
	pendingClear   bool
	pendingAdds    map[uint64]StoredDocument
	pendingDeletes *sroar.Bitmap
}

// Open obtains the write lock of dir and loads its latest commit.
// Depending on opts.CorruptionPolicy a corrupt directory either fails the call
// (the lock is released) or is wiped and the writer starts empty.
func Open(dir Directory, opts *WriterOptions) (*Writer, error) {
	if opts == nil {
		opts = DefaultWriterOptions()
	}
	o := opts.withDefaults()

	cp, err := loadCommit(dir, &o)
	if err != nil {
		return nil, err
	}

	w := &Writer{
		dir:  dir,
		opts: o,
		log:  o.Logger,
	}
	w.resetBuffer()
	w.resetPending()

	switch {
	case cp == nil:
		// nothing committed yet, the first commit creates the index
		w.pendingClear = true
	case o.OpenMode == OpenModeCreate:
		w.pendingClear = true
		w.nextSeq = cp.NextSeq
	default:
		w.nextSeq = cp.NextSeq
		if n := len(cp.Docs); n > 0 {
			if last := cp.Docs[n-1].Seq; last >= w.nextSeq {
				w.nextSeq = last + 1
			}
			w.segments = append(w.segments, &segmentView{seg: newSegment(w.nextSegID, cp.Docs)})
			w.nextSegID++
		}
	}

	w.log.Infof("opened index %s (mode=%s, docs=%d, next seq=%d)", dir, o.OpenMode, w.numDocsLocked(), w.nextSeq)
	return w, nil
}

// loadCommit obtains the lock and reads the latest commit. It returns a nil
// commit point if the directory holds no index (or was rebuilt).
func loadCommit(dir Directory, opts *WriterOptions) (*CommitPoint, error) {
	rebuild := func(cause error) error {
		opts.Logger.Warningf("index %s is corrupt, rebuilding it from scratch: %v", dir, cause)
		if err := dir.Wipe(); err != nil {
			return errors.Wrap(err, "failed to wipe corrupt index")
		}
		return nil
	}

	err := dir.ObtainLock()
	if errors.Is(err, ErrCorruptIndex) && opts.CorruptionPolicy == CorruptionRebuild {
		if err = rebuild(err); err == nil {
			err = dir.ObtainLock()
		}
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open index %s", dir)
	}

	cp, err := dir.ReadCommit()
	switch {
	case err == nil:
		return cp, nil
	case errors.Is(err, ErrIndexNotFound) && opts.OpenMode != OpenModeAppend:
		return nil, nil
	case errors.Is(err, ErrCorruptIndex) && opts.CorruptionPolicy == CorruptionRebuild:
		if err = rebuild(err); err == nil {
			return nil, nil
		}
	}

	if rErr := dir.ReleaseLock(); rErr != nil {
		err = multierror.Append(err, rErr)
	}
	return nil, errors.Wrapf(err, "failed to open index %s", dir)
}

// --------------------------------------------------------------------------
// Mutations
// --------------------------------------------------------------------------

// AddDocument adds doc to the index and returns its sequence number.
// The fields are copied, the caller may reuse doc afterwards.
func (w *Writer) AddDocument(doc *Document) (uint64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.ensureOpen(); err != nil {
		return 0, err
	}
	seq := w.addLocked(doc)
	w.generation.Add(1)
	w.maybeFlushLocked()
	return seq, nil
}

// UpdateDocument atomically deletes all documents containing term and adds doc.
// No reader can observe the state between the deletion and the addition.
func (w *Writer) UpdateDocument(term Term, doc *Document) (uint64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.ensureOpen(); err != nil {
		return 0, err
	}
	w.deleteLocked(term)
	seq := w.addLocked(doc)
	w.generation.Add(1)
	w.maybeFlushLocked()
	return seq, nil
}

// DeleteDocuments deletes all documents containing term.
func (w *Writer) DeleteDocuments(term Term) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.ensureOpen(); err != nil {
		return err
	}
	w.deleteLocked(term)
	w.generation.Add(1)
	return nil
}

// DeleteAll deletes every document of the index.
func (w *Writer) DeleteAll() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.ensureOpen(); err != nil {
		return err
	}
	w.segments = nil
	w.resetBuffer()
	w.resetPending()
	w.pendingClear = true
	w.generation.Add(1)
	return nil
}

func (w *Writer) addLocked(doc *Document) uint64 {
	sd := StoredDocument{Seq: w.nextSeq, Fields: doc.clone()}
	w.nextSeq++

	pos := uint32(len(w.buffer))
	w.buffer = append(w.buffer, sd)
	for _, f := range sd.Fields {
		k := termKey(f.Name, f.Value)
		p := w.bufTerms[k]
		if n := len(p); n > 0 && p[n-1] == pos {
			continue
		}
		w.bufTerms[k] = append(p, pos)
	}
	w.pendingAdds[sd.Seq] = sd
	return sd.Seq
}

// deleteLocked marks every document containing term as deleted and returns their number.
func (w *Writer) deleteLocked(term Term) int {
	key := term.key()
	n := 0

	for i := range w.segments {
		for _, local := range w.segments[i].seg.lookup(key) {
			if w.segments[i].isDeleted(local) {
				continue
			}
			v := w.mutableView(i)
			v.deleted.Set(uint64(local))
			w.markDeleted(v.seg.docs[local].Seq)
			n++
		}
	}

	for _, pos := range w.bufTerms[key] {
		if w.bufDeleted.Contains(uint64(pos)) {
			continue
		}
		w.bufDeleted.Set(uint64(pos))
		w.markDeleted(w.buffer[pos].Seq)
		n++
	}
	return n
}

// mutableView returns the view at position i, replacing it by a private copy if it was published.
func (w *Writer) mutableView(i int) *segmentView {
	v := w.segments[i]
	if v.published {
		v = v.clone()
		w.segments[i] = v
	}
	if v.deleted == nil {
		v.deleted = sroar.NewBitmap()
	}
	return v
}

// markDeleted records the deletion of seq for the next commit.
func (w *Writer) markDeleted(seq uint64) {
	if _, ok := w.pendingAdds[seq]; ok {
		delete(w.pendingAdds, seq)
		return
	}
	w.pendingDeletes.Set(seq)
}

func (w *Writer) resetBuffer() {
	w.buffer = nil
	w.bufDeleted = sroar.NewBitmap()
	w.bufTerms = make(map[string][]uint32)
}

func (w *Writer) resetPending() {
	w.pendingClear = false
	w.pendingAdds = make(map[uint64]StoredDocument)
	w.pendingDeletes = sroar.NewBitmap()
}

// --------------------------------------------------------------------------
// Flush & Merge
// --------------------------------------------------------------------------

func (w *Writer) maybeFlushLocked() {
	if len(w.buffer) >= w.opts.MaxBufferedDocs {
		w.flushLocked()
	}
}

// flushLocked turns the buffer into a segment, drops fully deleted segments and runs the merge policy.
func (w *Writer) flushLocked() {
	if len(w.buffer) > 0 {
		live := make([]StoredDocument, 0, len(w.buffer)-w.bufDeleted.GetCardinality())
		for i, d := range w.buffer {
			if !w.bufDeleted.Contains(uint64(i)) {
				live = append(live, d)
			}
		}
		if len(live) > 0 {
			w.segments = append(w.segments, &segmentView{seg: newSegment(w.nextSegID, live)})
			w.nextSegID++
		}
		w.resetBuffer()
	}

	kept := w.segments[:0]
	for _, v := range w.segments {
		if v.numLive() > 0 {
			kept = append(kept, v)
		}
	}
	for i := len(kept); i < len(w.segments); i++ {
		w.segments[i] = nil
	}
	w.segments = kept

	for {
		positions := w.opts.MergePolicy.FindMerge(w.segmentSizes())
		if len(positions) < 2 {
			return
		}
		w.mergeLocked(positions)
	}
}

func (w *Writer) segmentSizes() []int {
	sizes := make([]int, len(w.segments))
	for i, v := range w.segments {
		sizes[i] = v.numLive()
	}
	return sizes
}

// mergeLocked replaces the segments at the given (ascending) positions by one
// segment holding their live documents, appended after all other segments.
// Document ordinals change, sequence numbers do not.
func (w *Writer) mergeLocked(positions []int) {
	merged := make(map[int]bool, len(positions))
	var docs []StoredDocument
	for _, p := range positions {
		merged[p] = true
		docs = append(docs, w.segments[p].liveDocs()...)
	}

	// keep the merged documents in sequence order
	sort.Slice(docs, func(i, j int) bool { return docs[i].Seq < docs[j].Seq })

	segments := make([]*segmentView, 0, len(w.segments)-len(positions)+1)
	for i, v := range w.segments {
		if !merged[i] {
			segments = append(segments, v)
		}
	}
	if len(docs) > 0 {
		segments = append(segments, &segmentView{seg: newSegment(w.nextSegID, docs)})
		w.nextSegID++
	}

	w.log.Debugf("merged %d segments into one with %d documents", len(positions), len(docs))
	w.segments = segments
}

// ForceMerge flushes the buffer and merges segments until at most maxSegments remain.
func (w *Writer) ForceMerge(maxSegments int) error {
	if maxSegments < 1 {
		return errors.Errorf("invalid segment count %d", maxSegments)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.ensureOpen(); err != nil {
		return err
	}
	w.flushLocked()
	if n := len(w.segments); n > maxSegments {
		w.mergeLocked(smallest(w.segmentSizes(), n-maxSegments+1))
	}
	return nil
}

// --------------------------------------------------------------------------
// Readers
// --------------------------------------------------------------------------

// OpenReader returns a point-in-time reader reflecting every change made so
// far, committed or not. The caller owns one reference and must call DecRef.
func (w *Writer) OpenReader() (*Reader, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.ensureOpen(); err != nil {
		return nil, err
	}
	w.flushLocked()

	views := make([]*segmentView, len(w.segments))
	for i, v := range w.segments {
		v.published = true
		views[i] = v
	}
	return newReader(w, w.readerID.Add(1), views, w.generation.Load()), nil
}

// --------------------------------------------------------------------------
// Commit & Close
// --------------------------------------------------------------------------

// Commit makes all changes durable. It is a no-op if nothing changed since the last commit.
func (w *Writer) Commit() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.ensureOpen(); err != nil {
		return err
	}
	return w.commitLocked()
}

func (w *Writer) commitLocked() error {
	if !w.hasUncommittedLocked() {
		return nil
	}

	adds := make([]StoredDocument, 0, len(w.pendingAdds))
	for _, d := range w.pendingAdds {
		adds = append(adds, d)
	}
	sort.Slice(adds, func(i, j int) bool { return adds[i].Seq < adds[j].Seq })

	delta := &CommitDelta{
		Clear:   w.pendingClear,
		Deletes: w.pendingDeletes.ToArray(),
		Adds:    adds,
		NextSeq: w.nextSeq,
	}
	if err := w.dir.WriteCommit(delta); err != nil {
		return errors.Wrapf(err, "failed to commit index %s", w.dir)
	}

	w.log.Debugf("committed index %s (clear=%v, adds=%d, deletes=%d)", w.dir, delta.Clear, len(delta.Adds), len(delta.Deletes))
	w.resetPending()
	return nil
}

// Close releases the lock of the directory. With CommitOnClose pending changes
// are committed first, otherwise they are discarded. Calling Close on a closed
// writer is a no-op.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true

	var result *multierror.Error
	if w.opts.CommitOnClose {
		if err := w.commitLocked(); err != nil {
			result = multierror.Append(result, err)
		}
	} else if w.hasUncommittedLocked() {
		w.log.Warningf("closing index %s without committing pending changes", w.dir)
	}

	if err := w.dir.ReleaseLock(); err != nil {
		result = multierror.Append(result, errors.Wrapf(err, "failed to release lock of %s", w.dir))
	}

	// release memory, open readers keep their own views
	w.segments = nil
	w.resetBuffer()
	return result.ErrorOrNil()
}

// --------------------------------------------------------------------------
// Statistics
// --------------------------------------------------------------------------

// Generation is incremented by every mutation. A reader is current if it was
// opened at the writer's current generation.
func (w *Writer) Generation() uint64 {
	return w.generation.Load()
}

// HasUncommittedChanges reports whether Commit would write anything.
func (w *Writer) HasUncommittedChanges() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.hasUncommittedLocked()
}

func (w *Writer) hasUncommittedLocked() bool {
	return w.pendingClear || len(w.pendingAdds) > 0 || !w.pendingDeletes.IsEmpty()
}

// NumDocs returns the number of live documents, including uncommitted changes.
func (w *Writer) NumDocs() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.numDocsLocked()
}

func (w *Writer) numDocsLocked() int {
	n := len(w.buffer) - w.bufDeleted.GetCardinality()
	for _, v := range w.segments {
		n += v.numLive()
	}
	return n
}

// MaxDoc returns the number of documents including deleted ones which were not merged away yet.
func (w *Writer) MaxDoc() int {
	w.mu.Lock()
	defer w.mu.Unlock()

	n := len(w.buffer)
	for _, v := range w.segments {
		n += v.seg.size()
	}
	return n
}

// NumSegments returns the number of flushed segments.
func (w *Writer) NumSegments() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.segments)
}

// Directory returns the directory the writer operates on.
func (w *Writer) Directory() Directory {
	return w.dir
}

func (w *Writer) ensureOpen() error {
	if w.closed {
		return ErrAlreadyClosed
	}
	return nil
}

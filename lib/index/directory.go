package index

import (
	"sort"
	"sync"
)

// CommitPoint is the committed state read from a Directory.
type CommitPoint struct {
	// NextSeq is the sequence number the writer continues with
	NextSeq uint64
	// Docs holds all committed documents ordered by Seq
	Docs []StoredDocument
}

// CommitDelta describes the changes made since the previous commit.
type CommitDelta struct {
	// Clear drops all previously committed documents before Deletes and Adds are applied
	Clear   bool
	Deletes []uint64
	Adds    []StoredDocument
	NextSeq uint64
}

// Directory is the storage location of an index. It keeps the committed
// documents and guards the index against concurrent writers.
//
// Only one Writer may hold the lock of a Directory at a time.
type Directory interface {
	// ObtainLock acquires the write lock. It returns ErrLockObtainFailed if the lock
	// is held by another writer and ErrCorruptIndex if the storage can not be opened.
	ObtainLock() error
	// ReleaseLock releases the write lock.
	ReleaseLock() error
	// ReadCommit returns the latest commit or ErrIndexNotFound if nothing was committed yet.
	ReadCommit() (*CommitPoint, error)
	// WriteCommit durably applies delta. Either all of it is applied or nothing.
	WriteCommit(delta *CommitDelta) error
	// Wipe removes all committed data. The caller must hold the lock, unless
	// ObtainLock failed with ErrCorruptIndex.
	Wipe() error
	// Close releases all resources of the directory.
	Close() error
	String() string
}

// --------------------------------------------------------------------------
// RAM Directory
// --------------------------------------------------------------------------

// ramDirectory keeps commits in memory. Its content is lost with the process.
type ramDirectory struct {
	mu        sync.Mutex
	locked    bool
	committed bool
	nextSeq   uint64
	docs      map[uint64]StoredDocument
}

// NewRAMDirectory creates an empty in-memory directory.
func NewRAMDirectory() Directory {
	return &ramDirectory{docs: make(map[uint64]StoredDocument)}
}

func (d *ramDirectory) ObtainLock() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.locked {
		return ErrLockObtainFailed
	}
	d.locked = true
	return nil
}

func (d *ramDirectory) ReleaseLock() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.locked = false
	return nil
}

func (d *ramDirectory) ReadCommit() (*CommitPoint, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.committed {
		return nil, ErrIndexNotFound
	}

	cp := &CommitPoint{
		NextSeq: d.nextSeq,
		Docs:    make([]StoredDocument, 0, len(d.docs)),
	}
	for _, doc := range d.docs {
		cp.Docs = append(cp.Docs, doc)
	}
	sort.Slice(cp.Docs, func(i, j int) bool { return cp.Docs[i].Seq < cp.Docs[j].Seq })
	return cp, nil
}

func (d *ramDirectory) WriteCommit(delta *CommitDelta) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if delta.Clear {
		d.docs = make(map[uint64]StoredDocument, len(delta.Adds))
	}
	for _, seq := range delta.Deletes {
		delete(d.docs, seq)
	}
	for _, doc := range delta.Adds {
		d.docs[doc.Seq] = doc
	}
	d.nextSeq = delta.NextSeq
	d.committed = true
	return nil
}

func (d *ramDirectory) Wipe() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.docs = make(map[uint64]StoredDocument)
	d.committed = false
	d.nextSeq = 0
	return nil
}

func (d *ramDirectory) Close() error {
	return nil
}

func (d *ramDirectory) String() string {
	return "ram"
}

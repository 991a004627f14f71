package index

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/vmihailenco/msgpack/v5"
	bolt "go.etcd.io/bbolt"
)

// FileName is the name of the index file inside an FS directory
const FileName = "index.db"

var (
	metaBucket = []byte("meta")
	docsBucket = []byte("docs")

	keyMagic   = []byte("magic")
	keyVersion = []byte("version")
	keyNextSeq = []byte("next_seq")

	magic = []byte("ixmap-index")
)

// _Version is the layout version of the index file
const _Version uint64 = 1

// FSOptions configures a filesystem directory
type FSOptions struct {
	// LockTimeout is how long ObtainLock waits for a lock held by another writer
	LockTimeout time.Duration
	// NoSync skips fsync on commit (tests only)
	NoSync bool
}

// DefaultFSOptions returns the default configuration
func DefaultFSOptions() *FSOptions {
	return &FSOptions{
		LockTimeout: 100 * time.Millisecond,
	}
}

/*
fsDirectory keeps the committed documents of an index in a bbolt file.

File Structure:
  - meta bucket: magic, layout version and the next sequence number
  - docs bucket: one row per document, keyed by the big endian sequence number,
    holding the msgpack encoded fields

bbolt holds an exclusive file lock while the file is open, which makes the
open file the write lock of the directory.
*/
type fsDirectory struct {
	mu   sync.Mutex
	path string
	opts FSOptions
	db   *bolt.DB
}

// OpenFSDirectory returns a directory at path. The folder is created if it does not exist.
// The index file itself is opened when a writer obtains the lock.
func OpenFSDirectory(path string, opts *FSOptions) (Directory, error) {
	if opts == nil {
		opts = DefaultFSOptions()
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, errors.Wrapf(err, "create index directory %q", path)
	}
	return &fsDirectory{path: path, opts: *opts}, nil
}

func (d *fsDirectory) file() string {
	return filepath.Join(d.path, FileName)
}

func (d *fsDirectory) ObtainLock() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.db != nil {
		return ErrLockObtainFailed
	}

	db, err := bolt.Open(d.file(), 0o600, &bolt.Options{Timeout: d.opts.LockTimeout, NoSync: d.opts.NoSync})
	if err != nil {
		if errors.Is(err, bolt.ErrTimeout) {
			return errors.Wrapf(ErrLockObtainFailed, "index %s is locked by another writer", d.file())
		}
		var pathErr *os.PathError
		if errors.As(err, &pathErr) {
			return errors.Wrapf(err, "open index %s", d.file())
		}
		return errors.Wrapf(ErrCorruptIndex, "open index %s: %v", d.file(), err)
	}
	d.db = db
	return nil
}

func (d *fsDirectory) ReleaseLock() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closeDB()
}

func (d *fsDirectory) closeDB() error {
	if d.db == nil {
		return nil
	}
	err := d.db.Close()
	d.db = nil
	return errors.Wrap(err, "close index file")
}

func (d *fsDirectory) ReadCommit() (*CommitPoint, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.db == nil {
		return nil, errors.New("index file is not open")
	}

	cp := &CommitPoint{}
	err := d.db.View(func(tx *bolt.Tx) error {
		meta, docs := tx.Bucket(metaBucket), tx.Bucket(docsBucket)
		if meta == nil && docs == nil {
			return ErrIndexNotFound
		}
		if meta == nil || docs == nil {
			return errors.Wrap(ErrCorruptIndex, "missing bucket")
		}

		if !bytes.Equal(meta.Get(keyMagic), magic) {
			return errors.Wrap(ErrCorruptIndex, "invalid magic")
		}
		version, err := getUint64(meta, keyVersion)
		if err != nil {
			return err
		}
		if version != _Version {
			return errors.Wrapf(ErrCorruptIndex, "unsupported layout version %d (expected %d)", version, _Version)
		}
		if cp.NextSeq, err = getUint64(meta, keyNextSeq); err != nil {
			return err
		}

		cp.Docs = make([]StoredDocument, 0)
		return docs.ForEach(func(k, v []byte) error {
			if len(k) != 8 {
				return errors.Wrapf(ErrCorruptIndex, "invalid document key %x", k)
			}
			doc := StoredDocument{Seq: binary.BigEndian.Uint64(k)}
			if err := msgpack.Unmarshal(v, &doc.Fields); err != nil {
				return errors.Wrapf(ErrCorruptIndex, "decode document %d: %v", doc.Seq, err)
			}
			cp.Docs = append(cp.Docs, doc)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return cp, nil
}

func (d *fsDirectory) WriteCommit(delta *CommitDelta) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.db == nil {
		return errors.New("index file is not open")
	}

	return d.db.Update(func(tx *bolt.Tx) error {
		if delta.Clear {
			if err := tx.DeleteBucket(docsBucket); err != nil && !errors.Is(err, bolt.ErrBucketNotFound) {
				return errors.Wrap(err, "clear documents")
			}
		}

		meta, err := tx.CreateBucketIfNotExists(metaBucket)
		if err != nil {
			return errors.Wrap(err, "create meta bucket")
		}
		docs, err := tx.CreateBucketIfNotExists(docsBucket)
		if err != nil {
			return errors.Wrap(err, "create docs bucket")
		}

		for _, seq := range delta.Deletes {
			if err := docs.Delete(seqKey(seq)); err != nil {
				return errors.Wrapf(err, "delete document %d", seq)
			}
		}
		for _, doc := range delta.Adds {
			data, err := msgpack.Marshal(doc.Fields)
			if err != nil {
				return errors.Wrapf(err, "encode document %d", doc.Seq)
			}
			if err := docs.Put(seqKey(doc.Seq), data); err != nil {
				return errors.Wrapf(err, "put document %d", doc.Seq)
			}
		}

		if err := meta.Put(keyMagic, magic); err != nil {
			return err
		}
		if err := meta.Put(keyVersion, seqKey(_Version)); err != nil {
			return err
		}
		return meta.Put(keyNextSeq, seqKey(delta.NextSeq))
	})
}

func (d *fsDirectory) Wipe() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	// the file could not be opened, replace it
	if d.db == nil {
		if err := os.Remove(d.file()); err != nil && !os.IsNotExist(err) {
			return errors.Wrapf(err, "remove index file %s", d.file())
		}
		return nil
	}

	return d.db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{metaBucket, docsBucket} {
			if err := tx.DeleteBucket(name); err != nil && !errors.Is(err, bolt.ErrBucketNotFound) {
				return errors.Wrapf(err, "delete bucket %s", name)
			}
		}
		return nil
	})
}

func (d *fsDirectory) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closeDB()
}

func (d *fsDirectory) String() string {
	return fmt.Sprintf("fs:%s", d.path)
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

func seqKey(seq uint64) []byte {
	var k [8]byte
	binary.BigEndian.PutUint64(k[:], seq)
	return k[:]
}

func getUint64(b *bolt.Bucket, key []byte) (uint64, error) {
	v := b.Get(key)
	if len(v) != 8 {
		return 0, errors.Wrapf(ErrCorruptIndex, "invalid meta value %s", key)
	}
	return binary.BigEndian.Uint64(v), nil
}

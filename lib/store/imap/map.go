package imap

import (
	"fmt"
	"io"
	"sync"

	"github.com/ValentinKolb/ixmap/lib/codec"
	"github.com/ValentinKolb/ixmap/lib/index"
	"github.com/ValentinKolb/ixmap/lib/nrt"
	"github.com/ValentinKolb/ixmap/lib/store"
	"github.com/VictoriaMetrics/metrics"
	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
)

var plog = logger.GetLogger("store")

// maxHits bounds the number of documents a point lookup inspects. A key has
// at most one live document, the bound only matters for ContainsValue.
const maxHits = 10

// Names of the operations counted in ixmap_ops_total
var opNames = []string{"get", "contains_key", "contains_value", "put", "remove", "clear", "scan", "size", "refresh", "commit"}

type mapImpl[K, V any] struct {
	name       string
	opts       Options
	keyCodec   codec.Codec[K]
	valueCodec codec.Codec[V]

	writer   *mapWriter
	manager  *nrt.Manager
	reopener *nrt.Reopener
	metrics  *metrics.Set
	ops      map[string]*xsync.Counter
	sizes    *sizeHistogram

	// lifecycle is held for reading by every operation and for writing by Close
	lifecycle sync.RWMutex
	closed    bool

	// writeMu makes the previous-value lookup and the write of Put and Remove one step
	writeMu sync.Mutex
}

// New creates a map storing keys with keyCodec and values with valueCodec.
// If opts.Path names an existing index, its committed entries are loaded.
// The map owns a background goroutine refreshing its reader; Close stops it.
//
// Keys are looked up by their encoding, so keyCodec must encode equal keys to
// equal bytes (see codec.Deterministic). Gob codecs for types that may hold a
// map are rejected.
func New[K, V any](keyCodec codec.Codec[K], valueCodec codec.Codec[V], opts *Options) (store.IMap[K, V], error) {
	if keyCodec == nil || valueCodec == nil {
		return nil, store.NewError(store.RetCInvalidOperation, "key and value codec must not be nil")
	}
	if !codec.Deterministic(keyCodec) {
		return nil, store.NewError(store.RetCInvalidOperation,
			fmt.Sprintf("key codec (%s) does not encode keys deterministically", keyCodec.Format()))
	}
	if opts == nil {
		opts = DefaultOptions()
	}
	o := *opts
	if err := o.validate(); err != nil {
		return nil, err
	}
	if o.Name == "" {
		o.Name = uuid.NewString()
	}

	m := &mapImpl[K, V]{
		name:       o.Name,
		opts:       o,
		keyCodec:   keyCodec,
		valueCodec: valueCodec,
		metrics:    metrics.NewSet(),
		ops:        make(map[string]*xsync.Counter, len(opNames)),
		sizes:      newSizeHistogram(),
	}
	m.metrics.NewGauge(fmt.Sprintf(`ixmap_value_size_bytes_avg{map=%q}`, o.Name), func() float64 {
		return float64(m.sizes.average())
	})
	for _, op := range opNames {
		c := xsync.NewCounter()
		m.ops[op] = c
		m.metrics.NewGauge(fmt.Sprintf(`ixmap_ops_total{map=%q,op=%q}`, o.Name, op), func() float64 {
			return float64(c.Value())
		})
	}

	var err error
	if m.writer, err = openWriter(&o); err != nil {
		return nil, store.WrapError(store.RetCStorageError, err, "failed to open index")
	}

	m.manager, err = nrt.NewManager(m.writer.writer, &nrt.ManagerOptions{Name: o.Name, Metrics: m.metrics})
	if err != nil {
		return nil, m.abort(err, "failed to open reader")
	}

	m.reopener, err = nrt.NewReopener(m.writer.writer, m.manager, &nrt.ReopenerOptions{
		TargetMaxStale: o.TargetMaxStale,
		TargetMinStale: o.TargetMinStale,
		OnError:        o.OnRefreshError,
		Name:           o.Name,
	})
	if err != nil {
		return nil, m.abort(err, "failed to create reopener")
	}
	m.reopener.Start()

	path := o.Path
	if path == "" {
		path = "<memory>"
	}
	plog.Infof("map %s loaded from %s, size: %d entries (consistency=%s)", o.Name, path, m.writer.writer.NumDocs(), o.Consistency)
	return m, nil
}

// abort releases everything opened so far by New.
func (m *mapImpl[K, V]) abort(cause error, msg string) error {
	var result *multierror.Error
	result = multierror.Append(result, cause)
	if m.manager != nil {
		if err := m.manager.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if err := m.writer.close(); err != nil {
		result = multierror.Append(result, err)
	}
	return store.WrapError(store.RetCStorageError, result.ErrorOrNil(), msg)
}

// --------------------------------------------------------------------------
// Helper functions
// --------------------------------------------------------------------------

// begin marks the start of an operation. The returned function must be called
// when the operation is done.
func (m *mapImpl[K, V]) begin(op string) (func(), error) {
	m.lifecycle.RLock()
	if m.closed {
		m.lifecycle.RUnlock()
		return nil, store.NewError(store.RetCClosed, fmt.Sprintf("map %s is closed", m.name))
	}
	m.ops[op].Inc()
	return m.lifecycle.RUnlock, nil
}

// acquire returns a reader for a read operation, refreshed first in eager mode.
func (m *mapImpl[K, V]) acquire() (*index.Reader, error) {
	if m.opts.Consistency == ConsistencyEager {
		if _, err := m.manager.MaybeRefresh(); err != nil {
			return nil, store.WrapError(store.RetCStorageError, err, "failed to refresh reader")
		}
	}
	r, err := m.manager.Acquire()
	if err != nil {
		return nil, store.WrapError(store.RetCStorageError, err, "failed to acquire reader")
	}
	return r, nil
}

func (m *mapImpl[K, V]) release(r *index.Reader) {
	if err := m.manager.Release(r); err != nil {
		plog.Warningf("failed to release reader %d: %v", r.ID(), err)
	}
}

func (m *mapImpl[K, V]) encodeKey(key K) ([]byte, error) {
	b, err := m.keyCodec.Encode(key)
	if err != nil {
		return nil, store.WrapError(store.RetCCodecError, err, "failed to encode key")
	}
	return b, nil
}

func (m *mapImpl[K, V]) encodeValue(value V) ([]byte, error) {
	b, err := m.valueCodec.Encode(value)
	if err != nil {
		return nil, store.WrapError(store.RetCCodecError, err, "failed to encode value")
	}
	return b, nil
}

func (m *mapImpl[K, V]) decodeValue(b []byte) (V, error) {
	v, err := m.valueCodec.Decode(b)
	if err != nil {
		return v, store.WrapError(store.RetCCodecError, err, "failed to decode value")
	}
	return v, nil
}

func (m *mapImpl[K, V]) decodeKey(b []byte) (K, error) {
	k, err := m.keyCodec.Decode(b)
	if err != nil {
		return k, store.WrapError(store.RetCCodecError, err, "failed to decode key")
	}
	return k, nil
}

// search runs a boolean query with a single must clause on field.
func search(r *index.Reader, field string, value []byte, n int) (index.TopDocs, error) {
	q := index.NewBooleanQuery().AddMust(index.NewTermQuery(index.NewTerm(field, value)))
	top, err := r.Search(q, n)
	if err != nil {
		return top, store.WrapError(store.RetCStorageError, err, fmt.Sprintf("failed to search %s", field))
	}
	return top, nil
}

// latest returns the hit with the highest sequence number. Ordinals change
// when segments are merged, the sequence number reflects the order of writes.
func latest(hits []index.ScoreDoc) (index.ScoreDoc, bool) {
	if len(hits) == 0 {
		return index.ScoreDoc{}, false
	}
	best := hits[0]
	for _, h := range hits[1:] {
		if h.Seq > best.Seq {
			best = h
		}
	}
	return best, true
}

// lookup returns the authoritative document of the encoded key in r.
func lookup(r *index.Reader, key []byte) (*index.Document, bool, error) {
	top, err := search(r, keyField, key, maxHits)
	if err != nil {
		return nil, false, err
	}
	hit, ok := latest(top.ScoreDocs)
	if !ok {
		return nil, false, nil
	}
	doc, err := r.Document(hit.Doc)
	if err != nil {
		return nil, false, store.WrapError(store.RetCStorageError, err, "failed to load document")
	}
	return doc, true, nil
}

// get returns the decoded value of the encoded key in r.
func (m *mapImpl[K, V]) get(r *index.Reader, key []byte) (V, bool, error) {
	var zero V
	doc, found, err := lookup(r, key)
	if err != nil || !found {
		return zero, false, err
	}
	v, err := m.decodeValue(doc.Get(valueField))
	if err != nil {
		return zero, false, err
	}
	return v, true, nil
}

// liveEntries calls fn with the authoritative document of every key in r.
func liveEntries(r *index.Reader, fn func(doc *index.Document) error) error {
	type entry struct {
		seq uint64
		doc *index.Document
	}
	latestByKey := make(map[string]entry, r.NumDocs())
	var order []string

	err := r.LiveDocs(func(_ int, seq uint64, d *index.Document) bool {
		k := string(d.Get(keyField))
		prev, ok := latestByKey[k]
		if !ok {
			order = append(order, k)
		}
		if !ok || seq > prev.seq {
			latestByKey[k] = entry{seq: seq, doc: d}
		}
		return true
	})
	if err != nil {
		return store.WrapError(store.RetCStorageError, err, "failed to scan documents")
	}

	for _, k := range order {
		if err := fn(latestByKey[k].doc); err != nil {
			return err
		}
	}
	return nil
}

// --------------------------------------------------------------------------
// Interface Methods (docu see store/interface.go)
// --------------------------------------------------------------------------

func (m *mapImpl[K, V]) Size() (int, error) {
	done, err := m.begin("size")
	if err != nil {
		return 0, err
	}
	defer done()

	r, err := m.acquire()
	if err != nil {
		return 0, err
	}
	defer m.release(r)
	return r.NumDocs(), nil
}

func (m *mapImpl[K, V]) IsEmpty() (bool, error) {
	size, err := m.Size()
	if err != nil {
		return false, err
	}
	return size <= 0, nil
}

func (m *mapImpl[K, V]) ContainsKey(key K) (bool, error) {
	done, err := m.begin("contains_key")
	if err != nil {
		return false, err
	}
	defer done()

	kb, err := m.encodeKey(key)
	if err != nil {
		return false, err
	}
	r, err := m.acquire()
	if err != nil {
		return false, err
	}
	defer m.release(r)

	top, err := search(r, keyField, kb, maxHits)
	if err != nil {
		return false, err
	}
	return top.TotalHits > 0, nil
}

func (m *mapImpl[K, V]) ContainsValue(value V) (bool, error) {
	done, err := m.begin("contains_value")
	if err != nil {
		return false, err
	}
	defer done()

	vb, err := m.encodeValue(value)
	if err != nil {
		return false, err
	}
	r, err := m.acquire()
	if err != nil {
		return false, err
	}
	defer m.release(r)

	top, err := search(r, valueField, vb, maxHits)
	if err != nil || top.TotalHits == 0 {
		return false, err
	}
	if top.TotalHits > len(top.ScoreDocs) {
		// more matches than inspected, look at all of them
		if top, err = search(r, valueField, vb, top.TotalHits); err != nil {
			return false, err
		}
	}

	// a hit counts only if it is the latest document of its key
	for _, hit := range top.ScoreDocs {
		doc, err := r.Document(hit.Doc)
		if err != nil {
			return false, store.WrapError(store.RetCStorageError, err, "failed to load document")
		}
		keyHits, err := search(r, keyField, doc.Get(keyField), maxHits)
		if err != nil {
			return false, err
		}
		if best, ok := latest(keyHits.ScoreDocs); ok && best.Seq == hit.Seq {
			return true, nil
		}
	}
	return false, nil
}

func (m *mapImpl[K, V]) Get(key K) (V, bool, error) {
	var zero V
	done, err := m.begin("get")
	if err != nil {
		return zero, false, err
	}
	defer done()

	kb, err := m.encodeKey(key)
	if err != nil {
		return zero, false, err
	}
	r, err := m.acquire()
	if err != nil {
		return zero, false, err
	}
	defer m.release(r)
	return m.get(r, kb)
}

func (m *mapImpl[K, V]) Put(key K, value V) (V, bool, error) {
	var zero V
	done, err := m.begin("put")
	if err != nil {
		return zero, false, err
	}
	defer done()
	return m.put(key, value)
}

func (m *mapImpl[K, V]) put(key K, value V) (V, bool, error) {
	var zero V
	kb, err := m.encodeKey(key)
	if err != nil {
		return zero, false, err
	}
	vb, err := m.encodeValue(value)
	if err != nil {
		return zero, false, err
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	r, err := m.acquire()
	if err != nil {
		return zero, false, err
	}
	prev, existed, err := m.get(r, kb)
	m.release(r)
	if err != nil {
		return zero, false, err
	}

	if err := m.writer.upsert(kb, vb); err != nil {
		return zero, false, store.WrapError(store.RetCStorageError, err, "failed to put entry")
	}
	m.sizes.add(len(vb))
	return prev, existed, nil
}

func (m *mapImpl[K, V]) Remove(key K) (V, bool, error) {
	var zero V
	done, err := m.begin("remove")
	if err != nil {
		return zero, false, err
	}
	defer done()

	kb, err := m.encodeKey(key)
	if err != nil {
		return zero, false, err
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	r, err := m.acquire()
	if err != nil {
		return zero, false, err
	}
	prev, existed, err := m.get(r, kb)
	m.release(r)
	if err != nil {
		return zero, false, err
	}

	// delete even if the reader does not know the key, it may be stale
	if err := m.writer.delete(kb); err != nil {
		return zero, false, store.WrapError(store.RetCStorageError, err, "failed to remove entry")
	}
	return prev, existed, nil
}

func (m *mapImpl[K, V]) PutAll(entries ...store.Entry[K, V]) error {
	done, err := m.begin("put")
	if err != nil {
		return err
	}
	defer done()

	for _, e := range entries {
		if _, _, err := m.put(e.Key, e.Value); err != nil {
			return err
		}
	}
	return nil
}

func (m *mapImpl[K, V]) Clear() error {
	done, err := m.begin("clear")
	if err != nil {
		return err
	}
	defer done()

	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	if err := m.writer.clear(); err != nil {
		return store.WrapError(store.RetCStorageError, err, "failed to clear map")
	}
	m.sizes.reset()
	return nil
}

func (m *mapImpl[K, V]) Keys() ([]K, error) {
	done, err := m.begin("scan")
	if err != nil {
		return nil, err
	}
	defer done()

	r, err := m.acquire()
	if err != nil {
		return nil, err
	}
	defer m.release(r)

	keys := make([]K, 0, r.NumDocs())
	err = liveEntries(r, func(doc *index.Document) error {
		k, err := m.decodeKey(doc.Get(keyField))
		if err != nil {
			return err
		}
		keys = append(keys, k)
		return nil
	})
	return keys, err
}

func (m *mapImpl[K, V]) Values() ([]V, error) {
	done, err := m.begin("scan")
	if err != nil {
		return nil, err
	}
	defer done()

	r, err := m.acquire()
	if err != nil {
		return nil, err
	}
	defer m.release(r)

	values := make([]V, 0, r.NumDocs())
	err = liveEntries(r, func(doc *index.Document) error {
		v, err := m.decodeValue(doc.Get(valueField))
		if err != nil {
			return err
		}
		values = append(values, v)
		return nil
	})
	return values, err
}

func (m *mapImpl[K, V]) Entries() ([]store.Entry[K, V], error) {
	done, err := m.begin("scan")
	if err != nil {
		return nil, err
	}
	defer done()

	r, err := m.acquire()
	if err != nil {
		return nil, err
	}
	defer m.release(r)

	entries := make([]store.Entry[K, V], 0, r.NumDocs())
	err = liveEntries(r, func(doc *index.Document) error {
		k, err := m.decodeKey(doc.Get(keyField))
		if err != nil {
			return err
		}
		v, err := m.decodeValue(doc.Get(valueField))
		if err != nil {
			return err
		}
		entries = append(entries, store.Entry[K, V]{Key: k, Value: v})
		return nil
	})
	return entries, err
}

func (m *mapImpl[K, V]) Refresh() error {
	done, err := m.begin("refresh")
	if err != nil {
		return err
	}
	defer done()

	if _, err := m.manager.Refresh(true); err != nil {
		return store.WrapError(store.RetCStorageError, err, "failed to refresh reader")
	}
	return nil
}

func (m *mapImpl[K, V]) Commit() error {
	done, err := m.begin("commit")
	if err != nil {
		return err
	}
	defer done()

	if err := m.writer.commit(); err != nil {
		return store.WrapError(store.RetCStorageError, err, "failed to commit")
	}
	return nil
}

func (m *mapImpl[K, V]) Health() nrt.Health {
	return m.reopener.Health()
}

func (m *mapImpl[K, V]) Info() (store.Info, error) {
	m.lifecycle.RLock()
	defer m.lifecycle.RUnlock()
	if m.closed {
		return store.Info{}, store.NewError(store.RetCClosed, fmt.Sprintf("map %s is closed", m.name))
	}

	r, err := m.manager.Acquire()
	if err != nil {
		return store.Info{}, store.WrapError(store.RetCStorageError, err, "failed to acquire reader")
	}
	defer m.release(r)

	w := m.writer.writer
	return store.Info{
		Name:                m.name,
		Path:                m.opts.Path,
		Consistency:         m.opts.Consistency.String(),
		NumDocs:             r.NumDocs(),
		MaxDoc:              r.MaxDoc(),
		DeletedDocs:         r.NumDeletedDocs(),
		Segments:            r.NumSegments(),
		OpenSnapshots:       m.manager.OpenSnapshots(),
		Generation:          w.Generation(),
		SearchingGeneration: r.Generation(),
		Uncommitted:         w.HasUncommittedChanges(),
		ValuesWritten:       m.sizes.samples(),
		ValueSizeAvg:        m.sizes.average(),
		ValueSizeP50:        m.sizes.percentile(50),
		ValueSizeP99:        m.sizes.percentile(99),
	}, nil
}

func (m *mapImpl[K, V]) WriteMetrics(w io.Writer) {
	m.metrics.WritePrometheus(w)
}

func (m *mapImpl[K, V]) Close() error {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true

	var result *multierror.Error
	if err := m.reopener.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	if err := m.manager.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	if err := m.writer.close(); err != nil {
		result = multierror.Append(result, err)
	}

	if err := result.ErrorOrNil(); err != nil {
		return store.WrapError(store.RetCStorageError, err, fmt.Sprintf("failed to close map %s", m.name))
	}
	plog.Infof("map %s closed", m.name)
	return nil
}

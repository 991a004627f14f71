package nrt

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/ixmap/lib/index"
	"github.com/VictoriaMetrics/metrics"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/pkg/errors"
	"github.com/puzpuzpuz/xsync/v3"
	"golang.org/x/sync/singleflight"
)

var plog = logger.GetLogger("nrt")

// ErrClosed is returned by a closed Manager or Reopener.
var ErrClosed = errors.New("nrt: closed")

// RefreshListener is notified around every refresh that is actually attempted.
type RefreshListener interface {
	// BeforeRefresh is called before a new reader is opened.
	BeforeRefresh()
	// AfterRefresh is called after the attempt. didRefresh is false if it failed.
	AfterRefresh(didRefresh bool)
}

// ManagerOptions configures a Manager
type ManagerOptions struct {
	// Name is used as the "map" label of all metrics
	Name string
	// Metrics receives the metrics of the manager. A new set is created if nil.
	Metrics *metrics.Set
	Logger  logger.ILogger
}

// Manager is the reader pool of a Writer. It holds the current reader, hands
// out references to it and replaces it on refresh.
//
// Thread-safety: all methods are safe for concurrent use. Acquire never blocks
// on a running refresh.
type Manager struct {
	writer  *index.Writer
	log     logger.ILogger
	current atomic.Pointer[index.Reader]
	gen     atomic.Uint64 // generation of the current reader

	// mu is held while the current reader is replaced or dropped
	mu     sync.Mutex
	closed atomic.Bool
	group  singleflight.Group

	listenersMu sync.RWMutex
	listeners   []RefreshListener

	// readers with at least one reference, keyed by reader id
	snapshots *xsync.MapOf[uint64, *index.Reader]

	metrics         *metrics.Set
	refreshTotal    *metrics.Counter
	refreshErrors   *metrics.Counter
	refreshDuration *metrics.Histogram
}

// NewManager opens the initial reader of w.
func NewManager(w *index.Writer, opts *ManagerOptions) (*Manager, error) {
	if opts == nil {
		opts = &ManagerOptions{}
	}
	set := opts.Metrics
	if set == nil {
		set = metrics.NewSet()
	}
	log := opts.Logger
	if log == nil {
		log = plog
	}

	m := &Manager{
		writer:    w,
		log:       log,
		snapshots: xsync.NewMapOf[uint64, *index.Reader](),
		metrics:   set,
	}

	label := fmt.Sprintf(`{map=%q}`, opts.Name)
	m.refreshTotal = set.NewCounter("ixmap_refresh_total" + label)
	m.refreshErrors = set.NewCounter("ixmap_refresh_errors_total" + label)
	m.refreshDuration = set.NewHistogram("ixmap_refresh_duration_seconds" + label)
	set.NewGauge("ixmap_open_snapshots"+label, func() float64 { return float64(m.OpenSnapshots()) })

	r, err := w.OpenReader()
	if err != nil {
		return nil, errors.Wrap(err, "failed to open initial reader")
	}
	m.snapshots.Store(r.ID(), r)
	m.gen.Store(r.Generation())
	m.current.Store(r)
	return m, nil
}

// --------------------------------------------------------------------------
// Acquire & Release
// --------------------------------------------------------------------------

// Acquire returns the current reader with its reference count incremented.
// Every successful Acquire must be paired with a Release.
func (m *Manager) Acquire() (*index.Reader, error) {
	for {
		if m.closed.Load() {
			return nil, ErrClosed
		}
		r := m.current.Load()
		if r == nil {
			return nil, ErrClosed
		}
		if r.TryIncRef() {
			return r, nil
		}
		// r was replaced and released between Load and TryIncRef, retry with the new one
	}
}

// Release returns a reader obtained from Acquire. Readers that were replaced
// and are no longer referenced are dropped.
func (m *Manager) Release(r *index.Reader) error {
	if r == nil {
		return nil
	}
	if err := r.DecRef(); err != nil {
		return err
	}
	if r.RefCount() == 0 {
		m.snapshots.Delete(r.ID())
	}
	return nil
}

// --------------------------------------------------------------------------
// Refresh
// --------------------------------------------------------------------------

// Refresh replaces the current reader by a new one reflecting all changes made
// to the writer so far. Unless force is set nothing happens if the current
// reader is still current. Concurrent calls share one reopen; a caller whose
// changes were made after the shared reopen started triggers another one, so
// on return the current reader always includes all changes made before the
// call. The result reports whether a new reader was installed.
func (m *Manager) Refresh(force bool) (bool, error) {
	target := m.writer.Generation()
	refreshed := false

	// forced calls must not join a refresh that may turn out to be a no-op
	key := "refresh"
	if force {
		key = "refresh-force"
	}
	for {
		if m.closed.Load() {
			return refreshed, ErrClosed
		}

		v, err, _ := m.group.Do(key, func() (interface{}, error) {
			return m.doRefresh(force)
		})
		if err != nil {
			return refreshed, err
		}
		refreshed = refreshed || v.(bool)

		if m.gen.Load() >= target {
			return refreshed, nil
		}
	}
}

// MaybeRefresh refreshes if the writer changed since the current reader was opened.
func (m *Manager) MaybeRefresh() (bool, error) {
	return m.Refresh(false)
}

func (m *Manager) doRefresh(force bool) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed.Load() {
		return false, ErrClosed
	}
	if cur := m.current.Load(); !force && cur.IsCurrent() {
		return false, nil
	}

	m.notifyBefore()
	start := time.Now()

	r, err := m.writer.OpenReader()
	if err != nil {
		m.refreshErrors.Inc()
		m.notifyAfter(false)
		return false, errors.Wrap(err, "failed to open reader")
	}

	m.snapshots.Store(r.ID(), r)
	old := m.current.Swap(r)
	m.gen.Store(r.Generation())
	if err := m.Release(old); err != nil {
		m.log.Warningf("failed to release replaced reader: %v", err)
	}

	m.refreshTotal.Inc()
	m.refreshDuration.UpdateDuration(start)
	m.log.Debugf("refreshed reader %d (generation %d, docs %d)", r.ID(), r.Generation(), r.NumDocs())
	m.notifyAfter(true)
	return true, nil
}

// --------------------------------------------------------------------------
// Listeners
// --------------------------------------------------------------------------

// AddListener registers l for all future refreshes.
func (m *Manager) AddListener(l RefreshListener) {
	m.listenersMu.Lock()
	defer m.listenersMu.Unlock()
	m.listeners = append(m.listeners, l)
}

// RemoveListener unregisters l.
func (m *Manager) RemoveListener(l RefreshListener) {
	m.listenersMu.Lock()
	defer m.listenersMu.Unlock()
	for i, other := range m.listeners {
		if other == l {
			m.listeners = append(m.listeners[:i], m.listeners[i+1:]...)
			return
		}
	}
}

func (m *Manager) notifyBefore() {
	m.listenersMu.RLock()
	defer m.listenersMu.RUnlock()
	for _, l := range m.listeners {
		l.BeforeRefresh()
	}
}

func (m *Manager) notifyAfter(didRefresh bool) {
	m.listenersMu.RLock()
	defer m.listenersMu.RUnlock()
	for _, l := range m.listeners {
		l.AfterRefresh(didRefresh)
	}
}

// --------------------------------------------------------------------------
// Statistics & Lifecycle
// --------------------------------------------------------------------------

// Generation returns the writer generation of the current reader.
func (m *Manager) Generation() uint64 {
	return m.gen.Load()
}

// OpenSnapshots returns the number of readers that are still referenced,
// including the current one.
func (m *Manager) OpenSnapshots() int {
	return m.snapshots.Size()
}

// Metrics returns the metric set of the manager.
func (m *Manager) Metrics() *metrics.Set {
	return m.metrics
}

// Close drops the reference the manager holds on the current reader. Readers
// acquired before stay valid until released. Calling Close twice is a no-op.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed.Swap(true) {
		return nil
	}
	return m.Release(m.current.Swap(nil))
}

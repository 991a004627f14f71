package nrt

import (
	"bytes"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ValentinKolb/ixmap/lib/index"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func newWriter(t *testing.T) *index.Writer {
	w, err := index.Open(index.NewRAMDirectory(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })
	return w
}

func newManager(t *testing.T, w *index.Writer) *Manager {
	m, err := NewManager(w, &ManagerOptions{Name: t.Name()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func addDoc(t *testing.T, w *index.Writer, k, v string) {
	_, err := w.UpdateDocument(index.NewTerm("key", []byte(k)),
		index.NewDocument().Add("key", []byte(k)).Add("value", []byte(v)))
	require.NoError(t, err)
}

func numDocs(t *testing.T, m *Manager) int {
	r, err := m.Acquire()
	require.NoError(t, err)
	defer m.Release(r)
	return r.NumDocs()
}

type countingListener struct {
	before, after, refreshed atomic.Int32
}

func (l *countingListener) BeforeRefresh() { l.before.Add(1) }

func (l *countingListener) AfterRefresh(didRefresh bool) {
	l.after.Add(1)
	if didRefresh {
		l.refreshed.Add(1)
	}
}

func TestManager_Isolation(t *testing.T) {
	w := newWriter(t)
	m := newManager(t, w)

	before, err := m.Acquire()
	require.NoError(t, err)

	addDoc(t, w, "a", "1")
	assert.Equal(t, 0, numDocs(t, m), "writes are invisible until refresh")

	refreshed, err := m.MaybeRefresh()
	require.NoError(t, err)
	assert.True(t, refreshed)

	assert.Equal(t, 0, before.NumDocs(), "reader acquired before the write must not see it")
	assert.Equal(t, 1, numDocs(t, m))
	require.NoError(t, m.Release(before))
}

func TestManager_RefreshNoop(t *testing.T) {
	w := newWriter(t)
	m := newManager(t, w)
	l := &countingListener{}
	m.AddListener(l)

	refreshed, err := m.Refresh(false)
	require.NoError(t, err)
	assert.False(t, refreshed, "nothing pending, nothing to do")
	assert.Equal(t, int32(0), l.before.Load())

	refreshed, err = m.Refresh(true)
	require.NoError(t, err)
	assert.True(t, refreshed, "forced refresh must open a new reader")
	assert.Equal(t, int32(1), l.before.Load())
	assert.Equal(t, int32(1), l.refreshed.Load())

	m.RemoveListener(l)
	_, err = m.Refresh(true)
	require.NoError(t, err)
	assert.Equal(t, int32(1), l.before.Load(), "removed listener must not be notified")
}

func TestManager_ForcedRefreshDoesNotJoinNoop(t *testing.T) {
	w := newWriter(t)
	m := newManager(t, w)

	// hold the swap lock so that both refreshes are in flight at the same time
	m.mu.Lock()
	lazy := make(chan bool, 1)
	go func() {
		refreshed, err := m.Refresh(false)
		assert.NoError(t, err)
		lazy <- refreshed
	}()
	time.Sleep(50 * time.Millisecond)

	forced := make(chan bool, 1)
	go func() {
		refreshed, err := m.Refresh(true)
		assert.NoError(t, err)
		forced <- refreshed
	}()
	time.Sleep(50 * time.Millisecond)
	m.mu.Unlock()

	assert.False(t, <-lazy, "nothing changed, the lazy refresh is a no-op")
	assert.True(t, <-forced, "a forced refresh always installs a new reader")
}

func TestManager_ReclaimsReplacedReaders(t *testing.T) {
	w := newWriter(t)
	m := newManager(t, w)
	assert.Equal(t, 1, m.OpenSnapshots())

	old, err := m.Acquire()
	require.NoError(t, err)

	addDoc(t, w, "a", "1")
	_, err = m.MaybeRefresh()
	require.NoError(t, err)
	assert.Equal(t, 2, m.OpenSnapshots(), "replaced reader is still referenced")

	require.NoError(t, m.Release(old))
	assert.Equal(t, 1, m.OpenSnapshots())
	assert.Equal(t, int32(0), old.RefCount())
}

func TestManager_Generation(t *testing.T) {
	w := newWriter(t)
	m := newManager(t, w)

	addDoc(t, w, "a", "1")
	addDoc(t, w, "b", "2")
	assert.Less(t, m.Generation(), w.Generation())

	_, err := m.MaybeRefresh()
	require.NoError(t, err)
	assert.Equal(t, w.Generation(), m.Generation())
}

func TestManager_Closed(t *testing.T) {
	w := newWriter(t)
	m, err := NewManager(w, nil)
	require.NoError(t, err)

	r, err := m.Acquire()
	require.NoError(t, err)

	require.NoError(t, m.Close())
	require.NoError(t, m.Close())

	_, err = m.Acquire()
	assert.ErrorIs(t, err, ErrClosed)
	_, err = m.Refresh(true)
	assert.ErrorIs(t, err, ErrClosed)

	// readers acquired before close stay usable
	assert.Equal(t, 0, r.NumDocs())
	require.NoError(t, m.Release(r))
	assert.Equal(t, 0, m.OpenSnapshots())
}

func TestManager_ConcurrentReadWrite(t *testing.T) {
	w := newWriter(t)
	m := newManager(t, w)

	const writes = 500
	var g errgroup.Group

	// writer: every value of a key is "<key>-<n>", the doc count only grows
	g.Go(func() error {
		for i := 0; i < writes; i++ {
			k := fmt.Sprint(i % 50)
			if _, err := w.UpdateDocument(index.NewTerm("key", []byte(k)),
				index.NewDocument().Add("key", []byte(k)).Add("value", []byte(fmt.Sprintf("%s-%d", k, i)))); err != nil {
				return err
			}
		}
		return nil
	})

	// refreshers
	for i := 0; i < 4; i++ {
		g.Go(func() error {
			for j := 0; j < 200; j++ {
				if _, err := m.Refresh(j%10 == 0); err != nil {
					return err
				}
			}
			return nil
		})
	}

	// readers: a snapshot never contains two documents for one key
	for i := 0; i < 8; i++ {
		g.Go(func() error {
			for j := 0; j < 200; j++ {
				r, err := m.Acquire()
				if err != nil {
					return err
				}
				seen := make(map[string]bool)
				var dup string
				err = r.LiveDocs(func(_ int, _ uint64, d *index.Document) bool {
					k := string(d.Get("key"))
					if seen[k] {
						dup = k
						return false
					}
					if !bytes.HasPrefix(d.Get("value"), []byte(k+"-")) {
						dup = k
						return false
					}
					seen[k] = true
					return true
				})
				if rErr := m.Release(r); rErr != nil {
					return rErr
				}
				if err != nil {
					return err
				}
				if dup != "" {
					return fmt.Errorf("torn snapshot for key %s", dup)
				}
			}
			return nil
		})
	}

	require.NoError(t, g.Wait())

	_, err := m.MaybeRefresh()
	require.NoError(t, err)
	assert.Equal(t, 50, numDocs(t, m))
	assert.Equal(t, 1, m.OpenSnapshots())
}

func TestManager_Metrics(t *testing.T) {
	w := newWriter(t)
	m := newManager(t, w)

	addDoc(t, w, "a", "1")
	_, err := m.MaybeRefresh()
	require.NoError(t, err)

	var buf bytes.Buffer
	m.Metrics().WritePrometheus(&buf)
	out := buf.String()
	assert.Contains(t, out, "ixmap_refresh_total")
	assert.Contains(t, out, "ixmap_open_snapshots")
}

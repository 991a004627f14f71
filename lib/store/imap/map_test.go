package imap

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ValentinKolb/ixmap/lib/codec"
	"github.com/ValentinKolb/ixmap/lib/index"
	"github.com/ValentinKolb/ixmap/lib/store"
	maptesting "github.com/ValentinKolb/ixmap/lib/store/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func factory(t testing.TB, persistent bool, consistency Consistency) maptesting.MapFactory {
	return func() store.IMap[string, string] {
		opts := DefaultOptions()
		opts.Consistency = consistency
		if persistent {
			opts.Path = t.TempDir()
		}
		m, err := New(codec.String(), codec.String(), opts)
		if err != nil {
			t.Fatalf("failed to create map: %v", err)
		}
		return m
	}
}

func TestMapInterface(t *testing.T) {
	maptesting.RunMapTests(t, "Memory/Eager", factory(t, false, ConsistencyEager))
	maptesting.RunMapTests(t, "Memory/Lazy", factory(t, false, ConsistencyLazy))
	maptesting.RunMapTests(t, "FS/Eager", factory(t, true, ConsistencyEager))
	maptesting.RunMapTests(t, "FS/Lazy", factory(t, true, ConsistencyLazy))
}

func BenchmarkMapInterface(b *testing.B) {
	maptesting.RunMapBenchmarks(b, "Memory/Eager", factory(b, false, ConsistencyEager))
	maptesting.RunMapBenchmarks(b, "Memory/Lazy", factory(b, false, ConsistencyLazy))
}

// --------------------------------------------------------------------------
// Helper functions
// --------------------------------------------------------------------------

func openMap(t *testing.T, opts *Options) store.IMap[string, string] {
	m, err := New(codec.String(), codec.String(), opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func pathOptions(path string) *Options {
	opts := DefaultOptions()
	opts.Path = path
	return opts
}

func requireCode(t *testing.T, err error, code store.RetCode) {
	t.Helper()
	var mErr *store.Error
	require.True(t, errors.As(err, &mErr), "expected *store.Error, got %v", err)
	assert.Equal(t, code, mErr.Code, "unexpected code: %v", err)
}

// --------------------------------------------------------------------------
// Consistency
// --------------------------------------------------------------------------

func TestEagerReadsOwnWrites(t *testing.T) {
	m := openMap(t, DefaultOptions())

	for i := 0; i < 100; i++ {
		key := string(rune('a' + i%26))
		_, _, err := m.Put(key, key+"!")
		require.NoError(t, err)

		v, found, err := m.Get(key)
		require.NoError(t, err)
		require.True(t, found, "write must be visible without explicit refresh")
		assert.Equal(t, key+"!", v)
	}

	size, err := m.Size()
	require.NoError(t, err)
	assert.Equal(t, 26, size)

	prev, existed, err := m.Remove("a")
	require.NoError(t, err)
	assert.True(t, existed)
	assert.Equal(t, "a!", prev)

	ok, err := m.ContainsKey("a")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLazyReadsSnapshot(t *testing.T) {
	opts := DefaultOptions()
	opts.Consistency = ConsistencyLazy
	opts.TargetMaxStale = time.Hour
	opts.TargetMinStale = time.Hour
	m := openMap(t, opts)

	_, _, err := m.Put("key", "val")
	require.NoError(t, err)

	_, found, err := m.Get("key")
	require.NoError(t, err)
	assert.False(t, found, "lazy reads must not refresh")

	require.NoError(t, m.Refresh())
	v, found, err := m.Get("key")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "val", v)
}

func TestLazyBackgroundRefresh(t *testing.T) {
	opts := DefaultOptions()
	opts.Consistency = ConsistencyLazy
	opts.TargetMaxStale = time.Second
	opts.TargetMinStale = 10 * time.Millisecond
	m := openMap(t, opts)

	_, _, err := m.Put("key", "val")
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		ok, err := m.ContainsKey("key")
		return err == nil && ok
	}, time.Second, 5*time.Millisecond, "background refresh must publish the write")

	h := m.Health()
	assert.True(t, h.Healthy)
	assert.Zero(t, h.ConsecutiveFailures)
}

func TestSnapshotIsolationDuringWrites(t *testing.T) {
	m := openMap(t, DefaultOptions())

	const keys = 20
	for i := 0; i < keys; i++ {
		_, _, err := m.Put(string(rune('a'+i)), "0")
		require.NoError(t, err)
	}

	var wg sync.WaitGroup
	stop := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		for round := 1; ; round++ {
			select {
			case <-stop:
				return
			default:
			}
			for i := 0; i < keys; i++ {
				if _, _, err := m.Put(string(rune('a'+i)), string(rune('0'+round%10))); err != nil {
					t.Error(err)
					return
				}
			}
		}
	}()

	// every scan sees each key exactly once
	for i := 0; i < 50; i++ {
		entries, err := m.Entries()
		require.NoError(t, err)
		require.Len(t, entries, keys)
		seen := make(map[string]bool)
		for _, e := range entries {
			require.False(t, seen[e.Key], "key %s seen twice", e.Key)
			seen[e.Key] = true
		}
	}
	close(stop)
	wg.Wait()
}

// --------------------------------------------------------------------------
// Persistence
// --------------------------------------------------------------------------

func TestPersistence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "map")

	m, err := New(codec.String(), codec.String(), pathOptions(path))
	require.NoError(t, err)
	for _, k := range []string{"a", "b", "c", "d"} {
		_, _, err := m.Put(k, k+k)
		require.NoError(t, err)
	}
	require.NoError(t, m.Commit())
	_, _, err = m.Put("b", "updated")
	require.NoError(t, err)
	_, _, err = m.Remove("c")
	require.NoError(t, err)
	require.NoError(t, m.Close(), "close must commit pending writes")

	m = openMap(t, pathOptions(path))
	size, err := m.Size()
	require.NoError(t, err)
	assert.Equal(t, 3, size)

	expected := map[string]string{"a": "aa", "b": "updated", "d": "dd"}
	for k, want := range expected {
		v, found, err := m.Get(k)
		require.NoError(t, err)
		require.True(t, found, "key %s", k)
		assert.Equal(t, want, v)
	}
	ok, err := m.ContainsKey("c")
	require.NoError(t, err)
	assert.False(t, ok)

	// sequence numbers keep increasing after a restart
	prev, existed, err := m.Put("a", "new")
	require.NoError(t, err)
	assert.True(t, existed)
	assert.Equal(t, "aa", prev)
	v, _, err := m.Get("a")
	require.NoError(t, err)
	assert.Equal(t, "new", v)
}

func TestClearPersists(t *testing.T) {
	path := t.TempDir()

	m, err := New(codec.String(), codec.String(), pathOptions(path))
	require.NoError(t, err)
	_, _, err = m.Put("a", "1")
	require.NoError(t, err)
	require.NoError(t, m.Commit())
	require.NoError(t, m.Clear())
	require.NoError(t, m.Close())

	m = openMap(t, pathOptions(path))
	empty, err := m.IsEmpty()
	require.NoError(t, err)
	assert.True(t, empty)
}

func TestSecondWriterFails(t *testing.T) {
	path := t.TempDir()
	openMap(t, pathOptions(path))

	_, err := New(codec.String(), codec.String(), pathOptions(path))
	require.Error(t, err)
	requireCode(t, err, store.RetCStorageError)
	assert.ErrorIs(t, err, index.ErrLockObtainFailed)
}

func TestCorruptIndex(t *testing.T) {
	path := t.TempDir()
	garbage := bytes.Repeat([]byte("not an index "), 2048)
	require.NoError(t, os.WriteFile(filepath.Join(path, index.FileName), garbage, 0o600))

	_, err := New(codec.String(), codec.String(), pathOptions(path))
	require.Error(t, err)
	requireCode(t, err, store.RetCStorageError)
	assert.ErrorIs(t, err, index.ErrCorruptIndex)

	opts := pathOptions(path)
	opts.CorruptionPolicy = index.CorruptionRebuild
	m := openMap(t, opts)

	empty, err := m.IsEmpty()
	require.NoError(t, err)
	assert.True(t, empty, "rebuilt map starts empty")

	_, _, err = m.Put("key", "val")
	require.NoError(t, err)
	v, found, err := m.Get("key")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "val", v)
}

// --------------------------------------------------------------------------
// Errors & Options
// --------------------------------------------------------------------------

func TestDecodeErrorIsReported(t *testing.T) {
	path := t.TempDir()

	m, err := New(codec.String(), codec.String(), pathOptions(path))
	require.NoError(t, err)
	_, _, err = m.Put("key", "not a number")
	require.NoError(t, err)
	require.NoError(t, m.Close())

	typed, err := New(codec.String(), codec.Int64(), pathOptions(path))
	require.NoError(t, err)
	defer typed.Close()

	_, found, err := typed.Get("key")
	assert.False(t, found)
	requireCode(t, err, store.RetCCodecError)
	var cErr *codec.Error
	assert.True(t, errors.As(err, &cErr), "codec error must be reachable")

	_, err = typed.Values()
	requireCode(t, err, store.RetCCodecError)

	_, _, err = typed.Put("key", 42)
	requireCode(t, err, store.RetCCodecError)

	ok, err := typed.ContainsKey("key")
	require.NoError(t, err, "key lookups do not decode values")
	assert.True(t, ok)
}

func TestInvalidOptions(t *testing.T) {
	_, err := New[string, string](nil, codec.String(), nil)
	requireCode(t, err, store.RetCInvalidOperation)

	opts := DefaultOptions()
	opts.TargetMaxStale = time.Millisecond
	opts.TargetMinStale = time.Second
	_, err = New(codec.String(), codec.String(), opts)
	requireCode(t, err, store.RetCInvalidOperation)

	opts = DefaultOptions()
	opts.Consistency = Consistency(7)
	_, err = New(codec.String(), codec.String(), opts)
	requireCode(t, err, store.RetCInvalidOperation)

	// gob does not sort map entries
	_, err = New(codec.Gob[map[string]int](), codec.String(), nil)
	requireCode(t, err, store.RetCInvalidOperation)

	m, err := New(codec.Gob[[2]int](), codec.String(), nil)
	require.NoError(t, err)
	require.NoError(t, m.Close())
}

func TestParseConsistency(t *testing.T) {
	for in, want := range map[string]Consistency{"eager": ConsistencyEager, "LAZY": ConsistencyLazy, "": ConsistencyEager} {
		c, err := ParseConsistency(in)
		require.NoError(t, err)
		assert.Equal(t, want, c)
		assert.NotEmpty(t, c.String())
	}
	_, err := ParseConsistency("strict")
	assert.Error(t, err)
}

// --------------------------------------------------------------------------
// Info & Metrics
// --------------------------------------------------------------------------

func TestInfoAndMetrics(t *testing.T) {
	opts := DefaultOptions()
	opts.Name = "users"
	m := openMap(t, opts)

	for _, k := range []string{"a", "b", "c"} {
		_, _, err := m.Put(k, "v")
		require.NoError(t, err)
	}
	_, _, err := m.Put("a", "w")
	require.NoError(t, err)
	require.NoError(t, m.Refresh())

	info, err := m.Info()
	require.NoError(t, err)
	assert.Equal(t, "users", info.Name)
	assert.Equal(t, "eager", info.Consistency)
	assert.Equal(t, 3, info.NumDocs)
	assert.Equal(t, info.NumDocs+info.DeletedDocs, info.MaxDoc)
	assert.Equal(t, info.Generation, info.SearchingGeneration)
	assert.True(t, info.Uncommitted)
	assert.Equal(t, int64(4), info.ValuesWritten)
	assert.Equal(t, 3, info.ValueSizeAvg, "two header bytes plus one byte of payload")
	assert.Contains(t, info.String(), "<memory>")

	require.NoError(t, m.Commit())
	info, err = m.Info()
	require.NoError(t, err)
	assert.False(t, info.Uncommitted)

	var buf bytes.Buffer
	m.WriteMetrics(&buf)
	out := buf.String()
	assert.Contains(t, out, `ixmap_ops_total{map="users",op="put"} 4`)
	assert.Contains(t, out, `ixmap_refresh_total{map="users"}`)
	assert.Contains(t, out, `ixmap_value_size_bytes_avg{map="users"} 3`)

	require.NoError(t, m.Clear())
	info, err = m.Info()
	require.NoError(t, err)
	assert.Zero(t, info.ValuesWritten)
}

func TestDefaultName(t *testing.T) {
	m := openMap(t, nil)
	info, err := m.Info()
	require.NoError(t, err)
	assert.NotEmpty(t, info.Name, "a random name is assigned")
}

package testing

import (
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/ValentinKolb/ixmap/lib/store"
)

// MapFactory is a function that creates a new, empty map
type MapFactory func() store.IMap[string, string]

// RunMapTests runs a comprehensive test suite for an IMap implementation.
// The tests call Refresh before every read that must observe earlier writes,
// so they pass for every consistency mode.
func RunMapTests(t *testing.T, name string, factory MapFactory) {
	t.Run(name, func(t *testing.T) {
		t.Run("Put&Get", func(t *testing.T) {
			testPutGet(t, factory())
		})

		t.Run("Overwrite", func(t *testing.T) {
			testOverwrite(t, factory())
		})

		t.Run("Remove", func(t *testing.T) {
			testRemove(t, factory())
		})

		t.Run("Clear", func(t *testing.T) {
			testClear(t, factory())
		})

		t.Run("ContainsValue", func(t *testing.T) {
			testContainsValue(t, factory())
		})

		t.Run("Scans", func(t *testing.T) {
			testScans(t, factory())
		})

		t.Run("PutAll", func(t *testing.T) {
			testPutAll(t, factory())
		})

		t.Run("EdgeCases", func(t *testing.T) {
			testEdgeCases(t, factory())
		})

		t.Run("ManyRandomKeys", func(t *testing.T) {
			testManyRandomKeys(t, factory())
		})

		t.Run("ConcurrentAccess", func(t *testing.T) {
			testConcurrentAccess(t, factory())
		})

		t.Run("Closed", func(t *testing.T) {
			testClosed(t, factory())
		})
	})
}

// --------------------------------------------------------------------------
// Helper functions
// --------------------------------------------------------------------------

func mustRefresh(t testing.TB, m store.IMap[string, string]) {
	t.Helper()
	if err := m.Refresh(); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
}

func mustPut(t testing.TB, m store.IMap[string, string], key, value string) {
	t.Helper()
	if _, _, err := m.Put(key, value); err != nil {
		t.Fatalf("Put(%q) failed: %v", key, err)
	}
}

func mustSize(t testing.TB, m store.IMap[string, string]) int {
	t.Helper()
	size, err := m.Size()
	if err != nil {
		t.Fatalf("Size failed: %v", err)
	}
	return size
}

func expectValue(t testing.TB, m store.IMap[string, string], key, expected string) {
	t.Helper()
	value, found, err := m.Get(key)
	if err != nil {
		t.Fatalf("Get(%q) failed: %v", key, err)
	}
	if !found {
		t.Fatalf("Expected key %q to exist", key)
	}
	if value != expected {
		t.Errorf("Expected value %q for key %q, got %q", expected, key, value)
	}
}

func expectAbsent(t testing.TB, m store.IMap[string, string], key string) {
	t.Helper()
	if _, found, err := m.Get(key); err != nil {
		t.Fatalf("Get(%q) failed: %v", key, err)
	} else if found {
		t.Errorf("Expected key %q to be absent", key)
	}
	if ok, err := m.ContainsKey(key); err != nil {
		t.Fatalf("ContainsKey(%q) failed: %v", key, err)
	} else if ok {
		t.Errorf("Expected ContainsKey(%q) to be false", key)
	}
}

func expectContainsValue(t testing.TB, m store.IMap[string, string], value string, expected bool) {
	t.Helper()
	ok, err := m.ContainsValue(value)
	if err != nil {
		t.Fatalf("ContainsValue(%q) failed: %v", value, err)
	}
	if ok != expected {
		t.Errorf("Expected ContainsValue(%q) to be %v", value, expected)
	}
}

// --------------------------------------------------------------------------
// Test functions
// --------------------------------------------------------------------------

func testPutGet(t *testing.T, m store.IMap[string, string]) {
	defer m.Close()

	prev, existed, err := m.Put("key", "val")
	if err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if existed || prev != "" {
		t.Errorf("Expected no previous value, got %q (existed=%v)", prev, existed)
	}

	mustRefresh(t, m)

	if size := mustSize(t, m); size != 1 {
		t.Errorf("Expected size 1, got %d", size)
	}
	expectValue(t, m, "key", "val")
	if ok, err := m.ContainsKey("key"); err != nil || !ok {
		t.Errorf("Expected ContainsKey(key) to be true (err=%v)", err)
	}
	expectContainsValue(t, m, "val", true)
	expectAbsent(t, m, "notkey")
}

func testOverwrite(t *testing.T, m store.IMap[string, string]) {
	defer m.Close()

	mustPut(t, m, "key", "val")
	mustRefresh(t, m)

	prev, existed, err := m.Put("key", "val2")
	if err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if !existed || prev != "val" {
		t.Errorf("Expected previous value %q, got %q (existed=%v)", "val", prev, existed)
	}

	mustRefresh(t, m)

	if size := mustSize(t, m); size != 1 {
		t.Errorf("Expected size 1 after overwrite, got %d", size)
	}
	expectValue(t, m, "key", "val2")
	expectContainsValue(t, m, "val2", true)
	expectContainsValue(t, m, "val", false)

	entries, err := m.Entries()
	if err != nil {
		t.Fatalf("Entries failed: %v", err)
	}
	if len(entries) != 1 || entries[0].Key != "key" || entries[0].Value != "val2" {
		t.Errorf("Expected exactly the entry key=val2, got %v", entries)
	}

	// many overwrites without refresh in between
	for i := 0; i < 100; i++ {
		mustPut(t, m, "key", fmt.Sprintf("v%d", i))
	}
	mustRefresh(t, m)
	if size := mustSize(t, m); size != 1 {
		t.Errorf("Expected size 1 after repeated overwrites, got %d", size)
	}
	expectValue(t, m, "key", "v99")
}

func testRemove(t *testing.T, m store.IMap[string, string]) {
	defer m.Close()

	mustPut(t, m, "key", "val")
	mustPut(t, m, "other", "val")
	mustRefresh(t, m)

	prev, existed, err := m.Remove("key")
	if err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if !existed || prev != "val" {
		t.Errorf("Expected removed value %q, got %q (existed=%v)", "val", prev, existed)
	}

	mustRefresh(t, m)
	expectAbsent(t, m, "key")
	expectValue(t, m, "other", "val")
	expectContainsValue(t, m, "val", true)

	// removing a missing key
	prev, existed, err = m.Remove("missing")
	if err != nil {
		t.Fatalf("Remove of missing key failed: %v", err)
	}
	if existed || prev != "" {
		t.Errorf("Expected nothing to be removed, got %q (existed=%v)", prev, existed)
	}

	// put after remove
	mustPut(t, m, "key", "again")
	mustRefresh(t, m)
	expectValue(t, m, "key", "again")
	if size := mustSize(t, m); size != 2 {
		t.Errorf("Expected size 2, got %d", size)
	}
}

func testClear(t *testing.T, m store.IMap[string, string]) {
	defer m.Close()

	for i := 0; i < 50; i++ {
		mustPut(t, m, fmt.Sprintf("key-%d", i), fmt.Sprintf("value-%d", i))
	}
	mustRefresh(t, m)

	if err := m.Clear(); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	mustRefresh(t, m)

	if size := mustSize(t, m); size != 0 {
		t.Errorf("Expected size 0 after Clear, got %d", size)
	}
	if empty, err := m.IsEmpty(); err != nil || !empty {
		t.Errorf("Expected map to be empty after Clear (err=%v)", err)
	}
	entries, err := m.Entries()
	if err != nil {
		t.Fatalf("Entries failed: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("Expected no entries after Clear, got %d", len(entries))
	}
	expectAbsent(t, m, "key-0")

	// the map stays usable
	mustPut(t, m, "key-0", "new")
	mustRefresh(t, m)
	expectValue(t, m, "key-0", "new")
}

func testContainsValue(t *testing.T, m store.IMap[string, string]) {
	defer m.Close()

	// a value shared by more keys than a lookup inspects at once
	for i := 0; i < 25; i++ {
		mustPut(t, m, fmt.Sprintf("key-%d", i), "shared")
	}
	mustRefresh(t, m)
	expectContainsValue(t, m, "shared", true)
	expectContainsValue(t, m, "unknown", false)

	for i := 0; i < 24; i++ {
		mustPut(t, m, fmt.Sprintf("key-%d", i), "changed")
	}
	mustRefresh(t, m)
	expectContainsValue(t, m, "shared", true)

	mustPut(t, m, "key-24", "changed")
	mustRefresh(t, m)
	expectContainsValue(t, m, "shared", false)
	expectContainsValue(t, m, "changed", true)
}

func testScans(t *testing.T, m store.IMap[string, string]) {
	defer m.Close()

	expected := make(map[string]string)
	for i := 0; i < 200; i++ {
		k := fmt.Sprintf("key-%d", i%80)
		v := fmt.Sprintf("value-%d", i)
		mustPut(t, m, k, v)
		expected[k] = v
	}
	for i := 0; i < 10; i++ {
		k := fmt.Sprintf("key-%d", i)
		if _, _, err := m.Remove(k); err != nil {
			t.Fatalf("Remove failed: %v", err)
		}
		delete(expected, k)
	}
	mustRefresh(t, m)

	entries, err := m.Entries()
	if err != nil {
		t.Fatalf("Entries failed: %v", err)
	}
	if len(entries) != len(expected) {
		t.Fatalf("Expected %d entries, got %d", len(expected), len(entries))
	}
	for _, e := range entries {
		if expected[e.Key] != e.Value {
			t.Errorf("Expected %q for key %q, got %q", expected[e.Key], e.Key, e.Value)
		}
	}

	keys, err := m.Keys()
	if err != nil {
		t.Fatalf("Keys failed: %v", err)
	}
	values, err := m.Values()
	if err != nil {
		t.Fatalf("Values failed: %v", err)
	}

	var expectedKeys, expectedValues []string
	for k, v := range expected {
		expectedKeys = append(expectedKeys, k)
		expectedValues = append(expectedValues, v)
	}
	sort.Strings(keys)
	sort.Strings(values)
	sort.Strings(expectedKeys)
	sort.Strings(expectedValues)

	if fmt.Sprint(keys) != fmt.Sprint(expectedKeys) {
		t.Errorf("Keys mismatch:\n got %v\nwant %v", keys, expectedKeys)
	}
	if fmt.Sprint(values) != fmt.Sprint(expectedValues) {
		t.Errorf("Values mismatch:\n got %v\nwant %v", values, expectedValues)
	}
	if size := mustSize(t, m); size != len(expected) {
		t.Errorf("Expected size %d, got %d", len(expected), size)
	}
}

func testPutAll(t *testing.T, m store.IMap[string, string]) {
	defer m.Close()

	err := m.PutAll(
		store.Entry[string, string]{Key: "a", Value: "1"},
		store.Entry[string, string]{Key: "b", Value: "2"},
		store.Entry[string, string]{Key: "a", Value: "3"},
	)
	if err != nil {
		t.Fatalf("PutAll failed: %v", err)
	}
	if err := store.PutMap(m, map[string]string{"c": "4", "d": "5"}); err != nil {
		t.Fatalf("PutMap failed: %v", err)
	}
	if err := m.PutAll(); err != nil {
		t.Fatalf("PutAll without entries failed: %v", err)
	}

	mustRefresh(t, m)
	if size := mustSize(t, m); size != 4 {
		t.Errorf("Expected size 4, got %d", size)
	}
	expectValue(t, m, "a", "3")
	expectValue(t, m, "b", "2")
	expectValue(t, m, "c", "4")
	expectValue(t, m, "d", "5")
}

func testEdgeCases(t *testing.T, m store.IMap[string, string]) {
	defer m.Close()

	cases := map[string]string{
		"":                 "empty key",
		"empty value":      "",
		"unicode-ключ-🔑":   "значение-✓",
		"with\x00null":     "null\x00byte",
		"key\nwith\nlines": "value with spaces",
	}
	cases[strings.Repeat("x", 4096)] = "long key"
	for k, v := range cases {
		mustPut(t, m, k, v)
	}
	mustRefresh(t, m)

	for k, v := range cases {
		expectValue(t, m, k, v)
	}
	if size := mustSize(t, m); size != len(cases) {
		t.Errorf("Expected size %d, got %d", len(cases), size)
	}

	// keys that are prefixes of each other must not collide
	mustPut(t, m, "prefix", "1")
	mustPut(t, m, "prefix-long", "2")
	mustRefresh(t, m)
	expectValue(t, m, "prefix", "1")
	expectValue(t, m, "prefix-long", "2")
	expectAbsent(t, m, "pre")
}

func testManyRandomKeys(t *testing.T, m store.IMap[string, string]) {
	defer m.Close()

	const n = 10000
	rnd := rand.New(rand.NewSource(42))
	seen := make(map[string]bool, n)
	for len(seen) < n {
		k := fmt.Sprintf("%016x", rnd.Uint64())
		if seen[k] {
			continue
		}
		seen[k] = true
		mustPut(t, m, k, k)
	}

	mustRefresh(t, m)
	if size := mustSize(t, m); size != n {
		t.Errorf("Expected size %d, got %d", n, size)
	}

	checked := 0
	for k := range seen {
		expectValue(t, m, k, k)
		if checked++; checked == 100 {
			break
		}
	}
}

func testConcurrentAccess(t *testing.T, m store.IMap[string, string]) {
	defer m.Close()

	const (
		writers = 4
		readers = 8
		keys    = 50
		rounds  = 200
	)

	var wg sync.WaitGroup
	var failed atomic.Bool
	errCh := make(chan error, writers+readers)

	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < rounds && !failed.Load(); i++ {
				k := fmt.Sprintf("key-%d", (w*rounds+i)%keys)
				if _, _, err := m.Put(k, k+"|"+fmt.Sprint(i)); err != nil {
					failed.Store(true)
					errCh <- err
					return
				}
			}
		}(w)
	}

	for r := 0; r < readers; r++ {
		wg.Add(1)
		go func(r int) {
			defer wg.Done()
			for i := 0; i < rounds && !failed.Load(); i++ {
				k := fmt.Sprintf("key-%d", (r+i)%keys)
				v, found, err := m.Get(k)
				if err != nil {
					failed.Store(true)
					errCh <- err
					return
				}
				if found && !strings.HasPrefix(v, k+"|") {
					failed.Store(true)
					errCh <- fmt.Errorf("value %q does not belong to key %q", v, k)
					return
				}
				if i%20 == 0 {
					if _, err := m.Entries(); err != nil {
						failed.Store(true)
						errCh <- err
						return
					}
				}
			}
		}(r)
	}

	wg.Wait()
	close(errCh)
	for err := range errCh {
		t.Error(err)
	}

	mustRefresh(t, m)
	if size := mustSize(t, m); size != keys {
		t.Errorf("Expected size %d, got %d", keys, size)
	}
}

func testClosed(t *testing.T, m store.IMap[string, string]) {
	mustPut(t, m, "key", "val")

	if err := m.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := m.Close(); err != nil {
		t.Errorf("Second Close should be a no-op, got: %v", err)
	}

	expectClosed := func(op string, err error) {
		t.Helper()
		var mErr *store.Error
		if !errors.As(err, &mErr) || mErr.Code != store.RetCClosed {
			t.Errorf("Expected %s after Close to fail with RetCClosed, got %v", op, err)
		}
	}

	_, _, err := m.Get("key")
	expectClosed("Get", err)
	_, _, err = m.Put("key", "val")
	expectClosed("Put", err)
	_, _, err = m.Remove("key")
	expectClosed("Remove", err)
	_, err = m.Size()
	expectClosed("Size", err)
	_, err = m.ContainsKey("key")
	expectClosed("ContainsKey", err)
	_, err = m.ContainsValue("val")
	expectClosed("ContainsValue", err)
	_, err = m.Keys()
	expectClosed("Keys", err)
	expectClosed("Clear", m.Clear())
	expectClosed("Refresh", m.Refresh())
	expectClosed("Commit", m.Commit())
	_, err = m.Info()
	expectClosed("Info", err)
}

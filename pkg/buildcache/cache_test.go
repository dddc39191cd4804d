package buildcache

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T, maxSize uint64) *Cache {
	t.Helper()
	c, err := New(t.TempDir(), maxSize)
	require.NoError(t, err)
	return c
}

func TestPutThenLookupHits(t *testing.T) {
	c := newTestCache(t, DefaultMaxSize)
	hash := ContentHash("RUN apt-get update", []byte("context"))

	_, err := c.Put("RUN apt-get update", hash, "layer-1", 1024)
	require.NoError(t, err)

	entry, ok := c.Lookup(hash)
	require.True(t, ok)
	require.Equal(t, "layer-1", entry.LayerID)
}

func TestLookupMissOnUnknownHash(t *testing.T) {
	c := newTestCache(t, DefaultMaxSize)
	_, ok := c.Lookup("does-not-exist")
	require.False(t, ok)
}

func TestPutEvictsOldestWhenOverBudget(t *testing.T) {
	c := newTestCache(t, 150)

	_, err := c.Put("step one", "hash-1", "layer-1", 100)
	require.NoError(t, err)
	time.Sleep(time.Millisecond)
	_, err = c.Put("step two", "hash-2", "layer-2", 100)
	require.NoError(t, err)

	_, ok := c.Lookup("hash-1")
	require.False(t, ok, "oldest entry should have been evicted")
	_, ok = c.Lookup("hash-2")
	require.True(t, ok)

	stats := c.Stats()
	require.LessOrEqual(t, stats.TotalSize, uint64(150))
}

func TestPutPersistsIndexAcrossReload(t *testing.T) {
	dir := t.TempDir()
	c, err := New(dir, DefaultMaxSize)
	require.NoError(t, err)

	hash := ContentHash("COPY . /app", []byte("ctx"))
	_, err = c.Put("COPY . /app", hash, "layer-abc", 2048)
	require.NoError(t, err)

	require.FileExists(t, filepath.Join(dir, "cache.json"))

	reloaded, err := New(dir, DefaultMaxSize)
	require.NoError(t, err)
	entry, ok := reloaded.Lookup(hash)
	require.True(t, ok)
	require.Equal(t, "layer-abc", entry.LayerID)
	require.Equal(t, uint64(2048), reloaded.Stats().TotalSize)
}

func TestClearRemovesEntriesAndBlobs(t *testing.T) {
	c := newTestCache(t, DefaultMaxSize)
	hash := ContentHash("RUN echo hi", nil)

	require.NoError(t, os.WriteFile(c.LayerPath("layer-xyz"), []byte("tardata"), 0o644))
	_, err := c.Put("RUN echo hi", hash, "layer-xyz", 7)
	require.NoError(t, err)

	require.NoError(t, c.Clear())

	_, ok := c.Lookup(hash)
	require.False(t, ok)
	_, err = os.Stat(c.LayerPath("layer-xyz"))
	require.True(t, os.IsNotExist(err))
	require.Equal(t, 0, c.Stats().TotalEntries)
}

func TestContentHashIsDeterministic(t *testing.T) {
	a := ContentHash("RUN make", []byte("ctx"))
	b := ContentHash("RUN make", []byte("ctx"))
	require.Equal(t, a, b)

	c := ContentHash("RUN make", []byte("other"))
	require.NotEqual(t, a, c)
}

package buildcache

import (
	"container/heap"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/polisproject/polisd/pkg/types"
)

// DefaultMaxSize is the default cache budget: 10 GiB.
const DefaultMaxSize uint64 = 10 * 1024 * 1024 * 1024

const cacheIndexFile = "cache.json"

// Entry is one cached build-instruction result, keyed by ContentHash.
type Entry struct {
	ID          string    `json:"id"`
	Instruction string    `json:"instruction"`
	ContentHash string    `json:"content_hash"`
	CreatedAt   time.Time `json:"created_at"`
	Size        uint64    `json:"size"`
	LayerID     string    `json:"layer_id,omitempty"`
}

// Stats summarizes cache occupancy.
type Stats struct {
	TotalEntries int
	TotalSize    uint64
	MaxSize      uint64
}

// Cache is BuildCache: a JSON-indexed, content-addressed store
// of build-instruction results, evicting the oldest entry first once
// MaxSize would be exceeded. A min-heap over CreatedAt tracks eviction
// order alongside the entries map, so the oldest entry is always a
// heap.Pop away rather than a full map scan.
type Cache struct {
	mu       sync.Mutex
	cacheDir string
	entries  map[string]Entry
	order    entryHeap
	maxSize  uint64
	curSize  uint64
}

// New returns a cache rooted at cacheDir, loading any existing
// cache.json index.
func New(cacheDir string, maxSize uint64) (*Cache, error) {
	if maxSize == 0 {
		maxSize = DefaultMaxSize
	}
	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		return nil, types.NewIOError("buildcache: create cache directory", err)
	}

	c := &Cache{
		cacheDir: cacheDir,
		entries:  make(map[string]Entry),
		maxSize:  maxSize,
	}
	if err := c.load(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Cache) indexPath() string {
	return filepath.Join(c.cacheDir, cacheIndexFile)
}

func (c *Cache) layerPath(layerID string) string {
	return filepath.Join(c.cacheDir, layerID+".tar")
}

func (c *Cache) load() error {
	data, err := os.ReadFile(c.indexPath())
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return types.NewIOError("buildcache: read cache index", err)
	}

	var entries map[string]Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return types.NewValidationError(fmt.Sprintf("buildcache: parse cache index: %v", err))
	}

	var total uint64
	order := make(entryHeap, 0, len(entries))
	for hash, e := range entries {
		total += e.Size
		order = append(order, heapItem{hash: hash, createdAt: e.CreatedAt})
	}
	heap.Init(&order)

	c.entries = entries
	c.order = order
	c.curSize = total
	return nil
}

func (c *Cache) save() error {
	data, err := json.MarshalIndent(c.entries, "", "  ")
	if err != nil {
		return types.NewInternalError(fmt.Sprintf("buildcache: encode cache index: %v", err))
	}
	if err := os.WriteFile(c.indexPath(), data, 0o644); err != nil {
		return types.NewIOError("buildcache: write cache index", err)
	}
	return nil
}

// ContentHash computes the content hash of an instruction plus its
// relevant context bytes: SHA256(instruction || context).
func ContentHash(instruction string, context []byte) string {
	h := sha256.New()
	h.Write([]byte(instruction))
	h.Write(context)
	return hex.EncodeToString(h.Sum(nil))
}

// Lookup reports whether contentHash has a cached entry, returning it
// on a hit.
func (c *Cache) Lookup(contentHash string) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[contentHash]
	return entry, ok
}

// Put registers a new cache entry for contentHash, evicting the
// oldest entries first until the new entry fits within MaxSize.
func (c *Cache) Put(instruction, contentHash, layerID string, size uint64) (Entry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for c.curSize+size > c.maxSize && len(c.entries) > 0 {
		if err := c.evictOldestLocked(); err != nil {
			return Entry{}, err
		}
	}

	entry := Entry{
		ID:          uuid.NewString(),
		Instruction: instruction,
		ContentHash: contentHash,
		CreatedAt:   time.Now(),
		Size:        size,
		LayerID:     layerID,
	}
	// A re-Put of a content hash already in the cache leaves its old
	// heap entry in place; evictOldestLocked skips stale heap entries
	// that no longer resolve in the entries map.
	c.entries[contentHash] = entry
	heap.Push(&c.order, heapItem{hash: contentHash, createdAt: entry.CreatedAt})
	c.curSize += size

	if err := c.save(); err != nil {
		return Entry{}, err
	}
	return entry, nil
}

// evictOldestLocked removes the entry with the oldest CreatedAt,
// deleting its backing layer blob if one exists. Caller holds c.mu.
func (c *Cache) evictOldestLocked() error {
	for c.order.Len() > 0 {
		item := heap.Pop(&c.order).(heapItem)
		entry, ok := c.entries[item.hash]
		if !ok || entry.CreatedAt != item.createdAt {
			continue // stale heap entry superseded by a later Put
		}

		if entry.LayerID != "" {
			os.Remove(c.layerPath(entry.LayerID))
		}
		delete(c.entries, item.hash)
		c.curSize -= entry.Size
		return nil
	}
	return nil
}

type heapItem struct {
	hash      string
	createdAt time.Time
}

type entryHeap []heapItem

func (h entryHeap) Len() int            { return len(h) }
func (h entryHeap) Less(i, j int) bool  { return h[i].createdAt.Before(h[j].createdAt) }
func (h entryHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *entryHeap) Push(x interface{}) { *h = append(*h, x.(heapItem)) }
func (h *entryHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// Stats reports current cache occupancy.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		TotalEntries: len(c.entries),
		TotalSize:    c.curSize,
		MaxSize:      c.maxSize,
	}
}

// Clear removes every cache entry and its backing layer blob.
func (c *Cache) Clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, entry := range c.entries {
		if entry.LayerID != "" {
			os.Remove(c.layerPath(entry.LayerID))
		}
	}
	c.entries = make(map[string]Entry)
	c.order = nil
	c.curSize = 0
	return c.save()
}

// CacheDir returns the root directory backing this cache.
func (c *Cache) CacheDir() string {
	return c.cacheDir
}

// LayerPath returns the on-disk path of layerID's tar blob.
func (c *Cache) LayerPath(layerID string) string {
	return c.layerPath(layerID)
}

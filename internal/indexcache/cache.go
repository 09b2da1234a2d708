package indexcache

import (
	"sync"
	"time"

	"arcane-scribe/internal/vectorindex"
)

// DefaultCapacity is the number of tenant composites kept per process.
const DefaultCapacity = 5

type entry struct {
	index    *vectorindex.Index
	loadedAt time.Time
}

// Cache is a bounded map of tenant key to composite index. When full, the
// entry inserted earliest is evicted. Reads do not change eviction order.
type Cache struct {
	mu       sync.Mutex
	capacity int
	entries  map[string]entry
	order    []string
	now      func() time.Time
}

// NewCache returns an empty cache. A nil clock uses time.Now.
func NewCache(capacity int, clock func() time.Time) *Cache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if clock == nil {
		clock = time.Now
	}
	return &Cache{
		capacity: capacity,
		entries:  make(map[string]entry, capacity),
		order:    make([]string, 0, capacity),
		now:      clock,
	}
}

func (c *Cache) Get(key string) (*vectorindex.Index, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	return e.index, ok
}

// Put stores ix under key and returns the evicted key, if any. Replacing an
// existing key keeps its original position.
func (c *Cache) Put(key string, ix *vectorindex.Index) (evicted string, didEvict bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[key]; ok {
		c.entries[key] = entry{index: ix, loadedAt: c.now()}
		return "", false
	}

	if len(c.order) >= c.capacity {
		evicted = c.order[0]
		c.order = c.order[1:]
		delete(c.entries, evicted)
		didEvict = true
	}

	c.entries[key] = entry{index: ix, loadedAt: c.now()}
	c.order = append(c.order, key)
	return evicted, didEvict
}

// Remove drops key and reports whether it was cached.
func (c *Cache) Remove(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[key]; !ok {
		return false
	}
	delete(c.entries, key)
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	return true
}

// Keys returns cached keys in insertion order.
func (c *Cache) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.order...)
}

func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// LoadedAt returns when key was inserted.
func (c *Cache) LoadedAt(key string) (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	return e.loadedAt, ok
}

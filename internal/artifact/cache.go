package artifact

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2"
)

// Key identifies one parsed artifact: its path and modification time.
type Key struct {
	Path    string
	ModTime int64 // UnixNano
}

// NewKey builds a cache key from a path and modification time.
func NewKey(path string, modTime time.Time) Key {
	return Key{Path: path, ModTime: modTime.UnixNano()}
}

// Cache holds the single most recent parsed artifact. A loader owns one Cache;
// separate loaders never share state.
type Cache struct {
	mu      sync.Mutex
	entries *lru.Cache[Key, *Batch]
	parses  atomic.Int64
}

// NewCache returns an empty single-entry cache.
func NewCache() *Cache {
	entries, err := lru.New[Key, *Batch](1)
	if err != nil {
		// only fails for a non-positive size
		panic(err)
	}
	return &Cache{entries: entries}
}

// Get returns the batch cached under key.
func (c *Cache) Get(key Key) (*Batch, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.entries.Get(key)
	if ok {
		cacheLookups.WithLabelValues("hit").Inc()
	} else {
		cacheLookups.WithLabelValues("miss").Inc()
	}
	return b, ok
}

// Put stores b under key, evicting the current entry. It reports false and
// leaves the cache untouched when the current entry is newer than key: a load
// that started before a rebuild must not replace the rebuild's result.
func (c *Cache) Put(key Key, b *Batch) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, cur := range c.entries.Keys() {
		if cur.ModTime > key.ModTime {
			return false
		}
	}
	c.entries.Add(key, b)
	return true
}

// Current returns the cached key, if any.
func (c *Cache) Current() (Key, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	keys := c.entries.Keys()
	if len(keys) == 0 {
		return Key{}, false
	}
	return keys[0], true
}

// Purge drops the cached entry.
func (c *Cache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries.Purge()
}

// Parses returns how many artifact files have been parsed through this cache.
func (c *Cache) Parses() int64 {
	return c.parses.Load()
}

func (c *Cache) countParse() {
	c.parses.Add(1)
}

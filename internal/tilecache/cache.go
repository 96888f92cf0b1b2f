package tilecache

import (
	"sync"
	"time"
)

const (
	DefaultMaxTiles = 1024
	DefaultTTL      = 10 * time.Minute
)

// Cache stores encoded tile images with LRU eviction and a time to live.
// A nil *Cache is valid and caches nothing.
type Cache struct {
	mu      sync.Mutex
	entries map[string]*entry
	order   []string // LRU order (oldest first)
	maxSize int
	ttl     time.Duration
	now     func() time.Time

	hits   uint64
	misses uint64
}

type entry struct {
	data     []byte
	header   map[string]string
	storedAt time.Time
}

// New creates a cache holding up to maxSize tiles for ttl each.
// Non-positive values fall back to the defaults.
func New(maxSize int, ttl time.Duration) *Cache {
	if maxSize <= 0 {
		maxSize = DefaultMaxTiles
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{
		entries: make(map[string]*entry),
		order:   make([]string, 0, maxSize),
		maxSize: maxSize,
		ttl:     ttl,
		now:     time.Now,
	}
}

// Get returns the cached bytes and headers stored under key.
func (c *Cache) Get(key string) ([]byte, map[string]string, bool) {
	if c == nil {
		return nil, nil, false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		c.misses++
		return nil, nil, false
	}

	// Check TTL
	if c.now().Sub(e.storedAt) > c.ttl {
		c.remove(key)
		c.misses++
		return nil, nil, false
	}

	c.touch(key)
	c.hits++
	return e.data, e.header, true
}

// Put stores data under key, evicting the least recently used tile when full.
// The cache keeps data as is; callers must not modify it afterwards.
func (c *Cache) Put(key string, data []byte, header map[string]string) {
	if c == nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if e, ok := c.entries[key]; ok {
		e.data, e.header, e.storedAt = data, header, now
		c.touch(key)
		return
	}

	// Evict if at capacity
	for len(c.entries) >= c.maxSize && len(c.order) > 0 {
		c.remove(c.order[0])
	}

	c.entries[key] = &entry{data: data, header: header, storedAt: now}
	c.order = append(c.order, key)
}

// Purge drops every cached tile.
func (c *Cache) Purge() {
	if c == nil {
		return
	}

	c.mu.Lock()
	c.entries = make(map[string]*entry)
	c.order = c.order[:0]
	c.mu.Unlock()
}

// Size returns the number of cached tiles.
func (c *Cache) Size() int {
	if c == nil {
		return 0
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stats returns hit and miss counts along with the current size.
func (c *Cache) Stats() map[string]interface{} {
	if c == nil {
		return map[string]interface{}{"enabled": false}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return map[string]interface{}{
		"enabled": true,
		"size":    len(c.entries),
		"maxSize": c.maxSize,
		"hits":    c.hits,
		"misses":  c.misses,
	}
}

// touch moves key to the most recent end of the order.
func (c *Cache) touch(key string) {
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	c.order = append(c.order, key)
}

func (c *Cache) remove(key string) {
	delete(c.entries, key)
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			return
		}
	}
}

package cache

import (
	"sync"
	"time"
)

// MemoryCache is a concurrent-safe LRU cache with per-entry timestamps and
// access counters. It holds the hot working set in front of the durable
// store; hard-TTL expiry is enforced by the layer above, so entries here
// carry their storage time rather than a deadline.
type MemoryCache struct {
	mu         sync.Mutex
	entries    map[string]*memoryEntry
	order      []string // LRU order: front=oldest, back=newest
	maxEntries int
}

type memoryEntry struct {
	payload  []byte
	storedAt time.Time
	accesses int
}

// NewMemoryCache creates a memory cache holding at most maxEntries entries.
func NewMemoryCache(maxEntries int) *MemoryCache {
	if maxEntries <= 0 {
		maxEntries = 1024
	}
	return &MemoryCache{
		entries:    make(map[string]*memoryEntry),
		maxEntries: maxEntries,
	}
}

// Get returns the payload, its storage time, and the access count including
// this call. The third return is 0 on miss.
func (c *MemoryCache) Get(key string) (payload []byte, storedAt time.Time, accesses int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return nil, time.Time{}, 0
	}

	entry.accesses++
	c.removeFromOrder(key)
	c.order = append(c.order, key)
	return entry.payload, entry.storedAt, entry.accesses
}

// Put stores a payload, evicting the least recently used entry at capacity.
// A rewrite of an existing key keeps its access counter.
func (c *MemoryCache) Put(key string, payload []byte, storedAt time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.entries[key]; ok {
		existing.payload = payload
		existing.storedAt = storedAt
		c.removeFromOrder(key)
		c.order = append(c.order, key)
		return
	}

	for len(c.entries) >= c.maxEntries && len(c.order) > 0 {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.entries, oldest)
	}

	c.entries[key] = &memoryEntry{payload: payload, storedAt: storedAt}
	c.order = append(c.order, key)
}

// Delete removes a key.
func (c *MemoryCache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[key]; ok {
		delete(c.entries, key)
		c.removeFromOrder(key)
	}
}

// Len returns the number of cached entries.
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *MemoryCache) removeFromOrder(key string) {
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			return
		}
	}
}

package recording

import (
	"sync"
	"time"
)

// CacheInfo reports cache occupancy and effectiveness counters.
type CacheInfo struct {
	Entries int
	Hits    uint64
	Misses  uint64
}

type cacheEntry struct {
	rec       *Recording
	expiresAt time.Time
}

// Cache is a TTL-bounded id-keyed cache of Recording aggregates. Safe for
// concurrent use. A zero TTL disables expiry.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]cacheEntry
	gens    map[string]uint64
	epoch   uint64
	ttl     time.Duration
	hits    uint64
	misses  uint64
}

// NewCache creates a cache with the given entry TTL.
func NewCache(ttl time.Duration) *Cache {
	return &Cache{
		entries: make(map[string]cacheEntry),
		gens:    make(map[string]uint64),
		ttl:     ttl,
	}
}

// fillTicket captures the invalidation state a read-through load began
// under. A fill completed under an older state is dropped, so a write that
// invalidated the id mid-load can never be overwritten by the stale row.
type fillTicket struct {
	id    string
	gen   uint64
	epoch uint64
}

// beginFill is taken before the database read of a read-through load.
func (c *Cache) beginFill(id string) fillTicket {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return fillTicket{id: id, gen: c.gens[id], epoch: c.epoch}
}

// completeFill stores the loaded aggregate unless the id was invalidated
// since beginFill.
func (c *Cache) completeFill(ticket fillTicket, rec *Recording) {
	var expires time.Time
	if c.ttl > 0 {
		expires = time.Now().Add(c.ttl)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.epoch != ticket.epoch || c.gens[ticket.id] != ticket.gen {
		return
	}
	c.entries[ticket.id] = cacheEntry{rec: rec.clone(), expiresAt: expires}
}

// Get returns the cached aggregate for id, or nil on a miss. Expired entries
// count as misses and are evicted.
func (c *Cache) Get(id string) *Recording {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[id]
	if ok && !entry.expiresAt.IsZero() && time.Now().After(entry.expiresAt) {
		delete(c.entries, id)
		ok = false
	}
	if !ok {
		c.misses++
		return nil
	}
	c.hits++
	return entry.rec.clone()
}

// Set stores a copy of the aggregate under its id.
func (c *Cache) Set(rec *Recording) {
	var expires time.Time
	if c.ttl > 0 {
		expires = time.Now().Add(c.ttl)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[rec.ID] = cacheEntry{rec: rec.clone(), expiresAt: expires}
}

// Delete evicts one entry and invalidates any in-flight fill for the id.
func (c *Cache) Delete(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, id)
	c.gens[id]++
}

// Clear evicts every entry and invalidates all in-flight fills. Counters are
// preserved.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]cacheEntry)
	c.gens = make(map[string]uint64)
	c.epoch++
}

// Info returns current occupancy and hit/miss counters.
func (c *Cache) Info() CacheInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return CacheInfo{
		Entries: len(c.entries),
		Hits:    c.hits,
		Misses:  c.misses,
	}
}

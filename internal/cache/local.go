package cache

import (
	"container/list"
	"sync"
	"time"

	"github.com/shortlinklabs/redirect-core/internal/model"
)

// LocalCache is the L1 cache: a bounded, thread-safe in-process LRU with a
// fixed per-entry TTL. It holds *model.CacheEntry values, which are immutable
// by contract, so Get returns the cached pointer without copying. The TTL is
// also the correctness backstop for lost cross-process invalidations: a stale
// entry can outlive a dropped pub/sub message by at most one TTL window.
type LocalCache struct {
	maxEntries int
	ttl        time.Duration
	mu         sync.Mutex
	ll         *list.List
	cache      map[string]*list.Element
}

type localEntry struct {
	key    string
	entry  *model.CacheEntry
	expiry time.Time
}

// NewLocalCache creates an L1 cache bounded to maxEntries with the given TTL.
func NewLocalCache(maxEntries int, ttl time.Duration) *LocalCache {
	if maxEntries <= 0 {
		maxEntries = 10000
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &LocalCache{
		maxEntries: maxEntries,
		ttl:        ttl,
		ll:         list.New(),
		cache:      make(map[string]*list.Element),
	}
}

// Get retrieves an entry by key. Expired entries are removed on access.
func (c *LocalCache) Get(key string) (*model.CacheEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.cache[key]
	if !ok {
		return nil, false
	}
	le := elem.Value.(*localEntry)
	if time.Now().After(le.expiry) {
		c.removeElement(elem)
		return nil, false
	}
	c.ll.MoveToFront(elem)
	return le.entry, true
}

// Set adds or replaces an entry. The oldest entry is evicted when the cache
// is at capacity.
func (c *LocalCache) Set(entry *model.CacheEntry) {
	if entry == nil {
		return
	}
	key := entry.Key()

	c.mu.Lock()
	defer c.mu.Unlock()

	expiry := time.Now().Add(c.ttl)
	if elem, ok := c.cache[key]; ok {
		le := elem.Value.(*localEntry)
		le.entry = entry
		le.expiry = expiry
		c.ll.MoveToFront(elem)
		return
	}

	elem := c.ll.PushFront(&localEntry{key: key, entry: entry, expiry: expiry})
	c.cache[key] = elem

	if c.ll.Len() > c.maxEntries {
		if oldest := c.ll.Back(); oldest != nil {
			c.removeElement(oldest)
		}
	}
}

// BumpClickCount replaces a cached entry with a copy whose click count is one
// higher. Entries are immutable, so the bump is copy-on-write. This keeps the
// click-limit check exact within one process between cache refreshes; other
// processes converge through the durable store within one TTL window.
func (c *LocalCache) BumpClickCount(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.cache[key]
	if !ok {
		return
	}
	le := elem.Value.(*localEntry)
	bumped := *le.entry
	bumped.ClickCount++
	le.entry = &bumped
}

// Delete removes a key from the cache.
func (c *LocalCache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.cache[key]; ok {
		c.removeElement(elem)
	}
}

// Clear removes all entries from the cache.
func (c *LocalCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.ll.Init()
	c.cache = make(map[string]*list.Element)
}

// Len returns the current number of entries, including any not yet evicted
// after expiring.
func (c *LocalCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ll.Len()
}

// TTL returns the per-entry time to live.
func (c *LocalCache) TTL() time.Duration {
	return c.ttl
}

// LocalStats contains statistics about the L1 cache.
type LocalStats struct {
	Entries    int `json:"entries"`
	MaxEntries int `json:"max_entries"`
	Fresh      int `json:"fresh"`
	Expired    int `json:"expired"`
}

// Stats returns cache statistics.
func (c *LocalCache) Stats() LocalStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	fresh := 0
	expired := 0
	for e := c.ll.Front(); e != nil; e = e.Next() {
		if now.After(e.Value.(*localEntry).expiry) {
			expired++
		} else {
			fresh++
		}
	}
	return LocalStats{
		Entries:    c.ll.Len(),
		MaxEntries: c.maxEntries,
		Fresh:      fresh,
		Expired:    expired,
	}
}

// CleanExpired removes all expired entries and returns how many were removed.
// Expired entries are otherwise removed lazily on Get, so this only needs to
// run occasionally to bound memory on cold keys.
func (c *LocalCache) CleanExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	removed := 0
	var next *list.Element
	for e := c.ll.Front(); e != nil; e = next {
		next = e.Next()
		if now.After(e.Value.(*localEntry).expiry) {
			c.removeElement(e)
			removed++
		}
	}
	return removed
}

// removeElement removes an element from the cache.
// Must be called with c.mu held.
func (c *LocalCache) removeElement(elem *list.Element) {
	c.ll.Remove(elem)
	delete(c.cache, elem.Value.(*localEntry).key)
}

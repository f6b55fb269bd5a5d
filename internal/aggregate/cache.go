package aggregate

import (
	"sort"
	"sync"
	"time"

	"commandcenter/pkg/types"
)

// cache holds composed snapshots keyed by MRN. Entries expire lazily once
// older than the TTL; when the entry count exceeds the ceiling the
// oldest-created fifth is pruned eagerly. Not an LRU: creation time, not
// access time, decides eviction order.
type cache struct {
	mu         sync.Mutex
	ttl        time.Duration
	maxEntries int
	entries    map[string]cacheEntry
}

type cacheEntry struct {
	snap      *types.Snapshot
	createdAt time.Time
}

func newCache(ttl time.Duration, maxEntries int) *cache {
	return &cache{
		ttl:        ttl,
		maxEntries: maxEntries,
		entries:    make(map[string]cacheEntry),
	}
}

func (c *cache) get(mrn string) (*types.Snapshot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[mrn]
	if !ok {
		return nil, false
	}
	if time.Since(entry.createdAt) > c.ttl {
		delete(c.entries, mrn)
		return nil, false
	}
	return entry.snap, true
}

func (c *cache) put(mrn string, snap *types.Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[mrn] = cacheEntry{snap: snap, createdAt: time.Now()}
	if len(c.entries) <= c.maxEntries {
		return
	}

	type aged struct {
		mrn       string
		createdAt time.Time
	}
	all := make([]aged, 0, len(c.entries))
	for key, entry := range c.entries {
		all = append(all, aged{mrn: key, createdAt: entry.createdAt})
	}
	sort.Slice(all, func(i, j int) bool {
		return all[i].createdAt.Before(all[j].createdAt)
	})

	drop := len(all) / 5
	if drop < 1 {
		drop = 1
	}
	for _, victim := range all[:drop] {
		delete(c.entries, victim.mrn)
	}
}

func (c *cache) clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]cacheEntry)
}

func (c *cache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

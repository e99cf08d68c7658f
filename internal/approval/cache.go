package approval

import (
	"sync"
	"time"
)

type cacheEntry struct {
	approved  bool
	expiresAt time.Time
}

func (e *cacheEntry) expired() bool {
	return time.Now().After(e.expiresAt)
}

// approvalCache is a thread-safe TTL cache of positive lookups.
type approvalCache struct {
	mu      sync.RWMutex
	entries map[uint64]*cacheEntry
	ttl     time.Duration
}

func newApprovalCache(ttl time.Duration) *approvalCache {
	return &approvalCache{
		entries: make(map[uint64]*cacheEntry),
		ttl:     ttl,
	}
}

func (c *approvalCache) get(requestID uint64) (bool, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[requestID]
	if !ok || e.expired() {
		return false, false
	}
	return e.approved, true
}

func (c *approvalCache) set(requestID uint64, approved bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[requestID] = &cacheEntry{
		approved:  approved,
		expiresAt: time.Now().Add(c.ttl),
	}
}

// evict removes all expired entries and returns how many were dropped.
func (c *approvalCache) evict() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for k, e := range c.entries {
		if e.expired() {
			delete(c.entries, k)
			n++
		}
	}
	return n
}

func (c *approvalCache) len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

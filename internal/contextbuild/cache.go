package contextbuild

import (
	"sync"
	"time"
)

const (
	stableCacheTTL  = 5 * time.Minute
	stableCacheSize = 256
)

// cacheKey identifies one stable block. Any settings, specialist-config, or
// framework change produces a new key, so entries never need invalidation.
type cacheKey struct {
	userID           int64
	specialist       string
	settingsUpdated  int64
	promptsUpdated   int64
	frameworkUpdated int64
	isLog            bool
}

type cacheEntry struct {
	value    string
	storedAt time.Time
}

// stableCache is a TTL+size bounded map. The zero value is ready to use.
type stableCache struct {
	mu      sync.Mutex
	entries map[cacheKey]cacheEntry
	// now is replaceable in tests.
	now func() time.Time
}

func (c *stableCache) clock() time.Time {
	if c.now != nil {
		return c.now()
	}
	return time.Now()
}

func (c *stableCache) get(key cacheKey) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return "", false
	}
	if c.clock().Sub(e.storedAt) > stableCacheTTL {
		delete(c.entries, key)
		return "", false
	}
	return e.value, true
}

func (c *stableCache) put(key cacheKey, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.entries == nil {
		c.entries = make(map[cacheKey]cacheEntry)
	}
	if len(c.entries) >= stableCacheSize {
		c.evictOldest()
	}
	c.entries[key] = cacheEntry{value: value, storedAt: c.clock()}
}

// evictOldest removes the entry with the earliest storedAt. Linear scan is
// fine at this size.
func (c *stableCache) evictOldest() {
	var oldest cacheKey
	var oldestAt time.Time
	first := true
	for k, e := range c.entries {
		if first || e.storedAt.Before(oldestAt) {
			oldest, oldestAt, first = k, e.storedAt, false
		}
	}
	if !first {
		delete(c.entries, oldest)
	}
}

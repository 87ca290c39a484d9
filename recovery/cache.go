package recovery

import (
	"sync"
	"time"

	"github.com/shieldops/shield/clock"
)

// fallbackCache remembers the last good value per operation name so a
// degraded response can serve stale-but-real data instead of a static
// placeholder.
type fallbackCache struct {
	ttl   time.Duration
	clock clock.Clock

	mu      sync.RWMutex
	entries map[string]fallbackEntry
}

type fallbackEntry struct {
	value     any
	expiresAt time.Time
}

func newFallbackCache(ttl time.Duration, clk clock.Clock) *fallbackCache {
	return &fallbackCache{
		ttl:     ttl,
		clock:   clk,
		entries: make(map[string]fallbackEntry),
	}
}

// get returns the cached value for an operation. Misses and expired
// entries return (nil, false); expired entries are cleaned up lazily.
func (c *fallbackCache) get(operation string) (any, bool) {
	c.mu.RLock()
	entry, ok := c.entries[operation]
	c.mu.RUnlock()

	if !ok {
		return nil, false
	}
	if c.clock.Now().After(entry.expiresAt) {
		c.mu.Lock()
		delete(c.entries, operation)
		c.mu.Unlock()
		return nil, false
	}
	return entry.value, true
}

// put stores the latest good value for an operation.
func (c *fallbackCache) put(operation string, value any) {
	if c.ttl <= 0 {
		return
	}
	c.mu.Lock()
	c.entries[operation] = fallbackEntry{
		value:     value,
		expiresAt: c.clock.Now().Add(c.ttl),
	}
	c.mu.Unlock()
}

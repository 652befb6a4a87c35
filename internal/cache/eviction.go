package cache

import (
	"sort"
	"time"
)

// ensureCapacityLocked makes room for incomingCount entries totalling
// incomingSize bytes. Expired entries go first; after that entries are
// evicted in (priority asc, lastAccessedAt asc) order, so a critical entry
// is only touched once nothing lower remains. Caller holds c.mu.
func (c *Cache) ensureCapacityLocked(incomingSize int64, incomingCount int, now time.Time) {
	if c.fitsLocked(incomingSize, incomingCount) {
		return
	}

	for _, e := range c.entries {
		if e.expired(now) {
			c.removeLocked(e)
			c.stats.Expirations++
		}
	}
	if c.fitsLocked(incomingSize, incomingCount) {
		return
	}

	candidates := make([]*entry, 0, len(c.entries))
	for _, e := range c.entries {
		candidates = append(candidates, e)
	}
	sort.Slice(candidates, func(i, j int) bool {
		return evictsBefore(candidates[i], candidates[j])
	})

	evicted := 0
	for _, e := range candidates {
		if c.fitsLocked(incomingSize, incomingCount) {
			break
		}
		c.removeLocked(e)
		c.stats.Evictions++
		evicted++
	}

	if evicted > 0 {
		c.log.Debug().Int("evicted", evicted).Int64("size", c.size).Int("entries", len(c.entries)).
			Msg("evicted cache entries")
	}
}

func (c *Cache) fitsLocked(incomingSize int64, incomingCount int) bool {
	if c.cfg.MaxSize > 0 && c.size+incomingSize > c.cfg.MaxSize {
		return false
	}
	if c.cfg.MaxEntries > 0 && len(c.entries)+incomingCount > c.cfg.MaxEntries {
		return false
	}
	return true
}

// evictsBefore orders eviction candidates. Ties on priority and access time
// fall back to insertion order.
func evictsBefore(a, b *entry) bool {
	if a.priority != b.priority {
		return a.priority < b.priority
	}
	if !a.lastAccessedAt.Equal(b.lastAccessedAt) {
		return a.lastAccessedAt.Before(b.lastAccessedAt)
	}
	return a.seq < b.seq
}

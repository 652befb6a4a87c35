package cache

import (
	"context"

	"github.com/runnerr0/tidepool/internal/storage"
)

// Persister is the durable store behind PersistToDisk. *storage.SQLiteStore
// satisfies it.
type Persister interface {
	ReplaceCacheEntries(ctx context.Context, rows []storage.CacheRow) error
	LoadCacheEntries(ctx context.Context) ([]storage.CacheRow, error)
}

// persist writes the full entry set when persistence is on. Failures are
// logged; the in-memory map stays authoritative.
func (c *Cache) persist(ctx context.Context) {
	c.mu.RLock()
	enabled := c.cfg.PersistToDisk && c.persister != nil && !c.closed
	c.mu.RUnlock()
	if !enabled {
		return
	}

	c.persistMu.Lock()
	defer c.persistMu.Unlock()

	c.mu.RLock()
	rows := make([]storage.CacheRow, 0, len(c.entries))
	for _, e := range c.entries {
		rows = append(rows, toRow(e))
	}
	c.mu.RUnlock()

	if err := c.persister.ReplaceCacheEntries(ctx, rows); err != nil {
		c.log.Warn().Err(err).Int("entries", len(rows)).Msg("persist cache failed")
	}
}

// hydrate loads previously persisted entries, skipping expired ones and
// enforcing the current limits.
func (c *Cache) hydrate(ctx context.Context) {
	rows, err := c.persister.LoadCacheEntries(ctx)
	if err != nil {
		c.log.Warn().Err(err).Msg("load persisted cache failed")
		return
	}

	now := c.now()
	loaded := 0

	c.mu.Lock()
	defer c.mu.Unlock()

	for _, r := range rows {
		e := fromRow(r)
		if e.expired(now) {
			continue
		}
		if c.cfg.MaxSize > 0 && e.sizeBytes > c.cfg.MaxSize {
			continue
		}
		if old, ok := c.entries[e.key]; ok {
			c.removeLocked(old)
		}
		c.ensureCapacityLocked(e.sizeBytes, 1, now)
		c.seq++
		e.seq = c.seq
		c.entries[e.key] = e
		c.size += e.sizeBytes
		loaded++
	}

	c.log.Debug().Int("entries", loaded).Msg("hydrated cache from disk")
}

func toRow(e *entry) storage.CacheRow {
	tags := make([]string, 0, len(e.tags))
	for t := range e.tags {
		tags = append(tags, t)
	}
	return storage.CacheRow{
		Key:            e.key,
		Data:           e.data,
		CreatedAt:      e.createdAt,
		ExpiresAt:      e.expiresAt,
		SizeBytes:      e.sizeBytes,
		AccessCount:    e.accessCount,
		LastAccessedAt: e.lastAccessedAt,
		Priority:       int(e.priority),
		Tags:           tags,
		Compressed:     e.compressed,
		Encrypted:      e.encrypted,
	}
}

func fromRow(r storage.CacheRow) *entry {
	e := &entry{
		key:            r.Key,
		data:           r.Data,
		createdAt:      r.CreatedAt,
		expiresAt:      r.ExpiresAt,
		sizeBytes:      int64(len(r.Data)),
		accessCount:    r.AccessCount,
		lastAccessedAt: r.LastAccessedAt,
		priority:       Priority(r.Priority).effective(),
		tags:           make(map[string]struct{}, len(r.Tags)),
		compressed:     r.Compressed,
		encrypted:      r.Encrypted,
	}
	for _, t := range r.Tags {
		e.tags[t] = struct{}{}
	}
	return e
}

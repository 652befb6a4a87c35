// Package cache implements the in-memory cache engine: size and entry
// limits, TTL expiry, priority-weighted LRU eviction, optional compression
// and encryption of payloads, and optional durable persistence.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ErrClosed is returned by Set after Close.
var ErrClosed = errors.New("cache closed")

// Cache is the cache engine. All methods are safe for concurrent use.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]*entry
	cfg     Config
	size    int64
	seq     uint64
	stats   Stats
	closed  bool

	codec     Codec
	sealer    Sealer
	persister Persister
	now       func() time.Time
	log       zerolog.Logger

	// persistMu serializes snapshot writes so the newest snapshot lands last.
	persistMu sync.Mutex

	stopSweep chan struct{}
	sweepDone chan struct{}
}

// Option configures a Cache.
type Option func(*Cache)

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Cache) { c.log = l }
}

// WithSealer enables payload encryption.
func WithSealer(s Sealer) Option {
	return func(c *Cache) { c.sealer = s }
}

// WithCodec replaces the default zstd codec.
func WithCodec(codec Codec) Option {
	return func(c *Cache) { c.codec = codec }
}

// WithPersister sets the durable store used when PersistToDisk is on.
func WithPersister(p Persister) Option {
	return func(c *Cache) { c.persister = p }
}

// WithClock injects the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// New builds a cache, negotiates optional capabilities, hydrates from the
// persister when persistence is on, and starts the expiry sweep.
func New(ctx context.Context, cfg Config, opts ...Option) (*Cache, error) {
	if cfg.MaxSize <= 0 && cfg.MaxEntries <= 0 {
		return nil, errors.New("either MaxSize or MaxEntries must be set")
	}

	c := &Cache{
		entries: make(map[string]*entry),
		now:     time.Now,
		log:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.codec == nil {
		codec, err := NewZstdCodec()
		if err != nil {
			c.log.Warn().Err(err).Msg("compression unavailable")
		} else {
			c.codec = codec
		}
	}

	c.cfg = c.negotiate(cfg)

	if c.cfg.PersistToDisk {
		c.hydrate(ctx)
	}

	c.startSweep(c.cfg.CleanupInterval)
	return c, nil
}

// negotiate downgrades switches the runtime cannot honour.
func (c *Cache) negotiate(cfg Config) Config {
	if cfg.CompressionEnabled && c.codec == nil {
		c.log.Warn().Msg("compression requested but no codec available, disabling")
		cfg.CompressionEnabled = false
	}
	if cfg.EncryptionEnabled && c.sealer == nil {
		c.log.Warn().Msg("encryption requested but no key available, disabling")
		cfg.EncryptionEnabled = false
	}
	if cfg.PersistToDisk && c.persister == nil {
		c.log.Warn().Msg("persistence requested but no store wired, disabling")
		cfg.PersistToDisk = false
	}
	if cfg.CompressionThreshold <= 0 {
		cfg.CompressionThreshold = 1024
	}
	return cfg
}

// Set stores value under key. Capacity pressure is resolved by eviction and
// never reported as an error; an entry larger than MaxSize on its own is
// dropped and counted as rejected.
func (c *Cache) Set(ctx context.Context, key string, value any, opts SetOptions) error {
	if err := c.set(key, value, opts); err != nil {
		return err
	}
	c.persist(ctx)
	return nil
}

func (c *Cache) set(key string, value any, opts SetOptions) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}

	cfg := c.Config()
	data := raw
	compressed, encrypted := false, false

	if (opts.Compress || cfg.CompressionEnabled) && c.codec != nil && len(data) > cfg.CompressionThreshold {
		if packed := c.codec.Compress(data); len(packed) < len(data) {
			data, compressed = packed, true
		}
	}

	if opts.Encrypt || cfg.EncryptionEnabled {
		if c.sealer == nil {
			c.log.Debug().Str("key", key).Msg("encryption requested without a key, storing plaintext")
		} else {
			sealed, err := c.sealer.Seal(data)
			if err != nil {
				return fmt.Errorf("seal %s: %w", key, err)
			}
			data, encrypted = sealed, true
		}
	}

	now := c.now()
	e := &entry{
		key:            key,
		data:           data,
		createdAt:      now,
		sizeBytes:      int64(len(data)),
		lastAccessedAt: now,
		priority:       opts.Priority.effective(),
		tags:           make(map[string]struct{}, len(opts.Tags)),
		compressed:     compressed,
		encrypted:      encrypted,
	}
	for _, t := range opts.Tags {
		e.tags[t] = struct{}{}
	}
	switch {
	case opts.TTL > 0:
		e.expiresAt = now.Add(opts.TTL)
	case opts.TTL == 0 && cfg.DefaultTTL > 0:
		e.expiresAt = now.Add(cfg.DefaultTTL)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}

	// The old value goes regardless: a rejected write must not leave a
	// stale value readable.
	if old, ok := c.entries[key]; ok {
		c.removeLocked(old)
	}

	if c.cfg.MaxSize > 0 && e.sizeBytes > c.cfg.MaxSize {
		c.stats.Rejected++
		c.log.Warn().Str("key", key).Int64("size", e.sizeBytes).Int64("max_size", c.cfg.MaxSize).
			Msg("entry exceeds cache size, not stored")
		return nil
	}

	c.ensureCapacityLocked(e.sizeBytes, 1, now)

	c.seq++
	e.seq = c.seq
	c.entries[key] = e
	c.size += e.sizeBytes
	return nil
}

// Get returns the JSON payload stored under key. Expired entries are
// removed on access. A payload that fails to decrypt or decompress is
// treated as corrupt: the entry is removed and the call reports a miss.
// After Close every lookup is a miss and entries are left as they are.
func (c *Cache) Get(ctx context.Context, key string) (json.RawMessage, bool) {
	now := c.now()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, false
	}
	e, ok := c.entries[key]
	if !ok {
		c.stats.Misses++
		c.mu.Unlock()
		return nil, false
	}
	if e.expired(now) {
		c.removeLocked(e)
		c.stats.Expirations++
		c.stats.Misses++
		c.mu.Unlock()
		c.persist(ctx)
		return nil, false
	}
	data, isEncrypted, isCompressed := e.data, e.encrypted, e.compressed
	c.mu.Unlock()

	raw, err := c.decode(data, isEncrypted, isCompressed)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, false
	}
	if err != nil {
		if c.entries[key] == e {
			c.removeLocked(e)
		}
		c.stats.Corrupted++
		c.stats.Misses++
		c.mu.Unlock()
		c.log.Warn().Err(err).Str("key", key).Msg("dropping unreadable cache entry")
		c.persist(ctx)
		return nil, false
	}
	if c.entries[key] == e {
		e.accessCount++
		e.lastAccessedAt = now
	}
	c.stats.Hits++
	c.mu.Unlock()

	return json.RawMessage(raw), true
}

// decode reverses the storage pipeline: decrypt, then decompress.
func (c *Cache) decode(data []byte, encrypted, compressed bool) ([]byte, error) {
	if encrypted {
		if c.sealer == nil {
			return nil, errors.New("entry is encrypted but no key is loaded")
		}
		opened, err := c.sealer.Open(data)
		if err != nil {
			return nil, err
		}
		data = opened
	}
	if compressed {
		if c.codec == nil {
			return nil, errors.New("entry is compressed but no codec is loaded")
		}
		unpacked, err := c.codec.Decompress(data)
		if err != nil {
			return nil, err
		}
		data = unpacked
	}
	if !json.Valid(data) {
		return nil, errors.New("payload is not valid JSON")
	}
	return data, nil
}

// GetAs decodes the value stored under key into T. A payload that does not
// fit T reports a miss without removing the entry.
func GetAs[T any](ctx context.Context, c *Cache, key string) (T, bool) {
	var out T
	raw, ok := c.Get(ctx, key)
	if !ok {
		return out, false
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		var zero T
		return zero, false
	}
	return out, true
}

// Has reports whether key holds a live entry. Expired entries are removed.
// A closed cache holds nothing.
func (c *Cache) Has(ctx context.Context, key string) bool {
	now := c.now()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false
	}
	e, ok := c.entries[key]
	if ok && e.expired(now) {
		c.removeLocked(e)
		c.stats.Expirations++
		c.mu.Unlock()
		c.persist(ctx)
		return false
	}
	c.mu.Unlock()
	return ok
}

// Delete removes key and reports whether it was present.
func (c *Cache) Delete(ctx context.Context, key string) bool {
	c.mu.Lock()
	e, ok := c.entries[key]
	if ok {
		c.removeLocked(e)
	}
	c.mu.Unlock()

	if ok {
		c.persist(ctx)
	}
	return ok
}

// Clear removes every entry. Statistics are kept.
func (c *Cache) Clear(ctx context.Context) {
	c.mu.Lock()
	c.entries = make(map[string]*entry)
	c.size = 0
	c.mu.Unlock()

	c.persist(ctx)
}

// GetMultiple returns the hits among keys.
func (c *Cache) GetMultiple(ctx context.Context, keys []string) map[string]json.RawMessage {
	out := make(map[string]json.RawMessage, len(keys))
	for _, k := range keys {
		if v, ok := c.Get(ctx, k); ok {
			out[k] = v
		}
	}
	return out
}

// SetMultiple stores each item independently. Failures do not stop the
// remaining items; they are joined into the returned error.
func (c *Cache) SetMultiple(ctx context.Context, items []Item) error {
	var errs []error
	for _, it := range items {
		if err := c.set(it.Key, it.Value, it.Options); err != nil {
			errs = append(errs, err)
		}
	}
	c.persist(ctx)
	return errors.Join(errs...)
}

// DeleteMultiple removes each key and returns how many were present.
func (c *Cache) DeleteMultiple(ctx context.Context, keys []string) int {
	removed := 0
	c.mu.Lock()
	for _, k := range keys {
		if e, ok := c.entries[k]; ok {
			c.removeLocked(e)
			removed++
		}
	}
	c.mu.Unlock()

	if removed > 0 {
		c.persist(ctx)
	}
	return removed
}

// GetByTag returns every live entry carrying tag.
func (c *Cache) GetByTag(ctx context.Context, tag string) map[string]json.RawMessage {
	return c.GetMultiple(ctx, c.keysWithTag(tag))
}

// DeleteByTag removes every entry carrying tag and returns the count.
func (c *Cache) DeleteByTag(ctx context.Context, tag string) int {
	return c.DeleteMultiple(ctx, c.keysWithTag(tag))
}

func (c *Cache) keysWithTag(tag string) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var keys []string
	for k, e := range c.entries {
		if e.hasTag(tag) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

// Keys returns the keys of all stored entries, sorted.
func (c *Cache) Keys() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	keys := make([]string, 0, len(c.entries))
	for k := range c.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Entries returns metadata for every stored entry, sorted by key.
func (c *Cache) Entries() []EntryInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]EntryInfo, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, e.info())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Len returns the number of stored entries.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Stats returns a snapshot of the cache statistics.
func (c *Cache) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	s := c.stats
	s.TotalSize = c.size
	s.Entries = len(c.entries)
	s.MaxSize = c.cfg.MaxSize
	s.MaxEntries = c.cfg.MaxEntries
	if total := s.Hits + s.Misses; total > 0 {
		s.HitRate = float64(s.Hits) / float64(total)
	}
	return s
}

// Config returns the active configuration after capability negotiation.
func (c *Cache) Config() Config {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cfg
}

// UpdateConfig replaces the configuration. Later calls observe the new
// values; entries already stored keep their pipeline flags and expiry. If
// the new limits are tighter, eviction runs immediately.
func (c *Cache) UpdateConfig(ctx context.Context, cfg Config) error {
	if cfg.MaxSize <= 0 && cfg.MaxEntries <= 0 {
		return errors.New("either MaxSize or MaxEntries must be set")
	}
	cfg = c.negotiate(cfg)

	c.mu.Lock()
	prevInterval := c.cfg.CleanupInterval
	c.cfg = cfg
	c.ensureCapacityLocked(0, 0, c.now())
	c.mu.Unlock()

	if cfg.CleanupInterval != prevInterval {
		c.stopSweepLoop()
		c.startSweep(cfg.CleanupInterval)
	}
	c.persist(ctx)
	return nil
}

// Close stops the sweep, writes a final snapshot, and releases the codec.
func (c *Cache) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	c.stopSweepLoop()
	c.persist(ctx)

	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	if c.codec != nil {
		c.codec.Close()
	}
	return nil
}

// removeLocked drops e from the map. Caller holds c.mu.
func (c *Cache) removeLocked(e *entry) {
	delete(c.entries, e.key)
	c.size -= e.sizeBytes
}

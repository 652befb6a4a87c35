package cache

import (
	"fmt"
	"strings"
	"time"

	"github.com/runnerr0/tidepool/internal/config"
)

// Priority orders entries for eviction. Lower priorities go first.
type Priority int

const (
	PriorityLow Priority = iota + 1
	PriorityNormal
	PriorityHigh
	PriorityCritical
)

func (p Priority) String() string {
	switch p.effective() {
	case PriorityLow:
		return "low"
	case PriorityHigh:
		return "high"
	case PriorityCritical:
		return "critical"
	default:
		return "normal"
	}
}

// effective maps the zero value (and anything out of range) to normal.
func (p Priority) effective() Priority {
	if p < PriorityLow || p > PriorityCritical {
		return PriorityNormal
	}
	return p
}

// ParsePriority converts a name such as "high" into a Priority.
func ParsePriority(name string) (Priority, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "low":
		return PriorityLow, nil
	case "", "normal":
		return PriorityNormal, nil
	case "high":
		return PriorityHigh, nil
	case "critical":
		return PriorityCritical, nil
	}
	return 0, fmt.Errorf("unknown priority %q", name)
}

// NoTTL stores an entry that never expires, ignoring the default TTL.
const NoTTL time.Duration = -1

// SetOptions tune a single Set call.
type SetOptions struct {
	// TTL overrides the default TTL. Zero uses the default; NoTTL disables
	// expiry.
	TTL      time.Duration
	Priority Priority
	Tags     []string
	// Compress and Encrypt request the pipeline stage even when the config
	// leaves it off. Neither can force a stage the cache has no capability
	// for.
	Compress bool
	Encrypt  bool
}

// Item is one element of a SetMultiple call.
type Item struct {
	Key     string
	Value   any
	Options SetOptions
}

// Config holds the engine limits and pipeline switches.
type Config struct {
	MaxSize              int64
	MaxEntries           int
	DefaultTTL           time.Duration
	CleanupInterval      time.Duration
	CompressionEnabled   bool
	CompressionThreshold int
	EncryptionEnabled    bool
	PersistToDisk        bool
}

// FromConfig converts the file configuration into an engine Config.
func FromConfig(c config.CacheConfig) Config {
	return Config{
		MaxSize:              c.MaxSize,
		MaxEntries:           c.MaxEntries,
		DefaultTTL:           time.Duration(c.DefaultTTLMs) * time.Millisecond,
		CleanupInterval:      time.Duration(c.CleanupIntervalMs) * time.Millisecond,
		CompressionEnabled:   c.CompressionEnabled,
		CompressionThreshold: c.CompressionThreshold,
		EncryptionEnabled:    c.EncryptionEnabled,
		PersistToDisk:        c.PersistToDisk,
	}
}

// EntryInfo describes a live entry without its payload.
type EntryInfo struct {
	Key            string
	CreatedAt      time.Time
	ExpiresAt      time.Time
	SizeBytes      int64
	AccessCount    int64
	LastAccessedAt time.Time
	Priority       Priority
	Tags           []string
	Compressed     bool
	Encrypted      bool
}

// Stats holds cache statistics.
type Stats struct {
	Hits        int64
	Misses      int64
	HitRate     float64
	Evictions   int64
	Expirations int64
	Rejected    int64
	Corrupted   int64
	TotalSize   int64
	Entries     int
	MaxSize     int64
	MaxEntries  int
}

type entry struct {
	key            string
	data           []byte
	createdAt      time.Time
	expiresAt      time.Time
	sizeBytes      int64
	accessCount    int64
	lastAccessedAt time.Time
	priority       Priority
	tags           map[string]struct{}
	compressed     bool
	encrypted      bool
	seq            uint64
}

func (e *entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

func (e *entry) hasTag(tag string) bool {
	_, ok := e.tags[tag]
	return ok
}

func (e *entry) info() EntryInfo {
	tags := make([]string, 0, len(e.tags))
	for t := range e.tags {
		tags = append(tags, t)
	}
	return EntryInfo{
		Key:            e.key,
		CreatedAt:      e.createdAt,
		ExpiresAt:      e.expiresAt,
		SizeBytes:      e.sizeBytes,
		AccessCount:    e.accessCount,
		LastAccessedAt: e.lastAccessedAt,
		Priority:       e.priority,
		Tags:           tags,
		Compressed:     e.compressed,
		Encrypted:      e.encrypted,
	}
}

package storage

import "time"

// Action is a deferred mutating HTTP request waiting to be replayed.
type Action struct {
	Seq        int64 // insertion order, assigned by the store
	ID         string
	Kind       string // "CREATE", "UPDATE", "DELETE"
	Endpoint   string
	Method     string
	Headers    map[string]string
	Body       []byte
	CreatedAt  time.Time
	RetryCount int
	LastError  string
}

// ContentRecord is a locally persisted shadow copy of server-owned content.
type ContentRecord struct {
	ID           string
	Title        string
	Content      string
	Type         string
	Status       string
	LastModified int64 // unix millis
	Synced       bool
}

// BatchRecord is a serialized analytics batch kept for later delivery.
type BatchRecord struct {
	ID         string
	Payload    []byte // JSON array of events
	EventCount int
	CreatedAt  time.Time
	RetryCount int
	SizeBytes  int64
}

// Setting is a single named value in the settings namespace.
type Setting struct {
	Key          string
	Value        string
	LastModified time.Time
}

// CacheRow is the persisted form of one cache entry.
type CacheRow struct {
	Key            string
	Data           []byte
	CreatedAt      time.Time
	ExpiresAt      time.Time // zero means no expiry
	SizeBytes      int64
	AccessCount    int64
	LastAccessedAt time.Time
	Priority       int
	Tags           []string
	Compressed     bool
	Encrypted      bool
}

// Stats holds aggregate counts across all namespaces.
type Stats struct {
	PendingActions    int64
	ContentRecords    int64
	UnsyncedContent   int64
	OfflineBatches    int64
	OfflineEvents     int64
	Settings          int64
	CacheEntries      int64
	OldestAction      time.Time
	DatabaseSizeBytes int64
}

// PruneResult reports how many rows a prune pass removed per namespace.
type PruneResult struct {
	Actions      int64
	Batches      int64
	CacheEntries int64
}

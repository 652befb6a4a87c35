package cli

import "io"

// GlobalFlags holds flags available to all subcommands.
type GlobalFlags struct {
	Config  string `long:"config" description:"Path to config file (YAML or .toml)" default:""`
	JSON    bool   `long:"json" description:"Output in JSON format"`
	Verbose bool   `long:"verbose" description:"Enable verbose output"`
	Version bool   `long:"version" description:"Show version and exit"`
}

// StatusCommand shows queued work and backend reachability.
type StatusCommand struct {
	globals *GlobalFlags
	version string
}

// CacheCommand groups the cache subcommands.
type CacheCommand struct {
	Set    CacheSetCommand    `command:"set" description:"Store a value" long-description:"Store a value under KEY. VALUE is parsed as JSON when valid, otherwise stored as a string."`
	Get    CacheGetCommand    `command:"get" description:"Print a value" long-description:"Print the JSON value stored under KEY."`
	Delete CacheDeleteCommand `command:"delete" description:"Delete entries" long-description:"Delete entries by key, by --tag, or --all."`
	Keys   CacheKeysCommand   `command:"keys" description:"List live keys" long-description:"List live keys with size, priority and expiry."`
	Stats  CacheStatsCommand  `command:"stats" description:"Show cache statistics" long-description:"Show hit rate, size and eviction counters."`
}

// CacheSetCommand stores KEY VALUE.
type CacheSetCommand struct {
	TTL      string   `long:"ttl" description:"Time to live (e.g., 30m, 12h, 7d); 'never' disables expiry"`
	Priority string   `long:"priority" description:"Eviction priority: low | normal | high | critical" default:"normal"`
	Tags     []string `long:"tag" description:"Tag the entry (repeatable)"`
	Compress bool     `long:"compress" description:"Compress regardless of size threshold"`
	Encrypt  bool     `long:"encrypt" description:"Encrypt the entry (requires a passphrase)"`

	globals *GlobalFlags
}

// CacheGetCommand prints the value under KEY.
type CacheGetCommand struct {
	globals *GlobalFlags
}

// CacheDeleteCommand deletes keys, or everything carrying a tag.
type CacheDeleteCommand struct {
	Tag string `long:"tag" description:"Delete every entry carrying this tag"`
	All bool   `long:"all" description:"Delete every entry"`

	globals *GlobalFlags
}

// CacheKeysCommand lists live entries.
type CacheKeysCommand struct {
	Tag string `long:"tag" description:"Only entries carrying this tag"`

	globals *GlobalFlags
}

// CacheStatsCommand prints cache counters.
type CacheStatsCommand struct {
	globals *GlobalFlags
}

// TrackCommand records one analytics event and flushes it.
type TrackCommand struct {
	Name  string   `long:"name" description:"Event name (required)"`
	Type  string   `long:"type" description:"Event type: page_view | user_action | performance | error | engagement | conversion | custom" default:"custom"`
	Props []string `long:"prop" description:"Event property as key=value; value parsed as JSON when valid (repeatable)"`
	User  string   `long:"user" description:"Attach a user id"`

	globals *GlobalFlags
}

// EnqueueCommand queues a mutating request for replay.
type EnqueueCommand struct {
	Kind     string   `long:"kind" description:"Action kind: create | update | delete" default:"create"`
	Endpoint string   `long:"endpoint" description:"Request path or URL (required)"`
	Method   string   `long:"method" description:"HTTP method; defaults by kind (POST, PUT, DELETE)"`
	Headers  []string `long:"header" description:"Request header as 'Name: value' (repeatable)"`
	Body     string   `long:"body" description:"Inline request body"`
	BodyFile string   `long:"body-file" description:"Path to file containing the request body"`

	globals *GlobalFlags
}

// PendingCommand lists queued actions.
type PendingCommand struct {
	globals *GlobalFlags
}

// SyncCommand replays queued work once.
type SyncCommand struct {
	SkipProbe bool `long:"skip-probe" description:"Assume the backend is reachable"`

	globals *GlobalFlags
}

// WatchCommand keeps syncing on every reconnect.
type WatchCommand struct {
	Interval string `long:"interval" description:"Health probe interval (e.g., 30s, 5m)" default:"30s"`

	globals *GlobalFlags
}

// PruneCommand removes stale queued data.
type PruneCommand struct {
	OlderThan string `long:"older-than" description:"Retention period (e.g., 30d)" default:"30d"`

	globals *GlobalFlags
}

// PurgeCommand deletes all tidepool data after a typed confirmation.
type PurgeCommand struct {
	All   bool `long:"all" description:"Required flag to confirm purge intent"`
	Force bool `long:"force" description:"Skip safety confirmation prompt"`

	globals *GlobalFlags
	in      io.Reader // injectable for testing; nil means os.Stdin
}

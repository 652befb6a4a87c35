package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/runnerr0/tidepool/internal/app"
	"github.com/runnerr0/tidepool/internal/storage"
)

// probeTimeout bounds the reachability check in status.
const probeTimeout = time.Second

// statusJSON is the JSON output structure for the status command.
type statusJSON struct {
	Version           string  `json:"version"`
	DatabasePath      string  `json:"database_path"`
	DatabaseSizeBytes int64   `json:"database_size_bytes"`
	PendingActions    int64   `json:"pending_actions"`
	OldestAction      string  `json:"oldest_action,omitempty"`
	ContentRecords    int64   `json:"content_records"`
	UnsyncedContent   int64   `json:"unsynced_content"`
	OfflineBatches    int64   `json:"offline_batches"`
	OfflineEvents     int64   `json:"offline_events"`
	CacheEntries      int64   `json:"cache_entries"`
	Settings          int64   `json:"settings"`
	BackendURL        string  `json:"backend_url"`
	BackendReachable  bool    `json:"backend_reachable"`
	TelemetryEnabled  bool    `json:"telemetry_enabled"`
	SamplingRate      float64 `json:"sampling_rate"`
	CacheMaxSizeBytes int64   `json:"cache_max_size_bytes"`
}

// Execute implements the go-flags Commander interface for StatusCommand.
func (c *StatusCommand) Execute(args []string) error {
	return withApp(c.globals, storeOnly, c.executeWithApp)
}

// executeWithApp runs status against a provided runtime (for testing).
func (c *StatusCommand) executeWithApp(ctx context.Context, a *app.App) error {
	stats, err := a.Store.GetStats(ctx)
	if err != nil {
		return fmt.Errorf("get stats: %w", err)
	}

	pctx, cancel := context.WithTimeout(ctx, probeTimeout)
	reachable := a.Client.Ping(pctx) == nil
	cancel()

	out := c.buildStatus(a, stats, reachable)
	if c.globals != nil && c.globals.JSON {
		return printJSON(out)
	}
	c.printStatusHuman(out, stats)
	return nil
}

func (c *StatusCommand) buildStatus(a *app.App, stats *storage.Stats, reachable bool) statusJSON {
	cfg := a.Config
	out := statusJSON{
		Version:           c.version,
		DatabasePath:      a.DBPath(),
		DatabaseSizeBytes: stats.DatabaseSizeBytes,
		PendingActions:    stats.PendingActions,
		ContentRecords:    stats.ContentRecords,
		UnsyncedContent:   stats.UnsyncedContent,
		OfflineBatches:    stats.OfflineBatches,
		OfflineEvents:     stats.OfflineEvents,
		CacheEntries:      stats.CacheEntries,
		Settings:          stats.Settings,
		BackendURL:        a.Client.BaseURL(),
		BackendReachable:  reachable,
		TelemetryEnabled:  cfg.Telemetry.Enabled,
		SamplingRate:      cfg.Telemetry.SamplingRate,
		CacheMaxSizeBytes: cfg.Cache.MaxSize,
	}
	if !stats.OldestAction.IsZero() {
		out.OldestAction = stats.OldestAction.UTC().Format(time.RFC3339)
	}
	return out
}

func (c *StatusCommand) printStatusHuman(s statusJSON, stats *storage.Stats) {
	fmt.Println("Tidepool Status")
	fmt.Println("===============")
	fmt.Printf("Version:         %s\n", s.Version)
	fmt.Printf("Database:        %s (%s)\n", s.DatabasePath, humanize.Bytes(uint64(max(s.DatabaseSizeBytes, 0))))

	if s.PendingActions > 0 {
		fmt.Printf("Pending actions: %s (oldest %s)\n", humanize.Comma(s.PendingActions), humanize.Time(stats.OldestAction))
	} else {
		fmt.Println("Pending actions: 0")
	}
	fmt.Printf("Content:         %s (%s unsynced)\n", humanize.Comma(s.ContentRecords), humanize.Comma(s.UnsyncedContent))
	fmt.Printf("Offline batches: %s (%s events)\n", humanize.Comma(s.OfflineBatches), humanize.Comma(s.OfflineEvents))
	fmt.Printf("Cache entries:   %s\n", humanize.Comma(s.CacheEntries))
	fmt.Printf("Settings:        %s\n", humanize.Comma(s.Settings))

	fmt.Println()
	if s.BackendReachable {
		fmt.Printf("Backend:         %s (reachable)\n", s.BackendURL)
	} else {
		fmt.Printf("Backend:         %s (unreachable)\n", s.BackendURL)
	}
	if s.TelemetryEnabled {
		fmt.Printf("Telemetry:       enabled (sampling %.0f%%)\n", s.SamplingRate*100)
	} else {
		fmt.Println("Telemetry:       disabled")
	}
	fmt.Printf("Cache limit:     %s\n", humanize.Bytes(uint64(max(s.CacheMaxSizeBytes, 0))))
}

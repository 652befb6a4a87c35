package cli

import (
	"context"
	"fmt"
	"os"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/runnerr0/tidepool/internal/app"
	"github.com/runnerr0/tidepool/internal/cache"
)

// Execute implements the go-flags Commander interface for CacheSetCommand.
func (c *CacheSetCommand) Execute(args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: tidepool cache set KEY VALUE")
	}
	return withApp(c.globals, persistentCache, func(ctx context.Context, a *app.App) error {
		return c.executeWithApp(ctx, a, args[0], args[1])
	})
}

func (c *CacheSetCommand) executeWithApp(ctx context.Context, a *app.App, key, value string) error {
	opts := cache.SetOptions{
		Tags:     c.Tags,
		Compress: c.Compress,
		Encrypt:  c.Encrypt,
	}
	p, err := cache.ParsePriority(c.Priority)
	if err != nil {
		return err
	}
	opts.Priority = p

	switch strings.ToLower(c.TTL) {
	case "":
	case "never":
		opts.TTL = cache.NoTTL
	default:
		ttl, err := parseDuration(c.TTL)
		if err != nil {
			return err
		}
		opts.TTL = ttl
	}

	if err := a.Cache.Set(ctx, key, parseValue(value), opts); err != nil {
		return fmt.Errorf("cache set: %w", err)
	}

	if c.globals != nil && c.globals.JSON {
		return printJSON(map[string]any{"key": key, "stored": true})
	}
	fmt.Printf("Stored %s\n", key)
	return nil
}

// Execute implements the go-flags Commander interface for CacheGetCommand.
func (c *CacheGetCommand) Execute(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: tidepool cache get KEY")
	}
	return withApp(c.globals, persistentCache, func(ctx context.Context, a *app.App) error {
		return c.executeWithApp(ctx, a, args[0])
	})
}

func (c *CacheGetCommand) executeWithApp(ctx context.Context, a *app.App, key string) error {
	raw, ok := a.Cache.Get(ctx, key)
	if !ok {
		return fmt.Errorf("key %q not found", key)
	}
	_, err := fmt.Fprintln(os.Stdout, string(raw))
	return err
}

// Execute implements the go-flags Commander interface for CacheDeleteCommand.
func (c *CacheDeleteCommand) Execute(args []string) error {
	if len(args) == 0 && c.Tag == "" && !c.All {
		return fmt.Errorf("cache delete needs KEY..., --tag, or --all")
	}
	return withApp(c.globals, persistentCache, func(ctx context.Context, a *app.App) error {
		return c.executeWithApp(ctx, a, args)
	})
}

func (c *CacheDeleteCommand) executeWithApp(ctx context.Context, a *app.App, keys []string) error {
	var deleted int
	switch {
	case c.All:
		deleted = a.Cache.Len()
		a.Cache.Clear(ctx)
	case c.Tag != "":
		deleted = a.Cache.DeleteByTag(ctx, c.Tag)
	default:
		deleted = a.Cache.DeleteMultiple(ctx, keys)
	}

	if c.globals != nil && c.globals.JSON {
		return printJSON(map[string]any{"deleted": deleted})
	}
	fmt.Printf("Deleted %d %s\n", deleted, plural(deleted, "entry", "entries"))
	return nil
}

// Execute implements the go-flags Commander interface for CacheKeysCommand.
func (c *CacheKeysCommand) Execute(args []string) error {
	return withApp(c.globals, persistentCache, c.executeWithApp)
}

type entryJSON struct {
	Key         string   `json:"key"`
	SizeBytes   int64    `json:"size_bytes"`
	Priority    string   `json:"priority"`
	Tags        []string `json:"tags,omitempty"`
	ExpiresAt   string   `json:"expires_at,omitempty"`
	AccessCount int64    `json:"access_count"`
	Compressed  bool     `json:"compressed"`
	Encrypted   bool     `json:"encrypted"`
}

func (c *CacheKeysCommand) executeWithApp(ctx context.Context, a *app.App) error {
	var entries []cache.EntryInfo
	for _, e := range a.Cache.Entries() {
		if c.Tag == "" || slices.Contains(e.Tags, c.Tag) {
			entries = append(entries, e)
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })

	if c.globals != nil && c.globals.JSON {
		out := make([]entryJSON, 0, len(entries))
		for _, e := range entries {
			ej := entryJSON{
				Key:         e.Key,
				SizeBytes:   e.SizeBytes,
				Priority:    e.Priority.String(),
				Tags:        e.Tags,
				AccessCount: e.AccessCount,
				Compressed:  e.Compressed,
				Encrypted:   e.Encrypted,
			}
			if !e.ExpiresAt.IsZero() {
				ej.ExpiresAt = e.ExpiresAt.UTC().Format(time.RFC3339)
			}
			out = append(out, ej)
		}
		return printJSON(out)
	}

	if len(entries) == 0 {
		fmt.Println("Cache is empty.")
		return nil
	}
	for _, e := range entries {
		expires := "never"
		if !e.ExpiresAt.IsZero() {
			expires = humanize.Time(e.ExpiresAt)
		}
		fmt.Printf("%-30s %8s  %-8s expires %s\n", e.Key, humanize.Bytes(uint64(max(e.SizeBytes, 0))), e.Priority, expires)
	}
	return nil
}

// Execute implements the go-flags Commander interface for CacheStatsCommand.
func (c *CacheStatsCommand) Execute(args []string) error {
	return withApp(c.globals, persistentCache, c.executeWithApp)
}

func (c *CacheStatsCommand) executeWithApp(ctx context.Context, a *app.App) error {
	s := a.Cache.Stats()
	if c.globals != nil && c.globals.JSON {
		return printJSON(map[string]any{
			"entries":     s.Entries,
			"total_size":  s.TotalSize,
			"max_size":    s.MaxSize,
			"max_entries": s.MaxEntries,
			"hits":        s.Hits,
			"misses":      s.Misses,
			"hit_rate":    s.HitRate,
			"evictions":   s.Evictions,
			"expirations": s.Expirations,
			"rejected":    s.Rejected,
			"corrupted":   s.Corrupted,
		})
	}

	fmt.Println("Cache")
	fmt.Println("=====")
	fmt.Printf("Entries:     %s / %s\n", humanize.Comma(int64(s.Entries)), humanize.Comma(int64(s.MaxEntries)))
	fmt.Printf("Size:        %s / %s\n", humanize.Bytes(uint64(max(s.TotalSize, 0))), humanize.Bytes(uint64(max(s.MaxSize, 0))))
	fmt.Printf("Hit rate:    %.1f%%\n", s.HitRate*100)
	fmt.Printf("Evictions:   %s\n", humanize.Comma(s.Evictions))
	fmt.Printf("Expirations: %s\n", humanize.Comma(s.Expirations))
	if s.Corrupted > 0 {
		fmt.Printf("Corrupted:   %s\n", humanize.Comma(s.Corrupted))
	}
	return nil
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}

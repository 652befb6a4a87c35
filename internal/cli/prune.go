package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/runnerr0/tidepool/internal/app"
)

// Execute implements the go-flags Commander interface for PruneCommand.
func (c *PruneCommand) Execute(args []string) error {
	if _, err := parseDuration(c.OlderThan); err != nil {
		return err
	}
	return withApp(c.globals, storeOnly, c.executeWithApp)
}

func (c *PruneCommand) executeWithApp(ctx context.Context, a *app.App) error {
	retention, err := parseDuration(c.OlderThan)
	if err != nil {
		return err
	}
	cutoff := time.Now().Add(-retention)

	res, err := a.Store.Prune(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("prune: %w", err)
	}

	if c.globals != nil && c.globals.JSON {
		return printJSON(map[string]any{
			"cutoff":        cutoff.UTC().Format(time.RFC3339),
			"actions":       res.Actions,
			"batches":       res.Batches,
			"cache_entries": res.CacheEntries,
		})
	}

	fmt.Printf("Pruned data older than %s:\n", formatDurationHuman(retention))
	fmt.Printf("  Actions:       %d\n", res.Actions)
	fmt.Printf("  Batches:       %d\n", res.Batches)
	fmt.Printf("  Cache entries: %d\n", res.CacheEntries)
	return nil
}

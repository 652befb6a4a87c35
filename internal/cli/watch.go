package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/runnerr0/tidepool/internal/app"
	"github.com/runnerr0/tidepool/internal/config"
)

// Execute implements the go-flags Commander interface for WatchCommand.
func (c *WatchCommand) Execute(args []string) error {
	interval, err := parseDuration(c.Interval)
	if err != nil {
		return err
	}
	if interval <= 0 {
		return fmt.Errorf("--interval must be positive")
	}
	tune := func(cfg *config.Config) {
		storeOnly(cfg)
		cfg.Transport.ProbeIntervalMs = interval.Milliseconds()
	}
	return withApp(c.globals, tune, c.executeWithApp)
}

// executeWithApp probes the backend and lets the collector and coordinator
// drain their queues on every reconnect. It returns when ctx is cancelled.
func (c *WatchCommand) executeWithApp(ctx context.Context, a *app.App) error {
	unsubscribe := a.Monitor.Subscribe(func(online bool) {
		state := "offline"
		if online {
			state = "online"
		}
		a.Log.Info().Str("state", state).Msg("connectivity changed")
		if !c.jsonOutput() {
			fmt.Printf("%s  backend %s\n", time.Now().Format(time.RFC3339), state)
		}
	})
	defer unsubscribe()

	a.Monitor.Probe(ctx)
	a.Start(ctx)
	if a.Monitor.Online() {
		if _, err := syncOnce(ctx, a); err != nil && ctx.Err() == nil {
			a.Log.Warn().Err(err).Msg("initial sync failed")
		}
	}

	<-ctx.Done()
	return nil
}

func (c *WatchCommand) jsonOutput() bool {
	return c.globals != nil && c.globals.JSON
}

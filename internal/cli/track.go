package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/runnerr0/tidepool/internal/app"
	"github.com/runnerr0/tidepool/internal/telemetry"
)

func parseEventType(s string) (telemetry.EventType, error) {
	switch t := telemetry.EventType(strings.ToLower(strings.TrimSpace(s))); t {
	case telemetry.EventPageView, telemetry.EventUserAction, telemetry.EventPerformance,
		telemetry.EventError, telemetry.EventEngagement, telemetry.EventConversion, telemetry.EventCustom:
		return t, nil
	}
	return "", fmt.Errorf("unknown event type %q", s)
}

// Execute implements the go-flags Commander interface for TrackCommand.
func (c *TrackCommand) Execute(args []string) error {
	if c.Name == "" {
		return fmt.Errorf("--name is required")
	}
	if _, err := parseEventType(c.Type); err != nil {
		return err
	}
	if _, err := parseProps(c.Props); err != nil {
		return err
	}
	return withApp(c.globals, storeOnly, c.executeWithApp)
}

type trackJSON struct {
	Name      string `json:"name"`
	Type      string `json:"type"`
	Tracked   bool   `json:"tracked"`
	Delivered int64  `json:"batches_delivered"`
	Stored    int64  `json:"batches_stored"`
	Dropped   int64  `json:"batches_dropped"`
}

func (c *TrackCommand) executeWithApp(ctx context.Context, a *app.App) error {
	typ, err := parseEventType(c.Type)
	if err != nil {
		return err
	}
	props, err := parseProps(c.Props)
	if err != nil {
		return err
	}
	if !a.Telemetry.Config().Enabled {
		return fmt.Errorf("telemetry is disabled in config")
	}

	if c.User != "" {
		a.Telemetry.Identify(c.User)
	}
	before := a.Telemetry.Metrics()
	a.Telemetry.Track(c.Name, props, typ)
	if err := a.Telemetry.Flush(ctx); err != nil {
		a.Log.Debug().Err(err).Msg("flush did not deliver")
	}
	m := a.Telemetry.Metrics()

	out := trackJSON{
		Name:      c.Name,
		Type:      string(typ),
		Tracked:   m.EventsTracked > before.EventsTracked,
		Delivered: m.BatchesSent - before.BatchesSent,
		Stored:    m.BatchesStored - before.BatchesStored,
		Dropped:   m.BatchesDropped - before.BatchesDropped,
	}

	if c.globals != nil && c.globals.JSON {
		return printJSON(out)
	}
	switch {
	case !out.Tracked:
		fmt.Printf("Event %s sampled out\n", c.Name)
	case out.Delivered > 0:
		fmt.Printf("Event %s delivered\n", c.Name)
	case out.Stored > 0:
		fmt.Printf("Event %s stored offline; run 'tidepool sync' when the backend is reachable\n", c.Name)
	default:
		fmt.Printf("Event %s dropped\n", c.Name)
	}
	return nil
}

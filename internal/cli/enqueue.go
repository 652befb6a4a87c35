package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/runnerr0/tidepool/internal/app"
	"github.com/runnerr0/tidepool/internal/offline"
)

// Execute implements the go-flags Commander interface for EnqueueCommand.
func (c *EnqueueCommand) Execute(args []string) error {
	if c.Endpoint == "" {
		return fmt.Errorf("--endpoint is required")
	}
	if c.Body != "" && c.BodyFile != "" {
		return fmt.Errorf("--body and --body-file are mutually exclusive")
	}
	return withApp(c.globals, storeOnly, c.executeWithApp)
}

func (c *EnqueueCommand) executeWithApp(ctx context.Context, a *app.App) error {
	kind, err := offline.ParseKind(c.Kind)
	if err != nil {
		return err
	}
	headers, err := parseHeaders(c.Headers)
	if err != nil {
		return err
	}

	var body []byte
	switch {
	case c.BodyFile != "":
		body, err = os.ReadFile(c.BodyFile)
		if err != nil {
			return fmt.Errorf("read body file: %w", err)
		}
	case c.Body != "":
		body = []byte(c.Body)
	}

	id, err := a.Offline.Enqueue(ctx, kind, c.Endpoint, c.Method, headers, body)
	if err != nil {
		return err
	}

	if c.globals != nil && c.globals.JSON {
		return printJSON(map[string]any{"id": id, "kind": kind, "endpoint": c.Endpoint})
	}
	fmt.Printf("Queued %s %s (%s)\n", kind, c.Endpoint, id)
	return nil
}

// Execute implements the go-flags Commander interface for PendingCommand.
func (c *PendingCommand) Execute(args []string) error {
	return withApp(c.globals, storeOnly, c.executeWithApp)
}

type actionJSON struct {
	ID         string `json:"id"`
	Kind       string `json:"kind"`
	Method     string `json:"method"`
	Endpoint   string `json:"endpoint"`
	CreatedAt  string `json:"created_at"`
	RetryCount int    `json:"retry_count"`
	LastError  string `json:"last_error,omitempty"`
	BodyBytes  int    `json:"body_bytes"`
}

func (c *PendingCommand) executeWithApp(ctx context.Context, a *app.App) error {
	actions, err := a.Offline.PendingActions(ctx)
	if err != nil {
		return err
	}

	if c.globals != nil && c.globals.JSON {
		out := make([]actionJSON, len(actions))
		for i, act := range actions {
			out[i] = actionJSON{
				ID:         act.ID,
				Kind:       string(act.Kind),
				Method:     act.Method,
				Endpoint:   act.Endpoint,
				CreatedAt:  act.CreatedAt.UTC().Format(time.RFC3339),
				RetryCount: act.RetryCount,
				LastError:  act.LastError,
				BodyBytes:  len(act.Body),
			}
		}
		return printJSON(out)
	}

	if len(actions) == 0 {
		fmt.Println("No pending actions.")
		return nil
	}
	for i, act := range actions {
		fmt.Printf("%3d. %-6s %-7s %s  queued %s", i+1, act.Kind, act.Method, act.Endpoint, humanize.Time(act.CreatedAt))
		if act.RetryCount > 0 {
			fmt.Printf("  retries %d: %s", act.RetryCount, act.LastError)
		}
		fmt.Println()
	}
	return nil
}

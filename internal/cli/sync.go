package cli

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/runnerr0/tidepool/internal/app"
	"github.com/runnerr0/tidepool/internal/offline"
	"github.com/runnerr0/tidepool/internal/telemetry"
)

type syncJSON struct {
	Online         bool     `json:"online"`
	ActionsSynced  int      `json:"actions_synced"`
	ActionsFailed  int      `json:"actions_failed"`
	ActionsDropped int      `json:"actions_dropped"`
	BatchesSynced  int      `json:"batches_synced"`
	BatchesPending int      `json:"batches_pending"`
	Dropped        []string `json:"dropped,omitempty"`
}

// Execute implements the go-flags Commander interface for SyncCommand.
func (c *SyncCommand) Execute(args []string) error {
	return withApp(c.globals, storeOnly, c.executeWithApp)
}

func (c *SyncCommand) executeWithApp(ctx context.Context, a *app.App) error {
	if !c.SkipProbe {
		pctx, cancel := context.WithTimeout(ctx, probeTimeout)
		err := a.Client.Ping(pctx)
		cancel()
		if err != nil {
			a.Log.Debug().Err(err).Msg("backend unreachable")
		}
		a.Monitor.SetOnline(err == nil)
	}

	res, err := syncOnce(ctx, a)
	out := syncJSON{
		Online:         a.Monitor.Online(),
		ActionsSynced:  res.actions.Synced,
		ActionsFailed:  res.actions.Failed,
		ActionsDropped: res.actions.Dropped,
		BatchesSynced:  res.batches.Synced,
		BatchesPending: res.batches.Pending,
	}
	for _, d := range res.dropped {
		out.Dropped = append(out.Dropped, d.Error())
	}

	if c.globals != nil && c.globals.JSON {
		if perr := printJSON(out); perr != nil {
			return perr
		}
		return err
	}

	if !out.Online {
		fmt.Println("Backend unreachable; nothing sent.")
		return err
	}
	fmt.Printf("Actions:  %d synced, %d failed, %d dropped\n", out.ActionsSynced, out.ActionsFailed, out.ActionsDropped)
	fmt.Printf("Batches:  %d synced, %d pending\n", out.BatchesSynced, out.BatchesPending)
	for _, d := range out.Dropped {
		fmt.Printf("  dropped: %s\n", d)
	}
	return err
}

type syncOutcome struct {
	actions offline.SyncResult
	batches telemetry.ReconcileResult
	dropped []*offline.ReplayError
}

// syncOnce replays queued actions, pushes content shadows and resubmits
// stored analytics batches. Actions dropped at the retry ceiling are
// collected from the coordinator's error callback and do not fail the pass.
func syncOnce(ctx context.Context, a *app.App) (syncOutcome, error) {
	var (
		mu  sync.Mutex
		out syncOutcome
	)
	unsubscribe := a.Offline.OnError(func(err error) {
		var re *offline.ReplayError
		if errors.As(err, &re) {
			mu.Lock()
			out.dropped = append(out.dropped, re)
			mu.Unlock()
		}
	})
	defer unsubscribe()

	start := time.Now()
	actions, aerr := a.Offline.SyncAll(ctx)
	batches, berr := a.Telemetry.Reconcile(ctx)

	a.Log.Info().
		Int("actions_synced", actions.Synced).
		Int("actions_dropped", actions.Dropped).
		Int("batches_synced", batches.Synced).
		Dur("took", time.Since(start)).
		Msg("sync pass finished")

	mu.Lock()
	defer mu.Unlock()
	out.actions, out.batches = actions, batches
	return out, errors.Join(aerr, berr)
}

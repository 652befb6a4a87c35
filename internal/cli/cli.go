package cli

import (
	"fmt"
	"os"

	goflags "github.com/jessevdk/go-flags"
)

// commands holds references to all subcommand structs for inspection/testing.
type commands struct {
	Status  *StatusCommand
	Cache   *CacheCommand
	Track   *TrackCommand
	Enqueue *EnqueueCommand
	Pending *PendingCommand
	Sync    *SyncCommand
	Watch   *WatchCommand
	Prune   *PruneCommand
	Purge   *PurgeCommand
}

// buildParser constructs the go-flags parser with all subcommands registered.
func buildParser(version string) (*goflags.Parser, *GlobalFlags, *commands) {
	var globals GlobalFlags

	parser := goflags.NewParser(&globals, goflags.Default)
	parser.Name = "tidepool"
	parser.LongDescription = "Offline-first client data layer: local cache, analytics collection, and queued sync against a backend."

	cmds := &commands{
		Status: &StatusCommand{globals: &globals, version: version},
		Cache: &CacheCommand{
			Set:    CacheSetCommand{globals: &globals},
			Get:    CacheGetCommand{globals: &globals},
			Delete: CacheDeleteCommand{globals: &globals},
			Keys:   CacheKeysCommand{globals: &globals},
			Stats:  CacheStatsCommand{globals: &globals},
		},
		Track:   &TrackCommand{globals: &globals},
		Enqueue: &EnqueueCommand{globals: &globals},
		Pending: &PendingCommand{globals: &globals},
		Sync:    &SyncCommand{globals: &globals},
		Watch:   &WatchCommand{globals: &globals},
		Prune:   &PruneCommand{globals: &globals},
		Purge:   &PurgeCommand{globals: &globals},
	}

	parser.AddCommand("status", "Show local store health and statistics", "Show pending work, stored data, backend reachability, and a configuration summary.", cmds.Status)

	parser.AddCommand("cache", "Inspect and edit the persistent cache", "Read and write entries in the on-disk cache.", cmds.Cache)

	parser.AddCommand("track", "Record an analytics event", "Record an analytics event and flush it, falling back to the offline store when the backend is unreachable.", cmds.Track)
	parser.AddCommand("enqueue", "Queue a request for later replay", "Queue a mutating request in the offline action queue without touching the network.", cmds.Enqueue)
	parser.AddCommand("pending", "List queued actions", "List queued actions in replay order.", cmds.Pending)
	parser.AddCommand("sync", "Replay queued work", "Replay queued actions, push unsynced content, and resubmit stored analytics batches.", cmds.Sync)
	parser.AddCommand("watch", "Sync whenever the backend comes back", "Probe the backend periodically and sync queued work on every reconnect until interrupted.", cmds.Watch)
	parser.AddCommand("prune", "Remove old queued data", "Remove queued actions, stored batches and cache rows older than a cutoff.", cmds.Prune)
	parser.AddCommand("purge", "Delete ALL tidepool data", "Delete ALL tidepool data. Destructive operation with safety prompt.", cmds.Purge)

	return parser, &globals, cmds
}

// Run is the main entry point for the tidepool CLI using os.Args.
func Run(version string) error {
	return RunWithArgs(version, nil)
}

// RunWithArgs parses the given args (or os.Args if nil) and executes the matched subcommand.
func RunWithArgs(version string, args []string) error {
	// Handle --version before parser (go-flags requires a subcommand, but
	// --version is valid without one).
	checkArgs := args
	if checkArgs == nil {
		checkArgs = os.Args[1:]
	}
	for _, arg := range checkArgs {
		if arg == "--version" {
			fmt.Printf("tidepool %s\n", version)
			return nil
		}
		if arg == "--" {
			break
		}
	}

	parser, _, _ := buildParser(version)

	var err error
	if args != nil {
		_, err = parser.ParseArgs(args)
	} else {
		_, err = parser.Parse()
	}

	if err != nil {
		if flagsErr, ok := err.(*goflags.Error); ok {
			if flagsErr.Type == goflags.ErrHelp {
				return nil
			}
		}
		return err
	}

	return nil
}

package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/runnerr0/tidepool/internal/app"
	"github.com/runnerr0/tidepool/internal/config"
)

// shutdownTimeout bounds the final flush when a command exits.
const shutdownTimeout = 10 * time.Second

// loadConfig reads --config when given, otherwise the default location,
// creating it with defaults on first use.
func loadConfig(globals *GlobalFlags) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if globals != nil && globals.Config != "" {
		cfg, err = config.LoadOrCreateAt(globals.Config)
	} else {
		cfg, err = config.LoadOrCreate()
	}
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if globals != nil && globals.Verbose {
		cfg.Logging.Level = "debug"
	}
	return cfg, nil
}

// withApp loads config, lets tune adjust it for the command, builds the
// runtime and hands it to fn. The runtime is closed afterwards even when fn
// fails; interrupt cancels the context fn receives.
func withApp(globals *GlobalFlags, tune func(*config.Config), fn func(context.Context, *app.App) error) error {
	cfg, err := loadConfig(globals)
	if err != nil {
		return err
	}
	if tune != nil {
		tune(cfg)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg)
	if err != nil {
		return err
	}

	runErr := fn(ctx, a)

	closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return errors.Join(runErr, a.Close(closeCtx))
}

// storeOnly keeps the cache from hydrating or rewriting its table, for
// commands that only inspect or maintain the store.
func storeOnly(cfg *config.Config) {
	cfg.Cache.PersistToDisk = false
	cfg.Cache.EncryptionEnabled = false
}

// persistentCache forces disk persistence so cache edits outlive the
// process.
func persistentCache(cfg *config.Config) {
	cfg.Cache.PersistToDisk = true
}

// parseDuration parses a human-friendly duration string like "30d", "7d",
// "24h", "2w", "15m". Anything time.ParseDuration accepts also works.
func parseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, fmt.Errorf("invalid duration: empty string")
	}

	if len(s) < 2 {
		return 0, fmt.Errorf("invalid duration: %q", s)
	}

	suffix := s[len(s)-1]
	numStr := s[:len(s)-1]

	switch suffix {
	case 'd', 'w':
		n, err := strconv.Atoi(numStr)
		if err != nil {
			return 0, fmt.Errorf("invalid duration: %q", s)
		}
		if suffix == 'w' {
			return time.Duration(n) * 7 * 24 * time.Hour, nil
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}

	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration: %q (use s, m, h, d, or w suffix)", s)
	}
	return d, nil
}

// formatDurationHuman formats a duration into a human-readable string like "30 days".
func formatDurationHuman(d time.Duration) string {
	days := int(d.Hours() / 24)
	if days > 0 {
		if days == 1 {
			return "1 day"
		}
		return fmt.Sprintf("%d days", days)
	}
	hours := int(d.Hours())
	if hours > 0 {
		if hours == 1 {
			return "1 hour"
		}
		return fmt.Sprintf("%d hours", hours)
	}
	return d.String()
}

// parseValue decodes s as JSON when it is valid JSON and returns it as a
// plain string otherwise.
func parseValue(s string) any {
	var v any
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()
	if err := dec.Decode(&v); err == nil && !dec.More() {
		return v
	}
	return s
}

// parseProps turns repeated key=value flags into a property map.
func parseProps(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	props := make(map[string]any, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid property %q (want key=value)", p)
		}
		props[k] = parseValue(v)
	}
	return props, nil
}

// parseHeaders turns repeated "Name: value" flags into a header map.
func parseHeaders(lines []string) (map[string]string, error) {
	if len(lines) == 0 {
		return nil, nil
	}
	headers := make(map[string]string, len(lines))
	for _, l := range lines {
		k, v, ok := strings.Cut(l, ":")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid header %q (want 'Name: value')", l)
		}
		headers[k] = strings.TrimSpace(v)
	}
	return headers, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// EnvPrefix is prepended to every environment override, e.g.
// TIDEPOOL_CACHE_MAX_ENTRIES.
const EnvPrefix = "TIDEPOOL_"

// ApplyEnv overlays TIDEPOOL_* environment variables onto cfg. Unset
// variables leave the existing values untouched.
func ApplyEnv(cfg *Config) error {
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

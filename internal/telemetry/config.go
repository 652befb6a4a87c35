package telemetry

import (
	"strings"
	"time"

	"github.com/runnerr0/tidepool/internal/config"
)

// Config holds the collector settings.
type Config struct {
	Enabled             bool
	Endpoint            string
	BulkEndpoint        string
	BatchSize           int
	FlushInterval       time.Duration
	MaxRetries          int
	RetryBaseDelay      time.Duration
	SessionTimeout      time.Duration
	IdleTimeout         time.Duration
	SamplingRate        float64
	MaxOfflineBatches   int
	EnablePerformance   bool
	EnableErrorTracking bool
	RedactedProperties  []string
}

func ms(v int64) time.Duration { return time.Duration(v) * time.Millisecond }

// FromConfig converts the file configuration into a collector Config.
func FromConfig(c config.TelemetryConfig) Config {
	return Config{
		Enabled:             c.Enabled,
		Endpoint:            c.Endpoint,
		BulkEndpoint:        c.BulkEndpoint,
		BatchSize:           c.BatchSize,
		FlushInterval:       ms(c.FlushIntervalMs),
		MaxRetries:          c.MaxRetries,
		RetryBaseDelay:      ms(c.RetryBaseDelayMs),
		SessionTimeout:      ms(c.SessionTimeoutMs),
		IdleTimeout:         ms(c.IdleTimeoutMs),
		SamplingRate:        c.SamplingRate,
		MaxOfflineBatches:   c.MaxOfflineBatches,
		EnablePerformance:   c.EnablePerformance,
		EnableErrorTracking: c.EnableErrorTracking,
		RedactedProperties:  c.RedactedProperties,
	}
}

// normalized fills unset fields from the file defaults.
func (c Config) normalized() Config {
	d := FromConfig(config.DefaultConfig().Telemetry)
	if c.Endpoint == "" {
		c.Endpoint = d.Endpoint
	}
	if c.BulkEndpoint == "" {
		c.BulkEndpoint = d.BulkEndpoint
	}
	if c.BatchSize <= 0 {
		c.BatchSize = d.BatchSize
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.RetryBaseDelay <= 0 {
		c.RetryBaseDelay = d.RetryBaseDelay
	}
	if c.SessionTimeout <= 0 {
		c.SessionTimeout = d.SessionTimeout
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = d.IdleTimeout
	}
	if c.SamplingRate < 0 {
		c.SamplingRate = 0
	}
	if c.SamplingRate > 1 {
		c.SamplingRate = 1
	}
	if c.MaxOfflineBatches <= 0 {
		c.MaxOfflineBatches = d.MaxOfflineBatches
	}
	return c
}

func redactionSet(keys []string) map[string]struct{} {
	set := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		set[strings.ToLower(k)] = struct{}{}
	}
	return set
}

const redactedValue = "[REDACTED]"

// redact copies props, replacing sensitive keys at any depth.
func redact(props map[string]any, keys map[string]struct{}) map[string]any {
	if props == nil {
		return nil
	}
	out := make(map[string]any, len(props))
	for k, v := range props {
		if _, ok := keys[strings.ToLower(k)]; ok {
			out[k] = redactedValue
			continue
		}
		if nested, ok := v.(map[string]any); ok {
			out[k] = redact(nested, keys)
			continue
		}
		out[k] = v
	}
	return out
}

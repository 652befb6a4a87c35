package config

// DefaultConfig returns a Config populated with all default values.
func DefaultConfig() *Config {
	return &Config{
		Cache: CacheConfig{
			MaxSize:              50 * 1024 * 1024,
			MaxEntries:           1000,
			DefaultTTLMs:         60 * 60 * 1000,
			CleanupIntervalMs:    60 * 1000,
			CompressionEnabled:   false,
			CompressionThreshold: 1024,
			EncryptionEnabled:    false,
			PersistToDisk:        false,
			Passphrase:           "",
		},
		Telemetry: TelemetryConfig{
			Enabled:             true,
			Endpoint:            "/analytics/events",
			BulkEndpoint:        "/analytics/batch",
			BatchSize:           50,
			FlushIntervalMs:     30 * 1000,
			MaxRetries:          3,
			RetryBaseDelayMs:    1000,
			SessionTimeoutMs:    30 * 60 * 1000,
			IdleTimeoutMs:       5 * 60 * 1000,
			SamplingRate:        1.0,
			MaxOfflineBatches:   100,
			EnablePerformance:   true,
			EnableErrorTracking: true,
			RedactedProperties:  DefaultRedactedProperties(),
		},
		Offline: OfflineConfig{
			MaxRetries:          3,
			ContentSyncEndpoint: "/content/sync",
		},
		Transport: TransportConfig{
			BaseURL:         "http://localhost:8080",
			TimeoutMs:       10 * 1000,
			Token:           "",
			ProbeIntervalMs: 0,
			HealthPath:      "/health",
		},
		Storage: StorageConfig{
			Path:       "~/.config/tidepool",
			SQLiteFile: "tidepool.db",
			Driver:     "sqlite3",
		},
		Logging: LoggingConfig{
			Level:  "info",
			File:   "",
			Format: "console",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			Endpoint:    "",
			ServiceName: "tidepool",
		},
	}
}

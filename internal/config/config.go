package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Default config file path.
const DefaultConfigPath = "~/.config/tidepool/config.yaml"

// Config holds all tidepool configuration.
type Config struct {
	Cache     CacheConfig     `yaml:"cache" toml:"cache" envPrefix:"CACHE_"`
	Telemetry TelemetryConfig `yaml:"telemetry" toml:"telemetry" envPrefix:"TELEMETRY_"`
	Offline   OfflineConfig   `yaml:"offline" toml:"offline" envPrefix:"OFFLINE_"`
	Transport TransportConfig `yaml:"transport" toml:"transport" envPrefix:"TRANSPORT_"`
	Storage   StorageConfig   `yaml:"storage" toml:"storage" envPrefix:"STORAGE_"`
	Logging   LoggingConfig   `yaml:"logging" toml:"logging" envPrefix:"LOGGING_"`
	Tracing   TracingConfig   `yaml:"tracing" toml:"tracing" envPrefix:"TRACING_"`
}

type CacheConfig struct {
	MaxSize              int64  `yaml:"max_size" toml:"max_size" env:"MAX_SIZE"`
	MaxEntries           int    `yaml:"max_entries" toml:"max_entries" env:"MAX_ENTRIES"`
	DefaultTTLMs         int64  `yaml:"default_ttl_ms" toml:"default_ttl_ms" env:"DEFAULT_TTL_MS"`
	CleanupIntervalMs    int64  `yaml:"cleanup_interval_ms" toml:"cleanup_interval_ms" env:"CLEANUP_INTERVAL_MS"`
	CompressionEnabled   bool   `yaml:"compression_enabled" toml:"compression_enabled" env:"COMPRESSION_ENABLED"`
	CompressionThreshold int    `yaml:"compression_threshold" toml:"compression_threshold" env:"COMPRESSION_THRESHOLD"`
	EncryptionEnabled    bool   `yaml:"encryption_enabled" toml:"encryption_enabled" env:"ENCRYPTION_ENABLED"`
	PersistToDisk        bool   `yaml:"persist_to_disk" toml:"persist_to_disk" env:"PERSIST_TO_DISK"`
	Passphrase           string `yaml:"passphrase" toml:"passphrase" env:"PASSPHRASE"`
}

type TelemetryConfig struct {
	Enabled             bool     `yaml:"enabled" toml:"enabled" env:"ENABLED"`
	Endpoint            string   `yaml:"endpoint" toml:"endpoint" env:"ENDPOINT"`
	BulkEndpoint        string   `yaml:"bulk_endpoint" toml:"bulk_endpoint" env:"BULK_ENDPOINT"`
	BatchSize           int      `yaml:"batch_size" toml:"batch_size" env:"BATCH_SIZE"`
	FlushIntervalMs     int64    `yaml:"flush_interval_ms" toml:"flush_interval_ms" env:"FLUSH_INTERVAL_MS"`
	MaxRetries          int      `yaml:"max_retries" toml:"max_retries" env:"MAX_RETRIES"`
	RetryBaseDelayMs    int64    `yaml:"retry_base_delay_ms" toml:"retry_base_delay_ms" env:"RETRY_BASE_DELAY_MS"`
	SessionTimeoutMs    int64    `yaml:"session_timeout_ms" toml:"session_timeout_ms" env:"SESSION_TIMEOUT_MS"`
	IdleTimeoutMs       int64    `yaml:"idle_timeout_ms" toml:"idle_timeout_ms" env:"IDLE_TIMEOUT_MS"`
	SamplingRate        float64  `yaml:"sampling_rate" toml:"sampling_rate" env:"SAMPLING_RATE"`
	MaxOfflineBatches   int      `yaml:"max_offline_batches" toml:"max_offline_batches" env:"MAX_OFFLINE_BATCHES"`
	EnablePerformance   bool     `yaml:"enable_performance" toml:"enable_performance" env:"ENABLE_PERFORMANCE"`
	EnableErrorTracking bool     `yaml:"enable_error_tracking" toml:"enable_error_tracking" env:"ENABLE_ERROR_TRACKING"`
	RedactedProperties  []string `yaml:"redacted_properties" toml:"redacted_properties" env:"REDACTED_PROPERTIES"`
}

type OfflineConfig struct {
	MaxRetries          int    `yaml:"max_retries" toml:"max_retries" env:"MAX_RETRIES"`
	ContentSyncEndpoint string `yaml:"content_sync_endpoint" toml:"content_sync_endpoint" env:"CONTENT_SYNC_ENDPOINT"`
}

type TransportConfig struct {
	BaseURL         string `yaml:"base_url" toml:"base_url" env:"BASE_URL"`
	TimeoutMs       int64  `yaml:"timeout_ms" toml:"timeout_ms" env:"TIMEOUT_MS"`
	Token           string `yaml:"token" toml:"token" env:"TOKEN"`
	ProbeIntervalMs int64  `yaml:"probe_interval_ms" toml:"probe_interval_ms" env:"PROBE_INTERVAL_MS"`
	HealthPath      string `yaml:"health_path" toml:"health_path" env:"HEALTH_PATH"`
}

type StorageConfig struct {
	Path       string `yaml:"path" toml:"path" env:"PATH"`
	SQLiteFile string `yaml:"sqlite_file" toml:"sqlite_file" env:"SQLITE_FILE"`
	Driver     string `yaml:"driver" toml:"driver" env:"DRIVER"`
}

type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level" env:"LEVEL"`
	File   string `yaml:"file" toml:"file" env:"FILE"`
	Format string `yaml:"format" toml:"format" env:"FORMAT"`
}

type TracingConfig struct {
	Enabled     bool   `yaml:"enabled" toml:"enabled" env:"ENABLED"`
	Endpoint    string `yaml:"endpoint" toml:"endpoint" env:"ENDPOINT"`
	ServiceName string `yaml:"service_name" toml:"service_name" env:"SERVICE_NAME"`
}

// DBPath returns the expanded path of the SQLite database file.
func (s StorageConfig) DBPath() (string, error) {
	dir, err := expandPath(s.Path)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, s.SQLiteFile), nil
}

// Load reads a YAML (or TOML, by extension) config file at path, merges it
// with defaults, and applies TIDEPOOL_* environment overrides.
// Returns an error if the file cannot be read or contains invalid syntax.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := ApplyEnv(cfg); err != nil {
		return nil, err
	}

	// Sampling rate is a probability.
	if cfg.Telemetry.SamplingRate < 0 {
		cfg.Telemetry.SamplingRate = 0
	}
	if cfg.Telemetry.SamplingRate > 1 {
		cfg.Telemetry.SamplingRate = 1
	}

	return cfg, nil
}

// expandPath replaces a leading ~ with the user's home directory.
func expandPath(path string) (string, error) {
	if len(path) > 0 && path[0] == '~' {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolving home directory: %w", err)
		}
		return filepath.Join(home, path[1:]), nil
	}
	return path, nil
}

// LoadOrCreate loads the config from the default path. If the file does
// not exist, it creates the directory structure and writes defaults.
func LoadOrCreate() (*Config, error) {
	path, err := expandPath(DefaultConfigPath)
	if err != nil {
		return nil, err
	}
	return LoadOrCreateAt(path)
}

// LoadOrCreateAt loads the config from the given path. If the file does
// not exist, it creates the directory structure and writes defaults.
func LoadOrCreateAt(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := DefaultConfig()

		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating config directory: %w", err)
		}

		data, err := yaml.Marshal(cfg)
		if err != nil {
			return nil, fmt.Errorf("marshaling default config: %w", err)
		}

		if err := os.WriteFile(path, data, 0644); err != nil {
			return nil, fmt.Errorf("writing default config: %w", err)
		}

		if err := ApplyEnv(cfg); err != nil {
			return nil, err
		}
		return cfg, nil
	}

	return Load(path)
}

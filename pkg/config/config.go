package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/spf13/viper"
)

const (
	// EnvPrefix is the environment variable prefix read by Load
	EnvPrefix = "ORDSTREAM_"

	CurrentConfigVersion = 1
)

var (
	ErrInvalidConfig = errors.New("invalid configuration")
)

// Backend names a storage implementation
type Backend string

const (
	BackendMemory Backend = "memory"
	BackendSQLite Backend = "sqlite"
)

type Config struct {
	Version int `json:"version" mapstructure:"version"`

	// Storage configuration
	Backend    Backend `json:"backend" mapstructure:"backend"`
	SQLitePath string  `json:"sqlite_path" mapstructure:"sqlite_path"`

	// Stream configuration
	ScanChunkSize              int `json:"scan_chunk_size" mapstructure:"scan_chunk_size"`
	DefaultPageSize            int `json:"default_page_size" mapstructure:"default_page_size"`
	DefaultMaximumRowsRead     int `json:"default_maximum_rows_read" mapstructure:"default_maximum_rows_read"` // 0 disables the read budget
	CursorCompressionThreshold int `json:"cursor_compression_threshold" mapstructure:"cursor_compression_threshold"`

	// Logging configuration
	LogLevel string `json:"log_level" mapstructure:"log_level"`
	LogJSON  bool   `json:"log_json" mapstructure:"log_json"`

	mu sync.RWMutex
}

// NewDefaultConfig creates a Config with recommended default values
func NewDefaultConfig() *Config {
	return &Config{
		Version: CurrentConfigVersion,

		// Storage defaults
		Backend:    BackendMemory,
		SQLitePath: "ordstream.db",

		// Stream defaults
		ScanChunkSize:              128,
		DefaultPageSize:            100,
		DefaultMaximumRowsRead:     0,
		CursorCompressionThreshold: 256, // bytes of encoded position

		LogLevel: "info",
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.Version <= 0 {
		return fmt.Errorf("%w: invalid version %d", ErrInvalidConfig, c.Version)
	}

	switch c.Backend {
	case BackendMemory:
	case BackendSQLite:
		if c.SQLitePath == "" {
			return fmt.Errorf("%w: sqlite path not specified", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown backend %q", ErrInvalidConfig, c.Backend)
	}

	if c.ScanChunkSize <= 0 {
		return fmt.Errorf("%w: scan chunk size must be positive", ErrInvalidConfig)
	}

	if c.DefaultPageSize <= 0 {
		return fmt.Errorf("%w: default page size must be positive", ErrInvalidConfig)
	}

	if c.DefaultMaximumRowsRead < 0 {
		return fmt.Errorf("%w: default maximum rows read cannot be negative", ErrInvalidConfig)
	}

	if c.CursorCompressionThreshold < 0 {
		return fmt.Errorf("%w: cursor compression threshold cannot be negative", ErrInvalidConfig)
	}

	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "warning", "error", "fatal", "":
	default:
		return fmt.Errorf("%w: unknown log level %q", ErrInvalidConfig, c.LogLevel)
	}

	return nil
}

// Load builds a Config from defaults, an optional config file and ORDSTREAM_*
// environment variables, in increasing priority. An empty path skips the file.
func Load(path string) (*Config, error) {
	return LoadWithPrefix(path, EnvPrefix)
}

// LoadWithPrefix is Load with a custom environment prefix
func LoadWithPrefix(path, prefix string) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// ORDSTREAM_SCAN_CHUNK_SIZE -> scan_chunk_size
	prefixUpper := strings.ToUpper(prefix)
	for _, envStr := range os.Environ() {
		key, value, ok := strings.Cut(envStr, "=")
		if !ok || !strings.HasPrefix(key, prefixUpper) {
			continue
		}
		propKey := strings.ToLower(strings.TrimPrefix(key, prefixUpper))
		propKey = strings.TrimPrefix(propKey, "_")
		v.Set(propKey, value)
	}

	cfg := NewDefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Update applies the given function to modify the configuration
func (c *Config) Update(fn func(*Config)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn(c)
}

// Snapshot returns a copy of the configuration safe to read without locking
func (c *Config) Snapshot() Config {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Config{
		Version:                    c.Version,
		Backend:                    c.Backend,
		SQLitePath:                 c.SQLitePath,
		ScanChunkSize:              c.ScanChunkSize,
		DefaultPageSize:            c.DefaultPageSize,
		DefaultMaximumRowsRead:     c.DefaultMaximumRowsRead,
		CursorCompressionThreshold: c.CursorCompressionThreshold,
		LogLevel:                   c.LogLevel,
		LogJSON:                    c.LogJSON,
	}
}

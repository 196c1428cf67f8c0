// ABOUTME: Telemetry settings for the OpenTelemetry provider: service identity, exporters, sampling and batching
// ABOUTME: Loaded from ORDSTREAM_TELEMETRY_* environment variables through viper; telemetry stays off unless enabled

package telemetry

import (
	"fmt"
	"io"
	"slices"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every telemetry environment variable
const EnvPrefix = "ORDSTREAM_TELEMETRY"

// Exporter names accepted in Config.Exporters
const (
	ExporterPrometheus = "prometheus"
	ExporterOTLP       = "otlp"
	ExporterStdout     = "stdout"
)

var knownExporters = []string{ExporterPrometheus, ExporterOTLP, ExporterStdout}

// Config selects where stream and store metrics and paginate spans go.
type Config struct {
	ServiceName    string `mapstructure:"service_name"`
	ServiceVersion string `mapstructure:"service_version"`

	// Enabled switches from the no-op implementation to a real provider
	Enabled bool `mapstructure:"enabled"`

	// Exporters lists prometheus, otlp and/or stdout. OTLP carries traces only.
	Exporters []string `mapstructure:"exporters"`

	SampleRate     float64 `mapstructure:"sample_rate"`
	PrometheusPort int     `mapstructure:"prometheus_port"`
	OTLPEndpoint   string  `mapstructure:"otlp_endpoint"`

	// Batching of span exports and the push interval of periodic metric readers
	ExportTimeout      time.Duration `mapstructure:"export_timeout"`
	BatchTimeout       time.Duration `mapstructure:"batch_timeout"`
	MaxQueueSize       int           `mapstructure:"max_queue_size"`
	MaxExportBatchSize int           `mapstructure:"max_export_batch_size"`

	// Writer receives stdout exporter output; nil means os.Stdout
	Writer io.Writer `mapstructure:"-"`
}

// DefaultConfig returns disabled telemetry with stdout exporters ready once enabled.
func DefaultConfig() Config {
	return Config{
		ServiceName:        "ordstream",
		ServiceVersion:     "development",
		Exporters:          []string{ExporterStdout},
		SampleRate:         1.0,
		PrometheusPort:     9090,
		OTLPEndpoint:       "http://localhost:4317",
		ExportTimeout:      30 * time.Second,
		BatchTimeout:       5 * time.Second,
		MaxQueueSize:       2048,
		MaxExportBatchSize: 512,
	}
}

// LoadFromEnv overrides c with any ORDSTREAM_TELEMETRY_* variables that are
// set, e.g. ORDSTREAM_TELEMETRY_SAMPLE_RATE for SampleRate. Unset variables
// leave the current value alone; malformed ones are an error.
func (c *Config) LoadFromEnv() error {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	for _, key := range []string{
		"service_name", "service_version", "enabled", "exporters", "sample_rate",
		"prometheus_port", "otlp_endpoint", "export_timeout", "batch_timeout",
		"max_queue_size", "max_export_batch_size",
	} {
		if err := v.BindEnv(key); err != nil {
			return err
		}
	}

	if err := v.Unmarshal(c); err != nil {
		return fmt.Errorf("failed to load telemetry config from environment: %w", err)
	}

	for i := range c.Exporters {
		c.Exporters[i] = strings.TrimSpace(c.Exporters[i])
	}
	return nil
}

// Validate checks the configuration for invalid values and returns an error if found.
func (c *Config) Validate() error {
	switch {
	case c.ServiceName == "":
		return fmt.Errorf("service_name cannot be empty")
	case c.ServiceVersion == "":
		return fmt.Errorf("service_version cannot be empty")
	case c.SampleRate < 0.0 || c.SampleRate > 1.0:
		return fmt.Errorf("sample_rate must be between 0.0 and 1.0, got %f", c.SampleRate)
	case c.PrometheusPort < 1 || c.PrometheusPort > 65535:
		return fmt.Errorf("prometheus_port must be between 1 and 65535, got %d", c.PrometheusPort)
	case c.ExportTimeout <= 0:
		return fmt.Errorf("export_timeout must be positive, got %s", c.ExportTimeout)
	case c.BatchTimeout <= 0:
		return fmt.Errorf("batch_timeout must be positive, got %s", c.BatchTimeout)
	case c.MaxQueueSize <= 0:
		return fmt.Errorf("max_queue_size must be positive, got %d", c.MaxQueueSize)
	case c.MaxExportBatchSize <= 0:
		return fmt.Errorf("max_export_batch_size must be positive, got %d", c.MaxExportBatchSize)
	}

	for _, exporter := range c.Exporters {
		if !slices.Contains(knownExporters, exporter) {
			return fmt.Errorf("invalid exporter: %s, valid options are: %s", exporter, strings.Join(knownExporters, ", "))
		}
	}
	return nil
}

// HasExporter reports whether name is configured.
func (c *Config) HasExporter(name string) bool {
	return slices.Contains(c.Exporters, name)
}

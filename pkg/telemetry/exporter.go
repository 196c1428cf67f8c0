// ABOUTME: OpenTelemetry exporter factory for creating metric readers and trace exporters (Prometheus, OTLP, stdout)
// ABOUTME: Handles configuration and creation of various telemetry export destinations

package telemetry

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/trace"
)

// createMetricReaders creates metric readers based on configuration.
// Prometheus is pull based and is itself a reader; push exporters are wrapped in a periodic reader.
func createMetricReaders(cfg Config, registry *prometheus.Registry) ([]metric.Reader, error) {
	var readers []metric.Reader

	for _, exporterName := range cfg.Exporters {
		switch exporterName {
		case "prometheus":
			reader, err := createPrometheusReader(registry)
			if err != nil {
				return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
			}
			readers = append(readers, reader)

		case "stdout":
			exporter, err := createStdoutMetricExporter(cfg)
			if err != nil {
				return nil, fmt.Errorf("failed to create stdout metric exporter: %w", err)
			}
			readers = append(readers, periodicReader(cfg, exporter))

		default:
			// otlp carries traces only in this setup
			continue
		}
	}

	if len(readers) == 0 {
		// Default to stdout if no valid metric exporters configured
		exporter, err := createStdoutMetricExporter(cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create default stdout metric exporter: %w", err)
		}
		readers = append(readers, periodicReader(cfg, exporter))
	}

	return readers, nil
}

// createTraceExporters creates trace exporters based on configuration.
func createTraceExporters(cfg Config) ([]trace.SpanExporter, error) {
	var exporters []trace.SpanExporter

	for _, exporterName := range cfg.Exporters {
		switch exporterName {
		case "otlp":
			exporter, err := createOTLPTraceExporter(cfg)
			if err != nil {
				return nil, fmt.Errorf("failed to create OTLP trace exporter: %w", err)
			}
			exporters = append(exporters, exporter)

		case "stdout":
			exporter, err := createStdoutTraceExporter(cfg)
			if err != nil {
				return nil, fmt.Errorf("failed to create stdout trace exporter: %w", err)
			}
			exporters = append(exporters, exporter)

		default:
			// Skip unsupported trace exporters (prometheus doesn't support traces)
			continue
		}
	}

	// Without otlp or stdout, spans are sampled but not exported
	return exporters, nil
}

func periodicReader(cfg Config, exporter metric.Exporter) metric.Reader {
	return metric.NewPeriodicReader(exporter,
		metric.WithInterval(cfg.BatchTimeout),
		metric.WithTimeout(cfg.ExportTimeout),
	)
}

// createPrometheusReader registers an OpenTelemetry collector on registry.
func createPrometheusReader(registry *prometheus.Registry) (metric.Reader, error) {
	return otelprom.New(otelprom.WithRegisterer(registry))
}

// createStdoutMetricExporter creates a stdout metrics exporter.
func createStdoutMetricExporter(cfg Config) (metric.Exporter, error) {
	return stdoutmetric.New(
		stdoutmetric.WithWriter(cfg.writer()),
		stdoutmetric.WithPrettyPrint(),
	)
}

// createOTLPTraceExporter creates an OTLP trace exporter. The gRPC connection is established lazily.
func createOTLPTraceExporter(cfg Config) (trace.SpanExporter, error) {
	ctx := context.Background()
	return otlptracegrpc.New(
		ctx,
		otlptracegrpc.WithEndpoint(otlpHostPort(cfg.OTLPEndpoint)),
		otlptracegrpc.WithInsecure(), // Use insecure connection for development
		otlptracegrpc.WithTimeout(cfg.ExportTimeout),
	)
}

// createStdoutTraceExporter creates a stdout trace exporter.
func createStdoutTraceExporter(cfg Config) (trace.SpanExporter, error) {
	return stdouttrace.New(
		stdouttrace.WithWriter(cfg.writer()),
		stdouttrace.WithPrettyPrint(),
	)
}

// otlpHostPort strips the scheme from an endpoint URL, since the gRPC exporter wants host:port.
func otlpHostPort(endpoint string) string {
	for _, scheme := range []string{"http://", "https://"} {
		endpoint = strings.TrimPrefix(endpoint, scheme)
	}
	return strings.TrimSuffix(endpoint, "/")
}

func (c Config) writer() io.Writer {
	if c.Writer != nil {
		return c.Writer
	}
	return os.Stdout
}

// ABOUTME: Store telemetry metrics interface and implementation for tracking table store operations
// ABOUTME: Provides instrumentation for document writes, gets and index scans per storage backend

package instrumented

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/KevoDB/ordstream/pkg/telemetry"
)

// StoreMetrics defines the interface for store telemetry operations.
type StoreMetrics interface {
	telemetry.ComponentMetrics

	// RecordOperation records one store call and its outcome.
	RecordOperation(ctx context.Context, op string, duration time.Duration, err error)

	// RecordScan records the rows one scan call returned.
	RecordScan(ctx context.Context, index string, rows int, done bool)
}

// storeMetrics implements StoreMetrics using the telemetry interface.
type storeMetrics struct {
	tel     telemetry.Telemetry
	backend string
}

// NewStoreMetrics creates a new store metrics implementation.
// If tel is nil, returns a no-op implementation.
func NewStoreMetrics(tel telemetry.Telemetry, backend string) StoreMetrics {
	if tel == nil {
		return &noopStoreMetrics{}
	}
	return &storeMetrics{tel: tel, backend: backend}
}

// NewNoopStoreMetrics creates a no-op store metrics implementation for testing.
func NewNoopStoreMetrics() StoreMetrics {
	return &noopStoreMetrics{}
}

// RecordOperation records store operation metrics.
func (m *storeMetrics) RecordOperation(ctx context.Context, op string, duration time.Duration, err error) {
	status := telemetry.StatusSuccess
	if err != nil {
		status = telemetry.StatusError
	}

	m.tel.RecordHistogram(ctx, "ordstream.store.operation.duration", duration.Seconds(),
		attribute.String(telemetry.AttrComponent, telemetry.ComponentStore),
		attribute.String(telemetry.AttrBackend, m.backend),
		attribute.String(telemetry.AttrOperationType, op),
	)

	m.tel.RecordCounter(ctx, "ordstream.store.operations.total", 1,
		attribute.String(telemetry.AttrComponent, telemetry.ComponentStore),
		attribute.String(telemetry.AttrBackend, m.backend),
		attribute.String(telemetry.AttrOperationType, op),
		attribute.String(telemetry.AttrStatus, status),
	)
}

// RecordScan records scan chunk metrics.
func (m *storeMetrics) RecordScan(ctx context.Context, index string, rows int, done bool) {
	telemetry.RecordRows(ctx, m.tel, "ordstream.store.scan.rows.total", int64(rows),
		attribute.String(telemetry.AttrComponent, telemetry.ComponentStore),
		attribute.String(telemetry.AttrBackend, m.backend),
		attribute.String(telemetry.AttrIndex, index),
		attribute.Bool("done", done),
	)
}

// Close releases any resources held by the metrics implementation.
func (m *storeMetrics) Close() error {
	return nil
}

// noopStoreMetrics provides a no-op implementation of StoreMetrics.
type noopStoreMetrics struct{}

func (n *noopStoreMetrics) RecordOperation(ctx context.Context, op string, duration time.Duration, err error) {}

func (n *noopStoreMetrics) RecordScan(ctx context.Context, index string, rows int, done bool) {}

func (n *noopStoreMetrics) Close() error { return nil }

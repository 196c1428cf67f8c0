// ABOUTME: Stream telemetry metrics interface and implementation for tracking paginated traversals
// ABOUTME: Provides instrumentation for pages, rows inspected versus returned, store fetches, merges and cursors

package stream

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/KevoDB/ordstream/pkg/telemetry"
)

// StreamMetrics defines the interface for stream telemetry operations.
// All metrics are optional - implementations can safely be no-op.
type StreamMetrics interface {
	telemetry.ComponentMetrics

	// RecordPage records a completed Paginate call.
	RecordPage(ctx context.Context, duration time.Duration, status PageStatus, rowsRead, rowsReturned int)

	// RecordPageError records a Paginate call that failed.
	RecordPageError(ctx context.Context, duration time.Duration, err error)

	// RecordFetch records one chunk fetched from the store.
	RecordFetch(ctx context.Context, duration time.Duration, rows int, err error)

	// RecordMerge records the fan-in of a merge traversal.
	RecordMerge(ctx context.Context, inputs int)

	// RecordInvalidCursor records a rejected cursor.
	RecordInvalidCursor(ctx context.Context, reason string)
}

// streamMetrics implements StreamMetrics using the telemetry interface.
type streamMetrics struct {
	tel telemetry.Telemetry
}

// NewStreamMetrics creates a new stream metrics implementation.
// If tel is nil, returns a no-op implementation.
func NewStreamMetrics(tel telemetry.Telemetry) StreamMetrics {
	if tel == nil {
		return &noopStreamMetrics{}
	}
	return &streamMetrics{tel: tel}
}

// NewNoopStreamMetrics creates a no-op stream metrics implementation for testing.
func NewNoopStreamMetrics() StreamMetrics {
	return &noopStreamMetrics{}
}

// RecordPage records page metrics.
func (m *streamMetrics) RecordPage(ctx context.Context, duration time.Duration, status PageStatus, rowsRead, rowsReturned int) {
	m.tel.RecordHistogram(ctx, "ordstream.stream.page.duration", duration.Seconds(),
		attribute.String(telemetry.AttrComponent, telemetry.ComponentStream),
		attribute.String(telemetry.AttrOperationType, telemetry.OpTypePaginate),
		attribute.String(telemetry.AttrPageStatus, status.String()),
		attribute.String(telemetry.AttrStatus, telemetry.StatusSuccess),
	)

	m.tel.RecordCounter(ctx, "ordstream.stream.pages.total", 1,
		attribute.String(telemetry.AttrComponent, telemetry.ComponentStream),
		attribute.String(telemetry.AttrPageStatus, status.String()),
		attribute.String(telemetry.AttrStatus, telemetry.StatusSuccess),
		attribute.String(telemetry.AttrErrorType, "none"),
	)

	// Inspected versus returned rows shows how selective filters are
	telemetry.RecordRows(ctx, m.tel, "ordstream.stream.rows_read.total", int64(rowsRead),
		attribute.String(telemetry.AttrComponent, telemetry.ComponentStream),
	)
	telemetry.RecordRows(ctx, m.tel, "ordstream.stream.rows_returned.total", int64(rowsReturned),
		attribute.String(telemetry.AttrComponent, telemetry.ComponentStream),
	)

	if status == PageStatusSplitRequired {
		m.tel.RecordCounter(ctx, "ordstream.stream.split.total", 1,
			attribute.String(telemetry.AttrComponent, telemetry.ComponentStream),
		)
	}
}

// pageStatusFailed labels pages that ended in an error
const pageStatusFailed = "failed"

// RecordPageError records a failed page.
func (m *streamMetrics) RecordPageError(ctx context.Context, duration time.Duration, err error) {
	m.tel.RecordHistogram(ctx, "ordstream.stream.page.duration", duration.Seconds(),
		attribute.String(telemetry.AttrComponent, telemetry.ComponentStream),
		attribute.String(telemetry.AttrOperationType, telemetry.OpTypePaginate),
		attribute.String(telemetry.AttrPageStatus, pageStatusFailed),
		attribute.String(telemetry.AttrStatus, telemetry.StatusError),
	)

	m.tel.RecordCounter(ctx, "ordstream.stream.pages.total", 1,
		attribute.String(telemetry.AttrComponent, telemetry.ComponentStream),
		attribute.String(telemetry.AttrPageStatus, pageStatusFailed),
		attribute.String(telemetry.AttrStatus, telemetry.StatusError),
		attribute.String(telemetry.AttrErrorType, errorType(err)),
	)
}

// RecordFetch records store fetch metrics.
func (m *streamMetrics) RecordFetch(ctx context.Context, duration time.Duration, rows int, err error) {
	status := telemetry.StatusSuccess
	if err != nil {
		status = telemetry.StatusError
	}

	m.tel.RecordHistogram(ctx, "ordstream.stream.fetch.duration", duration.Seconds(),
		attribute.String(telemetry.AttrComponent, telemetry.ComponentStream),
		attribute.String(telemetry.AttrOperationType, telemetry.OpTypeScan),
		attribute.String(telemetry.AttrStatus, status),
	)

	if err == nil {
		m.tel.RecordHistogram(ctx, "ordstream.stream.fetch.rows", float64(rows),
			attribute.String(telemetry.AttrComponent, telemetry.ComponentStream),
		)
	}
}

// RecordMerge records merge fan-in.
func (m *streamMetrics) RecordMerge(ctx context.Context, inputs int) {
	m.tel.RecordHistogram(ctx, "ordstream.stream.merge.inputs", float64(inputs),
		attribute.String(telemetry.AttrComponent, telemetry.ComponentStream),
	)
}

// RecordInvalidCursor records cursor rejections.
func (m *streamMetrics) RecordInvalidCursor(ctx context.Context, reason string) {
	m.tel.RecordCounter(ctx, "ordstream.cursor.invalid.total", 1,
		attribute.String(telemetry.AttrComponent, telemetry.ComponentCursor),
		attribute.String(telemetry.AttrReason, reason),
	)
}

// Close releases any resources held by the metrics implementation.
func (m *streamMetrics) Close() error {
	return nil
}

func errorType(err error) string {
	switch {
	case errors.Is(err, ErrInvalidCursor):
		return "invalid_cursor"
	case errors.Is(err, ErrInvalidPageSize):
		return "invalid_page_size"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "context"
	default:
		return "store"
	}
}

// noopStreamMetrics provides a no-op implementation of StreamMetrics.
type noopStreamMetrics struct{}

func (n *noopStreamMetrics) RecordPage(ctx context.Context, duration time.Duration, status PageStatus, rowsRead, rowsReturned int) {
}

func (n *noopStreamMetrics) RecordPageError(ctx context.Context, duration time.Duration, err error) {}

func (n *noopStreamMetrics) RecordFetch(ctx context.Context, duration time.Duration, rows int, err error) {}

func (n *noopStreamMetrics) RecordMerge(ctx context.Context, inputs int) {}

func (n *noopStreamMetrics) RecordInvalidCursor(ctx context.Context, reason string) {}

func (n *noopStreamMetrics) Close() error { return nil }

// ABOUTME: In-memory telemetry recorder for tests - keeps counter totals and histogram samples, no exporters
// ABOUTME: Lets tests of real components assert what was recorded without standing up an OpenTelemetry pipeline

package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Recorder is a Telemetry that keeps everything in memory. Attributes are ignored.
type Recorder struct {
	mu         sync.Mutex
	counters   map[string]int64
	histograms map[string][]float64
	spans      []string
}

// NewForTesting returns an in-memory recorder for use in tests.
func NewForTesting() *Recorder {
	return &Recorder{
		counters:   make(map[string]int64),
		histograms: make(map[string][]float64),
	}
}

// RecordHistogram stores the sample.
func (r *Recorder) RecordHistogram(ctx context.Context, name string, value float64, attrs ...attribute.KeyValue) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.histograms[name] = append(r.histograms[name], value)
}

// RecordCounter adds to the running total.
func (r *Recorder) RecordCounter(ctx context.Context, name string, value int64, attrs ...attribute.KeyValue) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counters[name] += value
}

// StartSpan records the span name and returns a no-op span.
func (r *Recorder) StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	r.mu.Lock()
	r.spans = append(r.spans, name)
	r.mu.Unlock()
	return ctx, trace.SpanFromContext(ctx)
}

// Shutdown is a no-op.
func (r *Recorder) Shutdown(ctx context.Context) error {
	return nil
}

// Counter returns the total recorded for name.
func (r *Recorder) Counter(name string) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counters[name]
}

// Samples returns a copy of the histogram samples recorded for name.
func (r *Recorder) Samples(name string) []float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]float64(nil), r.histograms[name]...)
}

// Spans returns the names of started spans in order.
func (r *Recorder) Spans() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.spans...)
}

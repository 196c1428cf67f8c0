// Package instrumented wraps a store.Store so that every call is counted in a
// stats collector and recorded as store telemetry.
package instrumented

import (
	"context"
	"errors"
	"time"

	"github.com/KevoDB/ordstream/pkg/stats"
	"github.com/KevoDB/ordstream/pkg/store"
	"github.com/KevoDB/ordstream/pkg/telemetry"
)

// Store forwards to an inner store and tracks every call
type Store struct {
	inner   store.Store
	stats   stats.Collector
	metrics StoreMetrics
}

// Option configures an instrumented Store
type Option func(*Store)

// WithStats tracks operations in collector
func WithStats(collector stats.Collector) Option {
	return func(s *Store) {
		s.stats = collector
	}
}

// WithTelemetry records store metrics through tel, labeled with backend
func WithTelemetry(tel telemetry.Telemetry, backend string) Option {
	return func(s *Store) {
		s.metrics = NewStoreMetrics(tel, backend)
	}
}

// New wraps inner
func New(inner store.Store, opts ...Option) *Store {
	s := &Store{
		inner:   inner,
		stats:   stats.NewAtomicCollector(),
		metrics: NewNoopStoreMetrics(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Stats returns the collector operations are tracked in
func (s *Store) Stats() stats.Collector {
	return s.stats
}

// Unwrap returns the inner store
func (s *Store) Unwrap() store.Store {
	return s.inner
}

func (s *Store) track(ctx context.Context, op stats.OperationType, start time.Time, err error) {
	latency := time.Since(start)
	s.stats.TrackOperationWithLatency(op, uint64(latency.Nanoseconds()))
	if err != nil {
		s.stats.TrackError(string(op) + "_error")
	}
	s.metrics.RecordOperation(ctx, string(op), latency, err)
}

// CreateTable registers a table
func (s *Store) CreateTable(ctx context.Context, schema store.TableSchema) error {
	start := time.Now()
	err := s.inner.CreateTable(ctx, schema)
	s.track(ctx, stats.OpCreateTable, start, err)
	return err
}

// IndexFields is not tracked; streams call it once per descriptor
func (s *Store) IndexFields(ctx context.Context, table, indexName string) ([]string, error) {
	return s.inner.IndexFields(ctx, table, indexName)
}

// Scan returns one chunk of an index range
func (s *Store) Scan(ctx context.Context, req store.ScanRequest, after []byte, limit int) (*store.ScanPage, error) {
	start := time.Now()
	page, err := s.inner.Scan(ctx, req, after, limit)
	s.track(ctx, stats.OpScan, start, err)
	if err == nil {
		s.metrics.RecordScan(ctx, req.Index, len(page.Rows), page.Done)
	}
	return page, err
}

// Get returns a document by id. A missing document is not counted as an error.
func (s *Store) Get(ctx context.Context, table, id string) (*store.Document, error) {
	start := time.Now()
	doc, err := s.inner.Get(ctx, table, id)
	if errors.Is(err, store.ErrDocumentNotFound) {
		s.track(ctx, stats.OpGet, start, nil)
	} else {
		s.track(ctx, stats.OpGet, start, err)
	}
	return doc, err
}

// Insert adds a document
func (s *Store) Insert(ctx context.Context, table string, fields map[string]any) (string, error) {
	start := time.Now()
	id, err := s.inner.Insert(ctx, table, fields)
	s.track(ctx, stats.OpInsert, start, err)
	return id, err
}

// Patch merges fields into a document
func (s *Store) Patch(ctx context.Context, table, id string, fields map[string]any) error {
	start := time.Now()
	err := s.inner.Patch(ctx, table, id, fields)
	s.track(ctx, stats.OpPatch, start, err)
	return err
}

// Replace swaps the user fields of a document
func (s *Store) Replace(ctx context.Context, table, id string, fields map[string]any) error {
	start := time.Now()
	err := s.inner.Replace(ctx, table, id, fields)
	s.track(ctx, stats.OpReplace, start, err)
	return err
}

// Delete removes a document
func (s *Store) Delete(ctx context.Context, table, id string) error {
	start := time.Now()
	err := s.inner.Delete(ctx, table, id)
	s.track(ctx, stats.OpDelete, start, err)
	return err
}

// Close closes the inner store
func (s *Store) Close() error {
	err := s.inner.Close()
	return errors.Join(err, s.metrics.Close())
}

var _ store.Store = (*Store)(nil)

package stream

import (
	"context"

	"github.com/KevoDB/ordstream/pkg/common/log"
	"github.com/KevoDB/ordstream/pkg/config"
	"github.com/KevoDB/ordstream/pkg/index"
	"github.com/KevoDB/ordstream/pkg/stats"
	"github.com/KevoDB/ordstream/pkg/store"
	"github.com/KevoDB/ordstream/pkg/telemetry"
)

const (
	defaultChunkSize            = 128
	defaultPageSize             = 100
	defaultCompressionThreshold = 256
)

// Reader builds streams over a store. It holds no per-traversal state and is
// safe for concurrent use.
type Reader struct {
	store   store.Reader
	logger  log.Logger
	tel     telemetry.Telemetry
	metrics StreamMetrics
	stats   stats.Collector

	chunkSize              int
	defaultPageSize        int
	defaultMaximumRowsRead int
	compressionThreshold   int
}

// Option configures a Reader
type Option func(*Reader)

// WithLogger sets the reader's logger
func WithLogger(logger log.Logger) Option {
	return func(r *Reader) {
		r.logger = logger
	}
}

// WithTelemetry records stream metrics and paginate spans through tel
func WithTelemetry(tel telemetry.Telemetry) Option {
	return func(r *Reader) {
		if tel == nil {
			return
		}
		r.tel = tel
		r.metrics = NewStreamMetrics(tel)
	}
}

// WithStats counts pages, rows and splits in collector
func WithStats(collector stats.Collector) Option {
	return func(r *Reader) {
		if collector != nil {
			r.stats = collector
		}
	}
}

// WithChunkSize sets how many rows a range stream fetches per store call
func WithChunkSize(n int) Option {
	return func(r *Reader) {
		if n > 0 {
			r.chunkSize = n
		}
	}
}

// WithDefaultPageSize sets the page size used when PaginateOptions.NumItems is zero
func WithDefaultPageSize(n int) Option {
	return func(r *Reader) {
		if n > 0 {
			r.defaultPageSize = n
		}
	}
}

// WithDefaultMaximumRowsRead sets the read budget used when
// PaginateOptions.MaximumRowsRead is zero. Zero leaves pages unbounded.
func WithDefaultMaximumRowsRead(n int) Option {
	return func(r *Reader) {
		if n >= 0 {
			r.defaultMaximumRowsRead = n
		}
	}
}

// WithCursorCompressionThreshold sets the cursor size in bytes above which
// cursors are s2-compressed. Zero disables compression.
func WithCursorCompressionThreshold(n int) Option {
	return func(r *Reader) {
		if n >= 0 {
			r.compressionThreshold = n
		}
	}
}

// NewReader creates a reader over st
func NewReader(st store.Reader, opts ...Option) *Reader {
	r := &Reader{
		store:                st,
		logger:               log.GetDefaultLogger().WithField("component", "stream"),
		tel:                  telemetry.NewNoop(),
		metrics:              NewNoopStreamMetrics(),
		stats:                stats.NewAtomicCollector(),
		chunkSize:            defaultChunkSize,
		defaultPageSize:      defaultPageSize,
		compressionThreshold: defaultCompressionThreshold,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// NewReaderFromConfig creates a reader using the stream settings of cfg.
// Options are applied after the configuration.
func NewReaderFromConfig(cfg *config.Config, st store.Reader, opts ...Option) *Reader {
	snap := cfg.Snapshot()
	cfgOpts := []Option{
		WithChunkSize(snap.ScanChunkSize),
		WithDefaultPageSize(snap.DefaultPageSize),
		WithDefaultMaximumRowsRead(snap.DefaultMaximumRowsRead),
		WithCursorCompressionThreshold(snap.CursorCompressionThreshold),
	}
	return NewReader(st, append(cfgOpts, opts...)...)
}

// Stats returns the collector paginate calls are counted in
func (r *Reader) Stats() stats.Collector {
	return r.stats
}

// Query starts building a stream over table
func (r *Reader) Query(table string) *Query {
	return &Query{r: r, table: table}
}

// Query selects the index a range stream scans
type Query struct {
	r     *Reader
	table string
}

// WithIndex scans the named index restricted to rng. A nil rng scans the
// whole index. The stream is ascending; use Order to flip it.
func (q *Query) WithIndex(ctx context.Context, indexName string, rng *index.RangeBuilder) (*RangeStream, error) {
	fields, err := q.r.store.IndexFields(ctx, q.table, indexName)
	if err != nil {
		return nil, err
	}
	bounds, err := rng.Build(fields)
	if err != nil {
		return nil, err
	}
	return newRangeStream(q.r, q.table, indexName, bounds, fields, index.Asc), nil
}

// ByCreationTime scans the creation time index restricted to rng
func (q *Query) ByCreationTime(ctx context.Context, rng *index.RangeBuilder) (*RangeStream, error) {
	return q.WithIndex(ctx, index.ByCreationTime, rng)
}

// FullTableScan scans every document of the table in creation order
func (q *Query) FullTableScan(ctx context.Context) (*RangeStream, error) {
	return q.WithIndex(ctx, index.ByCreationTime, nil)
}

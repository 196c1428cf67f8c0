package stream

import (
	"context"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/KevoDB/ordstream/pkg/config"
	"github.com/KevoDB/ordstream/pkg/index"
	"github.com/KevoDB/ordstream/pkg/stats"
	"github.com/KevoDB/ordstream/pkg/store"
	"github.com/KevoDB/ordstream/pkg/telemetry"
)

func TestOpenBackends(t *testing.T) {
	testCases := []struct {
		name   string
		mutate func(cfg *config.Config)
	}{
		{"memory", func(cfg *config.Config) {}},
		{"sqlite", func(cfg *config.Config) {
			cfg.Backend = config.BackendSQLite
			cfg.SQLitePath = filepath.Join(t.TempDir(), "engine.db")
		}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := config.NewDefaultConfig()
			cfg.LogLevel = "error"
			cfg.ScanChunkSize = 2
			cfg.DefaultPageSize = 3
			tc.mutate(cfg)

			ctx := context.Background()
			engine, err := Open(ctx, cfg)
			require.NoError(t, err)
			defer engine.Close()

			require.NoError(t, engine.Store.CreateTable(ctx, store.TableSchema{
				Name:    "events",
				Indexes: []store.IndexSchema{{Name: "by_kind", Fields: []string{"kind"}}},
			}))
			for i, kind := range []string{"click", "view", "click", "view", "click"} {
				_, err := engine.Store.Insert(ctx, "events", map[string]any{"kind": kind, "n": i})
				require.NoError(t, err)
			}

			clicks, err := engine.Query("events").WithIndex(ctx, "by_kind", index.Range().Eq("kind", "click"))
			require.NoError(t, err)
			require.Equal(t, 2, engine.chunkSize)

			res, err := clicks.Paginate(ctx, PaginateOptions{})
			require.NoError(t, err)
			require.Len(t, res.Page, 3, "default page size comes from the config")
			require.Equal(t, PageStatusOK, res.PageStatus)

			var ns []any
			for _, doc := range res.Page {
				ns = append(ns, doc.Fields["n"])
			}
			require.Equal(t, []any{int64(0), int64(2), int64(4)}, ns)

			got := engine.Stats().GetStats()
			require.Equal(t, uint64(5), got["insert_ops"])
			require.Equal(t, uint64(2), got["scan_ops"])
			require.Equal(t, uint64(1), got["paginate_ops"])
			require.Equal(t, uint64(3), got["rows_read"])
			require.Equal(t, uint64(3), got["rows_returned"])
		})
	}
}

func TestOpenInvalidConfig(t *testing.T) {
	cfg := config.NewDefaultConfig()
	cfg.Backend = "postgres"

	_, err := Open(context.Background(), cfg)
	require.ErrorIs(t, err, config.ErrInvalidConfig)
}

func TestOpenTelemetryFromEnv(t *testing.T) {
	t.Setenv("ORDSTREAM_TELEMETRY_ENABLED", "true")
	t.Setenv("ORDSTREAM_TELEMETRY_EXPORTERS", "prometheus")

	cfg := config.NewDefaultConfig()
	cfg.LogLevel = "error"
	ctx := context.Background()
	engine, err := Open(ctx, cfg)
	require.NoError(t, err)
	defer engine.Close()

	provider, ok := engine.Telemetry().(*telemetry.TelemetryProvider)
	require.True(t, ok, "enabled telemetry builds a real provider")
	require.Same(t, provider, engine.tel)
	require.Same(t, provider, engine.Reader.tel)

	require.NoError(t, engine.Store.CreateTable(ctx, store.TableSchema{Name: "events"}))
	_, err = engine.Store.Insert(ctx, "events", map[string]any{"kind": "click"})
	require.NoError(t, err)
	scan, err := engine.Query("events").FullTableScan(ctx)
	require.NoError(t, err)
	_, err = scan.Paginate(ctx, PaginateOptions{})
	require.NoError(t, err)

	families, err := provider.Registry().Gather()
	require.NoError(t, err)
	var names []string
	for _, f := range families {
		names = append(names, f.GetName())
	}
	require.True(t, slices.ContainsFunc(names, func(n string) bool { return strings.HasPrefix(n, "ordstream_store_") }), names)
	require.True(t, slices.ContainsFunc(names, func(n string) bool { return strings.HasPrefix(n, "ordstream_stream_") }), names)
}

func TestOpenTelemetryDisabledByDefault(t *testing.T) {
	cfg := config.NewDefaultConfig()
	cfg.LogLevel = "error"
	engine, err := Open(context.Background(), cfg)
	require.NoError(t, err)
	defer engine.Close()

	require.IsType(t, &telemetry.NoopTelemetry{}, engine.Telemetry())
	require.Error(t, engine.ServeMetrics(context.Background()))
}

func TestOpenInvalidTelemetryEnv(t *testing.T) {
	t.Setenv("ORDSTREAM_TELEMETRY_ENABLED", "true")
	t.Setenv("ORDSTREAM_TELEMETRY_EXPORTERS", "jaeger")

	_, err := Open(context.Background(), config.NewDefaultConfig())
	require.ErrorIs(t, err, config.ErrInvalidConfig)
}

func TestReaderStats(t *testing.T) {
	collector := stats.NewAtomicCollector()
	r := newTriples(t, WithStats(collector))
	s := abc(t, r, nil)
	ctx := context.Background()

	_, err := s.Paginate(ctx, PaginateOptions{NumItems: 10, MaximumRowsRead: 2})
	require.NoError(t, err)
	_, err = s.Paginate(ctx, PaginateOptions{Cursor: "!"})
	require.ErrorIs(t, err, ErrInvalidCursor)

	got := r.Stats().GetStats()
	require.Equal(t, uint64(1), got["paginate_ops"])
	require.Equal(t, uint64(1), got["split_pages"])
	require.Equal(t, uint64(2), got["rows_read"])
	require.Equal(t, map[string]uint64{"invalid_cursor": 1}, got["errors"])
}

func TestNewReaderFromConfig(t *testing.T) {
	cfg := config.NewDefaultConfig()
	cfg.ScanChunkSize = 7
	cfg.DefaultMaximumRowsRead = 11
	cfg.CursorCompressionThreshold = 0

	r := NewReaderFromConfig(cfg, newTriplesStore(t), WithChunkSize(9))
	require.Equal(t, 9, r.chunkSize, "options override the config")
	require.Equal(t, 11, r.defaultMaximumRowsRead)
	require.Equal(t, 0, r.compressionThreshold)
	require.Equal(t, cfg.DefaultPageSize, r.defaultPageSize)
}

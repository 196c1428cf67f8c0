package stream

import (
	"context"
	"errors"
	"fmt"

	"github.com/KevoDB/ordstream/pkg/common/log"
	"github.com/KevoDB/ordstream/pkg/config"
	"github.com/KevoDB/ordstream/pkg/stats"
	"github.com/KevoDB/ordstream/pkg/store"
	"github.com/KevoDB/ordstream/pkg/store/instrumented"
	"github.com/KevoDB/ordstream/pkg/store/memory"
	"github.com/KevoDB/ordstream/pkg/store/sqlite"
	"github.com/KevoDB/ordstream/pkg/telemetry"
)

// Engine bundles a configured store with a reader over it. Store and reader
// share one stats collector.
type Engine struct {
	*Reader

	Store  store.Store
	logger *log.ZapLogger
	tel    telemetry.Telemetry
}

// Open validates cfg, opens the configured backend and builds a reader over
// it. Telemetry comes from the ORDSTREAM_TELEMETRY_* environment and is a
// no-op unless enabled there. Options are applied after the configuration.
func Open(ctx context.Context, cfg *config.Config, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	snap := cfg.Snapshot()

	level, err := log.ParseLevel(snap.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", config.ErrInvalidConfig, err)
	}
	logOpts := []log.LoggerOption{log.WithLevel(level)}
	if snap.LogJSON {
		logOpts = append(logOpts, log.WithJSON())
	}
	logger := log.NewZapLogger(logOpts...)

	telCfg := telemetry.DefaultConfig()
	if err := telCfg.LoadFromEnv(); err != nil {
		return nil, fmt.Errorf("%w: %v", config.ErrInvalidConfig, err)
	}
	tel, err := telemetry.New(telCfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", config.ErrInvalidConfig, err)
	}

	var st store.Store
	switch snap.Backend {
	case config.BackendSQLite:
		db, err := sqlite.Open(ctx, snap.SQLitePath, sqlite.WithLogger(logger.WithField("component", "sqlite-store")))
		if err != nil {
			_ = tel.Shutdown(ctx)
			return nil, err
		}
		st = db
	default:
		st = memory.New(memory.WithLogger(logger.WithField("component", "memory-store")))
	}

	collector := stats.NewAtomicCollector()
	readerOpts := append([]Option{
		WithLogger(logger.WithField("component", "stream")),
		WithTelemetry(tel),
		WithStats(collector),
	}, opts...)
	r := NewReaderFromConfig(cfg, nil, readerOpts...)

	wrapped := instrumented.New(st,
		instrumented.WithStats(r.stats),
		instrumented.WithTelemetry(r.tel, string(snap.Backend)),
	)
	r.store = wrapped

	e := &Engine{
		Reader: r,
		Store:  wrapped,
		logger: logger,
		tel:    tel,
	}

	logger.Info("Opened %s backend", snap.Backend)
	return e, nil
}

// Close closes the store, flushes telemetry and syncs the logger
func (e *Engine) Close() error {
	err := errors.Join(e.Store.Close(), e.tel.Shutdown(context.Background()))
	_ = e.logger.Sync()
	return err
}

// Telemetry returns the provider Open built from the environment
func (e *Engine) Telemetry() telemetry.Telemetry {
	return e.tel
}

// ServeMetrics exposes /metrics until ctx is cancelled. It fails unless
// telemetry is enabled with the prometheus exporter.
func (e *Engine) ServeMetrics(ctx context.Context) error {
	p, ok := e.tel.(*telemetry.TelemetryProvider)
	if !ok {
		return errors.New("telemetry is not enabled")
	}
	return p.ServeMetrics(ctx)
}

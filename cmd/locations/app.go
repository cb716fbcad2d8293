package main

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"cabinmap/core-go/internal/config"
	"cabinmap/core-go/internal/connections"
	"cabinmap/core-go/internal/db"
	"cabinmap/core-go/internal/locations"
	"cabinmap/core-go/internal/meta"
	"cabinmap/core-go/internal/meta/pgstore"
	"cabinmap/core-go/internal/meta/redisstore"
	"cabinmap/core-go/internal/meta/sqlitestore"
	"cabinmap/core-go/internal/metrics"
	"cabinmap/core-go/internal/style"
)

// app bundles everything a command needs.
type app struct {
	cfg       config.Config
	log       zerolog.Logger
	store     meta.Backend
	metrics   *metrics.Metrics
	locations *locations.Service
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		a.log.Warn().Err(err).Msg("close store")
	}
}

// openBackend opens the store selected by cfg.StoreDriver. Postgres schemas
// are migrated on open; the other drivers create theirs themselves.
func openBackend(ctx context.Context, cfg config.Config) (meta.Backend, error) {
	switch cfg.StoreDriver {
	case config.DriverMemory:
		return meta.NewMemory(), nil
	case config.DriverPostgres:
		pool, err := db.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("connect to database: %w", err)
		}
		if err := pool.Migrate(ctx); err != nil {
			pool.Close()
			return nil, err
		}
		return pgstore.New(pool), nil
	case config.DriverSQLite:
		s, err := sqlitestore.Open(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.DriverRedis:
		s, err := redisstore.Open(ctx, cfg.Redis.Addr(), cfg.Redis.Pass, cfg.Redis.DB, cfg.Redis.Prefix)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}

func loadPresets(cfg config.Config) (style.Presets, error) {
	if cfg.StylePresetsFile == "" {
		return style.DefaultPresets(), nil
	}
	return style.LoadPresets(cfg.StylePresetsFile)
}

func newApp(ctx context.Context, cfg config.Config, log zerolog.Logger) (*app, error) {
	presets, err := loadPresets(cfg)
	if err != nil {
		return nil, err
	}
	store, err := openBackend(ctx, cfg)
	if err != nil {
		return nil, err
	}

	m := metrics.New()
	index := connections.New(log, store, connections.Options{SerializedWrites: cfg.SerializedWrites}, m)
	styles := style.NewResolver(log, store, presets)

	log.Info().
		Str("store", cfg.StoreDriver).
		Bool("serialized_writes", cfg.SerializedWrites).
		Strs("presets", presets.Names()).
		Msg("store ready")

	return &app{
		cfg:       cfg,
		log:       log,
		store:     store,
		metrics:   m,
		locations: locations.NewService(log, store, index, styles),
	}, nil
}

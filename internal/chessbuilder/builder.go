// Package chessbuilder wires the board server from an AppConfig.
package chessbuilder

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/park285/carp-board/internal/chess/openingbook"
	"github.com/park285/carp-board/internal/chess/uci"
	"github.com/park285/carp-board/internal/config"
	"github.com/park285/carp-board/internal/engine"
	"github.com/park285/carp-board/internal/engine/remote"
	"github.com/park285/carp-board/internal/httpapi"
	"github.com/park285/carp-board/internal/metrics"
	"github.com/park285/carp-board/internal/msgcat"
	"github.com/park285/carp-board/internal/session"
	"github.com/park285/carp-board/internal/wsboard"
)

type Deps struct {
	Manager  *session.Manager
	Board    http.Handler
	API      *httpapi.Server
	Metrics  *metrics.Metrics
	Registry *prometheus.Registry
	Catalog  *msgcat.Catalog

	closers []func() error
}

func New(ctx context.Context, cfg *config.AppConfig, logger *zap.Logger) (*Deps, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Deps{}
	ok := false
	defer func() {
		if !ok {
			_ = d.Close()
		}
	}()

	d.Registry = prometheus.NewRegistry()
	d.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	d.Metrics = metrics.New(d.Registry)

	catalog, err := msgcat.New(cfg.MessagesDir)
	if err != nil {
		return nil, fmt.Errorf("load messages: %w", err)
	}
	d.Catalog = catalog

	spawn, err := d.spawner(cfg, logger)
	if err != nil {
		return nil, err
	}
	if path := strings.TrimSpace(cfg.OpeningBook); path != "" {
		book, err := openingbook.LoadFromPath(path)
		if err != nil {
			return nil, err
		}
		logger.Info("builder_opening_book", zap.String("path", path))
		spawn = openingbook.Wrap(spawn, book, logger.Named("book"))
	}

	// Snapshots and game records fall back to memory when no backend is configured.
	var store session.Store
	if url := strings.TrimSpace(cfg.RedisURL); url != "" {
		rs, err := session.NewRedisStoreFromURL(ctx, url)
		if err != nil {
			return nil, fmt.Errorf("init redis store: %w", err)
		}
		d.closers = append(d.closers, rs.Close)
		store = rs
	} else {
		logger.Warn("builder_store_memory", zap.String("reason", "REDIS_URL not set"))
		store = session.NewMemoryStore()
	}

	var repo session.Repository
	if url := strings.TrimSpace(cfg.DatabaseURL); url != "" {
		db, err := session.OpenPostgres(ctx, url)
		if err != nil {
			return nil, fmt.Errorf("init repository: %w", err)
		}
		d.closers = append(d.closers, db.Close)
		repo = session.NewRepository(db)
	} else {
		logger.Warn("builder_repository_memory", zap.String("reason", "DATABASE_URL not set"))
		repo = session.NewMemoryRepository()
	}

	d.Manager = session.NewManager(session.ManagerConfig{
		Spawner:     spawn,
		Limits:      cfg.SearchLimits(),
		Watchdog:    engine.WatchdogConfig{Timeout: cfg.EngineReadyTimeout, Attempts: cfg.EngineReadyAttempts},
		DisplaySide: cfg.DisplaySide,
		Text:        catalog.Text,
		Store:       store,
		Repository:  repo,
		Metrics:     d.Metrics,
		Logger:      logger.Named("session"),
	})
	d.Board = wsboard.NewHandler(d.Manager, cfg.WSOrigins, logger.Named("wsboard"))
	d.API = httpapi.New(httpapi.Config{
		Games:    repo,
		Gatherer: d.Registry,
		Live:     d.Manager.Live,
		Logger:   logger.Named("http"),
	})

	ok = true
	return d, nil
}

func (d *Deps) spawner(cfg *config.AppConfig, logger *zap.Logger) (engine.Spawner, error) {
	if url := strings.TrimSpace(cfg.EngineRemoteURL); url != "" {
		logger.Info("builder_engine_remote", zap.String("url", url))
		return remote.Spawner(url, nil, logger.Named("remote")), nil
	}
	pool, err := NewPool(cfg, logger)
	if err != nil {
		return nil, err
	}
	d.closers = append(d.closers, pool.Close)
	return pool.Spawner(), nil
}

// NewPool builds the local engine process pool from cfg.
func NewPool(cfg *config.AppConfig, logger *zap.Logger) (*uci.Pool, error) {
	if strings.TrimSpace(cfg.EnginePath) == "" {
		return nil, fmt.Errorf("ENGINE_PATH is required for a local engine")
	}
	pool, err := uci.NewPool(uci.PoolConfig{
		BinaryPath: cfg.EnginePath,
		Options: uci.Options{
			Threads: cfg.EngineThreads,
			HashMB:  cfg.EngineHashMB,
			ShowWDL: cfg.EngineShowWDL,
		},
		MaxProcesses: cfg.MaxEngines,
		Logger:       logger.Named("uci"),
	})
	if err != nil {
		return nil, fmt.Errorf("init engine pool: %w", err)
	}
	return pool, nil
}

// Close stops all sessions, then releases engines and storage.
func (d *Deps) Close() error {
	if d.Manager != nil {
		d.Manager.Close()
	}
	var errs []error
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	d.closers = nil
	return errors.Join(errs...)
}

// Command engine-worker serves local engine processes to remote boards over
// WebSocket. Each connection owns one engine until it closes.
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/park285/carp-board/internal/chessbuilder"
	appcfg "github.com/park285/carp-board/internal/config"
	"github.com/park285/carp-board/internal/engine/remote"
	"github.com/park285/carp-board/internal/obslog"
)

func main() {
	if err := obslog.InitFromEnv(); err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	logger := obslog.Named("worker")
	defer func() { _ = logger.Sync() }()

	cfg, err := appcfg.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	pool, err := chessbuilder.NewPool(cfg, logger)
	if err != nil {
		log.Fatalf("engine pool error: %v", err)
	}
	defer func() { _ = pool.Close() }()

	mux := http.NewServeMux()
	mux.Handle("GET /engine", remote.NewHandler(pool.Spawner(), logger))
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("ok"))
	})
	srv := &http.Server{Addr: cfg.WorkerAddr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("worker_listen", zap.String("addr", cfg.WorkerAddr), zap.Int("live_engines", pool.Live()))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("worker_listen_failed", zap.Error(err))
	}
}

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
	"github.com/park285/carp-board/internal/obslog"
)

func main() {
	if err := obslog.InitFromEnv(); err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	logger := obslog.L()
	defer func() { _ = logger.Sync() }()

	cfg, err := appcfg.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	initCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	deps, err := chessbuilder.New(initCtx, cfg, logger)
	cancel()
	if err != nil {
		log.Fatalf("board init error: %v", err)
	}

	mux := http.NewServeMux()
	mux.Handle("GET /ws", deps.Board)
	boardSrv := &http.Server{
		Addr:              cfg.WSAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Info("board_listen", zap.String("addr", cfg.WSAddr))
		if err := boardSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	go func() {
		if err := deps.API.ListenAndServe(cfg.HTTPAddr); err != nil {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown_signal")
	case err := <-errCh:
		logger.Error("listener_failed", zap.Error(err))
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	// Board sockets are hijacked, so Shutdown does not wait for them; Close ends their sessions.
	if err := boardSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("board_shutdown_failed", zap.Error(err))
	}
	if err := deps.API.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http_shutdown_failed", zap.Error(err))
	}
	if err := deps.Close(); err != nil {
		logger.Warn("deps_close_failed", zap.Error(err))
	}
	logger.Info("shutdown_complete")
}

package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

var ErrEngineUnavailable = errors.New("engine unavailable")

const (
	defaultReadyTimeout  = 10 * time.Second
	defaultReadyAttempts = 3
)

type WatchdogConfig struct {
	Timeout  time.Duration
	Attempts int
}

func (w WatchdogConfig) normalized() WatchdogConfig {
	if w.Timeout <= 0 {
		w.Timeout = defaultReadyTimeout
	}
	if w.Attempts <= 0 {
		w.Attempts = defaultReadyAttempts
	}
	return w
}

// Initializer is the part of Channel the watchdog drives.
type Initializer interface {
	Initialize(restart bool) *Future
}

// AwaitReady joins the current initialization and restarts the unit each time
// it fails to become ready within cfg.Timeout. After cfg.Attempts failed
// attempts it returns ErrEngineUnavailable.
func AwaitReady(ctx context.Context, ch Initializer, cfg WatchdogConfig, logger *zap.Logger) error {
	cfg = cfg.normalized()
	if logger == nil {
		logger = zap.NewNop()
	}

	fut := ch.Initialize(false)
	for attempt := 1; ; attempt++ {
		waitCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
		err := fut.Wait(waitCtx)
		cancel()
		switch {
		case err == nil:
			return nil
		case ctx.Err() != nil:
			return ctx.Err()
		case errors.Is(err, ErrClosed):
			return err
		}

		if attempt >= cfg.Attempts {
			logger.Error("engine_unavailable", zap.Int("attempts", attempt), zap.Error(err))
			return fmt.Errorf("%w after %d attempts", ErrEngineUnavailable, attempt)
		}
		if errors.Is(err, ErrSuperseded) {
			logger.Info("engine_ready_superseded", zap.Uint64("generation", fut.Generation()))
			fut = ch.Initialize(false)
			continue
		}
		logger.Warn("engine_ready_timeout",
			zap.Uint64("generation", fut.Generation()),
			zap.Int("attempt", attempt),
			zap.Duration("timeout", cfg.Timeout))
		fut = ch.Initialize(true)
	}
}

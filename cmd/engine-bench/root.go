package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/park285/carp-board/internal/chess"
	"github.com/park285/carp-board/internal/chess/uci"
	"github.com/park285/carp-board/internal/engine"
	"github.com/park285/carp-board/internal/engine/remote"
	"github.com/park285/carp-board/internal/obslog"
)

var (
	// Global flags.
	enginePath   string
	remoteURL    string
	threads      int
	hashMB       int
	readyTimeout time.Duration
	fen          string
	outputJSON   bool
)

var rootCmd = &cobra.Command{
	Use:   "engine-bench",
	Short: "Drive a UCI engine through the board's engine channel",
	Long: `engine-bench talks to an engine the same way a board session does:
one channel, one live unit, tickets per request.

Examples:
  # Perft from the start position
  engine-bench perft --depth 5

  # Search a position for one second
  engine-bench search --fen "r1bqkbnr/pppp1ppp/2n5/4p3/4P3/5N2/PPPP1PPP/RNBQKB1R w KQkq - 2 3" --mode movetime --value 1000

  # Use a remote worker instead of a local binary
  engine-bench search --remote ws://worker:8090/engine`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return obslog.InitFromEnv()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&enginePath, "engine", "e", os.Getenv("ENGINE_PATH"), "UCI engine binary")
	rootCmd.PersistentFlags().StringVar(&remoteURL, "remote", os.Getenv("ENGINE_REMOTE_URL"), "engine worker websocket URL")
	rootCmd.PersistentFlags().IntVar(&threads, "threads", 1, "engine Threads option")
	rootCmd.PersistentFlags().IntVar(&hashMB, "hash", 64, "engine Hash option in MB")
	rootCmd.PersistentFlags().DurationVar(&readyTimeout, "ready-timeout", 10*time.Second, "time to wait for the engine handshake")
	rootCmd.PersistentFlags().StringVar(&fen, "fen", "", "position in FEN (default: start position)")
	rootCmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "output results as JSON")
}

// openChannel starts one engine generation and waits until it is ready.
func openChannel(ctx context.Context) (*engine.Channel, func(), error) {
	logger := obslog.Named("bench")

	var spawn engine.Spawner
	cleanup := func() {}
	switch {
	case remoteURL != "":
		spawn = remote.Spawner(remoteURL, nil, logger)
	case enginePath != "":
		pool, err := uci.NewPool(uci.PoolConfig{
			BinaryPath:   enginePath,
			Options:      uci.Options{Threads: threads, HashMB: hashMB, ShowWDL: true},
			MaxProcesses: 1,
			Logger:       logger,
		})
		if err != nil {
			return nil, nil, err
		}
		spawn = pool.Spawner()
		cleanup = func() { _ = pool.Close() }
	default:
		return nil, nil, fmt.Errorf("--engine or --remote is required")
	}

	ch := engine.NewChannel(spawn, engine.WithLogger(logger))
	done := func() {
		_ = ch.Close()
		cleanup()
	}
	if err := engine.AwaitReady(ctx, ch, engine.WatchdogConfig{Timeout: readyTimeout, Attempts: 1}, logger); err != nil {
		done()
		return nil, nil, err
	}
	logger.Debug("bench_engine_ready", zap.Uint64("generation", ch.Generation()))
	return ch, done, nil
}

// position returns the normalized --fen, or the start position.
func position() (chess.Position, error) {
	if fen == "" {
		return chess.StartPosition, nil
	}
	p, err := chess.NewRules().Normalize(fen)
	if err != nil {
		return "", fmt.Errorf("invalid FEN: %w", err)
	}
	return p, nil
}

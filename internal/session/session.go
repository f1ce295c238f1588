// Package session runs one interactive board: a move coordinator, its engine
// channel and the persistence of the game in progress.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/park285/carp-board/internal/chess"
	"github.com/park285/carp-board/internal/coordinator"
	"github.com/park285/carp-board/internal/engine"
	"github.com/park285/carp-board/internal/metrics"
)

const (
	commandBuffer = 64
	storeTimeout  = 2 * time.Second
)

// Command is a client request handled by the session loop.
type Command interface{ isCommand() }

type Input struct{ Event coordinator.InputEvent }

// NewGame starts from FEN. An empty FEN means the standard start position.
type NewGame struct {
	FEN   string
	Human *chess.Side
}

// Restart replays the current game from its starting position.
type Restart struct{}

// Retry replaces the engine after it became unavailable.
type Retry struct{}

type SetSearch struct {
	Mode  string
	Value int
}

type Hover struct{ Square chess.Square }

type watchDone struct{ err error }

func (Input) isCommand()     {}
func (NewGame) isCommand()   {}
func (Restart) isCommand()   {}
func (Retry) isCommand()     {}
func (SetSearch) isCommand() {}
func (Hover) isCommand()     {}
func (watchDone) isCommand() {}

// Notifier receives the answers that are not board or display commands.
type Notifier interface {
	HoverTargets(sq chess.Square, targets []chess.Square)
	FENRejected(current chess.Position)
	SearchChanged(limits chess.SearchLimits)
}

type Config struct {
	ID          string
	Limits      chess.SearchLimits
	Watchdog    engine.WatchdogConfig
	DisplaySide chess.Side
	Text        func(key string) string
	Store       Store
	Repository  Repository
	Metrics     *metrics.Metrics
	Logger      *zap.Logger
}

// Session owns a coordinator and serializes everything that touches it.
type Session struct {
	id       string
	channel  *engine.Channel
	rules    *chess.Rules
	coord    *coordinator.Coordinator
	notify   Notifier
	store    Store
	repo     Repository
	metrics  *metrics.Metrics
	logger   *zap.Logger
	watchdog engine.WatchdogConfig

	commands chan Command
	done     chan struct{}

	// touched only by the loop
	limits   chess.SearchLimits
	snap     Snapshot
	watching bool
}

func New(cfg Config, spawn engine.Spawner, board coordinator.Board, display coordinator.Display, notify Notifier) *Session {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("session", cfg.ID))
	if cfg.Store == nil {
		cfg.Store = NewMemoryStore()
	}
	if cfg.Repository == nil {
		cfg.Repository = NewMemoryRepository()
	}
	if cfg.Limits.Mode == "" {
		cfg.Limits = chess.DefaultSearchLimits()
	}

	s := &Session{
		id:       cfg.ID,
		channel:  engine.NewChannel(spawn, engine.WithLogger(logger), engine.WithMetrics(cfg.Metrics)),
		rules:    chess.NewRules(),
		notify:   notify,
		store:    cfg.Store,
		repo:     cfg.Repository,
		metrics:  cfg.Metrics,
		logger:   logger,
		watchdog: cfg.Watchdog,
		commands: make(chan Command, commandBuffer),
		done:     make(chan struct{}),
		limits:   cfg.Limits,
	}
	s.coord = coordinator.New(board, display, s.rules, s.channel, coordinator.Config{
		TimeControl: cfg.Limits.TimeControl(),
		DisplaySide: cfg.DisplaySide,
		Text:        cfg.Text,
		Listener:    (*recorder)(s),
		Logger:      logger,
	})
	return s
}

func (s *Session) ID() string { return s.id }

// Done is closed when Run returns.
func (s *Session) Done() <-chan struct{} { return s.done }

// Post queues cmd for the loop. It blocks while the queue is full.
func (s *Session) Post(ctx context.Context, cmd Command) error {
	select {
	case <-s.done:
		return ErrClosed
	default:
	}
	select {
	case s.commands <- cmd:
		return nil
	case <-s.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run resumes or starts the game and handles commands and engine events until ctx ends.
func (s *Session) Run(ctx context.Context) error {
	defer close(s.done)
	s.metrics.SessionOpened()
	defer s.metrics.SessionClosed()
	defer func() {
		if err := s.channel.Close(); err != nil {
			s.logger.Warn("session_engine_close_failed", zap.Error(err))
		}
	}()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.resume(ctx)
	s.coord.StartEngine()
	s.watch(ctx)
	s.logger.Info("session_start", zap.String("fen", string(s.coord.Position())))

	events := s.channel.Events()
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("session_end", zap.Int("moves", len(s.snap.MovesUCI)))
			return nil
		case ev := <-events:
			s.coord.HandleEngine(ev)
		case cmd := <-s.commands:
			s.handle(ctx, cmd)
		}
	}
}

func (s *Session) handle(ctx context.Context, cmd Command) {
	switch cmd := cmd.(type) {
	case Input:
		s.coord.HandleInput(cmd.Event)
	case NewGame:
		s.newGame(ctx, cmd)
	case Restart:
		human := s.coord.Human()
		if err := s.startGame(ctx, s.snap.StartFEN, &human); err != nil {
			s.logger.Warn("session_restart_failed", zap.Error(err))
			return
		}
		s.watch(ctx)
	case Retry:
		s.coord.RestartEngine()
		s.watch(ctx)
	case SetSearch:
		limits, err := chess.NewSearchLimits(cmd.Mode, cmd.Value)
		if err != nil {
			s.logger.Info("session_bad_search", zap.String("mode", cmd.Mode), zap.Error(err))
			limits = s.limits
		}
		s.limits = limits
		s.coord.SetTimeControl(limits.TimeControl())
		s.snap.Search = limits.TimeControl()
		s.save(ctx)
		if s.notify != nil {
			s.notify.SearchChanged(limits)
		}
	case Hover:
		if s.notify != nil {
			s.notify.HoverTargets(cmd.Square, s.coord.HoverPreview(cmd.Square))
		}
	case watchDone:
		s.watching = false
		if cmd.err != nil && ctx.Err() == nil {
			s.coord.EngineUnavailable(cmd.err)
		}
	default:
		s.logger.Warn("session_unknown_command", zap.String("command", fmt.Sprintf("%T", cmd)))
	}
}

// newGame rejects invalid positions, ignores the current one and otherwise
// starts over on a fresh engine.
func (s *Session) newGame(ctx context.Context, cmd NewGame) {
	fen := strings.TrimSpace(cmd.FEN)
	if fen == "" {
		fen = string(chess.StartPosition)
	}
	if !s.rules.ValidateFEN(fen) {
		s.logger.Info("session_fen_rejected", zap.String("fen", fen))
		if s.notify != nil {
			s.notify.FENRejected(s.coord.Position())
		}
		return
	}
	if fen == string(s.coord.Position()) && cmd.Human == nil {
		return
	}

	s.coord.RestartEngine()
	if err := s.startGame(ctx, fen, cmd.Human); err != nil {
		// validated above; only a rules disagreement gets here
		s.logger.Warn("session_new_game_failed", zap.Error(err))
		if s.notify != nil {
			s.notify.FENRejected(s.coord.Position())
		}
	}
	s.watch(ctx)
}

// resume restores the stored game for this id, or starts from the initial position.
func (s *Session) resume(ctx context.Context) {
	loadCtx, cancel := context.WithTimeout(ctx, storeTimeout)
	snap, err := s.store.Load(loadCtx, s.id)
	cancel()
	if err != nil {
		s.logger.Warn("session_snapshot_load_failed", zap.Error(err))
	}

	if snap != nil && s.rules.ValidateFEN(snap.FEN) {
		human, herr := chess.ParseSide(snap.Human)
		if herr != nil {
			human = s.rules.TurnToMove(chess.Position(snap.FEN))
		}
		if snap.Search != "" {
			if limits, ok := parseTimeControl(snap.Search); ok {
				s.limits = limits
				s.coord.SetTimeControl(limits.TimeControl())
			}
		}
		// Seed the record first: NewGame may finish an already decided game.
		s.snap = *snap
		if err := s.coord.NewGame(snap.FEN, &human); err == nil {
			s.logger.Info("session_resumed", zap.Int("moves", len(snap.MovesUCI)))
			return
		}
	}

	if err := s.startGame(ctx, "", nil); err != nil {
		s.logger.Error("session_start_failed", zap.Error(err))
	}
}

// startGame seeds a fresh move record for fen, then hands fen to the
// coordinator. The record comes first: NewGame finishes a decided position at
// once, and the result is recorded from it.
func (s *Session) startGame(ctx context.Context, fen string, human *chess.Side) error {
	fen = strings.TrimSpace(fen)
	if fen == "" {
		fen = string(chess.StartPosition)
	}
	side := s.rules.TurnToMove(chess.Position(fen))
	if human != nil {
		side = *human
	}

	prev := s.snap
	now := time.Now().UTC()
	s.snap = Snapshot{
		ID:        s.id,
		StartFEN:  fen,
		FEN:       fen,
		Human:     side.String(),
		Search:    s.limits.TimeControl(),
		StartedAt: now,
		UpdatedAt: now,
	}
	if err := s.coord.NewGame(fen, &side); err != nil {
		s.snap = prev
		return err
	}
	s.save(ctx)
	return nil
}

func (s *Session) save(ctx context.Context) {
	if s.snap.ID == "" {
		return
	}
	saveCtx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()
	if err := s.store.Save(saveCtx, &s.snap); err != nil {
		s.logger.Warn("session_snapshot_save_failed", zap.Error(err))
	}
}

// watch starts the ready watchdog unless one is already running.
func (s *Session) watch(ctx context.Context) {
	if s.watching {
		return
	}
	s.watching = true
	go func() {
		err := engine.AwaitReady(ctx, s.channel, s.watchdog, s.logger)
		if errors.Is(err, context.Canceled) {
			err = nil
		}
		select {
		case s.commands <- watchDone{err: err}:
		case <-ctx.Done():
		}
	}()
}

func parseTimeControl(tc string) (chess.SearchLimits, bool) {
	var (
		mode  string
		value int
	)
	if _, err := fmt.Sscanf(tc, "%s %d", &mode, &value); err != nil {
		return chess.SearchLimits{}, false
	}
	limits, err := chess.NewSearchLimits(mode, value)
	return limits, err == nil
}

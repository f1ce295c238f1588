package session

import (
	"context"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/park285/carp-board/internal/chess"
	"github.com/park285/carp-board/internal/coordinator"
	"github.com/park285/carp-board/internal/engine"
	"github.com/park285/carp-board/internal/metrics"
)

// ManagerConfig holds what every session shares.
type ManagerConfig struct {
	Spawner     engine.Spawner
	Limits      chess.SearchLimits
	Watchdog    engine.WatchdogConfig
	DisplaySide chess.Side
	Text        func(key string) string
	Store       Store
	Repository  Repository
	Metrics     *metrics.Metrics
	Logger      *zap.Logger
}

type running struct {
	sess   *Session
	cancel context.CancelFunc
}

// Manager keeps at most one live session per id. A client that reconnects
// with the same id takes over the board and resumes from the stored snapshot.
type Manager struct {
	cfg    ManagerConfig
	logger *zap.Logger

	mu       sync.Mutex
	sessions map[string]*running
	closed   bool
}

func NewManager(cfg ManagerConfig) *Manager {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Store == nil {
		cfg.Store = NewMemoryStore()
	}
	if cfg.Repository == nil {
		cfg.Repository = NewMemoryRepository()
	}
	return &Manager{cfg: cfg, logger: logger, sessions: make(map[string]*running)}
}

// NormalizeID returns id when it is a UUID, otherwise a fresh one.
func NormalizeID(id string) string {
	if parsed, err := uuid.Parse(strings.TrimSpace(id)); err == nil {
		return parsed.String()
	}
	return uuid.NewString()
}

// Start runs a session for id on its own goroutine. A live session with the
// same id is stopped first and its final snapshot is what the new one resumes.
func (m *Manager) Start(ctx context.Context, id string, board coordinator.Board, display coordinator.Display, notify Notifier) (*Session, error) {
	id = NormalizeID(id)

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrClosed
	}
	prev := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()

	if prev != nil {
		m.logger.Info("session_takeover", zap.String("session", id))
		prev.cancel()
		select {
		case <-prev.sess.Done():
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	sess := New(Config{
		ID:          id,
		Limits:      m.cfg.Limits,
		Watchdog:    m.cfg.Watchdog,
		DisplaySide: m.cfg.DisplaySide,
		Text:        m.cfg.Text,
		Store:       m.cfg.Store,
		Repository:  m.cfg.Repository,
		Metrics:     m.cfg.Metrics,
		Logger:      m.logger,
	}, m.cfg.Spawner, board, display, notify)

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	r := &running{sess: sess, cancel: cancel}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		cancel()
		return nil, ErrClosed
	}
	m.sessions[id] = r
	m.mu.Unlock()

	go func() {
		defer cancel()
		if err := sess.Run(runCtx); err != nil {
			m.logger.Warn("session_run_failed", zap.String("session", id), zap.Error(err))
		}
		m.mu.Lock()
		if m.sessions[id] == r {
			delete(m.sessions, id)
		}
		m.mu.Unlock()
	}()
	return sess, nil
}

// Stop ends the session for id if it is still the live one.
func (m *Manager) Stop(sess *Session) {
	m.mu.Lock()
	r := m.sessions[sess.ID()]
	if r != nil && r.sess == sess {
		delete(m.sessions, sess.ID())
	} else {
		r = nil
	}
	m.mu.Unlock()
	if r != nil {
		r.cancel()
		<-sess.Done()
	}
}

func (m *Manager) Live() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

func (m *Manager) Repository() Repository { return m.cfg.Repository }

// Close stops every session and waits for them to finish.
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	all := make([]*running, 0, len(m.sessions))
	for id, r := range m.sessions {
		all = append(all, r)
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	for _, r := range all {
		r.cancel()
	}
	for _, r := range all {
		<-r.sess.Done()
	}
}

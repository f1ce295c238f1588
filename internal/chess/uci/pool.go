package uci

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime"
	"sync"

	"go.uber.org/zap"

	"github.com/park285/carp-board/internal/engine"
)

var errPoolClosed = errors.New("engine pool closed")

type PoolConfig struct {
	BinaryPath string
	Options    Options
	// MaxProcesses caps live engine processes across all channels.
	MaxProcesses int
	Logger       *zap.Logger
}

// Pool spawns engine sessions for channels and bounds how many processes run at once.
// A slot is held from spawn until the process exits.
type Pool struct {
	binaryPath string
	opt        Options
	logger     *zap.Logger
	slots      chan struct{}

	mu       sync.Mutex
	sessions map[*Session]struct{}
	closed   bool
}

func NewPool(cfg PoolConfig) (*Pool, error) {
	if cfg.BinaryPath == "" {
		return nil, fmt.Errorf("binary path required")
	}
	if _, err := os.Stat(cfg.BinaryPath); err != nil {
		return nil, fmt.Errorf("engine binary check: %w", err)
	}
	if err := validateOptions(cfg.Options); err != nil {
		return nil, err
	}

	capacity := cfg.MaxProcesses
	if capacity <= 0 {
		capacity = defaultCapacity()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Pool{
		binaryPath: cfg.BinaryPath,
		opt:        cfg.Options,
		logger:     logger,
		slots:      make(chan struct{}, capacity),
		sessions:   make(map[*Session]struct{}),
	}, nil
}

// Spawner adapts the pool to engine.NewChannel.
func (p *Pool) Spawner() engine.Spawner {
	return func(ctx context.Context, emit engine.Emitter) (engine.Unit, error) {
		return p.Spawn(ctx, emit)
	}
}

// Spawn starts a session once a process slot is free.
func (p *Pool) Spawn(ctx context.Context, emit engine.Emitter) (*Session, error) {
	select {
	case p.slots <- struct{}{}:
	default:
		p.logger.Info("engine_pool_wait", zap.Int("capacity", cap(p.slots)))
		select {
		case p.slots <- struct{}{}:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		<-p.slots
		return nil, errPoolClosed
	}
	p.mu.Unlock()

	var session *Session
	release := func() {
		p.mu.Lock()
		delete(p.sessions, session)
		p.mu.Unlock()
		<-p.slots
	}

	// The tracking lock is held across start so release cannot run before session is set.
	p.mu.Lock()
	s, err := start(ctx, p.binaryPath, p.opt, emit, p.logger, release)
	if err != nil {
		p.mu.Unlock()
		<-p.slots
		return nil, err
	}
	session = s
	p.sessions[s] = struct{}{}
	p.mu.Unlock()
	return s, nil
}

// Live reports the number of running engine processes.
func (p *Pool) Live() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sessions)
}

func (p *Pool) Close() error {
	p.mu.Lock()
	p.closed = true
	sessions := make([]*Session, 0, len(p.sessions))
	for s := range p.sessions {
		sessions = append(sessions, s)
	}
	p.mu.Unlock()

	var errs []error
	for _, s := range sessions {
		if err := s.Terminate(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

func defaultCapacity() int {
	cpu := runtime.NumCPU()
	if cpu < 2 {
		return 2
	}
	if cpu > 8 {
		return 8
	}
	return cpu
}

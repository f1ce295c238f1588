package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/park285/carp-board/internal/metrics"
)

var (
	ErrClosed     = errors.New("engine channel closed")
	ErrSuperseded = errors.New("engine generation superseded")
)

const defaultEventBuffer = 64

type Option func(*Channel)

func WithLogger(l *zap.Logger) Option {
	return func(c *Channel) {
		if l != nil {
			c.logger = l
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Channel) { c.metrics = m }
}

func WithEventBuffer(n int) Option {
	return func(c *Channel) {
		if n > 0 {
			c.bufferSize = n
		}
	}
}

// Channel hides one out-of-process compute unit behind non-blocking requests
// and an ordered event stream. Restart is the only cancellation: it tears the
// unit down, bumps the generation and drops every reply of older generations.
type Channel struct {
	spawn      Spawner
	logger     *zap.Logger
	metrics    *metrics.Metrics
	bufferSize int

	ctx    context.Context
	cancel context.CancelFunc

	// spawnMu serializes teardown and spawn so two units never overlap.
	spawnMu sync.Mutex

	mu      sync.Mutex
	state   WorkerState
	gen     uint64
	live    uint64
	seq     uint64
	unit    Unit
	ready   *Future
	pending map[uint64]string
	closed  bool
	// dying is closed once a unit torn down by fail has exited.
	dying chan struct{}

	qmu    sync.Mutex
	queue  []Event
	wake   chan struct{}
	events chan Event
}

func NewChannel(spawn Spawner, opts ...Option) *Channel {
	c := &Channel{
		spawn:      spawn,
		logger:     zap.NewNop(),
		bufferSize: defaultEventBuffer,
		pending:    make(map[uint64]string),
		wake:       make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.events = make(chan Event, c.bufferSize)
	c.ctx, c.cancel = context.WithCancel(context.Background())
	go c.pump()
	return c
}

func (c *Channel) Events() <-chan Event { return c.events }

func (c *Channel) State() WorkerState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Channel) Generation() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen
}

// Initialize spawns a unit when none is alive or when restart is set, and
// returns the future of the resulting generation. Without restart an existing
// generation's future is returned as is, resolved or not.
func (c *Channel) Initialize(restart bool) *Future {
	c.spawnMu.Lock()
	defer c.spawnMu.Unlock()
	c.awaitTeardown()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		f := newFuture(0)
		f.resolve(ErrClosed)
		return f
	}
	if !restart && c.state != Uninitialized && c.ready != nil {
		f := c.ready
		c.mu.Unlock()
		return f
	}
	old, oldGen := c.unit, c.gen
	prev := c.ready
	c.unit = nil
	c.gen++
	gen := c.gen
	c.live = gen
	c.state = Initializing
	c.pending = make(map[uint64]string)
	fut := newFuture(gen)
	c.ready = fut
	c.mu.Unlock()

	if prev != nil {
		prev.resolve(ErrSuperseded)
	}
	if old != nil {
		if err := old.Terminate(); err != nil {
			c.logger.Warn("engine_teardown_failed", zap.Uint64("generation", oldGen), zap.Error(err))
		}
		c.metrics.EngineRestarted()
		c.logger.Info("engine_teardown", zap.Uint64("generation", oldGen))
	}

	unit, err := c.spawn(c.ctx, c.emitter(gen))
	if err != nil {
		c.fail(gen, fmt.Sprintf("spawn: %v", err))
		return fut
	}
	c.metrics.EngineSpawned()

	c.mu.Lock()
	if c.closed || c.live != gen {
		c.mu.Unlock()
		_ = unit.Terminate()
		return fut
	}
	c.unit = unit
	c.mu.Unlock()
	c.logger.Info("engine_spawn", zap.Uint64("generation", gen))

	if err := unit.Post(InitRequest{}); err != nil {
		c.fail(gen, fmt.Sprintf("post init: %v", err))
	}
	return fut
}

// Restart tears down the live unit and spawns a fresh one.
func (c *Channel) Restart() *Future { return c.Initialize(true) }

// RequestSearch posts a search unless the unit is not ready, in which case it reports false.
func (c *Channel) RequestSearch(position, timeControl string) (Ticket, bool) {
	t, unit, ok := c.reserve(position)
	if !ok {
		return Ticket{}, false
	}
	if err := unit.Post(SearchRequest{Seq: t.Seq, Position: position, TimeControl: timeControl}); err != nil {
		c.release(t, err)
		return Ticket{}, false
	}
	c.metrics.SearchIssued()
	c.logger.Debug("engine_search", zap.Uint64("generation", t.Generation), zap.Uint64("seq", t.Seq), zap.String("tc", timeControl))
	return t, true
}

func (c *Channel) RequestPerft(position string, depth int) (Ticket, bool) {
	t, unit, ok := c.reserve(position)
	if !ok {
		return Ticket{}, false
	}
	if err := unit.Post(PerftRequest{Seq: t.Seq, Position: position, Depth: depth}); err != nil {
		c.release(t, err)
		return Ticket{}, false
	}
	c.logger.Debug("engine_perft", zap.Uint64("generation", t.Generation), zap.Uint64("seq", t.Seq), zap.Int("depth", depth))
	return t, true
}

func (c *Channel) reserve(position string) (Ticket, Unit, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.state != Initialized || c.unit == nil {
		return Ticket{}, nil, false
	}
	c.seq++
	t := Ticket{Generation: c.gen, Seq: c.seq}
	c.pending[t.Seq] = position
	return t, c.unit, true
}

func (c *Channel) release(t Ticket, err error) {
	c.mu.Lock()
	delete(c.pending, t.Seq)
	c.mu.Unlock()
	c.logger.Warn("engine_post_failed", zap.Uint64("generation", t.Generation), zap.Uint64("seq", t.Seq), zap.Error(err))
}

// Close terminates the live unit and stops event delivery.
func (c *Channel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.live = 0
	c.state = Uninitialized
	unit := c.unit
	c.unit = nil
	ready := c.ready
	c.mu.Unlock()

	c.cancel()
	if ready != nil {
		ready.resolve(ErrClosed)
	}
	c.awaitTeardown()
	if unit != nil {
		return unit.Terminate()
	}
	return nil
}

// awaitTeardown blocks until a unit torn down by fail has exited.
func (c *Channel) awaitTeardown() {
	c.mu.Lock()
	dying := c.dying
	c.dying = nil
	c.mu.Unlock()
	if dying != nil {
		<-dying
	}
}

func (c *Channel) emitter(gen uint64) Emitter {
	return func(r Reply) { c.handleReply(gen, r) }
}

func (c *Channel) handleReply(gen uint64, r Reply) {
	if crash, ok := r.(CrashReply); ok {
		c.fail(gen, crash.Reason)
		return
	}

	c.mu.Lock()
	if c.closed || gen != c.live {
		c.mu.Unlock()
		c.metrics.StaleReply()
		c.logger.Debug("engine_reply_dropped", zap.Uint64("generation", gen), zap.String("reply", fmt.Sprintf("%T", r)))
		return
	}

	var ready *Future
	switch r := r.(type) {
	case ReadyReply:
		if c.state != Initializing {
			c.mu.Unlock()
			return
		}
		c.state = Initialized
		ready = c.ready
		c.deliver(Ready{Generation: gen})
	case SearchInfo:
		pos, ok := c.pending[r.Seq]
		if !ok {
			c.mu.Unlock()
			return
		}
		c.metrics.ObserveNPS(r.NPS)
		c.deliver(SearchResult{
			Ticket:    Ticket{Generation: gen, Seq: r.Seq},
			Position:  pos,
			Depth:     r.Depth,
			Nodes:     r.Nodes,
			NPS:       r.NPS,
			Time:      r.Time,
			ScoreType: r.ScoreType,
			Score:     r.Score,
			PV:        append([]string(nil), r.PV...),
		})
	case PerftInfo:
		pos, ok := c.pending[r.Seq]
		if !ok {
			c.mu.Unlock()
			return
		}
		delete(c.pending, r.Seq)
		c.deliver(PerftResult{
			Ticket:   Ticket{Generation: gen, Seq: r.Seq},
			Position: pos,
			Nodes:    r.Nodes,
			NPS:      r.NPS,
			Time:     r.Time,
			Move:     r.Move,
		})
	case PickReply:
		pos, ok := c.pending[r.Seq]
		if !ok {
			c.mu.Unlock()
			return
		}
		delete(c.pending, r.Seq)
		c.deliver(EnginePick{Ticket: Ticket{Generation: gen, Seq: r.Seq}, Position: pos, Move: r.Move})
	default:
		c.mu.Unlock()
		c.logger.Warn("engine_reply_unknown", zap.String("reply", fmt.Sprintf("%T", r)))
		return
	}
	c.mu.Unlock()

	if ready != nil {
		c.logger.Info("engine_ready", zap.Uint64("generation", gen))
		ready.resolve(nil)
	}
}

// fail moves gen to Uninitialized and tears its unit down. The ready future is left pending.
// fail may run on the unit's own emitting goroutine, so Terminate runs on
// another one; the next spawn waits for it.
func (c *Channel) fail(gen uint64, reason string) {
	c.mu.Lock()
	if c.closed || c.live != gen {
		c.mu.Unlock()
		return
	}
	c.live = 0
	c.state = Uninitialized
	unit := c.unit
	c.unit = nil
	c.pending = make(map[uint64]string)
	var dead chan struct{}
	if unit != nil {
		dead = make(chan struct{})
		c.dying = dead
	}
	c.deliver(Fatal{Generation: gen, Reason: reason})
	c.mu.Unlock()

	c.metrics.EngineFatal()
	c.logger.Error("engine_fatal", zap.Uint64("generation", gen), zap.String("reason", reason))
	if unit != nil {
		go func() {
			defer close(dead)
			if err := unit.Terminate(); err != nil {
				c.logger.Warn("engine_teardown_failed", zap.Uint64("generation", gen), zap.Error(err))
			}
		}()
	}
}

// deliver queues ev without blocking; pump forwards the queue in order.
func (c *Channel) deliver(ev Event) {
	c.qmu.Lock()
	c.queue = append(c.queue, ev)
	c.qmu.Unlock()
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

func (c *Channel) pump() {
	for {
		c.qmu.Lock()
		if len(c.queue) == 0 {
			c.qmu.Unlock()
			select {
			case <-c.wake:
				continue
			case <-c.ctx.Done():
				return
			}
		}
		ev := c.queue[0]
		c.queue[0] = nil
		c.queue = c.queue[1:]
		c.qmu.Unlock()

		select {
		case c.events <- ev:
		case <-c.ctx.Done():
			return
		}
	}
}

// Package remote runs compute units on another host over a websocket carrying engine.Frame JSON.
package remote

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/park285/carp-board/internal/engine"
)

const (
	dialTimeout   = 10 * time.Second
	writeTimeout  = 5 * time.Second
	pingInterval  = 30 * time.Second
	pingTimeout   = 3 * time.Second
	closeGrace    = 2 * time.Second
	maxPingMisses = 2
)

var errUnitClosed = errors.New("remote unit closed")

// Unit is an engine.Unit whose engine runs behind a remote worker.
// Losing the connection is reported as a crash.
type Unit struct {
	conn   *websocket.Conn
	emit   engine.Emitter
	logger *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	writeMu  sync.Mutex
	closing  atomic.Bool
	done     chan struct{}
	termOnce sync.Once
}

func Dial(ctx context.Context, url string, header http.Header, emit engine.Emitter, logger *zap.Logger) (*Unit, error) {
	if emit == nil {
		return nil, fmt.Errorf("emitter required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	conn, _, err := websocket.Dial(dialCtx, url, &websocket.DialOptions{
		CompressionMode: websocket.CompressionNoContextTakeover,
		HTTPHeader:      header,
	})
	if err != nil {
		return nil, fmt.Errorf("dial engine worker: %w", err)
	}

	rootCtx, rootCancel := context.WithCancel(context.Background())
	u := &Unit{
		conn:   conn,
		emit:   emit,
		logger: logger.With(zap.String("worker", url)),
		ctx:    rootCtx,
		cancel: rootCancel,
		done:   make(chan struct{}),
	}
	go u.listen()
	go u.pingLoop()
	return u, nil
}

// Spawner dials a fresh connection for every channel generation.
func Spawner(url string, header http.Header, logger *zap.Logger) engine.Spawner {
	return func(ctx context.Context, emit engine.Emitter) (engine.Unit, error) {
		return Dial(ctx, url, header, emit, logger)
	}
}

func (u *Unit) Post(r engine.Request) error {
	if u.closing.Load() {
		return errUnitClosed
	}
	f, err := engine.EncodeRequest(r)
	if err != nil {
		return err
	}
	u.writeMu.Lock()
	defer u.writeMu.Unlock()
	ctx, cancel := context.WithTimeout(u.ctx, writeTimeout)
	defer cancel()
	if err := wsjson.Write(ctx, u.conn, f); err != nil {
		return fmt.Errorf("write %s: %w", f.Type, err)
	}
	return nil
}

func (u *Unit) Terminate() error {
	u.termOnce.Do(func() {
		u.closing.Store(true)
		_ = u.conn.Close(websocket.StatusNormalClosure, "terminate")
		select {
		case <-u.done:
		case <-time.After(closeGrace):
			u.logger.Warn("remote_close_timeout")
		}
		u.cancel()
	})
	return nil
}

func (u *Unit) listen() {
	var crash string
	for {
		var f engine.Frame
		if err := wsjson.Read(u.ctx, u.conn, &f); err != nil {
			if !u.closing.Load() {
				crash = fmt.Sprintf("engine worker connection lost: %v", err)
			}
			break
		}
		r, err := engine.DecodeReply(f)
		if err != nil {
			u.logger.Warn("remote_frame_invalid", zap.String("type", f.Type), zap.Error(err))
			continue
		}
		if c, ok := r.(engine.CrashReply); ok {
			crash = c.Reason
			if crash == "" {
				crash = "engine worker reported a fatal error"
			}
			break
		}
		u.emit(r)
	}

	u.closing.Store(true)
	close(u.done)
	if crash != "" {
		u.logger.Error("remote_crash", zap.String("reason", crash))
		_ = u.conn.Close(websocket.StatusGoingAway, "crash")
		u.emit(engine.CrashReply{Reason: crash})
	}
}

func (u *Unit) pingLoop() {
	t := time.NewTicker(pingInterval)
	defer t.Stop()
	misses := 0
	for {
		select {
		case <-u.done:
			return
		case <-t.C:
			ctx, cancel := context.WithTimeout(u.ctx, pingTimeout)
			err := u.conn.Ping(ctx)
			cancel()
			if err == nil {
				misses = 0
				continue
			}
			misses++
			if misses >= maxPingMisses {
				u.logger.Warn("remote_ping_failed", zap.Error(err))
				_ = u.conn.Close(websocket.StatusGoingAway, "ping failure")
				return
			}
		}
	}
}

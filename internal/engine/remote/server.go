package remote

import (
	"context"
	"net/http"
	"sync"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/park285/carp-board/internal/engine"
)

// Handler serves engine workers: each websocket connection owns one unit from spawn,
// which lives until the connection closes.
type Handler struct {
	spawn  engine.Spawner
	logger *zap.Logger
}

func NewHandler(spawn engine.Spawner, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{spawn: spawn, logger: logger}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		CompressionMode: websocket.CompressionNoContextTakeover,
	})
	if err != nil {
		h.logger.Warn("worker_accept_failed", zap.Error(err))
		return
	}
	logger := h.logger.With(zap.String("remote", r.RemoteAddr))

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	var writeMu sync.Mutex
	emit := func(rep engine.Reply) {
		f, err := engine.EncodeReply(rep)
		if err != nil {
			logger.Warn("worker_encode_failed", zap.Error(err))
			return
		}
		writeMu.Lock()
		wctx, wcancel := context.WithTimeout(ctx, writeTimeout)
		err = wsjson.Write(wctx, conn, f)
		wcancel()
		writeMu.Unlock()
		if err != nil {
			logger.Warn("worker_write_failed", zap.String("type", f.Type), zap.Error(err))
		}
		if _, crashed := rep.(engine.CrashReply); crashed {
			cancel()
		}
	}

	unit, err := h.spawn(ctx, emit)
	if err != nil {
		logger.Error("worker_spawn_failed", zap.Error(err))
		emit(engine.CrashReply{Reason: err.Error()})
		_ = conn.Close(websocket.StatusInternalError, "spawn failed")
		return
	}
	defer func() { _ = unit.Terminate() }()
	logger.Info("worker_session_start")

	for {
		var f engine.Frame
		if err := wsjson.Read(ctx, conn, &f); err != nil {
			status := websocket.CloseStatus(err)
			if status != websocket.StatusNormalClosure && status != websocket.StatusGoingAway && ctx.Err() == nil {
				logger.Warn("worker_read_failed", zap.Error(err))
			}
			break
		}
		req, err := engine.DecodeRequest(f)
		if err != nil {
			logger.Warn("worker_frame_invalid", zap.String("type", f.Type), zap.Error(err))
			continue
		}
		if err := unit.Post(req); err != nil {
			logger.Warn("worker_post_failed", zap.String("type", f.Type), zap.Error(err))
			emit(engine.CrashReply{Reason: err.Error()})
			break
		}
	}
	logger.Info("worker_session_end")
	_ = conn.Close(websocket.StatusNormalClosure, "")
}

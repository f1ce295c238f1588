// Package httpapi serves health, metrics, rendered evaluation bars and
// finished games over fasthttp.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
	"go.uber.org/zap"

	"github.com/park285/carp-board/internal/evalbar"
	"github.com/park285/carp-board/internal/score"
	"github.com/park285/carp-board/internal/session"
)

const (
	lookupTimeout = 3 * time.Second
	maxRecent     = 100
)

type Config struct {
	Games    session.Repository
	Gatherer prometheus.Gatherer
	// Live reports the number of running board sessions for /healthz.
	Live   func() int
	Logger *zap.Logger
}

type Server struct {
	games   session.Repository
	live    func() int
	logger  *zap.Logger
	metrics fasthttp.RequestHandler
	srv     *fasthttp.Server
}

func New(cfg Config) *Server {
	s := &Server{games: cfg.Games, live: cfg.Live, logger: cfg.Logger}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.games == nil {
		s.games = session.NewMemoryRepository()
	}
	gatherer := cfg.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	s.metrics = fasthttpadaptor.NewFastHTTPHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	s.srv = &fasthttp.Server{
		Handler:      s.Handle,
		Name:         "carp-board",
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) ListenAndServe(addr string) error {
	s.logger.Info("http_listen", zap.String("addr", addr))
	return s.srv.ListenAndServe(addr)
}

func (s *Server) Serve(ln net.Listener) error { return s.srv.Serve(ln) }

func (s *Server) Shutdown(ctx context.Context) error { return s.srv.ShutdownWithContext(ctx) }

// Handle routes one request.
func (s *Server) Handle(ctx *fasthttp.RequestCtx) {
	if !ctx.IsGet() && !ctx.IsHead() {
		ctx.Error("method not allowed", fasthttp.StatusMethodNotAllowed)
		return
	}
	path := string(ctx.Path())
	switch {
	case path == "/healthz":
		s.health(ctx)
	case path == "/metrics":
		s.metrics(ctx)
	case path == "/evalbar.png":
		s.evalbarPNG(ctx)
	case path == "/games":
		s.recentGames(ctx)
	case strings.HasPrefix(path, "/games/"):
		s.game(ctx, strings.TrimPrefix(path, "/games/"))
	default:
		ctx.Error("not found", fasthttp.StatusNotFound)
	}
}

type healthResponse struct {
	Status   string `json:"status"`
	Sessions int    `json:"sessions"`
}

func (s *Server) health(ctx *fasthttp.RequestCtx) {
	resp := healthResponse{Status: "ok"}
	if s.live != nil {
		resp.Sessions = s.live()
	}
	writeJSON(ctx, fasthttp.StatusOK, resp)
}

// evalbarPNG renders /evalbar.png?mode=cp|wdl&type=Cp&val=..&w=..&d=..&l=..&w_px=..&h=..
func (s *Server) evalbarPNG(ctx *fasthttp.RequestCtx) {
	args := ctx.QueryArgs()
	mode, err := evalbar.ParseMode(string(args.Peek("mode")))
	if err != nil {
		ctx.Error(err.Error(), fasthttp.StatusBadRequest)
		return
	}
	typ, err := score.ParseType(string(args.Peek("type")))
	if err != nil {
		ctx.Error(err.Error(), fasthttp.StatusBadRequest)
		return
	}
	// val may be negative, the WDL permille never is
	val, _ := strconv.Atoi(string(args.Peek("val")))
	sc := score.Score{
		Val: val,
		W:   args.GetUintOrZero("w"),
		D:   args.GetUintOrZero("d"),
		L:   args.GetUintOrZero("l"),
	}

	layout := evalbar.Evaluate(mode, typ, sc)
	if args.Has("reset") {
		layout = evalbar.Reset(mode)
	}
	img, err := evalbar.RenderPNG(layout, evalbar.RenderOptions{
		Width:  args.GetUintOrZero("w_px"),
		Height: args.GetUintOrZero("h"),
	})
	if err != nil {
		s.logger.Error("http_evalbar_render_failed", zap.Error(err))
		ctx.Error("render failed", fasthttp.StatusInternalServerError)
		return
	}
	ctx.Response.Header.Set("Cache-Control", "public, max-age=3600")
	ctx.SetContentType("image/png")
	ctx.SetBody(img)
}

func (s *Server) game(ctx *fasthttp.RequestCtx, rawID string) {
	id, err := strconv.ParseInt(strings.Trim(rawID, "/"), 10, 64)
	if err != nil || id <= 0 {
		ctx.Error("invalid game id", fasthttp.StatusBadRequest)
		return
	}
	lookup, cancel := context.WithTimeout(context.Background(), lookupTimeout)
	defer cancel()
	g, err := s.games.GetGame(lookup, id)
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		ctx.Error("lookup timed out", fasthttp.StatusGatewayTimeout)
		return
	case err != nil:
		s.logger.Error("http_game_lookup_failed", zap.Int64("game_id", id), zap.Error(err))
		ctx.Error("lookup failed", fasthttp.StatusInternalServerError)
		return
	case g == nil:
		ctx.Error("game not found", fasthttp.StatusNotFound)
		return
	}
	if string(ctx.QueryArgs().Peek("format")) == "pgn" {
		ctx.SetContentType("application/x-chess-pgn")
		ctx.SetBodyString(g.PGN)
		return
	}
	writeJSON(ctx, fasthttp.StatusOK, g)
}

// recentGames lists /games?session=<id>&limit=N, newest first.
func (s *Server) recentGames(ctx *fasthttp.RequestCtx) {
	args := ctx.QueryArgs()
	sessionID := strings.TrimSpace(string(args.Peek("session")))
	if sessionID == "" {
		ctx.Error("session is required", fasthttp.StatusBadRequest)
		return
	}
	limit := 10
	if args.Has("limit") {
		n, err := args.GetUint("limit")
		if err != nil || n == 0 {
			ctx.Error("invalid limit", fasthttp.StatusBadRequest)
			return
		}
		limit = min(n, maxRecent)
	}
	lookup, cancel := context.WithTimeout(context.Background(), lookupTimeout)
	defer cancel()
	games, err := s.games.RecentGames(lookup, sessionID, limit)
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		ctx.Error("lookup timed out", fasthttp.StatusGatewayTimeout)
		return
	case err != nil:
		s.logger.Error("http_recent_games_failed", zap.String("session_id", sessionID), zap.Error(err))
		ctx.Error("lookup failed", fasthttp.StatusInternalServerError)
		return
	}
	if games == nil {
		games = []*session.GameRecord{}
	}
	writeJSON(ctx, fasthttp.StatusOK, games)
}

func writeJSON(ctx *fasthttp.RequestCtx, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		ctx.Error("encode failed", fasthttp.StatusInternalServerError)
		return
	}
	ctx.SetStatusCode(status)
	ctx.SetContentType("application/json")
	ctx.SetBody(body)
}

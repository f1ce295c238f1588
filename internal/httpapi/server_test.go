package httpapi

import (
	"bytes"
	"context"
	"errors"
	"image/png"
	"net"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttputil"

	"github.com/park285/carp-board/internal/apiclient"
	"github.com/park285/carp-board/internal/metrics"
	"github.com/park285/carp-board/internal/session"
)

func startServer(t *testing.T, repo session.Repository, reg *prometheus.Registry) *apiclient.Client {
	t.Helper()
	srv := New(Config{Games: repo, Gatherer: reg, Live: func() int { return 2 }})
	ln := fasthttputil.NewInmemoryListener()
	go func() { _ = srv.Serve(ln) }()
	t.Cleanup(func() { _ = ln.Close() })
	return apiclient.New("http://board.test", apiclient.WithRetry(1), apiclient.WithDial(func(string) (net.Conn, error) { return ln.Dial() }))
}

func TestHealthz(t *testing.T) {
	client := startServer(t, nil, prometheus.NewRegistry())
	h, err := client.Health(context.Background())
	if err != nil {
		t.Fatalf("Health: %v", err)
	}
	if h.Status != "ok" || h.Sessions != 2 {
		t.Fatalf("health = %+v", h)
	}
}

func TestGameLookup(t *testing.T) {
	repo := session.NewMemoryRepository()
	now := time.Now().UTC()
	id, err := repo.InsertGame(context.Background(), &session.GameRecord{
		SessionID: "s1",
		Result:    "black",
		MovesSAN:  []string{"f3", "e5", "g4", "Qh4#"},
		PGN:       "1. f3 e5 2. g4 Qh4# 0-1",
		StartedAt: now,
		EndedAt:   now,
	})
	if err != nil {
		t.Fatalf("InsertGame: %v", err)
	}
	client := startServer(t, repo, prometheus.NewRegistry())
	ctx := context.Background()

	g, err := client.Game(ctx, id)
	if err != nil {
		t.Fatalf("Game: %v", err)
	}
	if g.Result != "black" || len(g.MovesSAN) != 4 {
		t.Fatalf("game = %+v", g)
	}
	pgn, err := client.GamePGN(ctx, id)
	if err != nil || !strings.HasSuffix(pgn, "0-1") {
		t.Fatalf("GamePGN = %q, %v", pgn, err)
	}
	if _, err := client.Game(ctx, id+1); !errors.Is(err, apiclient.ErrNotFound) {
		t.Fatalf("missing game err = %v", err)
	}
}

func TestRecentGamesBySession(t *testing.T) {
	repo := session.NewMemoryRepository()
	ctx := context.Background()
	base := time.Now().UTC()
	for i, sid := range []string{"s1", "s2", "s1", "s1"} {
		at := base.Add(time.Duration(i) * time.Minute)
		if _, err := repo.InsertGame(ctx, &session.GameRecord{SessionID: sid, Result: "draw", StartedAt: at, EndedAt: at}); err != nil {
			t.Fatalf("InsertGame %d: %v", i, err)
		}
	}
	client := startServer(t, repo, prometheus.NewRegistry())

	games, err := client.RecentGames(ctx, "s1", 2)
	if err != nil {
		t.Fatalf("RecentGames: %v", err)
	}
	if len(games) != 2 || !games[0].EndedAt.After(games[1].EndedAt) {
		t.Fatalf("games = %+v", games)
	}
	for _, g := range games {
		if g.SessionID != "s1" {
			t.Fatalf("foreign game %+v", g)
		}
	}

	games, err = client.RecentGames(ctx, "nobody", 0)
	if err != nil || games == nil || len(games) != 0 {
		t.Fatalf("empty session = %v, %v", games, err)
	}
}

func TestEvalbarPNG(t *testing.T) {
	client := startServer(t, nil, prometheus.NewRegistry())
	raw, err := client.EvalbarPNG(context.Background(), url.Values{
		"mode": {"wdl"}, "w": {"600"}, "d": {"300"}, "l": {"100"}, "w_px": {"32"}, "h": {"200"},
	})
	if err != nil {
		t.Fatalf("EvalbarPNG: %v", err)
	}
	img, err := png.Decode(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 32 || b.Dy() != 200 {
		t.Fatalf("bounds = %v", b)
	}
}

func TestHandleRejects(t *testing.T) {
	srv := New(Config{Gatherer: prometheus.NewRegistry()})
	cases := []struct {
		method string
		uri    string
		status int
	}{
		{fasthttp.MethodPost, "/healthz", fasthttp.StatusMethodNotAllowed},
		{fasthttp.MethodGet, "/nope", fasthttp.StatusNotFound},
		{fasthttp.MethodGet, "/games/abc", fasthttp.StatusBadRequest},
		{fasthttp.MethodGet, "/games", fasthttp.StatusBadRequest},
		{fasthttp.MethodGet, "/games?session=s1&limit=x", fasthttp.StatusBadRequest},
		{fasthttp.MethodGet, "/games?session=s1&limit=0", fasthttp.StatusBadRequest},
		{fasthttp.MethodGet, "/evalbar.png?mode=pie", fasthttp.StatusBadRequest},
		{fasthttp.MethodGet, "/evalbar.png?type=Draw", fasthttp.StatusBadRequest},
	}
	for _, tc := range cases {
		var ctx fasthttp.RequestCtx
		ctx.Request.Header.SetMethod(tc.method)
		ctx.Request.SetRequestURI(tc.uri)
		srv.Handle(&ctx)
		if got := ctx.Response.StatusCode(); got != tc.status {
			t.Fatalf("%s %s: status %d, want %d", tc.method, tc.uri, got, tc.status)
		}
	}
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	m.SessionOpened()
	m.SearchIssued()

	srv := New(Config{Gatherer: reg})
	var ctx fasthttp.RequestCtx
	ctx.Request.Header.SetMethod(fasthttp.MethodGet)
	ctx.Request.SetRequestURI("/metrics")
	srv.Handle(&ctx)

	body := string(ctx.Response.Body())
	for _, want := range []string{"carp_sessions_active 1", "carp_engine_searches_total 1"} {
		if !strings.Contains(body, want) {
			t.Fatalf("metrics missing %q:\n%s", want, body)
		}
	}
}

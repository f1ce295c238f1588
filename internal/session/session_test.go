package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/park285/carp-board/internal/chess"
	"github.com/park285/carp-board/internal/coordinator"
	"github.com/park285/carp-board/internal/engine"
	"github.com/park285/carp-board/internal/score"
)

// scriptedUnit answers every search with the first legal move it finds.
type scriptedUnit struct {
	emit  engine.Emitter
	ready bool
	rules *chess.Rules
}

func (u *scriptedUnit) Post(r engine.Request) error {
	switch r := r.(type) {
	case engine.InitRequest:
		if u.ready {
			u.emit(engine.ReadyReply{})
		}
	case engine.SearchRequest:
		mv, ok := firstLegal(u.rules, chess.Position(r.Position))
		if !ok {
			return errors.New("no legal move")
		}
		u.emit(engine.SearchInfo{Seq: r.Seq, Depth: 1, ScoreType: score.Cp, Score: score.Score{Val: 10, W: 300, D: 500, L: 200}})
		u.emit(engine.PickReply{Seq: r.Seq, Move: mv.String()})
	}
	return nil
}

func (u *scriptedUnit) Terminate() error { return nil }

func firstLegal(rules *chess.Rules, p chess.Position) (chess.Move, bool) {
	for rank := '1'; rank <= '8'; rank++ {
		for file := 'a'; file <= 'h'; file++ {
			if moves := rules.MovesFrom(p, chess.Square(string([]rune{file, rank}))); len(moves) > 0 {
				return moves[0], true
			}
		}
	}
	return chess.Move{}, false
}

type scriptedSpawner struct {
	ready  atomic.Bool
	spawns atomic.Int32
}

func (s *scriptedSpawner) spawn(ctx context.Context, emit engine.Emitter) (engine.Unit, error) {
	s.spawns.Add(1)
	return &scriptedUnit{emit: emit, ready: s.ready.Load(), rules: chess.NewRules()}, nil
}

type syncBoard struct {
	mu       sync.Mutex
	position chess.Position
	inputOn  bool
}

func (b *syncBoard) SetPosition(fen chess.Position, animate bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.position = fen
}
func (b *syncBoard) SetOrientation(chess.Side)                      {}
func (b *syncBoard) AddMarker(coordinator.MarkerKind, chess.Square) {}
func (b *syncBoard) RemoveMarkers(coordinator.MarkerKind)           {}
func (b *syncBoard) RemoveMarkersAt(chess.Square)                   {}
func (b *syncBoard) ShowPromotionDialog(chess.Square, chess.Side)   {}
func (b *syncBoard) CanPromptPromotion() bool                       { return false }
func (b *syncBoard) EnableMoveInput()                               { b.setInput(true) }
func (b *syncBoard) DisableMoveInput()                              { b.setInput(false) }

func (b *syncBoard) setInput(on bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.inputOn = on
}

func (b *syncBoard) state() (chess.Position, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.position, b.inputOn
}

type syncDisplay struct {
	mu       sync.Mutex
	overlays map[coordinator.OverlayKind]string
	evals    int
}

func newSyncDisplay() *syncDisplay {
	return &syncDisplay{overlays: make(map[coordinator.OverlayKind]string)}
}

func (d *syncDisplay) ShowEvaluation(score.Type, score.Score) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.evals++
}
func (d *syncDisplay) ResetEvaluation() {}
func (d *syncDisplay) ShowOverlay(kind coordinator.OverlayKind, text string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.overlays[kind] = text
}
func (d *syncDisplay) HideOverlay(kind coordinator.OverlayKind) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.overlays, kind)
}

func (d *syncDisplay) showing(kind coordinator.OverlayKind) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.overlays[kind]
	return ok
}

type recordingNotifier struct {
	mu       sync.Mutex
	rejected []chess.Position
	limits   []chess.SearchLimits
	hovers   map[chess.Square][]chess.Square
}

func (n *recordingNotifier) HoverTargets(sq chess.Square, targets []chess.Square) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.hovers == nil {
		n.hovers = make(map[chess.Square][]chess.Square)
	}
	n.hovers[sq] = targets
}
func (n *recordingNotifier) FENRejected(current chess.Position) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.rejected = append(n.rejected, current)
}
func (n *recordingNotifier) SearchChanged(l chess.SearchLimits) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.limits = append(n.limits, l)
}

type sessionHarness struct {
	sess     *Session
	spawner  *scriptedSpawner
	board    *syncBoard
	display  *syncDisplay
	notifier *recordingNotifier
	store    Store
	repo     Repository
}

const testSessionID = "6f1c2d4e-8a9b-4c3d-9e1f-0a1b2c3d4e5f"

func startSession(t *testing.T, store Store, ready bool, wd engine.WatchdogConfig) *sessionHarness {
	t.Helper()
	h := &sessionHarness{
		spawner:  &scriptedSpawner{},
		board:    &syncBoard{},
		display:  newSyncDisplay(),
		notifier: &recordingNotifier{},
		store:    store,
		repo:     NewMemoryRepository(),
	}
	h.spawner.ready.Store(ready)
	h.sess = New(Config{
		ID:         testSessionID,
		Watchdog:   wd,
		Store:      store,
		Repository: h.repo,
	}, h.spawner.spawn, h.board, h.display, h.notifier)

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = h.sess.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-h.sess.Done()
	})
	return h
}

func (h *sessionHarness) post(t *testing.T, cmd Command) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := h.sess.Post(ctx, cmd); err != nil {
		t.Fatalf("Post(%T): %v", cmd, err)
	}
}

func waitUntil(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func storedMoves(t *testing.T, store Store) func() int {
	return func() int {
		snap, err := store.Load(context.Background(), testSessionID)
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if snap == nil {
			return -1
		}
		return len(snap.MovesUCI)
	}
}

func TestSessionPlaysAgainstEngine(t *testing.T) {
	store := NewMemoryStore()
	h := startSession(t, store, true, engine.WatchdogConfig{})

	waitUntil(t, "input enabled", func() bool {
		_, on := h.board.state()
		return on && !h.display.showing(coordinator.OverlayLoading)
	})

	h.post(t, Input{Event: coordinator.Dropped{From: "e2", To: "e4"}})
	moves := storedMoves(t, store)
	waitUntil(t, "engine reply", func() bool { return moves() == 2 })

	snap, _ := store.Load(context.Background(), testSessionID)
	if snap.MovesUCI[0] != "e2e4" || snap.MovesSAN[0] != "e4" {
		t.Fatalf("first move = %s / %s", snap.MovesUCI[0], snap.MovesSAN[0])
	}
	if snap.StartFEN != string(chess.StartPosition) || snap.Human != "white" {
		t.Fatalf("snapshot header = %+v", snap)
	}
	waitUntil(t, "board shows the engine move", func() bool {
		pos, on := h.board.state()
		return string(pos) == snap.FEN && on
	})
}

func TestSessionResumesStoredGame(t *testing.T) {
	store := NewMemoryStore()
	after, _ := chess.NewRules().ApplyMove(chess.StartPosition, chess.Move{From: "d2", To: "d4"})
	after, _ = chess.NewRules().ApplyMove(after, chess.Move{From: "d7", To: "d5"})
	err := store.Save(context.Background(), &Snapshot{
		ID:       testSessionID,
		StartFEN: string(chess.StartPosition),
		FEN:      string(after),
		Human:    "white",
		MovesUCI: []string{"d2d4", "d7d5"},
		MovesSAN: []string{"d4", "d5"},
		Search:   "movetime 250",
	})
	if err != nil {
		t.Fatalf("Save: %v", err)
	}

	h := startSession(t, store, true, engine.WatchdogConfig{})
	waitUntil(t, "resumed position", func() bool {
		pos, on := h.board.state()
		return pos == after && on
	})

	h.post(t, Input{Event: coordinator.Dropped{From: "c2", To: "c4"}})
	waitUntil(t, "moves appended to the resumed record", func() bool { return storedMoves(t, store)() == 4 })
	snap, _ := store.Load(context.Background(), testSessionID)
	if snap.MovesSAN[2] != "c4" || snap.Search != "movetime 250" {
		t.Fatalf("snapshot = %+v", snap)
	}
}

func TestSessionRejectsInvalidFEN(t *testing.T) {
	h := startSession(t, NewMemoryStore(), true, engine.WatchdogConfig{})
	h.post(t, NewGame{FEN: "not a fen"})
	waitUntil(t, "rejection", func() bool {
		h.notifier.mu.Lock()
		defer h.notifier.mu.Unlock()
		return len(h.notifier.rejected) == 1
	})
	if h.notifier.rejected[0] != chess.StartPosition {
		t.Fatalf("echoed %q", h.notifier.rejected[0])
	}
	if n := h.spawner.spawns.Load(); n != 1 {
		t.Fatalf("invalid fen restarted the engine: %d spawns", n)
	}
}

func TestSessionNewGameRestartsEngine(t *testing.T) {
	store := NewMemoryStore()
	h := startSession(t, store, true, engine.WatchdogConfig{})
	waitUntil(t, "ready", func() bool { return !h.display.showing(coordinator.OverlayLoading) })

	// Unchanged position is a no-op.
	h.post(t, NewGame{FEN: string(chess.StartPosition)})
	const blackToMove = "rnbqkbnr/pppppppp/8/8/4P3/8/PPPP1PPP/RNBQKBNR b KQkq - 0 1"
	h.post(t, NewGame{FEN: blackToMove})

	waitUntil(t, "new game stored", func() bool {
		snap, _ := store.Load(context.Background(), testSessionID)
		return snap != nil && snap.StartFEN == blackToMove && snap.Human == "black"
	})
	if n := h.spawner.spawns.Load(); n != 2 {
		t.Fatalf("spawns = %d, want 2", n)
	}
}

func TestSessionRecordsFinishedGame(t *testing.T) {
	h := startSession(t, NewMemoryStore(), true, engine.WatchdogConfig{})
	const scholar = "r1bqkb1r/pppp1ppp/2n2n2/4p2Q/2B1P3/8/PPPP1PPP/RNB1K1NR w KQkq - 4 4"
	h.post(t, NewGame{FEN: scholar})
	h.post(t, Input{Event: coordinator.Dropped{From: "h5", To: "f7"}})

	var games []*GameRecord
	waitUntil(t, "recorded game", func() bool {
		games, _ = h.repo.RecentGames(context.Background(), testSessionID, 5)
		return len(games) == 1
	})
	g := games[0]
	if g.Result != "white" || g.Termination != "checkmate" || g.StartFEN != scholar {
		t.Fatalf("game = %+v", g)
	}
	if !strings.Contains(g.PGN, "4. Qxf7") || !strings.HasSuffix(g.PGN, "1-0") {
		t.Fatalf("pgn = %q", g.PGN)
	}
	if !h.display.showing(coordinator.OverlayGameOver) {
		t.Fatalf("game over overlay missing")
	}
}

func TestSessionRecordsDecidedStartPosition(t *testing.T) {
	store := NewMemoryStore()
	h := startSession(t, store, true, engine.WatchdogConfig{})
	waitUntil(t, "input enabled", func() bool {
		_, on := h.board.state()
		return on && !h.display.showing(coordinator.OverlayLoading)
	})
	h.post(t, Input{Event: coordinator.Dropped{From: "e2", To: "e4"}})
	waitUntil(t, "engine reply", func() bool { return storedMoves(t, store)() == 2 })

	const foolsMate = "rnb1kbnr/pppp1ppp/8/4p3/6Pq/5P2/PPPPP2P/RNBQKBNR w KQkq - 1 3"
	h.post(t, NewGame{FEN: foolsMate})

	var games []*GameRecord
	waitUntil(t, "recorded game", func() bool {
		games, _ = h.repo.RecentGames(context.Background(), testSessionID, 5)
		return len(games) == 1
	})
	g := games[0]
	if g.StartFEN != foolsMate || g.FinalFEN != foolsMate || len(g.MovesUCI) != 0 || len(g.MovesSAN) != 0 {
		t.Fatalf("game carries the previous game's record: %+v", g)
	}
	if g.Result != "black" || g.Termination != "checkmate" {
		t.Fatalf("game = %+v", g)
	}
	if strings.Contains(g.PGN, "1. e4") || !strings.HasSuffix(g.PGN, "0-1") {
		t.Fatalf("pgn = %q", g.PGN)
	}
	snap, _ := store.Load(context.Background(), testSessionID)
	if snap.StartFEN != foolsMate || len(snap.MovesUCI) != 0 {
		t.Fatalf("snapshot = %+v", snap)
	}
}

func TestSessionWatchdogThenRetry(t *testing.T) {
	h := startSession(t, NewMemoryStore(), false, engine.WatchdogConfig{Timeout: 20 * time.Millisecond, Attempts: 2})
	waitUntil(t, "engine unavailable overlay", func() bool { return h.display.showing(coordinator.OverlayEngineUnavailable) })
	if n := h.spawner.spawns.Load(); n != 2 {
		t.Fatalf("spawns = %d, want one per attempt", n)
	}

	h.spawner.ready.Store(true)
	h.post(t, Retry{})
	waitUntil(t, "overlays cleared", func() bool {
		return !h.display.showing(coordinator.OverlayEngineUnavailable) && !h.display.showing(coordinator.OverlayLoading)
	})
}

func TestSessionSearchSettingsAndHover(t *testing.T) {
	store := NewMemoryStore()
	h := startSession(t, store, true, engine.WatchdogConfig{})
	h.post(t, SetSearch{Mode: "depth", Value: 99})
	h.post(t, Hover{Square: "g1"})

	waitUntil(t, "hover answer", func() bool {
		h.notifier.mu.Lock()
		defer h.notifier.mu.Unlock()
		return len(h.notifier.hovers["g1"]) == 2
	})
	h.notifier.mu.Lock()
	limits := h.notifier.limits
	h.notifier.mu.Unlock()
	if len(limits) != 1 || limits[0].Value != 30 {
		t.Fatalf("limits = %+v", limits)
	}
	snap, _ := store.Load(context.Background(), testSessionID)
	if snap.Search != "depth 30" {
		t.Fatalf("stored search = %q", snap.Search)
	}
}

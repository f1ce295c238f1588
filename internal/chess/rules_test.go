package chess

import (
	"sort"
	"testing"
)

func targets(moves []Move) []string {
	out := make([]string, 0, len(moves))
	for _, m := range moves {
		out = append(out, string(m.To))
	}
	sort.Strings(out)
	return out
}

func TestMovesFromStartPawn(t *testing.T) {
	r := NewRules()
	got := targets(r.MovesFrom(StartPosition, "e2"))
	if len(got) != 2 || got[0] != "e3" || got[1] != "e4" {
		t.Fatalf("e2 targets: %v", got)
	}
	if moves := r.MovesFrom(StartPosition, "e7"); len(moves) != 0 {
		t.Fatalf("black pawn should have no moves with white to move: %v", moves)
	}
	if moves := r.MovesFrom(StartPosition, "e4"); len(moves) != 0 {
		t.Fatalf("empty square should have no moves: %v", moves)
	}
}

func TestApplyMoveAlternatesTurn(t *testing.T) {
	r := NewRules()
	pos := StartPosition
	for _, s := range []string{"e2e4", "e7e5", "g1f3", "b8c6", "f1b5"} {
		mv, err := ParseMove(s)
		if err != nil {
			t.Fatalf("ParseMove(%s): %v", s, err)
		}
		before := r.TurnToMove(pos)
		next, ok := r.ApplyMove(pos, mv)
		if !ok {
			t.Fatalf("ApplyMove(%s) rejected", s)
		}
		if r.TurnToMove(next) == before {
			t.Fatalf("turn did not alternate after %s", s)
		}
		pos = next
	}
}

func TestApplyMoveRejectsIllegal(t *testing.T) {
	r := NewRules()
	if _, ok := r.ApplyMove(StartPosition, Move{From: "e2", To: "e5"}); ok {
		t.Fatalf("e2e5 should be illegal")
	}
	if _, ok := r.ApplyMove(StartPosition, Move{From: "e7", To: "e5"}); ok {
		t.Fatalf("black move with white to move should be illegal")
	}
	if _, ok := r.ApplyMove("garbage", Move{From: "e2", To: "e4"}); ok {
		t.Fatalf("move on invalid position should fail")
	}
}

func TestPromotionMoves(t *testing.T) {
	r := NewRules()
	pos := Position("8/P7/8/8/8/8/8/k6K w - - 0 1")
	moves := r.MovesFrom(pos, "a7")
	if len(moves) != 4 {
		t.Fatalf("expected 4 promotion choices, got %d", len(moves))
	}
	for _, m := range moves {
		if m.Promotion == NoPiece {
			t.Fatalf("promotion move without piece: %+v", m)
		}
	}
	if _, ok := r.ApplyMove(pos, Move{From: "a7", To: "a8"}); ok {
		t.Fatalf("promotion without piece should be rejected")
	}
	next, ok := r.ApplyMove(pos, Move{From: "a7", To: "a8", Promotion: Knight})
	if !ok {
		t.Fatalf("a7a8n rejected")
	}
	if r.TurnToMove(next) != Black {
		t.Fatalf("expected black to move after promotion")
	}
}

func TestCheckmateDetection(t *testing.T) {
	r := NewRules()
	pos := StartPosition
	for _, s := range []string{"f2f3", "e7e5", "g2g4", "d8h4"} {
		mv, _ := ParseMove(s)
		next, ok := r.ApplyMove(pos, mv)
		if !ok {
			t.Fatalf("ApplyMove(%s) rejected", s)
		}
		pos = next
	}
	if !r.IsGameOver(pos) {
		t.Fatalf("fool's mate should be game over")
	}
	if !r.IsCheckmate(pos) {
		t.Fatalf("fool's mate should be checkmate")
	}
	if r.TurnToMove(pos) != White {
		t.Fatalf("white should be the mated side to move")
	}
	if r.IsGameOver(StartPosition) || r.IsCheckmate(StartPosition) {
		t.Fatalf("start position is not over")
	}
}

func TestStalemateIsNotCheckmate(t *testing.T) {
	r := NewRules()
	pos := Position("k7/8/1Q6/8/8/8/8/7K b - - 0 1")
	if !r.IsGameOver(pos) {
		t.Fatalf("stalemate should be game over")
	}
	if r.IsCheckmate(pos) {
		t.Fatalf("stalemate is not checkmate")
	}
}

func TestValidateFEN(t *testing.T) {
	r := NewRules()
	if !r.ValidateFEN(string(StartPosition)) {
		t.Fatalf("start position should validate")
	}
	for _, good := range []string{
		"rnb1kbnr/pppp1ppp/8/4p3/6Pq/5P2/PPPPP2P/RNBQKBNR w KQkq - 1 3",
		"4k3/8/8/8/8/8/3p4/4K3 w - - 0 1",
		"4k3/4p3/8/8/8/8/8/4R2K w - - 0 1",
	} {
		if !r.ValidateFEN(good) {
			t.Fatalf("%q should validate", good)
		}
	}
	for _, bad := range []string{
		"",
		"not a fen",
		"rnbqkbnr/pppppppp/8/8 w",
		"8/8/8/8/8/8/8/8 w - - 0 1",
		"4k3/8/8/8/8/8/8/8 w - - 0 1",
		"4k3/8/8/8/8/8/8/2K1K3 w - - 0 1",
		"4k3/8/8/8/8/8/8/4R2K w - - 0 1",
		"4k3/8/8/1B6/8/8/8/7K w - - 0 1",
		"4k3/8/3N4/8/8/8/8/7K w - - 0 1",
		"4k3/3P4/8/8/8/8/8/7K w - - 0 1",
		"8/8/8/8/8/8/8/Kk6 w - - 0 1",
	} {
		if r.ValidateFEN(bad) {
			t.Fatalf("%q should not validate", bad)
		}
		if _, err := r.Normalize(bad); err == nil {
			t.Fatalf("Normalize(%q) should fail", bad)
		}
	}
}

func TestFiftyMoveClockEndsGame(t *testing.T) {
	r := NewRules()
	if r.IsGameOver("4k3/8/8/8/8/8/8/4K2R w K - 99 60") {
		t.Fatalf("clock 99 should still be in play")
	}
	pos := Position("4k3/8/8/8/8/8/8/4K2R w K - 100 60")
	if !r.IsGameOver(pos) {
		t.Fatalf("clock 100 should end the game")
	}
	if r.IsCheckmate(pos) {
		t.Fatalf("fifty-move end is not checkmate")
	}
}

func TestSAN(t *testing.T) {
	r := NewRules()
	if got := r.SAN(StartPosition, Move{From: "g1", To: "f3"}); got != "Nf3" {
		t.Fatalf("SAN g1f3 = %q", got)
	}
}

func TestParseMove(t *testing.T) {
	mv, err := ParseMove("a7a8q")
	if err != nil {
		t.Fatalf("ParseMove: %v", err)
	}
	if mv.From != "a7" || mv.To != "a8" || mv.Promotion != Queen {
		t.Fatalf("unexpected move %+v", mv)
	}
	if mv.String() != "a7a8q" {
		t.Fatalf("String() = %q", mv.String())
	}
	for _, bad := range []string{"", "e2", "e2e9", "i2e4", "e7e8k"} {
		if _, err := ParseMove(bad); err == nil {
			t.Fatalf("%q should not parse", bad)
		}
	}
}

func TestSearchLimits(t *testing.T) {
	cases := []struct {
		mode  string
		value int
		want  string
	}{
		{"depth", 0, "depth 18"},
		{"depth", 99, "depth 30"},
		{"DEPTH", 12, "depth 12"},
		{"movetime", -5, "movetime 1000"},
		{"movetime", 5000000, "movetime 999999"},
		{"", 7, "depth 7"},
	}
	for _, tc := range cases {
		l, err := NewSearchLimits(tc.mode, tc.value)
		if err != nil {
			t.Fatalf("NewSearchLimits(%q,%d): %v", tc.mode, tc.value, err)
		}
		if got := l.TimeControl(); got != tc.want {
			t.Fatalf("NewSearchLimits(%q,%d) = %q, want %q", tc.mode, tc.value, got, tc.want)
		}
	}
	if _, err := NewSearchLimits("nodes", 10); err == nil {
		t.Fatalf("unknown mode should fail")
	}
}

package uci

import (
	"testing"

	"github.com/park285/carp-board/internal/score"
)

func TestParseInfo(t *testing.T) {
	cases := []struct {
		line   string
		ok     bool
		typ    score.Type
		val    int
		depth  int
		pvHead string
	}{
		{"info depth 20 seldepth 28 multipv 1 score cp -45 wdl 50 600 350 nodes 1000 nps 500 time 2 pv d7d5 c2c4", true, score.Cp, -45, 20, "d7d5"},
		{"info depth 31 score mate 4 nodes 9 pv h5f7", true, score.Mate, 4, 31, "h5f7"},
		{"info depth 12 score mate -3 pv g8h8", true, score.Mated, 3, 12, "g8h8"},
		{"info depth 5 score cp 12 upperbound nodes 44", true, score.Cp, 12, 5, ""},
		{"info depth 3 currmove e2e4 currmovenumber 1", false, 0, 0, 0, ""},
		{"info string NNUE evaluation enabled", false, 0, 0, 0, ""},
	}
	for _, tc := range cases {
		info, ok := parseInfo(tc.line)
		if ok != tc.ok {
			t.Fatalf("%q: ok=%v", tc.line, ok)
		}
		if !ok {
			continue
		}
		if info.ScoreType != tc.typ || info.Score.Val != tc.val || info.Depth != tc.depth {
			t.Fatalf("%q: got %v %d depth %d", tc.line, info.ScoreType, info.Score.Val, info.Depth)
		}
		head := ""
		if len(info.PV) > 0 {
			head = info.PV[0]
		}
		if head != tc.pvHead {
			t.Fatalf("%q: pv head %q", tc.line, head)
		}
	}
}

func TestParseInfoEstimatesWDL(t *testing.T) {
	info, ok := parseInfo("info depth 8 score cp 0 pv e2e4")
	if !ok {
		t.Fatalf("parse failed")
	}
	if info.Score.W != info.Score.L || info.Score.W+info.Score.D+info.Score.L != 1000 {
		t.Fatalf("level score should be symmetric and sum to 1000: %+v", info.Score)
	}

	info, _ = parseInfo("info depth 8 score cp 400 pv e2e4")
	if info.Score.W <= info.Score.L {
		t.Fatalf("winning score should favour w: %+v", info.Score)
	}

	info, _ = parseInfo("info depth 8 score mate -2 pv e2e4")
	if info.Score.L != 1000 {
		t.Fatalf("mated score should be a certain loss: %+v", info.Score)
	}
}

func TestParsePerftNodes(t *testing.T) {
	if n, ok := parsePerftNodes("Nodes searched: 197281"); !ok || n != 197281 {
		t.Fatalf("got %d %v", n, ok)
	}
	if _, ok := parsePerftNodes("Nodes searched"); ok {
		t.Fatalf("missing count should fail")
	}
}

func TestBuildCommands(t *testing.T) {
	if got := buildPositionCommand("startpos"); got != "position startpos\n" {
		t.Fatalf("startpos: %q", got)
	}
	if got := buildPositionCommand("fen 8/8/8/8/8/8/8/k6K w - - 0 1"); got != "position fen 8/8/8/8/8/8/8/k6K w - - 0 1\n" {
		t.Fatalf("fen: %q", got)
	}
	if got, err := buildGoCommand("movetime 1000"); err != nil || got != "go movetime 1000\n" {
		t.Fatalf("go: %q %v", got, err)
	}
	if _, err := buildGoCommand("depth 1\nquit"); err == nil {
		t.Fatalf("multi-line time control accepted")
	}
}

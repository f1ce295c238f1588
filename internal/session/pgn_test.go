package session

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/park285/carp-board/internal/chess"
)

func TestBuildPGNFromStart(t *testing.T) {
	g := &GameRecord{
		StartFEN:    string(chess.StartPosition),
		Human:       "black",
		Result:      "white",
		Termination: "Checkmate",
		TimeControl: "depth 18",
		MovesSAN:    []string{"e4", "e5", "Qh5", "Nc6", "Bc4", "Nf6", "Qxf7#"},
		EndedAt:     time.Date(2024, 3, 9, 0, 0, 0, 0, time.UTC),
	}
	pgn := buildPGN(g)
	for _, want := range []string{
		`[Date "2024.03.09"]`,
		`[White "Engine"]`,
		`[Black "Human"]`,
		`[Termination "checkmate"]`,
		`[Result "1-0"]`,
		"1. e4 e5 2. Qh5 Nc6 3. Bc4 Nf6 4. Qxf7# 1-0",
	} {
		if !strings.Contains(pgn, want) {
			t.Fatalf("pgn missing %q:\n%s", want, pgn)
		}
	}
	if strings.Contains(pgn, "[FEN") {
		t.Fatalf("standard start must not carry a FEN header")
	}
}

func TestBuildPGNFromBlackToMove(t *testing.T) {
	g := &GameRecord{
		StartFEN: "rnbqkbnr/pppppppp/8/8/4P3/8/PPPP1PPP/RNBQKBNR b KQkq - 0 7",
		Human:    "white",
		Result:   "",
		MovesSAN: []string{"e5", "Nf3"},
	}
	pgn := buildPGN(g)
	if !strings.Contains(pgn, `[SetUp "1"]`) || !strings.Contains(pgn, "7... e5 8. Nf3 *") {
		t.Fatalf("pgn:\n%s", pgn)
	}
}

func TestSanitizePGN(t *testing.T) {
	if got := sanitizePGN(` a"b\c `); got != "a'b c" {
		t.Fatalf("sanitizePGN = %q", got)
	}
}

func TestMemoryRepository(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	started := time.Now()

	id, err := repo.InsertGame(ctx, &GameRecord{SessionID: "s", StartedAt: started, EndedAt: started.Add(time.Minute), Result: "draw"})
	if err != nil || id != 1 {
		t.Fatalf("InsertGame = %d, %v", id, err)
	}
	if _, err := repo.InsertGame(ctx, &GameRecord{SessionID: "s", StartedAt: started}); !errors.Is(err, ErrDuplicateGame) {
		t.Fatalf("duplicate insert err = %v", err)
	}
	if _, err := repo.InsertGame(ctx, &GameRecord{SessionID: "s", StartedAt: started.Add(time.Hour), EndedAt: started.Add(2 * time.Hour)}); err != nil {
		t.Fatalf("second game: %v", err)
	}

	g, err := repo.GetGame(ctx, id)
	if err != nil || g == nil || g.Result != "draw" {
		t.Fatalf("GetGame = %+v, %v", g, err)
	}
	if g, _ := repo.GetGame(ctx, 99); g != nil {
		t.Fatalf("unknown id returned %+v", g)
	}

	recent, _ := repo.RecentGames(ctx, "s", 1)
	if len(recent) != 1 || recent[0].ID != 2 {
		t.Fatalf("recent = %+v", recent)
	}
}

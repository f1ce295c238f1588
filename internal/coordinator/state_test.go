package coordinator

import (
	"testing"

	"github.com/park285/carp-board/internal/chess"
)

func staticTurn(moves map[chess.Square][]chess.Move) Turn {
	return Turn{
		HumanToMove: true,
		Human:       chess.White,
		CanPrompt:   true,
		MovesFrom:   func(sq chess.Square) []chess.Move { return moves[sq] },
	}
}

func TestNextIgnoresInputOutsideHumanPhases(t *testing.T) {
	turn := staticTurn(map[chess.Square][]chess.Move{"e2": {{From: "e2", To: "e4"}}})
	for _, phase := range []Phase{AwaitingOpponent, GameOver} {
		step := Next(State{Phase: phase}, turn, SquareClicked{Square: "e2"})
		if step.State.Phase != phase || len(step.Effects) != 0 {
			t.Fatalf("%v: got %+v", phase, step)
		}
	}

	turn.HumanToMove = false
	step := Next(State{}, turn, SquareClicked{Square: "e2"})
	if step.State.Phase != AwaitingSelection || len(step.Effects) != 0 {
		t.Fatalf("selection allowed on the engine's turn: %+v", step)
	}
}

func TestNextCommitCarriesTheSelectedMove(t *testing.T) {
	turn := staticTurn(map[chess.Square][]chess.Move{"g1": {{From: "g1", To: "f3"}, {From: "g1", To: "h3"}}})
	step := Next(State{}, turn, SquareClicked{Square: "g1"})
	if step.State.Phase != TargetChosen {
		t.Fatalf("phase = %v", step.State.Phase)
	}
	if _, ok := step.Effects[0].(ShowTargets); !ok {
		t.Fatalf("effects = %#v", step.Effects)
	}

	step = Next(step.State, turn, SquareClicked{Square: "f3"})
	if step.State.Phase != AwaitingSelection || len(step.Effects) != 2 {
		t.Fatalf("step = %#v", step)
	}
	commit, ok := step.Effects[1].(Commit)
	if !ok || commit.Move.String() != "g1f3" {
		t.Fatalf("effects = %#v", step.Effects)
	}
}

func TestNextPromotionChoice(t *testing.T) {
	var moves []chess.Move
	for _, k := range []chess.PieceKind{chess.Queen, chess.Rook, chess.Bishop, chess.Knight} {
		moves = append(moves, chess.Move{From: "b7", To: "b8", Promotion: k})
	}
	turn := staticTurn(map[chess.Square][]chess.Move{"b7": moves})

	step := Next(State{}, turn, Dropped{From: "b7", To: "b8"})
	if step.State.Phase != PendingPromotion || step.State.Pending.Promotion != chess.NoPiece {
		t.Fatalf("step = %#v", step)
	}
	pending := step.State

	// Other input is ignored while the prompt is open.
	if s := Next(pending, turn, SquareClicked{Square: "a1"}); s.State.Phase != PendingPromotion {
		t.Fatalf("prompt dismissed by a click")
	}

	step = Next(pending, turn, PromotionResolved{Piece: chess.Rook, OK: true})
	commit, ok := step.Effects[len(step.Effects)-1].(Commit)
	if !ok || commit.Move.String() != "b7b8r" {
		t.Fatalf("effects = %#v", step.Effects)
	}

	step = Next(pending, turn, PromotionResolved{Piece: chess.King, OK: true})
	if _, ok := step.Effects[len(step.Effects)-1].(Revert); !ok {
		t.Fatalf("king is not a promotion choice: %#v", step.Effects)
	}
}

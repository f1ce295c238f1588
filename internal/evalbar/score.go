// Package evalbar turns engine scores into display-ready evaluation bar layouts.
package evalbar

import (
	"github.com/park285/carp-board/internal/chess"
	"github.com/park285/carp-board/internal/score"
)

// Flip converts a score to the other side's perspective. Applying it twice is the identity.
func Flip(t score.Type, s score.Score) (score.Type, score.Score) {
	out := score.Score{Val: s.Val, W: s.L, D: s.D, L: s.W}
	switch t {
	case score.Mate:
		return score.Mated, out
	case score.Mated:
		return score.Mate, out
	}
	out.Val = -out.Val
	return t, out
}

// Normalize re-expresses a score reported for sideToMove from the display side's perspective.
func Normalize(t score.Type, s score.Score, sideToMove, display chess.Side) (score.Type, score.Score) {
	if sideToMove != display {
		return Flip(t, s)
	}
	return t, s
}

// Terminal is the final evaluation of a finished game, from White's perspective.
func Terminal(checkmate bool, sideToMove chess.Side) (score.Type, score.Score) {
	if !checkmate {
		return score.Cp, score.Score{Val: 0, W: 0, D: 1000, L: 0}
	}
	if sideToMove == chess.Black {
		return score.Mate, score.Score{Val: 1, W: 1000, D: 0, L: 0}
	}
	return score.Mated, score.Score{Val: 1, W: 0, D: 0, L: 1000}
}

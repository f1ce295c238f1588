package chess

import (
	"fmt"
	"strings"

	nchess "github.com/corentings/chess/v2"
)

// Rules answers legality questions about a single position. It keeps no state
// between calls: every call rebuilds the game from the FEN it is given.
type Rules struct{}

func NewRules() *Rules { return &Rules{} }

func load(p Position) (*nchess.Game, error) {
	fen := strings.TrimSpace(string(p))
	if fen == "" {
		return nil, fmt.Errorf("empty position")
	}
	opt, err := nchess.FEN(fen)
	if err != nil {
		return nil, fmt.Errorf("decode fen: %w", err)
	}
	return nchess.NewGame(opt), nil
}

// loadLegal is load plus the checks a decoder does not make: one king per
// side, and the side that just moved may not be left in check.
func loadLegal(p Position) (*nchess.Game, error) {
	g, err := load(p)
	if err != nil {
		return nil, err
	}
	pos := g.Position()
	board := pos.Board()
	kings := map[nchess.Color][]nchess.Square{}
	for sq, pc := range board.SquareMap() {
		if pc.Type() == nchess.King {
			kings[pc.Color()] = append(kings[pc.Color()], sq)
		}
	}
	for _, c := range []nchess.Color{nchess.White, nchess.Black} {
		if len(kings[c]) != 1 {
			return nil, fmt.Errorf("%s has %d kings", c.Name(), len(kings[c]))
		}
	}
	mover := pos.Turn()
	if attacked(board, kings[mover.Other()][0], mover) {
		return nil, fmt.Errorf("%s to move but %s is in check", mover.Name(), mover.Other().Name())
	}
	return g, nil
}

// ValidateFEN reports whether fen decodes to a position that can occur in play.
func (r *Rules) ValidateFEN(fen string) bool {
	_, err := loadLegal(Position(fen))
	return err == nil
}

// Normalize parses fen and returns the library's canonical rendering of it.
func (r *Rules) Normalize(fen string) (Position, error) {
	g, err := loadLegal(Position(fen))
	if err != nil {
		return "", err
	}
	return Position(g.FEN()), nil
}

// MovesFrom lists the legal moves of the piece on sq. Promotions appear once per piece choice.
func (r *Rules) MovesFrom(p Position, sq Square) []Move {
	g, err := load(p)
	if err != nil {
		return nil
	}
	var out []Move
	for _, m := range g.ValidMoves() {
		if m.S1().String() != string(sq) {
			continue
		}
		out = append(out, Move{
			From:      sq,
			To:        Square(m.S2().String()),
			Promotion: kindFromType(m.Promo()),
			Capture:   m.HasTag(nchess.Capture) || m.HasTag(nchess.EnPassant),
		})
	}
	return out
}

// ApplyMove returns the position after mv, or false when mv is illegal in p.
func (r *Rules) ApplyMove(p Position, mv Move) (Position, bool) {
	g, err := load(p)
	if err != nil {
		return "", false
	}
	if err := g.PushNotationMove(mv.String(), nchess.UCINotation{}, nil); err != nil {
		return "", false
	}
	return Position(g.FEN()), true
}

// SAN renders mv in standard algebraic notation relative to p.
func (r *Rules) SAN(p Position, mv Move) string {
	g, err := load(p)
	if err != nil {
		return mv.String()
	}
	pos := g.Position()
	decoded, err := nchess.UCINotation{}.Decode(pos, mv.String())
	if err != nil {
		return mv.String()
	}
	return nchess.AlgebraicNotation{}.Encode(pos, decoded)
}

// IsGameOver covers mate, stalemate, insufficient material and a halfmove
// clock that has reached the fifty-move limit.
func (r *Rules) IsGameOver(p Position) bool {
	g, err := load(p)
	if err != nil {
		return false
	}
	if g.Position().HalfMoveClock() >= fiftyMoveClock {
		return true
	}
	return g.Outcome() != nchess.NoOutcome || len(g.ValidMoves()) == 0
}

func (r *Rules) IsCheckmate(p Position) bool {
	g, err := load(p)
	if err != nil {
		return false
	}
	return g.Method() == nchess.Checkmate
}

func (r *Rules) TurnToMove(p Position) Side {
	g, err := load(p)
	if err != nil {
		return White
	}
	if g.Position().Turn() == nchess.Black {
		return Black
	}
	return White
}

const fiftyMoveClock = 100

var (
	knightSteps = [][2]int{{1, 2}, {2, 1}, {-1, 2}, {-2, 1}, {1, -2}, {2, -1}, {-1, -2}, {-2, -1}}
	kingSteps   = [][2]int{{1, 0}, {-1, 0}, {0, 1}, {0, -1}, {1, 1}, {1, -1}, {-1, 1}, {-1, -1}}
)

// attacked reports whether sq is attacked by a piece of colour by.
func attacked(b *nchess.Board, sq nchess.Square, by nchess.Color) bool {
	file, rank := int(sq.File()), int(sq.Rank())
	at := func(df, dr int) (nchess.Piece, bool) {
		f, r := file+df, rank+dr
		if f < 0 || f > 7 || r < 0 || r > 7 {
			return nchess.NoPiece, false
		}
		return b.Piece(nchess.NewSquare(nchess.File(f), nchess.Rank(r))), true
	}
	owns := func(pc nchess.Piece, types ...nchess.PieceType) bool {
		if pc == nchess.NoPiece || pc.Color() != by {
			return false
		}
		for _, t := range types {
			if pc.Type() == t {
				return true
			}
		}
		return false
	}
	for _, d := range knightSteps {
		if pc, _ := at(d[0], d[1]); owns(pc, nchess.Knight) {
			return true
		}
	}
	for _, d := range kingSteps {
		if pc, _ := at(d[0], d[1]); owns(pc, nchess.King) {
			return true
		}
	}
	// a white pawn attacks from the rank below the target
	pawnRank := -1
	if by == nchess.Black {
		pawnRank = 1
	}
	for _, df := range []int{-1, 1} {
		if pc, _ := at(df, pawnRank); owns(pc, nchess.Pawn) {
			return true
		}
	}
	for i, d := range kingSteps {
		slider := nchess.Rook
		if i >= 4 {
			slider = nchess.Bishop
		}
		for n := 1; ; n++ {
			pc, ok := at(d[0]*n, d[1]*n)
			if !ok {
				break
			}
			if pc == nchess.NoPiece {
				continue
			}
			if owns(pc, slider, nchess.Queen) {
				return true
			}
			break
		}
	}
	return false
}

func kindFromType(pt nchess.PieceType) PieceKind {
	switch pt {
	case nchess.Queen:
		return Queen
	case nchess.Rook:
		return Rook
	case nchess.Bishop:
		return Bishop
	case nchess.Knight:
		return Knight
	}
	return NoPiece
}

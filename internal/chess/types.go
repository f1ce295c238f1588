package chess

import (
	"fmt"
	"strings"
)

// Position is a FEN string produced by the rules library.
type Position string

// StartPosition is the standard initial position.
const StartPosition Position = "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1"

func (p Position) String() string { return string(p) }

type Side int

const (
	White Side = iota
	Black
)

func (s Side) Other() Side {
	if s == White {
		return Black
	}
	return White
}

func (s Side) String() string {
	if s == Black {
		return "black"
	}
	return "white"
}

// ParseSide accepts "white"/"black" and the single letter forms.
func ParseSide(s string) (Side, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "white", "w":
		return White, nil
	case "black", "b":
		return Black, nil
	}
	return White, fmt.Errorf("unknown side %q", s)
}

// Square is one of the 64 board labels, a1 through h8.
type Square string

func ParseSquare(s string) (Square, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if len(s) != 2 || s[0] < 'a' || s[0] > 'h' || s[1] < '1' || s[1] > '8' {
		return "", fmt.Errorf("invalid square %q", s)
	}
	return Square(s), nil
}

func (s Square) Valid() bool {
	_, err := ParseSquare(string(s))
	return err == nil
}

// Rank returns 1..8, or 0 for an invalid square.
func (s Square) Rank() int {
	if !s.Valid() {
		return 0
	}
	return int(s[1] - '0')
}

type PieceKind int

const (
	NoPiece PieceKind = iota
	Pawn
	Knight
	Bishop
	Rook
	Queen
	King
)

// PromotionLetter is the lowercase UCI suffix; empty for pieces that cannot be promoted to.
func (k PieceKind) PromotionLetter() string {
	switch k {
	case Queen:
		return "q"
	case Rook:
		return "r"
	case Bishop:
		return "b"
	case Knight:
		return "n"
	}
	return ""
}

func (k PieceKind) String() string {
	switch k {
	case Pawn:
		return "pawn"
	case Knight:
		return "knight"
	case Bishop:
		return "bishop"
	case Rook:
		return "rook"
	case Queen:
		return "queen"
	case King:
		return "king"
	}
	return ""
}

// ParsePromotion maps a piece name or letter to a promotion kind.
func ParsePromotion(s string) (PieceKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "q", "queen":
		return Queen, nil
	case "r", "rook":
		return Rook, nil
	case "b", "bishop":
		return Bishop, nil
	case "n", "knight":
		return Knight, nil
	}
	return NoPiece, fmt.Errorf("invalid promotion piece %q", s)
}

type Move struct {
	From      Square
	To        Square
	Promotion PieceKind
	// Capture is informational, set by the rules adapter for generated moves.
	Capture bool
}

// String renders the move in UCI long algebraic form, e.g. e7e8q.
func (m Move) String() string {
	return string(m.From) + string(m.To) + m.Promotion.PromotionLetter()
}

// ParseMove decodes a UCI move string such as "e2e4" or "a7a8q".
func ParseMove(s string) (Move, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if len(s) != 4 && len(s) != 5 {
		return Move{}, fmt.Errorf("invalid move %q", s)
	}
	from, err := ParseSquare(s[0:2])
	if err != nil {
		return Move{}, err
	}
	to, err := ParseSquare(s[2:4])
	if err != nil {
		return Move{}, err
	}
	mv := Move{From: from, To: to}
	if len(s) == 5 {
		p, err := ParsePromotion(s[4:])
		if err != nil {
			return Move{}, err
		}
		mv.Promotion = p
	}
	return mv, nil
}

package session

import (
	"fmt"
	"strings"
	"time"

	"github.com/park285/carp-board/internal/chess"
)

func mapResultToPGN(result string) string {
	switch strings.ToLower(strings.TrimSpace(result)) {
	case "white":
		return "1-0"
	case "black":
		return "0-1"
	case "draw":
		return "1/2-1/2"
	default:
		return "*"
	}
}

// buildPGN renders the record as PGN. Games that did not start from the
// initial position carry SetUp/FEN headers and may start on a black move.
func buildPGN(g *GameRecord) string {
	if g == nil {
		return ""
	}
	pgnResult := mapResultToPGN(g.Result)
	date := g.EndedAt
	if date.IsZero() {
		date = time.Now()
	}

	white, black := "Human", "Engine"
	if strings.EqualFold(g.Human, chess.Black.String()) {
		white, black = black, white
	}

	var b strings.Builder
	b.WriteString("[Event \"Carp Board\"]\n")
	b.WriteString("[Site \"carp-board\"]\n")
	b.WriteString(fmt.Sprintf("[Date \"%04d.%02d.%02d\"]\n", date.Year(), int(date.Month()), date.Day()))
	b.WriteString(fmt.Sprintf("[White \"%s\"]\n", white))
	b.WriteString(fmt.Sprintf("[Black \"%s\"]\n", black))
	if strings.TrimSpace(g.TimeControl) != "" {
		b.WriteString(fmt.Sprintf("[TimeControl \"%s\"]\n", sanitizePGN(g.TimeControl)))
	}
	if strings.TrimSpace(g.Termination) != "" {
		b.WriteString(fmt.Sprintf("[Termination \"%s\"]\n", sanitizePGN(strings.ToLower(g.Termination))))
	}
	start := strings.TrimSpace(g.StartFEN)
	if start != "" && start != string(chess.StartPosition) {
		b.WriteString("[SetUp \"1\"]\n")
		b.WriteString(fmt.Sprintf("[FEN \"%s\"]\n", sanitizePGN(start)))
	}
	b.WriteString(fmt.Sprintf("[Result \"%s\"]\n\n", pgnResult))

	turn, blackFirst := fenMoveNumber(start)
	moves := g.MovesSAN
	if blackFirst && len(moves) > 0 {
		b.WriteString(fmt.Sprintf("%d... %s ", turn, strings.TrimSpace(moves[0])))
		moves = moves[1:]
		turn++
	}
	for i := 0; i < len(moves); i += 2 {
		b.WriteString(fmt.Sprintf("%d. %s", turn, strings.TrimSpace(moves[i])))
		if i+1 < len(moves) {
			b.WriteString(" ")
			b.WriteString(strings.TrimSpace(moves[i+1]))
		}
		b.WriteString(" ")
		turn++
	}
	b.WriteString(pgnResult)
	return b.String()
}

// fenMoveNumber reads the fullmove number and side to move from a FEN.
func fenMoveNumber(fen string) (int, bool) {
	fields := strings.Fields(fen)
	if len(fields) < 6 {
		return 1, false
	}
	n := 1
	if _, err := fmt.Sscanf(fields[5], "%d", &n); err != nil || n < 1 {
		n = 1
	}
	return n, fields[1] == "b"
}

func sanitizePGN(s string) string {
	s = strings.ReplaceAll(s, "\\", " ")
	s = strings.ReplaceAll(s, "\"", "'")
	return strings.TrimSpace(s)
}

package session

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/park285/carp-board/internal/chess"
	"github.com/park285/carp-board/internal/coordinator"
)

// recorder is the coordinator listener of a Session. It runs on the session loop.
type recorder Session

func (r *recorder) MoveCommitted(before chess.Position, mv chess.Move, after chess.Position) {
	s := (*Session)(r)
	s.snap.MovesUCI = append(s.snap.MovesUCI, mv.String())
	s.snap.MovesSAN = append(s.snap.MovesSAN, s.rules.SAN(before, mv))
	s.snap.FEN = string(after)
	s.snap.UpdatedAt = time.Now().UTC()
	s.save(context.Background())
}

func (r *recorder) GameFinished(res coordinator.Result) {
	s := (*Session)(r)
	game := &GameRecord{
		SessionID:   s.id,
		StartFEN:    s.snap.StartFEN,
		FinalFEN:    string(res.Final),
		Human:       res.Human.String(),
		Result:      resultToken(res),
		Termination: "normal",
		TimeControl: s.coord.TimeControl(),
		MovesUCI:    append([]string(nil), s.snap.MovesUCI...),
		MovesSAN:    append([]string(nil), s.snap.MovesSAN...),
		StartedAt:   s.snap.StartedAt,
		EndedAt:     time.Now().UTC(),
	}
	if res.Checkmate {
		game.Termination = "checkmate"
	}
	if game.StartedAt.IsZero() {
		game.StartedAt = game.EndedAt
	}
	game.PGN = buildPGN(game)

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	id, err := s.repo.InsertGame(ctx, game)
	switch {
	case errors.Is(err, ErrDuplicateGame):
		s.logger.Debug("session_game_already_recorded")
	case err != nil:
		s.logger.Warn("session_game_record_failed", zap.Error(err))
	default:
		s.logger.Info("session_game_recorded",
			zap.Int64("game_id", id),
			zap.String("result", game.Result),
			zap.Stringer("outcome", res.Outcome))
	}
}

// resultToken names the winning color, or "draw".
func resultToken(res coordinator.Result) string {
	switch res.Outcome {
	case coordinator.HumanWon:
		return res.Human.String()
	case coordinator.HumanLost:
		return res.Human.Other().String()
	}
	return "draw"
}

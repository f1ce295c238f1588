package session

import (
	"errors"
	"time"
)

// Snapshot is what a reconnecting client needs to resume its board.
// It is stored as JSON under board:<id>.
type Snapshot struct {
	ID        string    `json:"id"`
	StartFEN  string    `json:"start_fen"`
	FEN       string    `json:"fen"`
	Human     string    `json:"human"`
	MovesUCI  []string  `json:"moves_uci"`
	MovesSAN  []string  `json:"moves_san"`
	Search    string    `json:"search,omitempty"`
	StartedAt time.Time `json:"started_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// GameRecord is a finished game as kept by the repository.
type GameRecord struct {
	ID          int64     `json:"id"`
	SessionID   string    `json:"session_id"`
	StartFEN    string    `json:"start_fen"`
	FinalFEN    string    `json:"final_fen"`
	Human       string    `json:"human"`
	Result      string    `json:"result"`
	Termination string    `json:"termination"`
	TimeControl string    `json:"time_control"`
	MovesUCI    []string  `json:"moves_uci"`
	MovesSAN    []string  `json:"moves_san"`
	PGN         string    `json:"pgn"`
	StartedAt   time.Time `json:"started_at"`
	EndedAt     time.Time `json:"ended_at"`
}

var (
	ErrDuplicateGame = errors.New("game already recorded")
	ErrClosed        = errors.New("session closed")
)

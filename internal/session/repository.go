package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	_ "github.com/lib/pq"
)

// Repository records finished games.
type Repository interface {
	InsertGame(ctx context.Context, game *GameRecord) (int64, error)
	GetGame(ctx context.Context, id int64) (*GameRecord, error)
	RecentGames(ctx context.Context, sessionID string, limit int) ([]*GameRecord, error)
}

const schema = `
CREATE TABLE IF NOT EXISTS board_games (
	id           BIGSERIAL PRIMARY KEY,
	session_id   TEXT        NOT NULL,
	start_fen    TEXT        NOT NULL,
	final_fen    TEXT        NOT NULL,
	human        TEXT        NOT NULL,
	result       TEXT        NOT NULL,
	termination  TEXT        NOT NULL,
	time_control TEXT        NOT NULL,
	moves_uci    JSONB       NOT NULL,
	moves_san    JSONB       NOT NULL,
	pgn          TEXT        NOT NULL,
	started_at   TIMESTAMPTZ NOT NULL,
	ended_at     TIMESTAMPTZ NOT NULL,
	UNIQUE (session_id, started_at)
)`

const selectColumns = `
	id, session_id, start_fen, final_fen, human, result, termination,
	time_control, moves_uci, moves_san, pgn, started_at, ended_at`

type repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) Repository {
	return &repository{db: db}
}

// OpenPostgres connects to databaseURL and creates the games table if needed.
func OpenPostgres(ctx context.Context, databaseURL string) (*sql.DB, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(8)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create board_games: %w", err)
	}
	return db, nil
}

func (r *repository) InsertGame(ctx context.Context, game *GameRecord) (int64, error) {
	if game == nil {
		return 0, fmt.Errorf("nil game record")
	}
	movesUCI, err := json.Marshal(nonNil(game.MovesUCI))
	if err != nil {
		return 0, fmt.Errorf("marshal moves_uci: %w", err)
	}
	movesSAN, err := json.Marshal(nonNil(game.MovesSAN))
	if err != nil {
		return 0, fmt.Errorf("marshal moves_san: %w", err)
	}

	const query = `
		INSERT INTO board_games (
			session_id, start_fen, final_fen, human, result, termination,
			time_control, moves_uci, moves_san, pgn, started_at, ended_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8::jsonb, $9::jsonb, $10, $11, $12)
		ON CONFLICT (session_id, started_at) DO NOTHING
		RETURNING id`

	var id sql.NullInt64
	err = r.db.QueryRowContext(ctx, query,
		game.SessionID,
		game.StartFEN,
		game.FinalFEN,
		game.Human,
		game.Result,
		game.Termination,
		game.TimeControl,
		movesUCI,
		movesSAN,
		game.PGN,
		game.StartedAt,
		game.EndedAt,
	).Scan(&id)
	if err == sql.ErrNoRows || (err == nil && !id.Valid) {
		return 0, ErrDuplicateGame
	}
	if err != nil {
		return 0, fmt.Errorf("insert board game: %w", err)
	}
	return id.Int64, nil
}

func (r *repository) GetGame(ctx context.Context, id int64) (*GameRecord, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM board_games WHERE id = $1`, id)
	game, err := scanGame(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select board game: %w", err)
	}
	return game, nil
}

func (r *repository) RecentGames(ctx context.Context, sessionID string, limit int) ([]*GameRecord, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+selectColumns+` FROM board_games WHERE session_id = $1 ORDER BY ended_at DESC LIMIT $2`,
		sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("select board games: %w", err)
	}
	defer rows.Close()

	games := make([]*GameRecord, 0, limit)
	for rows.Next() {
		game, err := scanGame(rows)
		if err != nil {
			return nil, fmt.Errorf("scan board game: %w", err)
		}
		games = append(games, game)
	}
	return games, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanGame(s scanner) (*GameRecord, error) {
	var (
		game         GameRecord
		movesUCIJSON []byte
		movesSANJSON []byte
	)
	if err := s.Scan(
		&game.ID,
		&game.SessionID,
		&game.StartFEN,
		&game.FinalFEN,
		&game.Human,
		&game.Result,
		&game.Termination,
		&game.TimeControl,
		&movesUCIJSON,
		&movesSANJSON,
		&game.PGN,
		&game.StartedAt,
		&game.EndedAt,
	); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(movesUCIJSON, &game.MovesUCI); err != nil {
		return nil, fmt.Errorf("unmarshal moves_uci: %w", err)
	}
	if err := json.Unmarshal(movesSANJSON, &game.MovesSAN); err != nil {
		return nil, fmt.Errorf("unmarshal moves_san: %w", err)
	}
	return &game, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// memrepo is the in-memory repository used when no database is configured.
type memrepo struct {
	mu     sync.RWMutex
	nextID int64
	games  map[int64]*GameRecord
	keys   map[string]int64
}

func NewMemoryRepository() Repository {
	return &memrepo{
		games: make(map[int64]*GameRecord),
		keys:  make(map[string]int64),
	}
}

func (m *memrepo) InsertGame(ctx context.Context, game *GameRecord) (int64, error) {
	if game == nil {
		return 0, fmt.Errorf("nil game record")
	}
	key := game.SessionID + "|" + game.StartedAt.UTC().Format(time.RFC3339Nano)

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.keys[key]; exists {
		return 0, ErrDuplicateGame
	}
	m.nextID++
	cp := *game
	cp.ID = m.nextID
	m.games[cp.ID] = &cp
	m.keys[key] = cp.ID
	return cp.ID, nil
}

func (m *memrepo) GetGame(ctx context.Context, id int64) (*GameRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	g, ok := m.games[id]
	if !ok {
		return nil, nil
	}
	cp := *g
	return &cp, nil
}

func (m *memrepo) RecentGames(ctx context.Context, sessionID string, limit int) ([]*GameRecord, error) {
	if limit <= 0 {
		limit = 10
	}
	m.mu.RLock()
	var out []*GameRecord
	for _, g := range m.games {
		if g.SessionID == sessionID {
			cp := *g
			out = append(out, &cp)
		}
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].EndedAt.After(out[j].EndedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

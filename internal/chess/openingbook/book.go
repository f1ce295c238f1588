// Package openingbook answers engine searches from a Polyglot opening book
// while the position is still in book.
package openingbook

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	chesslib "github.com/corentings/chess/v2"
	"go.uber.org/zap"

	"github.com/park285/carp-board/internal/chess"
	"github.com/park285/carp-board/internal/engine"
)

// Source picks a book move for a FEN.
type Source interface {
	Lookup(fen string) (string, bool)
}

type Book struct {
	book  *chesslib.PolyglotBook
	rules *chess.Rules
}

func LoadFromPath(path string) (*Book, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("polyglot book path required")
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open polyglot book %q: %w", path, err)
	}
	defer f.Close()
	b, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("load polyglot book %q: %w", path, err)
	}
	return b, nil
}

func LoadFromReader(r io.Reader) (*Book, error) {
	pb, err := chesslib.LoadFromReader(r)
	if err != nil {
		return nil, err
	}
	return &Book{book: pb, rules: chess.NewRules()}, nil
}

// Lookup returns the heaviest book move for fen in UCI notation. Moves that
// are illegal in the position are skipped.
func (b *Book) Lookup(fen string) (string, bool) {
	pos, err := b.rules.Normalize(strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(fen), "fen ")))
	if err != nil {
		return "", false
	}
	hashStr, err := chesslib.NewZobristHasher().HashPosition(string(pos))
	if err != nil {
		return "", false
	}
	entries := b.book.FindMoves(chesslib.ZobristHashToUint64(hashStr))

	best, bestWeight := "", -1
	for _, e := range entries {
		move := chesslib.DecodeMove(e.Move).ToMove()
		uci := move.String()
		mv, err := chess.ParseMove(uci)
		if err != nil {
			continue
		}
		if _, ok := b.rules.ApplyMove(pos, mv); !ok {
			continue
		}
		if int(e.Weight) > bestWeight {
			best, bestWeight = uci, int(e.Weight)
		}
	}
	return best, best != ""
}

// Wrap returns a spawner whose units answer in-book searches with an
// immediate pick and forward everything else to the unit from spawn.
func Wrap(spawn engine.Spawner, src Source, logger *zap.Logger) engine.Spawner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(ctx context.Context, emit engine.Emitter) (engine.Unit, error) {
		inner, err := spawn(ctx, emit)
		if err != nil {
			return nil, err
		}
		return &bookUnit{inner: inner, src: src, emit: emit, logger: logger}, nil
	}
}

type bookUnit struct {
	inner  engine.Unit
	src    Source
	emit   engine.Emitter
	logger *zap.Logger
}

func (u *bookUnit) Post(r engine.Request) error {
	if req, ok := r.(engine.SearchRequest); ok {
		if move, ok := u.src.Lookup(req.Position); ok {
			u.logger.Debug("book_move", zap.Uint64("seq", req.Seq), zap.String("move", move))
			u.emit(engine.PickReply{Seq: req.Seq, Move: move})
			return nil
		}
	}
	return u.inner.Post(r)
}

func (u *bookUnit) Terminate() error { return u.inner.Terminate() }

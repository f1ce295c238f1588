// Package coordinator owns the game position and reconciles board input, rules
// legality and engine replies into one serialized move stream.
//
// A Coordinator is not safe for concurrent use; callers drive it from a single loop.
package coordinator

import (
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/park285/carp-board/internal/chess"
	"github.com/park285/carp-board/internal/engine"
	"github.com/park285/carp-board/internal/evalbar"
	"github.com/park285/carp-board/internal/score"
)

var ErrInvalidFEN = errors.New("invalid fen")

type MarkerKind int

const (
	MarkerDot MarkerKind = iota
	MarkerCircle
	MarkerSquare
	MarkerLastMove
)

func (k MarkerKind) String() string {
	switch k {
	case MarkerDot:
		return "dot"
	case MarkerCircle:
		return "circle"
	case MarkerSquare:
		return "square"
	case MarkerLastMove:
		return "lastMove"
	}
	return "unknown"
}

type OverlayKind int

const (
	OverlayLoading OverlayKind = iota
	OverlayGameOver
	OverlayEngineUnavailable
)

func (k OverlayKind) String() string {
	switch k {
	case OverlayLoading:
		return "loading"
	case OverlayGameOver:
		return "gameOver"
	case OverlayEngineUnavailable:
		return "engineUnavailable"
	}
	return "unknown"
}

// Board is the rendering widget. Promotion answers come back as PromotionResolved input.
type Board interface {
	SetPosition(fen chess.Position, animate bool)
	SetOrientation(side chess.Side)
	AddMarker(kind MarkerKind, sq chess.Square)
	RemoveMarkers(kind MarkerKind)
	RemoveMarkersAt(sq chess.Square)
	EnableMoveInput()
	DisableMoveInput()
	ShowPromotionDialog(sq chess.Square, side chess.Side)
	CanPromptPromotion() bool
}

// Display shows evaluations already normalized to the display side.
type Display interface {
	ShowEvaluation(t score.Type, s score.Score)
	ResetEvaluation()
	ShowOverlay(kind OverlayKind, text string)
	HideOverlay(kind OverlayKind)
}

type Rules interface {
	MovesFrom(p chess.Position, sq chess.Square) []chess.Move
	ApplyMove(p chess.Position, mv chess.Move) (chess.Position, bool)
	IsGameOver(p chess.Position) bool
	IsCheckmate(p chess.Position) bool
	TurnToMove(p chess.Position) chess.Side
	ValidateFEN(fen string) bool
}

type Engine interface {
	Initialize(restart bool) *engine.Future
	RequestSearch(position, timeControl string) (engine.Ticket, bool)
}

type Outcome int

const (
	HumanWon Outcome = iota
	HumanLost
	Drawn
)

func (o Outcome) String() string {
	switch o {
	case HumanWon:
		return "win"
	case HumanLost:
		return "lose"
	}
	return "draw"
}

type Result struct {
	Outcome   Outcome
	Checkmate bool
	Human     chess.Side
	Final     chess.Position
}

// Listener observes committed moves and finished games.
type Listener interface {
	MoveCommitted(before chess.Position, mv chess.Move, after chess.Position)
	GameFinished(r Result)
}

type nopListener struct{}

func (nopListener) MoveCommitted(chess.Position, chess.Move, chess.Position) {}
func (nopListener) GameFinished(Result)                                      {}

var defaultTexts = map[string]string{
	"win":                "You win!",
	"lose":               "You lose!",
	"draw":               "It's a draw!",
	"loading":            "Loading...",
	"engine_unavailable": "Engine unavailable. Retry?",
}

type Config struct {
	TimeControl string
	// DisplaySide is the perspective evaluations are shown from.
	DisplaySide chess.Side
	// Text resolves overlay texts by key (win, lose, draw, loading, engine_unavailable).
	Text     func(key string) string
	Listener Listener
	Logger   *zap.Logger
}

type Coordinator struct {
	board    Board
	display  Display
	rules    Rules
	engine   Engine
	listener Listener
	logger   *zap.Logger
	text     func(string) string

	tc          string
	displaySide chess.Side

	position  chess.Position
	human     chess.Side
	state     State
	ticket    engine.Ticket
	searching bool
	inputOn   bool
}

func New(board Board, display Display, rules Rules, eng Engine, cfg Config) *Coordinator {
	c := &Coordinator{
		board:       board,
		display:     display,
		rules:       rules,
		engine:      eng,
		listener:    cfg.Listener,
		logger:      cfg.Logger,
		tc:          cfg.TimeControl,
		displaySide: cfg.DisplaySide,
		position:    chess.StartPosition,
	}
	if c.listener == nil {
		c.listener = nopListener{}
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	if c.tc == "" {
		c.tc = chess.DefaultSearchLimits().TimeControl()
	}
	c.text = func(key string) string {
		if cfg.Text != nil {
			if s := cfg.Text(key); s != "" {
				return s
			}
		}
		return defaultTexts[key]
	}
	return c
}

func (c *Coordinator) Position() chess.Position { return c.position }
func (c *Coordinator) Human() chess.Side        { return c.human }
func (c *Coordinator) State() State             { return c.state }
func (c *Coordinator) Phase() Phase             { return c.state.Phase }
func (c *Coordinator) TimeControl() string      { return c.tc }

// Outstanding returns the ticket of the search the coordinator is waiting on.
func (c *Coordinator) Outstanding() (engine.Ticket, bool) { return c.ticket, c.searching }

// SetTimeControl changes the limits used by the next search.
func (c *Coordinator) SetTimeControl(tc string) {
	if tc = strings.TrimSpace(tc); tc != "" {
		c.tc = tc
	}
}

// InputEnabled reports whether the human may interact with the board:
// only while selecting on the human's own turn.
func (c *Coordinator) InputEnabled() bool {
	if c.state.Phase != AwaitingSelection && c.state.Phase != TargetChosen {
		return false
	}
	return c.rules.TurnToMove(c.position) == c.human
}

// NewGame replaces the position. The human plays the side to move unless human is given.
// An invalid fen leaves the current game untouched.
func (c *Coordinator) NewGame(fen string, human *chess.Side) error {
	fen = strings.TrimSpace(fen)
	if fen == "" {
		fen = string(chess.StartPosition)
	}
	if !c.rules.ValidateFEN(fen) {
		c.logger.Info("coordinator_invalid_fen", zap.String("fen", fen))
		return ErrInvalidFEN
	}

	if c.searching {
		// The outstanding reply belongs to the old game.
		c.logger.Info("coordinator_restart_engine", zap.Uint64("generation", c.ticket.Generation))
		c.searching = false
		c.ticket = engine.Ticket{}
		c.engine.Initialize(true)
	}

	c.position = chess.Position(fen)
	c.human = c.rules.TurnToMove(c.position)
	if human != nil {
		c.human = *human
	}
	c.state = State{}

	c.clearSelectionMarkers()
	c.board.RemoveMarkers(MarkerLastMove)
	c.board.SetOrientation(c.human)
	c.board.SetPosition(c.position, false)
	c.display.ResetEvaluation()
	c.display.HideOverlay(OverlayGameOver)
	c.logger.Info("coordinator_new_game", zap.String("fen", fen), zap.Stringer("human", c.human))

	c.advance()
	c.syncInput(true)
	return nil
}

// HandleInput feeds one board interaction through the state machine.
func (c *Coordinator) HandleInput(ev InputEvent) {
	step := Next(c.state, c.turn(), ev)
	c.state = step.State
	for _, eff := range step.Effects {
		c.apply(eff)
	}
	c.syncInput(false)
}

// HandleEngine consumes one Engine Channel event.
func (c *Coordinator) HandleEngine(ev engine.Event) {
	switch ev := ev.(type) {
	case engine.Ready:
		c.display.HideOverlay(OverlayLoading)
		c.display.HideOverlay(OverlayEngineUnavailable)
		if c.state.Phase == AwaitingOpponent && !c.searching {
			c.requestSearch()
		}
	case engine.SearchResult:
		if !c.current(ev.Ticket, ev.Position) {
			c.logger.Debug("coordinator_stale_result", zap.Uint64("generation", ev.Ticket.Generation), zap.Uint64("seq", ev.Ticket.Seq))
			return
		}
		stm := c.rules.TurnToMove(chess.Position(ev.Position))
		t, s := evalbar.Normalize(ev.ScoreType, ev.Score, stm, c.displaySide)
		c.display.ShowEvaluation(t, s)
	case engine.EnginePick:
		if c.state.Phase != AwaitingOpponent || !c.current(ev.Ticket, ev.Position) {
			c.logger.Debug("coordinator_stale_pick", zap.String("move", ev.Move), zap.Uint64("seq", ev.Ticket.Seq))
			return
		}
		c.searching = false
		mv, err := chess.ParseMove(ev.Move)
		if err != nil || !c.commit(mv, true) {
			c.logger.Error("coordinator_bad_engine_move", zap.String("move", ev.Move), zap.String("fen", string(c.position)))
			c.display.ShowOverlay(OverlayEngineUnavailable, c.text("engine_unavailable"))
		}
	case engine.PerftResult:
		c.logger.Debug("coordinator_perft", zap.Uint64("nodes", ev.Nodes), zap.Uint64("nps", ev.NPS))
	case engine.Fatal:
		c.searching = false
		c.logger.Warn("coordinator_engine_fatal", zap.String("reason", ev.Reason))
		c.display.ShowOverlay(OverlayEngineUnavailable, c.text("engine_unavailable"))
	default:
		c.logger.Warn("coordinator_unknown_event")
	}
	c.syncInput(false)
}

// StartEngine joins or starts the first initialization behind the loading overlay.
func (c *Coordinator) StartEngine() *engine.Future {
	c.display.ShowOverlay(OverlayLoading, c.text("loading"))
	return c.engine.Initialize(false)
}

// EngineUnavailable gives up on the current unit until the user retries.
func (c *Coordinator) EngineUnavailable(err error) {
	c.searching = false
	c.ticket = engine.Ticket{}
	c.logger.Warn("coordinator_engine_unavailable", zap.Error(err))
	c.display.HideOverlay(OverlayLoading)
	c.display.ShowOverlay(OverlayEngineUnavailable, c.text("engine_unavailable"))
	c.syncInput(false)
}

// RestartEngine replaces the compute unit, e.g. after the user asks to retry.
// A pending engine turn is re-requested once the new unit reports ready.
func (c *Coordinator) RestartEngine() *engine.Future {
	c.searching = false
	c.ticket = engine.Ticket{}
	c.display.HideOverlay(OverlayEngineUnavailable)
	c.display.ShowOverlay(OverlayLoading, c.text("loading"))
	return c.engine.Initialize(true)
}

// HoverPreview lists where the piece on sq could move, without selecting it.
func (c *Coordinator) HoverPreview(sq chess.Square) []chess.Square {
	if !c.InputEnabled() {
		return nil
	}
	return Selection{Square: sq, Moves: c.rules.MovesFrom(c.position, sq)}.Targets()
}

func (c *Coordinator) turn() Turn {
	return Turn{
		HumanToMove: c.rules.TurnToMove(c.position) == c.human,
		Human:       c.human,
		CanPrompt:   c.board.CanPromptPromotion(),
		MovesFrom: func(sq chess.Square) []chess.Move {
			return c.rules.MovesFrom(c.position, sq)
		},
	}
}

func (c *Coordinator) apply(eff Effect) {
	switch eff := eff.(type) {
	case ShowTargets:
		c.clearSelectionMarkers()
		c.board.AddMarker(MarkerSquare, eff.Selection.Square)
		captures := make(map[chess.Square]bool)
		for _, m := range eff.Selection.Moves {
			if m.Capture {
				captures[m.To] = true
			}
		}
		for _, sq := range eff.Selection.Targets() {
			if captures[sq] {
				c.board.AddMarker(MarkerCircle, sq)
			} else {
				c.board.AddMarker(MarkerDot, sq)
			}
		}
	case ClearTargets:
		c.clearSelectionMarkers()
	case Revert:
		c.board.SetPosition(c.position, false)
	case PromptPromotion:
		c.board.ShowPromotionDialog(eff.Square, eff.Side)
	case Commit:
		c.commit(eff.Move, false)
	}
}

// commit is the single mutation path for the position.
func (c *Coordinator) commit(mv chess.Move, animate bool) bool {
	before := c.position
	next, ok := c.rules.ApplyMove(before, mv)
	if !ok {
		c.logger.Info("coordinator_illegal_move", zap.Stringer("move", mv), zap.String("fen", string(before)))
		c.board.SetPosition(before, false)
		return false
	}

	c.position = next
	c.state = State{Phase: AwaitingSelection}
	c.clearSelectionMarkers()
	c.board.RemoveMarkers(MarkerLastMove)
	c.board.SetPosition(next, animate)
	c.board.AddMarker(MarkerLastMove, mv.From)
	c.board.AddMarker(MarkerLastMove, mv.To)
	c.logger.Debug("coordinator_commit", zap.Stringer("move", mv), zap.String("fen", string(next)))
	c.listener.MoveCommitted(before, mv, next)

	c.advance()
	return true
}

// advance picks the phase that follows a new position.
func (c *Coordinator) advance() {
	switch {
	case c.rules.IsGameOver(c.position):
		c.finish()
	case c.rules.TurnToMove(c.position) == c.human:
		c.state = State{Phase: AwaitingSelection}
	default:
		c.state = State{Phase: AwaitingOpponent}
		c.requestSearch()
	}
}

func (c *Coordinator) requestSearch() {
	ticket, ok := c.engine.RequestSearch(string(c.position), c.tc)
	if !ok {
		c.logger.Info("coordinator_search_deferred", zap.String("fen", string(c.position)))
		return
	}
	c.ticket = ticket
	c.searching = true
}

func (c *Coordinator) finish() {
	c.state = State{Phase: GameOver}
	checkmate := c.rules.IsCheckmate(c.position)
	stm := c.rules.TurnToMove(c.position)

	t, s := evalbar.Terminal(checkmate, stm)
	if c.displaySide == chess.Black {
		t, s = evalbar.Flip(t, s)
	}
	c.display.ShowEvaluation(t, s)

	outcome := Drawn
	if checkmate {
		outcome = HumanLost
		if stm != c.human {
			outcome = HumanWon
		}
	}
	c.display.ShowOverlay(OverlayGameOver, c.text(outcome.String()))
	c.logger.Info("coordinator_game_over", zap.Stringer("outcome", outcome), zap.Bool("checkmate", checkmate))
	c.listener.GameFinished(Result{Outcome: outcome, Checkmate: checkmate, Human: c.human, Final: c.position})
}

func (c *Coordinator) current(t engine.Ticket, position string) bool {
	return c.searching && t == c.ticket && position == string(c.position)
}

func (c *Coordinator) clearSelectionMarkers() {
	c.board.RemoveMarkers(MarkerSquare)
	c.board.RemoveMarkers(MarkerDot)
	c.board.RemoveMarkers(MarkerCircle)
}

func (c *Coordinator) syncInput(force bool) {
	on := c.InputEnabled()
	if on == c.inputOn && !force {
		return
	}
	c.inputOn = on
	if on {
		c.board.EnableMoveInput()
	} else {
		c.board.DisableMoveInput()
	}
}

package coordinator

import (
	"github.com/park285/carp-board/internal/chess"
)

type Phase int

const (
	AwaitingSelection Phase = iota
	TargetChosen
	PendingPromotion
	AwaitingOpponent
	GameOver
)

func (p Phase) String() string {
	switch p {
	case AwaitingSelection:
		return "awaiting_selection"
	case TargetChosen:
		return "target_chosen"
	case PendingPromotion:
		return "pending_promotion"
	case AwaitingOpponent:
		return "awaiting_opponent"
	case GameOver:
		return "game_over"
	}
	return "unknown"
}

// Selection is the human's selected piece and its legal moves in the current position.
// The zero value means nothing is selected.
type Selection struct {
	Square chess.Square
	Moves  []chess.Move
}

// Targets returns the distinct destination squares.
func (s Selection) Targets() []chess.Square {
	seen := make(map[chess.Square]bool, len(s.Moves))
	var out []chess.Square
	for _, m := range s.Moves {
		if !seen[m.To] {
			seen[m.To] = true
			out = append(out, m.To)
		}
	}
	return out
}

func (s Selection) movesTo(sq chess.Square) []chess.Move {
	var out []chess.Move
	for _, m := range s.Moves {
		if m.To == sq {
			out = append(out, m)
		}
	}
	return out
}

// State is the input state machine value. Pending holds the promotion move
// waiting for a piece choice while Phase is PendingPromotion.
type State struct {
	Phase     Phase
	Selection Selection
	Pending   chess.Move
}

// InputEvent is a board interaction. The set is closed.
type InputEvent interface{ isInput() }

type SquareClicked struct{ Square chess.Square }

type DragStarted struct{ Square chess.Square }

type Dropped struct{ From, To chess.Square }

type DragCanceled struct{}

// PromotionResolved answers a promotion prompt; OK is false when the user declined.
type PromotionResolved struct {
	Piece chess.PieceKind
	OK    bool
}

func (SquareClicked) isInput()     {}
func (DragStarted) isInput()       {}
func (Dropped) isInput()           {}
func (DragCanceled) isInput()      {}
func (PromotionResolved) isInput() {}

// Effect is an action the coordinator performs after a transition.
type Effect interface{ isEffect() }

// ShowTargets paints the origin and target markers for a selection.
type ShowTargets struct{ Selection Selection }

type ClearTargets struct{}

// Revert redraws the current position, undoing a dragged piece.
type Revert struct{}

type PromptPromotion struct {
	Square chess.Square
	Side   chess.Side
}

// Commit applies the move. The phase that follows depends on the resulting position.
type Commit struct{ Move chess.Move }

func (ShowTargets) isEffect()     {}
func (ClearTargets) isEffect()    {}
func (Revert) isEffect()          {}
func (PromptPromotion) isEffect() {}
func (Commit) isEffect()          {}

// Turn is what a transition may consult about the game.
type Turn struct {
	HumanToMove bool
	Human       chess.Side
	CanPrompt   bool
	MovesFrom   func(chess.Square) []chess.Move
}

type Step struct {
	State   State
	Effects []Effect
}

func stay(s State) Step { return Step{State: s} }

func idle(effects ...Effect) Step {
	return Step{State: State{Phase: AwaitingSelection}, Effects: effects}
}

// Next computes the transition for one input event. It has no side effects.
func Next(s State, t Turn, ev InputEvent) Step {
	switch s.Phase {
	case AwaitingSelection:
		if !t.HumanToMove {
			return stay(s)
		}
		switch ev := ev.(type) {
		case SquareClicked:
			return selectSquare(s, t, ev.Square)
		case DragStarted:
			return selectSquare(s, t, ev.Square)
		case Dropped:
			sel := Selection{Square: ev.From, Moves: t.MovesFrom(ev.From)}
			if len(sel.Moves) == 0 {
				return stay(s).with(Revert{})
			}
			if ev.To == ev.From {
				return Step{State: State{Phase: TargetChosen, Selection: sel}, Effects: []Effect{ShowTargets{Selection: sel}}}
			}
			return attempt(sel, t, ev.To)
		}
		return stay(s)

	case TargetChosen:
		switch ev := ev.(type) {
		case SquareClicked:
			if ev.Square == s.Selection.Square {
				return idle(ClearTargets{})
			}
			return attempt(s.Selection, t, ev.Square)
		case DragStarted:
			if ev.Square == s.Selection.Square {
				return stay(s)
			}
			return selectSquare(State{Phase: AwaitingSelection}, t, ev.Square).prepend(ClearTargets{})
		case Dropped:
			sel := s.Selection
			if ev.From != sel.Square {
				sel = Selection{Square: ev.From, Moves: t.MovesFrom(ev.From)}
			}
			if ev.To == ev.From {
				if len(sel.Moves) == 0 {
					return idle(ClearTargets{}, Revert{})
				}
				return Step{State: State{Phase: TargetChosen, Selection: sel}, Effects: []Effect{ShowTargets{Selection: sel}}}
			}
			return attempt(sel, t, ev.To)
		case DragCanceled:
			return stay(s).with(Revert{})
		}
		return stay(s)

	case PendingPromotion:
		ev, ok := ev.(PromotionResolved)
		if !ok {
			return stay(s)
		}
		if !ev.OK || ev.Piece.PromotionLetter() == "" {
			return idle(ClearTargets{}, Revert{})
		}
		mv := s.Pending
		mv.Promotion = ev.Piece
		return idle(ClearTargets{}, Commit{Move: mv})
	}
	// AwaitingOpponent and GameOver ignore input.
	return stay(s)
}

func selectSquare(s State, t Turn, sq chess.Square) Step {
	moves := t.MovesFrom(sq)
	if len(moves) == 0 {
		return stay(s)
	}
	sel := Selection{Square: sq, Moves: moves}
	return Step{State: State{Phase: TargetChosen, Selection: sel}, Effects: []Effect{ShowTargets{Selection: sel}}}
}

func attempt(sel Selection, t Turn, to chess.Square) Step {
	candidates := sel.movesTo(to)
	if len(candidates) == 0 {
		return idle(ClearTargets{}, Revert{})
	}
	mv := candidates[0]
	if mv.Promotion == chess.NoPiece {
		return idle(ClearTargets{}, Commit{Move: mv})
	}
	mv.Promotion = chess.NoPiece
	if !t.CanPrompt {
		mv.Promotion = chess.Queen
		return idle(ClearTargets{}, Commit{Move: mv})
	}
	return Step{
		State:   State{Phase: PendingPromotion, Selection: sel, Pending: mv},
		Effects: []Effect{PromptPromotion{Square: to, Side: t.Human}},
	}
}

func (st Step) with(effects ...Effect) Step {
	st.Effects = append(st.Effects, effects...)
	return st
}

func (st Step) prepend(effects ...Effect) Step {
	st.Effects = append(append([]Effect(nil), effects...), st.Effects...)
	return st
}

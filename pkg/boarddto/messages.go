// Package boarddto defines the JSON messages exchanged with the browser board.
package boarddto

// Server to client message types.
const (
	TypeHello           = "hello"
	TypePosition        = "position"
	TypeOrientation     = "orientation"
	TypeAddMarker       = "addMarker"
	TypeRemoveMarkers   = "removeMarkers"
	TypeRemoveMarkersAt = "removeMarkersAt"
	TypeInput           = "input"
	TypePromotion       = "promotion"
	TypeEvaluation      = "evaluation"
	TypeResetEvaluation = "resetEvaluation"
	TypeShowOverlay     = "showOverlay"
	TypeHideOverlay     = "hideOverlay"
	TypeHover           = "hover"
	TypeFENRejected     = "fenRejected"
	TypeSearch          = "search"
)

// Client to server message types.
const (
	TypeClick      = "click"
	TypeDragStart  = "dragStart"
	TypeDrop       = "drop"
	TypeDragCancel = "dragCancel"
	TypePromote    = "promote"
	TypeNewGame    = "newGame"
	TypeRestart    = "restart"
	TypeRetry      = "retry"
	TypeSetSearch  = "setSearch"
	TypeHoverAsk   = "hover"
)

// ServerMessage is one board or display command. Only the fields of its type are set.
type ServerMessage struct {
	Type    string   `json:"type"`
	Session string   `json:"session,omitempty"`
	FEN     string   `json:"fen,omitempty"`
	Animate bool     `json:"animate,omitempty"`
	Side    string   `json:"side,omitempty"`
	Marker  string   `json:"marker,omitempty"`
	Square  string   `json:"square,omitempty"`
	Squares []string `json:"squares,omitempty"`
	Enabled *bool    `json:"enabled,omitempty"`
	Overlay string   `json:"overlay,omitempty"`
	Text    string   `json:"text,omitempty"`

	Evaluation *Evaluation `json:"evaluation,omitempty"`
	Search     *Search     `json:"search,omitempty"`
}

type Score struct {
	Val int `json:"val"`
	W   int `json:"w"`
	D   int `json:"d"`
	L   int `json:"l"`
}

// Evaluation carries the normalized score and both bar layouts.
type Evaluation struct {
	ScoreType    string `json:"score_type"`
	Score        Score  `json:"score"`
	Continuous   Bar    `json:"continuous"`
	Distribution Bar    `json:"distribution"`
}

// Bar segments are percent of the bar, favored side at the bottom.
// A label is empty when it should not be drawn.
type Bar struct {
	Favored      float64 `json:"favored"`
	Grey         float64 `json:"grey"`
	Other        float64 `json:"other"`
	FavoredLabel string  `json:"favored_label,omitempty"`
	GreyLabel    string  `json:"grey_label,omitempty"`
	OtherLabel   string  `json:"other_label,omitempty"`
}

type Search struct {
	Mode  string `json:"mode"`
	Value int    `json:"value"`
}

// ClientMessage is one user interaction or request.
type ClientMessage struct {
	Type   string `json:"type"`
	Square string `json:"square,omitempty"`
	From   string `json:"from,omitempty"`
	To     string `json:"to,omitempty"`
	// Piece is the promotion choice (q, r, b, n); empty or OK=false cancels.
	Piece string `json:"piece,omitempty"`
	OK    bool   `json:"ok,omitempty"`
	FEN   string `json:"fen,omitempty"`
	Human string `json:"human,omitempty"`
	Mode  string `json:"mode,omitempty"`
	Value int    `json:"value,omitempty"`
}

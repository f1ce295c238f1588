package evalbar

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/park285/carp-board/internal/score"
)

// MarginPercent is the space kept free at each end of the bar for a label.
const MarginPercent = 5.0

type Mode int

const (
	ModeContinuous Mode = iota
	ModeDistribution
)

func (m Mode) String() string {
	if m == ModeDistribution {
		return "wdl"
	}
	return "cp"
}

func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "cp", "continuous":
		return ModeContinuous, nil
	case "wdl", "distribution":
		return ModeDistribution, nil
	}
	return ModeContinuous, fmt.Errorf("unknown evalbar mode %q", s)
}

type Label struct {
	Text    string
	Visible bool
}

// Layout describes the bar independent of how it is drawn. Segment sizes are percent
// of the bar height; Favored is the display side, Grey is only used for distributions.
type Layout struct {
	Mode    Mode
	Favored float64
	Grey    float64
	Other   float64

	FavoredLabel Label
	GreyLabel    Label
	OtherLabel   Label
}

// Reset is the layout shown before any evaluation arrives.
func Reset(mode Mode) Layout {
	if mode == ModeDistribution {
		return Layout{Mode: mode, Favored: 33, Grey: 34, Other: 33}
	}
	return Layout{Mode: mode, Favored: 50, Other: 50}
}

// Evaluate builds the layout for the given mode.
func Evaluate(mode Mode, t score.Type, s score.Score) Layout {
	if mode == ModeDistribution {
		return Distribution(s)
	}
	return Continuous(t, s)
}

// Continuous folds the score into a single two-colour bar.
func Continuous(t score.Type, s score.Score) Layout {
	l := Layout{Mode: ModeContinuous}
	switch t {
	case score.Mate:
		l.Favored, l.Other = 100, 0
		l.FavoredLabel = Label{Text: fmt.Sprintf("M%d", s.Val), Visible: true}
	case score.Mated:
		l.Favored, l.Other = 0, 100
		l.OtherLabel = Label{Text: fmt.Sprintf("-M%d", s.Val), Visible: true}
	default:
		pawns := float64(s.Val) / 100
		offset := Offset(pawns)
		l.Favored = 50 + offset
		l.Other = 50 - offset
		l.FavoredLabel = Label{Text: cpLabel(pawns), Visible: true}
	}
	return l
}

// Offset maps an evaluation in pawns to a signed distance from the bar centre,
// clipped so the far end keeps MarginPercent free.
func Offset(pawns float64) float64 {
	p := math.Min(50-MarginPercent, evalToPercent(math.Abs(pawns)))
	if pawns < 0 {
		return -p
	}
	return p
}

// evalToPercent is steep near zero and flattens past a knee at 7 pawns.
func evalToPercent(x float64) float64 {
	switch {
	case x == 0:
		return 0
	case x < 7:
		return -0.322495*x*x + 7.26599*x + 4.11834
	default:
		return 8*x/145 + 5881.0/145
	}
}

func cpLabel(pawns float64) string {
	if math.Abs(pawns) < 0.1 {
		return "0.0"
	}
	s := strconv.FormatFloat(pawns, 'f', 1, 64)
	if pawns > 0 {
		return "+" + s
	}
	return s
}

// Distribution sizes three segments by win, draw and loss. Labels on slivers are hidden.
func Distribution(s score.Score) Layout {
	w, d, l := clampPercent(float64(s.W)/10), clampPercent(float64(s.D)/10), clampPercent(float64(s.L)/10)
	return Layout{
		Mode:         ModeDistribution,
		Favored:      w,
		Grey:         d,
		Other:        l,
		FavoredLabel: percentLabel(w),
		GreyLabel:    percentLabel(d),
		OtherLabel:   percentLabel(l),
	}
}

func percentLabel(p float64) Label {
	if p <= MarginPercent {
		return Label{}
	}
	if p == 100 {
		return Label{Text: "100%", Visible: true}
	}
	return Label{Text: strconv.FormatFloat(p, 'f', 1, 64) + "%", Visible: true}
}

func clampPercent(p float64) float64 {
	return math.Max(0, math.Min(100, p))
}

package chess

import (
	"fmt"
	"strconv"
	"strings"
)

type SearchMode string

const (
	ModeDepth    SearchMode = "depth"
	ModeMoveTime SearchMode = "movetime"
)

const (
	defaultDepth    = 18
	minDepth        = 1
	maxDepth        = 30
	defaultMoveTime = 1000
	minMoveTime     = 1
	maxMoveTime     = 999999
)

// SearchLimits is the user-facing search setting; TimeControl renders it for the engine.
type SearchLimits struct {
	Mode  SearchMode
	Value int
}

func DefaultSearchLimits() SearchLimits {
	return SearchLimits{Mode: ModeDepth, Value: defaultDepth}
}

// NewSearchLimits validates the mode and clamps value into the mode's range.
// A non-positive value selects the mode's default.
func NewSearchLimits(mode string, value int) (SearchLimits, error) {
	switch SearchMode(strings.ToLower(strings.TrimSpace(mode))) {
	case ModeDepth, "":
		return SearchLimits{Mode: ModeDepth, Value: clampOrDefault(value, minDepth, maxDepth, defaultDepth)}, nil
	case ModeMoveTime:
		return SearchLimits{Mode: ModeMoveTime, Value: clampOrDefault(value, minMoveTime, maxMoveTime, defaultMoveTime)}, nil
	}
	return SearchLimits{}, fmt.Errorf("unknown search mode %q", mode)
}

// TimeControl renders "<mode> <value>", e.g. "depth 18".
func (l SearchLimits) TimeControl() string {
	return string(l.Mode) + " " + strconv.Itoa(l.Value)
}

func clampOrDefault(v, lo, hi, def int) int {
	if v <= 0 {
		return def
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

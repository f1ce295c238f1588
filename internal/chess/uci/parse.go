package uci

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/park285/carp-board/internal/engine"
	"github.com/park285/carp-board/internal/score"
)

// wdl model used when the engine does not print "wdl".
const (
	wdlCenter = 150.0
	wdlScale  = 80.0
)

// parseInfo reads an "info" line that carries a score. Lines without a score
// (currmove, string, hashfull-only) are rejected.
func parseInfo(line string) (engine.SearchInfo, bool) {
	parts := strings.Fields(line)
	if len(parts) == 0 || parts[0] != "info" {
		return engine.SearchInfo{}, false
	}
	var (
		info     engine.SearchInfo
		scoreSet bool
		wdlSet   bool
		raw      int
	)

	for i := 1; i < len(parts); i++ {
		switch parts[i] {
		case "string":
			return engine.SearchInfo{}, false
		case "depth":
			if i+1 < len(parts) {
				if v, err := strconv.Atoi(parts[i+1]); err == nil {
					info.Depth = v
				}
				i++
			}
		case "nodes":
			if i+1 < len(parts) {
				if v, err := strconv.ParseUint(parts[i+1], 10, 64); err == nil {
					info.Nodes = v
				}
				i++
			}
		case "nps":
			if i+1 < len(parts) {
				if v, err := strconv.ParseUint(parts[i+1], 10, 64); err == nil {
					info.NPS = v
				}
				i++
			}
		case "time":
			if i+1 < len(parts) {
				if v, err := strconv.ParseInt(parts[i+1], 10, 64); err == nil {
					info.Time = time.Duration(v) * time.Millisecond
				}
				i++
			}
		case "score":
			if i+2 < len(parts) {
				v, err := strconv.Atoi(parts[i+2])
				if err == nil {
					switch parts[i+1] {
					case "cp":
						info.ScoreType = score.Cp
						raw = v
						scoreSet = true
					case "mate":
						raw = v
						info.ScoreType = score.Mate
						if v < 0 {
							info.ScoreType = score.Mated
							v = -v
						}
						scoreSet = true
					}
					info.Score.Val = v
				}
				i += 2
			}
		case "wdl":
			if i+3 < len(parts) {
				w, errW := strconv.Atoi(parts[i+1])
				d, errD := strconv.Atoi(parts[i+2])
				l, errL := strconv.Atoi(parts[i+3])
				if errW == nil && errD == nil && errL == nil {
					info.Score.W, info.Score.D, info.Score.L = w, d, l
					wdlSet = true
				}
				i += 3
			}
		case "pv":
			info.PV = append([]string(nil), parts[i+1:]...)
			i = len(parts)
		}
	}

	if !scoreSet {
		return engine.SearchInfo{}, false
	}
	if !wdlSet {
		info.Score.W, info.Score.D, info.Score.L = estimateWDL(info.ScoreType, raw)
	}
	return info, true
}

// estimateWDL derives per-mille win/draw/loss from a centipawn or mate score.
func estimateWDL(t score.Type, cp int) (w, d, l int) {
	switch t {
	case score.Mate:
		return 1000, 0, 0
	case score.Mated:
		return 0, 0, 1000
	}
	x := float64(cp)
	w = int(math.Round(1000 / (1 + math.Exp((wdlCenter-x)/wdlScale))))
	l = int(math.Round(1000 / (1 + math.Exp((wdlCenter+x)/wdlScale))))
	d = 1000 - w - l
	if d < 0 {
		d = 0
	}
	return w, d, l
}

func parseBestMove(line string) string {
	parts := strings.Fields(line)
	if len(parts) < 2 {
		return ""
	}
	return parts[1]
}

// parsePerftNodes reads the "Nodes searched: N" summary printed after "go perft".
func parsePerftNodes(line string) (uint64, bool) {
	_, rest, ok := strings.Cut(line, ":")
	if !ok {
		return 0, false
	}
	n, err := strconv.ParseUint(strings.TrimSpace(rest), 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

package engine

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/park285/carp-board/internal/score"
)

// Frame is the JSON envelope exchanged with a remote compute unit.
type Frame struct {
	Type string          `json:"type"`
	Seq  uint64          `json:"seq,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

const (
	FrameInit         = "init"
	FrameSearch       = "search"
	FramePerft        = "perft"
	FrameReady        = "ready"
	FrameSearchResult = "searchResult"
	FramePerftResult  = "perftResult"
	FrameEnginePick   = "enginePick"
	FrameFatal        = "fatal"
)

type searchData struct {
	Position string `json:"position"`
	TC       string `json:"tc"`
}

type perftData struct {
	Position string `json:"position"`
	Depth    int    `json:"depth"`
}

type searchResultData struct {
	Time      int64       `json:"time"`
	Nodes     uint64      `json:"nodes"`
	NPS       uint64      `json:"nps"`
	Depth     int         `json:"depth"`
	ScoreType score.Type  `json:"score_type"`
	Score     score.Score `json:"score"`
	PV        string      `json:"pv"`
}

type perftResultData struct {
	Time  int64  `json:"time"`
	Nodes uint64 `json:"nodes"`
	NPS   uint64 `json:"nps"`
	Mov   string `json:"mov,omitempty"`
}

type fatalData struct {
	Reason string `json:"reason"`
}

func frame(typ string, seq uint64, data any) (Frame, error) {
	f := Frame{Type: typ, Seq: seq}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return Frame{}, fmt.Errorf("encode %s: %w", typ, err)
		}
		f.Data = raw
	}
	return f, nil
}

func EncodeRequest(r Request) (Frame, error) {
	switch r := r.(type) {
	case InitRequest:
		return frame(FrameInit, 0, nil)
	case SearchRequest:
		return frame(FrameSearch, r.Seq, searchData{Position: r.Position, TC: r.TimeControl})
	case PerftRequest:
		return frame(FramePerft, r.Seq, perftData{Position: r.Position, Depth: r.Depth})
	}
	return Frame{}, fmt.Errorf("unknown request %T", r)
}

func DecodeRequest(f Frame) (Request, error) {
	switch f.Type {
	case FrameInit:
		return InitRequest{}, nil
	case FrameSearch:
		var d searchData
		if err := json.Unmarshal(f.Data, &d); err != nil {
			return nil, fmt.Errorf("decode search: %w", err)
		}
		return SearchRequest{Seq: f.Seq, Position: d.Position, TimeControl: d.TC}, nil
	case FramePerft:
		var d perftData
		if err := json.Unmarshal(f.Data, &d); err != nil {
			return nil, fmt.Errorf("decode perft: %w", err)
		}
		return PerftRequest{Seq: f.Seq, Position: d.Position, Depth: d.Depth}, nil
	}
	return nil, fmt.Errorf("unknown request frame %q", f.Type)
}

func EncodeReply(r Reply) (Frame, error) {
	switch r := r.(type) {
	case ReadyReply:
		return frame(FrameReady, 0, nil)
	case SearchInfo:
		return frame(FrameSearchResult, r.Seq, searchResultData{
			Time:      r.Time.Milliseconds(),
			Nodes:     r.Nodes,
			NPS:       r.NPS,
			Depth:     r.Depth,
			ScoreType: r.ScoreType,
			Score:     r.Score,
			PV:        strings.Join(r.PV, " "),
		})
	case PerftInfo:
		return frame(FramePerftResult, r.Seq, perftResultData{
			Time:  r.Time.Milliseconds(),
			Nodes: r.Nodes,
			NPS:   r.NPS,
			Mov:   r.Move,
		})
	case PickReply:
		return frame(FrameEnginePick, r.Seq, r.Move)
	case CrashReply:
		return frame(FrameFatal, 0, fatalData{Reason: r.Reason})
	}
	return Frame{}, fmt.Errorf("unknown reply %T", r)
}

func DecodeReply(f Frame) (Reply, error) {
	switch f.Type {
	case FrameReady:
		return ReadyReply{}, nil
	case FrameSearchResult:
		var d searchResultData
		if err := json.Unmarshal(f.Data, &d); err != nil {
			return nil, fmt.Errorf("decode searchResult: %w", err)
		}
		return SearchInfo{
			Seq:       f.Seq,
			Depth:     d.Depth,
			Nodes:     d.Nodes,
			NPS:       d.NPS,
			Time:      time.Duration(d.Time) * time.Millisecond,
			ScoreType: d.ScoreType,
			Score:     d.Score,
			PV:        strings.Fields(d.PV),
		}, nil
	case FramePerftResult:
		var d perftResultData
		if err := json.Unmarshal(f.Data, &d); err != nil {
			return nil, fmt.Errorf("decode perftResult: %w", err)
		}
		return PerftInfo{
			Seq:   f.Seq,
			Nodes: d.Nodes,
			NPS:   d.NPS,
			Time:  time.Duration(d.Time) * time.Millisecond,
			Move:  d.Mov,
		}, nil
	case FrameEnginePick:
		var mv string
		if err := json.Unmarshal(f.Data, &mv); err != nil {
			return nil, fmt.Errorf("decode enginePick: %w", err)
		}
		return PickReply{Seq: f.Seq, Move: mv}, nil
	case FrameFatal:
		var d fatalData
		if len(f.Data) > 0 {
			if err := json.Unmarshal(f.Data, &d); err != nil {
				return nil, fmt.Errorf("decode fatal: %w", err)
			}
		}
		return CrashReply{Reason: d.Reason}, nil
	}
	return nil, fmt.Errorf("unknown reply frame %q", f.Type)
}

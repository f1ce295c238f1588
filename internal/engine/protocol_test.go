package engine

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/park285/carp-board/internal/score"
)

func TestDecodeSearchResultFrame(t *testing.T) {
	raw := `{"type":"searchResult","seq":7,"data":{"time":1500,"nodes":120000,"nps":80000,"depth":12,
		"score_type":"Mated","score":{"val":3,"w":0,"d":10,"l":990},"pv":"e7e5 g1f3"}}`
	var f Frame
	if err := json.Unmarshal([]byte(raw), &f); err != nil {
		t.Fatalf("unmarshal frame: %v", err)
	}
	r, err := DecodeReply(f)
	if err != nil {
		t.Fatalf("DecodeReply: %v", err)
	}
	info, ok := r.(SearchInfo)
	if !ok {
		t.Fatalf("expected SearchInfo, got %T", r)
	}
	if info.Seq != 7 || info.Depth != 12 || info.Time != 1500*time.Millisecond {
		t.Fatalf("unexpected info %+v", info)
	}
	if info.ScoreType != score.Mated || info.Score.L != 990 {
		t.Fatalf("unexpected score %v %+v", info.ScoreType, info.Score)
	}
	if len(info.PV) != 2 || info.PV[0] != "e7e5" {
		t.Fatalf("unexpected pv %v", info.PV)
	}
}

func TestEnginePickCarriesBareMoveString(t *testing.T) {
	f, err := EncodeReply(PickReply{Seq: 3, Move: "e7e5"})
	if err != nil {
		t.Fatalf("EncodeReply: %v", err)
	}
	if string(f.Data) != `"e7e5"` {
		t.Fatalf("enginePick data = %s", f.Data)
	}
}

func TestSearchRequestFrameShape(t *testing.T) {
	f, err := EncodeRequest(SearchRequest{Seq: 2, Position: "8/8/8/8/8/8/8/k6K w - - 0 1", TimeControl: "movetime 1000"})
	if err != nil {
		t.Fatalf("EncodeRequest: %v", err)
	}
	var payload map[string]any
	if err := json.Unmarshal(f.Data, &payload); err != nil {
		t.Fatalf("unmarshal data: %v", err)
	}
	if f.Type != "search" || payload["tc"] != "movetime 1000" || payload["position"] == nil {
		t.Fatalf("unexpected frame %s %s", f.Type, f.Data)
	}
}

func TestDecodeUnknownFrames(t *testing.T) {
	if _, err := DecodeReply(Frame{Type: "bogus"}); err == nil {
		t.Fatalf("unknown reply type should fail")
	}
	if _, err := DecodeRequest(Frame{Type: "bogus"}); err == nil {
		t.Fatalf("unknown request type should fail")
	}
	if _, err := DecodeRequest(Frame{Type: FrameSearch, Data: json.RawMessage(`{`)}); err == nil {
		t.Fatalf("malformed data should fail")
	}
}

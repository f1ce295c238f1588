package evalbar

import (
	"bytes"
	"image/png"
	"math"
	"testing"

	"github.com/park285/carp-board/internal/score"
)

func TestOffsetMonotonicAndBounded(t *testing.T) {
	prev := 0.0
	for cp := 0; cp <= 5000; cp += 7 {
		off := Offset(float64(cp) / 100)
		if off < prev {
			t.Fatalf("offset decreased at cp=%d: %f < %f", cp, off, prev)
		}
		if off > 50-MarginPercent {
			t.Fatalf("offset %f exceeds bound at cp=%d", off, cp)
		}
		if neg := Offset(-float64(cp) / 100); neg != -off {
			t.Fatalf("offset not symmetric at cp=%d: %f vs %f", cp, neg, off)
		}
		prev = off
	}
}

func TestContinuousLabels(t *testing.T) {
	cases := []struct {
		typ   score.Type
		val   int
		label string
	}{
		{score.Cp, 0, "0.0"},
		{score.Cp, 9, "0.0"},
		{score.Cp, 150, "+1.5"},
		{score.Cp, -230, "-2.3"},
	}
	for _, tc := range cases {
		l := Continuous(tc.typ, score.Score{Val: tc.val})
		if l.FavoredLabel.Text != tc.label {
			t.Fatalf("val %d: label %q, want %q", tc.val, l.FavoredLabel.Text, tc.label)
		}
		if math.Abs(l.Favored+l.Other-100) > 1e-9 {
			t.Fatalf("val %d: segments do not cover the bar: %+v", tc.val, l)
		}
	}

	mate := Continuous(score.Mate, score.Score{Val: 4})
	if mate.Favored != 100 || mate.FavoredLabel.Text != "M4" {
		t.Fatalf("mate layout %+v", mate)
	}
	mated := Continuous(score.Mated, score.Score{Val: 2})
	if mated.Favored != 0 || !mated.OtherLabel.Visible || mated.OtherLabel.Text != "-M2" {
		t.Fatalf("mated layout %+v", mated)
	}
}

func TestDistribution(t *testing.T) {
	l := Distribution(score.Score{W: 550, D: 400, L: 50})
	if l.Favored != 55 || l.Grey != 40 || l.Other != 5 {
		t.Fatalf("segments %+v", l)
	}
	if l.FavoredLabel.Text != "55.0%" || l.GreyLabel.Text != "40.0%" {
		t.Fatalf("labels %+v %+v", l.FavoredLabel, l.GreyLabel)
	}
	if l.OtherLabel.Visible {
		t.Fatalf("a 5%% sliver must not be labelled")
	}

	full := Distribution(score.Score{W: 1000})
	if full.FavoredLabel.Text != "100%" {
		t.Fatalf("full win label %q", full.FavoredLabel.Text)
	}

	over := Distribution(score.Score{W: 1200, D: -10, L: 0})
	if over.Favored != 100 || over.Grey != 0 {
		t.Fatalf("percentages not clamped: %+v", over)
	}
}

func TestReset(t *testing.T) {
	if l := Reset(ModeContinuous); l.Favored != 50 || l.Other != 50 || l.FavoredLabel.Visible {
		t.Fatalf("continuous reset %+v", l)
	}
	if l := Reset(ModeDistribution); l.Favored != 33 || l.Grey != 34 || l.Other != 33 {
		t.Fatalf("distribution reset %+v", l)
	}
}

func TestRenderPNG(t *testing.T) {
	raw, err := RenderPNG(Evaluate(ModeDistribution, score.Cp, score.Score{W: 300, D: 500, L: 200}), RenderOptions{Width: 40, Height: 300})
	if err != nil {
		t.Fatalf("RenderPNG: %v", err)
	}
	img, err := png.Decode(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 40 || b.Dy() != 300 {
		t.Fatalf("bounds %v", b)
	}

	// Top pixel column centre belongs to the other side's dark segment.
	r, g, b, _ := img.At(20, 20).RGBA()
	if r>>8 > 0x80 || g>>8 > 0x80 || b>>8 > 0x80 {
		t.Fatalf("expected dark top segment, got %d %d %d", r>>8, g>>8, b>>8)
	}
}

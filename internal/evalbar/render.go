package evalbar

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"strings"

	"github.com/srwiley/oksvg"
	"github.com/srwiley/rasterx"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

const (
	defaultWidth  = 48
	defaultHeight = 400
	minWidth      = 16
	maxWidth      = 256
	minHeight     = 64
	maxHeight     = 2048
	labelInset    = 3
)

const (
	favoredFill = "#f0efe9"
	greyFill    = "#8b8987"
	otherFill   = "#403d39"
	borderFill  = "#262421"
)

var (
	darkText  = color.RGBA{R: 0x26, G: 0x24, B: 0x21, A: 0xff}
	lightText = color.RGBA{R: 0xf0, G: 0xef, B: 0xe9, A: 0xff}
)

type RenderOptions struct {
	Width  int
	Height int
}

func (o RenderOptions) size() (int, int) {
	w, h := o.Width, o.Height
	if w <= 0 {
		w = defaultWidth
	}
	if h <= 0 {
		h = defaultHeight
	}
	return clampInt(w, minWidth, maxWidth), clampInt(h, minHeight, maxHeight)
}

// RenderPNG draws the layout as a vertical bar: the other side on top, the display side at the bottom.
func RenderPNG(l Layout, opts RenderOptions) ([]byte, error) {
	w, h := opts.size()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), image.NewUniform(color.Transparent), image.Point{}, draw.Src)

	icon, err := oksvg.ReadIconStream(strings.NewReader(barSVG(l, w, h)))
	if err != nil {
		return nil, fmt.Errorf("parse evalbar svg: %w", err)
	}
	icon.SetTarget(0, 0, float64(w), float64(h))
	scanner := rasterx.NewScannerGV(w, h, img, img.Bounds())
	raster := rasterx.NewDasher(w, h, scanner)
	icon.Draw(raster, 1.0)

	drawLabels(img, l, w, h)

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode evalbar png: %w", err)
	}
	return buf.Bytes(), nil
}

func barSVG(l Layout, w, h int) string {
	other, grey, _ := segmentHeights(l, h)
	var b strings.Builder
	fmt.Fprintf(&b, `<svg xmlns="http://www.w3.org/2000/svg" width="%d" height="%d" viewBox="0 0 %d %d">`, w, h, w, h)
	fmt.Fprintf(&b, `<rect x="0" y="0" width="%d" height="%d" style="fill:%s"/>`, w, h, favoredFill)
	if other > 0 {
		fmt.Fprintf(&b, `<rect x="0" y="0" width="%d" height="%.2f" style="fill:%s"/>`, w, other, otherFill)
	}
	if grey > 0 {
		fmt.Fprintf(&b, `<rect x="0" y="%.2f" width="%d" height="%.2f" style="fill:%s"/>`, other, w, grey, greyFill)
	}
	fmt.Fprintf(&b, `<rect x="0.5" y="0.5" width="%d" height="%d" style="fill:none;stroke:%s;stroke-width:1"/>`, w-1, h-1, borderFill)
	b.WriteString(`</svg>`)
	return b.String()
}

// segmentHeights converts layout percentages to pixels, top to bottom.
func segmentHeights(l Layout, h int) (other, grey, favored float64) {
	total := l.Favored + l.Grey + l.Other
	if total <= 0 {
		return float64(h) / 2, 0, float64(h) / 2
	}
	scale := float64(h) / total
	return l.Other * scale, l.Grey * scale, l.Favored * scale
}

func drawLabels(img *image.RGBA, l Layout, w, h int) {
	face := basicfont.Face7x13
	drawer := &font.Drawer{Dst: img, Face: face}
	ascent := face.Metrics().Ascent.Ceil()
	other, grey, favored := segmentHeights(l, h)

	if l.Mode == ModeDistribution {
		drawCentered(drawer, l.OtherLabel, w, int(other/2)+ascent/2, lightText)
		drawCentered(drawer, l.GreyLabel, w, int(other+grey/2)+ascent/2, darkText)
		drawCentered(drawer, l.FavoredLabel, w, int(other+grey+favored/2)+ascent/2, darkText)
		return
	}
	drawCentered(drawer, l.OtherLabel, w, labelInset+ascent, lightText)
	drawCentered(drawer, l.FavoredLabel, w, h-labelInset-face.Metrics().Descent.Ceil(), darkText)
}

func drawCentered(drawer *font.Drawer, label Label, w, baseline int, clr color.Color) {
	if !label.Visible || label.Text == "" {
		return
	}
	width := drawer.MeasureString(label.Text).Round()
	x := (w - width) / 2
	if x < 0 {
		x = 0
	}
	drawer.Src = image.NewUniform(clr)
	drawer.Dot = fixed.P(x, baseline)
	drawer.DrawString(label.Text)
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

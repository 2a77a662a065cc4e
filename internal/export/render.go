package export

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"math"

	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/vector"

	"github.com/MrWong99/veritas/pkg/types"
)

var (
	chartBackground = color.RGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff}
	chartBaseline   = color.RGBA{R: 0xdd, G: 0xdd, B: 0xdd, A: 0xff}
	chartLine       = color.RGBA{R: 0x22, G: 0xc5, B: 0x5e, A: 0xff}
)

// DataURL encodes img as a PNG data URL.
func DataURL(img image.Image) (string, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return "", fmt.Errorf("export: encode png: %w", err)
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// Scale resizes img to width pixels, keeping the aspect ratio. fallbackHeight
// is used when img has no height.
func Scale(img image.Image, width, fallbackHeight int) *image.RGBA {
	b := img.Bounds()
	h := fallbackHeight
	if b.Dx() > 0 && b.Dy() > 0 {
		h = max(1, (b.Dy()*width+b.Dx()/2)/b.Dx())
	}
	dst := image.NewRGBA(image.Rect(0, 0, width, h))
	xdraw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, b, xdraw.Src, nil)
	return dst
}

// Chart renders the timeline as a w x h line chart: a light baseline 20px
// above the bottom edge and the score polyline inside a 10px margin. Every
// point gets a 2px marker whose top-left pixel is the point itself.
func Chart(points []types.TimelinePoint, w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), image.NewUniform(chartBackground), image.Point{}, draw.Src)

	base := vector.NewRasterizer(w, h)
	box(base, 0, float32(h-20), float32(w), float32(h-19))
	base.Draw(img, img.Bounds(), image.NewUniform(chartBaseline), image.Point{})

	if len(points) == 0 {
		return img
	}
	top := 1.0
	for _, p := range points {
		top = max(top, p.Score)
	}
	span := max(1, len(points)-1)
	x := func(i int) float32 { return float32(i*(w-20)/span + 10) }
	y := func(s float64) float32 { return float32(int((1-s/top)*float64(h-40)) + 10) }

	z := vector.NewRasterizer(w, h)
	px, py := x(0), y(points[0].Score)
	box(z, px, py, px+chartStroke, py+chartStroke)
	for i := 1; i < len(points); i++ {
		nx, ny := x(i), y(points[i].Score)
		box(z, nx, ny, nx+chartStroke, ny+chartStroke)
		segment(z, px+chartStroke/2, py+chartStroke/2, nx+chartStroke/2, ny+chartStroke/2, chartStroke/2)
		px, py = nx, ny
	}
	z.Draw(img, img.Bounds(), image.NewUniform(chartLine), image.Point{})
	return img
}

const chartStroke = 2

// box adds the rectangle (x0, y0)-(x1, y1). All shapes added by box and
// segment share one winding so overlapping strokes never cancel.
func box(z *vector.Rasterizer, x0, y0, x1, y1 float32) {
	z.MoveTo(x0, y0)
	z.LineTo(x0, y1)
	z.LineTo(x1, y1)
	z.LineTo(x1, y0)
	z.ClosePath()
}

// segment adds a straight stroke of half-width hw from (x0, y0) to (x1, y1).
func segment(z *vector.Rasterizer, x0, y0, x1, y1, hw float32) {
	dx, dy := float64(x1-x0), float64(y1-y0)
	l := math.Hypot(dx, dy)
	if l == 0 {
		return
	}
	nx, ny := float32(-dy/l)*hw, float32(dx/l)*hw
	z.MoveTo(x0+nx, y0+ny)
	z.LineTo(x1+nx, y1+ny)
	z.LineTo(x1-nx, y1-ny)
	z.LineTo(x0-nx, y0-ny)
	z.ClosePath()
}

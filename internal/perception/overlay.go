package perception

import (
	"image"
	"image/color"
	"image/draw"
	"sync"

	"golang.org/x/image/vector"
)

// boxColor is the outline colour of the face box.
var boxColor = color.RGBA{R: 0x00, G: 0xff, B: 0x00, A: 0xff}

// Canvas is the transparent overlay drawn on top of the video. Each redraw
// clears and repaints only the union of the new face region and the region
// drawn last time, so the cost does not depend on the frame resolution.
type Canvas struct {
	margin int

	mu   sync.Mutex
	img  *image.RGBA
	last image.Rectangle
}

// NewCanvas returns a canvas of w x h pixels. margin pads every face box.
func NewCanvas(w, h, margin int) *Canvas {
	return &Canvas{margin: margin, img: image.NewRGBA(image.Rect(0, 0, w, h))}
}

// Size returns the canvas dimensions.
func (c *Canvas) Size() (int, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	b := c.img.Bounds()
	return b.Dx(), b.Dy()
}

// Redraw paints box and returns the dirty rectangle that was touched.
func (c *Canvas) Redraw(box image.Rectangle) image.Rectangle {
	c.mu.Lock()
	defer c.mu.Unlock()

	region := box.Inset(-c.margin).Intersect(c.img.Bounds())
	dirty := region.Union(c.last)
	if dirty.Empty() {
		c.last = region
		return dirty
	}
	draw.Draw(c.img, dirty, image.Transparent, image.Point{}, draw.Src)
	strokeRect(c.img, region, boxColor)
	c.last = region
	return dirty
}

// Clear removes the last drawn region and returns it.
func (c *Canvas) Clear() image.Rectangle {
	c.mu.Lock()
	defer c.mu.Unlock()
	dirty := c.last
	if !dirty.Empty() {
		draw.Draw(c.img, dirty, image.Transparent, image.Point{}, draw.Src)
	}
	c.last = image.Rectangle{}
	return dirty
}

// Snapshot returns a copy of the overlay.
func (c *Canvas) Snapshot() *image.RGBA {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := image.NewRGBA(c.img.Bounds())
	copy(out.Pix, c.img.Pix)
	return out
}

// strokeRect draws a two-pixel outline just inside r. The outer and inner
// edges wind in opposite directions, which leaves the interior unpainted.
func strokeRect(img *image.RGBA, r image.Rectangle, col color.Color) {
	const width = 2
	if r.Empty() {
		return
	}
	w, h := float32(r.Dx()), float32(r.Dy())
	z := vector.NewRasterizer(r.Dx(), r.Dy())
	z.MoveTo(0, 0)
	z.LineTo(0, h)
	z.LineTo(w, h)
	z.LineTo(w, 0)
	z.ClosePath()
	if r.Dx() > 2*width && r.Dy() > 2*width {
		z.MoveTo(width, width)
		z.LineTo(w-width, width)
		z.LineTo(w-width, h-width)
		z.LineTo(width, h-width)
		z.ClosePath()
	}
	z.Draw(img, r, image.NewUniform(col), image.Point{})
}

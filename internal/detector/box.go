package detector

import (
	"image"
	"math"
)

// BoundingBox is an integer rectangle in frame pixel coordinates.
type BoundingBox struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// BoxFromCorners builds a box from float corner coordinates, rounding each
// corner to the nearest pixel.
func BoxFromCorners(x1, y1, x2, y2 float64) BoundingBox {
	l := int(math.Round(x1))
	t := int(math.Round(y1))
	r := int(math.Round(x2))
	b := int(math.Round(y2))
	return BoundingBox{X: l, Y: t, Width: r - l, Height: b - t}
}

// Area returns the box area, zero for degenerate boxes.
func (b BoundingBox) Area() int {
	if b.Width <= 0 || b.Height <= 0 {
		return 0
	}
	return b.Width * b.Height
}

// Empty reports whether the box has no area.
func (b BoundingBox) Empty() bool {
	return b.Area() == 0
}

// Center returns the centre of the box.
func (b BoundingBox) Center() Point {
	return Point{
		X: float64(b.X) + float64(b.Width)/2,
		Y: float64(b.Y) + float64(b.Height)/2,
	}
}

// Rect converts the box to an image.Rectangle.
func (b BoundingBox) Rect() image.Rectangle {
	return image.Rect(b.X, b.Y, b.X+b.Width, b.Y+b.Height)
}

// BoxFromRect converts an image.Rectangle to a BoundingBox.
func BoxFromRect(r image.Rectangle) BoundingBox {
	r = r.Canon()
	return BoundingBox{X: r.Min.X, Y: r.Min.Y, Width: r.Dx(), Height: r.Dy()}
}

// Clip restricts the box to [0,width)x[0,height). The result may be empty.
func (b BoundingBox) Clip(width, height int) BoundingBox {
	r := b.Rect().Intersect(image.Rect(0, 0, width, height))
	if r.Empty() {
		return BoundingBox{}
	}
	return BoxFromRect(r)
}

// Translate shifts the box by dx, dy and then moves it back inside the frame
// keeping its size when the frame is large enough.
func (b BoundingBox) Translate(dx, dy, width, height int) BoundingBox {
	b.X += dx
	b.Y += dy
	b.X = clampInt(b.X, 0, max(0, width-b.Width))
	b.Y = clampInt(b.Y, 0, max(0, height-b.Height))
	return b.Clip(width, height)
}

// IoU returns the intersection over union of two boxes.
func (b BoundingBox) IoU(other BoundingBox) float64 {
	inter := b.Rect().Intersect(other.Rect())
	if inter.Empty() {
		return 0
	}
	i := float64(inter.Dx() * inter.Dy())
	union := float64(b.Area()+other.Area()) - i
	if union <= 0 {
		return 0
	}
	return i / union
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

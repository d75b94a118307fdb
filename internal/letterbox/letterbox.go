// Package letterbox implements the aspect preserving resize and padding used to
// fit arbitrary frames into the square input of a neural network, and the
// inverse mapping from network coordinates back to the source image.
package letterbox

import (
	"errors"
	"image"
	"image/color"
	"math"

	"gocv.io/x/gocv"
)

// ErrInvalidSize is returned when the source or target dimensions are not
// positive.
var ErrInvalidSize = errors.New("letterbox: invalid size")

// PadColor is the neutral value used to fill the padding border.
var PadColor = color.RGBA{R: 114, G: 114, B: 114, A: 255}

// Transform holds the letterbox parameters for one source size and one square
// target size.
type Transform struct {
	srcWidth  int
	srcHeight int
	size      int
	// scale is min(size/srcWidth, size/srcHeight)
	scale float64
	// resize dimensions
	resizeW int
	resizeH int
	// padding on the left and top
	padX int
	padY int
}

// New returns the transform mapping a srcWidth x srcHeight image into a
// size x size square.
func New(srcWidth, srcHeight, size int) (*Transform, error) {
	if srcWidth <= 0 || srcHeight <= 0 || size <= 0 {
		return nil, ErrInvalidSize
	}

	t := &Transform{
		srcWidth:  srcWidth,
		srcHeight: srcHeight,
		size:      size,
	}
	t.preCalc()

	return t, nil
}

// preCalc computes the scale, resize dimensions and padding.
func (t *Transform) preCalc() {
	scaleW := float64(t.size) / float64(t.srcWidth)
	scaleH := float64(t.size) / float64(t.srcHeight)
	t.scale = math.Min(scaleW, scaleH)

	t.resizeW = clampDim(int(math.Round(float64(t.srcWidth)*t.scale)), t.size)
	t.resizeH = clampDim(int(math.Round(float64(t.srcHeight)*t.scale)), t.size)

	t.padX = (t.size - t.resizeW) / 2
	t.padY = (t.size - t.resizeH) / 2
}

func clampDim(v, size int) int {
	if v < 1 {
		return 1
	}
	if v > size {
		return size
	}
	return v
}

// Apply resizes src into dest as a size x size letterboxed image. dest is
// allocated by gocv as required.
func (t *Transform) Apply(src gocv.Mat, dest *gocv.Mat) {
	resized := gocv.NewMat()
	defer resized.Close()

	gocv.Resize(src, &resized, image.Pt(t.resizeW, t.resizeH), 0, 0, gocv.InterpolationLinear)

	gocv.CopyMakeBorder(resized, dest,
		t.padY, t.size-t.resizeH-t.padY,
		t.padX, t.size-t.resizeW-t.padX,
		gocv.BorderConstant, PadColor)
}

// ToTarget maps a source point into letterboxed coordinates.
func (t *Transform) ToTarget(x, y float64) (float64, float64) {
	return x*t.scale + float64(t.padX), y*t.scale + float64(t.padY)
}

// ToSourcePoint maps a letterboxed point back to the source image, clipped to the
// source bounds.
func (t *Transform) ToSourcePoint(x, y float64) (float64, float64) {
	sx := (x - float64(t.padX)) / t.scale
	sy := (y - float64(t.padY)) / t.scale
	return clampF(sx, 0, float64(t.srcWidth)), clampF(sy, 0, float64(t.srcHeight))
}

// ToSourceBox maps letterboxed corner coordinates back to a source rectangle
// with corners rounded to the nearest pixel and clipped to the source bounds.
// The result may be empty.
func (t *Transform) ToSourceBox(x1, y1, x2, y2 float64) image.Rectangle {
	sx1, sy1 := t.ToSourcePoint(x1, y1)
	sx2, sy2 := t.ToSourcePoint(x2, y2)
	r := image.Rect(
		int(math.Round(sx1)), int(math.Round(sy1)),
		int(math.Round(sx2)), int(math.Round(sy2)),
	)
	return r.Intersect(image.Rect(0, 0, t.srcWidth, t.srcHeight))
}

// Scale returns the resize factor.
func (t *Transform) Scale() float64 {
	return t.scale
}

// PadX returns the left padding.
func (t *Transform) PadX() int {
	return t.padX
}

// PadY returns the top padding.
func (t *Transform) PadY() int {
	return t.padY
}

// ResizedSize returns the dimensions of the image before padding.
func (t *Transform) ResizedSize() (int, int) {
	return t.resizeW, t.resizeH
}

// Size returns the square target size.
func (t *Transform) Size() int {
	return t.size
}

// SrcWidth returns the width of the source image.
func (t *Transform) SrcWidth() int {
	return t.srcWidth
}

// SrcHeight returns the height of the source image.
func (t *Transform) SrcHeight() int {
	return t.srcHeight
}

func clampF(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

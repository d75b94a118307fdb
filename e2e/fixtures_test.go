package e2e

import (
	"fmt"
	"image"
	"image/color"

	"gocv.io/x/gocv"
)

// handFrame returns a dark BGR frame with a bright square of side size whose
// top-left corner is at (x, y).
func handFrame(width, height, x, y, size int) (*gocv.Mat, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("frame size %dx%d", width, height)
	}

	mat := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(20, 20, 20, 0), height, width, gocv.MatTypeCV8UC3)
	gocv.Rectangle(&mat, image.Rect(x, y, x+size, y+size), color.RGBA{R: 220, G: 190, B: 170, A: 255}, -1)
	return &mat, nil
}

// sequence returns n frames of a square moving step pixels to the right per
// frame.
func sequence(n, width, height, step int) ([]*gocv.Mat, error) {
	var frames []*gocv.Mat
	for i := 0; i < n; i++ {
		frame, err := handFrame(width, height, 40+i*step, height/3, height/3)
		if err != nil {
			closeAll(frames)
			return nil, err
		}
		frames = append(frames, frame)
	}
	return frames, nil
}

// closeAll releases every frame.
func closeAll(frames []*gocv.Mat) {
	for _, f := range frames {
		f.Close()
	}
}

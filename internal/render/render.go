// Package render draws tracked hands onto frames for preview streams.
package render

import (
	"fmt"
	"image"
	"image/color"

	"github.com/ayusman/mudra/internal/detector"
	"gocv.io/x/gocv"
)

// Style controls overlay drawing.
type Style struct {
	LineThickness int
	JointRadius   int
	FontScale     float64
	// Labels draws the score above each box.
	Labels bool
}

// DefaultStyle returns the overlay style used by the preview stream.
func DefaultStyle() Style {
	return Style{
		LineThickness: 2,
		JointRadius:   3,
		FontScale:     0.5,
		Labels:        true,
	}
}

var (
	// handColors are used for boxes, one per hand in result order
	handColors = []color.RGBA{
		{R: 255, G: 56, B: 56, A: 255},  // #FF3838
		{R: 0, G: 194, B: 255, A: 255},  // #00C2FF
		{R: 72, G: 249, B: 10, A: 255},  // #48F90A
		{R: 255, G: 178, B: 29, A: 255}, // #FFB21D
	}

	// fingerColors paint bones of the thumb through little finger
	fingerColors = []color.RGBA{
		{R: 255, G: 128, B: 0, A: 255},   // thumb
		{R: 255, G: 255, B: 0, A: 255},   // index
		{R: 0, G: 255, B: 0, A: 255},     // middle
		{R: 0, G: 255, B: 255, A: 255},   // ring
		{R: 255, G: 0, B: 255, A: 255},   // little
		{R: 200, G: 200, B: 200, A: 255}, // palm
	}

	jointColor = color.RGBA{R: 255, G: 255, B: 255, A: 255}
	textColor  = color.RGBA{R: 255, G: 255, B: 255, A: 255}
)

// boneColor returns the color of the bone ending at joint b.
func boneColor(a, b int) color.RGBA {
	// palm bones join two MCP joints
	if a != detector.Wrist && (a-1)/4 != (b-1)/4 {
		return fingerColors[5]
	}
	return fingerColors[(b-1)/4]
}

// Hands draws each hand's ROI, score label, skeleton and joints on img.
// Invalid joints and bones touching them are skipped.
func Hands(img *gocv.Mat, hands []detector.HandResult, style Style) {
	for i, hand := range hands {
		clr := handColors[i%len(handColors)]
		roi := hand.ROI.Rect()

		gocv.Rectangle(img, roi, clr, style.LineThickness)

		if style.Labels {
			text := fmt.Sprintf("hand %.2f", hand.Score)
			size := gocv.GetTextSize(text, gocv.FontHersheySimplex, style.FontScale, 1)
			top := max(roi.Min.Y, size.Y+4)

			gocv.Rectangle(img, image.Rect(roi.Min.X, top-size.Y-4, roi.Min.X+size.X+4, top), clr, -1)
			gocv.PutText(img, text, image.Pt(roi.Min.X+2, top-2),
				gocv.FontHersheySimplex, style.FontScale, textColor, 1)
		}

		Skeleton(img, hand.Landmarks, style)
	}
}

// Skeleton draws the bones and joints of one set of landmarks.
func Skeleton(img *gocv.Mat, landmarks []detector.Landmark, style Style) {
	if len(landmarks) < detector.NumLandmarks {
		return
	}

	for _, bone := range detector.Skeleton() {
		a, b := landmarks[bone[0]], landmarks[bone[1]]
		if !a.Valid || !b.Valid {
			continue
		}
		gocv.Line(img, toPt(a.Point), toPt(b.Point), boneColor(bone[0], bone[1]), style.LineThickness)
	}

	for _, lm := range landmarks {
		if !lm.Valid {
			continue
		}
		gocv.Circle(img, toPt(lm.Point), style.JointRadius, jointColor, -1)
	}
}

func toPt(p detector.Point) image.Point {
	return image.Pt(int(p.X+0.5), int(p.Y+0.5))
}

// EncodeJPEG encodes img as a JPEG with the given quality (1-100).
func EncodeJPEG(img gocv.Mat, quality int) ([]byte, error) {
	if img.Empty() {
		return nil, fmt.Errorf("render: empty image")
	}
	if quality <= 0 || quality > 100 {
		quality = 80
	}

	buf, err := gocv.IMEncodeWithParams(gocv.JPEGFileExt, img, []int{int(gocv.IMWriteJpegQuality), quality})
	if err != nil {
		return nil, fmt.Errorf("render: encode jpeg: %w", err)
	}
	defer buf.Close()

	return append([]byte(nil), buf.GetBytes()...), nil
}

// Package landmark extracts the 21 hand keypoints from a region of interest
// using a heatmap network. Each joint is decoded independently from the peak of
// its heatmap channel.
package landmark

import (
	"fmt"
	"image"
	"math"

	"github.com/ayusman/mudra/internal/detector"
	"github.com/ayusman/mudra/internal/inference"
	"github.com/ayusman/mudra/internal/letterbox"
	clipper "github.com/ctessum/go.clipper"
	"gocv.io/x/gocv"
	"gonum.org/v1/gonum/floats"
)

// Config holds configuration options for the landmark stage.
type Config struct {
	// InputSize is the square input size of the keypoint network.
	InputSize int

	// Threshold is the minimum heatmap peak for a joint to be valid.
	Threshold float64

	// CropMargin expands the ROI by this many pixels on every side before
	// cropping. The expanded crop is clipped to the frame.
	CropMargin float64
}

// DefaultConfig returns a Config with sensible default values.
func DefaultConfig() Config {
	return Config{
		InputSize:  368,
		Threshold:  0.05,
		CropMargin: 0,
	}
}

// Stage runs the keypoint network on hand regions.
type Stage struct {
	net    inference.Net
	config Config
}

// New creates a Stage using the given network.
func New(net inference.Net, config Config) *Stage {
	if config.InputSize <= 0 {
		config.InputSize = DefaultConfig().InputSize
	}
	return &Stage{
		net:    net,
		config: config,
	}
}

// Config returns the stage configuration.
func (s *Stage) Config() Config {
	return s.config
}

// Extract returns the 21 landmarks of the hand inside roi, in frame
// coordinates. A zero-area ROI, an empty frame or a missing network yields no
// landmarks and no error.
func (s *Stage) Extract(frame gocv.Mat, roi detector.BoundingBox) ([]detector.Landmark, error) {
	if s == nil || s.net == nil || frame.Empty() {
		return nil, nil
	}

	width, height := frame.Cols(), frame.Rows()
	roi = roi.Clip(width, height)
	if roi.Empty() {
		return nil, nil
	}

	crop := ExpandROI(roi, s.config.CropMargin, width, height)

	region := frame.Region(crop.Rect())
	defer region.Close()

	lb, err := letterbox.New(crop.Width, crop.Height, s.config.InputSize)
	if err != nil {
		return nil, nil
	}

	input := gocv.NewMat()
	defer input.Close()
	lb.Apply(region, &input)

	size := s.config.InputSize
	blob := gocv.BlobFromImage(input, 1.0/255.0, image.Pt(size, size),
		gocv.NewScalar(0, 0, 0, 0), false, false)
	defer blob.Close()

	out, err := s.net.Forward(blob)
	if err != nil {
		return nil, fmt.Errorf("landmark forward: %w", err)
	}

	return DecodeHeatmaps(out, lb, image.Pt(crop.X, crop.Y), roi, s.config.Threshold)
}

// DecodeHeatmaps converts a [1, C, H, W] heatmap tensor with C >= 21 into
// landmarks. Peaks are mapped from heatmap cells to the letterboxed input,
// then back through lb, offset by origin and clamped to the pixels of bounds.
// Joints whose peak is below threshold are returned invalid.
func DecodeHeatmaps(out inference.Tensor, lb *letterbox.Transform, origin image.Point,
	bounds detector.BoundingBox, threshold float64) ([]detector.Landmark, error) {

	if err := out.Validate(); err != nil {
		return nil, err
	}
	if len(out.Shape) != 4 || out.Shape[0] != 1 {
		return nil, fmt.Errorf("%w: heatmap shape %v", inference.ErrBadOutput, out.Shape)
	}

	channels, h, w := out.Shape[1], out.Shape[2], out.Shape[3]
	if channels < detector.NumLandmarks {
		return nil, fmt.Errorf("%w: heatmap has %d channels, need %d",
			inference.ErrBadOutput, channels, detector.NumLandmarks)
	}

	size := float64(lb.Size())
	plane := h * w
	heat := make([]float64, plane)
	landmarks := make([]detector.Landmark, detector.NumLandmarks)

	for j := 0; j < detector.NumLandmarks; j++ {
		for i, v := range out.Data[j*plane : (j+1)*plane] {
			heat[i] = float64(v)
		}

		idx := floats.MaxIdx(heat)
		if heat[idx] < threshold {
			landmarks[j] = detector.InvalidLandmark()
			continue
		}

		hx, hy := idx%w, idx/w
		ix := (float64(hx) + 0.5) * size / float64(w)
		iy := (float64(hy) + 0.5) * size / float64(h)
		sx, sy := lb.ToSourcePoint(ix, iy)

		landmarks[j] = detector.Landmark{
			Point: detector.Point{
				X: clamp(sx+float64(origin.X), float64(bounds.X), float64(bounds.X+bounds.Width-1)),
				Y: clamp(sy+float64(origin.Y), float64(bounds.Y), float64(bounds.Y+bounds.Height-1)),
			},
			Valid: true,
		}
	}

	return landmarks, nil
}

// ExpandROI grows roi by margin pixels on every side with a mitred polygon
// offset and clips the result to a width x height frame. A non-positive
// margin returns roi clipped.
func ExpandROI(roi detector.BoundingBox, margin float64, width, height int) detector.BoundingBox {
	if margin <= 0 || roi.Empty() {
		return roi.Clip(width, height)
	}

	r := roi.Rect()
	path := clipper.Path{
		&clipper.IntPoint{X: clipper.CInt(r.Min.X), Y: clipper.CInt(r.Min.Y)},
		&clipper.IntPoint{X: clipper.CInt(r.Max.X), Y: clipper.CInt(r.Min.Y)},
		&clipper.IntPoint{X: clipper.CInt(r.Max.X), Y: clipper.CInt(r.Max.Y)},
		&clipper.IntPoint{X: clipper.CInt(r.Min.X), Y: clipper.CInt(r.Max.Y)},
	}

	co := clipper.NewClipperOffset()
	co.AddPath(path, clipper.JtMiter, clipper.EtClosedPolygon)
	solution := co.Execute(margin)

	expanded := image.Rectangle{}
	first := true
	for _, sol := range solution {
		for _, pt := range sol {
			p := image.Pt(int(pt.X), int(pt.Y))
			if first {
				expanded = image.Rectangle{Min: p, Max: p}
				first = false
				continue
			}
			expanded.Min.X = min(expanded.Min.X, p.X)
			expanded.Min.Y = min(expanded.Min.Y, p.Y)
			expanded.Max.X = max(expanded.Max.X, p.X)
			expanded.Max.Y = max(expanded.Max.Y, p.Y)
		}
	}
	if first {
		return roi.Clip(width, height)
	}

	return detector.BoxFromRect(expanded).Clip(width, height)
}

// SetBackendTarget forwards the backend selection to the network.
func (s *Stage) SetBackendTarget(backend gocv.NetBackendType, target gocv.NetTargetType) {
	if s == nil || s.net == nil {
		return
	}
	s.net.SetBackendTarget(backend, target)
}

// Close releases the network.
func (s *Stage) Close() error {
	if s == nil || s.net == nil {
		return nil
	}
	return s.net.Close()
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

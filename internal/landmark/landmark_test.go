package landmark

import (
	"errors"
	"image"
	"math"
	"testing"

	"github.com/ayusman/mudra/internal/detector"
	"github.com/ayusman/mudra/internal/inference"
	"github.com/ayusman/mudra/internal/letterbox"
	"gocv.io/x/gocv"
)

// heatmaps builds a [1, channels, h, w] tensor with one peak per channel.
// peaks maps a channel to its (x, y, value) peak; other channels stay zero.
func heatmaps(channels, h, w int, peaks map[int][3]float32) inference.Tensor {
	data := make([]float32, channels*h*w)
	for c, p := range peaks {
		x, y := int(p[0]), int(p[1])
		data[c*h*w+y*w+x] = p[2]
	}
	return inference.Tensor{Shape: []int{1, channels, h, w}, Data: data}
}

func allPeaks(channels int, x, y, v float32) map[int][3]float32 {
	peaks := make(map[int][3]float32, channels)
	for c := 0; c < channels; c++ {
		peaks[c] = [3]float32{x, y, v}
	}
	return peaks
}

func TestDecodeHeatmaps(t *testing.T) {
	// square crop: scale 1, no padding
	lb, err := letterbox.New(368, 368, 368)
	if err != nil {
		t.Fatalf("letterbox.New() error = %v", err)
	}
	origin := image.Pt(50, 60)
	bounds := detector.BoundingBox{X: 50, Y: 60, Width: 368, Height: 368}

	t.Run("maps cell centres to frame coordinates", func(t *testing.T) {
		out := heatmaps(22, 46, 46, allPeaks(22, 10, 20, 0.8))

		lms, err := DecodeHeatmaps(out, lb, origin, bounds, 0.05)
		if err != nil {
			t.Fatalf("DecodeHeatmaps() error = %v", err)
		}
		if len(lms) != detector.NumLandmarks {
			t.Fatalf("expected %d landmarks, got %d", detector.NumLandmarks, len(lms))
		}

		// (10.5 * 8 + 50, 20.5 * 8 + 60)
		for i, lm := range lms {
			if !lm.Valid {
				t.Errorf("landmark %d should be valid", i)
			}
			if math.Abs(lm.X-134) > 1e-6 || math.Abs(lm.Y-224) > 1e-6 {
				t.Errorf("landmark %d = (%f, %f), want (134, 224)", i, lm.X, lm.Y)
			}
		}
	})

	t.Run("peak below threshold is invalid", func(t *testing.T) {
		peaks := allPeaks(21, 10, 20, 0.8)
		peaks[detector.ThumbTip] = [3]float32{5, 5, 0.04}
		delete(peaks, detector.PinkyTip)
		out := heatmaps(21, 46, 46, peaks)

		lms, err := DecodeHeatmaps(out, lb, origin, bounds, 0.05)
		if err != nil {
			t.Fatalf("DecodeHeatmaps() error = %v", err)
		}

		for _, j := range []int{detector.ThumbTip, detector.PinkyTip} {
			if lms[j].Valid {
				t.Errorf("joint %d should be invalid", j)
			}
			if lms[j].X != detector.InvalidCoord || lms[j].Y != detector.InvalidCoord {
				t.Errorf("joint %d = (%f, %f), want sentinel", j, lms[j].X, lms[j].Y)
			}
		}
		if !lms[detector.Wrist].Valid {
			t.Error("wrist should stay valid")
		}

		hand := detector.HandResult{ROI: bounds, Landmarks: lms}
		c := hand.Centroid()
		if math.Abs(c.X-134) > 1e-6 || math.Abs(c.Y-224) > 1e-6 {
			t.Errorf("Centroid() = %+v, want valid joints only", c)
		}
	})

	t.Run("first maximum wins", func(t *testing.T) {
		data := make([]float32, 21*4*4)
		for c := 0; c < 21; c++ {
			data[c*16+1] = 0.9
			data[c*16+14] = 0.9
		}
		out := inference.Tensor{Shape: []int{1, 21, 4, 4}, Data: data}

		lms, err := DecodeHeatmaps(out, lb, image.Pt(0, 0),
			detector.BoundingBox{Width: 368, Height: 368}, 0.05)
		if err != nil {
			t.Fatalf("DecodeHeatmaps() error = %v", err)
		}

		// cell (1, 0) of a 4x4 map over 368: (1.5 * 92, 0.5 * 92)
		if math.Abs(lms[0].X-138) > 1e-6 || math.Abs(lms[0].Y-46) > 1e-6 {
			t.Errorf("landmark = (%f, %f), want (138, 46)", lms[0].X, lms[0].Y)
		}
	})

	t.Run("clamps to the ROI", func(t *testing.T) {
		// crop is larger than the ROI on every side
		roi := detector.BoundingBox{X: 100, Y: 100, Width: 168, Height: 168}
		out := heatmaps(21, 46, 46, allPeaks(21, 0, 45, 0.5))

		lms, err := DecodeHeatmaps(out, lb, image.Pt(0, 0), roi, 0.05)
		if err != nil {
			t.Fatalf("DecodeHeatmaps() error = %v", err)
		}
		if lms[0].X != 100 || lms[0].Y != 267 {
			t.Errorf("landmark = (%f, %f), want (100, 267)", lms[0].X, lms[0].Y)
		}
	})

	t.Run("stays inside a ROI on the frame edge", func(t *testing.T) {
		// a 100x100 frame whose ROI covers it entirely
		roi := detector.BoundingBox{Width: 100, Height: 100}
		out := heatmaps(21, 46, 46, allPeaks(21, 45, 45, 0.5))

		lms, err := DecodeHeatmaps(out, lb, image.Pt(0, 0), roi, 0.05)
		if err != nil {
			t.Fatalf("DecodeHeatmaps() error = %v", err)
		}
		for i, lm := range lms {
			if lm.X >= 100 || lm.Y >= 100 {
				t.Errorf("landmark %d = (%f, %f), want inside [0, 100)", i, lm.X, lm.Y)
			}
		}
		if lms[0].X != 99 || lms[0].Y != 99 {
			t.Errorf("landmark = (%f, %f), want (99, 99)", lms[0].X, lms[0].Y)
		}
	})

	t.Run("rejects too few channels", func(t *testing.T) {
		out := heatmaps(20, 8, 8, nil)
		if _, err := DecodeHeatmaps(out, lb, origin, bounds, 0.05); !errors.Is(err, inference.ErrBadOutput) {
			t.Errorf("DecodeHeatmaps() error = %v, want ErrBadOutput", err)
		}
	})

	t.Run("rejects non 4D output", func(t *testing.T) {
		out := inference.Tensor{Shape: []int{21, 64}, Data: make([]float32, 21*64)}
		if _, err := DecodeHeatmaps(out, lb, origin, bounds, 0.05); !errors.Is(err, inference.ErrBadOutput) {
			t.Errorf("DecodeHeatmaps() error = %v, want ErrBadOutput", err)
		}
	})
}

func TestExpandROI(t *testing.T) {
	tests := []struct {
		name   string
		roi    detector.BoundingBox
		margin float64
		want   detector.BoundingBox
	}{
		{
			name:   "no margin",
			roi:    detector.BoundingBox{X: 100, Y: 100, Width: 50, Height: 50},
			margin: 0,
			want:   detector.BoundingBox{X: 100, Y: 100, Width: 50, Height: 50},
		},
		{
			name:   "grows on every side",
			roi:    detector.BoundingBox{X: 100, Y: 100, Width: 50, Height: 50},
			margin: 10,
			want:   detector.BoundingBox{X: 90, Y: 90, Width: 70, Height: 70},
		},
		{
			name:   "clipped at the frame corner",
			roi:    detector.BoundingBox{X: 0, Y: 0, Width: 50, Height: 50},
			margin: 10,
			want:   detector.BoundingBox{X: 0, Y: 0, Width: 60, Height: 60},
		},
		{
			name:   "empty ROI",
			roi:    detector.BoundingBox{X: 10, Y: 10},
			margin: 10,
			want:   detector.BoundingBox{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExpandROI(tt.roi, tt.margin, 640, 480); got != tt.want {
				t.Errorf("ExpandROI() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestStage_Extract(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping test that requires GoCV Mat creation")
	}

	frame := gocv.NewMatWithSize(480, 640, gocv.MatTypeCV8UC3)
	defer frame.Close()

	t.Run("returns 21 landmarks inside the ROI", func(t *testing.T) {
		net := inference.NewMockNet(heatmaps(22, 46, 46, allPeaks(22, 23, 23, 0.9)))
		stage := New(net, DefaultConfig())
		roi := detector.BoundingBox{X: 100, Y: 100, Width: 200, Height: 200}

		lms, err := stage.Extract(frame, roi)
		if err != nil {
			t.Fatalf("Extract() error = %v", err)
		}
		if len(lms) != detector.NumLandmarks {
			t.Fatalf("expected %d landmarks, got %d", detector.NumLandmarks, len(lms))
		}

		// 23.5 * 8 / 1.84 + 100
		want := 23.5*8/1.84 + 100
		if math.Abs(lms[0].X-want) > 1e-6 || math.Abs(lms[0].Y-want) > 1e-6 {
			t.Errorf("landmark = (%f, %f), want (%f, %f)", lms[0].X, lms[0].Y, want, want)
		}

		shapes := net.InputShapes()
		if len(shapes) != 1 || shapes[0][2] != 368 || shapes[0][3] != 368 {
			t.Errorf("blob shapes = %v, want one 368x368 blob", shapes)
		}
	})

	t.Run("zero area ROI is a no-op", func(t *testing.T) {
		net := inference.NewMockNet(heatmaps(21, 8, 8, nil))
		stage := New(net, DefaultConfig())

		lms, err := stage.Extract(frame, detector.BoundingBox{X: 700, Y: 10, Width: 20, Height: 20})
		if err != nil || lms != nil {
			t.Errorf("Extract() = (%v, %v), want (nil, nil)", lms, err)
		}
		if net.Calls() != 0 {
			t.Errorf("network should not run, calls = %d", net.Calls())
		}
	})

	t.Run("returns network errors", func(t *testing.T) {
		net := inference.NewMockNet()
		expected := errors.New("forward failed")
		net.SetError(expected)
		stage := New(net, DefaultConfig())

		_, err := stage.Extract(frame, detector.BoundingBox{X: 10, Y: 10, Width: 50, Height: 50})
		if !errors.Is(err, expected) {
			t.Errorf("Extract() error = %v, want %v", err, expected)
		}
	})

	t.Run("rejects short heatmap output", func(t *testing.T) {
		net := inference.NewMockNet(heatmaps(10, 8, 8, nil))
		stage := New(net, DefaultConfig())

		_, err := stage.Extract(frame, detector.BoundingBox{X: 10, Y: 10, Width: 50, Height: 50})
		if !errors.Is(err, inference.ErrBadOutput) {
			t.Errorf("Extract() error = %v, want ErrBadOutput", err)
		}
	})
}

package detector

import (
	"fmt"
	"image"
	"math"

	"github.com/ayusman/mudra/internal/inference"
	"github.com/ayusman/mudra/internal/letterbox"
	"gocv.io/x/gocv"
)

// Config holds configuration options for hand detection.
type Config struct {
	// InputSize is the square input size of the detector network.
	InputSize int

	// ConfThreshold is the minimum detection confidence (0.0-1.0).
	ConfThreshold float64

	// NMSThreshold is the IoU at or above which the lower scoring of two
	// overlapping detections is suppressed.
	NMSThreshold float64

	// MaxHands is the maximum number of hands kept after suppression.
	// Zero keeps all of them.
	MaxHands int

	// SwapRB converts the BGR frame to RGB when building the input blob.
	SwapRB bool
}

// DefaultConfig returns a Config with sensible default values.
func DefaultConfig() Config {
	return Config{
		InputSize:     640,
		ConfThreshold: 0.3,
		NMSThreshold:  0.5,
		MaxHands:      2,
		SwapRB:        true,
	}
}

// Detection is a candidate hand box produced by the detector network.
type Detection struct {
	Box   BoundingBox
	Score float64
	// ClassID is the index of the best class, or -1 for single class models.
	ClassID int
}

// Detector runs a box detection network over full frames.
type Detector struct {
	net    inference.Net
	config Config
}

// New creates a Detector using the given network.
func New(net inference.Net, config Config) *Detector {
	if config.InputSize <= 0 {
		config.InputSize = DefaultConfig().InputSize
	}
	return &Detector{
		net:    net,
		config: config,
	}
}

// Config returns the detector configuration.
func (d *Detector) Config() Config {
	return d.config
}

// Detect runs the network on a BGR frame and returns the candidate boxes in
// frame coordinates, before suppression. An empty frame or a missing network
// yields no detections and no error.
func (d *Detector) Detect(frame gocv.Mat) ([]Detection, error) {
	if d == nil || d.net == nil || frame.Empty() {
		return nil, nil
	}

	lb, err := letterbox.New(frame.Cols(), frame.Rows(), d.config.InputSize)
	if err != nil {
		return nil, nil
	}

	input := gocv.NewMat()
	defer input.Close()
	lb.Apply(frame, &input)

	size := d.config.InputSize
	blob := gocv.BlobFromImage(input, 1.0/255.0, image.Pt(size, size),
		gocv.NewScalar(0, 0, 0, 0), d.config.SwapRB, false)
	defer blob.Close()

	out, err := d.net.Forward(blob)
	if err != nil {
		return nil, fmt.Errorf("detector forward: %w", err)
	}

	return Decode(out, lb, d.config.ConfThreshold)
}

// DetectHands runs Detect, suppresses duplicates and keeps at most MaxHands
// detections in descending score order.
func (d *Detector) DetectHands(frame gocv.Mat) ([]Detection, error) {
	dets, err := d.Detect(frame)
	if err != nil || len(dets) == 0 {
		return nil, err
	}

	keep := NMS(dets, d.config.NMSThreshold)
	if d.config.MaxHands > 0 && len(keep) > d.config.MaxHands {
		keep = keep[:d.config.MaxHands]
	}

	hands := make([]Detection, len(keep))
	for i, idx := range keep {
		hands[i] = dets[idx]
	}
	return hands, nil
}

// Decode converts a raw detector output into detections in source frame
// coordinates. The output is either attribute-major [1, A, N] or anchor-major
// [1, N, A], with A >= 5 attributes (cx, cy, w, h, class scores...). The
// smaller of the last two dimensions is taken to be the attribute axis.
func Decode(out inference.Tensor, lb *letterbox.Transform, threshold float64) ([]Detection, error) {
	if err := out.Validate(); err != nil {
		return nil, err
	}

	shape := out.Shape
	if len(shape) == 3 && shape[0] == 1 {
		shape = shape[1:]
	}
	if len(shape) != 2 {
		return nil, fmt.Errorf("%w: detector shape %v", inference.ErrBadOutput, out.Shape)
	}

	rows, cols := shape[0], shape[1]
	attrMajor := rows < cols
	numAttrs, numCandidates := cols, rows
	if attrMajor {
		numAttrs, numCandidates = rows, cols
	}
	if numAttrs < 5 {
		return nil, fmt.Errorf("%w: detector needs at least 5 attributes, got %d",
			inference.ErrBadOutput, numAttrs)
	}

	at := func(i, k int) float64 {
		if attrMajor {
			return float64(out.Data[k*numCandidates+i])
		}
		return float64(out.Data[i*numAttrs+k])
	}

	numClasses := numAttrs - 4
	var dets []Detection

	for i := 0; i < numCandidates; i++ {
		score := at(i, 4)
		class := 0
		for c := 1; c < numClasses; c++ {
			if s := at(i, 4+c); s > score {
				score = s
				class = c
			}
		}

		// NaN scores and sizes fail these comparisons
		if !(score >= threshold) {
			continue
		}

		cx, cy, w, h := at(i, 0), at(i, 1), at(i, 2), at(i, 3)
		if !(w > 0 && h > 0) || math.IsNaN(cx) || math.IsNaN(cy) {
			continue
		}

		box := BoxFromRect(lb.ToSourceBox(cx-w/2, cy-h/2, cx+w/2, cy+h/2))
		if box.Empty() {
			continue
		}

		if numClasses == 1 {
			class = -1
		}

		dets = append(dets, Detection{
			Box:     box,
			Score:   clampScore(score),
			ClassID: class,
		})
	}

	return dets, nil
}

func clampScore(s float64) float64 {
	if s < 0 {
		return 0
	}
	if s > 1 {
		return 1
	}
	return s
}

// SetBackendTarget forwards the backend selection to the network.
func (d *Detector) SetBackendTarget(backend gocv.NetBackendType, target gocv.NetTargetType) {
	if d == nil || d.net == nil {
		return
	}
	d.net.SetBackendTarget(backend, target)
}

// Close releases the network.
func (d *Detector) Close() error {
	if d == nil || d.net == nil {
		return nil
	}
	return d.net.Close()
}

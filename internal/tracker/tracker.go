// Package tracker keeps hand regions of interest alive between detector runs.
// The detector runs every DetectEvery frames; in between, each region is
// shifted by a damped copy of the centroid motion observed on the last frame.
package tracker

import (
	"math"

	"github.com/ayusman/mudra/internal/detector"
)

// Default tracking parameters.
const (
	DefaultDetectEvery    = 5
	DefaultDamping        = 0.9
	DefaultMaxStepDivisor = 6
)

// Config holds the ROI tracker parameters.
type Config struct {
	// DetectEvery is the detector cadence in frames. Values below 1 run the
	// detector on every frame.
	DetectEvery int

	// Damping scales the last observed centroid delta before it is applied.
	Damping float64

	// MaxStepDivisor caps the per-axis shift to region height / MaxStepDivisor.
	MaxStepDivisor int
}

// DefaultConfig returns a Config with the default cadence and motion model.
func DefaultConfig() Config {
	return Config{
		DetectEvery:    DefaultDetectEvery,
		Damping:        DefaultDamping,
		MaxStepDivisor: DefaultMaxStepDivisor,
	}
}

// Region is a tracked region of interest.
type Region struct {
	Box     detector.BoundingBox
	Score   float64
	ClassID int

	centroid    detector.Point
	hasCentroid bool
	delta       detector.Point
}

// Delta returns the last observed per-frame centroid motion.
func (r Region) Delta() detector.Point {
	return r.delta
}

// Tracker schedules detection and predicts region motion between detections.
// It is not safe for concurrent use.
type Tracker struct {
	config  Config
	regions []Region
	frame   int
}

// New creates a Tracker with the given configuration.
func New(config Config) *Tracker {
	if config.DetectEvery < 1 {
		config.DetectEvery = 1
	}
	if config.MaxStepDivisor < 1 {
		config.MaxStepDivisor = DefaultMaxStepDivisor
	}
	return &Tracker{config: config}
}

// Config returns the tracker configuration.
func (t *Tracker) Config() Config {
	return t.config
}

// ShouldDetect reports whether the detector must run on the current frame.
func (t *Tracker) ShouldDetect() bool {
	return len(t.regions) == 0 || t.frame%t.config.DetectEvery == 0
}

// Update replaces the tracked regions with fresh detections. Motion history
// is discarded. An empty slice clears the regions.
func (t *Tracker) Update(dets []detector.Detection) {
	t.regions = t.regions[:0]
	for _, d := range dets {
		if d.Box.Empty() {
			continue
		}
		t.regions = append(t.regions, Region{
			Box:     d.Box,
			Score:   d.Score,
			ClassID: d.ClassID,
		})
	}
}

// Predict shifts every region by its damped delta, clamped per axis, and
// moves it back inside a width x height frame. Regions that end up empty are
// dropped.
func (t *Tracker) Predict(width, height int) {
	kept := t.regions[:0]
	for _, r := range t.regions {
		maxStep := r.Box.Height / t.config.MaxStepDivisor
		dx := clampStep(int(math.Round(t.config.Damping*r.delta.X)), maxStep)
		dy := clampStep(int(math.Round(t.config.Damping*r.delta.Y)), maxStep)

		r.Box = r.Box.Translate(dx, dy, width, height)
		if r.Box.Empty() {
			continue
		}
		kept = append(kept, r)
	}
	t.regions = kept
}

// Observe records the centroid measured for region i on the current frame.
// The first observation after a detection only sets the reference point.
func (t *Tracker) Observe(i int, centroid detector.Point) {
	if i < 0 || i >= len(t.regions) {
		return
	}

	r := &t.regions[i]
	if r.hasCentroid {
		r.delta = detector.Point{
			X: centroid.X - r.centroid.X,
			Y: centroid.Y - r.centroid.Y,
		}
	} else {
		r.delta = detector.Point{}
	}
	r.centroid = centroid
	r.hasCentroid = true
}

// Advance moves the frame counter forward. It is called once per non-empty
// frame.
func (t *Tracker) Advance() {
	t.frame++
}

// Regions returns a copy of the tracked regions.
func (t *Tracker) Regions() []Region {
	return append([]Region(nil), t.regions...)
}

// FrameCount returns the number of frames processed since the last reset.
func (t *Tracker) FrameCount() int {
	return t.frame
}

// Reset clears all regions and the frame counter.
func (t *Tracker) Reset() {
	t.regions = nil
	t.frame = 0
}

func clampStep(v, maxStep int) int {
	if v > maxStep {
		return maxStep
	}
	if v < -maxStep {
		return -maxStep
	}
	return v
}

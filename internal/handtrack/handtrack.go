// Package handtrack wires the detector, ROI tracker, landmark stage and
// smoother into a per-frame hand tracking pipeline.
//
// A Pipeline is synchronous and owns all of its state. It is not safe for
// concurrent use; callers serialise Infer and configuration changes.
package handtrack

import (
	"errors"
	"fmt"
	"log"

	"github.com/ayusman/mudra/internal/detector"
	"github.com/ayusman/mudra/internal/inference"
	"github.com/ayusman/mudra/internal/landmark"
	"github.com/ayusman/mudra/internal/smoother"
	"github.com/ayusman/mudra/internal/tracker"
	"gocv.io/x/gocv"
)

var (
	// ErrModelLoad is returned by Load when a network cannot be loaded.
	ErrModelLoad = errors.New("handtrack: model load failed")

	// ErrNotLoaded is reported when Infer runs before a successful Load.
	ErrNotLoaded = errors.New("handtrack: pipeline not loaded")
)

// Options configures a Pipeline.
type Options struct {
	// DetectorModel is the box detector network. When empty the whole frame
	// is tracked as a single region.
	DetectorModel  string
	DetectorConfig string

	// LandmarkModel is the heatmap keypoint network. When empty only boxes
	// are tracked and smoothed.
	LandmarkModel  string
	LandmarkConfig string

	Detector  detector.Config
	Landmark  landmark.Config
	Tracker   tracker.Config
	Smoothing smoother.Config

	Backend gocv.NetBackendType
	Target  gocv.NetTargetType
}

// DefaultOptions returns Options with default stage configurations and no
// models.
func DefaultOptions() Options {
	return Options{
		Detector:  detector.DefaultConfig(),
		Landmark:  landmark.DefaultConfig(),
		Tracker:   tracker.DefaultConfig(),
		Smoothing: smoother.DefaultConfig(),
		Backend:   gocv.NetBackendDefault,
		Target:    gocv.NetTargetCPU,
	}
}

// Loader opens a network from a model file and an optional config file.
type Loader func(model, config string) (inference.Net, error)

func loadDNN(model, config string) (inference.Net, error) {
	return inference.LoadDNN(model, config)
}

// Pipeline tracks hands across the frames of one video stream.
type Pipeline struct {
	loader Loader

	detector  *detector.Detector
	landmarks *landmark.Stage
	tracker   *tracker.Tracker
	smoother  *smoother.Smoother

	smoothing smoother.Config
	loaded    bool
	warned    bool
}

// New creates an unloaded Pipeline that opens models with the OpenCV DNN
// backend.
func New() *Pipeline {
	return NewWithLoader(loadDNN)
}

// NewWithLoader creates an unloaded Pipeline that opens models with loader.
func NewWithLoader(loader Loader) *Pipeline {
	return &Pipeline{
		loader:    loader,
		smoothing: smoother.DefaultConfig(),
	}
}

// Load opens the configured networks and resets all tracking state. On
// failure the previous networks are already released and the pipeline stays
// unloaded.
func (p *Pipeline) Load(opts Options) error {
	p.release()

	if opts.DetectorModel == "" && opts.LandmarkModel == "" {
		return fmt.Errorf("%w: no model configured", ErrModelLoad)
	}

	var detNet, lmkNet inference.Net
	var err error

	if opts.DetectorModel != "" {
		detNet, err = p.loader(opts.DetectorModel, opts.DetectorConfig)
		if err != nil {
			return fmt.Errorf("%w: detector %s: %w", ErrModelLoad, opts.DetectorModel, err)
		}
	}

	if opts.LandmarkModel != "" {
		lmkNet, err = p.loader(opts.LandmarkModel, opts.LandmarkConfig)
		if err != nil {
			if detNet != nil {
				detNet.Close()
			}
			return fmt.Errorf("%w: landmarks %s: %w", ErrModelLoad, opts.LandmarkModel, err)
		}
	}

	mode := smoother.ModeBox
	if lmkNet != nil {
		p.landmarks = landmark.New(lmkNet, opts.Landmark)
		mode = smoother.ModeLandmarks
	}
	if detNet != nil {
		p.detector = detector.New(detNet, opts.Detector)
	}

	p.tracker = tracker.New(opts.Tracker)
	p.smoothing = opts.Smoothing
	p.smoother = smoother.New(mode, opts.Smoothing)
	p.loaded = true
	p.warned = false

	p.detector.SetBackendTarget(opts.Backend, opts.Target)
	p.landmarks.SetBackendTarget(opts.Backend, opts.Target)

	log.Printf("handtrack: loaded (detector=%q landmarks=%q mode=%s)",
		opts.DetectorModel, opts.LandmarkModel, mode)
	return nil
}

// SetBackendTarget changes the compute backend of both networks. It does
// nothing before a successful Load.
func (p *Pipeline) SetBackendTarget(backend gocv.NetBackendType, target gocv.NetTargetType) {
	if !p.loaded {
		return
	}
	p.detector.SetBackendTarget(backend, target)
	p.landmarks.SetBackendTarget(backend, target)
	log.Printf("handtrack: backend %d target %d", backend, target)
}

// SetSmoothingConfig replaces the smoothing configuration.
func (p *Pipeline) SetSmoothingConfig(config smoother.Config) {
	p.smoothing = config
	if p.smoother != nil {
		p.smoother.SetConfig(config)
	}
}

// SmoothingConfig returns the smoothing configuration.
func (p *Pipeline) SmoothingConfig() smoother.Config {
	return p.smoothing
}

// Mode returns the smoothing mode chosen by the last Load. An unloaded
// pipeline reports ModeLandmarks.
func (p *Pipeline) Mode() smoother.Mode {
	if p.smoother == nil {
		return smoother.ModeLandmarks
	}
	return p.smoother.Mode()
}

// Loaded reports whether a Load succeeded.
func (p *Pipeline) Loaded() bool {
	return p.loaded
}

// Infer runs one frame through the pipeline. It never panics and returns an
// empty slice when the pipeline is unloaded, the frame is empty or no hand is
// found. Inference failures are logged and treated as no result.
func (p *Pipeline) Infer(frame gocv.Mat) (hands []detector.HandResult) {
	hands = []detector.HandResult{}

	if !p.loaded {
		if !p.warned {
			log.Printf("handtrack: %v", ErrNotLoaded)
			p.warned = true
		}
		return hands
	}
	if frame.Empty() {
		return hands
	}

	defer func() {
		if r := recover(); r != nil {
			log.Printf("handtrack: inference panic: %v", r)
			hands = []detector.HandResult{}
		}
	}()

	return p.process(frame)
}

func (p *Pipeline) process(frame gocv.Mat) []detector.HandResult {
	width, height := frame.Cols(), frame.Rows()

	// Step 1: detect on schedule, otherwise move regions along
	if p.tracker.ShouldDetect() {
		p.tracker.Update(p.detect(frame))
	} else {
		p.tracker.Predict(width, height)
	}

	// Step 2: landmarks per region
	regions := p.tracker.Regions()
	hands := make([]detector.HandResult, 0, len(regions))

	for i, r := range regions {
		hand := detector.HandResult{
			ROI:     r.Box,
			Score:   r.Score,
			ClassID: r.ClassID,
		}

		if p.landmarks != nil {
			lms, err := p.landmarks.Extract(frame, r.Box)
			if err != nil || len(lms) != detector.NumLandmarks {
				// no landmarks this frame; the smoother holds the joints
				// and the region keeps its previous motion estimate
				if err != nil {
					log.Printf("handtrack: landmarks: %v", err)
				}
				hand.Landmarks = invalidLandmarks()
				hands = append(hands, hand)
				continue
			}
			hand.Landmarks = lms
		}

		p.tracker.Observe(i, hand.Centroid())
		hands = append(hands, hand)
	}

	p.tracker.Advance()

	// Step 3: temporal smoothing
	return p.smoother.Apply(hands)
}

func invalidLandmarks() []detector.Landmark {
	lms := make([]detector.Landmark, detector.NumLandmarks)
	for i := range lms {
		lms[i] = detector.InvalidLandmark()
	}
	return lms
}

// detect returns the hand detections for a frame. Without a detector the
// whole frame is a single region.
func (p *Pipeline) detect(frame gocv.Mat) []detector.Detection {
	if p.detector == nil {
		return []detector.Detection{{
			Box:     detector.BoundingBox{Width: frame.Cols(), Height: frame.Rows()},
			Score:   1,
			ClassID: -1,
		}}
	}

	dets, err := p.detector.DetectHands(frame)
	if err != nil {
		log.Printf("handtrack: detector: %v", err)
		return nil
	}
	return dets
}

// Reset clears tracked regions, smoothing state and the frame counter.
func (p *Pipeline) Reset() {
	if p.tracker != nil {
		p.tracker.Reset()
	}
	if p.smoother != nil {
		p.smoother.Reset()
	}
}

// Close releases the networks. The pipeline must be loaded again before use.
func (p *Pipeline) Close() error {
	return p.release()
}

func (p *Pipeline) release() error {
	var errs []error
	if err := p.detector.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := p.landmarks.Close(); err != nil {
		errs = append(errs, err)
	}

	p.detector = nil
	p.landmarks = nil
	p.tracker = nil
	p.smoother = nil
	p.loaded = false

	return errors.Join(errs...)
}

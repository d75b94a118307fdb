// Package smoother reduces frame to frame jitter of hand results with an
// exponential moving average, holding briefly occluded points at their last
// value.
package smoother

import (
	"errors"
	"fmt"
	"math"

	"github.com/ayusman/mudra/internal/detector"
)

// ErrInvalidConfig is returned by Config.Validate for out of range values.
var ErrInvalidConfig = errors.New("smoother: invalid config")

// Mode selects what the smoother filters.
type Mode int

const (
	// ModeLandmarks smooths the 21 landmarks of each hand.
	ModeLandmarks Mode = iota
	// ModeBox smooths the ROI of each hand.
	ModeBox
)

// String returns the mode name.
func (m Mode) String() string {
	switch m {
	case ModeLandmarks:
		return "landmarks"
	case ModeBox:
		return "box"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// Config holds the smoothing parameters.
type Config struct {
	Enabled bool `json:"enabled" yaml:"enabled"`

	// Alpha is the weight of the current observation, in (0, 1].
	Alpha float64 `json:"alpha" yaml:"alpha"`

	// MaxMatchDist is the centroid distance in pixels below which a hand is
	// matched to a previous track.
	MaxMatchDist float64 `json:"max_match_dist" yaml:"max_match_dist"`

	// HoldInvalidFrames is how many consecutive invalid observations of a
	// point report its last valid value.
	HoldInvalidFrames int `json:"hold_invalid_frames" yaml:"hold_invalid_frames"`

	// MaxUnmatchedFrames is how many frames a track without a matching hand
	// is retained. Zero drops it immediately.
	MaxUnmatchedFrames int `json:"max_unmatched_frames" yaml:"max_unmatched_frames"`
}

// DefaultConfig returns a Config with sensible default values.
func DefaultConfig() Config {
	return Config{
		Enabled:            true,
		Alpha:              0.30,
		MaxMatchDist:       120,
		HoldInvalidFrames:  3,
		MaxUnmatchedFrames: 0,
	}
}

// Validate checks that all values are in range.
func (c Config) Validate() error {
	if c.Alpha <= 0 || c.Alpha > 1 || math.IsNaN(c.Alpha) {
		return fmt.Errorf("%w: alpha %v not in (0, 1]", ErrInvalidConfig, c.Alpha)
	}
	if c.MaxMatchDist <= 0 {
		return fmt.Errorf("%w: max_match_dist %v must be positive", ErrInvalidConfig, c.MaxMatchDist)
	}
	if c.HoldInvalidFrames < 0 {
		return fmt.Errorf("%w: hold_invalid_frames %d is negative", ErrInvalidConfig, c.HoldInvalidFrames)
	}
	if c.MaxUnmatchedFrames < 0 {
		return fmt.Errorf("%w: max_unmatched_frames %d is negative", ErrInvalidConfig, c.MaxUnmatchedFrames)
	}
	return nil
}

// point is one smoothed quantity: a landmark (x, y) or a box (x, y, w, h).
type point struct {
	values []float64
	valid  bool
	stale  int
}

// track is the smoothing state of one hand across frames.
type track struct {
	points    []point
	centroid  detector.Point
	unmatched int
}

// Smoother filters hand results across frames. It is not safe for
// concurrent use.
type Smoother struct {
	mode   Mode
	config Config
	tracks []*track
}

// New creates a Smoother for the given mode.
func New(mode Mode, config Config) *Smoother {
	return &Smoother{
		mode:   mode,
		config: config,
	}
}

// Mode returns the mode chosen at construction.
func (s *Smoother) Mode() Mode {
	return s.mode
}

// Config returns the current configuration.
func (s *Smoother) Config() Config {
	return s.config
}

// SetConfig replaces the configuration. Disabling smoothing clears all state.
func (s *Smoother) SetConfig(config Config) {
	s.config = config
	if !config.Enabled {
		s.Reset()
	}
}

// Reset discards all tracks.
func (s *Smoother) Reset() {
	s.tracks = nil
}

// Tracks returns the number of retained tracks.
func (s *Smoother) Tracks() int {
	return len(s.tracks)
}

// Apply smooths hands against the tracks of previous frames and returns new
// results in the same order. The input is not modified.
func (s *Smoother) Apply(hands []detector.HandResult) []detector.HandResult {
	out := make([]detector.HandResult, len(hands))
	for i, h := range hands {
		out[i] = h
		out[i].Landmarks = append([]detector.Landmark(nil), h.Landmarks...)
	}

	if !s.config.Enabled {
		s.Reset()
		return out
	}

	alpha := s.config.Alpha
	if alpha <= 0 || math.IsNaN(alpha) {
		alpha = DefaultConfig().Alpha
	}

	matched := make([]bool, len(s.tracks))
	next := make([]*track, 0, len(hands))

	for i := range out {
		hand := &out[i]
		cur := s.observe(hand)
		if cur == nil {
			continue
		}
		centroid := hand.Centroid()

		idx := s.nearest(centroid, matched)
		if idx < 0 {
			// new track, output unsmoothed
			next = append(next, &track{points: cur, centroid: centroid})
			continue
		}
		matched[idx] = true

		tr := s.tracks[idx]
		tr.points = s.merge(tr.points, cur, alpha)
		tr.unmatched = 0
		s.write(hand, tr.points)
		tr.centroid = hand.Centroid()
		next = append(next, tr)
	}

	for i, tr := range s.tracks {
		if matched[i] {
			continue
		}
		tr.unmatched++
		if tr.unmatched <= s.config.MaxUnmatchedFrames {
			next = append(next, tr)
		}
	}

	s.tracks = next
	return out
}

// observe extracts the smoothed quantities of a hand for the current mode. It
// returns nil when the hand carries nothing to smooth.
func (s *Smoother) observe(h *detector.HandResult) []point {
	switch s.mode {
	case ModeBox:
		if h.ROI.Empty() {
			return nil
		}
		return []point{{
			values: []float64{float64(h.ROI.X), float64(h.ROI.Y), float64(h.ROI.Width), float64(h.ROI.Height)},
			valid:  true,
		}}
	default:
		if len(h.Landmarks) == 0 {
			return nil
		}
		pts := make([]point, len(h.Landmarks))
		for i, lm := range h.Landmarks {
			pts[i] = point{values: []float64{lm.X, lm.Y}, valid: lm.Valid}
		}
		return pts
	}
}

// write stores smoothed quantities back into the hand.
func (s *Smoother) write(h *detector.HandResult, pts []point) {
	switch s.mode {
	case ModeBox:
		v := pts[0].values
		h.ROI = detector.BoundingBox{
			X:      int(math.Round(v[0])),
			Y:      int(math.Round(v[1])),
			Width:  int(math.Round(v[2])),
			Height: int(math.Round(v[3])),
		}
	default:
		for i := range h.Landmarks {
			if i >= len(pts) {
				break
			}
			if pts[i].valid {
				h.Landmarks[i] = detector.Landmark{
					Point: detector.Point{X: pts[i].values[0], Y: pts[i].values[1]},
					Valid: true,
				}
			} else {
				h.Landmarks[i] = detector.InvalidLandmark()
			}
		}
	}
}

// nearest returns the index of the closest unmatched track within
// MaxMatchDist of c, or -1.
func (s *Smoother) nearest(c detector.Point, matched []bool) int {
	best := -1
	bestDist := s.config.MaxMatchDist
	for i, tr := range s.tracks {
		if matched[i] {
			continue
		}
		if d := detector.Distance(c, tr.centroid); d < bestDist {
			best = i
			bestDist = d
		}
	}
	return best
}

// merge updates the previous points with the current observation.
func (s *Smoother) merge(prev, cur []point, alpha float64) []point {
	if len(prev) != len(cur) {
		return cur
	}

	hold := s.config.HoldInvalidFrames
	for i := range cur {
		p, c := &prev[i], cur[i]
		switch {
		case p.valid && c.valid:
			for k := range p.values {
				p.values[k] = Blend(p.values[k], c.values[k], alpha)
			}
			p.stale = 0
		case !c.valid && p.valid && p.stale < hold:
			p.stale++
		case !c.valid:
			p.valid = false
			p.stale = 0
		default:
			p.values = c.values
			p.valid = true
			p.stale = 0
		}
	}
	return prev
}

// Blend returns prev + alpha*(cur-prev), clamped between prev and cur. An
// alpha of 1 or more returns cur.
func Blend(prev, cur, alpha float64) float64 {
	if alpha >= 1 {
		return cur
	}
	v := prev + alpha*(cur-prev)
	lo, hi := math.Min(prev, cur), math.Max(prev, cur)
	return math.Max(lo, math.Min(hi, v))
}

// Package detector provides the hand detection stage and the result types shared
// by every stage of the tracking pipeline.
package detector

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// Hand landmark indices in canonical joint order: the wrist, then four joints
// per finger from thumb to little finger. Consumers index joints positionally,
// so this order must never change.
const (
	Wrist        = 0
	ThumbCMC     = 1
	ThumbMCP     = 2
	ThumbIP      = 3
	ThumbTip     = 4
	IndexMCP     = 5
	IndexPIP     = 6
	IndexDIP     = 7
	IndexTip     = 8
	MiddleMCP    = 9
	MiddlePIP    = 10
	MiddleDIP    = 11
	MiddleTip    = 12
	RingMCP      = 13
	RingPIP      = 14
	RingDIP      = 15
	RingTip      = 16
	PinkyMCP     = 17
	PinkyPIP     = 18
	PinkyDIP     = 19
	PinkyTip     = 20
	NumLandmarks = 21
)

// PalmCenter is the joint used as a palm-centre proxy by consumers.
const PalmCenter = MiddleMCP

// InvalidCoord is the sentinel coordinate carried by invalid landmarks.
const InvalidCoord = -1.0

// Point represents a 2D point in frame pixel coordinates.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Landmark is a single hand joint position with a validity flag.
type Landmark struct {
	Point
	Valid bool `json:"valid"`
}

// InvalidLandmark returns a landmark marked invalid with sentinel coordinates.
func InvalidLandmark() Landmark {
	return Landmark{Point: Point{X: InvalidCoord, Y: InvalidCoord}}
}

// HandResult is one tracked hand for one frame.
type HandResult struct {
	ROI     BoundingBox `json:"roi"`
	Score   float64     `json:"score"`
	ClassID int         `json:"class_id"`
	// Landmarks holds exactly NumLandmarks entries when landmarks are
	// enabled, and is empty when only boxes are tracked.
	Landmarks []Landmark `json:"landmarks,omitempty"`
}

// HasLandmarks reports whether the result carries a full joint set.
func (h *HandResult) HasLandmarks() bool {
	return len(h.Landmarks) == NumLandmarks
}

// Centroid returns the mean of the valid landmarks, falling back to the ROI
// centre when there are none.
func (h *HandResult) Centroid() Point {
	xs := make([]float64, 0, len(h.Landmarks))
	ys := make([]float64, 0, len(h.Landmarks))
	for _, lm := range h.Landmarks {
		if !lm.Valid {
			continue
		}
		xs = append(xs, lm.X)
		ys = append(ys, lm.Y)
	}
	if len(xs) == 0 {
		return h.ROI.Center()
	}
	return Point{X: stat.Mean(xs, nil), Y: stat.Mean(ys, nil)}
}

// Distance returns the Euclidean distance between two points.
func Distance(a, b Point) float64 {
	return math.Hypot(a.X-b.X, a.Y-b.Y)
}

// skeleton pairs joints connected by a bone, used by renderers.
var skeleton = [][2]int{
	{Wrist, ThumbCMC}, {ThumbCMC, ThumbMCP}, {ThumbMCP, ThumbIP}, {ThumbIP, ThumbTip},
	{Wrist, IndexMCP}, {IndexMCP, IndexPIP}, {IndexPIP, IndexDIP}, {IndexDIP, IndexTip},
	{IndexMCP, MiddleMCP}, {MiddleMCP, MiddlePIP}, {MiddlePIP, MiddleDIP}, {MiddleDIP, MiddleTip},
	{MiddleMCP, RingMCP}, {RingMCP, RingPIP}, {RingPIP, RingDIP}, {RingDIP, RingTip},
	{RingMCP, PinkyMCP}, {Wrist, PinkyMCP}, {PinkyMCP, PinkyPIP}, {PinkyPIP, PinkyDIP}, {PinkyDIP, PinkyTip},
}

// Skeleton returns the bone connections between joints.
func Skeleton() [][2]int {
	out := make([][2]int, len(skeleton))
	copy(out, skeleton)
	return out
}

package detector

import "github.com/ayusman/mudra/internal/inference"

// Candidate is one raw detector row in letterboxed input coordinates.
type Candidate struct {
	CX, CY, W, H float32
	Score        float32
}

// CandidateTensor builds an attribute-major [1, 5, N] detector output from
// candidates, as produced by single class YOLO hand models.
func CandidateTensor(cands ...Candidate) inference.Tensor {
	n := len(cands)
	if n == 0 {
		// an output with one empty candidate keeps the tensor well formed
		return inference.Tensor{Shape: []int{1, 5, 1}, Data: make([]float32, 5)}
	}

	data := make([]float32, 5*n)
	for i, c := range cands {
		data[0*n+i] = c.CX
		data[1*n+i] = c.CY
		data[2*n+i] = c.W
		data[3*n+i] = c.H
		data[4*n+i] = c.Score
	}

	return inference.Tensor{Shape: []int{1, 5, n}, Data: data}
}

// openPalm holds an open palm pose normalised to a unit box, wrist at the
// bottom centre and fingers pointing up.
var openPalm = [NumLandmarks]Point{
	Wrist:     {X: 0.42, Y: 0.95},
	ThumbCMC:  {X: 0.55, Y: 0.85},
	ThumbMCP:  {X: 0.70, Y: 0.75},
	ThumbIP:   {X: 0.82, Y: 0.65},
	ThumbTip:  {X: 0.92, Y: 0.55},
	IndexMCP:  {X: 0.55, Y: 0.60},
	IndexPIP:  {X: 0.60, Y: 0.40},
	IndexDIP:  {X: 0.62, Y: 0.27},
	IndexTip:  {X: 0.62, Y: 0.15},
	MiddleMCP: {X: 0.42, Y: 0.57},
	MiddlePIP: {X: 0.42, Y: 0.35},
	MiddleDIP: {X: 0.42, Y: 0.20},
	MiddleTip: {X: 0.42, Y: 0.05},
	RingMCP:   {X: 0.30, Y: 0.60},
	RingPIP:   {X: 0.26, Y: 0.40},
	RingDIP:   {X: 0.24, Y: 0.27},
	RingTip:   {X: 0.24, Y: 0.15},
	PinkyMCP:  {X: 0.18, Y: 0.65},
	PinkyPIP:  {X: 0.12, Y: 0.50},
	PinkyDIP:  {X: 0.08, Y: 0.40},
	PinkyTip:  {X: 0.06, Y: 0.30},
}

// OpenPalmHand returns a preset HandResult with an open palm pose laid out
// inside roi. All landmarks are valid.
func OpenPalmHand(roi BoundingBox, score float64) HandResult {
	h := HandResult{
		ROI:       roi,
		Score:     score,
		ClassID:   -1,
		Landmarks: make([]Landmark, NumLandmarks),
	}

	for i, p := range openPalm {
		h.Landmarks[i] = Landmark{
			Point: Point{
				X: float64(roi.X) + p.X*float64(roi.Width),
				Y: float64(roi.Y) + p.Y*float64(roi.Height),
			},
			Valid: true,
		}
	}

	return h
}

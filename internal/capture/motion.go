package capture

import (
	"image"
	"sync"
	"time"

	"gocv.io/x/gocv"
)

// Motion detection constants
const (
	// BlurSize is the Gaussian kernel applied before differencing.
	BlurSize = 21
	// DiffThreshold is the per-pixel difference counted as change.
	DiffThreshold = 25
	// DefaultMotionThreshold is the default percentage of changed pixels.
	DefaultMotionThreshold = 1.0
	// DefaultIdleTimeout is how long without motion before the gate closes.
	DefaultIdleTimeout = 2 * time.Second
)

// MotionDetector detects motion between consecutive frames by differencing
// blurred grayscale images.
type MotionDetector struct {
	threshold   float64
	prevGray    gocv.Mat
	initialized bool
	mu          sync.Mutex
}

// NewMotionDetector creates a MotionDetector. threshold is the percentage of
// pixels that must change, 1.0 meaning 1%.
func NewMotionDetector(threshold float64) *MotionDetector {
	if threshold <= 0 {
		threshold = DefaultMotionThreshold
	}
	return &MotionDetector{
		threshold: threshold,
		prevGray:  gocv.NewMat(),
	}
}

// Detect compares frame with the previous one and returns whether motion was
// found along with the percentage of changed pixels. The first frame only
// sets the baseline.
func (m *MotionDetector) Detect(frame gocv.Mat) (bool, float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if frame.Empty() {
		return false, 0
	}

	gray := gocv.NewMat()
	defer gray.Close()
	if frame.Channels() > 1 {
		gocv.CvtColor(frame, &gray, gocv.ColorBGRToGray)
	} else {
		frame.CopyTo(&gray)
	}

	blurred := gocv.NewMat()
	defer blurred.Close()
	gocv.GaussianBlur(gray, &blurred, image.Pt(BlurSize, BlurSize), 0, 0, gocv.BorderDefault)

	// a size change restarts the baseline
	if !m.initialized || blurred.Rows() != m.prevGray.Rows() || blurred.Cols() != m.prevGray.Cols() {
		blurred.CopyTo(&m.prevGray)
		m.initialized = true
		return false, 0
	}

	diff := gocv.NewMat()
	defer diff.Close()
	gocv.AbsDiff(blurred, m.prevGray, &diff)

	thresh := gocv.NewMat()
	defer thresh.Close()
	gocv.Threshold(diff, &thresh, DiffThreshold, 255, gocv.ThresholdBinary)

	changed := float64(gocv.CountNonZero(thresh)) / float64(thresh.Rows()*thresh.Cols()) * 100.0

	blurred.CopyTo(&m.prevGray)

	return changed > m.threshold, changed
}

// Reset drops the baseline frame.
func (m *MotionDetector) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.release()
}

// Close releases the baseline frame. The detector may be used again.
func (m *MotionDetector) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.release()
}

func (m *MotionDetector) release() {
	if !m.prevGray.Empty() {
		m.prevGray.Close()
		m.prevGray = gocv.NewMat()
	}
	m.initialized = false
}

// SetThreshold sets the changed pixel percentage. Values less than or equal
// to 0 are ignored.
func (m *MotionDetector) SetThreshold(threshold float64) {
	if threshold <= 0 {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.threshold = threshold
}

// Threshold returns the changed pixel percentage.
func (m *MotionDetector) Threshold() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.threshold
}

// Gate opens on motion and closes after IdleTimeout without motion. The
// runner skips inference while the gate is closed.
type Gate struct {
	detector    *MotionDetector
	idleTimeout time.Duration
	active      bool
	lastMotion  time.Time
	now         func() time.Time
}

// NewGate creates a closed Gate.
func NewGate(threshold float64, idleTimeout time.Duration) *Gate {
	if idleTimeout <= 0 {
		idleTimeout = DefaultIdleTimeout
	}
	return &Gate{
		detector:    NewMotionDetector(threshold),
		idleTimeout: idleTimeout,
		now:         time.Now,
	}
}

// Update feeds a frame to the gate. It returns the gate state and whether it
// changed on this frame.
func (g *Gate) Update(frame gocv.Mat) (active, changed bool) {
	motion, _ := g.detector.Detect(frame)
	return g.observe(motion, g.now())
}

func (g *Gate) observe(motion bool, at time.Time) (active, changed bool) {
	if motion {
		g.lastMotion = at
		if !g.active {
			g.active = true
			return true, true
		}
		return true, false
	}

	if g.active && at.Sub(g.lastMotion) > g.idleTimeout {
		g.active = false
		return false, true
	}
	return g.active, false
}

// Active reports whether the gate is open.
func (g *Gate) Active() bool {
	return g.active
}

// Close releases the motion detector.
func (g *Gate) Close() {
	g.detector.Close()
}

// Package app runs the capture loop: it pulls frames from a camera, tracks
// hands, records results and publishes them to subscribers.
package app

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/ayusman/mudra/internal/capture"
	"github.com/ayusman/mudra/internal/detector"
	"github.com/ayusman/mudra/internal/render"
	"github.com/ayusman/mudra/internal/smoother"
	"github.com/ayusman/mudra/internal/store"
	"gocv.io/x/gocv"
)

// Runner timing constants.
const (
	// IdleFPS is the frame rate while the motion gate is closed.
	IdleFPS = 5
	// SubscriberBuffer is the number of snapshots queued per subscriber.
	SubscriberBuffer = 4
	// SmoothingKey is the settings key of the persisted smoothing config.
	SmoothingKey = "smoothing"
)

// ErrAlreadyRunning is returned by Start when the loop is running.
var ErrAlreadyRunning = errors.New("app: already running")

// HandTracker turns frames into tracked hands. handtrack.Pipeline implements
// it.
type HandTracker interface {
	Infer(frame gocv.Mat) []detector.HandResult
	SetSmoothingConfig(config smoother.Config)
	SmoothingConfig() smoother.Config
	Mode() smoother.Mode
	Reset()
	Close() error
}

// Snapshot is the tracking result of one frame.
type Snapshot struct {
	FrameIndex int                   `json:"frame_index"`
	Timestamp  time.Time             `json:"timestamp"`
	Active     bool                  `json:"active"`
	Hands      []detector.HandResult `json:"hands"`
}

// Config holds configuration options for the application.
type Config struct {
	Camera  capture.Camera
	Tracker HandTracker
	Store   *store.Store

	// SmoothingEnabled, when set, overrides the enabled flag of smoothing
	// settings restored from the store. Other restored fields still apply.
	SmoothingEnabled *bool

	// Device is recorded with each session.
	Device string
	// Record stores every active frame in a new session.
	Record bool

	// MotionGate skips inference while the scene is still.
	MotionGate   bool
	MotionThresh float64
	IdleTimeout  time.Duration

	// Overlay draws hands on the preview JPEG.
	Overlay     bool
	JPEGQuality int
}

// App is the main application that ties capture, tracking, recording and
// publishing together.
type App struct {
	config Config
	gate   *capture.Gate

	// trackMu serialises access to the tracker
	trackMu sync.Mutex

	mu         sync.RWMutex
	stopCh     chan struct{}
	doneCh     chan struct{}
	frameIndex int
	latest     Snapshot
	latestJPEG []byte
	session    *store.Session

	subMu   sync.Mutex
	subs    map[int]chan Snapshot
	nextSub int
}

// New creates an App. A smoothing config persisted in the store replaces the
// tracker's current one, except for an explicit SmoothingEnabled.
func New(config Config) *App {
	if config.JPEGQuality <= 0 {
		config.JPEGQuality = 80
	}

	a := &App{
		config: config,
		subs:   make(map[int]chan Snapshot),
		latest: Snapshot{Hands: []detector.HandResult{}},
	}

	if config.MotionGate {
		a.gate = capture.NewGate(config.MotionThresh, config.IdleTimeout)
	}

	a.restoreSmoothing()
	return a
}

func (a *App) restoreSmoothing() {
	if a.config.Store == nil || a.config.Tracker == nil {
		return
	}

	var cfg smoother.Config
	err := a.config.Store.Settings().GetJSON(SmoothingKey, &cfg)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return
	case err != nil:
		log.Printf("app: load smoothing settings: %v", err)
		return
	}

	if err := cfg.Validate(); err != nil {
		log.Printf("app: ignoring stored smoothing settings: %v", err)
		return
	}
	if a.config.SmoothingEnabled != nil {
		cfg.Enabled = *a.config.SmoothingEnabled
	}
	a.config.Tracker.SetSmoothingConfig(cfg)
	log.Printf("app: restored smoothing settings (enabled=%v alpha=%.2f)", cfg.Enabled, cfg.Alpha)
}

// Start opens the camera, begins a recording session when configured and
// starts the capture loop.
func (a *App) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.stopCh != nil {
		return ErrAlreadyRunning
	}

	if err := a.config.Camera.Open(); err != nil {
		return fmt.Errorf("open camera: %w", err)
	}

	if a.config.Record && a.config.Store != nil {
		sess := &store.Session{
			Device: a.config.Device,
			Mode:   a.config.Tracker.Mode().String(),
		}
		if err := a.config.Store.Sessions().Create(sess); err != nil {
			log.Printf("app: start session: %v", err)
		} else {
			a.session = sess
			log.Printf("app: recording session %s", sess.ID)
		}
	}

	a.stopCh = make(chan struct{})
	a.doneCh = make(chan struct{})
	go a.run(a.stopCh, a.doneCh)

	log.Println("Capture loop started")
	return nil
}

// Stop halts the capture loop, ends the recording session and releases the
// camera and tracker. A stopped App is not started again.
func (a *App) Stop() {
	a.mu.Lock()
	stopCh, doneCh := a.stopCh, a.doneCh
	a.stopCh, a.doneCh = nil, nil
	a.mu.Unlock()

	if stopCh == nil {
		return
	}
	close(stopCh)
	<-doneCh

	if err := a.config.Camera.Close(); err != nil {
		log.Printf("Error closing camera: %v", err)
	}

	a.mu.Lock()
	if a.session != nil {
		if err := a.config.Store.Sessions().End(a.session.ID, time.Now()); err != nil {
			log.Printf("app: end session: %v", err)
		}
		a.session = nil
	}
	a.mu.Unlock()

	if a.gate != nil {
		a.gate.Close()
	}

	a.trackMu.Lock()
	if err := a.config.Tracker.Close(); err != nil {
		log.Printf("Error closing tracker: %v", err)
	}
	a.trackMu.Unlock()

	a.subMu.Lock()
	for id, ch := range a.subs {
		close(ch)
		delete(a.subs, id)
	}
	a.subMu.Unlock()

	log.Println("Capture loop stopped")
}

// Running reports whether the capture loop is running.
func (a *App) Running() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.stopCh != nil
}

// Session returns the current recording session, or nil.
func (a *App) Session() *store.Session {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.session == nil {
		return nil
	}
	sess := *a.session
	return &sess
}

// Process runs one frame through the gate, tracker, recorder and renderer
// and publishes the resulting snapshot.
func (a *App) Process(frame gocv.Mat) Snapshot {
	active := true
	if a.gate != nil {
		var changed bool
		active, changed = a.gate.Update(frame)
		if changed {
			a.onGateChange(active)
		}
	}

	hands := []detector.HandResult{}
	if active {
		a.trackMu.Lock()
		hands = a.config.Tracker.Infer(frame)
		a.trackMu.Unlock()
	}

	a.mu.Lock()
	snap := Snapshot{
		FrameIndex: a.frameIndex,
		Timestamp:  time.Now(),
		Active:     active,
		Hands:      hands,
	}
	a.frameIndex++
	a.latest = snap
	session := a.session
	a.mu.Unlock()

	if active && session != nil {
		a.record(session.ID, snap)
	}

	a.encodePreview(frame, hands)
	a.publish(snap)
	return snap
}

// onGateChange clears tracking state when the scene goes still.
func (a *App) onGateChange(active bool) {
	if active {
		log.Println("Switched to active mode")
		return
	}

	a.trackMu.Lock()
	a.config.Tracker.Reset()
	a.trackMu.Unlock()
	log.Println("Switched to idle mode")
}

func (a *App) record(sessionID string, snap Snapshot) {
	if len(snap.Hands) == 0 {
		return
	}
	f := &store.HandFrame{
		SessionID:  sessionID,
		FrameIndex: snap.FrameIndex,
		Hands:      snap.Hands,
		CapturedAt: snap.Timestamp,
	}
	if err := a.config.Store.Frames().Append(f); err != nil {
		log.Printf("app: record frame %d: %v", snap.FrameIndex, err)
	}
}

func (a *App) encodePreview(frame gocv.Mat, hands []detector.HandResult) {
	if frame.Empty() {
		return
	}

	img := frame
	if a.config.Overlay && len(hands) > 0 {
		img = frame.Clone()
		defer img.Close()
		render.Hands(&img, hands, render.DefaultStyle())
	}

	buf, err := render.EncodeJPEG(img, a.config.JPEGQuality)
	if err != nil {
		log.Printf("app: %v", err)
		return
	}

	a.mu.Lock()
	a.latestJPEG = buf
	a.mu.Unlock()
}

// Latest returns the most recent snapshot.
func (a *App) Latest() Snapshot {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.latest
}

// LatestJPEG returns the most recent preview frame, or nil before the first
// frame. The returned slice must not be modified.
func (a *App) LatestJPEG() []byte {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.latestJPEG
}

// Subscribe registers for snapshots. Slow subscribers miss snapshots rather
// than block the loop. The returned function unsubscribes and closes the
// channel.
func (a *App) Subscribe() (<-chan Snapshot, func()) {
	a.subMu.Lock()
	defer a.subMu.Unlock()

	id := a.nextSub
	a.nextSub++
	ch := make(chan Snapshot, SubscriberBuffer)
	a.subs[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			a.subMu.Lock()
			defer a.subMu.Unlock()
			if c, ok := a.subs[id]; ok {
				close(c)
				delete(a.subs, id)
			}
		})
	}
	return ch, cancel
}

// Subscribers returns the number of registered subscribers.
func (a *App) Subscribers() int {
	a.subMu.Lock()
	defer a.subMu.Unlock()
	return len(a.subs)
}

func (a *App) publish(snap Snapshot) {
	a.subMu.Lock()
	defer a.subMu.Unlock()

	for _, ch := range a.subs {
		select {
		case ch <- snap:
		default:
		}
	}
}

// SmoothingConfig returns the tracker's smoothing configuration.
func (a *App) SmoothingConfig() smoother.Config {
	a.trackMu.Lock()
	defer a.trackMu.Unlock()
	return a.config.Tracker.SmoothingConfig()
}

// SetSmoothingConfig validates and applies a smoothing configuration and
// persists it when a store is configured.
func (a *App) SetSmoothingConfig(cfg smoother.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	a.trackMu.Lock()
	a.config.Tracker.SetSmoothingConfig(cfg)
	a.trackMu.Unlock()

	if a.config.Store != nil {
		if err := a.config.Store.Settings().SetJSON(SmoothingKey, cfg); err != nil {
			return fmt.Errorf("persist smoothing: %w", err)
		}
	}
	return nil
}

// Store returns the configured store, or nil.
func (a *App) Store() *store.Store {
	return a.config.Store
}

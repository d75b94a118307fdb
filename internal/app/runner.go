package app

import (
	"errors"
	"log"
	"time"

	"github.com/ayusman/mudra/internal/capture"
)

// run is the capture loop. It reads frames at the camera rate while active
// and at IdleFPS while the motion gate is closed.
func (a *App) run(stopCh <-chan struct{}, doneCh chan<- struct{}) {
	defer close(doneCh)

	activeFPS := a.config.Camera.FPS()
	if activeFPS <= 0 {
		activeFPS = capture.DefaultFPS
	}

	fps := activeFPS
	if a.gate != nil {
		fps = IdleFPS
	}
	ticker := time.NewTicker(frameInterval(fps))
	defer ticker.Stop()

	active := a.gate == nil
	readErrs := 0

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			frame, err := a.config.Camera.ReadFrame()
			if err != nil {
				// log the first failure of a run of errors only
				if readErrs == 0 {
					log.Printf("Error reading frame: %v", err)
				}
				readErrs++
				if errors.Is(err, capture.ErrNoFrames) {
					return
				}
				continue
			}
			if readErrs > 0 {
				log.Printf("Camera recovered after %d failed reads", readErrs)
				readErrs = 0
			}

			snap := a.Process(*frame)
			frame.Close()

			if snap.Active != active {
				active = snap.Active
				fps = IdleFPS
				if active {
					fps = activeFPS
				}
				a.config.Camera.SetFPS(fps)
				ticker.Reset(frameInterval(fps))
			}
		}
	}
}

func frameInterval(fps int) time.Duration {
	return time.Second / time.Duration(fps)
}

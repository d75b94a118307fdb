package e2e

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ayusman/mudra/internal/app"
	"github.com/ayusman/mudra/internal/capture"
	"github.com/ayusman/mudra/internal/detector"
	"github.com/ayusman/mudra/internal/handtrack"
	"github.com/ayusman/mudra/internal/inference"
	"github.com/ayusman/mudra/internal/server"
	"github.com/ayusman/mudra/internal/store"
	"github.com/gorilla/websocket"
)

const numFrames = 10

// heatmaps returns keypoint output with every joint peaking at the centre.
func heatmaps() inference.Tensor {
	const c, h, w = 22, 46, 46
	data := make([]float32, c*h*w)
	for j := 0; j < c; j++ {
		data[j*h*w+23*w+23] = 0.8
	}
	return inference.Tensor{Shape: []int{1, c, h, w}, Data: data}
}

func newPipeline(t *testing.T) *handtrack.Pipeline {
	t.Helper()

	det := inference.NewMockNet(detector.CandidateTensor(
		detector.Candidate{CX: 320, CY: 320, W: 200, H: 200, Score: 0.9},
	))
	lmk := inference.NewMockNet(heatmaps())

	p := handtrack.NewWithLoader(func(model, _ string) (inference.Net, error) {
		if model == "hand.onnx" {
			return det, nil
		}
		return lmk, nil
	})

	opts := handtrack.DefaultOptions()
	opts.DetectorModel = "hand.onnx"
	opts.LandmarkModel = "pose.caffemodel"
	if err := p.Load(opts); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	return p
}

func TestE2E_TrackRecordAndServe(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping e2e test")
	}

	s, err := store.New(filepath.Join(t.TempDir(), "data.db"))
	if err != nil {
		t.Fatalf("store.New() error = %v", err)
	}
	defer s.Close()

	frames, err := sequence(numFrames, 320, 240, 4)
	if err != nil {
		t.Fatalf("Sequence() error = %v", err)
	}
	defer closeAll(frames)

	cam := capture.NewMockCamera(frames, false)
	cam.SetFPS(50)

	a := app.New(app.Config{
		Camera:  cam,
		Tracker: newPipeline(t),
		Store:   s,
		Device:  "mock",
		Record:  true,
		Overlay: true,
	})

	ts := httptest.NewServer(server.New(server.Config{Store: s, Source: a}))
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/hands"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(10 * time.Second))

	// the latest snapshot arrives before the loop starts
	var snap app.Snapshot
	if err := conn.ReadJSON(&snap); err != nil {
		t.Fatalf("ReadJSON() error = %v", err)
	}
	if len(snap.Hands) != 0 {
		t.Errorf("initial snapshot hands = %d, want 0", len(snap.Hands))
	}

	if err := a.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	sess := a.Session()
	if sess == nil {
		t.Fatal("expected a recording session")
	}

	t.Run("StreamsHands", func(t *testing.T) {
		if err := conn.ReadJSON(&snap); err != nil {
			t.Fatalf("ReadJSON() error = %v", err)
		}
		if len(snap.Hands) != 1 {
			t.Fatalf("hands = %d, want 1", len(snap.Hands))
		}
		hand := snap.Hands[0]
		if !hand.HasLandmarks() {
			t.Errorf("hand has %d landmarks, want %d", len(hand.Landmarks), detector.NumLandmarks)
		}
		roi := hand.ROI
		for i, lm := range hand.Landmarks {
			if !lm.Valid {
				continue
			}
			if lm.X < float64(roi.X) || lm.X > float64(roi.X+roi.Width) ||
				lm.Y < float64(roi.Y) || lm.Y > float64(roi.Y+roi.Height) {
				t.Errorf("landmark %d %v outside ROI %+v", i, lm.Point, roi)
			}
		}
	})

	deadline := time.Now().Add(10 * time.Second)
	for cam.Reads() < numFrames && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
	}
	a.Stop()

	client := ts.Client()

	t.Run("ListsSession", func(t *testing.T) {
		resp, err := client.Get(ts.URL + "/api/sessions")
		if err != nil {
			t.Fatalf("list sessions error = %v", err)
		}
		defer resp.Body.Close()

		var listed struct {
			Sessions []store.Session `json:"sessions"`
		}
		json.NewDecoder(resp.Body).Decode(&listed)

		if len(listed.Sessions) != 1 {
			t.Fatalf("sessions = %d, want 1", len(listed.Sessions))
		}
		got := listed.Sessions[0]
		if got.ID != sess.ID || got.Frames != numFrames || got.EndedAt == nil {
			t.Errorf("session = %+v, want %d frames and an end time", got, numFrames)
		}
		if got.Mode != "landmarks" {
			t.Errorf("mode = %q, want landmarks", got.Mode)
		}
	})

	t.Run("PagesFrames", func(t *testing.T) {
		resp, err := client.Get(ts.URL + "/api/sessions/" + sess.ID + "/frames?limit=3&offset=2")
		if err != nil {
			t.Fatalf("list frames error = %v", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
		}

		var page struct {
			Frames []store.HandFrame `json:"frames"`
		}
		json.NewDecoder(resp.Body).Decode(&page)

		if len(page.Frames) != 3 {
			t.Fatalf("frames = %d, want 3", len(page.Frames))
		}
		if page.Frames[0].FrameIndex != 2 {
			t.Errorf("first frame index = %d, want 2", page.Frames[0].FrameIndex)
		}
		for _, f := range page.Frames {
			if len(f.Hands) != 1 || len(f.Hands[0].Landmarks) != detector.NumLandmarks {
				t.Errorf("frame %d hands = %+v", f.FrameIndex, f.Hands)
			}
		}
	})
}

func TestE2E_SmoothingSettingsPersist(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping e2e test")
	}

	dbPath := filepath.Join(t.TempDir(), "data.db")
	s, err := store.New(dbPath)
	if err != nil {
		t.Fatalf("store.New() error = %v", err)
	}

	a := app.New(app.Config{Tracker: newPipeline(t), Store: s})
	ts := httptest.NewServer(server.New(server.Config{Store: s, Source: a}))

	req, _ := http.NewRequest(http.MethodPut, ts.URL+"/api/smoothing",
		strings.NewReader(`{"alpha": 0.45, "max_unmatched_frames": 2}`))
	resp, err := ts.Client().Do(req)
	if err != nil {
		t.Fatalf("PUT smoothing error = %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("PUT status = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	ts.Close()
	s.Close()

	// a fresh process picks the settings up again
	s, err = store.New(dbPath)
	if err != nil {
		t.Fatalf("reopen store error = %v", err)
	}
	defer s.Close()

	p := newPipeline(t)
	app.New(app.Config{Tracker: p, Store: s})

	cfg := p.SmoothingConfig()
	if cfg.Alpha != 0.45 || cfg.MaxUnmatchedFrames != 2 || !cfg.Enabled {
		t.Errorf("restored config = %+v", cfg)
	}
}

package server

import (
	"fmt"
	"net/http"
	"time"
)

// DefaultStreamFPS is the MJPEG frame rate cap.
const DefaultStreamFPS = 15

// StreamHandler serves the annotated preview frames as MJPEG.
type StreamHandler struct {
	source   Source
	interval time.Duration
}

// NewStreamHandler creates a new StreamHandler polling source at up to fps
// frames per second.
func NewStreamHandler(source Source, fps int) *StreamHandler {
	if fps <= 0 {
		fps = DefaultStreamFPS
	}
	return &StreamHandler{
		source:   source,
		interval: time.Second / time.Duration(fps),
	}
}

// ServeHTTP streams MJPEG frames until the client disconnects. A frame is
// written only when the preview changed.
func (h *StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, _ := w.(http.Flusher)

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	var last []byte
	for {
		buf := h.source.LatestJPEG()
		if len(buf) > 0 && !sameBuffer(buf, last) {
			if err := writeFrame(w, buf); err != nil {
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
			last = buf
		}

		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
		}
	}
}

func writeFrame(w http.ResponseWriter, buf []byte) error {
	if _, err := fmt.Fprintf(w, "--frame\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", len(buf)); err != nil {
		return err
	}
	if _, err := w.Write(buf); err != nil {
		return err
	}
	_, err := fmt.Fprint(w, "\r\n")
	return err
}

// sameBuffer reports whether a and b share their backing array. The source
// replaces the preview slice on every frame.
func sameBuffer(a, b []byte) bool {
	return len(a) > 0 && len(b) > 0 && &a[0] == &b[0]
}

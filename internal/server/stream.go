package server

import (
	"fmt"
	"net/http"
	"time"

	"github.com/ayusman/darpan/internal/capture"
)

// StreamHandler serves the live preview as an MJPEG stream, pulling
// preview payloads from the frame store. Each connected client reads
// the most recent snapshot on its own cadence; a frame at most one
// cycle stale is acceptable by design of the store.
type StreamHandler struct {
	frames *capture.FrameStore
}

// NewStreamHandler creates a new StreamHandler over the frame store.
func NewStreamHandler(frames *capture.FrameStore) *StreamHandler {
	return &StreamHandler{frames: frames}
}

// ServeHTTP streams MJPEG preview frames to connected clients.
func (h *StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	lastID := ""
	for {
		select {
		case <-r.Context().Done():
			return
		default:
		}

		snap, ok := h.frames.Latest()
		if !ok || snap.ID == lastID {
			time.Sleep(100 * time.Millisecond)
			continue
		}
		lastID = snap.ID

		// Write MJPEG frame
		fmt.Fprintf(w, "--frame\r\n")
		fmt.Fprintf(w, "Content-Type: image/jpeg\r\n")
		fmt.Fprintf(w, "Content-Length: %d\r\n\r\n", len(snap.Preview))
		if _, err := w.Write(snap.Preview); err != nil {
			return
		}
		fmt.Fprintf(w, "\r\n")

		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}

		time.Sleep(66 * time.Millisecond) // ~15 FPS
	}
}

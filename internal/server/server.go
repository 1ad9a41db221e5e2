// Package server provides the HTTP surface of the Darpan kiosk: the
// operator UI, the preview stream and the action API.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/ayusman/darpan/internal/capture"
	"github.com/ayusman/darpan/internal/gateway"
	"github.com/ayusman/darpan/internal/kiosk"
	"github.com/ayusman/darpan/internal/store"
)

// HealthChecker reports the remote recognition service's health.
// Satisfied by the gateway client.
type HealthChecker interface {
	Health(ctx context.Context) (gateway.HealthResult, error)
}

// Config holds the server configuration.
type Config struct {
	WebDir     string
	Catalog    capture.Catalog
	Session    *capture.Session
	Producer   *capture.Producer
	Frames     *capture.FrameStore
	Controller *kiosk.Controller
	Store      *store.Store
	Gateway    HealthChecker
}

// Server represents the HTTP server for the Darpan kiosk.
type Server struct {
	config Config
	mux    *http.ServeMux
	hub    *EventHub
	start  time.Time
}

// New creates a new Server with the given configuration.
func New(config Config) *Server {
	s := &Server{
		config: config,
		mux:    http.NewServeMux(),
		hub:    NewEventHub(),
		start:  time.Now(),
	}
	s.setupRoutes()

	// Push controller events and hot-plug notifications to the UI.
	if config.Controller != nil {
		config.Controller.Subscribe(s.hub.Broadcast)
	}
	if config.Catalog != nil {
		config.Catalog.Subscribe(func() {
			s.hub.Broadcast(kiosk.Event{Type: "devices", OK: true})
		})
	}

	return s
}

// setupRoutes configures all HTTP routes for the server.
func (s *Server) setupRoutes() {
	s.mux.HandleFunc("/api/health", s.handleHealth)

	if s.config.Catalog != nil && s.config.Session != nil {
		deviceHandler := NewDeviceHandler(s.config.Catalog, s.config.Session, s.config.Producer, s.config.Frames, s.config.Store)
		s.mux.Handle("/api/devices", deviceHandler)
		s.mux.Handle("/api/devices/", deviceHandler)
	}

	if s.config.Controller != nil {
		actionHandler := NewActionHandler(s.config.Controller, s.config.Producer, s.config.Store)
		s.mux.Handle("/api/actions/", actionHandler)
		s.mux.Handle("/api/admin/", actionHandler)
		s.mux.Handle("/api/enroll/", actionHandler)
		s.mux.Handle("/api/logs/export", actionHandler)
		s.mux.Handle("/api/mirror", actionHandler)
	}

	if s.config.Store != nil {
		s.mux.HandleFunc("/api/events/recent", s.handleRecentEvents)
	}

	if s.config.Frames != nil {
		streamHandler := NewStreamHandler(s.config.Frames)
		s.mux.Handle("/api/stream", streamHandler)
		s.mux.HandleFunc("/api/snapshot", s.handleSnapshot)
	}

	s.mux.Handle("/api/ws", s.hub)

	// Serve static files if WebDir is configured
	if s.config.WebDir != "" {
		fs := http.FileServer(http.Dir(s.config.WebDir))
		s.mux.Handle("/", fs)
	}
}

// ServeHTTP implements the http.Handler interface.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// handleHealth handles GET requests to /api/health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	response := map[string]interface{}{
		"status": "ok",
		"uptime": time.Since(s.start).String(),
	}
	if s.config.Session != nil {
		response["session"] = string(s.config.Session.Status())
		response["device"] = s.config.Session.Device()
	}
	if s.config.Controller != nil {
		response["mode"] = string(s.config.Controller.Mode())
	}
	if s.config.Producer != nil {
		response["mirror"] = s.config.Producer.Mirror()
	}
	if s.config.Gateway != nil {
		response["gateway"] = s.gatewayHealth(r.Context())
	}

	writeJSON(w, http.StatusOK, response)
}

// gatewayHealth probes the recognition service with a short deadline so
// an unreachable service cannot stall the kiosk's own health report.
func (s *Server) gatewayHealth(ctx context.Context) map[string]interface{} {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	result, err := s.config.Gateway.Health(ctx)
	if err != nil {
		return map[string]interface{}{"ok": false, "error": err.Error()}
	}
	return map[string]interface{}{"ok": result.OK, "users": len(result.Users)}
}

// handleSnapshot serves the current preview payload as a single JPEG.
func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	snap, ok := s.config.Frames.Latest()
	if !ok {
		http.Error(w, "No snapshot available", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "no-cache")
	w.Write(snap.Preview)
}

// handleRecentEvents returns the tail of the local action journal.
func (s *Server) handleRecentEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	events, err := s.config.Store.Events().Recent(50)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if events == nil {
		events = []store.Event{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"events": events})
}

// ListenAndServe starts the HTTP server on the given address.
func (s *Server) ListenAndServe(addr string) error {
	return http.ListenAndServe(addr, s)
}

// writeJSON encodes v as the response body with the given status.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
	}
}

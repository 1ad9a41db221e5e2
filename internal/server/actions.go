package server

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"

	"github.com/ayusman/darpan/internal/kiosk"
	"github.com/ayusman/darpan/internal/store"
)

// ActionHandler exposes the interaction-mode state machine over HTTP:
// login/logout, the admin menu, enrollment and log export.
type ActionHandler struct {
	controller *kiosk.Controller
	producer   interface {
		SetMirror(bool)
		Mirror() bool
	}
	store *store.Store // optional, persists the mirror preference
}

// NewActionHandler creates an ActionHandler over the controller.
func NewActionHandler(controller *kiosk.Controller, producer interface {
	SetMirror(bool)
	Mirror() bool
}, st *store.Store) *ActionHandler {
	return &ActionHandler{
		controller: controller,
		producer:   producer,
		store:      st,
	}
}

// ServeHTTP routes action requests.
func (h *ActionHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/api/actions/login":
		h.post(w, r, func() { h.authenticate(w, r, "login") })
	case "/api/actions/logout":
		h.post(w, r, func() { h.authenticate(w, r, "logout") })
	case "/api/admin/enter":
		h.post(w, r, func() { h.transition(w, h.controller.EnterAdmin) })
	case "/api/admin/leave":
		h.post(w, r, func() { h.transition(w, h.controller.LeaveAdmin) })
	case "/api/enroll/begin":
		h.post(w, r, func() { h.transition(w, h.controller.BeginEnroll) })
	case "/api/enroll/confirm":
		h.post(w, r, func() { h.confirmEnroll(w, r) })
	case "/api/enroll/cancel":
		h.post(w, r, func() { h.transition(w, h.controller.CancelEnroll) })
	case "/api/logs/export":
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h.exportLogs(w, r)
	case "/api/mirror":
		h.post(w, r, func() { h.setMirror(w, r) })
	default:
		http.Error(w, "Not found", http.StatusNotFound)
	}
}

func (h *ActionHandler) post(w http.ResponseWriter, r *http.Request, fn func()) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	fn()
}

type matchResponse struct {
	Matched  bool   `json:"matched"`
	Identity string `json:"identity,omitempty"`
	Message  string `json:"message,omitempty"`
}

// authenticate handles login and logout. No snapshot yet is a silent
// no-op (204); an action taken in the wrong mode is a conflict.
func (h *ActionHandler) authenticate(w http.ResponseWriter, r *http.Request, action string) {
	submit := h.controller.Login
	if action == "logout" {
		submit = h.controller.Logout
	}

	result, err := submit(r.Context())
	switch {
	case errors.Is(err, kiosk.ErrNoSnapshot):
		w.WriteHeader(http.StatusNoContent)
		return
	case errors.Is(err, kiosk.ErrInvalidTransition):
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
		return
	case err != nil:
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, matchResponse{
		Matched:  result.Matched,
		Identity: result.Identity,
		Message:  result.Message,
	})
}

// transition runs a bare mode transition and reports the resulting mode.
func (h *ActionHandler) transition(w http.ResponseWriter, fn func() error) {
	if err := fn(); err != nil {
		status := http.StatusConflict
		if errors.Is(err, kiosk.ErrNoSnapshot) {
			status = http.StatusPreconditionFailed
		}
		writeJSON(w, status, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"mode": string(h.controller.Mode())})
}

type confirmEnrollRequest struct {
	Name string `json:"name"`
}

// confirmEnroll sets the draft name and commits the enrollment.
func (h *ActionHandler) confirmEnroll(w http.ResponseWriter, r *http.Request) {
	var req confirmEnrollRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	if err := h.controller.SetDraftName(req.Name); err != nil {
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
		return
	}

	result, err := h.controller.ConfirmEnroll(r.Context())
	switch {
	case errors.Is(err, kiosk.ErrEmptyName):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	case errors.Is(err, kiosk.ErrInvalidTransition):
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
		return
	case err != nil:
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
		return
	}

	status := http.StatusOK
	if !result.OK() {
		// Service rejected the still (no face, multiple faces). The
		// kiosk stays in Registering so the operator can retry.
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, map[string]interface{}{
		"ok":      result.OK(),
		"message": result.Message,
		"error":   result.Error,
		"mode":    string(h.controller.Mode()),
	})
}

// exportLogs streams the attendance archive to the browser as a
// download.
func (h *ActionHandler) exportLogs(w http.ResponseWriter, r *http.Request) {
	rc, err := h.controller.ExportLogs(r.Context())
	if err != nil {
		status := http.StatusBadGateway
		if errors.Is(err, kiosk.ErrInvalidTransition) {
			status = http.StatusConflict
		}
		writeJSON(w, status, map[string]string{"error": err.Error()})
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", `attachment; filename=logs.zip`)
	if _, err := io.Copy(w, rc); err != nil {
		log.Printf("stream log archive: %v", err)
	}
}

type mirrorRequest struct {
	Enabled bool `json:"enabled"`
}

// setMirror toggles the preview mirror and persists the preference.
func (h *ActionHandler) setMirror(w http.ResponseWriter, r *http.Request) {
	var req mirrorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	h.producer.SetMirror(req.Enabled)

	if h.store != nil {
		if err := h.store.Settings().Set(store.SettingMirrorPreview, strconv.FormatBool(req.Enabled)); err != nil {
			log.Printf("persist mirror preference: %v", err)
		}
	}

	writeJSON(w, http.StatusOK, map[string]bool{"mirror": h.producer.Mirror()})
}

package server

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/ayusman/darpan/internal/capture"
	"github.com/ayusman/darpan/internal/store"
)

// DeviceHandler handles device enumeration and selection.
type DeviceHandler struct {
	catalog  capture.Catalog
	session  *capture.Session
	producer *capture.Producer
	frames   *capture.FrameStore
	store    *store.Store // optional, persists the last selected device
}

// NewDeviceHandler creates a DeviceHandler over the capture pipeline.
func NewDeviceHandler(catalog capture.Catalog, session *capture.Session, producer *capture.Producer, frames *capture.FrameStore, st *store.Store) *DeviceHandler {
	return &DeviceHandler{
		catalog:  catalog,
		session:  session,
		producer: producer,
		frames:   frames,
		store:    st,
	}
}

// ServeHTTP routes device requests.
// Expected paths: GET /api/devices, POST /api/devices/select
func (h *DeviceHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.URL.Path == "/api/devices" && r.Method == http.MethodGet:
		h.list(w, r)
	case r.URL.Path == "/api/devices/select" && r.Method == http.MethodPost:
		h.selectDevice(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

type listDevicesResponse struct {
	Devices []capture.CameraDevice `json:"devices"`
	Error   string                 `json:"error,omitempty"`
}

// list re-enumerates and returns the available devices. Enumeration
// failure is reported inline, not as an HTTP error: the operator can
// fix the problem and retry from the same screen.
func (h *DeviceHandler) list(w http.ResponseWriter, r *http.Request) {
	devices := h.catalog.ListDevices(r.Context())
	if devices == nil {
		devices = []capture.CameraDevice{}
	}

	response := listDevicesResponse{Devices: devices}
	if err := h.catalog.LastError(); err != nil {
		response.Error = err.Error()
	}

	writeJSON(w, http.StatusOK, response)
}

type selectDeviceRequest struct {
	ID string `json:"id"`
}

type selectDeviceResponse struct {
	Status string `json:"status"`
	Device string `json:"device"`
	Error  string `json:"error,omitempty"`
}

// selectDevice switches the capture session to the requested device.
// The switch fully releases the previous device before acquiring the
// new one; a request arriving while another switch is in flight
// supersedes it.
func (h *DeviceHandler) selectDevice(w http.ResponseWriter, r *http.Request) {
	var req selectDeviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing device id"})
		return
	}

	// Frames from the previous device must not outlive it.
	h.frames.Clear()
	if h.producer != nil {
		h.producer.ResetActivity()
	}

	err := h.session.Switch(r.Context(), req.ID)

	response := selectDeviceResponse{
		Status: string(h.session.Status()),
		Device: h.session.Device(),
	}
	if err != nil {
		response.Error = err.Error()
		status := http.StatusBadGateway
		if errors.Is(err, capture.ErrDeviceUnavailable) {
			status = http.StatusConflict
		}
		writeJSON(w, status, response)
		return
	}

	if h.store != nil {
		if err := h.store.Settings().Set(store.SettingLastDevice, req.ID); err != nil {
			log.Printf("persist last device: %v", err)
		}
	}

	writeJSON(w, http.StatusOK, response)
}

package capture

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"gocv.io/x/gocv"
)

// SessionStatus represents the lifecycle state of a capture session.
type SessionStatus string

const (
	StatusStopped   SessionStatus = "stopped"
	StatusStarting  SessionStatus = "starting"
	StatusStreaming SessionStatus = "streaming"
	StatusFailed    SessionStatus = "failed"
)

var (
	// ErrNotStreaming is returned when a frame is requested while no
	// device is streaming.
	ErrNotStreaming = errors.New("capture session is not streaming")

	// ErrDeviceUnavailable is the failure reason when the selected
	// device is busy, disconnected or was unplugged mid-stream.
	ErrDeviceUnavailable = errors.New("camera device unavailable")
)

// Session owns the live binding to at most one camera device. Starting
// a new device releases the previous one first, so two hardware
// handles are never held at once. A Start that is superseded by a
// later Start or Stop discards its own result instead of mutating
// session state.
type Session struct {
	factory CameraFactory

	mu     sync.Mutex
	camera Camera
	device string
	status SessionStatus
	err    error

	// gen stamps each Start attempt. Stop and every new Start bump it,
	// which is how late completions of superseded attempts are
	// detected and discarded.
	gen uint64
}

// NewSession creates a stopped session that opens cameras through the
// given factory.
func NewSession(factory CameraFactory) *Session {
	return &Session{
		factory: factory,
		status:  StatusStopped,
	}
}

// Start acquires the named device. The previous device, streaming or
// still pending, is released first. Device acquisition happens outside
// the session lock, so a concurrent Start simply supersedes this one:
// the later request wins and this one returns nil without touching
// state.
func (s *Session) Start(ctx context.Context, deviceID string) error {
	s.mu.Lock()
	s.releaseLocked()
	s.gen++
	gen := s.gen
	s.device = deviceID
	s.status = StatusStarting
	s.err = nil
	cam := s.factory(deviceID)
	s.mu.Unlock()

	var openErr error
	if err := ctx.Err(); err != nil {
		openErr = err
	} else {
		openErr = cam.Open()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if gen != s.gen {
		// Superseded while opening. Release the grant we may have
		// acquired and leave whatever the newer request did alone.
		if openErr == nil {
			_ = cam.Close()
		}
		return nil
	}

	if openErr != nil {
		s.status = StatusFailed
		s.err = fmt.Errorf("%w: open %s: %v", ErrDeviceUnavailable, deviceID, openErr)
		return s.err
	}

	s.camera = cam
	s.status = StatusStreaming
	return nil
}

// Switch changes to a new device. Equivalent to Stop followed by
// Start; kept as an explicit operation because it is the path the
// device picker takes.
func (s *Session) Switch(ctx context.Context, deviceID string) error {
	return s.Start(ctx, deviceID)
}

// Stop releases the device unconditionally and cancels any pending
// Start. Idempotent.
func (s *Session) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.gen++
	s.releaseLocked()
	s.status = StatusStopped
	s.err = nil
}

// releaseLocked closes the held camera, if any. Callers hold s.mu.
func (s *Session) releaseLocked() {
	if s.camera != nil {
		_ = s.camera.Close()
		s.camera = nil
	}
}

// Frame reads the current frame from the streaming device. The caller
// is responsible for closing the returned Mat.
func (s *Session) Frame() (*gocv.Mat, error) {
	s.mu.Lock()
	if s.status != StatusStreaming || s.camera == nil {
		s.mu.Unlock()
		return nil, ErrNotStreaming
	}
	cam := s.camera
	s.mu.Unlock()

	// The camera serializes its own reads; holding the session lock
	// across a blocking read would stall Stop.
	return cam.ReadFrame()
}

// SetFPS adjusts the capture rate of the streaming device, if any.
func (s *Session) SetFPS(fps int) {
	s.mu.Lock()
	cam := s.camera
	s.mu.Unlock()

	if cam != nil {
		cam.SetFPS(fps)
	}
}

// ReconcileDevices fails the session when its device disappeared from
// the catalog (hot-unplug). Called from the catalog's change
// notification.
func (s *Session) ReconcileDevices(ids []string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status != StatusStreaming && s.status != StatusStarting {
		return
	}
	for _, id := range ids {
		if id == s.device {
			return
		}
	}

	s.gen++
	s.releaseLocked()
	s.status = StatusFailed
	s.err = fmt.Errorf("%w: %s was unplugged", ErrDeviceUnavailable, s.device)
}

// Status returns the current session status.
func (s *Session) Status() SessionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Device returns the most recently requested device ID.
func (s *Session) Device() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.device
}

// Err returns the failure reason when the session is Failed.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

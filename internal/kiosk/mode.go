// Package kiosk implements the operator interaction state machine for
// the Darpan kiosk: the Idle / AdminMenu / Registering modes and the
// actions each mode allows.
package kiosk

import "errors"

// Mode is the single active interaction mode. Exactly one mode is
// active at any time; every transition is an explicit method on the
// Controller, so invalid mode combinations are unrepresentable.
type Mode string

const (
	// ModeIdle shows the Login / Logout / Admin entry points.
	ModeIdle Mode = "idle"
	// ModeAdmin shows the Enroll / Back / Download-logs menu.
	ModeAdmin Mode = "admin"
	// ModeRegistering shows the name entry with Confirm / Cancel; the
	// live preview is frozen to a single still.
	ModeRegistering Mode = "registering"
)

var (
	// ErrInvalidTransition is returned when an action is attempted in
	// a mode that does not offer it.
	ErrInvalidTransition = errors.New("action not available in current mode")

	// ErrNoSnapshot is returned when an action needs a snapshot but
	// none has been produced yet, or the session is not streaming.
	// Expected right after start-up; callers treat it as a no-op, not
	// a failure.
	ErrNoSnapshot = errors.New("no snapshot available")

	// ErrEmptyName is returned when enrollment is confirmed without a
	// display name.
	ErrEmptyName = errors.New("display name is empty")
)

// EnrollmentDraft is the in-progress enrollment, scoped to the
// Registering mode. Discarded on cancel or commit.
type EnrollmentDraft struct {
	DisplayName string `json:"display_name"`
}

// Event describes a state change or action outcome, pushed to the
// operator UI over the WebSocket.
type Event struct {
	Type     string `json:"type"` // "mode", "action", "devices"
	Mode     Mode   `json:"mode,omitempty"`
	Action   string `json:"action,omitempty"`
	OK       bool   `json:"ok"`
	Identity string `json:"identity,omitempty"`
	Message  string `json:"message,omitempty"`
}

// Listener receives controller events. Listeners run on the calling
// goroutine and should return quickly.
type Listener func(Event)

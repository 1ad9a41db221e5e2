package kiosk

import (
	"context"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"

	"github.com/ayusman/darpan/internal/capture"
	"github.com/ayusman/darpan/internal/gateway"
	"github.com/ayusman/darpan/internal/store"
)

// Gateway is the remote recognition service boundary consumed by the
// controller.
type Gateway interface {
	Login(ctx context.Context, image []byte) (gateway.MatchResult, error)
	Logout(ctx context.Context, image []byte) (gateway.MatchResult, error)
	Enroll(ctx context.Context, name string, image []byte) (gateway.EnrollResult, error)
	ExportLogs(ctx context.Context) (io.ReadCloser, error)
}

// Journal records action outcomes locally. May be satisfied by the
// store's event repository.
type Journal interface {
	Append(e store.Event) error
}

// Controller is the interaction-mode state machine. All transitions
// and actions run under one mutex, so reactions never overlap: an
// action observes a consistent mode, snapshot and session state from
// start to finish.
type Controller struct {
	session  *capture.Session
	frames   *capture.FrameStore
	producer *capture.Producer
	gateway  Gateway
	journal  Journal // optional

	mu        sync.Mutex
	mode      Mode
	draft     EnrollmentDraft
	frozen    *capture.Snapshot
	listeners []Listener
}

// NewController creates a Controller in Idle mode. journal may be nil.
func NewController(session *capture.Session, frames *capture.FrameStore, producer *capture.Producer, gw Gateway, journal Journal) *Controller {
	return &Controller{
		session:  session,
		frames:   frames,
		producer: producer,
		gateway:  gw,
		journal:  journal,
		mode:     ModeIdle,
	}
}

// Subscribe registers a listener for mode changes and action results.
func (c *Controller) Subscribe(fn Listener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, fn)
}

// Mode returns the active interaction mode.
func (c *Controller) Mode() Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// Draft returns the current enrollment draft.
func (c *Controller) Draft() EnrollmentDraft {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.draft
}

// EnterAdmin transitions Idle -> AdminMenu.
func (c *Controller) EnterAdmin() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.mode != ModeIdle {
		return ErrInvalidTransition
	}
	c.setModeLocked(ModeAdmin)
	return nil
}

// LeaveAdmin transitions AdminMenu -> Idle.
func (c *Controller) LeaveAdmin() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.mode != ModeAdmin {
		return ErrInvalidTransition
	}
	c.setModeLocked(ModeIdle)
	return nil
}

// BeginEnroll transitions AdminMenu -> Registering. The live preview
// is frozen: snapshot production pauses and the most recent frame
// becomes the enrollment still. Requires a streaming session with at
// least one produced snapshot.
func (c *Controller) BeginEnroll() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.mode != ModeAdmin {
		return ErrInvalidTransition
	}

	snap, err := c.currentSnapshotLocked()
	if err != nil {
		return err
	}

	c.producer.Pause()
	c.frozen = &snap
	c.draft = EnrollmentDraft{}
	c.setModeLocked(ModeRegistering)
	return nil
}

// SetDraftName updates the enrollment draft. Valid only while
// Registering.
func (c *Controller) SetDraftName(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.mode != ModeRegistering {
		return ErrInvalidTransition
	}
	c.draft.DisplayName = strings.TrimSpace(name)
	return nil
}

// ConfirmEnroll commits the draft and the frozen snapshot to the
// recognition service, then resumes live preview and returns to Idle.
// A transport failure leaves the mode unchanged so the operator can
// retry; a service-side rejection (no face in the still, say) also
// stays in Registering and is reported through the result.
func (c *Controller) ConfirmEnroll(ctx context.Context) (gateway.EnrollResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var result gateway.EnrollResult

	if c.mode != ModeRegistering {
		return result, ErrInvalidTransition
	}

	name := c.draft.DisplayName
	if name == "" {
		return result, ErrEmptyName
	}
	if c.frozen == nil {
		return result, ErrNoSnapshot
	}

	result, err := c.gateway.Enroll(ctx, name, c.frozen.Data)
	if err != nil {
		c.record(store.Event{Kind: store.EventEnrollFail, Identity: name, Detail: err.Error()})
		c.emitLocked(Event{Type: "action", Action: "enroll", OK: false, Identity: name, Message: err.Error()})
		return result, err
	}

	if !result.OK() {
		c.record(store.Event{Kind: store.EventEnrollFail, Identity: name, Detail: result.Error})
		c.emitLocked(Event{Type: "action", Action: "enroll", OK: false, Identity: name, Message: result.Error})
		return result, nil
	}

	c.record(store.Event{Kind: store.EventEnroll, Identity: name, Matched: true, Detail: result.Message})
	c.resumeLiveLocked()
	c.setModeLocked(ModeIdle)
	c.emitLocked(Event{Type: "action", Action: "enroll", OK: true, Identity: name, Message: result.Message})
	return result, nil
}

// CancelEnroll discards the draft and the frozen still, resumes live
// preview and returns to Idle. No network call is made.
func (c *Controller) CancelEnroll() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.mode != ModeRegistering {
		return ErrInvalidTransition
	}

	c.resumeLiveLocked()
	c.setModeLocked(ModeIdle)
	return nil
}

// Login reads the latest snapshot at the moment of the call and
// submits it for matching. Mode is unchanged. With no snapshot
// available the action is a silent no-op: ErrNoSnapshot is returned
// and no network call is made.
func (c *Controller) Login(ctx context.Context) (gateway.MatchResult, error) {
	return c.authenticate(ctx, "login")
}

// Logout is the de-authentication counterpart of Login.
func (c *Controller) Logout(ctx context.Context) (gateway.MatchResult, error) {
	return c.authenticate(ctx, "logout")
}

func (c *Controller) authenticate(ctx context.Context, action string) (gateway.MatchResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var result gateway.MatchResult

	if c.mode != ModeIdle {
		return result, ErrInvalidTransition
	}

	snap, err := c.currentSnapshotLocked()
	if err != nil {
		return result, err
	}

	submit := c.gateway.Login
	okKind, failKind := store.EventLogin, store.EventLoginFail
	if action == "logout" {
		submit = c.gateway.Logout
		okKind, failKind = store.EventLogout, store.EventLogoutFail
	}

	result, err = submit(ctx, snap.Data)
	if err != nil {
		c.record(store.Event{Kind: failKind, Detail: err.Error()})
		c.emitLocked(Event{Type: "action", Action: action, OK: false, Message: err.Error()})
		return result, err
	}

	detail := result.Message
	if result.Distance != nil {
		detail = fmt.Sprintf("dist=%.3f", *result.Distance)
	}

	if result.Matched {
		c.record(store.Event{Kind: okKind, Identity: result.Identity, Matched: true, Detail: detail})
	} else {
		c.record(store.Event{Kind: failKind, Identity: result.Identity, Detail: detail})
	}
	c.emitLocked(Event{Type: "action", Action: action, OK: result.Matched, Identity: result.Identity, Message: result.Message})

	return result, nil
}

// ExportLogs triggers the attendance archive export and returns to
// Idle. The caller owns the returned reader.
func (c *Controller) ExportLogs(ctx context.Context) (io.ReadCloser, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.mode != ModeAdmin {
		return nil, ErrInvalidTransition
	}

	rc, err := c.gateway.ExportLogs(ctx)
	if err != nil {
		c.emitLocked(Event{Type: "action", Action: "export", OK: false, Message: err.Error()})
		return nil, err
	}

	c.record(store.Event{Kind: store.EventExport, Matched: true})
	c.setModeLocked(ModeIdle)
	c.emitLocked(Event{Type: "action", Action: "export", OK: true})
	return rc, nil
}

// NotifyDevicesChanged forwards a hot-plug notification to listeners.
// Mode is unaffected; the device picker re-enumerates on its own.
func (c *Controller) NotifyDevicesChanged() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.emitLocked(Event{Type: "devices", OK: true})
}

// currentSnapshotLocked returns the latest snapshot, enforcing the
// submission invariant: never while the session is not streaming, and
// never before the first snapshot exists.
func (c *Controller) currentSnapshotLocked() (capture.Snapshot, error) {
	if c.session.Status() != capture.StatusStreaming {
		return capture.Snapshot{}, ErrNoSnapshot
	}
	snap, ok := c.frames.Latest()
	if !ok {
		return capture.Snapshot{}, ErrNoSnapshot
	}
	return snap, nil
}

// resumeLiveLocked drops the frozen still and draft and restarts
// snapshot production.
func (c *Controller) resumeLiveLocked() {
	c.frozen = nil
	c.draft = EnrollmentDraft{}
	c.producer.Resume()
}

func (c *Controller) setModeLocked(mode Mode) {
	c.mode = mode
	c.emitLocked(Event{Type: "mode", Mode: mode, OK: true})
}

func (c *Controller) emitLocked(e Event) {
	for _, fn := range c.listeners {
		fn(e)
	}
}

// record appends to the journal, logging rather than failing the
// action when the local database is unhappy.
func (c *Controller) record(e store.Event) {
	if c.journal == nil {
		return
	}
	if err := c.journal.Append(e); err != nil {
		log.Printf("journal append: %v", err)
	}
}

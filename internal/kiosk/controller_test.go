package kiosk

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/ayusman/darpan/internal/capture"
	"github.com/ayusman/darpan/internal/gateway"
	"github.com/ayusman/darpan/internal/store"
)

// fakeGateway records submissions and returns canned results.
type fakeGateway struct {
	mu          sync.Mutex
	loginImages [][]byte
	logoutCalls int
	enrollName  string
	enrollImage []byte
	enrollCalls int

	matchResult  gateway.MatchResult
	matchErr     error
	enrollResult gateway.EnrollResult
	enrollErr    error
	exportData   []byte
	exportErr    error
}

func (f *fakeGateway) Login(_ context.Context, image []byte) (gateway.MatchResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loginImages = append(f.loginImages, append([]byte(nil), image...))
	return f.matchResult, f.matchErr
}

func (f *fakeGateway) Logout(_ context.Context, image []byte) (gateway.MatchResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logoutCalls++
	return f.matchResult, f.matchErr
}

func (f *fakeGateway) Enroll(_ context.Context, name string, image []byte) (gateway.EnrollResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.enrollCalls++
	f.enrollName = name
	f.enrollImage = append([]byte(nil), image...)
	return f.enrollResult, f.enrollErr
}

func (f *fakeGateway) ExportLogs(_ context.Context) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.exportErr != nil {
		return nil, f.exportErr
	}
	return io.NopCloser(bytes.NewReader(f.exportData)), nil
}

func (f *fakeGateway) totalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.loginImages) + f.logoutCalls + f.enrollCalls
}

// fakeJournal records appended events in memory.
type fakeJournal struct {
	mu     sync.Mutex
	events []store.Event
}

func (j *fakeJournal) Append(e store.Event) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.events = append(j.events, e)
	return nil
}

func (j *fakeJournal) kinds() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]string, len(j.events))
	for i, e := range j.events {
		out[i] = e.Kind
	}
	return out
}

// testRig bundles a controller over a streaming session.
type testRig struct {
	controller *Controller
	session    *capture.Session
	frames     *capture.FrameStore
	producer   *capture.Producer
	gateway    *fakeGateway
	journal    *fakeJournal
}

func newTestRig(t *testing.T) *testRig {
	t.Helper()

	cam := capture.NewMockCamera(nil, false)
	session := capture.NewSession(func(string) capture.Camera { return cam })
	if err := session.Start(context.Background(), "/dev/video0"); err != nil {
		t.Fatalf("session start: %v", err)
	}
	t.Cleanup(session.Stop)

	frames := capture.NewFrameStore()
	producer := capture.NewProducer(session, frames, capture.ProducerConfig{})
	gw := &fakeGateway{}
	journal := &fakeJournal{}

	return &testRig{
		controller: NewController(session, frames, producer, gw, journal),
		session:    session,
		frames:     frames,
		producer:   producer,
		gateway:    gw,
		journal:    journal,
	}
}

func (r *testRig) publish(id string, data []byte) {
	r.frames.Publish(capture.Snapshot{ID: id, Data: data, Preview: data})
}

func TestController_InitialModeIsIdle(t *testing.T) {
	r := newTestRig(t)

	if r.controller.Mode() != ModeIdle {
		t.Errorf("initial mode = %s, want %s", r.controller.Mode(), ModeIdle)
	}
}

func TestController_LoginWithoutSnapshotIsNoOp(t *testing.T) {
	r := newTestRig(t)

	_, err := r.controller.Login(context.Background())
	if !errors.Is(err, ErrNoSnapshot) {
		t.Fatalf("Login() error = %v, want ErrNoSnapshot", err)
	}
	if r.gateway.totalCalls() != 0 {
		t.Error("no network call may be made without a snapshot")
	}
	if len(r.journal.kinds()) != 0 {
		t.Error("a silent no-op must not be journaled")
	}
}

func TestController_LoginWhileNotStreamingIsNoOp(t *testing.T) {
	r := newTestRig(t)
	r.publish("snap-1", []byte("jpeg-1"))
	r.session.Stop()

	_, err := r.controller.Login(context.Background())
	if !errors.Is(err, ErrNoSnapshot) {
		t.Fatalf("Login() error = %v, want ErrNoSnapshot", err)
	}
	if r.gateway.totalCalls() != 0 {
		t.Error("no network call may be made while the session is not streaming")
	}
}

func TestController_LoginSubmitsLatestSnapshotExactlyOnce(t *testing.T) {
	r := newTestRig(t)
	r.publish("snap-1", []byte("jpeg-1"))
	r.publish("snap-2", []byte("jpeg-2"))
	r.gateway.matchResult = gateway.MatchResult{Matched: true, Identity: "asha"}

	result, err := r.controller.Login(context.Background())
	if err != nil {
		t.Fatalf("Login() failed: %v", err)
	}
	if !result.Matched || result.Identity != "asha" {
		t.Errorf("result = %+v, want matched asha", result)
	}

	if len(r.gateway.loginImages) != 1 {
		t.Fatalf("login calls = %d, want exactly 1", len(r.gateway.loginImages))
	}
	if string(r.gateway.loginImages[0]) != "jpeg-2" {
		t.Errorf("submitted payload = %q, want the latest snapshot jpeg-2", r.gateway.loginImages[0])
	}
	if r.controller.Mode() != ModeIdle {
		t.Errorf("mode = %s after login, want %s", r.controller.Mode(), ModeIdle)
	}

	kinds := r.journal.kinds()
	if len(kinds) != 1 || kinds[0] != store.EventLogin {
		t.Errorf("journal = %v, want [login]", kinds)
	}
}

func TestController_UnmatchedLoginIsJournaledAsFailure(t *testing.T) {
	r := newTestRig(t)
	r.publish("snap-1", []byte("jpeg-1"))
	r.gateway.matchResult = gateway.MatchResult{Matched: false, Identity: "unknown_person"}

	if _, err := r.controller.Login(context.Background()); err != nil {
		t.Fatalf("Login() failed: %v", err)
	}

	kinds := r.journal.kinds()
	if len(kinds) != 1 || kinds[0] != store.EventLoginFail {
		t.Errorf("journal = %v, want [login_fail]", kinds)
	}
}

func TestController_GatewayErrorLeavesModeUnchanged(t *testing.T) {
	r := newTestRig(t)
	r.publish("snap-1", []byte("jpeg-1"))
	r.gateway.matchErr = errors.New("connection refused")

	_, err := r.controller.Login(context.Background())
	if err == nil {
		t.Fatal("Login() should surface the gateway error")
	}
	if r.controller.Mode() != ModeIdle {
		t.Errorf("mode = %s after gateway error, want %s", r.controller.Mode(), ModeIdle)
	}
}

func TestController_LogoutSubmitsSnapshot(t *testing.T) {
	r := newTestRig(t)
	r.publish("snap-1", []byte("jpeg-1"))
	r.gateway.matchResult = gateway.MatchResult{Matched: true, Identity: "asha"}

	if _, err := r.controller.Logout(context.Background()); err != nil {
		t.Fatalf("Logout() failed: %v", err)
	}
	if r.gateway.logoutCalls != 1 {
		t.Errorf("logout calls = %d, want 1", r.gateway.logoutCalls)
	}

	kinds := r.journal.kinds()
	if len(kinds) != 1 || kinds[0] != store.EventLogout {
		t.Errorf("journal = %v, want [logout]", kinds)
	}
}

func TestController_TransitionsAreExclusive(t *testing.T) {
	tests := []struct {
		name string
		run  func(c *Controller) error
	}{
		{name: "leave admin from idle", run: func(c *Controller) error { return c.LeaveAdmin() }},
		{name: "begin enroll from idle", run: func(c *Controller) error { return c.BeginEnroll() }},
		{name: "cancel enroll from idle", run: func(c *Controller) error { return c.CancelEnroll() }},
		{name: "set draft name from idle", run: func(c *Controller) error { return c.SetDraftName("x") }},
		{name: "confirm enroll from idle", run: func(c *Controller) error {
			_, err := c.ConfirmEnroll(context.Background())
			return err
		}},
		{name: "export logs from idle", run: func(c *Controller) error {
			_, err := c.ExportLogs(context.Background())
			return err
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestRig(t)
			r.publish("snap-1", []byte("jpeg-1"))

			if err := tt.run(r.controller); !errors.Is(err, ErrInvalidTransition) {
				t.Errorf("error = %v, want ErrInvalidTransition", err)
			}
			if r.controller.Mode() != ModeIdle {
				t.Errorf("mode = %s, want unchanged %s", r.controller.Mode(), ModeIdle)
			}
			if r.gateway.totalCalls() != 0 {
				t.Error("an invalid action must not reach the gateway")
			}
		})
	}
}

func TestController_EnterAndLeaveAdmin(t *testing.T) {
	r := newTestRig(t)

	if err := r.controller.EnterAdmin(); err != nil {
		t.Fatalf("EnterAdmin() failed: %v", err)
	}
	if r.controller.Mode() != ModeAdmin {
		t.Fatalf("mode = %s, want %s", r.controller.Mode(), ModeAdmin)
	}

	// Idle-only and Registering-only actions are unreachable here
	if _, err := r.controller.Login(context.Background()); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Login() in admin = %v, want ErrInvalidTransition", err)
	}
	if err := r.controller.CancelEnroll(); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("CancelEnroll() in admin = %v, want ErrInvalidTransition", err)
	}

	if err := r.controller.LeaveAdmin(); err != nil {
		t.Fatalf("LeaveAdmin() failed: %v", err)
	}
	if r.controller.Mode() != ModeIdle {
		t.Errorf("mode = %s, want %s", r.controller.Mode(), ModeIdle)
	}
}

func TestController_BeginEnrollRequiresSnapshot(t *testing.T) {
	r := newTestRig(t)

	if err := r.controller.EnterAdmin(); err != nil {
		t.Fatalf("EnterAdmin() failed: %v", err)
	}
	if err := r.controller.BeginEnroll(); !errors.Is(err, ErrNoSnapshot) {
		t.Errorf("BeginEnroll() without snapshot = %v, want ErrNoSnapshot", err)
	}
	if r.controller.Mode() != ModeAdmin {
		t.Errorf("mode = %s, want unchanged %s", r.controller.Mode(), ModeAdmin)
	}
}

func TestController_EnrollCancelResumesWithoutSubmission(t *testing.T) {
	r := newTestRig(t)
	r.publish("snap-1", []byte("jpeg-1"))

	if err := r.controller.EnterAdmin(); err != nil {
		t.Fatalf("EnterAdmin() failed: %v", err)
	}
	if err := r.controller.BeginEnroll(); err != nil {
		t.Fatalf("BeginEnroll() failed: %v", err)
	}
	if r.controller.Mode() != ModeRegistering {
		t.Fatalf("mode = %s, want %s", r.controller.Mode(), ModeRegistering)
	}
	if !r.producer.Paused() {
		t.Error("snapshot production should be frozen while registering")
	}

	if err := r.controller.SetDraftName("  Asha Rao  "); err != nil {
		t.Fatalf("SetDraftName() failed: %v", err)
	}
	if got := r.controller.Draft().DisplayName; got != "Asha Rao" {
		t.Errorf("draft name = %q, want trimmed %q", got, "Asha Rao")
	}

	if err := r.controller.CancelEnroll(); err != nil {
		t.Fatalf("CancelEnroll() failed: %v", err)
	}
	if r.controller.Mode() != ModeIdle {
		t.Errorf("mode = %s, want %s", r.controller.Mode(), ModeIdle)
	}
	if r.producer.Paused() {
		t.Error("live preview should resume after cancel")
	}
	if r.controller.Draft().DisplayName != "" {
		t.Error("draft should be discarded on cancel")
	}
	if r.gateway.totalCalls() != 0 {
		t.Error("cancel must not reach the gateway")
	}
}

func TestController_ConfirmEnrollSubmitsFrozenSnapshot(t *testing.T) {
	r := newTestRig(t)
	r.publish("snap-1", []byte("jpeg-frozen"))
	r.gateway.enrollResult = gateway.EnrollResult{Status: 200, Message: "registered"}

	if err := r.controller.EnterAdmin(); err != nil {
		t.Fatal(err)
	}
	if err := r.controller.BeginEnroll(); err != nil {
		t.Fatal(err)
	}

	// A newer frame arriving after the freeze must not be submitted.
	r.publish("snap-2", []byte("jpeg-later"))

	if err := r.controller.SetDraftName("Asha"); err != nil {
		t.Fatal(err)
	}
	result, err := r.controller.ConfirmEnroll(context.Background())
	if err != nil {
		t.Fatalf("ConfirmEnroll() failed: %v", err)
	}
	if !result.OK() {
		t.Fatalf("result = %+v, want OK", result)
	}

	if r.gateway.enrollName != "Asha" {
		t.Errorf("enrolled name = %q, want Asha", r.gateway.enrollName)
	}
	if string(r.gateway.enrollImage) != "jpeg-frozen" {
		t.Errorf("enrolled payload = %q, want the frozen still", r.gateway.enrollImage)
	}
	if r.controller.Mode() != ModeIdle {
		t.Errorf("mode = %s after commit, want %s", r.controller.Mode(), ModeIdle)
	}
	if r.producer.Paused() {
		t.Error("live preview should resume after commit")
	}

	kinds := r.journal.kinds()
	if len(kinds) != 1 || kinds[0] != store.EventEnroll {
		t.Errorf("journal = %v, want [enroll]", kinds)
	}
}

func TestController_ConfirmEnrollRequiresName(t *testing.T) {
	r := newTestRig(t)
	r.publish("snap-1", []byte("jpeg-1"))

	if err := r.controller.EnterAdmin(); err != nil {
		t.Fatal(err)
	}
	if err := r.controller.BeginEnroll(); err != nil {
		t.Fatal(err)
	}

	if _, err := r.controller.ConfirmEnroll(context.Background()); !errors.Is(err, ErrEmptyName) {
		t.Errorf("ConfirmEnroll() error = %v, want ErrEmptyName", err)
	}
	if r.controller.Mode() != ModeRegistering {
		t.Errorf("mode = %s, want unchanged %s", r.controller.Mode(), ModeRegistering)
	}
	if r.gateway.totalCalls() != 0 {
		t.Error("a nameless confirm must not reach the gateway")
	}
}

func TestController_ConfirmEnrollStaysRegisteringOnFailure(t *testing.T) {
	tests := []struct {
		name    string
		prepare func(*fakeGateway)
		wantErr bool
	}{
		{
			name:    "transport error",
			prepare: func(g *fakeGateway) { g.enrollErr = errors.New("connection refused") },
			wantErr: true,
		},
		{
			name: "service rejection",
			prepare: func(g *fakeGateway) {
				g.enrollResult = gateway.EnrollResult{Status: 400, Error: "No face found. Try again."}
			},
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestRig(t)
			r.publish("snap-1", []byte("jpeg-1"))
			tt.prepare(r.gateway)

			if err := r.controller.EnterAdmin(); err != nil {
				t.Fatal(err)
			}
			if err := r.controller.BeginEnroll(); err != nil {
				t.Fatal(err)
			}
			if err := r.controller.SetDraftName("Asha"); err != nil {
				t.Fatal(err)
			}

			_, err := r.controller.ConfirmEnroll(context.Background())
			if tt.wantErr && err == nil {
				t.Fatal("ConfirmEnroll() should surface the transport error")
			}
			if !tt.wantErr && err != nil {
				t.Fatalf("ConfirmEnroll() failed: %v", err)
			}

			if r.controller.Mode() != ModeRegistering {
				t.Errorf("mode = %s, want %s so the operator can retry", r.controller.Mode(), ModeRegistering)
			}
			if !r.producer.Paused() {
				t.Error("the frozen still should be kept for a retry")
			}

			kinds := r.journal.kinds()
			if len(kinds) != 1 || kinds[0] != store.EventEnrollFail {
				t.Errorf("journal = %v, want [enroll_fail]", kinds)
			}
		})
	}
}

func TestController_ExportLogsReturnsToIdle(t *testing.T) {
	r := newTestRig(t)
	r.gateway.exportData = []byte("zip-bytes")

	if err := r.controller.EnterAdmin(); err != nil {
		t.Fatal(err)
	}

	rc, err := r.controller.ExportLogs(context.Background())
	if err != nil {
		t.Fatalf("ExportLogs() failed: %v", err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("read archive: %v", err)
	}
	if string(data) != "zip-bytes" {
		t.Errorf("archive = %q, want zip-bytes", data)
	}
	if r.controller.Mode() != ModeIdle {
		t.Errorf("mode = %s after export, want %s", r.controller.Mode(), ModeIdle)
	}

	kinds := r.journal.kinds()
	if len(kinds) != 1 || kinds[0] != store.EventExport {
		t.Errorf("journal = %v, want [export]", kinds)
	}
}

func TestController_EmitsModeEvents(t *testing.T) {
	r := newTestRig(t)

	var events []Event
	r.controller.Subscribe(func(e Event) { events = append(events, e) })

	if err := r.controller.EnterAdmin(); err != nil {
		t.Fatal(err)
	}
	if err := r.controller.LeaveAdmin(); err != nil {
		t.Fatal(err)
	}

	var modes []Mode
	for _, e := range events {
		if e.Type == "mode" {
			modes = append(modes, e.Mode)
		}
	}
	if len(modes) != 2 || modes[0] != ModeAdmin || modes[1] != ModeIdle {
		t.Errorf("mode events = %v, want [admin idle]", modes)
	}
}

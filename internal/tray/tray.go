// Package tray provides the system tray interface for the Darpan
// kiosk: a capture toggle, the last recorded event and shortcuts to
// the operator UI.
package tray

import (
	"sync"

	"github.com/getlantern/systray"
)

// Tray represents the system tray application.
type Tray struct {
	onToggle func(enabled bool)
	onOpen   func()
	onQuit   func()
	enabled  bool
	mu       sync.RWMutex

	// Menu items stored for later updates
	menuToggle    *systray.MenuItem
	menuLastEvent *systray.MenuItem
}

// New creates a new Tray instance with capture enabled by default.
func New() *Tray {
	return &Tray{
		enabled: true,
	}
}

// OnToggle sets the callback invoked when capture is toggled.
func (t *Tray) OnToggle(fn func(enabled bool)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onToggle = fn
}

// OnOpen sets the callback invoked when the kiosk UI shortcut is clicked.
func (t *Tray) OnOpen(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onOpen = fn
}

// OnQuit sets the callback invoked when the quit menu item is clicked.
func (t *Tray) OnQuit(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onQuit = fn
}

// Run starts the system tray application.
// This function blocks until systray.Quit() is called.
func (t *Tray) Run() {
	systray.Run(t.onReady, t.onExit)
}

// onReady is called when the system tray is ready.
// It sets up the menu structure.
func (t *Tray) onReady() {
	systray.SetTitle("Darpan")
	systray.SetTooltip("Darpan Face Attendance Kiosk")

	t.menuToggle = systray.AddMenuItem("● Capturing", "Toggle camera capture")
	systray.AddSeparator()

	t.menuLastEvent = systray.AddMenuItem("Last: none", "Last recorded event")
	t.menuLastEvent.Disable()
	systray.AddSeparator()

	menuOpen := systray.AddMenuItem("Open Kiosk...", "Open the kiosk UI in a browser")
	systray.AddSeparator()

	menuQuit := systray.AddMenuItem("Quit", "Quit Darpan")

	// Handle menu item clicks in a separate goroutine
	go func() {
		for {
			select {
			case <-t.menuToggle.ClickedCh:
				t.handleToggle()
			case <-menuOpen.ClickedCh:
				t.handleOpen()
			case <-menuQuit.ClickedCh:
				t.handleQuit()
				return
			}
		}
	}()
}

// onExit is called when the tray application exits.
func (t *Tray) onExit() {}

// handleToggle flips the capture state and notifies the callback.
func (t *Tray) handleToggle() {
	t.mu.Lock()
	t.enabled = !t.enabled
	enabled := t.enabled
	fn := t.onToggle
	t.mu.Unlock()

	if enabled {
		t.menuToggle.SetTitle("● Capturing")
	} else {
		t.menuToggle.SetTitle("○ Paused")
	}

	if fn != nil {
		fn(enabled)
	}
}

func (t *Tray) handleOpen() {
	t.mu.RLock()
	fn := t.onOpen
	t.mu.RUnlock()

	if fn != nil {
		fn()
	}
}

func (t *Tray) handleQuit() {
	t.mu.RLock()
	fn := t.onQuit
	t.mu.RUnlock()

	if fn != nil {
		fn()
	}
	systray.Quit()
}

// SetLastEvent updates the last-event line in the menu.
func (t *Tray) SetLastEvent(text string) {
	if t.menuLastEvent != nil {
		t.menuLastEvent.SetTitle("Last: " + text)
	}
}

// Enabled reports whether capture is currently enabled.
func (t *Tray) Enabled() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.enabled
}

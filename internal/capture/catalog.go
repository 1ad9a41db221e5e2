package capture

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// ErrPermission is retained by the catalog when device nodes exist but
// cannot be opened by this process.
var ErrPermission = errors.New("camera access denied")

// CameraDevice describes one enumerated capture device.
type CameraDevice struct {
	ID     string `json:"id"`     // device path, e.g. /dev/video0
	Label  string `json:"label"`  // human-readable name, empty until probed
	Usable bool   `json:"usable"` // device could be opened by this process
}

// Catalog enumerates camera devices and reports hot-plug changes.
type Catalog interface {
	// ListDevices re-enumerates and returns the devices ordered by
	// device number. An empty result is not an error; LastError
	// explains it when enumeration itself failed.
	ListDevices(ctx context.Context) []CameraDevice

	// LastError returns the failure from the most recent enumeration,
	// or nil.
	LastError() error

	// Subscribe registers fn to be invoked whenever the set of
	// available devices changes.
	Subscribe(fn func())

	// Start launches the background hot-plug rescan loop.
	Start(ctx context.Context)

	// Stop halts the rescan loop. Idempotent.
	Stop()
}

// V4L2Catalog discovers /dev/video* devices and resolves their labels
// through v4l2-ctl, with a generated fallback name.
type V4L2Catalog struct {
	interval time.Duration

	mu          sync.Mutex
	subscribers []func()
	lastIDs     []string
	lastErr     error
	stopCh      chan struct{}
	wg          sync.WaitGroup
}

// NewV4L2Catalog creates a catalog that rescans for hot-plug changes
// at the given interval once started.
func NewV4L2Catalog(interval time.Duration) *V4L2Catalog {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &V4L2Catalog{interval: interval}
}

// ListDevices scans /dev/video* and returns openable devices sorted by
// device number. Labels come from the device probe; a device that
// exists but cannot be opened is listed with Usable=false so the UI
// can still show it and the operator can retry after fixing
// permissions.
func (c *V4L2Catalog) ListDevices(ctx context.Context) []CameraDevice {
	matches, err := filepath.Glob("/dev/video*")
	if err != nil {
		c.setLastError(fmt.Errorf("scan devices: %w", err))
		return nil
	}

	sort.Slice(matches, func(i, j int) bool {
		return deviceNumber(matches[i]) < deviceNumber(matches[j])
	})

	var devices []CameraDevice
	var denied bool
	for _, path := range matches {
		select {
		case <-ctx.Done():
			c.setLastError(ctx.Err())
			return devices
		default:
		}

		if !isVideoNode(path) {
			continue
		}

		dev := CameraDevice{ID: path}
		if probeDevice(path) {
			dev.Usable = true
			dev.Label = deviceLabel(ctx, path)
		} else if os.IsPermission(openError(path)) {
			denied = true
		}
		devices = append(devices, dev)
	}

	switch {
	case denied:
		c.setLastError(ErrPermission)
	case len(devices) == 0:
		c.setLastError(errors.New("no camera devices found"))
	default:
		c.setLastError(nil)
	}

	return devices
}

// LastError returns the failure from the most recent enumeration.
func (c *V4L2Catalog) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

func (c *V4L2Catalog) setLastError(err error) {
	c.mu.Lock()
	c.lastErr = err
	c.mu.Unlock()
}

// Subscribe registers a hot-plug notification handler. Handlers run on
// the rescan goroutine and should return quickly.
func (c *V4L2Catalog) Subscribe(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subscribers = append(c.subscribers, fn)
}

// Start begins the background rescan loop. The loop diffs the device
// ID set each interval and notifies subscribers on any change.
func (c *V4L2Catalog) Start(ctx context.Context) {
	c.mu.Lock()
	if c.stopCh != nil {
		c.mu.Unlock()
		return
	}
	c.stopCh = make(chan struct{})
	stopCh := c.stopCh
	c.mu.Unlock()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()

		c.rescan(ctx, false)

		for {
			select {
			case <-stopCh:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.rescan(ctx, true)
			}
		}
	}()
}

// Stop halts the rescan loop and waits for it to exit.
func (c *V4L2Catalog) Stop() {
	c.mu.Lock()
	if c.stopCh == nil {
		c.mu.Unlock()
		return
	}
	close(c.stopCh)
	c.stopCh = nil
	c.mu.Unlock()

	c.wg.Wait()
}

// rescan enumerates devices and fires subscribers when the ID set
// changed since the previous scan.
func (c *V4L2Catalog) rescan(ctx context.Context, notify bool) {
	devices := c.ListDevices(ctx)

	ids := make([]string, 0, len(devices))
	for _, d := range devices {
		ids = append(ids, d.ID)
	}

	c.mu.Lock()
	changed := !equalIDs(c.lastIDs, ids)
	c.lastIDs = ids
	subscribers := append([]func(){}, c.subscribers...)
	c.mu.Unlock()

	if changed && notify {
		log.Printf("camera device set changed: %v", ids)
		for _, fn := range subscribers {
			fn()
		}
	}
}

func equalIDs(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// probeDevice opens the device node briefly to confirm this process
// may access it. Labels are only trusted after a successful probe.
func probeDevice(path string) bool {
	f, err := os.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		return false
	}
	_ = f.Close()
	return true
}

// openError re-runs the open to classify the failure reason.
func openError(path string) error {
	f, err := os.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		return err
	}
	_ = f.Close()
	return nil
}

// deviceLabel resolves a display name via `v4l2-ctl --info`, falling
// back to a generated name when the tool is unavailable.
func deviceLabel(ctx context.Context, path string) string {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, "v4l2-ctl", "--device", path, "--info")
	output, err := cmd.Output()
	if err == nil {
		for _, line := range strings.Split(string(output), "\n") {
			line = strings.TrimSpace(line)
			if strings.HasPrefix(line, "Card type") {
				if parts := strings.SplitN(line, ":", 2); len(parts) == 2 {
					if name := strings.TrimSpace(parts[1]); name != "" {
						return name
					}
				}
			}
		}
	}

	return fmt.Sprintf("Camera %d", deviceNumber(path))
}

var videoNodeRe = regexp.MustCompile(`^/dev/video(\d+)$`)

func isVideoNode(path string) bool {
	return videoNodeRe.MatchString(path)
}

func deviceNumber(path string) int {
	matches := videoNodeRe.FindStringSubmatch(path)
	if len(matches) < 2 {
		return 0
	}
	n, err := strconv.Atoi(matches[1])
	if err != nil {
		return 0
	}
	return n
}

// MockCatalog is an in-memory Catalog for tests. Adding or removing a
// device notifies subscribers immediately.
type MockCatalog struct {
	mu          sync.Mutex
	devices     []CameraDevice
	subscribers []func()
	lastErr     error
}

func NewMockCatalog(devices ...CameraDevice) *MockCatalog {
	return &MockCatalog{devices: devices}
}

func (m *MockCatalog) ListDevices(_ context.Context) []CameraDevice {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]CameraDevice, len(m.devices))
	copy(out, m.devices)
	return out
}

func (m *MockCatalog) LastError() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

func (m *MockCatalog) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastErr = err
}

func (m *MockCatalog) Subscribe(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscribers = append(m.subscribers, fn)
}

func (m *MockCatalog) Start(_ context.Context) {}
func (m *MockCatalog) Stop()                   {}

// AddDevice appends a device and fires hot-plug notifications.
func (m *MockCatalog) AddDevice(dev CameraDevice) {
	m.mu.Lock()
	m.devices = append(m.devices, dev)
	subscribers := append([]func(){}, m.subscribers...)
	m.mu.Unlock()

	for _, fn := range subscribers {
		fn()
	}
}

// RemoveDevice removes a device by ID and fires hot-plug notifications.
func (m *MockCatalog) RemoveDevice(id string) {
	m.mu.Lock()
	for i, d := range m.devices {
		if d.ID == id {
			m.devices = append(m.devices[:i], m.devices[i+1:]...)
			break
		}
	}
	subscribers := append([]func(){}, m.subscribers...)
	m.mu.Unlock()

	for _, fn := range subscribers {
		fn()
	}
}

package capture

import (
	"sync"
	"time"
)

// Snapshot is one still image derived from the live feed. Data holds
// the payload submitted for recognition and is never mirrored; Preview
// holds the payload shown to the operator, horizontally flipped when
// mirroring is on. Snapshots are immutable once published.
type Snapshot struct {
	ID         string
	Data       []byte // JPEG, submission orientation
	Preview    []byte // JPEG, display orientation
	Width      int
	Height     int
	Mirrored   bool // whether Preview is flipped relative to Data
	CapturedAt time.Time
}

// FrameStore holds the single most recent snapshot. Publish replaces
// the value atomically; readers never see a partially written
// snapshot and never an older one than the latest published.
type FrameStore struct {
	mu      sync.RWMutex
	current Snapshot
	present bool
}

// NewFrameStore creates an empty FrameStore.
func NewFrameStore() *FrameStore {
	return &FrameStore{}
}

// Publish replaces the held snapshot. The previous value is simply
// dropped; no history is retained.
func (f *FrameStore) Publish(snap Snapshot) {
	f.mu.Lock()
	f.current = snap
	f.present = true
	f.mu.Unlock()
}

// Latest returns the most recently published snapshot. The second
// return is false while nothing has been published yet.
func (f *FrameStore) Latest() (Snapshot, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.current, f.present
}

// Clear empties the store, e.g. after the session stops so stale
// frames from a released device cannot be submitted.
func (f *FrameStore) Clear() {
	f.mu.Lock()
	f.current = Snapshot{}
	f.present = false
	f.mu.Unlock()
}

package capture

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestFrameStore_EmptyLatest(t *testing.T) {
	fs := NewFrameStore()

	if _, ok := fs.Latest(); ok {
		t.Error("Latest() on empty store should report no snapshot")
	}
}

func TestFrameStore_PublishReplacesValue(t *testing.T) {
	fs := NewFrameStore()

	for i := 0; i < 5; i++ {
		fs.Publish(Snapshot{
			ID:         fmt.Sprintf("snap-%d", i),
			Data:       []byte{byte(i)},
			CapturedAt: time.Now(),
		})
	}

	snap, ok := fs.Latest()
	if !ok {
		t.Fatal("Latest() should report a snapshot after publishing")
	}
	if snap.ID != "snap-4" {
		t.Errorf("Latest().ID = %q, want snap-4", snap.ID)
	}
	if len(snap.Data) != 1 || snap.Data[0] != 4 {
		t.Errorf("Latest().Data = %v, want [4]", snap.Data)
	}
}

func TestFrameStore_Clear(t *testing.T) {
	fs := NewFrameStore()
	fs.Publish(Snapshot{ID: "snap-1", Data: []byte{1}})

	fs.Clear()

	if _, ok := fs.Latest(); ok {
		t.Error("Latest() after Clear() should report no snapshot")
	}
}

// Readers racing a writer must always observe a complete snapshot:
// the ID and the payload belong to the same publish.
func TestFrameStore_ConcurrentReadersSeeConsistentSnapshots(t *testing.T) {
	fs := NewFrameStore()
	stop := make(chan struct{})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; ; i++ {
			select {
			case <-stop:
				return
			default:
			}
			fs.Publish(Snapshot{
				ID:   fmt.Sprintf("snap-%d", i),
				Data: []byte(fmt.Sprintf("payload-%d", i)),
			})
		}
	}()

	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				snap, ok := fs.Latest()
				if !ok {
					continue
				}
				wantData := "payload-" + snap.ID[len("snap-"):]
				if string(snap.Data) != wantData {
					t.Errorf("torn snapshot: ID %q with data %q", snap.ID, snap.Data)
					return
				}
			}
		}()
	}

	time.Sleep(50 * time.Millisecond)
	close(stop)
	wg.Wait()
}

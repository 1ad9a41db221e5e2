package capture

import (
	"errors"
	"image"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"gocv.io/x/gocv"
)

// ProducerConfig holds the snapshot production settings.
type ProducerConfig struct {
	Width        int           // encoding surface width
	Height       int           // encoding surface height
	FPS          int           // cadence while the scene is active
	IdleFPS      int           // cadence after the scene goes static
	IdleTimeout  time.Duration // static time before dropping to idle cadence
	MotionThresh float64       // percent pixel change counting as activity
	Mirror       bool          // initial preview mirror state
}

// Producer runs the snapshot loop: each cycle it reads the current
// frame from the session, normalizes it onto a fixed-size surface,
// encodes the submission and preview payloads and publishes the result
// to the frame store. The loop re-arms itself only while running;
// Stop cancels it and no publish happens after Stop returns.
type Producer struct {
	session  *Session
	store    *FrameStore
	activity *ActivityDetector
	cfg      ProducerConfig

	mu     sync.Mutex
	mirror bool
	paused bool
	stopCh chan struct{}
	doneCh chan struct{}
}

// NewProducer creates a Producer over the given session and store.
func NewProducer(session *Session, store *FrameStore, cfg ProducerConfig) *Producer {
	if cfg.Width <= 0 {
		cfg.Width = DefaultWidth
	}
	if cfg.Height <= 0 {
		cfg.Height = DefaultHeight
	}
	if cfg.FPS <= 0 {
		cfg.FPS = DefaultFPS
	}
	if cfg.IdleFPS <= 0 || cfg.IdleFPS > cfg.FPS {
		cfg.IdleFPS = cfg.FPS
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 2 * time.Second
	}
	if cfg.MotionThresh <= 0 {
		cfg.MotionThresh = 1.0
	}

	return &Producer{
		session:  session,
		store:    store,
		activity: NewActivityDetector(cfg.MotionThresh),
		cfg:      cfg,
		mirror:   cfg.Mirror,
	}
}

// Start launches the snapshot loop. Starting an already running
// producer is a no-op.
func (p *Producer) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopCh != nil {
		return
	}

	p.stopCh = make(chan struct{})
	p.doneCh = make(chan struct{})
	go p.run(p.stopCh, p.doneCh)
}

// Stop cancels the loop and waits for the in-flight cycle to finish.
// After Stop returns, no further snapshot is published. Idempotent.
func (p *Producer) Stop() {
	p.mu.Lock()
	if p.stopCh == nil {
		p.mu.Unlock()
		return
	}
	close(p.stopCh)
	doneCh := p.doneCh
	p.stopCh = nil
	p.doneCh = nil
	p.mu.Unlock()

	<-doneCh
	// Drop the baseline, not the detector: the producer may be
	// restarted after a tray toggle.
	p.activity.Reset()
}

// Pause freezes snapshot production. The loop keeps ticking but skips
// capture and publish, so the frame store retains the last live value.
func (p *Producer) Pause() {
	p.mu.Lock()
	p.paused = true
	p.mu.Unlock()
}

// Resume restarts snapshot production after Pause. The activity
// baseline is reset so the first frames after resuming count as fresh.
func (p *Producer) Resume() {
	p.mu.Lock()
	p.paused = false
	p.mu.Unlock()
	p.activity.Reset()
}

// Paused reports whether production is currently frozen.
func (p *Producer) Paused() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.paused
}

// SetMirror toggles the preview mirror. Takes effect from the next
// cycle; snapshots already published are immutable.
func (p *Producer) SetMirror(mirror bool) {
	p.mu.Lock()
	p.mirror = mirror
	p.mu.Unlock()
}

// Mirror returns the current preview mirror state.
func (p *Producer) Mirror() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.mirror
}

// ResetActivity clears the activity baseline, e.g. after a device
// switch so frames from the new camera do not diff against the old.
func (p *Producer) ResetActivity() {
	p.activity.Reset()
}

// run is the snapshot loop. It manages the active/idle cadence based
// on scene activity: static scenes drop to IdleFPS, motion restores
// the active rate.
func (p *Producer) run(stopCh, doneCh chan struct{}) {
	defer close(doneCh)

	activeMode := true
	lastActive := time.Now()

	interval := time.Second / time.Duration(p.cfg.FPS)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			if p.Paused() {
				continue
			}

			frame, err := p.session.Frame()
			if err != nil {
				if !errors.Is(err, ErrNotStreaming) {
					log.Printf("snapshot cycle: %v", err)
				}
				continue
			}

			active, _ := p.activity.Detect(frame)
			if active {
				lastActive = time.Now()
				if !activeMode {
					activeMode = true
					p.session.SetFPS(p.cfg.FPS)
					ticker.Reset(time.Second / time.Duration(p.cfg.FPS))
				}
			} else if activeMode && time.Since(lastActive) > p.cfg.IdleTimeout {
				activeMode = false
				p.session.SetFPS(p.cfg.IdleFPS)
				ticker.Reset(time.Second / time.Duration(p.cfg.IdleFPS))
			}

			p.produce(frame)
			frame.Close()
		}
	}
}

// produce turns one raw frame into a published snapshot.
func (p *Producer) produce(frame *gocv.Mat) {
	surface := gocv.NewMatWithSize(p.cfg.Height, p.cfg.Width, gocv.MatTypeCV8UC3)
	defer surface.Close()

	if err := fitFrame(frame, &surface); err != nil {
		log.Printf("fit frame: %v", err)
		return
	}

	data, err := encodeJPEG(surface)
	if err != nil {
		log.Printf("encode snapshot: %v", err)
		return
	}

	mirror := p.Mirror()
	preview := data
	if mirror {
		flipped := gocv.NewMat()
		gocv.Flip(surface, &flipped, 1)
		preview, err = encodeJPEG(flipped)
		flipped.Close()
		if err != nil {
			log.Printf("encode preview: %v", err)
			return
		}
	}

	p.store.Publish(Snapshot{
		ID:         uuid.New().String(),
		Data:       data,
		Preview:    preview,
		Width:      p.cfg.Width,
		Height:     p.cfg.Height,
		Mirrored:   mirror,
		CapturedAt: time.Now(),
	})
}

// fitFrame letterbox-scales src onto dst, preserving aspect ratio and
// centering. dst keeps its fixed size regardless of the source
// resolution.
func fitFrame(src *gocv.Mat, dst *gocv.Mat) error {
	if src == nil || src.Empty() {
		return errors.New("empty source frame")
	}

	bgr := *src
	var converted gocv.Mat
	if src.Channels() == 1 {
		converted = gocv.NewMat()
		gocv.CvtColor(*src, &converted, gocv.ColorGrayToBGR)
		defer converted.Close()
		bgr = converted
	}

	sw, sh := bgr.Cols(), bgr.Rows()
	dw, dh := dst.Cols(), dst.Rows()

	scale := float64(dw) / float64(sw)
	if s := float64(dh) / float64(sh); s < scale {
		scale = s
	}

	rw := int(float64(sw) * scale)
	rh := int(float64(sh) * scale)
	if rw < 1 {
		rw = 1
	}
	if rh < 1 {
		rh = 1
	}

	x := (dw - rw) / 2
	y := (dh - rh) / 2

	roi := dst.Region(image.Rect(x, y, x+rw, y+rh))
	defer roi.Close()
	gocv.Resize(bgr, &roi, image.Pt(rw, rh), 0, 0, gocv.InterpolationLinear)

	return nil
}

// encodeJPEG encodes a Mat into an owned JPEG byte slice.
func encodeJPEG(m gocv.Mat) ([]byte, error) {
	buf, err := gocv.IMEncode(gocv.JPEGFileExt, m)
	if err != nil {
		return nil, err
	}
	defer buf.Close()

	data := make([]byte, buf.Len())
	copy(data, buf.GetBytes())
	return data, nil
}

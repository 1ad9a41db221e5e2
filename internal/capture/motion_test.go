package capture

import (
	"testing"

	"gocv.io/x/gocv"
)

func TestActivityDetector_FirstFrameIsBaseline(t *testing.T) {
	d := NewActivityDetector(1.0)
	defer d.Close()

	frame := gocv.NewMatWithSize(48, 64, gocv.MatTypeCV8UC3)
	defer frame.Close()

	active, percent := d.Detect(&frame)
	if active {
		t.Error("first frame should never report activity")
	}
	if percent != 0 {
		t.Errorf("first frame change percent = %f, want 0", percent)
	}
}

func TestActivityDetector_StaticSceneIsInactive(t *testing.T) {
	d := NewActivityDetector(1.0)
	defer d.Close()

	frame := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(100, 100, 100, 0), 48, 64, gocv.MatTypeCV8UC3)
	defer frame.Close()

	d.Detect(&frame)
	active, _ := d.Detect(&frame)
	if active {
		t.Error("identical frames should not report activity")
	}
}

func TestActivityDetector_ChangedSceneIsActive(t *testing.T) {
	d := NewActivityDetector(1.0)
	defer d.Close()

	dark := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(10, 10, 10, 0), 48, 64, gocv.MatTypeCV8UC3)
	defer dark.Close()
	bright := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(240, 240, 240, 0), 48, 64, gocv.MatTypeCV8UC3)
	defer bright.Close()

	d.Detect(&dark)
	active, percent := d.Detect(&bright)
	if !active {
		t.Errorf("full-frame change should report activity (%.1f%% changed)", percent)
	}
}

func TestActivityDetector_NilAndEmptyFrames(t *testing.T) {
	d := NewActivityDetector(1.0)
	defer d.Close()

	if active, _ := d.Detect(nil); active {
		t.Error("nil frame should not report activity")
	}

	empty := gocv.NewMat()
	defer empty.Close()
	if active, _ := d.Detect(&empty); active {
		t.Error("empty frame should not report activity")
	}
}

func TestActivityDetector_ResetClearsBaseline(t *testing.T) {
	d := NewActivityDetector(1.0)
	defer d.Close()

	dark := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(10, 10, 10, 0), 48, 64, gocv.MatTypeCV8UC3)
	defer dark.Close()
	bright := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(240, 240, 240, 0), 48, 64, gocv.MatTypeCV8UC3)
	defer bright.Close()

	d.Detect(&dark)
	d.Reset()

	// After reset the bright frame is the new baseline, not a change.
	if active, _ := d.Detect(&bright); active {
		t.Error("first frame after Reset should not report activity")
	}
}

package capture

import (
	"image"
	"sync"

	"gocv.io/x/gocv"
)

// ActivityDetector decides whether the scene in front of the kiosk is
// active or static, using frame differencing with Gaussian blur for
// noise reduction. The snapshot producer drops to its idle cadence
// while the scene stays static.
type ActivityDetector struct {
	threshold   float64
	prevGray    gocv.Mat
	initialized bool
	mu          sync.Mutex
}

// Activity detection constants
const (
	// activityBlurSize is the kernel size for Gaussian blur (21x21)
	activityBlurSize = 21
	// activityDiffThreshold is the binary threshold for difference detection
	activityDiffThreshold = 25
)

// NewActivityDetector creates an ActivityDetector with the given
// threshold: the percentage of pixels that must change between
// consecutive frames for the scene to count as active.
func NewActivityDetector(threshold float64) *ActivityDetector {
	return &ActivityDetector{
		threshold: threshold,
		prevGray:  gocv.NewMat(),
	}
}

// Detect compares a frame against the previous one and reports whether
// the scene changed, along with the percentage of pixels that changed.
// The first frame establishes the baseline and reports no activity.
func (d *ActivityDetector) Detect(frame *gocv.Mat) (bool, float64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if frame == nil || frame.Empty() {
		return false, 0
	}

	gray := gocv.NewMat()
	defer gray.Close()

	if frame.Channels() > 1 {
		gocv.CvtColor(*frame, &gray, gocv.ColorBGRToGray)
	} else {
		frame.CopyTo(&gray)
	}

	blurred := gocv.NewMat()
	defer blurred.Close()
	gocv.GaussianBlur(gray, &blurred, image.Point{X: activityBlurSize, Y: activityBlurSize}, 0, 0, gocv.BorderDefault)

	if !d.initialized {
		blurred.CopyTo(&d.prevGray)
		d.initialized = true
		return false, 0
	}

	diff := gocv.NewMat()
	defer diff.Close()
	gocv.AbsDiff(blurred, d.prevGray, &diff)

	thresh := gocv.NewMat()
	defer thresh.Close()
	gocv.Threshold(diff, &thresh, activityDiffThreshold, 255, gocv.ThresholdBinary)

	nonZero := gocv.CountNonZero(thresh)
	totalPixels := thresh.Rows() * thresh.Cols()

	changePercent := float64(nonZero) / float64(totalPixels) * 100.0

	blurred.CopyTo(&d.prevGray)

	return changePercent > d.threshold, changePercent
}

// Reset clears the detector state so the next frame becomes the new
// baseline. Called on device switch: frames from a different camera
// must not diff against the old one.
func (d *ActivityDetector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.prevGray.Empty() {
		d.prevGray.Close()
		d.prevGray = gocv.NewMat()
	}
	d.initialized = false
}

// Close releases detector resources.
func (d *ActivityDetector) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.prevGray.Close()
	d.initialized = false
}

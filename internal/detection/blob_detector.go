//go:build cgo

package detection

import (
	"context"
	"sync/atomic"

	"gocv.io/x/gocv"

	"pitchtracker/internal/eventbus"
)

// BlobDetector is the in-process baseline ball detector: threshold the
// frame, find contours, and keep ones whose area and circularity look like
// a ball rather than background clutter. It mirrors the teacher's
// contour-area-threshold motion detector, narrowed from "detect motion
// regions" to "detect one round, bright/dark blob" since the pipeline here
// tracks a single object rather than arbitrary motion.
type BlobDetector struct {
	minContourArea float64
	maxContourArea float64
	threshold      float32

	healthy atomic.Bool
}

// NewBlobDetector builds a BlobDetector. minArea/maxArea bound the accepted
// contour area in pixels^2; threshold is the binary threshold applied
// before contour extraction (0-255).
func NewBlobDetector(minArea, maxArea float64, threshold float32) *BlobDetector {
	if minArea <= 0 {
		minArea = 20
	}
	if maxArea <= 0 {
		maxArea = 5000
	}
	d := &BlobDetector{minContourArea: minArea, maxContourArea: maxArea, threshold: threshold}
	d.healthy.Store(true)
	return d
}

func (d *BlobDetector) Name() string  { return "blob" }
func (d *BlobDetector) Healthy() bool { return d.healthy.Load() }

func (d *BlobDetector) Detect(ctx context.Context, cameraID string, frame Frame) ([]eventbus.DetectionBox, error) {
	if len(frame.Pixels) == 0 || frame.Width == 0 || frame.Height == 0 {
		return nil, nil
	}

	matType := gocv.MatTypeCV8UC3
	if frame.Pixfmt == "grayscale" {
		matType = gocv.MatTypeCV8UC1
	}
	mat, err := gocv.NewMatFromBytes(frame.Height, frame.Width, matType, frame.Pixels)
	if err != nil {
		d.healthy.Store(false)
		return nil, err
	}
	defer mat.Close()
	d.healthy.Store(true)

	gray := gocv.NewMat()
	defer gray.Close()
	if frame.Pixfmt == "grayscale" {
		mat.CopyTo(&gray)
	} else {
		gocv.CvtColor(mat, &gray, gocv.ColorRGBToGray)
	}

	binary := gocv.NewMat()
	defer binary.Close()
	gocv.Threshold(gray, &binary, d.threshold, 255, gocv.ThresholdBinary)

	contours := gocv.FindContours(binary, gocv.RetrievalExternal, gocv.ChainApproxSimple)
	defer contours.Close()

	var out []eventbus.DetectionBox
	for i := 0; i < contours.Size(); i++ {
		contour := contours.At(i)
		area := gocv.ContourArea(contour)
		if area < d.minContourArea || area > d.maxContourArea {
			continue
		}
		rect := gocv.BoundingRect(contour)
		cx := float64(rect.Min.X + rect.Dx()/2)
		cy := float64(rect.Min.Y + rect.Dy()/2)
		out = append(out, eventbus.DetectionBox{
			Centroid:   [2]float64{cx, cy},
			BBox:       [4]float64{float64(rect.Min.X), float64(rect.Min.Y), float64(rect.Dx()), float64(rect.Dy())},
			Confidence: circularity(area, float64(rect.Dx())),
		})
	}
	return out, nil
}

// circularity scores how ball-like a bounding rect is: 1.0 for a perfect
// square bound around a filled circle, lower for elongated/irregular blobs.
func circularity(area, width float64) float64 {
	if width <= 0 {
		return 0
	}
	expected := width * width * 0.785398 // pi/4, area of inscribed circle
	if area > expected {
		return expected / area
	}
	return area / expected
}

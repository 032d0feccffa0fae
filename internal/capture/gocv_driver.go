//go:build cgo

package capture

import (
	"context"
	"fmt"
	"time"

	"gocv.io/x/gocv"
)

const fourccMJPEG = 0x47504A4D

// GoCVDriver implements Driver over a V4L2 USB camera using gocv. It mirrors
// OpenCVCamera's V4L2-backend-plus-MJPEG-FOURCC setup, generalized to emit
// either grayscale or packed-color frames per the configured pixfmt instead
// of always converting to RGB24.
type GoCVDriver struct {
	webcam *gocv.VideoCapture
	pixfmt string
}

// NewGoCVDriver is a DriverFactory: each call returns a new, unopened
// GoCVDriver, for wiring into CaptureService without the service needing to
// import gocv directly.
func NewGoCVDriver() Driver {
	return &GoCVDriver{}
}

func (d *GoCVDriver) Open(ctx context.Context, deviceID, width, height, fps int, pixfmt string) error {
	webcam, err := gocv.OpenVideoCaptureWithAPI(deviceID, gocv.VideoCaptureV4L2)
	if err != nil {
		return fmt.Errorf("capture: open device %d: %w", deviceID, err)
	}
	if !webcam.IsOpened() {
		webcam.Close()
		return fmt.Errorf("capture: device %d not found or unavailable", deviceID)
	}

	webcam.Set(gocv.VideoCaptureFOURCC, fourccMJPEG)
	if width > 0 {
		webcam.Set(gocv.VideoCaptureFrameWidth, float64(width))
	}
	if height > 0 {
		webcam.Set(gocv.VideoCaptureFrameHeight, float64(height))
	}
	if fps > 0 {
		webcam.Set(gocv.VideoCaptureFPS, float64(fps))
	}

	d.webcam = webcam
	d.pixfmt = pixfmt

	warmup := gocv.NewMat()
	webcam.Read(&warmup)
	warmup.Close()

	return nil
}

func (d *GoCVDriver) Read() (Frame, error) {
	if d.webcam == nil {
		return Frame{}, fmt.Errorf("capture: device not opened")
	}

	mat := gocv.NewMat()
	defer mat.Close()

	if ok := d.webcam.Read(&mat); !ok {
		return Frame{}, fmt.Errorf("capture: read failed")
	}
	if mat.Empty() {
		return Frame{}, fmt.Errorf("capture: empty frame")
	}

	out := gocv.NewMat()
	defer out.Close()

	if d.pixfmt == "grayscale" {
		gocv.CvtColor(mat, &out, gocv.ColorBGRToGray)
	} else {
		gocv.CvtColor(mat, &out, gocv.ColorBGRToRGB)
	}

	return Frame{
		Width:  out.Cols(),
		Height: out.Rows(),
		Pixfmt: d.pixfmt,
		Pixels: out.ToBytes(),
	}, nil
}

func (d *GoCVDriver) Close() error {
	if d.webcam == nil {
		return nil
	}
	err := d.webcam.Close()
	d.webcam = nil
	if err != nil {
		return fmt.Errorf("capture: close: %w", err)
	}
	return nil
}

// EnumerateCameras sequentially probes device indices [0, maxDevices) with a
// per-device open/close, never in parallel (USB bandwidth contention causes
// intermittent enumeration failures when probing concurrently), waiting
// 100 ms between consecutive probes.
func EnumerateCameras(maxDevices int) []int {
	if maxDevices <= 0 {
		maxDevices = 10
	}
	var found []int
	for i := 0; i < maxDevices; i++ {
		if i > 0 {
			time.Sleep(100 * time.Millisecond)
		}
		cam, err := gocv.OpenVideoCaptureWithAPI(i, gocv.VideoCaptureV4L2)
		if err != nil {
			continue
		}
		if cam.IsOpened() {
			found = append(found, i)
		}
		cam.Close()
	}
	return found
}

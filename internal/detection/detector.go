// Package detection runs pluggable ball detectors against captured frames
// with bounded latency and explicit backpressure, publishing one
// ObservationDetectedEvent per frame in strict per-camera frame_index order.
package detection

import (
	"context"

	"pitchtracker/internal/eventbus"
)

// Frame is the minimal view of a captured frame a Detector needs. It
// mirrors eventbus.FrameHandle rather than importing internal/capture, so
// this package has no dependency on the camera driver layer.
type Frame struct {
	Width  int
	Height int
	Pixfmt string
	Pixels []byte
}

// Detector is a pure function from (camera_id, frame) to a list of
// candidate ball detections. Implementations must not retain frame.Pixels
// past the call, since the caller may reuse or release the backing buffer
// once Detect returns.
type Detector interface {
	Detect(ctx context.Context, cameraID string, frame Frame) ([]eventbus.DetectionBox, error)
	// Name identifies the detector for registry lookup and logging.
	Name() string
	// Healthy reports whether the detector is currently usable; an
	// unhealthy detector is skipped by DetectorRegistry.GetHealthy.
	Healthy() bool
}

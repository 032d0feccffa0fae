// Package capture owns the two camera drivers and turns their frames into
// FrameCapturedEvents on the shared bus.
package capture

import "context"

// Frame is one decoded image read from a Driver.
type Frame struct {
	Width  int
	Height int
	Pixfmt string // "grayscale" or "color-packed"
	Pixels []byte
}

// Driver is the pluggable camera interface. Calibration and intrinsics are
// out of scope here: a Driver only produces pixel frames on request.
// Implementations must be safe to call Read/Close from a single dedicated
// goroutine; Open/Close are not expected to be called concurrently with
// Read.
type Driver interface {
	// Open initializes the device at deviceID with the requested
	// resolution/fps/pixfmt. Implementations should discard a warm-up
	// frame before returning, mirroring real USB webcam behavior where
	// the first frame after open is often stale or malformed.
	Open(ctx context.Context, deviceID, width, height, fps int, pixfmt string) error
	// Read blocks for at most one frame interval and returns the next
	// frame, or an error if the read failed.
	Read() (Frame, error)
	// Close releases the device. Safe to call multiple times.
	Close() error
}

// DriverFactory builds a new, unopened Driver. CaptureService calls it once
// per camera so that reconnection can discard a broken driver instance and
// build a fresh one instead of trying to recover a wedged handle.
type DriverFactory func() Driver

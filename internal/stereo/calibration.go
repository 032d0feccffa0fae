// Package stereo pairs per-camera detections into 3D stereo observations.
// Camera calibration (intrinsics/extrinsics computation) is an external
// collaborator per the scope boundary; this package only consumes an
// already-computed Calibration as a read-only input.
package stereo

import (
	"fmt"

	"github.com/BurntSushi/toml"
)

// Calibration is the read-only extrinsics/intrinsics input used to
// triangulate a paired left/right detection into a 3D position. It is
// produced by an external calibration process and never mutated here:
// swapping calibration requires stopping and restarting capture.
type Calibration struct {
	// FocalPx is the (rectified) focal length in pixels, shared by both
	// cameras after rectification.
	FocalPx float64 `toml:"focal_px"`
	// BaselineFt is the physical distance between the two camera centers,
	// in feet.
	BaselineFt float64 `toml:"baseline_ft"`
	// PrincipalX/PrincipalY is the shared principal point in pixels.
	PrincipalX float64 `toml:"principal_x"`
	PrincipalY float64 `toml:"principal_y"`
}

// LoadCalibration reads a calibration snapshot from a TOML file, written by
// the external calibration process this package treats as a read-only
// collaborator. The loaded value is not validated here; callers (typically
// Orchestrator.StartCapture) call Validate themselves.
func LoadCalibration(path string) (Calibration, error) {
	var cal Calibration
	if _, err := toml.DecodeFile(path, &cal); err != nil {
		return Calibration{}, fmt.Errorf("stereo: loading calibration from %s: %w", path, err)
	}
	return cal, nil
}

// ID is an opaque identifier for one calibration snapshot, used to detect a
// mid-session calibration swap (disallowed; see
// tracking.Machine.NotifyCalibrationChanged).
type ID string

// Validate reports whether c has the minimum fields needed to triangulate.
func (c Calibration) Validate() error {
	if c.FocalPx <= 0 {
		return fmt.Errorf("stereo: calibration focal length must be positive, got %v", c.FocalPx)
	}
	if c.BaselineFt <= 0 {
		return fmt.Errorf("stereo: calibration baseline must be positive, got %v", c.BaselineFt)
	}
	return nil
}

package capture

import "errors"

// ErrCameraOpen is wrapped with camera/device context when a camera fails to
// open after all configured retries.
var ErrCameraOpen = errors.New("capture: camera open failed")

// ErrAlreadyCapturing is returned by Start when capture is already running;
// the orchestrator treats this as a non-fatal warning, not a fatal error.
var ErrAlreadyCapturing = errors.New("capture: already capturing")

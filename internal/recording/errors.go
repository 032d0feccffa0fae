package recording

import "errors"

var (
	// ErrAlreadyRecording is returned by StartRecording when a session is
	// already active.
	ErrAlreadyRecording = errors.New("recording: a session is already active")
	// ErrNotRecording is returned by StopRecording when no session is active.
	ErrNotRecording = errors.New("recording: no session is active")
	// ErrDiskCritical is returned by StartRecording when free space under
	// the configured output directory is already below the critical
	// threshold at the pre-flight check.
	ErrDiskCritical = errors.New("recording: free space below critical threshold")
	// ErrCodecMismatch is returned when the left and right session writers
	// could not agree on the same codec from the preference chain.
	ErrCodecMismatch = errors.New("recording: left/right cameras could not agree on a codec")
)

package recording

import "fmt"

// VideoWriter is the pluggable video sink RecordingService writes frames
// to. The gocv-backed implementation lives in writer_gocv.go, gated behind
// the cgo build tag the same way capture.GoCVDriver is; a fake
// implementation backs the package's tests.
type VideoWriter interface {
	Write(pixels []byte, width, height int) error
	Close() error
}

// codecSpec names one entry in the codec-fallback chain: the chain-entry
// name and the container extension it requires. The fourcc for each name is
// looked up by the gocv writer.
type codecSpec struct {
	name string
	ext  string
}

var knownCodecs = map[string]codecSpec{
	"H264":     {name: "H264", ext: ".mp4"},
	"H264-alt": {name: "H264-alt", ext: ".mp4"},
	"MJPG":     {name: "MJPG", ext: ".avi"},
}

// WriterOpener opens one VideoWriter for a specific codec name (one entry
// of the preference chain), or returns an error if that codec could not be
// opened on this system. path already has the right extension for codec.
type WriterOpener func(codec, path string, fps float64, width, height int, color bool) (VideoWriter, error)

// openWithFallback tries each codec in preference order, releasing any
// writer that failed to open before trying the next, and returns the first
// one that succeeds along with its chosen codec name and file extension.
func openWithFallback(open WriterOpener, preference []string, basePathNoExt string, fps float64, width, height int, color bool) (VideoWriter, string, string, error) {
	var lastErr error
	for _, name := range preference {
		spec, ok := knownCodecs[name]
		if !ok {
			lastErr = fmt.Errorf("recording: unknown codec %q", name)
			continue
		}
		w, err := open(spec.name, basePathNoExt+spec.ext, fps, width, height, color)
		if err != nil {
			lastErr = err
			continue
		}
		return w, spec.name, spec.ext, nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("recording: empty codec preference list")
	}
	return nil, "", "", fmt.Errorf("recording: no codec in preference chain could open a writer: %w", lastErr)
}

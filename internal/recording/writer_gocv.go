//go:build cgo

package recording

import (
	"fmt"
	"os"
	"path/filepath"

	"gocv.io/x/gocv"
)

// codecFourcc maps a codec-chain entry to the fourcc gocv.VideoWriterFile
// expects. "H264" and "H264-alt" both ask OpenCV for H.264, via the two
// fourcc spellings OpenCV backends commonly register it under; whichever
// actually opens becomes "the" codec for the session.
var codecFourcc = map[string]string{
	"H264":     "avc1",
	"H264-alt": "H264",
	"MJPG":     "MJPG",
}

// gocvWriter adapts gocv.VideoWriter to the VideoWriter interface.
type gocvWriter struct {
	vw     *gocv.VideoWriter
	height int
	width  int
	color  bool
}

func (w *gocvWriter) Write(pixels []byte, width, height int) error {
	matType := gocv.MatTypeCV8UC1
	if w.color {
		matType = gocv.MatTypeCV8UC3
	}
	mat, err := gocv.NewMatFromBytes(height, width, matType, pixels)
	if err != nil {
		return fmt.Errorf("recording: building frame mat: %w", err)
	}
	defer mat.Close()
	return w.vw.Write(mat)
}

func (w *gocvWriter) Close() error {
	return w.vw.Close()
}

// openGoCVWriter is the WriterOpener backing real recordings: it ensures
// the parent directory exists, resolves the fourcc for codec, and opens a
// gocv.VideoWriter, releasing it immediately if OpenCV reports it did not
// actually open (a failed fourcc negotiation is reported that way rather
// than as an error return on some backends).
func openGoCVWriter(codec, path string, fps float64, width, height int, color bool) (VideoWriter, error) {
	fourcc, ok := codecFourcc[codec]
	if !ok {
		return nil, fmt.Errorf("recording: no fourcc mapping for codec %q", codec)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("recording: creating output dir: %w", err)
	}

	vw, err := gocv.VideoWriterFile(path, fourcc, fps, width, height, color)
	if err != nil {
		return nil, fmt.Errorf("recording: opening writer for codec %s: %w", codec, err)
	}
	if !vw.IsOpened() {
		vw.Close()
		return nil, fmt.Errorf("recording: writer for codec %s did not open", codec)
	}
	return &gocvWriter{vw: vw, width: width, height: height, color: color}, nil
}

// NewGoCVWriterOpener returns the WriterOpener used by the real recording
// service, as opposed to the fake used in tests.
func NewGoCVWriterOpener() WriterOpener {
	return openGoCVWriter
}

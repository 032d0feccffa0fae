package orchestrator

import (
	"context"
	"errors"
	"testing"
	"time"

	"pitchtracker/internal/capture"
	"pitchtracker/internal/config"
	"pitchtracker/internal/recording"
	"pitchtracker/internal/stereo"
)

type fakeDriver struct{}

func (fakeDriver) Open(ctx context.Context, deviceID, width, height, fps int, pixfmt string) error {
	return nil
}
func (fakeDriver) Read() (capture.Frame, error) {
	return capture.Frame{Width: 4, Height: 4, Pixfmt: "grayscale", Pixels: make([]byte, 16)}, nil
}
func (fakeDriver) Close() error { return nil }

type fakeWriter struct{}

func (fakeWriter) Write(pixels []byte, width, height int) error { return nil }
func (fakeWriter) Close() error                                 { return nil }

func testOrchestrator(t *testing.T) *Orchestrator {
	t.Helper()
	cfg := config.Default()
	cfg.Camera.OpenTimeoutMs = 100
	cfg.Camera.OpenRetries = 1
	cfg.Recording.DiskCriticalGB = 0
	cfg.Recording.CodecPreference = []string{"MJPG"}

	cal := stereo.Calibration{FocalPx: 1000, BaselineFt: 0.5, PrincipalX: 320, PrincipalY: 240}
	opener := func(codec, path string, fps float64, width, height int, color bool) (recording.VideoWriter, error) {
		return fakeWriter{}, nil
	}

	return New(nil, cfg, cal, nil, func() capture.Driver { return fakeDriver{} }, opener, nil, nil)
}

func TestStartCaptureIsIdempotent(t *testing.T) {
	o := testOrchestrator(t)
	if err := o.StartCapture(0, 1); err != nil {
		t.Fatalf("StartCapture: %v", err)
	}
	defer o.StopCapture()

	if err := o.StartCapture(0, 1); !errors.Is(err, ErrAlreadyCapturing) {
		t.Fatalf("expected ErrAlreadyCapturing, got %v", err)
	}
}

func TestStartRecordingRequiresCapture(t *testing.T) {
	o := testOrchestrator(t)
	if _, err := o.StartRecording("test"); !errors.Is(err, ErrNotCapturing) {
		t.Fatalf("expected ErrNotCapturing, got %v", err)
	}
}

func TestStopCaptureReleasesState(t *testing.T) {
	o := testOrchestrator(t)
	if err := o.StartCapture(0, 1); err != nil {
		t.Fatalf("StartCapture: %v", err)
	}
	o.StopCapture()

	if o.IsCapturing() {
		t.Fatal("expected IsCapturing() == false after StopCapture")
	}
}

func TestGetStatsReflectsCaptureState(t *testing.T) {
	o := testOrchestrator(t)
	if stats := o.GetStats(); stats.Capturing {
		t.Fatal("expected Capturing=false before StartCapture")
	}

	if err := o.StartCapture(0, 1); err != nil {
		t.Fatalf("StartCapture: %v", err)
	}
	defer o.StopCapture()

	if stats := o.GetStats(); !stats.Capturing || stats.Phase != "INACTIVE" {
		t.Fatalf("expected Capturing=true, Phase=INACTIVE, got %+v", stats)
	}
}

func TestGetPreviewFramesReturnsAnnotatedJPEGOnceCapturing(t *testing.T) {
	o := testOrchestrator(t)
	if err := o.StartCapture(0, 1); err != nil {
		t.Fatalf("StartCapture: %v", err)
	}
	defer o.StopCapture()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if frames := o.GetPreviewFrames(); len(frames) > 0 {
			for _, f := range frames {
				if len(f.JPEG) == 0 {
					t.Fatalf("expected non-empty JPEG for camera %s", f.CameraID)
				}
			}
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("timed out waiting for preview frames")
}

func TestSetRecordDirectoryRefusedWhileRecording(t *testing.T) {
	o := testOrchestrator(t)
	if err := o.StartCapture(0, 1); err != nil {
		t.Fatalf("StartCapture: %v", err)
	}
	defer o.StopCapture()

	if _, err := o.StartRecording("test"); err != nil {
		t.Fatalf("StartRecording: %v", err)
	}
	defer o.StopRecording()

	if err := o.SetRecordDirectory("/tmp/elsewhere"); err == nil {
		t.Fatal("expected SetRecordDirectory to fail while recording")
	}
}

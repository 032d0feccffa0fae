package recording

import (
	"os"
	"testing"

	"pitchtracker/internal/config"
	"pitchtracker/internal/eventbus"
)

type fakeWriter struct {
	path    string
	frames  int
	closed  bool
	failing bool
}

func (w *fakeWriter) Write(pixels []byte, width, height int) error {
	if w.failing {
		return errWriteFailed
	}
	w.frames++
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

var errWriteFailed = errFakeWrite{}

type errFakeWrite struct{}

func (errFakeWrite) Error() string { return "fake write failure" }

func testRecordingConfig(dir string) config.RecordingConfig {
	return config.RecordingConfig{
		OutputDir:                      dir,
		PreRollMs:                      100,
		PostRollMs:                     100,
		CodecPreference:                []string{"MJPG"},
		DiskWarningGB:                  50,
		DiskElevatedGB:                 20,
		DiskCriticalGB:                 0, // avoid the pre-flight critical refusal in a test sandbox
		DiskPollSeconds:                60,
		ConsecutiveWriteFailuresToStop: 3,
	}
}

func testCameraConfig() config.CameraConfig {
	return config.CameraConfig{FPS: 60, Width: 64, Height: 48, Pixfmt: "grayscale"}
}

func newTestService(t *testing.T, bus *eventbus.Bus) (*Service, *[]*fakeWriter) {
	t.Helper()
	dir := t.TempDir()
	var opened []*fakeWriter
	opener := func(codec, path string, fps float64, width, height int, color bool) (VideoWriter, error) {
		w := &fakeWriter{path: path}
		opened = append(opened, w)
		return w, nil
	}
	errBus := eventbus.NewErrorBus(bus)
	svc := New(bus, errBus, nil, testRecordingConfig(dir), testCameraConfig(), opener)
	return svc, &opened
}

func TestStartRecordingOpensBothCameraWriters(t *testing.T) {
	bus := eventbus.New(nil)
	svc, opened := newTestService(t, bus)

	dir, err := svc.StartRecording("test")
	if err != nil {
		t.Fatalf("StartRecording: %v", err)
	}
	if _, err := os.Stat(dir); err != nil {
		t.Fatalf("expected session dir to exist: %v", err)
	}
	if len(*opened) != 2 {
		t.Fatalf("expected 2 session writers opened, got %d", len(*opened))
	}
}

func TestStartRecordingIsRejectedWhileActive(t *testing.T) {
	bus := eventbus.New(nil)
	svc, _ := newTestService(t, bus)

	if _, err := svc.StartRecording("one"); err != nil {
		t.Fatalf("StartRecording: %v", err)
	}
	if _, err := svc.StartRecording("two"); err != ErrAlreadyRecording {
		t.Fatalf("expected ErrAlreadyRecording, got %v", err)
	}
}

func TestStopRecordingWithZeroPitchesWritesSessionManifestOnly(t *testing.T) {
	bus := eventbus.New(nil)
	svc, _ := newTestService(t, bus)

	dir, err := svc.StartRecording("zero")
	if err != nil {
		t.Fatalf("StartRecording: %v", err)
	}
	summary, err := svc.StopRecording()
	if err != nil {
		t.Fatalf("StopRecording: %v", err)
	}
	if summary.PitchCount != 0 {
		t.Fatalf("expected 0 pitches, got %d", summary.PitchCount)
	}
	if _, err := os.Stat(dir + "/manifest.json"); err != nil {
		t.Fatalf("expected session manifest.json: %v", err)
	}
}

func TestPitchLifecycleWritesManifest(t *testing.T) {
	bus := eventbus.New(nil)
	svc, _ := newTestService(t, bus)

	dir, err := svc.StartRecording("pitchy")
	if err != nil {
		t.Fatalf("StartRecording: %v", err)
	}

	frame := &eventbus.FrameHandle{Width: 64, Height: 48, Pixfmt: "grayscale", Pixels: make([]byte, 64*48)}
	eventbus.Publish(bus, eventbus.FrameCapturedEvent{CameraID: "left", FrameIndex: 1, TCaptureMonotonicNs: 0, Frame: frame})
	eventbus.Publish(bus, eventbus.FrameCapturedEvent{CameraID: "right", FrameIndex: 1, TCaptureMonotonicNs: 0, Frame: frame})

	eventbus.Publish(bus, eventbus.PitchStartEvent{PitchIndex: 0, TStartNs: 0})

	eventbus.Publish(bus, eventbus.FrameCapturedEvent{CameraID: "left", FrameIndex: 2, TCaptureMonotonicNs: 10_000_000, Frame: frame})
	eventbus.Publish(bus, eventbus.FrameCapturedEvent{CameraID: "right", FrameIndex: 2, TCaptureMonotonicNs: 10_000_000, Frame: frame})

	eventbus.Publish(bus, eventbus.PitchEndEvent{PitchIndex: 0, TStartNs: 0, TEndNs: 10_000_000, Observations: nil})

	// Post-roll is 100ms; deliver one frame beyond the post-roll deadline
	// to trigger finalization.
	eventbus.Publish(bus, eventbus.FrameCapturedEvent{CameraID: "left", FrameIndex: 3, TCaptureMonotonicNs: 10_000_000 + 150_000_000, Frame: frame})

	if _, err := os.Stat(dir + "/pitch_000/manifest.json"); err != nil {
		t.Fatalf("expected pitch manifest after post-roll elapses: %v", err)
	}

	if _, err := svc.StopRecording(); err != nil {
		t.Fatalf("StopRecording: %v", err)
	}
}

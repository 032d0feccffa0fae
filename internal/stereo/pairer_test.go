package stereo

import (
	"testing"

	"pitchtracker/internal/config"
	"pitchtracker/internal/eventbus"
)

func testCalibration() Calibration {
	return Calibration{FocalPx: 1000, BaselineFt: 5, PrincipalX: 320, PrincipalY: 240}
}

func TestPairerEmitsWithinWindow(t *testing.T) {
	var got []Observation
	p := New(nil, config.PairingConfig{WindowMs: 10}, testCalibration(), func(o Observation) {
		got = append(got, o)
	})

	p.OnDetection(eventbus.ObservationDetectedEvent{
		CameraID: "left", FrameIndex: 1, TCaptureMonotonicNs: 1_000_000,
		Detections: []eventbus.DetectionBox{{Centroid: [2]float64{340, 240}, Confidence: 0.9}},
	})
	p.OnDetection(eventbus.ObservationDetectedEvent{
		CameraID: "right", FrameIndex: 1, TCaptureMonotonicNs: 1_005_000,
		Detections: []eventbus.DetectionBox{{Centroid: [2]float64{300, 240}, Confidence: 0.85}},
	})

	if len(got) != 1 {
		t.Fatalf("expected 1 observation, got %d", len(got))
	}
	if got[0].XYZFt[2] <= 0 {
		t.Errorf("expected positive depth, got %v", got[0].XYZFt)
	}
}

func TestPairerDropsOutsideWindow(t *testing.T) {
	var got []Observation
	p := New(nil, config.PairingConfig{WindowMs: 10}, testCalibration(), func(o Observation) {
		got = append(got, o)
	})

	p.OnDetection(eventbus.ObservationDetectedEvent{
		CameraID: "left", TCaptureMonotonicNs: 0,
		Detections: []eventbus.DetectionBox{{Centroid: [2]float64{340, 240}, Confidence: 0.9}},
	})
	p.OnDetection(eventbus.ObservationDetectedEvent{
		CameraID: "right", TCaptureMonotonicNs: 50_000_000, // 50ms later, outside 10ms window
		Detections: []eventbus.DetectionBox{{Centroid: [2]float64{300, 240}, Confidence: 0.85}},
	})

	if len(got) != 0 {
		t.Fatalf("expected no pairing outside the window, got %d", len(got))
	}
}

func TestTriangulateRejectsNonPositiveDisparity(t *testing.T) {
	_, ok := Triangulate([2]float64{100, 100}, [2]float64{150, 100}, testCalibration())
	if ok {
		t.Fatal("expected triangulation to reject a left centroid left of right centroid")
	}
}

package analysis

import (
	"math"
	"testing"

	"pitchtracker/internal/eventbus"
)

func TestComputeStraightLineHasZeroBreakAndHighInlierRatio(t *testing.T) {
	var obs []eventbus.StereoObservationRecord
	for i := 0; i < 10; i++ {
		z := 60 - float64(i)*6
		obs = append(obs, eventbus.StereoObservationRecord{
			TRefNs: int64(i) * 10_000_000,
			XYZFt:  [3]float64{0.5, 2.0, z},
		})
	}

	m := Compute(obs)
	if m.ObservationCount != 10 {
		t.Fatalf("expected 10 observations, got %d", m.ObservationCount)
	}
	if m.InlierRatio < 0.99 {
		t.Errorf("expected near-1.0 inlier ratio for a perfect line, got %v", m.InlierRatio)
	}
	if m.TrajectoryRMSEFt > 1e-6 {
		t.Errorf("expected ~0 RMSE for a perfect line, got %v", m.TrajectoryRMSEFt)
	}
	if m.SpeedMph <= 0 {
		t.Errorf("expected positive speed, got %v", m.SpeedMph)
	}
}

func TestComputeTooFewObservationsReturnsZeroValue(t *testing.T) {
	m := Compute([]eventbus.StereoObservationRecord{{TRefNs: 0, XYZFt: [3]float64{0, 0, 60}}})
	if m.ObservationCount != 1 {
		t.Fatalf("expected ObservationCount 1, got %d", m.ObservationCount)
	}
	if m.SpeedMph != 0 {
		t.Errorf("expected zero speed with a single observation, got %v", m.SpeedMph)
	}
}

func TestComputeDetectsHorizontalBreak(t *testing.T) {
	var obs []eventbus.StereoObservationRecord
	for i := 0; i < 11; i++ {
		z := 60 - float64(i)*6
		x := 0.0
		if i == 5 {
			x = 1.5 // a single mid-flight deviation
		}
		obs = append(obs, eventbus.StereoObservationRecord{
			TRefNs: int64(i) * 10_000_000,
			XYZFt:  [3]float64{x, 0, z},
		})
	}

	m := Compute(obs)
	if math.Abs(m.HorizontalBreakFt) < 0.5 {
		t.Errorf("expected a detectable horizontal break, got %v", m.HorizontalBreakFt)
	}
}

package tracking

import (
	"errors"
	"testing"
	"time"

	"pitchtracker/internal/config"
	"pitchtracker/internal/eventbus"
	"pitchtracker/internal/stereo"
)

func testConfig() config.StateMachineConfig {
	return config.StateMachineConfig{
		MinObservationsToConfirm: 3,
		RampUpTimeoutMs:          50,
		ActiveGapMs:              50,
		PostRollObservations:     2,
		PostRollMs:               50,
		MinStartSpeedFtPerSec:    20,
		MinActiveSpeedFtPerSec:   5,
		GateZMinFt:               0,
		GateZMaxFt:               65,
		HomePlateZFt:             0,
	}
}

func obsAt(tNs int64, z float64) stereo.Observation {
	return stereo.Observation{TRefNs: tNs, XYZFt: [3]float64{0, 0, z}}
}

// feedApproach delivers a sequence of observations roughly 1ms apart,
// descending in Z at about 60 ft/s, well above MinStartSpeedFtPerSec.
func feedApproach(m *Machine, start int64, startZ float64, n int) {
	const dtNs = 1_000_000 // 1ms
	const dz = 0.06        // 60 ft/s at dt=1ms
	for i := 0; i < n; i++ {
		m.OnObservation(obsAt(start+int64(i)*dtNs, startZ-float64(i)*dz))
	}
}

func TestCleanPitchSequenceFinalizes(t *testing.T) {
	bus := eventbus.New(nil)
	errBus := eventbus.NewErrorBus(bus)

	var started, ended int
	eventbus.Subscribe(bus, "test", eventbus.CategoryTracking, func(ev eventbus.PitchStartEvent) error {
		started++
		return nil
	})
	eventbus.Subscribe(bus, "test", eventbus.CategoryTracking, func(ev eventbus.PitchEndEvent) error {
		ended++
		return nil
	})

	m := New(bus, errBus, nil, testConfig(), "cal-1")

	// Two observations establish a start candidate (INACTIVE -> RAMP_UP),
	// one more confirms it (RAMP_UP -> ACTIVE) since MinObservationsToConfirm=3.
	feedApproach(m, 0, 60, 3)
	if m.Phase() != Active {
		t.Fatalf("expected ACTIVE after %d consistent observations, got %s", 3, m.Phase())
	}
	if started != 1 {
		t.Fatalf("expected 1 PitchStartEvent, got %d", started)
	}

	// Cross the plate: next observation has Z <= HomePlateZFt (0), entering ENDING.
	m.OnObservation(obsAt(10_000_000, -0.1))
	if m.Phase() != Ending {
		t.Fatalf("expected ENDING after crossing the plate, got %s", m.Phase())
	}

	// PostRollObservations=2 additional observations finalize immediately.
	m.OnObservation(obsAt(11_000_000, -0.2))
	m.OnObservation(obsAt(12_000_000, -0.3))

	if m.Phase() != Inactive {
		t.Fatalf("expected INACTIVE after post-roll completes, got %s", m.Phase())
	}
	if ended != 1 {
		t.Fatalf("expected 1 PitchEndEvent, got %d", ended)
	}
	if m.PitchIndex() != 1 {
		t.Fatalf("expected pitch_index 1, got %d", m.PitchIndex())
	}
}

func TestRampUpTimeoutReturnsToInactiveWithoutStartEvent(t *testing.T) {
	bus := eventbus.New(nil)
	errBus := eventbus.NewErrorBus(bus)

	started := 0
	eventbus.Subscribe(bus, "test", eventbus.CategoryTracking, func(ev eventbus.PitchStartEvent) error {
		started++
		return nil
	})

	m := New(bus, errBus, nil, testConfig(), "cal-1")

	// One qualifying observation enters RAMP_UP but then nothing more
	// arrives before the ramp-up timeout fires.
	feedApproach(m, 0, 60, 2)
	if m.Phase() != RampUp {
		t.Fatalf("expected RAMP_UP, got %s", m.Phase())
	}

	time.Sleep(100 * time.Millisecond)

	if m.Phase() != Inactive {
		t.Fatalf("expected INACTIVE after ramp-up timeout, got %s", m.Phase())
	}
	if started != 0 {
		t.Fatalf("expected no PitchStartEvent on a timed-out ramp-up, got %d", started)
	}
	if m.PitchIndex() != 0 {
		t.Fatalf("expected pitch_index to stay 0, got %d", m.PitchIndex())
	}
}

func TestExactlyMinObservationsPromotesButOneFewerDoesNot(t *testing.T) {
	bus := eventbus.New(nil)
	errBus := eventbus.NewErrorBus(bus)
	m := New(bus, errBus, nil, testConfig(), "cal-1")

	feedApproach(m, 0, 60, 2)
	if m.Phase() != RampUp {
		t.Fatalf("expected RAMP_UP with 2 observations, got %s", m.Phase())
	}

	m.OnObservation(obsAt(2_000_000, 59.88))
	if m.Phase() != Active {
		t.Fatalf("expected ACTIVE at exactly MinObservationsToConfirm, got %s", m.Phase())
	}
}

func TestStartEventFailureRevertsToRampUpAndPreservesObservations(t *testing.T) {
	bus := eventbus.New(nil)
	errBus := eventbus.NewErrorBus(bus)

	eventbus.Subscribe(bus, "flaky", eventbus.CategoryTracking, func(ev eventbus.PitchStartEvent) error {
		return errors.New("downstream recorder unavailable")
	})

	m := New(bus, errBus, nil, testConfig(), "cal-1")

	feedApproach(m, 0, 60, 3)

	if m.Phase() != RampUp {
		t.Fatalf("expected revert to RAMP_UP after a failing PitchStartEvent subscriber, got %s", m.Phase())
	}
	if m.PitchIndex() != 0 {
		t.Fatalf("expected pitch_index to stay 0 after a reverted start, got %d", m.PitchIndex())
	}
	if len(m.observations) != 3 {
		t.Fatalf("expected the 3 collected observations to survive the revert, got %d", len(m.observations))
	}
}

func TestCalibrationChangeAbortsInFlightPitchWithoutEndEvent(t *testing.T) {
	bus := eventbus.New(nil)
	errBus := eventbus.NewErrorBus(bus)

	ended := 0
	eventbus.Subscribe(bus, "test", eventbus.CategoryTracking, func(ev eventbus.PitchEndEvent) error {
		ended++
		return nil
	})

	m := New(bus, errBus, nil, testConfig(), "cal-1")
	feedApproach(m, 0, 60, 3)
	if m.Phase() != Active {
		t.Fatalf("expected ACTIVE, got %s", m.Phase())
	}

	m.NotifyCalibrationChanged("cal-2")

	if m.Phase() != Inactive {
		t.Fatalf("expected INACTIVE after calibration change, got %s", m.Phase())
	}
	if ended != 0 {
		t.Fatalf("expected no PitchEndEvent on a calibration-change abort, got %d", ended)
	}
	if m.PitchIndex() != 0 {
		t.Fatalf("expected pitch_index unchanged on an abort, got %d", m.PitchIndex())
	}
}

func TestActiveGapTimeoutEntersEnding(t *testing.T) {
	bus := eventbus.New(nil)
	errBus := eventbus.NewErrorBus(bus)
	m := New(bus, errBus, nil, testConfig(), "cal-1")

	feedApproach(m, 0, 60, 3)
	if m.Phase() != Active {
		t.Fatalf("expected ACTIVE, got %s", m.Phase())
	}

	time.Sleep(100 * time.Millisecond)

	if m.Phase() != Ending {
		t.Fatalf("expected ENDING after the active gap elapses with no new observation, got %s", m.Phase())
	}
}

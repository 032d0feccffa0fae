package tracking

import (
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"pitchtracker/internal/config"
	"pitchtracker/internal/eventbus"
	"pitchtracker/internal/stereo"
)

// Machine is the pitch state machine. It consumes stereo.Observations (fed
// by the Pairer via a direct callback, not the bus — both are owned and
// wired together by the orchestrator) and publishes PitchStartEvent /
// PitchEndEvent on the bus at the RAMP_UP->ACTIVE and ENDING->FINALIZED
// transitions.
//
// A single mutex serializes every state transition. Because the bus
// dispatches ObservationDetectedEvent to the Pairer on whatever goroutine
// the DetectionService workers use, two observations (one per camera pair,
// or a late one racing a reset) can reach Machine concurrently; blocking on
// mu until the in-flight FINALIZED->INACTIVE reset completes is how a race
// against FINALIZED is "queued and redelivered to INACTIVE handling" here —
// there is no separate queue data structure, the mutex itself is the queue.
type Machine struct {
	bus    *eventbus.Bus
	errBus *eventbus.ErrorBus
	log    *zap.Logger
	cfg    config.StateMachineConfig

	mu           sync.Mutex
	phase        Phase
	pitchIndex   int
	calibration  stereo.ID
	observations []eventbus.StereoObservationRecord

	rampUpSign  float64 // sign of dZ/dt established by the start candidate
	startedAtNs int64

	endingCount int

	timer *time.Timer
}

// New builds a Machine. calibrationID identifies the calibration snapshot in
// effect when tracking begins; a later NotifyCalibrationChanged with a
// different ID aborts any in-flight pitch.
func New(bus *eventbus.Bus, errBus *eventbus.ErrorBus, log *zap.Logger, cfg config.StateMachineConfig, calibrationID stereo.ID) *Machine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Machine{
		bus:         bus,
		errBus:      errBus,
		log:         log.Named("tracking"),
		cfg:         cfg,
		phase:       Inactive,
		calibration: calibrationID,
	}
}

// Phase returns the current lifecycle phase.
func (m *Machine) Phase() Phase {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.phase
}

// PitchIndex returns the number of pitches finalized so far.
func (m *Machine) PitchIndex() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pitchIndex
}

// NotifyCalibrationChanged aborts any in-flight pitch when the stereo rig's
// calibration snapshot changes mid-session. No PitchEndEvent is published
// for an aborted pitch: it never happened as far as recording/analysis are
// concerned. pitch_index is not advanced, since advancing only happens at a
// genuine FINALIZED transition.
//
// Orchestrator never calls this: calibration is immutable for the lifetime
// of an Orchestrator instance (see its DESIGN.md entry), so this edge case
// is reachable only from this package's own tests, not from a running
// pipeline. Kept because it is still the documented behavior if a future
// caller does support a live calibration swap.
func (m *Machine) NotifyCalibrationChanged(newID stereo.ID) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if newID == m.calibration {
		return
	}
	m.calibration = newID
	if m.phase == Inactive {
		return
	}
	m.log.Warn("calibration changed mid-pitch, aborting", zap.String("phase", string(m.phase)))
	m.resetLocked()
}

// OnObservation feeds one triangulated stereo observation into the machine.
func (m *Machine) OnObservation(obs stereo.Observation) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.phase {
	case Inactive:
		m.considerStartLocked(obs)
	case RampUp:
		m.advanceRampUpLocked(obs)
	case Active:
		m.advanceActiveLocked(obs)
	case Ending:
		m.advanceEndingLocked(obs)
	case Finalized:
		// A finalize is in progress elsewhere under this same lock; by the
		// time this goroutine acquires mu the phase has already reset to
		// INACTIVE. Re-dispatch as a fresh INACTIVE observation.
		m.considerStartLocked(obs)
	}
}

func (m *Machine) considerStartLocked(obs stereo.Observation) {
	last := m.lastObservationLocked()
	if last == nil {
		m.rememberFirstLocked(obs)
		return
	}
	if !m.withinGateLocked(obs) {
		m.rememberFirstLocked(obs)
		return
	}

	dt := secondsBetween(last.TRefNs, obs.TRefNs)
	if dt <= 0 {
		return
	}
	speed := distance3D(vec(*last), obs.XYZFt) / dt
	if speed < m.cfg.MinStartSpeedFtPerSec {
		m.rememberFirstLocked(obs)
		return
	}

	m.phase = RampUp
	m.rampUpSign = sign(obs.XYZFt[2] - last.XYZFt[2])
	m.startedAtNs = last.TRefNs
	m.observations = []eventbus.StereoObservationRecord{toRecord(*last), toRecord(obs)}
	m.armTimer(m.cfg.RampUpTimeoutMs, m.onRampUpTimeout)
}

func (m *Machine) advanceRampUpLocked(obs stereo.Observation) {
	last := m.observations[len(m.observations)-1]
	dt := secondsBetween(last.TRefNs, obs.TRefNs)
	if dt <= 0 {
		return
	}
	speed := distance3D(vec(last), obs.XYZFt) / dt
	gotSign := sign(obs.XYZFt[2] - last.XYZFt[2])

	consistent := speed >= m.cfg.MinStartSpeedFtPerSec && (gotSign == 0 || gotSign == m.rampUpSign)
	if !consistent {
		m.log.Debug("ramp-up candidate lost consistency, reverting to inactive")
		m.resetLocked()
		m.considerStartLocked(obs)
		return
	}

	m.observations = append(m.observations, toRecord(obs))
	if len(m.observations) < m.cfg.MinObservationsToConfirm {
		m.armTimer(m.cfg.RampUpTimeoutMs, m.onRampUpTimeout)
		return
	}

	m.promoteToActiveLocked()
}

func (m *Machine) promoteToActiveLocked() {
	startEvent := eventbus.PitchStartEvent{PitchIndex: m.pitchIndex, TStartNs: m.startedAtNs}

	_, failed := eventbus.PublishChecked(m.bus, startEvent)
	if failed {
		m.errBus.Publish(eventbus.ErrorEvent{
			Category: eventbus.CategoryTracking,
			Severity: eventbus.SeverityError,
			Source:   "tracking",
			Message:  "PitchStartEvent subscriber failed, reverting to ramp-up",
		})
		// Revert: stay in RAMP_UP, keep every observation collected so
		// far, and retry promotion on the next qualifying observation
		// instead of losing the in-flight pitch.
		m.phase = RampUp
		m.armTimer(m.cfg.RampUpTimeoutMs, m.onRampUpTimeout)
		return
	}

	m.phase = Active
	m.armTimer(m.cfg.ActiveGapMs, m.onActiveGapTimeout)
}

func (m *Machine) advanceActiveLocked(obs stereo.Observation) {
	last := m.observations[len(m.observations)-1]
	dt := secondsBetween(last.TRefNs, obs.TRefNs)
	var speed float64
	if dt > 0 {
		speed = distance3D(vec(last), obs.XYZFt) / dt
	}

	m.observations = append(m.observations, toRecord(obs))

	pastPlate := obs.XYZFt[2] <= m.cfg.HomePlateZFt
	collapsed := dt > 0 && speed < m.cfg.MinActiveSpeedFtPerSec

	if pastPlate || collapsed {
		m.enterEndingLocked()
		return
	}
	m.armTimer(m.cfg.ActiveGapMs, m.onActiveGapTimeout)
}

func (m *Machine) enterEndingLocked() {
	m.phase = Ending
	m.endingCount = 0
	m.armTimer(m.cfg.PostRollMs, m.onPostRollTimeout)
}

func (m *Machine) advanceEndingLocked(obs stereo.Observation) {
	m.observations = append(m.observations, toRecord(obs))
	m.endingCount++

	if m.cfg.PostRollObservations > 0 && m.endingCount >= m.cfg.PostRollObservations {
		m.finalizeLocked()
		return
	}
	m.armTimer(m.cfg.PostRollMs, m.onPostRollTimeout)
}

func (m *Machine) finalizeLocked() {
	m.stopTimerLocked()
	m.phase = Finalized

	tEnd := m.startedAtNs
	if n := len(m.observations); n > 0 {
		tEnd = m.observations[n-1].TRefNs
	}
	endEvent := eventbus.PitchEndEvent{
		PitchIndex:   m.pitchIndex,
		TStartNs:     m.startedAtNs,
		TEndNs:       tEnd,
		Observations: m.observations,
	}

	_, failed := eventbus.PublishChecked(m.bus, endEvent)
	if failed {
		m.errBus.Publish(eventbus.ErrorEvent{
			Category: eventbus.CategoryTracking,
			Severity: eventbus.SeverityError,
			Source:   "tracking",
			Message:  "PitchEndEvent subscriber failed",
		})
	}

	// A failed subscriber does not stop the pitch from having happened:
	// pitch_index still advances and the machine still returns to
	// INACTIVE, per the failure-recovery rule for the end transition.
	m.pitchIndex++
	m.phase = Inactive
	m.observations = nil
}

// resetLocked discards the in-flight pitch without publishing anything and
// without advancing pitch_index, used for ramp-up timeouts, ramp-up
// consistency loss, and calibration-change aborts.
func (m *Machine) resetLocked() {
	m.stopTimerLocked()
	m.phase = Inactive
	m.observations = nil
	m.endingCount = 0
}

func (m *Machine) onRampUpTimeout() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.phase != RampUp {
		return
	}
	m.log.Debug("ramp-up timed out", zap.Int("pitch_index", m.pitchIndex))
	m.resetLocked()
}

func (m *Machine) onActiveGapTimeout() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.phase != Active {
		return
	}
	m.enterEndingLocked()
}

func (m *Machine) onPostRollTimeout() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.phase != Ending {
		return
	}
	m.finalizeLocked()
}

func (m *Machine) armTimer(ms int, fn func()) {
	m.stopTimerLocked()
	if ms <= 0 {
		ms = 1
	}
	m.timer = time.AfterFunc(time.Duration(ms)*time.Millisecond, fn)
}

func (m *Machine) stopTimerLocked() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

// lastObservationLocked returns the most recent observation remembered while
// INACTIVE (used only to detect a start candidate's initial velocity), or
// nil if none has been seen yet.
func (m *Machine) lastObservationLocked() *eventbus.StereoObservationRecord {
	if len(m.observations) == 0 {
		return nil
	}
	r := m.observations[len(m.observations)-1]
	return &r
}

func (m *Machine) rememberFirstLocked(obs stereo.Observation) {
	m.observations = []eventbus.StereoObservationRecord{toRecord(obs)}
}

func (m *Machine) withinGateLocked(obs stereo.Observation) bool {
	z := obs.XYZFt[2]
	return z >= m.cfg.GateZMinFt && z <= m.cfg.GateZMaxFt
}

func toRecord(obs stereo.Observation) eventbus.StereoObservationRecord {
	return eventbus.StereoObservationRecord{
		TRefNs: obs.TRefNs,
		Left:   obs.Left,
		Right:  obs.Right,
		XYZFt:  obs.XYZFt,
	}
}

func vec(r eventbus.StereoObservationRecord) [3]float64 {
	return r.XYZFt
}

func distance3D(a, b [3]float64) float64 {
	dx, dy, dz := a[0]-b[0], a[1]-b[1], a[2]-b[2]
	return math.Sqrt(dx*dx + dy*dy + dz*dz)
}

func secondsBetween(fromNs, toNs int64) float64 {
	return float64(toNs-fromNs) / 1e9
}

func sign(v float64) float64 {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	default:
		return 0
	}
}

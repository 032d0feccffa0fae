package stereo

import (
	"sync"

	"go.uber.org/zap"

	"pitchtracker/internal/config"
	"pitchtracker/internal/eventbus"
)

// Observation is a matched (left, right) detection pair together with its
// triangulated 3D position.
type Observation struct {
	TRefNs int64
	Left   eventbus.DetectionBox
	Right  eventbus.DetectionBox
	XYZFt  [3]float64
	// Quality combines detector confidence with epipolar-row agreement;
	// higher is better.
	Quality float64
}

type pending struct {
	frameIndex int64
	tNs        int64
	box        eventbus.DetectionBox
}

// Pairer buffers the most recent Detection per camera and emits an
// Observation whenever both cameras have a detection within the configured
// pairing window, per spec.md 4.4. It does not publish to the event bus
// directly: it is wired to the pitch state machine by the orchestrator, the
// way both are described as "owned by Orchestrator".
type Pairer struct {
	log *zap.Logger
	cfg config.PairingConfig
	cal Calibration

	mu    sync.Mutex
	left  *pending
	right *pending

	onObservation func(Observation)
}

// New builds a Pairer. onObservation is invoked synchronously from whatever
// goroutine delivers the detection that completes a pair (the bus-dispatch
// thread), matching the "mutation concentrated on the bus thread" design.
func New(log *zap.Logger, cfg config.PairingConfig, cal Calibration, onObservation func(Observation)) *Pairer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Pairer{log: log.Named("stereo"), cfg: cfg, cal: cal, onObservation: onObservation}
}

// windowNs returns the configured pairing window in nanoseconds.
func (p *Pairer) windowNs() int64 {
	ms := int64(p.cfg.WindowMs)
	if ms <= 0 {
		ms = 10
	}
	return ms * 1_000_000
}

// OnDetection feeds one camera's best detection for a frame into the
// pairer. Only the highest-confidence detection in ev.Detections is used as
// "the" candidate ball for that frame; a frame with no detections is
// ignored.
func (p *Pairer) OnDetection(ev eventbus.ObservationDetectedEvent) {
	box, ok := bestDetection(ev.Detections)
	if !ok {
		return
	}
	cand := pending{frameIndex: ev.FrameIndex, tNs: ev.TCaptureMonotonicNs, box: box}

	p.mu.Lock()
	defer p.mu.Unlock()

	switch ev.CameraID {
	case "left":
		p.considerLocked(&p.left, &p.right, cand, true)
	case "right":
		p.considerLocked(&p.right, &p.left, cand, false)
	}
}

// considerLocked applies the pairing rule for a new candidate on "own"
// relative to "other"'s current buffer. Caller holds p.mu.
func (p *Pairer) considerLocked(own, other **pending, cand pending, ownIsLeft bool) {
	if *other == nil {
		*own = &cand
		return
	}

	diff := cand.tNs - (*other).tNs
	if diff < 0 {
		diff = -diff
	}

	if diff <= p.windowNs() {
		var leftP, rightP pending
		if ownIsLeft {
			leftP, rightP = cand, **other
		} else {
			leftP, rightP = **other, cand
		}
		obs := p.triangulateLocked(leftP, rightP)
		*own, *other = nil, nil
		if p.onObservation != nil {
			p.onObservation(obs)
		}
		return
	}

	// Outside the window: the older buffered detection can never pair
	// with anything newer than itself within the window, so it is
	// discarded; the new candidate becomes the pending detection for its
	// own camera.
	if cand.tNs > (*other).tNs {
		*other = nil
	}
	*own = &cand
}

func (p *Pairer) triangulateLocked(left, right pending) Observation {
	tRef := left.tNs
	if right.tNs > tRef {
		tRef = right.tNs
	}

	xyz, _ := Triangulate(left.box.Centroid, right.box.Centroid, p.cal)
	epipolar := EpipolarConsistency(left.box.Centroid, right.box.Centroid)
	quality := (left.box.Confidence + right.box.Confidence) / 2 * epipolar

	return Observation{
		TRefNs:  tRef,
		Left:    left.box,
		Right:   right.box,
		XYZFt:   xyz,
		Quality: quality,
	}
}

func bestDetection(boxes []eventbus.DetectionBox) (eventbus.DetectionBox, bool) {
	if len(boxes) == 0 {
		return eventbus.DetectionBox{}, false
	}
	best := boxes[0]
	for _, b := range boxes[1:] {
		if b.Confidence > best.Confidence {
			best = b
		}
	}
	return best, true
}

package analysis

import (
	"go.uber.org/zap"

	"pitchtracker/internal/eventbus"
)

// Service subscribes to PitchEndEvent and reports Metrics for every
// finished pitch via onMetrics — to the signal bridge, telemetry, or
// anywhere else a read-only consumer wants them. It has no feedback path
// into capture or recording: RecordingService computes its own manifest
// copy directly via Compute (see internal/recording.finalizePitchLocked)
// rather than waiting on this subscription, since the pitch manifest is
// written well before a bus round trip could be observed reliably by a
// still-writing recorder.
type Service struct {
	log       *zap.Logger
	onMetrics func(pitchIndex int, m Metrics)

	unsubscribe func()
}

// New builds a Service. onMetrics may be nil if nothing needs to observe
// per-pitch metrics.
func New(log *zap.Logger, onMetrics func(pitchIndex int, m Metrics)) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{log: log.Named("analysis"), onMetrics: onMetrics}
}

// Start subscribes to PitchEndEvent on bus.
func (s *Service) Start(bus *eventbus.Bus) {
	s.unsubscribe = eventbus.Subscribe(bus, "analysis", eventbus.CategoryTracking, s.onPitchEnd)
}

// Stop removes the subscription.
func (s *Service) Stop() {
	if s.unsubscribe != nil {
		s.unsubscribe()
		s.unsubscribe = nil
	}
}

func (s *Service) onPitchEnd(ev eventbus.PitchEndEvent) error {
	m := Compute(ev.Observations)
	s.log.Debug("computed pitch metrics", zap.Int("pitch_index", ev.PitchIndex), zap.Float64("speed_mph", m.SpeedMph))
	if s.onMetrics != nil {
		s.onMetrics(ev.PitchIndex, m)
	}
	return nil
}

// Package orchestrator owns the EventBus and every service wired to it,
// hosts the pitch state machine and stereo pairer, and exposes the
// coarse-grained, thread-safe public control surface described by the
// Orchestrator-and-signal-bridge design: start/stop capture, start/stop
// recording, and read-only queries. Capture start/stop and the capture-state
// queries are serialized behind one state lock; the recording operations are
// serialized by the recording service's own lock.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"pitchtracker/internal/analysis"
	"pitchtracker/internal/capture"
	"pitchtracker/internal/config"
	"pitchtracker/internal/detection"
	"pitchtracker/internal/eventbus"
	"pitchtracker/internal/overlay"
	"pitchtracker/internal/recording"
	"pitchtracker/internal/signalbridge"
	"pitchtracker/internal/stereo"
	"pitchtracker/internal/store"
	"pitchtracker/internal/telemetry"
	"pitchtracker/internal/tracking"
)

// ErrAlreadyCapturing is returned by StartCapture when capture is already
// running; per spec this is a warning-level no-op, not a hard failure, so
// callers that only care about idempotency can ignore it.
var ErrAlreadyCapturing = fmt.Errorf("orchestrator: capture already running")

// ErrNotCapturing is returned by StartRecording when capture isn't active.
var ErrNotCapturing = fmt.Errorf("orchestrator: start_recording requires an active capture session")

// PreviewFrame is one camera's most recent frame, annotated for display.
type PreviewFrame struct {
	CameraID string
	JPEG     []byte
}

// Stats is the get_stats() snapshot.
type Stats struct {
	Capturing       bool
	Recording       bool
	Phase           string
	PitchIndex      int
	ConnectedClients int
}

// Orchestrator wires CaptureService, DetectionService, the stereo Pairer,
// the pitch state Machine, RecordingService, AnalysisService, the signal
// bridge, telemetry, and the SQLite index together over one EventBus.
type Orchestrator struct {
	log *zap.Logger
	cfg *config.Config

	bus    *eventbus.Bus
	errBus *eventbus.ErrorBus

	capture    *capture.Service
	detection  *detection.Service
	recording  *recording.Service
	analysisSvc *analysis.Service
	bridge     *signalbridge.Bridge
	metrics    *telemetry.Metrics
	store      *store.Store

	driverFactory capture.DriverFactory

	mu          sync.Mutex // guards the capture-session fields below; StopRecording, SetRecordDirectory and GetRecentPitches do not take it
	capturing   bool
	calibration stereo.Calibration
	pairer      *stereo.Pairer
	machine     *tracking.Machine
	unsubPair   func()
	ctx         context.Context
	cancel      context.CancelFunc

	sessionMu      sync.Mutex
	currentSession string // recording.Service's session dir, "" when not recording
}

// New builds an Orchestrator. cal is the calibration snapshot used for
// every capture session until the process restarts (live calibration swap
// requires stop_capture, per the concurrency model). st may be nil, in
// which case get_recent_pitches always returns an empty result.
func New(log *zap.Logger, cfg *config.Config, cal stereo.Calibration, st *store.Store, driverFactory capture.DriverFactory, opener recording.WriterOpener, metrics *telemetry.Metrics, bridge *signalbridge.Bridge) *Orchestrator {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("orchestrator")

	bus := eventbus.New(log)
	errBus := eventbus.NewErrorBus(bus)

	o := &Orchestrator{
		log:           log,
		cfg:           cfg,
		bus:           bus,
		errBus:        errBus,
		store:         st,
		driverFactory: driverFactory,
		calibration:   cal,
		recording:     recording.New(bus, errBus, log, cfg.Recording, cfg.Camera, opener),
		metrics:       metrics,
		bridge:        bridge,
	}
	o.analysisSvc = analysis.New(log, o.onPitchMetrics)
	o.analysisSvc.Start(bus)
	if metrics != nil {
		metrics.Subscribe(bus)
	}
	if bridge != nil {
		bridge.Start(bus)
	}
	return o
}

func (o *Orchestrator) onPitchMetrics(pitchIndex int, m analysis.Metrics) {
	if o.store == nil {
		return
	}
	o.sessionMu.Lock()
	sessionID := o.currentSession
	o.sessionMu.Unlock()
	if sessionID == "" {
		return
	}

	if err := o.store.SavePitch(store.PitchRecord{
		SessionID:        sessionID,
		PitchIndex:       pitchIndex,
		Dir:              sessionID,
		CreatedUTC:       time.Now().UTC(),
		ObservationCount: m.ObservationCount,
		SpeedMph:         m.SpeedMph,
	}); err != nil {
		o.log.Warn("saving pitch index failed", zap.Int("pitch_index", pitchIndex), zap.Error(err))
	}
}

// StartCapture starts CaptureService, then DetectionService, then wires the
// stereo pairer and pitch state machine. Idempotent: calling while already
// capturing is a no-op returning ErrAlreadyCapturing (a warning condition,
// not a fatal one).
func (o *Orchestrator) StartCapture(leftDeviceID, rightDeviceID int) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.capturing {
		o.log.Warn("start_capture called while already capturing")
		return ErrAlreadyCapturing
	}

	if err := o.calibration.Validate(); err != nil {
		return fmt.Errorf("orchestrator: %w", err)
	}

	registry := detection.NewRegistry()
	if err := registry.Register(detection.NewBlobDetector(20, 5000, 200)); err != nil {
		return fmt.Errorf("orchestrator: %w", err)
	}

	o.detection = detection.New(o.bus, o.log, o.cfg.Detection, registry)
	o.capture = capture.New(o.bus, o.log, o.cfg.Camera, o.driverFactory)

	calibrationID := stereo.ID(fmt.Sprintf("%v", o.calibration))
	o.machine = tracking.New(o.bus, o.errBus, o.log, o.cfg.StateMachine, calibrationID)
	o.pairer = stereo.New(o.log, o.cfg.Pairing, o.calibration, o.machine.OnObservation)

	o.unsubPair = eventbus.Subscribe(o.bus, "orchestrator", eventbus.CategoryDetection, func(ev eventbus.ObservationDetectedEvent) error {
		o.pairer.OnDetection(ev)
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	o.ctx, o.cancel = ctx, cancel

	o.detection.Start(ctx)
	if err := o.capture.Start(ctx, leftDeviceID, rightDeviceID); err != nil {
		o.detection.Stop()
		o.unsubPair()
		cancel()
		o.pairer, o.machine, o.unsubPair, o.ctx, o.cancel = nil, nil, nil, nil, nil
		return fmt.Errorf("orchestrator: start_capture: %w", err)
	}

	o.capturing = true
	return nil
}

// StopCapture reverses StartCapture's order, releasing every resource even
// if an individual service reports an error while stopping.
func (o *Orchestrator) StopCapture() {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.capturing {
		return
	}

	if o.cancel != nil {
		o.cancel()
	}
	if o.capture != nil {
		o.capture.Stop()
	}
	if o.detection != nil {
		o.detection.Stop()
	}
	if o.unsubPair != nil {
		o.unsubPair()
	}

	o.capture, o.detection, o.pairer, o.machine, o.unsubPair = nil, nil, nil, nil, nil
	o.ctx, o.cancel = nil, nil
	o.capturing = false
}

// IsCapturing reports whether a capture session is active.
func (o *Orchestrator) IsCapturing() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.capturing
}

// StartRecording requires an active capture session.
func (o *Orchestrator) StartRecording(sessionName string) (string, error) {
	o.mu.Lock()
	capturing := o.capturing
	o.mu.Unlock()

	if !capturing {
		return "", ErrNotCapturing
	}

	dir, err := o.recording.StartRecording(sessionName)
	if err != nil {
		return "", err
	}

	o.sessionMu.Lock()
	o.currentSession = dir
	o.sessionMu.Unlock()

	if o.store != nil {
		if err := o.store.SaveSession(store.SessionRecord{
			SessionID:  dir,
			Dir:        dir,
			CreatedUTC: time.Now().UTC(),
		}); err != nil {
			o.log.Warn("saving session index row failed", zap.Error(err))
		}
	}
	return dir, nil
}

// StopRecording returns a summary of the finished session.
func (o *Orchestrator) StopRecording() (recording.Summary, error) {
	summary, err := o.recording.StopRecording()

	o.sessionMu.Lock()
	sessionID := o.currentSession
	o.currentSession = ""
	o.sessionMu.Unlock()

	if err == nil && o.store != nil && sessionID != "" {
		if saveErr := o.store.SaveSession(store.SessionRecord{
			SessionID:  sessionID,
			Dir:        summary.SessionDir,
			CreatedUTC: time.Now().UTC(),
			PitchCount: summary.PitchCount,
		}); saveErr != nil {
			o.log.Warn("updating session index row failed", zap.Error(saveErr))
		}
	}
	return summary, err
}

// GetPreviewFrames returns the most recent frame from each camera,
// annotated with the current pitch phase and pitch index. No detection boxes
// are drawn.
func (o *Orchestrator) GetPreviewFrames() []PreviewFrame {
	o.mu.Lock()
	captureSvc := o.capture
	machine := o.machine
	o.mu.Unlock()

	if captureSvc == nil {
		return nil
	}

	phase, pitchIndex := "INACTIVE", 0
	if machine != nil {
		phase, pitchIndex = string(machine.Phase()), machine.PitchIndex()
	}

	var out []PreviewFrame
	for _, pf := range captureSvc.GetPreviewFrames() {
		jpeg, err := overlay.Render(&eventbus.FrameHandle{
			Width:  pf.Frame.Width,
			Height: pf.Frame.Height,
			Pixfmt: pf.Frame.Pixfmt,
			Pixels: pf.Frame.Pixels,
		}, overlay.Annotation{Phase: phase, PitchIndex: pitchIndex})
		if err != nil {
			o.log.Warn("preview annotation failed", zap.String("camera", string(pf.CameraID)), zap.Error(err))
			continue
		}
		out = append(out, PreviewFrame{CameraID: string(pf.CameraID), JPEG: jpeg})
	}
	return out
}

// GetRecentPitches returns the most recently finalized pitches from the
// SQLite index.
func (o *Orchestrator) GetRecentPitches(limit int) ([]store.PitchRecord, error) {
	if o.store == nil {
		return nil, nil
	}
	return o.store.RecentPitches(limit)
}

// GetStats returns a snapshot of the pipeline's current state.
func (o *Orchestrator) GetStats() Stats {
	o.mu.Lock()
	defer o.mu.Unlock()

	stats := Stats{Capturing: o.capturing, Recording: o.recording.IsRecording()}
	if o.machine != nil {
		stats.Phase = string(o.machine.Phase())
		stats.PitchIndex = o.machine.PitchIndex()
	} else {
		stats.Phase = "INACTIVE"
	}
	if o.bridge != nil {
		stats.ConnectedClients = o.bridge.ClientCount()
	}
	return stats
}

// SetRecordDirectory changes the recording output directory. Refused while
// a recording is in progress to avoid splitting one session across
// directories.
func (o *Orchestrator) SetRecordDirectory(dir string) error {
	if err := o.recording.SetOutputDir(dir); err != nil {
		return fmt.Errorf("orchestrator: %w", err)
	}
	o.cfg.Recording.OutputDir = dir
	return nil
}

// Bus returns the underlying event bus, for components (signal bridge,
// telemetry) that must subscribe before StartCapture creates per-session
// services.
func (o *Orchestrator) Bus() *eventbus.Bus { return o.bus }

// Shutdown stops capture (if running) and the signal bridge.
func (o *Orchestrator) Shutdown() {
	o.StopCapture()
	if o.bridge != nil {
		o.bridge.Stop()
	}
}

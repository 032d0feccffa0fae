// Package recording writes continuous session video and per-pitch bundles,
// and enforces the disk-space policy that can auto-stop a session.
package recording

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"pitchtracker/internal/analysis"
	"pitchtracker/internal/config"
	"pitchtracker/internal/eventbus"
)

// Summary describes a just-stopped session, returned by StopRecording.
type Summary struct {
	SessionDir string
	PitchCount int
}

type cameraState struct {
	writer VideoWriter
	ring   *preRollRing
	fail   *eventbus.FailureCounter
}

type pitchState struct {
	dir          string
	index        int
	startNs      int64
	endNs        int64
	ending       bool
	cams         map[string]VideoWriter
	observations []eventbus.StereoObservationRecord
}

type activeSession struct {
	dir       string
	sessionID string
	codec     string
	ext       string
	fps       int
	width     int
	height    int
	color     bool

	cams       map[string]*cameraState
	pitch      *pitchState
	pitchCount int

	disk *diskMonitor

	unsubFrame func()
	unsubStart func()
	unsubEnd   func()
}

// Service is the RecordingService: continuous session writer, per-camera
// pre-roll rings, per-pitch recorder, and disk-space monitor.
type Service struct {
	bus    *eventbus.Bus
	errBus *eventbus.ErrorBus
	log    *zap.Logger
	cfg    config.RecordingConfig
	camCfg config.CameraConfig
	opener WriterOpener

	mu      sync.Mutex
	session *activeSession
}

// New builds a Service. opener is the codec-chain opener (NewGoCVWriterOpener
// in production, a fake in tests).
func New(bus *eventbus.Bus, errBus *eventbus.ErrorBus, log *zap.Logger, cfg config.RecordingConfig, camCfg config.CameraConfig, opener WriterOpener) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{bus: bus, errBus: errBus, log: log.Named("recording"), cfg: cfg, camCfg: camCfg, opener: opener}
}

// IsRecording reports whether a session is currently active.
func (s *Service) IsRecording() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session != nil
}

// SetOutputDir changes the directory new sessions are created under.
// Refused while a session is active so an in-progress recording never
// splits across directories.
func (s *Service) SetOutputDir(dir string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session != nil {
		return ErrAlreadyRecording
	}
	s.cfg.OutputDir = dir
	return nil
}

// StartRecording opens a new session directory, session video writers for
// both cameras (via the codec-fallback chain), and the disk-space monitor.
func (s *Service) StartRecording(sessionName string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.session != nil {
		return "", ErrAlreadyRecording
	}

	sessionID := fmt.Sprintf("session_%s_%s_%s", time.Now().UTC().Format("20060102_150405"), sessionName, uuid.NewString()[:8])
	dir := filepath.Join(s.cfg.OutputDir, sessionID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("recording: creating session dir: %w", err)
	}

	disk := newDiskMonitor(s.log, s.errBus, dir, s.cfg.DiskWarningGB, s.cfg.DiskElevatedGB, s.cfg.DiskCriticalGB, s.cfg.DiskPollSeconds, s.triggerAutoStop)
	if freeGB, critical, err := disk.checkOnce(); err != nil {
		return "", fmt.Errorf("recording: disk pre-flight check: %w", err)
	} else if critical {
		s.log.Error("start_recording refused: free space below critical threshold", zap.Float64("free_gb", freeGB))
		return "", ErrDiskCritical
	}

	color := s.camCfg.Pixfmt == "color-packed"
	leftWriter, leftCodec, leftExt, err := openWithFallback(s.opener, s.cfg.CodecPreference, filepath.Join(dir, "session_left"), float64(s.camCfg.FPS), s.camCfg.Width, s.camCfg.Height, color)
	if err != nil {
		return "", fmt.Errorf("recording: opening left session writer: %w", err)
	}
	rightWriter, rightCodec, rightExt, err := openWithFallback(s.opener, s.cfg.CodecPreference, filepath.Join(dir, "session_right"), float64(s.camCfg.FPS), s.camCfg.Width, s.camCfg.Height, color)
	if err != nil {
		leftWriter.Close()
		return "", fmt.Errorf("recording: opening right session writer: %w", err)
	}
	if leftCodec != rightCodec {
		leftWriter.Close()
		rightWriter.Close()
		return "", ErrCodecMismatch
	}

	ringCap := preRollCapacity(s.cfg.PreRollMs, s.camCfg.FPS)
	session := &activeSession{
		dir: dir, sessionID: sessionID, codec: leftCodec, ext: leftExt,
		fps: s.camCfg.FPS, width: s.camCfg.Width, height: s.camCfg.Height, color: color,
		cams: map[string]*cameraState{
			"left":  {writer: leftWriter, ring: newPreRollRing(ringCap), fail: eventbus.NewFailureCounter(s.cfg.ConsecutiveWriteFailuresToStop)},
			"right": {writer: rightWriter, ring: newPreRollRing(ringCap), fail: eventbus.NewFailureCounter(s.cfg.ConsecutiveWriteFailuresToStop)},
		},
		disk: disk,
	}

	session.unsubFrame = eventbus.Subscribe(s.bus, "recording", eventbus.CategoryRecording, s.onFrame)
	session.unsubStart = eventbus.Subscribe(s.bus, "recording", eventbus.CategoryRecording, s.onPitchStart)
	session.unsubEnd = eventbus.Subscribe(s.bus, "recording", eventbus.CategoryRecording, s.onPitchEnd)

	s.session = session
	disk.Start()

	return dir, nil
}

// StopRecording closes every open writer, joins the disk monitor, writes
// the session manifest, and returns a summary. Any partially-recorded
// pitch directory is left on disk as-is.
func (s *Service) StopRecording() (Summary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session := s.session
	if session == nil {
		return Summary{}, ErrNotRecording
	}

	session.unsubFrame()
	session.unsubStart()
	session.unsubEnd()
	session.disk.Stop()

	if session.pitch != nil {
		for _, w := range session.pitch.cams {
			w.Close()
		}
		session.pitch = nil
	}

	for _, cam := range session.cams {
		if err := cam.writer.Close(); err != nil {
			s.log.Warn("error closing session writer", zap.Error(err))
		}
	}

	manifest := sessionManifest{
		SessionID: session.sessionID, CreatedUTC: nowUTC(), AppVersion: AppVersion,
		SchemaVersion: schemaVersion, Codec: session.codec, FPS: session.fps,
		Resolution: resolution{W: session.width, H: session.height}, PitchCount: session.pitchCount,
	}
	if err := writeSessionManifest(session.dir, manifest); err != nil {
		s.log.Warn("error writing session manifest", zap.Error(err))
	}

	s.session = nil
	return Summary{SessionDir: session.dir, PitchCount: session.pitchCount}, nil
}

func (s *Service) triggerAutoStop() {
	go func() {
		if _, err := s.StopRecording(); err != nil {
			s.log.Warn("auto-stop could not stop recording", zap.Error(err))
		}
	}()
}

func (s *Service) onFrame(ev eventbus.FrameCapturedEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	session := s.session
	if session == nil || ev.Frame == nil {
		return nil
	}
	cam, ok := session.cams[ev.CameraID]
	if !ok {
		return nil
	}

	cam.ring.Push(ringFrame{frameIndex: ev.FrameIndex, tCaptureNs: ev.TCaptureMonotonicNs, pixels: ev.Frame.Pixels})

	if err := cam.writer.Write(ev.Frame.Pixels, ev.Frame.Width, ev.Frame.Height); err != nil {
		count, escalate := cam.fail.Fail()
		s.log.Error("session writer failed", zap.String("camera", ev.CameraID), zap.Int("consecutive_failures", count), zap.Error(err))
		if escalate {
			s.errBus.Publish(eventbus.ErrorEvent{
				Category: eventbus.CategoryRecording, Severity: eventbus.SeverityCritical,
				Source: "recording", Message: "consecutive write failures exceeded threshold, auto-stopping",
				Metadata: map[string]string{"camera": ev.CameraID},
			})
			s.triggerAutoStop()
			return nil
		}
	} else {
		cam.fail.Reset()
	}

	pitch := session.pitch
	if pitch == nil {
		return nil
	}
	if w, ok := pitch.cams[ev.CameraID]; ok {
		if err := w.Write(ev.Frame.Pixels, ev.Frame.Width, ev.Frame.Height); err != nil {
			s.log.Error("pitch writer failed", zap.String("camera", ev.CameraID), zap.Error(err))
		}
	}

	if pitch.ending {
		elapsedNs := ev.TCaptureMonotonicNs - pitch.endNs
		if elapsedNs >= int64(s.cfg.PostRollMs)*1_000_000 {
			s.finalizePitchLocked(session, pitch)
		}
	}
	return nil
}

func (s *Service) onPitchStart(ev eventbus.PitchStartEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	session := s.session
	if session == nil {
		return nil
	}

	dir := filepath.Join(session.dir, fmt.Sprintf("pitch_%03d", ev.PitchIndex))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("recording: creating pitch dir: %w", err)
	}

	cams := make(map[string]VideoWriter, len(session.cams))
	for id, cam := range session.cams {
		w, err := s.opener(session.codec, filepath.Join(dir, id+session.ext), float64(session.fps), session.width, session.height, session.color)
		if err != nil {
			for _, opened := range cams {
				opened.Close()
			}
			return fmt.Errorf("recording: opening pitch writer for %s: %w", id, err)
		}
		cams[id] = w
		for _, rf := range cam.ring.Drain() {
			if err := w.Write(rf.pixels, session.width, session.height); err != nil {
				s.log.Warn("error draining pre-roll frame into pitch writer", zap.String("camera", id), zap.Error(err))
			}
		}
	}

	session.pitch = &pitchState{dir: dir, index: ev.PitchIndex, startNs: ev.TStartNs, cams: cams}
	return nil
}

func (s *Service) onPitchEnd(ev eventbus.PitchEndEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	session := s.session
	if session == nil || session.pitch == nil || session.pitch.index != ev.PitchIndex {
		return nil
	}
	session.pitch.endNs = ev.TEndNs
	session.pitch.ending = true
	session.pitch.observations = ev.Observations
	return nil
}

// finalizePitchLocked closes a pitch's writers and emits its manifest.
// Caller holds s.mu.
func (s *Service) finalizePitchLocked(session *activeSession, pitch *pitchState) {
	for id, w := range pitch.cams {
		if err := w.Close(); err != nil {
			s.log.Warn("error closing pitch writer", zap.String("camera", id), zap.Error(err))
		}
	}

	metrics := analysis.Compute(pitch.observations)
	manifest := pitchManifest{
		SessionID: session.sessionID, PitchID: pitch.index, CreatedUTC: nowUTC(), AppVersion: AppVersion,
		SchemaVersion: schemaVersion, Codec: session.codec, FPS: session.fps,
		Resolution: resolution{W: session.width, H: session.height},
		PreRollMs:  s.cfg.PreRollMs, PostRollMs: s.cfg.PostRollMs,
		Observations: pitch.observations,
		Analysis:     metrics,
	}
	if err := writePitchManifest(pitch.dir, manifest); err != nil {
		s.log.Warn("error writing pitch manifest", zap.Error(err))
	}

	session.pitchCount++
	session.pitch = nil
}

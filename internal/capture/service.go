package capture

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"pitchtracker/internal/config"
	"pitchtracker/internal/eventbus"
)

// monoStart anchors t_capture_monotonic_ns: time.Since reads the monotonic
// clock reading time.Time carries internally, so elapsed time from this
// fixed point can never go backwards even if the wall clock steps (NTP
// correction, manual clock set), unlike time.Now().UnixNano().
var monoStart = time.Now()

// CameraID identifies one of the two fixed stereo cameras.
type CameraID string

const (
	Left  CameraID = "left"
	Right CameraID = "right"
)

// Service owns the two camera drivers and publishes FrameCapturedEvents at
// the configured rate. It never blocks the capture loop beyond a bounded
// wait; sustained downstream backpressure becomes dropped frames, not a
// stall.
type Service struct {
	bus     *eventbus.Bus
	errBus  *eventbus.ErrorBus
	log     *zap.Logger
	cfg     config.CameraConfig
	factory DriverFactory

	mu        sync.Mutex
	capturing bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup

	left  *cameraLoop
	right *cameraLoop
}

type cameraLoop struct {
	id       CameraID
	deviceID int
	driver   Driver

	frameIndex atomic.Int64

	mu            sync.Mutex
	lastFrame     *Frame
	lastCapturedAt int64

	dropCount      atomic.Int64
	lastDropReport atomic.Int64 // unix ns of last FrameDropEvent publish
}

// New builds a CaptureService. factory constructs a fresh, unopened Driver;
// it is called once per camera per open/reconnect cycle so a wedged driver
// is never reused.
func New(bus *eventbus.Bus, log *zap.Logger, cfg config.CameraConfig, factory DriverFactory) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		bus:     bus,
		errBus:  eventbus.NewErrorBus(bus),
		log:     log.Named("capture"),
		cfg:     cfg,
		factory: factory,
	}
}

// Start opens both cameras and begins publishing FrameCapturedEvents. It is
// idempotent: calling Start while already capturing returns ErrAlreadyCapturing
// rather than disturbing the running loops.
func (s *Service) Start(ctx context.Context, leftDeviceID, rightDeviceID int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.capturing {
		return ErrAlreadyCapturing
	}

	left := &cameraLoop{id: Left, deviceID: leftDeviceID}
	right := &cameraLoop{id: Right, deviceID: rightDeviceID}

	if err := s.openWithRetry(ctx, left); err != nil {
		return err
	}
	if err := s.openWithRetry(ctx, right); err != nil {
		left.driver.Close()
		return err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.left = left
	s.right = right
	s.capturing = true

	s.wg.Add(2)
	go s.runLoop(runCtx, left)
	go s.runLoop(runCtx, right)

	return nil
}

// Stop signals both capture loops to exit, waits for them to join, and
// releases both driver handles. Cleanup happens even if a loop is mid-error.
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.capturing {
		s.mu.Unlock()
		return
	}
	cancel := s.cancel
	s.mu.Unlock()

	cancel()
	s.wg.Wait()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.left != nil && s.left.driver != nil {
		s.left.driver.Close()
	}
	if s.right != nil && s.right.driver != nil {
		s.right.driver.Close()
	}
	s.capturing = false
	s.left, s.right, s.cancel = nil, nil, nil
}

// IsCapturing reports whether both cameras are actively running.
func (s *Service) IsCapturing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.capturing
}

// PreviewFrame is a lock-guarded snapshot of the most recently captured
// frame for one camera.
type PreviewFrame struct {
	CameraID   CameraID
	Frame      Frame
	CapturedAt int64
}

// GetPreviewFrames returns the most recent frame pair, if capturing.
func (s *Service) GetPreviewFrames() []PreviewFrame {
	s.mu.Lock()
	left, right := s.left, s.right
	s.mu.Unlock()

	var out []PreviewFrame
	for _, cam := range []*cameraLoop{left, right} {
		if cam == nil {
			continue
		}
		cam.mu.Lock()
		if cam.lastFrame != nil {
			out = append(out, PreviewFrame{CameraID: cam.id, Frame: *cam.lastFrame, CapturedAt: cam.lastCapturedAt})
		}
		cam.mu.Unlock()
	}
	return out
}

func (s *Service) openWithRetry(ctx context.Context, loop *cameraLoop) error {
	timeout := time.Duration(s.cfg.OpenTimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	retries := s.cfg.OpenRetries
	if retries <= 0 {
		retries = 3
	}

	var lastErr error
	for attempt := 0; attempt <= retries; attempt++ {
		driver := s.factory()
		attemptCtx, cancel := context.WithTimeout(ctx, timeout)
		err := driver.Open(attemptCtx, loop.deviceID, s.cfg.Width, s.cfg.Height, s.cfg.FPS, s.cfg.Pixfmt)
		cancel()
		if err == nil {
			loop.driver = driver
			return nil
		}
		lastErr = err
		s.log.Warn("camera open attempt failed",
			zap.String("camera", string(loop.id)), zap.Int("attempt", attempt), zap.Error(err))
		if attempt < retries {
			time.Sleep(100 * time.Millisecond)
		}
	}
	return fmt.Errorf("%w: camera %s device %d: %v", ErrCameraOpen, loop.id, loop.deviceID, lastErr)
}

func (s *Service) runLoop(ctx context.Context, loop *cameraLoop) {
	defer s.wg.Done()

	failures := eventbus.NewFailureCounter(s.thresholdOrDefault())
	reconnecting := false

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if reconnecting {
			if err := s.reconnect(ctx, loop); err != nil {
				time.Sleep(100 * time.Millisecond)
				continue
			}
			reconnecting = false
			failures.Reset()
		}

		frame, err := loop.driver.Read()
		if err != nil {
			count, escalate := failures.Fail()
			severity := eventbus.SeverityError
			if escalate {
				severity = eventbus.SeverityCritical
				reconnecting = true
			}
			s.errBus.Publish(eventbus.ErrorEvent{
				Category: eventbus.CategoryCamera,
				Severity: severity,
				Source:   string(loop.id),
				Message:  err.Error(),
				Cause:    err,
				Metadata: map[string]string{"consecutive_failures": fmt.Sprint(count)},
			})
			time.Sleep(10 * time.Millisecond)
			continue
		}
		failures.Reset()

		idx := loop.frameIndex.Add(1) - 1
		capturedAt := time.Since(monoStart).Nanoseconds()

		loop.mu.Lock()
		loop.lastFrame = &frame
		loop.lastCapturedAt = capturedAt
		loop.mu.Unlock()

		dropped := eventbus.Publish(s.bus, eventbus.FrameCapturedEvent{
			CameraID:            string(loop.id),
			FrameIndex:          idx,
			TCaptureMonotonicNs: capturedAt,
			Frame: &eventbus.FrameHandle{
				Width:  frame.Width,
				Height: frame.Height,
				Pixfmt: frame.Pixfmt,
				Pixels: frame.Pixels,
			},
		})
		if dropped {
			s.recordDrop(loop)
		}
	}
}

func (s *Service) reconnect(ctx context.Context, loop *cameraLoop) error {
	if loop.driver != nil {
		loop.driver.Close()
	}
	return s.openWithRetry(ctx, loop)
}

func (s *Service) recordDrop(loop *cameraLoop) {
	loop.dropCount.Add(1)
	now := time.Now().UnixNano()
	last := loop.lastDropReport.Load()
	if now-last < time.Second.Nanoseconds() {
		return
	}
	if !loop.lastDropReport.CompareAndSwap(last, now) {
		return
	}
	eventbus.Publish(s.bus, eventbus.FrameDropEvent{
		CameraID: string(loop.id),
		Dropped:  loop.dropCount.Swap(0),
		Reason:   "downstream queue full",
	})
}

func (s *Service) thresholdOrDefault() int {
	if s.cfg.ConsecutiveFailuresBeforeReconnect > 0 {
		return s.cfg.ConsecutiveFailuresBeforeReconnect
	}
	return 10
}

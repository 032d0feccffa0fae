package detection

import (
	"context"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"pitchtracker/internal/config"
	"pitchtracker/internal/eventbus"
)

const enqueueWait = 5 * time.Millisecond

type frameJob struct {
	cameraID   string
	frameIndex int64
	tCaptureNs int64
	frame      Frame
}

type cameraState struct {
	queue  chan frameJob
	reseq  *resequencer
	fail   *eventbus.FailureCounter
}

// Service is DetectionService: a bounded per-camera queue and worker pool
// that runs every healthy registered Detector against each captured frame
// and publishes one ObservationDetectedEvent per frame, in frame_index
// order, per camera.
type Service struct {
	bus      *eventbus.Bus
	errBus   *eventbus.ErrorBus
	log      *zap.Logger
	cfg      config.DetectionConfig
	registry *Registry

	mu         sync.Mutex
	cameras    map[string]*cameraState
	unsubscribe func()
	wg         sync.WaitGroup
	stopping   chan struct{}
}

// New builds a DetectionService bound to registry. registry may continue to
// gain/lose detectors while the service runs; GetHealthy is consulted fresh
// on every frame.
func New(bus *eventbus.Bus, log *zap.Logger, cfg config.DetectionConfig, registry *Registry) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		bus:      bus,
		errBus:   eventbus.NewErrorBus(bus),
		log:      log.Named("detection"),
		cfg:      cfg,
		registry: registry,
		cameras:  make(map[string]*cameraState),
	}
}

// Start subscribes to FrameCapturedEvent and spins up workers_per_camera
// workers for each camera on first sight of it.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	s.stopping = make(chan struct{})
	s.mu.Unlock()

	s.unsubscribe = eventbus.Subscribe(s.bus, "detection", eventbus.CategoryDetection, func(ev eventbus.FrameCapturedEvent) error {
		return s.enqueue(ctx, ev)
	})
}

// Stop drains outstanding work with a bounded timeout, then forces workers
// to exit. No worker goroutine outlives Stop.
func (s *Service) Stop() {
	if s.unsubscribe != nil {
		s.unsubscribe()
	}

	s.mu.Lock()
	stopping := s.stopping
	cameras := s.cameras
	s.mu.Unlock()

	if stopping != nil {
		close(stopping)
	}

	drainTimeout := time.Duration(s.cfg.DrainTimeoutMs) * time.Millisecond
	if drainTimeout <= 0 {
		drainTimeout = time.Second
	}

	done := make(chan struct{})
	go func() {
		for _, cam := range cameras {
			close(cam.queue)
		}
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(drainTimeout):
		s.log.Warn("detection drain timeout exceeded, forcing shutdown")
	}

	s.mu.Lock()
	s.cameras = make(map[string]*cameraState)
	s.mu.Unlock()
}

func (s *Service) enqueue(ctx context.Context, ev eventbus.FrameCapturedEvent) error {
	cam := s.cameraFor(ctx, ev.CameraID)

	job := frameJob{
		cameraID:   ev.CameraID,
		frameIndex: ev.FrameIndex,
		tCaptureNs: ev.TCaptureMonotonicNs,
	}
	if ev.Frame != nil {
		job.frame = Frame{Width: ev.Frame.Width, Height: ev.Frame.Height, Pixfmt: ev.Frame.Pixfmt, Pixels: ev.Frame.Pixels}
	}

	select {
	case cam.queue <- job:
		return nil
	case <-time.After(enqueueWait):
		cam.reseq.Skip(ev.FrameIndex)
		return eventbus.ErrDropped
	}
}

func (s *Service) cameraFor(ctx context.Context, cameraID string) *cameraState {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cam, ok := s.cameras[cameraID]; ok {
		return cam
	}

	depth := s.cfg.QueueDepth
	if depth <= 0 {
		depth = 6
	}
	workers := s.cfg.WorkersPerCamera
	if workers <= 0 {
		workers = 1
	}

	cam := &cameraState{
		queue: make(chan frameJob, depth),
		reseq: newResequencer(),
		fail:  eventbus.NewFailureCounter(s.failureThreshold()),
	}
	s.cameras[cameraID] = cam

	for i := 0; i < workers; i++ {
		s.wg.Add(1)
		go s.worker(ctx, cam)
	}
	return cam
}

func (s *Service) failureThreshold() int {
	if s.cfg.FailuresToEscalate > 0 {
		return s.cfg.FailuresToEscalate
	}
	return 10
}

func (s *Service) worker(ctx context.Context, cam *cameraState) {
	defer s.wg.Done()

	for job := range cam.queue {
		detections, err := s.runDetectors(ctx, job)
		idx, tCap, camID := job.frameIndex, job.tCaptureNs, job.cameraID

		if err != nil {
			count, escalate := cam.fail.Fail()
			severity := eventbus.SeverityError
			if escalate {
				severity = eventbus.SeverityCritical
			}
			s.errBus.Publish(eventbus.ErrorEvent{
				Category: eventbus.CategoryDetection,
				Severity: severity,
				Source:   camID,
				Message:  err.Error(),
				Cause:    err,
				Metadata: map[string]string{"consecutive_failures": strconv.Itoa(count)},
			})
			cam.reseq.Skip(idx)
			continue
		}
		cam.fail.Reset()

		cam.reseq.Ready(idx, func() {
			eventbus.Publish(s.bus, eventbus.ObservationDetectedEvent{
				CameraID:            camID,
				FrameIndex:          idx,
				TCaptureMonotonicNs: tCap,
				Detections:          detections,
			})
		})
	}
}

func (s *Service) runDetectors(ctx context.Context, job frameJob) ([]eventbus.DetectionBox, error) {
	var merged []eventbus.DetectionBox
	for _, d := range s.registry.GetHealthy() {
		boxes, err := d.Detect(ctx, job.cameraID, job.frame)
		if err != nil {
			return nil, err
		}
		merged = append(merged, boxes...)
	}
	return merged, nil
}

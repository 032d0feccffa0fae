package detection

import (
	"context"
	"testing"
	"time"

	"pitchtracker/internal/config"
	"pitchtracker/internal/eventbus"
)

type countingDetector struct {
	box eventbus.DetectionBox
}

func (c *countingDetector) Name() string  { return "counting" }
func (c *countingDetector) Healthy() bool { return true }
func (c *countingDetector) Detect(ctx context.Context, cameraID string, frame Frame) ([]eventbus.DetectionBox, error) {
	return []eventbus.DetectionBox{c.box}, nil
}

func TestServicePublishesInFrameIndexOrder(t *testing.T) {
	bus := eventbus.New(nil)
	registry := NewRegistry()
	registry.Register(&countingDetector{box: eventbus.DetectionBox{Confidence: 0.9}})

	cfg := config.DetectionConfig{QueueDepth: 10, WorkersPerCamera: 1, DrainTimeoutMs: 500, FailuresToEscalate: 10}
	svc := New(bus, nil, cfg, registry)

	var indices []int64
	eventbus.Subscribe(bus, "test", eventbus.CategoryDetection, func(ev eventbus.ObservationDetectedEvent) error {
		indices = append(indices, ev.FrameIndex)
		return nil
	})

	svc.Start(context.Background())
	for i := int64(0); i < 5; i++ {
		eventbus.Publish(bus, eventbus.FrameCapturedEvent{CameraID: "left", FrameIndex: i})
	}
	svc.Stop()

	if len(indices) != 5 {
		t.Fatalf("expected 5 observations, got %d", len(indices))
	}
	for i, idx := range indices {
		if idx != int64(i) {
			t.Fatalf("expected strictly increasing frame_index, got %v", indices)
		}
	}
}

func TestServiceDropsWhenQueueFull(t *testing.T) {
	bus := eventbus.New(nil)
	registry := NewRegistry()
	registry.Register(&slowDetector{})

	cfg := config.DetectionConfig{QueueDepth: 1, WorkersPerCamera: 1, DrainTimeoutMs: 200, FailuresToEscalate: 10}
	svc := New(bus, nil, cfg, registry)
	svc.Start(context.Background())
	defer svc.Stop()

	dropped := 0
	for i := int64(0); i < 10; i++ {
		if eventbus.Publish(bus, eventbus.FrameCapturedEvent{CameraID: "left", FrameIndex: i}) {
			dropped++
		}
	}
	if dropped == 0 {
		t.Fatal("expected at least one dropped frame with a full queue and a slow detector")
	}
}

type slowDetector struct{}

func (s *slowDetector) Name() string  { return "slow" }
func (s *slowDetector) Healthy() bool { return true }
func (s *slowDetector) Detect(ctx context.Context, cameraID string, frame Frame) ([]eventbus.DetectionBox, error) {
	time.Sleep(50 * time.Millisecond)
	return nil, nil
}

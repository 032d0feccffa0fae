package detection

import (
	"context"
	"testing"

	"pitchtracker/internal/eventbus"
)

type stubDetector struct {
	name    string
	healthy bool
}

func (s *stubDetector) Name() string  { return s.name }
func (s *stubDetector) Healthy() bool { return s.healthy }
func (s *stubDetector) Detect(ctx context.Context, cameraID string, frame Frame) ([]eventbus.DetectionBox, error) {
	return nil, nil
}

func TestRegistryRejectsDuplicateNames(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(&stubDetector{name: "a", healthy: true}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := r.Register(&stubDetector{name: "a", healthy: true}); err == nil {
		t.Fatal("expected error registering duplicate name")
	}
}

func TestRegistryGetHealthyFiltersUnhealthy(t *testing.T) {
	r := NewRegistry()
	r.Register(&stubDetector{name: "good", healthy: true})
	r.Register(&stubDetector{name: "bad", healthy: false})

	healthy := r.GetHealthy()
	if len(healthy) != 1 || healthy[0].Name() != "good" {
		t.Fatalf("expected only 'good' to be healthy, got %v", healthy)
	}
}

func TestRegistryUnregister(t *testing.T) {
	r := NewRegistry()
	r.Register(&stubDetector{name: "a", healthy: true})
	if err := r.Unregister("a"); err != nil {
		t.Fatalf("Unregister: %v", err)
	}
	if err := r.Unregister("a"); err == nil {
		t.Fatal("expected error unregistering a second time")
	}
}

package detection

import (
	"fmt"
	"sync"
)

// Registry holds the pluggable Detectors available to DetectionService,
// keyed by name.
type Registry struct {
	mu        sync.RWMutex
	detectors map[string]Detector
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{detectors: make(map[string]Detector)}
}

// Register adds a detector under its own Name(). It is an error to register
// the same name twice.
func (r *Registry) Register(d Detector) error {
	if d == nil {
		return fmt.Errorf("detection: detector cannot be nil")
	}
	name := d.Name()
	if name == "" {
		return fmt.Errorf("detection: detector name cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.detectors[name]; exists {
		return fmt.Errorf("detection: detector %q already registered", name)
	}
	r.detectors[name] = d
	return nil
}

// Get returns the detector registered under name, if any.
func (r *Registry) Get(name string) (Detector, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.detectors[name]
	return d, ok
}

// GetHealthy returns every registered detector currently reporting healthy.
func (r *Registry) GetHealthy() []Detector {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Detector, 0, len(r.detectors))
	for _, d := range r.detectors {
		if d.Healthy() {
			out = append(out, d)
		}
	}
	return out
}

// Names returns the names of every registered detector.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.detectors))
	for name := range r.detectors {
		out = append(out, name)
	}
	return out
}

// Unregister removes a detector by name.
func (r *Registry) Unregister(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.detectors[name]; !exists {
		return fmt.Errorf("detection: detector %q not found", name)
	}
	delete(r.detectors, name)
	return nil
}

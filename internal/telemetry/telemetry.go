// Package telemetry exposes Prometheus metrics for the capture/detection/
// recording pipeline: per-camera frame rate and drop counts, detection
// latency, pitch throughput, and free disk space.
package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"pitchtracker/internal/eventbus"
)

// Metrics owns every collector registered for one process. Construct one
// per Orchestrator instance rather than relying on prometheus's default
// global registry, so tests can register independent Metrics without
// colliding.
type Metrics struct {
	framesCaptured  *prometheus.CounterVec
	framesDropped   *prometheus.CounterVec
	observations    *prometheus.CounterVec
	pitchesFinished prometheus.Counter
	diskFreeGB      prometheus.Gauge
	detectionLag    prometheus.Histogram
}

// NewMetrics creates and registers the collector set on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		framesCaptured: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pitchtracker",
			Name:      "frames_captured_total",
			Help:      "Frames published by the capture service, by camera.",
		}, []string{"camera_id"}),
		framesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pitchtracker",
			Name:      "frames_dropped_total",
			Help:      "Frames dropped due to downstream backpressure, by camera.",
		}, []string{"camera_id"}),
		observations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pitchtracker",
			Name:      "detections_total",
			Help:      "Candidate ball detections published, by camera.",
		}, []string{"camera_id"}),
		pitchesFinished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pitchtracker",
			Name:      "pitches_finished_total",
			Help:      "Pitches that reached FINALIZED.",
		}),
		diskFreeGB: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "pitchtracker",
			Name:      "disk_free_gb",
			Help:      "Free space on the recording output volume, in gigabytes.",
		}),
		detectionLag: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "pitchtracker",
			Name:      "detection_latency_seconds",
			Help:      "Time from frame capture to detection publish.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
		}),
	}

	reg.MustRegister(m.framesCaptured, m.framesDropped, m.observations, m.pitchesFinished, m.diskFreeGB, m.detectionLag)
	return m
}

// Handler returns an http.Handler serving /metrics in the Prometheus text
// exposition format for reg.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

// SetDiskFreeGB records the most recent free-space reading.
func (m *Metrics) SetDiskFreeGB(gb float64) {
	m.diskFreeGB.Set(gb)
}

// Subscribe wires the collectors to bus events. Returns an unsubscribe func.
func (m *Metrics) Subscribe(bus *eventbus.Bus) func() {
	unsubFrame := eventbus.Subscribe(bus, "telemetry", eventbus.CategoryCamera, func(ev eventbus.FrameCapturedEvent) error {
		m.framesCaptured.WithLabelValues(ev.CameraID).Inc()
		return nil
	})
	unsubDrop := eventbus.Subscribe(bus, "telemetry", eventbus.CategoryCamera, func(ev eventbus.FrameDropEvent) error {
		m.framesDropped.WithLabelValues(ev.CameraID).Add(float64(ev.Dropped))
		return nil
	})
	unsubObs := eventbus.Subscribe(bus, "telemetry", eventbus.CategoryDetection, func(ev eventbus.ObservationDetectedEvent) error {
		m.observations.WithLabelValues(ev.CameraID).Add(float64(len(ev.Detections)))
		lagNs := time.Now().UnixNano() - ev.TCaptureMonotonicNs
		if lagNs > 0 {
			m.detectionLag.Observe(float64(lagNs) / float64(time.Second))
		}
		return nil
	})
	unsubPitch := eventbus.Subscribe(bus, "telemetry", eventbus.CategoryTracking, func(ev eventbus.PitchEndEvent) error {
		m.pitchesFinished.Inc()
		return nil
	})

	return func() {
		unsubFrame()
		unsubDrop()
		unsubObs()
		unsubPitch()
	}
}

// Package metrics exposes the node's prometheus collectors.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "facenode"

// Metrics holds the node collectors on a private registry.
// All methods are safe on a nil *Metrics so components can run without
// instrumentation.
type Metrics struct {
	registry *prometheus.Registry

	framesReceived *prometheus.CounterVec
	decodeErrors   *prometheus.CounterVec
	framesDropped  *prometheus.CounterVec
	cycles         prometheus.Counter
	detections     prometheus.Counter
	facesPublished prometheus.Counter
	detectorErrors prometheus.Counter
	cycleDuration  prometheus.Histogram
}

// New creates the collectors and registers them, along with the Go runtime
// and process collectors.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		framesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_received_total",
			Help:      "Image messages received per input topic",
		}, []string{"topic"}),
		decodeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decode_errors_total",
			Help:      "Image messages that failed to decode per input topic",
		}, []string{"topic"}),
		framesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_dropped_total",
			Help:      "Frames overwritten before a cycle consumed them",
		}, []string{"slot"}),
		cycles: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycles_total",
			Help:      "Detection cycles run",
		}),
		detections: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "detections_total",
			Help:      "Raw face rects reported by the detector",
		}),
		facesPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "faces_published_total",
			Help:      "Face crops published",
		}),
		detectorErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "detector_errors_total",
			Help:      "Cycles skipped because the detector failed",
		}),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cycle_duration_seconds",
			Help:      "Time spent detecting, selecting and publishing one cycle",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		}),
	}

	registry.MustRegister(
		m.framesReceived,
		m.decodeErrors,
		m.framesDropped,
		m.cycles,
		m.detections,
		m.facesPublished,
		m.detectorErrors,
		m.cycleDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the private registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// RegisterGauge exposes a value sampled at scrape time, e.g. bus subscriber counts.
func (m *Metrics) RegisterGauge(name, help string, fn func() float64) {
	if m == nil {
		return
	}
	m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
	}, fn))
}

func (m *Metrics) FrameReceived(topic string) {
	if m == nil {
		return
	}
	m.framesReceived.WithLabelValues(topic).Inc()
}

func (m *Metrics) DecodeError(topic string) {
	if m == nil {
		return
	}
	m.decodeErrors.WithLabelValues(topic).Inc()
}

func (m *Metrics) FrameDropped(slot string) {
	if m == nil {
		return
	}
	m.framesDropped.WithLabelValues(slot).Inc()
}

func (m *Metrics) DetectorError() {
	if m == nil {
		return
	}
	m.detectorErrors.Inc()
}

// ObserveCycle records one completed cycle.
func (m *Metrics) ObserveCycle(d time.Duration, detections, published int) {
	if m == nil {
		return
	}
	m.cycles.Inc()
	m.detections.Add(float64(detections))
	m.facesPublished.Add(float64(published))
	m.cycleDuration.Observe(d.Seconds())
}

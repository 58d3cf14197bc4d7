// Package metrics provides Prometheus metrics for the detection pipeline
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics contains the pipeline's Prometheus metrics. All record methods are
// safe to call on a nil receiver, which records nothing.
type Metrics struct {
	registry *prometheus.Registry

	chunksProcessed  prometheus.Counter
	samplesProcessed prometheus.Counter
	score            prometheus.Gauge
	scoreDistrib     prometheus.Histogram

	eventsEmitted   prometheus.Counter
	eventsDropped   *prometheus.CounterVec
	handlerRuns     *prometheus.CounterVec
	handlerDuration prometheus.Histogram

	captureState  *prometheus.GaugeVec
	captureErrors *prometheus.CounterVec
	paused        prometheus.Gauge
}

// New creates the metrics and registers them on a fresh private registry
// together with the Go runtime collectors.
func New() (*Metrics, error) {
	registry := prometheus.NewRegistry()
	if err := registry.Register(collectors.NewGoCollector()); err != nil {
		return nil, err
	}
	return NewWithRegistry(registry)
}

// NewWithRegistry creates the metrics and registers them on registry
func NewWithRegistry(registry *prometheus.Registry) (*Metrics, error) {
	m := &Metrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Metrics) initMetrics() {
	m.chunksProcessed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "frosk_chunks_processed_total",
		Help: "Total number of chunks correlated against the template",
	})
	m.samplesProcessed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "frosk_samples_processed_total",
		Help: "Total number of samples pushed into the sliding window",
	})
	m.score = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "frosk_correlation_score",
		Help: "Most recent correlation score",
	})
	m.scoreDistrib = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "frosk_correlation_score_distribution",
		Help:    "Distribution of correlation scores",
		Buckets: prometheus.LinearBuckets(-1, 0.1, 21), // -1.0 to 1.0
	})

	m.eventsEmitted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "frosk_events_emitted_total",
		Help: "Total number of detection events emitted",
	})
	m.eventsDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "frosk_events_dropped_total",
			Help: "Total number of events lost to queue overflow",
		},
		[]string{"policy"},
	)
	m.handlerRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "frosk_handler_runs_total",
			Help: "Total number of event handler invocations",
		},
		[]string{"result"}, // result: success, error, panic
	)
	m.handlerDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "frosk_handler_duration_seconds",
		Help:    "Time taken by the event handler",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 10), // 10ms to ~5s
	})

	m.captureState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "frosk_capture_state",
			Help: "Current capture driver state (1 for the active state)",
		},
		[]string{"state"},
	)
	m.captureErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "frosk_capture_errors_total",
			Help: "Total number of capture failures by operation",
		},
		[]string{"op"},
	)
	m.paused = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "frosk_paused",
		Help: "1 when detection is paused",
	})
}

// Describe implements prometheus.Collector
func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	m.chunksProcessed.Describe(ch)
	m.samplesProcessed.Describe(ch)
	m.score.Describe(ch)
	m.scoreDistrib.Describe(ch)
	m.eventsEmitted.Describe(ch)
	m.eventsDropped.Describe(ch)
	m.handlerRuns.Describe(ch)
	m.handlerDuration.Describe(ch)
	m.captureState.Describe(ch)
	m.captureErrors.Describe(ch)
	m.paused.Describe(ch)
}

// Collect implements prometheus.Collector
func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	m.chunksProcessed.Collect(ch)
	m.samplesProcessed.Collect(ch)
	m.score.Collect(ch)
	m.scoreDistrib.Collect(ch)
	m.eventsEmitted.Collect(ch)
	m.eventsDropped.Collect(ch)
	m.handlerRuns.Collect(ch)
	m.handlerDuration.Collect(ch)
	m.captureState.Collect(ch)
	m.captureErrors.Collect(ch)
	m.paused.Collect(ch)
}

// Handler returns the HTTP handler exposing this registry
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordScore records one processed chunk and its score
func (m *Metrics) RecordScore(samples int, score float32) {
	if m == nil {
		return
	}
	m.chunksProcessed.Inc()
	m.samplesProcessed.Add(float64(samples))
	m.score.Set(float64(score))
	m.scoreDistrib.Observe(float64(score))
}

// RecordEvent records an emitted event
func (m *Metrics) RecordEvent() {
	if m == nil {
		return
	}
	m.eventsEmitted.Inc()
}

// RecordDrop records an event lost to queue overflow
func (m *Metrics) RecordDrop(policy string) {
	if m == nil {
		return
	}
	m.eventsDropped.WithLabelValues(policy).Inc()
}

// RecordHandler records one handler invocation
func (m *Metrics) RecordHandler(result string, seconds float64) {
	if m == nil {
		return
	}
	m.handlerRuns.WithLabelValues(result).Inc()
	m.handlerDuration.Observe(seconds)
}

// SetCaptureState marks state as the active capture state
func (m *Metrics) SetCaptureState(state string) {
	if m == nil {
		return
	}
	m.captureState.Reset()
	m.captureState.WithLabelValues(state).Set(1)
}

// RecordCaptureError records a capture failure in op
func (m *Metrics) RecordCaptureError(op string) {
	if m == nil {
		return
	}
	m.captureErrors.WithLabelValues(op).Inc()
}

// SetPaused records the pause state
func (m *Metrics) SetPaused(paused bool) {
	if m == nil {
		return
	}
	if paused {
		m.paused.Set(1)
	} else {
		m.paused.Set(0)
	}
}

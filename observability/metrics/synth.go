package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// SynthMetrics tracks engine operations and the HTTP surface in front of it.
type SynthMetrics struct {
	operations     *prometheus.CounterVec
	rejections     *prometheus.CounterVec
	latency        *prometheus.HistogramVec
	oracleFailures *prometheus.CounterVec
	throttles      *prometheus.CounterVec
}

var (
	synthOnce     sync.Once
	synthRegistry *SynthMetrics
)

// Synth returns the process-wide metrics registered with the default
// Prometheus registerer.
func Synth() *SynthMetrics {
	synthOnce.Do(func() {
		synthRegistry = NewSynth(prometheus.DefaultRegisterer)
	})
	return synthRegistry
}

// NewSynth builds and registers a fresh set of collectors on reg.
func NewSynth(reg prometheus.Registerer) *SynthMetrics {
	m := &SynthMetrics{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "synthvault",
			Subsystem: "engine",
			Name:      "operations_total",
			Help:      "Count of engine operations segmented by operation and outcome.",
		}, []string{"operation", "outcome"}),
		rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "synthvault",
			Subsystem: "engine",
			Name:      "rejections_total",
			Help:      "Count of rejected engine operations segmented by reason code.",
		}, []string{"operation", "reason"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "synthvault",
			Subsystem: "engine",
			Name:      "operation_duration_seconds",
			Help:      "Latency distribution for engine operations including price reads.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		oracleFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "synthvault",
			Subsystem: "oracle",
			Name:      "failures_total",
			Help:      "Count of rejected price readings segmented by reason code.",
		}, []string{"reason"}),
		throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "synthvault",
			Subsystem: "api",
			Name:      "throttles_total",
			Help:      "Count of API requests rejected by the rate limiter.",
		}, []string{"route"}),
	}
	reg.MustRegister(m.operations, m.rejections, m.latency, m.oracleFailures, m.throttles)
	return m
}

// Observe records one operation. reason is the stable error code, "ok" on
// success.
func (m *SynthMetrics) Observe(operation, reason string, duration time.Duration) {
	if m == nil {
		return
	}
	if operation == "" {
		operation = "unknown"
	}
	outcome := "success"
	if reason != "" && reason != "ok" {
		outcome = "rejected"
		m.rejections.WithLabelValues(operation, reason).Inc()
		switch reason {
		case "oracle_unset", "oracle_invalid", "oracle_stale":
			m.oracleFailures.WithLabelValues(reason).Inc()
		}
	}
	m.operations.WithLabelValues(operation, outcome).Inc()
	m.latency.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordThrottle counts a rate limited request.
func (m *SynthMetrics) RecordThrottle(route string) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unknown"
	}
	m.throttles.WithLabelValues(route).Inc()
}

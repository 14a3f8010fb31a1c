package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestSynthMetricsObserve(t *testing.T) {
	m := NewSynth(prometheus.NewRegistry())

	m.Observe("mint", "ok", 10*time.Millisecond)
	m.Observe("mint", "ratio_too_low", time.Millisecond)
	m.Observe("redeem", "oracle_stale", time.Millisecond)
	m.RecordThrottle("/v1/mint")

	if got := testutil.ToFloat64(m.operations.WithLabelValues("mint", "success")); got != 1 {
		t.Fatalf("unexpected success count %v", got)
	}
	if got := testutil.ToFloat64(m.rejections.WithLabelValues("mint", "ratio_too_low")); got != 1 {
		t.Fatalf("unexpected rejection count %v", got)
	}
	if got := testutil.ToFloat64(m.oracleFailures.WithLabelValues("oracle_stale")); got != 1 {
		t.Fatalf("unexpected oracle failure count %v", got)
	}
	if got := testutil.ToFloat64(m.oracleFailures.WithLabelValues("ratio_too_low")); got != 0 {
		t.Fatalf("non-oracle reason counted as oracle failure")
	}
	if got := testutil.ToFloat64(m.throttles.WithLabelValues("/v1/mint")); got != 1 {
		t.Fatalf("unexpected throttle count %v", got)
	}
	if got := testutil.CollectAndCount(m.latency); got != 2 {
		t.Fatalf("expected latency series for two operations, got %d", got)
	}
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *SynthMetrics
	m.Observe("mint", "ok", time.Second)
	m.RecordThrottle("x")
}

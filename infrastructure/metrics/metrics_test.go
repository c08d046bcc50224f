package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordHTTPRequest(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewWithRegistry("verifier", reg)

	m.RecordHTTPRequest("verifier", "POST", "/verify", "200", 50*time.Millisecond)
	m.RecordHTTPRequest("verifier", "POST", "/verify", "200", 30*time.Millisecond)

	got := testutil.ToFloat64(m.RequestsTotal.WithLabelValues("verifier", "POST", "/verify", "200"))
	if got != 2 {
		t.Fatalf("expected 2 requests recorded, got %v", got)
	}
}

func TestInFlightGauge(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewWithRegistry("verifier", reg)

	m.IncrementInFlight()
	m.IncrementInFlight()
	m.DecrementInFlight()

	if got := testutil.ToFloat64(m.RequestsInFlight); got != 1 {
		t.Fatalf("expected 1 in-flight request, got %v", got)
	}
}

func TestRecordStageAndVerdict(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewWithRegistry("verifier", reg)

	m.RecordStage("quality", "ok", time.Second)
	m.RecordStage("quality", "failed", time.Second)
	m.RecordVerdict("completed")

	if got := testutil.ToFloat64(m.StagesTotal.WithLabelValues("quality", "ok")); got != 1 {
		t.Fatalf("expected 1 ok quality stage, got %v", got)
	}
	if got := testutil.ToFloat64(m.VerdictsTotal.WithLabelValues("completed")); got != 1 {
		t.Fatalf("expected 1 completed verdict, got %v", got)
	}
}

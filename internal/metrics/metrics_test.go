package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordersAndHandler(t *testing.T) {
	m := New()
	m.RecordGeneration("offers")
	m.RecordGeneration("offers")
	m.RecordGenerationError("email", "model")
	m.RecordModelCall(0.2, 10, 5)
	m.RecordPublic(429)

	if got := testutil.ToFloat64(m.GenerationRequests.WithLabelValues("offers")); got != 2 {
		t.Fatalf("generation requests = %v", got)
	}
	if got := testutil.ToFloat64(m.ModelTokens.WithLabelValues("out")); got != 5 {
		t.Fatalf("tokens out = %v", got)
	}

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), `anagami_public_requests_total{status="429"} 1`) {
		t.Fatalf("metrics output missing public counter:\n%s", body)
	}
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.RecordGeneration("x")
	m.RecordGenerationError("x", "y")
	m.RecordModelCall(1, 1, 1)
	m.RecordPublic(200)
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if rec.Code != 404 {
		t.Fatalf("nil handler status = %d", rec.Code)
	}
}

package telemetry

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestInstrumentCountsStatusClass(t *testing.T) {
	h := Instrument("probe", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	before := testutil.ToFloat64(RequestsTotal.WithLabelValues("probe", "4xx"))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/probe", nil))
	after := testutil.ToFloat64(RequestsTotal.WithLabelValues("probe", "4xx"))

	if after-before != 1 {
		t.Fatalf("requests_total{probe,4xx} delta = %v, want 1", after-before)
	}
}

func TestMetricsHandlerExposesFloodSeries(t *testing.T) {
	LocalSeq.Set(42)

	rec := httptest.NewRecorder()
	MetricsHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if body := rec.Body.String(); !strings.Contains(body, "lightmesh_local_seqnum 42") {
		t.Fatalf("metrics output missing lightmesh_local_seqnum 42:\n%s", body)
	}
}

func TestNewLogger(t *testing.T) {
	if _, err := NewLogger("debug", true); err != nil {
		t.Fatalf("NewLogger(debug): %v", err)
	}
	if _, err := NewLogger("loud", false); err == nil {
		t.Fatalf("NewLogger(loud) succeeded, want error")
	}
}

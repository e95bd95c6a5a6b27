package http

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/kjstillabower/weather-bot/internal/observability"
)

func TestMiddleware_HealthThroughChain(t *testing.T) {
	resetHealthState(t)
	router := NewRouter(NewHandler(nil, nil), zap.NewNop())

	req := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if w.Header().Get("X-Correlation-ID") == "" {
		t.Error("X-Correlation-ID header missing")
	}
}

func TestMiddleware_CorrelationIDPropagated(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	var gotID string

	router := mux.NewRouter()
	router.Use(CorrelationIDMiddleware(zap.New(core)))
	router.HandleFunc("/probe", func(w http.ResponseWriter, r *http.Request) {
		gotID = CorrelationID(r.Context())
		observability.LoggerFromContext(r.Context(), nil).Info("probe")
	})

	req := httptest.NewRequest("GET", "/probe", nil)
	req.Header.Set("X-Correlation-ID", "client-provided-id")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if got := w.Header().Get("X-Correlation-ID"); got != "client-provided-id" {
		t.Errorf("X-Correlation-ID = %q, want client-provided-id", got)
	}
	if gotID != "client-provided-id" {
		t.Errorf("CorrelationID(ctx) = %q, want client-provided-id", gotID)
	}
	entries := logs.FilterMessage("probe").All()
	if len(entries) != 1 || entries[0].ContextMap()["correlation_id"] != "client-provided-id" {
		t.Errorf("context logger did not carry correlation_id: %v", entries)
	}
}

func TestMiddleware_MetricsRecordsNonOK(t *testing.T) {
	router := NewRouter(NewHandler(nil, nil), zap.NewNop())
	before := testutil.ToFloat64(observability.HTTPRequestsTotal.WithLabelValues("GET", "other", "4xx"))

	req := httptest.NewRequest("GET", "/weather/moscow", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
	if got := testutil.ToFloat64(observability.HTTPRequestsTotal.WithLabelValues("GET", "other", "4xx")); got != before+1 {
		t.Errorf("httpRequestsTotal{other,4xx} = %v, want %v", got, before+1)
	}
}

func TestMiddleware_MetricsRoute(t *testing.T) {
	router := NewRouter(NewHandler(nil, nil), zap.NewNop())

	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if !strings.Contains(w.Body.String(), "go_goroutines") {
		t.Error("metrics body missing expected series")
	}
}

func TestGetRoute(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/health", "/health"},
		{"/metrics", "/metrics"},
		{"/admin/secret", "other"},
		{"/", "other"},
	}
	for _, tt := range tests {
		req := httptest.NewRequest("GET", tt.path, nil)
		if got := getRoute(req); got != tt.want {
			t.Errorf("getRoute(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}

func TestStatusCodeString(t *testing.T) {
	if got := statusCodeString(503); got != "5xx" {
		t.Errorf("statusCodeString(503) = %q, want 5xx", got)
	}
	if got := statusCodeString(200); got != "2xx" {
		t.Errorf("statusCodeString(200) = %q, want 2xx", got)
	}
}

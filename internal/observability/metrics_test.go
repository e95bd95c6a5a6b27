package observability

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

// TestMetrics_Usable verifies that all metrics accept the label values used by
// the client, cache, service and bot packages.
func TestMetrics_Usable(t *testing.T) {
	HTTPRequestsTotal.WithLabelValues("GET", "/health", "2xx").Inc()
	HTTPRequestDuration.WithLabelValues("GET", "/health").Observe(0.01)
	WeatherAPICallsTotal.WithLabelValues("success").Inc()
	WeatherAPIDuration.WithLabelValues("success").Observe(0.1)
	WeatherAPIErrorsTotal.WithLabelValues("timeout").Inc()
	CacheHitsTotal.WithLabelValues("in_memory").Inc()
	CacheMissesTotal.WithLabelValues("in_memory").Inc()
	CacheErrorsTotal.WithLabelValues("get").Inc()
	CacheStampedeDetectedTotal.Inc()
	BotUpdatesTotal.WithLabelValues("callback").Inc()
	BotHandlerDuration.WithLabelValues("text").Observe(0.2)
	BotSendErrorsTotal.WithLabelValues("edit").Inc()
}

// TestSetTrackedCities_and_RecordWeatherQuery verifies that allow-listed cities get
// their own label and everything else is counted as "other".
func TestSetTrackedCities_and_RecordWeatherQuery(t *testing.T) {
	SetTrackedCities([]string{"Москва", "Новосибирск"})
	defer SetTrackedCities(nil)

	beforeCity := testutil.ToFloat64(WeatherQueriesByCityTotal.WithLabelValues("москва"))
	beforeOther := testutil.ToFloat64(WeatherQueriesByCityTotal.WithLabelValues("other"))

	RecordWeatherQuery("МОСКВА ")
	RecordWeatherQuery("Атлантида")

	if got := testutil.ToFloat64(WeatherQueriesByCityTotal.WithLabelValues("москва")) - beforeCity; got != 1 {
		t.Errorf("tracked city delta = %v, want 1", got)
	}
	if got := testutil.ToFloat64(WeatherQueriesByCityTotal.WithLabelValues("other")) - beforeOther; got != 1 {
		t.Errorf("other delta = %v, want 1", got)
	}
}

// TestMetricsHandler_ServesPrometheusFormat verifies that MetricsHandler serves
// Prometheus text exposition format.
func TestMetricsHandler_ServesPrometheusFormat(t *testing.T) {
	BotUpdatesTotal.WithLabelValues("start").Inc()

	handler := MetricsHandler()
	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("MetricsHandler status = %d, want 200", w.Code)
	}
	if !strings.Contains(w.Body.String(), "botUpdatesTotal") {
		t.Error("MetricsHandler response should contain botUpdatesTotal")
	}
}

// Package http serves the admin endpoints: health and metrics.
package http

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/kjstillabower/weather-bot/internal/lifecycle"
	"github.com/kjstillabower/weather-bot/internal/observability"
	"github.com/kjstillabower/weather-bot/internal/traffic"
)

// HealthConfig holds thresholds for the health handler.
type HealthConfig struct {
	// DegradedWindow is how far back lookup outcomes are counted.
	DegradedWindow time.Duration
	// DegradedErrorPct is the failure percentage at or above which the bot reports degraded.
	DegradedErrorPct int
	// DegradedMinSamples is the number of outcomes required before the error rate is judged.
	DegradedMinSamples int
	// CachePing, when set, is called to check cache reachability. Used for remote backends.
	CachePing func(ctx context.Context) error
	StartTime time.Time
}

// DefaultHealthConfig returns the thresholds used by the bot: 50% failures over one minute,
// judged once at least five lookups were made.
func DefaultHealthConfig() *HealthConfig {
	return &HealthConfig{
		DegradedWindow:     time.Minute,
		DegradedErrorPct:   50,
		DegradedMinSamples: 5,
		StartTime:          time.Now(),
	}
}

// Handler holds dependencies for admin HTTP handlers.
type Handler struct {
	healthConfig     *HealthConfig
	logger           *zap.Logger
	healthStatusMu   sync.Mutex
	healthStatusPrev string
}

// NewHandler returns a new Handler. A nil healthConfig uses DefaultHealthConfig.
func NewHandler(healthConfig *HealthConfig, logger *zap.Logger) *Handler {
	if healthConfig == nil {
		healthConfig = DefaultHealthConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		healthConfig: healthConfig,
		logger:       logger,
	}
}

// NewRouter wires the admin routes and middleware.
func NewRouter(h *Handler, logger *zap.Logger) *mux.Router {
	router := mux.NewRouter()
	router.Use(CorrelationIDMiddleware(logger))
	router.Use(MetricsMiddleware)
	router.HandleFunc("/health", h.GetHealth).Methods(http.MethodGet)
	router.Handle("/metrics", observability.MetricsHandler()).Methods(http.MethodGet)
	// mux skips middleware for unmatched routes.
	router.NotFoundHandler = MetricsMiddleware(http.NotFoundHandler())
	return router
}

// healthResult holds the computed health status and metadata for logging.
type healthResult struct {
	status     string
	statusCode int
	reason     string
}

// GetHealth handles GET /health.
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	result := h.computeHealthStatus()

	h.healthStatusMu.Lock()
	prev := h.healthStatusPrev
	if prev != "" && prev != result.status {
		h.logger.Info("health status transition",
			zap.String("previous_status", prev),
			zap.String("current_status", result.status),
			zap.String("reason", result.reason))
	}
	h.healthStatusPrev = result.status
	h.healthStatusMu.Unlock()

	checks := make(map[string]string)
	if result.status == "degraded" {
		checks["weatherApi"] = "unhealthy"
	} else {
		checks["weatherApi"] = "healthy"
	}
	if h.healthConfig.CachePing != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		if err := h.healthConfig.CachePing(ctx); err != nil {
			checks["cache"] = "unhealthy"
			observability.LoggerFromContext(r.Context(), h.logger).Warn("cache ping failed", zap.Error(err))
		} else {
			checks["cache"] = "healthy"
		}
		cancel()
	}

	writeJSON(w, result.statusCode, map[string]interface{}{
		"status":    result.status,
		"service":   "weather-bot",
		"version":   "dev",
		"checks":    checks,
		"uptime":    time.Since(h.healthConfig.StartTime).Round(time.Second).String(),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// computeHealthStatus evaluates conditions in priority order: shutting-down > degraded > healthy.
func (h *Handler) computeHealthStatus() healthResult {
	if lifecycle.IsShuttingDown() {
		return healthResult{"shutting-down", http.StatusServiceUnavailable, lifecycle.Reason()}
	}
	cfg := h.healthConfig
	if cfg.DegradedWindow > 0 && cfg.DegradedErrorPct > 0 {
		failures, total := traffic.ErrorRate(cfg.DegradedWindow)
		if total > 0 && total >= cfg.DegradedMinSamples {
			pct := float64(failures) * 100 / float64(total)
			if pct >= float64(cfg.DegradedErrorPct) {
				return healthResult{"degraded", http.StatusServiceUnavailable, "error_rate_breach"}
			}
		}
	}
	return healthResult{"healthy", http.StatusOK, ""}
}

// writeJSON writes a JSON response with the specified HTTP status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/weather-bot/internal/cache"
	"github.com/kjstillabower/weather-bot/internal/client"
	"github.com/kjstillabower/weather-bot/internal/observability"
	"github.com/kjstillabower/weather-bot/internal/report"
	"github.com/kjstillabower/weather-bot/internal/traffic"
)

// WeatherService turns a city name into reply text, memoizing the text per literal
// city string for ttl. Failure texts are cached exactly like success texts.
type WeatherService struct {
	client  client.WeatherClient
	cache   cache.Cache
	backend string
	ttl     time.Duration
	logger  *zap.Logger
	overlap *missOverlap
}

// NewWeatherService creates a WeatherService. backend labels cache metrics.
func NewWeatherService(client client.WeatherClient, cache cache.Cache, backend string, ttl time.Duration, logger *zap.Logger) *WeatherService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WeatherService{
		client:  client,
		cache:   cache,
		backend: backend,
		ttl:     ttl,
		logger:  logger,
		overlap: newMissOverlap(),
	}
}

// GetOrCompute returns the cached reply for city, or looks it up and caches the result.
// The key is city exactly as given. A cache backend failure falls through to a direct lookup.
// Overlapping misses for the same city each call upstream.
func (s *WeatherService) GetOrCompute(ctx context.Context, city string) string {
	// Lookups run to completion even if the caller goes away; the HTTP client timeout bounds them.
	ctx = context.WithoutCancel(ctx)
	logger := observability.LoggerFromContext(ctx, s.logger)
	observability.RecordWeatherQuery(city)

	text, ok, err := s.cache.Get(ctx, city)
	switch {
	case err != nil:
		observability.CacheErrorsTotal.WithLabelValues("get").Inc()
		logger.Warn("cache get failed", zap.String("city", city), zap.Error(err))
	case ok:
		observability.CacheHitsTotal.WithLabelValues(s.backend).Inc()
		logger.Debug("cache hit", zap.String("city", city))
		return text
	}
	observability.CacheMissesTotal.WithLabelValues(s.backend).Inc()

	n, done := s.overlap.begin(city)
	defer done()
	if n > 1 {
		observability.CacheStampedeDetectedTotal.Inc()
		logger.Debug("concurrent miss", zap.String("city", city), zap.Int("in_flight", n))
	}

	text = s.Lookup(ctx, city)
	if err := s.cache.Set(ctx, city, text, s.ttl); err != nil {
		observability.CacheErrorsTotal.WithLabelValues("set").Inc()
		logger.Warn("cache set failed", zap.String("city", city), zap.Error(err))
	}
	return text
}

// Lookup performs one upstream request and renders either the weather report or
// the fixed text for the failure kind. It never returns an empty string.
func (s *WeatherService) Lookup(ctx context.Context, city string) string {
	start := time.Now()
	snap, err := s.client.GetCurrentWeather(ctx, city)
	if err != nil {
		return s.failureText(ctx, city, err)
	}
	traffic.RecordSuccess()
	observability.LoggerFromContext(ctx, s.logger).Debug("weather fetched",
		zap.String("city", city), zap.Duration("duration", time.Since(start)))
	return report.Format(city, snap)
}

// Refresh recomputes the reply for city and stores it. Unlike GetOrCompute it does not
// store failure texts, so a warm-up during an outage leaves existing entries alone.
func (s *WeatherService) Refresh(ctx context.Context, city string) error {
	snap, err := s.client.GetCurrentWeather(ctx, city)
	if err != nil {
		observability.WeatherAPIErrorsTotal.WithLabelValues(string(client.CategorizeError(err))).Inc()
		return fmt.Errorf("fetch weather for %s: %w", city, err)
	}
	if err := s.cache.Set(ctx, city, report.Format(city, snap), s.ttl); err != nil {
		observability.CacheErrorsTotal.WithLabelValues("set").Inc()
		return fmt.Errorf("cache set for %s: %w", city, err)
	}
	return nil
}

func (s *WeatherService) failureText(ctx context.Context, city string, err error) string {
	logger := observability.LoggerFromContext(ctx, s.logger)
	observability.WeatherAPIErrorsTotal.WithLabelValues(string(client.CategorizeError(err))).Inc()

	switch {
	case errors.Is(err, client.ErrCityNotFound):
		// The upstream answered; a wrong city name says nothing about its health.
		traffic.RecordSuccess()
		logger.Info("city not found", zap.String("city", city))
		return report.TextCityNotFound
	case errors.Is(err, client.ErrTimeout):
		traffic.RecordFailure()
		logger.Error("weather API timeout", zap.String("city", city), zap.Error(err))
		return report.TextTimeout
	case errors.Is(err, client.ErrNetwork):
		traffic.RecordFailure()
		logger.Error("weather API request failed", zap.String("city", city), zap.Error(err))
		return report.TextNetworkError
	default:
		traffic.RecordFailure()
		logger.Error("weather API server error",
			zap.String("city", city),
			zap.Int("status_code", client.StatusCode(err)),
			zap.Error(err))
		return report.TextServerError
	}
}

//go:build integration
// +build integration

package testhelpers

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/kjstillabower/weather-bot/internal/cache"
	"github.com/kjstillabower/weather-bot/internal/client"
	"github.com/kjstillabower/weather-bot/internal/observability"
	"github.com/kjstillabower/weather-bot/internal/service"
)

// IntegrationTestConfig holds configuration for integration tests.
type IntegrationTestConfig struct {
	APIKey        string
	APIURL        string
	CacheBackend  string // "in_memory", "memcached" or "redis"
	MemcachedAddr string
	RedisURL      string
}

// GetIntegrationConfig loads integration test configuration from environment.
// Skips test if API_KEY is not set.
func GetIntegrationConfig(t *testing.T) IntegrationTestConfig {
	t.Helper()
	apiKey := os.Getenv("API_KEY")
	if apiKey == "" {
		t.Skip("API_KEY not set, skipping integration test")
	}

	apiURL := os.Getenv("WEATHER_API_URL")
	if apiURL == "" {
		apiURL = client.DefaultAPIURL
	}
	memcachedAddr := os.Getenv("MEMCACHED_ADDRS")
	if memcachedAddr == "" {
		memcachedAddr = "localhost:11211"
	}
	redisURL := os.Getenv("REDIS_URL")
	if redisURL == "" {
		redisURL = "redis://localhost:6379/0"
	}

	return IntegrationTestConfig{
		APIKey:        apiKey,
		APIURL:        apiURL,
		CacheBackend:  os.Getenv("INTEGRATION_CACHE_BACKEND"),
		MemcachedAddr: memcachedAddr,
		RedisURL:      redisURL,
	}
}

// SetupIntegrationService creates a fully configured service for integration tests.
// An unreachable remote backend falls back to the in-memory cache.
// Returns weather service and cleanup function.
func SetupIntegrationService(t *testing.T, cfg IntegrationTestConfig) (*service.WeatherService, func()) {
	t.Helper()
	logger, err := observability.NewLogger()
	if err != nil {
		t.Fatalf("NewLogger() error = %v", err)
	}

	weatherClient, err := client.NewOpenWeatherClient(cfg.APIKey, cfg.APIURL, 10*time.Second)
	if err != nil {
		t.Fatalf("NewOpenWeatherClient() error = %v", err)
	}

	var cacheSvc cache.Cache = cache.NewInMemoryCache()
	backend := cache.BackendInMemory
	cleanup := func() {}

	switch cfg.CacheBackend {
	case cache.BackendMemcached:
		mc, err := cache.NewMemcachedCache(cfg.MemcachedAddr, 500*time.Millisecond, 2)
		if err == nil && mc.Ping(context.Background()) == nil {
			cacheSvc, backend = mc, cache.BackendMemcached
			cleanup = func() { _ = mc.Close() }
			t.Logf("Using Memcached cache at %s", cfg.MemcachedAddr)
		} else {
			t.Logf("Memcached not available, using in-memory cache")
		}
	case cache.BackendRedis:
		rc, err := cache.NewRedisCache(context.Background(), cfg.RedisURL)
		if err == nil {
			cacheSvc, backend = rc, cache.BackendRedis
			cleanup = func() { _ = rc.Close() }
			t.Logf("Using Redis cache at %s", cfg.RedisURL)
		} else {
			t.Logf("Redis not available (%v), using in-memory cache", err)
		}
	}

	return service.NewWeatherService(weatherClient, cacheSvc, backend, 5*time.Minute, logger), cleanup
}

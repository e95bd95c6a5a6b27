package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/kjstillabower/weather-bot/internal/bot"
	"github.com/kjstillabower/weather-bot/internal/cache"
	"github.com/kjstillabower/weather-bot/internal/client"
	"github.com/kjstillabower/weather-bot/internal/config"
	httphandler "github.com/kjstillabower/weather-bot/internal/http"
	"github.com/kjstillabower/weather-bot/internal/lifecycle"
	"github.com/kjstillabower/weather-bot/internal/observability"
	"github.com/kjstillabower/weather-bot/internal/service"
)

func main() {
	logger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("config", zap.Error(err))
	}

	weatherClient, err := client.NewOpenWeatherClientWithOptions(
		cfg.WeatherAPIKey,
		cfg.WeatherAPIURL,
		cfg.WeatherAPITimeout,
		client.Options{Units: cfg.WeatherAPIUnits, Lang: cfg.WeatherAPILang},
	)
	if err != nil {
		logger.Fatal("weather client", zap.Error(err))
	}

	healthConfig := httphandler.DefaultHealthConfig()
	var cacheSvc cache.Cache
	var cacheCloser io.Closer
	switch cfg.CacheBackend {
	case cache.BackendMemcached:
		mc, err := cache.NewMemcachedCache(cfg.MemcachedAddrs, cfg.MemcachedTimeout, cfg.MemcachedMaxIdleConns)
		if err != nil {
			logger.Fatal("memcached cache", zap.Error(err))
		}
		cacheSvc, cacheCloser = mc, mc
		healthConfig.CachePing = mc.Ping
		logger.Info("cache backend: memcached", zap.String("addrs", cfg.MemcachedAddrs))
	case cache.BackendRedis:
		connectCtx, connectCancel := context.WithTimeout(context.Background(), 5*time.Second)
		rc, err := cache.NewRedisCache(connectCtx, cfg.RedisURL)
		connectCancel()
		if err != nil {
			logger.Fatal("redis cache", zap.Error(err))
		}
		cacheSvc, cacheCloser = rc, rc
		healthConfig.CachePing = rc.Ping
		logger.Info("cache backend: redis")
	default:
		cacheSvc = cache.NewInMemoryCache()
		logger.Info("cache backend: in_memory")
	}
	weatherService := service.NewWeatherService(weatherClient, cacheSvc, cfg.CacheBackend, cfg.CacheTTL, logger)
	observability.SetTrackedCities(cfg.Cities)

	api, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		logger.Fatal("telegram bot", zap.Error(err))
	}
	api.Debug = cfg.BotDebug
	logger.Info("authorized on telegram", zap.String("username", api.Self.UserName))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.CacheWarm {
		warmer := cache.NewCacheWarmer(weatherService, logger)
		go func() {
			if err := warmer.WarmPeriodic(ctx, cfg.Cities, cfg.CacheTTL); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("periodic cache warming stopped", zap.Error(err))
			}
		}()
	}

	var srv *http.Server
	if cfg.AdminPort != "" {
		handler := httphandler.NewHandler(healthConfig, logger)
		srv = &http.Server{
			Addr:         ":" + cfg.AdminPort,
			Handler:      httphandler.NewRouter(handler, logger),
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		}
		go func() {
			logger.Info("admin server starting", zap.String("addr", srv.Addr))
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Fatal("admin server", zap.Error(err))
			}
		}()
	}

	router := bot.NewRouter(api, weatherService, cfg.Cities, cfg.ValidateInput, logger)
	poller := bot.NewPoller(api, router, cfg.Workers, cfg.PollTimeout, logger)
	pollDone := make(chan error, 1)
	go func() { pollDone <- poller.Run(ctx) }()

	reason := lifecycle.ReasonSignal
	select {
	case <-ctx.Done():
	case err := <-pollDone:
		logger.Error("polling ended unexpectedly", zap.Error(err))
		pollDone <- err // re-queued for the drain below
		reason = lifecycle.ReasonPollEnded
	}
	stop()

	lifecycle.BeginShutdown(reason)
	logger.Info("graceful shutdown triggered", zap.String("reason", reason))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	logger.Info("waiting for in-flight updates", zap.Int64("count", poller.InFlight()))
	select {
	case <-pollDone:
	case <-shutdownCtx.Done():
		logger.Warn("in-flight updates not completed", zap.Int64("remaining", poller.InFlight()))
	}

	if srv != nil {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("admin server shutdown", zap.Error(err))
		}
	}

	if err := observability.FlushTelemetry(context.Background(), logger); err != nil {
		logger.Error("telemetry flush", zap.Error(err))
	}

	if cacheCloser != nil {
		if err := cacheCloser.Close(); err != nil {
			logger.Error("cache close", zap.Error(err))
		}
	}
	logger.Info("shutdown complete")
}

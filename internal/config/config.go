package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/kjstillabower/weather-bot/internal/bot"
	"github.com/kjstillabower/weather-bot/internal/cache"
)

// maxCallbackData is Telegram's limit on inline button callback data, in bytes.
const maxCallbackData = 64

// DefaultCities are the keyboard cities used when bot.cities is not set.
var DefaultCities = []string{"Москва", "Санкт-Петербург", "Новосибирск"}

// Config holds bot configuration loaded from env, .env and YAML.
type Config struct {
	BotToken string
	BotDebug bool

	WeatherAPIKey     string
	WeatherAPIURL     string
	WeatherAPITimeout time.Duration
	WeatherAPILang    string
	WeatherAPIUnits   string

	CacheTTL     time.Duration
	CacheBackend string // "in_memory", "memcached" or "redis"
	CacheWarm    bool

	MemcachedAddrs        string
	MemcachedTimeout      time.Duration
	MemcachedMaxIdleConns int

	RedisURL string

	Cities        []string
	ValidateInput bool
	Workers       int
	PollTimeout   time.Duration

	AdminPort       string // empty disables the admin server
	ShutdownTimeout time.Duration
}

type fileConfig struct {
	WeatherAPI struct {
		URL     string `yaml:"url"`
		Timeout string `yaml:"timeout"`
		Lang    string `yaml:"lang"`
		Units   string `yaml:"units"`
	} `yaml:"weather_api"`

	Cache struct {
		Backend   string `yaml:"backend"`
		TTL       string `yaml:"ttl"`
		Warm      bool   `yaml:"warm"`
		Memcached struct {
			Addrs        string `yaml:"addrs"`
			Timeout      string `yaml:"timeout"`
			MaxIdleConns int    `yaml:"max_idle_conns"`
		} `yaml:"memcached"`
		Redis struct {
			URL string `yaml:"url"`
		} `yaml:"redis"`
	} `yaml:"cache"`

	Bot struct {
		Cities        []string `yaml:"cities"`
		ValidateInput *bool    `yaml:"validate_input"`
		Workers       int      `yaml:"workers"`
		PollTimeout   string   `yaml:"poll_timeout"`
		Debug         bool     `yaml:"debug"`
	} `yaml:"bot"`

	Admin struct {
		Port *string `yaml:"port"`
	} `yaml:"admin"`

	Shutdown struct {
		Timeout string `yaml:"timeout"`
	} `yaml:"shutdown"`
}

// Load reads .env (if present), then config/{ENV_NAME}.yaml (default dev, optional),
// then env overrides. API_KEY and BOT_TOKEN must be set. Call from project root.
func Load() (*Config, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("config: get working directory: %w", err)
	}

	if err := loadDotEnv(filepath.Join(cwd, ".env")); err != nil {
		return nil, err
	}

	env := os.Getenv("ENV_NAME")
	if env == "" {
		env = "dev"
	}

	var fc fileConfig
	configPath := filepath.Join(cwd, "config", env+".yaml")
	data, err := os.ReadFile(configPath)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &fc); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	case errors.Is(err, os.ErrNotExist):
		// defaults only
	default:
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}

	cfg.WeatherAPIKey = strings.TrimSpace(os.Getenv("API_KEY"))
	if cfg.WeatherAPIKey == "" {
		return nil, fmt.Errorf("API_KEY required (set env or .env)")
	}
	cfg.BotToken = strings.TrimSpace(os.Getenv("BOT_TOKEN"))
	if cfg.BotToken == "" {
		return nil, fmt.Errorf("BOT_TOKEN required (set env or .env)")
	}
	cfg.BotDebug = fc.Bot.Debug

	cfg.WeatherAPIURL = fc.WeatherAPI.URL
	if cfg.WeatherAPIURL == "" {
		cfg.WeatherAPIURL = "http://api.openweathermap.org/data/2.5/weather"
	}
	cfg.WeatherAPITimeout = parseDurationOrZero(fc.WeatherAPI.Timeout, 10*time.Second)
	cfg.WeatherAPILang = fc.WeatherAPI.Lang
	if cfg.WeatherAPILang == "" {
		cfg.WeatherAPILang = "ru"
	}
	cfg.WeatherAPIUnits = fc.WeatherAPI.Units
	if cfg.WeatherAPIUnits == "" {
		cfg.WeatherAPIUnits = "metric"
	}

	cfg.CacheTTL = parseDurationOrZero(fc.Cache.TTL, 5*time.Minute)
	cfg.CacheBackend = strings.TrimSpace(strings.ToLower(os.Getenv("CACHE_BACKEND")))
	if cfg.CacheBackend == "" {
		cfg.CacheBackend = strings.TrimSpace(strings.ToLower(fc.Cache.Backend))
	}
	if cfg.CacheBackend == "" {
		cfg.CacheBackend = cache.BackendInMemory
	}
	cfg.CacheWarm = fc.Cache.Warm

	cfg.MemcachedAddrs = strings.TrimSpace(os.Getenv("MEMCACHED_ADDRS"))
	if cfg.MemcachedAddrs == "" {
		cfg.MemcachedAddrs = strings.TrimSpace(fc.Cache.Memcached.Addrs)
	}
	if cfg.MemcachedAddrs == "" {
		cfg.MemcachedAddrs = "localhost:11211"
	}
	cfg.MemcachedTimeout = parseDuration(fc.Cache.Memcached.Timeout, 500*time.Millisecond)
	cfg.MemcachedMaxIdleConns = fc.Cache.Memcached.MaxIdleConns
	if cfg.MemcachedMaxIdleConns <= 0 {
		cfg.MemcachedMaxIdleConns = 2
	}

	cfg.RedisURL = strings.TrimSpace(os.Getenv("REDIS_URL"))
	if cfg.RedisURL == "" {
		cfg.RedisURL = strings.TrimSpace(fc.Cache.Redis.URL)
	}
	if cfg.RedisURL == "" {
		cfg.RedisURL = "redis://localhost:6379/0"
	}

	cfg.Cities = fc.Bot.Cities
	if len(cfg.Cities) == 0 {
		cfg.Cities = append([]string(nil), DefaultCities...)
	}
	cfg.ValidateInput = true
	if fc.Bot.ValidateInput != nil {
		cfg.ValidateInput = *fc.Bot.ValidateInput
	}
	cfg.Workers = fc.Bot.Workers
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	cfg.PollTimeout = parseDuration(fc.Bot.PollTimeout, 60*time.Second)

	cfg.AdminPort = "9090"
	if fc.Admin.Port != nil {
		cfg.AdminPort = strings.TrimSpace(*fc.Admin.Port)
	}
	if p, ok := os.LookupEnv("ADMIN_PORT"); ok {
		cfg.AdminPort = strings.TrimSpace(p)
	}
	if strings.EqualFold(cfg.AdminPort, "off") {
		cfg.AdminPort = ""
	}
	cfg.ShutdownTimeout = parseDuration(fc.Shutdown.Timeout, 10*time.Second)

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadDotEnv loads path into the process env when it exists. Variables already set win.
func loadDotEnv(path string) error {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("stat .env: %w", err)
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load .env: %w", err)
	}
	return nil
}

// parseDuration parses a duration string and returns defaultVal if parsing fails or result is <= 0.
func parseDuration(s string, defaultVal time.Duration) time.Duration {
	d := parseDurationOrZero(s, defaultVal)
	if d <= 0 {
		return defaultVal
	}
	return d
}

// parseDurationOrZero parses a duration string, returning defaultVal on empty string or parse error.
// Returns zero or negative durations as-is so validate can reject them.
func parseDurationOrZero(s string, defaultVal time.Duration) time.Duration {
	s = strings.TrimSpace(s)
	if s == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return defaultVal
	}
	return d
}

// validate performs post-load validation of configuration values.
func validate(cfg *Config) error {
	if cfg.WeatherAPITimeout <= 0 {
		return fmt.Errorf("weather_api.timeout must be positive")
	}
	if cfg.CacheTTL <= 0 {
		return fmt.Errorf("cache.ttl must be positive")
	}
	switch cfg.CacheBackend {
	case cache.BackendInMemory, cache.BackendMemcached, cache.BackendRedis:
		// valid
	default:
		return fmt.Errorf("cache.backend must be in_memory, memcached or redis, got %q", cfg.CacheBackend)
	}
	if n := len(cfg.Cities); n < 1 || n > 3 {
		return fmt.Errorf("bot.cities must list 1 to 3 cities, got %d", n)
	}
	for _, city := range cfg.Cities {
		if err := validateKeyboardCity(city); err != nil {
			return err
		}
	}
	return nil
}

// validateKeyboardCity checks that city survives the "weather <city>" payload round trip:
// the router takes the second whitespace-separated token.
func validateKeyboardCity(city string) error {
	if len(strings.Fields(city)) != 1 || strings.TrimSpace(city) != city {
		return fmt.Errorf("bot.cities: %q must be a single word without spaces", city)
	}
	if len(bot.CallbackData(city)) > maxCallbackData {
		return fmt.Errorf("bot.cities: %q exceeds the %d-byte callback limit", city, maxCallbackData)
	}
	return nil
}

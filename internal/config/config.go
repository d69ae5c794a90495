package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Cache backends accepted by cache.backend and CACHE_BACKEND.
const (
	BackendInMemory  = "in_memory"
	BackendMemcached = "memcached"
	BackendRedis     = "redis"
)

const (
	defaultGeocodingAPIURL = "https://nominatim.openstreetmap.org/search"
	defaultWeatherAPIURL   = "https://api.openweathermap.org/data/2.5"
	defaultUserAgent       = "forecast-lookup-service/1.0"
)

// Config holds service configuration loaded from YAML and env.
type Config struct {
	ServerPort string

	GeocodingAPIURL     string
	GeocodingAPITimeout time.Duration
	GeocodingUserAgent  string

	// WeatherAPIKey may be empty; lookups then fail with a configuration error.
	WeatherAPIKey     string
	WeatherAPIURL     string
	WeatherAPITimeout time.Duration
	WeatherUserAgent  string

	RequestTimeout time.Duration

	CacheBackend  string
	CacheTTL      time.Duration
	CacheCoalesce bool
	WarmAddresses []string
	WarmInterval  time.Duration

	MemcachedAddrs        string
	MemcachedTimeout      time.Duration
	MemcachedMaxIdleConns int

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisTimeout  time.Duration

	CircuitBreakerEnabled          bool
	CircuitBreakerFailureThreshold int
	CircuitBreakerTimeout          time.Duration

	ShutdownTimeout       time.Duration
	InFlightTimeout       time.Duration
	InFlightCheckInterval time.Duration

	DegradedWindow   time.Duration
	DegradedErrorPct int

	AddressMinLength int
	AddressMaxLength int
}

type fileConfig struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`

	GeocodingAPI struct {
		URL       string `yaml:"url"`
		Timeout   string `yaml:"timeout"`
		UserAgent string `yaml:"user_agent"`
	} `yaml:"geocoding_api"`

	WeatherAPI struct {
		URL       string `yaml:"url"`
		Timeout   string `yaml:"timeout"`
		UserAgent string `yaml:"user_agent"`
	} `yaml:"weather_api"`

	Request struct {
		Timeout string `yaml:"timeout"`
	} `yaml:"request"`

	Cache struct {
		Backend       string   `yaml:"backend"`
		TTL           string   `yaml:"ttl"`
		Coalesce      bool     `yaml:"coalesce"`
		WarmAddresses []string `yaml:"warm_addresses"`
		WarmInterval  string   `yaml:"warm_interval"`
		Memcached     struct {
			Addrs        string `yaml:"addrs"`
			Timeout      string `yaml:"timeout"`
			MaxIdleConns int    `yaml:"max_idle_conns"`
		} `yaml:"memcached"`
		Redis struct {
			Addr     string `yaml:"addr"`
			Password string `yaml:"password"`
			DB       int    `yaml:"db"`
			Timeout  string `yaml:"timeout"`
		} `yaml:"redis"`
	} `yaml:"cache"`

	CircuitBreaker struct {
		Enabled          bool   `yaml:"enabled"`
		FailureThreshold int    `yaml:"failure_threshold"`
		Timeout          string `yaml:"timeout"`
	} `yaml:"circuit_breaker"`

	Shutdown struct {
		Timeout               string `yaml:"timeout"`
		InFlightTimeout       string `yaml:"in_flight_timeout"`
		InFlightCheckInterval string `yaml:"in_flight_check_interval"`
	} `yaml:"shutdown"`

	Lifecycle struct {
		DegradedWindow   string `yaml:"degraded_window"`
		DegradedErrorPct int    `yaml:"degraded_error_pct"`
	} `yaml:"lifecycle"`

	Validation struct {
		AddressMinLength int `yaml:"address_min_length"`
		AddressMaxLength int `yaml:"address_max_length"`
	} `yaml:"validation"`
}

type secretsFile struct {
	WeatherAPIKey string `yaml:"weather_api_key"`
}

// Load reads configuration from config/{ENV_NAME}.yaml (default dev) and config/secrets.yaml,
// after loading an optional .env file into the environment. The API key comes from
// OPENWEATHER_API_KEY or the secrets file; a missing key is not an error. Call from project root.
func Load() (*Config, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("config: get working directory: %w", err)
	}
	if err := godotenv.Load(filepath.Join(cwd, ".env")); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	env := os.Getenv("ENV_NAME")
	if env == "" {
		env = "dev"
	}

	configPath := filepath.Join(cwd, "config", env+".yaml")
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", configPath)
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	cfg := &Config{}

	cfg.ServerPort = fc.Server.Port
	if cfg.ServerPort == "" {
		cfg.ServerPort = "8080"
	}

	cfg.WeatherAPIKey, err = loadAPIKey(cwd)
	if err != nil {
		return nil, err
	}

	cfg.GeocodingAPIURL = stringOr(fc.GeocodingAPI.URL, defaultGeocodingAPIURL)
	cfg.GeocodingAPITimeout = parseDurationOrZero(fc.GeocodingAPI.Timeout, 10*time.Second)
	cfg.GeocodingUserAgent = stringOr(fc.GeocodingAPI.UserAgent, defaultUserAgent)

	cfg.WeatherAPIURL = strings.TrimRight(stringOr(fc.WeatherAPI.URL, defaultWeatherAPIURL), "/")
	cfg.WeatherAPITimeout = parseDurationOrZero(fc.WeatherAPI.Timeout, 10*time.Second)
	cfg.WeatherUserAgent = stringOr(fc.WeatherAPI.UserAgent, defaultUserAgent)

	cfg.RequestTimeout = parseDuration(fc.Request.Timeout, 25*time.Second)

	cfg.CacheBackend = strings.TrimSpace(strings.ToLower(os.Getenv("CACHE_BACKEND")))
	if cfg.CacheBackend == "" {
		cfg.CacheBackend = strings.TrimSpace(strings.ToLower(fc.Cache.Backend))
	}
	if cfg.CacheBackend == "" {
		cfg.CacheBackend = BackendInMemory
	}
	cfg.CacheTTL = parseDuration(fc.Cache.TTL, 30*time.Minute)
	cfg.CacheCoalesce = fc.Cache.Coalesce
	for _, a := range fc.Cache.WarmAddresses {
		if a = strings.TrimSpace(a); a != "" {
			cfg.WarmAddresses = append(cfg.WarmAddresses, a)
		}
	}
	cfg.WarmInterval = parseDurationOrZero(fc.Cache.WarmInterval, 0)

	cfg.MemcachedAddrs = envOr("MEMCACHED_ADDRS", fc.Cache.Memcached.Addrs, "localhost:11211")
	cfg.MemcachedTimeout = parseDuration(fc.Cache.Memcached.Timeout, 500*time.Millisecond)
	cfg.MemcachedMaxIdleConns = fc.Cache.Memcached.MaxIdleConns
	if cfg.MemcachedMaxIdleConns <= 0 {
		cfg.MemcachedMaxIdleConns = 2
	}

	cfg.RedisAddr = envOr("REDIS_ADDR", fc.Cache.Redis.Addr, "localhost:6379")
	cfg.RedisPassword = envOr("REDIS_PASSWORD", fc.Cache.Redis.Password, "")
	cfg.RedisDB = fc.Cache.Redis.DB
	if v := strings.TrimSpace(os.Getenv("REDIS_DB")); v != "" {
		db, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("REDIS_DB must be an integer, got %q", v)
		}
		cfg.RedisDB = db
	}
	cfg.RedisTimeout = parseDuration(fc.Cache.Redis.Timeout, 500*time.Millisecond)

	cfg.CircuitBreakerEnabled = fc.CircuitBreaker.Enabled
	cfg.CircuitBreakerFailureThreshold = fc.CircuitBreaker.FailureThreshold
	if cfg.CircuitBreakerFailureThreshold <= 0 {
		cfg.CircuitBreakerFailureThreshold = 5
	}
	cfg.CircuitBreakerTimeout = parseDuration(fc.CircuitBreaker.Timeout, 30*time.Second)

	cfg.ShutdownTimeout = parseDuration(fc.Shutdown.Timeout, 30*time.Second)
	cfg.InFlightTimeout = parseDuration(fc.Shutdown.InFlightTimeout, 25*time.Second)
	cfg.InFlightCheckInterval = parseDuration(fc.Shutdown.InFlightCheckInterval, 100*time.Millisecond)

	cfg.DegradedWindow = parseDuration(fc.Lifecycle.DegradedWindow, 60*time.Second)
	cfg.DegradedErrorPct = fc.Lifecycle.DegradedErrorPct
	if cfg.DegradedErrorPct <= 0 {
		cfg.DegradedErrorPct = 5
	}

	cfg.AddressMinLength = fc.Validation.AddressMinLength
	if cfg.AddressMinLength <= 0 {
		cfg.AddressMinLength = 1
	}
	cfg.AddressMaxLength = fc.Validation.AddressMaxLength
	if cfg.AddressMaxLength <= 0 {
		cfg.AddressMaxLength = 200
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadAPIKey returns OPENWEATHER_API_KEY, falling back to weather_api_key in config/secrets.yaml.
func loadAPIKey(cwd string) (string, error) {
	if key := strings.TrimSpace(os.Getenv("OPENWEATHER_API_KEY")); key != "" {
		return key, nil
	}
	secretsPath := filepath.Join(cwd, "config", "secrets.yaml")
	secretsData, err := os.ReadFile(secretsPath)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("read secrets file: %w", err)
	}
	var sec secretsFile
	if err := yaml.Unmarshal(secretsData, &sec); err != nil {
		return "", fmt.Errorf("parse secrets file: %w", err)
	}
	return strings.TrimSpace(sec.WeatherAPIKey), nil
}

func stringOr(s, def string) string {
	if s = strings.TrimSpace(s); s != "" {
		return s
	}
	return def
}

// envOr returns the env var when set, then the file value, then def.
func envOr(envKey, fileVal, def string) string {
	if v := strings.TrimSpace(os.Getenv(envKey)); v != "" {
		return v
	}
	return stringOr(fileVal, def)
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
// Returns zero or negative durations as-is (caller should handle fallback).
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

// validate performs post-load validation. Upstream timeouts must be positive, the cache
// backend known and the address bounds ordered. RequestTimeout is raised to cover a
// geocode call followed by a weather fetch.
func validate(cfg *Config) error {
	if cfg.GeocodingAPITimeout <= 0 {
		return fmt.Errorf("geocoding_api.timeout must be positive")
	}
	if cfg.WeatherAPITimeout <= 0 {
		return fmt.Errorf("weather_api.timeout must be positive")
	}
	if floor := cfg.GeocodingAPITimeout + cfg.WeatherAPITimeout; cfg.RequestTimeout <= floor {
		cfg.RequestTimeout = floor + time.Second
	}
	switch cfg.CacheBackend {
	case BackendInMemory, BackendMemcached, BackendRedis:
	default:
		return fmt.Errorf("cache.backend must be in_memory, memcached or redis, got %q", cfg.CacheBackend)
	}
	if cfg.WarmInterval < 0 {
		return fmt.Errorf("cache.warm_interval must not be negative")
	}
	if cfg.AddressMinLength > cfg.AddressMaxLength {
		return fmt.Errorf("validation.address_min_length (%d) exceeds address_max_length (%d)",
			cfg.AddressMinLength, cfg.AddressMaxLength)
	}
	return nil
}

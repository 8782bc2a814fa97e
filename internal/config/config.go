package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	defaultHTTPAddr       = ":8080"
	defaultDatabaseURL    = "file:marketdash.db?cache=shared"
	defaultJWTSecret      = "change-me-jwt-secret"
	defaultFetchTimeout   = "5s"
	defaultPassTimeout    = "15s"
	defaultCacheIdleTTL   = "30m"
	defaultDisplayTZ      = "UTC"
	defaultShutdownPeriod = "10s"
)

// Config is the runtime configuration of the dashboard API. Precedence, lowest
// first: built-in defaults, the YAML file named by CONFIG_FILE, environment
// variables (including ones loaded from .env).
type Config struct {
	AppEnv         string        `yaml:"app_env"`
	HTTPAddr       string        `yaml:"http_addr"`
	DatabaseURL    string        `yaml:"database_url"`
	JWTSecret      string        `yaml:"-"`
	RedisAddr      string        `yaml:"redis_addr"`
	RedisPassword  string        `yaml:"-"`
	RedisDB        int           `yaml:"redis_db"`
	AMQPURL        string        `yaml:"-"`
	FetchTimeout   time.Duration `yaml:"reconcile_fetch_timeout"`
	PassTimeout    time.Duration `yaml:"reconcile_pass_timeout"`
	CacheIdleTTL   time.Duration `yaml:"reconcile_cache_idle_ttl"`
	DisplayTZ      string        `yaml:"display_timezone"`
	CORSOrigins    []string      `yaml:"cors_allowed_origins"`
	ShutdownPeriod time.Duration `yaml:"shutdown_period"`

	Location *time.Location `yaml:"-"`
}

// Load reads .env (if present), then CONFIG_FILE (if set), then the environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := defaults()
	if path := strings.TrimSpace(os.Getenv("CONFIG_FILE")); path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.mergeEnv(); err != nil {
		return nil, err
	}

	loc, err := time.LoadLocation(cfg.DisplayTZ)
	if err != nil {
		return nil, fmt.Errorf("invalid DISPLAY_TIMEZONE %q: %w", cfg.DisplayTZ, err)
	}
	cfg.Location = loc

	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaults() *Config {
	fetch, _ := time.ParseDuration(defaultFetchTimeout)
	pass, _ := time.ParseDuration(defaultPassTimeout)
	idle, _ := time.ParseDuration(defaultCacheIdleTTL)
	shutdown, _ := time.ParseDuration(defaultShutdownPeriod)
	return &Config{
		AppEnv:         "dev",
		HTTPAddr:       defaultHTTPAddr,
		DatabaseURL:    defaultDatabaseURL,
		JWTSecret:      defaultJWTSecret,
		FetchTimeout:   fetch,
		PassTimeout:    pass,
		CacheIdleTTL:   idle,
		DisplayTZ:      defaultDisplayTZ,
		ShutdownPeriod: shutdown,
	}
}

func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) mergeEnv() error {
	appEnv := strings.TrimSpace(os.Getenv("APP_ENV"))
	if appEnv == "" {
		appEnv = strings.TrimSpace(os.Getenv("ENV"))
	}
	if appEnv != "" {
		c.AppEnv = appEnv
	}
	c.AppEnv = strings.ToLower(c.AppEnv)

	c.HTTPAddr = getEnv("HTTP_ADDR", c.HTTPAddr)
	c.DatabaseURL = getEnv("DATABASE_URL", c.DatabaseURL)
	c.JWTSecret = getEnv("JWT_SECRET", c.JWTSecret)
	c.RedisAddr = getEnv("REDIS_ADDR", c.RedisAddr)
	c.RedisPassword = getEnv("REDIS_PASSWORD", c.RedisPassword)
	c.AMQPURL = getEnv("AMQP_URL", c.AMQPURL)
	c.DisplayTZ = getEnv("DISPLAY_TIMEZONE", c.DisplayTZ)

	if v := strings.TrimSpace(os.Getenv("REDIS_DB")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid REDIS_DB value %q: %w", v, err)
		}
		c.RedisDB = n
	}
	if v := strings.TrimSpace(os.Getenv("CORS_ALLOWED_ORIGINS")); v != "" {
		c.CORSOrigins = strings.Split(v, ",")
	}

	var err error
	if c.FetchTimeout, err = parseDurationEnv("RECONCILE_FETCH_TIMEOUT", c.FetchTimeout); err != nil {
		return err
	}
	if c.PassTimeout, err = parseDurationEnv("RECONCILE_PASS_TIMEOUT", c.PassTimeout); err != nil {
		return err
	}
	if c.CacheIdleTTL, err = parseDurationEnv("RECONCILE_CACHE_IDLE_TTL", c.CacheIdleTTL); err != nil {
		return err
	}
	if c.ShutdownPeriod, err = parseDurationEnv("SHUTDOWN_PERIOD", c.ShutdownPeriod); err != nil {
		return err
	}
	return nil
}

func validateConfig(cfg *Config) error {
	if cfg.FetchTimeout <= 0 {
		return fmt.Errorf("RECONCILE_FETCH_TIMEOUT must be > 0")
	}
	if cfg.PassTimeout < cfg.FetchTimeout {
		return fmt.Errorf("RECONCILE_PASS_TIMEOUT must be >= RECONCILE_FETCH_TIMEOUT")
	}
	if cfg.CacheIdleTTL <= 0 {
		return fmt.Errorf("RECONCILE_CACHE_IDLE_TTL must be > 0")
	}
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		return fmt.Errorf("DATABASE_URL must not be empty")
	}
	if cfg.RedisDB < 0 {
		return fmt.Errorf("REDIS_DB must be >= 0")
	}
	if IsProdLike(cfg.AppEnv) && isEmptyOrDefault(cfg.JWTSecret, defaultJWTSecret) {
		return fmt.Errorf("in prod/release JWT_SECRET must be set and not default")
	}
	return nil
}

func IsProdLike(env string) bool {
	env = strings.ToLower(strings.TrimSpace(env))
	return env == "prod" || env == "production" || env == "release"
}

func isEmptyOrDefault(v, def string) bool {
	trimmed := strings.TrimSpace(v)
	return trimmed == "" || trimmed == def
}

func parseDurationEnv(name string, fallback time.Duration) (time.Duration, error) {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", name, value, err)
	}
	return d, nil
}

func getEnv(name, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(name)); v != "" {
		return v
	}
	return fallback
}

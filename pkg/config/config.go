// Package config loads application configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/platinummonkey/warden/pkg/throttle"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig

	// Directory (user/role/menu source of truth) configuration
	Directory DirectoryConfig

	// Redis configuration
	Redis RedisConfig

	// Auth configuration
	Auth AuthConfig

	// Cache tuning
	Cache CacheConfig

	// Login throttling
	Throttle throttle.Config

	// Observability configuration
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// Health/metrics server (separate port for k8s probes)
	HealthPort string
}

// DirectoryConfig selects the directory backend.
type DirectoryConfig struct {
	// Type is "postgres" or "memory". Memory is for local development and
	// tests only.
	Type        string
	PostgresURL string
	MaxConns    int
}

// RedisConfig holds cache backend settings.
type RedisConfig struct {
	URL      string
	Password string
	DB       int

	// OpTimeout bounds every redis round trip.
	OpTimeout time.Duration
	// MaxTTL is the ceiling applied to every cached entry.
	MaxTTL time.Duration
}

// AuthConfig holds token issuance settings.
type AuthConfig struct {
	// JWTSecret signs session tokens. Required, no default.
	JWTSecret  string
	SessionTTL time.Duration
}

// CacheConfig tunes the permission cache tiers.
type CacheConfig struct {
	UserTTL time.Duration
	RoleTTL time.Duration
	MenuTTL time.Duration
	L1Size  int
	L1TTL   time.Duration
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	// Logging
	LogLevel  string
	LogFormat string

	// Metrics
	MetricsEnabled bool

	// OpenTelemetry HTTP instrumentation
	OTelEnabled bool
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:        loadServerConfig(),
		Directory:     loadDirectoryConfig(),
		Redis:         loadRedisConfig(),
		Auth:          loadAuthConfig(),
		Cache:         loadCacheConfig(),
		Throttle:      loadThrottleConfig(),
		Observability: loadObservabilityConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// loadServerConfig loads server configuration from environment
func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("WARDEN_HOST", "0.0.0.0"),
		Port:            getEnv("WARDEN_PORT", "8080"),
		ReadTimeout:     getEnvDuration("WARDEN_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("WARDEN_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:     getEnvDuration("WARDEN_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("WARDEN_SHUTDOWN_TIMEOUT", 30*time.Second),
		HealthPort:      getEnv("WARDEN_HEALTH_PORT", "9090"),
	}
}

func loadDirectoryConfig() DirectoryConfig {
	return DirectoryConfig{
		Type:        getEnv("WARDEN_DIRECTORY_TYPE", "postgres"),
		PostgresURL: getEnv("WARDEN_POSTGRES_URL", ""),
		MaxConns:    getEnvInt("WARDEN_POSTGRES_MAX_CONNS", 10),
	}
}

func loadRedisConfig() RedisConfig {
	return RedisConfig{
		URL:       getEnv("WARDEN_REDIS_URL", "redis://localhost:6379/0"),
		Password:  getEnv("WARDEN_REDIS_PASSWORD", ""),
		DB:        getEnvInt("WARDEN_REDIS_DB", 0),
		OpTimeout: getEnvDuration("WARDEN_REDIS_OP_TIMEOUT", 2*time.Second),
		MaxTTL:    getEnvDuration("WARDEN_CACHE_MAX_TTL", 12*time.Hour),
	}
}

func loadAuthConfig() AuthConfig {
	return AuthConfig{
		JWTSecret:  getEnv("WARDEN_JWT_SECRET", ""),
		SessionTTL: getEnvDuration("WARDEN_SESSION_TTL", 8*time.Hour),
	}
}

func loadCacheConfig() CacheConfig {
	return CacheConfig{
		UserTTL: getEnvDuration("WARDEN_PERM_USER_TTL", 2*time.Minute),
		RoleTTL: getEnvDuration("WARDEN_PERM_ROLE_TTL", 10*time.Minute),
		MenuTTL: getEnvDuration("WARDEN_MENU_TTL", 10*time.Minute),
		L1Size:  getEnvInt("WARDEN_L1_CACHE_SIZE", 4096),
		L1TTL:   getEnvDuration("WARDEN_L1_CACHE_TTL", 30*time.Second),
	}
}

func loadThrottleConfig() throttle.Config {
	cfg := throttle.DefaultConfig()
	if v := getEnvInt("WARDEN_LOGIN_FAIL_THRESHOLD", 0); v > 0 {
		cfg.SoftThreshold = v
	}
	if v := getEnvInt("WARDEN_LOGIN_IP_THRESHOLD", 0); v > 0 {
		cfg.IPThreshold = v
	}
	if v := getEnvDuration("WARDEN_LOGIN_FAIL_WINDOW", 0); v > 0 {
		cfg.FailureWindow = v
	}
	if v := getEnvDuration("WARDEN_LOGIN_LOCK_TTL", 0); v > 0 {
		cfg.UserLockTTL = v
	}
	if v := getEnvDuration("WARDEN_LOGIN_IP_LOCK_TTL", 0); v > 0 {
		cfg.IPLockTTL = v
	}
	if v := getEnv("WARDEN_LOGIN_ALLOW_LIST", ""); v != "" {
		for _, addr := range strings.Split(v, ",") {
			if addr = strings.TrimSpace(addr); addr != "" {
				cfg.AllowList = append(cfg.AllowList, addr)
			}
		}
	}
	return cfg
}

// loadObservabilityConfig loads observability configuration from environment
func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:       getEnv("WARDEN_LOG_LEVEL", "info"),
		LogFormat:      getEnv("WARDEN_LOG_FORMAT", "json"),
		MetricsEnabled: getEnvBool("WARDEN_METRICS_ENABLED", true),
		OTelEnabled:    getEnvBool("WARDEN_OTEL_ENABLED", false),
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	// Validate server config
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}

	// Validate directory config based on type
	switch c.Directory.Type {
	case "postgres":
		if c.Directory.PostgresURL == "" {
			return fmt.Errorf("postgres URL is required for postgres directory")
		}
	case "memory":
		// development only, nothing to validate
	default:
		return fmt.Errorf("invalid directory type: %s (must be postgres or memory)", c.Directory.Type)
	}

	if c.Redis.URL == "" {
		return fmt.Errorf("redis URL is required")
	}

	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("JWT secret is required")
	}
	if c.Auth.SessionTTL <= 0 {
		return fmt.Errorf("session TTL must be positive")
	}

	if c.Throttle.SoftThreshold <= 0 || c.Throttle.IPThreshold <= 0 {
		return fmt.Errorf("login failure thresholds must be positive")
	}
	if c.Throttle.IPThreshold < c.Throttle.SoftThreshold {
		return fmt.Errorf("IP threshold must not be lower than the per-user threshold")
	}

	return nil
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

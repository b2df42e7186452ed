package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/tollgate-io/tollgate/pkg/observability"
	"github.com/tollgate-io/tollgate/pkg/permissions"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig

	// Store configuration
	Store StoreConfig

	// Cache configuration
	Cache CacheConfig

	// Audit configuration
	Audit AuditConfig

	// Catalog configuration
	Catalog CatalogConfig

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

// StoreConfig holds permission store configuration
type StoreConfig struct {
	// Driver selects the backing store: "memory" or "postgres"
	Driver string

	PostgresURL      string
	PostgresMaxConns int
}

// CacheConfig holds resolution cache configuration
type CacheConfig struct {
	TTL  time.Duration
	Size int

	// Optional Redis second tier; disabled when Addr is empty
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string
}

// AuditConfig holds audit log configuration
type AuditConfig struct {
	// Backend selects the audit sink: "ring" or "postgres"
	Backend string

	RetentionDays int
	MaxEntries    int
	SweepSchedule string
}

// CatalogConfig holds module catalog configuration
type CatalogConfig struct {
	// Path to the YAML module catalog; empty means every module is enabled
	Path  string
	Watch bool

	// Path to the YAML navigation menu; empty means an empty menu
	MenuPath string
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel       observability.LogLevel
	MetricsEnabled bool
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:        loadServerConfig(),
		Store:         loadStoreConfig(),
		Cache:         loadCacheConfig(),
		Audit:         loadAuditConfig(),
		Catalog:       loadCatalogConfig(),
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
		Host:            getEnv("TOLLGATE_HOST", "0.0.0.0"),
		Port:            getEnv("TOLLGATE_PORT", "8080"),
		ReadTimeout:     getEnvDuration("TOLLGATE_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("TOLLGATE_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:     getEnvDuration("TOLLGATE_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("TOLLGATE_SHUTDOWN_TIMEOUT", 30*time.Second),
		HealthPort:      getEnv("TOLLGATE_HEALTH_PORT", "9090"),
	}
}

// loadStoreConfig loads store configuration from environment
func loadStoreConfig() StoreConfig {
	return StoreConfig{
		Driver:           getEnv("TOLLGATE_STORE_DRIVER", "memory"),
		PostgresURL:      getEnv("TOLLGATE_POSTGRES_URL", ""),
		PostgresMaxConns: getEnvInt("TOLLGATE_POSTGRES_MAX_CONNS", 25),
	}
}

// loadCacheConfig loads cache configuration from environment
func loadCacheConfig() CacheConfig {
	return CacheConfig{
		TTL:           getEnvDuration("TOLLGATE_CACHE_TTL", permissions.DefaultCacheTTL),
		Size:          getEnvInt("TOLLGATE_CACHE_SIZE", permissions.DefaultCacheSize),
		RedisAddr:     getEnv("TOLLGATE_REDIS_ADDR", ""),
		RedisPassword: getEnv("TOLLGATE_REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("TOLLGATE_REDIS_DB", 0),
		RedisPrefix:   getEnv("TOLLGATE_REDIS_PREFIX", ""),
	}
}

// loadAuditConfig loads audit configuration from environment
func loadAuditConfig() AuditConfig {
	return AuditConfig{
		Backend:       getEnv("TOLLGATE_AUDIT_BACKEND", "ring"),
		RetentionDays: getEnvInt("TOLLGATE_AUDIT_RETENTION_DAYS", 90),
		MaxEntries:    getEnvInt("TOLLGATE_AUDIT_MAX_ENTRIES", 0),
		SweepSchedule: getEnv("TOLLGATE_AUDIT_SWEEP_SCHEDULE", "0 3 * * *"),
	}
}

// loadCatalogConfig loads catalog configuration from environment
func loadCatalogConfig() CatalogConfig {
	return CatalogConfig{
		Path:     getEnv("TOLLGATE_CATALOG_PATH", ""),
		Watch:    getEnvBool("TOLLGATE_CATALOG_WATCH", true),
		MenuPath: getEnv("TOLLGATE_MENU_PATH", ""),
	}
}

// loadObservabilityConfig loads observability configuration from environment
func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:       observability.ParseLogLevel(getEnv("TOLLGATE_LOG_LEVEL", "info")),
		MetricsEnabled: getEnvBool("TOLLGATE_METRICS_ENABLED", true),
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

	// Validate store config based on driver
	switch c.Store.Driver {
	case "memory":
	case "postgres":
		if c.Store.PostgresURL == "" {
			return fmt.Errorf("postgres URL is required for postgres store")
		}
	default:
		return fmt.Errorf("invalid store driver: %s (must be memory or postgres)", c.Store.Driver)
	}

	// Validate cache config
	if c.Cache.TTL <= 0 {
		return fmt.Errorf("cache TTL must be positive")
	}
	if c.Cache.Size <= 0 {
		return fmt.Errorf("cache size must be positive")
	}

	// Validate audit config
	switch c.Audit.Backend {
	case "ring":
	case "postgres":
		if c.Store.Driver != "postgres" {
			return fmt.Errorf("postgres audit backend requires the postgres store driver")
		}
		if c.Audit.SweepSchedule == "" {
			return fmt.Errorf("sweep schedule is required for postgres audit backend")
		}
	default:
		return fmt.Errorf("invalid audit backend: %s (must be ring or postgres)", c.Audit.Backend)
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

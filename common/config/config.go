package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all service configuration
type Config struct {
	Service   ServiceConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Cache     CacheConfig
	Waitlist  WaitlistConfig
	Sweep     SweepConfig
	RateLimit RateLimitConfig
	Telemetry TelemetryConfig
}

// ServiceConfig holds service-specific settings
type ServiceConfig struct {
	Name        string
	Port        int
	Environment string
	LogLevel    string
	LogFormat   string
}

// DatabaseConfig holds Postgres connection settings
type DatabaseConfig struct {
	Host        string
	Port        int
	Database    string
	User        string
	Password    string
	MaxConns    int
	MinConns    int
	MaxIdleTime time.Duration
	MaxLifetime time.Duration
	AutoMigrate bool
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
}

// CacheConfig holds in-process cache settings
type CacheConfig struct {
	Enabled       bool
	RoomAccessTTL time.Duration
}

// WaitlistConfig tunes the optimistic concurrency retry loop
type WaitlistConfig struct {
	MaxAttempts    int
	RetryBackoff   time.Duration
	StoreRetries   int
	PublishTimeout time.Duration
}

// SweepConfig controls the stale-notified expiry sweep
type SweepConfig struct {
	Enabled     bool
	Interval    time.Duration
	NotifiedTTL time.Duration
	// CEL expression over entry, ageSeconds and ttlSeconds (SWEEP_POLICY)
	Policy string
	// Page size and most cancellations per pass. A pass pages past
	// notified entries the policy keeps.
	BatchSize int
	LeaseTTL  time.Duration
}

// RateLimitConfig holds per-user limits on mutating routes
type RateLimitConfig struct {
	Enabled   bool
	PerMinute int
}

// TelemetryConfig holds observability settings
type TelemetryConfig struct {
	EnablePprof bool
	PprofPort   int
}

// Load loads configuration from environment variables
func Load(serviceName string) (*Config, error) {
	cfg := &Config{
		Service: ServiceConfig{
			Name:        serviceName,
			Port:        getEnvInt("PORT", 8080),
			Environment: getEnv("ENVIRONMENT", "development"),
			LogLevel:    getEnv("LOG_LEVEL", "info"),
			LogFormat:   getEnv("LOG_FORMAT", "text"),
		},
		Database: DatabaseConfig{
			Host:        getEnv("POSTGRES_HOST", "localhost"),
			Port:        getEnvInt("POSTGRES_PORT", 5432),
			Database:    getEnv("POSTGRES_DB", "deepstack"),
			User:        getEnv("POSTGRES_USER", "deepstack"),
			Password:    getEnv("POSTGRES_PASSWORD", "deepstack"),
			MaxConns:    getEnvInt("POSTGRES_MAX_CONNS", 20),
			MinConns:    getEnvInt("POSTGRES_MIN_CONNS", 2),
			MaxIdleTime: getEnvDuration("POSTGRES_MAX_IDLE_TIME", 30*time.Minute),
			MaxLifetime: getEnvDuration("POSTGRES_MAX_LIFETIME", 1*time.Hour),
			AutoMigrate: getEnvBool("POSTGRES_AUTO_MIGRATE", true),
		},
		Redis: RedisConfig{
			Enabled:  getEnvBool("REDIS_ENABLED", true),
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnvInt("REDIS_PORT", 6379),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		Cache: CacheConfig{
			Enabled:       getEnvBool("CACHE_ENABLED", true),
			RoomAccessTTL: getEnvDuration("CACHE_ROOM_ACCESS_TTL", 1*time.Minute),
		},
		Waitlist: WaitlistConfig{
			MaxAttempts:    getEnvInt("WAITLIST_MAX_ATTEMPTS", 5),
			RetryBackoff:   getEnvDuration("WAITLIST_RETRY_BACKOFF", 15*time.Millisecond),
			StoreRetries:   getEnvInt("WAITLIST_STORE_RETRIES", 1),
			PublishTimeout: getEnvDuration("WAITLIST_PUBLISH_TIMEOUT", 2*time.Second),
		},
		Sweep: SweepConfig{
			Enabled:     getEnvBool("SWEEP_ENABLED", true),
			Interval:    getEnvDuration("SWEEP_INTERVAL", 30*time.Second),
			NotifiedTTL: getEnvDuration("SWEEP_NOTIFIED_TTL", 10*time.Minute),
			Policy:      getEnv("SWEEP_POLICY", DefaultSweepPolicy),
			BatchSize:   getEnvInt("SWEEP_BATCH_SIZE", 100),
			LeaseTTL:    getEnvDuration("SWEEP_LEASE_TTL", 25*time.Second),
		},
		RateLimit: RateLimitConfig{
			Enabled:   getEnvBool("RATE_LIMIT_ENABLED", true),
			PerMinute: getEnvInt("RATE_LIMIT_PER_MINUTE", 60),
		},
		Telemetry: TelemetryConfig{
			EnablePprof: getEnvBool("ENABLE_PPROF", false),
			PprofPort:   getEnvInt("PPROF_PORT", 6060),
		},
	}

	return cfg, cfg.Validate()
}

// DefaultSweepPolicy cancels a notified entry once it has waited longer than the TTL
const DefaultSweepPolicy = `entry.status == "notified" && ageSeconds >= ttlSeconds`

// Validate checks if configuration is valid
func (c *Config) Validate() error {
	if c.Service.Port < 1 || c.Service.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Service.Port)
	}

	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}

	if c.Database.MaxConns < c.Database.MinConns {
		return fmt.Errorf("max_conns must be >= min_conns")
	}

	if c.Waitlist.MaxAttempts < 1 {
		return fmt.Errorf("waitlist max attempts must be >= 1, got %d", c.Waitlist.MaxAttempts)
	}

	if c.Waitlist.StoreRetries < 0 {
		return fmt.Errorf("waitlist store retries must be >= 0, got %d", c.Waitlist.StoreRetries)
	}

	if c.Sweep.Enabled {
		if c.Sweep.Interval <= 0 {
			return fmt.Errorf("sweep interval must be positive")
		}
		if c.Sweep.Policy == "" {
			return fmt.Errorf("sweep policy is required when the sweep is enabled")
		}
		if c.Sweep.BatchSize < 1 {
			return fmt.Errorf("sweep batch size must be >= 1")
		}
	}

	return nil
}

// DatabaseURL returns the PostgreSQL connection string
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Database,
	)
}

// RedisAddr returns host:port for the Redis client
func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	RealtimeMemory   = "memory"
	RealtimePostgres = "postgres"
	RealtimeRedis    = "redis"
)

type Config struct {
	Addr                   string
	DatabaseURL            string
	JWTSecret              string
	Environment            string
	LogLevel               string
	LogFormat              string
	SeedAdminEmail         string
	SeedAdminPassword      string
	RunMigrations          bool
	RunSeed                bool
	MaxBodyBytes           int64
	RateLimitPerMinute     int
	MetricsEnabled         bool
	RealtimeBackend        string
	RealtimeChannel        string
	RedisURL               string
	OffboardingConcurrency int
	TokenTTL               time.Duration
	// zero disables the job
	NotificationReleaseInterval time.Duration
	DeletionRunStaleAfter       time.Duration
}

// Load reads configuration from the environment. A .env file in the working
// directory is applied first when present; real environment variables win.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		Addr:                   getEnv("APP_ADDR", ":8080"),
		DatabaseURL:            getEnv("DATABASE_URL", ""),
		JWTSecret:              getEnv("JWT_SECRET", ""),
		Environment:            getEnv("APP_ENV", "development"),
		LogLevel:               getEnv("LOG_LEVEL", "info"),
		LogFormat:              getEnv("LOG_FORMAT", "json"),
		SeedAdminEmail:         getEnv("SEED_ADMIN_EMAIL", ""),
		SeedAdminPassword:      getEnv("SEED_ADMIN_PASSWORD", ""),
		RunMigrations:          getEnvBool("RUN_MIGRATIONS", true),
		RunSeed:                getEnvBool("RUN_SEED", true),
		MaxBodyBytes:           int64(getEnvInt("MAX_BODY_BYTES", 1048576)),
		RateLimitPerMinute:     getEnvInt("RATE_LIMIT_PER_MINUTE", 60),
		MetricsEnabled:         getEnvBool("METRICS_ENABLED", true),
		RealtimeBackend:        strings.ToLower(getEnv("REALTIME_BACKEND", RealtimePostgres)),
		RealtimeChannel:        getEnv("REALTIME_CHANNEL", "hrportal_changes"),
		RedisURL:               getEnv("REDIS_URL", ""),
		OffboardingConcurrency: getEnvInt("OFFBOARDING_CONCURRENCY", 8),
		TokenTTL:               getEnvDuration("TOKEN_TTL", 15*time.Minute),

		NotificationReleaseInterval: getEnvDuration("NOTIFICATION_RELEASE_INTERVAL", 15*time.Second),
		DeletionRunStaleAfter:       getEnvDuration("DELETION_RUN_STALE_AFTER", time.Hour),
	}
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.DatabaseURL) == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.Environment == "production" {
		if strings.TrimSpace(c.JWTSecret) == "" {
			return fmt.Errorf("JWT_SECRET must be set to a strong value in production")
		}
		if c.RunSeed && strings.TrimSpace(c.SeedAdminPassword) == "" {
			return fmt.Errorf("SEED_ADMIN_PASSWORD must be changed or RUN_SEED disabled in production")
		}
	}
	if c.MaxBodyBytes < 1024 {
		return fmt.Errorf("MAX_BODY_BYTES must be at least 1024")
	}
	if c.RateLimitPerMinute <= 0 {
		return fmt.Errorf("RATE_LIMIT_PER_MINUTE must be positive")
	}
	if c.OffboardingConcurrency <= 0 {
		return fmt.Errorf("OFFBOARDING_CONCURRENCY must be positive")
	}
	if c.NotificationReleaseInterval < 0 || c.DeletionRunStaleAfter < 0 {
		return fmt.Errorf("job intervals must not be negative")
	}
	switch c.RealtimeBackend {
	case RealtimeMemory, RealtimePostgres:
	case RealtimeRedis:
		if strings.TrimSpace(c.RedisURL) == "" {
			return fmt.Errorf("REDIS_URL must be set when REALTIME_BACKEND is redis")
		}
	default:
		return fmt.Errorf("REALTIME_BACKEND must be one of memory, postgres, redis")
	}
	return nil
}

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration loaded from environment variables.
type Config struct {
	HTTPPort string
	AppMode  string
	LogLevel string

	DatabaseURL       string
	DBMaxOpenConns    int
	DBMaxIdleConns    int
	DBConnMaxLifetime time.Duration

	// AMQPURL selects RabbitMQ for the dispatch and remediation topics.
	// Empty keeps everything on the in-process queue.
	AMQPURL string

	// RedisURL enables probe lockout on the tracking surface.
	RedisURL    string
	ProbeLimit  int
	ProbeWindow time.Duration

	SendGridAPIKey string
	MailFrom       string
	MailFromName   string

	TrackingBaseURL     string
	DispatchTimeout     time.Duration
	DispatchConcurrency int
	DispatchRatePerSec  float64

	SchedulerSpec string
}

// Load reads configuration from environment variables with sane defaults.
func Load() (*Config, error) {
	cfg := &Config{
		HTTPPort:            getEnv("HTTP_PORT", ":8080"),
		AppMode:             strings.ToLower(getEnv("APP_MODE", "dev")),
		LogLevel:            strings.ToLower(getEnv("LOG_LEVEL", "info")),
		DBMaxOpenConns:      parseIntEnv("DB_MAX_OPEN_CONNS", 25),
		DBMaxIdleConns:      parseIntEnv("DB_MAX_IDLE_CONNS", 5),
		DBConnMaxLifetime:   parseDurationEnv("DB_CONN_MAX_LIFETIME", 30*time.Minute),
		AMQPURL:             os.Getenv("AMQP_URL"),
		RedisURL:            os.Getenv("REDIS_URL"),
		ProbeLimit:          parseIntEnv("PROBE_LIMIT", 50),
		ProbeWindow:         parseDurationEnv("PROBE_WINDOW", 10*time.Minute),
		SendGridAPIKey:      os.Getenv("SENDGRID_API_KEY"),
		MailFrom:            getEnv("MAIL_FROM", "security-awareness@example.com"),
		MailFromName:        getEnv("MAIL_FROM_NAME", "Security Awareness"),
		TrackingBaseURL:     strings.TrimRight(getEnv("TRACKING_BASE_URL", "http://localhost:8080"), "/"),
		DispatchTimeout:     parseDurationEnv("DISPATCH_TIMEOUT", 10*time.Second),
		DispatchConcurrency: parseIntEnv("DISPATCH_CONCURRENCY", 8),
		DispatchRatePerSec:  parseFloatEnv("DISPATCH_RATE_PER_SEC", 20),
		SchedulerSpec:       getEnv("SCHEDULER_SPEC", "@every 1m"),
	}

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = dsnFromParts()
	}
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL or DB_HOST/DB_NAME is required")
	}
	if cfg.DispatchConcurrency < 1 {
		cfg.DispatchConcurrency = 1
	}
	return cfg, nil
}

func dsnFromParts() string {
	host := os.Getenv("DB_HOST")
	name := os.Getenv("DB_NAME")
	if host == "" || name == "" {
		return ""
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		os.Getenv("DB_USER"), os.Getenv("DB_PASSWORD"), host, getEnv("DB_PORT", "5432"), name,
		getEnv("DB_SSLMODE", "disable"),
	)
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func parseIntEnv(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func parseFloatEnv(key string, fallback float64) float64 {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func parseDurationEnv(key string, fallback time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(val)
	if err != nil {
		return fallback
	}
	return parsed
}

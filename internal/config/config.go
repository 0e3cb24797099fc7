package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration values
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Referral ReferralConfig
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port            string
	Env             string
	ShutdownTimeout time.Duration
}

// DatabaseConfig holds the single connection string for the user store
type DatabaseConfig struct {
	URL string
}

// RedisConfig holds Redis configuration. An empty URL disables Redis.
type RedisConfig struct {
	URL      string
	PASSWORD string
}

// Enabled reports whether a Redis URL was configured
func (c RedisConfig) Enabled() bool {
	return strings.TrimSpace(c.URL) != ""
}

// ReferralConfig holds identifier and referral bookkeeping settings
type ReferralConfig struct {
	BaseURL           string
	IDScheme          string
	IDMaxAttempts     int
	WalletValidation  string
	ReconcileSchedule string
}

// ErrMissingDatabaseURL is returned by Validate when DATABASE_URL is unset
var ErrMissingDatabaseURL = errors.New("DATABASE_URL is required")

// Load loads configuration from environment variables
func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            getEnv("PORT", getEnv("SERVER_PORT", "8080")),
			Env:             getEnv("SERVER_ENV", "development"),
			ShutdownTimeout: getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		Database: DatabaseConfig{
			URL: getEnv("DATABASE_URL", ""),
		},
		Redis: RedisConfig{
			URL:      getEnv("REDIS_URL", ""),
			PASSWORD: getEnv("REDIS_PASSWORD", ""),
		},
		Referral: ReferralConfig{
			BaseURL:           getEnv("REFERRAL_BASE_URL", "http://localhost:8080"),
			IDScheme:          getEnv("ID_SCHEME", "code"),
			IDMaxAttempts:     getEnvAsInt("ID_MAX_ATTEMPTS", 5),
			WalletValidation:  getEnv("WALLET_VALIDATION", "opaque"),
			ReconcileSchedule: getEnvAllowEmpty("REFERRAL_RECONCILE_SCHEDULE", "@every 10m"),
		},
	}
}

// Validate checks the settings the process cannot start without
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Database.URL) == "" {
		return ErrMissingDatabaseURL
	}
	if c.Referral.IDMaxAttempts < 1 {
		return errors.New("ID_MAX_ATTEMPTS must be at least 1")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAllowEmpty distinguishes an unset variable from one set to "".
func getEnvAllowEmpty(key, defaultValue string) string {
	if value, ok := os.LookupEnv(key); ok {
		return strings.TrimSpace(value)
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

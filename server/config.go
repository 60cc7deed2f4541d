// Package server carries backend runtime configuration.
package server

import (
	"os"
	"strconv"
	"time"
)

// Config contains all runtime configuration loaded from environment variables.
type Config struct {
	HTTPAddr string
	LogLevel string

	// Identity store: Redis when set, in-memory otherwise.
	RedisAddr string

	// User store: Postgres when set, in-memory (with demo seeds) otherwise.
	DatabaseURL string

	IdentityLifetime time.Duration
	RefreshAhead     time.Duration

	ShutdownTimeout time.Duration
}

// LoadConfig loads Config from environment variables with defaults.
func LoadConfig() Config {
	return Config{
		HTTPAddr:  EnvString("YEOPE_HTTP_ADDR", "0.0.0.0:8080"),
		LogLevel:  EnvString("YEOPE_LOG_LEVEL", "info"),
		RedisAddr: EnvString("YEOPE_REDIS_ADDR", ""),

		DatabaseURL: EnvString("YEOPE_DATABASE_URL", ""),

		IdentityLifetime: EnvDuration("YEOPE_IDENTITY_LIFETIME", 24*time.Hour),
		RefreshAhead:     EnvDuration("YEOPE_IDENTITY_REFRESH_AHEAD", time.Hour),

		ShutdownTimeout: EnvDuration("YEOPE_SHUTDOWN_TIMEOUT", 10*time.Second),
	}
}

// EnvString returns the env var value or a default.
func EnvString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// EnvDuration returns the env var parsed as a duration, or a default.
func EnvDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

// EnvInt returns the env var parsed as an int, or a default.
func EnvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

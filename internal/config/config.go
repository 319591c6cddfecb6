// Package config loads server settings from the environment.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the application
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Auth     AuthConfig
	Log      LogConfig
}

// ServerConfig holds the HTTP server configuration
type ServerConfig struct {
	Addr           string
	CORSOrigins    []string
	TickerInterval time.Duration
}

// DatabaseConfig holds the database configuration. An empty URL selects the
// in-memory store.
type DatabaseConfig struct {
	URL            string
	MigrationsAuto bool
}

// AuthConfig holds the token settings
type AuthConfig struct {
	JWTSecret string
	TokenTTL  time.Duration
}

type LogConfig struct {
	Development bool
}

// UseMemoryStore reports whether no database is configured.
func (c *DatabaseConfig) UseMemoryStore() bool {
	return c.URL == ""
}

// Load loads the configuration from environment variables
func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:           getEnv("SERVER_ADDR", ":8080"),
			CORSOrigins:    getEnvAsList("CORS_ORIGINS", []string{"*"}),
			TickerInterval: getEnvAsDuration("TICKER_INTERVAL", 5*time.Second),
		},
		Database: DatabaseConfig{
			URL:            getEnv("DATABASE_URL", ""),
			MigrationsAuto: getEnvAsBool("MIGRATIONS_AUTO", true),
		},
		Auth: AuthConfig{
			JWTSecret: getEnv("JWT_SECRET", "dev-secret-change-me"),
			TokenTTL:  getEnvAsDuration("TOKEN_TTL", 24*time.Hour),
		},
		Log: LogConfig{
			Development: getEnvAsBool("LOG_DEV", false),
		},
	}
}

// Helper functions to read environment variables
func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value, err := strconv.ParseBool(getEnv(key, "")); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value, err := time.ParseDuration(getEnv(key, "")); err == nil && value > 0 {
		return value
	}
	return defaultValue
}

func getEnvAsList(key string, defaultValue []string) []string {
	var out []string
	for _, part := range strings.Split(getEnv(key, ""), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}

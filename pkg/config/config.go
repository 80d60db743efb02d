// Package config loads server configuration from the environment and
// execution profiles from YAML files.
package config

import (
	"os"
	"strconv"
)

// Config holds server configuration.
type Config struct {
	Port        string
	LogLevel    string
	DatabaseURL string

	// RedisAddr enables the shared idempotency cache when set.
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// NodeURL points at the settlement network's JSON-RPC endpoint. Empty
	// selects the in-process simulator.
	NodeURL string

	// Profile names the execution profile loaded from ProfilesDir.
	Profile     string
	ProfilesDir string

	// OTLPEndpoint enables telemetry export when set.
	OTLPEndpoint string

	RateLimitRPS   int
	RateLimitBurst int
}

// Load reads configuration from environment variables, with local-development
// defaults.
func Load() *Config {
	return &Config{
		Port:           getenv("PORT", "8080"),
		LogLevel:       getenv("LOG_LEVEL", "INFO"),
		DatabaseURL:    getenv("DATABASE_URL", ""),
		RedisAddr:      getenv("REDIS_ADDR", ""),
		RedisPassword:  getenv("REDIS_PASSWORD", ""),
		RedisDB:        getenvInt("REDIS_DB", 0),
		NodeURL:        getenv("NODE_URL", ""),
		Profile:        getenv("EXECUTION_PROFILE", "standard"),
		ProfilesDir:    getenv("PROFILES_DIR", "profiles"),
		OTLPEndpoint:   getenv("OTLP_ENDPOINT", ""),
		RateLimitRPS:   getenvInt("RATE_LIMIT_RPS", 20),
		RateLimitBurst: getenvInt("RATE_LIMIT_BURST", 40),
	}
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

// Package config provides environment configuration for the sync sidecar.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds all configuration for the application.
type Config struct {
	// Local API server settings
	ServerPort         string
	ServerReadTimeout  time.Duration
	ServerWriteTimeout time.Duration

	// Upstream portal API
	APIBaseURL     string
	RealtimeURL    string
	RequestTimeout time.Duration

	// Credential settings
	AuthToken string

	// Realtime channel settings
	ReconnectInitialWait time.Duration
	ReconnectMaxWait     time.Duration
	ReconnectMaxElapsed  time.Duration
	SendAckTimeout       time.Duration

	// Rate limiting (local API)
	RateLimitRequests int
	RateLimitWindow   time.Duration

	// Logging
	LogLevel string

	// Tracing
	TracingEndpoint string
	TracingEnabled  bool
}

// Load reads configuration from environment variables.
func Load() *Config {
	return &Config{
		// Local API server
		ServerPort:         getEnv("PORT", "8090"),
		ServerReadTimeout:  getDurationEnv("SERVER_READ_TIMEOUT", 15*time.Second),
		ServerWriteTimeout: getDurationEnv("SERVER_WRITE_TIMEOUT", 30*time.Second),

		// Upstream
		APIBaseURL:     getEnv("API_BASE_URL", "http://localhost:8080/api/v1"),
		RealtimeURL:    getEnv("REALTIME_URL", "ws://localhost:8080/ws/chat"),
		RequestTimeout: getDurationEnv("REQUEST_TIMEOUT", 15*time.Second),

		// Credential
		AuthToken: getEnv("AUTH_TOKEN", ""),

		// Realtime channel
		ReconnectInitialWait: getDurationEnv("RECONNECT_INITIAL_WAIT", time.Second),
		ReconnectMaxWait:     getDurationEnv("RECONNECT_MAX_WAIT", 30*time.Second),
		ReconnectMaxElapsed:  getDurationEnv("RECONNECT_MAX_ELAPSED", 5*time.Minute),
		SendAckTimeout:       getDurationEnv("SEND_ACK_TIMEOUT", 10*time.Second),

		// Rate limiting
		RateLimitRequests: getIntEnv("RATE_LIMIT_REQUESTS", 120),
		RateLimitWindow:   getDurationEnv("RATE_LIMIT_WINDOW", time.Minute),

		// Logging
		LogLevel: getEnv("LOG_LEVEL", "info"),

		// Tracing
		TracingEndpoint: getEnv("TRACING_ENDPOINT", "localhost:4318"),
		TracingEnabled:  getBoolEnv("TRACING_ENABLED", false),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

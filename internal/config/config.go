// Package config provides environment configuration for the agent.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds all configuration for the application.
type Config struct {
	// Platform settings
	DiscordToken string

	// State directories
	HistoryDir string
	ConfigDir  string

	// Admin HTTP surface
	AdminPort         string
	AdminJWTSecret    string
	RateLimitRequests int
	RateLimitWindow   time.Duration

	// NATS lifecycle event feed (optional)
	NATSURL      string
	NATSCAFile   string
	NATSCertFile string
	NATSKeyFile  string
	NATSToken    string

	// Text-generation providers
	GeminiAPIKey    string
	AnthropicAPIKey string
	OpenAIAPIKey    string
	DefaultProvider string

	// Delivery behavior
	RefreshInterval         time.Duration
	MaxAttempts             int
	RetryDelay              time.Duration
	SurfaceIntermediateErrs bool
	VerboseErrors           bool

	// Upload polling
	UploadPollInterval time.Duration
	UploadPollDeadline time.Duration

	// Logging
	LogLevel string

	// Tracing
	TracingEndpoint string
	TracingEnabled  bool
}

// Load reads configuration from environment variables.
func Load() *Config {
	return &Config{
		// Platform
		DiscordToken: getEnv("DISCORD_TOKEN", ""),

		// State
		HistoryDir: getEnv("HISTORY_DIR", "data/history"),
		ConfigDir:  getEnv("CONFIG_DIR", "data/config"),

		// Admin surface
		AdminPort:         getEnv("ADMIN_PORT", "8080"),
		AdminJWTSecret:    getEnv("ADMIN_JWT_SECRET", "development-secret-change-in-production"),
		RateLimitRequests: getIntEnv("RATE_LIMIT_REQUESTS", 60),
		RateLimitWindow:   getDurationEnv("RATE_LIMIT_WINDOW", time.Minute),

		// NATS
		NATSURL:      getEnv("NATS_URL", ""),
		NATSCAFile:   getEnv("NATS_CA_FILE", ""),
		NATSCertFile: getEnv("NATS_CERT_FILE", ""),
		NATSKeyFile:  getEnv("NATS_KEY_FILE", ""),
		NATSToken:    getEnv("NATS_TOKEN", ""),

		// Providers
		GeminiAPIKey:    getEnv("GEMINI_API_KEY", ""),
		AnthropicAPIKey: getEnv("ANTHROPIC_API_KEY", ""),
		OpenAIAPIKey:    getEnv("OPENAI_API_KEY", ""),
		DefaultProvider: getEnv("DEFAULT_PROVIDER", "gemini"),

		// Delivery
		RefreshInterval:         getDurationEnv("REFRESH_INTERVAL", time.Second),
		MaxAttempts:             getIntEnv("MAX_ATTEMPTS", 3),
		RetryDelay:              getDurationEnv("RETRY_DELAY", 2*time.Second),
		SurfaceIntermediateErrs: getBoolEnv("SURFACE_INTERMEDIATE_ERRORS", false),
		VerboseErrors:           getBoolEnv("VERBOSE_ERRORS", false),

		// Upload polling
		UploadPollInterval: getDurationEnv("UPLOAD_POLL_INTERVAL", 5*time.Second),
		UploadPollDeadline: getDurationEnv("UPLOAD_POLL_DEADLINE", 2*time.Minute),

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

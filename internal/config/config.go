// Package config provides environment-aware configuration management
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Environment represents the deployment environment
type Environment string

const (
	Development Environment = "development"
	Testing     Environment = "testing"
	Production  Environment = "production"
)

// Config holds all application configuration. It is populated once at
// startup; components receive it (or slices of it) and never read the
// environment themselves.
type Config struct {
	// Environment
	Env Environment

	// HTTP
	Port           int
	CORSOrigins    []string
	RateLimitRPS   int
	RateLimitBurst int

	// Database
	DatabaseURL      string
	DBMaxConnections int

	// Blob aggregator (encrypted flow)
	AggregatorURL   string
	AggregatorToken string

	// Sealed-key recovery service (encrypted flow)
	KeyServiceURL string
	KeyPackageID  string

	// External analysis services
	QualityServiceURL     string
	FingerprintServiceURL string
	FingerprintAPIKey     string
	TranscriptionAPIURL   string
	TranscriptionAPIKey   string
	AnalysisAPIURL        string
	AnalysisAPIKey        string
	EmbeddingAPIURL       string

	// Ingress
	VerifierAuthToken  string
	MaxFileSizeGB      int
	EnableLegacyUpload bool
	TempDir            string

	// Pipeline
	MaxConcurrentVerifications int
	VerifierQueueSize          int

	// Background workers
	RankRefreshInterval time.Duration

	// Logging
	LogLevel  string
	LogFormat string

	// Tuning overrides (thresholds, retry policy)
	TuningFile string

	// Features
	MetricsEnabled bool
}

// Load loads configuration based on the VERIFIER_ENV environment variable.
func Load() (*Config, error) {
	envStr := os.Getenv("VERIFIER_ENV")
	if envStr == "" {
		envStr = string(Development)
	}

	env := Environment(strings.ToLower(envStr))
	switch env {
	case Development, Testing, Production:
	default:
		return nil, fmt.Errorf("invalid VERIFIER_ENV: %s (must be development, testing, or production)", envStr)
	}

	// Load optional .env file. Parse errors are worth surfacing; a missing
	// file is the normal case in container deployments.
	if err := godotenv.Load(); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			fmt.Printf("Warning: could not load .env: %v\n", err)
		}
	}

	cfg := &Config{
		Env: env,
	}

	if err := cfg.loadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	return cfg, nil
}

// loadFromEnv loads configuration from environment variables
func (c *Config) loadFromEnv() error {
	// HTTP
	c.Port = getIntEnv("PORT", 8080)
	c.CORSOrigins = splitAndTrim(getEnv("CORS_ORIGIN", "http://localhost:3000"))
	c.RateLimitRPS = getIntEnv("RATE_LIMIT_RPS", 0)
	c.RateLimitBurst = getIntEnv("RATE_LIMIT_BURST", 2*c.RateLimitRPS)

	// Database
	c.DatabaseURL = getEnv("DATABASE_URL", "")
	c.DBMaxConnections = getIntEnv("DB_MAX_CONNECTIONS", 10)

	// Blob aggregator
	c.AggregatorURL = getEnv("AGGREGATOR_URL", "")
	c.AggregatorToken = getEnv("AGGREGATOR_TOKEN", "")

	// Key recovery
	c.KeyServiceURL = getEnv("KEY_SERVICE_URL", "")
	c.KeyPackageID = getEnv("KEY_PACKAGE_ID", "")

	// External services
	c.QualityServiceURL = getEnv("QUALITY_SERVICE_URL", "")
	c.FingerprintServiceURL = getEnv("FINGERPRINT_SERVICE_URL", "")
	c.FingerprintAPIKey = getEnv("FINGERPRINT_API_KEY", "")
	c.TranscriptionAPIURL = getEnv("TRANSCRIPTION_API_URL", "")
	c.TranscriptionAPIKey = getEnv("TRANSCRIPTION_API_KEY", "")
	c.AnalysisAPIURL = getEnv("ANALYSIS_API_URL", c.TranscriptionAPIURL)
	c.AnalysisAPIKey = getEnv("ANALYSIS_API_KEY", "")
	c.EmbeddingAPIURL = getEnv("EMBEDDING_API_URL", "")

	// Ingress
	c.VerifierAuthToken = getEnv("VERIFIER_AUTH_TOKEN", "")
	c.MaxFileSizeGB = getIntEnv("MAX_FILE_SIZE_GB", 13)
	c.EnableLegacyUpload = getBoolEnv("ENABLE_LEGACY_UPLOAD", false)
	c.TempDir = getEnv("TEMP_DIR", os.TempDir())

	// Pipeline
	c.MaxConcurrentVerifications = getIntEnv("MAX_CONCURRENT_VERIFICATIONS", 4)
	c.VerifierQueueSize = getIntEnv("VERIFIER_QUEUE_SIZE", 16)

	// Background workers
	rankInterval := getEnv("RANK_REFRESH_INTERVAL", "10m")
	interval, err := time.ParseDuration(rankInterval)
	if err != nil {
		return fmt.Errorf("invalid RANK_REFRESH_INTERVAL: %w", err)
	}
	c.RankRefreshInterval = interval

	// Logging
	c.LogLevel = getEnv("LOG_LEVEL", "info")
	c.LogFormat = getEnv("LOG_FORMAT", "json")

	c.TuningFile = getEnv("TUNING_FILE", "")
	c.MetricsEnabled = getBoolEnv("METRICS_ENABLED", true)

	return nil
}

// MaxFileSizeBytes returns the ingress size limit in bytes.
func (c *Config) MaxFileSizeBytes() int64 {
	return int64(c.MaxFileSizeGB) << 30
}

// EncryptedFlowConfigured reports whether the encrypted submission flow has
// everything it needs (aggregator endpoint, key service, sealing policy id).
func (c *Config) EncryptedFlowConfigured() bool {
	return c.AggregatorURL != "" && c.KeyServiceURL != "" && c.KeyPackageID != ""
}

// AuthEnabled reports whether bearer authentication is active.
func (c *Config) AuthEnabled() bool {
	return c.VerifierAuthToken != ""
}

// IsDevelopment returns true if running in development environment
func (c *Config) IsDevelopment() bool {
	return c.Env == Development
}

// IsProduction returns true if running in production environment
func (c *Config) IsProduction() bool {
	return c.Env == Production
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.TranscriptionAPIKey == "" {
		return fmt.Errorf("TRANSCRIPTION_API_KEY is required")
	}
	if c.AnalysisAPIKey == "" {
		return fmt.Errorf("ANALYSIS_API_KEY is required")
	}
	if c.QualityServiceURL == "" {
		return fmt.Errorf("QUALITY_SERVICE_URL is required")
	}

	if c.IsProduction() {
		if !c.AuthEnabled() {
			return fmt.Errorf("VERIFIER_AUTH_TOKEN must be set in production")
		}
		if !c.EncryptedFlowConfigured() {
			return fmt.Errorf("AGGREGATOR_URL, KEY_SERVICE_URL and KEY_PACKAGE_ID must be set in production")
		}
	}

	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid port number: %d", c.Port)
	}
	if c.MaxFileSizeGB < 1 {
		return fmt.Errorf("MAX_FILE_SIZE_GB must be at least 1")
	}
	if c.MaxConcurrentVerifications < 1 {
		return fmt.Errorf("MAX_CONCURRENT_VERIFICATIONS must be at least 1")
	}

	return nil
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func splitAndTrim(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

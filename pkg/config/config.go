package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	// Server configuration
	Port           string
	Env            string
	AllowedOrigins []string

	// Database configuration
	DatabaseURL string

	// Redis configuration (usage metering and advisory locks)
	RedisURL      string
	RedisPassword string

	// JWT configuration
	JWTSecret string

	// TokenSealKey is the hex-encoded 32-byte key used to seal OAuth tokens at rest
	TokenSealKey string

	// Remote accounting API configuration
	QBOBaseURL           string
	QBOTokenURL          string
	QBOClientID          string
	QBOClientSecret      string
	QBORequestsPerSecond float64

	// Generative classification provider configuration
	LLMBaseURL string
	LLMAPIKey  string
	LLMModel   string

	// Sync configuration
	SyncPollInterval          time.Duration
	SyncPageSize              int
	SyncConcurrentConnections int

	// Classification configuration
	ClassifyBatchSize int
	PremiumTiers      []string

	// JobWorkers bounds the background job pool
	JobWorkers int
}

// Load loads configuration from environment variables, optionally layered over
// the file named by CONFIG_FILE.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	cfg := &Config{
		Port:                      v.GetString("PORT"),
		Env:                       v.GetString("ENV"),
		AllowedOrigins:            splitList(v.GetString("ALLOWED_ORIGINS")),
		DatabaseURL:               v.GetString("DATABASE_URL"),
		RedisURL:                  v.GetString("REDIS_URL"),
		RedisPassword:             v.GetString("REDIS_PASSWORD"),
		JWTSecret:                 v.GetString("JWT_SECRET"),
		TokenSealKey:              v.GetString("TOKEN_SEAL_KEY"),
		QBOBaseURL:                v.GetString("QBO_BASE_URL"),
		QBOTokenURL:               v.GetString("QBO_TOKEN_URL"),
		QBOClientID:               v.GetString("QBO_CLIENT_ID"),
		QBOClientSecret:           v.GetString("QBO_CLIENT_SECRET"),
		QBORequestsPerSecond:      v.GetFloat64("QBO_REQUESTS_PER_SECOND"),
		LLMBaseURL:                v.GetString("LLM_BASE_URL"),
		LLMAPIKey:                 v.GetString("LLM_API_KEY"),
		LLMModel:                  v.GetString("LLM_MODEL"),
		SyncPollInterval:          v.GetDuration("SYNC_POLL_INTERVAL"),
		SyncPageSize:              v.GetInt("SYNC_PAGE_SIZE"),
		SyncConcurrentConnections: v.GetInt("SYNC_CONCURRENT_CONNECTIONS"),
		ClassifyBatchSize:         v.GetInt("CLASSIFY_BATCH_SIZE"),
		PremiumTiers:              splitList(v.GetString("PREMIUM_TIERS")),
		JobWorkers:                v.GetInt("JOB_WORKERS"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("PORT", "8080")
	v.SetDefault("ENV", "development")
	v.SetDefault("ALLOWED_ORIGINS", "http://localhost:5173,http://localhost:5174")
	v.SetDefault("REDIS_URL", "localhost:6379")
	v.SetDefault("QBO_BASE_URL", "https://quickbooks.api.intuit.com/v3/company")
	v.SetDefault("QBO_TOKEN_URL", "https://oauth.platform.intuit.com/oauth2/v1/tokens/bearer")
	v.SetDefault("QBO_REQUESTS_PER_SECOND", 8)
	v.SetDefault("LLM_BASE_URL", "https://api.openai.com/v1")
	v.SetDefault("LLM_MODEL", "gpt-4o-mini")
	v.SetDefault("SYNC_POLL_INTERVAL", "15m")
	v.SetDefault("SYNC_PAGE_SIZE", 100)
	v.SetDefault("SYNC_CONCURRENT_CONNECTIONS", 3)
	v.SetDefault("CLASSIFY_BATCH_SIZE", 25)
	v.SetDefault("PREMIUM_TIERS", "pro,business")
	v.SetDefault("JOB_WORKERS", 4)
}

// Validate ensures all required configuration is present
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}

	if len(c.JWTSecret) < 32 {
		return fmt.Errorf("JWT_SECRET must be at least 32 characters long")
	}

	if len(c.TokenSealKey) != 64 {
		return fmt.Errorf("TOKEN_SEAL_KEY must be 32 bytes hex-encoded (64 characters)")
	}

	// OAuth client credentials are required in production but optional in development
	if c.IsProduction() && (c.QBOClientID == "" || c.QBOClientSecret == "") {
		return fmt.Errorf("QBO_CLIENT_ID and QBO_CLIENT_SECRET are required in production")
	}

	if c.SyncPageSize <= 0 || c.SyncPageSize > 1000 {
		return fmt.Errorf("SYNC_PAGE_SIZE must be between 1 and 1000")
	}

	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// splitList splits a comma-separated value, dropping blanks
func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port     string
	Env      string // "development", "staging", "production"
	LogLevel string

	// Database
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)

	// Currency normalization
	BaseFiat   string          // canonical fiat unit for all threshold comparisons
	FiatPerUSD decimal.Decimal // conversion rate from USD quotes into the base fiat

	// Price oracle
	PriceAPIURL string        // optional override of the quote endpoint
	PriceTTL    time.Duration // bounded staleness of cached quotes

	// Rule engine
	RuleCacheTTL time.Duration // propagation bound for admin rule changes
	EvalTimeout  time.Duration // overall per-evaluation timeout (fail closed)

	// Security
	AdminSecret string // shared secret for the review/admin surface

	// Observability
	OTLPEndpoint string // OTLP gRPC endpoint; empty disables tracing
}

const (
	DefaultPort         = "8080"
	DefaultEnv          = "development"
	DefaultLogLevel     = "info"
	DefaultBaseFiat     = "USD"
	DefaultPriceTTL     = 5 * time.Minute
	DefaultRuleCacheTTL = 30 * time.Second
	DefaultEvalTimeout  = 3 * time.Second
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	fiatPerUSD := decimal.NewFromInt(1)
	if v := os.Getenv("FIAT_PER_USD"); v != "" {
		parsed, err := decimal.NewFromString(v)
		if err != nil {
			return nil, fmt.Errorf("FIAT_PER_USD is not a decimal: %q", v)
		}
		fiatPerUSD = parsed
	}

	cfg := &Config{
		Port:         getEnv("PORT", DefaultPort),
		Env:          getEnv("ENV", DefaultEnv),
		LogLevel:     getEnv("LOG_LEVEL", DefaultLogLevel),
		DatabaseURL:  os.Getenv("DATABASE_URL"), // Optional, uses in-memory if not set
		BaseFiat:     getEnv("BASE_FIAT", DefaultBaseFiat),
		FiatPerUSD:   fiatPerUSD,
		PriceAPIURL:  os.Getenv("PRICE_API_URL"),
		PriceTTL:     getEnvSeconds("PRICE_TTL_SECONDS", DefaultPriceTTL),
		RuleCacheTTL: getEnvSeconds("RULE_CACHE_TTL_SECONDS", DefaultRuleCacheTTL),
		EvalTimeout:  getEnvMillis("EVAL_TIMEOUT_MS", DefaultEvalTimeout),
		AdminSecret:  os.Getenv("ADMIN_SECRET"),
		OTLPEndpoint: os.Getenv("OTLP_ENDPOINT"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present and sane
func (c *Config) Validate() error {
	if c.FiatPerUSD.Sign() <= 0 {
		return fmt.Errorf("FIAT_PER_USD must be positive, got %s", c.FiatPerUSD)
	}
	if c.PriceTTL <= 0 {
		return fmt.Errorf("PRICE_TTL_SECONDS must be positive")
	}
	if c.RuleCacheTTL < 0 {
		return fmt.Errorf("RULE_CACHE_TTL_SECONDS must not be negative")
	}
	if c.EvalTimeout <= 0 {
		return fmt.Errorf("EVAL_TIMEOUT_MS must be positive")
	}
	if c.IsProduction() && c.AdminSecret == "" {
		return fmt.Errorf("ADMIN_SECRET is required in production")
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

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvSeconds(key string, defaultValue time.Duration) time.Duration {
	if i := getEnvInt64(key, 0); i > 0 {
		return time.Duration(i) * time.Second
	}
	return defaultValue
}

func getEnvMillis(key string, defaultValue time.Duration) time.Duration {
	if i := getEnvInt64(key, 0); i > 0 {
		return time.Duration(i) * time.Millisecond
	}
	return defaultValue
}

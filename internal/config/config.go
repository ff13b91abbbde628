// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/okwareddevnest/Pesa-Bridge/internal/security"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port     string
	Env      string // "development", "staging", "production"
	LogLevel string

	// Database
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)

	// Authorization settings
	SettlementCurrency string        // Currency all limits and counters are tracked in
	AuthTimeout        time.Duration // How long a push prompt may stay unanswered
	SweepInterval      time.Duration // How often the expiry sweeper runs

	// Gateway settings
	GatewayMode     string // "simulate" is the only built-in mode; real providers plug in via gateway.Port
	CallbackBaseURL string // Advertised base URL for provider callbacks

	// Observability
	OTLPEndpoint string // OTLP gRPC endpoint for traces (optional)
}

const (
	DefaultPort               = "8080"
	DefaultEnv                = "development"
	DefaultLogLevel           = "info"
	DefaultSettlementCurrency = "KES"
	DefaultAuthTimeout        = 30 * time.Second
	DefaultSweepInterval      = 10 * time.Second
	DefaultGatewayMode        = "simulate"
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:               getEnv("PORT", DefaultPort),
		Env:                getEnv("ENV", DefaultEnv),
		LogLevel:           getEnv("LOG_LEVEL", DefaultLogLevel),
		DatabaseURL:        os.Getenv("DATABASE_URL"), // Optional, uses in-memory if not set
		SettlementCurrency: getEnv("SETTLEMENT_CURRENCY", DefaultSettlementCurrency),
		AuthTimeout:        getEnvSeconds("AUTH_TIMEOUT_SECONDS", DefaultAuthTimeout),
		SweepInterval:      getEnvSeconds("SWEEP_INTERVAL_SECONDS", DefaultSweepInterval),
		GatewayMode:        getEnv("GATEWAY_MODE", DefaultGatewayMode),
		CallbackBaseURL:    os.Getenv("CALLBACK_BASE_URL"),
		OTLPEndpoint:       os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present and sane
func (c *Config) Validate() error {
	if c.AuthTimeout <= 0 {
		return fmt.Errorf("AUTH_TIMEOUT_SECONDS must be positive")
	}
	if c.SweepInterval <= 0 {
		return fmt.Errorf("SWEEP_INTERVAL_SECONDS must be positive")
	}
	if len(c.SettlementCurrency) != 3 {
		return fmt.Errorf("SETTLEMENT_CURRENCY must be a 3-letter ISO code")
	}
	if c.GatewayMode != "simulate" {
		return fmt.Errorf("GATEWAY_MODE %q is not supported (only \"simulate\" is built in)", c.GatewayMode)
	}
	if c.CallbackBaseURL != "" {
		// The provider will be told to POST results here, so it has to be a
		// resolvable public URL rather than something inside our network.
		if err := security.ValidateEndpointURL(c.CallbackBaseURL); err != nil {
			return fmt.Errorf("CALLBACK_BASE_URL: %w", err)
		}
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

func getEnvSeconds(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return time.Duration(i) * time.Second
		}
	}
	return defaultValue
}

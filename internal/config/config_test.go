package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Test helper to set env vars and clean up after
func setEnv(t *testing.T, key, value string) {
	t.Helper()
	old := os.Getenv(key)
	os.Setenv(key, value)
	t.Cleanup(func() {
		if old == "" {
			os.Unsetenv(key)
		} else {
			os.Setenv(key, old)
		}
	})
}

func TestLoad_Defaults(t *testing.T) {
	for _, key := range []string{
		"PORT", "ENV", "SETTLEMENT_CURRENCY",
		"AUTH_TIMEOUT_SECONDS", "SWEEP_INTERVAL_SECONDS",
		"GATEWAY_MODE", "CALLBACK_BASE_URL",
	} {
		setEnv(t, key, "")
	}

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, DefaultPort, cfg.Port)
	assert.Equal(t, DefaultEnv, cfg.Env)
	assert.Equal(t, DefaultSettlementCurrency, cfg.SettlementCurrency)
	assert.Equal(t, DefaultAuthTimeout, cfg.AuthTimeout)
	assert.Equal(t, DefaultSweepInterval, cfg.SweepInterval)
	assert.Equal(t, DefaultGatewayMode, cfg.GatewayMode)
}

func TestLoad_Overrides(t *testing.T) {
	setEnv(t, "PORT", "9090")
	setEnv(t, "SETTLEMENT_CURRENCY", "UGX")
	setEnv(t, "AUTH_TIMEOUT_SECONDS", "45")
	setEnv(t, "SWEEP_INTERVAL_SECONDS", "5")
	setEnv(t, "CALLBACK_BASE_URL", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, "UGX", cfg.SettlementCurrency)
	assert.Equal(t, 45*time.Second, cfg.AuthTimeout)
	assert.Equal(t, 5*time.Second, cfg.SweepInterval)
}

func TestConfig_Validate(t *testing.T) {
	valid := Config{
		SettlementCurrency: "KES",
		AuthTimeout:        30 * time.Second,
		SweepInterval:      10 * time.Second,
		GatewayMode:        "simulate",
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{
			name:    "valid config",
			mutate:  func(c *Config) {},
			wantErr: "",
		},
		{
			name:    "non-positive auth timeout",
			mutate:  func(c *Config) { c.AuthTimeout = 0 },
			wantErr: "AUTH_TIMEOUT_SECONDS must be positive",
		},
		{
			name:    "non-positive sweep interval",
			mutate:  func(c *Config) { c.SweepInterval = -time.Second },
			wantErr: "SWEEP_INTERVAL_SECONDS must be positive",
		},
		{
			name:    "bad settlement currency",
			mutate:  func(c *Config) { c.SettlementCurrency = "SHILLINGS" },
			wantErr: "3-letter ISO code",
		},
		{
			name:    "unsupported gateway mode",
			mutate:  func(c *Config) { c.GatewayMode = "daraja" },
			wantErr: "GATEWAY_MODE",
		},
		{
			name:    "private callback URL",
			mutate:  func(c *Config) { c.CallbackBaseURL = "https://10.0.0.5/callbacks" },
			wantErr: "CALLBACK_BASE_URL",
		},
		{
			name:    "malformed callback URL",
			mutate:  func(c *Config) { c.CallbackBaseURL = "ftp://example.com" },
			wantErr: "CALLBACK_BASE_URL",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestConfig_IsDevelopment(t *testing.T) {
	cfg := &Config{Env: "development"}
	assert.True(t, cfg.IsDevelopment())
	assert.False(t, cfg.IsProduction())

	cfg.Env = "production"
	assert.False(t, cfg.IsDevelopment())
	assert.True(t, cfg.IsProduction())
}

func TestGetEnv(t *testing.T) {
	setEnv(t, "TEST_VAR", "custom_value")

	assert.Equal(t, "custom_value", getEnv("TEST_VAR", "default"))
	assert.Equal(t, "default", getEnv("NONEXISTENT_VAR", "default"))
}

func TestGetEnvSeconds(t *testing.T) {
	setEnv(t, "TEST_SECONDS", "42")
	setEnv(t, "TEST_INVALID", "not_a_number")

	assert.Equal(t, 42*time.Second, getEnvSeconds("TEST_SECONDS", time.Second))
	assert.Equal(t, 99*time.Second, getEnvSeconds("NONEXISTENT_VAR", 99*time.Second))
	assert.Equal(t, 99*time.Second, getEnvSeconds("TEST_INVALID", 99*time.Second)) // Falls back on parse error
}
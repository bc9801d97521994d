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

func validConfig() Config {
	return Config{
		Port:           "8080",
		Env:            "development",
		LogFormat:      "text",
		LedgerBackend:  "memory",
		DataDir:        DefaultDataDir,
		ProgramName:    DefaultProgramName,
		RateLimitRPM:   DefaultRateLimitRPM,
		RateLimitBurst: DefaultRateLimitBurst,
	}
}

func TestLoad_Defaults(t *testing.T) {
	setEnv(t, "ENV", "")
	setEnv(t, "PORT", "9090")
	setEnv(t, "LEDGER_BACKEND", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, DefaultEnv, cfg.Env)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Equal(t, "memory", cfg.LedgerBackend)
	assert.Equal(t, DefaultProgramName, cfg.ProgramName)
	assert.Equal(t, uint64(DefaultStorageDepositBase), cfg.StorageDepositBase)
	assert.Equal(t, uint64(DefaultStorageDepositPerByte), cfg.StorageDepositPerByte)
	assert.Equal(t, DefaultRequestTimeout, cfg.RequestTimeout)
	assert.True(t, cfg.EnableDevFaucet, "faucet defaults on outside production")
}

func TestLoad_Overrides(t *testing.T) {
	setEnv(t, "LEDGER_BACKEND", "Pebble")
	setEnv(t, "DATA_DIR", "/var/lib/safetransfer")
	setEnv(t, "PROGRAM_NAME", "escrow-staging")
	setEnv(t, "STORAGE_DEPOSIT_BASE", "0")
	setEnv(t, "STORAGE_DEPOSIT_PER_BYTE", "10")
	setEnv(t, "ENABLE_DEV_FAUCET", "false")
	setEnv(t, "CORS_ALLOWED_ORIGINS", "https://a.example, ,https://b.example")
	setEnv(t, "REQUEST_TIMEOUT", "5s")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "pebble", cfg.LedgerBackend)
	assert.Equal(t, "/var/lib/safetransfer", cfg.DataDir)
	assert.Equal(t, "escrow-staging", cfg.ProgramName)
	assert.Zero(t, cfg.StorageDepositBase)
	assert.Equal(t, uint64(10), cfg.StorageDepositPerByte)
	assert.False(t, cfg.EnableDevFaucet)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSAllowedOrigins)
	assert.Equal(t, 5*time.Second, cfg.RequestTimeout)
}

func TestLoad_ProductionDefaults(t *testing.T) {
	setEnv(t, "ENV", "production")
	setEnv(t, "LEDGER_BACKEND", "postgres")
	setEnv(t, "DATABASE_URL", "postgres://localhost/safetransfer?sslmode=disable")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.False(t, cfg.EnableDevFaucet)
}

func TestLoad_PostgresWithoutURL(t *testing.T) {
	setEnv(t, "LEDGER_BACKEND", "postgres")
	setEnv(t, "DATABASE_URL", "")

	_, err := Load()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "DATABASE_URL is required")
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"valid config", func(*Config) {}, ""},
		{"bad port", func(c *Config) { c.Port = "http" }, "PORT must be numeric"},
		{"unknown backend", func(c *Config) { c.LedgerBackend = "redis" }, "LEDGER_BACKEND must be one of"},
		{"bolt without dir", func(c *Config) { c.LedgerBackend = "bolt"; c.DataDir = "" }, "DATA_DIR is required"},
		{"empty program", func(c *Config) { c.ProgramName = "" }, "PROGRAM_NAME"},
		{"bad log format", func(c *Config) { c.LogFormat = "xml" }, "LOG_FORMAT"},
		{"zero rate limit", func(c *Config) { c.RateLimitRPM = 0 }, "must be positive"},
		{"faucet in production", func(c *Config) {
			c.Env = "production"
			c.LedgerBackend = "pebble"
			c.EnableDevFaucet = true
		}, "ENABLE_DEV_FAUCET"},
		{"memory in production", func(c *Config) { c.Env = "production" }, "memory ledger backend"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
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

func TestGetEnvNumbers(t *testing.T) {
	setEnv(t, "TEST_INT", "42")
	setEnv(t, "TEST_INVALID", "not_a_number")
	setEnv(t, "TEST_NEG", "-1")

	assert.Equal(t, 42, getEnvInt("TEST_INT", 0))
	assert.Equal(t, 99, getEnvInt("NONEXISTENT_VAR", 99))
	assert.Equal(t, 99, getEnvInt("TEST_INVALID", 99)) // Falls back on parse error

	assert.Equal(t, uint64(42), getEnvUint64("TEST_INT", 0))
	assert.Equal(t, uint64(7), getEnvUint64("TEST_NEG", 7))
}

func TestGetEnvBoolAndDuration(t *testing.T) {
	setEnv(t, "TEST_BOOL", "true")
	setEnv(t, "TEST_DUR", "250ms")
	setEnv(t, "TEST_BAD_DUR", "-3s")

	assert.True(t, getEnvBool("TEST_BOOL", false))
	assert.True(t, getEnvBool("NONEXISTENT_VAR", true))
	assert.Equal(t, 250*time.Millisecond, getEnvDuration("TEST_DUR", time.Second))
	assert.Equal(t, time.Second, getEnvDuration("TEST_BAD_DUR", time.Second))
}

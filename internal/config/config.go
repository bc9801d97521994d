// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port           string
	Env            string // "development", "staging", "production"
	RequestTimeout time.Duration

	// Logging
	LogLevel  string
	LogFormat string // "json" or "text"
	LogFile   string // rotated file in addition to stdout (optional)

	// Ledger storage
	LedgerBackend  string // memory, postgres, pebble, bolt
	DatabaseURL    string // required for postgres
	DataDir        string // required for pebble and bolt
	DBMaxOpenConns int

	// Escrow program
	ProgramName           string
	DerivationCacheSize   int
	StorageDepositBase    uint64
	StorageDepositPerByte uint64
	EnableDevFaucet       bool

	// Security
	RateLimitRPM       int
	RateLimitBurst     int
	CORSAllowedOrigins []string

	// Tracing (optional)
	OTLPEndpoint string
}

const (
	DefaultPort                  = "8080"
	DefaultEnv                   = "development"
	DefaultLogLevel              = "info"
	DefaultLedgerBackend         = "memory"
	DefaultDataDir               = "./data"
	DefaultProgramName           = "safetransfer"
	DefaultDerivationCacheSize   = 4096
	DefaultStorageDepositBase    = 890880
	DefaultStorageDepositPerByte = 6960
	DefaultRateLimitRPM          = 120
	DefaultRateLimitBurst        = 20
	DefaultRequestTimeout        = 30 * time.Second
	DefaultDBMaxOpenConns        = 25
)

var ledgerBackends = []string{"memory", "postgres", "pebble", "bolt"}

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	env := getEnv("ENV", DefaultEnv)
	defaultFormat := "text"
	if env == "production" {
		defaultFormat = "json"
	}

	cfg := &Config{
		Port:                  getEnv("PORT", DefaultPort),
		Env:                   env,
		RequestTimeout:        getEnvDuration("REQUEST_TIMEOUT", DefaultRequestTimeout),
		LogLevel:              getEnv("LOG_LEVEL", DefaultLogLevel),
		LogFormat:             getEnv("LOG_FORMAT", defaultFormat),
		LogFile:               os.Getenv("LOG_FILE"),
		LedgerBackend:         strings.ToLower(getEnv("LEDGER_BACKEND", DefaultLedgerBackend)),
		DatabaseURL:           os.Getenv("DATABASE_URL"),
		DataDir:               getEnv("DATA_DIR", DefaultDataDir),
		DBMaxOpenConns:        getEnvInt("DB_MAX_OPEN_CONNS", DefaultDBMaxOpenConns),
		ProgramName:           getEnv("PROGRAM_NAME", DefaultProgramName),
		DerivationCacheSize:   getEnvInt("DERIVATION_CACHE_SIZE", DefaultDerivationCacheSize),
		StorageDepositBase:    getEnvUint64("STORAGE_DEPOSIT_BASE", DefaultStorageDepositBase),
		StorageDepositPerByte: getEnvUint64("STORAGE_DEPOSIT_PER_BYTE", DefaultStorageDepositPerByte),
		EnableDevFaucet:       getEnvBool("ENABLE_DEV_FAUCET", env != "production"),
		RateLimitRPM:          getEnvInt("RATE_LIMIT_RPM", DefaultRateLimitRPM),
		RateLimitBurst:        getEnvInt("RATE_LIMIT_BURST", DefaultRateLimitBurst),
		CORSAllowedOrigins:    getEnvList("CORS_ALLOWED_ORIGINS"),
		OTLPEndpoint:          os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that the configuration is usable
func (c *Config) Validate() error {
	if _, err := strconv.Atoi(c.Port); err != nil {
		return fmt.Errorf("PORT must be numeric, got %q", c.Port)
	}

	known := false
	for _, b := range ledgerBackends {
		if c.LedgerBackend == b {
			known = true
			break
		}
	}
	if !known {
		return fmt.Errorf("LEDGER_BACKEND must be one of %s, got %q", strings.Join(ledgerBackends, ", "), c.LedgerBackend)
	}

	switch c.LedgerBackend {
	case "postgres":
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required for the postgres ledger backend")
		}
	case "pebble", "bolt":
		if c.DataDir == "" {
			return fmt.Errorf("DATA_DIR is required for the %s ledger backend", c.LedgerBackend)
		}
	}

	if c.ProgramName == "" {
		return fmt.Errorf("PROGRAM_NAME must not be empty")
	}
	if c.LogFormat != "json" && c.LogFormat != "text" {
		return fmt.Errorf("LOG_FORMAT must be json or text, got %q", c.LogFormat)
	}
	if c.RateLimitRPM <= 0 || c.RateLimitBurst <= 0 {
		return fmt.Errorf("RATE_LIMIT_RPM and RATE_LIMIT_BURST must be positive")
	}

	if c.IsProduction() {
		if c.EnableDevFaucet {
			return fmt.Errorf("ENABLE_DEV_FAUCET is not allowed in production")
		}
		if c.LedgerBackend == "memory" {
			return fmt.Errorf("the memory ledger backend is not allowed in production")
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

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvUint64(key string, defaultValue uint64) uint64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseUint(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil && d > 0 {
			return d
		}
	}
	return defaultValue
}

// getEnvList splits a comma-separated variable, dropping blanks.
func getEnvList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

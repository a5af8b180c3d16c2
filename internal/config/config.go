package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

const (
	StorageMemory   = "memory"
	StoragePostgres = "postgres"
)

type Config struct {
	DatabaseHost     string
	DatabasePort     string
	DatabaseUser     string
	DatabasePassword string
	DatabaseName     string
	ServerPort       string
	JWTSecret        string
	LogLevel         string

	Storage        string
	LockTimeout    time.Duration
	CoinsPerCredit decimal.Decimal
	OpeningBalance int64
	CacheTTL       time.Duration
}

// LoadConfig reads an optional .env file and then the process environment.
func LoadConfig() (*Config, error) {
	// a missing .env is normal outside local development
	_ = godotenv.Load()

	cfg := &Config{
		DatabaseHost:     getEnv("DATABASE_HOST", "localhost"),
		DatabasePort:     getEnv("DATABASE_PORT", "5432"),
		DatabaseUser:     getEnv("DATABASE_USER", "postgres"),
		DatabasePassword: getEnv("DATABASE_PASSWORD", "password"),
		DatabaseName:     getEnv("DATABASE_NAME", "ecoswap"),
		ServerPort:       getEnv("SERVER_PORT", "8080"),
		JWTSecret:        getEnv("JWT_SECRET", ""),
		LogLevel:         getEnv("LOG_LEVEL", "info"),
		Storage:          getEnv("LEDGER_STORAGE", StoragePostgres),
	}

	var err error
	if cfg.LockTimeout, err = time.ParseDuration(getEnv("LEDGER_LOCK_TIMEOUT", "5s")); err != nil {
		return nil, fmt.Errorf("invalid LEDGER_LOCK_TIMEOUT: %w", err)
	}
	if cfg.CacheTTL, err = time.ParseDuration(getEnv("LEDGER_CACHE_TTL", "30s")); err != nil {
		return nil, fmt.Errorf("invalid LEDGER_CACHE_TTL: %w", err)
	}
	if cfg.CoinsPerCredit, err = decimal.NewFromString(getEnv("LEDGER_COINS_PER_CREDIT", "1")); err != nil {
		return nil, fmt.Errorf("invalid LEDGER_COINS_PER_CREDIT: %w", err)
	}
	if cfg.OpeningBalance, err = strconv.ParseInt(getEnv("LEDGER_OPENING_BALANCE", "2500"), 10, 64); err != nil {
		return nil, fmt.Errorf("invalid LEDGER_OPENING_BALANCE: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Storage != StorageMemory && c.Storage != StoragePostgres {
		return fmt.Errorf("LEDGER_STORAGE must be %q or %q, got %q", StorageMemory, StoragePostgres, c.Storage)
	}
	if c.LockTimeout <= 0 {
		return fmt.Errorf("LEDGER_LOCK_TIMEOUT must be positive")
	}
	if !c.CoinsPerCredit.IsPositive() {
		return fmt.Errorf("LEDGER_COINS_PER_CREDIT must be positive")
	}
	if c.OpeningBalance < 0 {
		return fmt.Errorf("LEDGER_OPENING_BALANCE must not be negative")
	}
	return nil
}

// DSN builds the lib/pq connection string.
func (c *Config) DSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		c.DatabaseHost,
		c.DatabasePort,
		c.DatabaseUser,
		c.DatabasePassword,
		c.DatabaseName,
	)
}

func getEnv(key, defaultVal string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultVal
}

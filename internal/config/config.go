// Package config provides configuration management for the portfolio ledger.
// It loads configuration from environment variables and .env files.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/portfolio-ledger/internal/types"
	"github.com/shopspring/decimal"
)

// Config holds all application configuration
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Quotes    QuotesConfig
	Ledger    LedgerConfig
	Snapshot  SnapshotConfig
	RateLimit RateLimitConfig
	Logging   LoggingConfig
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port            string
	Host            string
	ShutdownTimeout time.Duration
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Postgres   PostgresConfig
	ClickHouse ClickHouseConfig
	Redis      RedisConfig
}

// PostgresConfig holds Postgres configuration
type PostgresConfig struct {
	Host           string
	Port           string
	Database       string
	User           string
	Password       string
	SSLMode        string
	MaxConnections int
	MigrationsPath string
}

// URL returns the connection URL used by golang-migrate
func (c PostgresConfig) URL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode)
}

// ClickHouseConfig holds ClickHouse configuration.
// The snapshot archive is disabled when Enabled is false.
type ClickHouseConfig struct {
	Enabled        bool
	Host           string
	Port           string
	Database       string
	User           string
	Password       string
	MigrationsPath string
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host           string
	Port           string
	Password       string
	DB             int
	MaxConnections int
}

// QuotesConfig holds market quote configuration
type QuotesConfig struct {
	Provider       string // "alphavantage" or "static"
	APIKey         string
	BaseURL        string
	TTL            time.Duration
	StaleRetention time.Duration
	FetchTimeout   time.Duration
	RequestsPerMin int
	// DailyBudget caps upstream requests per UTC day across all processes; 0 disables it
	DailyBudget    int
	ReservedBudget int    // part of DailyBudget kept for API requests
	StaticPrices   string // SYMBOL=PRICE pairs for the static provider
}

// LedgerConfig holds trading configuration
type LedgerConfig struct {
	StartingBalance decimal.Decimal
	MaxRetries      int
}

// SnapshotConfig holds snapshot worker configuration
type SnapshotConfig struct {
	RetentionDays int
	ValuationMode types.ValuationMode
	Concurrency   int
}

// RateLimitConfig holds API rate limiting configuration
type RateLimitConfig struct {
	RequestsPerMinute int
	Burst             int
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string
	Format string
}

// LoadConfig loads configuration from .env file and environment variables
func LoadConfig() (*Config, error) {
	// .env is optional, environment variables can be set directly
	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("error loading .env file: %w", err)
		}
	}

	mode, err := types.ParseValuationMode(getEnv("SNAPSHOT_VALUATION_MODE", string(types.ValuationCost)))
	if err != nil {
		return nil, fmt.Errorf("SNAPSHOT_VALUATION_MODE: %w", err)
	}

	config := &Config{
		Server: ServerConfig{
			Port:            getEnv("SERVER_PORT", "8080"),
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			ShutdownTimeout: getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		Database: DatabaseConfig{
			Postgres: PostgresConfig{
				Host:           getEnv("POSTGRES_HOST", "localhost"),
				Port:           getEnv("POSTGRES_PORT", "5432"),
				Database:       getEnv("POSTGRES_DB", "portfolio_ledger"),
				User:           getEnv("POSTGRES_USER", "ledger"),
				Password:       getEnv("POSTGRES_PASSWORD", ""),
				SSLMode:        getEnv("POSTGRES_SSLMODE", "disable"),
				MaxConnections: getEnvAsInt("POSTGRES_MAX_CONNECTIONS", 25),
				MigrationsPath: getEnv("POSTGRES_MIGRATIONS_PATH", "migrations/postgres"),
			},
			ClickHouse: ClickHouseConfig{
				Enabled:        getEnvAsBool("CLICKHOUSE_ENABLED", false),
				Host:           getEnv("CLICKHOUSE_HOST", "localhost"),
				Port:           getEnv("CLICKHOUSE_PORT", "9000"),
				Database:       getEnv("CLICKHOUSE_DB", "portfolio_ledger"),
				User:           getEnv("CLICKHOUSE_USER", "default"),
				Password:       getEnv("CLICKHOUSE_PASSWORD", ""),
				MigrationsPath: getEnv("CLICKHOUSE_MIGRATIONS_PATH", "migrations/clickhouse"),
			},
			Redis: RedisConfig{
				Host:           getEnv("REDIS_HOST", "localhost"),
				Port:           getEnv("REDIS_PORT", "6379"),
				Password:       getEnv("REDIS_PASSWORD", ""),
				DB:             getEnvAsInt("REDIS_DB", 0),
				MaxConnections: getEnvAsInt("REDIS_MAX_CONNECTIONS", 20),
			},
		},
		Quotes: QuotesConfig{
			Provider:       getEnv("QUOTE_PROVIDER", "alphavantage"),
			APIKey:         getEnv("ALPHA_VANTAGE_API_KEY", ""),
			BaseURL:        getEnv("ALPHA_VANTAGE_BASE_URL", "https://www.alphavantage.co/query"),
			TTL:            getEnvAsDuration("QUOTE_CACHE_TTL", 5*time.Minute),
			StaleRetention: getEnvAsDuration("QUOTE_STALE_RETENTION", 24*time.Hour),
			FetchTimeout:   getEnvAsDuration("QUOTE_FETCH_TIMEOUT", 5*time.Second),
			RequestsPerMin: getEnvAsInt("QUOTE_REQUESTS_PER_MINUTE", 5),
			DailyBudget:    getEnvAsInt("QUOTE_DAILY_BUDGET", 25),
			ReservedBudget: getEnvAsInt("QUOTE_RESERVED_BUDGET", 15),
			StaticPrices:   getEnv("QUOTE_STATIC_PRICES", ""),
		},
		Ledger: LedgerConfig{
			StartingBalance: getEnvAsDecimal("LEDGER_STARTING_BALANCE", decimal.NewFromInt(10000)),
			MaxRetries:      getEnvAsInt("LEDGER_MAX_RETRIES", 3),
		},
		Snapshot: SnapshotConfig{
			RetentionDays: getEnvAsInt("SNAPSHOT_RETENTION_DAYS", 90),
			ValuationMode: mode,
			Concurrency:   getEnvAsInt("SNAPSHOT_CONCURRENCY", 4),
		},
		RateLimit: RateLimitConfig{
			RequestsPerMinute: getEnvAsInt("RATE_LIMIT_PER_MINUTE", 120),
			Burst:             getEnvAsInt("RATE_LIMIT_BURST", 20),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate rejects configurations the services cannot run with
func (c *Config) Validate() error {
	if !c.Ledger.StartingBalance.IsPositive() {
		return fmt.Errorf("LEDGER_STARTING_BALANCE must be positive")
	}
	if c.Ledger.MaxRetries < 1 {
		return fmt.Errorf("LEDGER_MAX_RETRIES must be at least 1")
	}
	if c.Quotes.TTL <= 0 {
		return fmt.Errorf("QUOTE_CACHE_TTL must be positive")
	}
	if c.Quotes.FetchTimeout <= 0 {
		return fmt.Errorf("QUOTE_FETCH_TIMEOUT must be positive")
	}
	if c.Quotes.StaleRetention < c.Quotes.TTL {
		return fmt.Errorf("QUOTE_STALE_RETENTION must not be shorter than QUOTE_CACHE_TTL")
	}
	if c.Quotes.DailyBudget < 0 || c.Quotes.ReservedBudget < 0 || c.Quotes.ReservedBudget > c.Quotes.DailyBudget && c.Quotes.DailyBudget > 0 {
		return fmt.Errorf("QUOTE_RESERVED_BUDGET must be between 0 and QUOTE_DAILY_BUDGET")
	}
	if c.Snapshot.RetentionDays < 1 {
		return fmt.Errorf("SNAPSHOT_RETENTION_DAYS must be at least 1")
	}
	if c.Database.Postgres.MaxConnections < 1 {
		return fmt.Errorf("POSTGRES_MAX_CONNECTIONS must be at least 1")
	}
	return nil
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt gets an environment variable as an integer with a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsBool gets an environment variable as a boolean with a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDuration gets an environment variable as a duration with a default value
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDecimal gets an environment variable as a decimal with a default value
func getEnvAsDecimal(key string, defaultValue decimal.Decimal) decimal.Decimal {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := decimal.NewFromString(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

package storage

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/portfolio-ledger/internal/config"
)

// testContext creates a context with timeout for tests
func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func testPostgresConfig() *config.PostgresConfig {
	return &config.PostgresConfig{
		Host:           envOr("POSTGRES_HOST", "localhost"),
		Port:           envOr("POSTGRES_PORT", "5432"),
		Database:       envOr("POSTGRES_DB", "portfolio_ledger_test"),
		User:           envOr("POSTGRES_USER", "ledger"),
		Password:       envOr("POSTGRES_PASSWORD", "ledger_dev_password"),
		SSLMode:        "disable",
		MaxConnections: 10,
		MigrationsPath: "../../migrations/postgres",
	}
}

// setupTestDB connects to Postgres and applies migrations, skipping the test
// when no database is reachable.
func setupTestDB(t *testing.T) *PostgresDB {
	t.Helper()

	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	cfg := testPostgresConfig()
	db, err := NewPostgresDB(cfg)
	if err != nil {
		t.Skipf("Skipping test - Postgres not available: %v", err)
	}
	t.Cleanup(db.Close)

	if err := RunMigrations(cfg.URL(), cfg.MigrationsPath); err != nil {
		t.Fatalf("RunMigrations() error = %v", err)
	}

	return db
}

func newTestUserID() string {
	return "test-" + uuid.NewString()
}

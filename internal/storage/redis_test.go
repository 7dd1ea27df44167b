package storage

import (
	"testing"

	"github.com/portfolio-ledger/internal/config"
)

func TestNewRedisCache(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	cfg := &config.RedisConfig{
		Host:           envOr("REDIS_HOST", "localhost"),
		Port:           envOr("REDIS_PORT", "6379"),
		DB:             0,
		MaxConnections: 10,
	}

	cache, err := NewRedisCache(cfg)
	if err != nil {
		t.Skipf("Skipping test - Redis not available: %v", err)
		return
	}
	defer func() {
		if err := cache.Close(); err != nil {
			t.Errorf("Close() error = %v", err)
		}
	}()

	if err := cache.Ping(testContext(t)); err != nil {
		t.Errorf("Ping() error = %v", err)
	}
}

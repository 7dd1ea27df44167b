package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/portfolio-ledger/internal/models"
	"github.com/portfolio-ledger/internal/types"
	"github.com/redis/go-redis/v9"
)

const quoteKeyPrefix = "quote:"

// RedisQuoteStore keeps the last known quote per symbol.
// Entries outlive the freshness TTL so callers can fall back to stale prices;
// freshness is decided by the caller from FetchedAt.
type RedisQuoteStore struct {
	redis     *RedisCache
	retention time.Duration
}

// NewRedisQuoteStore creates a quote store whose keys expire after retention
func NewRedisQuoteStore(redis *RedisCache, retention time.Duration) *RedisQuoteStore {
	return &RedisQuoteStore{
		redis:     redis,
		retention: retention,
	}
}

func quoteKey(symbol string) string {
	return quoteKeyPrefix + types.NormalizeSymbol(symbol)
}

// Get returns the stored quote or nil when none is known
func (s *RedisQuoteStore) Get(ctx context.Context, symbol string) (*models.Quote, error) {
	data, err := s.redis.Client().Get(ctx, quoteKey(symbol)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read quote %s: %w", symbol, err)
	}

	var quote models.Quote
	if err := json.Unmarshal(data, &quote); err != nil {
		return nil, fmt.Errorf("failed to decode quote %s: %w", symbol, err)
	}
	quote.Stale = false
	return &quote, nil
}

// Put stores a quote as the latest known value for its symbol
func (s *RedisQuoteStore) Put(ctx context.Context, quote *models.Quote) error {
	data, err := json.Marshal(quote)
	if err != nil {
		return fmt.Errorf("failed to encode quote %s: %w", quote.Symbol, err)
	}
	if err := s.redis.Client().Set(ctx, quoteKey(quote.Symbol), data, s.retention).Err(); err != nil {
		return fmt.Errorf("failed to write quote %s: %w", quote.Symbol, err)
	}
	return nil
}

// Delete removes any stored quote for symbol
func (s *RedisQuoteStore) Delete(ctx context.Context, symbol string) error {
	return s.redis.Client().Del(ctx, quoteKey(symbol)).Err()
}

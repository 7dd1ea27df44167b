package adapter

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/portfolio-ledger/internal/types"
	"github.com/shopspring/decimal"
)

// StaticSource serves prices from a fixed table; used for local runs without an API key
type StaticSource struct {
	mu     sync.RWMutex
	prices map[string]decimal.Decimal
	now    func() time.Time
}

// NewStaticSource creates a static source with the given prices
func NewStaticSource(prices map[string]decimal.Decimal) *StaticSource {
	normalized := make(map[string]decimal.Decimal, len(prices))
	for symbol, price := range prices {
		normalized[types.NormalizeSymbol(symbol)] = price
	}
	return &StaticSource{prices: normalized, now: time.Now}
}

// ParseStaticPrices parses "AAPL=190.12,MSFT=410" into a price table
func ParseStaticPrices(list string) (map[string]decimal.Decimal, error) {
	prices := make(map[string]decimal.Decimal)
	for _, pair := range strings.Split(list, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		symbol, raw, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, fmt.Errorf("invalid price entry %q", pair)
		}
		price, err := decimal.NewFromString(strings.TrimSpace(raw))
		if err != nil || !price.IsPositive() {
			return nil, fmt.Errorf("invalid price for %s: %q", symbol, raw)
		}
		prices[types.NormalizeSymbol(symbol)] = price
	}
	return prices, nil
}

// Name identifies the source in logs and quotes
func (s *StaticSource) Name() string {
	return "static"
}

// Set changes the price for a symbol
func (s *StaticSource) Set(symbol string, price decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prices[types.NormalizeSymbol(symbol)] = price
}

// GetQuote returns the configured price for symbol
func (s *StaticSource) GetQuote(ctx context.Context, symbol string) (decimal.Decimal, time.Time, error) {
	s.mu.RLock()
	price, ok := s.prices[types.NormalizeSymbol(symbol)]
	s.mu.RUnlock()
	if !ok {
		return decimal.Zero, time.Time{}, fmt.Errorf("%w: %s", ErrUnknownSymbol, symbol)
	}
	return price, s.now().UTC(), nil
}

package adapter

import (
	"fmt"
	"strings"

	"github.com/portfolio-ledger/internal/circuitbreaker"
	"github.com/portfolio-ledger/internal/config"
)

// NewQuoteSourceFromConfig builds the configured quote source. Remote providers are
// wrapped in a GuardedSource so they are throttled and protected by a circuit breaker.
// budget may be nil.
func NewQuoteSourceFromConfig(cfg *config.QuotesConfig, budget Budget) (QuoteSource, error) {
	switch strings.ToLower(cfg.Provider) {
	case "static":
		prices, err := ParseStaticPrices(cfg.StaticPrices)
		if err != nil {
			return nil, fmt.Errorf("QUOTE_STATIC_PRICES: %w", err)
		}
		return NewStaticSource(prices), nil
	case "alphavantage", "":
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("ALPHA_VANTAGE_API_KEY is required for the alphavantage provider")
		}
		client := NewAlphaVantageClient(cfg.APIKey, cfg.BaseURL, cfg.FetchTimeout)
		breaker := circuitbreaker.NewCircuitBreaker(circuitbreaker.DefaultConfig(client.Name()))
		guarded := NewGuardedSource(client, cfg.RequestsPerMin, breaker)
		if budget != nil {
			guarded.WithBudget(budget)
		}
		return guarded, nil
	default:
		return nil, fmt.Errorf("unknown quote provider %q", cfg.Provider)
	}
}

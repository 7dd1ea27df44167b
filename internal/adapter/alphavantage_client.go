package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/portfolio-ledger/internal/types"
	"github.com/shopspring/decimal"
)

// AlphaVantageClient fetches equity quotes from the Alpha Vantage GLOBAL_QUOTE endpoint
type AlphaVantageClient struct {
	apiKey  string
	baseURL string
	client  *http.Client
	now     func() time.Time
}

// NewAlphaVantageClient creates a new Alpha Vantage client
func NewAlphaVantageClient(apiKey, baseURL string, timeout time.Duration) *AlphaVantageClient {
	return &AlphaVantageClient{
		apiKey:  apiKey,
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
		now:     time.Now,
	}
}

type globalQuoteResponse struct {
	GlobalQuote  map[string]string `json:"Global Quote"`
	Note         string            `json:"Note"`
	Information  string            `json:"Information"`
	ErrorMessage string            `json:"Error Message"`
}

// Name identifies the source in logs and quotes
func (c *AlphaVantageClient) Name() string {
	return "alphavantage"
}

// GetQuote returns the latest traded price for symbol
func (c *AlphaVantageClient) GetQuote(ctx context.Context, symbol string) (decimal.Decimal, time.Time, error) {
	symbol = types.NormalizeSymbol(symbol)

	params := url.Values{
		"function": {"GLOBAL_QUOTE"},
		"symbol":   {symbol},
		"apikey":   {c.apiKey},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return decimal.Zero, time.Time{}, fmt.Errorf("failed to build quote request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return decimal.Zero, time.Time{}, fmt.Errorf("quote request for %s failed: %w", symbol, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return decimal.Zero, time.Time{}, fmt.Errorf("failed to read quote response: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return decimal.Zero, time.Time{}, ErrSourceRateLimited
	}
	if resp.StatusCode != http.StatusOK {
		return decimal.Zero, time.Time{}, fmt.Errorf("quote source returned status %d", resp.StatusCode)
	}

	var data globalQuoteResponse
	if err := json.Unmarshal(body, &data); err != nil {
		return decimal.Zero, time.Time{}, fmt.Errorf("failed to decode quote response: %w", err)
	}

	switch {
	case data.Note != "" || data.Information != "":
		return decimal.Zero, time.Time{}, ErrSourceRateLimited
	case data.ErrorMessage != "":
		return decimal.Zero, time.Time{}, fmt.Errorf("%w: %s", ErrUnknownSymbol, symbol)
	}

	raw, ok := data.GlobalQuote["05. price"]
	if !ok || raw == "" {
		return decimal.Zero, time.Time{}, fmt.Errorf("%w: %s", ErrUnknownSymbol, symbol)
	}

	price, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, time.Time{}, fmt.Errorf("invalid price %q for %s: %w", raw, symbol, err)
	}
	if !price.IsPositive() {
		return decimal.Zero, time.Time{}, fmt.Errorf("non-positive price %s for %s", price, symbol)
	}

	return price, c.now().UTC(), nil
}

// Package adapter provides clients for external market quote sources.
package adapter

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrUnknownSymbol is returned when the source has no price for a symbol
	ErrUnknownSymbol = errors.New("unknown symbol")
	// ErrSourceRateLimited is returned when the source refuses the request for quota reasons
	ErrSourceRateLimited = errors.New("quote source rate limited")
)

// QuoteSource supplies the current price for a symbol
type QuoteSource interface {
	GetQuote(ctx context.Context, symbol string) (price decimal.Decimal, ts time.Time, err error)
	Name() string
}

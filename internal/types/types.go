// Package types provides common type definitions for the portfolio ledger.
package types

import (
	"fmt"
	"strings"
)

// TransactionType represents the side of a ledger transaction
type TransactionType string

const (
	// TransactionBuy debits cash and adds shares
	TransactionBuy TransactionType = "BUY"
	// TransactionSell credits cash and removes shares
	TransactionSell TransactionType = "SELL"
)

// Valid reports whether t is a known transaction type
func (t TransactionType) Valid() bool {
	return t == TransactionBuy || t == TransactionSell
}

// ValuationMode selects how holdings are priced in a snapshot
type ValuationMode string

const (
	// ValuationCost values holdings at their average cost
	ValuationCost ValuationMode = "cost"
	// ValuationMarket values holdings at the latest known quote
	ValuationMarket ValuationMode = "market"
)

// ParseValuationMode parses a valuation mode string
func ParseValuationMode(s string) (ValuationMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "cost", "cost_basis":
		return ValuationCost, nil
	case "market":
		return ValuationMarket, nil
	default:
		return "", fmt.Errorf("unknown valuation mode %q", s)
	}
}

// PriceSource describes where a holding's price came from
type PriceSource string

const (
	// PriceSourceMarket is a fresh quote
	PriceSourceMarket PriceSource = "market"
	// PriceSourceStale is a last-known quote older than the cache TTL
	PriceSourceStale PriceSource = "stale"
	// PriceSourceCost is the holding's average cost, used when no quote exists
	PriceSourceCost PriceSource = "cost"
)

// ServiceError represents a structured error response
type ServiceError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func (e *ServiceError) Error() string {
	return e.Message
}

// NormalizeSymbol upper-cases and trims a ticker symbol
func NormalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

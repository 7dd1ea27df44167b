package models

import (
	"fmt"
	"time"

	"github.com/portfolio-ledger/internal/types"
	"github.com/shopspring/decimal"
)

// Transaction is an immutable record of a buy or sell
type Transaction struct {
	ID        string                `json:"id" db:"id"`
	UserID    string                `json:"userId" db:"user_id"`
	Type      types.TransactionType `json:"type" db:"type"`
	Symbol    string                `json:"symbol" db:"symbol"`
	Quantity  decimal.Decimal       `json:"quantity" db:"quantity"`
	Price     decimal.Decimal       `json:"price" db:"price"`
	Total     decimal.Decimal       `json:"total" db:"total"`
	CreatedAt time.Time             `json:"createdAt" db:"created_at"`
}

// Validate checks the record-level invariants of a transaction
func (t *Transaction) Validate() error {
	if !t.Type.Valid() {
		return fmt.Errorf("invalid transaction type %q", t.Type)
	}
	if t.UserID == "" {
		return fmt.Errorf("transaction has no user")
	}
	if t.Symbol == "" {
		return fmt.Errorf("transaction has no symbol")
	}
	if !t.Quantity.IsPositive() {
		return fmt.Errorf("transaction quantity must be positive, got %s", t.Quantity)
	}
	if !t.Price.IsPositive() {
		return fmt.Errorf("transaction price must be positive, got %s", t.Price)
	}
	if want := types.LineTotal(t.Quantity, t.Price); !t.Total.Equal(want) {
		return fmt.Errorf("transaction total %s does not match %s", t.Total, want)
	}
	return nil
}

// TransactionFilter narrows a transaction history query
type TransactionFilter struct {
	Since  *time.Time
	Until  *time.Time
	Symbol string
	Limit  int
	// NewestFirst returns the most recent transactions first
	NewestFirst bool
}

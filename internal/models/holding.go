package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Holding is a user's open position in one symbol.
// A holding with zero quantity is never persisted.
type Holding struct {
	UserID      string          `json:"userId" db:"user_id"`
	Symbol      string          `json:"symbol" db:"symbol"`
	Quantity    decimal.Decimal `json:"quantity" db:"quantity"`
	AverageCost decimal.Decimal `json:"averageCost" db:"average_cost"`
	CreatedAt   time.Time       `json:"createdAt" db:"created_at"`
	UpdatedAt   time.Time       `json:"updatedAt" db:"updated_at"`
}

// CostBasis returns quantity * average cost
func (h *Holding) CostBasis() decimal.Decimal {
	return h.Quantity.Mul(h.AverageCost)
}

// Clone returns a copy of the holding
func (h *Holding) Clone() *Holding {
	if h == nil {
		return nil
	}
	c := *h
	return &c
}

package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Account is a user's simulated cash account
type Account struct {
	UserID          string          `json:"userId" db:"user_id"`
	CashBalance     decimal.Decimal `json:"cashBalance" db:"cash_balance"`
	StartingBalance decimal.Decimal `json:"startingBalance" db:"starting_balance"`
	TotalValue      decimal.Decimal `json:"totalValue" db:"total_value"`
	Version         int64           `json:"version" db:"version"`
	CreatedAt       time.Time       `json:"createdAt" db:"created_at"`
	UpdatedAt       time.Time       `json:"updatedAt" db:"updated_at"`
}

// Clone returns a copy of the account
func (a *Account) Clone() *Account {
	if a == nil {
		return nil
	}
	c := *a
	return &c
}

package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Quote is a price observation for a symbol
type Quote struct {
	Symbol    string          `json:"symbol"`
	Price     decimal.Decimal `json:"price"`
	FetchedAt time.Time       `json:"fetchedAt"`
	Stale     bool            `json:"stale"`
	Source    string          `json:"source,omitempty"`
}

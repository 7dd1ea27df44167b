package models

import (
	"time"

	"github.com/portfolio-ledger/internal/types"
	"github.com/shopspring/decimal"
)

// Snapshot is the valuation of one user's account on one UTC calendar day
type Snapshot struct {
	UserID             string              `json:"userId" db:"user_id"`
	SnapshotDate       time.Time           `json:"snapshotDate" db:"snapshot_date"`
	Balance            decimal.Decimal     `json:"balance" db:"balance"`
	TotalValue         decimal.Decimal     `json:"totalValue" db:"total_value"`
	TotalInvested      decimal.Decimal     `json:"totalInvested" db:"total_invested"`
	TotalSold          decimal.Decimal     `json:"totalSold" db:"total_sold"`
	DailyChange        decimal.Decimal     `json:"dailyChange" db:"daily_change"`
	DailyChangePercent decimal.Decimal     `json:"dailyChangePercent" db:"daily_change_percent"`
	Holdings           []SnapshotHolding   `json:"holdings" db:"holdings"`
	ValuationMode      types.ValuationMode `json:"valuationMode" db:"valuation_mode"`
	QuoteFallback      bool                `json:"quoteFallback" db:"quote_fallback"`
	CreatedAt          time.Time           `json:"createdAt" db:"created_at"`
}

// SnapshotHolding is the point-in-time copy of a holding stored with a snapshot
type SnapshotHolding struct {
	Symbol      string          `json:"symbol"`
	Quantity    decimal.Decimal `json:"quantity"`
	AverageCost decimal.Decimal `json:"averageCost"`
	Price       decimal.Decimal `json:"price"`
	MarketValue decimal.Decimal `json:"marketValue"`
}

// SnapshotDay truncates t to midnight UTC
func SnapshotDay(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

package service

import (
	"context"
	"time"

	"github.com/portfolio-ledger/internal/analytics"
	apperrors "github.com/portfolio-ledger/internal/errors"
	"github.com/portfolio-ledger/internal/models"
)

// PerformanceReport is the analytics summary for a lookback window
type PerformanceReport struct {
	UserID string    `json:"userId"`
	Days   int       `json:"days"`
	From   time.Time `json:"from"`
	To     time.Time `json:"to"`
	analytics.Performance
}

// PerformanceService computes analytics over a user's snapshot history
type PerformanceService struct {
	snapshots SnapshotRepository
	now       func() time.Time
}

// NewPerformanceService creates a new performance service
func NewPerformanceService(snapshots SnapshotRepository) *PerformanceService {
	return &PerformanceService{snapshots: snapshots, now: time.Now}
}

// GetPerformance returns return, volatility, Sharpe ratio, drawdown and best and
// worst day over the last days days. Fewer than two snapshots give a zeroed report.
func (s *PerformanceService) GetPerformance(ctx context.Context, userID string, days int) (*PerformanceReport, error) {
	if userID == "" {
		return nil, apperrors.NewUnauthorizedError("missing user id")
	}
	days, err := normalizeDays(days)
	if err != nil {
		return nil, err
	}

	to := models.SnapshotDay(s.now())
	from := windowStart(to, days)

	snapshots, err := s.snapshots.ListRange(ctx, userID, from, to)
	if err != nil {
		return nil, mapStoreError("list snapshots", userID, err)
	}

	return &PerformanceReport{
		UserID:      userID,
		Days:        days,
		From:        from,
		To:          to,
		Performance: analytics.Compute(snapshots),
	}, nil
}

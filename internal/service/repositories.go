package service

import (
	"context"
	"errors"
	"time"

	apperrors "github.com/portfolio-ledger/internal/errors"
	"github.com/portfolio-ledger/internal/models"
	"github.com/portfolio-ledger/internal/storage"
	"github.com/shopspring/decimal"
)

// AccountRepository interface for account data operations
type AccountRepository interface {
	EnsureAccount(ctx context.Context, userID string, startingBalance decimal.Decimal) (*models.Account, error)
	GetByUserID(ctx context.Context, userID string) (*models.Account, error)
	UpdateTotalValue(ctx context.Context, userID string, totalValue decimal.Decimal) error
	ListUserIDs(ctx context.Context) ([]string, error)
}

// LedgerRepository interface for atomic per-user ledger access
type LedgerRepository interface {
	WithUserLock(ctx context.Context, userID string, fn func(ctx context.Context, tx storage.LedgerTx) error) error
	ReadPortfolio(ctx context.Context, userID string) (*models.Account, []*models.Holding, error)
}

// TransactionRepository interface for transaction history reads
type TransactionRepository interface {
	ListByUser(ctx context.Context, userID string, filter models.TransactionFilter) ([]*models.Transaction, error)
	Totals(ctx context.Context, userID string, until *time.Time) (invested, sold decimal.Decimal, err error)
}

// SnapshotRepository interface for snapshot data operations
type SnapshotRepository interface {
	CreateIfAbsent(ctx context.Context, snapshot *models.Snapshot) (*models.Snapshot, bool, error)
	GetByUserAndDate(ctx context.Context, userID string, date time.Time) (*models.Snapshot, error)
	GetLatestBefore(ctx context.Context, userID string, date time.Time) (*models.Snapshot, error)
	ListRange(ctx context.Context, userID string, from, to time.Time) ([]*models.Snapshot, error)
	ListOlderThan(ctx context.Context, cutoff, afterDate time.Time, afterUser string, limit int) ([]*models.Snapshot, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// SnapshotArchiver copies expired snapshots to long-term storage
type SnapshotArchiver interface {
	Archive(ctx context.Context, snapshots []*models.Snapshot) error
}

// QuoteStore keeps the last known quote per symbol
type QuoteStore interface {
	Get(ctx context.Context, symbol string) (*models.Quote, error)
	Put(ctx context.Context, quote *models.Quote) error
	Delete(ctx context.Context, symbol string) error
}

// mapStoreError translates storage failures into categorized errors.
// Errors that are already categorized pass through unchanged.
func mapStoreError(operation, userID string, err error) error {
	if err == nil {
		return nil
	}
	if _, ok := apperrors.As(err); ok {
		return err
	}
	switch {
	case errors.Is(err, storage.ErrAccountNotFound):
		return apperrors.NewNoPortfolioError(userID)
	case storage.IsConcurrencyConflict(err):
		return apperrors.NewConcurrentModificationError(userID, err)
	default:
		return apperrors.NewPersistenceError(operation, err)
	}
}

package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/portfolio-ledger/internal/models"
	"github.com/portfolio-ledger/internal/types"
)

const snapshotColumns = `
	user_id,
	snapshot_date,
	balance,
	total_value,
	total_invested,
	total_sold,
	daily_change,
	daily_change_percent,
	holdings,
	valuation_mode,
	quote_fallback,
	created_at`

// SnapshotRepository handles portfolio snapshot storage operations
type SnapshotRepository struct {
	pool *pgxpool.Pool
}

// NewSnapshotRepository creates a new snapshot repository
func NewSnapshotRepository(pool *pgxpool.Pool) *SnapshotRepository {
	return &SnapshotRepository{pool: pool}
}

func scanSnapshot(row pgx.Row) (*models.Snapshot, error) {
	var s models.Snapshot
	var holdingsJSON []byte
	var mode string

	err := row.Scan(
		&s.UserID,
		&s.SnapshotDate,
		&s.Balance,
		&s.TotalValue,
		&s.TotalInvested,
		&s.TotalSold,
		&s.DailyChange,
		&s.DailyChangePercent,
		&holdingsJSON,
		&mode,
		&s.QuoteFallback,
		&s.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(holdingsJSON, &s.Holdings); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot holdings: %w", err)
	}
	s.ValuationMode = types.ValuationMode(mode)
	s.SnapshotDate = models.SnapshotDay(s.SnapshotDate)
	return &s, nil
}

func collectSnapshots(rows pgx.Rows) ([]*models.Snapshot, error) {
	defer rows.Close()

	snapshots := []*models.Snapshot{}
	for rows.Next() {
		s, err := scanSnapshot(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan snapshot row: %w", err)
		}
		snapshots = append(snapshots, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating snapshots: %w", err)
	}
	return snapshots, nil
}

// CreateIfAbsent inserts the snapshot unless one exists for the same user and day.
// It returns the stored row and whether this call created it.
func (r *SnapshotRepository) CreateIfAbsent(ctx context.Context, snapshot *models.Snapshot) (*models.Snapshot, bool, error) {
	holdings := snapshot.Holdings
	if holdings == nil {
		holdings = []models.SnapshotHolding{}
	}
	holdingsJSON, err := json.Marshal(holdings)
	if err != nil {
		return nil, false, fmt.Errorf("failed to marshal snapshot holdings: %w", err)
	}

	created, err := scanSnapshot(r.pool.QueryRow(ctx, `
		INSERT INTO portfolio_snapshots (`+snapshotColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (user_id, snapshot_date) DO NOTHING
		RETURNING `+snapshotColumns,
		snapshot.UserID,
		models.SnapshotDay(snapshot.SnapshotDate),
		snapshot.Balance,
		snapshot.TotalValue,
		snapshot.TotalInvested,
		snapshot.TotalSold,
		snapshot.DailyChange,
		snapshot.DailyChangePercent,
		holdingsJSON,
		string(snapshot.ValuationMode),
		snapshot.QuoteFallback,
		snapshot.CreatedAt,
	))
	if err == nil {
		return created, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, fmt.Errorf("failed to insert snapshot: %w", err)
	}

	// Lost the race: another writer stored this day first
	existing, err := r.GetByUserAndDate(ctx, snapshot.UserID, snapshot.SnapshotDate)
	if err != nil {
		return nil, false, err
	}
	if existing == nil {
		return nil, false, fmt.Errorf("snapshot for %s on %s conflicted but was not found",
			snapshot.UserID, snapshot.SnapshotDate.Format("2006-01-02"))
	}
	return existing, false, nil
}

// GetByUserAndDate returns the snapshot for one day or nil
func (r *SnapshotRepository) GetByUserAndDate(ctx context.Context, userID string, date time.Time) (*models.Snapshot, error) {
	s, err := scanSnapshot(r.pool.QueryRow(ctx, `
		SELECT `+snapshotColumns+`
		FROM portfolio_snapshots
		WHERE user_id = $1 AND snapshot_date = $2
	`, userID, models.SnapshotDay(date)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get snapshot: %w", err)
	}
	return s, nil
}

// GetLatestBefore returns the most recent snapshot strictly before date, or nil
func (r *SnapshotRepository) GetLatestBefore(ctx context.Context, userID string, date time.Time) (*models.Snapshot, error) {
	s, err := scanSnapshot(r.pool.QueryRow(ctx, `
		SELECT `+snapshotColumns+`
		FROM portfolio_snapshots
		WHERE user_id = $1 AND snapshot_date < $2
		ORDER BY snapshot_date DESC
		LIMIT 1
	`, userID, models.SnapshotDay(date)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get previous snapshot: %w", err)
	}
	return s, nil
}

// ListRange returns snapshots with from <= date <= to in chronological order
func (r *SnapshotRepository) ListRange(ctx context.Context, userID string, from, to time.Time) ([]*models.Snapshot, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+snapshotColumns+`
		FROM portfolio_snapshots
		WHERE user_id = $1 AND snapshot_date >= $2 AND snapshot_date <= $3
		ORDER BY snapshot_date ASC
	`, userID, models.SnapshotDay(from), models.SnapshotDay(to))
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshots: %w", err)
	}
	return collectSnapshots(rows)
}

// ListOlderThan returns up to limit snapshots dated before cutoff, oldest first.
// Paging is keyset based: only rows ordered after (afterDate, afterUser) are returned.
func (r *SnapshotRepository) ListOlderThan(ctx context.Context, cutoff, afterDate time.Time, afterUser string, limit int) ([]*models.Snapshot, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+snapshotColumns+`
		FROM portfolio_snapshots
		WHERE snapshot_date < $1 AND (snapshot_date, user_id) > ($2, $3)
		ORDER BY snapshot_date ASC, user_id ASC
		LIMIT $4
	`, models.SnapshotDay(cutoff), models.SnapshotDay(afterDate), afterUser, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query expired snapshots: %w", err)
	}
	return collectSnapshots(rows)
}

// DeleteOlderThan purges snapshots dated before cutoff and returns how many were removed
func (r *SnapshotRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM portfolio_snapshots WHERE snapshot_date < $1`, models.SnapshotDay(cutoff))
	if err != nil {
		return 0, fmt.Errorf("failed to delete old snapshots: %w", err)
	}
	return tag.RowsAffected(), nil
}

package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/portfolio-ledger/internal/models"
)

// SnapshotArchive copies expiring snapshots into ClickHouse before they are purged
type SnapshotArchive struct {
	conn driver.Conn
	now  func() time.Time
}

// NewSnapshotArchive creates a ClickHouse-backed snapshot archive
func NewSnapshotArchive(db *ClickHouseDB) *SnapshotArchive {
	return &SnapshotArchive{conn: db.Conn(), now: time.Now}
}

// Archive writes snapshots in one batch. Re-archiving the same rows is harmless:
// the table is a ReplacingMergeTree keyed on (user_id, snapshot_date).
func (a *SnapshotArchive) Archive(ctx context.Context, snapshots []*models.Snapshot) error {
	if len(snapshots) == 0 {
		return nil
	}

	batch, err := a.conn.PrepareBatch(ctx, `
		INSERT INTO portfolio_snapshots_archive (
			user_id, snapshot_date, balance, total_value, total_invested, total_sold,
			daily_change, daily_change_percent, holdings, valuation_mode, quote_fallback,
			created_at, archived_at
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare batch: %w", err)
	}

	archivedAt := a.now().UTC()
	for _, s := range snapshots {
		holdings, err := json.Marshal(s.Holdings)
		if err != nil {
			_ = batch.Abort()
			return fmt.Errorf("failed to marshal holdings for %s: %w", s.UserID, err)
		}

		if err := batch.Append(
			s.UserID,
			s.SnapshotDate,
			s.Balance,
			s.TotalValue,
			s.TotalInvested,
			s.TotalSold,
			s.DailyChange,
			s.DailyChangePercent.Round(4),
			string(holdings),
			string(s.ValuationMode),
			boolToUInt8(s.QuoteFallback),
			s.CreatedAt.UTC(),
			archivedAt,
		); err != nil {
			_ = batch.Abort()
			return fmt.Errorf("failed to append to batch: %w", err)
		}
	}

	return batch.Send()
}

func boolToUInt8(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}

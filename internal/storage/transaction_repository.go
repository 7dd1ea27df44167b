package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/portfolio-ledger/internal/models"
	"github.com/portfolio-ledger/internal/types"
	"github.com/shopspring/decimal"
)

// TransactionRepository reads the append-only transaction log.
// Writes happen only through LedgerTx.AppendTransaction.
type TransactionRepository struct {
	pool *pgxpool.Pool
}

// NewTransactionRepository creates a new transaction repository
func NewTransactionRepository(pool *pgxpool.Pool) *TransactionRepository {
	return &TransactionRepository{pool: pool}
}

func appendTransaction(ctx context.Context, q querier, txn *models.Transaction) error {
	if err := txn.Validate(); err != nil {
		return fmt.Errorf("refusing to append transaction: %w", err)
	}

	_, err := q.Exec(ctx, `
		INSERT INTO transactions (id, user_id, type, symbol, quantity, price, total, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, txn.ID, txn.UserID, string(txn.Type), txn.Symbol, txn.Quantity, txn.Price, txn.Total, txn.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("duplicate transaction id %s: %w", txn.ID, err)
		}
		return fmt.Errorf("failed to insert transaction: %w", err)
	}
	return nil
}

// ListByUser returns a user's transactions ordered by creation time
func (r *TransactionRepository) ListByUser(ctx context.Context, userID string, filter models.TransactionFilter) ([]*models.Transaction, error) {
	query, args := buildTransactionQuery(userID, filter)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	txns := []*models.Transaction{}
	for rows.Next() {
		var t models.Transaction
		var txType string
		if err := rows.Scan(&t.ID, &t.UserID, &txType, &t.Symbol, &t.Quantity, &t.Price, &t.Total, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		t.Type = types.TransactionType(txType)
		txns = append(txns, &t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating transactions: %w", err)
	}
	return txns, nil
}

func buildTransactionQuery(userID string, filter models.TransactionFilter) (string, []interface{}) {
	var b strings.Builder
	b.WriteString(`SELECT id, user_id, type, symbol, quantity, price, total, created_at FROM transactions WHERE user_id = $1`)
	args := []interface{}{userID}

	if filter.Since != nil {
		args = append(args, *filter.Since)
		fmt.Fprintf(&b, " AND created_at >= $%d", len(args))
	}
	if filter.Until != nil {
		args = append(args, *filter.Until)
		fmt.Fprintf(&b, " AND created_at < $%d", len(args))
	}
	if filter.Symbol != "" {
		args = append(args, types.NormalizeSymbol(filter.Symbol))
		fmt.Fprintf(&b, " AND symbol = $%d", len(args))
	}

	if filter.Limit <= 0 {
		if filter.NewestFirst {
			b.WriteString(" ORDER BY created_at DESC, id DESC")
		} else {
			b.WriteString(" ORDER BY created_at ASC, id ASC")
		}
		return b.String(), args
	}

	// the limit always keeps the most recent rows
	args = append(args, filter.Limit)
	fmt.Fprintf(&b, " ORDER BY created_at DESC, id DESC LIMIT $%d", len(args))
	if filter.NewestFirst {
		return b.String(), args
	}
	return "SELECT * FROM (" + b.String() + ") recent ORDER BY created_at ASC, id ASC", args
}

// Totals returns the all-time BUY and SELL totals for a user, optionally up to until
func (r *TransactionRepository) Totals(ctx context.Context, userID string, until *time.Time) (invested, sold decimal.Decimal, err error) {
	query := `
		SELECT
			COALESCE(SUM(total) FILTER (WHERE type = 'BUY'), 0),
			COALESCE(SUM(total) FILTER (WHERE type = 'SELL'), 0)
		FROM transactions
		WHERE user_id = $1`
	args := []interface{}{userID}
	if until != nil {
		query += ` AND created_at < $2`
		args = append(args, *until)
	}

	if err := r.pool.QueryRow(ctx, query, args...).Scan(&invested, &sold); err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("failed to sum transactions: %w", err)
	}
	return invested, sold, nil
}

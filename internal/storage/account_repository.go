package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/portfolio-ledger/internal/models"
	"github.com/shopspring/decimal"
)

// ErrAccountNotFound is returned when a locked operation targets a missing account
var ErrAccountNotFound = errors.New("account not found")

const accountColumns = `user_id, cash_balance, starting_balance, total_value, version, created_at, updated_at`

// AccountRepository handles account storage operations
type AccountRepository struct {
	pool *pgxpool.Pool
}

// NewAccountRepository creates a new account repository
func NewAccountRepository(pool *pgxpool.Pool) *AccountRepository {
	return &AccountRepository{pool: pool}
}

func scanAccount(row pgx.Row) (*models.Account, error) {
	var a models.Account
	err := row.Scan(
		&a.UserID,
		&a.CashBalance,
		&a.StartingBalance,
		&a.TotalValue,
		&a.Version,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// EnsureAccount creates the account with startingBalance if it does not exist
// and returns the stored row. Concurrent callers all observe the same account.
func (r *AccountRepository) EnsureAccount(ctx context.Context, userID string, startingBalance decimal.Decimal) (*models.Account, error) {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO accounts (user_id, cash_balance, starting_balance, total_value)
		VALUES ($1, $2, $2, $2)
		ON CONFLICT (user_id) DO NOTHING
	`, userID, startingBalance)
	if err != nil {
		return nil, fmt.Errorf("failed to create account: %w", err)
	}

	account, err := r.GetByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, fmt.Errorf("account %s missing after insert", userID)
	}
	return account, nil
}

// GetByUserID returns the account or nil when it does not exist
func (r *AccountRepository) GetByUserID(ctx context.Context, userID string) (*models.Account, error) {
	account, err := scanAccount(r.pool.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE user_id = $1`, userID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return account, nil
}

// UpdateTotalValue records a freshly computed total value.
// The version is not bumped because total value is derived data.
func (r *AccountRepository) UpdateTotalValue(ctx context.Context, userID string, totalValue decimal.Decimal) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE accounts SET total_value = $2, updated_at = NOW() WHERE user_id = $1`,
		userID, totalValue)
	if err != nil {
		return fmt.Errorf("failed to update total value: %w", err)
	}
	return nil
}

// ListUserIDs returns every account owner in a stable order
func (r *AccountRepository) ListUserIDs(ctx context.Context) ([]string, error) {
	rows, err := r.pool.Query(ctx, `SELECT user_id FROM accounts ORDER BY user_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan account id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating accounts: %w", err)
	}
	return ids, nil
}

package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/portfolio-ledger/internal/models"
)

// LedgerTx is one user's ledger inside an atomic unit of work.
// The account row is locked for the lifetime of the transaction.
type LedgerTx interface {
	Account() *models.Account
	GetHolding(ctx context.Context, symbol string) (*models.Holding, error)
	ListHoldings(ctx context.Context) ([]*models.Holding, error)
	UpsertHolding(ctx context.Context, holding *models.Holding) error
	DeleteHolding(ctx context.Context, symbol string) error
	UpdateAccount(ctx context.Context, account *models.Account) error
	AppendTransaction(ctx context.Context, tx *models.Transaction) error
}

// LedgerRepository runs per-user atomic ledger mutations
type LedgerRepository struct {
	pool *pgxpool.Pool
}

// NewLedgerRepository creates a new ledger repository
func NewLedgerRepository(pool *pgxpool.Pool) *LedgerRepository {
	return &LedgerRepository{pool: pool}
}

// WithUserLock locks the user's account row and runs fn in one transaction.
// fn's error aborts and is returned unchanged. Commit failures are wrapped.
func (r *LedgerRepository) WithUserLock(ctx context.Context, userID string, fn func(ctx context.Context, tx LedgerTx) error) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("failed to begin ledger transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx) // nolint:errcheck // no-op after commit
	}()

	account, err := scanAccount(tx.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE user_id = $1 FOR UPDATE`, userID))
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrAccountNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to lock account: %w", err)
	}

	if err := fn(ctx, &pgLedgerTx{tx: tx, account: account}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit ledger transaction: %w", err)
	}
	return nil
}

// ReadPortfolio returns the account and its holdings from one consistent snapshot.
// The account is nil when the user has none.
func (r *LedgerRepository) ReadPortfolio(ctx context.Context, userID string) (*models.Account, []*models.Holding, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to begin read transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx) // nolint:errcheck // read-only
	}()

	account, err := scanAccount(tx.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE user_id = $1`, userID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read account: %w", err)
	}

	holdings, err := listHoldings(ctx, tx, userID)
	if err != nil {
		return nil, nil, err
	}
	return account, holdings, nil
}

// ListHoldings returns a user's open positions ordered by symbol
func (r *LedgerRepository) ListHoldings(ctx context.Context, userID string) ([]*models.Holding, error) {
	return listHoldings(ctx, r.pool, userID)
}

func listHoldings(ctx context.Context, q querier, userID string) ([]*models.Holding, error) {
	rows, err := q.Query(ctx, `
		SELECT user_id, symbol, quantity, average_cost, created_at, updated_at
		FROM holdings
		WHERE user_id = $1
		ORDER BY symbol ASC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query holdings: %w", err)
	}
	defer rows.Close()

	holdings := []*models.Holding{}
	for rows.Next() {
		var h models.Holding
		if err := rows.Scan(&h.UserID, &h.Symbol, &h.Quantity, &h.AverageCost, &h.CreatedAt, &h.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan holding: %w", err)
		}
		holdings = append(holdings, &h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating holdings: %w", err)
	}
	return holdings, nil
}

type pgLedgerTx struct {
	tx      pgx.Tx
	account *models.Account
}

func (t *pgLedgerTx) Account() *models.Account {
	return t.account.Clone()
}

func (t *pgLedgerTx) GetHolding(ctx context.Context, symbol string) (*models.Holding, error) {
	var h models.Holding
	err := t.tx.QueryRow(ctx, `
		SELECT user_id, symbol, quantity, average_cost, created_at, updated_at
		FROM holdings
		WHERE user_id = $1 AND symbol = $2
	`, t.account.UserID, symbol).Scan(&h.UserID, &h.Symbol, &h.Quantity, &h.AverageCost, &h.CreatedAt, &h.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get holding: %w", err)
	}
	return &h, nil
}

func (t *pgLedgerTx) ListHoldings(ctx context.Context) ([]*models.Holding, error) {
	return listHoldings(ctx, t.tx, t.account.UserID)
}

func (t *pgLedgerTx) UpsertHolding(ctx context.Context, h *models.Holding) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO holdings (user_id, symbol, quantity, average_cost, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5)
		ON CONFLICT (user_id, symbol) DO UPDATE SET
			quantity = EXCLUDED.quantity,
			average_cost = EXCLUDED.average_cost,
			updated_at = EXCLUDED.updated_at
	`, t.account.UserID, h.Symbol, h.Quantity, h.AverageCost, h.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert holding: %w", err)
	}
	return nil
}

func (t *pgLedgerTx) DeleteHolding(ctx context.Context, symbol string) error {
	_, err := t.tx.Exec(ctx, `DELETE FROM holdings WHERE user_id = $1 AND symbol = $2`, t.account.UserID, symbol)
	if err != nil {
		return fmt.Errorf("failed to delete holding: %w", err)
	}
	return nil
}

// UpdateAccount writes balance and total value if the version is unchanged
func (t *pgLedgerTx) UpdateAccount(ctx context.Context, a *models.Account) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE accounts
		SET cash_balance = $3, total_value = $4, version = version + 1, updated_at = $5
		WHERE user_id = $1 AND version = $2
	`, t.account.UserID, a.Version, a.CashBalance, a.TotalValue, a.UpdatedAt)
	if err != nil {
		if isCheckViolation(err) {
			return fmt.Errorf("account balance would go negative: %w", err)
		}
		return fmt.Errorf("failed to update account: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrVersionConflict
	}
	a.Version++
	t.account = a.Clone()
	return nil
}

func (t *pgLedgerTx) AppendTransaction(ctx context.Context, txn *models.Transaction) error {
	return appendTransaction(ctx, t.tx, txn)
}

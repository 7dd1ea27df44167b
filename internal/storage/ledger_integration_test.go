package storage

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/portfolio-ledger/internal/models"
	"github.com/portfolio-ledger/internal/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestAccountRepository_EnsureAccountIsIdempotent(t *testing.T) {
	db := setupTestDB(t)
	repo := NewAccountRepository(db.Pool())
	ctx := testContext(t)
	userID := newTestUserID()

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := repo.EnsureAccount(ctx, userID, d("10000"))
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	account, err := repo.GetByUserID(ctx, userID)
	require.NoError(t, err)
	require.NotNil(t, account)
	assert.True(t, account.CashBalance.Equal(d("10000")))
	assert.Equal(t, int64(0), account.Version)

	missing, err := repo.GetByUserID(ctx, newTestUserID())
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func buyInTx(ctx context.Context, tx LedgerTx, symbol string, qty, price decimal.Decimal) error {
	account := tx.Account()
	total := types.LineTotal(qty, price)
	now := time.Now().UTC()

	account.CashBalance = account.CashBalance.Sub(total)
	account.UpdatedAt = now
	if err := tx.UpdateAccount(ctx, account); err != nil {
		return err
	}
	if err := tx.UpsertHolding(ctx, &models.Holding{Symbol: symbol, Quantity: qty, AverageCost: price, UpdatedAt: now}); err != nil {
		return err
	}
	return tx.AppendTransaction(ctx, &models.Transaction{
		ID: uuid.NewString(), UserID: account.UserID, Type: types.TransactionBuy,
		Symbol: symbol, Quantity: qty, Price: price, Total: total, CreatedAt: now,
	})
}

func TestLedgerRepository_CommitAndRollback(t *testing.T) {
	db := setupTestDB(t)
	accounts := NewAccountRepository(db.Pool())
	ledger := NewLedgerRepository(db.Pool())
	txns := NewTransactionRepository(db.Pool())
	ctx := testContext(t)
	userID := newTestUserID()

	_, err := accounts.EnsureAccount(ctx, userID, d("1000"))
	require.NoError(t, err)

	err = ledger.WithUserLock(ctx, userID, func(ctx context.Context, tx LedgerTx) error {
		return buyInTx(ctx, tx, "AAPL", d("2"), d("100"))
	})
	require.NoError(t, err)

	errAbort := errors.New("abort")
	err = ledger.WithUserLock(ctx, userID, func(ctx context.Context, tx LedgerTx) error {
		if err := buyInTx(ctx, tx, "MSFT", d("1"), d("300")); err != nil {
			return err
		}
		return errAbort
	})
	assert.ErrorIs(t, err, errAbort)

	account, holdings, err := ledger.ReadPortfolio(ctx, userID)
	require.NoError(t, err)
	assert.True(t, account.CashBalance.Equal(d("800")), "cash = %s", account.CashBalance)
	assert.Equal(t, int64(1), account.Version)
	require.Len(t, holdings, 1)
	assert.Equal(t, "AAPL", holdings[0].Symbol)

	history, err := txns.ListByUser(ctx, userID, models.TransactionFilter{})
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, types.TransactionBuy, history[0].Type)

	invested, sold, err := txns.Totals(ctx, userID, nil)
	require.NoError(t, err)
	assert.True(t, invested.Equal(d("200")))
	assert.True(t, sold.IsZero())
}

func TestLedgerRepository_MissingAccount(t *testing.T) {
	db := setupTestDB(t)
	ledger := NewLedgerRepository(db.Pool())

	err := ledger.WithUserLock(testContext(t), newTestUserID(), func(ctx context.Context, tx LedgerTx) error {
		return nil
	})
	assert.ErrorIs(t, err, ErrAccountNotFound)
}

func TestLedgerRepository_StaleVersionIsRejected(t *testing.T) {
	db := setupTestDB(t)
	accounts := NewAccountRepository(db.Pool())
	ledger := NewLedgerRepository(db.Pool())
	ctx := testContext(t)
	userID := newTestUserID()

	_, err := accounts.EnsureAccount(ctx, userID, d("1000"))
	require.NoError(t, err)

	err = ledger.WithUserLock(ctx, userID, func(ctx context.Context, tx LedgerTx) error {
		stale := tx.Account()
		stale.Version = 41
		stale.UpdatedAt = time.Now()
		return tx.UpdateAccount(ctx, stale)
	})
	assert.True(t, IsConcurrencyConflict(err))
}

func TestLedgerRepository_ConcurrentLocksSerialize(t *testing.T) {
	db := setupTestDB(t)
	accounts := NewAccountRepository(db.Pool())
	ledger := NewLedgerRepository(db.Pool())
	ctx := testContext(t)
	userID := newTestUserID()

	_, err := accounts.EnsureAccount(ctx, userID, d("1000"))
	require.NoError(t, err)

	const n = 10
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = ledger.WithUserLock(ctx, userID, func(ctx context.Context, tx LedgerTx) error {
				return buyInTx(ctx, tx, "SPY", d("1"), d("100"))
			})
		}()
	}
	wg.Wait()

	account, holdings, err := ledger.ReadPortfolio(ctx, userID)
	require.NoError(t, err)
	assert.True(t, account.CashBalance.IsZero(), "cash = %s", account.CashBalance)
	assert.Equal(t, int64(n), account.Version)
	require.Len(t, holdings, 1)
}

func TestSnapshotRepository_CreateIfAbsent(t *testing.T) {
	db := setupTestDB(t)
	accounts := NewAccountRepository(db.Pool())
	snapshots := NewSnapshotRepository(db.Pool())
	ctx := testContext(t)
	userID := newTestUserID()

	_, err := accounts.EnsureAccount(ctx, userID, d("1000"))
	require.NoError(t, err)

	day := time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC)
	first := &models.Snapshot{
		UserID: userID, SnapshotDate: day, Balance: d("1000"), TotalValue: d("1000"),
		Holdings: []models.SnapshotHolding{}, ValuationMode: types.ValuationCost, CreatedAt: time.Now().UTC(),
	}
	stored, created, err := snapshots.CreateIfAbsent(ctx, first)
	require.NoError(t, err)
	assert.True(t, created)

	second := *first
	second.TotalValue = d("9999")
	again, created, err := snapshots.CreateIfAbsent(ctx, &second)
	require.NoError(t, err)
	assert.False(t, created)
	assert.True(t, again.TotalValue.Equal(stored.TotalValue))

	prev, err := snapshots.GetLatestBefore(ctx, userID, day.AddDate(0, 0, 5))
	require.NoError(t, err)
	require.NotNil(t, prev)
	assert.True(t, prev.SnapshotDate.Equal(day))

	none, err := snapshots.GetLatestBefore(ctx, userID, day)
	require.NoError(t, err)
	assert.Nil(t, none)

	list, err := snapshots.ListRange(ctx, userID, day.AddDate(0, 0, -1), day.AddDate(0, 0, 1))
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestLedgerRepository_TradeRoundTripsAtColumnPrecision(t *testing.T) {
	db := setupTestDB(t)
	accounts := NewAccountRepository(db.Pool())
	ledger := NewLedgerRepository(db.Pool())
	txns := NewTransactionRepository(db.Pool())
	ctx := testContext(t)
	userID := newTestUserID()

	_, err := accounts.EnsureAccount(ctx, userID, d("100000"))
	require.NoError(t, err)

	qty, price := d("1000.123456"), d("10.1235")
	err = ledger.WithUserLock(ctx, userID, func(ctx context.Context, tx LedgerTx) error {
		return buyInTx(ctx, tx, "AAPL", qty, price)
	})
	require.NoError(t, err)

	history, err := txns.ListByUser(ctx, userID, models.TransactionFilter{})
	require.NoError(t, err)
	require.Len(t, history, 1)
	stored := history[0]
	assert.True(t, stored.Quantity.Equal(qty), "quantity = %s", stored.Quantity)
	assert.True(t, stored.Price.Equal(price), "price = %s", stored.Price)
	assert.True(t, stored.Total.Equal(types.LineTotal(stored.Quantity, stored.Price)), "total = %s", stored.Total)

	account, holdings, err := ledger.ReadPortfolio(ctx, userID)
	require.NoError(t, err)
	require.Len(t, holdings, 1)
	assert.True(t, holdings[0].Quantity.Equal(qty), "held = %s", holdings[0].Quantity)
	assert.True(t, account.CashBalance.Equal(d("100000").Sub(stored.Total)), "cash = %s", account.CashBalance)
}

func TestTransactionRepository_LimitReturnsMostRecent(t *testing.T) {
	db := setupTestDB(t)
	accounts := NewAccountRepository(db.Pool())
	ledger := NewLedgerRepository(db.Pool())
	txns := NewTransactionRepository(db.Pool())
	ctx := testContext(t)
	userID := newTestUserID()

	_, err := accounts.EnsureAccount(ctx, userID, d("100000"))
	require.NoError(t, err)

	for _, symbol := range []string{"A", "B", "C", "D"} {
		err := ledger.WithUserLock(ctx, userID, func(ctx context.Context, tx LedgerTx) error {
			return buyInTx(ctx, tx, symbol, d("1"), d("10"))
		})
		require.NoError(t, err)
		time.Sleep(2 * time.Millisecond)
	}

	recent, err := txns.ListByUser(ctx, userID, models.TransactionFilter{Limit: 2})
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "C", recent[0].Symbol)
	assert.Equal(t, "D", recent[1].Symbol)
}

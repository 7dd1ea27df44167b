package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	apperrors "github.com/portfolio-ledger/internal/errors"
	"github.com/portfolio-ledger/internal/storage"
	"github.com/portfolio-ledger/internal/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testUser = "user-1"

func newTestLedger(startingBalance string) (*LedgerService, *memLedger) {
	store := newMemLedger()
	svc := NewLedgerService(store, store, d(startingBalance), 3)
	return svc, store
}

func TestBuyWeightedAverageCost(t *testing.T) {
	svc, store := newTestLedger("10000")
	ctx := context.Background()

	_, err := svc.Buy(ctx, testUser, "aapl", d("10"), d("10"))
	require.NoError(t, err)
	result, err := svc.Buy(ctx, testUser, "AAPL", d("10"), d("20"))
	require.NoError(t, err)

	require.NotNil(t, result.Holding)
	assert.True(t, result.Holding.Quantity.Equal(d("20")))
	assert.True(t, result.Holding.AverageCost.Equal(d("15")), "avg = %s", result.Holding.AverageCost)
	assert.True(t, result.Account.CashBalance.Equal(d("9700")))
	assert.True(t, result.Account.TotalValue.Equal(d("10000")))
	assert.Equal(t, types.TransactionBuy, result.Transaction.Type)
	assert.True(t, result.Transaction.Total.Equal(d("200")))

	stored := store.holding(testUser, "AAPL")
	require.NotNil(t, stored)
	assert.True(t, stored.AverageCost.Equal(d("15")))
}

func TestBuyInsufficientFundsLeavesBalanceUnchanged(t *testing.T) {
	svc, store := newTestLedger("10000")
	ctx := context.Background()

	_, err := svc.Buy(ctx, testUser, "AAPL", d("1000000"), d("1"))
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeInsufficientFunds))
	assert.Equal(t, 422, apperrors.GetHTTPStatusCode(err))

	account := store.account(testUser)
	assert.True(t, account.CashBalance.Equal(d("10000")))
	assert.Nil(t, store.holding(testUser, "AAPL"))
	assert.Empty(t, store.transactions)
}

func TestBuyExactBalanceSucceeds(t *testing.T) {
	svc, _ := newTestLedger("100")
	result, err := svc.Buy(context.Background(), testUser, "AAPL", d("4"), d("25"))
	require.NoError(t, err)
	assert.True(t, result.Account.CashBalance.IsZero())
}

func TestPartialSellKeepsAverageCost(t *testing.T) {
	svc, store := newTestLedger("10000")
	ctx := context.Background()
	_, err := store.EnsureAccount(ctx, testUser, d("10000"))
	require.NoError(t, err)
	store.seedHolding(testUser, "AAPL", d("10"), d("15"))

	result, err := svc.Sell(ctx, testUser, "AAPL", d("4"), d("20"))
	require.NoError(t, err)

	assert.False(t, result.HoldingRemoved)
	require.NotNil(t, result.Holding)
	assert.True(t, result.Holding.Quantity.Equal(d("6")))
	assert.True(t, result.Holding.AverageCost.Equal(d("15")))
	assert.True(t, result.Account.CashBalance.Equal(d("10080")))
	assert.True(t, result.Transaction.Total.Equal(d("80")))
}

func TestFullSellRemovesHolding(t *testing.T) {
	svc, store := newTestLedger("10000")
	ctx := context.Background()

	_, err := svc.Buy(ctx, testUser, "MSFT", d("5"), d("100"))
	require.NoError(t, err)

	result, err := svc.Sell(ctx, testUser, "MSFT", d("5"), d("110"))
	require.NoError(t, err)

	assert.True(t, result.HoldingRemoved)
	assert.Nil(t, result.Holding)
	assert.Nil(t, store.holding(testUser, "MSFT"))
	assert.True(t, result.Account.CashBalance.Equal(d("10050")))
}

func TestSellErrors(t *testing.T) {
	svc, store := newTestLedger("10000")
	ctx := context.Background()
	_, err := svc.Buy(ctx, testUser, "AAPL", d("2"), d("10"))
	require.NoError(t, err)

	tests := []struct {
		name     string
		symbol   string
		quantity string
		price    string
		code     string
	}{
		{"no holding", "TSLA", "1", "10", apperrors.CodeNoSuchHolding},
		{"too many shares", "AAPL", "3", "10", apperrors.CodeInsufficientShares},
		{"zero quantity", "AAPL", "0", "10", apperrors.CodeInvalidParameter},
		{"negative price", "AAPL", "1", "-1", apperrors.CodeInvalidParameter},
		{"blank symbol", "  ", "1", "10", apperrors.CodeInvalidParameter},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Sell(ctx, testUser, tt.symbol, d(tt.quantity), d(tt.price))
			require.Error(t, err)
			assert.True(t, apperrors.HasCode(err, tt.code), "got %v", err)
		})
	}

	assert.True(t, store.account(testUser).CashBalance.Equal(d("9980")))
	assert.Len(t, store.transactions, 1)
}

func TestTradePrecisionIsValidated(t *testing.T) {
	svc, store := newTestLedger("10000")
	ctx := context.Background()
	_, err := svc.Buy(ctx, testUser, "AAPL", d("5"), d("10"))
	require.NoError(t, err)

	tests := []struct {
		name     string
		buy      bool
		quantity string
		price    string
	}{
		{"price below rounding unit", true, "100", "0.00004"},
		{"price with five places", true, "1000", "10.12345"},
		{"quantity with seven places", true, "1.0000001", "10"},
		{"buy total rounds to zero", true, "1", "0.004"},
		{"sell total rounds to zero", false, "1", "0.004"},
		{"sell price with five places", false, "1", "10.00001"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var err error
			if tt.buy {
				_, err = svc.Buy(ctx, testUser, "AAPL", d(tt.quantity), d(tt.price))
			} else {
				_, err = svc.Sell(ctx, testUser, "AAPL", d(tt.quantity), d(tt.price))
			}
			require.Error(t, err)
			assert.True(t, apperrors.HasCode(err, apperrors.CodeInvalidParameter), "got %v", err)
		})
	}

	assert.True(t, store.account(testUser).CashBalance.Equal(d("9950")))
	assert.True(t, store.holding(testUser, "AAPL").Quantity.Equal(d("5")))
	assert.Len(t, store.transactions, 1)
}

func TestTradeAtStoredPrecisionKeepsTotalConsistent(t *testing.T) {
	svc, store := newTestLedger("100000")
	ctx := context.Background()

	result, err := svc.Buy(ctx, testUser, "AAPL", d("1000.5"), d("10.1235"))
	require.NoError(t, err)
	assert.True(t, result.Transaction.Total.Equal(d("10128.56")), "total = %s", result.Transaction.Total)
	assert.True(t, result.Transaction.Total.Equal(types.LineTotal(result.Transaction.Quantity, result.Transaction.Price)))

	// smallest trades that still cost a cent keep a positive average cost
	for i := 0; i < 3; i++ {
		_, err := svc.Buy(ctx, testUser, "PENNY", d("51"), d("0.0001"))
		require.NoError(t, err)
	}
	penny := store.holding(testUser, "PENNY")
	require.NotNil(t, penny)
	assert.True(t, penny.Quantity.Equal(d("153")))
	assert.True(t, penny.AverageCost.IsPositive(), "avg = %s", penny.AverageCost)

	sold, err := svc.Sell(ctx, testUser, "AAPL", d("1000.5"), d("10.1235"))
	require.NoError(t, err)
	assert.True(t, sold.HoldingRemoved)
}

func TestTradeRetriesVersionConflicts(t *testing.T) {
	svc, store := newTestLedger("10000")
	store.conflicts = 2

	result, err := svc.Buy(context.Background(), testUser, "AAPL", d("1"), d("10"))
	require.NoError(t, err)
	assert.True(t, result.Account.CashBalance.Equal(d("9990")))
	assert.Len(t, store.transactions, 1)
}

func TestTradeSurfacesConcurrentModificationAfterRetries(t *testing.T) {
	svc, store := newTestLedger("10000")
	store.conflicts = 10

	_, err := svc.Buy(context.Background(), testUser, "AAPL", d("1"), d("10"))
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeConcurrentModification))
	assert.Equal(t, 409, apperrors.GetHTTPStatusCode(err))
	assert.True(t, store.account(testUser).CashBalance.Equal(d("10000")))
	assert.Empty(t, store.transactions)
}

func TestTradeStoreFailureIsPersistenceError(t *testing.T) {
	svc, store := newTestLedger("10000")
	store.failWith = errors.New("connection reset")

	_, err := svc.Buy(context.Background(), testUser, "AAPL", d("1"), d("10"))
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.CodePersistence))
}

func TestMapStoreError(t *testing.T) {
	assert.True(t, apperrors.HasCode(mapStoreError("x", "u", storage.ErrAccountNotFound), apperrors.CodeNoPortfolio))
	assert.True(t, apperrors.HasCode(mapStoreError("x", "u", storage.ErrVersionConflict), apperrors.CodeConcurrentModification))
	assert.Nil(t, mapStoreError("x", "u", nil))

	business := apperrors.NewNoSuchHoldingError("AAPL")
	assert.Same(t, business, mapStoreError("x", "u", business))
}

func TestConcurrentBuysNeverOverspend(t *testing.T) {
	const n = 8
	svc, store := newTestLedger("8000")
	ctx := context.Background()

	// each buy costs 1/n of the balance; launch twice as many as can succeed
	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded, insufficient := 0, 0
	for i := 0; i < 2*n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Buy(ctx, testUser, "AAPL", d("10"), d("100"))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case apperrors.HasCode(err, apperrors.CodeInsufficientFunds):
				insufficient++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, n, succeeded)
	assert.Equal(t, n, insufficient)

	account := store.account(testUser)
	assert.True(t, account.CashBalance.IsZero(), "cash = %s", account.CashBalance)
	assert.True(t, store.holding(testUser, "AAPL").Quantity.Equal(d("80")))
}

func TestLedgerCashInvariantProperty(t *testing.T) {
	properties := gopter.NewProperties(nil)

	type op struct {
		Buy      bool
		Quantity int
		Price    int
	}
	opGen := gopter.CombineGens(gen.Bool(), gen.IntRange(1, 50), gen.IntRange(1, 500)).Map(func(v []interface{}) op {
		return op{Buy: v[0].(bool), Quantity: v[1].(int), Price: v[2].(int)}
	})

	properties.Property("cash equals starting balance plus sells minus buys", prop.ForAll(
		func(ops []op) bool {
			svc, store := newTestLedger("10000")
			ctx := context.Background()
			for _, o := range ops {
				q, p := decimal.NewFromInt(int64(o.Quantity)), decimal.NewFromInt(int64(o.Price))
				if o.Buy {
					_, _ = svc.Buy(ctx, testUser, "AAPL", q, p)
				} else {
					_, _ = svc.Sell(ctx, testUser, "AAPL", q, p)
				}
			}

			account := store.account(testUser)
			if account == nil {
				return len(ops) == 0
			}
			expected := d("10000")
			for _, txn := range store.transactions {
				if txn.Type == types.TransactionBuy {
					expected = expected.Sub(txn.Total)
				} else {
					expected = expected.Add(txn.Total)
				}
			}
			if !account.CashBalance.Equal(expected) || account.CashBalance.IsNegative() {
				return false
			}

			h := store.holding(testUser, "AAPL")
			return h == nil || h.Quantity.IsPositive()
		},
		gen.SliceOf(opGen),
	))

	properties.TestingRun(t)
}

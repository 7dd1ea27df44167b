package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	apperrors "github.com/portfolio-ledger/internal/errors"
	"github.com/portfolio-ledger/internal/logging"
	"github.com/portfolio-ledger/internal/models"
	"github.com/portfolio-ledger/internal/retry"
	"github.com/portfolio-ledger/internal/storage"
	"github.com/portfolio-ledger/internal/types"
	"github.com/shopspring/decimal"
)

// TradeResult is the state of the ledger after a committed buy or sell
type TradeResult struct {
	Account        *models.Account     `json:"account"`
	Holding        *models.Holding     `json:"holding"`
	HoldingRemoved bool                `json:"holdingRemoved"`
	Transaction    *models.Transaction `json:"transaction"`
}

// LedgerService executes buys and sells against a user's cash and holdings.
// Every trade runs in one store transaction with the account row locked, so
// concurrent trades for the same user are serialized.
type LedgerService struct {
	accounts        AccountRepository
	ledger          LedgerRepository
	startingBalance decimal.Decimal
	retryConfig     *retry.RetryConfig
	now             func() time.Time
	newID           func() string
}

// NewLedgerService creates a new ledger service
func NewLedgerService(accounts AccountRepository, ledger LedgerRepository, startingBalance decimal.Decimal, maxAttempts int) *LedgerService {
	return &LedgerService{
		accounts:        accounts,
		ledger:          ledger,
		startingBalance: startingBalance,
		retryConfig:     retry.LedgerRetryConfig(maxAttempts, apperrors.IsRetryable),
		now:             time.Now,
		newID:           func() string { return uuid.NewString() },
	}
}

// Buy debits quantity*price from cash and adds the shares to the holding,
// recomputing the weighted average cost
func (s *LedgerService) Buy(ctx context.Context, userID, symbol string, quantity, price decimal.Decimal) (*TradeResult, error) {
	symbol, err := validateTrade(userID, symbol, quantity, price)
	if err != nil {
		return nil, err
	}

	result, err := s.execute(ctx, userID, func(ctx context.Context, tx storage.LedgerTx, now time.Time) (*TradeResult, error) {
		account := tx.Account()
		totalCost := types.LineTotal(quantity, price)
		if totalCost.GreaterThan(account.CashBalance) {
			return nil, apperrors.NewInsufficientFundsError(totalCost, account.CashBalance)
		}

		holding, err := tx.GetHolding(ctx, symbol)
		if err != nil {
			return nil, err
		}
		if holding == nil {
			holding = &models.Holding{
				UserID:      userID,
				Symbol:      symbol,
				Quantity:    quantity,
				AverageCost: types.RoundAverageCost(price),
				CreatedAt:   now,
			}
		} else {
			holding.AverageCost = types.WeightedAverageCost(holding.Quantity, holding.AverageCost, quantity, totalCost)
			holding.Quantity = holding.Quantity.Add(quantity)
		}
		if !holding.AverageCost.IsPositive() {
			return nil, apperrors.NewInvalidParameterError("price", "average cost rounds to zero")
		}
		holding.UpdatedAt = now

		if err := tx.UpsertHolding(ctx, holding); err != nil {
			return nil, err
		}

		account.CashBalance = types.RoundCurrency(account.CashBalance.Sub(totalCost))
		return s.commit(ctx, tx, account, holding, false, s.newTransaction(userID, types.TransactionBuy, symbol, quantity, price, totalCost, now), now)
	})
	if err != nil {
		return nil, err
	}

	logging.FromContext(ctx).WithFields(map[string]interface{}{
		"userId":   userID,
		"symbol":   symbol,
		"quantity": quantity.String(),
		"total":    result.Transaction.Total.String(),
	}).Info("Buy executed")
	return result, nil
}

// Sell credits quantity*price to cash and removes the shares from the holding.
// The average cost of the remaining shares is unchanged; a holding sold down
// to zero is deleted.
func (s *LedgerService) Sell(ctx context.Context, userID, symbol string, quantity, price decimal.Decimal) (*TradeResult, error) {
	symbol, err := validateTrade(userID, symbol, quantity, price)
	if err != nil {
		return nil, err
	}

	result, err := s.execute(ctx, userID, func(ctx context.Context, tx storage.LedgerTx, now time.Time) (*TradeResult, error) {
		account := tx.Account()

		holding, err := tx.GetHolding(ctx, symbol)
		if err != nil {
			return nil, err
		}
		if holding == nil {
			return nil, apperrors.NewNoSuchHoldingError(symbol)
		}
		if quantity.GreaterThan(holding.Quantity) {
			return nil, apperrors.NewInsufficientSharesError(symbol, quantity, holding.Quantity)
		}

		proceeds := types.LineTotal(quantity, price)
		holding.Quantity = holding.Quantity.Sub(quantity)
		holding.UpdatedAt = now

		removed := holding.Quantity.IsZero()
		if removed {
			if err := tx.DeleteHolding(ctx, symbol); err != nil {
				return nil, err
			}
			holding = nil
		} else if err := tx.UpsertHolding(ctx, holding); err != nil {
			return nil, err
		}

		account.CashBalance = types.RoundCurrency(account.CashBalance.Add(proceeds))
		return s.commit(ctx, tx, account, holding, removed, s.newTransaction(userID, types.TransactionSell, symbol, quantity, price, proceeds, now), now)
	})
	if err != nil {
		return nil, err
	}

	logging.FromContext(ctx).WithFields(map[string]interface{}{
		"userId":   userID,
		"symbol":   symbol,
		"quantity": quantity.String(),
		"total":    result.Transaction.Total.String(),
		"removed":  result.HoldingRemoved,
	}).Info("Sell executed")
	return result, nil
}

type tradeFunc func(ctx context.Context, tx storage.LedgerTx, now time.Time) (*TradeResult, error)

// execute makes sure the account exists, then runs fn under the user's lock,
// retrying lost write races
func (s *LedgerService) execute(ctx context.Context, userID string, fn tradeFunc) (*TradeResult, error) {
	if _, err := s.accounts.EnsureAccount(ctx, userID, s.startingBalance); err != nil {
		return nil, mapStoreError("ensure account", userID, err)
	}

	var result *TradeResult
	err := retry.Do(ctx, s.retryConfig, func(ctx context.Context, attempt int) error {
		result = nil
		err := s.ledger.WithUserLock(ctx, userID, func(ctx context.Context, tx storage.LedgerTx) error {
			r, err := fn(ctx, tx, s.now().UTC())
			if err != nil {
				return err
			}
			result = r
			return nil
		})
		return mapStoreError("trade", userID, err)
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// commit appends the transaction and writes the account with its total value
// refreshed at cost basis
func (s *LedgerService) commit(ctx context.Context, tx storage.LedgerTx, account *models.Account, holding *models.Holding, removed bool, txn *models.Transaction, now time.Time) (*TradeResult, error) {
	if err := tx.AppendTransaction(ctx, txn); err != nil {
		return nil, err
	}

	holdings, err := tx.ListHoldings(ctx)
	if err != nil {
		return nil, err
	}
	account.TotalValue = costBasisValue(account.CashBalance, holdings)
	account.UpdatedAt = now

	if err := tx.UpdateAccount(ctx, account); err != nil {
		return nil, err
	}

	return &TradeResult{
		Account:        account,
		Holding:        holding.Clone(),
		HoldingRemoved: removed,
		Transaction:    txn,
	}, nil
}

func (s *LedgerService) newTransaction(userID string, txType types.TransactionType, symbol string, quantity, price, total decimal.Decimal, now time.Time) *models.Transaction {
	return &models.Transaction{
		ID:        s.newID(),
		UserID:    userID,
		Type:      txType,
		Symbol:    symbol,
		Quantity:  quantity,
		Price:     price,
		Total:     total,
		CreatedAt: now,
	}
}

func validateTrade(userID, symbol string, quantity, price decimal.Decimal) (string, error) {
	if userID == "" {
		return "", apperrors.NewUnauthorizedError("missing user id")
	}
	symbol = types.NormalizeSymbol(symbol)
	if symbol == "" {
		return "", apperrors.NewInvalidParameterError("symbol", "must not be empty")
	}
	if !quantity.IsPositive() {
		return "", apperrors.NewInvalidParameterError("quantity", "must be greater than zero")
	}
	if !types.FitsPlaces(quantity, types.QuantityPlaces) {
		return "", apperrors.NewInvalidParameterError("quantity", fmt.Sprintf("must have at most %d decimal places", types.QuantityPlaces))
	}
	if !price.IsPositive() {
		return "", apperrors.NewInvalidParameterError("price", "must be greater than zero")
	}
	if !types.FitsPlaces(price, types.PricePlaces) {
		return "", apperrors.NewInvalidParameterError("price", fmt.Sprintf("must have at most %d decimal places", types.PricePlaces))
	}
	if !types.LineTotal(quantity, price).IsPositive() {
		return "", apperrors.NewInvalidParameterError("quantity", "trade total rounds to zero")
	}
	return symbol, nil
}

// costBasisValue is cash plus every holding at its average cost
func costBasisValue(cash decimal.Decimal, holdings []*models.Holding) decimal.Decimal {
	total := cash
	for _, h := range holdings {
		total = total.Add(h.CostBasis())
	}
	return types.RoundCurrency(total)
}

package service

import (
	"context"
	"time"

	apperrors "github.com/portfolio-ledger/internal/errors"
	"github.com/portfolio-ledger/internal/logging"
	"github.com/portfolio-ledger/internal/models"
	"github.com/portfolio-ledger/internal/types"
	"github.com/shopspring/decimal"
)

const (
	recentTransactionLimit = 10
	maxTransactionLimit    = 500
)

// HoldingView is a holding priced at the best available quote
type HoldingView struct {
	Symbol                string            `json:"symbol"`
	Quantity              decimal.Decimal   `json:"quantity"`
	AverageCost           decimal.Decimal   `json:"averageCost"`
	CostBasis             decimal.Decimal   `json:"costBasis"`
	CurrentPrice          decimal.Decimal   `json:"currentPrice"`
	MarketValue           decimal.Decimal   `json:"marketValue"`
	UnrealizedGain        decimal.Decimal   `json:"unrealizedGain"`
	UnrealizedGainPercent decimal.Decimal   `json:"unrealizedGainPercent"`
	PriceSource           types.PriceSource `json:"priceSource"`
	QuoteStale            bool              `json:"quoteStale"`
	QuoteTime             *time.Time        `json:"quoteTime,omitempty"`
	MarketValueDisplay    string            `json:"marketValueDisplay"`
}

// HoldingsView lists a user's priced holdings with totals
type HoldingsView struct {
	UserID              string          `json:"userId"`
	Holdings            []HoldingView   `json:"holdings"`
	CashBalance         decimal.Decimal `json:"cashBalance"`
	TotalCostBasis      decimal.Decimal `json:"totalCostBasis"`
	TotalMarketValue    decimal.Decimal `json:"totalMarketValue"`
	TotalUnrealizedGain decimal.Decimal `json:"totalUnrealizedGain"`
	TotalValue          decimal.Decimal `json:"totalValue"`
	Warnings            []string        `json:"warnings"`
}

// Valuation is cash plus holdings at the best available prices
type Valuation struct {
	UserID        string          `json:"userId"`
	CashBalance   decimal.Decimal `json:"cashBalance"`
	HoldingsValue decimal.Decimal `json:"holdingsValue"`
	TotalValue    decimal.Decimal `json:"totalValue"`
	AsOf          time.Time       `json:"asOf"`
	Warnings      []string        `json:"warnings"`
}

// PortfolioView is the account summary shown on the portfolio page
type PortfolioView struct {
	Account            *models.Account       `json:"account"`
	CashDisplay        string                `json:"cashDisplay"`
	HoldingsCount      int                   `json:"holdingsCount"`
	RecentTransactions []*models.Transaction `json:"recentTransactions"`
}

// AccountService owns account creation and read-side portfolio views
type AccountService struct {
	accounts        AccountRepository
	ledger          LedgerRepository
	transactions    TransactionRepository
	quotes          *QuoteCache
	startingBalance decimal.Decimal
	now             func() time.Time
}

// NewAccountService creates a new account service. quotes may be nil, in which
// case holdings are valued at cost.
func NewAccountService(
	accounts AccountRepository,
	ledger LedgerRepository,
	transactions TransactionRepository,
	quotes *QuoteCache,
	startingBalance decimal.Decimal,
) *AccountService {
	return &AccountService{
		accounts:        accounts,
		ledger:          ledger,
		transactions:    transactions,
		quotes:          quotes,
		startingBalance: startingBalance,
		now:             time.Now,
	}
}

// EnsureExists returns the user's account, creating it with the starting balance
func (s *AccountService) EnsureExists(ctx context.Context, userID string) (*models.Account, error) {
	if userID == "" {
		return nil, apperrors.NewUnauthorizedError("missing user id")
	}
	account, err := s.accounts.EnsureAccount(ctx, userID, s.startingBalance)
	if err != nil {
		return nil, mapStoreError("ensure account", userID, err)
	}
	return account, nil
}

// Balance returns the user's cash balance
func (s *AccountService) Balance(ctx context.Context, userID string) (decimal.Decimal, error) {
	account, err := s.EnsureExists(ctx, userID)
	if err != nil {
		return decimal.Zero, err
	}
	return account.CashBalance, nil
}

// TotalValue values the account at current quotes, accepting stale ones.
// Symbols with no quote at all are valued at cost and reported in Warnings.
// The result is written back to the account's total value.
func (s *AccountService) TotalValue(ctx context.Context, userID string) (*Valuation, error) {
	view, err := s.GetHoldings(ctx, userID)
	if err != nil {
		return nil, err
	}

	valuation := &Valuation{
		UserID:        userID,
		CashBalance:   view.CashBalance,
		HoldingsValue: view.TotalMarketValue,
		TotalValue:    view.TotalValue,
		AsOf:          s.now().UTC(),
		Warnings:      view.Warnings,
	}

	if err := s.accounts.UpdateTotalValue(ctx, userID, valuation.TotalValue); err != nil {
		logging.FromContext(ctx).WithField("userId", userID).WithError(err).Warn("Failed to store account total value")
	}
	return valuation, nil
}

// GetPortfolio returns the account with its most recent transactions, newest first
func (s *AccountService) GetPortfolio(ctx context.Context, userID string) (*PortfolioView, error) {
	if _, err := s.EnsureExists(ctx, userID); err != nil {
		return nil, err
	}

	account, holdings, err := s.ledger.ReadPortfolio(ctx, userID)
	if err != nil {
		return nil, mapStoreError("read portfolio", userID, err)
	}
	if account == nil {
		return nil, apperrors.NewNoPortfolioError(userID)
	}

	recent, err := s.transactions.ListByUser(ctx, userID, models.TransactionFilter{
		Limit:       recentTransactionLimit,
		NewestFirst: true,
	})
	if err != nil {
		return nil, mapStoreError("list transactions", userID, err)
	}

	return &PortfolioView{
		Account:            account,
		CashDisplay:        types.FormatMoney(account.CashBalance),
		HoldingsCount:      len(holdings),
		RecentTransactions: recent,
	}, nil
}

// GetHoldings prices every holding. It never fails because of quotes: a stale
// quote is used when the source is down and average cost when nothing is known.
func (s *AccountService) GetHoldings(ctx context.Context, userID string) (*HoldingsView, error) {
	if _, err := s.EnsureExists(ctx, userID); err != nil {
		return nil, err
	}

	account, holdings, err := s.ledger.ReadPortfolio(ctx, userID)
	if err != nil {
		return nil, mapStoreError("read portfolio", userID, err)
	}
	if account == nil {
		return nil, apperrors.NewNoPortfolioError(userID)
	}

	views, warnings := s.priceHoldings(ctx, holdings)

	view := &HoldingsView{
		UserID:              userID,
		Holdings:            views,
		CashBalance:         account.CashBalance,
		TotalCostBasis:      decimal.Zero,
		TotalMarketValue:    decimal.Zero,
		TotalUnrealizedGain: decimal.Zero,
		Warnings:            warnings,
	}
	for _, h := range views {
		view.TotalCostBasis = view.TotalCostBasis.Add(h.CostBasis)
		view.TotalMarketValue = view.TotalMarketValue.Add(h.MarketValue)
		view.TotalUnrealizedGain = view.TotalUnrealizedGain.Add(h.UnrealizedGain)
	}
	view.TotalValue = types.RoundCurrency(account.CashBalance.Add(view.TotalMarketValue))
	return view, nil
}

// ListTransactions returns the user's transaction history
func (s *AccountService) ListTransactions(ctx context.Context, userID string, filter models.TransactionFilter) ([]*models.Transaction, error) {
	if userID == "" {
		return nil, apperrors.NewUnauthorizedError("missing user id")
	}
	if filter.Limit < 0 || filter.Limit > maxTransactionLimit {
		return nil, apperrors.NewInvalidParameterError("limit", "must be between 0 and 500")
	}
	if filter.Since != nil && filter.Until != nil && filter.Since.After(*filter.Until) {
		return nil, apperrors.NewInvalidParameterError("since", "must not be after until")
	}
	filter.Symbol = types.NormalizeSymbol(filter.Symbol)

	txns, err := s.transactions.ListByUser(ctx, userID, filter)
	if err != nil {
		return nil, mapStoreError("list transactions", userID, err)
	}
	return txns, nil
}

func (s *AccountService) priceHoldings(ctx context.Context, holdings []*models.Holding) ([]HoldingView, []string) {
	views := make([]HoldingView, 0, len(holdings))
	warnings := []string{}
	if len(holdings) == 0 {
		return views, warnings
	}

	quotes := map[string]*models.Quote{}
	if s.quotes != nil {
		symbols := make([]string, len(holdings))
		for i, h := range holdings {
			symbols[i] = h.Symbol
		}
		var missing []string
		quotes, missing = s.quotes.GetMany(ctx, symbols, true)
		for _, symbol := range missing {
			warnings = append(warnings, "no quote for "+symbol+", valued at average cost")
		}
	}

	for _, h := range holdings {
		view := HoldingView{
			Symbol:       h.Symbol,
			Quantity:     h.Quantity,
			AverageCost:  h.AverageCost,
			CostBasis:    types.RoundCurrency(h.CostBasis()),
			CurrentPrice: h.AverageCost,
			PriceSource:  types.PriceSourceCost,
		}
		if q, ok := quotes[h.Symbol]; ok {
			fetchedAt := q.FetchedAt
			view.CurrentPrice = q.Price
			view.QuoteStale = q.Stale
			view.QuoteTime = &fetchedAt
			view.PriceSource = types.PriceSourceMarket
			if q.Stale {
				view.PriceSource = types.PriceSourceStale
			}
		}
		view.MarketValue = types.LineTotal(h.Quantity, view.CurrentPrice)
		view.UnrealizedGain = view.MarketValue.Sub(view.CostBasis)
		view.UnrealizedGainPercent = types.PercentChange(view.CostBasis, view.MarketValue)
		view.MarketValueDisplay = types.FormatMoney(view.MarketValue)
		views = append(views, view)
	}
	return views, warnings
}

package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/portfolio-ledger/internal/models"
	"github.com/portfolio-ledger/internal/storage"
	"github.com/portfolio-ledger/internal/types"
	"github.com/shopspring/decimal"
)

// memLedger is an in-memory account, holdings and transaction store.
// WithUserLock applies fn's writes only when fn succeeds.
type memLedger struct {
	mu           sync.Mutex
	accounts     map[string]*models.Account
	holdings     map[string]map[string]*models.Holding
	transactions []*models.Transaction

	// conflicts makes the next UpdateAccount calls fail with a version conflict
	conflicts int
	failWith  error
}

func newMemLedger() *memLedger {
	return &memLedger{
		accounts: map[string]*models.Account{},
		holdings: map[string]map[string]*models.Holding{},
	}
}

func (m *memLedger) EnsureAccount(ctx context.Context, userID string, startingBalance decimal.Decimal) (*models.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a, ok := m.accounts[userID]; ok {
		return a.Clone(), nil
	}
	now := time.Now().UTC()
	a := &models.Account{
		UserID:          userID,
		CashBalance:     startingBalance,
		StartingBalance: startingBalance,
		TotalValue:      startingBalance,
		Version:         1,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	m.accounts[userID] = a
	return a.Clone(), nil
}

func (m *memLedger) GetByUserID(ctx context.Context, userID string) (*models.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.accounts[userID].Clone(), nil
}

func (m *memLedger) UpdateTotalValue(ctx context.Context, userID string, totalValue decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a, ok := m.accounts[userID]; ok {
		a.TotalValue = totalValue
	}
	return nil
}

func (m *memLedger) ListUserIDs(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.accounts))
	for id := range m.accounts {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (m *memLedger) WithUserLock(ctx context.Context, userID string, fn func(ctx context.Context, tx storage.LedgerTx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failWith != nil {
		return m.failWith
	}
	account, ok := m.accounts[userID]
	if !ok {
		return storage.ErrAccountNotFound
	}

	tx := &memTx{
		ledger:   m,
		account:  account.Clone(),
		holdings: map[string]*models.Holding{},
	}
	for sym, h := range m.holdings[userID] {
		tx.holdings[sym] = h.Clone()
	}

	if err := fn(ctx, tx); err != nil {
		return err
	}

	m.accounts[userID] = tx.account
	m.holdings[userID] = tx.holdings
	m.transactions = append(m.transactions, tx.appended...)
	return nil
}

func (m *memLedger) ReadPortfolio(ctx context.Context, userID string) (*models.Account, []*models.Holding, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	account, ok := m.accounts[userID]
	if !ok {
		return nil, nil, nil
	}
	return account.Clone(), sortedHoldings(m.holdings[userID]), nil
}

func (m *memLedger) ListByUser(ctx context.Context, userID string, filter models.TransactionFilter) ([]*models.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []*models.Transaction{}
	for _, t := range m.transactions {
		if t.UserID != userID {
			continue
		}
		if filter.Symbol != "" && t.Symbol != filter.Symbol {
			continue
		}
		out = append(out, t)
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[len(out)-filter.Limit:]
	}
	if filter.NewestFirst {
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	}
	return out, nil
}

func (m *memLedger) Totals(ctx context.Context, userID string, until *time.Time) (decimal.Decimal, decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	invested, sold := decimal.Zero, decimal.Zero
	for _, t := range m.transactions {
		if t.UserID != userID {
			continue
		}
		if t.Type == types.TransactionBuy {
			invested = invested.Add(t.Total)
		} else {
			sold = sold.Add(t.Total)
		}
	}
	return invested, sold, nil
}

func (m *memLedger) account(userID string) *models.Account {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.accounts[userID].Clone()
}

func (m *memLedger) holding(userID, symbol string) *models.Holding {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.holdings[userID][symbol].Clone()
}

func (m *memLedger) seedHolding(userID, symbol string, quantity, avg decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.holdings[userID] == nil {
		m.holdings[userID] = map[string]*models.Holding{}
	}
	m.holdings[userID][symbol] = &models.Holding{UserID: userID, Symbol: symbol, Quantity: quantity, AverageCost: avg}
}

func sortedHoldings(bySymbol map[string]*models.Holding) []*models.Holding {
	out := make([]*models.Holding, 0, len(bySymbol))
	for _, h := range bySymbol {
		out = append(out, h.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

type memTx struct {
	ledger   *memLedger
	account  *models.Account
	holdings map[string]*models.Holding
	appended []*models.Transaction
}

func (t *memTx) Account() *models.Account { return t.account.Clone() }

func (t *memTx) GetHolding(ctx context.Context, symbol string) (*models.Holding, error) {
	return t.holdings[symbol].Clone(), nil
}

func (t *memTx) ListHoldings(ctx context.Context) ([]*models.Holding, error) {
	return sortedHoldings(t.holdings), nil
}

func (t *memTx) UpsertHolding(ctx context.Context, h *models.Holding) error {
	if !h.Quantity.IsPositive() {
		return errors.New("holding quantity must be positive")
	}
	t.holdings[h.Symbol] = h.Clone()
	return nil
}

func (t *memTx) DeleteHolding(ctx context.Context, symbol string) error {
	delete(t.holdings, symbol)
	return nil
}

func (t *memTx) UpdateAccount(ctx context.Context, a *models.Account) error {
	if t.ledger.conflicts > 0 {
		t.ledger.conflicts--
		return storage.ErrVersionConflict
	}
	if a.CashBalance.IsNegative() {
		return errors.New("cash balance check violated")
	}
	a.Version++
	t.account = a.Clone()
	return nil
}

func (t *memTx) AppendTransaction(ctx context.Context, txn *models.Transaction) error {
	if err := txn.Validate(); err != nil {
		return err
	}
	t.appended = append(t.appended, txn)
	return nil
}

// memSnapshots is an in-memory snapshot repository keyed by user and day
type memSnapshots struct {
	mu        sync.Mutex
	byKey     map[string]*models.Snapshot
	creates   int
	deleteErr error
}

func newMemSnapshots() *memSnapshots {
	return &memSnapshots{byKey: map[string]*models.Snapshot{}}
}

func snapshotKey(userID string, date time.Time) string {
	return userID + "|" + models.SnapshotDay(date).Format("2006-01-02")
}

func (m *memSnapshots) put(s *models.Snapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byKey[snapshotKey(s.UserID, s.SnapshotDate)] = s
}

func (m *memSnapshots) CreateIfAbsent(ctx context.Context, s *models.Snapshot) (*models.Snapshot, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := snapshotKey(s.UserID, s.SnapshotDate)
	if existing, ok := m.byKey[key]; ok {
		return existing, false, nil
	}
	m.creates++
	m.byKey[key] = s
	return s, true, nil
}

func (m *memSnapshots) GetByUserAndDate(ctx context.Context, userID string, date time.Time) (*models.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.byKey[snapshotKey(userID, date)], nil
}

func (m *memSnapshots) sorted(filter func(*models.Snapshot) bool) []*models.Snapshot {
	out := []*models.Snapshot{}
	for _, s := range m.byKey {
		if filter(s) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].SnapshotDate.Equal(out[j].SnapshotDate) {
			return out[i].SnapshotDate.Before(out[j].SnapshotDate)
		}
		return out[i].UserID < out[j].UserID
	})
	return out
}

func (m *memSnapshots) GetLatestBefore(ctx context.Context, userID string, date time.Time) (*models.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	day := models.SnapshotDay(date)
	list := m.sorted(func(s *models.Snapshot) bool { return s.UserID == userID && s.SnapshotDate.Before(day) })
	if len(list) == 0 {
		return nil, nil
	}
	return list[len(list)-1], nil
}

func (m *memSnapshots) ListRange(ctx context.Context, userID string, from, to time.Time) ([]*models.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, t := models.SnapshotDay(from), models.SnapshotDay(to)
	return m.sorted(func(s *models.Snapshot) bool {
		return s.UserID == userID && !s.SnapshotDate.Before(f) && !s.SnapshotDate.After(t)
	}), nil
}

func (m *memSnapshots) ListOlderThan(ctx context.Context, cutoff, afterDate time.Time, afterUser string, limit int) ([]*models.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, a := models.SnapshotDay(cutoff), models.SnapshotDay(afterDate)
	list := m.sorted(func(s *models.Snapshot) bool {
		if !s.SnapshotDate.Before(c) {
			return false
		}
		return s.SnapshotDate.After(a) || (s.SnapshotDate.Equal(a) && s.UserID > afterUser)
	})
	if len(list) > limit {
		list = list[:limit]
	}
	return list, nil
}

func (m *memSnapshots) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.deleteErr != nil {
		return 0, m.deleteErr
	}
	c := models.SnapshotDay(cutoff)
	var n int64
	for k, s := range m.byKey {
		if s.SnapshotDate.Before(c) {
			delete(m.byKey, k)
			n++
		}
	}
	return n, nil
}

type memArchive struct {
	mu       sync.Mutex
	archived []*models.Snapshot
	err      error
}

func (a *memArchive) Archive(ctx context.Context, snapshots []*models.Snapshot) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return a.err
	}
	a.archived = append(a.archived, snapshots...)
	return nil
}

// memQuoteStore is an in-memory QuoteStore
type memQuoteStore struct {
	mu     sync.Mutex
	quotes map[string]*models.Quote
	getErr error
}

func newMemQuoteStore() *memQuoteStore {
	return &memQuoteStore{quotes: map[string]*models.Quote{}}
}

func (s *memQuoteStore) Get(ctx context.Context, symbol string) (*models.Quote, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return nil, s.getErr
	}
	q, ok := s.quotes[symbol]
	if !ok {
		return nil, nil
	}
	c := *q
	return &c, nil
}

func (s *memQuoteStore) Put(ctx context.Context, q *models.Quote) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *q
	s.quotes[q.Symbol] = &c
	return nil
}

func (s *memQuoteStore) Delete(ctx context.Context, symbol string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.quotes, symbol)
	return nil
}

// stubSource returns configured prices and counts calls
type stubSource struct {
	mu     sync.Mutex
	prices map[string]decimal.Decimal
	err    error
	calls  int
	delay  time.Duration
}

func (s *stubSource) Name() string { return "stub" }

func (s *stubSource) GetQuote(ctx context.Context, symbol string) (decimal.Decimal, time.Time, error) {
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return decimal.Zero, time.Time{}, s.err
	}
	p, ok := s.prices[symbol]
	if !ok {
		return decimal.Zero, time.Time{}, errors.New("unknown symbol")
	}
	return p, time.Now(), nil
}

func (s *stubSource) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

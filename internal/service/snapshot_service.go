package service

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	apperrors "github.com/portfolio-ledger/internal/errors"
	"github.com/portfolio-ledger/internal/logging"
	"github.com/portfolio-ledger/internal/models"
	"github.com/portfolio-ledger/internal/types"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

const (
	archiveBatchSize = 500
	maxHistoryDays   = 365
	defaultDays      = 30
)

// SnapshotConfig configures the snapshot service
type SnapshotConfig struct {
	ValuationMode types.ValuationMode
	RetentionDays int
	Concurrency   int
}

// CaptureSummary reports the outcome of a batch capture
type CaptureSummary struct {
	Date     time.Time `json:"date"`
	Total    int       `json:"total"`
	Created  int       `json:"created"`
	Existing int       `json:"existing"`
	Failed   int       `json:"failed"`
}

// RetentionSummary reports the outcome of a retention sweep
type RetentionSummary struct {
	Cutoff   time.Time `json:"cutoff"`
	Archived int       `json:"archived"`
	Deleted  int64     `json:"deleted"`
}

// ValueHistory is a user's snapshot series plus the live valuation
type ValueHistory struct {
	UserID    string             `json:"userId"`
	Days      int                `json:"days"`
	Snapshots []*models.Snapshot `json:"snapshots"`
	Current   *Valuation         `json:"current"`
}

// SnapshotService creates daily portfolio snapshots
type SnapshotService struct {
	snapshots    SnapshotRepository
	accounts     AccountRepository
	ledger       LedgerRepository
	transactions TransactionRepository
	quotes       *QuoteCache
	archive      SnapshotArchiver
	accountSvc   *AccountService
	cfg          SnapshotConfig
	now          func() time.Time
	after        func(d time.Duration) <-chan time.Time

	mu       sync.Mutex
	running  bool
	stopChan chan struct{}
	done     chan struct{}
}

// NewSnapshotService creates a new snapshot service. quotes and archive may be nil.
func NewSnapshotService(
	snapshots SnapshotRepository,
	accounts AccountRepository,
	ledger LedgerRepository,
	transactions TransactionRepository,
	quotes *QuoteCache,
	archive SnapshotArchiver,
	accountSvc *AccountService,
	cfg SnapshotConfig,
) *SnapshotService {
	if cfg.ValuationMode == "" {
		cfg.ValuationMode = types.ValuationCost
	}
	if cfg.RetentionDays <= 0 {
		cfg.RetentionDays = 90
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	return &SnapshotService{
		snapshots:    snapshots,
		accounts:     accounts,
		ledger:       ledger,
		transactions: transactions,
		quotes:       quotes,
		archive:      archive,
		accountSvc:   accountSvc,
		cfg:          cfg,
		now:          time.Now,
		after:        time.After,
	}
}

// CreateSnapshot returns the user's snapshot for the UTC day of asOf, creating it
// when absent. An existing snapshot is never modified. An empty mode uses the
// configured default.
func (s *SnapshotService) CreateSnapshot(ctx context.Context, userID string, asOf time.Time, mode types.ValuationMode) (*models.Snapshot, error) {
	snapshot, _, err := s.createSnapshot(ctx, userID, asOf, mode)
	return snapshot, err
}

// CreateTodaySnapshot creates or returns today's snapshot with the default
// valuation mode. created reports whether this call stored it.
func (s *SnapshotService) CreateTodaySnapshot(ctx context.Context, userID string) (snapshot *models.Snapshot, created bool, err error) {
	return s.createSnapshot(ctx, userID, s.now(), "")
}

func (s *SnapshotService) createSnapshot(ctx context.Context, userID string, asOf time.Time, mode types.ValuationMode) (*models.Snapshot, bool, error) {
	if userID == "" {
		return nil, false, apperrors.NewUnauthorizedError("missing user id")
	}
	if mode == "" {
		mode = s.cfg.ValuationMode
	}
	date := models.SnapshotDay(asOf)
	if err := s.checkCaptureDate(date); err != nil {
		return nil, false, err
	}

	existing, err := s.snapshots.GetByUserAndDate(ctx, userID, date)
	if err != nil {
		return nil, false, mapStoreError("get snapshot", userID, err)
	}
	if existing != nil {
		return existing, false, nil
	}

	account, holdings, err := s.ledger.ReadPortfolio(ctx, userID)
	if err != nil {
		return nil, false, mapStoreError("read portfolio", userID, err)
	}
	if account == nil {
		return nil, false, apperrors.NewNoPortfolioError(userID)
	}

	snapshotHoldings, holdingsValue, fallback := s.valueHoldings(ctx, holdings, mode)

	invested, sold, err := s.transactions.Totals(ctx, userID, nil)
	if err != nil {
		return nil, false, mapStoreError("transaction totals", userID, err)
	}

	snapshot := &models.Snapshot{
		UserID:             userID,
		SnapshotDate:       date,
		Balance:            account.CashBalance,
		TotalValue:         types.RoundCurrency(account.CashBalance.Add(holdingsValue)),
		TotalInvested:      invested,
		TotalSold:          sold,
		DailyChange:        decimal.Zero,
		DailyChangePercent: decimal.Zero,
		Holdings:           snapshotHoldings,
		ValuationMode:      mode,
		QuoteFallback:      fallback,
		CreatedAt:          s.now().UTC(),
	}

	previous, err := s.snapshots.GetLatestBefore(ctx, userID, date)
	if err != nil {
		return nil, false, mapStoreError("previous snapshot", userID, err)
	}
	if previous != nil {
		snapshot.DailyChange = snapshot.TotalValue.Sub(previous.TotalValue)
		snapshot.DailyChangePercent = types.PercentChange(previous.TotalValue, snapshot.TotalValue)
	}

	stored, created, err := s.snapshots.CreateIfAbsent(ctx, snapshot)
	if err != nil {
		return nil, false, mapStoreError("create snapshot", userID, err)
	}

	if created {
		logging.FromContext(ctx).WithFields(map[string]interface{}{
			"userId":        userID,
			"date":          date.Format("2006-01-02"),
			"totalValue":    stored.TotalValue.String(),
			"valuationMode": string(mode),
			"quoteFallback": fallback,
		}).Info("Snapshot created")
	}
	return stored, created, nil
}

// valueHoldings copies the holdings and prices them. Market mode falls back to
// average cost per symbol when no quote can be had, reporting fallback.
func (s *SnapshotService) valueHoldings(ctx context.Context, holdings []*models.Holding, mode types.ValuationMode) ([]models.SnapshotHolding, decimal.Decimal, bool) {
	out := make([]models.SnapshotHolding, 0, len(holdings))
	total := decimal.Zero
	fallback := false

	var quotes map[string]*models.Quote
	if mode == types.ValuationMarket && len(holdings) > 0 {
		if s.quotes == nil {
			fallback = true
		} else {
			symbols := make([]string, len(holdings))
			for i, h := range holdings {
				symbols[i] = h.Symbol
			}
			var missing []string
			quotes, missing = s.quotes.GetMany(ctx, symbols, true)
			if len(missing) > 0 {
				fallback = true
				logging.FromContext(ctx).WithField("symbols", missing).Warn("Valuing holdings at cost, quotes unavailable")
			}
		}
	}

	for _, h := range holdings {
		price := h.AverageCost
		if q, ok := quotes[h.Symbol]; ok {
			price = q.Price
		}
		value := types.LineTotal(h.Quantity, price)
		total = total.Add(value)
		out = append(out, models.SnapshotHolding{
			Symbol:      h.Symbol,
			Quantity:    h.Quantity,
			AverageCost: h.AverageCost,
			Price:       price,
			MarketValue: value,
		})
	}
	return out, total, fallback
}

// CaptureAllSnapshots creates the snapshot for date for every account.
// A failure for one user is logged and counted, it never stops the run.
func (s *SnapshotService) CaptureAllSnapshots(ctx context.Context, date time.Time) (*CaptureSummary, error) {
	logger := logging.FromContext(ctx)

	if err := s.checkCaptureDate(models.SnapshotDay(date)); err != nil {
		return nil, err
	}

	userIDs, err := s.accounts.ListUserIDs(ctx)
	if err != nil {
		return nil, mapStoreError("list accounts", "", err)
	}

	summary := &CaptureSummary{Date: models.SnapshotDay(date), Total: len(userIDs)}
	var created, existing, failed atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)
	for _, userID := range userIDs {
		g.Go(func() error {
			_, wasCreated, err := s.createSnapshot(gctx, userID, date, "")
			switch {
			case err != nil:
				failed.Add(1)
				logger.WithField("userId", userID).WithError(err).Error("Failed to capture snapshot")
			case wasCreated:
				created.Add(1)
			default:
				existing.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait() // nolint:errcheck // per-user errors are counted, not returned

	summary.Created = int(created.Load())
	summary.Existing = int(existing.Load())
	summary.Failed = int(failed.Load())

	logger.WithFields(map[string]interface{}{
		"date":     summary.Date.Format("2006-01-02"),
		"total":    summary.Total,
		"created":  summary.Created,
		"existing": summary.Existing,
		"failed":   summary.Failed,
	}).Info("Snapshot capture completed")

	return summary, nil
}

// ApplyRetention deletes snapshots older than the retention window. When an
// archive is configured every expired row is archived first; if archiving
// fails nothing is deleted on this run.
func (s *SnapshotService) ApplyRetention(ctx context.Context) (*RetentionSummary, error) {
	cutoff := models.SnapshotDay(s.now()).AddDate(0, 0, -s.cfg.RetentionDays)
	summary := &RetentionSummary{Cutoff: cutoff}
	logger := logging.FromContext(ctx).WithField("cutoff", cutoff.Format("2006-01-02"))

	if s.archive != nil {
		var afterDate time.Time
		afterUser := ""
		for {
			batch, err := s.snapshots.ListOlderThan(ctx, cutoff, afterDate, afterUser, archiveBatchSize)
			if err != nil {
				return summary, mapStoreError("list expired snapshots", "", err)
			}
			if len(batch) == 0 {
				break
			}
			if err := s.archive.Archive(ctx, batch); err != nil {
				logger.WithError(err).Error("Snapshot archive failed, skipping purge")
				return summary, fmt.Errorf("failed to archive snapshots: %w", err)
			}
			summary.Archived += len(batch)

			last := batch[len(batch)-1]
			afterDate, afterUser = last.SnapshotDate, last.UserID
			if len(batch) < archiveBatchSize {
				break
			}
		}
	}

	deleted, err := s.snapshots.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return summary, mapStoreError("delete expired snapshots", "", err)
	}
	summary.Deleted = deleted

	logger.WithFields(map[string]interface{}{
		"archived": summary.Archived,
		"deleted":  summary.Deleted,
	}).Info("Snapshot retention applied")
	return summary, nil
}

// GetValueHistory returns the snapshots of the last days days, oldest first,
// with the live valuation
func (s *SnapshotService) GetValueHistory(ctx context.Context, userID string, days int) (*ValueHistory, error) {
	days, err := normalizeDays(days)
	if err != nil {
		return nil, err
	}

	current, err := s.accountSvc.TotalValue(ctx, userID)
	if err != nil {
		return nil, err
	}

	to := models.SnapshotDay(s.now())
	snapshots, err := s.snapshots.ListRange(ctx, userID, windowStart(to, days), to)
	if err != nil {
		return nil, mapStoreError("list snapshots", userID, err)
	}

	return &ValueHistory{
		UserID:    userID,
		Days:      days,
		Snapshots: snapshots,
		Current:   current,
	}, nil
}

// Start runs capture and retention at every UTC midnight until Stop is called
// or ctx is done. Each run snapshots the day that just ended.
func (s *SnapshotService) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("snapshot scheduler is already running")
	}
	s.running = true
	s.stopChan = make(chan struct{})
	s.done = make(chan struct{})

	go s.loop(ctx, s.stopChan, s.done)
	return nil
}

// Stop halts the scheduler and waits for an in-flight run to finish
func (s *SnapshotService) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return fmt.Errorf("snapshot scheduler is not running")
	}
	s.running = false
	close(s.stopChan)
	done := s.done
	s.mu.Unlock()

	<-done
	return nil
}

func (s *SnapshotService) loop(ctx context.Context, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	logger := logging.FromContext(ctx)

	for {
		now := s.now().UTC()
		next := models.SnapshotDay(now).AddDate(0, 0, 1)
		logger.WithField("nextRun", next.Format(time.RFC3339)).Info("Snapshot scheduler waiting")

		select {
		case <-s.after(next.Sub(now)):
			s.RunOnce(ctx, next.AddDate(0, 0, -1))
		case <-stop:
			logger.Info("Snapshot scheduler stopped")
			return
		case <-ctx.Done():
			return
		}
	}
}

// RunOnce captures snapshots for date and applies retention
func (s *SnapshotService) RunOnce(ctx context.Context, date time.Time) {
	logger := logging.FromContext(ctx)
	if _, err := s.CaptureAllSnapshots(ctx, date); err != nil {
		logger.WithError(err).Error("Snapshot capture failed")
	}
	if _, err := s.ApplyRetention(ctx); err != nil {
		logger.WithError(err).Error("Snapshot retention failed")
	}
}

// checkCaptureDate rejects days before yesterday. A snapshot is built from the
// current holdings and all-time totals, so it cannot describe an older day.
func (s *SnapshotService) checkCaptureDate(date time.Time) error {
	earliest := models.SnapshotDay(s.now()).AddDate(0, 0, -1)
	if date.Before(earliest) {
		return apperrors.NewInvalidParameterError("date", "must not be before "+earliest.Format("2006-01-02"))
	}
	return nil
}

// windowStart is the first day of a days-long window ending on to, both ends included
func windowStart(to time.Time, days int) time.Time {
	return to.AddDate(0, 0, -(days - 1))
}

func normalizeDays(days int) (int, error) {
	if days == 0 {
		return defaultDays, nil
	}
	if days < 0 || days > maxHistoryDays {
		return 0, apperrors.NewInvalidParameterError("days", "must be between 1 and 365")
	}
	return days, nil
}

// Package main provides the snapshot worker entry point.
// The worker captures a snapshot of every account after each UTC midnight and
// then applies the retention window. "snapshot run [YYYY-MM-DD]" does a single pass;
// the date may be today or yesterday since snapshots reflect current holdings.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/portfolio-ledger/internal/adapter"
	"github.com/portfolio-ledger/internal/config"
	"github.com/portfolio-ledger/internal/logging"
	"github.com/portfolio-ledger/internal/ratelimit"
	"github.com/portfolio-ledger/internal/service"
	"github.com/portfolio-ledger/internal/storage"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logging.InitGlobalLogger(logging.ParseLogLevel(cfg.Logging.Level), logging.ParseLogFormat(cfg.Logging.Format))
	logger := logging.GetGlobalLogger()

	logger.Info("Connecting to databases...")

	postgres, err := storage.NewPostgresDB(&cfg.Database.Postgres)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to Postgres")
	}
	defer postgres.Close()

	redisCache, err := storage.NewRedisCache(&cfg.Database.Redis)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to Redis")
	}
	defer redisCache.Close()

	var archive service.SnapshotArchiver
	if cfg.Database.ClickHouse.Enabled {
		clickhouse, err := storage.NewClickHouseDB(&cfg.Database.ClickHouse)
		if err != nil {
			logger.WithError(err).Fatal("Failed to connect to ClickHouse")
		}
		defer clickhouse.Close()
		archive = storage.NewSnapshotArchive(clickhouse)
	}

	logger.Info("Database connections established")

	accountRepo := storage.NewAccountRepository(postgres.Pool())
	ledgerRepo := storage.NewLedgerRepository(postgres.Pool())
	transactionRepo := storage.NewTransactionRepository(postgres.Pool())
	snapshotRepo := storage.NewSnapshotRepository(postgres.Pool())

	// market valuation is the only mode that needs a quote source
	var quotes *service.QuoteCache
	source, err := adapter.NewQuoteSourceFromConfig(&cfg.Quotes, newQuoteBudget(cfg, redisCache, ratelimit.PriorityLow, logger))
	if err != nil {
		logger.WithError(err).Warn("Quote source unavailable, snapshots fall back to cost basis")
	} else {
		quotes = service.NewQuoteCache(source, storage.NewRedisQuoteStore(redisCache, cfg.Quotes.StaleRetention), service.QuoteCacheConfig{
			TTL:          cfg.Quotes.TTL,
			FetchTimeout: cfg.Quotes.FetchTimeout,
		})
	}

	accountService := service.NewAccountService(accountRepo, ledgerRepo, transactionRepo, quotes, cfg.Ledger.StartingBalance)
	snapshotService := service.NewSnapshotService(
		snapshotRepo,
		accountRepo,
		ledgerRepo,
		transactionRepo,
		quotes,
		archive,
		accountService,
		service.SnapshotConfig{
			ValuationMode: cfg.Snapshot.ValuationMode,
			RetentionDays: cfg.Snapshot.RetentionDays,
			Concurrency:   cfg.Snapshot.Concurrency,
		},
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if len(os.Args) > 1 && os.Args[1] == "run" {
		date := time.Now().UTC()
		if len(os.Args) > 2 {
			date, err = time.Parse("2006-01-02", os.Args[2])
			if err != nil {
				logger.WithError(err).Fatal("Invalid date, expected YYYY-MM-DD")
			}
		}
		logger.WithField("date", date.Format("2006-01-02")).Info("Running one snapshot pass")
		summary, err := snapshotService.CaptureAllSnapshots(ctx, date)
		if err != nil {
			logger.WithError(err).Fatal("Snapshot capture failed")
		}
		logger.WithFields(map[string]interface{}{
			"created":  summary.Created,
			"existing": summary.Existing,
			"failed":   summary.Failed,
		}).Info("Snapshot pass finished")
		if _, err := snapshotService.ApplyRetention(ctx); err != nil {
			logger.WithError(err).Error("Snapshot retention failed")
		}
		return
	}

	if err := snapshotService.Start(ctx); err != nil {
		logger.WithError(err).Fatal("Failed to start snapshot scheduler")
	}
	logger.Info("Snapshot worker started")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	logger.WithField("signal", sig.String()).Info("Shutdown signal received")

	if err := snapshotService.Stop(); err != nil {
		logger.WithError(err).Error("Failed to stop snapshot scheduler")
	}

	logger.Info("Snapshot worker stopped")
}

// newQuoteBudget returns the shared daily quota pool, or nil when the quota is disabled
func newQuoteBudget(cfg *config.Config, redisCache *storage.RedisCache, priority ratelimit.Priority, logger *logging.Logger) adapter.Budget {
	if cfg.Quotes.DailyBudget <= 0 {
		return nil
	}
	quota, err := ratelimit.NewQuota(&ratelimit.Config{
		Redis:          redisCache.Client(),
		Provider:       cfg.Quotes.Provider,
		TotalBudget:    cfg.Quotes.DailyBudget,
		ReservedBudget: cfg.Quotes.ReservedBudget,
	})
	if err != nil {
		logger.WithError(err).Fatal("Invalid quote quota configuration")
	}
	return quota.For(priority)
}

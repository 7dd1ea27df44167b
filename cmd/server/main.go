// Package main provides the API server entry point
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/portfolio-ledger/internal/adapter"
	"github.com/portfolio-ledger/internal/api"
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

	health := map[string]api.HealthChecker{
		"postgres": postgres,
		"redis":    redisCache,
	}

	var archive service.SnapshotArchiver
	if cfg.Database.ClickHouse.Enabled {
		clickhouse, err := storage.NewClickHouseDB(&cfg.Database.ClickHouse)
		if err != nil {
			logger.WithError(err).Fatal("Failed to connect to ClickHouse")
		}
		defer clickhouse.Close()
		archive = storage.NewSnapshotArchive(clickhouse)
		health["clickhouse"] = clickhouse
	}

	logger.Info("Database connections established")

	accountRepo := storage.NewAccountRepository(postgres.Pool())
	ledgerRepo := storage.NewLedgerRepository(postgres.Pool())
	transactionRepo := storage.NewTransactionRepository(postgres.Pool())
	snapshotRepo := storage.NewSnapshotRepository(postgres.Pool())
	quoteStore := storage.NewRedisQuoteStore(redisCache, cfg.Quotes.StaleRetention)

	source, err := adapter.NewQuoteSourceFromConfig(&cfg.Quotes, newQuoteBudget(cfg, redisCache, ratelimit.PriorityHigh, logger))
	if err != nil {
		logger.WithError(err).Fatal("Failed to configure quote source")
	}
	logger.WithField("provider", source.Name()).Info("Quote source configured")

	quotes := service.NewQuoteCache(source, quoteStore, service.QuoteCacheConfig{
		TTL:          cfg.Quotes.TTL,
		FetchTimeout: cfg.Quotes.FetchTimeout,
	})
	ledgerService := service.NewLedgerService(accountRepo, ledgerRepo, cfg.Ledger.StartingBalance, cfg.Ledger.MaxRetries)
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
	performanceService := service.NewPerformanceService(snapshotRepo)

	server := api.NewServer(&api.ServerConfig{
		Host:              cfg.Server.Host,
		Port:              cfg.Server.Port,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
		ShutdownTimeout:   cfg.Server.ShutdownTimeout,
		RequestsPerMinute: cfg.RateLimit.RequestsPerMinute,
		Burst:             cfg.RateLimit.Burst,
	}, api.Services{
		Ledger:      ledgerService,
		Accounts:    accountService,
		Snapshots:   snapshotService,
		Performance: performanceService,
		Quotes:      quotes,
		Health:      health,
	}, logger)

	serverErr := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logger.WithField("signal", sig.String()).Info("Shutdown signal received")
	case err := <-serverErr:
		logger.WithError(err).Error("API server failed")
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.WithError(err).Error("Graceful shutdown failed")
	}

	logger.Info("Server stopped")
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

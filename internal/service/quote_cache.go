package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/portfolio-ledger/internal/adapter"
	apperrors "github.com/portfolio-ledger/internal/errors"
	"github.com/portfolio-ledger/internal/logging"
	"github.com/portfolio-ledger/internal/models"
	"github.com/portfolio-ledger/internal/types"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

const quoteFetchConcurrency = 4

// QuoteCacheConfig configures a QuoteCache
type QuoteCacheConfig struct {
	TTL          time.Duration
	FetchTimeout time.Duration
	Now          func() time.Time
}

// QuoteCache serves quotes from the store while they are fresh and refetches
// from the source once they expire. The last known value is kept so callers
// that accept stale prices still get one when the source is down.
type QuoteCache struct {
	source       adapter.QuoteSource
	store        QuoteStore
	ttl          time.Duration
	fetchTimeout time.Duration
	now          func() time.Time
	group        singleflight.Group
}

// NewQuoteCache creates a new quote cache
func NewQuoteCache(source adapter.QuoteSource, store QuoteStore, cfg QuoteCacheConfig) *QuoteCache {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 5 * time.Minute
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 5 * time.Second
	}
	return &QuoteCache{
		source:       source,
		store:        store,
		ttl:          cfg.TTL,
		fetchTimeout: cfg.FetchTimeout,
		now:          cfg.Now,
	}
}

// Get returns a quote for symbol. A fresh cached quote is returned as is; otherwise
// the source is asked. When the fetch fails and allowStale is set, the last known
// quote is returned with Stale set.
func (c *QuoteCache) Get(ctx context.Context, symbol string, allowStale bool) (*models.Quote, error) {
	symbol = types.NormalizeSymbol(symbol)
	if symbol == "" {
		return nil, apperrors.NewInvalidParameterError("symbol", "must not be empty")
	}
	logger := logging.FromContext(ctx).WithField("symbol", symbol)

	cached, err := c.store.Get(ctx, symbol)
	if err != nil {
		logger.WithError(err).Warn("Quote store read failed, fetching from source")
		cached = nil
	}
	if cached != nil && c.now().Sub(cached.FetchedAt) < c.ttl {
		q := *cached
		q.Stale = false
		return &q, nil
	}

	v, fetchErr, _ := c.group.Do(symbol, func() (interface{}, error) {
		return c.fetch(ctx, symbol)
	})
	if fetchErr == nil {
		q := *(v.(*models.Quote))
		return &q, nil
	}

	if allowStale && cached != nil {
		logger.WithError(fetchErr).Warn("Quote source unavailable, serving stale quote")
		q := *cached
		q.Stale = true
		return &q, nil
	}
	return nil, apperrors.NewQuoteUnavailableError(symbol, fetchErr)
}

func (c *QuoteCache) fetch(ctx context.Context, symbol string) (*models.Quote, error) {
	// the fetch is shared between callers, so one caller's cancellation must not abort it
	fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.fetchTimeout)
	defer cancel()

	price, _, err := c.source.GetQuote(fetchCtx, symbol)
	if err != nil {
		return nil, err
	}

	quote := &models.Quote{
		Symbol:    symbol,
		Price:     price,
		FetchedAt: c.now().UTC(),
		Source:    c.source.Name(),
	}
	if err := c.store.Put(ctx, quote); err != nil {
		logging.FromContext(ctx).WithField("symbol", symbol).WithError(err).Warn("Failed to store quote")
	}
	return quote, nil
}

// GetMany prices every symbol it can. Symbols without a usable quote are
// returned sorted in missing; GetMany itself never fails.
func (c *QuoteCache) GetMany(ctx context.Context, symbols []string, allowStale bool) (quotes map[string]*models.Quote, missing []string) {
	quotes = make(map[string]*models.Quote, len(symbols))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(quoteFetchConcurrency)
	for _, symbol := range symbols {
		symbol := types.NormalizeSymbol(symbol)
		g.Go(func() error {
			q, err := c.Get(gctx, symbol, allowStale)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				missing = append(missing, symbol)
				return nil
			}
			quotes[symbol] = q
			return nil
		})
	}
	_ = g.Wait() // nolint:errcheck // workers never return errors

	sort.Strings(missing)
	return quotes, missing
}

// Invalidate drops the stored quote for symbol
func (c *QuoteCache) Invalidate(ctx context.Context, symbol string) error {
	return c.store.Delete(ctx, types.NormalizeSymbol(symbol))
}

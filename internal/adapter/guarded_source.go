package adapter

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/portfolio-ledger/internal/circuitbreaker"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

// Budget is a request allowance shared with other processes
type Budget interface {
	TryConsume(ctx context.Context) (allowed bool, retryAfter time.Duration)
}

// GuardedSource throttles calls to an upstream source and trips a circuit
// breaker when it keeps failing
type GuardedSource struct {
	source  QuoteSource
	limiter *rate.Limiter
	breaker *circuitbreaker.CircuitBreaker
	budget  Budget
}

// NewGuardedSource wraps source with a requests-per-minute limit and a breaker
func NewGuardedSource(source QuoteSource, requestsPerMinute int, breaker *circuitbreaker.CircuitBreaker) *GuardedSource {
	limit := rate.Inf
	burst := 1
	if requestsPerMinute > 0 {
		limit = rate.Every(time.Minute / time.Duration(requestsPerMinute))
		burst = requestsPerMinute
	}
	return &GuardedSource{
		source:  source,
		limiter: rate.NewLimiter(limit, burst),
		breaker: breaker,
	}
}

// WithBudget makes every upstream call draw from budget first
func (g *GuardedSource) WithBudget(budget Budget) *GuardedSource {
	g.budget = budget
	return g
}

// Name identifies the wrapped source
func (g *GuardedSource) Name() string {
	return g.source.Name()
}

// GetQuote waits for a rate-limit token, takes one request from the budget, then calls the source through the breaker.
// Unknown symbols do not count against the breaker.
func (g *GuardedSource) GetQuote(ctx context.Context, symbol string) (decimal.Decimal, time.Time, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return decimal.Zero, time.Time{}, fmt.Errorf("%w: %v", ErrSourceRateLimited, err)
	}
	if g.budget != nil {
		if ok, retryAfter := g.budget.TryConsume(ctx); !ok {
			return decimal.Zero, time.Time{}, fmt.Errorf("%w: quota exhausted, resets in %s", ErrSourceRateLimited, retryAfter.Round(time.Second))
		}
	}

	var price decimal.Decimal
	var ts time.Time
	var unknown error

	err := g.breaker.Execute(ctx, func(ctx context.Context) error {
		p, t, err := g.source.GetQuote(ctx, symbol)
		if errors.Is(err, ErrUnknownSymbol) {
			unknown = err
			return nil
		}
		if err != nil {
			return err
		}
		price, ts = p, t
		return nil
	})
	if err != nil {
		return decimal.Zero, time.Time{}, err
	}
	if unknown != nil {
		return decimal.Zero, time.Time{}, unknown
	}
	return price, ts, nil
}

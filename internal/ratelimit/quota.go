// Package ratelimit coordinates the upstream quote quota across processes using Redis.
// The API server and the snapshot worker share one provider key, so the quota is
// split into a reserved pool for interactive requests and a shared pool for
// background work.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Default quota values. Alpha Vantage's free tier allows 25 requests per day.
const (
	DefaultTotalBudget    = 25
	DefaultReservedBudget = 15
	DefaultWindowSize     = 24 * time.Hour
)

const keyPrefix = "quota:"

// Priority selects the pool a request draws from
type Priority int

const (
	// PriorityHigh is for user-facing requests (reserved pool)
	PriorityHigh Priority = iota
	// PriorityLow is for background snapshot work (shared pool)
	PriorityLow
)

// String returns a string representation of the priority level.
func (p Priority) String() string {
	switch p {
	case PriorityHigh:
		return "high"
	case PriorityLow:
		return "low"
	default:
		return "unknown"
	}
}

// consumeScript checks both the total and the pool counter and increments them together
var consumeScript = redis.NewScript(`
	local totalKey = KEYS[1]
	local poolKey = KEYS[2]
	local totalBudget = tonumber(ARGV[1])
	local poolBudget = tonumber(ARGV[2])
	local ttl = tonumber(ARGV[3])

	local totalUsed = tonumber(redis.call('GET', totalKey) or '0')
	local poolUsed = tonumber(redis.call('GET', poolKey) or '0')

	if totalUsed + 1 > totalBudget or poolUsed + 1 > poolBudget then
		return {0, totalUsed, poolUsed}
	end

	redis.call('INCR', totalKey)
	redis.call('EXPIRE', totalKey, ttl)
	redis.call('INCR', poolKey)
	redis.call('EXPIRE', poolKey, ttl)

	return {1, totalUsed + 1, poolUsed + 1}
`)

// Config holds configuration for a Quota.
type Config struct {
	// Redis is required; the quota has no local fallback.
	Redis redis.Cmdable
	// Provider namespaces the keys, e.g. "alphavantage"
	Provider string
	// TotalBudget is the number of upstream requests per window. Default: 25.
	TotalBudget int
	// ReservedBudget is the part of TotalBudget only PriorityHigh may use.
	// Default: 60% of TotalBudget.
	ReservedBudget int
	// WindowSize is the fixed window, aligned to UTC. Default: 24h.
	WindowSize time.Duration
	Now        func() time.Time
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Redis == nil {
		return errors.New("redis client is required")
	}
	if c.Provider == "" {
		return errors.New("provider is required")
	}
	if c.TotalBudget < 0 || c.ReservedBudget < 0 {
		return errors.New("budgets cannot be negative")
	}
	total, reserved := c.budgets()
	if reserved > total {
		return fmt.Errorf("reserved budget (%d) cannot exceed total budget (%d)", reserved, total)
	}
	return nil
}

func (c *Config) budgets() (total, reserved int) {
	total, reserved = c.TotalBudget, c.ReservedBudget
	if total == 0 {
		total = DefaultTotalBudget
	}
	if reserved == 0 {
		reserved = total * DefaultReservedBudget / DefaultTotalBudget
	}
	return total, reserved
}

// Usage reports consumption in the current window
type Usage struct {
	TotalUsed      int
	ReservedUsed   int
	SharedUsed     int
	TotalBudget    int
	ReservedBudget int
	SharedBudget   int
	WindowStart    time.Time
}

// Quota is a fixed-window request budget shared through Redis
type Quota struct {
	redis          redis.Cmdable
	provider       string
	totalBudget    int
	reservedBudget int
	sharedBudget   int
	windowSize     time.Duration
	now            func() time.Time
}

// NewQuota creates a quota with the given configuration.
func NewQuota(cfg *Config) (*Quota, error) {
	if cfg == nil {
		return nil, errors.New("configuration is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	total, reserved := cfg.budgets()
	windowSize := cfg.WindowSize
	if windowSize <= 0 {
		windowSize = DefaultWindowSize
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &Quota{
		redis:          cfg.Redis,
		provider:       cfg.Provider,
		totalBudget:    total,
		reservedBudget: reserved,
		sharedBudget:   total - reserved,
		windowSize:     windowSize,
		now:            now,
	}, nil
}

func (q *Quota) windowStart() time.Time {
	return q.now().UTC().Truncate(q.windowSize)
}

func (q *Quota) keys(start time.Time) (totalKey, reservedKey, sharedKey string) {
	ts := strconv.FormatInt(start.Unix(), 10)
	base := keyPrefix + q.provider + ":"
	return base + "total:" + ts, base + "reserved:" + ts, base + "shared:" + ts
}

// TryConsume takes one request from the pool for priority. When the pool is
// exhausted it returns false and the time until the window resets. Redis errors
// deny the request.
func (q *Quota) TryConsume(ctx context.Context, priority Priority) (bool, time.Duration) {
	start := q.windowStart()
	totalKey, reservedKey, sharedKey := q.keys(start)

	poolKey, poolBudget := sharedKey, q.sharedBudget
	if priority == PriorityHigh {
		poolKey, poolBudget = reservedKey, q.reservedBudget
	}

	ttl := int((q.windowSize + time.Minute).Seconds())
	result, err := consumeScript.Run(ctx, q.redis, []string{totalKey, poolKey},
		q.totalBudget, poolBudget, ttl).Int64Slice()
	if err != nil || len(result) == 0 || result[0] != 1 {
		return false, q.untilReset(start)
	}
	return true, 0
}

func (q *Quota) untilReset(start time.Time) time.Duration {
	wait := start.Add(q.windowSize).Sub(q.now())
	if wait < 0 {
		wait = 0
	}
	return wait
}

// GetUsage returns the counters of the current window
func (q *Quota) GetUsage(ctx context.Context) (*Usage, error) {
	start := q.windowStart()
	totalKey, reservedKey, sharedKey := q.keys(start)

	pipe := q.redis.Pipeline()
	totalCmd := pipe.Get(ctx, totalKey)
	reservedCmd := pipe.Get(ctx, reservedKey)
	sharedCmd := pipe.Get(ctx, sharedKey)
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("failed to read quota usage: %w", err)
	}

	return &Usage{
		TotalUsed:      intOrZero(totalCmd),
		ReservedUsed:   intOrZero(reservedCmd),
		SharedUsed:     intOrZero(sharedCmd),
		TotalBudget:    q.totalBudget,
		ReservedBudget: q.reservedBudget,
		SharedBudget:   q.sharedBudget,
		WindowStart:    start,
	}, nil
}

func intOrZero(cmd *redis.StringCmd) int {
	val, err := cmd.Int()
	if err != nil {
		return 0
	}
	return val
}

// Pool binds a Quota to one priority
type Pool struct {
	quota    *Quota
	priority Priority
}

// For returns the pool requests of the given priority draw from
func (q *Quota) For(priority Priority) *Pool {
	return &Pool{quota: q, priority: priority}
}

// TryConsume takes one request from the pool
func (p *Pool) TryConsume(ctx context.Context) (bool, time.Duration) {
	return p.quota.TryConsume(ctx, p.priority)
}

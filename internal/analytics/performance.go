// Package analytics derives performance statistics from an ordered snapshot history.
// Every function is pure and returns a well-defined zero value for short histories.
package analytics

import (
	"math"
	"sort"
	"time"

	"github.com/portfolio-ledger/internal/models"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// DailyReturn is the percent change of total value between two consecutive snapshots
type DailyReturn struct {
	Date  time.Time `json:"date"`
	Value float64   `json:"value"`
}

// Performance summarises a snapshot window
type Performance struct {
	SnapshotCount int             `json:"snapshotCount"`
	StartValue    decimal.Decimal `json:"startValue"`
	EndValue      decimal.Decimal `json:"endValue"`
	TotalReturn   decimal.Decimal `json:"totalReturn"`
	PercentReturn float64         `json:"percentReturn"`
	Volatility    float64         `json:"volatility"`
	SharpeRatio   float64         `json:"sharpeRatio"`
	MaxDrawdown   float64         `json:"maxDrawdown"`
	BestDay       *DailyReturn    `json:"bestDay"`
	WorstDay      *DailyReturn    `json:"worstDay"`
	DailyReturns  []DailyReturn   `json:"dailyReturns"`
}

// Compute returns every statistic for snapshots. Fewer than two snapshots
// yield a zeroed Performance with nil best and worst days.
func Compute(snapshots []*models.Snapshot) Performance {
	ordered := sortedByDate(snapshots)

	perf := Performance{
		SnapshotCount: len(ordered),
		DailyReturns:  []DailyReturn{},
	}
	if len(ordered) < 2 {
		return perf
	}

	returns := DailyReturns(ordered)

	perf.StartValue = ordered[0].TotalValue
	perf.EndValue = ordered[len(ordered)-1].TotalValue
	perf.TotalReturn = TotalReturn(ordered)
	perf.PercentReturn = PercentReturn(ordered)
	perf.Volatility = Volatility(returns)
	perf.SharpeRatio = SharpeRatio(returns)
	perf.MaxDrawdown = MaxDrawdown(ordered)
	perf.BestDay, perf.WorstDay = BestWorstDay(returns)
	perf.DailyReturns = returns

	return perf
}

// TotalReturn is last total value minus first total value
func TotalReturn(snapshots []*models.Snapshot) decimal.Decimal {
	if len(snapshots) < 2 {
		return decimal.Zero
	}
	return snapshots[len(snapshots)-1].TotalValue.Sub(snapshots[0].TotalValue)
}

// PercentReturn is TotalReturn over the first total value, in percent
func PercentReturn(snapshots []*models.Snapshot) float64 {
	if len(snapshots) < 2 || snapshots[0].TotalValue.IsZero() {
		return 0
	}
	return TotalReturn(snapshots).Div(snapshots[0].TotalValue).Mul(hundred).InexactFloat64()
}

// DailyReturns computes consecutive percent changes, skipping zero denominators
func DailyReturns(snapshots []*models.Snapshot) []DailyReturn {
	returns := make([]DailyReturn, 0, len(snapshots))
	for i := 1; i < len(snapshots); i++ {
		prev := snapshots[i-1].TotalValue
		if prev.IsZero() {
			continue
		}
		r := snapshots[i].TotalValue.Sub(prev).Div(prev).Mul(hundred)
		returns = append(returns, DailyReturn{
			Date:  snapshots[i].SnapshotDate,
			Value: r.InexactFloat64(),
		})
	}
	return returns
}

func mean(returns []DailyReturn) float64 {
	if len(returns) == 0 {
		return 0
	}
	sum := 0.0
	for _, r := range returns {
		sum += r.Value
	}
	return sum / float64(len(returns))
}

// Volatility is the population standard deviation of daily returns
func Volatility(returns []DailyReturn) float64 {
	if len(returns) == 0 {
		return 0
	}
	m := mean(returns)
	variance := 0.0
	for _, r := range returns {
		d := r.Value - m
		variance += d * d
	}
	return math.Sqrt(variance / float64(len(returns)))
}

// SharpeRatio is mean daily return over volatility with a zero risk-free rate
func SharpeRatio(returns []DailyReturn) float64 {
	vol := Volatility(returns)
	if vol == 0 {
		return 0
	}
	return mean(returns) / vol
}

// MaxDrawdown is the largest percent decline from a running peak of total value
func MaxDrawdown(snapshots []*models.Snapshot) float64 {
	if len(snapshots) == 0 {
		return 0
	}
	peak := snapshots[0].TotalValue
	maxDD := decimal.Zero
	for _, s := range snapshots {
		if s.TotalValue.GreaterThan(peak) {
			peak = s.TotalValue
		}
		if !peak.IsPositive() {
			continue
		}
		dd := peak.Sub(s.TotalValue).Div(peak).Mul(hundred)
		if dd.GreaterThan(maxDD) {
			maxDD = dd
		}
	}
	return maxDD.InexactFloat64()
}

// BestWorstDay returns the highest and lowest daily returns, or nil when there are none.
// Ties resolve to the earliest date.
func BestWorstDay(returns []DailyReturn) (best, worst *DailyReturn) {
	for i := range returns {
		r := returns[i]
		if best == nil || r.Value > best.Value {
			b := r
			best = &b
		}
		if worst == nil || r.Value < worst.Value {
			w := r
			worst = &w
		}
	}
	return best, worst
}

func sortedByDate(snapshots []*models.Snapshot) []*models.Snapshot {
	ordered := make([]*models.Snapshot, 0, len(snapshots))
	for _, s := range snapshots {
		if s != nil {
			ordered = append(ordered, s)
		}
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].SnapshotDate.Before(ordered[j].SnapshotDate)
	})
	return ordered
}

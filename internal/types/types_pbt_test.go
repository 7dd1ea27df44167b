package types

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/shopspring/decimal"
)

func TestLineTotalProperties(t *testing.T) {
	properties := gopter.NewProperties(nil)

	// Property: line totals never carry more than two decimal places
	properties.Property("line total has at most two places", prop.ForAll(
		func(qtyMilli, priceCents int64) bool {
			qty := decimal.New(qtyMilli, -3)
			price := decimal.New(priceCents, -2)
			total := LineTotal(qty, price)
			return total.Equal(total.Round(2))
		},
		gen.Int64Range(1, 1_000_000),
		gen.Int64Range(1, 10_000_000),
	))

	// Property: buying at the existing average leaves the average unchanged
	properties.Property("weighted average is stable at same price", prop.ForAll(
		func(oldQty, addQty, priceCents int64) bool {
			price := decimal.New(priceCents, -2)
			q1 := decimal.NewFromInt(oldQty)
			q2 := decimal.NewFromInt(addQty)
			avg := WeightedAverageCost(q1, price, q2, q2.Mul(price))
			return avg.Equal(price)
		},
		gen.Int64Range(1, 10_000),
		gen.Int64Range(1, 10_000),
		gen.Int64Range(1, 1_000_000),
	))

	// Property: the merged average lies between the two purchase prices
	properties.Property("weighted average is bounded", prop.ForAll(
		func(q1, q2, p1c, p2c int64) bool {
			p1 := decimal.New(p1c, -2)
			p2 := decimal.New(p2c, -2)
			qty1 := decimal.NewFromInt(q1)
			qty2 := decimal.NewFromInt(q2)
			avg := WeightedAverageCost(qty1, p1, qty2, qty2.Mul(p2))
			lo, hi := decimal.Min(p1, p2), decimal.Max(p1, p2)
			return avg.GreaterThanOrEqual(lo) && avg.LessThanOrEqual(hi)
		},
		gen.Int64Range(1, 10_000),
		gen.Int64Range(1, 10_000),
		gen.Int64Range(1, 1_000_000),
		gen.Int64Range(1, 1_000_000),
	))

	properties.TestingRun(t)
}

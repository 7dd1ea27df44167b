package types

import (
	"github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"
)

// CurrencyCode is the single currency every balance is denominated in.
const CurrencyCode = money.USD

const (
	// CurrencyPlaces is the number of decimal places kept for currency amounts
	CurrencyPlaces int32 = 2
	// AverageCostPlaces is the number of decimal places kept for average cost
	AverageCostPlaces int32 = 4
	// PercentPlaces is the number of decimal places kept for percentages
	PercentPlaces int32 = 4
	// PricePlaces is the precision of a trade price as stored
	PricePlaces int32 = 4
	// QuantityPlaces is the precision of a share quantity as stored
	QuantityPlaces int32 = 6
)

var hundred = decimal.NewFromInt(100)

// RoundCurrency rounds an amount half away from zero to two decimal places.
func RoundCurrency(d decimal.Decimal) decimal.Decimal {
	return d.Round(CurrencyPlaces)
}

// RoundAverageCost rounds an average cost to four decimal places.
func RoundAverageCost(d decimal.Decimal) decimal.Decimal {
	return d.Round(AverageCostPlaces)
}

// FitsPlaces reports whether d has no digits beyond places decimal places.
func FitsPlaces(d decimal.Decimal, places int32) bool {
	return d.Equal(d.Truncate(places))
}

// LineTotal returns round2(quantity * price).
func LineTotal(quantity, price decimal.Decimal) decimal.Decimal {
	return RoundCurrency(quantity.Mul(price))
}

// WeightedAverageCost merges an existing position with a new purchase.
// The result is (oldQty*oldAvg + cost) / (oldQty + addQty) at four places.
func WeightedAverageCost(oldQty, oldAvg, addQty, cost decimal.Decimal) decimal.Decimal {
	newQty := oldQty.Add(addQty)
	if newQty.IsZero() {
		return decimal.Zero
	}
	return RoundAverageCost(oldQty.Mul(oldAvg).Add(cost).DivRound(newQty, AverageCostPlaces+4))
}

// PercentChange returns (to-from)/from*100 at four places, or zero when from is zero.
func PercentChange(from, to decimal.Decimal) decimal.Decimal {
	if from.IsZero() {
		return decimal.Zero
	}
	return to.Sub(from).Div(from).Mul(hundred).Round(PercentPlaces)
}

// FormatMoney renders an amount using the currency's display rules, e.g. "$1,234.50".
func FormatMoney(d decimal.Decimal) string {
	cur := money.GetCurrency(CurrencyCode)
	factor := decimal.New(1, int32(cur.Fraction))
	minor := RoundCurrency(d).Mul(factor).IntPart()
	return money.New(minor, CurrencyCode).Display()
}

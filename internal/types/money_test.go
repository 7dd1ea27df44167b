package types

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestWeightedAverageCost(t *testing.T) {
	tests := []struct {
		name   string
		oldQty string
		oldAvg string
		addQty string
		cost   string
		want   string
	}{
		{"two lots", "10", "10", "10", "200", "15"},
		{"new position", "0", "0", "5", "50", "10"},
		{"repeating fraction", "3", "10", "1", "11", "10.25"},
		{"four places", "3", "1", "0", "0", "1"},
		{"thirds", "2", "1", "1", "2", "1.3333"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := WeightedAverageCost(
				decimal.RequireFromString(tt.oldQty),
				decimal.RequireFromString(tt.oldAvg),
				decimal.RequireFromString(tt.addQty),
				decimal.RequireFromString(tt.cost),
			)
			if !got.Equal(decimal.RequireFromString(tt.want)) {
				t.Errorf("WeightedAverageCost() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestRoundCurrency(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"1.005", "1.01"},
		{"1.004", "1"},
		{"-1.005", "-1.01"},
		{"10", "10"},
	}

	for _, tt := range tests {
		got := RoundCurrency(decimal.RequireFromString(tt.in))
		if !got.Equal(decimal.RequireFromString(tt.want)) {
			t.Errorf("RoundCurrency(%s) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestPercentChange(t *testing.T) {
	if got := PercentChange(decimal.Zero, decimal.NewFromInt(10)); !got.IsZero() {
		t.Errorf("expected zero for zero base, got %s", got)
	}
	got := PercentChange(decimal.NewFromInt(200), decimal.NewFromInt(150))
	if !got.Equal(decimal.NewFromInt(-25)) {
		t.Errorf("PercentChange() = %s, want -25", got)
	}
}

func TestFormatMoney(t *testing.T) {
	if got := FormatMoney(decimal.RequireFromString("1234.5")); got != "$1,234.50" {
		t.Errorf("FormatMoney() = %q, want $1,234.50", got)
	}
	if got := FormatMoney(decimal.Zero); got != "$0.00" {
		t.Errorf("FormatMoney() = %q, want $0.00", got)
	}
}

func TestParseValuationMode(t *testing.T) {
	for in, want := range map[string]ValuationMode{
		"":           ValuationCost,
		"cost_basis": ValuationCost,
		"MARKET":     ValuationMarket,
	} {
		got, err := ParseValuationMode(in)
		if err != nil || got != want {
			t.Errorf("ParseValuationMode(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := ParseValuationMode("mark-to-model"); err == nil {
		t.Error("expected error for unknown mode")
	}
}

func TestNormalizeSymbol(t *testing.T) {
	if got := NormalizeSymbol("  aapl "); got != "AAPL" {
		t.Errorf("NormalizeSymbol() = %q", got)
	}
}

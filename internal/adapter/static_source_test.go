package adapter

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStaticPrices(t *testing.T) {
	prices, err := ParseStaticPrices("aapl=190.5, MSFT = 410 ,")
	require.NoError(t, err)
	assert.Len(t, prices, 2)
	assert.True(t, prices["AAPL"].Equal(decimal.RequireFromString("190.5")))
	assert.True(t, prices["MSFT"].Equal(decimal.NewFromInt(410)))

	for _, bad := range []string{"AAPL", "AAPL=abc", "AAPL=-1", "AAPL=0"} {
		_, err := ParseStaticPrices(bad)
		assert.Error(t, err, bad)
	}
}

func TestStaticSource(t *testing.T) {
	s := NewStaticSource(map[string]decimal.Decimal{"aapl": decimal.NewFromInt(100)})

	price, _, err := s.GetQuote(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.True(t, price.Equal(decimal.NewFromInt(100)))

	_, _, err = s.GetQuote(context.Background(), "TSLA")
	assert.ErrorIs(t, err, ErrUnknownSymbol)

	s.Set("tsla", decimal.NewFromInt(250))
	price, _, err = s.GetQuote(context.Background(), "TSLA")
	require.NoError(t, err)
	assert.True(t, price.Equal(decimal.NewFromInt(250)))
}

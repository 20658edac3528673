package domain

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAssetSpecValidate(t *testing.T) {
	tests := []struct {
		name    string
		spec    AssetSpec
		wantErr bool
	}{
		{"equal", AssetSpec{Symbol: "ETH", Decimals: 9, MaxPrecision: 9}, false},
		{"below", AssetSpec{Symbol: "USDC", Decimals: 9, MaxPrecision: 3}, false},
		{"zero", AssetSpec{Symbol: "X", Decimals: 0, MaxPrecision: 0}, false},
		{"above", AssetSpec{Symbol: "BAD", Decimals: 6, MaxPrecision: 8}, true},
		{"negative", AssetSpec{Symbol: "NEG", Decimals: 6, MaxPrecision: -1}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.spec.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestMatchMarket(t *testing.T) {
	markets := []Market{
		{ID: "0xaaa", Base: AssetSpec{Symbol: "FUEL"}, Quote: AssetSpec{Symbol: "USDC"}},
		{ID: "0xbbb", Base: AssetSpec{Symbol: "ETH"}, Quote: AssetSpec{Symbol: "USDC"}},
		{ID: "0xccc", Base: AssetSpec{Symbol: "ETH"}, Quote: AssetSpec{Symbol: "USDC"}},
	}

	t.Run("by symbols picks first", func(t *testing.T) {
		m, ok := MatchMarket(markets, MarketConfig{ID: "eth-usdc", BaseSymbol: "ETH", QuoteSymbol: "USDC"})
		require.True(t, ok)
		assert.Equal(t, "0xbbb", m.ID)
	})

	t.Run("by id wins over symbols", func(t *testing.T) {
		m, ok := MatchMarket(markets, MarketConfig{ID: "0xCCC", BaseSymbol: "ETH", QuoteSymbol: "USDC"})
		require.True(t, ok)
		assert.Equal(t, "0xccc", m.ID)
	})

	t.Run("symbols are case sensitive", func(t *testing.T) {
		_, ok := MatchMarket(markets, MarketConfig{ID: "x", BaseSymbol: "eth", QuoteSymbol: "usdc"})
		assert.False(t, ok)
	})

	t.Run("empty list", func(t *testing.T) {
		_, ok := MatchMarket(nil, MarketConfig{ID: "x", BaseSymbol: "ETH", QuoteSymbol: "USDC"})
		assert.False(t, ok)
	})
}

func TestMarketConfigIntervals(t *testing.T) {
	cfg := MarketConfig{OrderIntervalSeconds: 5, OrderPairsIntervalSeconds: 60}
	assert.Equal(t, 5*time.Second, cfg.OrderInterval())
	assert.Equal(t, time.Minute, cfg.CycleInterval())
}

func TestMarketConfigValidateAmounts(t *testing.T) {
	base := MarketConfig{
		ID:                    "eth",
		PriceAdjustmentFactor: decimal.RequireFromString("0.001"),
		OrderUSDCValue:        decimal.NewFromInt(10),
	}
	assert.NoError(t, base.ValidateAmounts())

	zeroFactor := base
	zeroFactor.PriceAdjustmentFactor = decimal.Zero
	assert.NoError(t, zeroFactor.ValidateAmounts())

	bad := base
	bad.PriceAdjustmentFactor = decimal.NewFromInt(1)
	assert.Error(t, bad.ValidateAmounts())

	neg := base
	neg.PriceAdjustmentFactor = decimal.RequireFromString("-0.1")
	assert.Error(t, neg.ValidateAmounts())

	noValue := base
	noValue.OrderUSDCValue = decimal.Zero
	assert.Error(t, noValue.ValidateAmounts())
}

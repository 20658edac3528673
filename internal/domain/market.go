package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// MarketConfig describes one configured trading pair and how it is mined.
// It is loaded once at startup and never mutated afterwards.
type MarketConfig struct {
	ID                        string          `yaml:"id" toml:"id" validate:"required"`
	BaseSymbol                string          `yaml:"base_symbol" toml:"base_symbol" validate:"required"`
	QuoteSymbol               string          `yaml:"quote_symbol" toml:"quote_symbol" validate:"required"`
	BitgetSymbol              string          `yaml:"bitget_symbol" toml:"bitget_symbol" validate:"required"`
	ConvertToUSDC             bool            `yaml:"convert_to_usdc" toml:"convert_to_usdc"`
	ReciprocalRate            bool            `yaml:"reciprocal_rate" toml:"reciprocal_rate"`
	PriceAdjustmentFactor     decimal.Decimal `yaml:"price_adjustment_factor" toml:"price_adjustment_factor"`
	OrderUSDCValue            decimal.Decimal `yaml:"order_usdc_value" toml:"order_usdc_value"`
	OrderIntervalSeconds      int             `yaml:"order_interval_seconds" toml:"order_interval_seconds" validate:"gt=0"`
	OrderPairsIntervalSeconds int             `yaml:"order_pairs_interval_seconds" toml:"order_pairs_interval_seconds" validate:"gt=0"`
	OrderType                 string          `yaml:"order_type" toml:"order_type" validate:"omitempty,oneof=spot market fill_or_kill post_only"`
	SkipSellOnBuyFailure      bool            `yaml:"skip_sell_on_buy_failure" toml:"skip_sell_on_buy_failure"`
}

// OrderInterval is the wait between the buy and the sell leg.
func (m MarketConfig) OrderInterval() time.Duration {
	return time.Duration(m.OrderIntervalSeconds) * time.Second
}

// CycleInterval is the scheduler period for this market.
func (m MarketConfig) CycleInterval() time.Duration {
	return time.Duration(m.OrderPairsIntervalSeconds) * time.Second
}

// ValidateAmounts checks the decimal fields, which struct tags cannot express.
func (m MarketConfig) ValidateAmounts() error {
	if m.PriceAdjustmentFactor.IsNegative() || m.PriceAdjustmentFactor.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return fmt.Errorf("market %s: price_adjustment_factor must be in [0,1), got %s", m.ID, m.PriceAdjustmentFactor)
	}
	if !m.OrderUSDCValue.IsPositive() {
		return fmt.Errorf("market %s: order_usdc_value must be positive, got %s", m.ID, m.OrderUSDCValue)
	}
	return nil
}

// AssetSpec is the venue's integer representation of one asset.
type AssetSpec struct {
	Symbol       string `json:"symbol"`
	AssetID      string `json:"asset"`
	Decimals     int32  `json:"decimals"`
	MaxPrecision int32  `json:"max_precision"`
}

// Validate checks 0 <= MaxPrecision <= Decimals.
func (a AssetSpec) Validate() error {
	if a.Decimals < 0 || a.MaxPrecision < 0 {
		return fmt.Errorf("asset %s: negative precision (decimals=%d, max_precision=%d)", a.Symbol, a.Decimals, a.MaxPrecision)
	}
	if a.MaxPrecision > a.Decimals {
		return fmt.Errorf("asset %s: max_precision %d exceeds decimals %d", a.Symbol, a.MaxPrecision, a.Decimals)
	}
	return nil
}

// Market is a venue market resolved at the start of every cycle.
type Market struct {
	ID         string    `json:"market_id"`
	ContractID string    `json:"contract_id"`
	Base       AssetSpec `json:"base"`
	Quote      AssetSpec `json:"quote"`
}

// Validate checks both asset specs.
func (m *Market) Validate() error {
	if err := m.Base.Validate(); err != nil {
		return err
	}
	return m.Quote.Validate()
}

// MatchMarket finds the venue market for cfg: an exact market id match wins,
// otherwise the first market whose base and quote symbols match.
func MatchMarket(markets []Market, cfg MarketConfig) (*Market, bool) {
	for i := range markets {
		if markets[i].ID != "" && strings.EqualFold(markets[i].ID, cfg.ID) {
			return &markets[i], true
		}
	}
	for i := range markets {
		if markets[i].Base.Symbol == cfg.BaseSymbol && markets[i].Quote.Symbol == cfg.QuoteSymbol {
			return &markets[i], true
		}
	}
	return nil, false
}

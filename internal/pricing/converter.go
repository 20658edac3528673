package pricing

import (
	"fmt"

	"github.com/shopspring/decimal"

	"volume_miner/internal/domain"
)

var one = decimal.NewFromInt(1)

// Converter derives venue order prices from a reference price.
type Converter struct {
	ConvertToUSDC    bool
	ReciprocalRate   bool
	AdjustmentFactor decimal.Decimal
}

// NewConverter builds the converter configured for one market.
func NewConverter(cfg domain.MarketConfig) Converter {
	return Converter{
		ConvertToUSDC:    cfg.ConvertToUSDC,
		ReciprocalRate:   cfg.ReciprocalRate,
		AdjustmentFactor: cfg.PriceAdjustmentFactor,
	}
}

// Quote holds both derived prices.
type Quote struct {
	Buy       string // integer string on the quote grid
	Sell      string
	BuyValue  decimal.Decimal // truncated decimal value before scaling
	SellValue decimal.Decimal
}

// Reference applies the cross conversion and the reciprocal step to the raw
// price. usdcUsdt is only consulted when ConvertToUSDC is set.
func (c Converter) Reference(raw, usdcUsdt decimal.Decimal) (Ratio, error) {
	if !raw.IsPositive() {
		return Ratio{}, fmt.Errorf("%w: raw price %s", domain.ErrPriceUnavailable, raw)
	}
	ref := FromDecimal(raw)
	if c.ConvertToUSDC {
		if !usdcUsdt.IsPositive() {
			return Ratio{}, fmt.Errorf("%w: usdc/usdt price %s", domain.ErrPriceUnavailable, usdcUsdt)
		}
		ref = ref.Div(usdcUsdt)
	}
	if c.ReciprocalRate {
		ref = ref.Inverse()
	}
	return ref, nil
}

// Spread returns the exact buy and sell prices around ref.
func (c Converter) Spread(ref Ratio) (buy, sell Ratio) {
	return ref.Mul(one.Add(c.AdjustmentFactor)), ref.Mul(one.Sub(c.AdjustmentFactor))
}

// Quote computes the buy/sell price strings for the quote asset. Both legs
// truncate toward zero; a price that truncates to zero is rejected.
func (c Converter) Quote(ref Ratio, quote domain.AssetSpec) (Quote, error) {
	buy, sell := c.Spread(ref)

	q := Quote{
		BuyValue:  buy.Truncate(quote.MaxPrecision),
		SellValue: sell.Truncate(quote.MaxPrecision),
	}
	if !q.BuyValue.IsPositive() || !q.SellValue.IsPositive() {
		return Quote{}, fmt.Errorf("%w: buy=%s sell=%s at precision %d",
			domain.ErrPriceTooSmall, buy.Approx(), sell.Approx(), quote.MaxPrecision)
	}
	q.Buy = ToGrid(q.BuyValue, quote)
	q.Sell = ToGrid(q.SellValue, quote)
	return q, nil
}

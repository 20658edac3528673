package pricing

import (
	"fmt"

	"github.com/shopspring/decimal"

	"volume_miner/internal/domain"
)

// Size converts a notional quote value into a base quantity on the base grid.
// ref is the converted reference price, before the spread is applied.
func Size(notional decimal.Decimal, ref Ratio, base domain.AssetSpec) (string, error) {
	if !ref.IsPositive() {
		return "", fmt.Errorf("%w: reference %s", domain.ErrPriceUnavailable, ref)
	}
	qty := FromDecimal(notional).Mul(ref.den).Div(ref.num).Truncate(base.MaxPrecision)
	if !qty.IsPositive() {
		return "", fmt.Errorf("%w: %s / %s at precision %d",
			domain.ErrQuantityTooSmall, notional, ref.Approx(), base.MaxPrecision)
	}
	return ToGrid(qty, base), nil
}

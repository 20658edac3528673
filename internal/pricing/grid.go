package pricing

import (
	"fmt"

	"github.com/shopspring/decimal"

	"volume_miner/internal/domain"
)

// Truncate cuts v toward zero to precision fractional digits.
// Truncating an already truncated value is a no-op.
func Truncate(v decimal.Decimal, precision int32) decimal.Decimal {
	return v.Truncate(precision)
}

// ToGrid renders v on the asset's integer grid (v * 10^decimals) after
// truncating to max_precision. The result never carries a fractional part.
func ToGrid(v decimal.Decimal, asset domain.AssetSpec) string {
	return v.Truncate(asset.MaxPrecision).Shift(asset.Decimals).BigInt().String()
}

// FromGrid is the inverse of ToGrid: s / 10^decimals.
func FromGrid(s string, asset domain.AssetSpec) (decimal.Decimal, error) {
	v, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse grid value %q: %w", s, err)
	}
	if !v.Equal(v.Truncate(0)) {
		return decimal.Zero, fmt.Errorf("grid value %q is not an integer", s)
	}
	return v.Shift(-asset.Decimals), nil
}

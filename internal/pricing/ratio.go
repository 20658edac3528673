package pricing

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Ratio is an exact rational price num/den. Every step of the price chain
// multiplies or swaps its terms, so nothing is rounded until Truncate.
type Ratio struct {
	num decimal.Decimal
	den decimal.Decimal
}

// NewRatio returns num/den. den must be non-zero.
func NewRatio(num, den decimal.Decimal) Ratio {
	return Ratio{num: num, den: den}
}

// FromDecimal wraps a plain decimal as v/1.
func FromDecimal(v decimal.Decimal) Ratio {
	return Ratio{num: v, den: decimal.NewFromInt(1)}
}

// Mul scales the ratio by f.
func (r Ratio) Mul(f decimal.Decimal) Ratio {
	return Ratio{num: r.num.Mul(f), den: r.den}
}

// Div divides the ratio by d.
func (r Ratio) Div(d decimal.Decimal) Ratio {
	return Ratio{num: r.num, den: r.den.Mul(d)}
}

// Inverse returns den/num.
func (r Ratio) Inverse() Ratio {
	return Ratio{num: r.den, den: r.num}
}

// IsPositive reports whether the ratio is strictly positive.
func (r Ratio) IsPositive() bool {
	return !r.den.IsZero() && r.num.Sign()*r.den.Sign() > 0
}

// Cmp compares two ratios exactly. Both must have positive denominators.
func (r Ratio) Cmp(o Ratio) int {
	return r.num.Mul(o.den).Cmp(o.num.Mul(r.den))
}

// Truncate returns the ratio truncated toward zero to precision fractional digits.
func (r Ratio) Truncate(precision int32) decimal.Decimal {
	if r.den.IsZero() {
		return decimal.Zero
	}
	q, _ := r.num.QuoRem(r.den, precision)
	return q
}

// Approx is a display value for logs.
func (r Ratio) Approx() decimal.Decimal {
	if r.den.IsZero() {
		return decimal.Zero
	}
	return r.num.DivRound(r.den, 18)
}

func (r Ratio) String() string {
	return fmt.Sprintf("%s/%s", r.num, r.den)
}

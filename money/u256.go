// Package money implements the U256 arithmetic the liquidation pipeline runs
// on: saturating multiplication, truncating division, and the half-up
// percentMul/percentDiv helpers used by the pooled-protocol ranking formula.
package money

import (
	"fmt"
	"math/big"

	"github.com/holiman/uint256"
)

// MaxUint256 is the saturation ceiling for every operation in this package.
var MaxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

// BasisPoints is the denominator used by percentMul/percentDiv.
const BasisPoints = 10_000

// halfBasisPoints is added before the final division to round half-up,
// matching percent_mul/percent_div in the ranking formula.
const halfBasisPoints = BasisPoints / 2

// SaturatingMul multiplies a and b, clamping the result to MaxUint256 rather
// than wrapping. U256 has no sign, so saturation only ever happens at the
// top end. The multiplication itself runs in fixed-width uint256.Int
// arithmetic (the allocation-free type the ranking/ICR hot path wants),
// falling back to big.Int only for the inputs-already-out-of-range case that
// can never occur for values the Store round-trips.
func SaturatingMul(a, b *big.Int) *big.Int {
	ua, of1 := uint256.FromBig(a)
	ub, of2 := uint256.FromBig(b)
	if of1 || of2 {
		product := new(big.Int).Mul(a, b)
		if product.Cmp(MaxUint256) > 0 {
			return new(big.Int).Set(MaxUint256)
		}
		return product
	}
	var result uint256.Int
	_, overflow := result.MulOverflow(ua, ub)
	if overflow {
		return new(big.Int).Set(MaxUint256)
	}
	return result.ToBig()
}

// SaturatingAdd adds a and b, clamping to MaxUint256, via the same
// fixed-width uint256.Int path as SaturatingMul.
func SaturatingAdd(a, b *big.Int) *big.Int {
	ua, of1 := uint256.FromBig(a)
	ub, of2 := uint256.FromBig(b)
	if of1 || of2 {
		sum := new(big.Int).Add(a, b)
		if sum.Cmp(MaxUint256) > 0 {
			return new(big.Int).Set(MaxUint256)
		}
		return sum
	}
	var result uint256.Int
	_, overflow := result.AddOverflow(ua, ub)
	if overflow {
		return new(big.Int).Set(MaxUint256)
	}
	return result.ToBig()
}

// SaturatingSub subtracts b from a, clamping at zero (U256 has no negative
// range). Every "max(0, x - y)" in the spec's mirror-update table routes
// through this.
func SaturatingSub(a, b *big.Int) *big.Int {
	if b.Cmp(a) >= 0 {
		return big.NewInt(0)
	}
	return new(big.Int).Sub(a, b)
}

// PercentMul computes (halfBasisPoints + a*bps) / BasisPoints, i.e. a*bps/10000
// rounded half-up in basis-point units. bps is itself a plain int (e.g. a
// liquidation bonus of 10500 = 105%).
func PercentMul(a *big.Int, bps int64) *big.Int {
	product := SaturatingMul(a, big.NewInt(bps))
	numerator := new(big.Int).Add(big.NewInt(halfBasisPoints), product)
	return new(big.Int).Div(numerator, big.NewInt(BasisPoints))
}

// PercentDiv computes (bps/2 + a*BasisPoints) / bps, the inverse of PercentMul
// used when a liquidation is clamped to the available collateral and the
// covered debt must be recomputed.
func PercentDiv(a *big.Int, bps int64) (*big.Int, error) {
	if bps == 0 {
		return nil, fmt.Errorf("percentDiv: bps must be non-zero")
	}
	halfBps := bps / 2
	numerator := SaturatingAdd(big.NewInt(halfBps), SaturatingMul(a, big.NewInt(BasisPoints)))
	return new(big.Int).Div(numerator, big.NewInt(bps)), nil
}

// MulDivTrunc computes a*b/c by truncation, the generic form behind every
// "x * y / z" expression in the ranking formula and the ICR calculation.
// It never rounds to nearest and never panics on overflow: it saturates the
// intermediate product exactly like SaturatingMul before dividing.
func MulDivTrunc(a, b, c *big.Int) (*big.Int, error) {
	if c.Sign() == 0 {
		return nil, fmt.Errorf("mulDivTrunc: divisor is zero")
	}
	product := SaturatingMul(a, b)
	return new(big.Int).Div(product, c), nil
}

// ParseDecimal parses the decimal-string representation the Store persists
// U256 values as (spec.md §6: "numeric fields stored as decimal strings").
// A malformed string is reported to the caller, never panics, so a Store
// layer can treat it as a skip-the-row condition per the error taxonomy.
func ParseDecimal(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid decimal U256 string %q", s)
	}
	if v.Sign() < 0 {
		return nil, fmt.Errorf("negative U256 string %q", s)
	}
	if v.Cmp(MaxUint256) > 0 {
		return nil, fmt.Errorf("U256 string %q exceeds 256 bits", s)
	}
	return v, nil
}

// FormatDecimal renders v as the decimal string the Store persists.
func FormatDecimal(v *big.Int) string {
	return v.String()
}

// ToUint256 converts a big.Int already known to be in range into the fixed
// width representation used by the hot ranking loop, where allocation-free
// arithmetic matters more than big.Int's arbitrary precision.
func ToUint256(v *big.Int) (*uint256.Int, error) {
	u, overflow := uint256.FromBig(v)
	if overflow {
		return nil, fmt.Errorf("value does not fit in 256 bits")
	}
	return u, nil
}

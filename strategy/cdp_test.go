package strategy

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCalculateFullICRNoAccrualNoLiquidation(t *testing.T) {
	coll := new(big.Int).Mul(big.NewInt(150), wad)
	debt := new(big.Int).Mul(big.NewInt(100), wad)
	rate := new(big.Int).Mul(big.NewInt(5), big.NewInt(10_000_000_000_000_000)) // 5e16
	price := wad

	icr, err := calculateFullICR(coll, debt, rate, price, 0)
	require.NoError(t, err)

	expected := new(big.Int).Mul(big.NewInt(150), big.NewInt(10_000_000_000_000_000)) // 1.5e18
	require.Equal(t, expected.String(), icr.String())
}

func TestCalculateFullICRWithInterestAccrual(t *testing.T) {
	coll := new(big.Int).Mul(big.NewInt(110), wad)
	debt := new(big.Int).Mul(big.NewInt(100), wad)
	rate := new(big.Int).Div(wad, big.NewInt(10)) // 1e17, ~10%/yr
	price := wad

	icr, err := calculateFullICR(coll, debt, rate, price, secondsPerYear)
	require.NoError(t, err)
	require.Equal(t, wad.String(), icr.String())

	mcr := new(big.Int).Mul(big.NewInt(110), big.NewInt(10_000_000_000_000_000)) // 1.10e18
	require.True(t, icr.Cmp(mcr) < 0)
}

func TestCalculateFullICRZeroDebtNeverLiquidatable(t *testing.T) {
	coll := wad
	debt := big.NewInt(0)
	rate := big.NewInt(0)
	price := wad

	icr, err := calculateFullICR(coll, debt, rate, price, 0)
	require.NoError(t, err)
	require.Equal(t, 0, icr.Cmp(icr)) // sanity: deterministic
	mcr := new(big.Int).Mul(big.NewInt(110), big.NewInt(10_000_000_000_000_000))
	require.True(t, icr.Cmp(mcr) >= 0)
}

func TestCalculateFullICRNegativePeriodTreatedAsZero(t *testing.T) {
	coll := new(big.Int).Mul(big.NewInt(150), wad)
	debt := new(big.Int).Mul(big.NewInt(100), wad)
	rate := new(big.Int).Mul(big.NewInt(5), big.NewInt(10_000_000_000_000_000))
	price := wad

	withNegative, err := calculateFullICR(coll, debt, rate, price, -10)
	require.NoError(t, err)
	withZero, err := calculateFullICR(coll, debt, rate, price, 0)
	require.NoError(t, err)
	require.Equal(t, withZero.String(), withNegative.String())
}

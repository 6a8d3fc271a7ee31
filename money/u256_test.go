package money

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPercentMulBoundaries(t *testing.T) {
	require.Equal(t, big.NewInt(0), PercentMul(big.NewInt(0), 10500))
	require.Equal(t, big.NewInt(10500), PercentMul(big.NewInt(10000), 10500))
}

func TestPercentDivBoundary(t *testing.T) {
	got, err := PercentDiv(big.NewInt(10500), 10500)
	require.NoError(t, err)
	require.Equal(t, big.NewInt(10000), got)
}

func TestPercentDivRejectsZeroBps(t *testing.T) {
	_, err := PercentDiv(big.NewInt(100), 0)
	require.Error(t, err)
}

func TestSaturatingMulDoesNotWrap(t *testing.T) {
	huge := new(big.Int).Lsh(big.NewInt(1), 255)
	got := SaturatingMul(huge, big.NewInt(10500))
	require.Equal(t, MaxUint256, got)
}

func TestPercentMulSaturatesRatherThanWraps(t *testing.T) {
	huge := new(big.Int).Lsh(big.NewInt(1), 255)
	got := PercentMul(huge, 10500)
	// (MaxUint256 + halfBasisPoints) / BasisPoints never exceeds MaxUint256.
	require.True(t, got.Cmp(MaxUint256) <= 0)
}

func TestSaturatingSubClampsAtZero(t *testing.T) {
	require.Equal(t, big.NewInt(0), SaturatingSub(big.NewInt(5), big.NewInt(10)))
	require.Equal(t, big.NewInt(3), SaturatingSub(big.NewInt(8), big.NewInt(5)))
}

func TestParseDecimalRoundTrip(t *testing.T) {
	v, err := ParseDecimal("123456789012345678901234567890")
	require.NoError(t, err)
	require.Equal(t, "123456789012345678901234567890", FormatDecimal(v))
}

func TestParseDecimalRejectsGarbage(t *testing.T) {
	_, err := ParseDecimal("not-a-number")
	require.Error(t, err)

	_, err = ParseDecimal("-5")
	require.Error(t, err)
}

func TestToUint256RoundTrips(t *testing.T) {
	v := new(big.Int).Lsh(big.NewInt(1), 200)
	u, err := ToUint256(v)
	require.NoError(t, err)
	require.Equal(t, v, u.ToBig())
}

func TestToUint256RejectsOutOfRange(t *testing.T) {
	tooBig := new(big.Int).Add(MaxUint256, big.NewInt(1))
	_, err := ToUint256(tooBig)
	require.Error(t, err)
}

func TestMulDivTruncTruncates(t *testing.T) {
	got, err := MulDivTrunc(big.NewInt(7), big.NewInt(3), big.NewInt(2))
	require.NoError(t, err)
	require.Equal(t, big.NewInt(10), got) // 21/2 = 10.5 -> 10, truncated not rounded
}

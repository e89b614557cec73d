package fixed

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fs(t *testing.T, s string) Value {
	t.Helper()
	v, err := FromString(s)
	require.NoError(t, err)
	return v
}

func TestFromString(t *testing.T) {
	assert.Equal(t, "1000000000000000000", fs(t, "1").String())
	assert.Equal(t, "-500000000000000000", fs(t, "-0.5").String())
	assert.Equal(t, "1100000000000000000000", fs(t, "1100").String())
	assert.Equal(t, "300000000000000", fs(t, "0.0003").String())

	_, err := FromString("abc")
	assert.Error(t, err)
	_, err = FromString("")
	assert.Error(t, err)
}

func TestMulTruncatesTowardZero(t *testing.T) {
	// 1.5 * 2 = 3
	assert.Equal(t, FromInt(3), Mul(fs(t, "1.5"), FromInt(2)))

	// 1e-18 * 0.5 truncates to zero
	assert.Equal(t, 0, Mul(big.NewInt(1), fs(t, "0.5")).Sign())

	// negative results truncate toward zero, not -inf
	p := Mul(big.NewInt(-3), fs(t, "0.5"))
	assert.Equal(t, "-1", p.String())

	q := Mul(big.NewInt(3), fs(t, "0.5"))
	assert.Equal(t, "1", q.String())
}

func TestMulRoundHalfAwayFromZero(t *testing.T) {
	assert.Equal(t, "2", MulRound(big.NewInt(3), fs(t, "0.5")).String())
	assert.Equal(t, "-2", MulRound(big.NewInt(-3), fs(t, "0.5")).String())
	assert.Equal(t, "1", MulRound(big.NewInt(2), fs(t, "0.5")).String())
}

func TestDiv(t *testing.T) {
	assert.Equal(t, fs(t, "0.5"), Div(FromInt(1), FromInt(2)))
	assert.Equal(t, fs(t, "-0.5"), Div(FromInt(-1), FromInt(2)))

	// 1/3 truncates
	assert.Equal(t, "333333333333333333", Div(FromInt(1), FromInt(3)).String())
	// 2/3 rounds up under DivRound
	assert.Equal(t, "666666666666666667", DivRound(FromInt(2), FromInt(3)).String())
	assert.Equal(t, "666666666666666666", Div(FromInt(2), FromInt(3)).String())
}

func TestDivByZeroPanics(t *testing.T) {
	assert.Panics(t, func() { Div(FromInt(1), New()) })
}

func TestSqrt(t *testing.T) {
	v, err := Sqrt(New())
	require.NoError(t, err)
	assert.Equal(t, 0, v.Sign())

	v, err = Sqrt(FromInt(4))
	require.NoError(t, err)
	assert.Equal(t, FromInt(2), v)

	v, err = Sqrt(FromInt(2))
	require.NoError(t, err)
	assert.Equal(t, "1414213562373095048", v.String())

	_, err = Sqrt(FromInt(-1))
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestExp(t *testing.T) {
	v, err := Exp(New())
	require.NoError(t, err)
	assert.Equal(t, One, v)

	v, err = Exp(FromInt(1))
	require.NoError(t, err)
	assert.Equal(t, E, v)

	v, err = Exp(FromInt(2))
	require.NoError(t, err)
	assert.Equal(t, "7389056098930650224", v.String())

	// deep negative exponents underflow 18 decimals to exactly zero
	v, err = Exp(FromInt(-42))
	require.NoError(t, err)
	assert.Equal(t, 0, v.Sign())

	_, err = Exp(FromInt(101))
	assert.ErrorIs(t, err, ErrExponentTooLarge)

	v, err = Exp(FromInt(100))
	require.NoError(t, err)
	assert.Positive(t, v.Sign())
}

func TestExpNegativeReciprocal(t *testing.T) {
	pos, err := Exp(FromInt(3))
	require.NoError(t, err)
	neg, err := Exp(FromInt(-3))
	require.NoError(t, err)
	assert.Equal(t, Div(One, pos), neg)
}

func TestScaleFrom(t *testing.T) {
	// 6-decimal quote asset: 1000.000000 -> 1000e18
	raw, ok := new(big.Int).SetString("1000000000", 10)
	require.True(t, ok)
	assert.Equal(t, FromInt(1000), ScaleFrom(raw, 6))

	// 18 decimals passes through
	assert.Equal(t, FromInt(5), ScaleFrom(FromInt(5), 18))

	// 19 decimals truncates the extra digit
	raw, ok = new(big.Int).SetString("19", 10)
	require.True(t, ok)
	assert.Equal(t, big.NewInt(1), ScaleFrom(raw, 19))
}

func TestScaleTo(t *testing.T) {
	assert.Equal(t, "1000000000", ScaleTo(FromInt(1000), 6).String())
	// sub-quote-decimal dust is truncated on the way out
	v := Add(FromInt(1), big.NewInt(999999999999))
	assert.Equal(t, "1000000", ScaleTo(v, 6).String())
}

func TestMinMaxAbsNeg(t *testing.T) {
	assert.Equal(t, FromInt(1), Min(FromInt(1), FromInt(2)))
	assert.Equal(t, FromInt(2), Max(FromInt(1), FromInt(2)))
	assert.Equal(t, FromInt(1), Abs(FromInt(-1)))
	assert.Equal(t, FromInt(-1), Neg(FromInt(1)))
}

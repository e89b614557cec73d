package ov

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/optfi/vault/pkg/fixed"
)

func fv(t *testing.T, s string) fixed.Value {
	t.Helper()
	v, err := fixed.FromString(s)
	require.NoError(t, err)
	return v
}

func TestLookupSetValidation(t *testing.T) {
	l := NewLookup()

	err := l.Set([]fixed.Value{fixed.FromInt(1)}, nil)
	assert.ErrorIs(t, err, ErrLengthMismatch)

	// keys must be strictly increasing within one call
	err = l.Set(
		[]fixed.Value{fixed.FromInt(2), fixed.FromInt(1)},
		[]fixed.Value{fixed.FromInt(2), fixed.FromInt(1)},
	)
	assert.ErrorIs(t, err, ErrOutOfRange)

	err = l.Set(
		[]fixed.Value{fixed.FromInt(1), fixed.FromInt(2)},
		[]fixed.Value{fixed.FromInt(10), fixed.FromInt(20)},
	)
	require.NoError(t, err)
	assert.Equal(t, 2, l.Len())

	// overwrite keeps the table size
	err = l.Set([]fixed.Value{fixed.FromInt(2)}, []fixed.Value{fixed.FromInt(30)})
	require.NoError(t, err)
	assert.Equal(t, 2, l.Len())
}

func TestLookupFreezeLifecycle(t *testing.T) {
	l := NewLookup()
	require.NoError(t, l.Set([]fixed.Value{fixed.FromInt(1)}, []fixed.Value{fixed.FromInt(1)}))

	require.NoError(t, l.Freeze())
	assert.True(t, l.Frozen())

	assert.ErrorIs(t, l.Freeze(), ErrFrozen)
	err := l.Set([]fixed.Value{fixed.FromInt(2)}, []fixed.Value{fixed.FromInt(2)})
	assert.ErrorIs(t, err, ErrFrozen)
}

func TestLookupInterpolation(t *testing.T) {
	l := NewLookup()
	require.NoError(t, l.Set(
		[]fixed.Value{fixed.FromInt(1), fixed.FromInt(3)},
		[]fixed.Value{fixed.FromInt(10), fixed.FromInt(30)},
	))

	// exact hit
	v, ok := l.interpolate(fixed.FromInt(3))
	require.True(t, ok)
	assert.Equal(t, fixed.FromInt(30), v)

	// midpoint
	v, ok = l.interpolate(fixed.FromInt(2))
	require.True(t, ok)
	assert.Equal(t, fixed.FromInt(20), v)

	// clamped below and above
	v, _ = l.interpolate(fixed.New())
	assert.Equal(t, fixed.FromInt(10), v)
	v, _ = l.interpolate(fixed.FromInt(9))
	assert.Equal(t, fixed.FromInt(30), v)
}

func TestCdfDefaults(t *testing.T) {
	cdf := DefaultCdfLookup()
	assert.True(t, cdf.Frozen())

	// beyond the largest key the distribution saturates
	assert.Equal(t, fixed.One, cdf.Cdf(fixed.FromInt(6)))
	assert.Equal(t, 0, cdf.Cdf(fixed.FromInt(-6)).Sign())

	// documented anchor point
	z := fv(t, "4.123")
	assert.Equal(t, "999985123249465190", cdf.Cdf(z).String())

	// symmetry holds for every interpolated value
	for _, s := range []string{"0.5", "1.25", "2.8"} {
		z := fv(t, s)
		sum := new(big.Int).Add(cdf.Cdf(z), cdf.Cdf(fixed.Neg(z)))
		assert.Equal(t, fixed.One, sum, "cdf(%s) + cdf(-%s)", s, s)
	}

	// median
	half := cdf.Cdf(fixed.New())
	assert.Equal(t, fv(t, "0.5"), half)
}

func TestLnDefaults(t *testing.T) {
	ln := DefaultLnLookup()
	assert.True(t, ln.Frozen())

	// ln(1) == 0
	v, err := ln.Ln(fixed.One)
	require.NoError(t, err)
	assert.Equal(t, 0, v.Sign())

	_, err = ln.Ln(fixed.New())
	assert.ErrorIs(t, err, ErrOutOfRange)
	_, err = ln.Ln(fixed.FromInt(1000))
	assert.ErrorIs(t, err, ErrOutOfRange)
}

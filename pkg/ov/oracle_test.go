package ov

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/optfi/vault/pkg/fixed"
)

func TestMedianSpotOracle(t *testing.T) {
	o := NewMedianSpotOracle(time.Minute, nil, nil)

	_, err := o.GetPrice()
	assert.ErrorIs(t, err, ErrStalePrice)

	o.Update("a", fixed.FromInt(1000))
	p, err := o.GetPrice()
	require.NoError(t, err)
	assert.Equal(t, fixed.FromInt(1000), p)

	// odd count: middle sample
	o.Update("b", fixed.FromInt(1010))
	o.Update("c", fixed.FromInt(990))
	p, err = o.GetPrice()
	require.NoError(t, err)
	assert.Equal(t, fixed.FromInt(1000), p)

	// even count: mean of the middle two
	o.Update("d", fixed.FromInt(1020))
	p, err = o.GetPrice()
	require.NoError(t, err)
	assert.Equal(t, fixed.FromInt(1005), p)
}

func TestMedianSpotOracleStaleness(t *testing.T) {
	o := NewMedianSpotOracle(time.Millisecond, nil, nil)
	o.Update("a", fixed.FromInt(1000))
	time.Sleep(5 * time.Millisecond)

	_, err := o.GetPrice()
	assert.ErrorIs(t, err, ErrStalePrice)
}

func TestMedianSpotOracleBounds(t *testing.T) {
	o := NewMedianSpotOracle(time.Minute, fixed.FromInt(100), fixed.FromInt(10_000))

	o.Update("a", fixed.FromInt(20_000))
	_, err := o.GetPrice()
	assert.ErrorIs(t, err, ErrAboveMaxPrice)

	o.Update("a", fixed.FromInt(50))
	_, err = o.GetPrice()
	assert.ErrorIs(t, err, ErrBelowMinPrice)

	o.Update("a", fixed.FromInt(1000))
	p, err := o.GetPrice()
	require.NoError(t, err)
	assert.Equal(t, fixed.FromInt(1000), p)
}

func TestSettledPrices(t *testing.T) {
	o := NewMedianSpotOracle(time.Minute, nil, nil)

	assert.Zero(t, o.SettledPrice(100).Sign())

	assert.ErrorIs(t, o.SetSettledPrice(100, 1, fixed.New()), ErrOutOfRange)
	require.NoError(t, o.SetSettledPrice(100, 1, fixed.FromInt(1200)))
	assert.Equal(t, fixed.FromInt(1200), o.SettledPrice(100))

	// a settlement price is written once
	assert.ErrorIs(t, o.SetSettledPrice(100, 2, fixed.FromInt(1300)), ErrSettled)
	assert.Equal(t, fixed.FromInt(1200), o.SettledPrice(100))
}

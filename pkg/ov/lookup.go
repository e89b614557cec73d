package ov

import (
	"fmt"
	"math/big"
	"sort"
	"sync"

	"github.com/optfi/vault/pkg/fixed"
)

// Lookup is an ordered key/value table of fixed-point numbers with a
// two-phase lifecycle: mutable while being populated, then permanently
// frozen. Freeze is one-way; a second Freeze and any Set after Freeze fail
// with ErrFrozen.
type Lookup struct {
	keys   []fixed.Value // sorted ascending
	values []fixed.Value
	frozen bool
	mu     sync.RWMutex
}

// NewLookup returns an empty, unfrozen table.
func NewLookup() *Lookup {
	return &Lookup{}
}

// Set inserts or overwrites entries. Keys within one call must be strictly
// increasing. Fails with ErrLengthMismatch when the slices differ in length
// and ErrFrozen once the table is frozen.
func (l *Lookup) Set(keys, values []fixed.Value) error {
	if len(keys) != len(values) {
		return fmt.Errorf("%w: %d keys, %d values", ErrLengthMismatch, len(keys), len(values))
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.frozen {
		return ErrFrozen
	}
	for i, k := range keys {
		if i > 0 && k.Cmp(keys[i-1]) <= 0 {
			return fmt.Errorf("%w: keys not increasing at index %d", ErrOutOfRange, i)
		}
	}
	for i, k := range keys {
		l.insert(k, values[i])
	}
	return nil
}

func (l *Lookup) insert(k, v fixed.Value) {
	i := sort.Search(len(l.keys), func(i int) bool { return l.keys[i].Cmp(k) >= 0 })
	if i < len(l.keys) && l.keys[i].Cmp(k) == 0 {
		l.values[i] = new(big.Int).Set(v)
		return
	}
	l.keys = append(l.keys, nil)
	l.values = append(l.values, nil)
	copy(l.keys[i+1:], l.keys[i:])
	copy(l.values[i+1:], l.values[i:])
	l.keys[i] = new(big.Int).Set(k)
	l.values[i] = new(big.Int).Set(v)
}

// Freeze makes the table immutable. The second call fails with ErrFrozen.
func (l *Lookup) Freeze() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.frozen {
		return ErrFrozen
	}
	l.frozen = true
	return nil
}

// Frozen reports whether the table has been frozen.
func (l *Lookup) Frozen() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.frozen
}

// Len returns the number of entries.
func (l *Lookup) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.keys)
}

// interpolate returns the piecewise-linear value at key x. Outside the
// table it clamps to the boundary values. ok is false on an empty table.
func (l *Lookup) interpolate(x fixed.Value) (fixed.Value, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	n := len(l.keys)
	if n == 0 {
		return nil, false
	}
	if x.Cmp(l.keys[0]) <= 0 {
		return new(big.Int).Set(l.values[0]), true
	}
	if x.Cmp(l.keys[n-1]) >= 0 {
		return new(big.Int).Set(l.values[n-1]), true
	}
	i := sort.Search(n, func(i int) bool { return l.keys[i].Cmp(x) >= 0 })
	if l.keys[i].Cmp(x) == 0 {
		return new(big.Int).Set(l.values[i]), true
	}
	// v = v0 + (x-k0) * (v1-v0) / (k1-k0)
	k0, k1 := l.keys[i-1], l.keys[i]
	v0, v1 := l.values[i-1], l.values[i]
	num := new(big.Int).Sub(x, k0)
	num.Mul(num, new(big.Int).Sub(v1, v0))
	den := new(big.Int).Sub(k1, k0)
	num.Quo(num, den)
	return num.Add(num, v0), true
}

// CdfLookup maps a non-negative standardized z-value to cumulative normal
// probability. Negative arguments resolve through the symmetry
// cdf(-z) = 1 - cdf(z), so the stored domain is [0, maxKey] and the
// effective domain is [-maxKey, maxKey] clamped to {0, 1} outside.
type CdfLookup struct {
	Lookup
}

// NewCdfLookup returns an empty CDF table.
func NewCdfLookup() *CdfLookup { return &CdfLookup{} }

// Cdf returns the interpolated cumulative probability at z in fixed point.
func (c *CdfLookup) Cdf(z fixed.Value) fixed.Value {
	if z.Sign() < 0 {
		p := c.Cdf(new(big.Int).Neg(z))
		return new(big.Int).Sub(fixed.One, p)
	}
	c.mu.RLock()
	n := len(c.keys)
	if n > 0 && z.Cmp(c.keys[n-1]) >= 0 {
		c.mu.RUnlock()
		return new(big.Int).Set(fixed.One)
	}
	c.mu.RUnlock()
	v, ok := c.interpolate(z)
	if !ok {
		return new(big.Int).Set(fixed.One)
	}
	return v
}

// LnLookup maps an encoded moneyness ratio to its natural log, linearizing
// the multiplicative spot/strike input for the pricer.
type LnLookup struct {
	Lookup
}

// NewLnLookup returns an empty ln table.
func NewLnLookup() *LnLookup { return &LnLookup{} }

// Ln returns the interpolated natural log of x. Fails with ErrOutOfRange
// when x falls outside the populated table.
func (l *LnLookup) Ln(x fixed.Value) (fixed.Value, error) {
	l.mu.RLock()
	n := len(l.keys)
	out := n == 0 || x.Cmp(l.keys[0]) < 0 || x.Cmp(l.keys[n-1]) > 0
	l.mu.RUnlock()
	if out {
		return nil, fmt.Errorf("%w: ln(%s)", ErrOutOfRange, x.String())
	}
	v, _ := l.interpolate(x)
	return v, nil
}

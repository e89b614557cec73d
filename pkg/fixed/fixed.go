// Package fixed implements signed 18-decimal fixed-point arithmetic on
// big integers. Division and multiplication truncate toward zero unless the
// Round variant is used, which rounds half away from zero. All operations
// are pure and deterministic.
package fixed

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
)

// Decimals is the number of fractional digits carried by every Value.
const Decimals = 18

var (
	// One is the fixed-point representation of 1 (10^18).
	One = big.NewInt(1e18)

	// E is Euler's number truncated to 18 decimals.
	E = big.NewInt(2718281828459045235)

	two        = big.NewInt(2)
	expMax     = new(big.Int).Mul(big.NewInt(100), One) // Exp domain cap
	hornerCut  = new(big.Int).Mul(big.NewInt(3), One)   // direct series below this
	hornerTerm = 24
)

var (
	ErrInvalidInput     = errors.New("invalid input")
	ErrExponentTooLarge = errors.New("exponent too large")
	ErrDivisionByZero   = errors.New("division by zero")
)

// Value is an 18-decimal fixed-point number. The zero value is 0.
type Value = *big.Int

// New returns a zero value.
func New() Value { return new(big.Int) }

// FromInt converts a whole number to fixed point.
func FromInt(n int64) Value {
	return new(big.Int).Mul(big.NewInt(n), One)
}

// FromString parses a decimal string ("12.75", "-0.003") into fixed point,
// truncating digits beyond 18 decimals.
func FromString(s string) (Value, error) {
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}
	whole, frac := s, ""
	if i := strings.IndexByte(s, '.'); i >= 0 {
		whole, frac = s[:i], s[i+1:]
	}
	if len(frac) > Decimals {
		frac = frac[:Decimals]
	}
	frac += strings.Repeat("0", Decimals-len(frac))
	if whole == "" {
		whole = "0"
	}
	v, ok := new(big.Int).SetString(whole+frac, 10)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidInput, s)
	}
	if neg {
		v.Neg(v)
	}
	return v, nil
}

// Mul multiplies two fixed-point values, truncating toward zero.
func Mul(a, b Value) Value {
	p := new(big.Int).Mul(a, b)
	return quoTrunc(p, One)
}

// MulRound multiplies two fixed-point values, rounding half away from zero.
func MulRound(a, b Value) Value {
	p := new(big.Int).Mul(a, b)
	return quoRound(p, One)
}

// Div divides a by b, truncating toward zero.
func Div(a, b Value) Value {
	if b.Sign() == 0 {
		panic(ErrDivisionByZero)
	}
	p := new(big.Int).Mul(a, One)
	return quoTrunc(p, b)
}

// DivRound divides a by b, rounding half away from zero.
func DivRound(a, b Value) Value {
	if b.Sign() == 0 {
		panic(ErrDivisionByZero)
	}
	p := new(big.Int).Mul(a, One)
	return quoRound(p, b)
}

// quoTrunc returns p/q truncated toward zero.
func quoTrunc(p, q *big.Int) *big.Int {
	r := new(big.Int).Abs(p)
	r.Quo(r, new(big.Int).Abs(q))
	if (p.Sign() < 0) != (q.Sign() < 0) {
		r.Neg(r)
	}
	return r
}

// quoRound returns p/q rounded half away from zero.
// floor((2|p| + |q|) / (2|q|)) rounds |p|/|q| half up; the sign is applied
// afterwards so ties move away from zero.
func quoRound(p, q *big.Int) *big.Int {
	ap := new(big.Int).Abs(p)
	aq := new(big.Int).Abs(q)
	num := new(big.Int).Lsh(ap, 1)
	num.Add(num, aq)
	num.Quo(num, new(big.Int).Lsh(aq, 1))
	if (p.Sign() < 0) != (q.Sign() < 0) {
		num.Neg(num)
	}
	return num
}

// Sqrt returns the square root of a non-negative fixed-point value using
// Newton's method, truncated toward zero. Sqrt(0) == 0.
func Sqrt(x Value) (Value, error) {
	if x.Sign() < 0 {
		return nil, fmt.Errorf("%w: sqrt of negative", ErrInvalidInput)
	}
	if x.Sign() == 0 {
		return New(), nil
	}
	// sqrt(x * 10^18) keeps the result in fixed-point scale.
	n := new(big.Int).Mul(x, One)
	// Seed above the true root so the Newton iterates decrease
	// monotonically onto floor(sqrt(n)).
	z := new(big.Int).Lsh(big.NewInt(1), uint((n.BitLen()+1)/2))
	for {
		y := new(big.Int).Quo(n, z)
		y.Add(y, z).Quo(y, two)
		if y.Cmp(z) >= 0 {
			return z, nil
		}
		z = y
	}
}

// Exp returns e^x in fixed point. Values above 100 fail with
// ErrExponentTooLarge; large negative values underflow to exactly 0.
func Exp(x Value) (Value, error) {
	if x.Cmp(expMax) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrExponentTooLarge, x.String())
	}
	if x.Sign() < 0 {
		pos, err := Exp(new(big.Int).Neg(x))
		if err != nil {
			return nil, err
		}
		return Div(One, pos), nil
	}
	if x.Cmp(hornerCut) <= 0 {
		return expSeries(x), nil
	}
	// Split into integer and fractional parts; e^n by repeated
	// multiplication, e^f by the series.
	n := new(big.Int).Quo(x, One)
	f := new(big.Int).Rem(x, One)
	r := new(big.Int).Set(One)
	for i := int64(0); i < n.Int64(); i++ {
		r = Mul(r, E)
	}
	return Mul(r, expSeries(f)), nil
}

// expSeries evaluates the Taylor series for e^x (x >= 0) in Horner form
// with truncating divisions at each level.
func expSeries(x Value) Value {
	s := new(big.Int).Set(One)
	for k := int64(hornerTerm); k >= 1; k-- {
		s.Mul(s, x)
		s.Quo(s, new(big.Int).Mul(big.NewInt(k), One))
		s.Add(s, One)
	}
	return s
}

// ScaleFrom converts an external integer amount carrying the given number
// of decimals into fixed point, truncating excess precision.
func ScaleFrom(amount *big.Int, decimals uint8) Value {
	if decimals == Decimals {
		return new(big.Int).Set(amount)
	}
	if decimals < Decimals {
		m := pow10(Decimals - decimals)
		return new(big.Int).Mul(amount, m)
	}
	m := pow10(decimals - Decimals)
	return quoTrunc(new(big.Int).Set(amount), m)
}

// ScaleTo converts a fixed-point value into external units with the given
// number of decimals, truncating toward zero.
func ScaleTo(v Value, decimals uint8) *big.Int {
	if decimals == Decimals {
		return new(big.Int).Set(v)
	}
	if decimals > Decimals {
		m := pow10(decimals - Decimals)
		return new(big.Int).Mul(v, m)
	}
	m := pow10(Decimals - decimals)
	return quoTrunc(new(big.Int).Set(v), m)
}

func pow10(n uint8) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
}

// Neg returns -x as a new value.
func Neg(x Value) Value { return new(big.Int).Neg(x) }

// Abs returns |x| as a new value.
func Abs(x Value) Value { return new(big.Int).Abs(x) }

// Add returns a+b as a new value.
func Add(a, b Value) Value { return new(big.Int).Add(a, b) }

// Sub returns a-b as a new value.
func Sub(a, b Value) Value { return new(big.Int).Sub(a, b) }

// Min returns the smaller of a and b.
func Min(a, b Value) Value {
	if a.Cmp(b) <= 0 {
		return new(big.Int).Set(a)
	}
	return new(big.Int).Set(b)
}

// Max returns the larger of a and b.
func Max(a, b Value) Value {
	if a.Cmp(b) >= 0 {
		return new(big.Int).Set(a)
	}
	return new(big.Int).Set(b)
}

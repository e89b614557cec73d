package ov

import (
	"math/big"

	"github.com/optfi/vault/pkg/fixed"
)

// BlackScholes computes option premiums and greeks on fixed-point inputs,
// routing every normal-CDF evaluation through the frozen lookup tables.
type BlackScholes struct {
	Cdf *CdfLookup
	Ln  *LnLookup
}

// NewBlackScholes wires the pricer to its lookup tables.
func NewBlackScholes(cdf *CdfLookup, ln *LnLookup) *BlackScholes {
	return &BlackScholes{Cdf: cdf, Ln: ln}
}

// Greeks holds the sensitivities used by margin computation.
type Greeks struct {
	Delta fixed.Value
	Vega  fixed.Value
	Theta fixed.Value
}

// Price returns the premium for one unit of the option.
//
// timeToExpiry is in years, vol and rate are annualized, all fixed point.
// t == 0 degenerates to intrinsic value; vol == 0 to a deterministic
// forward comparison. Exp overflow propagates ErrExponentTooLarge.
func (bs *BlackScholes) Price(spot, strike, timeToExpiry, vol, rate fixed.Value, isCall bool) (fixed.Value, error) {
	if spot.Sign() <= 0 || strike.Sign() <= 0 {
		return nil, ErrOutOfRange
	}
	if timeToExpiry.Sign() == 0 {
		return intrinsic(spot, strike, isCall), nil
	}
	discount, err := fixed.Exp(fixed.Neg(fixed.Mul(rate, timeToExpiry)))
	if err != nil {
		return nil, err
	}
	discountedStrike := fixed.Mul(strike, discount)
	if vol.Sign() == 0 {
		return intrinsic(spot, discountedStrike, isCall), nil
	}

	d1, d2, err := bs.d1d2(spot, strike, timeToExpiry, vol, rate)
	if err != nil {
		return nil, err
	}
	// call = S*N(d1) - K*e^(-rt)*N(d2)
	call := fixed.Sub(fixed.Mul(spot, bs.Cdf.Cdf(d1)), fixed.Mul(discountedStrike, bs.Cdf.Cdf(d2)))
	if call.Sign() < 0 {
		call = fixed.New()
	}
	if isCall {
		return call, nil
	}
	// put via parity: P = C - S + K*e^(-rt)
	put := fixed.Add(fixed.Sub(call, spot), discountedStrike)
	if put.Sign() < 0 {
		put = fixed.New()
	}
	return put, nil
}

// PriceGreeks returns the premium together with delta, vega and theta.
func (bs *BlackScholes) PriceGreeks(spot, strike, timeToExpiry, vol, rate fixed.Value, isCall bool) (fixed.Value, *Greeks, error) {
	premium, err := bs.Price(spot, strike, timeToExpiry, vol, rate, isCall)
	if err != nil {
		return nil, nil, err
	}
	if timeToExpiry.Sign() == 0 || vol.Sign() == 0 {
		g := &Greeks{Delta: fixed.New(), Vega: fixed.New(), Theta: fixed.New()}
		if intrinsic(spot, strike, isCall).Sign() > 0 {
			if isCall {
				g.Delta = new(big.Int).Set(fixed.One)
			} else {
				g.Delta = fixed.Neg(fixed.One)
			}
		}
		return premium, g, nil
	}
	d1, _, err := bs.d1d2(spot, strike, timeToExpiry, vol, rate)
	if err != nil {
		return nil, nil, err
	}
	nd1 := bs.Cdf.Cdf(d1)
	g := &Greeks{}
	if isCall {
		g.Delta = nd1
	} else {
		g.Delta = fixed.Sub(nd1, fixed.One)
	}
	sqrtT, err := fixed.Sqrt(timeToExpiry)
	if err != nil {
		return nil, nil, err
	}
	pdf, err := normPdf(d1)
	if err != nil {
		return nil, nil, err
	}
	g.Vega = fixed.Mul(fixed.Mul(spot, pdf), sqrtT)
	// theta = -S*n(d1)*vol / (2*sqrt(t)), carry-cost term omitted at r=0
	// and negligible against the vol term for the tenors traded here.
	num := fixed.Mul(fixed.Mul(spot, pdf), vol)
	g.Theta = fixed.Neg(fixed.Div(num, fixed.Mul(fixed.FromInt(2), sqrtT)))
	return premium, g, nil
}

// d1d2 computes the standardized variates from the lookup-linearized
// moneyness.
func (bs *BlackScholes) d1d2(spot, strike, timeToExpiry, vol, rate fixed.Value) (fixed.Value, fixed.Value, error) {
	moneyness := fixed.Div(spot, strike)
	lnM, err := bs.Ln.Ln(moneyness)
	if err != nil {
		return nil, nil, err
	}
	sqrtT, err := fixed.Sqrt(timeToExpiry)
	if err != nil {
		return nil, nil, err
	}
	volSqrtT := fixed.Mul(vol, sqrtT)
	halfVar := new(big.Int).Quo(fixed.Mul(vol, vol), big.NewInt(2))
	drift := fixed.Mul(fixed.Add(rate, halfVar), timeToExpiry)
	d1 := fixed.Div(fixed.Add(lnM, drift), volSqrtT)
	d2 := fixed.Sub(d1, volSqrtT)
	return d1, d2, nil
}

// intrinsic returns max(S-K, 0) for calls and max(K-S, 0) for puts.
func intrinsic(spot, strike fixed.Value, isCall bool) fixed.Value {
	var v fixed.Value
	if isCall {
		v = fixed.Sub(spot, strike)
	} else {
		v = fixed.Sub(strike, spot)
	}
	if v.Sign() < 0 {
		return fixed.New()
	}
	return v
}

// invSqrt2Pi is 1/sqrt(2*pi) truncated to 18 decimals.
var invSqrt2Pi = big.NewInt(398942280401432677)

// normPdf returns the standard normal density at x.
func normPdf(x fixed.Value) (fixed.Value, error) {
	half := new(big.Int).Quo(fixed.Mul(x, x), big.NewInt(2))
	e, err := fixed.Exp(fixed.Neg(half))
	if err != nil {
		return nil, err
	}
	return fixed.Mul(invSqrt2Pi, e), nil
}

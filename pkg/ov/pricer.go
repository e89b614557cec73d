package ov

import (
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/optfi/vault/pkg/fixed"
)

// Quote is the priced outcome of a prospective trade. Premium is the total
// signed premium for the trade size: positive when the trader pays (net
// buy), negative when the trader receives (net sell). Fee is always
// non-negative.
type Quote struct {
	Premium fixed.Value
	Fee     fixed.Value
}

// OptionPricer prices trades against the implied-vol surface, splitting a
// sign-flipping trade into a closing tranche at mid vol and an opening
// tranche at the side vol.
type OptionPricer struct {
	bs      *BlackScholes
	surface *Surface
	cfg     *Config
	now     func() time.Time
}

// NewOptionPricer wires the pricer.
func NewOptionPricer(bs *BlackScholes, surface *Surface, cfg *Config) *OptionPricer {
	return &OptionPricer{bs: bs, surface: surface, cfg: cfg, now: time.Now}
}

// yearsToExpiry converts a unix expiry to fixed-point years from now,
// truncating. Expired markets yield zero.
func yearsToExpiry(now time.Time, expiry int64) fixed.Value {
	secs := expiry - now.Unix()
	if secs <= 0 {
		return fixed.New()
	}
	const secondsPerYear = 31536000
	return fixed.Div(fixed.FromInt(secs), fixed.FromInt(secondsPerYear))
}

// available verifies the market is tradable for the requested side.
func (p *OptionPricer) available(m *Market, expiry int64, isCall, isBuy bool) error {
	if p.surface.TradingDisabled() || p.surface.ExpiryDisabled(expiry) {
		return ErrUnavailable
	}
	if m == nil {
		return fmt.Errorf("%w: no market", ErrUnavailable)
	}
	if _, disabled := m.Vol(isCall, isBuy); disabled {
		return fmt.Errorf("%w: side disabled", ErrUnavailable)
	}
	if p.cfg.MaxIvAge > 0 && p.now().Sub(m.UpdatedAt) > time.Duration(p.cfg.MaxIvAge)*time.Second {
		return fmt.Errorf("%w: stale iv", ErrUnavailable)
	}
	return nil
}

// UnitPremium prices one unit at the side vol (isBuy selects the surface
// side; mid == true overrides with the mid vol, used for marks and closes).
func (p *OptionPricer) UnitPremium(spot fixed.Value, m *Market, isCall, isBuy, mid bool) (fixed.Value, error) {
	var vol fixed.Value
	if mid {
		vol = m.MidVol(isCall)
	} else {
		vol, _ = m.Vol(isCall, isBuy)
	}
	t := yearsToExpiry(p.now(), m.Expiry)
	return p.bs.Price(spot, m.Strike, t, vol, p.cfg.RiskFreeRate, isCall)
}

// MarkPremium prices one unit at mid vol, used by margin computation.
// Errors only on arithmetic failure; disabled flags do not gate marking.
func (p *OptionPricer) MarkPremium(spot fixed.Value, expiry int64, strike fixed.Value, isCall bool) (fixed.Value, error) {
	m := p.surface.Market(expiry, strike)
	if m == nil {
		return nil, fmt.Errorf("%w: no market", ErrUnavailable)
	}
	return p.UnitPremium(spot, m, isCall, false, true)
}

// unitPremiumFunc prices one unit for a side; the cache-backed pricer
// substitutes its interpolated reader here.
type unitPremiumFunc func(spot fixed.Value, m *Market, isCall, isBuy, mid bool) (fixed.Value, error)

// GetPremium prices a signed trade of the given size against an existing
// position, returning the total signed premium and the fee.
//
// The three sub-cases: pure open (same sign or flat), pure close (reduces
// magnitude without flipping), and close-then-open (flip, split at zero).
func (p *OptionPricer) GetPremium(spot fixed.Value, expiry int64, strike fixed.Value, isCall bool, size, existing fixed.Value) (*Quote, error) {
	return p.premiumWith(p.UnitPremium, spot, expiry, strike, isCall, size, existing)
}

func (p *OptionPricer) premiumWith(unitPremium unitPremiumFunc, spot fixed.Value, expiry int64, strike fixed.Value, isCall bool, size, existing fixed.Value) (*Quote, error) {
	if size.Sign() == 0 {
		return nil, ErrZeroAmount
	}
	isBuy := size.Sign() > 0
	m := p.surface.Market(expiry, strike)
	if err := p.available(m, expiry, isCall, isBuy); err != nil {
		return nil, err
	}

	closeSize, openSize := splitTrade(size, existing)
	premium := fixed.New()
	units := fixed.New()
	if closeSize.Sign() != 0 {
		unit, err := unitPremium(spot, m, isCall, isBuy, true)
		if err != nil {
			return nil, err
		}
		premium.Add(premium, fixed.Mul(closeSize, unit))
		units.Add(units, fixed.Abs(fixed.Mul(closeSize, unit)))
	}
	if openSize.Sign() != 0 {
		unit, err := unitPremium(spot, m, isCall, isBuy, false)
		if err != nil {
			return nil, err
		}
		premium.Add(premium, fixed.Mul(openSize, unit))
		units.Add(units, fixed.Abs(fixed.Mul(openSize, unit)))
	}

	// fee = |size|*spot*spotFeeRate + |premium notional|*premiumFeeRate
	fee := fixed.Add(
		fixed.Mul(fixed.Abs(size), fixed.Mul(spot, p.cfg.SpotFeeRate)),
		fixed.Mul(units, p.cfg.PremiumFeeRate),
	)
	return &Quote{Premium: premium, Fee: fee}, nil
}

// splitTrade decomposes a signed trade against the existing position into
// a closing tranche and an opening tranche.
func splitTrade(size, existing fixed.Value) (closeSize, openSize fixed.Value) {
	closeSize = fixed.New()
	openSize = new(big.Int).Set(size)
	if existing == nil || existing.Sign() == 0 || existing.Sign() == size.Sign() {
		return
	}
	absPos := fixed.Abs(existing)
	absTrade := fixed.Abs(size)
	if absTrade.Cmp(absPos) <= 0 {
		// pure close
		return new(big.Int).Set(size), fixed.New()
	}
	// close-then-open: close the full position, open the remainder
	closeSize = fixed.Neg(existing)
	openSize = fixed.Sub(size, closeSize)
	return
}

// cacheEntry is a per-(strike, side) premium curve over moneyness built
// eagerly after SetIv. Reads interpolate; anything outside the grid falls
// through to the closed form.
type cacheEntry struct {
	table *Lookup
}

// CacheOptionPricer memoizes unit premiums per expiry into
// moneyness-bucketed lookup curves, rebuilt wholesale on every SetIv for
// that expiry.
type CacheOptionPricer struct {
	*OptionPricer

	// grid of moneyness nodes, ascending
	gridLo, gridHi, gridStep fixed.Value

	cache map[int64]map[cacheKey]*cacheEntry
	mu    sync.RWMutex
}

type cacheKey struct {
	Strike string
	IsCall bool
	IsBuy  bool
	Mid    bool
}

// NewCacheOptionPricer wraps a pricer with the premium cache. The stock
// grid spans moneyness 0.5..2.0 in steps of 0.01.
func NewCacheOptionPricer(inner *OptionPricer) *CacheOptionPricer {
	f := func(s string) fixed.Value {
		v, err := fixed.FromString(s)
		if err != nil {
			panic(err)
		}
		return v
	}
	return &CacheOptionPricer{
		OptionPricer: inner,
		gridLo:       f("0.5"),
		gridHi:       f("2.0"),
		gridStep:     f("0.01"),
		cache:        make(map[int64]map[cacheKey]*cacheEntry),
	}
}

// UpdateLookup rebuilds the cached premium curves for every market at the
// expiry, discarding any previous cache for it.
func (p *CacheOptionPricer) UpdateLookup(expiry int64) error {
	markets := p.surface.Markets(expiry)
	fresh := make(map[cacheKey]*cacheEntry)
	for _, m := range markets {
		for _, isCall := range []bool{true, false} {
			for _, mode := range []struct {
				isBuy bool
				mid   bool
			}{{true, false}, {false, false}, {false, true}} {
				entry, err := p.buildCurve(m, isCall, mode.isBuy, mode.mid)
				if err != nil {
					return err
				}
				fresh[cacheKey{m.Strike.String(), isCall, mode.isBuy, mode.mid}] = entry
			}
		}
	}
	p.mu.Lock()
	p.cache[expiry] = fresh
	p.mu.Unlock()
	return nil
}

func (p *CacheOptionPricer) buildCurve(m *Market, isCall, isBuy, mid bool) (*cacheEntry, error) {
	var keys, values []fixed.Value
	for x := new(big.Int).Set(p.gridLo); x.Cmp(p.gridHi) <= 0; x = fixed.Add(x, p.gridStep) {
		spot := fixed.Mul(x, m.Strike)
		unit, err := p.UnitPremium(spot, m, isCall, isBuy, mid)
		if err != nil {
			return nil, err
		}
		keys = append(keys, new(big.Int).Set(x))
		values = append(values, unit)
	}
	t := NewLookup()
	if err := t.Set(keys, values); err != nil {
		return nil, err
	}
	return &cacheEntry{table: t}, nil
}

// GetPremium prices through the cached curves, falling back to the closed
// form outside the grid or before the first UpdateLookup for the expiry.
func (p *CacheOptionPricer) GetPremium(spot fixed.Value, expiry int64, strike fixed.Value, isCall bool, size, existing fixed.Value) (*Quote, error) {
	return p.premiumWith(p.CachedUnitPremium, spot, expiry, strike, isCall, size, existing)
}

// MarkPremium serves margin marks from the cached mid curve.
func (p *CacheOptionPricer) MarkPremium(spot fixed.Value, expiry int64, strike fixed.Value, isCall bool) (fixed.Value, error) {
	m := p.surface.Market(expiry, strike)
	if m == nil {
		return nil, fmt.Errorf("%w: no market", ErrUnavailable)
	}
	return p.CachedUnitPremium(spot, m, isCall, false, true)
}

// CachedUnitPremium returns the interpolated unit premium when the
// moneyness falls inside the cached grid, falling back to the closed form.
func (p *CacheOptionPricer) CachedUnitPremium(spot fixed.Value, m *Market, isCall, isBuy, mid bool) (fixed.Value, error) {
	moneyness := fixed.Div(spot, m.Strike)
	p.mu.RLock()
	byKey := p.cache[m.Expiry]
	var entry *cacheEntry
	if byKey != nil {
		entry = byKey[cacheKey{m.Strike.String(), isCall, isBuy, mid}]
	}
	p.mu.RUnlock()
	if entry != nil && moneyness.Cmp(p.gridLo) >= 0 && moneyness.Cmp(p.gridHi) <= 0 {
		if v, ok := entry.table.interpolate(moneyness); ok {
			return v, nil
		}
	}
	return p.UnitPremium(spot, m, isCall, isBuy, mid)
}

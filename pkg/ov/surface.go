package ov

import (
	"fmt"
	"sync"
	"time"

	"github.com/optfi/vault/pkg/fixed"
)

// MaxVol caps implied volatility entries at 10.0 (1000% annualized).
var MaxVol = fixed.FromInt(10)

// Market is a volatility-surface entry for one (expiry, strike). The four
// vols and disabled flags are plain named fields; the packed storage of
// the on-chain ancestor is not carried here.
type Market struct {
	Expiry int64
	Strike fixed.Value

	BuyCallVol  fixed.Value
	SellCallVol fixed.Value
	BuyPutVol   fixed.Value
	SellPutVol  fixed.Value

	BuyCallDisabled  bool
	SellCallDisabled bool
	BuyPutDisabled   bool
	SellPutDisabled  bool

	UpdatedAt time.Time
}

// Surface holds the implied-volatility surface and trading disable flags.
type Surface struct {
	markets         map[PositionKey]*Market // IsCall field unused in key
	expiryDisabled  map[int64]bool
	tradingDisabled bool
	mu              sync.RWMutex
}

// NewSurface returns an empty surface.
func NewSurface() *Surface {
	return &Surface{
		markets:        make(map[PositionKey]*Market),
		expiryDisabled: make(map[int64]bool),
	}
}

func marketKey(expiry int64, strike fixed.Value) PositionKey {
	return PositionKey{Expiry: expiry, Strike: strike.String()}
}

// SetIv installs or replaces a surface entry. Vol values must be
// non-negative and at most MaxVol.
func (s *Surface) SetIv(m *Market) error {
	for _, v := range []fixed.Value{m.BuyCallVol, m.SellCallVol, m.BuyPutVol, m.SellPutVol} {
		if v == nil || v.Sign() < 0 || v.Cmp(MaxVol) > 0 {
			return fmt.Errorf("%w: vol", ErrOutOfRange)
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *m
	cp.UpdatedAt = time.Now()
	s.markets[marketKey(m.Expiry, m.Strike)] = &cp
	return nil
}

// Market returns the entry for (expiry, strike), or nil.
func (s *Surface) Market(expiry int64, strike fixed.Value) *Market {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.markets[marketKey(expiry, strike)]
}

// Markets returns all entries at the given expiry.
func (s *Surface) Markets(expiry int64) []*Market {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Market
	for _, m := range s.markets {
		if m.Expiry == expiry {
			out = append(out, m)
		}
	}
	return out
}

// Vol returns the side vol for a quote. disabled reports whether the
// requested side is switched off.
func (m *Market) Vol(isCall, isBuy bool) (vol fixed.Value, disabled bool) {
	switch {
	case isCall && isBuy:
		return m.BuyCallVol, m.BuyCallDisabled
	case isCall:
		return m.SellCallVol, m.SellCallDisabled
	case isBuy:
		return m.BuyPutVol, m.BuyPutDisabled
	default:
		return m.SellPutVol, m.SellPutDisabled
	}
}

// MidVol averages the buy and sell vols for the side, used to mark
// positions and price closing tranches.
func (m *Market) MidVol(isCall bool) fixed.Value {
	if isCall {
		return fixed.Div(fixed.Add(m.BuyCallVol, m.SellCallVol), fixed.FromInt(2))
	}
	return fixed.Div(fixed.Add(m.BuyPutVol, m.SellPutVol), fixed.FromInt(2))
}

// SetTradingDisabled flips the global trading switch.
func (s *Surface) SetTradingDisabled(disabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tradingDisabled = disabled
}

// SetExpiryDisabled flips the per-expiry trading switch.
func (s *Surface) SetExpiryDisabled(expiry int64, disabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expiryDisabled[expiry] = disabled
}

// TradingDisabled reports the global switch.
func (s *Surface) TradingDisabled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tradingDisabled
}

// ExpiryDisabled reports the per-expiry switch.
func (s *Surface) ExpiryDisabled(expiry int64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.expiryDisabled[expiry]
}

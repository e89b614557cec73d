package ov

import (
	"fmt"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/optfi/vault/pkg/fixed"
)

// SpotPricer provides the quote-asset spot price and recorded settlement
// prices. GetPrice fails when the feed is stale or outside the configured
// bounds; SettledPrice returns zero for an unrecorded expiry.
type SpotPricer interface {
	GetPrice() (fixed.Value, error)
	SettledPrice(expiry int64) fixed.Value
}

// SettlementRecorder is implemented by oracles that accept settlement
// prices, one per expiry, with monotonically increasing round ids.
type SettlementRecorder interface {
	SetSettledPrice(expiry int64, roundId uint64, price fixed.Value) error
}

// spotSample is one observation from a price source.
type spotSample struct {
	price fixed.Value
	at    time.Time
}

// MedianSpotOracle aggregates samples from multiple named sources into a
// median price with staleness and min/max bounds.
type MedianSpotOracle struct {
	staleAfter time.Duration
	minPrice   fixed.Value
	maxPrice   fixed.Value

	samples map[string]spotSample
	settled map[int64]fixed.Value
	rounds  map[int64]uint64
	mu      sync.RWMutex
}

// NewMedianSpotOracle configures a median oracle. minPrice or maxPrice may
// be nil to disable the bound.
func NewMedianSpotOracle(staleAfter time.Duration, minPrice, maxPrice fixed.Value) *MedianSpotOracle {
	return &MedianSpotOracle{
		staleAfter: staleAfter,
		minPrice:   minPrice,
		maxPrice:   maxPrice,
		samples:    make(map[string]spotSample),
		settled:    make(map[int64]fixed.Value),
		rounds:     make(map[int64]uint64),
	}
}

// Update records a sample from a source.
func (o *MedianSpotOracle) Update(source string, price fixed.Value) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.samples[source] = spotSample{price: new(big.Int).Set(price), at: time.Now()}
}

// GetPrice returns the median of the fresh samples.
func (o *MedianSpotOracle) GetPrice() (fixed.Value, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	cutoff := time.Now().Add(-o.staleAfter)
	var fresh []fixed.Value
	for _, s := range o.samples {
		if s.at.After(cutoff) {
			fresh = append(fresh, s.price)
		}
	}
	if len(fresh) == 0 {
		return nil, ErrStalePrice
	}
	sort.Slice(fresh, func(i, j int) bool { return fresh[i].Cmp(fresh[j]) < 0 })
	var median fixed.Value
	mid := len(fresh) / 2
	if len(fresh)%2 == 1 {
		median = fresh[mid]
	} else {
		median = fixed.Div(fixed.Add(fresh[mid-1], fresh[mid]), fixed.FromInt(2))
	}
	if o.maxPrice != nil && median.Cmp(o.maxPrice) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrAboveMaxPrice, median.String())
	}
	if o.minPrice != nil && median.Cmp(o.minPrice) < 0 {
		return nil, fmt.Errorf("%w: %s", ErrBelowMinPrice, median.String())
	}
	return median, nil
}

// SettledPrice returns the recorded settlement price, zero if absent.
func (o *MedianSpotOracle) SettledPrice(expiry int64) fixed.Value {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if p, ok := o.settled[expiry]; ok {
		return new(big.Int).Set(p)
	}
	return fixed.New()
}

// SetSettledPrice records the settlement price for an expiry. A second
// write for the same expiry fails ErrSettled; round ids must increase.
func (o *MedianSpotOracle) SetSettledPrice(expiry int64, roundId uint64, price fixed.Value) error {
	if price.Sign() <= 0 {
		return ErrOutOfRange
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.settled[expiry]; ok {
		return ErrSettled
	}
	if last, ok := o.rounds[expiry]; ok && roundId <= last {
		return ErrInvalidRoundId
	}
	o.rounds[expiry] = roundId
	o.settled[expiry] = new(big.Int).Set(price)
	return nil
}

// StaticSpotPricer serves a fixed price; used by tests and tooling.
type StaticSpotPricer struct {
	Price   fixed.Value
	Settled map[int64]fixed.Value
	mu      sync.RWMutex
}

// NewStaticSpotPricer returns a pricer pinned to the given price.
func NewStaticSpotPricer(price fixed.Value) *StaticSpotPricer {
	return &StaticSpotPricer{Price: price, Settled: make(map[int64]fixed.Value)}
}

func (s *StaticSpotPricer) GetPrice() (fixed.Value, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return new(big.Int).Set(s.Price), nil
}

func (s *StaticSpotPricer) SetPrice(p fixed.Value) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Price = new(big.Int).Set(p)
}

func (s *StaticSpotPricer) SettledPrice(expiry int64) fixed.Value {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if p, ok := s.Settled[expiry]; ok {
		return new(big.Int).Set(p)
	}
	return fixed.New()
}

func (s *StaticSpotPricer) SetSettledPrice(expiry int64, roundId uint64, price fixed.Value) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.Settled[expiry]; ok {
		return ErrSettled
	}
	s.Settled[expiry] = new(big.Int).Set(price)
	return nil
}

package ov

import (
	"sync"

	"github.com/optfi/vault/pkg/fixed"
)

// Config carries the system-wide risk parameters and the pool registry.
// It is passed to the vault explicitly rather than living in a global.
type Config struct {
	Admin              string
	InsuranceAccount   string
	StakeholderAccount string

	QuoteDecimals uint8

	// Health-factor thresholds. Liquidation opens below LiquidateRate;
	// clearing at or below ClearRate (or on negative equity).
	LiquidateRate fixed.Value
	ClearRate     fixed.Value

	// Fee model: per-unit fee = spot*SpotFeeRate + |premium|*PremiumFeeRate.
	SpotFeeRate    fixed.Value
	PremiumFeeRate fixed.Value

	// Margin rates for short positions, per unit of spot.
	InitialMarginRate     fixed.Value
	MaintenanceMarginRate fixed.Value

	// Split of routed fees and liquidation penalties.
	InsuranceProportion   fixed.Value
	StakeholderProportion fixed.Value

	// Withdrawals above exactly-available redirect the excess, up to this
	// band, to the insurance/stakeholder accounts instead of failing.
	WithdrawToleranceBand fixed.Value

	LiquidationFeeRate fixed.Value

	RiskFreeRate fixed.Value

	// Implied-vol entries older than this are unavailable for trading.
	MaxIvAge int64 // seconds

	mu            sync.RWMutex
	pools         []string
	reservedRates map[string]fixed.Value
}

// DefaultConfig returns the stock parameter set.
func DefaultConfig(admin string) *Config {
	f := func(s string) fixed.Value {
		v, err := fixed.FromString(s)
		if err != nil {
			panic(err)
		}
		return v
	}
	return &Config{
		Admin:                 admin,
		InsuranceAccount:      "insurance",
		StakeholderAccount:    "stakeholder",
		QuoteDecimals:         6,
		LiquidateRate:         f("1"),
		ClearRate:             f("0.2"),
		SpotFeeRate:           f("0.0003"),
		PremiumFeeRate:        f("0.01"),
		InitialMarginRate:     f("0.1"),
		MaintenanceMarginRate: f("0.05"),
		InsuranceProportion:   f("0.3"),
		StakeholderProportion: f("0.2"),
		WithdrawToleranceBand: f("1"),
		LiquidationFeeRate:    f("0.005"),
		RiskFreeRate:          f("0.03"),
		MaxIvAge:              3600,
		reservedRates:         make(map[string]fixed.Value),
	}
}

// AddPool appends a pool account to the registry with its reserved rate.
// Pool order is append-mostly and determines trade-matching priority.
func (c *Config) AddPool(address string, reservedRate fixed.Value) error {
	if reservedRate.Sign() < 0 || reservedRate.Cmp(fixed.One) > 0 {
		return ErrInvalidRate
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, p := range c.pools {
		if p == address {
			return ErrAlreadyInitialized
		}
	}
	c.pools = append(c.pools, address)
	c.reservedRates[address] = reservedRate
	return nil
}

// Pools returns the ordered pool list.
func (c *Config) Pools() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, len(c.pools))
	copy(out, c.pools)
	return out
}

// IsPool reports whether the address is a registered pool.
func (c *Config) IsPool(address string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.reservedRates[address]
	return ok
}

// PoolReservedRate returns the configured reserved rate, zero for
// non-pool accounts.
func (c *Config) PoolReservedRate(address string) fixed.Value {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if r, ok := c.reservedRates[address]; ok {
		return r
	}
	return fixed.New()
}

// SetReservedRate updates a pool's reserved rate. Admin only.
func (c *Config) SetReservedRate(caller, pool string, rate fixed.Value) error {
	if caller != c.Admin {
		return ErrNotAuthorized
	}
	if rate.Sign() < 0 || rate.Cmp(fixed.One) > 0 {
		return ErrInvalidRate
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.reservedRates[pool]; !ok {
		return ErrInvalidAccount
	}
	c.reservedRates[pool] = rate
	return nil
}

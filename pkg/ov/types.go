package ov

import (
	"fmt"
	"time"

	"github.com/optfi/vault/pkg/fixed"
)

// PositionKey identifies a position within an account.
type PositionKey struct {
	Expiry int64 // unix seconds
	Strike string
	IsCall bool
}

func (k PositionKey) String() string {
	side := "P"
	if k.IsCall {
		side = "C"
	}
	return fmt.Sprintf("%d/%s/%s", k.Expiry, k.Strike, side)
}

// Position is a signed option position. Size is positive for longs and
// negative for shorts. Notional accumulates -(tradeSize * unitPremium) per
// fill, so shorts carry positive notional (premium received) and longs
// negative (premium paid). A position with Size == 0 is deleted, never
// stored.
type Position struct {
	Expiry   int64
	Strike   fixed.Value
	IsCall   bool
	Size     fixed.Value
	Notional fixed.Value
}

// Key returns the map key for the position.
func (p *Position) Key() PositionKey {
	return PositionKey{Expiry: p.Expiry, Strike: p.Strike.String(), IsCall: p.IsCall}
}

// Account holds a participant's balance and open positions. Balance is in
// internal 18-decimal quote units and may go negative (bankruptcy).
type Account struct {
	Address   string
	Balance   fixed.Value
	Positions map[PositionKey]*Position
}

// AccountInfo is the derived margin view of an account. It is recomputed
// on demand and never persisted.
type AccountInfo struct {
	Equity            fixed.Value
	EquityWithFee     fixed.Value
	Available         fixed.Value
	InitialMargin     fixed.Value
	MaintenanceMargin fixed.Value
	HealthFactor      fixed.Value
}

// MaxHealthFactor is reported when an account has no initial margin
// requirement.
var MaxHealthFactor = fixed.FromInt(1_000_000_000)

// Event is a state-transition notification emitted by the vault.
type Event interface {
	EventType() string
}

// Events receives vault events. Implementations must not block.
type Events interface {
	Publish(Event)
}

// NopEvents discards all events.
type NopEvents struct{}

func (NopEvents) Publish(Event) {}

// TradeEvent is emitted for every fill, including unwinds during
// withdrawal and liquidation transfers.
type TradeEvent struct {
	Account  string
	Pool     string
	Key      PositionKey
	Size     fixed.Value
	Premium  fixed.Value
	Fee      fixed.Value
	Time     time.Time
}

func (TradeEvent) EventType() string { return "trade" }

// LiquidationEvent is emitted when a position is force-transferred.
type LiquidationEvent struct {
	Account    string
	Liquidator string
	Key        PositionKey
	Size       fixed.Value
	Price      fixed.Value
	Penalty    fixed.Value
	Time       time.Time
}

func (LiquidationEvent) EventType() string { return "liquidation" }

// ClearEvent is emitted when an insolvent account is cleared into the
// insurance account.
type ClearEvent struct {
	Account   string
	Balance   fixed.Value
	Positions int
	Time      time.Time
}

func (ClearEvent) EventType() string { return "clear" }

// SettlementEvent is emitted per position resolved at expiry.
type SettlementEvent struct {
	Account string
	Key     PositionKey
	Size    fixed.Value
	Payoff  fixed.Value
	Time    time.Time
}

func (SettlementEvent) EventType() string { return "settlement" }

// IvUpdateEvent is emitted when the volatility surface changes.
type IvUpdateEvent struct {
	Expiry int64
	Strike fixed.Value
	Time   time.Time
}

func (IvUpdateEvent) EventType() string { return "iv" }

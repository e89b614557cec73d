package ov

import (
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/luxfi/log"
	"github.com/optfi/vault/pkg/fixed"
)

// Pricer is the premium source consumed by the vault. Satisfied by both
// OptionPricer and CacheOptionPricer.
type Pricer interface {
	GetPremium(spot fixed.Value, expiry int64, strike fixed.Value, isCall bool, size, existing fixed.Value) (*Quote, error)
	MarkPremium(spot fixed.Value, expiry int64, strike fixed.Value, isCall bool) (fixed.Value, error)
}

// QuoteAsset is the external fungible token the vault settles in. Amounts
// are in the token's native decimals.
type QuoteAsset interface {
	TransferFrom(from string, amount *big.Int) error
	Transfer(to string, amount *big.Int) error
}

// NopQuoteAsset accepts every transfer; used when token custody is
// handled out of process.
type NopQuoteAsset struct{}

func (NopQuoteAsset) TransferFrom(string, *big.Int) error { return nil }
func (NopQuoteAsset) Transfer(string, *big.Int) error     { return nil }

// Vault is the margin and settlement engine. Every exported operation
// runs under one lock and either fully applies or fully rejects; no
// caller observes a partially-applied state.
type Vault struct {
	cfg     *Config
	pricer  Pricer
	spot    SpotPricer
	quote   QuoteAsset
	events  Events
	logger  log.Logger
	surface *Surface

	accounts map[string]*Account
	mu       sync.Mutex

	now func() time.Time
}

// NewVault assembles the engine. A nil events sink discards events.
func NewVault(cfg *Config, pricer Pricer, surface *Surface, spot SpotPricer, quote QuoteAsset, events Events, logger log.Logger) *Vault {
	if events == nil {
		events = NopEvents{}
	}
	if quote == nil {
		quote = NopQuoteAsset{}
	}
	return &Vault{
		cfg:      cfg,
		pricer:   pricer,
		surface:  surface,
		spot:     spot,
		quote:    quote,
		events:   events,
		logger:   logger,
		accounts: make(map[string]*Account),
		now:      time.Now,
	}
}

// account returns the ledger entry, creating it on first touch.
func (v *Vault) account(address string) *Account {
	a, ok := v.accounts[address]
	if !ok {
		a = &Account{
			Address:   address,
			Balance:   fixed.New(),
			Positions: make(map[PositionKey]*Position),
		}
		v.accounts[address] = a
	}
	return a
}

// Deposit scales the external amount into internal units and credits the
// account. Amounts that truncate to zero fail ErrZeroAmount.
func (v *Vault) Deposit(address string, amount *big.Int) error {
	return v.DepositFrom(address, address, amount)
}

// DepositFrom pulls the quote asset from funder and credits address.
// Used by pools, whose vault account is funded by their depositors.
func (v *Vault) DepositFrom(funder, address string, amount *big.Int) error {
	scaled := fixed.ScaleFrom(amount, v.cfg.QuoteDecimals)
	if scaled.Sign() <= 0 {
		return ErrZeroAmount
	}
	if err := v.quote.TransferFrom(funder, amount); err != nil {
		return err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	a := v.account(address)
	a.Balance.Add(a.Balance, scaled)
	v.logger.Info("deposit", "account", address, "funder", funder, "amount", scaled.String())
	return nil
}

// Balance returns the internal balance, zero for unknown accounts.
func (v *Vault) Balance(address string) fixed.Value {
	v.mu.Lock()
	defer v.mu.Unlock()
	if a, ok := v.accounts[address]; ok {
		return new(big.Int).Set(a.Balance)
	}
	return fixed.New()
}

// Accounts returns the addresses of all accounts with state.
func (v *Vault) Accounts() []string {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]string, 0, len(v.accounts))
	for addr := range v.accounts {
		out = append(out, addr)
	}
	return out
}

// OpenPositions returns the total number of open positions.
func (v *Vault) OpenPositions() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	n := 0
	for _, a := range v.accounts {
		n += len(a.Positions)
	}
	return n
}

// Position returns a copy of the position, nil when closed.
func (v *Vault) Position(address string, key PositionKey) *Position {
	v.mu.Lock()
	defer v.mu.Unlock()
	a, ok := v.accounts[address]
	if !ok {
		return nil
	}
	p, ok := a.Positions[key]
	if !ok {
		return nil
	}
	cp := *p
	cp.Size = new(big.Int).Set(p.Size)
	cp.Notional = new(big.Int).Set(p.Notional)
	cp.Strike = new(big.Int).Set(p.Strike)
	return &cp
}

// accountInfoLocked derives the margin view. Caller holds v.mu.
func (v *Vault) accountInfoLocked(a *Account, spot fixed.Value) (*AccountInfo, error) {
	equity := new(big.Int).Set(a.Balance)
	initialMargin := fixed.New()
	maintenanceMargin := fixed.New()
	closeFees := fixed.New()

	for _, p := range a.Positions {
		mark, err := v.pricer.MarkPremium(spot, p.Expiry, p.Strike, p.IsCall)
		if err != nil {
			return nil, err
		}
		// unrealized = notional + size*mark
		equity.Add(equity, fixed.Add(p.Notional, fixed.Mul(p.Size, mark)))
		absSize := fixed.Abs(p.Size)
		unitFee := fixed.Add(fixed.Mul(spot, v.cfg.SpotFeeRate), fixed.Mul(mark, v.cfg.PremiumFeeRate))
		closeFees.Add(closeFees, fixed.Mul(absSize, unitFee))
		if p.Size.Sign() < 0 {
			im := fixed.Add(mark, fixed.Mul(spot, v.cfg.InitialMarginRate))
			mm := fixed.Add(mark, fixed.Mul(spot, v.cfg.MaintenanceMarginRate))
			initialMargin.Add(initialMargin, fixed.Mul(absSize, im))
			maintenanceMargin.Add(maintenanceMargin, fixed.Mul(absSize, mm))
		}
	}

	available := fixed.Min(fixed.Sub(equity, initialMargin), a.Balance)
	if available.Sign() < 0 {
		available = fixed.New()
	}
	health := new(big.Int).Set(MaxHealthFactor)
	if initialMargin.Sign() > 0 {
		health = fixed.Div(equity, initialMargin)
	}
	return &AccountInfo{
		Equity:            equity,
		EquityWithFee:     fixed.Sub(equity, closeFees),
		Available:         available,
		InitialMargin:     initialMargin,
		MaintenanceMargin: maintenanceMargin,
		HealthFactor:      health,
	}, nil
}

// GetAccountInfo derives the margin view at the current spot.
func (v *Vault) GetAccountInfo(address string) (*AccountInfo, error) {
	spot, err := v.spot.GetPrice()
	if err != nil {
		return nil, err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	a, ok := v.accounts[address]
	if !ok {
		return nil, ErrInvalidAccount
	}
	return v.accountInfoLocked(a, spot)
}

// applyFill books a signed fill on the account: size accrues, notional
// accrues -(q*unit-cost) through the supplied premium, fee leaves the
// balance. Closed positions are deleted so size==0 implies notional==0.
func (v *Vault) applyFill(a *Account, expiry int64, strike fixed.Value, isCall bool, size, premium, fee fixed.Value) {
	key := PositionKey{Expiry: expiry, Strike: strike.String(), IsCall: isCall}
	p, ok := a.Positions[key]
	if !ok {
		p = &Position{
			Expiry:   expiry,
			Strike:   new(big.Int).Set(strike),
			IsCall:   isCall,
			Size:     fixed.New(),
			Notional: fixed.New(),
		}
		a.Positions[key] = p
	}
	prevSize := new(big.Int).Set(p.Size)
	p.Size.Add(p.Size, size)
	if p.Size.Sign() == 0 {
		// realize the full cost basis into balance
		a.Balance.Add(a.Balance, fixed.Add(p.Notional, fixed.Neg(premium)))
		delete(a.Positions, key)
	} else if prevSize.Sign() != 0 && prevSize.Sign() != p.Size.Sign() {
		// flipped through zero: realize the closed basis, restart
		a.Balance.Add(a.Balance, p.Notional)
		p.Notional = fixed.Neg(premium)
	} else if prevSize.Sign() != 0 && size.Sign() != prevSize.Sign() {
		// partial close: move basis pro rata, realize the difference
		closed := fixed.Div(fixed.Mul(p.Notional, fixed.Abs(size)), fixed.Abs(prevSize))
		p.Notional.Sub(p.Notional, closed)
		a.Balance.Add(a.Balance, fixed.Add(closed, fixed.Neg(premium)))
	} else {
		p.Notional.Add(p.Notional, fixed.Neg(premium))
	}
	if fee != nil && fee.Sign() != 0 {
		a.Balance.Sub(a.Balance, fee)
	}
}

// Trade executes a signed trade for the account against the first pool
// that can carry the other side.
func (v *Vault) Trade(address string, expiry int64, strike fixed.Value, isCall bool, size, acceptablePremium fixed.Value) error {
	if size.Sign() == 0 {
		return ErrZeroAmount
	}
	if expiry <= v.now().Unix() {
		return ErrInvalidTime
	}
	spot, err := v.spot.GetPrice()
	if err != nil {
		return err
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	a := v.account(address)
	key := PositionKey{Expiry: expiry, Strike: strike.String(), IsCall: isCall}
	existing := fixed.New()
	if p, ok := a.Positions[key]; ok {
		existing = new(big.Int).Set(p.Size)
	}
	quote, err := v.pricer.GetPremium(spot, expiry, strike, isCall, size, existing)
	if err != nil {
		return err
	}
	if err := checkSlippage(size, quote.Premium, acceptablePremium); err != nil {
		return err
	}

	pool, err := v.matchPoolLocked(spot, expiry, strike, isCall, size, quote)
	if err != nil {
		return err
	}

	// a trade is risk-reducing only when it carries no opening tranche;
	// a sign flip opens fresh exposure past zero and must be margined
	_, openSize := splitTrade(size, existing)
	opensExposure := openSize.Sign() != 0

	insuranceFee := fixed.Mul(quote.Fee, v.cfg.InsuranceProportion)
	poolFee := fixed.Sub(quote.Fee, insuranceFee)
	ins := v.account(v.cfg.InsuranceAccount)

	var accSnap, poolSnap *Account
	var insSnap *big.Int
	if opensExposure {
		accSnap = cloneAccount(a)
		poolSnap = cloneAccount(pool)
		insSnap = new(big.Int).Set(ins.Balance)
	}

	v.applyFill(a, expiry, strike, isCall, size, quote.Premium, quote.Fee)
	v.applyFill(pool, expiry, strike, isCall, fixed.Neg(size), fixed.Neg(quote.Premium), nil)
	pool.Balance.Add(pool.Balance, poolFee)
	ins.Balance.Add(ins.Balance, insuranceFee)

	if opensExposure {
		info, err := v.accountInfoLocked(a, spot)
		if err != nil {
			return v.rollbackTrade(a, pool, ins, accSnap, poolSnap, insSnap, err)
		}
		if info.HealthFactor.Sign() <= 0 || info.HealthFactor.Cmp(fixed.One) < 0 {
			return v.rollbackTrade(a, pool, ins, accSnap, poolSnap, insSnap, fmt.Errorf("%w: health factor", ErrUnavailable))
		}
	}

	v.events.Publish(TradeEvent{
		Account: address,
		Pool:    pool.Address,
		Key:     key,
		Size:    new(big.Int).Set(size),
		Premium: new(big.Int).Set(quote.Premium),
		Fee:     new(big.Int).Set(quote.Fee),
		Time:    v.now(),
	})
	v.logger.Info("trade",
		"account", address,
		"pool", pool.Address,
		"key", key.String(),
		"size", size.String(),
		"premium", quote.Premium.String(),
		"fee", quote.Fee.String())
	return nil
}

// cloneAccount deep-copies the ledger entry for staging and rollback.
func cloneAccount(a *Account) *Account {
	c := &Account{
		Address:   a.Address,
		Balance:   new(big.Int).Set(a.Balance),
		Positions: make(map[PositionKey]*Position, len(a.Positions)),
	}
	for k, p := range a.Positions {
		c.Positions[k] = &Position{
			Expiry:   p.Expiry,
			Strike:   new(big.Int).Set(p.Strike),
			IsCall:   p.IsCall,
			Size:     new(big.Int).Set(p.Size),
			Notional: new(big.Int).Set(p.Notional),
		}
	}
	return c
}

// rollbackTrade restores the pre-trade snapshots after a failed health gate.
// Fill replay cannot serve here: the pro-rata close inside applyFill
// truncates, so applying an inverse fill is not an exact undo.
func (v *Vault) rollbackTrade(a, pool, ins, accSnap, poolSnap *Account, insBalance *big.Int, cause error) error {
	a.Balance.Set(accSnap.Balance)
	a.Positions = accSnap.Positions
	pool.Balance.Set(poolSnap.Balance)
	pool.Positions = poolSnap.Positions
	ins.Balance.Set(insBalance)
	return cause
}

// matchPoolLocked picks the first registered pool that stays healthy after
// taking the opposite side. The candidate fill is staged on a copy so the
// capacity check leaves the live ledger untouched. Caller holds v.mu.
func (v *Vault) matchPoolLocked(spot fixed.Value, expiry int64, strike fixed.Value, isCall bool, size fixed.Value, quote *Quote) (*Account, error) {
	pools := v.cfg.Pools()
	if len(pools) == 0 {
		return nil, fmt.Errorf("%w: no pools", ErrUnavailable)
	}
	for _, addr := range pools {
		pool := v.account(addr)
		staged := cloneAccount(pool)
		v.applyFill(staged, expiry, strike, isCall, fixed.Neg(size), fixed.Neg(quote.Premium), nil)
		info, err := v.accountInfoLocked(staged, spot)
		if err != nil {
			return nil, err
		}
		if info.HealthFactor.Cmp(fixed.One) >= 0 {
			return pool, nil
		}
	}
	return nil, fmt.Errorf("%w: no pool capacity", ErrInsufficientEquity)
}

// checkSlippage enforces the caller-declared premium bound: a maximum
// cost for buys, a minimum proceeds for sells.
func checkSlippage(size, premium, acceptable fixed.Value) error {
	if acceptable == nil {
		return nil
	}
	if size.Sign() > 0 {
		if premium.Cmp(acceptable) > 0 {
			return ErrUnacceptableAmount
		}
		return nil
	}
	received := fixed.Neg(premium)
	if received.Cmp(acceptable) < 0 {
		return ErrUnacceptableAmount
	}
	return nil
}

// Liquidate transfers size units of an undercollateralized account's
// position to the caller at a penalized mark.
func (v *Vault) Liquidate(caller, address string, expiry int64, strike fixed.Value, isCall bool, size fixed.Value) error {
	if size.Sign() == 0 {
		return ErrZeroAmount
	}
	spot, err := v.spot.GetPrice()
	if err != nil {
		return err
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	a, ok := v.accounts[address]
	if !ok {
		return ErrInvalidAccount
	}
	info, err := v.accountInfoLocked(a, spot)
	if err != nil {
		return err
	}
	if info.HealthFactor.Cmp(v.cfg.LiquidateRate) >= 0 {
		return fmt.Errorf("%w: account healthy", ErrUnavailable)
	}
	key := PositionKey{Expiry: expiry, Strike: strike.String(), IsCall: isCall}
	p, ok := a.Positions[key]
	if !ok || size.Sign() != p.Size.Sign() || fixed.Abs(size).Cmp(fixed.Abs(p.Size)) > 0 {
		return fmt.Errorf("%w: size exceeds position", ErrUnavailable)
	}

	mark, err := v.pricer.MarkPremium(spot, expiry, strike, isCall)
	if err != nil {
		return err
	}
	// Penalized transfer price favors the liquidator: longs move below
	// mark, shorts above.
	edge := fixed.Mul(mark, v.cfg.LiquidationFeeRate)
	var price fixed.Value
	if size.Sign() > 0 {
		price = fixed.Sub(mark, edge)
	} else {
		price = fixed.Add(mark, edge)
	}

	liq := v.account(caller)
	// target sells `size` to the liquidator at the penalized price
	transfer := fixed.Mul(size, price)
	v.applyFill(a, expiry, strike, isCall, fixed.Neg(size), fixed.Neg(transfer), nil)
	v.applyFill(liq, expiry, strike, isCall, size, transfer, nil)

	// route a share of the penalty value to insurance
	penalty := fixed.Abs(fixed.Mul(size, edge))
	insuranceCut := fixed.Mul(penalty, v.cfg.InsuranceProportion)
	liq.Balance.Sub(liq.Balance, insuranceCut)
	ins := v.account(v.cfg.InsuranceAccount)
	ins.Balance.Add(ins.Balance, insuranceCut)

	v.events.Publish(LiquidationEvent{
		Account:    address,
		Liquidator: caller,
		Key:        key,
		Size:       new(big.Int).Set(size),
		Price:      price,
		Penalty:    penalty,
		Time:       v.now(),
	})
	v.logger.Info("liquidate",
		"account", address,
		"liquidator", caller,
		"key", key.String(),
		"size", size.String(),
		"price", price.String())
	return nil
}

// Clear force-transfers all positions and the residual balance of an
// insolvent account to the insurance account in one step.
func (v *Vault) Clear(caller, address string) error {
	spot, err := v.spot.GetPrice()
	if err != nil {
		return err
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	a, ok := v.accounts[address]
	if !ok {
		return ErrInvalidAccount
	}
	info, err := v.accountInfoLocked(a, spot)
	if err != nil {
		return err
	}
	if info.Equity.Sign() >= 0 && info.HealthFactor.Cmp(v.cfg.ClearRate) > 0 {
		return ErrCannotClear
	}
	ins := v.account(v.cfg.InsuranceAccount)
	if a.Balance.Sign() < 0 && ins.Balance.Sign() <= 0 {
		return fmt.Errorf("%w: insurance cannot absorb", ErrInvalidAccount)
	}

	moved := len(a.Positions)
	for key, p := range a.Positions {
		tp, ok := ins.Positions[key]
		if !ok {
			tp = &Position{
				Expiry:   p.Expiry,
				Strike:   new(big.Int).Set(p.Strike),
				IsCall:   p.IsCall,
				Size:     fixed.New(),
				Notional: fixed.New(),
			}
			ins.Positions[key] = tp
		}
		tp.Size.Add(tp.Size, p.Size)
		tp.Notional.Add(tp.Notional, p.Notional)
		if tp.Size.Sign() == 0 {
			ins.Balance.Add(ins.Balance, tp.Notional)
			delete(ins.Positions, key)
		}
		delete(a.Positions, key)
	}
	ins.Balance.Add(ins.Balance, a.Balance)
	cleared := new(big.Int).Set(a.Balance)
	a.Balance.SetInt64(0)

	v.events.Publish(ClearEvent{
		Account:   address,
		Balance:   cleared,
		Positions: moved,
		Time:      v.now(),
	})
	v.logger.Warn("clear", "account", address, "balance", cleared.String(), "positions", moved)
	return nil
}

// Settle resolves every position the account holds at an expired market
// against the recorded settlement price. Holding none is a no-op.
func (v *Vault) Settle(address string, expiry int64) error {
	if expiry > v.now().Unix() {
		return ErrInvalidTime
	}
	settle := v.spot.SettledPrice(expiry)
	if settle.Sign() == 0 {
		return ErrUnsettled
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	a, ok := v.accounts[address]
	if !ok {
		return ErrInvalidAccount
	}
	for key, p := range a.Positions {
		if p.Expiry != expiry {
			continue
		}
		payoff := intrinsic(settle, p.Strike, p.IsCall)
		// balance += size*payoff + notional (full realization)
		a.Balance.Add(a.Balance, fixed.Add(fixed.Mul(p.Size, payoff), p.Notional))
		v.events.Publish(SettlementEvent{
			Account: address,
			Key:     key,
			Size:    new(big.Int).Set(p.Size),
			Payoff:  payoff,
			Time:    v.now(),
		})
		delete(a.Positions, key)
	}
	return nil
}

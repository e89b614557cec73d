package ov

import (
	"fmt"
	"math/big"
	"sort"

	"github.com/optfi/vault/pkg/fixed"
)

// Withdraw pays out up to the account's available margin. Requests above
// available but within the tolerance band do not fail: the caller
// receives available and the excess is charged from the balance and
// redirected to the insurance/stakeholder accounts. gasFee, when
// non-nil, is deducted from the payout for relayed calls.
func (v *Vault) Withdraw(address string, amount, gasFee fixed.Value) (*big.Int, error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrZeroAmount
	}
	if gasFee == nil {
		gasFee = fixed.New()
	}
	if gasFee.Sign() < 0 || gasFee.Cmp(amount) > 0 {
		return nil, ErrGasMoreThanAmount
	}
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
	info, err := v.accountInfoLocked(a, spot)
	if err != nil {
		return nil, err
	}
	pay := fixed.Min(amount, info.Available)
	excess := fixed.Sub(amount, pay)
	if excess.Cmp(v.cfg.WithdrawToleranceBand) > 0 {
		return nil, ErrWithdrawTooMuch
	}
	if pay.Sign() <= 0 {
		return nil, ErrInsufficientEquity
	}

	net := fixed.Sub(pay, gasFee)
	external := fixed.ScaleTo(net, v.cfg.QuoteDecimals)
	if external.Sign() == 0 {
		return nil, ErrZeroAmount
	}
	// debit only what actually leaves; sub-unit dust stays on the balance
	net = fixed.ScaleFrom(external, v.cfg.QuoteDecimals)

	a.Balance.Sub(a.Balance, fixed.Add(fixed.Add(net, gasFee), excess))
	if excess.Sign() > 0 {
		stakeholderCut := fixed.Mul(excess, v.cfg.StakeholderProportion)
		insuranceCut := fixed.Sub(excess, stakeholderCut)
		v.account(v.cfg.StakeholderAccount).Balance.Add(v.account(v.cfg.StakeholderAccount).Balance, stakeholderCut)
		v.account(v.cfg.InsuranceAccount).Balance.Add(v.account(v.cfg.InsuranceAccount).Balance, insuranceCut)
	}

	if err := v.quote.Transfer(address, external); err != nil {
		return nil, err
	}
	v.logger.Info("withdraw", "account", address, "amount", pay.String(), "excess", excess.String())
	return external, nil
}

// unwindCandidate is a position queued for forced reduction during a
// percentage withdrawal.
type unwindCandidate struct {
	key      PositionKey
	strike   fixed.Value
	expiry   int64
	isCall   bool
	size     fixed.Value
	otm      bool
	distance fixed.Value
}

// WithdrawPercent withdraws rate*equity, unwinding short positions when
// the free balance cannot cover it. Returns the realized payout in
// internal units.
//
// Unwind order is fixed: out-of-the-money shorts first, then ascending
// expiry, then ascending |spot-strike|. Long positions are only closed
// on a full (rate == 1) withdrawal.
func (v *Vault) WithdrawPercent(address string, rate, acceptableAmount, freeWithdrawableRate fixed.Value) (*big.Int, error) {
	if rate == nil || rate.Sign() <= 0 || rate.Cmp(fixed.One) > 0 {
		return nil, ErrInvalidRate
	}
	if freeWithdrawableRate == nil || freeWithdrawableRate.Sign() < 0 || freeWithdrawableRate.Cmp(fixed.One) > 0 {
		return nil, ErrInvalidFreeWithdrawableRate
	}
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
	info, err := v.accountInfoLocked(a, spot)
	if err != nil {
		return nil, err
	}
	if info.Equity.Sign() <= 0 {
		return nil, ErrInsufficientEquity
	}
	expect := fixed.Mul(rate, info.Equity)
	full := rate.Cmp(fixed.One) == 0

	maxFree := v.maxFreeLocked(address, info, freeWithdrawableRate)
	if expect.Cmp(maxFree) > 0 {
		if err := v.unwindLocked(a, spot, expect, freeWithdrawableRate, full); err != nil {
			return nil, err
		}
		info, err = v.accountInfoLocked(a, spot)
		if err != nil {
			return nil, err
		}
		// equity shrank by unwind fees; re-anchor the target so that a
		// full withdrawal still drains the account exactly
		if full {
			expect = new(big.Int).Set(info.Equity)
		}
	}

	paid := fixed.Min(expect, info.Available)
	if full && len(a.Positions) == 0 {
		paid = new(big.Int).Set(a.Balance)
	}
	if acceptableAmount != nil && paid.Cmp(acceptableAmount) < 0 {
		return nil, ErrUnacceptableAmount
	}
	if paid.Sign() <= 0 {
		return nil, ErrZeroAmount
	}
	external := fixed.ScaleTo(paid, v.cfg.QuoteDecimals)
	if external.Sign() == 0 {
		return nil, ErrZeroAmount
	}
	// sub-unit dust stays on the balance
	a.Balance.Sub(a.Balance, fixed.ScaleFrom(external, v.cfg.QuoteDecimals))
	if err := v.quote.Transfer(address, external); err != nil {
		return nil, err
	}
	v.logger.Info("withdraw percent",
		"account", address,
		"rate", rate.String(),
		"paid", paid.String())
	return external, nil
}

// maxFreeLocked bounds a no-unwind withdrawal by both the adjusted
// available margin and the freeWithdrawableRate ceiling on adjusted
// equity, net of the pool reserved portion. Caller holds v.mu.
func (v *Vault) maxFreeLocked(address string, info *AccountInfo, freeWithdrawableRate fixed.Value) fixed.Value {
	reserved := fixed.Mul(info.Equity, v.cfg.PoolReservedRate(address))
	adjAvailable := fixed.Max(fixed.Sub(info.Available, reserved), fixed.New())
	adjEquity := fixed.Max(fixed.Sub(info.Equity, reserved), fixed.New())
	return fixed.Min(adjAvailable, fixed.Mul(adjEquity, freeWithdrawableRate))
}

// unwindLocked force-closes positions until the target amount fits within
// maxFree, or fails ErrWithdrawTooMuch. Caller holds v.mu.
func (v *Vault) unwindLocked(a *Account, spot, expect, freeWithdrawableRate fixed.Value, closeLongs bool) error {
	candidates := make([]*unwindCandidate, 0, len(a.Positions))
	for key, p := range a.Positions {
		candidates = append(candidates, &unwindCandidate{
			key:      key,
			strike:   p.Strike,
			expiry:   p.Expiry,
			isCall:   p.IsCall,
			size:     new(big.Int).Set(p.Size),
			otm:      intrinsic(spot, p.Strike, p.IsCall).Sign() == 0,
			distance: fixed.Abs(fixed.Sub(spot, p.Strike)),
		})
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		ci, cj := candidates[i], candidates[j]
		si, sj := ci.size.Sign() < 0, cj.size.Sign() < 0
		if si != sj {
			return si
		}
		if ci.otm != cj.otm {
			return ci.otm
		}
		if ci.expiry != cj.expiry {
			return ci.expiry < cj.expiry
		}
		return ci.distance.Cmp(cj.distance) < 0
	})

	for _, c := range candidates {
		info, err := v.accountInfoLocked(a, spot)
		if err != nil {
			return err
		}
		target := expect
		if closeLongs {
			target = info.Equity
		}
		shortfall := fixed.Sub(target, v.maxFreeLocked(a.Address, info, freeWithdrawableRate))
		if shortfall.Sign() <= 0 {
			return nil
		}
		if c.size.Sign() > 0 {
			if !closeLongs {
				continue
			}
			if err := v.closePositionLocked(a, spot, c, fixed.Abs(c.size)); err != nil {
				return err
			}
			continue
		}
		// Closing one short unit releases spot*InitialMarginRate of margin
		// and costs one unit of closing fee.
		mark, err := v.pricer.MarkPremium(spot, c.expiry, c.strike, c.isCall)
		if err != nil {
			return err
		}
		unitFee := fixed.Add(fixed.Mul(spot, v.cfg.SpotFeeRate), fixed.Mul(mark, v.cfg.PremiumFeeRate))
		gainPerUnit := fixed.Sub(fixed.Mul(spot, v.cfg.InitialMarginRate), unitFee)
		if gainPerUnit.Sign() <= 0 {
			continue
		}
		closeSize := ceilUnits(shortfall, gainPerUnit)
		closeSize = fixed.Min(closeSize, fixed.Abs(c.size))
		if err := v.closePositionLocked(a, spot, c, closeSize); err != nil {
			return err
		}
	}

	info, err := v.accountInfoLocked(a, spot)
	if err != nil {
		return err
	}
	target := expect
	if closeLongs {
		target = info.Equity
	}
	if fixed.Sub(target, v.maxFreeLocked(a.Address, info, freeWithdrawableRate)).Sign() > 0 {
		return ErrWithdrawTooMuch
	}
	return nil
}

// closePositionLocked books a |closeSize| reduction of the candidate's
// position against the first pool with capacity, at mid vol, fee charged
// to the account. Caller holds v.mu.
func (v *Vault) closePositionLocked(a *Account, spot fixed.Value, c *unwindCandidate, closeSize fixed.Value) error {
	p, ok := a.Positions[c.key]
	if !ok {
		return nil
	}
	// trade in the opposite direction of the held size
	size := new(big.Int).Set(closeSize)
	if p.Size.Sign() > 0 {
		size.Neg(size)
	}
	quote, err := v.pricer.GetPremium(spot, c.expiry, c.strike, c.isCall, size, p.Size)
	if err != nil {
		return err
	}
	pool, err := v.matchPoolLocked(spot, c.expiry, c.strike, c.isCall, size, quote)
	if err != nil {
		return err
	}
	insuranceFee := fixed.Mul(quote.Fee, v.cfg.InsuranceProportion)
	poolFee := fixed.Sub(quote.Fee, insuranceFee)

	v.applyFill(a, c.expiry, c.strike, c.isCall, size, quote.Premium, quote.Fee)
	v.applyFill(pool, c.expiry, c.strike, c.isCall, fixed.Neg(size), fixed.Neg(quote.Premium), nil)
	pool.Balance.Add(pool.Balance, poolFee)
	v.account(v.cfg.InsuranceAccount).Balance.Add(v.account(v.cfg.InsuranceAccount).Balance, insuranceFee)

	v.events.Publish(TradeEvent{
		Account: a.Address,
		Pool:    pool.Address,
		Key:     c.key,
		Size:    size,
		Premium: new(big.Int).Set(quote.Premium),
		Fee:     new(big.Int).Set(quote.Fee),
		Time:    v.now(),
	})
	return nil
}

// ceilUnits returns ceil(amount / perUnit) in fixed-point units.
func ceilUnits(amount, perUnit fixed.Value) fixed.Value {
	if perUnit.Sign() <= 0 {
		panic(fmt.Sprintf("ceilUnits: non-positive per-unit %s", perUnit))
	}
	n := new(big.Int).Mul(amount, fixed.One)
	n.Add(n, new(big.Int).Sub(perUnit, big.NewInt(1)))
	return n.Div(n, perUnit)
}

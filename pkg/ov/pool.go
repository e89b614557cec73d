package ov

import (
	"math/big"
	"sync"

	"github.com/luxfi/log"
	"github.com/optfi/vault/pkg/fixed"
)

// DeadShareSink receives the permanently locked shares minted on the
// first deposit into an empty pool.
const DeadShareSink = "0x000000000000000000000000000000000000dEaD"

// deadShares is the minimum locked supply, in wei-shares.
var deadShares = big.NewInt(1000)

// Pool is the liquidity-provider wrapper around a single vault account.
// Deposits mint shares against current pool equity; withdrawals burn
// shares and pull a proportional slice through the vault's percentage
// withdrawal, unwinding pool positions when the free balance falls
// short.
type Pool struct {
	vault   *Vault
	cfg     *Config
	address string
	logger  log.Logger

	// Depositing while pool health is below ZlmThreshold mints bonus
	// shares at ZlmBonusRate, rewarding recapitalization.
	ZlmThreshold fixed.Value
	ZlmBonusRate fixed.Value

	// Free-withdrawal ceiling forwarded to WithdrawPercent.
	FreeWithdrawableRate fixed.Value

	shares      map[string]fixed.Value
	totalShares fixed.Value
	mu          sync.Mutex
}

// NewPool registers the pool account in the config and wraps it.
func NewPool(vault *Vault, cfg *Config, address string, reservedRate fixed.Value, logger log.Logger) (*Pool, error) {
	if !cfg.IsPool(address) {
		if err := cfg.AddPool(address, reservedRate); err != nil {
			return nil, err
		}
	}
	f := func(s string) fixed.Value {
		v, err := fixed.FromString(s)
		if err != nil {
			panic(err)
		}
		return v
	}
	return &Pool{
		vault:                vault,
		cfg:                  cfg,
		address:              address,
		logger:               logger,
		ZlmThreshold:         f("2"),
		ZlmBonusRate:         f("0.05"),
		FreeWithdrawableRate: fixed.One,
		shares:               make(map[string]fixed.Value),
		totalShares:          fixed.New(),
	}, nil
}

// Address returns the pool's vault account address.
func (p *Pool) Address() string { return p.address }

// TotalShares returns the outstanding share supply.
func (p *Pool) TotalShares() fixed.Value {
	p.mu.Lock()
	defer p.mu.Unlock()
	return new(big.Int).Set(p.totalShares)
}

// Shares returns the holder's share balance.
func (p *Pool) Shares(holder string) fixed.Value {
	p.mu.Lock()
	defer p.mu.Unlock()
	if s, ok := p.shares[holder]; ok {
		return new(big.Int).Set(s)
	}
	return fixed.New()
}

// Deposit moves the external amount into the pool's vault account and
// mints shares to the depositor. The first deposit locks a dead-share
// floor at the sink address so later share prices cannot be inflated by
// a donation attack.
func (p *Pool) Deposit(depositor string, amount *big.Int) (fixed.Value, error) {
	scaled := fixed.ScaleFrom(amount, p.cfg.QuoteDecimals)
	if scaled.Sign() <= 0 {
		return nil, ErrZeroAmount
	}

	var equity fixed.Value
	var health fixed.Value
	info, err := p.vault.GetAccountInfo(p.address)
	switch err {
	case nil:
		equity = info.Equity
		health = info.HealthFactor
	case ErrInvalidAccount:
		// untouched pool account
		equity = fixed.New()
		health = MaxHealthFactor
	default:
		return nil, err
	}

	if err := p.vault.DepositFrom(depositor, p.address, amount); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	var minted fixed.Value
	var sink fixed.Value
	if p.totalShares.Sign() == 0 {
		if scaled.Cmp(deadShares) <= 0 {
			return nil, ErrZeroShare
		}
		sink = new(big.Int).Set(deadShares)
		minted = fixed.Sub(scaled, sink)
	} else {
		if equity.Sign() <= 0 {
			return nil, ErrBankruptcy
		}
		minted = fixed.Div(fixed.Mul(scaled, p.totalShares), equity)
		if health.Cmp(p.ZlmThreshold) < 0 {
			minted = fixed.Add(minted, fixed.Mul(minted, p.ZlmBonusRate))
		}
	}
	if minted.Sign() <= 0 {
		return nil, ErrZeroShare
	}

	p.credit(depositor, minted)
	p.totalShares.Add(p.totalShares, minted)
	if sink != nil {
		p.credit(DeadShareSink, sink)
		p.totalShares.Add(p.totalShares, sink)
	}
	p.logger.Info("pool deposit",
		"pool", p.address,
		"depositor", depositor,
		"amount", scaled.String(),
		"shares", minted.String())
	return minted, nil
}

// Withdraw burns shareAmount of the holder's shares and withdraws the
// proportional slice of pool equity, unwinding positions if needed.
func (p *Pool) Withdraw(holder string, shareAmount, acceptableAmount fixed.Value) (*big.Int, error) {
	if shareAmount == nil || shareAmount.Sign() <= 0 {
		return nil, ErrZeroShare
	}
	p.mu.Lock()
	held, ok := p.shares[holder]
	if !ok || held.Cmp(shareAmount) < 0 {
		p.mu.Unlock()
		return nil, ErrZeroShare
	}
	rate := fixed.Div(shareAmount, p.totalShares)
	if rate.Sign() <= 0 {
		p.mu.Unlock()
		return nil, ErrZeroShare
	}
	if rate.Cmp(fixed.One) > 0 {
		rate = new(big.Int).Set(fixed.One)
	}
	p.mu.Unlock()

	paid, err := p.vault.WithdrawPercent(p.address, rate, acceptableAmount, p.FreeWithdrawableRate)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	held = p.shares[holder]
	held.Sub(held, shareAmount)
	if held.Sign() == 0 {
		delete(p.shares, holder)
	}
	p.totalShares.Sub(p.totalShares, shareAmount)
	p.logger.Info("pool withdraw",
		"pool", p.address,
		"holder", holder,
		"shares", shareAmount.String(),
		"paid", paid.String())
	return paid, nil
}

func (p *Pool) credit(holder string, amount fixed.Value) {
	s, ok := p.shares[holder]
	if !ok {
		s = fixed.New()
		p.shares[holder] = s
	}
	s.Add(s, amount)
}

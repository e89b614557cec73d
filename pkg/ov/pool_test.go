package ov

import (
	"math/big"
	"testing"
	"time"

	"github.com/luxfi/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/optfi/vault/pkg/fixed"
)

// newTestPool builds a vault whose single pool account is owned by a Pool
// wrapper, funded only through share deposits.
func newTestPool(t *testing.T) (*Pool, *vaultRig) {
	t.Helper()
	base := time.Now().Truncate(time.Second)
	expiry := base.Unix() + 7*24*3600

	surface := NewSurface()
	vol := fv(t, "0.8")
	require.NoError(t, surface.SetIv(&Market{
		Expiry: expiry, Strike: fixed.FromInt(1100),
		BuyCallVol: vol, SellCallVol: vol, BuyPutVol: vol, SellPutVol: vol,
	}))

	cfg := DefaultConfig("admin")
	spot := NewStaticSpotPricer(fixed.FromInt(1000))
	pricer := NewOptionPricer(NewBlackScholes(DefaultCdfLookup(), DefaultLnLookup()), surface, cfg)
	pricer.now = func() time.Time { return base }

	rec := &eventRecorder{}
	level, _ := log.ToLevel("error")
	v := NewVault(cfg, pricer, surface, spot, nil, rec, log.NewTestLogger(level))
	v.now = func() time.Time { return base }

	pool, err := NewPool(v, cfg, "pool", fixed.New(), log.NewTestLogger(level))
	require.NoError(t, err)
	return pool, &vaultRig{vault: v, spot: spot, cfg: cfg, events: rec, expiry: expiry}
}

func TestPoolFirstDepositLocksDeadShares(t *testing.T) {
	pool, r := newTestPool(t)

	minted, err := pool.Deposit("alice", usd(1000))
	require.NoError(t, err)
	assert.Equal(t, fixed.Sub(fixed.FromInt(1000), big.NewInt(1000)), minted)
	assert.Equal(t, minted, pool.Shares("alice"))
	assert.Equal(t, big.NewInt(1000), pool.Shares(DeadShareSink))
	assert.Equal(t, fixed.FromInt(1000), pool.TotalShares())
	assert.Equal(t, fixed.FromInt(1000), r.vault.Balance("pool"))
}

func TestPoolDepositValidation(t *testing.T) {
	pool, r := newTestPool(t)

	_, err := pool.Deposit("alice", big.NewInt(0))
	assert.ErrorIs(t, err, ErrZeroAmount)

	// with 18-decimal quote units an amount at or below the dead-share
	// floor cannot seed the pool
	r.cfg.QuoteDecimals = 18
	_, err = pool.Deposit("alice", big.NewInt(500))
	assert.ErrorIs(t, err, ErrZeroShare)
}

func TestPoolSecondDepositProportional(t *testing.T) {
	pool, _ := newTestPool(t)

	_, err := pool.Deposit("alice", usd(1000))
	require.NoError(t, err)

	minted, err := pool.Deposit("carol", usd(500))
	require.NoError(t, err)
	assert.Equal(t, fixed.FromInt(500), minted)
	assert.Equal(t, fixed.FromInt(1500), pool.TotalShares())
}

func TestPoolZlmBonus(t *testing.T) {
	pool, r := newTestPool(t)

	_, err := pool.Deposit("alice", usd(200))
	require.NoError(t, err)

	// a trader's long puts the pool short and drags its health below the
	// ZLM threshold
	require.NoError(t, r.vault.Deposit("dave", usd(1000)))
	require.NoError(t, r.vault.Trade("dave", r.expiry, fixed.FromInt(1100), true, new(big.Int).Set(fixed.One), nil))

	info, err := r.vault.GetAccountInfo("pool")
	require.NoError(t, err)
	assert.Equal(t, bi(t, "1778127723872073899"), info.HealthFactor)

	minted, err := pool.Deposit("carol", usd(100))
	require.NoError(t, err)
	assert.Equal(t, bi(t, "104843510467600547104"), minted)
	assert.Equal(t, bi(t, "304843510467600547104"), pool.TotalShares())
}

func TestPoolWithdraw(t *testing.T) {
	pool, r := newTestPool(t)

	_, err := pool.Deposit("alice", usd(1000))
	require.NoError(t, err)

	_, err = pool.Withdraw("alice", fixed.New(), nil)
	assert.ErrorIs(t, err, ErrZeroShare)
	_, err = pool.Withdraw("nobody", fixed.FromInt(1), nil)
	assert.ErrorIs(t, err, ErrZeroShare)
	_, err = pool.Withdraw("alice", fixed.FromInt(2000), nil)
	assert.ErrorIs(t, err, ErrZeroShare)

	out, err := pool.Withdraw("alice", fixed.FromInt(500), nil)
	require.NoError(t, err)
	assert.Equal(t, usd(500), out)
	assert.Equal(t, fixed.FromInt(500), pool.TotalShares())
	assert.Equal(t, fixed.Sub(fixed.FromInt(500), big.NewInt(1000)), pool.Shares("alice"))
	assert.Equal(t, fixed.FromInt(500), r.vault.Balance("pool"))
}

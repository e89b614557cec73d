package ov

import (
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"github.com/luxfi/database"
	"github.com/luxfi/log"

	"github.com/optfi/vault/pkg/fixed"
)

// Key prefixes. Values are JSON; big.Int fields travel as decimal
// strings.
var (
	accountPrefix = []byte("account:")
	marketPrefix  = []byte("market:")
	settledPrefix = []byte("settled:")
)

type positionRecord struct {
	Expiry   int64  `json:"expiry"`
	Strike   string `json:"strike"`
	IsCall   bool   `json:"is_call"`
	Size     string `json:"size"`
	Notional string `json:"notional"`
}

type accountRecord struct {
	Address   string           `json:"address"`
	Balance   string           `json:"balance"`
	Positions []positionRecord `json:"positions"`
}

type marketRecord struct {
	Expiry           int64  `json:"expiry"`
	Strike           string `json:"strike"`
	BuyCallVol       string `json:"buy_call_vol"`
	SellCallVol      string `json:"sell_call_vol"`
	BuyPutVol        string `json:"buy_put_vol"`
	SellPutVol       string `json:"sell_put_vol"`
	BuyCallDisabled  bool   `json:"buy_call_disabled"`
	SellCallDisabled bool   `json:"sell_call_disabled"`
	BuyPutDisabled   bool   `json:"buy_put_disabled"`
	SellPutDisabled  bool   `json:"sell_put_disabled"`
	UpdatedAt        int64  `json:"updated_at"`
}

type settledRecord struct {
	Expiry  int64  `json:"expiry"`
	RoundId uint64 `json:"round_id"`
	Price   string `json:"price"`
}

// Store persists vault accounts, the volatility surface and settlement
// prices. Writes go through batches so a snapshot is all-or-nothing.
type Store struct {
	db     database.Database
	logger log.Logger
}

func NewStore(db database.Database, logger log.Logger) *Store {
	return &Store{db: db, logger: logger}
}

func parseFixed(s string) (fixed.Value, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("bad fixed-point value %q", s)
	}
	return v, nil
}

// SaveVault writes every account in one batch.
func (s *Store) SaveVault(v *Vault) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	batch := s.db.NewBatch()
	defer batch.Reset()

	for _, a := range v.accounts {
		rec := accountRecord{
			Address: a.Address,
			Balance: a.Balance.String(),
		}
		for _, p := range a.Positions {
			rec.Positions = append(rec.Positions, positionRecord{
				Expiry:   p.Expiry,
				Strike:   p.Strike.String(),
				IsCall:   p.IsCall,
				Size:     p.Size.String(),
				Notional: p.Notional.String(),
			})
		}
		value, err := json.Marshal(&rec)
		if err != nil {
			return err
		}
		if err := batch.Put(accountKey(a.Address), value); err != nil {
			return err
		}
	}
	return batch.Write()
}

// LoadVault restores accounts. An empty database is a fresh start.
func (s *Store) LoadVault(v *Vault) error {
	iter := s.db.NewIteratorWithPrefix(accountPrefix)
	defer iter.Release()

	v.mu.Lock()
	defer v.mu.Unlock()

	n := 0
	for iter.Next() {
		var rec accountRecord
		if err := json.Unmarshal(iter.Value(), &rec); err != nil {
			return fmt.Errorf("decode account %s: %w", iter.Key(), err)
		}
		balance, err := parseFixed(rec.Balance)
		if err != nil {
			return err
		}
		a := &Account{
			Address:   rec.Address,
			Balance:   balance,
			Positions: make(map[PositionKey]*Position, len(rec.Positions)),
		}
		for _, pr := range rec.Positions {
			strike, err := parseFixed(pr.Strike)
			if err != nil {
				return err
			}
			size, err := parseFixed(pr.Size)
			if err != nil {
				return err
			}
			notional, err := parseFixed(pr.Notional)
			if err != nil {
				return err
			}
			p := &Position{
				Expiry:   pr.Expiry,
				Strike:   strike,
				IsCall:   pr.IsCall,
				Size:     size,
				Notional: notional,
			}
			a.Positions[p.Key()] = p
		}
		v.accounts[a.Address] = a
		n++
	}
	if err := iter.Error(); err != nil {
		return err
	}
	if n > 0 {
		s.logger.Info("restored accounts", "count", n)
	}
	return nil
}

// SaveSurface writes every market entry in one batch.
func (s *Store) SaveSurface(sf *Surface) error {
	sf.mu.RLock()
	defer sf.mu.RUnlock()

	batch := s.db.NewBatch()
	defer batch.Reset()

	for _, m := range sf.markets {
		rec := marketRecord{
			Expiry:           m.Expiry,
			Strike:           m.Strike.String(),
			BuyCallVol:       m.BuyCallVol.String(),
			SellCallVol:      m.SellCallVol.String(),
			BuyPutVol:        m.BuyPutVol.String(),
			SellPutVol:       m.SellPutVol.String(),
			BuyCallDisabled:  m.BuyCallDisabled,
			SellCallDisabled: m.SellCallDisabled,
			BuyPutDisabled:   m.BuyPutDisabled,
			SellPutDisabled:  m.SellPutDisabled,
			UpdatedAt:        m.UpdatedAt.Unix(),
		}
		value, err := json.Marshal(&rec)
		if err != nil {
			return err
		}
		if err := batch.Put(marketDBKey(m.Expiry, rec.Strike), value); err != nil {
			return err
		}
	}
	return batch.Write()
}

// LoadSurface restores market entries through SetIv.
func (s *Store) LoadSurface(sf *Surface) error {
	iter := s.db.NewIteratorWithPrefix(marketPrefix)
	defer iter.Release()

	n := 0
	for iter.Next() {
		var rec marketRecord
		if err := json.Unmarshal(iter.Value(), &rec); err != nil {
			return fmt.Errorf("decode market %s: %w", iter.Key(), err)
		}
		strike, err := parseFixed(rec.Strike)
		if err != nil {
			return err
		}
		bc, err := parseFixed(rec.BuyCallVol)
		if err != nil {
			return err
		}
		sc, err := parseFixed(rec.SellCallVol)
		if err != nil {
			return err
		}
		bp, err := parseFixed(rec.BuyPutVol)
		if err != nil {
			return err
		}
		sp, err := parseFixed(rec.SellPutVol)
		if err != nil {
			return err
		}
		m := &Market{
			Expiry:           rec.Expiry,
			Strike:           strike,
			BuyCallVol:       bc,
			SellCallVol:      sc,
			BuyPutVol:        bp,
			SellPutVol:       sp,
			BuyCallDisabled:  rec.BuyCallDisabled,
			SellCallDisabled: rec.SellCallDisabled,
			BuyPutDisabled:   rec.BuyPutDisabled,
			SellPutDisabled:  rec.SellPutDisabled,
		}
		if err := sf.SetIv(m); err != nil {
			return err
		}
		// SetIv stamps now; keep the persisted timestamp so staleness
		// checks survive a restart
		sf.mu.Lock()
		if cur, ok := sf.markets[marketKey(rec.Expiry, strike)]; ok {
			cur.UpdatedAt = time.Unix(rec.UpdatedAt, 0)
		}
		sf.mu.Unlock()
		n++
	}
	if err := iter.Error(); err != nil {
		return err
	}
	if n > 0 {
		s.logger.Info("restored markets", "count", n)
	}
	return nil
}

// PutSettledPrice records one settlement price.
func (s *Store) PutSettledPrice(expiry int64, roundId uint64, price fixed.Value) error {
	rec := settledRecord{Expiry: expiry, RoundId: roundId, Price: price.String()}
	value, err := json.Marshal(&rec)
	if err != nil {
		return err
	}
	return s.db.Put(settledKey(expiry), value)
}

// LoadSettledPrices replays recorded settlement prices into the
// recorder.
func (s *Store) LoadSettledPrices(rec SettlementRecorder) error {
	iter := s.db.NewIteratorWithPrefix(settledPrefix)
	defer iter.Release()

	for iter.Next() {
		var sr settledRecord
		if err := json.Unmarshal(iter.Value(), &sr); err != nil {
			return fmt.Errorf("decode settled %s: %w", iter.Key(), err)
		}
		price, err := parseFixed(sr.Price)
		if err != nil {
			return err
		}
		if err := rec.SetSettledPrice(sr.Expiry, sr.RoundId, price); err != nil {
			return err
		}
	}
	return iter.Error()
}

func accountKey(address string) []byte {
	return append(append([]byte{}, accountPrefix...), address...)
}

func marketDBKey(expiry int64, strike string) []byte {
	return []byte(fmt.Sprintf("%s%d:%s", marketPrefix, expiry, strike))
}

func settledKey(expiry int64) []byte {
	return []byte(fmt.Sprintf("%s%d", settledPrefix, expiry))
}

package ov

import (
	"bytes"
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/luxfi/database"
	"github.com/luxfi/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/optfi/vault/pkg/fixed"
)

// memDB is an in-memory database.Database for store tests.
type memDB struct {
	mu   sync.RWMutex
	data map[string][]byte
}

func newMemDB() *memDB {
	return &memDB{data: make(map[string][]byte)}
}

func (m *memDB) Get(key []byte) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	val, ok := m.data[string(key)]
	if !ok {
		return nil, database.ErrNotFound
	}
	return val, nil
}

func (m *memDB) Put(key, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[string(key)] = append([]byte{}, value...)
	return nil
}

func (m *memDB) Delete(key []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, string(key))
	return nil
}

func (m *memDB) Has(key []byte) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.data[string(key)]
	return ok, nil
}

func (m *memDB) Close() error                          { return nil }
func (m *memDB) Compact(start, limit []byte) error     { return nil }
func (m *memDB) NewIterator() database.Iterator        { return m.iter(nil, nil) }
func (m *memDB) NewIteratorWithStart(s []byte) database.Iterator {
	return m.iter(s, nil)
}
func (m *memDB) NewIteratorWithPrefix(p []byte) database.Iterator {
	return m.iter(nil, p)
}
func (m *memDB) NewIteratorWithStartAndPrefix(s, p []byte) database.Iterator {
	return m.iter(s, p)
}

func (m *memDB) HealthCheck(context.Context) (interface{}, error) {
	return nil, nil
}

func (m *memDB) iter(start, prefix []byte) database.Iterator {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var keys []string
	for k := range m.data {
		kb := []byte(k)
		if prefix != nil && !bytes.HasPrefix(kb, prefix) {
			continue
		}
		if start != nil && bytes.Compare(kb, start) < 0 {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	it := &memIterator{index: -1}
	for _, k := range keys {
		it.keys = append(it.keys, []byte(k))
		it.values = append(it.values, append([]byte{}, m.data[k]...))
	}
	return it
}

type memIterator struct {
	keys   [][]byte
	values [][]byte
	index  int
}

func (it *memIterator) Next() bool {
	it.index++
	return it.index < len(it.keys)
}

func (it *memIterator) Key() []byte {
	if it.index < 0 || it.index >= len(it.keys) {
		return nil
	}
	return it.keys[it.index]
}

func (it *memIterator) Value() []byte {
	if it.index < 0 || it.index >= len(it.values) {
		return nil
	}
	return it.values[it.index]
}

func (it *memIterator) Error() error { return nil }
func (it *memIterator) Release()     {}

type memBatch struct {
	db  *memDB
	ops []memOp
}

type memOp struct {
	del   bool
	key   []byte
	value []byte
}

func (m *memDB) NewBatch() database.Batch {
	return &memBatch{db: m}
}

func (b *memBatch) Put(key, value []byte) error {
	b.ops = append(b.ops, memOp{key: append([]byte{}, key...), value: append([]byte{}, value...)})
	return nil
}

func (b *memBatch) Delete(key []byte) error {
	b.ops = append(b.ops, memOp{del: true, key: append([]byte{}, key...)})
	return nil
}

func (b *memBatch) ValueSize() int {
	size := 0
	for _, op := range b.ops {
		size += len(op.value)
	}
	return size
}

func (b *memBatch) Size() int {
	size := 0
	for _, op := range b.ops {
		size += len(op.key) + len(op.value)
	}
	return size
}

func (b *memBatch) Write() error {
	b.db.mu.Lock()
	defer b.db.mu.Unlock()
	for _, op := range b.ops {
		if op.del {
			delete(b.db.data, string(op.key))
		} else {
			b.db.data[string(op.key)] = op.value
		}
	}
	return nil
}

func (b *memBatch) Reset() { b.ops = b.ops[:0] }

func (b *memBatch) Replay(w database.KeyValueWriterDeleter) error {
	for _, op := range b.ops {
		if op.del {
			if err := w.Delete(op.key); err != nil {
				return err
			}
		} else {
			if err := w.Put(op.key, op.value); err != nil {
				return err
			}
		}
	}
	return nil
}

func (b *memBatch) Inner() database.Batch { return b }

func testStore(t *testing.T) (*Store, *memDB) {
	t.Helper()
	level, _ := log.ToLevel("error")
	db := newMemDB()
	return NewStore(db, log.NewTestLogger(level)), db
}

func TestStoreVaultRoundTrip(t *testing.T) {
	r := newTestVault(t)
	r.sellCall(t, "alice", 1100, usd(1000))

	store, _ := testStore(t)
	require.NoError(t, store.SaveVault(r.vault))

	level, _ := log.ToLevel("error")
	restored := NewVault(r.cfg, r.vault.pricer, r.vault.surface, r.spot, nil, nil, log.NewTestLogger(level))
	require.NoError(t, store.LoadVault(restored))

	assert.Equal(t, r.vault.Balance("alice"), restored.Balance("alice"))
	assert.Equal(t, r.vault.Balance("pool"), restored.Balance("pool"))
	assert.Equal(t, r.vault.Balance(r.cfg.InsuranceAccount), restored.Balance(r.cfg.InsuranceAccount))

	want := r.vault.Position("alice", callKey(r.expiry, 1100))
	got := restored.Position("alice", callKey(r.expiry, 1100))
	require.NotNil(t, got)
	assert.Equal(t, want.Size, got.Size)
	assert.Equal(t, want.Notional, got.Notional)
	assert.Equal(t, want.Strike, got.Strike)
	assert.Equal(t, want.Expiry, got.Expiry)
	assert.Equal(t, r.vault.OpenPositions(), restored.OpenPositions())
}

func TestStoreSurfaceRoundTrip(t *testing.T) {
	surface := NewSurface()
	m := &Market{
		Expiry:           1_900_000_000,
		Strike:           fixed.FromInt(1100),
		BuyCallVol:       fv(t, "0.9"),
		SellCallVol:      fv(t, "0.7"),
		BuyPutVol:        fv(t, "0.85"),
		SellPutVol:       fv(t, "0.65"),
		SellPutDisabled:  true,
	}
	require.NoError(t, surface.SetIv(m))

	store, _ := testStore(t)
	require.NoError(t, store.SaveSurface(surface))

	restored := NewSurface()
	require.NoError(t, store.LoadSurface(restored))

	got := restored.Market(1_900_000_000, fixed.FromInt(1100))
	require.NotNil(t, got)
	assert.Equal(t, fv(t, "0.9"), got.BuyCallVol)
	assert.Equal(t, fv(t, "0.7"), got.SellCallVol)
	assert.Equal(t, fv(t, "0.85"), got.BuyPutVol)
	assert.Equal(t, fv(t, "0.65"), got.SellPutVol)
	assert.True(t, got.SellPutDisabled)
	assert.False(t, got.BuyCallDisabled)

	// the persisted update time survives the restore
	orig := surface.Market(1_900_000_000, fixed.FromInt(1100))
	assert.Equal(t, orig.UpdatedAt.Unix(), got.UpdatedAt.Unix())
}

func TestStoreSettledPrices(t *testing.T) {
	store, _ := testStore(t)
	require.NoError(t, store.PutSettledPrice(1_800_000_000, 7, fixed.FromInt(1200)))
	require.NoError(t, store.PutSettledPrice(1_800_600_000, 8, fixed.FromInt(1350)))

	oracle := NewMedianSpotOracle(time.Minute, nil, nil)
	require.NoError(t, store.LoadSettledPrices(oracle))

	assert.Equal(t, fixed.FromInt(1200), oracle.SettledPrice(1_800_000_000))
	assert.Equal(t, fixed.FromInt(1350), oracle.SettledPrice(1_800_600_000))
	assert.Zero(t, oracle.SettledPrice(42).Sign())
}

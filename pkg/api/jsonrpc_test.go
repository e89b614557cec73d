package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/luxfi/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/optfi/vault/pkg/fixed"
	"github.com/optfi/vault/pkg/metrics"
	"github.com/optfi/vault/pkg/ov"
)

type testRig struct {
	server *JSONRPCServer
	expiry int64
}

func newTestServer(t *testing.T) *testRig {
	t.Helper()
	level, _ := log.ToLevel("error")
	logger := log.NewTestLogger(level)

	expiry := time.Now().Unix() + 7*24*3600
	surface := ov.NewSurface()
	vol, err := fixed.FromString("0.8")
	require.NoError(t, err)
	require.NoError(t, surface.SetIv(&ov.Market{
		Expiry: expiry, Strike: fixed.FromInt(1100),
		BuyCallVol: vol, SellCallVol: vol, BuyPutVol: vol, SellPutVol: vol,
	}))

	cfg := ov.DefaultConfig("admin")
	oracle := ov.NewMedianSpotOracle(time.Minute, nil, nil)
	oracle.Update("test", fixed.FromInt(1000))

	pricer := ov.NewCacheOptionPricer(ov.NewOptionPricer(
		ov.NewBlackScholes(ov.DefaultCdfLookup(), ov.DefaultLnLookup()), surface, cfg))
	vault := ov.NewVault(cfg, pricer, surface, oracle, nil, nil, logger)
	pool, err := ov.NewPool(vault, cfg, "pool", fixed.New(), logger)
	require.NoError(t, err)

	m, err := metrics.New("test_vault", logger)
	require.NoError(t, err)
	server := NewJSONRPCServer(vault, pool, surface, pricer, oracle, oracle, cfg, m, logger)
	return &testRig{server: server, expiry: expiry}
}

func (r *testRig) call(t *testing.T, method, params string) JSONRPCResponse {
	t.Helper()
	body := fmt.Sprintf(`{"jsonrpc":"2.0","method":%q,"params":%s,"id":1}`, method, params)
	req := httptest.NewRequest("POST", "/rpc", bytes.NewBufferString(body))
	w := httptest.NewRecorder()
	r.server.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var resp JSONRPCResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func result(t *testing.T, resp JSONRPCResponse) map[string]interface{} {
	t.Helper()
	require.Nil(t, resp.Error, "rpc error: %v", resp.Error)
	out, ok := resp.Result.(map[string]interface{})
	require.True(t, ok)
	return out
}

func TestPing(t *testing.T) {
	r := newTestServer(t)
	resp := r.call(t, "vault_ping", `{}`)
	require.Nil(t, resp.Error)
	assert.Equal(t, "pong", resp.Result)
}

func TestMethodNotFound(t *testing.T) {
	r := newTestServer(t)
	resp := r.call(t, "vault_unknown", `{}`)
	require.NotNil(t, resp.Error)
	assert.Equal(t, MethodNotFound, resp.Error.Code)
}

func TestRejectsNonPost(t *testing.T) {
	r := newTestServer(t)
	req := httptest.NewRequest("GET", "/rpc", nil)
	w := httptest.NewRecorder()
	r.server.ServeHTTP(w, req)
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestRejectsBadJSON(t *testing.T) {
	r := newTestServer(t)
	req := httptest.NewRequest("POST", "/rpc", bytes.NewBufferString(`{not json`))
	w := httptest.NewRecorder()
	r.server.ServeHTTP(w, req)

	var resp JSONRPCResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, ParseError, resp.Error.Code)
}

func TestRejectsWrongVersion(t *testing.T) {
	r := newTestServer(t)
	req := httptest.NewRequest("POST", "/rpc", bytes.NewBufferString(`{"jsonrpc":"1.0","method":"vault_ping","id":1}`))
	w := httptest.NewRecorder()
	r.server.ServeHTTP(w, req)

	var resp JSONRPCResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, InvalidRequest, resp.Error.Code)
}

func TestDepositAndAccountInfo(t *testing.T) {
	r := newTestServer(t)

	out := result(t, r.call(t, "vault_deposit", `{"account":"alice","amount":"1000"}`))
	assert.Equal(t, "deposited", out["status"])

	info := result(t, r.call(t, "vault_getAccountInfo", `{"account":"alice"}`))
	assert.Equal(t, "1000", info["equity"])
	assert.Equal(t, "1000", info["available"])
	assert.Equal(t, "0", info["initialMargin"])

	resp := r.call(t, "vault_deposit", `{"account":"alice","amount":"bogus"}`)
	require.NotNil(t, resp.Error)
	assert.Equal(t, InvalidParams, resp.Error.Code)

	resp = r.call(t, "vault_getAccountInfo", `{"account":"nobody"}`)
	assert.NotNil(t, resp.Error)
}

func TestWithdrawRPC(t *testing.T) {
	r := newTestServer(t)
	result(t, r.call(t, "vault_deposit", `{"account":"bob","amount":"1000"}`))

	out := result(t, r.call(t, "vault_withdraw", `{"account":"bob","amount":"100"}`))
	// paid is reported in native 6-decimal quote units
	assert.Equal(t, "100000000", out["paid"])

	resp := r.call(t, "vault_withdraw", `{"account":"bob","amount":"100000"}`)
	assert.NotNil(t, resp.Error)
}

func TestTradeAndPositionRPC(t *testing.T) {
	r := newTestServer(t)
	result(t, r.call(t, "pool_deposit", `{"depositor":"lp","amount":"100000"}`))
	result(t, r.call(t, "vault_deposit", `{"account":"alice","amount":"1000"}`))

	params := fmt.Sprintf(`{"account":"alice","expiry":%d,"strike":"1100","isCall":true,"size":"-1"}`, r.expiry)
	out := result(t, r.call(t, "vault_trade", params))
	assert.Equal(t, "filled", out["status"])

	params = fmt.Sprintf(`{"account":"alice","expiry":%d,"strike":"1100","isCall":true}`, r.expiry)
	pos := result(t, r.call(t, "vault_getPosition", params))
	assert.Equal(t, "-1", pos["size"])
	assert.Equal(t, "1100", pos["strike"])
	assert.Equal(t, true, pos["isCall"])

	// no such position
	params = fmt.Sprintf(`{"account":"alice","expiry":%d,"strike":"900","isCall":true}`, r.expiry)
	resp := r.call(t, "vault_getPosition", params)
	assert.NotNil(t, resp.Error)

	// expired market
	resp = r.call(t, "vault_trade", `{"account":"alice","expiry":1,"strike":"1100","isCall":true,"size":"-1"}`)
	assert.NotNil(t, resp.Error)
}

func TestPoolRPC(t *testing.T) {
	r := newTestServer(t)

	out := result(t, r.call(t, "pool_deposit", `{"depositor":"lp","amount":"1000"}`))
	assert.Equal(t, "999.999999999999999", out["shares"])

	out = result(t, r.call(t, "pool_withdraw", `{"holder":"lp","shares":"500"}`))
	assert.Equal(t, "500000000", out["paid"])

	resp := r.call(t, "pool_withdraw", `{"holder":"nobody","shares":"1"}`)
	assert.NotNil(t, resp.Error)
}

func TestAdminSetIv(t *testing.T) {
	r := newTestServer(t)

	params := fmt.Sprintf(`{"caller":"admin","expiry":%d,"strike":"1200","buyCallVol":"0.9","sellCallVol":"0.7","buyPutVol":"0.9","sellPutVol":"0.7"}`, r.expiry)
	out := result(t, r.call(t, "admin_setIv", params))
	assert.Equal(t, "updated", out["status"])

	params = fmt.Sprintf(`{"caller":"mallory","expiry":%d,"strike":"1200","buyCallVol":"0.9","sellCallVol":"0.7","buyPutVol":"0.9","sellPutVol":"0.7"}`, r.expiry)
	resp := r.call(t, "admin_setIv", params)
	assert.NotNil(t, resp.Error)

	// vol above the cap is rejected by the surface
	params = fmt.Sprintf(`{"caller":"admin","expiry":%d,"strike":"1200","buyCallVol":"11","sellCallVol":"0.7","buyPutVol":"0.9","sellPutVol":"0.7"}`, r.expiry)
	resp = r.call(t, "admin_setIv", params)
	assert.NotNil(t, resp.Error)
}

func TestAdminSetSpotAndOracle(t *testing.T) {
	r := newTestServer(t)

	out := result(t, r.call(t, "oracle_getPrice", `{}`))
	assert.Equal(t, "1000", out["price"])

	result(t, r.call(t, "admin_setSpot", `{"caller":"admin","source":"test","price":"1250"}`))
	out = result(t, r.call(t, "oracle_getPrice", `{}`))
	assert.Equal(t, "1250", out["price"])

	resp := r.call(t, "admin_setSpot", `{"caller":"mallory","source":"test","price":"1"}`)
	assert.NotNil(t, resp.Error)

	// settlement write path
	out = result(t, r.call(t, "admin_setSpot", `{"caller":"admin","source":"test","price":"1300","expiry":123,"roundId":1}`))
	assert.Equal(t, "settled", out["status"])
	resp = r.call(t, "admin_setSpot", `{"caller":"admin","source":"test","price":"1300","expiry":123,"roundId":2}`)
	assert.NotNil(t, resp.Error)
}

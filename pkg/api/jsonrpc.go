package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/luxfi/log"
	"github.com/shopspring/decimal"

	"github.com/optfi/vault/pkg/fixed"
	"github.com/optfi/vault/pkg/metrics"
	"github.com/optfi/vault/pkg/ov"
)

// SpotAdmin is the oracle write surface used by admin_setSpot.
type SpotAdmin interface {
	Update(source string, price fixed.Value)
	SetSettledPrice(expiry int64, roundId uint64, price fixed.Value) error
}

// JSONRPCServer handles JSON-RPC 2.0 requests
type JSONRPCServer struct {
	vault   *ov.Vault
	pool    *ov.Pool
	surface *ov.Surface
	pricer  *ov.CacheOptionPricer
	spot    ov.SpotPricer
	admin   SpotAdmin
	cfg     *ov.Config
	metrics *metrics.Metrics
	logger  log.Logger
}

// NewJSONRPCServer creates a new JSON-RPC server
func NewJSONRPCServer(vault *ov.Vault, pool *ov.Pool, surface *ov.Surface, pricer *ov.CacheOptionPricer, spot ov.SpotPricer, admin SpotAdmin, cfg *ov.Config, m *metrics.Metrics, logger log.Logger) *JSONRPCServer {
	return &JSONRPCServer{
		vault:   vault,
		pool:    pool,
		surface: surface,
		pricer:  pricer,
		spot:    spot,
		admin:   admin,
		cfg:     cfg,
		metrics: m,
		logger:  logger,
	}
}

// JSONRPCRequest represents a JSON-RPC 2.0 request
type JSONRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
	ID      interface{}     `json:"id"`
}

// JSONRPCResponse represents a JSON-RPC 2.0 response
type JSONRPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
	ID      interface{} `json:"id"`
}

// RPCError represents a JSON-RPC error
type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// Error implements error interface
func (e *RPCError) Error() string {
	return fmt.Sprintf("RPC Error %d: %s", e.Code, e.Message)
}

// Standard JSON-RPC error codes
const (
	ParseError     = -32700
	InvalidRequest = -32600
	MethodNotFound = -32601
	InvalidParams  = -32602
	InternalError  = -32603
)

// parseAmount converts a decimal string into 18-decimal fixed point,
// truncating extra precision.
func parseAmount(s string) (fixed.Value, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, err
	}
	return d.Shift(fixed.Decimals).Truncate(0).BigInt(), nil
}

func formatAmount(v fixed.Value) string {
	return decimal.NewFromBigInt(v, -fixed.Decimals).String()
}

// ServeHTTP implements http.Handler
func (s *JSONRPCServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != "POST" {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req JSONRPCRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, nil, ParseError, "Parse error")
		return
	}

	if req.JSONRPC != "2.0" {
		s.sendError(w, req.ID, InvalidRequest, "Invalid Request")
		return
	}

	result, err := s.handleMethod(req.Method, req.Params)
	if err != nil {
		if rpcErr, ok := err.(*RPCError); ok {
			s.sendError(w, req.ID, rpcErr.Code, rpcErr.Message)
		} else {
			s.sendError(w, req.ID, InternalError, err.Error())
		}
		return
	}

	resp := JSONRPCResponse{
		JSONRPC: "2.0",
		Result:  result,
		ID:      req.ID,
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func (s *JSONRPCServer) handleMethod(method string, params json.RawMessage) (interface{}, error) {
	switch method {
	// Vault methods
	case "vault_deposit":
		return s.deposit(params)
	case "vault_withdraw":
		return s.withdraw(params)
	case "vault_withdrawPercent":
		return s.withdrawPercent(params)
	case "vault_trade":
		return s.trade(params)
	case "vault_liquidate":
		return s.liquidate(params)
	case "vault_clear":
		return s.clear(params)
	case "vault_settle":
		return s.settle(params)
	case "vault_getAccountInfo":
		return s.getAccountInfo(params)
	case "vault_getPosition":
		return s.getPosition(params)

	// Pool methods
	case "pool_deposit":
		return s.poolDeposit(params)
	case "pool_withdraw":
		return s.poolWithdraw(params)

	// Admin methods
	case "admin_setIv":
		return s.setIv(params)
	case "admin_setSpot":
		return s.setSpot(params)

	// Oracle methods
	case "oracle_getPrice":
		return s.getPrice(params)
	case "vault_ping":
		return "pong", nil

	default:
		return nil, &RPCError{Code: MethodNotFound, Message: "Method not found"}
	}
}

func (s *JSONRPCServer) deposit(params json.RawMessage) (interface{}, error) {
	var p struct {
		Account string `json:"account"`
		Amount  string `json:"amount"` // native quote decimals
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &RPCError{Code: InvalidParams, Message: "Invalid params"}
	}
	d, err := decimal.NewFromString(p.Amount)
	if err != nil {
		return nil, &RPCError{Code: InvalidParams, Message: "Invalid amount"}
	}
	raw := d.Shift(int32(s.cfg.QuoteDecimals)).Truncate(0).BigInt()
	if err := s.vault.Deposit(p.Account, raw); err != nil {
		return nil, err
	}
	s.metrics.Deposits.Inc()
	return map[string]interface{}{
		"account": p.Account,
		"status":  "deposited",
	}, nil
}

func (s *JSONRPCServer) withdraw(params json.RawMessage) (interface{}, error) {
	var p struct {
		Account string `json:"account"`
		Amount  string `json:"amount"`
		GasFee  string `json:"gasFee,omitempty"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &RPCError{Code: InvalidParams, Message: "Invalid params"}
	}
	amount, err := parseAmount(p.Amount)
	if err != nil {
		return nil, &RPCError{Code: InvalidParams, Message: "Invalid amount"}
	}
	gasFee := fixed.New()
	if p.GasFee != "" {
		if gasFee, err = parseAmount(p.GasFee); err != nil {
			return nil, &RPCError{Code: InvalidParams, Message: "Invalid gasFee"}
		}
	}
	paid, err := s.vault.Withdraw(p.Account, amount, gasFee)
	if err != nil {
		return nil, err
	}
	s.metrics.Withdrawals.Inc()
	return map[string]interface{}{
		"account": p.Account,
		"paid":    paid.String(),
	}, nil
}

func (s *JSONRPCServer) withdrawPercent(params json.RawMessage) (interface{}, error) {
	var p struct {
		Account              string `json:"account"`
		Rate                 string `json:"rate"`
		AcceptableAmount     string `json:"acceptableAmount,omitempty"`
		FreeWithdrawableRate string `json:"freeWithdrawableRate"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &RPCError{Code: InvalidParams, Message: "Invalid params"}
	}
	rate, err := parseAmount(p.Rate)
	if err != nil {
		return nil, &RPCError{Code: InvalidParams, Message: "Invalid rate"}
	}
	freeRate, err := parseAmount(p.FreeWithdrawableRate)
	if err != nil {
		return nil, &RPCError{Code: InvalidParams, Message: "Invalid freeWithdrawableRate"}
	}
	var acceptable fixed.Value
	if p.AcceptableAmount != "" {
		if acceptable, err = parseAmount(p.AcceptableAmount); err != nil {
			return nil, &RPCError{Code: InvalidParams, Message: "Invalid acceptableAmount"}
		}
	}
	paid, err := s.vault.WithdrawPercent(p.Account, rate, acceptable, freeRate)
	if err != nil {
		return nil, err
	}
	s.metrics.Withdrawals.Inc()
	return map[string]interface{}{
		"account": p.Account,
		"paid":    paid.String(),
	}, nil
}

func (s *JSONRPCServer) trade(params json.RawMessage) (interface{}, error) {
	var p struct {
		Account           string `json:"account"`
		Expiry            int64  `json:"expiry"`
		Strike            string `json:"strike"`
		IsCall            bool   `json:"isCall"`
		Size              string `json:"size"`
		AcceptablePremium string `json:"acceptablePremium,omitempty"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &RPCError{Code: InvalidParams, Message: "Invalid params"}
	}
	strike, err := parseAmount(p.Strike)
	if err != nil {
		return nil, &RPCError{Code: InvalidParams, Message: "Invalid strike"}
	}
	size, err := parseAmount(p.Size)
	if err != nil {
		return nil, &RPCError{Code: InvalidParams, Message: "Invalid size"}
	}
	var acceptable fixed.Value
	if p.AcceptablePremium != "" {
		if acceptable, err = parseAmount(p.AcceptablePremium); err != nil {
			return nil, &RPCError{Code: InvalidParams, Message: "Invalid acceptablePremium"}
		}
	}
	start := time.Now()
	if err := s.vault.Trade(p.Account, p.Expiry, strike, p.IsCall, size, acceptable); err != nil {
		return nil, err
	}
	s.metrics.Trades.Inc()
	s.metrics.PremiumSeconds.Observe(time.Since(start).Seconds())
	return map[string]interface{}{
		"account": p.Account,
		"status":  "filled",
	}, nil
}

func (s *JSONRPCServer) liquidate(params json.RawMessage) (interface{}, error) {
	var p struct {
		Caller  string `json:"caller"`
		Account string `json:"account"`
		Expiry  int64  `json:"expiry"`
		Strike  string `json:"strike"`
		IsCall  bool   `json:"isCall"`
		Size    string `json:"size"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &RPCError{Code: InvalidParams, Message: "Invalid params"}
	}
	strike, err := parseAmount(p.Strike)
	if err != nil {
		return nil, &RPCError{Code: InvalidParams, Message: "Invalid strike"}
	}
	size, err := parseAmount(p.Size)
	if err != nil {
		return nil, &RPCError{Code: InvalidParams, Message: "Invalid size"}
	}
	if err := s.vault.Liquidate(p.Caller, p.Account, p.Expiry, strike, p.IsCall, size); err != nil {
		return nil, err
	}
	s.metrics.Liquidations.Inc()
	return map[string]interface{}{
		"account": p.Account,
		"status":  "liquidated",
	}, nil
}

func (s *JSONRPCServer) clear(params json.RawMessage) (interface{}, error) {
	var p struct {
		Caller  string `json:"caller"`
		Account string `json:"account"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &RPCError{Code: InvalidParams, Message: "Invalid params"}
	}
	if err := s.vault.Clear(p.Caller, p.Account); err != nil {
		return nil, err
	}
	s.metrics.Clears.Inc()
	return map[string]interface{}{
		"account": p.Account,
		"status":  "cleared",
	}, nil
}

func (s *JSONRPCServer) settle(params json.RawMessage) (interface{}, error) {
	var p struct {
		Account string `json:"account"`
		Expiry  int64  `json:"expiry"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &RPCError{Code: InvalidParams, Message: "Invalid params"}
	}
	if err := s.vault.Settle(p.Account, p.Expiry); err != nil {
		return nil, err
	}
	s.metrics.Settlements.Inc()
	return map[string]interface{}{
		"account": p.Account,
		"expiry":  p.Expiry,
		"status":  "settled",
	}, nil
}

func (s *JSONRPCServer) getAccountInfo(params json.RawMessage) (interface{}, error) {
	var p struct {
		Account string `json:"account"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &RPCError{Code: InvalidParams, Message: "Invalid params"}
	}
	info, err := s.vault.GetAccountInfo(p.Account)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"equity":            formatAmount(info.Equity),
		"equityWithFee":     formatAmount(info.EquityWithFee),
		"available":         formatAmount(info.Available),
		"initialMargin":     formatAmount(info.InitialMargin),
		"maintenanceMargin": formatAmount(info.MaintenanceMargin),
		"healthFactor":      formatAmount(info.HealthFactor),
	}, nil
}

func (s *JSONRPCServer) getPosition(params json.RawMessage) (interface{}, error) {
	var p struct {
		Account string `json:"account"`
		Expiry  int64  `json:"expiry"`
		Strike  string `json:"strike"`
		IsCall  bool   `json:"isCall"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &RPCError{Code: InvalidParams, Message: "Invalid params"}
	}
	strike, err := parseAmount(p.Strike)
	if err != nil {
		return nil, &RPCError{Code: InvalidParams, Message: "Invalid strike"}
	}
	pos := s.vault.Position(p.Account, ov.PositionKey{Expiry: p.Expiry, Strike: strike.String(), IsCall: p.IsCall})
	if pos == nil {
		return nil, &RPCError{Code: InternalError, Message: "Position not found"}
	}
	return map[string]interface{}{
		"expiry":   pos.Expiry,
		"strike":   formatAmount(pos.Strike),
		"isCall":   pos.IsCall,
		"size":     formatAmount(pos.Size),
		"notional": formatAmount(pos.Notional),
	}, nil
}

func (s *JSONRPCServer) poolDeposit(params json.RawMessage) (interface{}, error) {
	var p struct {
		Depositor string `json:"depositor"`
		Amount    string `json:"amount"` // native quote decimals
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &RPCError{Code: InvalidParams, Message: "Invalid params"}
	}
	d, err := decimal.NewFromString(p.Amount)
	if err != nil {
		return nil, &RPCError{Code: InvalidParams, Message: "Invalid amount"}
	}
	raw := d.Shift(int32(s.cfg.QuoteDecimals)).Truncate(0).BigInt()
	shares, err := s.pool.Deposit(p.Depositor, raw)
	if err != nil {
		return nil, err
	}
	s.metrics.Deposits.Inc()
	return map[string]interface{}{
		"depositor": p.Depositor,
		"shares":    formatAmount(shares),
	}, nil
}

func (s *JSONRPCServer) poolWithdraw(params json.RawMessage) (interface{}, error) {
	var p struct {
		Holder           string `json:"holder"`
		Shares           string `json:"shares"`
		AcceptableAmount string `json:"acceptableAmount,omitempty"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &RPCError{Code: InvalidParams, Message: "Invalid params"}
	}
	shares, err := parseAmount(p.Shares)
	if err != nil {
		return nil, &RPCError{Code: InvalidParams, Message: "Invalid shares"}
	}
	var acceptable fixed.Value
	if p.AcceptableAmount != "" {
		if acceptable, err = parseAmount(p.AcceptableAmount); err != nil {
			return nil, &RPCError{Code: InvalidParams, Message: "Invalid acceptableAmount"}
		}
	}
	paid, err := s.pool.Withdraw(p.Holder, shares, acceptable)
	if err != nil {
		return nil, err
	}
	s.metrics.Withdrawals.Inc()
	return map[string]interface{}{
		"holder": p.Holder,
		"paid":   paid.String(),
	}, nil
}

func (s *JSONRPCServer) setIv(params json.RawMessage) (interface{}, error) {
	var p struct {
		Caller      string `json:"caller"`
		Expiry      int64  `json:"expiry"`
		Strike      string `json:"strike"`
		BuyCallVol  string `json:"buyCallVol"`
		SellCallVol string `json:"sellCallVol"`
		BuyPutVol   string `json:"buyPutVol"`
		SellPutVol  string `json:"sellPutVol"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &RPCError{Code: InvalidParams, Message: "Invalid params"}
	}
	if p.Caller != s.cfg.Admin {
		return nil, ov.ErrNotAuthorized
	}
	strike, err := parseAmount(p.Strike)
	if err != nil {
		return nil, &RPCError{Code: InvalidParams, Message: "Invalid strike"}
	}
	vols := make([]fixed.Value, 4)
	for i, raw := range []string{p.BuyCallVol, p.SellCallVol, p.BuyPutVol, p.SellPutVol} {
		if vols[i], err = parseAmount(raw); err != nil {
			return nil, &RPCError{Code: InvalidParams, Message: "Invalid vol"}
		}
	}
	m := &ov.Market{
		Expiry:      p.Expiry,
		Strike:      strike,
		BuyCallVol:  vols[0],
		SellCallVol: vols[1],
		BuyPutVol:   vols[2],
		SellPutVol:  vols[3],
	}
	if err := s.surface.SetIv(m); err != nil {
		return nil, err
	}
	if s.pricer != nil {
		if err := s.pricer.UpdateLookup(p.Expiry); err != nil {
			s.logger.Warn("lookup rebuild failed", "expiry", p.Expiry, "error", err)
		}
	}
	return map[string]interface{}{
		"expiry": p.Expiry,
		"status": "updated",
	}, nil
}

func (s *JSONRPCServer) setSpot(params json.RawMessage) (interface{}, error) {
	var p struct {
		Caller  string `json:"caller"`
		Source  string `json:"source"`
		Price   string `json:"price"`
		Expiry  int64  `json:"expiry,omitempty"`
		RoundId uint64 `json:"roundId,omitempty"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &RPCError{Code: InvalidParams, Message: "Invalid params"}
	}
	if p.Caller != s.cfg.Admin {
		return nil, ov.ErrNotAuthorized
	}
	price, err := parseAmount(p.Price)
	if err != nil {
		return nil, &RPCError{Code: InvalidParams, Message: "Invalid price"}
	}
	if p.Expiry > 0 {
		if err := s.admin.SetSettledPrice(p.Expiry, p.RoundId, price); err != nil {
			return nil, err
		}
		return map[string]interface{}{"expiry": p.Expiry, "status": "settled"}, nil
	}
	s.admin.Update(p.Source, price)
	return map[string]interface{}{"status": "updated"}, nil
}

func (s *JSONRPCServer) getPrice(params json.RawMessage) (interface{}, error) {
	price, err := s.spot.GetPrice()
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"price":     formatAmount(price),
		"timestamp": time.Now().Unix(),
	}, nil
}

func (s *JSONRPCServer) sendError(w http.ResponseWriter, id interface{}, code int, message string) {
	resp := JSONRPCResponse{
		JSONRPC: "2.0",
		Error: &RPCError{
			Code:    code,
			Message: message,
		},
		ID: id,
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// StartJSONRPCServer starts the JSON-RPC server
func StartJSONRPCServer(ctx context.Context, port int, server *JSONRPCServer, logger log.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/", server)

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}

	go func() {
		<-ctx.Done()
		httpServer.Shutdown(context.Background())
	}()

	logger.Info("JSON-RPC server started", "port", port)
	return httpServer.ListenAndServe()
}

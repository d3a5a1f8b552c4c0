package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/user/papertrade/backend/internal/auth"
	"github.com/user/papertrade/backend/internal/database"
	"github.com/user/papertrade/backend/internal/ledger"
	"github.com/user/papertrade/backend/internal/marketdata"
	ws "github.com/user/papertrade/backend/internal/websocket"
)

func TestMain(m *testing.M) {
	auth.HashCost = bcrypt.MinCost
	os.Exit(m.Run())
}

type downProvider struct{}

func (downProvider) Name() string { return "down" }

func (downProvider) CurrentPrice(_ context.Context, symbol string) (decimal.Decimal, error) {
	return decimal.Zero, &marketdata.UpstreamUnavailableError{Provider: "down", Symbol: symbol, Err: errors.New("connection refused")}
}

func (downProvider) HistoricalCloses(_ context.Context, symbol, _ string) ([]marketdata.Close, error) {
	return nil, &marketdata.UpstreamUnavailableError{Provider: "down", Symbol: symbol, Err: errors.New("connection refused")}
}

// countingDown is a downProvider that counts price lookups.
type countingDown struct {
	downProvider
	lookups atomic.Int32
}

func (p *countingDown) CurrentPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	p.lookups.Add(1)
	return p.downProvider.CurrentPrice(ctx, symbol)
}

type testServer struct {
	app    *fiber.App
	tokens *auth.TokenIssuer
	sim    *marketdata.Sim
}

func newTestServer(t *testing.T, prices marketdata.Provider) *testServer {
	t.Helper()
	store, err := database.NewSQLite(filepath.Join(t.TempDir(), "papertrade.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	tokens, err := auth.NewTokenIssuer("test-secret", 0)
	require.NoError(t, err)

	sim := marketdata.NewSim(1)
	sim.Set("AAPL", 200)
	if prices == nil {
		prices = sim
	}

	log := zap.NewNop()
	app := New(Deps{
		Engine:      ledger.NewEngine(store, log, ledger.WithCurrency("USD")),
		Users:       store,
		Tokens:      tokens,
		Prices:      prices,
		Hub:         ws.NewHub(log),
		Logger:      log,
		CORSOrigins: "*",
		PriceBand:   decimal.RequireFromString("0.10"),
	})
	return &testServer{app: app, tokens: tokens, sim: sim}
}

type response struct {
	status int
	body   map[string]any
}

func (s *testServer) do(t *testing.T, method, path, token string, body any) response {
	t.Helper()
	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != nil {
		req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	}
	if token != "" {
		req.Header.Set(fiber.HeaderAuthorization, "Bearer "+token)
	}
	resp, err := s.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	out := response{status: resp.StatusCode, body: map[string]any{}}
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &out.body), string(raw))
	}
	return out
}

// signup registers username and returns its id and token.
func (s *testServer) signup(t *testing.T, username string) (string, string) {
	t.Helper()
	r := s.do(t, http.MethodPost, "/api/auth/signup", "", map[string]any{
		"username": username,
		"email":    username + "@example.com",
		"password": "hunter22",
	})
	require.Equal(t, http.StatusCreated, r.status, r.body)
	user := r.body["user"].(map[string]any)
	return user["id"].(string), r.body["token"].(string)
}

func TestHealth(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, nil)
	r := s.do(t, http.MethodGet, "/api/health", "", nil)
	assert.Equal(t, http.StatusOK, r.status)
	assert.Equal(t, "ok", r.body["status"])
}

func TestAuthFlow(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, nil)

	id, token := s.signup(t, "alice")
	assert.NotEmpty(t, id)

	dup := s.do(t, http.MethodPost, "/api/auth/signup", "", map[string]any{
		"username": "alice", "email": "other@example.com", "password": "x",
	})
	assert.Equal(t, http.StatusConflict, dup.status)

	bad := s.do(t, http.MethodPost, "/api/auth/signup", "", map[string]any{
		"username": "bob", "email": "not-an-email", "password": "x",
	})
	assert.Equal(t, http.StatusBadRequest, bad.status)

	login := s.do(t, http.MethodPost, "/api/auth/login", "", map[string]any{"username": "alice", "password": "hunter22"})
	require.Equal(t, http.StatusOK, login.status)
	assert.NotEmpty(t, login.body["token"])

	wrong := s.do(t, http.MethodPost, "/api/auth/login", "", map[string]any{"username": "alice", "password": "nope"})
	assert.Equal(t, http.StatusUnauthorized, wrong.status)
	unknown := s.do(t, http.MethodPost, "/api/auth/login", "", map[string]any{"username": "nobody", "password": "nope"})
	assert.Equal(t, http.StatusUnauthorized, unknown.status)

	me := s.do(t, http.MethodGet, "/api/auth/me", token, nil)
	require.Equal(t, http.StatusOK, me.status)
	assert.Equal(t, id, me.body["user"].(map[string]any)["id"])
	_, leaked := me.body["user"].(map[string]any)["password"]
	assert.False(t, leaked)
}

func TestProtectedRoutes(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, nil)
	aliceID, aliceToken := s.signup(t, "alice")
	_, bobToken := s.signup(t, "bob")

	r := s.do(t, http.MethodGet, "/api/papertrade/history/"+aliceID, "", nil)
	assert.Equal(t, http.StatusUnauthorized, r.status)

	r = s.do(t, http.MethodGet, "/api/papertrade/history/"+aliceID, "garbage", nil)
	assert.Equal(t, http.StatusUnauthorized, r.status)

	for _, path := range []string{"history", "performance", "valuation"} {
		r = s.do(t, http.MethodGet, "/api/papertrade/"+path+"/"+aliceID, bobToken, nil)
		assert.Equal(t, http.StatusForbidden, r.status, path)
		assert.Equal(t, "You can only access your own account", r.body["error"])
	}

	r = s.do(t, http.MethodPost, "/api/papertrade/trade", bobToken, map[string]any{
		"userId": aliceID, "symbol": "AAPL", "qty": 1, "price": 200, "side": "buy",
	})
	assert.Equal(t, http.StatusForbidden, r.status)

	r = s.do(t, http.MethodGet, "/api/papertrade/history/"+aliceID, aliceToken, nil)
	assert.Equal(t, http.StatusOK, r.status)
}

func TestTradeLifecycle(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, nil)
	id, token := s.signup(t, "alice")

	buy := s.do(t, http.MethodPost, "/api/papertrade/trade", token, map[string]any{
		"userId": id, "symbol": "aapl", "qty": 10, "price": 195, "side": "buy",
	})
	require.Equal(t, http.StatusOK, buy.status, buy.body)
	assert.Equal(t, true, buy.body["success"])
	assert.Equal(t, "Successfully bought 10 shares of AAPL", buy.body["message"])
	trade := buy.body["trade"].(map[string]any)
	assert.Equal(t, "AAPL", trade["symbol"])
	assert.EqualValues(t, 10, trade["quantity"])
	assert.EqualValues(t, 195, trade["price"])

	// user_id alias, and the token's user when no id is given
	sell := s.do(t, http.MethodPost, "/api/papertrade/trade", token, map[string]any{
		"user_id": id, "symbol": "AAPL", "qty": 4, "price": 205, "side": "SELL",
	})
	require.Equal(t, http.StatusOK, sell.status, sell.body)
	assert.Equal(t, "Successfully sold 4 shares of AAPL", sell.body["message"])

	market := s.do(t, http.MethodPost, "/api/papertrade/trade", token, map[string]any{
		"symbol": "AAPL", "qty": 1, "side": "buy", "useMarketPrice": true,
	})
	require.Equal(t, http.StatusOK, market.status, market.body)
	assert.EqualValues(t, 200, market.body["trade"].(map[string]any)["price"])

	perf := s.do(t, http.MethodGet, "/api/papertrade/performance/"+id, token, nil)
	require.Equal(t, http.StatusOK, perf.status)
	// 100000 - 1950 + 820 - 200
	assert.EqualValues(t, 98670, perf.body["balance"])
	assert.EqualValues(t, 7, perf.body["positions"].(map[string]any)["AAPL"])
	assert.Equal(t, id, perf.body["userId"])

	hist := s.do(t, http.MethodGet, "/api/papertrade/history/"+id, token, nil)
	require.Equal(t, http.StatusOK, hist.status)
	history := hist.body["history"].([]any)
	require.Len(t, history, 3)
	assert.Equal(t, "buy", history[0].(map[string]any)["side"])
	assert.EqualValues(t, 200, history[0].(map[string]any)["price"])
	assert.Equal(t, "sell", history[1].(map[string]any)["side"])
	assert.EqualValues(t, 195, history[2].(map[string]any)["price"])

	val := s.do(t, http.MethodGet, "/api/papertrade/valuation/"+id, token, nil)
	require.Equal(t, http.StatusOK, val.status)
	v := val.body["valuation"].(map[string]any)
	assert.Equal(t, true, v["complete"])
	assert.EqualValues(t, 98670+7*200, v["equity"])
}

func TestTradeRejections(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, nil)
	id, token := s.signup(t, "alice")

	tests := []struct {
		name string
		body map[string]any
		msg  string
	}{
		{"missing symbol", map[string]any{"userId": id, "qty": 1, "price": 200, "side": "buy"}, "Missing required fields"},
		{"negative qty", map[string]any{"userId": id, "symbol": "AAPL", "qty": -1, "price": 200, "side": "buy"}, "Quantity and price must be positive numbers"},
		{"bad side", map[string]any{"userId": id, "symbol": "AAPL", "qty": 1, "price": 200, "side": "hold"}, "Side must be buy or sell"},
		{"outside band", map[string]any{"userId": id, "symbol": "AAPL", "qty": 1, "price": 150, "side": "buy"}, "Price must be within ±10% of current price (180.00 - 220.00)"},
		{"no shares", map[string]any{"userId": id, "symbol": "AAPL", "qty": 1, "price": 200, "side": "sell"}, "Not enough shares to sell. You have 0 AAPL shares."},
		{"no funds", map[string]any{"userId": id, "symbol": "AAPL", "qty": 1000, "price": 200, "side": "buy"}, "Insufficient funds. Required: $200,000.00, Available: $100,000.00"},
	}
	for _, tt := range tests {
		r := s.do(t, http.MethodPost, "/api/papertrade/trade", token, tt.body)
		assert.Equal(t, http.StatusBadRequest, r.status, tt.name)
		assert.Equal(t, false, r.body["success"], tt.name)
		assert.Equal(t, tt.msg, r.body["error"], tt.name)
	}

	hist := s.do(t, http.MethodGet, "/api/papertrade/history/"+id, token, nil)
	assert.Empty(t, hist.body["history"])
}

func TestMarketDataDown(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, downProvider{})
	id, token := s.signup(t, "alice")

	r := s.do(t, http.MethodPost, "/api/papertrade/trade", token, map[string]any{
		"symbol": "AAPL", "qty": 1, "side": "buy", "useMarketPrice": true,
	})
	assert.Equal(t, http.StatusServiceUnavailable, r.status)

	// An explicit price still trades when the band cannot be checked.
	r = s.do(t, http.MethodPost, "/api/papertrade/trade", token, map[string]any{
		"symbol": "AAPL", "qty": 1, "price": 50, "side": "buy",
	})
	assert.Equal(t, http.StatusOK, r.status, r.body)

	r = s.do(t, http.MethodGet, "/api/market/quote/AAPL", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, r.status)

	r = s.do(t, http.MethodGet, "/api/papertrade/valuation/"+id, token, nil)
	require.Equal(t, http.StatusOK, r.status)
	v := r.body["valuation"].(map[string]any)
	assert.Equal(t, false, v["complete"])
}

func TestInvalidOrderRejectedBeforeMarketLookup(t *testing.T) {
	t.Parallel()
	prices := &countingDown{}
	s := newTestServer(t, prices)
	_, token := s.signup(t, "alice")

	tests := []struct {
		name string
		body map[string]any
		msg  string
	}{
		{"market zero qty", map[string]any{"symbol": "AAPL", "qty": 0, "side": "buy", "useMarketPrice": true}, "Missing required fields"},
		{"market bad side", map[string]any{"symbol": "AAPL", "qty": 1, "side": "hold", "useMarketPrice": true}, "Side must be buy or sell"},
		{"market both", map[string]any{"symbol": "AAPL", "qty": 0, "side": "hold", "useMarketPrice": true}, "Missing required fields"},
		{"market negative qty", map[string]any{"symbol": "AAPL", "qty": -2, "side": "sell", "useMarketPrice": true}, "Quantity and price must be positive numbers"},
		{"banded zero qty", map[string]any{"symbol": "AAPL", "qty": 0, "price": 200, "side": "buy"}, "Missing required fields"},
		{"banded bad side", map[string]any{"symbol": "AAPL", "qty": 1, "price": 200, "side": "hold"}, "Side must be buy or sell"},
		{"banded no price", map[string]any{"symbol": "AAPL", "qty": 1, "side": "buy"}, "Missing required fields"},
	}
	for _, tt := range tests {
		r := s.do(t, http.MethodPost, "/api/papertrade/trade", token, tt.body)
		assert.Equal(t, http.StatusBadRequest, r.status, tt.name)
		assert.Equal(t, tt.msg, r.body["error"], tt.name)
	}
	assert.Zero(t, prices.lookups.Load())

	// A well-formed market order still reaches the provider.
	r := s.do(t, http.MethodPost, "/api/papertrade/trade", token, map[string]any{
		"symbol": "AAPL", "qty": 1, "side": "buy", "useMarketPrice": true,
	})
	assert.Equal(t, http.StatusServiceUnavailable, r.status)
	assert.EqualValues(t, 1, prices.lookups.Load())
}

func TestAddFunds(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, nil)
	id, token := s.signup(t, "alice")

	r := s.do(t, http.MethodPost, "/api/papertrade/add-funds", token, map[string]any{"userId": id, "amount": 2500.5})
	require.Equal(t, http.StatusOK, r.status, r.body)
	assert.EqualValues(t, 102500.5, r.body["newBalance"])

	r = s.do(t, http.MethodPost, "/api/papertrade/add-funds", token, map[string]any{"amount": -5})
	assert.Equal(t, http.StatusBadRequest, r.status)
}

func TestBacktestRoute(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, nil)

	r := s.do(t, http.MethodPost, "/api/papertrade/backtest", "", map[string]any{
		"prices": []any{100, 105, "oops", 95, 100},
	})
	require.Equal(t, http.StatusOK, r.status, r.body)
	assert.EqualValues(t, 1000000, r.body["initial_balance"])
	assert.EqualValues(t, 999990, r.body["final_balance"])
	assert.EqualValues(t, -10, r.body["profit"])

	r = s.do(t, http.MethodPost, "/api/papertrade/backtest", "", map[string]any{
		"prices": []any{100, 105, 95, 100}, "initial_balance": 1000,
	})
	require.Equal(t, http.StatusOK, r.status)
	assert.EqualValues(t, 990, r.body["final_balance"])

	r = s.do(t, http.MethodPost, "/api/papertrade/backtest", "", map[string]any{"prices": []any{100}})
	assert.Equal(t, http.StatusBadRequest, r.status)
	assert.NotEmpty(t, r.body["error"])

	r = s.do(t, http.MethodPost, "/api/papertrade/backtest", "", map[string]any{"symbol": "AAPL", "period": "6m"})
	require.Equal(t, http.StatusOK, r.status, r.body)
	assert.EqualValues(t, 1000000, r.body["initial_balance"])

	r = s.do(t, http.MethodPost, "/api/papertrade/backtest", "", map[string]any{"symbol": "AAPL", "period": "2w"})
	assert.Equal(t, http.StatusBadRequest, r.status)
}

func TestMarketRoutes(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, nil)

	r := s.do(t, http.MethodGet, "/api/market/quote/aapl", "", nil)
	require.Equal(t, http.StatusOK, r.status)
	assert.Equal(t, "AAPL", r.body["symbol"])
	assert.EqualValues(t, 200, r.body["price"])
	assert.Equal(t, "sim", r.body["provider"])

	r = s.do(t, http.MethodGet, "/api/market/history/AAPL", "", nil)
	require.Equal(t, http.StatusOK, r.status)
	assert.Equal(t, "1m", r.body["period"])
	assert.NotEmpty(t, r.body["closes"])

	r = s.do(t, http.MethodGet, "/api/market/history/AAPL?period=forever", "", nil)
	assert.Equal(t, http.StatusBadRequest, r.status)
}

func TestFeedRequiresUpgrade(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, nil)
	r := s.do(t, http.MethodGet, "/ws/feed", "", nil)
	assert.Equal(t, http.StatusUpgradeRequired, r.status)

	r = s.do(t, http.MethodGet, "/api/nowhere", "", nil)
	assert.Equal(t, http.StatusNotFound, r.status)
	assert.Equal(t, false, r.body["success"])
}

package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/betbot/dexclient/internal/risk"
	"github.com/betbot/dexclient/internal/trading"
	"github.com/betbot/dexclient/pkg/aggregator"
	"github.com/betbot/dexclient/pkg/chain"
	"github.com/betbot/dexclient/pkg/matching"
)

var testMarket = matching.Market{ID: "ubze/uusdc", Base: "ubze", Quote: "uusdc", BaseExponent: 6, QuoteExponent: 6}

type fakeChain struct{}

func (fakeChain) OrderBook(ctx context.Context, marketID string) (matching.Book, error) {
	return matching.Book{
		MarketID: marketID,
		Buys:     []matching.AggregatedOrder{{Price: "0.9", Amount: "1000000", OrderType: matching.SideBuy}},
		Sells: []matching.AggregatedOrder{
			{Price: "1.1", Amount: "2000000", OrderType: matching.SideSell},
			{Price: "1.2", Amount: "2000000", OrderType: matching.SideSell},
		},
	}, nil
}

func (fakeChain) TradingMarket(ctx context.Context, marketID string) (matching.Market, error) {
	if marketID != testMarket.ID {
		return matching.Market{}, errors.New("market not found")
	}
	return testMarket, nil
}

func (fakeChain) Markets(ctx context.Context) ([]chain.MarketInfo, error) {
	return []chain.MarketInfo{{Base: "ubze", Quote: "uusdc"}}, nil
}

func (fakeChain) MarketHistory(ctx context.Context, marketID string, limit int) ([]chain.HistoryOrder, error) {
	return []chain.HistoryOrder{{MarketID: marketID, OrderType: matching.SideBuy, Amount: "1", Price: "1"}}, nil
}

type fakePrices struct{}

func (fakePrices) Prices(ctx context.Context) ([]aggregator.Price, error) {
	return []aggregator.Price{{Denom: "ubze", Price: decimal.RequireFromString("0.001")}}, nil
}

func (fakePrices) Tickers(ctx context.Context) ([]aggregator.Ticker, error) {
	return []aggregator.Ticker{{MarketID: "ubze/uusdc"}}, nil
}

func (fakePrices) History(ctx context.Context, marketID string, chart aggregator.Chart, limit int) ([]aggregator.Candle, error) {
	return []aggregator.Candle{{Time: 1}}, nil
}

type okBroadcaster struct{}

func (okBroadcaster) Broadcast(ctx context.Context, msgs []trading.Msg) (trading.TxResult, error) {
	return trading.TxResult{Succeeded: true, TxHash: "HASH"}, nil
}

func newTestServer(t *testing.T, opts ...trading.Option) http.Handler {
	t.Helper()
	svc := trading.NewService(fakeChain{}, trading.Config{Creator: "bze1me"}, opts...)
	s, err := New(Config{}, svc, fakeChain{}, fakePrices{})
	require.NoError(t, err)
	return s.Router()
}

func do(t *testing.T, h http.Handler, method, target, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	var out map[string]any
	_ = json.Unmarshal(rec.Body.Bytes(), &out)
	return rec, out
}

func marketPath(suffix string) string {
	return "/api/markets/" + url.PathEscape(testMarket.ID) + suffix
}

func TestHealthz(t *testing.T) {
	rec, _ := do(t, newTestServer(t), http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestBook(t *testing.T) {
	rec, body := do(t, newTestServer(t), http.MethodGet, marketPath("/book?depth=1"), "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "0.9", body["best_bid"])
	assert.Equal(t, "1.1", body["best_ask"])
	assert.Equal(t, "0.2", body["spread"])
	assert.Len(t, body["sells"], 1)

	rec, _ = do(t, newTestServer(t), http.MethodGet, "/api/markets/"+url.PathEscape("x/y")+"/book", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPreview(t *testing.T) {
	h := newTestServer(t)

	rec, body := do(t, h, http.MethodPost, marketPath("/preview"), `{"side":"buy","price":"1.15","amount":"3"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "1", body["remainder"])
	assert.Len(t, body["actions"], 2)

	// 总额 + 价格推导数量
	rec, body = do(t, h, http.MethodPost, marketPath("/preview"), `{"side":"sell","price":"2","total":"4"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "2", body["amount"])

	rec, body = do(t, h, http.MethodPost, marketPath("/preview"), `{"side":"buy","amount":"100","market":true}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.NotNil(t, body["rejected"])

	rec, _ = do(t, h, http.MethodPost, marketPath("/preview"), `{"side":"hold"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSubmit(t *testing.T) {
	rec, _ := do(t, newTestServer(t), http.MethodPost, marketPath("/orders"), `{"side":"buy","price":"1","amount":"1"}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	j, err := trading.OpenJournal(filepath.Join(t.TempDir(), "j.db"))
	require.NoError(t, err)
	defer j.Close()
	h := newTestServer(t, trading.WithBroadcaster(okBroadcaster{}), trading.WithJournal(j))

	rec, body := do(t, h, http.MethodPost, marketPath("/orders"), `{"side":"buy","price":"1","amount":"1"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	result := body["result"].(map[string]any)
	assert.Equal(t, true, result["succeeded"])
	assert.NotEmpty(t, result["journal_id"])

	req := httptest.NewRequest(http.MethodGet, "/api/journal?market="+url.QueryEscape(testMarket.ID), nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	var entries []trading.Entry
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, trading.StatusSucceeded, entries[0].Status)
}

func TestSubmitBreakerOpen(t *testing.T) {
	cb := risk.NewCircuitBreaker(risk.CircuitBreakerConfig{MaxConsecutiveFailures: 1})
	cb.Halt()
	h := newTestServer(t, trading.WithBroadcaster(okBroadcaster{}), trading.WithCircuitBreaker(cb))

	rec, body := do(t, h, http.MethodPost, marketPath("/orders"), `{"side":"sell","price":"2","amount":"1"}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, body["error"], "circuit breaker")
}

func TestConvert(t *testing.T) {
	h := newTestServer(t)

	rec, body := do(t, h, http.MethodGet, "/api/convert/amount?value=1500000&exponent=6", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "1.5", body["value"])

	_, body = do(t, h, http.MethodGet, "/api/convert/amount?value=1.5&to=micro", "")
	assert.Equal(t, "1500000", body["value"])

	_, body = do(t, h, http.MethodGet, "/api/convert/price?value=0.000001&quote_exponent=6&base_exponent=0&to=micro", "")
	assert.NotEmpty(t, body["value"])

	rec, _ = do(t, h, http.MethodGet, "/api/convert/amount?value=abc", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec, _ = do(t, h, http.MethodGet, "/api/convert/price?value=1&to=sideways", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMarketsAndAggregator(t *testing.T) {
	h := newTestServer(t)
	for _, path := range []string{"/api/markets", "/api/prices", "/api/tickers", marketPath("/history"), marketPath("/candles?chart=4H")} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}
}

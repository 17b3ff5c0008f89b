package polymarket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func newTestClient(t *testing.T, marketsURL, tradesURL string) *Client {
	t.Helper()
	return NewClient(marketsURL, tradesURL, 5*time.Second, zap.NewNop())
}

func serve(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		w.Write([]byte(body))
	}))
	t.Cleanup(server.Close)
	return server
}

func TestFetchMarketsBareArray(t *testing.T) {
	server := serve(t, http.StatusOK, `[
		{"conditionId": "0xcond", "question": "Will it happen?", "category": "politics", "status": "active"},
		{"slug": "some-market", "name": "Fallback name"},
		{"question": "no usable id"}
	]`)
	client := newTestClient(t, server.URL, server.URL)

	markets, err := client.FetchMarkets(context.Background())
	if err != nil {
		t.Fatalf("FetchMarkets: %v", err)
	}
	if len(markets) != 2 {
		t.Fatalf("markets = %d, want 2 (id-less entry dropped)", len(markets))
	}
	if markets[0].ExternalID != "0xcond" || markets[0].Name != "Will it happen?" {
		t.Errorf("first market = %+v", markets[0])
	}
	if markets[0].Category == nil || *markets[0].Category != "politics" {
		t.Errorf("category = %v", markets[0].Category)
	}
	if markets[1].ExternalID != "some-market" || markets[1].Name != "Fallback name" {
		t.Errorf("second market = %+v", markets[1])
	}
	if markets[1].Status != "active" {
		t.Errorf("status = %q, want default active", markets[1].Status)
	}
}

func TestFetchMarketsWrappedPayload(t *testing.T) {
	server := serve(t, http.StatusOK, `{"markets": [
		{"condition_id": "0xwrapped", "title": "Wrapped", "resolvedAt": "2026-08-20T10:00:00Z", "status": "resolved"}
	]}`)
	client := newTestClient(t, server.URL, server.URL)

	markets, err := client.FetchMarkets(context.Background())
	if err != nil {
		t.Fatalf("FetchMarkets: %v", err)
	}
	if len(markets) != 1 {
		t.Fatalf("markets = %d, want 1", len(markets))
	}
	m := markets[0]
	if m.ExternalID != "0xwrapped" || m.Status != "resolved" {
		t.Errorf("market = %+v", m)
	}
	want := time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC)
	if m.ResolvedAt == nil || !m.ResolvedAt.Equal(want) {
		t.Errorf("resolved_at = %v, want %v", m.ResolvedAt, want)
	}
}

func TestFetchMarketsIDPrecedence(t *testing.T) {
	server := serve(t, http.StatusOK, `[
		{"id": "lower", "slug": "middle", "conditionId": "winner", "question": "q"}
	]`)
	client := newTestClient(t, server.URL, server.URL)

	markets, err := client.FetchMarkets(context.Background())
	if err != nil {
		t.Fatalf("FetchMarkets: %v", err)
	}
	if len(markets) != 1 || markets[0].ExternalID != "winner" {
		t.Errorf("markets = %+v, want conditionId to win", markets)
	}
}

func TestFetchRecentTradesNormalization(t *testing.T) {
	server := serve(t, http.StatusOK, `{"trades": [
		{"proxyWallet": "0xabc", "side": "BUY", "size": "100", "price": "0.55", "timestamp": 1756036800, "transactionHash": "0xhash"},
		{"wallet_address": "0xdef", "type": "sell", "amount": 50, "fill_price": 0.4, "traded_at": "2026-08-24T12:00:00Z"},
		{"side": "buy", "size": "10", "timestamp": 1756036800},
		{"proxyWallet": "0xghi", "size": "10", "price": "0.5"}
	]}`)
	client := newTestClient(t, server.URL, server.URL)

	trades, err := client.FetchRecentTrades(context.Background(), "0xcond", nil)
	if err != nil {
		t.Fatalf("FetchRecentTrades: %v", err)
	}
	if len(trades) != 2 {
		t.Fatalf("trades = %d, want 2 (no wallet and no timestamp dropped)", len(trades))
	}

	first := trades[0]
	if first.MarketExternalID != "0xcond" || first.WalletAddress != "0xabc" {
		t.Errorf("first trade = %+v", first)
	}
	if first.Side != "buy" {
		t.Errorf("side = %q, want lower-cased buy", first.Side)
	}
	if !first.Shares.Equal(dec("100")) || !first.Price.Equal(dec("0.55")) {
		t.Errorf("size = %s @ %s", first.Shares, first.Price)
	}
	if !first.TradedAt.Equal(time.Unix(1756036800, 0).UTC()) {
		t.Errorf("traded_at = %v", first.TradedAt)
	}
	if first.TradeHash == nil || *first.TradeHash != "0xhash" {
		t.Errorf("hash = %v", first.TradeHash)
	}

	second := trades[1]
	if second.WalletAddress != "0xdef" || second.Side != "sell" {
		t.Errorf("second trade = %+v", second)
	}
	if !second.Shares.Equal(dec("50")) || !second.Price.Equal(dec("0.4")) {
		t.Errorf("size = %s @ %s", second.Shares, second.Price)
	}
	if !second.TradedAt.Equal(time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)) {
		t.Errorf("traded_at = %v", second.TradedAt)
	}
}

func TestFetchRecentTradesMillisecondTimestamps(t *testing.T) {
	server := serve(t, http.StatusOK, `[
		{"wallet": "0xms", "side": "buy", "shares": "5", "price": "0.3", "timestamp": 1756036800000}
	]`)
	client := newTestClient(t, server.URL, server.URL)

	trades, err := client.FetchRecentTrades(context.Background(), "0xcond", nil)
	if err != nil {
		t.Fatalf("FetchRecentTrades: %v", err)
	}
	if len(trades) != 1 {
		t.Fatalf("trades = %d, want 1", len(trades))
	}
	if !trades[0].TradedAt.Equal(time.Unix(1756036800, 0).UTC()) {
		t.Errorf("traded_at = %v, want ms value read as seconds", trades[0].TradedAt)
	}
}

func TestFetchRecentTradesQueryParams(t *testing.T) {
	var gotQuery string
	var gotAgent string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		gotAgent = r.Header.Get("User-Agent")
		w.Write([]byte(`[]`))
	}))
	t.Cleanup(server.Close)
	client := newTestClient(t, server.URL, server.URL)

	since := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	if _, err := client.FetchRecentTrades(context.Background(), "0xcond", &since); err != nil {
		t.Fatalf("FetchRecentTrades: %v", err)
	}
	if gotQuery != "asset=0xcond&startTime=1787572800000" {
		t.Errorf("query = %q", gotQuery)
	}
	if gotAgent != "polymarket-watch/0.1" {
		t.Errorf("user agent = %q", gotAgent)
	}
}

func TestFetchRecentTradesNotFound(t *testing.T) {
	server := serve(t, http.StatusNotFound, `{"error": "no data"}`)
	client := newTestClient(t, server.URL, server.URL)

	trades, err := client.FetchRecentTrades(context.Background(), "0xmissing", nil)
	if err != nil {
		t.Errorf("404 must not be an error, got %v", err)
	}
	if len(trades) != 0 {
		t.Errorf("trades = %d, want 0", len(trades))
	}
}

func TestFetchMarketsServerError(t *testing.T) {
	server := serve(t, http.StatusInternalServerError, `boom`)
	client := newTestClient(t, server.URL, server.URL)

	if _, err := client.FetchMarkets(context.Background()); err == nil {
		t.Error("500 must surface as an error")
	}
}

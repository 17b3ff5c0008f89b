package polymarket

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const userAgent = "polymarket-watch/0.1"

// Market is a normalized market record from the markets feed.
type Market struct {
	ExternalID string
	Name       string
	Category   *string
	Status     string
	ResolvedAt *time.Time
}

// Trade is a normalized trade record from the trades feed.
type Trade struct {
	MarketExternalID string
	WalletAddress    string
	Side             string
	Shares           decimal.Decimal
	Price            decimal.Decimal
	TradedAt         time.Time
	TradeHash        *string
}

// Client fetches markets and trades over HTTP. Upstream feeds are loose
// about field names and timestamp formats, so all normalization lives
// here: the rest of the pipeline only ever sees the two structs above.
type Client struct {
	httpClient *http.Client
	marketsURL string
	tradesURL  string
	logger     *zap.Logger
}

// NewClient creates a feed client.
func NewClient(marketsURL, tradesURL string, timeout time.Duration, logger *zap.Logger) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		marketsURL: marketsURL,
		tradesURL:  tradesURL,
		logger:     logger,
	}
}

func (c *Client) getJSON(ctx context.Context, rawURL string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, err
	}
	return body, resp.StatusCode, nil
}

// decodeList accepts either a bare JSON array or an object wrapping the
// array under the given key.
func decodeList(body []byte, wrapperKey string) ([]map[string]interface{}, error) {
	dec := json.NewDecoder(strings.NewReader(string(body)))
	dec.UseNumber()

	var raw interface{}
	if err := dec.Decode(&raw); err != nil {
		return nil, err
	}

	var items []interface{}
	switch v := raw.(type) {
	case []interface{}:
		items = v
	case map[string]interface{}:
		inner, ok := v[wrapperKey].([]interface{})
		if !ok {
			return nil, nil
		}
		items = inner
	case nil:
		return nil, nil
	default:
		return nil, fmt.Errorf("unexpected payload type %T", raw)
	}

	out := make([]map[string]interface{}, 0, len(items))
	for _, item := range items {
		if m, ok := item.(map[string]interface{}); ok {
			out = append(out, m)
		}
	}
	return out, nil
}

// pick returns the first non-empty value among the candidate keys.
func pick(item map[string]interface{}, keys ...string) interface{} {
	for _, key := range keys {
		v, ok := item[key]
		if !ok || v == nil {
			continue
		}
		if s, isStr := v.(string); isStr && s == "" {
			continue
		}
		return v
	}
	return nil
}

func asString(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case json.Number:
		return t.String()
	default:
		return fmt.Sprintf("%v", t)
	}
}

// parseTimestamp accepts RFC 3339 strings, Unix seconds, or Unix
// milliseconds (values above 1e10 are taken as milliseconds).
func parseTimestamp(v interface{}) *time.Time {
	s := asString(v)
	if s == "" {
		return nil
	}
	if n, err := strconv.ParseFloat(s, 64); err == nil {
		if n > 10_000_000_000 {
			n /= 1000
		}
		sec := int64(n)
		nsec := int64((n - float64(sec)) * 1e9)
		ts := time.Unix(sec, nsec).UTC()
		return &ts
	}
	if ts, err := time.Parse(time.RFC3339, s); err == nil {
		ts = ts.UTC()
		return &ts
	}
	if ts, err := time.Parse("2006-01-02T15:04:05", s); err == nil {
		ts = ts.UTC()
		return &ts
	}
	return nil
}

func parseDecimal(v interface{}) decimal.Decimal {
	s := asString(v)
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// FetchMarkets retrieves and normalizes the market list. Entries without
// a usable external id are dropped.
func (c *Client) FetchMarkets(ctx context.Context) ([]Market, error) {
	body, status, err := c.getJSON(ctx, c.marketsURL)
	if err != nil {
		return nil, fmt.Errorf("FetchMarkets: %w", err)
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("FetchMarkets: status %d", status)
	}

	items, err := decodeList(body, "markets")
	if err != nil {
		return nil, fmt.Errorf("FetchMarkets: %w", err)
	}

	markets := make([]Market, 0, len(items))
	for _, item := range items {
		externalID := asString(pick(item, "conditionId", "condition_id", "slug", "id", "marketId", "address", "uuid"))
		if externalID == "" {
			continue
		}
		m := Market{
			ExternalID: externalID,
			Name:       asString(pick(item, "question", "name", "title")),
			Status:     asString(pick(item, "status")),
			ResolvedAt: parseTimestamp(pick(item, "resolved_at", "resolvedAt", "resolutionTime", "closed_time")),
		}
		if m.Status == "" {
			m.Status = "active"
		}
		if category := asString(pick(item, "category")); category != "" {
			m.Category = &category
		}
		markets = append(markets, m)
	}
	return markets, nil
}

// FetchRecentTrades retrieves trades for one market, optionally from a
// start time (sent as Unix milliseconds). A 404 means the feed has
// nothing for this market and yields an empty slice, not an error.
// Trades missing a wallet or timestamp are dropped.
func (c *Client) FetchRecentTrades(ctx context.Context, marketExternalID string, since *time.Time) ([]Trade, error) {
	u, err := url.Parse(c.tradesURL)
	if err != nil {
		return nil, fmt.Errorf("FetchRecentTrades: %w", err)
	}
	q := u.Query()
	q.Set("asset", marketExternalID)
	if since != nil {
		q.Set("startTime", strconv.FormatInt(since.UnixMilli(), 10))
	}
	u.RawQuery = q.Encode()

	body, status, err := c.getJSON(ctx, u.String())
	if err != nil {
		return nil, fmt.Errorf("FetchRecentTrades: %w", err)
	}
	if status == http.StatusNotFound {
		return nil, nil
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("FetchRecentTrades: status %d", status)
	}

	items, err := decodeList(body, "trades")
	if err != nil {
		return nil, fmt.Errorf("FetchRecentTrades: %w", err)
	}

	trades := make([]Trade, 0, len(items))
	for _, item := range items {
		tradedAt := parseTimestamp(pick(item, "timestamp", "traded_at", "created_at", "time"))
		wallet := asString(pick(item, "proxyWallet", "wallet", "wallet_address", "address"))
		if wallet == "" || tradedAt == nil {
			continue
		}
		side := strings.ToLower(asString(pick(item, "side", "type")))
		if side == "" {
			side = "unknown"
		}
		t := Trade{
			MarketExternalID: marketExternalID,
			WalletAddress:    wallet,
			Side:             side,
			Shares:           parseDecimal(pick(item, "shares", "amount", "size")),
			Price:            parseDecimal(pick(item, "price", "fill_price", "avg_price")),
			TradedAt:         *tradedAt,
		}
		if hash := asString(pick(item, "transactionHash", "hash", "id", "txid")); hash != "" {
			t.TradeHash = &hash
		}
		trades = append(trades, t)
	}
	return trades, nil
}

// Package models defines the data models shared by every worker in the
// polymarket-watch surveillance pipeline.
//
// All timestamps are timezone-aware UTC. All monetary quantities (shares,
// prices, notionals, deltas, scores) are fixed-point decimals; detectors
// compare against literal thresholds, so binary floats never appear here.
//
// Models live in their own package to avoid circular imports between the
// database facade and the per-entity repositories.
package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Market statuses as reported by the upstream index.
const (
	MarketStatusActive   = "active"
	MarketStatusResolved = "resolved"
	MarketStatusClosed   = "closed"
	MarketStatusInactive = "inactive"
)

// Trade sides. Always lower-cased at the ingestion boundary.
const (
	SideBuy  = "buy"
	SideSell = "sell"
)

// Signal types emitted by the detectors.
const (
	SignalFreshWalletBigSize = "FRESH_WALLET_BIG_SIZE"
	SignalLowActivityBigSize = "LOW_ACTIVITY_WALLET_BIG_SIZE"
	SignalRepeatEntries      = "REPEAT_ENTRIES"
	SignalThinMarketImpact   = "THIN_MARKET_IMPACT"
	SignalClustering         = "CLUSTERING"
	SignalEarlyPositioning   = "EARLY_POSITIONING"
)

// Signal severities.
const (
	SeverityLow    = "low"
	SeverityMedium = "medium"
	SeverityHigh   = "high"
)

// Alert statuses.
const (
	AlertStatusWatch = "watch"
	AlertStatusHigh  = "high"
)

// EventTypeScoring is the event_type of alerts produced by the scoring
// aggregator; part of the alert's composite identity.
const EventTypeScoring = "scoring"

// Healthcheck is a write-probe row inserted at startup after migration.
type Healthcheck struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	CreatedAt time.Time `gorm:"autoCreateTime;not null" json:"created_at"`
}

// TableName specifies the table name for Healthcheck
func (Healthcheck) TableName() string {
	return "healthchecks"
}

// Market is an event being bet on. Created on first sighting by the
// ingestion worker; mutated only by its upsert; never deleted.
type Market struct {
	ID         int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	ExternalID string     `gorm:"size:128;uniqueIndex;not null" json:"external_id"`
	Name       string     `gorm:"size:255;not null" json:"name"`
	Category   *string    `gorm:"size:100" json:"category,omitempty"`
	Status     string     `gorm:"size:50;index;default:active;not null" json:"status"`
	ResolvedAt *time.Time `gorm:"index" json:"resolved_at,omitempty"`
	CreatedAt  time.Time  `gorm:"autoCreateTime;not null" json:"created_at"`
	UpdatedAt  time.Time  `gorm:"autoUpdateTime;not null" json:"updated_at"`
}

// TableName specifies the table name for Market
func (Market) TableName() string {
	return "markets"
}

// Trade is a single fill on a market: one wallet, one side, one price,
// one size, one timestamp. Append-only; identity for deduplication is the
// composite (market, wallet, traded_at, side, shares, price) with the
// upstream hash as a secondary unique index when present.
type Trade struct {
	ID            int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	MarketID      int64           `gorm:"index:ix_trades_market_time,priority:1;uniqueIndex:uq_trades_dedupe,priority:1;not null" json:"market_id"`
	WalletAddress string          `gorm:"size:128;index:ix_trades_wallet_time,priority:1;uniqueIndex:uq_trades_dedupe,priority:2;not null" json:"wallet_address"`
	Side          string          `gorm:"size:16;uniqueIndex:uq_trades_dedupe,priority:4;not null" json:"side"`
	Shares        decimal.Decimal `gorm:"type:decimal(24,8);uniqueIndex:uq_trades_dedupe,priority:5;not null" json:"shares"`
	Price         decimal.Decimal `gorm:"type:decimal(24,8);uniqueIndex:uq_trades_dedupe,priority:6;not null" json:"price"`
	TradedAt      time.Time       `gorm:"index;index:ix_trades_market_time,priority:2;index:ix_trades_wallet_time,priority:2;uniqueIndex:uq_trades_dedupe,priority:3;not null" json:"traded_at"`
	TradeHash     *string         `gorm:"size:128;uniqueIndex" json:"trade_hash,omitempty"`
	CreatedAt     time.Time       `gorm:"autoCreateTime;not null" json:"created_at"`
}

// TableName specifies the table name for Trade
func (Trade) TableName() string {
	return "trades"
}

// Notional returns shares × price, the dollar-equivalent exposure.
func (t *Trade) Notional() decimal.Decimal {
	return t.Shares.Mul(t.Price)
}

// SignalEvent is a detector emission. Append-only, keyed only by
// surrogate id. DetailsJSON carries the free-form explanation blob
// through to the notifier; it is read but never queried.
type SignalEvent struct {
	ID            int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	MarketID      int64           `gorm:"index:ix_signal_events_market_created,priority:1;not null" json:"market_id"`
	WalletAddress *string         `gorm:"size:128;index" json:"wallet_address,omitempty"`
	Side          *string         `gorm:"size:16" json:"side,omitempty"`
	SignalType    string          `gorm:"size:64;not null" json:"signal_type"`
	Severity      string          `gorm:"size:32" json:"severity"`
	Score         decimal.Decimal `gorm:"type:decimal(12,4)" json:"score"`
	DetailsJSON   string          `gorm:"type:jsonb" json:"details_json,omitempty"`
	ObservedAt    *time.Time      `gorm:"index" json:"observed_at,omitempty"`
	CreatedAt     time.Time       `gorm:"autoCreateTime;index:ix_signal_events_market_created,priority:2;not null" json:"created_at"`
}

// TableName specifies the table name for SignalEvent
func (SignalEvent) TableName() string {
	return "signal_events"
}

// At returns the timestamp the signal should be ordered by: observed_at
// when present, created_at otherwise.
func (s *SignalEvent) At() time.Time {
	if s.ObservedAt != nil {
		return *s.ObservedAt
	}
	return s.CreatedAt
}

// Alert is the scored, deduplicated aggregation of recent signals for a
// (market, side). At most one row exists per (market_id, side,
// event_type); conflicting inserts degrade to updates. updated_at is
// refreshed on every write so the notifier cursor picks re-scores up.
type Alert struct {
	ID        int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	MarketID  int64           `gorm:"uniqueIndex:uq_alerts_market_side_event,priority:1;not null" json:"market_id"`
	Side      string          `gorm:"size:16;uniqueIndex:uq_alerts_market_side_event,priority:2" json:"side"`
	EventType string          `gorm:"size:64;uniqueIndex:uq_alerts_market_side_event,priority:3;not null" json:"event_type"`
	Message   string          `gorm:"type:text" json:"message,omitempty"`
	Status    string          `gorm:"size:32;index" json:"status"`
	Score     decimal.Decimal `gorm:"type:decimal(12,4)" json:"score"`
	WhyJSON   string          `gorm:"type:jsonb" json:"why_json,omitempty"`
	SentAt    *time.Time      `json:"sent_at,omitempty"`
	CreatedAt time.Time       `gorm:"autoCreateTime;index;not null" json:"created_at"`
	UpdatedAt time.Time       `gorm:"autoUpdateTime;index;not null" json:"updated_at"`
}

// TableName specifies the table name for Alert
func (Alert) TableName() string {
	return "alerts"
}

// WalletStats tracks per-wallet accuracy for early positioning detection.
// A wallet "called it right" when the price moved favorably within a
// horizon (15m, 1h, 4h) after the trade. accuracy_score is null until
// min_evaluated_trades trades have been scored, then lies in [0,1].
// Created and updated only by the accuracy profiler.
type WalletStats struct {
	ID            int64  `gorm:"primaryKey;autoIncrement" json:"id"`
	WalletAddress string `gorm:"size:128;uniqueIndex;not null" json:"wallet_address"`

	TotalTrades     int `gorm:"default:0;not null" json:"total_trades"`
	EvaluatedTrades int `gorm:"default:0;not null" json:"evaluated_trades"`

	Correct15m int `gorm:"column:correct_15m;default:0;not null" json:"correct_15m"`
	Correct1h  int `gorm:"column:correct_1h;default:0;not null" json:"correct_1h"`
	Correct4h  int `gorm:"column:correct_4h;default:0;not null" json:"correct_4h"`

	// Weighted across horizons: 0.2·p(15m) + 0.3·p(1h) + 0.5·p(4h)
	AccuracyScore *decimal.Decimal `gorm:"type:decimal(5,4);index" json:"accuracy_score,omitempty"`

	// Average favorable 4h delta when correct (conviction quality)
	AvgDeltaWhenCorrect *decimal.Decimal `gorm:"type:decimal(12,8)" json:"avg_delta_when_correct,omitempty"`

	// Total notional across evaluated trades (filters dust wallets)
	TotalNotional *decimal.Decimal `gorm:"type:decimal(24,8)" json:"total_notional,omitempty"`

	CurrentStreak int `gorm:"default:0;not null" json:"current_streak"`
	BestStreak    int `gorm:"default:0;not null" json:"best_streak"`

	CreatedAt time.Time `gorm:"autoCreateTime;not null" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime;index;not null" json:"updated_at"`
}

// TableName specifies the table name for WalletStats
func (WalletStats) TableName() string {
	return "wallet_stats"
}

// BacktestResult records the market's trade-derived price at alert
// creation time and at +15m/+1h/+4h, with signed favorable deltas. One
// row per alert; used only for offline evaluation.
type BacktestResult struct {
	AlertID   int64            `gorm:"primaryKey" json:"alert_id"`
	MarketID  int64            `gorm:"index" json:"market_id"`
	Side      string           `gorm:"size:16" json:"side"`
	Score     decimal.Decimal  `gorm:"type:decimal(12,4)" json:"score"`
	AlertTime time.Time        `json:"alert_time"`
	PriceT0   *decimal.Decimal `gorm:"column:price_t0;type:decimal(24,12)" json:"price_t0,omitempty"`
	Price15m  *decimal.Decimal `gorm:"column:price_15m;type:decimal(24,12)" json:"price_15m,omitempty"`
	Price1h   *decimal.Decimal `gorm:"column:price_1h;type:decimal(24,12)" json:"price_1h,omitempty"`
	Price4h   *decimal.Decimal `gorm:"column:price_4h;type:decimal(24,12)" json:"price_4h,omitempty"`
	Delta15m  *decimal.Decimal `gorm:"column:delta_15m;type:decimal(24,12)" json:"delta_15m,omitempty"`
	Delta1h   *decimal.Decimal `gorm:"column:delta_1h;type:decimal(24,12)" json:"delta_1h,omitempty"`
	Delta4h   *decimal.Decimal `gorm:"column:delta_4h;type:decimal(24,12)" json:"delta_4h,omitempty"`
}

// TableName specifies the table name for BacktestResult
func (BacktestResult) TableName() string {
	return "backtest_results"
}

// AppState is a small key/value table. Keys are structured strings used
// as durable cursors by every worker; values are opaque strings (ISO
// timestamp or integer). Each cursor is monotone non-decreasing.
type AppState struct {
	Key       string    `gorm:"size:100;primaryKey" json:"key"`
	Value     string    `gorm:"type:text" json:"value"`
	UpdatedAt time.Time `gorm:"autoUpdateTime;not null" json:"updated_at"`
}

// TableName specifies the table name for AppState
func (AppState) TableName() string {
	return "app_state"
}

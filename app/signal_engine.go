package app

import (
	"fmt"
	"sort"
	"time"

	"polymarket-watch/config"
	models "polymarket-watch/database/models_pkg"
	"polymarket-watch/database/trades"

	"github.com/shopspring/decimal"
)

// priceHistoryLimit bounds the per-market rolling tape the impact
// detector works from.
const priceHistoryLimit = 50

// lowActivityWindow is the lookback for counting a wallet's recent
// trades.
const lowActivityWindow = 24 * time.Hour

// TradeEnvelope is the engine's view of one stored trade.
type TradeEnvelope struct {
	ID            int64
	MarketID      int64
	WalletAddress string
	Side          string
	Shares        decimal.Decimal
	Price         decimal.Decimal
	TradedAt      time.Time
}

// Notional returns shares × price.
func (t *TradeEnvelope) Notional() decimal.Decimal {
	return t.Shares.Mul(t.Price)
}

// Signal is one detector emission, not yet persisted.
type Signal struct {
	MarketID      int64
	WalletAddress string
	Side          string
	SignalType    string
	Severity      string
	Score         decimal.Decimal
	Details       map[string]interface{}
	ObservedAt    time.Time
}

// WalletRecency is a wallet's pre-batch activity summary, updated in
// memory as the batch is consumed so later trades in the same batch see
// earlier ones.
type WalletRecency struct {
	FirstSeen *time.Time
	Recent    int
}

// BatchContext carries everything the detectors need besides the trades
// themselves, preloaded as of the batch's earliest trade. Keeping it a
// plain struct lets tests drive the engine without a database.
type BatchContext struct {
	WalletHistory map[string]*WalletRecency
	PriceHistory  map[int64][]trades.PricePoint
	SmartWallets  map[string]models.WalletStats
}

// NewBatchContext returns an empty context, the cold-start shape where
// every wallet is fresh and every tape is blank.
func NewBatchContext() *BatchContext {
	return &BatchContext{
		WalletHistory: make(map[string]*WalletRecency),
		PriceHistory:  make(map[int64][]trades.PricePoint),
		SmartWallets:  make(map[string]models.WalletStats),
	}
}

// SignalEngine runs the six trade detectors over one ordered batch.
// It holds thresholds only; all batch state lives in BatchContext and
// the per-call rolling windows, so the same engine replayed over the
// same trades emits the same signals.
type SignalEngine struct {
	bigNotional          decimal.Decimal
	lowActivityMaxTrades int
	repeatWindow         time.Duration
	repeatMinCount       int
	impactDeviation      decimal.Decimal
	impactMinNotional    decimal.Decimal
	clusterWindow        time.Duration
	clusterMinWallets    int
	clusterMinNotional   decimal.Decimal
	smartMinNotional     decimal.Decimal

	earlyHighAccuracy decimal.Decimal
}

// NewSignalEngine parses the configured thresholds into decimals.
func NewSignalEngine(cfg config.SignalConfig) (*SignalEngine, error) {
	bigNotional, err := decimal.NewFromString(cfg.BigNotional)
	if err != nil {
		return nil, fmt.Errorf("NewSignalEngine big notional: %w", err)
	}
	impactDeviation, err := decimal.NewFromString(cfg.ImpactDeviation)
	if err != nil {
		return nil, fmt.Errorf("NewSignalEngine impact deviation: %w", err)
	}
	impactMinNotional, err := decimal.NewFromString(cfg.ImpactMinNotional)
	if err != nil {
		return nil, fmt.Errorf("NewSignalEngine impact min notional: %w", err)
	}
	clusterMinNotional, err := decimal.NewFromString(cfg.ClusterMinNotional)
	if err != nil {
		return nil, fmt.Errorf("NewSignalEngine cluster min notional: %w", err)
	}
	smartMinNotional, err := decimal.NewFromString(cfg.SmartMinNotional)
	if err != nil {
		return nil, fmt.Errorf("NewSignalEngine smart min notional: %w", err)
	}

	return &SignalEngine{
		bigNotional:          bigNotional,
		lowActivityMaxTrades: cfg.LowActivityMaxTrades,
		repeatWindow:         time.Duration(cfg.RepeatWindowMinutes) * time.Minute,
		repeatMinCount:       cfg.RepeatMinCount,
		impactDeviation:      impactDeviation,
		impactMinNotional:    impactMinNotional,
		clusterWindow:        time.Duration(cfg.ClusterWindowMinutes) * time.Minute,
		clusterMinWallets:    cfg.ClusterMinWallets,
		clusterMinNotional:   clusterMinNotional,
		smartMinNotional:     smartMinNotional,
		earlyHighAccuracy:    decimal.RequireFromString("0.75"),
	}, nil
}

type repeatKey struct {
	wallet   string
	marketID int64
	side     string
}

type clusterKey struct {
	marketID int64
	side     string
}

type clusterEntry struct {
	at       time.Time
	wallet   string
	notional decimal.Decimal
}

// Evaluate runs every detector over the batch in (traded_at, id) order
// and returns the emitted signals in detection order. The context is
// mutated as trades are consumed: price tapes grow (after the impact
// check, so a trade never sets its own baseline) and wallet recency
// counts advance.
func (e *SignalEngine) Evaluate(batch []TradeEnvelope, bctx *BatchContext) []Signal {
	if len(batch) == 0 {
		return nil
	}

	ordered := make([]TradeEnvelope, len(batch))
	copy(ordered, batch)
	sort.SliceStable(ordered, func(i, j int) bool {
		if !ordered[i].TradedAt.Equal(ordered[j].TradedAt) {
			return ordered[i].TradedAt.Before(ordered[j].TradedAt)
		}
		return ordered[i].ID < ordered[j].ID
	})

	earliest := ordered[0].TradedAt
	repeatWindows := make(map[repeatKey][]time.Time)
	clusterWindows := make(map[clusterKey][]clusterEntry)

	var signals []Signal
	for i := range ordered {
		trade := &ordered[i]
		notional := trade.Notional()

		recency := bctx.WalletHistory[trade.WalletAddress]
		if recency == nil {
			recency = &WalletRecency{}
			bctx.WalletHistory[trade.WalletAddress] = recency
		}

		if s := e.detectFreshWallet(trade, notional, recency); s != nil {
			signals = append(signals, *s)
		}
		if s := e.detectLowActivity(trade, notional, recency); s != nil {
			signals = append(signals, *s)
		}
		if s := e.detectRepeatEntries(trade, repeatWindows); s != nil {
			signals = append(signals, *s)
		}
		if s := e.detectThinMarketImpact(trade, notional, bctx); s != nil {
			signals = append(signals, *s)
		}
		e.appendPrice(trade, bctx)
		if s := e.detectClustering(trade, notional, clusterWindows); s != nil {
			signals = append(signals, *s)
		}
		if s := e.detectEarlyPositioning(trade, notional, bctx); s != nil {
			signals = append(signals, *s)
		}

		if !trade.TradedAt.Before(earliest.Add(-lowActivityWindow)) {
			recency.Recent++
			if recency.FirstSeen == nil {
				at := trade.TradedAt
				recency.FirstSeen = &at
			}
		}
	}
	return signals
}

// detectFreshWallet fires when a never-before-seen wallet's first trade
// is already large.
func (e *SignalEngine) detectFreshWallet(trade *TradeEnvelope, notional decimal.Decimal, recency *WalletRecency) *Signal {
	if recency.FirstSeen != nil {
		return nil
	}
	if notional.LessThan(e.bigNotional) {
		return nil
	}
	return &Signal{
		MarketID:      trade.MarketID,
		WalletAddress: trade.WalletAddress,
		Side:          trade.Side,
		SignalType:    models.SignalFreshWalletBigSize,
		Severity:      models.SeverityHigh,
		Score:         notional,
		Details: map[string]interface{}{
			"notional": notional.String(),
			"shares":   trade.Shares.String(),
			"price":    trade.Price.String(),
			"thresholds": map[string]interface{}{
				"big_notional": e.bigNotional.String(),
			},
			"why": "First time wallet seen with large trade",
		},
		ObservedAt: trade.TradedAt,
	}
}

// detectLowActivity fires when a wallet with little recent history
// executes a large trade. A fresh wallet has zero recent trades, so it
// trips this detector too.
func (e *SignalEngine) detectLowActivity(trade *TradeEnvelope, notional decimal.Decimal, recency *WalletRecency) *Signal {
	if recency.Recent > e.lowActivityMaxTrades || notional.LessThan(e.bigNotional) {
		return nil
	}
	return &Signal{
		MarketID:      trade.MarketID,
		WalletAddress: trade.WalletAddress,
		Side:          trade.Side,
		SignalType:    models.SignalLowActivityBigSize,
		Severity:      models.SeverityMedium,
		Score:         notional,
		Details: map[string]interface{}{
			"notional":      notional.String(),
			"recent_trades": recency.Recent,
			"window_hours":  lowActivityWindow.Hours(),
			"thresholds": map[string]interface{}{
				"max_recent_trades": e.lowActivityMaxTrades,
				"big_notional":      e.bigNotional.String(),
			},
			"why": "Low activity wallet executed a large trade",
		},
		ObservedAt: trade.TradedAt,
	}
}

// detectRepeatEntries fires on the trade that brings a wallet's count on
// one (market, side) to the threshold within the rolling window, and on
// every further trade while the window stays saturated.
func (e *SignalEngine) detectRepeatEntries(trade *TradeEnvelope, windows map[repeatKey][]time.Time) *Signal {
	key := repeatKey{wallet: trade.WalletAddress, marketID: trade.MarketID, side: trade.Side}
	window := append(windows[key], trade.TradedAt)
	for len(window) > 0 && trade.TradedAt.Sub(window[0]) > e.repeatWindow {
		window = window[1:]
	}
	windows[key] = window

	if len(window) < e.repeatMinCount {
		return nil
	}
	return &Signal{
		MarketID:      trade.MarketID,
		WalletAddress: trade.WalletAddress,
		Side:          trade.Side,
		SignalType:    models.SignalRepeatEntries,
		Severity:      models.SeverityMedium,
		Score:         decimal.NewFromInt(int64(len(window))),
		Details: map[string]interface{}{
			"count":          len(window),
			"window_minutes": e.repeatWindow.Minutes(),
			"why":            "Multiple entries by same wallet/side in short window",
		},
		ObservedAt: trade.TradedAt,
	}
}

// baselinePrice is the mean of the last ten observations on the tape,
// or nil when the tape is empty.
func baselinePrice(history []trades.PricePoint) *decimal.Decimal {
	if len(history) == 0 {
		return nil
	}
	start := len(history) - 10
	if start < 0 {
		start = 0
	}
	sum := decimal.Zero
	for _, p := range history[start:] {
		sum = sum.Add(p.Price)
	}
	mean := sum.Div(decimal.NewFromInt(int64(len(history) - start)))
	return &mean
}

// detectThinMarketImpact fires when a sizable trade prints far from the
// market's recent baseline. The trade itself is not yet on the tape, so
// it cannot dampen its own deviation.
func (e *SignalEngine) detectThinMarketImpact(trade *TradeEnvelope, notional decimal.Decimal, bctx *BatchContext) *Signal {
	baseline := baselinePrice(bctx.PriceHistory[trade.MarketID])
	if baseline == nil || !baseline.IsPositive() || notional.LessThan(e.impactMinNotional) {
		return nil
	}
	deviation := trade.Price.Sub(*baseline).Abs().Div(*baseline)
	if deviation.LessThan(e.impactDeviation) {
		return nil
	}

	severity := models.SeverityMedium
	if !deviation.LessThan(e.impactDeviation.Mul(decimal.NewFromInt(2))) {
		severity = models.SeverityHigh
	}
	deviationFloat, _ := deviation.Float64()
	return &Signal{
		MarketID:      trade.MarketID,
		WalletAddress: trade.WalletAddress,
		Side:          trade.Side,
		SignalType:    models.SignalThinMarketImpact,
		Severity:      severity,
		Score:         deviation,
		Details: map[string]interface{}{
			"price":          trade.Price.String(),
			"baseline_price": baseline.String(),
			"deviation_pct":  deviationFloat,
			"notional":       notional.String(),
			"thresholds": map[string]interface{}{
				"impact_deviation": e.impactDeviation.String(),
				"min_notional":     e.impactMinNotional.String(),
			},
			"why": "Trade price deviates from recent baseline",
		},
		ObservedAt: trade.TradedAt,
	}
}

func (e *SignalEngine) appendPrice(trade *TradeEnvelope, bctx *BatchContext) {
	history := append(bctx.PriceHistory[trade.MarketID], trades.PricePoint{TradedAt: trade.TradedAt, Price: trade.Price})
	if len(history) > priceHistoryLimit {
		history = history[len(history)-priceHistoryLimit:]
	}
	bctx.PriceHistory[trade.MarketID] = history
}

// detectClustering fires when enough distinct wallets pile onto the same
// (market, side) within the window with enough combined notional.
func (e *SignalEngine) detectClustering(trade *TradeEnvelope, notional decimal.Decimal, windows map[clusterKey][]clusterEntry) *Signal {
	key := clusterKey{marketID: trade.MarketID, side: trade.Side}
	window := append(windows[key], clusterEntry{at: trade.TradedAt, wallet: trade.WalletAddress, notional: notional})
	cutoff := trade.TradedAt.Add(-e.clusterWindow)
	for len(window) > 0 && window[0].at.Before(cutoff) {
		window = window[1:]
	}
	windows[key] = window

	uniqueWallets := make(map[string]struct{}, len(window))
	totalNotional := decimal.Zero
	for _, entry := range window {
		uniqueWallets[entry.wallet] = struct{}{}
		totalNotional = totalNotional.Add(entry.notional)
	}
	if len(uniqueWallets) < e.clusterMinWallets {
		return nil
	}
	required := e.clusterMinNotional.Mul(decimal.NewFromInt(int64(len(uniqueWallets))))
	if totalNotional.LessThan(required) {
		return nil
	}
	return &Signal{
		MarketID:      trade.MarketID,
		WalletAddress: trade.WalletAddress,
		Side:          trade.Side,
		SignalType:    models.SignalClustering,
		Severity:      models.SeverityMedium,
		Score:         totalNotional,
		Details: map[string]interface{}{
			"unique_wallets": len(uniqueWallets),
			"window_minutes": e.clusterWindow.Minutes(),
			"total_notional": totalNotional.String(),
			"thresholds": map[string]interface{}{
				"min_wallets":             e.clusterMinWallets,
				"min_notional_per_wallet": e.clusterMinNotional.String(),
			},
			"why": "Multiple wallets trading same side in short window",
		},
		ObservedAt: trade.TradedAt,
	}
}

// detectEarlyPositioning fires when a wallet with a proven accuracy
// record takes a non-dust position. The qualifying-wallet filter
// (min evaluated trades, min accuracy) is applied when SmartWallets is
// loaded, so membership in the map is the qualification.
func (e *SignalEngine) detectEarlyPositioning(trade *TradeEnvelope, notional decimal.Decimal, bctx *BatchContext) *Signal {
	stats, ok := bctx.SmartWallets[trade.WalletAddress]
	if !ok || notional.LessThan(e.smartMinNotional) {
		return nil
	}

	accuracy := decimal.Zero
	if stats.AccuracyScore != nil {
		accuracy = *stats.AccuracyScore
	}
	severity := models.SeverityMedium
	if !accuracy.LessThan(e.earlyHighAccuracy) {
		severity = models.SeverityHigh
	}

	totalNotional := "0"
	if stats.TotalNotional != nil {
		totalNotional = stats.TotalNotional.String()
	}
	accuracyFloat, _ := accuracy.Float64()
	return &Signal{
		MarketID:      trade.MarketID,
		WalletAddress: trade.WalletAddress,
		Side:          trade.Side,
		SignalType:    models.SignalEarlyPositioning,
		Severity:      severity,
		Score:         accuracy.Mul(notional),
		Details: map[string]interface{}{
			"notional":                notional.String(),
			"wallet_accuracy":         accuracyFloat,
			"wallet_evaluated_trades": stats.EvaluatedTrades,
			"wallet_correct_4h":       stats.Correct4h,
			"wallet_total_notional":   totalNotional,
			"wallet_best_streak":      stats.BestStreak,
			"why": fmt.Sprintf("Wallet has %s historical accuracy over %d trades",
				accuracy.Mul(decimal.NewFromInt(100)).Round(0).String()+"%", stats.EvaluatedTrades),
		},
		ObservedAt: trade.TradedAt,
	}
}

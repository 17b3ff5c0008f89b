package app

import (
	"testing"
	"time"

	"polymarket-watch/config"
	models "polymarket-watch/database/models_pkg"
	"polymarket-watch/database/trades"

	"github.com/shopspring/decimal"
)

func testSignalConfig() config.SignalConfig {
	return config.SignalConfig{
		BigNotional:          "1000",
		LowActivityMaxTrades: 2,
		RepeatMinCount:       3,
		RepeatWindowMinutes:  10,
		ImpactDeviation:      "0.05",
		ImpactMinNotional:    "500",
		ClusterMinWallets:    3,
		ClusterWindowMinutes: 5,
		ClusterMinNotional:   "200",
		SmartMinAccuracy:     "0.60",
		SmartMinTrades:       5,
		SmartMinNotional:     "100",
		BatchSize:            200,
	}
}

func newTestEngine(t *testing.T) *SignalEngine {
	t.Helper()
	engine, err := NewSignalEngine(testSignalConfig())
	if err != nil {
		t.Fatalf("NewSignalEngine: %v", err)
	}
	return engine
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func trade(id int64, marketID int64, wallet, side, shares, price string, at time.Time) TradeEnvelope {
	return TradeEnvelope{
		ID:            id,
		MarketID:      marketID,
		WalletAddress: wallet,
		Side:          side,
		Shares:        dec(shares),
		Price:         dec(price),
		TradedAt:      at,
	}
}

func signalTypes(signals []Signal) []string {
	out := make([]string, len(signals))
	for i, s := range signals {
		out[i] = s.SignalType
	}
	return out
}

func countType(signals []Signal, signalType string) int {
	n := 0
	for _, s := range signals {
		if s.SignalType == signalType {
			n++
		}
	}
	return n
}

func TestFreshWalletBigTrade(t *testing.T) {
	engine := newTestEngine(t)
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)

	signals := engine.Evaluate([]TradeEnvelope{
		trade(1, 1, "0xfresh", models.SideBuy, "3000", "0.50", now),
	}, NewBatchContext())

	// An unseen wallet has zero recent trades, so the big first trade
	// trips both the fresh-wallet and low-activity detectors.
	if countType(signals, models.SignalFreshWalletBigSize) != 1 {
		t.Errorf("expected 1 fresh wallet signal, got %v", signalTypes(signals))
	}
	if countType(signals, models.SignalLowActivityBigSize) != 1 {
		t.Errorf("expected 1 low activity signal, got %v", signalTypes(signals))
	}

	for _, s := range signals {
		if s.SignalType != models.SignalFreshWalletBigSize {
			continue
		}
		if s.Severity != models.SeverityHigh {
			t.Errorf("fresh wallet severity = %s, want high", s.Severity)
		}
		if !s.Score.Equal(dec("1500")) {
			t.Errorf("fresh wallet score = %s, want 1500", s.Score)
		}
	}
}

func TestFreshWalletExactThreshold(t *testing.T) {
	engine := newTestEngine(t)
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name   string
		shares string
		price  string
		want   int
	}{
		{name: "exactly at threshold fires", shares: "2000", price: "0.50", want: 1},
		{name: "just below threshold silent", shares: "1999", price: "0.50", want: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			signals := engine.Evaluate([]TradeEnvelope{
				trade(1, 1, "0xw", models.SideBuy, tt.shares, tt.price, now),
			}, NewBatchContext())
			if got := countType(signals, models.SignalFreshWalletBigSize); got != tt.want {
				t.Errorf("fresh signals = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestSeenWalletIsNotFresh(t *testing.T) {
	engine := newTestEngine(t)
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)

	bctx := NewBatchContext()
	firstSeen := now.Add(-48 * time.Hour)
	bctx.WalletHistory["0xseen"] = &WalletRecency{FirstSeen: &firstSeen, Recent: 0}

	signals := engine.Evaluate([]TradeEnvelope{
		trade(1, 1, "0xseen", models.SideBuy, "3000", "0.50", now),
	}, bctx)

	if countType(signals, models.SignalFreshWalletBigSize) != 0 {
		t.Errorf("seen wallet emitted fresh signal: %v", signalTypes(signals))
	}
	// Still low activity: zero trades in the last day.
	if countType(signals, models.SignalLowActivityBigSize) != 1 {
		t.Errorf("expected low activity signal, got %v", signalTypes(signals))
	}
}

func TestLowActivityBoundary(t *testing.T) {
	engine := newTestEngine(t)
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	firstSeen := now.Add(-48 * time.Hour)

	tests := []struct {
		name   string
		recent int
		want   int
	}{
		{name: "two recent trades fires", recent: 2, want: 1},
		{name: "three recent trades silent", recent: 3, want: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bctx := NewBatchContext()
			bctx.WalletHistory["0xw"] = &WalletRecency{FirstSeen: &firstSeen, Recent: tt.recent}
			signals := engine.Evaluate([]TradeEnvelope{
				trade(1, 1, "0xw", models.SideBuy, "3000", "0.50", now),
			}, bctx)
			if got := countType(signals, models.SignalLowActivityBigSize); got != tt.want {
				t.Errorf("low activity signals = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestWithinBatchRecencySuppressesFresh(t *testing.T) {
	engine := newTestEngine(t)
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)

	signals := engine.Evaluate([]TradeEnvelope{
		trade(1, 1, "0xw", models.SideBuy, "3000", "0.50", now),
		trade(2, 1, "0xw", models.SideBuy, "3000", "0.50", now.Add(time.Minute)),
	}, NewBatchContext())

	// The first trade marks the wallet seen, so only it is fresh.
	if got := countType(signals, models.SignalFreshWalletBigSize); got != 1 {
		t.Errorf("fresh signals = %d, want 1 (%v)", got, signalTypes(signals))
	}
}

func TestRepeatEntries(t *testing.T) {
	engine := newTestEngine(t)
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)

	batch := []TradeEnvelope{
		trade(1, 1, "0xw", models.SideBuy, "10", "0.50", now),
		trade(2, 1, "0xw", models.SideBuy, "10", "0.50", now.Add(3*time.Minute)),
		trade(3, 1, "0xw", models.SideBuy, "10", "0.50", now.Add(6*time.Minute)),
	}
	signals := engine.Evaluate(batch, NewBatchContext())

	if got := countType(signals, models.SignalRepeatEntries); got != 1 {
		t.Fatalf("repeat signals = %d, want 1 (%v)", got, signalTypes(signals))
	}
	for _, s := range signals {
		if s.SignalType == models.SignalRepeatEntries && !s.Score.Equal(dec("3")) {
			t.Errorf("repeat score = %s, want 3", s.Score)
		}
	}
}

func TestRepeatEntriesWindowExpiry(t *testing.T) {
	engine := newTestEngine(t)
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)

	// Third entry lands after the first has aged out of the window.
	batch := []TradeEnvelope{
		trade(1, 1, "0xw", models.SideBuy, "10", "0.50", now),
		trade(2, 1, "0xw", models.SideBuy, "10", "0.50", now.Add(9*time.Minute)),
		trade(3, 1, "0xw", models.SideBuy, "10", "0.50", now.Add(11*time.Minute)),
	}
	signals := engine.Evaluate(batch, NewBatchContext())
	if got := countType(signals, models.SignalRepeatEntries); got != 0 {
		t.Errorf("repeat signals = %d, want 0 (%v)", got, signalTypes(signals))
	}
}

func TestRepeatEntriesSideIsolation(t *testing.T) {
	engine := newTestEngine(t)
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)

	batch := []TradeEnvelope{
		trade(1, 1, "0xw", models.SideBuy, "10", "0.50", now),
		trade(2, 1, "0xw", models.SideSell, "10", "0.50", now.Add(time.Minute)),
		trade(3, 1, "0xw", models.SideBuy, "10", "0.50", now.Add(2*time.Minute)),
	}
	signals := engine.Evaluate(batch, NewBatchContext())
	if got := countType(signals, models.SignalRepeatEntries); got != 0 {
		t.Errorf("repeat signals across sides = %d, want 0", got)
	}
}

func TestThinMarketImpact(t *testing.T) {
	engine := newTestEngine(t)
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)

	history := make([]trades.PricePoint, 0, 10)
	for i := 0; i < 10; i++ {
		history = append(history, trades.PricePoint{
			TradedAt: now.Add(time.Duration(i-20) * time.Minute),
			Price:    dec("0.50"),
		})
	}

	tests := []struct {
		name         string
		price        string
		shares       string
		wantCount    int
		wantSeverity string
	}{
		{name: "20 pct deviation high", price: "0.60", shares: "2000", wantCount: 1, wantSeverity: models.SeverityHigh},
		{name: "8 pct deviation medium", price: "0.54", shares: "2000", wantCount: 1, wantSeverity: models.SeverityMedium},
		{name: "small deviation silent", price: "0.51", shares: "2000", wantCount: 0},
		{name: "small notional silent", price: "0.60", shares: "100", wantCount: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bctx := NewBatchContext()
			bctx.PriceHistory[1] = append([]trades.PricePoint(nil), history...)
			signals := engine.Evaluate([]TradeEnvelope{
				trade(1, 1, "0xw", models.SideBuy, tt.shares, tt.price, now),
			}, bctx)
			got := countType(signals, models.SignalThinMarketImpact)
			if got != tt.wantCount {
				t.Fatalf("impact signals = %d, want %d (%v)", got, tt.wantCount, signalTypes(signals))
			}
			for _, s := range signals {
				if s.SignalType == models.SignalThinMarketImpact && s.Severity != tt.wantSeverity {
					t.Errorf("impact severity = %s, want %s", s.Severity, tt.wantSeverity)
				}
			}
		})
	}
}

func TestImpactTradeDoesNotSetOwnBaseline(t *testing.T) {
	engine := newTestEngine(t)
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)

	// First trade on an empty tape cannot deviate from a baseline; the
	// second trade deviates from the tape the first one left behind.
	batch := []TradeEnvelope{
		trade(1, 1, "0xa", models.SideBuy, "2000", "0.50", now),
		trade(2, 1, "0xb", models.SideBuy, "2000", "0.60", now.Add(time.Minute)),
	}
	signals := engine.Evaluate(batch, NewBatchContext())
	if got := countType(signals, models.SignalThinMarketImpact); got != 1 {
		t.Errorf("impact signals = %d, want 1 (%v)", got, signalTypes(signals))
	}
}

func TestClustering(t *testing.T) {
	engine := newTestEngine(t)
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)

	// Three wallets, same side, 300 notional each: 900 >= 200*3.
	batch := []TradeEnvelope{
		trade(1, 1, "0xa", models.SideBuy, "600", "0.50", now),
		trade(2, 1, "0xb", models.SideBuy, "600", "0.50", now.Add(time.Minute)),
		trade(3, 1, "0xc", models.SideBuy, "600", "0.50", now.Add(2*time.Minute)),
	}
	signals := engine.Evaluate(batch, NewBatchContext())

	if got := countType(signals, models.SignalClustering); got != 1 {
		t.Fatalf("cluster signals = %d, want 1 (%v)", got, signalTypes(signals))
	}
	for _, s := range signals {
		if s.SignalType == models.SignalClustering && !s.Score.Equal(dec("900")) {
			t.Errorf("cluster score = %s, want 900", s.Score)
		}
	}
}

func TestClusteringNotionalFloor(t *testing.T) {
	engine := newTestEngine(t)
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)

	// Three wallets but only 150 notional each: 450 < 600 required.
	batch := []TradeEnvelope{
		trade(1, 1, "0xa", models.SideBuy, "300", "0.50", now),
		trade(2, 1, "0xb", models.SideBuy, "300", "0.50", now.Add(time.Minute)),
		trade(3, 1, "0xc", models.SideBuy, "300", "0.50", now.Add(2*time.Minute)),
	}
	signals := engine.Evaluate(batch, NewBatchContext())
	if got := countType(signals, models.SignalClustering); got != 0 {
		t.Errorf("cluster signals = %d, want 0", got)
	}
}

func TestEarlyPositioning(t *testing.T) {
	engine := newTestEngine(t)
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name         string
		accuracy     string
		shares       string
		wantCount    int
		wantSeverity string
	}{
		{name: "high accuracy high severity", accuracy: "0.80", shares: "400", wantCount: 1, wantSeverity: models.SeverityHigh},
		{name: "moderate accuracy medium severity", accuracy: "0.65", shares: "400", wantCount: 1, wantSeverity: models.SeverityMedium},
		{name: "dust trade silent", accuracy: "0.80", shares: "100", wantCount: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			accuracy := dec(tt.accuracy)
			firstSeen := now.Add(-72 * time.Hour)
			bctx := NewBatchContext()
			bctx.WalletHistory["0xsmart"] = &WalletRecency{FirstSeen: &firstSeen, Recent: 0}
			bctx.SmartWallets["0xsmart"] = models.WalletStats{
				WalletAddress:   "0xsmart",
				EvaluatedTrades: 12,
				AccuracyScore:   &accuracy,
			}

			signals := engine.Evaluate([]TradeEnvelope{
				trade(1, 1, "0xsmart", models.SideBuy, tt.shares, "0.50", now),
			}, bctx)

			got := countType(signals, models.SignalEarlyPositioning)
			if got != tt.wantCount {
				t.Fatalf("early signals = %d, want %d (%v)", got, tt.wantCount, signalTypes(signals))
			}
			for _, s := range signals {
				if s.SignalType != models.SignalEarlyPositioning {
					continue
				}
				if s.Severity != tt.wantSeverity {
					t.Errorf("early severity = %s, want %s", s.Severity, tt.wantSeverity)
				}
				wantScore := accuracy.Mul(dec(tt.shares).Mul(dec("0.50")))
				if !s.Score.Equal(wantScore) {
					t.Errorf("early score = %s, want %s", s.Score, wantScore)
				}
			}
		})
	}
}

func TestEvaluateReplayIsDeterministic(t *testing.T) {
	engine := newTestEngine(t)
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)

	batch := []TradeEnvelope{
		trade(1, 1, "0xa", models.SideBuy, "3000", "0.50", now),
		trade(2, 1, "0xb", models.SideBuy, "600", "0.50", now.Add(time.Minute)),
		trade(3, 1, "0xc", models.SideBuy, "600", "0.55", now.Add(2*time.Minute)),
		trade(4, 1, "0xa", models.SideBuy, "10", "0.55", now.Add(3*time.Minute)),
		trade(5, 1, "0xa", models.SideBuy, "10", "0.55", now.Add(4*time.Minute)),
		trade(6, 2, "0xd", models.SideSell, "2500", "0.80", now.Add(5*time.Minute)),
	}

	first := engine.Evaluate(append([]TradeEnvelope(nil), batch...), NewBatchContext())
	second := engine.Evaluate(append([]TradeEnvelope(nil), batch...), NewBatchContext())

	if len(first) != len(second) {
		t.Fatalf("replay emitted %d signals, first run %d", len(second), len(first))
	}
	for i := range first {
		if first[i].SignalType != second[i].SignalType ||
			first[i].MarketID != second[i].MarketID ||
			first[i].WalletAddress != second[i].WalletAddress ||
			first[i].Severity != second[i].Severity ||
			!first[i].Score.Equal(second[i].Score) ||
			!first[i].ObservedAt.Equal(second[i].ObservedAt) {
			t.Errorf("signal %d differs between runs: %+v vs %+v", i, first[i], second[i])
		}
	}
}

func TestEvaluateOrdersByTimeThenID(t *testing.T) {
	engine := newTestEngine(t)
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)

	// Presented out of order; the big trade is still first by traded_at,
	// so it stays the one that counts as fresh.
	batch := []TradeEnvelope{
		trade(2, 1, "0xw", models.SideBuy, "10", "0.50", now.Add(time.Minute)),
		trade(1, 1, "0xw", models.SideBuy, "3000", "0.50", now),
	}
	signals := engine.Evaluate(batch, NewBatchContext())
	if got := countType(signals, models.SignalFreshWalletBigSize); got != 1 {
		t.Fatalf("fresh signals = %d, want 1", got)
	}
	if !signals[0].ObservedAt.Equal(now) {
		t.Errorf("first signal observed_at = %v, want %v", signals[0].ObservedAt, now)
	}
}

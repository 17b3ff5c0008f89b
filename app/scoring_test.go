package app

import (
	"testing"
	"time"

	"polymarket-watch/config"
	models "polymarket-watch/database/models_pkg"
)

func testScoringConfig() config.ScoringConfig {
	return config.ScoringConfig{
		WindowHours:       2,
		HighThreshold:     "12",
		WatchThreshold:    "4",
		BonusPerExtraType: "2.5",
		IdleSleepSeconds:  10,
	}
}

func newTestAggregator(t *testing.T) *ScoringAggregator {
	t.Helper()
	aggregator, err := NewScoringAggregator(testScoringConfig())
	if err != nil {
		t.Fatalf("NewScoringAggregator: %v", err)
	}
	return aggregator
}

func signalEvent(id, marketID int64, wallet, side, signalType, severity string, at time.Time) models.SignalEvent {
	return models.SignalEvent{
		ID:            id,
		MarketID:      marketID,
		WalletAddress: &wallet,
		Side:          &side,
		SignalType:    signalType,
		Severity:      severity,
		ObservedAt:    &at,
	}
}

func TestAggregateCrossDetectorEscalation(t *testing.T) {
	aggregator := newTestAggregator(t)
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)

	// FRESH high (5×2) + CLUSTERING medium (3.5×1) + bonus 2.5 = 16.
	signals := []models.SignalEvent{
		signalEvent(1, 1, "0xa", models.SideBuy, models.SignalFreshWalletBigSize, models.SeverityHigh, now),
		signalEvent(2, 1, "0xb", models.SideBuy, models.SignalClustering, models.SeverityMedium, now.Add(time.Minute)),
	}
	out := aggregator.Aggregate(signals)

	if len(out) != 1 {
		t.Fatalf("aggregates = %d, want 1", len(out))
	}
	agg := out[0]
	if !agg.Score.Equal(dec("16")) {
		t.Errorf("score = %s, want 16", agg.Score)
	}
	if agg.Status != models.AlertStatusHigh {
		t.Errorf("status = %s, want high", agg.Status)
	}
	if agg.MarketID != 1 || agg.Side != models.SideBuy {
		t.Errorf("group key = (%d, %s), want (1, buy)", agg.MarketID, agg.Side)
	}
}

func TestAggregateBelowWatchThresholdDropped(t *testing.T) {
	aggregator := newTestAggregator(t)
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)

	// Single REPEAT medium scores 2, below the watch threshold of 4.
	signals := []models.SignalEvent{
		signalEvent(1, 1, "0xa", models.SideBuy, models.SignalRepeatEntries, models.SeverityMedium, now),
	}
	if out := aggregator.Aggregate(signals); len(out) != 0 {
		t.Errorf("aggregates = %d, want 0", len(out))
	}
}

func TestAggregateWatchStatus(t *testing.T) {
	aggregator := newTestAggregator(t)
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)

	// Single LOW_ACTIVITY medium scores 3×1 = 3; two of them score 6,
	// one distinct type so no bonus: watch but not high.
	signals := []models.SignalEvent{
		signalEvent(1, 1, "0xa", models.SideBuy, models.SignalLowActivityBigSize, models.SeverityMedium, now),
		signalEvent(2, 1, "0xb", models.SideBuy, models.SignalLowActivityBigSize, models.SeverityMedium, now.Add(time.Minute)),
	}
	out := aggregator.Aggregate(signals)
	if len(out) != 1 {
		t.Fatalf("aggregates = %d, want 1", len(out))
	}
	if !out[0].Score.Equal(dec("6")) {
		t.Errorf("score = %s, want 6", out[0].Score)
	}
	if out[0].Status != models.AlertStatusWatch {
		t.Errorf("status = %s, want watch", out[0].Status)
	}
}

func TestAggregateGroupsByMarketAndSide(t *testing.T) {
	aggregator := newTestAggregator(t)
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)

	signals := []models.SignalEvent{
		signalEvent(1, 1, "0xa", models.SideBuy, models.SignalFreshWalletBigSize, models.SeverityHigh, now),
		signalEvent(2, 1, "0xa", models.SideSell, models.SignalFreshWalletBigSize, models.SeverityHigh, now),
		signalEvent(3, 2, "0xa", models.SideBuy, models.SignalFreshWalletBigSize, models.SeverityHigh, now),
	}
	out := aggregator.Aggregate(signals)
	if len(out) != 3 {
		t.Fatalf("aggregates = %d, want 3", len(out))
	}
	// Output is ordered by (market_id, side).
	if out[0].MarketID != 1 || out[0].Side != models.SideBuy {
		t.Errorf("first group = (%d, %s)", out[0].MarketID, out[0].Side)
	}
	if out[1].MarketID != 1 || out[1].Side != models.SideSell {
		t.Errorf("second group = (%d, %s)", out[1].MarketID, out[1].Side)
	}
	if out[2].MarketID != 2 || out[2].Side != models.SideBuy {
		t.Errorf("third group = (%d, %s)", out[2].MarketID, out[2].Side)
	}
}

func TestAggregateIsIdempotent(t *testing.T) {
	aggregator := newTestAggregator(t)
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)

	signals := []models.SignalEvent{
		signalEvent(1, 1, "0xa", models.SideBuy, models.SignalFreshWalletBigSize, models.SeverityHigh, now),
		signalEvent(2, 1, "0xb", models.SideBuy, models.SignalClustering, models.SeverityMedium, now.Add(time.Minute)),
		signalEvent(3, 2, "0xc", models.SideSell, models.SignalThinMarketImpact, models.SeverityHigh, now.Add(2*time.Minute)),
	}

	first := aggregator.Aggregate(signals)
	second := aggregator.Aggregate(signals)

	if len(first) != len(second) {
		t.Fatalf("runs disagree on group count: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i].MarketID != second[i].MarketID ||
			first[i].Side != second[i].Side ||
			first[i].Status != second[i].Status ||
			!first[i].Score.Equal(second[i].Score) {
			t.Errorf("group %d differs: %+v vs %+v", i, first[i], second[i])
		}
	}
}

func TestBuildWhyPayload(t *testing.T) {
	aggregator := newTestAggregator(t)
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)

	var signals []models.SignalEvent
	// Seven fresh signals plus one clustering signal, interleaved.
	for i := 0; i < 7; i++ {
		signals = append(signals, signalEvent(int64(i+1), 1, "0xw"+string(rune('a'+i)), models.SideBuy,
			models.SignalFreshWalletBigSize, models.SeverityHigh, now.Add(time.Duration(i)*time.Minute)))
	}
	signals = append(signals, signalEvent(8, 1, "0xcluster", models.SideBuy,
		models.SignalClustering, models.SeverityMedium, now.Add(10*time.Minute)))

	out := aggregator.Aggregate(signals)
	if len(out) != 1 {
		t.Fatalf("aggregates = %d, want 1", len(out))
	}
	why := out[0].Why

	if why.CountsBySignal[models.SignalFreshWalletBigSize] != 7 {
		t.Errorf("fresh count = %d, want 7", why.CountsBySignal[models.SignalFreshWalletBigSize])
	}
	if why.CountsBySignal[models.SignalClustering] != 1 {
		t.Errorf("cluster count = %d, want 1", why.CountsBySignal[models.SignalClustering])
	}
	if len(why.DistinctTypes) != 2 || why.DistinctTypes[0] != models.SignalFreshWalletBigSize {
		t.Errorf("distinct types = %v", why.DistinctTypes)
	}
	if len(why.ExampleWallets) != 5 {
		t.Errorf("example wallets = %d, want capped at 5", len(why.ExampleWallets))
	}
	if len(why.Examples) != 5 {
		t.Errorf("examples = %d, want capped at 5", len(why.Examples))
	}
	if why.Examples[0].SignalType != models.SignalFreshWalletBigSize {
		t.Errorf("examples not oldest-first: %+v", why.Examples[0])
	}
	if why.WindowHours != 2 {
		t.Errorf("window hours = %v, want 2", why.WindowHours)
	}
}

func TestToAlertRows(t *testing.T) {
	aggregator := newTestAggregator(t)
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)

	signals := []models.SignalEvent{
		signalEvent(1, 1, "0xa", models.SideBuy, models.SignalFreshWalletBigSize, models.SeverityHigh, now),
		signalEvent(2, 1, "0xb", models.SideBuy, models.SignalClustering, models.SeverityMedium, now.Add(time.Minute)),
	}
	rows, err := ToAlertRows(aggregator.Aggregate(signals))
	if err != nil {
		t.Fatalf("ToAlertRows: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("rows = %d, want 1", len(rows))
	}
	row := rows[0]
	if row.EventType != models.EventTypeScoring {
		t.Errorf("event type = %s, want scoring", row.EventType)
	}
	if row.Message != "score=16.00 status=high" {
		t.Errorf("message = %q", row.Message)
	}
	if row.WhyJSON == "" {
		t.Error("why_json is empty")
	}
}

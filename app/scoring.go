package app

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"polymarket-watch/config"
	models "polymarket-watch/database/models_pkg"

	"github.com/shopspring/decimal"
)

// Per-type weights for signal contributions. EARLY_POSITIONING weighs
// heaviest: it rests on a proven track record rather than a one-off
// pattern.
var signalWeights = map[string]decimal.Decimal{
	models.SignalFreshWalletBigSize: decimal.NewFromInt(5),
	models.SignalLowActivityBigSize: decimal.NewFromInt(3),
	models.SignalRepeatEntries:      decimal.NewFromInt(2),
	models.SignalThinMarketImpact:   decimal.NewFromInt(4),
	models.SignalClustering:         decimal.RequireFromString("3.5"),
	models.SignalEarlyPositioning:   decimal.NewFromInt(6),
}

var severityMultipliers = map[string]decimal.Decimal{
	models.SeverityHigh:   decimal.NewFromInt(2),
	models.SeverityMedium: decimal.NewFromInt(1),
	models.SeverityLow:    decimal.RequireFromString("0.5"),
}

const (
	whyExampleLimit = 5
	whyWalletLimit  = 5
)

// AggregatedAlert is one scored (market, side) group before persistence.
type AggregatedAlert struct {
	MarketID int64
	Side     string
	Score    decimal.Decimal
	Status   string
	Why      WhyPayload
}

// WhyPayload is the structured explanation stored in why_json.
type WhyPayload struct {
	Score          float64        `json:"score"`
	CountsBySignal map[string]int `json:"counts_by_signal"`
	DistinctTypes  []string       `json:"distinct_types"`
	ExampleWallets []string       `json:"example_wallets"`
	Examples       []WhyExample   `json:"examples"`
	WindowHours    float64        `json:"window_hours"`
}

// WhyExample is one contributing signal, oldest first.
type WhyExample struct {
	SignalType string  `json:"signal_type"`
	Wallet     *string `json:"wallet"`
	Side       *string `json:"side"`
	Severity   string  `json:"severity"`
	ObservedAt string  `json:"observed_at"`
}

// ScoringAggregator collapses the recent signal window into at most one
// alert per (market, side). Aggregation is a pure function of the
// window: rerunning it over the same signals lands every alert on the
// same row with the same score.
type ScoringAggregator struct {
	window            time.Duration
	bonusPerExtraType decimal.Decimal
	highThreshold     decimal.Decimal
	watchThreshold    decimal.Decimal
}

// NewScoringAggregator parses the configured thresholds.
func NewScoringAggregator(cfg config.ScoringConfig) (*ScoringAggregator, error) {
	high, err := decimal.NewFromString(cfg.HighThreshold)
	if err != nil {
		return nil, fmt.Errorf("NewScoringAggregator high threshold: %w", err)
	}
	watch, err := decimal.NewFromString(cfg.WatchThreshold)
	if err != nil {
		return nil, fmt.Errorf("NewScoringAggregator watch threshold: %w", err)
	}
	bonus, err := decimal.NewFromString(cfg.BonusPerExtraType)
	if err != nil {
		return nil, fmt.Errorf("NewScoringAggregator bonus: %w", err)
	}
	return &ScoringAggregator{
		window:            time.Duration(cfg.WindowHours) * time.Hour,
		bonusPerExtraType: bonus,
		highThreshold:     high,
		watchThreshold:    watch,
	}, nil
}

// Window returns the aggregation lookback.
func (a *ScoringAggregator) Window() time.Duration {
	return a.window
}

func signalWeight(signalType string) decimal.Decimal {
	if w, ok := signalWeights[signalType]; ok {
		return w
	}
	return decimal.NewFromInt(1)
}

func severityMultiplier(severity string) decimal.Decimal {
	if m, ok := severityMultipliers[severity]; ok {
		return m
	}
	return decimal.NewFromInt(1)
}

type groupKey struct {
	marketID int64
	side     string
}

// Aggregate groups the window's signals by (market, side), scores each
// group, and returns the groups at or above the watch threshold, ordered
// by (market_id, side) so output is stable.
func (a *ScoringAggregator) Aggregate(signals []models.SignalEvent) []AggregatedAlert {
	grouped := make(map[groupKey][]models.SignalEvent)
	for _, s := range signals {
		side := ""
		if s.Side != nil {
			side = *s.Side
		}
		key := groupKey{marketID: s.MarketID, side: side}
		grouped[key] = append(grouped[key], s)
	}

	keys := make([]groupKey, 0, len(grouped))
	for key := range grouped {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].marketID != keys[j].marketID {
			return keys[i].marketID < keys[j].marketID
		}
		return keys[i].side < keys[j].side
	})

	var out []AggregatedAlert
	for _, key := range keys {
		group := grouped[key]
		score := a.scoreGroup(group)
		if score.LessThan(a.watchThreshold) {
			continue
		}
		status := models.AlertStatusWatch
		if !score.LessThan(a.highThreshold) {
			status = models.AlertStatusHigh
		}
		out = append(out, AggregatedAlert{
			MarketID: key.marketID,
			Side:     key.side,
			Score:    score,
			Status:   status,
			Why:      a.buildWhy(group, score),
		})
	}
	return out
}

// scoreGroup sums weight × severity multiplier over the group, plus a
// bonus per distinct signal type beyond the first.
func (a *ScoringAggregator) scoreGroup(group []models.SignalEvent) decimal.Decimal {
	base := decimal.Zero
	distinct := make(map[string]struct{})
	for _, s := range group {
		base = base.Add(signalWeight(s.SignalType).Mul(severityMultiplier(s.Severity)))
		distinct[s.SignalType] = struct{}{}
	}
	extra := len(distinct) - 1
	if extra < 0 {
		extra = 0
	}
	return base.Add(a.bonusPerExtraType.Mul(decimal.NewFromInt(int64(extra))))
}

// buildWhy assembles the explanation payload: per-type counts, the first
// few wallets and signals observed, oldest first.
func (a *ScoringAggregator) buildWhy(group []models.SignalEvent, score decimal.Decimal) WhyPayload {
	ordered := make([]models.SignalEvent, len(group))
	copy(ordered, group)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].At().Before(ordered[j].At())
	})

	counts := make(map[string]int)
	var distinctTypes []string
	var exampleWallets []string
	seenWallets := make(map[string]struct{})
	var examples []WhyExample

	for i := range ordered {
		s := &ordered[i]
		if counts[s.SignalType] == 0 {
			distinctTypes = append(distinctTypes, s.SignalType)
		}
		counts[s.SignalType]++

		if s.WalletAddress != nil && len(exampleWallets) < whyWalletLimit {
			if _, seen := seenWallets[*s.WalletAddress]; !seen {
				seenWallets[*s.WalletAddress] = struct{}{}
				exampleWallets = append(exampleWallets, *s.WalletAddress)
			}
		}
		if len(examples) < whyExampleLimit {
			examples = append(examples, WhyExample{
				SignalType: s.SignalType,
				Wallet:     s.WalletAddress,
				Side:       s.Side,
				Severity:   s.Severity,
				ObservedAt: s.At().UTC().Format(time.RFC3339Nano),
			})
		}
	}

	scoreFloat, _ := score.Float64()
	return WhyPayload{
		Score:          scoreFloat,
		CountsBySignal: counts,
		DistinctTypes:  distinctTypes,
		ExampleWallets: exampleWallets,
		Examples:       examples,
		WindowHours:    a.window.Hours(),
	}
}

// ToAlertRows converts aggregates to persistable alert rows.
func ToAlertRows(aggregates []AggregatedAlert) ([]*models.Alert, error) {
	rows := make([]*models.Alert, 0, len(aggregates))
	for _, agg := range aggregates {
		why, err := json.Marshal(agg.Why)
		if err != nil {
			return nil, fmt.Errorf("ToAlertRows: %w", err)
		}
		scoreFloat, _ := agg.Score.Float64()
		rows = append(rows, &models.Alert{
			MarketID:  agg.MarketID,
			Side:      agg.Side,
			EventType: models.EventTypeScoring,
			Status:    agg.Status,
			Score:     agg.Score,
			WhyJSON:   string(why),
			Message:   fmt.Sprintf("score=%.2f status=%s", scoreFloat, agg.Status),
		})
	}
	return rows, nil
}

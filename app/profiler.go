package app

import (
	"time"

	"polymarket-watch/database"
	models "polymarket-watch/database/models_pkg"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Accuracy evaluation parameters. A trade is "called right" at a horizon
// when the price moved at least minFavorableDelta in the position's
// favor by then.
const (
	profilerInterval   = 5 * time.Minute
	profilerMinAge     = 4 * time.Hour
	profilerLookback   = 24 * time.Hour
	priceTolerance     = 5 * time.Minute
	minEvaluatedTrades = 5
)

var (
	minFavorableDelta  = decimal.RequireFromString("0.05")
	minProfileNotional = decimal.NewFromInt(100)

	accuracyWeight15m = decimal.RequireFromString("0.2")
	accuracyWeight1h  = decimal.RequireFromString("0.3")
	accuracyWeight4h  = decimal.RequireFromString("0.5")
)

// TradeOutcome is the evaluation of one trade against the 15m/1h/4h
// horizons.
type TradeOutcome struct {
	TradeID    int64
	Side       string
	Notional   decimal.Decimal
	Correct15m bool
	Correct1h  bool
	Correct4h  bool
	Delta4h    *decimal.Decimal
}

// IsFavorableMove reports whether the price moved at least the minimum
// favorable delta for the position: up for buys, down for sells.
func IsFavorableMove(side string, entry, later decimal.Decimal) bool {
	delta := later.Sub(entry)
	if side == models.SideBuy {
		return !delta.LessThan(minFavorableDelta)
	}
	return !delta.GreaterThan(minFavorableDelta.Neg())
}

// FavorableDelta returns the signed delta oriented so that positive is
// favorable for the position.
func FavorableDelta(side string, entry, later decimal.Decimal) decimal.Decimal {
	delta := later.Sub(entry)
	if side == models.SideBuy {
		return delta
	}
	return delta.Neg()
}

// ComputeAccuracy returns the horizon-weighted accuracy, or nil when too
// few trades have been evaluated for the score to mean anything.
func ComputeAccuracy(correct15m, correct1h, correct4h, evaluated int) *decimal.Decimal {
	if evaluated < minEvaluatedTrades {
		return nil
	}
	n := decimal.NewFromInt(int64(evaluated))
	weighted := decimal.NewFromInt(int64(correct15m)).Div(n).Mul(accuracyWeight15m).
		Add(decimal.NewFromInt(int64(correct1h)).Div(n).Mul(accuracyWeight1h)).
		Add(decimal.NewFromInt(int64(correct4h)).Div(n).Mul(accuracyWeight4h))
	return &weighted
}

// ComputeStreaks walks the chronological 4h outcomes and returns the
// trailing streak of correct calls and the best streak ever.
func ComputeStreaks(correct4h []bool) (current, best int) {
	for _, correct := range correct4h {
		if correct {
			current++
			if current > best {
				best = current
			}
		} else {
			current = 0
		}
	}
	return current, best
}

// ProfilerWorker recomputes wallet accuracy stats on a fixed cadence.
// Each pass recomputes every recently active wallet from its full trade
// history, so a rerun lands on identical rows.
type ProfilerWorker struct {
	repo   *database.Repository
	logger *zap.Logger
	done   chan bool
}

// NewProfilerWorker creates the profiler worker.
func NewProfilerWorker(repo *database.Repository, logger *zap.Logger) *ProfilerWorker {
	return &ProfilerWorker{
		repo:   repo,
		logger: logger,
		done:   make(chan bool),
	}
}

// Start runs the recompute loop until Stop is called.
func (w *ProfilerWorker) Start() {
	w.logger.Info("profiler worker started", zap.Duration("interval", profilerInterval))

	ticker := time.NewTicker(profilerInterval)
	defer ticker.Stop()

	w.recomputeActiveWallets()
	for {
		select {
		case <-ticker.C:
			w.recomputeActiveWallets()
		case <-w.done:
			w.logger.Info("profiler worker stopped")
			return
		}
	}
}

// Stop terminates the loop.
func (w *ProfilerWorker) Stop() {
	close(w.done)
}

// recomputeActiveWallets profiles every wallet with a trade in the
// lookback window old enough to have horizon data.
func (w *ProfilerWorker) recomputeActiveWallets() {
	cutoff := time.Now().UTC().Add(-profilerMinAge)
	wallets, err := w.repo.Trades.GetActiveWallets(cutoff.Add(-profilerLookback), cutoff)
	if err != nil {
		w.logger.Error("profiler wallet scan failed", zap.Error(err))
		return
	}
	if len(wallets) == 0 {
		return
	}

	updated := 0
	for _, wallet := range wallets {
		select {
		case <-w.done:
			return
		default:
		}
		if err := w.recomputeWallet(wallet, cutoff); err != nil {
			w.logger.Warn("wallet profile failed", zap.String("wallet", wallet), zap.Error(err))
			continue
		}
		updated++
	}
	w.logger.Info("profiler pass", zap.Int("wallets", updated))
}

// recomputeWallet evaluates a wallet's trades older than the cutoff and
// overwrites its stats row.
func (w *ProfilerWorker) recomputeWallet(wallet string, cutoff time.Time) error {
	rows, err := w.repo.Trades.GetWalletTrades(wallet, cutoff)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return nil
	}

	var outcomes []TradeOutcome
	for i := range rows {
		outcome, err := w.evaluateTrade(&rows[i])
		if err != nil {
			return err
		}
		if outcome != nil {
			outcomes = append(outcomes, *outcome)
		}
	}
	if len(outcomes) == 0 {
		return nil
	}

	stats := buildWalletStats(wallet, len(rows), outcomes)
	return w.repo.Wallets.UpsertStats(stats)
}

// evaluateTrade scores one trade against the three horizons, or returns
// nil for dust trades. A horizon with no tape observation within
// tolerance counts as not correct.
func (w *ProfilerWorker) evaluateTrade(trade *models.Trade) (*TradeOutcome, error) {
	notional := trade.Notional()
	if notional.LessThan(minProfileNotional) {
		return nil, nil
	}

	horizons := []time.Duration{15 * time.Minute, time.Hour, 4 * time.Hour}
	correct := make([]bool, len(horizons))
	var delta4h *decimal.Decimal
	for i, horizon := range horizons {
		price, err := w.repo.Trades.GetPriceAt(trade.MarketID, trade.TradedAt.Add(horizon), priceTolerance)
		if err != nil {
			return nil, err
		}
		if price == nil {
			continue
		}
		correct[i] = IsFavorableMove(trade.Side, trade.Price, *price)
		if i == len(horizons)-1 {
			d := FavorableDelta(trade.Side, trade.Price, *price)
			delta4h = &d
		}
	}

	return &TradeOutcome{
		TradeID:    trade.ID,
		Side:       trade.Side,
		Notional:   notional,
		Correct15m: correct[0],
		Correct1h:  correct[1],
		Correct4h:  correct[2],
		Delta4h:    delta4h,
	}, nil
}

// buildWalletStats aggregates chronological outcomes into one stats row.
func buildWalletStats(wallet string, totalTrades int, outcomes []TradeOutcome) *models.WalletStats {
	var correct15m, correct1h, correct4h int
	totalNotional := decimal.Zero
	sumDeltaWhenCorrect := decimal.Zero
	correctWithDelta := 0
	correct4hSeq := make([]bool, 0, len(outcomes))

	for _, o := range outcomes {
		totalNotional = totalNotional.Add(o.Notional)
		if o.Correct15m {
			correct15m++
		}
		if o.Correct1h {
			correct1h++
		}
		if o.Correct4h {
			correct4h++
			if o.Delta4h != nil {
				sumDeltaWhenCorrect = sumDeltaWhenCorrect.Add(*o.Delta4h)
				correctWithDelta++
			}
		}
		correct4hSeq = append(correct4hSeq, o.Correct4h)
	}

	var avgDelta *decimal.Decimal
	if correctWithDelta > 0 {
		d := sumDeltaWhenCorrect.Div(decimal.NewFromInt(int64(correctWithDelta)))
		avgDelta = &d
	}
	current, best := ComputeStreaks(correct4hSeq)

	return &models.WalletStats{
		WalletAddress:       wallet,
		TotalTrades:         totalTrades,
		EvaluatedTrades:     len(outcomes),
		Correct15m:          correct15m,
		Correct1h:           correct1h,
		Correct4h:           correct4h,
		AccuracyScore:       ComputeAccuracy(correct15m, correct1h, correct4h, len(outcomes)),
		AvgDeltaWhenCorrect: avgDelta,
		TotalNotional:       &totalNotional,
		CurrentStreak:       current,
		BestStreak:          best,
	}
}

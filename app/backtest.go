package app

import (
	"time"

	"polymarket-watch/database"
	models "polymarket-watch/database/models_pkg"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	backtestInterval   = time.Minute
	backtestCreateCap  = 50
	backtestPendingAge = 24 * time.Hour
)

// BacktestWorker records how prices moved after each alert fired. A
// result row is created with the price at alert time; the 15m/1h/4h
// horizons are filled in as the tape catches up, each with the signed
// delta against the alert-time price.
type BacktestWorker struct {
	repo   *database.Repository
	logger *zap.Logger
	done   chan bool
}

// NewBacktestWorker creates the backtest recorder.
func NewBacktestWorker(repo *database.Repository, logger *zap.Logger) *BacktestWorker {
	return &BacktestWorker{
		repo:   repo,
		logger: logger,
		done:   make(chan bool),
	}
}

// Start runs the recording loop until Stop is called.
func (w *BacktestWorker) Start() {
	w.logger.Info("backtest worker started")

	ticker := time.NewTicker(backtestInterval)
	defer ticker.Stop()

	w.tick()
	for {
		select {
		case <-ticker.C:
			w.tick()
		case <-w.done:
			w.logger.Info("backtest worker stopped")
			return
		}
	}
}

// Stop terminates the loop.
func (w *BacktestWorker) Stop() {
	close(w.done)
}

func (w *BacktestWorker) tick() {
	w.createNewResults()
	w.fillPendingHorizons()
}

// createNewResults seeds result rows for alerts that have none yet.
func (w *BacktestWorker) createNewResults() {
	alerts, err := w.repo.Alerts.GetWithoutBacktest(backtestCreateCap)
	if err != nil {
		w.logger.Error("backtest alert scan failed", zap.Error(err))
		return
	}

	created := 0
	for i := range alerts {
		alert := &alerts[i]
		priceT0, err := w.repo.Trades.GetLastPriceBefore(alert.MarketID, alert.CreatedAt)
		if err != nil {
			w.logger.Warn("backtest t0 price lookup failed",
				zap.Int64("alert_id", alert.ID), zap.Error(err))
			continue
		}
		row := &models.BacktestResult{
			AlertID:   alert.ID,
			MarketID:  alert.MarketID,
			Side:      alert.Side,
			Score:     alert.Score,
			AlertTime: alert.CreatedAt,
			PriceT0:   priceT0,
		}
		if err := w.repo.Alerts.SaveBacktest(row); err != nil {
			w.logger.Warn("backtest row create failed",
				zap.Int64("alert_id", alert.ID), zap.Error(err))
			continue
		}
		created++
	}
	if created > 0 {
		w.logger.Info("backtest rows created", zap.Int("created", created))
	}
}

// fillPendingHorizons fills whichever horizons have come due on recent
// result rows. Rows older than the pending window are left as they are;
// missing tape data stays null.
func (w *BacktestWorker) fillPendingHorizons() {
	pending, err := w.repo.Alerts.GetPendingBacktests(backtestPendingAge)
	if err != nil {
		w.logger.Error("backtest pending scan failed", zap.Error(err))
		return
	}

	now := time.Now().UTC()
	filled := 0
	for i := range pending {
		row := &pending[i]
		updates := make(map[string]interface{})

		w.fillHorizon(row, now, 15*time.Minute, row.Price15m, "price_15m", "delta_15m", updates)
		w.fillHorizon(row, now, time.Hour, row.Price1h, "price_1h", "delta_1h", updates)
		w.fillHorizon(row, now, 4*time.Hour, row.Price4h, "price_4h", "delta_4h", updates)

		if len(updates) == 0 {
			continue
		}
		if err := w.repo.Alerts.UpdateBacktest(row.AlertID, updates); err != nil {
			w.logger.Warn("backtest horizon update failed",
				zap.Int64("alert_id", row.AlertID), zap.Error(err))
			continue
		}
		filled++
	}
	if filled > 0 {
		w.logger.Info("backtest horizons filled", zap.Int("rows", filled))
	}
}

// fillHorizon resolves one horizon's price and delta if the horizon has
// passed and is still unfilled.
func (w *BacktestWorker) fillHorizon(row *models.BacktestResult, now time.Time, horizon time.Duration, existing *decimal.Decimal, priceCol, deltaCol string, updates map[string]interface{}) {
	if existing != nil {
		return
	}
	target := row.AlertTime.Add(horizon)
	if now.Before(target) {
		return
	}
	price, err := w.repo.Trades.GetLastPriceBefore(row.MarketID, target)
	if err != nil {
		w.logger.Warn("backtest price lookup failed",
			zap.Int64("alert_id", row.AlertID), zap.Error(err))
		return
	}
	if price == nil {
		return
	}
	updates[priceCol] = *price
	if row.PriceT0 != nil {
		updates[deltaCol] = price.Sub(*row.PriceT0)
	}
}

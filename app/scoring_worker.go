package app

import (
	"fmt"
	"time"

	"polymarket-watch/config"
	"polymarket-watch/database"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	scoringBackoffBase = 5 * time.Second
	scoringBackoffMax  = 180 * time.Second
)

// ScoringWorker re-aggregates the recent signal window whenever new
// signals have appeared past its id cursor. The cursor only gates work;
// aggregation always reads the full window, so signals from before the
// cursor keep contributing until they age out.
type ScoringWorker struct {
	repo       *database.Repository
	aggregator *ScoringAggregator
	logger     *zap.Logger

	idleSleep time.Duration
	done      chan bool
}

// NewScoringWorker creates the scoring worker.
func NewScoringWorker(repo *database.Repository, cfg config.ScoringConfig, logger *zap.Logger) (*ScoringWorker, error) {
	aggregator, err := NewScoringAggregator(cfg)
	if err != nil {
		return nil, fmt.Errorf("NewScoringWorker: %w", err)
	}
	return &ScoringWorker{
		repo:       repo,
		aggregator: aggregator,
		logger:     logger,
		idleSleep:  time.Duration(cfg.IdleSleepSeconds) * time.Second,
		done:       make(chan bool),
	}, nil
}

// Start runs the aggregation loop until Stop is called.
func (w *ScoringWorker) Start() {
	w.logger.Info("scoring worker started", zap.Duration("window", w.aggregator.Window()))

	backoffAttempt := 0
	for {
		select {
		case <-w.done:
			w.logger.Info("scoring worker stopped")
			return
		default:
		}

		processed, err := w.processOnce()
		switch {
		case err != nil:
			backoff := backoffDelay(scoringBackoffBase, scoringBackoffMax, backoffAttempt)
			backoffAttempt++
			w.logger.Error("scoring pass failed", zap.Error(err), zap.Duration("backoff", backoff))
			w.sleep(backoff)
		case !processed:
			backoffAttempt = 0
			w.sleep(w.idleSleep)
		default:
			backoffAttempt = 0
		}
	}
}

// Stop terminates the loop.
func (w *ScoringWorker) Stop() {
	close(w.done)
}

func (w *ScoringWorker) sleep(d time.Duration) {
	select {
	case <-time.After(d):
	case <-w.done:
	}
}

// processOnce runs one aggregation pass when signals exist past the
// cursor. The alert upserts and the cursor advance commit together.
func (w *ScoringWorker) processOnce() (bool, error) {
	processed := false
	err := w.repo.Transaction(func(tx *gorm.DB) error {
		cursor, err := database.LoadIntCursor(tx, database.ScoringCursorKey)
		if err != nil {
			return err
		}
		signalsRepo := w.repo.Signals.WithTx(tx)
		maxID, err := signalsRepo.GetMaxIDAfter(cursor)
		if err != nil {
			return err
		}
		if maxID == 0 {
			return nil
		}

		cutoff := time.Now().UTC().Add(-w.aggregator.Window())
		window, err := signalsRepo.GetRecentWindow(cutoff)
		if err != nil {
			return err
		}

		aggregates := w.aggregator.Aggregate(window)
		rows, err := ToAlertRows(aggregates)
		if err != nil {
			return err
		}
		if err := w.repo.Alerts.WithTx(tx).Upsert(rows); err != nil {
			return err
		}
		if err := database.StoreIntCursor(tx, database.ScoringCursorKey, maxID); err != nil {
			return err
		}

		w.logger.Info("scoring pass",
			zap.Int("window_signals", len(window)),
			zap.Int("alerts", len(rows)),
			zap.Int64("cursor", maxID))
		processed = true
		return nil
	})
	return processed, err
}

package app

import (
	"encoding/json"
	"fmt"
	"time"

	"polymarket-watch/config"
	"polymarket-watch/database"
	models "polymarket-watch/database/models_pkg"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	signalIdleSleep   = 5 * time.Second
	signalBackoffBase = 5 * time.Second
	signalBackoffMax  = 120 * time.Second
)

// SignalWorker drains stored trades through the detector engine in
// cursor-ordered batches. The cursor, the batch's signals, and nothing
// else commit in one transaction: a crash either replays the whole
// batch or none of it.
type SignalWorker struct {
	repo   *database.Repository
	engine *SignalEngine
	logger *zap.Logger

	batchSize        int
	smartMinTrades   int
	smartMinAccuracy decimal.Decimal

	done chan bool
}

// NewSignalWorker creates the signal worker.
func NewSignalWorker(repo *database.Repository, cfg config.SignalConfig, logger *zap.Logger) (*SignalWorker, error) {
	engine, err := NewSignalEngine(cfg)
	if err != nil {
		return nil, fmt.Errorf("NewSignalWorker: %w", err)
	}
	smartMinAccuracy, err := decimal.NewFromString(cfg.SmartMinAccuracy)
	if err != nil {
		return nil, fmt.Errorf("NewSignalWorker smart accuracy: %w", err)
	}
	return &SignalWorker{
		repo:             repo,
		engine:           engine,
		logger:           logger,
		batchSize:        cfg.BatchSize,
		smartMinTrades:   cfg.SmartMinTrades,
		smartMinAccuracy: smartMinAccuracy,
		done:             make(chan bool),
	}, nil
}

// Start runs the batch loop until Stop is called.
func (w *SignalWorker) Start() {
	w.logger.Info("signal worker started", zap.Int("batch_size", w.batchSize))

	backoffAttempt := 0
	for {
		select {
		case <-w.done:
			w.logger.Info("signal worker stopped")
			return
		default:
		}

		processed, err := w.processBatch()
		switch {
		case err != nil:
			backoff := backoffDelay(signalBackoffBase, signalBackoffMax, backoffAttempt)
			backoffAttempt++
			w.logger.Error("signal batch failed", zap.Error(err), zap.Duration("backoff", backoff))
			w.sleep(backoff)
		case !processed:
			backoffAttempt = 0
			w.sleep(signalIdleSleep)
		default:
			backoffAttempt = 0
		}
	}
}

// Stop terminates the loop.
func (w *SignalWorker) Stop() {
	close(w.done)
}

func (w *SignalWorker) sleep(d time.Duration) {
	select {
	case <-time.After(d):
	case <-w.done:
	}
}

// processBatch runs one detect-and-advance cycle. Returns false when no
// trades were waiting past the cursor.
func (w *SignalWorker) processBatch() (bool, error) {
	processed := false
	err := w.repo.Transaction(func(tx *gorm.DB) error {
		cursor, err := database.LoadTimeCursor(tx, database.SignalCursorKey)
		if err != nil {
			return err
		}

		tradesRepo := w.repo.Trades.WithTx(tx)
		rows, err := tradesRepo.GetAfter(cursor, w.batchSize)
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}

		batch := make([]TradeEnvelope, len(rows))
		walletSet := make(map[string]struct{})
		marketSet := make(map[int64]struct{})
		for i, row := range rows {
			batch[i] = TradeEnvelope{
				ID:            row.ID,
				MarketID:      row.MarketID,
				WalletAddress: row.WalletAddress,
				Side:          row.Side,
				Shares:        row.Shares,
				Price:         row.Price,
				TradedAt:      row.TradedAt,
			}
			walletSet[row.WalletAddress] = struct{}{}
			marketSet[row.MarketID] = struct{}{}
		}
		earliest := rows[0].TradedAt

		bctx, err := w.loadBatchContext(tx, walletSet, marketSet, earliest)
		if err != nil {
			return err
		}

		signals := w.engine.Evaluate(batch, bctx)
		events, err := signalsToEvents(signals)
		if err != nil {
			return err
		}
		if err := w.repo.Signals.WithTx(tx).BatchInsert(events); err != nil {
			return err
		}

		latest := rows[len(rows)-1].TradedAt
		if err := database.StoreTimeCursor(tx, database.SignalCursorKey, latest); err != nil {
			return err
		}

		w.logger.Info("processed trades for signals",
			zap.Int("trades", len(rows)),
			zap.Int("signals", len(events)),
			zap.Time("cursor", latest))
		processed = true
		return nil
	})
	return processed, err
}

// loadBatchContext preloads wallet recency, market price tapes, and
// qualifying smart wallets, all strictly before the batch's earliest
// trade.
func (w *SignalWorker) loadBatchContext(tx *gorm.DB, walletSet map[string]struct{}, marketSet map[int64]struct{}, earliest time.Time) (*BatchContext, error) {
	wallets := make([]string, 0, len(walletSet))
	for wallet := range walletSet {
		wallets = append(wallets, wallet)
	}
	marketIDs := make([]int64, 0, len(marketSet))
	for id := range marketSet {
		marketIDs = append(marketIDs, id)
	}

	tradesRepo := w.repo.Trades.WithTx(tx)
	history, err := tradesRepo.GetWalletHistory(wallets, earliest, lowActivityWindow)
	if err != nil {
		return nil, err
	}
	prices, err := tradesRepo.GetMarketPriceHistory(marketIDs, earliest, priceHistoryLimit)
	if err != nil {
		return nil, err
	}
	smart, err := w.repo.Wallets.WithTx(tx).GetQualifying(wallets, w.smartMinTrades, w.smartMinAccuracy)
	if err != nil {
		return nil, err
	}

	bctx := NewBatchContext()
	bctx.PriceHistory = prices
	bctx.SmartWallets = smart
	for _, h := range history {
		firstSeen := h.FirstSeen
		bctx.WalletHistory[h.WalletAddress] = &WalletRecency{
			FirstSeen: &firstSeen,
			Recent:    h.RecentCount,
		}
	}
	return bctx, nil
}

// signalsToEvents converts engine emissions to persistable rows.
func signalsToEvents(signals []Signal) ([]*models.SignalEvent, error) {
	events := make([]*models.SignalEvent, 0, len(signals))
	for i := range signals {
		s := &signals[i]
		details, err := json.Marshal(s.Details)
		if err != nil {
			return nil, fmt.Errorf("signalsToEvents: %w", err)
		}
		wallet := s.WalletAddress
		side := s.Side
		observedAt := s.ObservedAt
		events = append(events, &models.SignalEvent{
			MarketID:      s.MarketID,
			WalletAddress: &wallet,
			Side:          &side,
			SignalType:    s.SignalType,
			Severity:      s.Severity,
			Score:         s.Score,
			DetailsJSON:   string(details),
			ObservedAt:    &observedAt,
		})
	}
	return events, nil
}

// backoffDelay doubles from base up to max.
func backoffDelay(base, max time.Duration, attempt int) time.Duration {
	delay := base
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay >= max {
			return max
		}
	}
	if delay > max {
		return max
	}
	return delay
}

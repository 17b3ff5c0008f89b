package app

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"polymarket-watch/cache"
	"polymarket-watch/clients/polymarket"
	"polymarket-watch/config"
	"polymarket-watch/database"
	models "polymarket-watch/database/models_pkg"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// activeAssetsKey is the Redis set holding the external ids of markets
// the live stream should be subscribed to.
const activeAssetsKey = "ingestion:active_assets"

// marketSnapshot is the in-memory view of one upserted market.
type marketSnapshot struct {
	id         int64
	externalID string
	status     string
	resolvedAt *time.Time
}

func (m *marketSnapshot) active() bool {
	switch m.status {
	case models.MarketStatusResolved, models.MarketStatusClosed, models.MarketStatusInactive:
		return false
	}
	return true
}

// IngestionWorker keeps the market registry fresh and polls each active
// market's trade feed on a jittered schedule. Every market has its own
// durable cursor; a poll's inserts and cursor advance commit in one
// transaction.
type IngestionWorker struct {
	repo   *database.Repository
	client *polymarket.Client
	stream *polymarket.Stream
	redis  *cache.RedisClient
	cfg    config.IngestionConfig
	logger *zap.Logger

	mu      sync.Mutex
	markets map[string]marketSnapshot

	done chan bool
}

// NewIngestionWorker creates the ingestion worker. stream and redis may
// be nil.
func NewIngestionWorker(
	repo *database.Repository,
	client *polymarket.Client,
	stream *polymarket.Stream,
	redis *cache.RedisClient,
	cfg config.IngestionConfig,
	logger *zap.Logger,
) *IngestionWorker {
	return &IngestionWorker{
		repo:    repo,
		client:  client,
		stream:  stream,
		redis:   redis,
		cfg:     cfg,
		logger:  logger,
		markets: make(map[string]marketSnapshot),
		done:    make(chan bool),
	}
}

// Start runs the poll loop until Stop is called.
func (w *IngestionWorker) Start() {
	w.logger.Info("ingestion worker started",
		zap.String("markets_url", w.cfg.MarketsURL),
		zap.String("trades_url", w.cfg.TradesURL),
		zap.Bool("stream", w.stream != nil))

	if w.stream != nil {
		go w.streamLoop()
	}

	pollSchedule := make(map[string]time.Time)
	var nextRefresh time.Time
	backoffAttempt := 0

	for {
		select {
		case <-w.done:
			w.logger.Info("ingestion worker stopped")
			return
		default:
		}

		now := time.Now()
		if !now.Before(nextRefresh) {
			if err := w.refreshMarkets(); err != nil {
				backoff := backoffDelay(
					time.Duration(w.cfg.BackoffBaseSeconds)*time.Second,
					time.Duration(w.cfg.BackoffMaxSeconds)*time.Second,
					backoffAttempt)
				backoffAttempt++
				w.logger.Error("market refresh failed", zap.Error(err), zap.Duration("backoff", backoff))
				w.sleep(backoff)
				continue
			}
			nextRefresh = now.Add(time.Duration(w.cfg.MarketsRefreshSeconds) * time.Second)
			for externalID := range pollSchedule {
				if _, ok := w.snapshot(externalID); !ok {
					delete(pollSchedule, externalID)
				}
			}
		}

		active := w.activeMarkets()
		if len(active) == 0 {
			w.sleep(w.jitteredInterval())
			continue
		}

		for _, market := range active {
			select {
			case <-w.done:
				return
			default:
			}
			if now.Before(pollSchedule[market.externalID]) {
				continue
			}
			inserted, latest, err := w.pollMarketTrades(market)
			if err != nil {
				// One bad feed must not starve the other markets.
				w.logger.Warn("trade poll failed",
					zap.String("market", market.externalID),
					zap.Error(err))
			} else if inserted > 0 {
				w.logger.Info("polled trades",
					zap.String("market", market.externalID),
					zap.Int64("inserted", inserted),
					zap.Timep("latest_at", latest))
			}
			pollSchedule[market.externalID] = time.Now().Add(w.jitteredInterval())
		}

		backoffAttempt = 0
		w.sleep(time.Second)
	}
}

// Stop terminates the loop and the stream, if any.
func (w *IngestionWorker) Stop() {
	close(w.done)
	if w.stream != nil {
		_ = w.stream.Close()
	}
}

func (w *IngestionWorker) sleep(d time.Duration) {
	select {
	case <-time.After(d):
	case <-w.done:
	}
}

func (w *IngestionWorker) jitteredInterval() time.Duration {
	min := time.Duration(w.cfg.PollMinSeconds) * time.Second
	max := time.Duration(w.cfg.PollMaxSeconds) * time.Second
	if max <= min {
		return min
	}
	return min + time.Duration(rand.Int63n(int64(max-min)))
}

func (w *IngestionWorker) snapshot(externalID string) (marketSnapshot, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	m, ok := w.markets[externalID]
	return m, ok
}

func (w *IngestionWorker) activeMarkets() []marketSnapshot {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]marketSnapshot, 0, len(w.markets))
	for _, m := range w.markets {
		if m.active() {
			out = append(out, m)
		}
	}
	return out
}

// refreshMarkets pulls the market index, upserts it, and rebuilds the
// in-memory registry. Newly active markets are pushed to the live
// stream subscription and the Redis asset set.
func (w *IngestionWorker) refreshMarkets() error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(w.cfg.ClientTimeoutSeconds)*time.Second)
	defer cancel()

	fetched, err := w.client.FetchMarkets(ctx)
	if err != nil {
		return err
	}

	rows := make([]*models.Market, 0, len(fetched))
	externalIDs := make([]string, 0, len(fetched))
	for _, m := range fetched {
		rows = append(rows, &models.Market{
			ExternalID: m.ExternalID,
			Name:       m.Name,
			Category:   m.Category,
			Status:     m.Status,
			ResolvedAt: m.ResolvedAt,
		})
		externalIDs = append(externalIDs, m.ExternalID)
	}
	if err := w.repo.Markets.Upsert(rows); err != nil {
		return err
	}
	stored, err := w.repo.Markets.GetByExternalIDs(externalIDs)
	if err != nil {
		return err
	}

	var newlyActive []string
	w.mu.Lock()
	fresh := make(map[string]marketSnapshot, len(stored))
	for _, m := range stored {
		snap := marketSnapshot{id: m.ID, externalID: m.ExternalID, status: m.Status, resolvedAt: m.ResolvedAt}
		fresh[m.ExternalID] = snap
		if snap.active() {
			if prev, ok := w.markets[m.ExternalID]; !ok || !prev.active() {
				newlyActive = append(newlyActive, m.ExternalID)
			}
		}
	}
	w.markets = fresh
	w.mu.Unlock()

	if len(newlyActive) > 0 {
		if w.redis != nil {
			if err := w.redis.SAdd(context.Background(), activeAssetsKey, newlyActive...); err != nil {
				w.logger.Warn("redis asset set update failed", zap.Error(err))
			}
		}
		if w.stream != nil {
			if err := w.stream.SubscribeAssets(newlyActive); err != nil {
				w.logger.Warn("stream subscribe failed", zap.Error(err))
			}
		}
	}

	w.logger.Info("refreshed markets", zap.Int("count", len(stored)))
	return nil
}

// pollMarketTrades fetches one market's recent trades and commits them
// together with the market's cursor. The cursor moves to the newest
// fetched traded_at, so overlap on the next poll is absorbed by the
// dedupe index rather than re-emitted.
func (w *IngestionWorker) pollMarketTrades(market marketSnapshot) (int64, *time.Time, error) {
	cursorKey := database.TradeCursorPrefix + market.externalID
	cursor, err := database.LoadTimeCursor(w.repo.DB(), cursorKey)
	if err != nil {
		return 0, nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(w.cfg.ClientTimeoutSeconds)*time.Second)
	defer cancel()
	fetched, err := w.client.FetchRecentTrades(ctx, market.externalID, cursor)
	if err != nil {
		return 0, nil, err
	}
	if len(fetched) == 0 {
		return 0, nil, nil
	}

	rows := make([]*models.Trade, 0, len(fetched))
	var latest time.Time
	for _, t := range fetched {
		if t.TradedAt.After(latest) {
			latest = t.TradedAt
		}
		rows = append(rows, &models.Trade{
			MarketID:      market.id,
			WalletAddress: t.WalletAddress,
			Side:          t.Side,
			Shares:        t.Shares,
			Price:         t.Price,
			TradedAt:      t.TradedAt,
			TradeHash:     t.TradeHash,
		})
	}

	var inserted int64
	err = w.repo.Transaction(func(tx *gorm.DB) error {
		n, err := w.repo.Trades.WithTx(tx).BatchInsertDedup(rows)
		if err != nil {
			return err
		}
		inserted = n
		return database.StoreTimeCursor(tx, cursorKey, latest)
	})
	if err != nil {
		return 0, nil, err
	}
	return inserted, &latest, nil
}

// streamLoop drains live trades into the same dedupe insert the poller
// uses. Stream inserts never advance poll cursors: the poller re-fetches
// the overlap and the dedupe index drops it.
func (w *IngestionWorker) streamLoop() {
	const flushInterval = 2 * time.Second
	buffer := make([]polymarket.Trade, 0, 128)
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case trade := <-w.stream.Trades():
			buffer = append(buffer, trade)
			if len(buffer) >= 128 {
				w.flushStreamTrades(buffer)
				buffer = buffer[:0]
			}
		case <-ticker.C:
			if len(buffer) > 0 {
				w.flushStreamTrades(buffer)
				buffer = buffer[:0]
			}
		}
	}
}

func (w *IngestionWorker) flushStreamTrades(batch []polymarket.Trade) {
	rows := make([]*models.Trade, 0, len(batch))
	for _, t := range batch {
		market, ok := w.snapshot(t.MarketExternalID)
		if !ok {
			continue
		}
		rows = append(rows, &models.Trade{
			MarketID:      market.id,
			WalletAddress: t.WalletAddress,
			Side:          t.Side,
			Shares:        t.Shares,
			Price:         t.Price,
			TradedAt:      t.TradedAt,
			TradeHash:     t.TradeHash,
		})
	}
	if len(rows) == 0 {
		return
	}
	inserted, err := w.repo.Trades.BatchInsertDedup(rows)
	if err != nil {
		w.logger.Warn("stream trade insert failed", zap.Error(err))
		return
	}
	if inserted > 0 {
		w.logger.Debug("streamed trades inserted", zap.Int64("inserted", inserted))
	}
}

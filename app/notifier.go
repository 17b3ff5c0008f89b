package app

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"polymarket-watch/cache"
	"polymarket-watch/config"
	"polymarket-watch/database"
	models "polymarket-watch/database/models_pkg"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	notifierBackoffBase = 5 * time.Second
	notifierBackoffMax  = 300 * time.Second
	notifierReasonLimit = 3
	notifierSignalLimit = 5

	marketInfoCacheTTL = 10 * time.Minute
)

// AlertSender delivers one rendered alert message.
type AlertSender interface {
	Send(text string) error
}

// NotifierWorker delivers actionable alerts in updated_at order. The
// cursor advances in the same transaction as the batch it covers, and a
// failed send aborts the transaction, so the batch is retried rather
// than silently skipped.
type NotifierWorker struct {
	repo   *database.Repository
	sender AlertSender
	redis  *cache.RedisClient
	logger *zap.Logger

	batchLimit   int
	walletsLimit int
	idleSleep    time.Duration
	done         chan bool
}

// NewNotifierWorker creates the notifier worker. redis may be nil.
func NewNotifierWorker(repo *database.Repository, sender AlertSender, redis *cache.RedisClient, cfg config.NotifierConfig, logger *zap.Logger) *NotifierWorker {
	return &NotifierWorker{
		repo:         repo,
		sender:       sender,
		redis:        redis,
		logger:       logger,
		batchLimit:   cfg.BatchLimit,
		walletsLimit: cfg.WalletsLimit,
		idleSleep:    time.Duration(cfg.IdleSleepSeconds) * time.Second,
		done:         make(chan bool),
	}
}

// Start runs the delivery loop until Stop is called.
func (w *NotifierWorker) Start() {
	w.logger.Info("notifier worker started", zap.Int("batch_limit", w.batchLimit))

	backoffAttempt := 0
	for {
		select {
		case <-w.done:
			w.logger.Info("notifier worker stopped")
			return
		default:
		}

		processed, err := w.processOnce()
		switch {
		case err != nil:
			backoff := backoffDelay(notifierBackoffBase, notifierBackoffMax, backoffAttempt)
			backoffAttempt++
			w.logger.Error("notifier pass failed", zap.Error(err), zap.Duration("backoff", backoff))
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
func (w *NotifierWorker) Stop() {
	close(w.done)
}

func (w *NotifierWorker) sleep(d time.Duration) {
	select {
	case <-time.After(d):
	case <-w.done:
	}
}

// processOnce delivers one batch of alerts past the cursor.
func (w *NotifierWorker) processOnce() (bool, error) {
	processed := false
	err := w.repo.Transaction(func(tx *gorm.DB) error {
		cursor, err := database.LoadTimeCursor(tx, database.NotifierCursorKey)
		if err != nil {
			return err
		}
		alerts, err := w.repo.Alerts.WithTx(tx).GetUpdatedAfter(cursor, w.batchLimit)
		if err != nil {
			return err
		}
		if len(alerts) == 0 {
			return nil
		}

		var latest time.Time
		if cursor != nil {
			latest = *cursor
		}
		sent := 0
		for i := range alerts {
			alert := &alerts[i]
			if alert.UpdatedAt.After(latest) {
				latest = alert.UpdatedAt
			}
			if alert.Status != models.AlertStatusWatch && alert.Status != models.AlertStatusHigh {
				continue
			}

			market, err := w.marketInfo(tx, alert.MarketID)
			if err != nil {
				return err
			}
			signals, err := w.repo.Signals.WithTx(tx).GetRecentForMarketSide(alert.MarketID, alert.Side, notifierSignalLimit)
			if err != nil {
				return err
			}
			message := BuildAlertMessage(alert, market, signals, w.walletsLimit)
			if err := w.sender.Send(message); err != nil {
				return err
			}
			sent++
		}

		if err := database.StoreTimeCursor(tx, database.NotifierCursorKey, latest); err != nil {
			return err
		}
		w.logger.Info("notifier pass",
			zap.Int("alerts", len(alerts)),
			zap.Int("sent", sent),
			zap.Time("cursor", latest))
		processed = true
		return nil
	})
	return processed, err
}

// marketInfo is the market context an alert message needs.
type marketInfo struct {
	Name       string `json:"name"`
	ExternalID string `json:"external_id"`
}

// marketInfo resolves a market's name and external id, consulting the
// Redis cache first.
func (w *NotifierWorker) marketInfo(tx *gorm.DB, marketID int64) (*marketInfo, error) {
	cacheKey := fmt.Sprintf("market:info:%d", marketID)
	if w.redis != nil {
		var cached marketInfo
		if err := w.redis.Get(context.Background(), cacheKey, &cached); err == nil {
			return &cached, nil
		}
	}

	market, err := w.repo.Markets.WithTx(tx).GetByID(marketID)
	if err != nil {
		return nil, err
	}
	if market == nil {
		return nil, nil
	}
	info := &marketInfo{Name: market.Name, ExternalID: market.ExternalID}
	if w.redis != nil {
		if err := w.redis.Set(context.Background(), cacheKey, info, marketInfoCacheTTL); err != nil {
			w.logger.Debug("market cache write failed", zap.Error(err))
		}
	}
	return info, nil
}

// BuildAlertMessage renders the plain-text alert: header, side and
// score, market link, top reasons by count, and the freshest
// contributing wallet lines.
func BuildAlertMessage(alert *models.Alert, market *marketInfo, signals []models.SignalEvent, walletsLimit int) string {
	title := fmt.Sprintf("market %d", alert.MarketID)
	link := ""
	if market != nil {
		if market.Name != "" {
			title = market.Name
		}
		if market.ExternalID != "" {
			link = "https://polymarket.com/market/" + market.ExternalID
		}
	}

	side := alert.Side
	if side == "" {
		side = "n/a"
	}
	status := alert.Status
	if status == "" {
		status = models.AlertStatusWatch
	}
	scoreFloat, _ := alert.Score.Float64()

	parts := []string{
		fmt.Sprintf("ALERT [%s] %s", status, title),
		fmt.Sprintf("side=%s score=%.2f", side, scoreFloat),
	}
	if link != "" {
		parts = append(parts, "link: "+link)
	}
	if reasons := formatReasons(alert.WhyJSON); len(reasons) > 0 {
		parts = append(parts, "reasons: "+strings.Join(reasons, " | "))
	}
	if walletsLimit < len(signals) {
		signals = signals[:walletsLimit]
	}
	if wallets := formatWallets(signals); len(wallets) > 0 {
		parts = append(parts, "wallets: "+strings.Join(wallets, " | "))
	}
	return strings.Join(parts, "\n")
}

// formatReasons extracts the top signal counts from the why payload,
// highest count first with name as tie-break.
func formatReasons(whyJSON string) []string {
	if whyJSON == "" {
		return nil
	}
	var why struct {
		CountsBySignal map[string]int `json:"counts_by_signal"`
	}
	if err := json.Unmarshal([]byte(whyJSON), &why); err != nil {
		return nil
	}

	type reason struct {
		signalType string
		count      int
	}
	reasons := make([]reason, 0, len(why.CountsBySignal))
	for signalType, count := range why.CountsBySignal {
		reasons = append(reasons, reason{signalType: signalType, count: count})
	}
	sort.Slice(reasons, func(i, j int) bool {
		if reasons[i].count != reasons[j].count {
			return reasons[i].count > reasons[j].count
		}
		return reasons[i].signalType < reasons[j].signalType
	})

	if len(reasons) > notifierReasonLimit {
		reasons = reasons[:notifierReasonLimit]
	}
	lines := make([]string, 0, len(reasons))
	for _, r := range reasons {
		lines = append(lines, fmt.Sprintf("%s x%d", r.signalType, r.count))
	}
	return lines
}

// formatWallets renders one line per contributing signal from its
// details payload.
func formatWallets(signals []models.SignalEvent) []string {
	lines := make([]string, 0, len(signals))
	for i := range signals {
		s := &signals[i]
		var details map[string]interface{}
		if s.DetailsJSON != "" {
			_ = json.Unmarshal([]byte(s.DetailsJSON), &details)
		}
		notional := detailString(details, "notional", "total_notional")
		price := detailString(details, "price")
		shares := detailString(details, "shares", "amount")
		wallet := "wallet?"
		if s.WalletAddress != nil && *s.WalletAddress != "" {
			wallet = *s.WalletAddress
		}
		ts := s.At().UTC().Format(time.RFC3339Nano)
		lines = append(lines, fmt.Sprintf("%s size=%s@%s notional=%s at %s", wallet, shares, price, notional, ts))
	}
	return lines
}

func detailString(details map[string]interface{}, keys ...string) string {
	for _, key := range keys {
		if v, ok := details[key]; ok && v != nil {
			if s, isStr := v.(string); isStr {
				if s != "" {
					return s
				}
				continue
			}
			return fmt.Sprintf("%v", v)
		}
	}
	return "n/a"
}

package trades

import (
	"fmt"
	"time"

	models "polymarket-watch/database/models_pkg"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository handles database operations for trade data
type Repository struct {
	db *gorm.DB
}

// NewRepository creates a new trades repository
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// WithTx returns a repository bound to the given transaction.
func (r *Repository) WithTx(tx *gorm.DB) *Repository {
	return &Repository{db: tx}
}

// WalletHistory summarizes a wallet's pre-batch activity.
type WalletHistory struct {
	WalletAddress string    `json:"wallet_address"`
	FirstSeen     time.Time `json:"first_seen"`
	RecentCount   int       `json:"recent_count"`
}

// PricePoint is one (traded_at, price) observation on a market's tape.
type PricePoint struct {
	TradedAt time.Time       `json:"traded_at"`
	Price    decimal.Decimal `json:"price"`
}

// BatchInsertDedup inserts trades, silently skipping rows that collide
// with the composite dedupe index or the trade-hash index. Returns the
// number of rows actually accepted.
func (r *Repository) BatchInsertDedup(rows []*models.Trade) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	res := r.db.Clauses(clause.OnConflict{DoNothing: true}).CreateInBatches(rows, 100)
	if res.Error != nil {
		return 0, fmt.Errorf("BatchInsertDedup: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// GetAfter returns up to limit trades strictly after the cursor, in
// (traded_at, id) order. The id tie-break keeps replay deterministic
// when several trades share a timestamp.
func (r *Repository) GetAfter(cursor *time.Time, limit int) ([]models.Trade, error) {
	var rows []models.Trade
	query := r.db.Order("traded_at ASC, id ASC").Limit(limit)
	if cursor != nil {
		query = query.Where("traded_at > ?", *cursor)
	}
	if err := query.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("GetAfter: %w", err)
	}
	return rows, nil
}

// GetWalletHistory returns, for each wallet, its first-ever traded_at
// before the given instant and the count of its trades in the window
// [before-recentWindow, before).
func (r *Repository) GetWalletHistory(wallets []string, before time.Time, recentWindow time.Duration) (map[string]WalletHistory, error) {
	out := make(map[string]WalletHistory, len(wallets))
	if len(wallets) == 0 {
		return out, nil
	}
	recentCutoff := before.Add(-recentWindow)

	var rows []WalletHistory
	query := `
		SELECT
			wallet_address,
			MIN(traded_at) AS first_seen,
			COUNT(*) FILTER (WHERE traded_at >= ?) AS recent_count
		FROM trades
		WHERE wallet_address IN ? AND traded_at < ?
		GROUP BY wallet_address
	`
	if err := r.db.Raw(query, recentCutoff, wallets, before).Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("GetWalletHistory: %w", err)
	}
	for _, row := range rows {
		out[row.WalletAddress] = row
	}
	return out, nil
}

// GetMarketPriceHistory returns, per market, the last limitPerMarket
// (traded_at, price) observations strictly before the given instant,
// oldest first.
func (r *Repository) GetMarketPriceHistory(marketIDs []int64, before time.Time, limitPerMarket int) (map[int64][]PricePoint, error) {
	out := make(map[int64][]PricePoint, len(marketIDs))
	if len(marketIDs) == 0 {
		return out, nil
	}

	var rows []struct {
		MarketID int64
		TradedAt time.Time
		Price    decimal.Decimal
	}
	query := `
		SELECT market_id, traded_at, price FROM (
			SELECT market_id, traded_at, price,
				ROW_NUMBER() OVER (PARTITION BY market_id ORDER BY traded_at DESC, id DESC) AS rn
			FROM trades
			WHERE market_id IN ? AND traded_at < ?
		) ranked
		WHERE rn <= ?
		ORDER BY market_id, traded_at ASC
	`
	if err := r.db.Raw(query, marketIDs, before, limitPerMarket).Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("GetMarketPriceHistory: %w", err)
	}
	for _, row := range rows {
		out[row.MarketID] = append(out[row.MarketID], PricePoint{TradedAt: row.TradedAt, Price: row.Price})
	}
	return out, nil
}

// GetPriceAt returns the trade price closest to target within ±tolerance,
// or nil when the tape has no observation in that window.
func (r *Repository) GetPriceAt(marketID int64, target time.Time, tolerance time.Duration) (*decimal.Decimal, error) {
	var row struct {
		Price decimal.Decimal
	}
	query := `
		SELECT price
		FROM trades
		WHERE market_id = ? AND traded_at >= ? AND traded_at <= ?
		ORDER BY ABS(EXTRACT(EPOCH FROM (traded_at - ?::timestamptz)))
		LIMIT 1
	`
	res := r.db.Raw(query, marketID, target.Add(-tolerance), target.Add(tolerance), target).Scan(&row)
	if res.Error != nil {
		return nil, fmt.Errorf("GetPriceAt: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, nil
	}
	return &row.Price, nil
}

// GetLastPriceBefore returns the most recent trade price at or before ts.
func (r *Repository) GetLastPriceBefore(marketID int64, ts time.Time) (*decimal.Decimal, error) {
	var row models.Trade
	err := r.db.
		Where("market_id = ? AND traded_at <= ?", marketID, ts).
		Order("traded_at DESC, id DESC").
		First(&row).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("GetLastPriceBefore: %w", err)
	}
	return &row.Price, nil
}

// GetWalletTrades returns a wallet's trades strictly before the cutoff,
// oldest first.
func (r *Repository) GetWalletTrades(wallet string, before time.Time) ([]models.Trade, error) {
	var rows []models.Trade
	err := r.db.
		Where("wallet_address = ? AND traded_at < ?", wallet, before).
		Order("traded_at ASC, id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("GetWalletTrades: %w", err)
	}
	return rows, nil
}

// GetActiveWallets returns the distinct wallets with at least one trade
// in [since, before).
func (r *Repository) GetActiveWallets(since, before time.Time) ([]string, error) {
	var wallets []string
	err := r.db.Model(&models.Trade{}).
		Where("traded_at >= ? AND traded_at < ?", since, before).
		Distinct("wallet_address").
		Pluck("wallet_address", &wallets).Error
	if err != nil {
		return nil, fmt.Errorf("GetActiveWallets: %w", err)
	}
	return wallets, nil
}

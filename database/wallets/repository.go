package wallets

import (
	"fmt"
	"time"

	models "polymarket-watch/database/models_pkg"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository handles database operations for wallet accuracy stats
type Repository struct {
	db *gorm.DB
}

// NewRepository creates a new wallets repository
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// WithTx returns a repository bound to the given transaction.
func (r *Repository) WithTx(tx *gorm.DB) *Repository {
	return &Repository{db: tx}
}

// UpsertStats writes a wallet's full recomputed stats, keyed by
// wallet_address. The profiler recomputes from scratch each pass, so the
// update overwrites rather than accumulates.
func (r *Repository) UpsertStats(row *models.WalletStats) error {
	err := r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "wallet_address"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"total_trades":           gorm.Expr("excluded.total_trades"),
			"evaluated_trades":       gorm.Expr("excluded.evaluated_trades"),
			"correct_15m":            gorm.Expr("excluded.correct_15m"),
			"correct_1h":             gorm.Expr("excluded.correct_1h"),
			"correct_4h":             gorm.Expr("excluded.correct_4h"),
			"accuracy_score":         gorm.Expr("excluded.accuracy_score"),
			"avg_delta_when_correct": gorm.Expr("excluded.avg_delta_when_correct"),
			"total_notional":         gorm.Expr("excluded.total_notional"),
			"current_streak":         gorm.Expr("excluded.current_streak"),
			"best_streak":            gorm.Expr("excluded.best_streak"),
			"updated_at":             time.Now().UTC(),
		}),
	}).Create(row).Error
	if err != nil {
		return fmt.Errorf("UpsertStats: %w", err)
	}
	return nil
}

// GetQualifying returns, keyed by wallet address, the stats rows among
// the given wallets that meet the smart-wallet thresholds. Wallets with
// no row, too few evaluated trades, or a null accuracy score are simply
// absent from the result.
func (r *Repository) GetQualifying(walletAddrs []string, minEvaluated int, minAccuracy decimal.Decimal) (map[string]models.WalletStats, error) {
	out := make(map[string]models.WalletStats, len(walletAddrs))
	if len(walletAddrs) == 0 {
		return out, nil
	}
	var rows []models.WalletStats
	err := r.db.
		Where("wallet_address IN ?", walletAddrs).
		Where("evaluated_trades >= ?", minEvaluated).
		Where("accuracy_score >= ?", minAccuracy).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("GetQualifying: %w", err)
	}
	for _, row := range rows {
		out[row.WalletAddress] = row
	}
	return out, nil
}

// GetByWallet returns a wallet's stats row, or nil when absent.
func (r *Repository) GetByWallet(wallet string) (*models.WalletStats, error) {
	var row models.WalletStats
	err := r.db.Where("wallet_address = ?", wallet).First(&row).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("GetByWallet: %w", err)
	}
	return &row, nil
}

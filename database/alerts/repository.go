package alerts

import (
	"fmt"
	"time"

	models "polymarket-watch/database/models_pkg"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository handles database operations for alerts and backtest results
type Repository struct {
	db *gorm.DB
}

// NewRepository creates a new alerts repository
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// WithTx returns a repository bound to the given transaction.
func (r *Repository) WithTx(tx *gorm.DB) *Repository {
	return &Repository{db: tx}
}

// Upsert writes alerts keyed by (market_id, side, event_type).
// Conflicting inserts degrade to updates, and updated_at is refreshed on
// every write so the notifier cursor picks re-scores up — even when the
// status and score are unchanged.
func (r *Repository) Upsert(rows []*models.Alert) error {
	if len(rows) == 0 {
		return nil
	}
	err := r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "market_id"}, {Name: "side"}, {Name: "event_type"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"status":     gorm.Expr("excluded.status"),
			"score":      gorm.Expr("excluded.score"),
			"why_json":   gorm.Expr("excluded.why_json"),
			"message":    gorm.Expr("excluded.message"),
			"updated_at": time.Now().UTC(),
		}),
	}).Create(rows).Error
	if err != nil {
		return fmt.Errorf("Upsert: %w", err)
	}
	return nil
}

// GetUpdatedAfter returns up to limit alerts with updated_at strictly
// after the cursor, oldest first.
func (r *Repository) GetUpdatedAfter(cursor *time.Time, limit int) ([]models.Alert, error) {
	var rows []models.Alert
	query := r.db.Order("updated_at ASC").Limit(limit)
	if cursor != nil {
		query = query.Where("updated_at > ?", *cursor)
	}
	if err := query.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("GetUpdatedAfter: %w", err)
	}
	return rows, nil
}

// GetWithoutBacktest returns alerts that have no backtest row yet.
func (r *Repository) GetWithoutBacktest(limit int) ([]models.Alert, error) {
	var rows []models.Alert
	err := r.db.
		Joins("LEFT JOIN backtest_results ON backtest_results.alert_id = alerts.id").
		Where("backtest_results.alert_id IS NULL").
		Order("alerts.created_at ASC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("GetWithoutBacktest: %w", err)
	}
	return rows, nil
}

// SaveBacktest creates a backtest row for an alert; repeat saves for the
// same alert are ignored.
func (r *Repository) SaveBacktest(row *models.BacktestResult) error {
	err := r.db.Clauses(clause.OnConflict{DoNothing: true}).Create(row).Error
	if err != nil {
		return fmt.Errorf("SaveBacktest: %w", err)
	}
	return nil
}

// GetPendingBacktests returns backtest rows created within maxAge that
// still have an unfilled horizon.
func (r *Repository) GetPendingBacktests(maxAge time.Duration) ([]models.BacktestResult, error) {
	var rows []models.BacktestResult
	err := r.db.
		Where("alert_time >= ?", time.Now().UTC().Add(-maxAge)).
		Where("price_15m IS NULL OR price_1h IS NULL OR price_4h IS NULL").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("GetPendingBacktests: %w", err)
	}
	return rows, nil
}

// UpdateBacktest applies partial horizon fills to a backtest row.
func (r *Repository) UpdateBacktest(alertID int64, updates map[string]interface{}) error {
	if len(updates) == 0 {
		return nil
	}
	err := r.db.Model(&models.BacktestResult{}).
		Where("alert_id = ?", alertID).
		Updates(updates).Error
	if err != nil {
		return fmt.Errorf("UpdateBacktest: %w", err)
	}
	return nil
}

package signals

import (
	"fmt"
	"time"

	models "polymarket-watch/database/models_pkg"

	"gorm.io/gorm"
)

// Repository handles database operations for signal events
type Repository struct {
	db *gorm.DB
}

// NewRepository creates a new signals repository
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// WithTx returns a repository bound to the given transaction.
func (r *Repository) WithTx(tx *gorm.DB) *Repository {
	return &Repository{db: tx}
}

// BatchInsert appends signal events. Signals are append-only: no
// conflict handling, surrogate ids only.
func (r *Repository) BatchInsert(rows []*models.SignalEvent) error {
	if len(rows) == 0 {
		return nil
	}
	if err := r.db.CreateInBatches(rows, 100).Error; err != nil {
		return fmt.Errorf("BatchInsert: %w", err)
	}
	return nil
}

// GetMaxIDAfter returns the largest signal id strictly greater than the
// cursor, or 0 when no such signal exists. Used only to gate whether an
// aggregation pass is needed.
func (r *Repository) GetMaxIDAfter(cursor int64) (int64, error) {
	var maxID *int64
	query := r.db.Model(&models.SignalEvent{}).Select("MAX(id)")
	if cursor > 0 {
		query = query.Where("id > ?", cursor)
	}
	if err := query.Scan(&maxID).Error; err != nil {
		return 0, fmt.Errorf("GetMaxIDAfter: %w", err)
	}
	if maxID == nil {
		return 0, nil
	}
	return *maxID, nil
}

// GetRecentWindow returns every signal observed or created at/after the
// cutoff. The aggregation pass deliberately ignores the id cursor here:
// older signals still inside the window keep contributing to scores.
func (r *Repository) GetRecentWindow(cutoff time.Time) ([]models.SignalEvent, error) {
	var rows []models.SignalEvent
	err := r.db.
		Where("observed_at >= ? OR created_at >= ?", cutoff, cutoff).
		Order("id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("GetRecentWindow: %w", err)
	}
	return rows, nil
}

// GetRecentForMarketSide returns the latest signals on a (market, side),
// newest first, for alert message context.
func (r *Repository) GetRecentForMarketSide(marketID int64, side string, limit int) ([]models.SignalEvent, error) {
	var rows []models.SignalEvent
	err := r.db.
		Where("market_id = ? AND side = ?", marketID, side).
		Order("observed_at DESC, created_at DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("GetRecentForMarketSide: %w", err)
	}
	return rows, nil
}

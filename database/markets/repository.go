package markets

import (
	"fmt"
	"time"

	models "polymarket-watch/database/models_pkg"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository handles database operations for markets
type Repository struct {
	db *gorm.DB
}

// NewRepository creates a new markets repository
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// WithTx returns a repository bound to the given transaction.
func (r *Repository) WithTx(tx *gorm.DB) *Repository {
	return &Repository{db: tx}
}

// Upsert inserts or refreshes markets keyed by external_id. Only the
// mutable attributes are touched on conflict; created_at survives.
func (r *Repository) Upsert(rows []*models.Market) error {
	if len(rows) == 0 {
		return nil
	}
	err := r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "external_id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"name":        gorm.Expr("excluded.name"),
			"category":    gorm.Expr("excluded.category"),
			"status":      gorm.Expr("excluded.status"),
			"resolved_at": gorm.Expr("excluded.resolved_at"),
			"updated_at":  time.Now().UTC(),
		}),
	}).Create(rows).Error
	if err != nil {
		return fmt.Errorf("Upsert: %w", err)
	}
	return nil
}

// GetByExternalIDs returns the markets matching the given external ids.
func (r *Repository) GetByExternalIDs(externalIDs []string) ([]models.Market, error) {
	if len(externalIDs) == 0 {
		return nil, nil
	}
	var rows []models.Market
	if err := r.db.Where("external_id IN ?", externalIDs).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("GetByExternalIDs: %w", err)
	}
	return rows, nil
}

// GetByID retrieves a market by primary key. Returns nil when absent.
func (r *Repository) GetByID(id int64) (*models.Market, error) {
	var row models.Market
	err := r.db.First(&row, id).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("GetByID: %w", err)
	}
	return &row, nil
}

// GetByIDs returns markets keyed by primary key.
func (r *Repository) GetByIDs(ids []int64) (map[int64]models.Market, error) {
	out := make(map[int64]models.Market, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var rows []models.Market
	if err := r.db.Where("id IN ?", ids).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("GetByIDs: %w", err)
	}
	for _, m := range rows {
		out[m.ID] = m
	}
	return out, nil
}

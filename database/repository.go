package database

import (
	"fmt"

	"polymarket-watch/database/alerts"
	"polymarket-watch/database/markets"
	models "polymarket-watch/database/models_pkg"
	"polymarket-watch/database/signals"
	"polymarket-watch/database/trades"
	"polymarket-watch/database/wallets"

	"gorm.io/gorm"
)

// Repository bundles the per-entity repositories behind one handle. The
// workers receive this and pick the pieces they need; transactional
// sections rebind a sub-repository onto the tx with WithTx.
type Repository struct {
	db *gorm.DB

	Markets *markets.Repository
	Trades  *trades.Repository
	Signals *signals.Repository
	Alerts  *alerts.Repository
	Wallets *wallets.Repository
}

// NewRepository creates the repository facade over a connected database.
func NewRepository(d *Database) *Repository {
	db := d.DB()
	return &Repository{
		db:      db,
		Markets: markets.NewRepository(db),
		Trades:  trades.NewRepository(db),
		Signals: signals.NewRepository(db),
		Alerts:  alerts.NewRepository(db),
		Wallets: wallets.NewRepository(db),
	}
}

// DB returns the underlying GORM handle.
func (r *Repository) DB() *gorm.DB {
	return r.db
}

// Transaction runs fn inside a single database transaction.
func (r *Repository) Transaction(fn func(tx *gorm.DB) error) error {
	return r.db.Transaction(fn)
}

// InitSchema migrates all tables and records a healthcheck row proving
// write access. AutoMigrate creates the unique indexes that the upsert
// paths rely on (trades dedupe composite, trade hash, alerts
// market/side/event_type, wallet_stats wallet_address).
func (r *Repository) InitSchema() error {
	err := r.db.AutoMigrate(
		&models.Healthcheck{},
		&models.Market{},
		&models.Trade{},
		&models.SignalEvent{},
		&models.Alert{},
		&models.WalletStats{},
		&models.BacktestResult{},
		&models.AppState{},
	)
	if err != nil {
		return fmt.Errorf("InitSchema: %w", err)
	}

	if err := r.db.Create(&models.Healthcheck{}).Error; err != nil {
		return fmt.Errorf("InitSchema healthcheck: %w", err)
	}
	return nil
}

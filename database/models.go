// Package database provides connection management and the repository
// facade for the polymarket-watch store.
//
// The store is the only shared mutable resource in the pipeline: five
// workers coordinate exclusively through its tables and the durable
// cursors in app_state. All multi-row writes are enclosed in a single
// transaction, and cursor updates ride in the same transaction as the
// data they acknowledge.
package database

import (
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	models "polymarket-watch/database/models_pkg"
)

// Database holds the GORM database connection and provides access to the
// underlying DB instance.
type Database struct {
	db *gorm.DB
}

// DB returns the underlying GORM database instance for direct access when needed.
func (d *Database) DB() *gorm.DB {
	return d.db
}

// Connect establishes the database connection: a lib/pq pool first (pool
// sizing, fail-fast ping), then GORM opened on top of it.
func Connect(host, port, dbname, user, password string) (*Database, error) {
	conn, err := NewConnection(Config{
		Host:     host,
		Port:     port,
		User:     user,
		Password: password,
		DBName:   dbname,
	})
	if err != nil {
		return nil, err
	}

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: conn}), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent), // Silent logging for production
	})
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return &Database{db: db}, nil
}

// Close closes the database connection
func (d *Database) Close() error {
	sqlDB, err := d.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// ============================================================================
// Type Aliases
// ============================================================================

// Core data models re-exported so workers don't need to import models_pkg
// directly.

type Healthcheck = models.Healthcheck
type Market = models.Market
type Trade = models.Trade
type SignalEvent = models.SignalEvent
type Alert = models.Alert
type WalletStats = models.WalletStats
type BacktestResult = models.BacktestResult
type AppState = models.AppState

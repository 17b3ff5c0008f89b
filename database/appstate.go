package database

import (
	"fmt"
	"strconv"
	"time"

	models "polymarket-watch/database/models_pkg"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Durable cursor keys. Every worker resumes from its cursor; values are
// monotone non-decreasing by construction.
const (
	TradeCursorPrefix = "cursor:trades:" // + market external id
	SignalCursorKey   = "cursor:signals:last_trade_at"
	ScoringCursorKey  = "cursor:scoring:last_signal_id"
	NotifierCursorKey = "cursor:notifier:last_alert_ts"
)

// Cursor helpers are package functions over a *gorm.DB rather than
// repository methods so they compose with whatever transaction the
// caller already holds: a cursor update must commit atomically with the
// batch it acknowledges.

// LoadState reads a raw app_state value. The second return is false when
// the key is absent.
func LoadState(db *gorm.DB, key string) (string, bool, error) {
	var row models.AppState
	err := db.Where("key = ?", key).First(&row).Error
	if err == gorm.ErrRecordNotFound {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("LoadState %q: %w", key, err)
	}
	return row.Value, true, nil
}

// StoreState upserts a raw app_state value.
func StoreState(db *gorm.DB, key, value string) error {
	err := db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "key"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"value":      value,
			"updated_at": time.Now().UTC(),
		}),
	}).Create(&models.AppState{Key: key, Value: value}).Error
	if err != nil {
		return fmt.Errorf("StoreState %q: %w", key, err)
	}
	return nil
}

// LoadTimeCursor reads an RFC 3339 cursor. Unparsable values are treated
// as absent so a corrupted cursor re-reads from the beginning instead of
// wedging the worker.
func LoadTimeCursor(db *gorm.DB, key string) (*time.Time, error) {
	value, ok, err := LoadState(db, key)
	if err != nil || !ok || value == "" {
		return nil, err
	}
	ts, perr := time.Parse(time.RFC3339Nano, value)
	if perr != nil {
		return nil, nil
	}
	ts = ts.UTC()
	return &ts, nil
}

// StoreTimeCursor writes an RFC 3339 cursor.
func StoreTimeCursor(db *gorm.DB, key string, ts time.Time) error {
	return StoreState(db, key, ts.UTC().Format(time.RFC3339Nano))
}

// LoadIntCursor reads an integer cursor; 0 when absent or unparsable.
func LoadIntCursor(db *gorm.DB, key string) (int64, error) {
	value, ok, err := LoadState(db, key)
	if err != nil || !ok || value == "" {
		return 0, err
	}
	n, perr := strconv.ParseInt(value, 10, 64)
	if perr != nil {
		return 0, nil
	}
	return n, nil
}

// StoreIntCursor writes an integer cursor.
func StoreIntCursor(db *gorm.DB, key string, n int64) error {
	return StoreState(db, key, strconv.FormatInt(n, 10))
}

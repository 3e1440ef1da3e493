package store

import (
	"context"
	"fmt"

	"github.com/vesaa/homewatch/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DefaultListLimit is used when List is called with a non-positive limit.
const DefaultListLimit = 100

// AlertLedger is the only writer of alert rows. Producers raise and clear
// by deduplication key; readers list.
type AlertLedger struct {
	db *gorm.DB
}

// NewAlertLedger wraps an open, migrated database.
func NewAlertLedger(db *gorm.DB) *AlertLedger {
	return &AlertLedger{db: db}
}

// Raise inserts a new active alert unless one is already active for
// a.DedupKey, in which case nothing is written and created is false.
// The check is the unique index itself, so concurrent raises for one key
// can never both succeed.
func (l *AlertLedger) Raise(ctx context.Context, a models.Alert) (bool, error) {
	if a.DedupKey == "" {
		return false, fmt.Errorf("raise alert: empty dedup key")
	}
	row := models.Alert{
		TS:       a.TS,
		Source:   a.Source,
		Level:    a.Level,
		Title:    a.Title,
		Message:  a.Message,
		DedupKey: a.DedupKey,
		Active:   true,
	}
	res := l.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&row)
	if res.Error != nil {
		return false, fmt.Errorf("raise alert %s: %w", a.DedupKey, res.Error)
	}
	return res.RowsAffected > 0, nil
}

// Clear marks every active alert with key as cleared at clearedTS and
// returns how many rows changed.
func (l *AlertLedger) Clear(ctx context.Context, key string, clearedTS int64) (int64, error) {
	res := l.db.WithContext(ctx).
		Model(&models.Alert{}).
		Where("dedup_key = ? AND active = ?", key, true).
		Updates(map[string]any{
			"active":     false,
			"cleared_ts": clearedTS,
		})
	if res.Error != nil {
		return 0, fmt.Errorf("clear alert %s: %w", key, res.Error)
	}
	return res.RowsAffected, nil
}

// List returns alerts newest first, optionally only active ones.
func (l *AlertLedger) List(ctx context.Context, activeOnly bool, limit int) ([]models.Alert, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	q := l.db.WithContext(ctx).Model(&models.Alert{})
	if activeOnly {
		q = q.Where("active = ?", true)
	}
	var out []models.Alert
	if err := q.Order("ts desc").Order("id desc").Limit(limit).Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list alerts: %w", err)
	}
	return out, nil
}

// ActiveKeysWithPrefix returns the keys of all active alerts starting with
// prefix. The comparison is exact and case-sensitive.
func (l *AlertLedger) ActiveKeysWithPrefix(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	err := l.db.WithContext(ctx).
		Model(&models.Alert{}).
		Where("active = ? AND substr(dedup_key, 1, ?) = ?", true, len(prefix), prefix).
		Order("dedup_key").
		Pluck("dedup_key", &keys).Error
	if err != nil {
		return nil, fmt.Errorf("active keys %q: %w", prefix, err)
	}
	return keys, nil
}

// Package models defines GORM data models for homewatch.
package models

// Level is an alert severity.
type Level string

const (
	LevelInfo Level = "info"
	LevelWarn Level = "warn"
	LevelCrit Level = "crit"
)

// Alert sources used by the loops.
const (
	SourceNetwork = "network"
	SourceService = "service"
	SourceWeather = "weather"
)

// Alert is one raised condition in the alert ledger.
// At most one row with Active = true may exist per DedupKey; the store
// enforces that with a partial unique index. Rows are never deleted, only
// cleared, so the table doubles as alert history.
type Alert struct {
	ID        uint   `gorm:"primaryKey" json:"id"`
	TS        int64  `gorm:"column:ts;index;not null" json:"ts"` // unix seconds
	Source    string `gorm:"not null" json:"source"`
	Level     Level  `gorm:"not null" json:"level"`
	Title     string `gorm:"not null" json:"title"`
	Message   string `gorm:"not null" json:"message"`
	DedupKey  string `gorm:"column:dedup_key;index;not null" json:"key"`
	Active    bool   `gorm:"index;not null" json:"active"`
	ClearedTS *int64 `gorm:"column:cleared_ts" json:"cleared_ts,omitempty"`
}

// TableName pins the table name.
func (Alert) TableName() string { return "alerts" }

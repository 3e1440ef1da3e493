package models

import (
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ProbeRun summarizes one completed probing cycle.
type ProbeRun struct {
	ID           string `gorm:"primaryKey" json:"id"`
	StartedTS    int64  `gorm:"column:started_ts;index;not null" json:"started_ts"`
	FinishedTS   int64  `gorm:"column:finished_ts;not null" json:"finished_ts"`
	Devices      int    `json:"devices"`
	Up           int    `json:"up"`
	Down         int    `json:"down"`
	ServicesUp   int    `json:"services_up"`
	ServicesDown int    `json:"services_down"`
}

func (ProbeRun) TableName() string { return "probe_runs" }

func (r *ProbeRun) BeforeCreate(tx *gorm.DB) error {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	return nil
}

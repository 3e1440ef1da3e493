package store

import (
	"context"
	"fmt"

	"github.com/vesaa/homewatch/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SampleStore holds device and service health samples: an append-only
// history plus one current-status row per device IP / service key.
type SampleStore struct {
	db *gorm.DB
}

// NewSampleStore wraps an open, migrated database.
func NewSampleStore(db *gorm.DB) *SampleStore {
	return &SampleStore{db: db}
}

// RecordDevice appends a history row and upserts the current status for s.IP.
func (s *SampleStore) RecordDevice(ctx context.Context, d models.DeviceSample) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		hist := models.DeviceHistory{
			TS:        d.TS,
			IP:        d.IP,
			Name:      d.Name,
			Type:      d.Type,
			IsUp:      d.IsUp,
			LatencyMS: d.LatencyMS,
		}
		if err := tx.Create(&hist).Error; err != nil {
			return err
		}

		status := models.DeviceStatus{
			IP:         d.IP,
			Name:       d.Name,
			Type:       d.Type,
			IsUp:       d.IsUp,
			LatencyMS:  d.LatencyMS,
			LastSeenTS: d.TS,
		}
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "ip"}},
			DoUpdates: clause.AssignmentColumns([]string{"name", "type", "is_up", "latency_ms", "last_seen_ts"}),
		}).Create(&status).Error
	})
	if err != nil {
		return fmt.Errorf("record device %s: %w", d.IP, err)
	}
	return nil
}

// RecordService appends a history row and upserts the current status for
// s.Key. last_ok_ts is only set when the check passed; a failed check keeps
// the previous value.
func (s *SampleStore) RecordService(ctx context.Context, sv models.ServiceSample) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		hist := models.ServiceHistory{
			TS:          sv.TS,
			SvcKey:      sv.Key,
			IP:          sv.IP,
			DeviceName:  sv.DeviceName,
			ServiceName: sv.ServiceName,
			ServiceType: sv.ServiceType,
			Port:        sv.Port,
			Path:        sv.Path,
			IsUp:        sv.IsUp,
		}
		if err := tx.Create(&hist).Error; err != nil {
			return err
		}

		status := models.ServiceStatus{
			SvcKey:        sv.Key,
			IP:            sv.IP,
			DeviceName:    sv.DeviceName,
			ServiceName:   sv.ServiceName,
			ServiceType:   sv.ServiceType,
			Port:          sv.Port,
			Path:          sv.Path,
			IsUp:          sv.IsUp,
			LastCheckedTS: sv.TS,
		}
		if sv.IsUp {
			ts := sv.TS
			status.LastOKTS = &ts
		}

		updates := clause.AssignmentColumns([]string{
			"ip", "device_name", "service_name", "service_type", "port", "path", "is_up", "last_checked_ts",
		})
		updates = append(updates, clause.Assignment{
			Column: clause.Column{Name: "last_ok_ts"},
			Value:  gorm.Expr("COALESCE(excluded.last_ok_ts, service_status.last_ok_ts)"),
		})
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "svc_key"}},
			DoUpdates: updates,
		}).Create(&status).Error
	})
	if err != nil {
		return fmt.Errorf("record service %s: %w", sv.Key, err)
	}
	return nil
}

// PruneServices deletes current-status rows whose key is not in validKeys
// and returns how many were removed. An empty set deletes every row.
// History rows are never touched.
func (s *SampleStore) PruneServices(ctx context.Context, validKeys []string) (int64, error) {
	q := s.db.WithContext(ctx)
	if len(validKeys) == 0 {
		q = q.Where("1 = 1")
	} else {
		q = q.Where("svc_key NOT IN ?", validKeys)
	}
	res := q.Delete(&models.ServiceStatus{})
	if res.Error != nil {
		return 0, fmt.Errorf("prune services: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// LatestDeviceStatus returns every device's current status, down devices
// first, then by name.
func (s *SampleStore) LatestDeviceStatus(ctx context.Context) ([]models.DeviceStatus, error) {
	var out []models.DeviceStatus
	err := s.db.WithContext(ctx).
		Order("is_up asc").
		Order("name asc").
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("latest device status: %w", err)
	}
	return out, nil
}

// ServicesForDevice returns the current service rows for ip by service name.
func (s *SampleStore) ServicesForDevice(ctx context.Context, ip string) ([]models.ServiceStatus, error) {
	var out []models.ServiceStatus
	err := s.db.WithContext(ctx).
		Where("ip = ?", ip).
		Order("service_name asc").
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("services for %s: %w", ip, err)
	}
	return out, nil
}

// DeviceHistory returns samples for ip at or after since, oldest first.
func (s *SampleStore) DeviceHistory(ctx context.Context, ip string, since int64, limit int) ([]models.DeviceHistory, error) {
	if limit <= 0 {
		limit = 1440
	}
	var out []models.DeviceHistory
	err := s.db.WithContext(ctx).
		Where("ip = ? AND ts >= ?", ip, since).
		Order("ts asc").
		Limit(limit).
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("device history %s: %w", ip, err)
	}
	return out, nil
}

// PruneHistory deletes device and service history rows older than before.
func (s *SampleStore) PruneHistory(ctx context.Context, before int64) (int64, error) {
	var removed int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("ts < ?", before).Delete(&models.DeviceHistory{})
		if res.Error != nil {
			return res.Error
		}
		removed += res.RowsAffected

		res = tx.Where("ts < ?", before).Delete(&models.ServiceHistory{})
		if res.Error != nil {
			return res.Error
		}
		removed += res.RowsAffected
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("prune history: %w", err)
	}
	return removed, nil
}

// RecordRun stores a probing cycle summary.
func (s *SampleStore) RecordRun(ctx context.Context, run *models.ProbeRun) error {
	if err := s.db.WithContext(ctx).Create(run).Error; err != nil {
		return fmt.Errorf("record probe run: %w", err)
	}
	return nil
}

// RecentRuns returns the latest probing cycle summaries, newest first.
func (s *SampleStore) RecentRuns(ctx context.Context, limit int) ([]models.ProbeRun, error) {
	if limit <= 0 {
		limit = 20
	}
	var out []models.ProbeRun
	if err := s.db.WithContext(ctx).Order("started_ts desc").Limit(limit).Find(&out).Error; err != nil {
		return nil, fmt.Errorf("recent probe runs: %w", err)
	}
	return out, nil
}

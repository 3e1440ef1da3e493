package models

// DeviceStatus is the current-status row for a configured device, upserted
// by IP on every probing cycle (last write wins).
type DeviceStatus struct {
	IP         string   `gorm:"column:ip;primaryKey" json:"ip"`
	Name       string   `gorm:"not null" json:"name"`
	Type       *string  `json:"type,omitempty"`
	IsUp       bool     `gorm:"not null" json:"is_up"`
	LatencyMS  *float64 `gorm:"column:latency_ms" json:"latency_ms,omitempty"`
	LastSeenTS int64    `gorm:"column:last_seen_ts;not null" json:"last_seen_ts"`
}

func (DeviceStatus) TableName() string { return "device_status" }

// DeviceHistory is one immutable reachability sample.
type DeviceHistory struct {
	ID        uint     `gorm:"primaryKey" json:"id"`
	TS        int64    `gorm:"column:ts;not null;index;index:idx_device_history_ip_ts,priority:2" json:"ts"`
	IP        string   `gorm:"column:ip;not null;index:idx_device_history_ip_ts,priority:1" json:"ip"`
	Name      string   `gorm:"not null" json:"name"`
	Type      *string  `json:"type,omitempty"`
	IsUp      bool     `gorm:"not null" json:"is_up"`
	LatencyMS *float64 `gorm:"column:latency_ms" json:"latency_ms,omitempty"`
}

func (DeviceHistory) TableName() string { return "device_history" }

// DeviceSample is one reachability measurement as produced by the prober.
// LatencyMS is nil when the device is down.
type DeviceSample struct {
	TS        int64
	IP        string
	Name      string
	Type      *string
	IsUp      bool
	LatencyMS *float64
}

package models

// ServiceStatus is the current-status row for one configured service check,
// keyed by the composite service key ip|type|port|path|name.
// LastOKTS only moves when a check succeeds.
type ServiceStatus struct {
	SvcKey        string  `gorm:"column:svc_key;primaryKey" json:"svc_key"`
	IP            string  `gorm:"column:ip;not null;index" json:"ip"`
	DeviceName    string  `gorm:"not null" json:"device_name"`
	ServiceName   string  `gorm:"not null" json:"service_name"`
	ServiceType   string  `gorm:"not null" json:"service_type"`
	Port          *int    `json:"port,omitempty"`
	Path          *string `json:"path,omitempty"`
	IsUp          bool    `gorm:"not null" json:"is_up"`
	LastCheckedTS int64   `gorm:"column:last_checked_ts;not null" json:"last_checked_ts"`
	LastOKTS      *int64  `gorm:"column:last_ok_ts" json:"last_ok_ts,omitempty"`
}

func (ServiceStatus) TableName() string { return "service_status" }

// ServiceHistory is one immutable service check sample.
type ServiceHistory struct {
	ID          uint    `gorm:"primaryKey" json:"id"`
	TS          int64   `gorm:"column:ts;not null;index;index:idx_service_history_key_ts,priority:2" json:"ts"`
	SvcKey      string  `gorm:"column:svc_key;not null;index:idx_service_history_key_ts,priority:1" json:"svc_key"`
	IP          string  `gorm:"column:ip;not null" json:"ip"`
	DeviceName  string  `gorm:"not null" json:"device_name"`
	ServiceName string  `gorm:"not null" json:"service_name"`
	ServiceType string  `gorm:"not null" json:"service_type"`
	Port        *int    `json:"port,omitempty"`
	Path        *string `json:"path,omitempty"`
	IsUp        bool    `gorm:"not null" json:"is_up"`
}

func (ServiceHistory) TableName() string { return "service_history" }

// ServiceSample is one service check result as produced by the prober.
type ServiceSample struct {
	TS          int64
	Key         string
	IP          string
	DeviceName  string
	ServiceName string
	ServiceType string
	Port        *int
	Path        *string
	IsUp        bool
}

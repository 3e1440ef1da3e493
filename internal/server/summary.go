package server

import (
	"github.com/vesaa/homewatch/internal/devices"
	"github.com/vesaa/homewatch/internal/models"
)

// Overall network states.
const (
	NetworkUp      = "UP"
	NetworkIssues  = "ISSUES"
	NetworkUnknown = "UNKNOWN"
)

// Summary is the dashboard's one-line view of the network.
type Summary struct {
	Devices int      `json:"devices"`
	Offline []string `json:"offline"`
	Status  string   `json:"status"`
}

// Summarize counts the configured devices against their latest status.
// Any offline device makes the network ISSUES; otherwise a device that has
// never been probed makes it UNKNOWN.
func Summarize(configured []devices.Device, status []models.DeviceStatus) Summary {
	byIP := make(map[string]models.DeviceStatus, len(status))
	for _, s := range status {
		byIP[s.IP] = s
	}

	sum := Summary{Devices: len(configured), Offline: []string{}}
	unknown := false
	for _, d := range configured {
		st, ok := byIP[d.IP]
		if !ok {
			unknown = true
			continue
		}
		if !st.IsUp {
			sum.Offline = append(sum.Offline, d.Name)
		}
	}

	switch {
	case len(sum.Offline) > 0:
		sum.Status = NetworkIssues
	case unknown:
		sum.Status = NetworkUnknown
	default:
		sum.Status = NetworkUp
	}
	return sum
}

// Package devices reads the device/service list the health prober checks.
// The list lives in a JSON file ({"devices": [...]}) that is edited outside
// homewatch and re-read at the start of every probing cycle.
package devices

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/viper"
)

// ErrConfig marks a device list that could not be read or parsed.
var ErrConfig = errors.New("device configuration")

// Service check types.
const (
	CheckTCP  = "tcp"
	CheckHTTP = "http"
)

// Service is one TCP or HTTP check bound to a device.
type Service struct {
	Name string `mapstructure:"name" json:"name"`
	Type string `mapstructure:"type" json:"type"`
	Port *int   `mapstructure:"port" json:"port,omitempty"`
	Path string `mapstructure:"path" json:"path,omitempty"`
}

// Device is one configured host.
type Device struct {
	IP       string    `mapstructure:"ip" json:"ip"`
	Name     string    `mapstructure:"name" json:"name"`
	Type     string    `mapstructure:"type" json:"type,omitempty"`
	Services []Service `mapstructure:"services" json:"services,omitempty"`
}

// Source yields the current device list.
type Source interface {
	LoadDevices() ([]Device, error)
}

// FileSource loads devices from a JSON file on every call.
type FileSource struct {
	Path string
}

// NewFileSource returns a source reading path.
func NewFileSource(path string) *FileSource {
	return &FileSource{Path: path}
}

// LoadDevices reads and normalizes the file. Entries without an IP are
// dropped; every other failure is reported as ErrConfig.
func (s *FileSource) LoadDevices() ([]Device, error) {
	v := viper.New()
	v.SetConfigFile(s.Path)
	v.SetConfigType("json")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("%w: reading %s: %v", ErrConfig, s.Path, err)
	}

	var doc struct {
		Devices []Device `mapstructure:"devices"`
	}
	if err := v.Unmarshal(&doc); err != nil {
		return nil, fmt.Errorf("%w: decoding %s: %v", ErrConfig, s.Path, err)
	}
	return Normalize(doc.Devices), nil
}

// Normalize trims fields, fills defaults, and drops devices with no IP.
func Normalize(in []Device) []Device {
	out := make([]Device, 0, len(in))
	for _, d := range in {
		d.IP = strings.TrimSpace(d.IP)
		if d.IP == "" {
			continue
		}
		d.Name = strings.TrimSpace(d.Name)
		if d.Name == "" {
			d.Name = d.IP
		}
		d.Type = strings.TrimSpace(d.Type)

		svcs := make([]Service, 0, len(d.Services))
		for _, svc := range d.Services {
			svc.Type = strings.ToLower(strings.TrimSpace(svc.Type))
			if svc.Type == "" {
				svc.Type = CheckTCP
			}
			svc.Name = strings.TrimSpace(svc.Name)
			if svc.Name == "" {
				svc.Name = "service"
			}
			svcs = append(svcs, svc)
		}
		d.Services = svcs
		out = append(out, d)
	}
	return out
}

// ServiceKey is the composite status key ip|type|port|path|name. The path is
// taken as configured (possibly empty) so two checks differing in any part
// get separate status rows.
func ServiceKey(ip string, svc Service) string {
	port := ""
	if svc.Port != nil {
		port = strconv.Itoa(*svc.Port)
	}
	return strings.Join([]string{ip, svc.Type, port, svc.Path, svc.Name}, "|")
}

// AlertKey is the ledger key for service-level alerts.
func AlertKey(ip string, svc Service) string {
	port := 0
	if svc.Port != nil {
		port = *svc.Port
	}
	path := ""
	if svc.Type == CheckHTTP {
		path = svc.HTTPPath()
	}
	return fmt.Sprintf("service:%s:%s:%d:%s", ip, svc.Type, port, path)
}

// HTTPPath is the request path for an HTTP check, always starting with "/".
func (s Service) HTTPPath() string {
	p := strings.TrimSpace(s.Path)
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return p
}

// Keys returns the service keys for every configured check.
func Keys(list []Device) []string {
	var keys []string
	for _, d := range list {
		for _, svc := range d.Services {
			keys = append(keys, ServiceKey(d.IP, svc))
		}
	}
	return keys
}

// Package config provides runtime configuration management for homewatch.
// It uses Viper to load settings from files, environment variables, and CLI flags.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Location is the fixed home point used by the proximity evaluator.
type Location struct {
	Lat float64 `mapstructure:"lat"`
	Lon float64 `mapstructure:"lon"`
}

// Config holds all runtime configuration for homewatch.
type Config struct {
	// ── Storage ──────────────────────────────────────────────────────────────
	DBDriver string `mapstructure:"db_driver"` // "sqlite" or "postgres"
	DBPath   string `mapstructure:"db_path"`
	DBDSN    string `mapstructure:"db_dsn"` // used when db_driver = postgres

	// ── Health prober ────────────────────────────────────────────────────────
	// DevicesPath is re-read at the start of every probing cycle.
	DevicesPath          string `mapstructure:"devices_path"`
	ProbeInterval        int    `mapstructure:"probe_interval_seconds"`
	PingTimeoutMS        int    `mapstructure:"ping_timeout_ms"`
	TCPTimeoutMS         int    `mapstructure:"tcp_timeout_ms"`
	HTTPTimeoutMS        int    `mapstructure:"http_timeout_ms"`
	PingPrivileged       bool   `mapstructure:"ping_privileged"`
	ProbeConcurrency     int    `mapstructure:"probe_concurrency"`
	ServiceAlerts        bool   `mapstructure:"service_alerts"`
	HistoryRetentionDays int    `mapstructure:"history_retention_days"`

	// ── Proximity evaluator ──────────────────────────────────────────────────
	Location                Location `mapstructure:"location"`
	ProximityInterval       int      `mapstructure:"proximity_interval_seconds"`
	ProximityThresholdMiles float64  `mapstructure:"proximity_threshold_miles"`
	WeatherBaseURL          string   `mapstructure:"weather_base_url"`
	WeatherUserAgent        string   `mapstructure:"weather_user_agent"`
	WeatherCacheDir         string   `mapstructure:"weather_cache_dir"`
	WeatherAlertsTTL        int      `mapstructure:"weather_alerts_ttl_seconds"`

	// RunOnStart runs each loop once immediately instead of sleeping first.
	RunOnStart bool `mapstructure:"run_on_start"`

	// ── Read-only API ────────────────────────────────────────────────────────
	ServerHost string `mapstructure:"server_host"`
	ServerPort int    `mapstructure:"server_port"`
	JWTSecret  string `mapstructure:"jwt_secret"`
	AdminUser  string `mapstructure:"admin_user"`
	AdminPass  string `mapstructure:"admin_pass"`

	// ── Logging ──────────────────────────────────────────────────────────────
	LogLevel string `mapstructure:"log_level"`
	LogFile  string `mapstructure:"log_file"`
}

// Load reads config from file (./config.yaml or ~/.homewatch/config.yaml)
// and falls back to smart defaults. Environment variables with prefix
// HOMEWATCH_ override file values.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.homewatch")
	if err := v.ReadInConfig(); err != nil {
		// config file is optional; ignore "not found" errors
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	return unmarshal(v)
}

// LoadFile reads config from an explicit path instead of the search paths.
func LoadFile(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}
	return unmarshal(v)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("db_driver", "sqlite")
	v.SetDefault("db_path", "homewatch.db")
	v.SetDefault("db_dsn", "")

	v.SetDefault("devices_path", "devices.json")
	v.SetDefault("probe_interval_seconds", 60)
	v.SetDefault("ping_timeout_ms", 1000)
	v.SetDefault("tcp_timeout_ms", 1500)
	v.SetDefault("http_timeout_ms", 2500)
	v.SetDefault("ping_privileged", false)
	v.SetDefault("probe_concurrency", 4)
	v.SetDefault("service_alerts", false)
	v.SetDefault("history_retention_days", 30)

	// Hays, KS (ZIP 67601)
	v.SetDefault("location.lat", 38.8782)
	v.SetDefault("location.lon", -99.3348)
	v.SetDefault("proximity_interval_seconds", 15*60)
	v.SetDefault("proximity_threshold_miles", 50.0)
	v.SetDefault("weather_base_url", "https://api.weather.gov")
	v.SetDefault("weather_user_agent", "homewatch/1.0 (local dashboard)")
	v.SetDefault("weather_cache_dir", "data_cache")
	v.SetDefault("weather_alerts_ttl_seconds", 60)

	v.SetDefault("run_on_start", false)

	v.SetDefault("server_host", "0.0.0.0")
	v.SetDefault("server_port", 8090)
	// Security defaults; override via config.yaml or env vars.
	v.SetDefault("jwt_secret", "hw$7Kq2!pZ9@xR4^mV1&eT6*cY3#nB8")
	v.SetDefault("admin_user", "admin")
	v.SetDefault("admin_pass", "admin")

	v.SetDefault("log_level", "info")
	v.SetDefault("log_file", "")
}

func unmarshal(v *viper.Viper) (*Config, error) {
	v.SetEnvPrefix("HOMEWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects values the loops cannot run with.
func (c *Config) Validate() error {
	if c.ProbeInterval <= 0 {
		return fmt.Errorf("probe_interval_seconds must be positive, got %d", c.ProbeInterval)
	}
	if c.ProximityInterval <= 0 {
		return fmt.Errorf("proximity_interval_seconds must be positive, got %d", c.ProximityInterval)
	}
	if c.ProximityThresholdMiles < 0 {
		return fmt.Errorf("proximity_threshold_miles must not be negative, got %g", c.ProximityThresholdMiles)
	}
	if c.Location.Lat < -90 || c.Location.Lat > 90 || c.Location.Lon < -180 || c.Location.Lon > 180 {
		return fmt.Errorf("location %g,%g is out of range", c.Location.Lat, c.Location.Lon)
	}
	if c.ProbeConcurrency < 1 {
		c.ProbeConcurrency = 1
	}
	return nil
}

// ProbeEvery returns the probing loop interval.
func (c *Config) ProbeEvery() time.Duration {
	return time.Duration(c.ProbeInterval) * time.Second
}

// ProximityEvery returns the proximity loop interval.
func (c *Config) ProximityEvery() time.Duration {
	return time.Duration(c.ProximityInterval) * time.Second
}

func ms(n int) time.Duration { return time.Duration(n) * time.Millisecond }

// PingTimeout is the per-device reachability timeout.
func (c *Config) PingTimeout() time.Duration { return ms(c.PingTimeoutMS) }

// TCPTimeout is the per-service TCP connect timeout.
func (c *Config) TCPTimeout() time.Duration { return ms(c.TCPTimeoutMS) }

// HTTPTimeout is the per-service HTTP GET timeout.
func (c *Config) HTTPTimeout() time.Duration { return ms(c.HTTPTimeoutMS) }

// Package server is the read-only HTTP API the dashboard uses to show what
// the monitoring loops have recorded. Nothing here writes to the ledger or
// the sample store.
//
//	Public:    POST /api/login, GET /api/health, GET /metrics
//	JWT:       every other /api/* route
package server

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/vesaa/homewatch/internal/devices"
	"github.com/vesaa/homewatch/internal/hoststat"
	"github.com/vesaa/homewatch/internal/metrics"
	"github.com/vesaa/homewatch/internal/models"
)

// AlertReader lists ledger rows.
type AlertReader interface {
	List(ctx context.Context, activeOnly bool, limit int) ([]models.Alert, error)
}

// SampleReader reads device and service status.
type SampleReader interface {
	LatestDeviceStatus(ctx context.Context) ([]models.DeviceStatus, error)
	ServicesForDevice(ctx context.Context, ip string) ([]models.ServiceStatus, error)
	DeviceHistory(ctx context.Context, ip string, since int64, limit int) ([]models.DeviceHistory, error)
	RecentRuns(ctx context.Context, limit int) ([]models.ProbeRun, error)
}

// Server holds the API's dependencies.
type Server struct {
	alerts  AlertReader
	samples SampleReader
	devices devices.Source
	host    *hoststat.Collector
	auth    *Auth
}

// New creates a server. host may be nil, in which case /api/system is
// unavailable.
func New(alerts AlertReader, samples SampleReader, source devices.Source, host *hoststat.Collector, auth *Auth) *Server {
	return &Server{alerts: alerts, samples: samples, devices: source, host: host, auth: auth}
}

// RegisterRoutes wires every route onto r.
func (s *Server) RegisterRoutes(r *gin.Engine) {
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	api := r.Group("/api")
	api.POST("/login", s.auth.handleLogin)
	api.GET("/health", s.handleHealth)

	auth := api.Group("/", s.auth.Middleware())
	{
		auth.GET("/alerts", s.handleAlerts)
		auth.GET("/devices", s.handleDevices)
		auth.GET("/devices/:ip/services", s.handleServices)
		auth.GET("/devices/:ip/history", s.handleHistory)
		auth.GET("/network/summary", s.handleSummary)
		auth.GET("/runs", s.handleRuns)
		auth.GET("/system", s.handleSystem)
	}
}

// Engine builds a gin engine with recovery, CORS and all routes.
func (s *Server) Engine() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), CORS())
	s.RegisterRoutes(r)
	return r
}

// CORS lets a dashboard served from another origin call the API.
func CORS() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

package server

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/vesaa/homewatch/internal/logger"
)

const maxLimit = 1000

// queryInt reads a positive integer query parameter, clamped to maxLimit.
func queryInt(c *gin.Context, name string, def int) int {
	n, err := strconv.Atoi(c.Query(name))
	if err != nil || n <= 0 {
		return def
	}
	if n > maxLimit {
		return maxLimit
	}
	return n
}

func queryBool(c *gin.Context, name string) bool {
	switch strings.ToLower(c.Query(name)) {
	case "1", "true", "yes":
		return true
	}
	return false
}

func internalError(c *gin.Context, err error) {
	logger.Errorf("[api] %s %s: %v", c.Request.Method, c.FullPath(), err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "time": time.Now().UTC()})
}

// GET /api/alerts?active=true&limit=50
func (s *Server) handleAlerts(c *gin.Context) {
	rows, err := s.alerts.List(c.Request.Context(), queryBool(c, "active"), queryInt(c, "limit", 100))
	if err != nil {
		internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": rows})
}

// GET /api/devices
func (s *Server) handleDevices(c *gin.Context) {
	rows, err := s.samples.LatestDeviceStatus(c.Request.Context())
	if err != nil {
		internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": rows})
}

// GET /api/devices/:ip/services
func (s *Server) handleServices(c *gin.Context) {
	rows, err := s.samples.ServicesForDevice(c.Request.Context(), c.Param("ip"))
	if err != nil {
		internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": rows})
}

// GET /api/devices/:ip/history?hours=24&limit=500
func (s *Server) handleHistory(c *gin.Context) {
	hours := queryInt(c, "hours", 24)
	since := time.Now().Add(-time.Duration(hours) * time.Hour).Unix()
	rows, err := s.samples.DeviceHistory(c.Request.Context(), c.Param("ip"), since, queryInt(c, "limit", 500))
	if err != nil {
		internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": rows})
}

// GET /api/network/summary
func (s *Server) handleSummary(c *gin.Context) {
	configured, err := s.devices.LoadDevices()
	if err != nil {
		logger.Warnf("[api] network summary: %v", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "device list unavailable"})
		return
	}
	status, err := s.samples.LatestDeviceStatus(c.Request.Context())
	if err != nil {
		internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": Summarize(configured, status)})
}

// GET /api/runs?limit=20
func (s *Server) handleRuns(c *gin.Context) {
	rows, err := s.samples.RecentRuns(c.Request.Context(), queryInt(c, "limit", 20))
	if err != nil {
		internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": rows})
}

// GET /api/system
func (s *Server) handleSystem(c *gin.Context) {
	if s.host == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "host stats disabled"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": s.host.Collect(c.Request.Context())})
}

// Package metrics exposes Prometheus collectors for the homewatch loops.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Loop names used as the "loop" label.
const (
	LoopProbe     = "probe"
	LoopProximity = "proximity"
)

var (
	Devices = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "homewatch_devices",
		Help: "Devices by state after the last probing cycle.",
	}, []string{"state"})

	Services = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "homewatch_services",
		Help: "Service checks by state after the last probing cycle.",
	}, []string{"state"})

	CycleDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "homewatch_cycle_duration_seconds",
		Help:    "Wall-clock duration of one loop cycle.",
		Buckets: prometheus.ExponentialBuckets(0.25, 2, 10),
	}, []string{"loop"})

	CycleFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "homewatch_cycle_failures_total",
		Help: "Cycles that aborted with an error or panic.",
	}, []string{"loop"})

	AlertsRaised = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "homewatch_alerts_raised_total",
		Help: "Alerts newly created in the ledger.",
	}, []string{"source"})

	AlertsCleared = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "homewatch_alerts_cleared_total",
		Help: "Alert rows cleared in the ledger.",
	}, []string{"source"})

	HazardsNearby = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "homewatch_hazards_nearby",
		Help: "Hazards within the proximity threshold in the last cycle.",
	})
)

// ObserveCycle records the duration of a cycle that started at start and
// counts it as failed when failed is true.
func ObserveCycle(loop string, start time.Time, failed bool) {
	CycleDuration.WithLabelValues(loop).Observe(time.Since(start).Seconds())
	if failed {
		CycleFailures.WithLabelValues(loop).Inc()
	}
}

// SetCounts publishes up/down gauges for devices and services.
func SetCounts(devUp, devDown, svcUp, svcDown int) {
	Devices.WithLabelValues("up").Set(float64(devUp))
	Devices.WithLabelValues("down").Set(float64(devDown))
	Services.WithLabelValues("up").Set(float64(svcUp))
	Services.WithLabelValues("down").Set(float64(svcDown))
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

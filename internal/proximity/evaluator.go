// Package proximity raises weather alerts for hazard polygons that come
// within a set distance of home, and clears them once they move away or
// expire.
package proximity

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/paulmach/orb"
	"github.com/vesaa/homewatch/internal/geo"
	"github.com/vesaa/homewatch/internal/logger"
	"github.com/vesaa/homewatch/internal/metrics"
	"github.com/vesaa/homewatch/internal/models"
	"github.com/vesaa/homewatch/internal/weather"
)

const (
	// KeyPrefix namespaces proximity alerts in the ledger.
	KeyPrefix = "wxprox:"

	DefaultThresholdMiles = 50.0
	maxMessageRunes       = 800
)

// HazardSource returns the currently active hazards around home.
type HazardSource interface {
	ActiveHazards(ctx context.Context, home orb.Point) ([]weather.Hazard, error)
}

// Ledger is the part of the alert ledger the evaluator writes to.
type Ledger interface {
	Raise(ctx context.Context, a models.Alert) (bool, error)
	Clear(ctx context.Context, key string, clearedTS int64) (int64, error)
	ActiveKeysWithPrefix(ctx context.Context, prefix string) ([]string, error)
}

// Evaluator runs proximity cycles against a fixed home point.
type Evaluator struct {
	source    HazardSource
	ledger    Ledger
	home      orb.Point
	threshold float64
	now       func() time.Time
}

// New creates an evaluator. home is {lon, lat}; a non-positive threshold
// uses DefaultThresholdMiles.
func New(source HazardSource, ledger Ledger, home orb.Point, thresholdMiles float64) *Evaluator {
	if thresholdMiles <= 0 {
		thresholdMiles = DefaultThresholdMiles
	}
	return &Evaluator{
		source:    source,
		ledger:    ledger,
		home:      home,
		threshold: thresholdMiles,
		now:       time.Now,
	}
}

// AlertKey is the ledger key for a hazard.
func AlertKey(featureID string) string {
	return KeyPrefix + featureID
}

// Sync runs one cycle and returns how many alerts were newly created.
// A failed fetch aborts before anything is raised or cleared.
func (e *Evaluator) Sync(ctx context.Context) (int, error) {
	hazards, err := e.source.ActiveHazards(ctx, e.home)
	if err != nil {
		return 0, fmt.Errorf("fetch hazards: %w", err)
	}

	ts := e.now().Unix()
	created := 0
	nearby := make(map[string]struct{})

	for _, h := range hazards {
		d, ok := geo.GeometryMiles(e.home, h.Geometry)
		if !ok {
			continue
		}
		if d > e.threshold {
			continue
		}

		key := AlertKey(h.ID)
		nearby[key] = struct{}{}

		isNew, err := e.ledger.Raise(ctx, e.alertFor(h, d, ts))
		if err != nil {
			logger.Errorf("[proximity] %v", err)
			continue
		}
		if isNew {
			created++
			metrics.AlertsRaised.WithLabelValues(models.SourceWeather).Inc()
			logger.Warnf("[proximity] %s is %.1f miles from home", h.ID, d)
		}
	}
	metrics.HazardsNearby.Set(float64(len(nearby)))

	e.reconcile(ctx, ts, nearby)

	logger.Infof("[proximity] sync complete: %d hazards, %d nearby, %d new alerts", len(hazards), len(nearby), created)
	return created, nil
}

func (e *Evaluator) alertFor(h weather.Hazard, miles float64, ts int64) models.Alert {
	event := h.Event
	if event == "" {
		event = "Weather Alert"
	}
	level := models.LevelWarn
	switch strings.ToLower(h.Severity) {
	case "severe", "extreme":
		level = models.LevelCrit
	}
	msg := h.Headline
	if msg == "" {
		msg = fmt.Sprintf("NWS alert is within %.1f miles of home.", miles)
	}
	return models.Alert{
		TS:       ts,
		Source:   models.SourceWeather,
		Level:    level,
		Title:    fmt.Sprintf("%s within %.1f miles", event, miles),
		Message:  truncate(msg, maxMessageRunes),
		DedupKey: AlertKey(h.ID),
	}
}

// reconcile clears every active proximity alert not seen nearby this cycle.
func (e *Evaluator) reconcile(ctx context.Context, ts int64, nearby map[string]struct{}) {
	active, err := e.ledger.ActiveKeysWithPrefix(ctx, KeyPrefix)
	if err != nil {
		logger.Errorf("[proximity] list active alerts: %v", err)
		return
	}
	for _, key := range active {
		if _, ok := nearby[key]; ok {
			continue
		}
		n, err := e.ledger.Clear(ctx, key, ts)
		if err != nil {
			logger.Errorf("[proximity] %v", err)
			continue
		}
		if n > 0 {
			metrics.AlertsCleared.WithLabelValues(models.SourceWeather).Add(float64(n))
			logger.Infof("[proximity] cleared %s", key)
		}
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

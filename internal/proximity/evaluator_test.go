package proximity

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/paulmach/orb"
	"github.com/vesaa/homewatch/internal/config"
	"github.com/vesaa/homewatch/internal/geo"
	"github.com/vesaa/homewatch/internal/models"
	"github.com/vesaa/homewatch/internal/store"
	"github.com/vesaa/homewatch/internal/weather"
)

var home = orb.Point{-99.3348, 38.8782}

// boxNorth returns a polygon whose southern edge lies miles due north of home.
func boxNorth(miles float64) orb.Polygon {
	south := home.Lat() + miles/69.0
	north := south + 1
	w, e := home.Lon()-1, home.Lon()+1
	return orb.Polygon{{{w, south}, {e, south}, {e, north}, {w, north}, {w, south}}}
}

type fakeSource struct {
	mu      sync.Mutex
	hazards []weather.Hazard
	err     error
}

func (f *fakeSource) set(h []weather.Hazard, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hazards, f.err = h, err
}

func (f *fakeSource) ActiveHazards(context.Context, orb.Point) ([]weather.Hazard, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hazards, f.err
}

func setupLedger(t *testing.T) *store.AlertLedger {
	t.Helper()
	db, err := store.Open(&config.Config{
		DBDriver: "sqlite",
		DBPath:   filepath.Join(t.TempDir(), "homewatch.db"),
	})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := store.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() { _ = store.Close(db) })
	return store.NewAlertLedger(db)
}

func active(t *testing.T, l *store.AlertLedger) []models.Alert {
	t.Helper()
	rows, err := l.List(context.Background(), true, 100)
	if err != nil {
		t.Fatal(err)
	}
	return rows
}

func TestSync_RaiseThenClearWhenAbsent(t *testing.T) {
	ledger := setupLedger(t)
	src := &fakeSource{}
	src.set([]weather.Hazard{{
		ID:       "NWS-001",
		Event:    "Tornado Warning",
		Severity: "Extreme",
		Headline: "Tornado warning issued for Ellis County",
		Geometry: boxNorth(42),
	}}, nil)
	e := New(src, ledger, home, 50)
	ctx := context.Background()

	created, err := e.Sync(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if created != 1 {
		t.Fatalf("expected 1 new alert, got %d", created)
	}
	rows := active(t, ledger)
	if len(rows) != 1 || rows[0].DedupKey != "wxprox:NWS-001" {
		t.Fatalf("unexpected active alerts %+v", rows)
	}
	if rows[0].Level != models.LevelCrit {
		t.Errorf("extreme severity should be crit, got %s", rows[0].Level)
	}
	if rows[0].Title != "Tornado Warning within 42.0 miles" {
		t.Errorf("unexpected title %q", rows[0].Title)
	}
	if rows[0].Source != models.SourceWeather {
		t.Errorf("unexpected source %q", rows[0].Source)
	}

	// same hazard again: no duplicate
	if created, _ := e.Sync(ctx); created != 0 {
		t.Errorf("expected no new alert on repeat, got %d", created)
	}

	src.set(nil, nil)
	if _, err := e.Sync(ctx); err != nil {
		t.Fatal(err)
	}
	if rows := active(t, ledger); len(rows) != 0 {
		t.Errorf("expected alert cleared once hazard is gone, got %+v", rows)
	}
}

func TestSync_FarHazardIgnoredAndClearsPrevious(t *testing.T) {
	ledger := setupLedger(t)
	src := &fakeSource{}
	e := New(src, ledger, home, 50)
	ctx := context.Background()

	src.set([]weather.Hazard{{ID: "A", Severity: "Moderate", Geometry: boxNorth(10)}}, nil)
	if _, err := e.Sync(ctx); err != nil {
		t.Fatal(err)
	}
	rows := active(t, ledger)
	if len(rows) != 1 || rows[0].Level != models.LevelWarn {
		t.Fatalf("expected one warn alert, got %+v", rows)
	}
	if rows[0].Title != "Weather Alert within 10.0 miles" {
		t.Errorf("unexpected fallback title %q", rows[0].Title)
	}
	if !strings.HasPrefix(rows[0].Message, "NWS alert is within 10.0 miles") {
		t.Errorf("unexpected fallback message %q", rows[0].Message)
	}

	// storm moved away
	src.set([]weather.Hazard{{ID: "A", Severity: "Moderate", Geometry: boxNorth(80)}}, nil)
	created, err := e.Sync(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if created != 0 {
		t.Errorf("far hazard must not raise, got %d", created)
	}
	if rows := active(t, ledger); len(rows) != 0 {
		t.Errorf("expected moved-away hazard cleared, got %+v", rows)
	}
}

func TestSync_FetchErrorLeavesAlertsAlone(t *testing.T) {
	ledger := setupLedger(t)
	src := &fakeSource{}
	e := New(src, ledger, home, 50)
	ctx := context.Background()

	src.set([]weather.Hazard{{ID: "B", Geometry: boxNorth(5)}}, nil)
	if _, err := e.Sync(ctx); err != nil {
		t.Fatal(err)
	}

	src.set(nil, weather.ErrUpstream)
	if _, err := e.Sync(ctx); !errors.Is(err, weather.ErrUpstream) {
		t.Fatalf("expected upstream error, got %v", err)
	}
	if rows := active(t, ledger); len(rows) != 1 {
		t.Errorf("a failed fetch must not clear alerts, got %d active", len(rows))
	}
}

func TestSync_SkipsUnusableGeometryAndKeepsOtherAlerts(t *testing.T) {
	ledger := setupLedger(t)
	ctx := context.Background()

	// alerts from other producers are never touched by reconciliation
	if _, err := ledger.Raise(ctx, models.Alert{TS: 1, Source: "network", Level: models.LevelCrit, Title: "x", Message: "y", DedupKey: "device:10.0.0.5"}); err != nil {
		t.Fatal(err)
	}

	src := &fakeSource{}
	src.set([]weather.Hazard{
		{ID: "zone", Geometry: nil},
		{ID: "point", Geometry: orb.Point{home.Lon(), home.Lat()}},
		{ID: "ok", Geometry: boxNorth(1)},
	}, nil)
	e := New(src, ledger, home, 50)

	created, err := e.Sync(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if created != 1 {
		t.Errorf("expected only the polygon hazard to alert, got %d", created)
	}
	keys := map[string]bool{}
	for _, a := range active(t, ledger) {
		keys[a.DedupKey] = true
	}
	if !keys["wxprox:ok"] || !keys["device:10.0.0.5"] || len(keys) != 2 {
		t.Errorf("unexpected active keys %v", keys)
	}
}

func TestSync_ThresholdIsInclusive(t *testing.T) {
	ledger := setupLedger(t)
	src := &fakeSource{}
	g := boxNorth(50)
	d, ok := geo.GeometryMiles(home, g)
	if !ok {
		t.Fatal("fixture has no distance")
	}
	src.set([]weather.Hazard{{ID: "edge", Geometry: g}}, nil)
	e := New(src, ledger, home, d)

	created, err := e.Sync(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if created != 1 {
		t.Errorf("hazard at exactly the threshold should alert, got %d", created)
	}
}

func TestAlertFor_TruncatesHeadline(t *testing.T) {
	e := New(&fakeSource{}, nil, home, 0)
	if e.threshold != DefaultThresholdMiles {
		t.Errorf("expected default threshold, got %g", e.threshold)
	}
	long := strings.Repeat("é", 1000)
	a := e.alertFor(weather.Hazard{ID: "x", Headline: long}, 3.14159, 100)
	if n := len([]rune(a.Message)); n != 800 {
		t.Errorf("expected 800 runes, got %d", n)
	}
	if a.Title != "Weather Alert within 3.1 miles" {
		t.Errorf("unexpected title %q", a.Title)
	}
	if a.DedupKey != "wxprox:x" || a.TS != 100 {
		t.Errorf("unexpected alert %+v", a)
	}
}

func TestBoxNorthDistance(t *testing.T) {
	// guard the fixture itself
	if d := boxNorth(42)[0][0].Lat() - home.Lat(); math.Abs(d*69-42) > 1e-9 {
		t.Fatalf("fixture offset wrong: %g", d*69)
	}
}

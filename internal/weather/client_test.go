package weather

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/paulmach/orb"
)

const sampleCollection = `{
  "type": "FeatureCollection",
  "features": [
    {
      "id": "https://api.weather.gov/alerts/NWS-001",
      "type": "Feature",
      "geometry": {"type": "Polygon", "coordinates": [[[-99.0, 38.0], [-98.5, 38.0], [-98.5, 38.5], [-99.0, 38.0]]]},
      "properties": {"event": "Severe Thunderstorm Warning", "severity": "Severe", "headline": "  storm headed east  "}
    },
    {
      "id": "zone-only",
      "type": "Feature",
      "geometry": null,
      "properties": {"event": "Heat Advisory", "severity": "Moderate"}
    },
    {
      "type": "Feature",
      "geometry": {"type": "Polygon", "coordinates": [[[0, 0], [1, 0], [1, 1], [0, 0]]]},
      "properties": {"event": "No id"}
    },
    {"type": "NotAFeature"}
  ]
}`

var home = orb.Point{-99.3348, 38.8782}

func TestParseHazards(t *testing.T) {
	hazards, err := ParseHazards([]byte(sampleCollection))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(hazards) != 2 {
		t.Fatalf("expected 2 hazards, got %d: %+v", len(hazards), hazards)
	}

	h := hazards[0]
	if h.ID != "https://api.weather.gov/alerts/NWS-001" {
		t.Errorf("unexpected id %q", h.ID)
	}
	if h.Severity != "Severe" || h.Event != "Severe Thunderstorm Warning" {
		t.Errorf("unexpected properties %+v", h)
	}
	if h.Headline != "storm headed east" {
		t.Errorf("headline not trimmed: %q", h.Headline)
	}
	if _, ok := h.Geometry.(orb.Polygon); !ok {
		t.Errorf("expected polygon geometry, got %T", h.Geometry)
	}

	if hazards[1].Geometry != nil {
		t.Errorf("expected nil geometry for zone-only alert, got %T", hazards[1].Geometry)
	}
}

func TestParseHazards_NotJSON(t *testing.T) {
	if _, err := ParseHazards([]byte("<html>")); err == nil {
		t.Error("expected error for non-JSON body")
	}
}

func TestActiveHazards_RequestAndCache(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.URL.Path != "/alerts/active" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("point"); got != "38.8782,-99.3348" {
			t.Errorf("unexpected point %q", got)
		}
		if r.Header.Get("User-Agent") != "test-agent" {
			t.Errorf("missing user agent, got %q", r.Header.Get("User-Agent"))
		}
		w.Header().Set("Content-Type", "application/geo+json")
		w.Write([]byte(sampleCollection))
	}))
	defer srv.Close()

	c := NewClient(Options{
		BaseURL:   srv.URL + "/",
		UserAgent: "test-agent",
		AlertsTTL: time.Minute,
		Cache:     NewCache(t.TempDir()),
	})

	for i := 0; i < 3; i++ {
		hazards, err := c.ActiveHazards(context.Background(), home)
		if err != nil {
			t.Fatalf("fetch %d: %v", i, err)
		}
		if len(hazards) != 2 {
			t.Fatalf("fetch %d: expected 2 hazards, got %d", i, len(hazards))
		}
	}
	if n := hits.Load(); n != 1 {
		t.Errorf("expected 1 upstream request within ttl, got %d", n)
	}
}

func TestActiveHazards_UpstreamFailure(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"server error", func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "boom", http.StatusInternalServerError)
		}},
		{"array body", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`[1,2,3]`))
		}},
		{"garbage", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`not json`))
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			c := NewClient(Options{BaseURL: srv.URL, AlertsTTL: time.Minute})
			_, err := c.ActiveHazards(context.Background(), home)
			if !errors.Is(err, ErrUpstream) {
				t.Fatalf("expected ErrUpstream, got %v", err)
			}
		})
	}
}

func TestActiveHazards_FailureKeepsLastGoodValue(t *testing.T) {
	var fail atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail.Load() {
			http.Error(w, "down", http.StatusBadGateway)
			return
		}
		w.Write([]byte(sampleCollection))
	}))
	defer srv.Close()

	cache := NewCache("")
	now := time.Unix(1_700_000_000, 0)
	cache.now = func() time.Time { return now }
	c := NewClient(Options{BaseURL: srv.URL, AlertsTTL: time.Minute, Cache: cache})

	if _, err := c.ActiveHazards(context.Background(), home); err != nil {
		t.Fatalf("first fetch: %v", err)
	}

	fail.Store(true)
	now = now.Add(5 * time.Minute)
	if _, err := c.ActiveHazards(context.Background(), home); !errors.Is(err, ErrUpstream) {
		t.Fatalf("expected upstream error once cache is stale, got %v", err)
	}

	data, ok := cache.Get("alerts_38.8782_-99.3348", time.Hour)
	if !ok {
		t.Fatal("failed fetch must not evict the last good value")
	}
	if hazards, _ := ParseHazards(data); len(hazards) != 2 {
		t.Errorf("cached value changed after failed fetch")
	}
}

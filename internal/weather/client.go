// Package weather fetches active hazard polygons from the National Weather
// Service API.
package weather

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/vesaa/homewatch/internal/logger"
)

// ErrUpstream marks a failure of the hazard source itself: transport errors,
// non-2xx replies and undecodable bodies.
var ErrUpstream = errors.New("weather upstream failure")

const (
	DefaultBaseURL   = "https://api.weather.gov"
	DefaultUserAgent = "homewatch/1.0 (local dashboard)"

	acceptHeader = "application/geo+json, application/json;q=0.9, */*;q=0.8"
	maxBody      = 8 << 20
)

// Hazard is one active weather alert with its polygon.
type Hazard struct {
	ID       string
	Event    string
	Severity string
	Headline string
	Geometry orb.Geometry
}

// Options configures a Client. Zero values get defaults.
type Options struct {
	BaseURL    string
	UserAgent  string
	AlertsTTL  time.Duration
	Timeout    time.Duration
	Cache      *Cache
	HTTPClient *http.Client
}

// Client talks to the NWS API. Successful responses are cached.
type Client struct {
	baseURL   string
	userAgent string
	alertsTTL time.Duration
	cache     *Cache
	http      *http.Client
}

// NewClient builds a client from opts.
func NewClient(opts Options) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.UserAgent == "" {
		opts.UserAgent = DefaultUserAgent
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	if opts.Cache == nil {
		opts.Cache = NewCache("")
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: opts.Timeout}
	}
	return &Client{
		baseURL:   strings.TrimRight(opts.BaseURL, "/"),
		userAgent: opts.UserAgent,
		alertsTTL: opts.AlertsTTL,
		cache:     opts.Cache,
		http:      opts.HTTPClient,
	}
}

// ActiveHazards returns the active alerts for the area around home.
func (c *Client) ActiveHazards(ctx context.Context, home orb.Point) ([]Hazard, error) {
	url := fmt.Sprintf("%s/alerts/active?point=%.4f,%.4f", c.baseURL, home.Lat(), home.Lon())
	key := fmt.Sprintf("alerts_%.4f_%.4f", home.Lat(), home.Lon())

	body, err := c.getJSON(ctx, url, key, c.alertsTTL)
	if err != nil {
		return nil, err
	}
	hazards, err := ParseHazards(body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	return hazards, nil
}

// getJSON serves key from the cache while fresh, otherwise fetches url and
// caches the body. Only JSON objects are accepted.
func (c *Client) getJSON(ctx context.Context, url, key string, ttl time.Duration) ([]byte, error) {
	if ttl > 0 {
		if data, ok := c.cache.Get(key, ttl); ok {
			return data, nil
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", ErrUpstream, err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", acceptHeader)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: GET %s: %v", ErrUpstream, url, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", ErrUpstream, url, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: GET %s: status %d", ErrUpstream, url, resp.StatusCode)
	}

	var probe map[string]json.RawMessage
	if err := json.Unmarshal(body, &probe); err != nil {
		return nil, fmt.Errorf("%w: unexpected JSON response (not an object): %v", ErrUpstream, err)
	}

	if err := c.cache.Put(key, body); err != nil {
		logger.Warnf("[weather] cache write %s: %v", key, err)
	}
	return body, nil
}

// ParseHazards decodes a GeoJSON FeatureCollection. Features that fail to
// decode or have no id are skipped; a body that is not a collection at all
// is an error.
func ParseHazards(data []byte) ([]Hazard, error) {
	var fc struct {
		Type     string            `json:"type"`
		Features []json.RawMessage `json:"features"`
	}
	if err := json.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("decode feature collection: %w", err)
	}

	hazards := make([]Hazard, 0, len(fc.Features))
	for i, raw := range fc.Features {
		f, err := geojson.UnmarshalFeature(raw)
		if err != nil {
			logger.Debugf("[weather] skipping feature %d: %v", i, err)
			continue
		}
		id := featureID(f)
		if id == "" {
			continue
		}
		hazards = append(hazards, Hazard{
			ID:       id,
			Event:    propString(f.Properties, "event"),
			Severity: propString(f.Properties, "severity"),
			Headline: propString(f.Properties, "headline"),
			Geometry: f.Geometry,
		})
	}
	return hazards, nil
}

func featureID(f *geojson.Feature) string {
	switch id := f.ID.(type) {
	case string:
		return id
	case nil:
		return propString(f.Properties, "id")
	default:
		return fmt.Sprint(id)
	}
}

func propString(p geojson.Properties, key string) string {
	if s, ok := p[key].(string); ok {
		return strings.TrimSpace(s)
	}
	return ""
}

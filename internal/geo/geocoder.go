// Package geo resolves free-form event locations to coordinates.
package geo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	appLog "mealendar/internal/log"
	"mealendar/internal/model"
	"mealendar/internal/store"
)

// ErrNoResult is returned when the geocoder knows no place for a query.
var ErrNoResult = errors.New("geo: no result")

// Geocoder resolves a location string.
type Geocoder interface {
	Geocode(ctx context.Context, query string) (model.LatLng, error)
}

const (
	defaultAttempts    = 3
	defaultBackoff     = 500 * time.Millisecond
	defaultMinInterval = time.Second
)

// Nominatim queries an OpenStreetMap Nominatim search endpoint. Requests
// are serialised and spaced by MinInterval to respect the public usage
// policy.
type Nominatim struct {
	Endpoint  string
	UserAgent string
	Client    *http.Client

	Attempts    int
	Backoff     time.Duration
	MinInterval time.Duration

	mu   sync.Mutex
	last time.Time
}

// NewNominatim returns a client with the default retry policy.
func NewNominatim(endpoint, userAgent string, timeout time.Duration) *Nominatim {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Nominatim{
		Endpoint:    endpoint,
		UserAgent:   userAgent,
		Client:      &http.Client{Timeout: timeout},
		Attempts:    defaultAttempts,
		Backoff:     defaultBackoff,
		MinInterval: defaultMinInterval,
	}
}

type nominatimResult struct {
	Lat string `json:"lat"`
	Lon string `json:"lon"`
}

// Geocode returns the first match for query. Network errors, 429 and 5xx
// responses are retried with exponential backoff (500ms, 1s, 2s...).
func (n *Nominatim) Geocode(ctx context.Context, query string) (model.LatLng, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return model.LatLng{}, ErrNoResult
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	attempts := n.Attempts
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := n.throttle(ctx); err != nil {
			return model.LatLng{}, err
		}

		coord, retry, err := n.do(ctx, query)
		if err == nil || !retry {
			return coord, err
		}
		lastErr = err
		appLog.Warn("geocode attempt failed", "query", query, "attempt", attempt, "max", attempts, "err", err)

		if attempt < attempts {
			wait := n.Backoff << (attempt - 1)
			if err := sleep(ctx, wait); err != nil {
				return model.LatLng{}, err
			}
		}
	}
	return model.LatLng{}, fmt.Errorf("geo: %d attempts failed for %q: %w", attempts, query, lastErr)
}

func (n *Nominatim) throttle(ctx context.Context) error {
	if n.MinInterval > 0 && !n.last.IsZero() {
		if wait := n.MinInterval - time.Since(n.last); wait > 0 {
			if err := sleep(ctx, wait); err != nil {
				return err
			}
		}
	}
	n.last = time.Now()
	return nil
}

// do performs one request. retry reports whether the failure is transient.
func (n *Nominatim) do(ctx context.Context, query string) (coord model.LatLng, retry bool, err error) {
	u, err := url.Parse(n.Endpoint)
	if err != nil {
		return coord, false, fmt.Errorf("geo: bad endpoint: %w", err)
	}
	q := u.Query()
	q.Set("q", query)
	q.Set("format", "json")
	q.Set("limit", "1")
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return coord, false, err
	}
	req.Header.Set("User-Agent", n.UserAgent)
	req.Header.Set("Accept", "application/json")

	client := n.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return coord, ctx.Err() == nil, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return coord, true, fmt.Errorf("geo: unexpected status %s", resp.Status)
	case resp.StatusCode != http.StatusOK:
		return coord, false, fmt.Errorf("geo: unexpected status %s", resp.Status)
	}

	var results []nominatimResult
	if err := json.NewDecoder(resp.Body).Decode(&results); err != nil {
		return coord, false, fmt.Errorf("geo: decode response: %w", err)
	}
	if len(results) == 0 {
		return coord, false, ErrNoResult
	}

	lat, err := strconv.ParseFloat(results[0].Lat, 64)
	if err != nil {
		return coord, false, fmt.Errorf("geo: bad lat %q: %w", results[0].Lat, err)
	}
	lng, err := strconv.ParseFloat(results[0].Lon, 64)
	if err != nil {
		return coord, false, fmt.Errorf("geo: bad lon %q: %w", results[0].Lon, err)
	}
	coord = model.LatLng{Lat: lat, Lng: lng}
	if !coord.Valid() {
		return model.LatLng{}, false, fmt.Errorf("geo: coordinate out of range: %v", coord)
	}
	return coord, false, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Cache persists lookups. *store.Store implements it.
type Cache interface {
	LookupGeocode(ctx context.Context, query string) (*store.GeocodeEntry, error)
	PutGeocode(ctx context.Context, query string, coord *model.LatLng) error
}

// Cached wraps a Geocoder with a persistent cache. Misses are cached too so
// unknown places are not looked up on every refresh.
type Cached struct {
	next  Geocoder
	cache Cache
}

// NewCached returns a caching Geocoder.
func NewCached(next Geocoder, cache Cache) *Cached {
	return &Cached{next: next, cache: cache}
}

func (c *Cached) Geocode(ctx context.Context, query string) (model.LatLng, error) {
	key := NormalizeQuery(query)
	if key == "" {
		return model.LatLng{}, ErrNoResult
	}

	entry, err := c.cache.LookupGeocode(ctx, key)
	switch {
	case err == nil:
		if entry.Coord == nil {
			return model.LatLng{}, ErrNoResult
		}
		return *entry.Coord, nil
	case !errors.Is(err, store.ErrNotFound):
		appLog.Warn("geocode cache lookup failed", "query", key, "err", err)
	}

	coord, err := c.next.Geocode(ctx, query)
	switch {
	case err == nil:
		if perr := c.cache.PutGeocode(ctx, key, &coord); perr != nil {
			appLog.Warn("geocode cache write failed", "query", key, "err", perr)
		}
		return coord, nil
	case errors.Is(err, ErrNoResult):
		if perr := c.cache.PutGeocode(ctx, key, nil); perr != nil {
			appLog.Warn("geocode cache write failed", "query", key, "err", perr)
		}
		return model.LatLng{}, err
	default:
		return model.LatLng{}, err
	}
}

// NormalizeQuery lowercases query and collapses whitespace. It is the
// cache key for a location.
func NormalizeQuery(query string) string {
	return strings.ToLower(strings.Join(strings.Fields(query), " "))
}

// Enrich returns a copy of events where every event lacking a coordinate
// but carrying a location is geocoded. Failed lookups leave the event
// without a coordinate.
func Enrich(ctx context.Context, g Geocoder, events []model.Event) []model.Event {
	out := make([]model.Event, len(events))
	copy(out, events)
	if g == nil {
		return out
	}

	for i := range out {
		if out[i].HasCoord() || strings.TrimSpace(out[i].Location) == "" {
			continue
		}
		coord, err := g.Geocode(ctx, out[i].Location)
		if err != nil {
			if ctx.Err() != nil {
				return out
			}
			if !errors.Is(err, ErrNoResult) {
				appLog.Warn("geocode failed", "event", out[i].Key(), "location", out[i].Location, "err", err)
			}
			continue
		}
		c := coord
		out[i].Coord = &c
	}
	return out
}

// Package schedule assembles one day of events for a browser: the user's
// Google calendar (when signed in) merged with the shared calendars, with
// missing coordinates geocoded from event locations.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"mealendar/internal/calendar"
	"mealendar/internal/geo"
	appLog "mealendar/internal/log"
	"mealendar/internal/model"
)

var (
	// ErrNotAuthenticated means there is nothing to show: no Google login
	// and no shared calendar configured.
	ErrNotAuthenticated = errors.New("schedule: user not authenticated")
	// ErrFetch means no calendar source answered.
	ErrFetch = errors.New("schedule: failed to fetch calendar events")
	// ErrInvalidDate is returned for dates not in YYYY-MM-DD form.
	ErrInvalidDate = errors.New("schedule: invalid date")
)

// DateLayout is the wire format of a day.
const DateLayout = "2006-01-02"

// DefaultCacheTTL keeps assembled days long enough to absorb the burst of
// requests one page load makes (events, map, chat).
const DefaultCacheTTL = 30 * time.Second

// UserCalendar is the signed-in user's calendar. *calendar.Google
// implements it.
type UserCalendar interface {
	calendar.Source
	Location(ctx context.Context) (*time.Location, error)
}

// Day is the assembled schedule of one date.
type Day struct {
	Date     string
	Location *time.Location
	Events   []model.Event
}

// Service assembles days. It is safe for concurrent use.
type Service struct {
	shared   []calendar.Source
	geocoder geo.Geocoder
	fallback *time.Location
	ttl      time.Duration
	now      func() time.Time

	mu    sync.Mutex
	cache map[string]cacheEntry
}

type cacheEntry struct {
	day       *Day
	updatedAt time.Time
}

// NewService returns a Service over the shared sources. fallback is the
// display timezone when the user's calendar does not report one; a nil
// geocoder disables location lookups.
func NewService(shared []calendar.Source, geocoder geo.Geocoder, fallback *time.Location) *Service {
	if fallback == nil {
		fallback = time.Local
	}
	return &Service{
		shared:   shared,
		geocoder: geocoder,
		fallback: fallback,
		ttl:      DefaultCacheTTL,
		now:      time.Now,
		cache:    make(map[string]cacheEntry),
	}
}

// Shared returns the shared sources.
func (s *Service) Shared() []calendar.Source {
	return append([]calendar.Source(nil), s.shared...)
}

// Location is the display timezone used without a signed-in user.
func (s *Service) Location() *time.Location { return s.fallback }

// Day returns the events of date (YYYY-MM-DD; empty means today) in the
// display timezone. user may be nil. cacheKey scopes the cache entry,
// usually the session id.
func (s *Service) Day(ctx context.Context, user UserCalendar, cacheKey, date string) (*Day, error) {
	if user == nil && len(s.shared) == 0 {
		return nil, ErrNotAuthenticated
	}

	loc := s.fallback
	var userErr error
	if user != nil {
		l, err := user.Location(ctx)
		if err != nil {
			userErr = err
		} else {
			loc = l
		}
	}

	day, err := s.parseDate(date, loc)
	if err != nil {
		return nil, err
	}
	dateStr := day.Format(DateLayout)

	key := cacheKey + "|" + dateStr + "|" + loc.String()
	if d := s.cached(key); d != nil {
		return d, nil
	}

	start, end := calendar.DayWindow(day, loc)
	appLog.Debug("assembling schedule", "date", dateStr, "timezone", loc.String(), "signed_in", user != nil)

	var (
		lists    [][]model.Event
		answered int
	)
	if user != nil && userErr == nil {
		events, err := user.Events(ctx, start, end)
		if err != nil {
			userErr = err
		} else {
			lists = append(lists, events)
			answered++
		}
	}
	if userErr != nil {
		appLog.Error("user calendar fetch failed", userErr, "date", dateStr)
	}

	for _, src := range s.shared {
		events, err := src.Events(ctx, start, end)
		if err != nil {
			appLog.Error("shared calendar fetch failed", err, "source", src.Name(), "date", dateStr)
			continue
		}
		lists = append(lists, events)
		answered++
	}

	if answered == 0 {
		if userErr != nil {
			return nil, fmt.Errorf("%w: %v", ErrFetch, userErr)
		}
		return nil, ErrFetch
	}

	events := calendar.Merge(lists...)
	if s.geocoder != nil {
		events = geo.Enrich(ctx, s.geocoder, events)
	}

	d := &Day{Date: dateStr, Location: loc, Events: events}
	s.store(key, d)
	return d, nil
}

// Invalidate drops cached days for cacheKey.
func (s *Service) Invalidate(cacheKey string) {
	prefix := cacheKey + "|"
	s.mu.Lock()
	defer s.mu.Unlock()
	for k := range s.cache {
		if strings.HasPrefix(k, prefix) {
			delete(s.cache, k)
		}
	}
}

// Warm fetches today from every shared source so their feed caches are
// fresh. It returns the number of sources that failed.
func (s *Service) Warm(ctx context.Context) int {
	start, end := calendar.DayWindow(s.now().In(s.fallback), s.fallback)
	failed := 0
	for _, src := range s.shared {
		if _, err := src.Events(ctx, start, end); err != nil {
			appLog.Error("warm shared calendar failed", err, "source", src.Name())
			failed++
		}
	}
	return failed
}

func (s *Service) parseDate(date string, loc *time.Location) (time.Time, error) {
	if date == "" {
		return s.now().In(loc), nil
	}
	t, err := time.ParseInLocation(DateLayout, date, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDate, date)
	}
	return t, nil
}

func (s *Service) cached(key string) *Day {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.cache[key]
	if !ok {
		return nil
	}
	if s.now().Sub(e.updatedAt) >= s.ttl {
		delete(s.cache, key)
		return nil
	}
	return e.day
}

func (s *Service) store(key string, d *Day) {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, e := range s.cache {
		if now.Sub(e.updatedAt) >= s.ttl {
			delete(s.cache, k)
		}
	}
	s.cache[key] = cacheEntry{day: d, updatedAt: now}
}

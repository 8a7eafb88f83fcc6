// Package calendartest provides a fake Google Calendar API server for
// tests. It implements calendars.get and a read-only events.list.
//
//	server := calendartest.NewServer()
//	defer server.Close()
//	server.SetTimeZone("primary", "Asia/Seoul")
//	server.AddEvent("primary", &gcal.Event{...})
//	src, _ := calendar.NewGoogle(ctx, http.DefaultClient, "primary", 50, server.URL)
package calendartest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	gcal "google.golang.org/api/calendar/v3"
)

// Server is a fake Google Calendar API server.
type Server struct {
	*httptest.Server

	mu        sync.RWMutex
	events    map[string][]*gcal.Event // calendarID -> events
	timezones map[string]string
	nextID    int
	fail      int
	requests  []url.Values
}

// NewServer starts a fake server.
func NewServer() *Server {
	s := &Server{
		events:    make(map[string][]*gcal.Event),
		timezones: make(map[string]string),
		nextID:    1,
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	return s
}

// handle routes /calendars/{id} and /calendars/{id}/events.
func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	idx := strings.Index(r.URL.Path, "/calendars/")
	if idx == -1 || r.Method != http.MethodGet {
		http.Error(w, "unsupported endpoint", http.StatusNotFound)
		return
	}

	s.mu.Lock()
	if s.fail != 0 {
		code := s.fail
		s.mu.Unlock()
		writeError(w, code)
		return
	}
	s.mu.Unlock()

	parts := strings.Split(strings.Trim(r.URL.Path[idx+len("/calendars/"):], "/"), "/")
	calendarID, err := url.PathUnescape(parts[0])
	if err != nil {
		http.Error(w, "bad calendar id", http.StatusBadRequest)
		return
	}

	switch {
	case len(parts) == 1:
		s.getCalendar(w, calendarID)
	case len(parts) == 2 && parts[1] == "events":
		s.listEvents(w, r, calendarID)
	default:
		http.Error(w, "unsupported resource", http.StatusNotImplemented)
	}
}

func (s *Server) getCalendar(w http.ResponseWriter, calendarID string) {
	s.mu.RLock()
	tz := s.timezones[calendarID]
	s.mu.RUnlock()

	writeJSON(w, &gcal.Calendar{
		Kind:     "calendar#calendar",
		Id:       calendarID,
		Summary:  calendarID,
		TimeZone: tz,
	})
}

// listEvents filters by overlap with [timeMin, timeMax), orders by start
// when singleEvents=true&orderBy=startTime and honours maxResults.
func (s *Server) listEvents(w http.ResponseWriter, r *http.Request, calendarID string) {
	q := r.URL.Query()

	s.mu.Lock()
	s.requests = append(s.requests, q)
	all := append([]*gcal.Event(nil), s.events[calendarID]...)
	s.mu.Unlock()

	timeMin, errMin := parseBound(q.Get("timeMin"))
	timeMax, errMax := parseBound(q.Get("timeMax"))
	if errMin != nil || errMax != nil {
		http.Error(w, "bad time bound", http.StatusBadRequest)
		return
	}

	var items []*gcal.Event
	for _, ev := range all {
		start, end := eventSpan(ev)
		if !timeMin.IsZero() && !end.After(timeMin) && !start.Equal(timeMin) {
			continue
		}
		if !timeMax.IsZero() && !start.Before(timeMax) {
			continue
		}
		items = append(items, ev)
	}

	if q.Get("singleEvents") == "true" && q.Get("orderBy") == "startTime" {
		sort.SliceStable(items, func(i, j int) bool {
			a, _ := eventSpan(items[i])
			b, _ := eventSpan(items[j])
			return a.Before(b)
		})
	}
	if n, err := strconv.Atoi(q.Get("maxResults")); err == nil && n >= 0 && n < len(items) {
		items = items[:n]
	}

	writeJSON(w, &gcal.Events{
		Kind:    "calendar#events",
		Summary: calendarID,
		Items:   items,
	})
}

// AddEvent stores an event. An empty Id is assigned.
func (s *Server) AddEvent(calendarID string, ev *gcal.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ev.Id == "" {
		ev.Id = fmt.Sprintf("event%d", s.nextID)
		s.nextID++
	}
	if ev.Status == "" {
		ev.Status = "confirmed"
	}
	s.events[calendarID] = append(s.events[calendarID], ev)
}

// SetTimeZone sets the timezone reported by calendars.get.
func (s *Server) SetTimeZone(calendarID, tz string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.timezones[calendarID] = tz
}

// FailWith makes every request answer with status code. Zero restores
// normal behaviour.
func (s *Server) FailWith(code int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail = code
}

// Requests returns the query strings of events.list calls so far.
func (s *Server) Requests() []url.Values {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]url.Values(nil), s.requests...)
}

// Reset clears events, timezones and recorded requests.
func (s *Server) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = make(map[string][]*gcal.Event)
	s.timezones = make(map[string]string)
	s.requests = nil
	s.fail = 0
	s.nextID = 1
}

// Timed returns an EventDateTime for a timed event.
func Timed(t time.Time) *gcal.EventDateTime {
	return &gcal.EventDateTime{DateTime: t.Format(time.RFC3339)}
}

// AllDay returns an EventDateTime for an all-day event on t's date.
func AllDay(t time.Time) *gcal.EventDateTime {
	return &gcal.EventDateTime{Date: t.Format("2006-01-02")}
}

func eventSpan(ev *gcal.Event) (time.Time, time.Time) {
	start := spanTime(ev.Start)
	end := spanTime(ev.End)
	if end.Before(start) {
		end = start
	}
	return start, end
}

// spanTime reads all-day dates as UTC midnight; good enough for filtering.
func spanTime(t *gcal.EventDateTime) time.Time {
	if t == nil {
		return time.Time{}
	}
	if t.DateTime != "" {
		v, _ := time.Parse(time.RFC3339, t.DateTime)
		return v
	}
	v, _ := time.Parse("2006-01-02", t.Date)
	return v
}

func parseBound(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, v)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	fmt.Fprintf(w, `{"error":{"code":%d,"message":%q}}`, code, http.StatusText(code))
}

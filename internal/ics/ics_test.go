package ics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
	_ "time/tzdata"
)

const fixture = `BEGIN:VCALENDAR
VERSION:2.0
PRODID:-//mealendar//test//EN
BEGIN:VEVENT
UID:lunch-1
DTSTART;TZID=Asia/Seoul:20240501T120000
DTEND;TZID=Asia/Seoul:20240501T130000
SUMMARY:Team lunch
LOCATION:Gwanghwamun
GEO:37.5759;126.9768
END:VEVENT
BEGIN:VEVENT
UID:standup
DTSTART;TZID=Asia/Seoul:20240429T090000
DTEND;TZID=Asia/Seoul:20240429T091500
RRULE:FREQ=DAILY;COUNT=10
EXDATE;TZID=Asia/Seoul:20240502T090000
SUMMARY:Standup
END:VEVENT
BEGIN:VEVENT
UID:standup
RECURRENCE-ID;TZID=Asia/Seoul:20240501T090000
DTSTART;TZID=Asia/Seoul:20240501T100000
DTEND;TZID=Asia/Seoul:20240501T101500
SUMMARY:Standup (moved)
END:VEVENT
BEGIN:VEVENT
UID:holiday
DTSTART;VALUE=DATE:20240501
DTEND;VALUE=DATE:20240502
SUMMARY:Labour day
END:VEVENT
BEGIN:VEVENT
SUMMARY:No uid
DTSTART:20240501T000000Z
END:VEVENT
END:VCALENDAR
`

func seoul(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("Asia/Seoul")
	if err != nil {
		t.Fatalf("load location: %v", err)
	}
	return loc
}

func dayWindow(loc *time.Location, y int, m time.Month, d int) (time.Time, time.Time) {
	start := time.Date(y, m, d, 0, 0, 0, 0, loc)
	return start, start.AddDate(0, 0, 1)
}

func TestParse(t *testing.T) {
	events, err := Parse("team", []byte(fixture))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if len(events) != 4 {
		t.Fatalf("expected 4 events (UID-less one skipped), got %d", len(events))
	}

	lunch := events[0]
	if lunch.FeedID != "team" || lunch.Summary != "Team lunch" || lunch.Location != "Gwanghwamun" {
		t.Errorf("unexpected lunch: %+v", lunch)
	}
	if lunch.Geo == nil || lunch.Geo.Lat != 37.5759 || lunch.Geo.Lng != 126.9768 {
		t.Errorf("GEO not parsed: %v", lunch.Geo)
	}
	if lunch.Start.Location().String() != "Asia/Seoul" || lunch.Start.Hour() != 12 {
		t.Errorf("unexpected start: %v", lunch.Start)
	}

	standup := events[1]
	if standup.RawRRule == "" || len(standup.ExDates) != 1 {
		t.Errorf("recurrence not captured: %+v", standup)
	}
	if !events[2].IsOverride() {
		t.Error("RECURRENCE-ID event should be an override")
	}
	if !events[3].AllDay {
		t.Error("VALUE=DATE event should be all-day")
	}
}

func TestParseEmpty(t *testing.T) {
	if _, err := Parse("x", []byte("  \n")); err == nil {
		t.Error("expected error for empty body")
	}
}

func TestParseGeo(t *testing.T) {
	tests := []struct {
		in      string
		wantErr bool
	}{
		{"37.5;127.0", false},
		{" -33.86 ; 151.21 ", false},
		{"37.5,127.0", true},
		{"91;0", true},
		{"abc;1", true},
	}
	for _, tt := range tests {
		_, err := ParseGeo(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseGeo(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
	}
}

func TestExpandDay(t *testing.T) {
	loc := seoul(t)
	parsed, err := Parse("team", []byte(fixture))
	if err != nil {
		t.Fatal(err)
	}

	start, end := dayWindow(loc, 2024, time.May, 1)
	res, err := Expand(parsed, ExpandConfig{Location: loc, RangeStart: start, RangeEnd: end})
	if err != nil {
		t.Fatalf("Expand() error = %v", err)
	}

	var titles []string
	for _, e := range res.Events {
		titles = append(titles, e.Title)
	}
	want := "Labour day|Standup (moved)|Team lunch"
	if got := strings.Join(titles, "|"); got != want {
		t.Fatalf("titles = %q, want %q", got, want)
	}

	holiday := res.Events[0]
	if !holiday.AllDay || !holiday.Start.Equal(start) || !holiday.End.Equal(end) {
		t.Errorf("all-day event not anchored to the day: %v - %v", holiday.Start, holiday.End)
	}
	moved := res.Events[1]
	if moved.ID != "standup@20240501T000000Z" || moved.Start.Hour() != 10 {
		t.Errorf("override not applied: %+v", moved)
	}
	lunch := res.Events[2]
	if lunch.Coord == nil || lunch.SourceID != "team" || lunch.ID != "lunch-1" {
		t.Errorf("unexpected lunch: %+v", lunch)
	}
}

func TestExpandHonoursExDate(t *testing.T) {
	loc := seoul(t)
	parsed, err := Parse("team", []byte(fixture))
	if err != nil {
		t.Fatal(err)
	}

	start, end := dayWindow(loc, 2024, time.May, 2)
	res, err := Expand(parsed, ExpandConfig{Location: loc, RangeStart: start, RangeEnd: end})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Events) != 0 {
		t.Errorf("expected no events on an excluded day, got %+v", res.Events)
	}

	start, end = dayWindow(loc, 2024, time.May, 3)
	res, err = Expand(parsed, ExpandConfig{Location: loc, RangeStart: start, RangeEnd: end})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Events) != 1 || res.Events[0].Title != "Standup" {
		t.Errorf("expected the regular standup, got %+v", res.Events)
	}
}

func TestExpandRejectsEmptyWindow(t *testing.T) {
	now := time.Now()
	if _, err := Expand(nil, ExpandConfig{RangeStart: now, RangeEnd: now}); err == nil {
		t.Error("expected error for empty window")
	}
}

func TestFetcherConditionalGet(t *testing.T) {
	var (
		calls   atomic.Int32
		failing atomic.Bool
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if failing.Load() {
			http.Error(w, "down", http.StatusBadGateway)
			return
		}
		if r.Header.Get("If-None-Match") == `"v1"` {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"v1"`)
		w.Write([]byte(fixture))
	}))
	defer srv.Close()

	f := NewFetcher(t.TempDir(), time.Second)
	feed := Feed{ID: "team", URL: srv.URL + "/private/token.ics"}
	ctx := context.Background()

	first, err := f.Fetch(ctx, feed)
	if err != nil || first.FromCache {
		t.Fatalf("first fetch: cache=%v err=%v", first.FromCache, err)
	}

	second, err := f.Fetch(ctx, feed)
	if err != nil || !second.FromCache || string(second.Body) != fixture {
		t.Fatalf("second fetch should be served from cache: cache=%v err=%v", second.FromCache, err)
	}

	failing.Store(true)
	third, err := f.Fetch(ctx, feed)
	if err != nil || !third.FromCache {
		t.Fatalf("failing upstream should fall back to cache: cache=%v err=%v", third.FromCache, err)
	}

	if calls.Load() != 3 {
		t.Errorf("expected 3 upstream calls, got %d", calls.Load())
	}
}

func TestFetcherErrorWithoutCache(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	f := NewFetcher(t.TempDir(), time.Second)
	if _, err := f.Fetch(context.Background(), Feed{ID: "x", URL: srv.URL}); err == nil {
		t.Error("expected error for 404 without cache")
	}
}

func TestNormalizeURL(t *testing.T) {
	got, err := normalizeURL("webcal://example.com/a.ics")
	if err != nil || got != "https://example.com/a.ics" {
		t.Errorf("normalizeURL(webcal) = %q, %v", got, err)
	}
	if _, err := normalizeURL("ftp://example.com/a.ics"); err == nil {
		t.Error("expected error for ftp scheme")
	}
	if got := redactURL("https://example.com/private/secret.ics?token=x"); got != "https://example.com/...(redacted)" {
		t.Errorf("redactURL() = %q", got)
	}
}

func TestCalendarEvents(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(fixture))
	}))
	defer srv.Close()

	loc := seoul(t)
	c := NewCalendar(Feed{ID: "team", URL: srv.URL}, NewFetcher("", time.Second))
	if c.Name() != "team" {
		t.Errorf("Name() = %q", c.Name())
	}

	start, end := dayWindow(loc, 2024, time.May, 1)
	res, err := c.Events(context.Background(), start, end)
	if err != nil {
		t.Fatalf("Events() error = %v", err)
	}
	if len(res.Events) != 3 {
		t.Errorf("expected 3 events, got %d", len(res.Events))
	}
	for _, e := range res.Events {
		if e.Start.Location() != loc {
			t.Errorf("event %q not in display location: %v", e.Title, e.Start.Location())
		}
	}
}

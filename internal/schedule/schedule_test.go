package schedule

import (
	"context"
	"errors"
	"testing"
	"time"
	_ "time/tzdata"

	"mealendar/internal/calendar"
	"mealendar/internal/model"
)

// fakeSource is a calendar.Source driven by function fields.
type fakeSource struct {
	name     string
	loc      *time.Location
	locErr   error
	EventsFn func(start, end time.Time) ([]model.Event, error)
	calls    int
}

func (f *fakeSource) Name() string { return f.name }

func (f *fakeSource) Events(_ context.Context, start, end time.Time) ([]model.Event, error) {
	f.calls++
	return f.EventsFn(start, end)
}

func (f *fakeSource) Location(context.Context) (*time.Location, error) {
	return f.loc, f.locErr
}

func sources(fs ...*fakeSource) []calendar.Source {
	out := make([]calendar.Source, 0, len(fs))
	for _, f := range fs {
		out = append(out, f)
	}
	return out
}

type geocoderFunc func(string) (model.LatLng, error)

func (g geocoderFunc) Geocode(_ context.Context, q string) (model.LatLng, error) { return g(q) }

func seoul(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("Asia/Seoul")
	if err != nil {
		t.Fatal(err)
	}
	return loc
}

func fixed(events ...model.Event) func(time.Time, time.Time) ([]model.Event, error) {
	return func(time.Time, time.Time) ([]model.Event, error) { return events, nil }
}

func failing(time.Time, time.Time) ([]model.Event, error) {
	return nil, errors.New("boom")
}

func TestDay_NotAuthenticated(t *testing.T) {
	svc := NewService(nil, nil, time.UTC)
	if _, err := svc.Day(context.Background(), nil, "", "2024-05-01"); !errors.Is(err, ErrNotAuthenticated) {
		t.Errorf("err = %v, want ErrNotAuthenticated", err)
	}
}

func TestShared(t *testing.T) {
	team := &fakeSource{name: "team", EventsFn: fixed()}
	office := &fakeSource{name: "office", EventsFn: fixed()}
	svc := NewService(sources(team, office), nil, time.UTC)

	got := svc.Shared()
	if len(got) != 2 || got[0].Name() != "team" || got[1].Name() != "office" {
		t.Fatalf("Shared() = %v", got)
	}
	got[0] = nil
	if svc.Shared()[0] == nil {
		t.Error("Shared() exposed the service's slice")
	}
	if len(NewService(nil, nil, time.UTC).Shared()) != 0 {
		t.Error("Shared() of an empty service is not empty")
	}
}

func TestDay_InvalidDate(t *testing.T) {
	shared := &fakeSource{name: "team", EventsFn: fixed()}
	svc := NewService(sources(shared), nil, time.UTC)
	if _, err := svc.Day(context.Background(), nil, "", "05/01/2024"); !errors.Is(err, ErrInvalidDate) {
		t.Errorf("err = %v, want ErrInvalidDate", err)
	}
}

func TestDay_MergesAndGeocodes(t *testing.T) {
	loc := seoul(t)
	day := time.Date(2024, 5, 1, 0, 0, 0, 0, loc)

	var window [2]time.Time
	user := &fakeSource{name: "google", loc: loc, EventsFn: func(start, end time.Time) ([]model.Event, error) {
		window = [2]time.Time{start, end}
		return []model.Event{
			{SourceID: "google", ID: "lunch", Title: "Lunch", Location: "Gwanghwamun", Start: day.Add(12 * time.Hour)},
			{SourceID: "google", ID: "call", Title: "Call", Start: day.Add(15 * time.Hour)},
		}, nil
	}}
	shared := &fakeSource{name: "team", EventsFn: fixed(
		model.Event{SourceID: "team", ID: "standup", Title: "Standup", Start: day.Add(9 * time.Hour),
			Coord: &model.LatLng{Lat: 37.5, Lng: 127.0}},
	)}
	geocoded := 0
	gc := geocoderFunc(func(q string) (model.LatLng, error) {
		geocoded++
		if q != "Gwanghwamun" {
			t.Errorf("unexpected geocode query %q", q)
		}
		return model.LatLng{Lat: 37.5759, Lng: 126.9768}, nil
	})

	svc := NewService(sources(shared), gc, time.UTC)
	d, err := svc.Day(context.Background(), user, "sess", "2024-05-01")
	if err != nil {
		t.Fatalf("Day() error = %v", err)
	}

	if d.Date != "2024-05-01" || d.Location != loc {
		t.Errorf("Day() date/location = %s/%v", d.Date, d.Location)
	}
	if !window[0].Equal(day) || !window[1].Equal(day.AddDate(0, 0, 1)) {
		t.Errorf("window = %v", window)
	}

	var ids []string
	for _, ev := range d.Events {
		ids = append(ids, ev.ID)
	}
	if len(ids) != 3 || ids[0] != "standup" || ids[1] != "lunch" || ids[2] != "call" {
		t.Fatalf("events = %v", ids)
	}
	if d.Events[1].Coord == nil || geocoded != 1 {
		t.Errorf("lunch not geocoded: %+v (calls %d)", d.Events[1], geocoded)
	}

	resp := NewResponse(d)
	labels := [3]string{resp.Events[0].MarkerLabel, resp.Events[1].MarkerLabel, resp.Events[2].MarkerLabel}
	if labels != [3]string{"1", "2", ""} {
		t.Errorf("marker labels = %v", labels)
	}
}

func TestDay_UserFailureFallsBackToShared(t *testing.T) {
	user := &fakeSource{name: "google", loc: time.UTC, EventsFn: failing}
	shared := &fakeSource{name: "team", EventsFn: fixed(model.Event{ID: "a"})}

	svc := NewService(sources(shared), nil, time.UTC)
	d, err := svc.Day(context.Background(), user, "s", "2024-05-01")
	if err != nil {
		t.Fatalf("Day() error = %v", err)
	}
	if len(d.Events) != 1 {
		t.Errorf("events = %+v", d.Events)
	}
}

func TestDay_NothingAnswers(t *testing.T) {
	user := &fakeSource{name: "google", locErr: errors.New("403"), EventsFn: failing}
	shared := &fakeSource{name: "team", EventsFn: failing}

	svc := NewService(sources(shared), nil, time.UTC)
	if _, err := svc.Day(context.Background(), user, "s", ""); !errors.Is(err, ErrFetch) {
		t.Errorf("err = %v, want ErrFetch", err)
	}
	if user.calls != 0 {
		t.Errorf("events listed after Location failed")
	}

	svc = NewService(sources(shared), nil, time.UTC)
	if _, err := svc.Day(context.Background(), nil, "", ""); !errors.Is(err, ErrFetch) {
		t.Errorf("shared only: err = %v, want ErrFetch", err)
	}
}

func TestDay_Cache(t *testing.T) {
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	shared := &fakeSource{name: "team", EventsFn: fixed(model.Event{ID: "a"})}
	svc := NewService(sources(shared), nil, time.UTC)
	svc.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		if _, err := svc.Day(context.Background(), nil, "s", ""); err != nil {
			t.Fatal(err)
		}
	}
	if shared.calls != 1 {
		t.Errorf("calls = %d, want 1 (cached)", shared.calls)
	}

	if _, err := svc.Day(context.Background(), nil, "other", ""); err != nil {
		t.Fatal(err)
	}
	if shared.calls != 2 {
		t.Errorf("calls = %d, want 2 (per-key cache)", shared.calls)
	}

	svc.Invalidate("s")
	if _, err := svc.Day(context.Background(), nil, "s", ""); err != nil {
		t.Fatal(err)
	}
	if shared.calls != 3 {
		t.Errorf("calls = %d, want 3 after Invalidate", shared.calls)
	}

	now = now.Add(DefaultCacheTTL)
	if _, err := svc.Day(context.Background(), nil, "s", ""); err != nil {
		t.Fatal(err)
	}
	if shared.calls != 4 {
		t.Errorf("calls = %d, want 4 after expiry", shared.calls)
	}
}

func TestWarm(t *testing.T) {
	ok := &fakeSource{name: "ok", EventsFn: fixed()}
	bad := &fakeSource{name: "bad", EventsFn: failing}
	svc := NewService(sources(ok, bad), nil, time.UTC)
	if failed := svc.Warm(context.Background()); failed != 1 {
		t.Errorf("Warm() failed = %d, want 1", failed)
	}
	if ok.calls != 1 || bad.calls != 1 {
		t.Errorf("calls = %d/%d", ok.calls, bad.calls)
	}
}

func TestItems(t *testing.T) {
	loc := seoul(t)
	start := time.Date(2024, 5, 1, 3, 30, 0, 0, time.UTC)
	items := Items([]model.Event{
		{ID: "h", AllDay: true, Start: time.Date(2024, 5, 1, 0, 0, 0, 0, loc)},
		{ID: "t", Start: start, Coord: &model.LatLng{Lat: 1, Lng: 2}},
	}, loc)

	if items[0].TimeLabel != AllDayLabel || items[0].Number != 1 || items[0].MarkerLabel != "" {
		t.Errorf("all-day item = %+v", items[0])
	}
	if items[1].TimeLabel != "12:30" || items[1].Number != 2 || items[1].MarkerLabel != "1" {
		t.Errorf("timed item = %+v", items[1])
	}
}

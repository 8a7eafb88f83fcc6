package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/urfave/cli/v3"

	"mealendar/internal/auth"
	"mealendar/internal/calendar"
	"mealendar/internal/capture"
	"mealendar/internal/chat"
	"mealendar/internal/config"
	"mealendar/internal/dashboard"
	"mealendar/internal/geo"
	"mealendar/internal/ics"
	appLog "mealendar/internal/log"
	"mealendar/internal/mapview"
	"mealendar/internal/refresh"
	"mealendar/internal/schedule"
	"mealendar/internal/store"
	"mealendar/internal/web"
)

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "run the dashboard web server and the refresh scheduler",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "listen",
				Usage: "HTTP listen address (overrides config if set)",
			},
			&cli.BoolFlag{
				Name:  "no-capture",
				Usage: "do not re-capture preview.png on refresh",
			},
		},
		Action: runServe,
	}
}

func runServe(ctx context.Context, cmd *cli.Command) error {
	conf, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if listen := cmd.String("listen"); listen != "" {
		conf.Listen = listen
	}
	debug := cmd.Bool("debug")

	appLog.Info("mealendar starting", "version", version)
	appLog.Info("effective config",
		"listen", conf.Listen,
		"timezone", conf.Timezone,
		"data_dir", conf.DataDir,
		"refresh", conf.RefreshCron,
		"ics_count", len(conf.ICS),
		"caldav_count", len(conf.CalDAV),
		"google_login", conf.GoogleEnabled(),
		"chat", conf.Chat.APIKey != "",
		"geocoder", conf.Geocoder.Enabled,
	)

	st, err := store.Open(conf.DatabasePath())
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer st.Close()

	svc, err := newScheduleService(conf, st)
	if err != nil {
		appLog.Error("some shared calendars are unavailable", err)
	}

	opts := mapview.Options{
		Center:           conf.MapCenter(),
		Zoom:             conf.Map.Zoom,
		SingleMarkerZoom: conf.Map.SingleMarkerZoom,
	}
	panels := dashboard.NewPanels(mapview.NewScene(conf.Map.Width, conf.Map.Height), opts)

	deps := web.Deps{Schedule: svc, Panels: panels}
	sessionTTL := auth.DefaultSessionTTL
	if conf.GoogleEnabled() {
		secure := strings.HasPrefix(conf.FrontendOrigin, "https://")
		sessions := auth.NewSessions(st, conf.SessionSecret, secure)
		deps.OAuth = auth.NewOAuth(auth.GoogleOAuthConfig(conf.Google), sessions, conf.FrontendOrigin)
		sessionTTL = sessions.TTL()
	} else {
		appLog.Warn("google client_id/client_secret not set; login disabled")
	}
	if conf.Chat.APIKey != "" {
		deps.Assistant = chat.NewAssistant(chat.NewGemini(conf.Chat.APIKey, conf.Chat.Model, conf.Chat.Endpoint, 0))
	} else {
		appLog.Warn("chat api_key not set; assistant disabled")
	}

	job := &refresh.Job{
		Warmer:     svc,
		Sessions:   st,
		SessionTTL: sessionTTL,
		Panels:     panels,
		PanelTTL:   dashboard.DefaultIdleTTL,
	}
	if !cmd.Bool("no-capture") {
		job.Capturer = capture.Chromium{}
		job.Capture = captureOptions(conf, "")
	}

	scheduler, err := refresh.NewScheduler(ctx, conf.RefreshCron, conf.Location(), job)
	if err != nil {
		return err
	}
	scheduler.Start()
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		scheduler.Stop(stopCtx)
	}()

	srv := web.NewServer(conf, debug, deps)
	err = srv.ListenAndServe(ctx)
	appLog.Info("mealendar exiting")
	return err
}

// newScheduleService wires the shared calendars and the geocoder. The
// service is usable even when some calendars failed to initialise; their
// errors are returned alongside it.
func newScheduleService(conf *config.Config, st *store.Store) (*schedule.Service, error) {
	shared, err := sharedSources(conf)

	var geocoder geo.Geocoder
	if conf.Geocoder.Enabled {
		timeout := time.Duration(conf.Geocoder.TimeoutSeconds) * time.Second
		nominatim := geo.NewNominatim(conf.Geocoder.Endpoint, conf.Geocoder.UserAgent, timeout)
		if st != nil {
			geocoder = geo.NewCached(nominatim, st)
		} else {
			geocoder = nominatim
		}
	}
	return schedule.NewService(shared, geocoder, conf.Location()), err
}

// sharedSources builds the ICS and CalDAV calendars every visitor sees.
func sharedSources(conf *config.Config) ([]calendar.Source, error) {
	var out []calendar.Source

	fetcher := ics.NewFetcher(conf.ICSCacheDir(), 0)
	for i, c := range conf.ICS {
		id := c.ID
		if id == "" {
			id = fmt.Sprintf("ics-%d", i)
		}
		out = append(out, calendar.NewICS(ics.Feed{ID: id, URL: c.URL}, fetcher))
	}

	var errs []error
	for i, c := range conf.CalDAV {
		id := c.ID
		if id == "" {
			id = fmt.Sprintf("caldav-%d", i)
		}
		src, err := calendar.NewCalDAV(id, c.Endpoint, c.Calendar, c.Username, c.Password, nil)
		if err != nil {
			errs = append(errs, fmt.Errorf("caldav[%d]: %w", i, err))
			continue
		}
		out = append(out, src)
	}
	return out, errors.Join(errs...)
}

// captureOptions points the screenshot at the local dashboard. A hashed
// basic auth password cannot be replayed, so capture then runs without
// credentials and fails until the password is stored in plain text.
func captureOptions(conf *config.Config, date string) capture.Options {
	opts := capture.Options{
		URL:        capture.DashboardURL(conf.Listen, date),
		OutputPath: conf.PreviewPath(),
	}
	if ba := conf.BasicAuth; ba != nil && ba.Username != "" && ba.Password != "" {
		if auth.IsHashed(ba.Password) {
			appLog.Warn("basic_auth password is hashed; preview capture cannot log in")
		} else {
			opts.Username, opts.Password = ba.Username, ba.Password
		}
	}
	return opts
}

// Package refresh runs the periodic housekeeping job: warming shared
// calendar caches, re-capturing the dashboard preview and pruning idle
// sessions.
package refresh

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"mealendar/internal/capture"
	appLog "mealendar/internal/log"
)

// Warmer refreshes shared calendar caches and returns the failure count.
type Warmer interface {
	Warm(ctx context.Context) int
}

// Capturer writes a screenshot of the dashboard.
type Capturer interface {
	Capture(ctx context.Context, opts capture.Options) error
}

// SessionPruner deletes sessions idle since before.
type SessionPruner interface {
	PruneSessions(ctx context.Context, before time.Time) (int64, error)
}

// PanelPruner drops map panels idle for longer than idle.
type PanelPruner interface {
	Prune(idle time.Duration) int
}

// Job is one housekeeping pass. Nil fields are skipped.
type Job struct {
	Warmer   Warmer
	Capturer Capturer
	Capture  capture.Options

	Sessions   SessionPruner
	SessionTTL time.Duration
	Panels     PanelPruner
	PanelTTL   time.Duration

	now func() time.Time
}

// Result summarises one Run.
type Result struct {
	WarmFailures   int
	Captured       bool
	SessionsPruned int64
	PanelsPruned   int
}

// Run performs the pass. Failures of one step are logged and do not stop
// the others.
func (j *Job) Run(ctx context.Context) Result {
	started := j.clock()
	var res Result

	if j.Warmer != nil {
		res.WarmFailures = j.Warmer.Warm(ctx)
	}

	if j.Capturer != nil && j.Capture.URL != "" {
		if err := j.Capturer.Capture(ctx, j.Capture); err != nil {
			appLog.Error("preview capture failed", err, "url", j.Capture.URL)
		} else {
			res.Captured = true
		}
	}

	if j.Sessions != nil && j.SessionTTL > 0 {
		n, err := j.Sessions.PruneSessions(ctx, j.clock().Add(-j.SessionTTL))
		if err != nil {
			appLog.Error("session prune failed", err)
		}
		res.SessionsPruned = n
	}

	if j.Panels != nil && j.PanelTTL > 0 {
		res.PanelsPruned = j.Panels.Prune(j.PanelTTL)
	}

	appLog.Info("refresh finished",
		"warm_failures", res.WarmFailures,
		"captured", res.Captured,
		"sessions_pruned", res.SessionsPruned,
		"panels_pruned", res.PanelsPruned,
		"elapsed", j.clock().Sub(started).String(),
	)
	return res
}

func (j *Job) clock() time.Time {
	if j.now != nil {
		return j.now()
	}
	return time.Now()
}

// Scheduler runs a Job on a cron schedule.
type Scheduler struct {
	cron *cron.Cron
	id   cron.EntryID
}

// NewScheduler registers job under spec (standard five-field cron or a
// descriptor such as "@every 15m"), evaluated in loc. Overlapping runs are
// skipped and panics are recovered.
func NewScheduler(ctx context.Context, spec string, loc *time.Location, job *Job) (*Scheduler, error) {
	if loc == nil {
		loc = time.Local
	}
	logger := cronLogger{}
	c := cron.New(
		cron.WithLocation(loc),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	id, err := c.AddFunc(spec, func() { job.Run(ctx) })
	if err != nil {
		return nil, fmt.Errorf("refresh: invalid schedule %q: %w", spec, err)
	}
	return &Scheduler{cron: c, id: id}, nil
}

// Start begins running the job in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
	appLog.Info("refresh scheduler started", "next", s.Next().Format(time.RFC3339))
}

// Next returns the next scheduled run, or zero before Start.
func (s *Scheduler) Next() time.Time {
	return s.cron.Entry(s.id).Next
}

// Stop stops the scheduler and waits for a running job to finish or ctx
// to end.
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
	}
}

// cronLogger routes cron's logr-style messages to the application logger.
type cronLogger struct{}

func (cronLogger) Info(msg string, kv ...interface{}) {
	appLog.Debug("cron: "+msg, kv...)
}

func (cronLogger) Error(err error, msg string, kv ...interface{}) {
	appLog.Error("cron: "+msg, err, kv...)
}

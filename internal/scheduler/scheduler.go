// Package scheduler runs a job at fixed wall-clock times every day.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/deusflow/newspick/internal/logger"
)

// Job is one scheduled run. Its error is logged, never fatal.
type Job func(ctx context.Context) error

type Scheduler struct {
	cron *cron.Cron
	log  *slog.Logger
	ctx  context.Context
}

// New creates a scheduler evaluating times in loc. Jobs receive ctx, and Run
// returns once it is done. Runs never overlap: a trigger that fires while the
// previous run is still going is skipped.
func New(ctx context.Context, loc *time.Location, log *slog.Logger) *Scheduler {
	if loc == nil {
		loc = time.Local
	}
	log = logger.OrNop(log)
	cl := cronLogger{log: log}
	return &Scheduler{
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		log: log,
		ctx: ctx,
	}
}

// DailySpec turns "HH:MM" into a cron spec firing once a day at that time.
func DailySpec(hhmm string) (string, error) {
	t, err := time.Parse("15:04", hhmm)
	if err != nil {
		return "", fmt.Errorf("invalid execution time %q, want HH:MM", hhmm)
	}
	return fmt.Sprintf("%d %d * * *", t.Minute(), t.Hour()), nil
}

// AddDaily registers job at each of the given HH:MM times.
func (s *Scheduler) AddDaily(times []string, job Job) error {
	for _, hhmm := range times {
		spec, err := DailySpec(hhmm)
		if err != nil {
			return err
		}
		at := hhmm
		if _, err := s.cron.AddFunc(spec, func() { s.run(at, job) }); err != nil {
			return fmt.Errorf("schedule %s: %w", hhmm, err)
		}
		s.log.Info("scheduled daily run", "at", hhmm)
	}
	return nil
}

func (s *Scheduler) run(at string, job Job) {
	if s.ctx.Err() != nil {
		return
	}
	s.log.Info("scheduled run starting", "at", at)
	if err := job(s.ctx); err != nil {
		s.log.Error("scheduled run failed", "at", at, "error", err)
		return
	}
	s.log.Info("scheduled run finished", "at", at)
}

// Next returns the next trigger time, or the zero time when nothing is scheduled.
func (s *Scheduler) Next() time.Time {
	var next time.Time
	for _, e := range s.cron.Entries() {
		if next.IsZero() || (!e.Next.IsZero() && e.Next.Before(next)) {
			next = e.Next
		}
	}
	return next
}

// Run starts the scheduler and blocks until the scheduler's context is done,
// then waits for a running job to finish.
func (s *Scheduler) Run() {
	s.cron.Start()
	s.log.Info("scheduler started", "next_run", s.Next())

	<-s.ctx.Done()
	s.log.Info("stopping scheduler, waiting for running job")
	<-s.cron.Stop().Done()
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	log *slog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.log.Debug("cron: "+msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.log.Error("cron: "+msg, append([]interface{}{"error", err}, keysAndValues...)...)
}

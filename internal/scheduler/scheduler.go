// Package scheduler runs passes on an interval or cron schedule and
// watches the apps file for changes between passes.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/obentoo/triggerdockerbuild/internal/common/logger"
)

// ErrInvalidSchedule is returned for an unparsable schedule expression
var ErrInvalidSchedule = errors.New("invalid schedule")

// parser accepts five-field cron expressions and descriptors such as @every 30m
var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// IntervalSpec returns the schedule expression for a fixed interval in minutes.
func IntervalSpec(minutes int) string {
	return fmt.Sprintf("@every %dm", minutes)
}

// ParseSchedule parses a cron expression or descriptor
func ParseSchedule(expr string) (cron.Schedule, error) {
	sched, err := parser.Parse(strings.TrimSpace(expr))
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidSchedule, expr, err)
	}
	return sched, nil
}

// Job is one pass
type Job func(ctx context.Context)

// Scheduler runs a job on a schedule. Runs never overlap: a tick that fires
// while the previous run is still going is skipped.
type Scheduler struct {
	expr     string
	schedule cron.Schedule
	job      Job
	running  atomic.Bool
	skipped  atomic.Int64
	logger   *logger.Logger
}

// Option is a functional option for configuring Scheduler
type Option func(*Scheduler)

// WithLogger sets the logger
func WithLogger(l *logger.Logger) Option {
	return func(s *Scheduler) {
		s.logger = l
	}
}

// New creates a scheduler for expr.
func New(expr string, job Job, opts ...Option) (*Scheduler, error) {
	sched, err := ParseSchedule(expr)
	if err != nil {
		return nil, err
	}

	s := &Scheduler{
		expr:     expr,
		schedule: sched,
		job:      job,
		logger:   logger.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Next returns the first scheduled run after t
func (s *Scheduler) Next(t time.Time) time.Time {
	return s.schedule.Next(t)
}

// Skipped returns how many ticks were dropped because a run was in progress
func (s *Scheduler) Skipped() int64 {
	return s.skipped.Load()
}

// RunNow runs the job unless a run is already in progress.
// It reports whether the job ran.
func (s *Scheduler) RunNow(ctx context.Context) bool {
	if !s.running.CompareAndSwap(false, true) {
		s.skipped.Add(1)
		s.logger.Warn("Previous pass still running, skipping this run")
		return false
	}
	defer s.running.Store(false)

	s.job(ctx)
	return true
}

// Run blocks, running the job on schedule until ctx is cancelled. It then
// waits for a run in progress to finish.
func (s *Scheduler) Run(ctx context.Context) {
	c := cron.New(cron.WithParser(parser), cron.WithLogger(cronLogger{s.logger}))
	c.Schedule(s.schedule, cron.FuncJob(func() {
		if ctx.Err() != nil {
			return
		}
		s.RunNow(ctx)
		s.logger.Info("Next pass at %s", s.Next(time.Now()).Format(time.RFC3339))
	}))

	s.logger.Info("Scheduler started (%s), next pass at %s", s.expr, s.Next(time.Now()).Format(time.RFC3339))
	c.Start()

	<-ctx.Done()
	s.logger.Info("Scheduler stopping, waiting for running pass")
	<-c.Stop().Done()
}

// cronLogger adapts the application logger to cron.Logger
type cronLogger struct {
	l *logger.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debug("cron: %s %v", msg, keysAndValues)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Error("cron: %s: %v %v", msg, err, keysAndValues)
}

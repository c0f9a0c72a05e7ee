// Package monitor runs passes over the monitored applications: fetch each
// upstream version, decide what to do about it and record the outcome.
// Applications are processed one at a time in file order.
package monitor

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/obentoo/triggerdockerbuild/internal/apps"
	"github.com/obentoo/triggerdockerbuild/internal/common/logger"
	"github.com/obentoo/triggerdockerbuild/internal/source"
)

// ErrPassAborted is returned when a pass stopped before every application was handled
var ErrPassAborted = errors.New("pass aborted")

// VersionFetcher fetches upstream versions. *source.Registry satisfies it.
type VersionFetcher interface {
	FetchVersion(ctx context.Context, app *apps.App) *source.FetchResult
}

// Pass summarizes one run over the application list.
type Pass struct {
	ID       string
	Started  time.Time
	Finished time.Time
	Results  []*Result
	// Skipped counts disabled applications
	Skipped int
	// Interrupted is set when cancellation stopped the pass between applications
	Interrupted bool
	Err         error
}

// Count returns how many results ended with decision d.
func (p *Pass) Count(d Decision) int {
	n := 0
	for _, r := range p.Results {
		if r.Decision == d {
			n++
		}
	}
	return n
}

// Monitor runs passes.
type Monitor struct {
	fetcher VersionFetcher
	engine  *Engine
	logger  *logger.Logger
	nowFunc func() time.Time
}

// Option is a functional option for configuring Monitor
type Option func(*Monitor)

// WithLogger sets the logger
func WithLogger(l *logger.Logger) Option {
	return func(m *Monitor) {
		m.logger = l
	}
}

// WithClock sets a custom time function for pass timestamps
func WithClock(fn func() time.Time) Option {
	return func(m *Monitor) {
		m.nowFunc = fn
	}
}

// New creates a monitor from a version fetcher and a decision engine.
func New(fetcher VersionFetcher, engine *Engine, opts ...Option) *Monitor {
	m := &Monitor{
		fetcher: fetcher,
		engine:  engine,
		logger:  logger.Default(),
		nowFunc: time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// RunPass processes every enabled application in cfg once.
//
// Invalid descriptors are reported and skipped. A failed fetch or release
// affects only its application. Cancelling ctx stops the pass before the
// next application; the one in flight runs to completion. A state write
// failure stops the pass and is returned.
func (m *Monitor) RunPass(ctx context.Context, cfg *apps.AppsConfig) (*Pass, error) {
	pass := &Pass{ID: uuid.NewString(), Started: m.nowFunc()}
	defer func() { pass.Finished = m.nowFunc() }()

	valid, errs := cfg.Validate()
	for _, err := range errs {
		m.logger.Error("Skipping application: %v", err)
		pass.Results = append(pass.Results, &Result{Decision: DecisionError, Err: err, Detail: "invalid descriptor"})
	}

	m.logger.Info("Pass %s started: %d applications", pass.ID, len(valid))

	for i := range valid {
		if ctx.Err() != nil {
			pass.Interrupted = true
			m.logger.Warn("Pass %s interrupted after %d applications", pass.ID, i)
			break
		}

		app := &valid[i]
		if !app.IsEnabled() {
			pass.Skipped++
			m.logger.Debug("Skipping disabled application %s", app)
			continue
		}

		res, err := m.processApp(context.WithoutCancel(ctx), app)
		pass.Results = append(pass.Results, res)
		if err != nil {
			pass.Err = errors.Join(ErrPassAborted, err)
			m.logger.Error("Pass %s aborted at %s: %v", pass.ID, app, err)
			return pass, pass.Err
		}
	}

	m.logger.Info("All applications processed (pass %s): %d triggered, %d notified, %d pending, %d errors",
		pass.ID, pass.Count(DecisionTriggered), pass.Count(DecisionNotified), pass.Count(DecisionPending),
		pass.Count(DecisionError)+pass.Count(DecisionFailed))
	return pass, nil
}

func (m *Monitor) processApp(ctx context.Context, app *apps.App) (*Result, error) {
	m.logger.Info("Processing started for application %s", app)

	fetched := m.fetcher.FetchVersion(ctx, app)
	if !fetched.OK {
		return &Result{
			Key:      app.Key(),
			App:      app.SourceAppName,
			Kind:     app.SourceKind,
			Decision: DecisionError,
			Detail:   fetched.Kind.String(),
			Err:      fetched.Err,
		}, nil
	}

	res, err := m.engine.Decide(ctx, app, fetched)
	if err != nil {
		return res, err
	}
	m.logger.Info("Processing finished for application %s: %s", app, res.Decision)
	return res, nil
}

// CheckResult is a dry-run view of one application.
type CheckResult struct {
	Key      string
	App      *apps.App
	Fetched  *source.FetchResult
	Previous string
	Known    bool
	Changed  bool
}

// Check fetches every enabled application without changing state.
func (m *Monitor) Check(ctx context.Context, cfg *apps.AppsConfig) ([]CheckResult, []error) {
	valid, errs := cfg.Validate()

	var results []CheckResult
	for i := range valid {
		if ctx.Err() != nil {
			break
		}
		app := &valid[i]
		if !app.IsEnabled() {
			continue
		}

		cr := CheckResult{Key: app.Key(), App: app}
		cr.Fetched = m.fetcher.FetchVersion(ctx, app)
		if rec, ok := m.engine.store.Get(cr.Key); ok {
			cr.Known = true
			cr.Previous = rec.PreviousVersion
		}
		cr.Changed = cr.Fetched.OK && cr.Known && cr.Fetched.Version != cr.Previous
		results = append(results, cr)
	}
	return results, errs
}

package monitor

import (
	"context"
	"fmt"
	"time"

	"github.com/obentoo/triggerdockerbuild/internal/apps"
	"github.com/obentoo/triggerdockerbuild/internal/common/logger"
	"github.com/obentoo/triggerdockerbuild/internal/notify"
	"github.com/obentoo/triggerdockerbuild/internal/release"
	"github.com/obentoo/triggerdockerbuild/internal/source"
	"github.com/obentoo/triggerdockerbuild/internal/state"
)

// Decision is the outcome of evaluating one application.
type Decision string

const (
	// DecisionFirstSeen means no record existed; the version was seeded
	DecisionFirstSeen Decision = "first_seen"
	// DecisionNoChange means upstream still reports the acted-on version
	DecisionNoChange Decision = "no_change"
	// DecisionPending means a change is waiting out its grace period
	DecisionPending Decision = "pending"
	// DecisionThrottled means the target repository released too recently
	DecisionThrottled Decision = "throttled"
	// DecisionTriggered means a release was created
	DecisionTriggered Decision = "triggered"
	// DecisionNotified means a notify-only change was recorded and sent
	DecisionNotified Decision = "notified"
	// DecisionDuplicate means the release tag already existed; the version was adopted
	DecisionDuplicate Decision = "duplicate"
	// DecisionFailed means the release could not be created
	DecisionFailed Decision = "failed"
	// DecisionError means the version could not be fetched or the descriptor is invalid
	DecisionError Decision = "error"
)

// Store is the persistence the engine needs. *state.Store satisfies it.
type Store interface {
	Get(key string) (*state.Record, bool)
	Put(key string, rec state.Record) error
}

// Releaser creates releases and reports release history.
// *release.Creator satisfies it.
type Releaser interface {
	CreateRelease(ctx context.Context, version, targetRepo, targetBranch string) *release.Outcome
	LastReleaseTime(ctx context.Context, targetRepo string) (time.Time, bool, error)
}

// Result describes what happened to one application in a pass.
type Result struct {
	Key      string
	App      string
	Kind     apps.SourceKind
	Decision Decision
	Previous string
	Current  string
	Tag      string
	Detail   string
	Err      error
	// NotifyErr is set when the change was handled but delivery failed
	NotifyErr error
}

// Engine applies the trigger rules to a fetched version.
type Engine struct {
	store       Store
	releases    Releaser
	notifier    notify.Notifier
	dockerOwner string
	logger      *logger.Logger
	nowFunc     func() time.Time
}

// EngineOption is a functional option for configuring Engine
type EngineOption func(*Engine)

// WithNotifier sets the channel used for change notifications
func WithNotifier(n notify.Notifier) EngineOption {
	return func(e *Engine) {
		e.notifier = n
	}
}

// WithDockerHubOwner sets the owner used in Docker Hub build links
func WithDockerHubOwner(owner string) EngineOption {
	return func(e *Engine) {
		e.dockerOwner = owner
	}
}

// WithEngineLogger sets the logger
func WithEngineLogger(l *logger.Logger) EngineOption {
	return func(e *Engine) {
		e.logger = l
	}
}

// WithNowFunc sets a custom time function for testing
func WithNowFunc(fn func() time.Time) EngineOption {
	return func(e *Engine) {
		e.nowFunc = fn
	}
}

// NewEngine creates a decision engine.
func NewEngine(store Store, releases Releaser, opts ...EngineOption) *Engine {
	e := &Engine{
		store:    store,
		releases: releases,
		notifier: notify.NoopNotifier{},
		logger:   logger.Default(),
		nowFunc:  time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Decide evaluates a successful fetch for app and applies the outcome.
// The returned error is non-nil only when state could not be persisted;
// the decision is then not final and the pass must stop.
func (e *Engine) Decide(ctx context.Context, app *apps.App, fetched *source.FetchResult) (*Result, error) {
	now := e.nowFunc().UTC()
	key := app.Key()
	current := fetched.Version

	res := &Result{Key: key, App: app.SourceAppName, Kind: app.SourceKind, Current: current}

	rec, found := e.store.Get(key)
	if !found {
		e.logger.Info("No known previous version for %s, seeding with %s", key, current)
		res.Decision = DecisionFirstSeen
		res.Previous = current
		return res, e.put(key, state.Record{
			CurrentVersion:  current,
			PreviousVersion: current,
			SourceURL:       fetched.SourceURL,
		}, res)
	}
	res.Previous = rec.PreviousVersion

	if current == rec.PreviousVersion {
		res.Decision = DecisionNoChange
		if rec.Pending() || rec.CurrentVersion != current {
			// a pending change went away upstream
			e.logger.Info("[%s] pending version %s reverted to %s", key, rec.CurrentVersion, current)
			rec.CurrentVersion = current
			rec.PendingSince = nil
			res.Detail = "pending change reverted"
			return res, e.put(key, *rec, res)
		}
		e.logger.Debug("[SKIPPED] %s: previous version %s and current version %s match", key, rec.PreviousVersion, current)
		return res, nil
	}

	if app.Action == apps.ActionNotify {
		return e.notifyOnly(ctx, app, fetched, rec, res)
	}
	return e.trigger(ctx, app, fetched, rec, res, now)
}

func (e *Engine) notifyOnly(ctx context.Context, app *apps.App, fetched *source.FetchResult, rec *state.Record, res *Result) (*Result, error) {
	previous := rec.PreviousVersion
	e.logger.Info("[NOTIFY] %s: version changed from %s to %s", res.Key, previous, res.Current)

	rec.PreviousVersion = res.Current
	rec.CurrentVersion = res.Current
	rec.PendingSince = nil
	rec.SourceURL = fetched.SourceURL
	res.Decision = DecisionNotified
	if err := e.put(res.Key, *rec, res); err != nil {
		return res, err
	}

	e.send(ctx, app, fetched, previous, res)
	return res, nil
}

func (e *Engine) trigger(ctx context.Context, app *apps.App, fetched *source.FetchResult, rec *state.Record, res *Result, now time.Time) (*Result, error) {
	if app.GracePeriodMinutes > 0 {
		grace := time.Duration(app.GracePeriodMinutes) * time.Minute

		if !rec.Pending() || rec.CurrentVersion != res.Current {
			if rec.Pending() {
				e.logger.Info("[%s] version moved from %s to %s during grace period, restarting timer", res.Key, rec.CurrentVersion, res.Current)
			} else {
				e.logger.Info("[%s] version %s detected, waiting %s before triggering", res.Key, res.Current, grace)
			}
			rec.CurrentVersion = res.Current
			rec.PendingSince = &now
			rec.SourceURL = fetched.SourceURL
			res.Decision = DecisionPending
			res.Detail = fmt.Sprintf("grace period of %s started", grace)
			return res, e.put(res.Key, *rec, res)
		}

		if elapsed := now.Sub(*rec.PendingSince); elapsed < grace {
			res.Decision = DecisionPending
			res.Detail = fmt.Sprintf("%s of grace period remaining", (grace - elapsed).Round(time.Minute))
			e.logger.Debug("[%s] %s", res.Key, res.Detail)
			return res, nil
		}
	}

	if app.TargetReleaseDays > 0 {
		if throttled, detail := e.throttled(ctx, app, rec, now); throttled {
			res.Decision = DecisionThrottled
			res.Detail = detail
			e.logger.Info("[THROTTLED] %s: %s", res.Key, detail)
			return res, e.observe(res.Key, fetched, rec, res)
		}
	}

	e.logger.Info("[TRIGGER] %s: previous version %s and current version %s differ, creating release", res.Key, rec.PreviousVersion, res.Current)
	outcome := e.releases.CreateRelease(ctx, res.Current, app.TargetRepoName, app.TargetRepoBranch)
	res.Tag = outcome.Tag

	switch outcome.Kind {
	case release.Created:
		previous := rec.PreviousVersion
		rec.PreviousVersion = res.Current
		rec.CurrentVersion = res.Current
		rec.PendingSince = nil
		rec.LastTriggerAt = &now
		rec.SourceURL = fetched.SourceURL
		res.Decision = DecisionTriggered
		if err := e.put(res.Key, *rec, res); err != nil {
			return res, err
		}
		e.send(ctx, app, fetched, previous, res)
		return res, nil

	case release.Duplicate:
		e.logger.Warn("[%s] release %s already exists in %s, adopting version %s", res.Key, outcome.Tag, app.TargetRepoName, res.Current)
		rec.PreviousVersion = res.Current
		rec.CurrentVersion = res.Current
		rec.PendingSince = nil
		rec.SourceURL = fetched.SourceURL
		res.Decision = DecisionDuplicate
		res.Err = outcome.Err
		return res, e.put(res.Key, *rec, res)

	default:
		e.logger.Warn("[%s] problem creating release %s, will retry next pass: %v", res.Key, outcome.Tag, outcome.Err)
		res.Decision = DecisionFailed
		res.Err = outcome.Err
		return res, e.observe(res.Key, fetched, rec, res)
	}
}

// observe records the latest fetched version of a change that was not acted
// on. The previous version and pending marker are left as they are.
func (e *Engine) observe(key string, fetched *source.FetchResult, rec *state.Record, res *Result) error {
	if rec.CurrentVersion == res.Current && rec.SourceURL == fetched.SourceURL {
		return nil
	}
	rec.CurrentVersion = res.Current
	rec.SourceURL = fetched.SourceURL
	return e.put(key, *rec, res)
}

// throttled reports whether the target repository released within the
// configured number of days. When the release history cannot be read the
// last trigger time recorded here is used; without one the change waits.
func (e *Engine) throttled(ctx context.Context, app *apps.App, rec *state.Record, now time.Time) (bool, string) {
	window := time.Duration(app.TargetReleaseDays) * 24 * time.Hour

	last, found, err := e.releases.LastReleaseTime(ctx, app.TargetRepoName)
	if err != nil {
		e.logger.Warn("[%s] cannot read release history of %s: %v", app.Key(), app.TargetRepoName, err)
		if rec.LastTriggerAt == nil {
			return true, "release history unavailable"
		}
		last, found = *rec.LastTriggerAt, true
	}
	if !found {
		return false, ""
	}

	if since := now.Sub(last); since < window {
		return true, fmt.Sprintf("last release %s ago, minimum spacing is %d days", since.Round(time.Hour), app.TargetReleaseDays)
	}
	return false, ""
}

func (e *Engine) put(key string, rec state.Record, res *Result) error {
	if err := e.store.Put(key, rec); err != nil {
		res.Err = err
		e.logger.Error("[%s] failed to persist state: %v", key, err)
		return err
	}
	return nil
}

func (e *Engine) send(ctx context.Context, app *apps.App, fetched *source.FetchResult, previous string, res *Result) {
	change := notify.Change{
		Action:     string(app.Action),
		AppName:    app.SourceAppName,
		RepoName:   app.SourceRepoName,
		SourceKind: string(app.SourceKind),
		SourceURL:  fetched.SourceURL,
		TargetRepo: app.TargetRepoName,
		Previous:   previous,
		Current:    res.Current,
	}
	if app.Action == apps.ActionTrigger && e.dockerOwner != "" {
		change.BuildURL = notify.DockerHubBuildURL(e.dockerOwner, app.TargetRepoName)
	}

	if err := e.notifier.Send(ctx, notify.ChangeNotification(change)); err != nil {
		res.NotifyErr = err
		e.logger.Warn("[%s] notification failed: %v", res.Key, err)
	}
}

// Package source fetches the current upstream version of a monitored
// application. One adapter exists per source kind; the Registry selects
// the adapter from the descriptor.
package source

import (
	"context"
	"errors"
	"fmt"

	"github.com/obentoo/triggerdockerbuild/internal/apps"
	"github.com/obentoo/triggerdockerbuild/internal/common/httpclient"
	"github.com/obentoo/triggerdockerbuild/internal/common/logger"
)

var (
	// ErrTransientNetwork means the upstream could not be reached or kept
	// answering with a non-2xx status after all retries.
	ErrTransientNetwork = errors.New("upstream unreachable")
	// ErrUpstreamProtocol means the upstream answered but the content did
	// not have the expected shape.
	ErrUpstreamProtocol = errors.New("unexpected upstream content")
	// ErrNoAdapter is returned when no adapter is registered for a kind
	ErrNoAdapter = errors.New("no adapter registered for source kind")
)

// ErrorKind classifies a failed fetch.
type ErrorKind int

const (
	ErrorNone ErrorKind = iota
	ErrorUnreachable
	ErrorUnexpectedContent
	ErrorConfiguration
)

func (k ErrorKind) String() string {
	switch k {
	case ErrorNone:
		return "none"
	case ErrorUnreachable:
		return "unreachable"
	case ErrorUnexpectedContent:
		return "unexpected_content"
	case ErrorConfiguration:
		return "configuration"
	default:
		return fmt.Sprintf("ErrorKind(%d)", int(k))
	}
}

// FetchResult is the outcome of a version fetch.
type FetchResult struct {
	OK      bool
	Version string
	// SourceURL is a human-readable link to the upstream release page
	SourceURL string
	// RequestURL is the URL that was queried
	RequestURL string
	Kind       ErrorKind
	Err        error
}

func success(version, sourceURL, requestURL string) *FetchResult {
	return &FetchResult{OK: true, Version: version, SourceURL: sourceURL, RequestURL: requestURL}
}

func unreachable(requestURL string, resp *httpclient.Response) *FetchResult {
	return &FetchResult{
		RequestURL: requestURL,
		Kind:       ErrorUnreachable,
		Err:        fmt.Errorf("%w: %w", ErrTransientNetwork, resp.Err),
	}
}

func unexpected(requestURL string, err error) *FetchResult {
	return &FetchResult{
		RequestURL: requestURL,
		Kind:       ErrorUnexpectedContent,
		Err:        fmt.Errorf("%w: %w", ErrUpstreamProtocol, err),
	}
}

func misconfigured(err error) *FetchResult {
	return &FetchResult{
		Kind: ErrorConfiguration,
		Err:  fmt.Errorf("%w: %w", apps.ErrConfiguration, err),
	}
}

// Fetcher performs HTTP GETs. *httpclient.Client satisfies it.
type Fetcher interface {
	Get(ctx context.Context, url string, headers map[string]string) *httpclient.Response
}

// Adapter fetches the current version for one source kind.
type Adapter interface {
	FetchVersion(ctx context.Context, app *apps.App) *FetchResult
}

// Registry maps source kinds to adapters.
type Registry struct {
	adapters map[apps.SourceKind]Adapter
	logger   *logger.Logger
}

// RegistryOption is a functional option for configuring Registry
type RegistryOption func(*Registry)

// WithLogger sets the logger used for fetch failures
func WithLogger(l *logger.Logger) RegistryOption {
	return func(r *Registry) {
		r.logger = l
	}
}

// WithAdapter registers or replaces the adapter for kind
func WithAdapter(kind apps.SourceKind, a Adapter) RegistryOption {
	return func(r *Registry) {
		r.adapters[kind] = a
	}
}

// NewRegistry creates a registry with the built-in adapters using client.
func NewRegistry(client Fetcher, opts ...RegistryOption) *Registry {
	r := &Registry{
		adapters: map[apps.SourceKind]Adapter{
			apps.KindGitHub:       NewGitHub(client),
			apps.KindGitLab:       NewGitLab(client),
			apps.KindPyPI:         NewPyPI(client),
			apps.KindArchOfficial: NewArchOfficial(client),
			apps.KindArchUser:     NewArchUser(client),
			apps.KindRegex:        NewCustom(client),
		},
		logger: logger.Default(),
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// FetchVersion dispatches to the adapter for app.SourceKind. It never
// panics; adapter panics are reported as unexpected content.
func (r *Registry) FetchVersion(ctx context.Context, app *apps.App) (result *FetchResult) {
	adapter, ok := r.adapters[app.SourceKind]
	if !ok {
		result = misconfigured(fmt.Errorf("%w: %q", ErrNoAdapter, app.SourceKind))
		r.report(app, result)
		return result
	}

	defer func() {
		if p := recover(); p != nil {
			result = unexpected("", fmt.Errorf("adapter panic: %v", p))
		}
		r.report(app, result)
	}()

	return adapter.FetchVersion(ctx, app)
}

// report logs a failed fetch. Shape mismatches usually mean the upstream
// API changed and are logged as errors; network trouble is a warning.
func (r *Registry) report(app *apps.App, result *FetchResult) {
	if result == nil || result.OK {
		return
	}
	switch result.Kind {
	case ErrorUnreachable:
		r.logger.Warn("[%s] %s: upstream unreachable at %s: %v", app.SourceKind, app.SourceAppName, result.RequestURL, result.Err)
	case ErrorUnexpectedContent:
		r.logger.Error("[%s] %s: unexpected content from %s: %v", app.SourceKind, app.SourceAppName, result.RequestURL, result.Err)
	default:
		r.logger.Error("[%s] %s: %v", app.SourceKind, app.SourceAppName, result.Err)
	}
}

// getJSONField fetches url and extracts path from the JSON body.
func getJSONField(ctx context.Context, client Fetcher, url, path string, headers map[string]string) (string, *FetchResult) {
	resp := client.Get(ctx, url, headers)
	if !resp.OK {
		return "", unreachable(url, resp)
	}

	parser := &JSONParser{Path: path}
	value, err := parser.Parse(resp.Body)
	if err != nil {
		return "", unexpected(url, err)
	}
	return value, nil
}

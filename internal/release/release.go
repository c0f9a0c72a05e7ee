// Package release creates tagged releases in target GitHub repositories.
// A new release starts the Docker image build of the target repository.
package release

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/obentoo/triggerdockerbuild/internal/common/httpclient"
	"github.com/obentoo/triggerdockerbuild/internal/common/logger"
)

var (
	// ErrDuplicateRelease indicates the tag already exists in the target repository
	ErrDuplicateRelease = errors.New("release already exists")
	// ErrAPIError indicates the release API rejected the request
	ErrAPIError = errors.New("GitHub release API error")
	// ErrMissingOwner is returned when no target repository owner is configured
	ErrMissingOwner = errors.New("target repository owner not set")
	// ErrEmptyVersion is returned when asked to release an empty version
	ErrEmptyVersion = errors.New("cannot release an empty version")
)

const (
	// ReleaseName is the name given to every created release
	ReleaseName = "API/URL triggered release"
	// TagSuffix is appended to the normalized version
	TagSuffix = "-01"
)

// OutcomeKind is the result class of a release request
type OutcomeKind int

const (
	Created OutcomeKind = iota
	Duplicate
	Failed
)

func (k OutcomeKind) String() string {
	switch k {
	case Created:
		return "created"
	case Duplicate:
		return "duplicate"
	default:
		return "failed"
	}
}

// Outcome describes what happened to a release request.
type Outcome struct {
	Kind       OutcomeKind
	Tag        string
	HTMLURL    string
	StatusCode int
	Err        error
}

// API is the subset of the HTTP client the creator needs.
type API interface {
	Get(ctx context.Context, url string, headers map[string]string) *httpclient.Response
	PostJSON(ctx context.Context, url string, payload interface{}, req httpclient.Request) *httpclient.Response
}

// Creator creates releases on behalf of one repository owner.
type Creator struct {
	BaseURL string
	Owner   string
	token   string
	client  API
	logger  *logger.Logger
}

// Option is a functional option for configuring Creator
type Option func(*Creator)

// WithBaseURL points the creator at another API root
func WithBaseURL(url string) Option {
	return func(c *Creator) {
		c.BaseURL = strings.TrimRight(url, "/")
	}
}

// WithToken sets the token used to authenticate release requests
func WithToken(token string) Option {
	return func(c *Creator) {
		c.token = token
	}
}

// WithLogger sets the logger
func WithLogger(l *logger.Logger) Option {
	return func(c *Creator) {
		c.logger = l
	}
}

// NewCreator creates a release creator for repositories owned by owner.
func NewCreator(client API, owner string, opts ...Option) *Creator {
	c := &Creator{
		BaseURL: "https://api.github.com",
		Owner:   owner,
		client:  client,
		logger:  logger.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type createRequest struct {
	TagName         string `json:"tag_name"`
	TargetCommitish string `json:"target_commitish"`
	Name            string `json:"name"`
	Body            string `json:"body"`
	Draft           bool   `json:"draft"`
	Prerelease      bool   `json:"prerelease"`
}

type releaseResponse struct {
	TagName     string     `json:"tag_name"`
	HTMLURL     string     `json:"html_url"`
	PublishedAt *time.Time `json:"published_at"`
	CreatedAt   time.Time  `json:"created_at"`
}

// tagIllegal matches characters that are not allowed in tag names here
var tagIllegal = regexp.MustCompile(`[^A-Za-z0-9._+-]`)

// NormalizeTag builds the release tag for version. Characters outside
// [A-Za-z0-9._+-] become '.', so an Arch epoch "1:2.0-3" becomes "1.2.0-3-01".
// Normalization is not applied when comparing versions.
func NormalizeTag(version string) string {
	tag := tagIllegal.ReplaceAllString(strings.TrimSpace(version), ".")
	for strings.Contains(tag, "..") {
		tag = strings.ReplaceAll(tag, "..", ".")
	}
	tag = strings.TrimLeft(tag, ".-")
	tag = strings.TrimSuffix(tag, ".lock")
	return tag + TagSuffix
}

func (c *Creator) releasesURL(targetRepo string) string {
	return fmt.Sprintf("%s/repos/%s/%s/releases", c.BaseURL, c.Owner, targetRepo)
}

// CreateRelease creates a release tagged NormalizeTag(version) on
// targetBranch of Owner/targetRepo. 201 is Created; 422 and 409 mean the
// tag already exists. Anything else is Failed once the client gave up.
func (c *Creator) CreateRelease(ctx context.Context, version, targetRepo, targetBranch string) *Outcome {
	if c.Owner == "" {
		return &Outcome{Kind: Failed, Err: ErrMissingOwner}
	}
	if strings.TrimSpace(version) == "" {
		return &Outcome{Kind: Failed, Err: ErrEmptyVersion}
	}

	tag := NormalizeTag(version)
	payload := createRequest{
		TagName:         tag,
		TargetCommitish: targetBranch,
		Name:            ReleaseName,
		Body:            tag,
	}

	url := c.releasesURL(targetRepo)
	c.logger.Info("Creating release %s on %s/%s (%s)", tag, c.Owner, targetRepo, targetBranch)

	resp := c.client.PostJSON(ctx, url, payload, httpclient.Request{
		Token:   c.token,
		Headers: map[string]string{"Accept": "application/vnd.github+json"},
	})

	outcome := &Outcome{Tag: tag, StatusCode: resp.StatusCode}
	switch {
	case resp.StatusCode == http.StatusCreated:
		outcome.Kind = Created
		var rel releaseResponse
		if err := json.Unmarshal(resp.Body, &rel); err == nil {
			outcome.HTMLURL = rel.HTMLURL
		}
	case resp.StatusCode == http.StatusUnprocessableEntity || resp.StatusCode == http.StatusConflict:
		outcome.Kind = Duplicate
		outcome.Err = fmt.Errorf("%w: %s/%s tag %s", ErrDuplicateRelease, c.Owner, targetRepo, tag)
	case resp.OK:
		// 2xx other than 201 is not what the API documents; treat as created.
		outcome.Kind = Created
	default:
		outcome.Kind = Failed
		outcome.Err = fmt.Errorf("%w: %s: %w", ErrAPIError, url, resp.Err)
	}
	return outcome
}

// LastReleaseTime returns when the latest release of Owner/targetRepo was
// published. found is false when the repository has no release yet.
func (c *Creator) LastReleaseTime(ctx context.Context, targetRepo string) (last time.Time, found bool, err error) {
	if c.Owner == "" {
		return time.Time{}, false, ErrMissingOwner
	}

	url := c.releasesURL(targetRepo) + "/latest"
	resp := c.client.Get(ctx, url, map[string]string{"Accept": "application/vnd.github+json"})
	if resp.StatusCode == http.StatusNotFound {
		return time.Time{}, false, nil
	}
	if !resp.OK {
		return time.Time{}, false, fmt.Errorf("%w: %s: %w", ErrAPIError, url, resp.Err)
	}

	var rel releaseResponse
	if err := resp.DecodeJSON(&rel); err != nil {
		return time.Time{}, false, fmt.Errorf("%w: %s: %v", ErrAPIError, url, err)
	}
	if rel.PublishedAt != nil {
		return *rel.PublishedAt, true, nil
	}
	if !rel.CreatedAt.IsZero() {
		return rel.CreatedAt, true, nil
	}
	return time.Time{}, false, fmt.Errorf("%w: %s: release without timestamps", ErrAPIError, url)
}

// Package httpclient provides the retrying HTTP client shared by every
// upstream adapter, the release creator and the notifiers.
package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/obentoo/triggerdockerbuild/internal/common/version"
)

// Error variables for HTTP client errors
var (
	// ErrMaxRetriesExceeded is returned when all retry attempts have failed
	ErrMaxRetriesExceeded = errors.New("max retries exceeded")
	// ErrRequestTimeout is returned when a request times out
	ErrRequestTimeout = errors.New("request timeout")
	// ErrStatus is returned when the final response has a non-2xx status
	ErrStatus = errors.New("unexpected HTTP status")
	// ErrInvalidRequest is returned when a request cannot be built
	ErrInvalidRequest = errors.New("invalid request")
)

// maxBodySize caps how much of a response body is read into memory
const maxBodySize = 10 << 20

// envVarPattern matches ${VAR_NAME} syntax for environment variable substitution
var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// RetryConfig holds configuration for retry behavior and timeouts.
type RetryConfig struct {
	// MaxRetries is the number of retries after the first attempt (default: 4)
	MaxRetries int
	// BaseDelay is the initial delay before first retry (default: 1s)
	BaseDelay time.Duration
	// MaxDelay is the maximum delay between retries (default: 30s)
	MaxDelay time.Duration
	// ConnectTimeout bounds dialing and the TLS handshake (default: 10s)
	ConnectTimeout time.Duration
	// ReadTimeout bounds the wait for response headers (default: 5s)
	ReadTimeout time.Duration
	// Timeout bounds a single attempt end to end (default: 30s)
	Timeout time.Duration
}

// DefaultRetryConfig returns the default retry configuration.
// Five attempts with delays of 1s, 2s, 4s, 8s between them.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:     4,
		BaseDelay:      1 * time.Second,
		MaxDelay:       30 * time.Second,
		ConnectTimeout: 10 * time.Second,
		ReadTimeout:    5 * time.Second,
		Timeout:        30 * time.Second,
	}
}

// Request describes a single logical HTTP call.
type Request struct {
	Method  string
	URL     string
	Headers map[string]string
	Body    []byte
	// Token, when set, is sent as a Bearer token regardless of host.
	Token string
}

// Response is the outcome of a Fetch. It is never nil.
type Response struct {
	// OK is true for a 2xx status
	OK         bool
	StatusCode int
	Header     http.Header
	Body       []byte
	// Err describes the failure when OK is false
	Err error
	// Attempts is the number of requests sent
	Attempts int
}

// ClientError reports a 4xx final status
func (r *Response) ClientError() bool {
	return r.StatusCode >= 400 && r.StatusCode < 500
}

// ServerError reports a 5xx final status
func (r *Response) ServerError() bool {
	return r.StatusCode >= 500 && r.StatusCode < 600
}

// Unreachable reports a failure where no HTTP response was obtained
func (r *Response) Unreachable() bool {
	return !r.OK && r.StatusCode == 0
}

// DecodeJSON unmarshals the response body into v.
func (r *Response) DecodeJSON(v interface{}) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("failed to parse JSON response: %w", err)
	}
	return nil
}

// Client wraps an HTTP client with retry logic.
// It implements exponential backoff for failed requests and is safe to reuse
// across calls; it keeps no per-request state.
type Client struct {
	client *http.Client
	config RetryConfig
	// delayFunc allows overriding the delay function for testing
	delayFunc func(time.Duration)
	// defaultHeaders are headers applied to all requests
	defaultHeaders map[string]string
	// githubToken is the GitHub API token for authentication
	githubToken string
	// gitlabToken is the GitLab API token for authentication
	gitlabToken string
}

// New creates a new HTTP client with the default retry configuration.
func New() *Client {
	return NewWithConfig(DefaultRetryConfig())
}

// NewWithConfig creates a new HTTP client with custom retry configuration.
func NewWithConfig(config RetryConfig) *Client {
	dialer := &net.Dialer{
		Timeout:   config.ConnectTimeout,
		KeepAlive: 30 * time.Second,
	}
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		TLSHandshakeTimeout:   config.ConnectTimeout,
		ResponseHeaderTimeout: config.ReadTimeout,
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
	}
	return &Client{
		client: &http.Client{
			Transport: transport,
			Timeout:   config.Timeout,
		},
		config:    config,
		delayFunc: time.Sleep,
		defaultHeaders: map[string]string{
			"User-Agent": version.UserAgent(),
		},
	}
}

// SetHTTPClient sets a custom underlying HTTP client (useful for testing).
func (c *Client) SetHTTPClient(client *http.Client) {
	c.client = client
}

// SetDelayFunc sets a custom delay function (useful for testing).
// The function receives the delay duration that would normally be slept.
func (c *Client) SetDelayFunc(fn func(time.Duration)) {
	c.delayFunc = fn
}

// Config returns the current retry configuration.
func (c *Client) Config() RetryConfig {
	return c.config
}

// SetGitHubToken sets the token sent to api.github.com.
func (c *Client) SetGitHubToken(token string) {
	c.githubToken = token
}

// SetGitLabToken sets the token sent to gitlab.com API endpoints.
func (c *Client) SetGitLabToken(token string) {
	c.gitlabToken = token
}

// Get performs a GET request with retry logic.
func (c *Client) Get(ctx context.Context, url string, headers map[string]string) *Response {
	return c.Fetch(ctx, Request{Method: http.MethodGet, URL: url, Headers: headers})
}

// PostJSON marshals payload and POSTs it with retry logic.
func (c *Client) PostJSON(ctx context.Context, url string, payload interface{}, req Request) *Response {
	body, err := json.Marshal(payload)
	if err != nil {
		return &Response{Err: fmt.Errorf("%w: %v", ErrInvalidRequest, err)}
	}
	req.Method = http.MethodPost
	req.URL = url
	req.Body = body
	if req.Headers == nil {
		req.Headers = map[string]string{}
	}
	req.Headers["Content-Type"] = "application/json"
	return c.Fetch(ctx, req)
}

// Fetch executes a request with retry logic.
// Network errors, timeouts and every non-2xx status are retried with
// exponential backoff until MaxRetries is exhausted. The last response
// (status and body) is returned so callers can classify the failure.
func (c *Client) Fetch(ctx context.Context, r Request) (resp *Response) {
	resp = &Response{}
	defer func() {
		if p := recover(); p != nil {
			resp = &Response{Err: fmt.Errorf("%w: panic during request: %v", ErrInvalidRequest, p)}
		}
	}()

	if r.Method == "" {
		r.Method = http.MethodGet
	}

	var lastErr error
	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			c.delayFunc(c.calculateDelay(attempt))
		}

		if ctx.Err() != nil {
			resp.Err = ctx.Err()
			return resp
		}

		req, err := http.NewRequestWithContext(ctx, r.Method, r.URL, bytes.NewReader(r.Body))
		if err != nil {
			resp.Err = fmt.Errorf("%w: %v", ErrInvalidRequest, err)
			return resp
		}
		c.applyHeaders(req, r)

		resp.Attempts++
		httpResp, err := c.client.Do(req)
		if err != nil {
			lastErr = err
			if isTimeoutError(err) {
				lastErr = fmt.Errorf("%w: %v", ErrRequestTimeout, err)
			}
			continue
		}

		body, readErr := io.ReadAll(io.LimitReader(httpResp.Body, maxBodySize))
		httpResp.Body.Close()

		resp.StatusCode = httpResp.StatusCode
		resp.Header = httpResp.Header
		resp.Body = body

		if readErr != nil {
			lastErr = fmt.Errorf("reading body: %w", readErr)
			resp.StatusCode = 0
			continue
		}

		if httpResp.StatusCode >= 200 && httpResp.StatusCode < 300 {
			resp.OK = true
			resp.Err = nil
			return resp
		}

		lastErr = fmt.Errorf("%w: %d", ErrStatus, httpResp.StatusCode)
	}

	resp.Err = fmt.Errorf("%w: %s %s: %v", ErrMaxRetriesExceeded, r.Method, r.URL, lastErr)
	return resp
}

// calculateDelay calculates the delay for a given retry attempt.
// Uses exponential backoff: delay = baseDelay * 2^(attempt-1), capped at MaxDelay.
func (c *Client) calculateDelay(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}

	multiplier := 1 << (attempt - 1)
	delay := c.config.BaseDelay * time.Duration(multiplier)

	if delay > c.config.MaxDelay || delay <= 0 {
		delay = c.config.MaxDelay
	}

	return delay
}

// isTimeoutError checks if an error is a timeout error.
func isTimeoutError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return ne.Timeout()
	}
	return false
}

// applyHeaders applies headers to a request in the following order:
// 1. Default headers
// 2. Forge token (GitHub/GitLab API hosts) or the explicit request token
// 3. Request headers
// All header values are processed for environment variable substitution.
func (c *Client) applyHeaders(req *http.Request, r Request) {
	for key, value := range c.defaultHeaders {
		req.Header.Set(key, SubstituteEnvVars(value))
	}

	switch {
	case r.Token != "":
		req.Header.Set("Authorization", "Bearer "+r.Token)
	case c.githubToken != "" && isGitHubAPIURL(r.URL):
		req.Header.Set("Authorization", "Bearer "+c.githubToken)
	case c.gitlabToken != "" && isGitLabAPIURL(r.URL):
		req.Header.Set("PRIVATE-TOKEN", c.gitlabToken)
	}

	for key, value := range r.Headers {
		req.Header.Set(key, SubstituteEnvVars(value))
	}
}

// SubstituteEnvVars replaces ${VAR_NAME} patterns in a string with
// the corresponding environment variable values.
// If an environment variable is not set, the pattern is replaced with an empty string.
func SubstituteEnvVars(value string) string {
	return envVarPattern.ReplaceAllStringFunc(value, func(match string) string {
		varName := match[2 : len(match)-1]
		return os.Getenv(varName)
	})
}

// isGitHubAPIURL checks if a URL is a GitHub API URL.
func isGitHubAPIURL(url string) bool {
	return strings.HasPrefix(url, "https://api.github.com/") ||
		strings.HasPrefix(url, "http://api.github.com/")
}

// isGitLabAPIURL checks if a URL is a gitlab.com API URL.
func isGitLabAPIURL(url string) bool {
	return strings.HasPrefix(url, "https://gitlab.com/api/")
}

package httpclient

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// newTestClient returns a client against server that records delays instead of sleeping
func newTestClient(server *httptest.Server, delays *[]time.Duration) *Client {
	client := New()
	client.SetHTTPClient(server.Client())
	client.SetDelayFunc(func(d time.Duration) {
		if delays != nil {
			*delays = append(*delays, d)
		}
	})
	return client
}

// =============================================================================
// Property-Based Tests
// =============================================================================

// TestRetryExponentialBackoff tests that retry delays grow exponentially
func TestRetryExponentialBackoff(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("Retry delays follow exponential backoff pattern", prop.ForAll(
		func(numFailures int, failStatus int) bool {
			var requestCount int32
			var recordedDelays []time.Duration

			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				count := atomic.AddInt32(&requestCount, 1)
				if int(count) <= numFailures {
					w.WriteHeader(failStatus)
					return
				}
				w.WriteHeader(http.StatusOK)
			}))
			defer server.Close()

			client := newTestClient(server, &recordedDelays)

			resp := client.Get(context.Background(), server.URL, nil)
			if !resp.OK {
				t.Logf("Request failed: %v", resp.Err)
				return false
			}

			if len(recordedDelays) != numFailures {
				t.Logf("Expected %d delays, got %d", numFailures, len(recordedDelays))
				return false
			}

			for i := 1; i < len(recordedDelays); i++ {
				if recordedDelays[i] <= recordedDelays[i-1] {
					t.Logf("Delay %d (%v) should be > delay %d (%v)",
						i, recordedDelays[i], i-1, recordedDelays[i-1])
					return false
				}
			}

			return resp.Attempts == numFailures+1
		},
		gen.IntRange(1, 4),
		gen.OneConstOf(400, 404, 429, 500, 502, 503),
	))

	properties.Property("After max retries, no more attempts are made", prop.ForAll(
		func(failStatus int) bool {
			var requestCount int32

			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				atomic.AddInt32(&requestCount, 1)
				w.WriteHeader(failStatus)
				_, _ = w.Write([]byte(`{"message":"nope"}`))
			}))
			defer server.Close()

			client := newTestClient(server, nil)

			resp := client.Get(context.Background(), server.URL, nil)
			if resp.OK {
				t.Log("Expected failure after max retries")
				return false
			}
			if !errors.Is(resp.Err, ErrMaxRetriesExceeded) {
				t.Logf("Expected ErrMaxRetriesExceeded, got %v", resp.Err)
				return false
			}
			if resp.StatusCode != failStatus {
				t.Logf("Expected final status %d, got %d", failStatus, resp.StatusCode)
				return false
			}
			if string(resp.Body) != `{"message":"nope"}` {
				t.Logf("Expected final body preserved, got %q", resp.Body)
				return false
			}

			expected := int32(client.Config().MaxRetries + 1)
			if count := atomic.LoadInt32(&requestCount); count != expected {
				t.Logf("Expected %d requests, got %d", expected, count)
				return false
			}
			return true
		},
		gen.OneConstOf(401, 404, 422, 500, 503),
	))

	properties.TestingRun(t)
}

// TestCalculateDelayCapped tests that delays never exceed MaxDelay
func TestCalculateDelayCapped(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("calculateDelay is bounded by MaxDelay", prop.ForAll(
		func(attempt int) bool {
			client := New()
			d := client.calculateDelay(attempt)
			return d > 0 && d <= client.Config().MaxDelay
		},
		gen.IntRange(1, 80),
	))

	properties.TestingRun(t)
}

// =============================================================================
// Unit Tests
// =============================================================================

func TestDefaultRetryConfig(t *testing.T) {
	cfg := DefaultRetryConfig()
	if cfg.ConnectTimeout != 10*time.Second {
		t.Errorf("ConnectTimeout = %v, want 10s", cfg.ConnectTimeout)
	}
	if cfg.ReadTimeout != 5*time.Second {
		t.Errorf("ReadTimeout = %v, want 5s", cfg.ReadTimeout)
	}
	if cfg.BaseDelay != time.Second {
		t.Errorf("BaseDelay = %v, want 1s", cfg.BaseDelay)
	}
}

func TestCalculateDelaySequence(t *testing.T) {
	client := New()
	want := []time.Duration{0, 1 * time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second, 30 * time.Second}
	for attempt, expected := range want {
		if got := client.calculateDelay(attempt); got != expected {
			t.Errorf("calculateDelay(%d) = %v, want %v", attempt, got, expected)
		}
	}
}

func TestFetchUnreachable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	client := New()
	client.SetDelayFunc(func(time.Duration) {})

	resp := client.Get(context.Background(), url, nil)
	if resp.OK {
		t.Fatal("Expected failure for closed server")
	}
	if !resp.Unreachable() {
		t.Errorf("Expected Unreachable(), got status %d", resp.StatusCode)
	}
	if resp.Attempts != client.Config().MaxRetries+1 {
		t.Errorf("Expected %d attempts, got %d", client.Config().MaxRetries+1, resp.Attempts)
	}
}

func TestFetchClassification(t *testing.T) {
	tests := []struct {
		status      int
		clientError bool
		serverError bool
	}{
		{http.StatusNotFound, true, false},
		{http.StatusUnprocessableEntity, true, false},
		{http.StatusBadGateway, false, true},
	}

	for _, tt := range tests {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tt.status)
		}))

		client := newTestClient(server, nil)
		resp := client.Get(context.Background(), server.URL, nil)
		server.Close()

		if resp.ClientError() != tt.clientError || resp.ServerError() != tt.serverError {
			t.Errorf("status %d: ClientError=%v ServerError=%v", tt.status, resp.ClientError(), resp.ServerError())
		}
		if resp.Unreachable() {
			t.Errorf("status %d: should not be reported unreachable", tt.status)
		}
	}
}

func TestFetchStopsOnCancelledContext(t *testing.T) {
	var requestCount int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&requestCount, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	client := newTestClient(server, nil)
	client.SetDelayFunc(func(time.Duration) { cancel() })

	resp := client.Get(ctx, server.URL, nil)
	if resp.OK {
		t.Fatal("Expected failure")
	}
	if !errors.Is(resp.Err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", resp.Err)
	}
	if atomic.LoadInt32(&requestCount) != 1 {
		t.Errorf("Expected 1 request before cancellation, got %d", requestCount)
	}
}

func TestPostJSONSendsBodyAndToken(t *testing.T) {
	var gotAuth, gotType, gotBody string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotType = r.Header.Get("Content-Type")
		data, _ := io.ReadAll(r.Body)
		gotBody = string(data)
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	client := newTestClient(server, nil)
	resp := client.PostJSON(context.Background(), server.URL, map[string]string{"tag_name": "v1-01"}, Request{Token: "abc"})
	if !resp.OK {
		t.Fatalf("Expected success, got %v", resp.Err)
	}
	if resp.StatusCode != http.StatusCreated {
		t.Errorf("StatusCode = %d, want 201", resp.StatusCode)
	}
	if gotAuth != "Bearer abc" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if gotType != "application/json" {
		t.Errorf("Content-Type = %q", gotType)
	}
	if gotBody != `{"tag_name":"v1-01"}` {
		t.Errorf("body = %q", gotBody)
	}
}

func TestPostJSONRetriesWithBody(t *testing.T) {
	var bodies []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		bodies = append(bodies, string(data))
		if len(bodies) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	client := newTestClient(server, nil)
	resp := client.PostJSON(context.Background(), server.URL, map[string]int{"n": 1}, Request{})
	if !resp.OK {
		t.Fatalf("Expected success on retry, got %v", resp.Err)
	}
	if len(bodies) != 2 || bodies[0] != bodies[1] || bodies[1] != `{"n":1}` {
		t.Errorf("Expected identical bodies on both attempts, got %q", bodies)
	}
}

func TestApplyHeaders(t *testing.T) {
	t.Setenv("TDB_TEST_KEY", "s3cret")

	client := New()
	client.SetGitHubToken("gh")
	client.SetGitLabToken("gl")

	tests := []struct {
		name       string
		req        Request
		header     string
		wantHeader string
	}{
		{"github api gets bearer", Request{URL: "https://api.github.com/repos/a/b/tags"}, "Authorization", "Bearer gh"},
		{"github web gets nothing", Request{URL: "https://github.com/a/b"}, "Authorization", ""},
		{"gitlab api gets private token", Request{URL: "https://gitlab.com/api/v4/projects/x"}, "PRIVATE-TOKEN", "gl"},
		{"explicit token wins", Request{URL: "https://api.github.com/x", Token: "other"}, "Authorization", "Bearer other"},
		{"env substitution", Request{URL: "https://example.com", Headers: map[string]string{"X-Key": "${TDB_TEST_KEY}"}}, "X-Key", "s3cret"},
		{"user agent default", Request{URL: "https://example.com"}, "User-Agent", "triggerdockerbuild/dev"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, _ := http.NewRequest(http.MethodGet, tt.req.URL, nil)
			client.applyHeaders(req, tt.req)
			if got := req.Header.Get(tt.header); got != tt.wantHeader {
				t.Errorf("%s = %q, want %q", tt.header, got, tt.wantHeader)
			}
		})
	}
}

func TestSubstituteEnvVars(t *testing.T) {
	t.Setenv("TDB_A", "1")
	if got := SubstituteEnvVars("x-${TDB_A}-${TDB_UNSET_VAR}"); got != "x-1-" {
		t.Errorf("SubstituteEnvVars = %q, want x-1-", got)
	}
}

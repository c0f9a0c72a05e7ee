package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/wneessen/go-mail"

	"github.com/obentoo/triggerdockerbuild/internal/common/config"
	"github.com/obentoo/triggerdockerbuild/internal/common/httpclient"
)

func sampleChange() Change {
	return Change{
		Action:     "trigger",
		AppName:    "sonarr",
		RepoName:   "Sonarr",
		SourceKind: "github",
		SourceURL:  "https://github.com/Sonarr/sonarr/releases",
		TargetRepo: "arch-sonarr",
		Previous:   "v1.0",
		Current:    "v2.0",
		BuildURL:   DockerHubBuildURL("binhex", "arch-sonarr"),
	}
}

func TestChangeNotification(t *testing.T) {
	n := ChangeNotification(sampleChange())

	if n.Title != "[sonarr] trigger - version changed from v1.0 to v2.0" {
		t.Errorf("Title = %q", n.Title)
	}
	for _, want := range []string{
		"Action: trigger",
		"Previous Version: v1.0",
		"Current Version: v2.0",
		"Source Site Name: github",
		"Target Repository: arch-sonarr",
		"Target Build URL: https://hub.docker.com/r/binhex/arch-sonarr/builds/",
	} {
		if !strings.Contains(n.Message, want) {
			t.Errorf("Message missing %q:\n%s", want, n.Message)
		}
	}
}

func TestChangeNotificationWithoutBuildURL(t *testing.T) {
	c := sampleChange()
	c.Action = "notify"
	c.BuildURL = ""

	n := ChangeNotification(c)
	if strings.Contains(n.Message, "Target Build URL") {
		t.Errorf("Notify action should not carry a build URL:\n%s", n.Message)
	}
}

type mockNotifier struct {
	name  string
	calls *[]string
	err   error
}

func (m *mockNotifier) Send(_ context.Context, n Notification) error {
	*m.calls = append(*m.calls, m.name)
	return m.err
}

func TestMultiNotifier(t *testing.T) {
	var called []string
	failure := errors.New("smtp down")

	multi := NewMultiNotifier(
		&mockNotifier{name: "mock1", calls: &called, err: failure},
		&mockNotifier{name: "mock2", calls: &called},
	)
	err := multi.Send(context.Background(), Notification{Title: "Test"})

	if len(called) != 2 {
		t.Errorf("Expected 2 calls after a failure, got %d", len(called))
	}
	if !errors.Is(err, failure) {
		t.Errorf("Expected joined error to contain failure, got %v", err)
	}
	if multi.Len() != 2 {
		t.Errorf("Len() = %d", multi.Len())
	}
}

func TestNoopNotifier(t *testing.T) {
	if err := (NoopNotifier{}).Send(context.Background(), Notification{}); err != nil {
		t.Errorf("NoopNotifier returned %v", err)
	}
}

// =============================================================================
// Email
// =============================================================================

func testEmailConfig() config.EmailConfig {
	return config.EmailConfig{
		Host: "smtp.example.com",
		Port: 587,
		From: "tdb@example.com",
		To:   []string{"ops@example.com", "dev@example.com"},
	}
}

func TestEmailNotifierSend(t *testing.T) {
	e := NewEmailNotifier(testEmailConfig())

	var sent *mail.Msg
	e.SetSendFunc(func(_ context.Context, msg *mail.Msg) error {
		sent = msg
		return nil
	})

	if err := e.Send(context.Background(), ChangeNotification(sampleChange())); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if sent == nil {
		t.Fatal("No message sent")
	}

	subject := sent.GetGenHeader(mail.HeaderSubject)
	if len(subject) != 1 || subject[0] != "[sonarr] trigger - version changed from v1.0 to v2.0" {
		t.Errorf("Subject = %v", subject)
	}

	rcpts, err := sent.GetRecipients()
	if err != nil {
		t.Fatalf("GetRecipients: %v", err)
	}
	if len(rcpts) != 2 {
		t.Errorf("Expected 2 recipients, got %v", rcpts)
	}
}

func TestEmailNotifierSendError(t *testing.T) {
	e := NewEmailNotifier(testEmailConfig())
	e.SetSendFunc(func(context.Context, *mail.Msg) error { return errors.New("connection refused") })

	err := e.Send(context.Background(), ChangeNotification(sampleChange()))
	if err == nil || !strings.Contains(err.Error(), "ops@example.com") {
		t.Errorf("Expected error naming recipients, got %v", err)
	}
}

func TestEmailNotifierNotConfigured(t *testing.T) {
	tests := []config.EmailConfig{
		{},
		{Host: "smtp.example.com", To: []string{"a@example.com"}},
		{Host: "smtp.example.com", From: "a@example.com"},
	}
	for i, cfg := range tests {
		e := NewEmailNotifier(cfg)
		e.SetSendFunc(func(context.Context, *mail.Msg) error {
			t.Errorf("case %d: send should not be called", i)
			return nil
		})
		if err := e.Send(context.Background(), Notification{Title: "x"}); !errors.Is(err, ErrEmailNotConfigured) {
			t.Errorf("case %d: expected ErrEmailNotConfigured, got %v", i, err)
		}
	}
}

func TestEmailBuildMessageInvalidAddress(t *testing.T) {
	cfg := testEmailConfig()
	cfg.From = "not an address"
	if _, err := NewEmailNotifier(cfg).BuildMessage(Notification{Title: "x"}); err == nil {
		t.Error("Expected error for invalid from address")
	}
}

func TestEmailHTMLBody(t *testing.T) {
	c := sampleChange()
	c.SourceURL = "https://example.com/?a=1&b=2"
	body := htmlBody(ChangeNotification(c))

	if !strings.Contains(body, "<b>Action:</b> trigger<br>") {
		t.Errorf("Missing action line:\n%s", body)
	}
	if !strings.Contains(body, "<b>Target Build URL:</b> https://hub.docker.com/r/binhex/arch-sonarr/builds/<br>") {
		t.Errorf("Missing build URL line:\n%s", body)
	}
	if !strings.Contains(body, "a=1&amp;b=2") {
		t.Errorf("Values should be escaped:\n%s", body)
	}

	plain := htmlBody(Notification{Message: "<hello>"})
	if plain != "&lt;hello&gt;" {
		t.Errorf("Plain body = %q", plain)
	}
}

// =============================================================================
// Kodi
// =============================================================================

func newTestClient(server *httptest.Server) *httpclient.Client {
	cfg := httpclient.DefaultRetryConfig()
	cfg.MaxRetries = 0
	client := httpclient.NewWithConfig(cfg)
	client.SetHTTPClient(server.Client())
	client.SetDelayFunc(func(time.Duration) {})
	return client
}

func TestKodiNotifierSend(t *testing.T) {
	var got kodiRequest
	var user, pass string
	var hasAuth bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, hasAuth = r.BasicAuth()
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("Invalid JSON-RPC payload: %v", err)
		}
		io.WriteString(w, `{"id":1,"jsonrpc":"2.0","result":"OK"}`)
	}))
	defer server.Close()

	k := NewKodiNotifier(config.KodiConfig{URL: server.URL + "/jsonrpc", Username: "kodi", Password: "pw"}, newTestClient(server))
	if err := k.Send(context.Background(), ChangeNotification(sampleChange())); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	if !hasAuth || user != "kodi" || pass != "pw" {
		t.Errorf("Basic auth = %q/%q (%v)", user, pass, hasAuth)
	}
	if got.Method != "GUI.ShowNotification" || got.JSONRPC != "2.0" {
		t.Errorf("Unexpected request: %+v", got)
	}
	if got.Params.Title != "[sonarr] trigger - version changed from v1.0 to v2.0" {
		t.Errorf("Title = %q", got.Params.Title)
	}
	if got.Params.Message != "trigger: v1.0 -> v2.0" {
		t.Errorf("Message = %q", got.Params.Message)
	}
	if got.Params.DisplayTime != kodiDisplayTime {
		t.Errorf("DisplayTime = %d", got.Params.DisplayTime)
	}
}

func TestKodiNotifierErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/rpc-error":
			io.WriteString(w, `{"id":1,"jsonrpc":"2.0","error":{"code":-32601,"message":"Method not found."}}`)
		case "/garbage":
			io.WriteString(w, `<html>`)
		default:
			w.WriteHeader(http.StatusUnauthorized)
		}
	}))
	defer server.Close()

	for _, path := range []string{"/rpc-error", "/garbage", "/unauthorized"} {
		k := NewKodiNotifier(config.KodiConfig{URL: server.URL + path}, newTestClient(server))
		if err := k.Send(context.Background(), Notification{Title: "t", Message: "m"}); !errors.Is(err, ErrKodi) {
			t.Errorf("%s: expected ErrKodi, got %v", path, err)
		}
	}
}

func TestKodiNotifierDisabled(t *testing.T) {
	k := NewKodiNotifier(config.KodiConfig{}, httpclient.New())
	if err := k.Send(context.Background(), Notification{Title: "t"}); err != nil {
		t.Errorf("Disabled notifier returned %v", err)
	}
}

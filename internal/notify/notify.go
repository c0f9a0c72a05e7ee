// Package notify delivers version change notifications by email and to
// Kodi. Delivery is best effort: callers log failures and move on.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// NotificationType represents the type of notification
type NotificationType int

const (
	NotifyInfo NotificationType = iota
	NotifySuccess
	NotifyWarning
	NotifyError
)

// Change carries the details of a detected version change.
type Change struct {
	Action     string
	AppName    string
	RepoName   string
	SourceKind string
	SourceURL  string
	TargetRepo string
	Previous   string
	Current    string
	// BuildURL links to the Docker Hub builds page; set for triggered builds
	BuildURL string
}

// Notification represents a notification to be sent
type Notification struct {
	Title   string
	Message string
	Type    NotificationType
	Change  *Change // Optional change details
}

// ChangeNotification builds the notification for a change. The title reads
// "[app] action - version changed from prev to cur".
func ChangeNotification(c Change) Notification {
	return Notification{
		Title:   fmt.Sprintf("[%s] %s - version changed from %s to %s", c.AppName, c.Action, c.Previous, c.Current),
		Message: strings.Join(c.fields(), "\n"),
		Type:    NotifySuccess,
		Change:  &c,
	}
}

// field is one labelled line of a change report
type field struct {
	label string
	value string
}

func (c Change) lines() []field {
	lines := []field{
		{"Action", c.Action},
		{"Previous Version", c.Previous},
		{"Current Version", c.Current},
		{"Source Site Name", c.SourceKind},
		{"Source Repository", c.RepoName},
		{"Source App Name", c.AppName},
		{"Source Site URL", c.SourceURL},
		{"Target Repository", c.TargetRepo},
	}
	if c.BuildURL != "" {
		lines = append(lines, field{"Target Build URL", c.BuildURL})
	}
	return lines
}

func (c Change) fields() []string {
	out := make([]string, 0, 9)
	for _, f := range c.lines() {
		out = append(out, fmt.Sprintf("%s: %s", f.label, f.value))
	}
	return out
}

// DockerHubBuildURL returns the builds page of owner/repo on Docker Hub
func DockerHubBuildURL(owner, repo string) string {
	return fmt.Sprintf("https://hub.docker.com/r/%s/%s/builds/", owner, repo)
}

// Notifier is the interface for sending notifications
type Notifier interface {
	Send(ctx context.Context, n Notification) error
}

// MultiNotifier sends to multiple notifiers
type MultiNotifier struct {
	notifiers []Notifier
}

// NewMultiNotifier creates a notifier that sends to all provided notifiers
func NewMultiNotifier(notifiers ...Notifier) *MultiNotifier {
	return &MultiNotifier{notifiers: notifiers}
}

// Len returns the number of channels
func (m *MultiNotifier) Len() int {
	return len(m.notifiers)
}

// Send sends the notification to every notifier, even after a failure.
// The returned error joins all channel errors.
func (m *MultiNotifier) Send(ctx context.Context, n Notification) error {
	var errs []error
	for _, notifier := range m.notifiers {
		if err := notifier.Send(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// NoopNotifier does nothing (for testing or disabled notifications)
type NoopNotifier struct{}

func (NoopNotifier) Send(context.Context, Notification) error { return nil }

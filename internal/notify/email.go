package notify

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"

	"github.com/wneessen/go-mail"

	"github.com/obentoo/triggerdockerbuild/internal/common/config"
)

// ErrEmailNotConfigured is returned when sending without SMTP settings
var ErrEmailNotConfigured = errors.New("email notification not configured")

// EmailNotifier sends notifications over SMTP.
type EmailNotifier struct {
	cfg  config.EmailConfig
	send func(ctx context.Context, msg *mail.Msg) error
}

// NewEmailNotifier creates an SMTP notifier from cfg.
func NewEmailNotifier(cfg config.EmailConfig) *EmailNotifier {
	e := &EmailNotifier{cfg: cfg}
	e.send = e.dialAndSend
	return e
}

// SetSendFunc replaces the SMTP transport (useful for testing).
func (e *EmailNotifier) SetSendFunc(fn func(ctx context.Context, msg *mail.Msg) error) {
	e.send = fn
}

// Send builds the message and delivers it.
func (e *EmailNotifier) Send(ctx context.Context, n Notification) error {
	if !e.cfg.Configured() || e.cfg.From == "" || len(e.cfg.To) == 0 {
		return ErrEmailNotConfigured
	}

	msg, err := e.BuildMessage(n)
	if err != nil {
		return err
	}
	if err := e.send(ctx, msg); err != nil {
		return fmt.Errorf("email to %s: %w", strings.Join(e.cfg.To, ","), err)
	}
	return nil
}

// BuildMessage renders n as an HTML mail with a plain text alternative.
func (e *EmailNotifier) BuildMessage(n Notification) (*mail.Msg, error) {
	msg := mail.NewMsg()
	if err := msg.From(e.cfg.From); err != nil {
		return nil, fmt.Errorf("invalid from address %q: %w", e.cfg.From, err)
	}
	if err := msg.To(e.cfg.To...); err != nil {
		return nil, fmt.Errorf("invalid to address: %w", err)
	}
	msg.Subject(n.Title)
	msg.SetBodyString(mail.TypeTextHTML, htmlBody(n))
	msg.AddAlternativeString(mail.TypeTextPlain, n.Message)
	return msg, nil
}

// htmlBody renders one bold label per line, as the notification emails
// have always looked.
func htmlBody(n Notification) string {
	if n.Change == nil {
		return html.EscapeString(n.Message)
	}
	var b strings.Builder
	for _, f := range n.Change.lines() {
		fmt.Fprintf(&b, "<b>%s:</b> %s<br>\n", f.label, html.EscapeString(f.value))
	}
	return b.String()
}

func (e *EmailNotifier) dialAndSend(ctx context.Context, msg *mail.Msg) error {
	opts := []mail.Option{
		mail.WithPort(e.cfg.Port),
		mail.WithTLSPolicy(mail.TLSOpportunistic),
	}
	if e.cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(e.cfg.Username),
			mail.WithPassword(e.cfg.Password),
		)
	}

	client, err := mail.NewClient(e.cfg.Host, opts...)
	if err != nil {
		return err
	}
	return client.DialAndSendWithContext(ctx, msg)
}

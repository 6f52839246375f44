package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
)

// Message is an outbound transactional email.
type Message struct {
	ToName  string
	ToEmail string
	Subject string
	Text    string
	HTML    string
}

// Mailer delivers transactional email.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// SendGridMailer delivers mail through the SendGrid v3 API.
type SendGridMailer struct {
	mu     sync.Mutex // the client keeps the request body on itself
	client *sendgrid.Client
	from   *mail.Email
}

// NewSendGridMailer creates a SendGridMailer. host overrides the API origin
// and is empty in production.
func NewSendGridMailer(apiKey, fromName, fromEmail, host string) *SendGridMailer {
	client := sendgrid.NewSendClient(apiKey)
	if host != "" {
		client.BaseURL = strings.TrimSuffix(host, "/") + "/v3/mail/send"
	}
	return &SendGridMailer{
		client: client,
		from:   mail.NewEmail(fromName, fromEmail),
	}
}

// Send delivers msg. Any non-2xx response is an error.
func (m *SendGridMailer) Send(ctx context.Context, msg Message) error {
	to := mail.NewEmail(msg.ToName, msg.ToEmail)
	html := msg.HTML
	if html == "" {
		html = msg.Text
	}
	email := mail.NewSingleEmail(m.from, msg.Subject, to, msg.Text, html)

	m.mu.Lock()
	resp, err := m.client.SendWithContext(ctx, email)
	m.mu.Unlock()
	if err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("send email: sendgrid status %d: %s", resp.StatusCode, resp.Body)
	}
	return nil
}

// LogMailer writes messages to the log instead of sending them.
// Used when no SendGrid key is configured.
type LogMailer struct {
	logger *slog.Logger
}

// NewLogMailer creates a LogMailer.
func NewLogMailer(logger *slog.Logger) *LogMailer {
	return &LogMailer{logger: logger.With("component", "mailer")}
}

// Send logs msg.
func (m *LogMailer) Send(_ context.Context, msg Message) error {
	m.logger.Info("email not sent (no mail provider configured)",
		"to", msg.ToEmail,
		"subject", msg.Subject,
		"body", msg.Text,
	)
	return nil
}

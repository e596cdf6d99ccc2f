// Package notify delivers campaign messages and remediation notices.
package notify

import (
	"context"
	"fmt"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
	"go.uber.org/zap"

	"github.com/unclebandit/phishguard-backend/internal/model"
)

// Channel transmits a rendered campaign message to one recipient.
type Channel interface {
	Send(ctx context.Context, msg model.Message) error
}

// Notifier delivers remediation notices to recipients and administrators.
type Notifier interface {
	Notify(ctx context.Context, n model.Notification) error
}

// SendGridMailer sends through the SendGrid v3 API.
type SendGridMailer struct {
	client *sendgrid.Client
	from   *mail.Email
}

func NewSendGridMailer(apiKey, fromAddress, fromName string) *SendGridMailer {
	return &SendGridMailer{
		client: sendgrid.NewSendClient(apiKey),
		from:   mail.NewEmail(fromName, fromAddress),
	}
}

func (m *SendGridMailer) Send(ctx context.Context, msg model.Message) error {
	return m.send(ctx, msg.To, msg.ToName, msg.Subject, "", msg.HTML)
}

func (m *SendGridMailer) Notify(ctx context.Context, n model.Notification) error {
	return m.send(ctx, n.To, n.ToName, n.Subject, n.Text, n.HTML)
}

func (m *SendGridMailer) send(ctx context.Context, to, toName, subject, text, html string) error {
	message := mail.NewSingleEmail(m.from, subject, mail.NewEmail(toName, to), text, html)
	response, err := m.client.SendWithContext(ctx, message)
	if err != nil {
		return fmt.Errorf("sendgrid: %w", err)
	}
	if response.StatusCode >= 400 {
		return fmt.Errorf("sendgrid returned status %d: %s", response.StatusCode, response.Body)
	}
	return nil
}

// LogMailer only logs. Used when no SendGrid key is configured.
type LogMailer struct {
	Logger *zap.Logger
}

func (m *LogMailer) Send(ctx context.Context, msg model.Message) error {
	m.Logger.Info("mail send (log only)",
		zap.String("to", msg.To),
		zap.String("subject", msg.Subject),
		zap.String("click_url", msg.ClickURL))
	return ctx.Err()
}

func (m *LogMailer) Notify(ctx context.Context, n model.Notification) error {
	m.Logger.Info("notification (log only)", zap.String("to", n.To), zap.String("subject", n.Subject))
	return ctx.Err()
}

var (
	_ Channel  = (*SendGridMailer)(nil)
	_ Notifier = (*SendGridMailer)(nil)
	_ Channel  = (*LogMailer)(nil)
	_ Notifier = (*LogMailer)(nil)
)

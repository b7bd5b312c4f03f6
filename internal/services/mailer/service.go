// Package mailer delivers the run summary over SMTP.
package mailer

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/votesmart/undine/internal/models"
	"github.com/wneessen/go-mail"
)

// Service defines the interface for report delivery by email.
type Service interface {
	SendReport(ctx context.Context, cfg models.Config, report *models.RunReport) (*models.NotifyResult, error)
}

// Sender delivers a composed message; it allows mocking the SMTP dial in tests.
type Sender interface {
	Send(ctx context.Context, cfg models.SMTPConfig, msg *mail.Msg) error
}

// DefaultSender dials the configured SMTP server with go-mail.
type DefaultSender struct{}

// Send opens a connection, delivers msg and closes the connection.
func (s *DefaultSender) Send(ctx context.Context, cfg models.SMTPConfig, msg *mail.Msg) error {
	client, err := mail.NewClient(cfg.Host, ClientOptions(cfg)...)
	if err != nil {
		return fmt.Errorf("failed to create SMTP client: %w", err)
	}
	return client.DialAndSendWithContext(ctx, msg)
}

// ClientOptions maps the smtp section onto go-mail client options. With tls
// enabled STARTTLS is mandatory; without it the session stays in plain text.
func ClientOptions(cfg models.SMTPConfig) []mail.Option {
	opts := []mail.Option{
		mail.WithPort(cfg.Port),
		mail.WithTimeout(30 * time.Second),
	}

	if cfg.TLS {
		opts = append(opts, mail.WithTLSPolicy(mail.TLSMandatory))
	} else {
		opts = append(opts, mail.WithTLSPolicy(mail.NoTLS))
	}

	if cfg.Login != "" {
		auth := mail.SMTPAuthPlain
		if !cfg.TLS {
			auth = mail.SMTPAuthPlainNoEnc
		}
		opts = append(opts,
			mail.WithSMTPAuth(auth),
			mail.WithUsername(cfg.Login),
			mail.WithPassword(cfg.Password),
		)
	}

	return opts
}

// Impl implements the mailer Service interface.
type Impl struct {
	sender Sender
	logger zerolog.Logger
}

// New creates a new mailer service.
func New(logger zerolog.Logger) *Impl {
	return &Impl{
		sender: &DefaultSender{},
		logger: logger,
	}
}

// NewWithSender creates a new mailer service with a custom sender (for testing).
func NewWithSender(logger zerolog.Logger, sender Sender) *Impl {
	return &Impl{
		sender: sender,
		logger: logger,
	}
}

// BuildMessage composes the plain-text summary email.
func BuildMessage(cfg models.Config, report *models.RunReport) (*mail.Msg, error) {
	from := cfg.SMTP.From
	if from == "" {
		from = cfg.NotifyEmail
	}

	msg := mail.NewMsg()
	if err := msg.From(from); err != nil {
		return nil, fmt.Errorf("invalid from address %q: %w", from, err)
	}
	if err := msg.To(cfg.NotifyEmail); err != nil {
		return nil, fmt.Errorf("invalid notify_email %q: %w", cfg.NotifyEmail, err)
	}
	msg.Subject(report.Subject())
	msg.SetUserAgent("undine")
	msg.SetDate()
	msg.SetBodyString(mail.TypeTextPlain, report.Body())

	return msg, nil
}

// SendReport emails the report. The caller decides whether a report is due;
// see models.RunReport.ShouldNotify.
func (s *Impl) SendReport(ctx context.Context, cfg models.Config, report *models.RunReport) (*models.NotifyResult, error) {
	result := &models.NotifyResult{}

	s.logger.Info().
		Str("to", cfg.NotifyEmail).
		Str("smtp_host", cfg.SMTP.Host).
		Int("smtp_port", cfg.SMTP.Port).
		Int("failed", report.Failed()).
		Msg("sending summary email")

	msg, err := BuildMessage(cfg, report)
	if err != nil {
		result.Error = err
		return result, nil
	}

	if err := s.sender.Send(ctx, cfg.SMTP, msg); err != nil {
		result.Error = fmt.Errorf("failed to send summary email: %w", err)
		return result, nil
	}

	result.MessageSent = true
	s.logger.Info().Msg("summary email sent")

	return result, nil
}

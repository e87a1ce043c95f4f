// Package notify delivers transactional email.
package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/wneessen/go-mail"
	"go.uber.org/zap"

	"github.com/smallbiznis/sso-auth/internal/config"
)

// EmailNotifier sends a plain text message to one recipient.
type EmailNotifier interface {
	Send(ctx context.Context, to, subject, body string) error
}

// New returns an SMTP notifier when SMTP_HOST is configured, otherwise a
// notifier that only logs the message.
func New(cfg config.Config, logger *zap.Logger) (EmailNotifier, error) {
	if cfg.SMTPHost == "" {
		return NewLogNotifier(logger), nil
	}
	return NewSMTPNotifier(cfg, logger)
}

// LogNotifier writes messages to the log instead of sending them.
type LogNotifier struct {
	logger *zap.Logger
}

func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	if logger == nil {
		logger = zap.L()
	}
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Send(_ context.Context, to, subject, body string) error {
	n.logger.Info("email simulated",
		zap.String("to", to),
		zap.String("subject", subject),
		zap.Int("body_bytes", len(body)),
	)
	return nil
}

// SMTPNotifier sends mail through an SMTP relay.
type SMTPNotifier struct {
	client *mail.Client
	from   string
	logger *zap.Logger
}

func NewSMTPNotifier(cfg config.Config, logger *zap.Logger) (*SMTPNotifier, error) {
	if logger == nil {
		logger = zap.L()
	}

	opts := []mail.Option{
		mail.WithPort(cfg.SMTPPort),
		mail.WithTimeout(30 * time.Second),
	}
	if cfg.SMTPUsername != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(cfg.SMTPUsername),
			mail.WithPassword(cfg.SMTPPassword),
		)
	}
	if cfg.SMTPTLS {
		opts = append(opts, mail.WithTLSPolicy(mail.TLSMandatory))
	} else {
		opts = append(opts, mail.WithTLSPolicy(mail.NoTLS))
	}

	client, err := mail.NewClient(cfg.SMTPHost, opts...)
	if err != nil {
		return nil, fmt.Errorf("smtp client: %w", err)
	}
	return &SMTPNotifier{client: client, from: cfg.SMTPFrom, logger: logger}, nil
}

func (n *SMTPNotifier) Send(ctx context.Context, to, subject, body string) error {
	msg := mail.NewMsg()
	if err := msg.From(n.from); err != nil {
		return fmt.Errorf("set from address: %w", err)
	}
	if err := msg.To(to); err != nil {
		return fmt.Errorf("set to address: %w", err)
	}
	msg.Subject(subject)
	msg.SetBodyString(mail.TypeTextPlain, body)

	if err := n.client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	n.logger.Debug("email sent", zap.String("to", to), zap.String("subject", subject))
	return nil
}

// WelcomeMessage renders the registration email.
func WelcomeMessage(username string) (subject, body string) {
	subject = "Welcome"
	body = fmt.Sprintf("Hello %s,\n\nYour account has been created. You can now sign in.\n", username)
	return subject, body
}

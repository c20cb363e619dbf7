// Package mailer sends ticket email over SMTP.
package mailer

import (
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"
	"gopkg.in/gomail.v2"
)

// ErrNotConfigured is returned when SMTP settings are absent.
var ErrNotConfigured = errors.New("smtp not configured")

// Config holds SMTP settings.
type Config struct {
	FromAddress string
	FromName    string
	Host        string
	Port        int
	User        string
	Pass        string
}

// Mailer dispatches email with an optional PNG attachment.
type Mailer struct {
	dialer *gomail.Dialer
	cfg    Config
	logger *zap.Logger
}

// New creates a Mailer. Host may be empty; Send then fails with ErrNotConfigured.
func New(cfg Config, logger *zap.Logger) *Mailer {
	if logger == nil {
		logger = zap.NewNop()
	}
	var dialer *gomail.Dialer
	if cfg.Host != "" {
		dialer = gomail.NewDialer(cfg.Host, cfg.Port, cfg.User, cfg.Pass)
	}
	return &Mailer{dialer: dialer, cfg: cfg, logger: logger}
}

// Send dispatches one message. attachment may be nil.
func (m *Mailer) Send(to, subject, htmlBody string, attachment []byte, filename string) error {
	if m.dialer == nil {
		return ErrNotConfigured
	}
	msg := gomail.NewMessage()
	msg.SetAddressHeader("From", m.cfg.FromAddress, m.cfg.FromName)
	msg.SetHeader("To", to)
	msg.SetHeader("Subject", subject)
	msg.SetBody("text/html", htmlBody)
	if len(attachment) > 0 {
		msg.Attach(filename, gomail.SetCopyFunc(func(w io.Writer) error {
			_, err := w.Write(attachment)
			return err
		}))
	}
	if err := m.dialer.DialAndSend(msg); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	m.logger.Debug("email sent", zap.String("to", to), zap.String("subject", subject))
	return nil
}

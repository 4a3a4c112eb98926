package infra

import (
	"bytes"
	"errors"
	"fmt"
	"net/smtp"

	"restopos/internal/config"

	"github.com/jordan-wright/email"
)

// ErrMailerDisabled is returned when no SMTP host is configured.
var ErrMailerDisabled = errors.New("mailer: smtp not configured")

// Attachment is an in-memory file sent along with a message.
type Attachment struct {
	Filename    string
	ContentType string
	Data        []byte
}

// Mailer sends mail through the configured SMTP relay. Sends go through a
// circuit breaker so a dead relay is not hammered by every retry.
type Mailer struct {
	host     string
	user     string
	password string
	addr     string
	breaker  *CircuitBreaker
}

func NewMailer(cfg *config.Config) *Mailer {
	return &Mailer{
		host:     cfg.SMTPHost,
		user:     cfg.SMTPUser,
		password: cfg.SMTPPassword,
		addr:     fmt.Sprintf("%s:%d", cfg.SMTPHost, cfg.SMTPPort),
		breaker:  NewCircuitBreaker(DefaultCBConfig()),
	}
}

// Configured reports whether an SMTP host is set.
func (m *Mailer) Configured() bool { return m.host != "" }

// BreakerState is exposed for the health endpoint.
func (m *Mailer) BreakerState() CBState { return m.breaker.State() }

// Send delivers a plain text message with optional attachments.
func (m *Mailer) Send(to []string, subject, body string, attachments ...Attachment) error {
	if !m.Configured() {
		return ErrMailerDisabled
	}
	e := email.NewEmail()
	e.From = m.user
	e.To = to
	e.Subject = subject
	e.Text = []byte(body)
	for _, a := range attachments {
		if _, err := e.Attach(bytes.NewReader(a.Data), a.Filename, a.ContentType); err != nil {
			return fmt.Errorf("mailer: attach %s: %w", a.Filename, err)
		}
	}

	var auth smtp.Auth
	if m.user != "" {
		auth = smtp.PlainAuth("", m.user, m.password, m.host)
	}
	return m.breaker.Execute(func() error { return e.Send(m.addr, auth) })
}

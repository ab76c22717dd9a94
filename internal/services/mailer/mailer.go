// Package mailer sends transactional email over SMTP.
package mailer

import (
	"fmt"
	"log/slog"

	"github.com/caarlos0/env/v11"
	"gopkg.in/gomail.v2"
)

// Sender is the delivery boundary the handlers depend on. Tests swap in
// a fake.
type Sender interface {
	SendOTPEmail(to, name, code string) error
	SendPasswordResetEmail(to, name, resetToken string) error
	SendPasswordChangedEmail(to, name string) error
}

type config struct {
	Host        string `env:"SMTP_HOST" envDefault:"localhost"`
	Port        int    `env:"SMTP_PORT" envDefault:"587"`
	Username    string `env:"SMTP_USERNAME"`
	Password    string `env:"SMTP_PASSWORD"`
	From        string `env:"SMTP_FROM" envDefault:"noreply@example.com"`
	FromName    string `env:"SMTP_FROM_NAME" envDefault:"Crisis Platform"`
	FrontendURL string `env:"FRONTEND_URL" envDefault:"http://localhost:5173"`
}

// Mailer sends email through a gomail SMTP dialer.
type Mailer struct {
	cfg    config
	dialer *gomail.Dialer
}

func New() (*Mailer, error) {
	cfg, err := env.ParseAs[config]()
	if err != nil {
		return nil, fmt.Errorf("parsing mailer config: %w", err)
	}

	return &Mailer{
		cfg:    cfg,
		dialer: gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password),
	}, nil
}

// SendOTPEmail delivers the verification code issued at signup.
func (m *Mailer) SendOTPEmail(to, name, code string) error {
	html := fmt.Sprintf(`<h2>Hello %s!</h2>
<p>Your verification code is <b>%s</b>. It will expire in 10 minutes.</p>`, name, code)

	return m.send(to, "Your verification code", html)
}

// SendPasswordResetEmail delivers the reset link with the raw token in
// the URL.
func (m *Mailer) SendPasswordResetEmail(to, name, resetToken string) error {
	resetURL := fmt.Sprintf("%s/reset-password/%s", m.cfg.FrontendURL, resetToken)
	html := fmt.Sprintf(`<h1>Password Reset Request</h1>
<p>Hello <b>%s</b>,</p>
<p>You requested to reset your password. Please click the link below to reset your password:</p>
<a href="%s">Reset Password</a>
<p>This link will expire in 1 hour.</p>
<p>If you didn't request this, please ignore this email.</p>`, name, resetURL)

	return m.send(to, "Password Reset Request", html)
}

// SendPasswordChangedEmail confirms a completed reset.
func (m *Mailer) SendPasswordChangedEmail(to, name string) error {
	html := fmt.Sprintf(`<h1>Password Reset Successful</h1>
<p>Hello <b>%s</b>,</p>
<p>Your password has been successfully reset.</p>
<p>If you did not perform this action, please contact support immediately.</p>`, name)

	return m.send(to, "Password Reset Successful", html)
}

func (m *Mailer) send(to, subject, html string) error {
	msg := gomail.NewMessage()
	msg.SetAddressHeader("From", m.cfg.From, m.cfg.FromName)
	msg.SetHeader("To", to)
	msg.SetHeader("Subject", subject)
	msg.SetBody("text/html", html)

	if err := m.dialer.DialAndSend(msg); err != nil {
		return fmt.Errorf("sending email to %s: %w", to, err)
	}

	slog.Info("email sent", "to", to, "subject", subject)
	return nil
}

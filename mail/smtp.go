package mail

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"gopkg.in/gomail.v2"
)

// SMTPConfig describes the sender's SMTP account
type SMTPConfig struct {
	Host       string
	Port       int
	Encryption string // SSL, TLS, STARTTLS or empty
	Username   string
	Password   string
	MaxRetries int
}

// SMTPSender delivers composed messages
type SMTPSender struct {
	dialer     *gomail.Dialer
	maxRetries int
}

func NewSMTPSender(cfg SMTPConfig, tokens oauth2.TokenSource) *SMTPSender {
	d := gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password)
	d.TLSConfig = &tls.Config{ServerName: cfg.Host}
	switch strings.ToUpper(cfg.Encryption) {
	case "SSL", "TLS":
		d.SSL = true
	}
	if tokens != nil {
		d.Auth = &xoauth2Auth{username: cfg.Username, tokens: tokens}
	}
	retries := cfg.MaxRetries
	if retries < 1 {
		retries = 1
	}
	return &SMTPSender{dialer: d, maxRetries: retries}
}

// Send retries temporary failures with a quadratic backoff
func (s *SMTPSender) Send(ctx context.Context, m *gomail.Message) error {
	var lastErr error
	for attempt := 1; attempt <= s.maxRetries; attempt++ {
		if attempt > 1 {
			backoff := time.Duration(attempt*attempt) * time.Second
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = s.dialer.DialAndSend(m)
		if lastErr == nil {
			return nil
		}
		if !isTemporaryError(lastErr) {
			break
		}
	}
	return fmt.Errorf("send failed: %w", lastErr)
}

func isTemporaryError(err error) bool {
	if err == nil {
		return false
	}
	if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, code := range []string{"try again", "temporary", "421", "450", "451", "452"} {
		if strings.Contains(msg, code) {
			return true
		}
	}
	return false
}

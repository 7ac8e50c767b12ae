package mail

import (
	"context"
	"errors"
	"fmt"
	"net/smtp"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

// OAuthConfig holds the long-lived credentials of a Google mailbox
type OAuthConfig struct {
	ClientID     string
	ClientSecret string
	RefreshToken string
}

const gmailScope = "https://mail.google.com/"

// NewTokenSource returns a refreshing token source, or nil when OAuth is not configured
func NewTokenSource(ctx context.Context, cfg OAuthConfig) oauth2.TokenSource {
	if cfg.RefreshToken == "" {
		return nil
	}
	conf := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Endpoint:     google.Endpoint,
		Scopes:       []string{gmailScope},
	}
	return conf.TokenSource(ctx, &oauth2.Token{RefreshToken: cfg.RefreshToken})
}

// xoauth2Auth implements the XOAUTH2 SMTP mechanism
type xoauth2Auth struct {
	username string
	tokens   oauth2.TokenSource
}

func (a *xoauth2Auth) Start(server *smtp.ServerInfo) (string, []byte, error) {
	if !server.TLS {
		return "", nil, errors.New("xoauth2 requires an encrypted connection")
	}
	token, err := a.tokens.Token()
	if err != nil {
		return "", nil, fmt.Errorf("failed to get SMTP access token: %w", err)
	}
	resp := "user=" + a.username + "\x01auth=Bearer " + token.AccessToken + "\x01\x01"
	return "XOAUTH2", []byte(resp), nil
}

func (a *xoauth2Auth) Next(fromServer []byte, more bool) ([]byte, error) {
	if more {
		return nil, fmt.Errorf("xoauth2 rejected: %s", fromServer)
	}
	return nil, nil
}

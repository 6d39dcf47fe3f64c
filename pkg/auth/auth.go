// Package auth provides the authentication capability consumed by the
// transport: decorate an outgoing request with credentials. The scheme
// is selected once at configuration-resolution time from a closed set
// (none, basic, bearer, apikey, oauth2).
package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ruarxive/apibackuper/pkg/config"
)

// Authenticator attaches credentials to an outgoing request.
type Authenticator interface {
	Attach(req *http.Request) error
}

// Refresher is implemented by authenticators whose credentials can be
// renewed after the server rejects them (401). The transport calls
// Refresh once and replays the request.
type Refresher interface {
	Refresh(ctx context.Context) error
}

// FromConfig builds the authenticator for the configured scheme.
// httpClient is used for credential acquisition calls (OAuth2 refresh)
// so they run through the same transport settings as page requests.
func FromConfig(cfg config.AuthConfig, httpClient *http.Client, logger zerolog.Logger) (Authenticator, error) {
	switch cfg.Type {
	case config.AuthNone:
		return None{}, nil
	case config.AuthBasic:
		return &Basic{Username: cfg.Username, Password: cfg.Password}, nil
	case config.AuthBearer:
		return &Bearer{Token: cfg.Token}, nil
	case config.AuthAPIKey:
		header := cfg.APIKeyHeader
		if header == "" {
			header = config.DefaultAPIKeyHeader
		}
		return &APIKey{Key: cfg.APIKey, Header: header}, nil
	case config.AuthOAuth2:
		return &OAuth2{
			TokenURL:     cfg.TokenURL,
			RefreshToken: cfg.RefreshToken,
			token:        cfg.Token,
			client:       httpClient,
			logger:       logger,
		}, nil
	default:
		return nil, fmt.Errorf("unknown auth type %q", cfg.Type)
	}
}

// None attaches nothing.
type None struct{}

// Attach implements Authenticator.
func (None) Attach(*http.Request) error { return nil }

// Basic attaches HTTP basic credentials.
type Basic struct {
	Username string
	Password string
}

// Attach implements Authenticator.
func (b *Basic) Attach(req *http.Request) error {
	req.SetBasicAuth(b.Username, b.Password)
	return nil
}

// Bearer attaches a static bearer token.
type Bearer struct {
	Token string
}

// Attach implements Authenticator.
func (b *Bearer) Attach(req *http.Request) error {
	req.Header.Set("Authorization", "Bearer "+b.Token)
	return nil
}

// APIKey attaches the key under a configurable header.
type APIKey struct {
	Key    string
	Header string
}

// Attach implements Authenticator.
func (a *APIKey) Attach(req *http.Request) error {
	req.Header.Set(a.Header, a.Key)
	return nil
}

// OAuth2 attaches a bearer token and renews it through the token
// endpoint when missing, expired, or rejected. The refresh call blocks
// the caller; it runs through the shared HTTP client.
type OAuth2 struct {
	TokenURL     string
	RefreshToken string

	client *http.Client
	logger zerolog.Logger

	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

// Attach implements Authenticator.
func (o *OAuth2) Attach(req *http.Request) error {
	o.mu.Lock()
	token := o.token
	expired := !o.expiresAt.IsZero() && time.Now().After(o.expiresAt)
	o.mu.Unlock()

	if token == "" || expired {
		if err := o.refresh(req.Context()); err != nil {
			return err
		}
		o.mu.Lock()
		token = o.token
		o.mu.Unlock()
	}

	req.Header.Set("Authorization", "Bearer "+token)
	return nil
}

// Refresh implements Refresher; it discards the current token and
// fetches a new one.
func (o *OAuth2) Refresh(ctx context.Context) error {
	o.mu.Lock()
	o.token = ""
	o.mu.Unlock()
	return o.refresh(ctx)
}

func (o *OAuth2) refresh(ctx context.Context) error {
	if o.TokenURL == "" || o.RefreshToken == "" {
		return fmt.Errorf("oauth2 token expired and no refresh credentials configured")
	}

	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", o.RefreshToken)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := o.client.Do(req)
	if err != nil {
		return fmt.Errorf("token refresh: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("token refresh: unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("token refresh: read body: %w", err)
	}

	var payload struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return fmt.Errorf("token refresh: parse body: %w", err)
	}
	if payload.AccessToken == "" {
		return fmt.Errorf("token refresh: no access_token in response")
	}

	o.mu.Lock()
	o.token = payload.AccessToken
	if payload.ExpiresIn > 0 {
		o.expiresAt = time.Now().Add(time.Duration(payload.ExpiresIn) * time.Second)
	} else {
		o.expiresAt = time.Time{}
	}
	o.mu.Unlock()

	o.logger.Info().Msg("OAuth2 token refreshed")
	return nil
}

package auth

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"

	"github.com/ruarxive/apibackuper/pkg/config"
)

func newRequest(t *testing.T) *http.Request {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, "https://api.example.org/items", nil)
	if err != nil {
		t.Fatal(err)
	}
	return req
}

func TestFromConfig(t *testing.T) {
	client := &http.Client{}
	logger := zerolog.Nop()

	tests := []struct {
		name    string
		cfg     config.AuthConfig
		want    string // expected concrete type
		wantErr bool
	}{
		{name: "none", cfg: config.AuthConfig{}, want: "auth.None"},
		{name: "basic", cfg: config.AuthConfig{Type: config.AuthBasic, Username: "u", Password: "p"}, want: "*auth.Basic"},
		{name: "bearer", cfg: config.AuthConfig{Type: config.AuthBearer, Token: "tok"}, want: "*auth.Bearer"},
		{name: "apikey", cfg: config.AuthConfig{Type: config.AuthAPIKey, APIKey: "k"}, want: "*auth.APIKey"},
		{name: "oauth2", cfg: config.AuthConfig{Type: config.AuthOAuth2, Token: "tok"}, want: "*auth.OAuth2"},
		{name: "unknown", cfg: config.AuthConfig{Type: "saml"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := FromConfig(tt.cfg, client, logger)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("FromConfig() error = %v", err)
			}
			if got := typeName(a); got != tt.want {
				t.Errorf("FromConfig() type = %s, want %s", got, tt.want)
			}
		})
	}
}

func typeName(a Authenticator) string {
	switch a.(type) {
	case None:
		return "auth.None"
	case *Basic:
		return "*auth.Basic"
	case *Bearer:
		return "*auth.Bearer"
	case *APIKey:
		return "*auth.APIKey"
	case *OAuth2:
		return "*auth.OAuth2"
	default:
		return "unknown"
	}
}

func TestBasic_Attach(t *testing.T) {
	req := newRequest(t)
	a := &Basic{Username: "user", Password: "secret"}

	if err := a.Attach(req); err != nil {
		t.Fatalf("Attach() error = %v", err)
	}

	want := "Basic " + base64.StdEncoding.EncodeToString([]byte("user:secret"))
	if got := req.Header.Get("Authorization"); got != want {
		t.Errorf("Authorization = %q, want %q", got, want)
	}
}

func TestBearer_Attach(t *testing.T) {
	req := newRequest(t)
	a := &Bearer{Token: "tok123"}

	if err := a.Attach(req); err != nil {
		t.Fatalf("Attach() error = %v", err)
	}
	if got := req.Header.Get("Authorization"); got != "Bearer tok123" {
		t.Errorf("Authorization = %q", got)
	}
}

func TestAPIKey_Attach(t *testing.T) {
	req := newRequest(t)
	a := &APIKey{Key: "k-42", Header: "X-API-Key"}

	if err := a.Attach(req); err != nil {
		t.Fatalf("Attach() error = %v", err)
	}
	if got := req.Header.Get("X-API-Key"); got != "k-42" {
		t.Errorf("X-API-Key = %q", got)
	}
}

func TestOAuth2_AttachRefreshesWhenEmpty(t *testing.T) {
	refreshes := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		refreshes++
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		if got := r.Form.Get("grant_type"); got != "refresh_token" {
			t.Errorf("grant_type = %q", got)
		}
		if got := r.Form.Get("refresh_token"); got != "refresh-1" {
			t.Errorf("refresh_token = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token": "fresh-token", "expires_in": 3600}`))
	}))
	defer server.Close()

	a := &OAuth2{
		TokenURL:     server.URL,
		RefreshToken: "refresh-1",
		client:       server.Client(),
		logger:       zerolog.Nop(),
	}

	req := newRequest(t)
	if err := a.Attach(req); err != nil {
		t.Fatalf("Attach() error = %v", err)
	}
	if got := req.Header.Get("Authorization"); got != "Bearer fresh-token" {
		t.Errorf("Authorization = %q", got)
	}
	if refreshes != 1 {
		t.Errorf("refreshes = %d, want 1", refreshes)
	}

	// Second attach reuses the cached token.
	req2 := newRequest(t)
	if err := a.Attach(req2); err != nil {
		t.Fatalf("Attach() error = %v", err)
	}
	if refreshes != 1 {
		t.Errorf("refreshes = %d after second attach, want 1", refreshes)
	}
}

func TestOAuth2_RefreshDiscardsToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token": "renewed"}`))
	}))
	defer server.Close()

	a := &OAuth2{
		TokenURL:     server.URL,
		RefreshToken: "refresh-1",
		token:        "stale",
		client:       server.Client(),
		logger:       zerolog.Nop(),
	}

	if err := a.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}

	req := newRequest(t)
	if err := a.Attach(req); err != nil {
		t.Fatalf("Attach() error = %v", err)
	}
	if got := req.Header.Get("Authorization"); got != "Bearer renewed" {
		t.Errorf("Authorization = %q, want renewed token", got)
	}
}

func TestOAuth2_RefreshWithoutCredentials(t *testing.T) {
	a := &OAuth2{client: &http.Client{}, logger: zerolog.Nop()}

	req := newRequest(t)
	if err := a.Attach(req); err == nil {
		t.Fatal("expected error when no token and no refresh credentials")
	}
}

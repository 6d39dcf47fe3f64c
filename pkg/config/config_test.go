package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func validConfig() Config {
	cfg := Default()
	cfg.URL = "https://api.example.org/items"
	cfg.PageLimit = 100
	cfg.PageNumberParam = "page"
	cfg.ItemKey = []string{"id"}
	return cfg
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
		field   string
	}{
		{
			name:   "valid page mode",
			mutate: func(c *Config) {},
		},
		{
			name: "valid skip mode",
			mutate: func(c *Config) {
				c.IterateBy = IterateBySkip
				c.PageNumberParam = ""
				c.CountSkipParam = "skip"
			},
		},
		{
			name:    "missing url",
			mutate:  func(c *Config) { c.URL = "" },
			wantErr: true,
			field:   "project.url",
		},
		{
			name:    "bad http mode",
			mutate:  func(c *Config) { c.HTTPMode = "PUT" },
			wantErr: true,
			field:   "project.http_mode",
		},
		{
			name:    "page mode without page param",
			mutate:  func(c *Config) { c.PageNumberParam = "" },
			wantErr: true,
			field:   "params.page_number_param",
		},
		{
			name: "skip mode without skip param",
			mutate: func(c *Config) {
				c.IterateBy = IterateBySkip
				c.CountSkipParam = ""
			},
			wantErr: true,
			field:   "params.count_skip_param",
		},
		{
			name:    "zero page limit",
			mutate:  func(c *Config) { c.PageLimit = 0 },
			wantErr: true,
			field:   "params.page_size_limit",
		},
		{
			name:    "missing item key",
			mutate:  func(c *Config) { c.ItemKey = nil },
			wantErr: true,
			field:   "data.item_key",
		},
		{
			name: "rate limit enabled without ceiling",
			mutate: func(c *Config) {
				c.RateLimit.Enabled = true
			},
			wantErr: true,
			field:   "rate_limit",
		},
		{
			name: "basic auth without password",
			mutate: func(c *Config) {
				c.Auth.Type = AuthBasic
				c.Auth.Username = "user"
			},
			wantErr: true,
			field:   "auth",
		},
		{
			name: "oauth2 with refresh credentials",
			mutate: func(c *Config) {
				c.Auth.Type = AuthOAuth2
				c.Auth.TokenURL = "https://auth.example.org/token"
				c.Auth.RefreshToken = "refresh"
			},
		},
		{
			name: "cache enabled without redis addr",
			mutate: func(c *Config) {
				c.Cache.Enabled = true
			},
			wantErr: true,
			field:   "cache.redis_addr",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)

			err := cfg.Validate()
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected validation error, got nil")
				}
				cfgErr, ok := err.(*Error)
				if !ok {
					t.Fatalf("expected *config.Error, got %T", err)
				}
				if cfgErr.Field != tt.field {
					t.Errorf("Error.Field = %q, want %q", cfgErr.Field, tt.field)
				}
				return
			}
			if err != nil {
				t.Fatalf("Validate() error = %v", err)
			}
		})
	}
}

func TestRetriableStatuses(t *testing.T) {
	cfg := validConfig()

	statuses := cfg.RetriableStatuses()
	for _, s := range []int{500, 502, 503} {
		if !statuses[s] {
			t.Errorf("status %d should be retriable by default", s)
		}
	}
	if statuses[429] {
		t.Error("429 should not be retriable while rate limiting is disabled")
	}

	cfg.RateLimit.Enabled = true
	cfg.RateLimit.RequestsPerSecond = 10
	if !cfg.RetriableStatuses()[429] {
		t.Error("429 should be retriable when rate limiting is enabled")
	}
}

func TestLoad_YAML(t *testing.T) {
	dir := t.TempDir()

	yaml := `
settings:
  name: test-project
project:
  url: https://api.example.org/items
  http_mode: get
  iterate_by: skip
params:
  page_size_limit: 50
  count_skip_param: skip
  start_page: 0
data:
  data_key: data.items
  item_key: "id, meta.rev"
  change_key: updated_at
  total_number_key: data.total
storage:
  compression: true
rate_limit:
  enabled: true
  requests_per_second: 2.5
  burst_size: 3
request:
  timeout: 60
  verify_ssl: false
  user_agent: test-agent/1.0
error_handling:
  retry_on_statuses: [500, 503]
  retry_count: 2
  retry_delay: 1
`
	if err := os.WriteFile(filepath.Join(dir, "apibackuper.yaml"), []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "headers.json"), []byte(`{"X-Custom": "1"}`), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "params.json"), []byte(`{"region": "eu"}`), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Name != "test-project" {
		t.Errorf("Name = %q", cfg.Name)
	}
	if cfg.HTTPMode != "GET" {
		t.Errorf("HTTPMode = %q, want GET", cfg.HTTPMode)
	}
	if cfg.IterateBy != IterateBySkip {
		t.Errorf("IterateBy = %q, want skip", cfg.IterateBy)
	}
	if cfg.PageLimit != 50 {
		t.Errorf("PageLimit = %d, want 50", cfg.PageLimit)
	}
	if cfg.StartPage != 0 {
		t.Errorf("StartPage = %d, want 0", cfg.StartPage)
	}
	if len(cfg.ItemKey) != 2 || cfg.ItemKey[0] != "id" || cfg.ItemKey[1] != "meta.rev" {
		t.Errorf("ItemKey = %v", cfg.ItemKey)
	}
	if len(cfg.ChangeKey) != 1 || cfg.ChangeKey[0] != "updated_at" {
		t.Errorf("ChangeKey = %v", cfg.ChangeKey)
	}
	if !cfg.Compression {
		t.Error("Compression should be true")
	}
	if !cfg.RateLimit.Enabled || cfg.RateLimit.RequestsPerSecond != 2.5 || cfg.RateLimit.BurstSize != 3 {
		t.Errorf("RateLimit = %+v", cfg.RateLimit)
	}
	if cfg.Request.Timeout != 60*time.Second {
		t.Errorf("Timeout = %v, want 60s", cfg.Request.Timeout)
	}
	if cfg.Request.VerifySSL {
		t.Error("VerifySSL should be false")
	}
	if cfg.ErrorHandling.RetryCount != 2 || cfg.ErrorHandling.RetryDelay != time.Second {
		t.Errorf("ErrorHandling = %+v", cfg.ErrorHandling)
	}
	if cfg.Headers["X-Custom"] != "1" {
		t.Errorf("Headers = %v", cfg.Headers)
	}
	if cfg.Params["region"] != "eu" {
		t.Errorf("Params = %v", cfg.Params)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(t.TempDir())
	if err == nil {
		t.Fatal("expected error for missing config file")
	}
	if _, ok := err.(*Error); !ok {
		t.Errorf("expected *config.Error, got %T", err)
	}
}

func TestLoad_LegacyDefaultDelay(t *testing.T) {
	dir := t.TempDir()

	yaml := `
project:
  url: https://api.example.org/items
  default_delay: 0.5
params:
  page_size_limit: 100
  page_number_param: page
data:
  item_key: id
`
	if err := os.WriteFile(filepath.Join(dir, "apibackuper.yaml"), []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !cfg.RateLimit.Enabled {
		t.Fatal("default_delay should enable rate limiting")
	}
	if cfg.RateLimit.RequestsPerSecond != 2 {
		t.Errorf("RequestsPerSecond = %v, want 2", cfg.RateLimit.RequestsPerSecond)
	}
	if cfg.RateLimit.BurstSize != 1 {
		t.Errorf("BurstSize = %d, want 1", cfg.RateLimit.BurstSize)
	}
}

func TestLoad_NumericParamsKeepPrecision(t *testing.T) {
	dir := t.TempDir()
	yaml := `
project:
  url: https://api.example.org/items
data:
  data_key: data
  item_key: id
`
	if err := os.WriteFile(filepath.Join(dir, "apibackuper.yaml"), []byte(yaml), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "params.json"), []byte(`{"min_id": 1000000, "max_id": 9007199254740993}`), 0o644); err != nil {
		t.Fatalf("write params: %v", err)
	}

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	n, ok := cfg.Params["max_id"].(json.Number)
	if !ok {
		t.Fatalf("max_id = %T, want json.Number", cfg.Params["max_id"])
	}
	if n.String() != "9007199254740993" {
		t.Errorf("max_id = %s, want 9007199254740993", n)
	}
	if n, ok := cfg.Params["min_id"].(json.Number); !ok || n.String() != "1000000" {
		t.Errorf("min_id = %v, want json.Number 1000000", cfg.Params["min_id"])
	}
}

// Package config defines the resolved project configuration consumed by
// the backup core and loads it from an apibackuper project directory.
package config

import (
	"fmt"
	"time"
)

// IterateBy selects the pagination addressing scheme.
type IterateBy string

const (
	// IterateByPage advances a page number parameter.
	IterateByPage IterateBy = "page"

	// IterateBySkip advances a record offset parameter.
	IterateBySkip IterateBy = "skip"
)

// AuthType selects the authentication scheme.
type AuthType string

const (
	AuthNone   AuthType = ""
	AuthBasic  AuthType = "basic"
	AuthBearer AuthType = "bearer"
	AuthAPIKey AuthType = "apikey"
	AuthOAuth2 AuthType = "oauth2"
)

// Defaults mirror the long-standing project defaults.
const (
	DefaultSplitter     = "."
	DefaultStartPage    = 1
	DefaultRetryCount   = 5
	DefaultRetryDelay   = 5 * time.Second
	DefaultTimeout      = 120 * time.Second
	DefaultBurstSize    = 5
	DefaultStoragePath  = "storage"
	DefaultUserAgent    = "apibackuper/1.0"
	DefaultAPIKeyHeader = "X-API-Key"
)

// DefaultRetryStatuses are the HTTP statuses retried unless overridden.
var DefaultRetryStatuses = []int{500, 502, 503}

// RateLimitConfig bounds outbound request rate.
type RateLimitConfig struct {
	Enabled           bool
	RequestsPerSecond float64
	RequestsPerMinute int
	RequestsPerHour   int
	BurstSize         int
}

// RequestConfig bounds individual HTTP requests.
type RequestConfig struct {
	Timeout        time.Duration
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	VerifySSL      bool
	UserAgent      string
	MaxRedirects   int
	AllowRedirects bool
	Proxy          string
}

// ErrorHandlingConfig controls the transport retry policy.
type ErrorHandlingConfig struct {
	RetryOnStatuses []int
	RetryCount      int
	RetryDelay      time.Duration
}

// AuthConfig carries credentials for the configured auth scheme.
type AuthConfig struct {
	Type         AuthType
	Username     string
	Password     string
	Token        string
	APIKey       string
	APIKeyHeader string
	TokenURL     string
	RefreshToken string
}

// CacheConfig enables the Redis-backed conditional-request cache.
type CacheConfig struct {
	Enabled   bool
	RedisAddr string
	RedisDB   int
}

// Config is the resolved, validated project configuration. It is built
// once (from the project config file or programmatically) and treated as
// read-only by every component.
type Config struct {
	Name     string
	URL      string
	HTTPMode string // GET or POST

	IterateBy       IterateBy
	PageLimit       int
	PageSizeParam   string
	PageNumberParam string
	CountSkipParam  string
	StartPage       int

	DataKey        string
	ItemKey        []string
	ChangeKey      []string
	TotalNumberKey string
	PagesNumberKey string
	Splitter       string

	StoragePath string
	Compression bool

	// Headers and Params merge into every page request.
	Headers map[string]string
	Params  map[string]any

	Auth          AuthConfig
	RateLimit     RateLimitConfig
	Request       RequestConfig
	ErrorHandling ErrorHandlingConfig
	Cache         CacheConfig
}

// Error reports a missing or invalid configuration field. It is fatal
// before any network call.
type Error struct {
	Field  string
	Reason string
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("config error: %s: %s", e.Field, e.Reason)
}

func errf(field, format string, args ...any) *Error {
	return &Error{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// Default returns a Config carrying only defaults. Callers fill in the
// project fields and call Validate.
func Default() Config {
	return Config{
		HTTPMode:  "GET",
		IterateBy: IterateByPage,
		StartPage: DefaultStartPage,
		Splitter:  DefaultSplitter,

		StoragePath: DefaultStoragePath,

		Auth: AuthConfig{APIKeyHeader: DefaultAPIKeyHeader},

		RateLimit: RateLimitConfig{BurstSize: DefaultBurstSize},

		Request: RequestConfig{
			Timeout:        DefaultTimeout,
			VerifySSL:      true,
			AllowRedirects: true,
			UserAgent:      DefaultUserAgent,
		},

		ErrorHandling: ErrorHandlingConfig{
			RetryOnStatuses: append([]int(nil), DefaultRetryStatuses...),
			RetryCount:      DefaultRetryCount,
			RetryDelay:      DefaultRetryDelay,
		},
	}
}

// Validate checks the configuration before any network activity.
func (c *Config) Validate() error {
	if c.URL == "" {
		return errf("project.url", "required")
	}
	if c.HTTPMode != "GET" && c.HTTPMode != "POST" {
		return errf("project.http_mode", "must be GET or POST, got %q", c.HTTPMode)
	}
	switch c.IterateBy {
	case IterateByPage:
		if c.PageNumberParam == "" {
			return errf("params.page_number_param", "required when iterate_by is page")
		}
	case IterateBySkip:
		if c.CountSkipParam == "" {
			return errf("params.count_skip_param", "required when iterate_by is skip")
		}
	default:
		return errf("project.iterate_by", "must be page or skip, got %q", c.IterateBy)
	}
	if c.PageLimit <= 0 {
		return errf("params.page_size_limit", "must be positive, got %d", c.PageLimit)
	}
	if len(c.ItemKey) == 0 {
		return errf("data.item_key", "at least one identity field path is required")
	}
	for _, k := range c.ItemKey {
		if k == "" {
			return errf("data.item_key", "identity field paths must be non-empty")
		}
	}
	if c.Splitter == "" {
		return errf("settings.splitter", "must be non-empty")
	}
	if c.ErrorHandling.RetryCount < 0 {
		return errf("error_handling.retry_count", "must be >= 0, got %d", c.ErrorHandling.RetryCount)
	}
	if c.ErrorHandling.RetryDelay < 0 {
		return errf("error_handling.retry_delay", "must be >= 0")
	}
	if c.RateLimit.Enabled {
		if c.RateLimit.RequestsPerSecond <= 0 &&
			c.RateLimit.RequestsPerMinute <= 0 &&
			c.RateLimit.RequestsPerHour <= 0 {
			return errf("rate_limit", "enabled but no ceiling configured")
		}
		if c.RateLimit.BurstSize <= 0 {
			return errf("rate_limit.burst_size", "must be positive, got %d", c.RateLimit.BurstSize)
		}
	}
	switch c.Auth.Type {
	case AuthNone:
	case AuthBasic:
		if c.Auth.Username == "" || c.Auth.Password == "" {
			return errf("auth", "basic auth requires username and password")
		}
	case AuthBearer:
		if c.Auth.Token == "" {
			return errf("auth.token", "required for bearer auth")
		}
	case AuthAPIKey:
		if c.Auth.APIKey == "" {
			return errf("auth.api_key", "required for apikey auth")
		}
	case AuthOAuth2:
		if c.Auth.Token == "" && (c.Auth.TokenURL == "" || c.Auth.RefreshToken == "") {
			return errf("auth", "oauth2 requires a token or token_url plus refresh_token")
		}
	default:
		return errf("auth.type", "unknown auth type %q", c.Auth.Type)
	}
	if c.Cache.Enabled && c.Cache.RedisAddr == "" {
		return errf("cache.redis_addr", "required when cache is enabled")
	}
	return nil
}

// RetriableStatuses returns the effective retriable status set. 429 is
// added when rate limiting is enabled: a throttled server is transient
// by definition once the client is pacing itself.
func (c *Config) RetriableStatuses() map[int]bool {
	statuses := make(map[int]bool, len(c.ErrorHandling.RetryOnStatuses)+1)
	for _, s := range c.ErrorHandling.RetryOnStatuses {
		statuses[s] = true
	}
	if c.RateLimit.Enabled {
		statuses[429] = true
	}
	return statuses
}

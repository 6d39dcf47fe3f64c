// Package transport issues page requests against the remote API with
// authentication, rate limiting, conditional caching, and a bounded
// fixed-delay retry policy.
package transport

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/ruarxive/apibackuper/pkg/auth"
	"github.com/ruarxive/apibackuper/pkg/cache"
	"github.com/ruarxive/apibackuper/pkg/config"
	"github.com/ruarxive/apibackuper/pkg/logging"
	"github.com/ruarxive/apibackuper/pkg/ratelimit"
)

// Prometheus metrics for page requests.
var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "apibackuper_requests_total",
		Help: "Total page requests by status",
	}, []string{"status"})

	requestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "apibackuper_request_duration_seconds",
		Help:    "Page request duration in seconds",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
	})

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "apibackuper_transport_errors_total",
		Help: "Total transport errors by kind",
	}, []string{"kind"})
)

// PageRequest is one logical page fetch.
type PageRequest struct {
	Method  string
	URL     string
	Query   url.Values        // merged into the URL query for GET
	Body    []byte            // JSON body for POST
	Headers map[string]string // merged project headers
}

// PageResult is the outcome of a successful page fetch.
type PageResult struct {
	StatusCode int
	Body       []byte
	Header     http.Header
	FromCache  bool
}

// Client drives page requests. It is safe for concurrent use.
type Client struct {
	httpClient *http.Client
	auth       auth.Authenticator
	limiter    *ratelimit.Limiter
	cache      *cache.Manager
	policy     Policy
	userAgent  string
	logger     zerolog.Logger
}

// New builds a transport client from the project configuration. The
// cache manager is optional and only consulted for GET requests.
func New(cfg *config.Config, authn auth.Authenticator, limiter *ratelimit.Limiter, cacheMgr *cache.Manager) (*Client, error) {
	httpClient, err := buildHTTPClient(cfg.Request)
	if err != nil {
		return nil, err
	}

	if authn == nil {
		authn = auth.None{}
	}

	return &Client{
		httpClient: httpClient,
		auth:       authn,
		limiter:    limiter,
		cache:      cacheMgr,
		policy:     PolicyFromConfig(cfg),
		userAgent:  cfg.Request.UserAgent,
		logger:     logging.NewLogger("transport"),
	}, nil
}

func buildHTTPClient(cfg config.RequestConfig) (*http.Client, error) {
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		ResponseHeaderTimeout: cfg.ReadTimeout,
	}

	if cfg.ConnectTimeout > 0 {
		transport.DialContext = (&net.Dialer{Timeout: cfg.ConnectTimeout}).DialContext
	}

	if !cfg.VerifySSL {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	if cfg.Proxy != "" {
		proxyURL, err := url.Parse(cfg.Proxy)
		if err != nil {
			return nil, fmt.Errorf("parse proxy url: %w", err)
		}
		transport.Proxy = http.ProxyURL(proxyURL)
	}

	client := &http.Client{
		Transport: transport,
		Timeout:   cfg.Timeout,
	}

	if !cfg.AllowRedirects {
		client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		}
	} else if cfg.MaxRedirects > 0 {
		max := cfg.MaxRedirects
		client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
			if len(via) >= max {
				return fmt.Errorf("stopped after %d redirects", max)
			}
			return nil
		}
	}

	return client, nil
}

// Send fetches one page. It blocks on the rate limiter, applies the
// retry policy, and serves 304 answers from the conditional cache. On
// a 401 with refresh-capable auth the token is refreshed and the
// request repeated once.
func (c *Client) Send(ctx context.Context, req PageRequest) (*PageResult, error) {
	if c.limiter != nil {
		if err := c.limiter.Acquire(ctx, 1); err != nil {
			return nil, err
		}
	}

	result, err := c.sendWithRetry(ctx, req)
	if err == nil {
		return result, nil
	}

	var terr *Error
	if errors.As(err, &terr) && terr.Kind == KindHTTPStatus && terr.StatusCode == http.StatusUnauthorized {
		if refresher, ok := c.auth.(auth.Refresher); ok {
			c.logger.Info().Str("url", req.URL).Msg("Refreshing credentials after 401")
			if refreshErr := refresher.Refresh(ctx); refreshErr != nil {
				return nil, fmt.Errorf("credential refresh: %w", refreshErr)
			}
			return c.sendWithRetry(ctx, req)
		}
	}

	if errors.As(err, &terr) {
		errorsTotal.WithLabelValues(string(terr.Kind)).Inc()
	}
	return nil, err
}

func (c *Client) sendWithRetry(ctx context.Context, req PageRequest) (*PageResult, error) {
	var cached *cache.CacheEntry
	var cacheKey cache.CacheKey

	if c.cache != nil && req.Method == http.MethodGet {
		cacheKey = cache.CacheKey{Method: req.Method, URL: req.URL, Params: req.Query}
		entry, err := c.cache.Get(ctx, cacheKey)
		if err != nil && err != cache.ErrCacheMiss {
			c.logger.Warn().Err(err).Str("url", req.URL).Msg("Cache get error")
		}
		cached = entry
	}

	var result *PageResult
	err := c.policy.Do(ctx, func() error {
		res, err := c.attempt(ctx, req, cached)
		if err != nil {
			return err
		}
		result = res
		return nil
	})
	if err != nil {
		return nil, err
	}

	if result.StatusCode == http.StatusNotModified && cached != nil {
		cache.NotModifiedResponses.Inc()
		c.logger.Debug().Str("url", req.URL).Msg("304 Not Modified, serving cached page")
		if expires := result.Header.Get("Expires"); expires != "" {
			if newExpires, perr := http.ParseTime(expires); perr == nil {
				if uerr := c.cache.UpdateTTL(ctx, cacheKey, newExpires); uerr != nil {
					c.logger.Warn().Err(uerr).Msg("Failed to update cache TTL")
				}
			}
		}
		return &PageResult{
			StatusCode: cached.StatusCode,
			Body:       cached.Data,
			Header:     cached.Headers,
			FromCache:  true,
		}, nil
	}

	if c.cache != nil && req.Method == http.MethodGet && result.StatusCode == http.StatusOK {
		entry, cerr := cache.ResponseToEntry(&http.Response{
			StatusCode: result.StatusCode,
			Header:     result.Header,
			Body:       io.NopCloser(bytes.NewReader(result.Body)),
		})
		if cerr != nil {
			c.logger.Warn().Err(cerr).Str("url", req.URL).Msg("Failed to build cache entry")
		} else if serr := c.cache.Set(ctx, cacheKey, entry); serr != nil {
			c.logger.Warn().Err(serr).Str("url", req.URL).Msg("Failed to cache page")
		}
	}

	return result, nil
}

// attempt performs a single HTTP exchange. The request is rebuilt on
// every call so retries never reuse a consumed body.
func (c *Client) attempt(ctx context.Context, req PageRequest, cached *cache.CacheEntry) (*PageResult, error) {
	start := time.Now()
	defer func() {
		requestDuration.Observe(time.Since(start).Seconds())
	}()

	httpReq, err := c.buildRequest(ctx, req)
	if err != nil {
		return nil, err
	}

	if cached != nil && cache.ShouldMakeConditionalRequest(cached) {
		cache.AddConditionalHeaders(httpReq, cached)
		cache.ConditionalRequestsSent.Inc()
	}

	if err := c.auth.Attach(httpReq); err != nil {
		return nil, fmt.Errorf("attach auth: %w", err)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		cerr := classify(err, req.URL)
		c.logger.Warn().
			Err(err).
			Str("url", req.URL).
			Str("kind", string(cerr.Kind)).
			Msg("Page request failed")
		requestsTotal.WithLabelValues(string(cerr.Kind)).Inc()
		return nil, cerr
	}
	defer resp.Body.Close()

	requestsTotal.WithLabelValues(fmt.Sprintf("%d", resp.StatusCode)).Inc()

	if resp.StatusCode == http.StatusNotModified {
		return &PageResult{StatusCode: resp.StatusCode, Header: resp.Header}, nil
	}

	if resp.StatusCode >= 400 {
		c.logger.Warn().
			Str("url", req.URL).
			Int("status", resp.StatusCode).
			Msg("Page request returned error status")
		return nil, statusError(req.URL, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{Kind: KindDecode, URL: req.URL, Err: err}
	}

	return &PageResult{
		StatusCode: resp.StatusCode,
		Body:       body,
		Header:     resp.Header,
	}, nil
}

func (c *Client) buildRequest(ctx context.Context, req PageRequest) (*http.Request, error) {
	target := req.URL
	if len(req.Query) > 0 {
		u, err := url.Parse(req.URL)
		if err != nil {
			return nil, fmt.Errorf("parse url: %w", err)
		}
		q := u.Query()
		for k, vs := range req.Query {
			for _, v := range vs {
				q.Set(k, v)
			}
		}
		u.RawQuery = q.Encode()
		target = u.String()
	}

	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, target, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	httpReq.Header.Set("User-Agent", c.userAgent)
	httpReq.Header.Set("Accept", "application/json")
	if len(req.Body) > 0 {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	return httpReq, nil
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}

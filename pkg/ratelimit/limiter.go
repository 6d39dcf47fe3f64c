// Package ratelimit bounds outbound request rate across second, minute
// and hour windows. The per-second ceiling is a continuously refilling
// token bucket with burst allowance; the minute and hour ceilings are
// sliding windows over the trailing interval. A request is admitted only
// when all configured ceilings allow it; the limiter delays, it never
// drops.
package ratelimit

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Prometheus metrics for rate limiting.
var (
	rateLimitWaitSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "apibackuper_rate_limit_wait_seconds",
		Help:    "Time spent waiting for rate limit quota per acquire",
		Buckets: []float64{0.01, 0.1, 0.5, 1, 5, 30, 60, 300},
	})

	rateLimitAcquiresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "apibackuper_rate_limit_acquires_total",
		Help: "Total number of successful rate limit acquisitions",
	})
)

// Config holds the limiter ceilings. A zero value for any ceiling
// disables that window; a fully zero config disables the limiter.
type Config struct {
	// RequestsPerSecond is the token bucket refill rate.
	RequestsPerSecond float64

	// Burst is the token bucket capacity. Ignored unless
	// RequestsPerSecond is set.
	Burst int

	// RequestsPerMinute caps requests in the trailing minute.
	RequestsPerMinute int

	// RequestsPerHour caps requests in the trailing hour.
	RequestsPerHour int
}

// Enabled reports whether any ceiling is configured.
func (c Config) Enabled() bool {
	return c.RequestsPerSecond > 0 || c.RequestsPerMinute > 0 || c.RequestsPerHour > 0
}

// Limiter delays callers so that all configured ceilings hold. It is
// safe for concurrent use: secondary request walkers share one Limiter
// with the page loop to present a single coherent throttle to the
// remote service.
type Limiter struct {
	bucket *rate.Limiter // nil when no per-second ceiling
	minute *window
	hour   *window
	logger zerolog.Logger
}

// New creates a Limiter from the given ceilings. A config with no
// ceilings yields a limiter whose Acquire returns immediately.
func New(cfg Config, logger zerolog.Logger) *Limiter {
	l := &Limiter{logger: logger}
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		l.bucket = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}
	if cfg.RequestsPerMinute > 0 {
		l.minute = newWindow(cfg.RequestsPerMinute, time.Minute)
	}
	if cfg.RequestsPerHour > 0 {
		l.hour = newWindow(cfg.RequestsPerHour, time.Hour)
	}
	return l
}

// Acquire blocks until n requests may be issued under every configured
// ceiling, or until ctx is cancelled. It returns ctx.Err() on
// cancellation; quota already consumed is not returned.
func (l *Limiter) Acquire(ctx context.Context, n int) error {
	if l == nil || (l.bucket == nil && l.minute == nil && l.hour == nil) {
		return nil
	}
	start := time.Now()

	if l.bucket != nil {
		if err := l.bucket.WaitN(ctx, n); err != nil {
			return err
		}
	}
	if l.minute != nil {
		if err := l.minute.wait(ctx, n); err != nil {
			return err
		}
	}
	if l.hour != nil {
		if err := l.hour.wait(ctx, n); err != nil {
			return err
		}
	}

	waited := time.Since(start)
	rateLimitWaitSeconds.Observe(waited.Seconds())
	rateLimitAcquiresTotal.Inc()
	if waited > time.Second {
		l.logger.Info().
			Dur("waited", waited).
			Int("n", n).
			Msg("Rate limit wait")
	} else if waited > 0 {
		l.logger.Debug().
			Dur("waited", waited).
			Int("n", n).
			Msg("Rate limit wait")
	}
	return nil
}
